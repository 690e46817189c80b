package rpc

import (
	"time"

	"github.com/SACHINnANYAKKARA/realm-js/internal/realm"
)

// maxCachedString is the length from which string properties are left out
// of an object snapshot.
const maxCachedString = 100

// snapshot reads the cheap properties of an object so the client can answer
// most property reads without a round trip. Lists, links and binary data
// are never included.
func snapshot(o *realm.Object) map[string]any {
	cache := map[string]any{}
	if !o.IsValid() {
		return cache
	}
	for _, p := range o.Schema().Properties {
		if p.IsList() || p.Type == realm.TypeObject {
			continue
		}
		raw, _ := o.Raw(p.Name)
		switch v := raw.(type) {
		case nil:
			if p.Optional {
				cache[p.Name] = map[string]any{"value": nil}
			}
		case bool, int64, float64:
			cache[p.Name] = map[string]any{"value": v}
		case time.Time:
			cache[p.Name] = map[string]any{"type": typeDate, "value": dateMillis(v)}
		case string:
			if len(v) < maxCachedString {
				cache[p.Name] = map[string]any{"value": v}
			}
		case realm.Decimal128:
			cache[p.Name] = map[string]any{"type": typeEJSON, "value": map[string]any{"$numberDecimal": string(v)}}
		case realm.ObjectID:
			cache[p.Name] = map[string]any{"type": typeEJSON, "value": map[string]any{"$oid": v.Hex()}}
		}
	}
	return cache
}

// schemaWire describes an object schema as plain JSON.
func schemaWire(s *realm.ObjectSchema) map[string]any {
	props := make(map[string]any, len(s.Properties))
	for _, p := range s.Properties {
		d := map[string]any{
			"name":     p.Name,
			"type":     string(p.Type),
			"optional": p.Optional,
			"indexed":  p.Indexed,
		}
		if p.IsList() {
			d["objectType"] = string(p.ElementType)
		}
		if p.ObjectType != "" {
			d["objectType"] = p.ObjectType
		}
		props[p.Name] = d
	}
	w := map[string]any{"name": s.Name, "properties": props}
	if s.PrimaryKey != "" {
		w["primaryKey"] = s.PrimaryKey
	}
	return w
}
