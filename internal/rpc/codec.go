package rpc

import (
	"encoding/base64"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"time"

	"github.com/dop251/goja"

	"github.com/SACHINnANYAKKARA/realm-js/internal/realm"
)

// maxDepth bounds serialization; deeper or cyclic structures collapse to {}.
const maxDepth = 128

// Wire type tags.
const (
	typeObject          = "object"
	typeList            = "list"
	typeResults         = "results"
	typeRealm           = "realm"
	typeUser            = "user"
	typeSession         = "session"
	typeAsyncOpenTask   = "asyncopentask"
	typeApp             = "app"
	typeCredentials     = "credentials"
	typeResponseHandler = "fetchresponsehandler"
	typeEmailAuth       = "emailpasswordauth"
	typeFunction        = "function"
	typeDict            = "dict"
	typeData            = "data"
	typeDate            = "date"
	typeError           = "error"
	typeUndefined       = "undefined"
	typeEJSON           = "ejson"
)

var arrayBufferType = reflect.TypeOf(goja.ArrayBuffer{})

// serialize converts an engine value into its wire form. It never fails.
func (s *Server) serialize(v goja.Value) map[string]any {
	return s.encode(v, 0)
}

func (s *Server) encode(v goja.Value, depth int) map[string]any {
	if depth > maxDepth {
		return map[string]any{}
	}
	switch {
	case v == nil || goja.IsUndefined(v):
		return map[string]any{}
	case goja.IsNull(v):
		return map[string]any{"value": nil}
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return encodePrimitive(v)
	}
	if w := s.encodeHost(obj, depth); w != nil {
		return w
	}
	if obj.ClassName() == "Array" {
		n := int(obj.Get("length").ToInteger())
		items := make([]any, n)
		for i := 0; i < n; i++ {
			items[i] = s.encode(obj.Get(strconv.Itoa(i)), depth+1)
		}
		return map[string]any{"value": items}
	}
	if b, ok := binaryOf(obj); ok {
		return map[string]any{"type": typeData, "value": base64.StdEncoding.EncodeToString(b)}
	}
	switch obj.ClassName() {
	case "Date":
		ms := obj.ToFloat()
		if math.IsNaN(ms) {
			return map[string]any{"type": typeDate, "value": nil}
		}
		return map[string]any{"type": typeDate, "value": ms}
	case "Error":
		return map[string]any{
			"type":    typeError,
			"message": s.encode(obj.Get("message"), depth+1),
			"stack":   s.encode(obj.Get("stack"), depth+1),
		}
	}
	if _, ok := goja.AssertFunction(obj); ok {
		if h, ok := s.callbacks.HandleOf(obj); ok {
			return map[string]any{"type": typeFunction, "value": uint64(h)}
		}
		return map[string]any{"type": typeFunction, "id": uint64(s.objects.Store(obj))}
	}
	keys := obj.Keys()
	values := make([]any, len(keys))
	wireKeys := make([]any, len(keys))
	for i, k := range keys {
		wireKeys[i] = k
		values[i] = s.encode(obj.Get(k), depth+1)
	}
	return map[string]any{"type": typeDict, "keys": wireKeys, "values": values}
}

func encodePrimitive(v goja.Value) map[string]any {
	switch x := v.Export().(type) {
	case bool, string, int64:
		return map[string]any{"value": x}
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return map[string]any{"value": nil}
		}
		if isWholeNumber(x) {
			return map[string]any{"value": int64(x)}
		}
		return map[string]any{"value": x}
	case *big.Int:
		return map[string]any{"type": typeEJSON, "value": map[string]any{"$numberLong": x.String()}}
	}
	return map[string]any{"value": v.String()}
}

// encodeHost serializes the Realm host objects, pinning each in the registry.
// It returns nil for anything else.
func (s *Server) encodeHost(obj *goja.Object, depth int) map[string]any {
	x := hostOf(obj)
	if x == nil {
		return nil
	}
	host := func(kind string) map[string]any {
		return map[string]any{"type": kind, "id": uint64(s.objects.Store(obj))}
	}
	switch x := x.(type) {
	case *realm.Object:
		w := host(typeObject)
		w["schema"] = schemaWire(x.Schema())
		w["cache"] = snapshot(x)
		return w
	case *realm.List:
		w := host(typeList)
		w["dataType"] = x.DataType()
		w["optional"] = x.Optional()
		return w
	case *realm.Results:
		w := host(typeResults)
		w["dataType"] = x.DataType()
		w["optional"] = x.Optional()
		return w
	case *realm.Realm:
		w := host(typeRealm)
		w["realmId"] = x.ID()
		data := make(map[string]any, 5)
		for _, k := range []string{"_isPartialRealm", "inMemory", "path", "readOnly", "syncSession"} {
			data[k] = s.encode(obj.Get(k), depth+1)
		}
		w["data"] = data
		return w
	case *realm.Session:
		w := host(typeSession)
		w["data"] = map[string]any{
			"user":   s.encode(obj.Get("user"), depth+1),
			"config": s.encode(obj.Get("config"), depth+1),
		}
		return w
	case *realm.User:
		return host(typeUser)
	case *realm.AsyncOpenTask:
		return host(typeAsyncOpenTask)
	case *realm.App:
		return host(typeApp)
	case *realm.Credentials:
		return host(typeCredentials)
	case *realm.ResponseHandler:
		return host(typeResponseHandler)
	case *realm.EmailPasswordAuth:
		return host(typeEmailAuth)
	}
	return nil
}

// hostOf returns the Go value behind a host object without exporting plain
// script objects, which would copy them.
func hostOf(obj *goja.Object) any {
	t := obj.ExportType()
	if t == nil || t.Kind() != reflect.Pointer {
		return nil
	}
	return obj.Export()
}

// binaryOf extracts the bytes of an ArrayBuffer, typed array or DataView.
func binaryOf(obj *goja.Object) ([]byte, bool) {
	t := obj.ExportType()
	if t == arrayBufferType {
		if ab, ok := obj.Export().(goja.ArrayBuffer); ok {
			return ab.Bytes(), true
		}
	}
	if obj.ClassName() != "DataView" && (t == nil || t.Kind() != reflect.Slice) {
		return nil, false
	}
	buf, ok := obj.Get("buffer").(*goja.Object)
	if !ok || buf.ExportType() != arrayBufferType {
		return nil, false
	}
	ab, ok := buf.Export().(goja.ArrayBuffer)
	if !ok {
		return nil, false
	}
	all := ab.Bytes()
	off := int(obj.Get("byteOffset").ToInteger())
	n := int(obj.Get("byteLength").ToInteger())
	if off < 0 || n < 0 || off+n > len(all) {
		return nil, false
	}
	return all[off : off+n], true
}

// deserialize converts a wire value into an engine value.
func (s *Server) deserialize(w any) (goja.Value, error) {
	vm := s.engine.Runtime()
	m, ok := toObject(w)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDecode, msgUnknownValue)
	}
	if id, ok := m["id"]; ok && id != nil {
		h, ok := toHandle(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrDecode, msgUnknownValue)
		}
		if v, ok := s.objects.Lookup(h); ok {
			return v, nil
		}
		return goja.Undefined(), nil
	}
	if t, ok := m["type"].(string); ok {
		switch t {
		case typeFunction:
			h, ok := toHandle(m["value"])
			if !ok {
				return nil, fmt.Errorf("%w: function without a callback handle", ErrDecode)
			}
			return s.callbackFor(h), nil
		case typeDict:
			keys, _ := m["keys"].([]any)
			values, _ := m["values"].([]any)
			if len(keys) != len(values) {
				return nil, fmt.Errorf("%w: dict has %d keys and %d values", ErrDecode, len(keys), len(values))
			}
			obj := vm.NewObject()
			for i, k := range keys {
				v, err := s.deserialize(values[i])
				if err != nil {
					return nil, err
				}
				if err := obj.Set(fmt.Sprint(k), v); err != nil {
					return nil, err
				}
			}
			return obj, nil
		case typeData:
			str, _ := m["value"].(string)
			b, err := base64.StdEncoding.DecodeString(str)
			if err != nil {
				return nil, fmt.Errorf("%w: %s", ErrDecode, msgBase64)
			}
			return vm.ToValue(vm.NewArrayBuffer(b)), nil
		case typeDate:
			ms, ok := toFloat(m["value"])
			if !ok {
				ms = math.NaN()
			}
			return vm.New(vm.Get("Date"), vm.ToValue(ms))
		case typeUndefined:
			return goja.Undefined(), nil
		case typeError:
			msg, _ := m["message"].(string)
			e, err := vm.New(vm.Get("Error"), vm.ToValue(msg))
			if err != nil {
				return nil, err
			}
			if stack, ok := m["stack"].(string); ok {
				_ = e.Set("stack", stack)
			}
			return e, nil
		case typeEJSON:
			val, ok := toObject(m["value"])
			if !ok {
				return nil, fmt.Errorf("%w: ejson value must be an object", ErrDecode)
			}
			obj := vm.NewObject()
			for k, v := range val {
				if err := obj.Set(k, fmt.Sprint(v)); err != nil {
					return nil, err
				}
			}
			return obj, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrDecode, msgUnknownValue)
	}
	val, ok := m["value"]
	if !ok {
		if len(m) == 0 {
			return goja.Undefined(), nil
		}
		return nil, fmt.Errorf("%w: %s", ErrDecode, msgUnknownValue)
	}
	switch x := val.(type) {
	case nil:
		return goja.Null(), nil
	case bool, string:
		return vm.ToValue(x), nil
	case []any:
		items := make([]any, len(x))
		for i, item := range x {
			v, err := s.deserialize(item)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return vm.NewArray(items...), nil
	}
	if f, ok := toFloat(val); ok {
		if isWholeNumber(f) {
			return vm.ToValue(int64(f)), nil
		}
		return vm.ToValue(f), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrDecode, msgUnknownValue)
}

// deserializeArgs decodes an "arguments" array.
func (s *Server) deserializeArgs(args []any) ([]goja.Value, error) {
	out := make([]goja.Value, len(args))
	for i, a := range args {
		v, err := s.deserialize(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case Handle:
		return float64(n), true
	}
	return 0, false
}

// isWholeNumber reports whether f survives conversion to int64 exactly.
// Negative zero does not: it stays a float so its sign is kept.
func isWholeNumber(f float64) bool {
	if f == 0 {
		return !math.Signbit(f)
	}
	return f == math.Trunc(f) && math.Abs(f) < 1<<53
}

// dateMillis renders t the way Date values travel on the wire.
func dateMillis(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e6
}
