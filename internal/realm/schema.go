package realm

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// PropertyType names a persisted value kind.
type PropertyType string

const (
	TypeBool     PropertyType = "bool"
	TypeInt      PropertyType = "int"
	TypeFloat    PropertyType = "float"
	TypeDouble   PropertyType = "double"
	TypeString   PropertyType = "string"
	TypeData     PropertyType = "data"
	TypeDate     PropertyType = "date"
	TypeDecimal  PropertyType = "decimal128"
	TypeObjectID PropertyType = "objectId"
	TypeObject   PropertyType = "object"
	TypeList     PropertyType = "list"
)

var primitiveTypes = map[PropertyType]bool{
	TypeBool:     true,
	TypeInt:      true,
	TypeFloat:    true,
	TypeDouble:   true,
	TypeString:   true,
	TypeData:     true,
	TypeDate:     true,
	TypeDecimal:  true,
	TypeObjectID: true,
}

// Property describes one persisted field.
type Property struct {
	Name string
	Type PropertyType

	// ElementType is the type of list elements; TypeObject for object lists.
	ElementType PropertyType

	// ObjectType names the linked schema for object properties and object lists.
	ObjectType string

	// Optional applies to the value, or to list elements for lists.
	Optional bool
	Indexed  bool

	HasDefault bool
	Default    goja.Value
}

// IsList reports whether the property holds a list.
func (p *Property) IsList() bool { return p.Type == TypeList }

// ValueType is the type of the value, or of each element for lists.
func (p *Property) ValueType() PropertyType {
	if p.IsList() {
		return p.ElementType
	}
	return p.Type
}

func (p *Property) typeString() string {
	t := string(p.ValueType())
	if p.ValueType() == TypeObject {
		t = p.ObjectType
	}
	if p.Optional && p.ValueType() != TypeObject {
		t += "?"
	}
	if p.IsList() {
		t += "[]"
	}
	return t
}

// ObjectSchema describes a class of objects.
type ObjectSchema struct {
	Name       string
	PrimaryKey string
	Properties []*Property

	byName map[string]*Property
}

// Property looks up a property by name.
func (s *ObjectSchema) Property(name string) (*Property, bool) {
	p, ok := s.byName[name]
	return p, ok
}

// PropertyNames returns the property names in declaration order.
func (s *ObjectSchema) PropertyNames() []string {
	names := make([]string, len(s.Properties))
	for i, p := range s.Properties {
		names[i] = p.Name
	}
	return names
}

func (s *ObjectSchema) equal(o *ObjectSchema) bool {
	if s.Name != o.Name || s.PrimaryKey != o.PrimaryKey || len(s.Properties) != len(o.Properties) {
		return false
	}
	for i, p := range s.Properties {
		q := o.Properties[i]
		if p.Name != q.Name || p.typeString() != q.typeString() {
			return false
		}
	}
	return true
}

func schemasEqual(a, b []*ObjectSchema) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].equal(b[i]) {
			return false
		}
	}
	return true
}

// parseSchema reads the schema array of a Realm configuration.
func parseSchema(vm *goja.Runtime, v goja.Value) ([]*ObjectSchema, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	arr, ok := v.(*goja.Object)
	if !ok || arr.ClassName() != "Array" {
		return nil, fmt.Errorf("schema must be of type 'array', got (%s)", v.String())
	}
	n := int(arr.Get("length").ToInteger())
	schemas := make([]*ObjectSchema, 0, n)
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		os, err := parseObjectSchema(vm, arr.Get(fmt.Sprint(i)))
		if err != nil {
			return nil, err
		}
		if seen[os.Name] {
			return nil, fmt.Errorf("Type '%s' appears more than once in the schema.", os.Name)
		}
		seen[os.Name] = true
		schemas = append(schemas, os)
	}
	for _, os := range schemas {
		for _, p := range os.Properties {
			if p.ValueType() == TypeObject && !seen[p.ObjectType] {
				return nil, fmt.Errorf("%s.%s: Object type '%s' not found in schema.", os.Name, p.Name, p.ObjectType)
			}
		}
	}
	return schemas, nil
}

func parseObjectSchema(vm *goja.Runtime, v goja.Value) (*ObjectSchema, error) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, fmt.Errorf("object schema must be of type 'object', got (%s)", v.String())
	}
	// a constructor with a static schema is accepted too
	if s := obj.Get("schema"); s != nil && !goja.IsUndefined(s) {
		if so, ok := s.(*goja.Object); ok {
			obj = so
		}
	}
	name := stringOf(obj.Get("name"))
	if name == "" {
		return nil, fmt.Errorf("object schema must have a 'name' string")
	}
	os := &ObjectSchema{
		Name:       name,
		PrimaryKey: stringOf(obj.Get("primaryKey")),
		byName:     make(map[string]*Property),
	}
	propsVal := obj.Get("properties")
	props, ok := propsVal.(*goja.Object)
	if !ok {
		return nil, fmt.Errorf("%s.properties must be of type 'object', got (%v)", name, propsVal)
	}
	for _, key := range props.Keys() {
		p, err := parseProperty(key, props.Get(key))
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", name, key, err)
		}
		os.Properties = append(os.Properties, p)
		os.byName[key] = p
	}
	if os.PrimaryKey != "" {
		pk, ok := os.byName[os.PrimaryKey]
		if !ok {
			return nil, fmt.Errorf("%s: primary key '%s' does not exist", name, os.PrimaryKey)
		}
		switch pk.Type {
		case TypeInt, TypeString, TypeObjectID:
		default:
			return nil, fmt.Errorf("%s.%s: property of type '%s' cannot be made the primary key", name, pk.Name, pk.Type)
		}
		pk.Indexed = true
	}
	return os, nil
}

func parseProperty(name string, v goja.Value) (*Property, error) {
	p := &Property{Name: name}
	switch spec := v.(type) {
	case *goja.Object:
		typ := stringOf(spec.Get("type"))
		objectType := stringOf(spec.Get("objectType"))
		if typ == "" {
			return nil, fmt.Errorf("property must specify 'type'")
		}
		if err := p.applyShorthand(typ); err != nil {
			return nil, err
		}
		if p.Type == TypeList || p.Type == TypeObject {
			if objectType == "" && p.ObjectType == "" {
				return nil, fmt.Errorf("%s property must specify 'objectType'", p.Type)
			}
			if objectType != "" {
				if err := p.applyElement(objectType); err != nil {
					return nil, err
				}
			}
		}
		if b := spec.Get("optional"); b != nil && !goja.IsUndefined(b) {
			p.Optional = b.ToBoolean()
		}
		if b := spec.Get("indexed"); b != nil && !goja.IsUndefined(b) {
			p.Indexed = b.ToBoolean()
		}
		if d := spec.Get("default"); d != nil && !goja.IsUndefined(d) {
			p.HasDefault = true
			p.Default = d
		}
	default:
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			return nil, fmt.Errorf("property type must be specified")
		}
		if err := p.applyShorthand(v.String()); err != nil {
			return nil, err
		}
	}
	if p.ValueType() == TypeObject && !p.IsList() {
		p.Optional = true
	}
	return p, nil
}

// applyShorthand parses "int", "int?", "int[]", "string?[]" and "Person".
func (p *Property) applyShorthand(s string) error {
	if strings.HasSuffix(s, "[]") {
		p.Type = TypeList
		return p.applyElement(strings.TrimSuffix(s, "[]"))
	}
	if s == string(TypeList) {
		p.Type = TypeList
		return nil
	}
	optional := strings.HasSuffix(s, "?")
	s = strings.TrimSuffix(s, "?")
	switch {
	case primitiveTypes[PropertyType(s)]:
		p.Type = PropertyType(s)
	case s == string(TypeObject):
		p.Type = TypeObject
	default:
		p.Type = TypeObject
		p.ObjectType = s
	}
	p.Optional = optional
	return nil
}

func (p *Property) applyElement(s string) error {
	optional := strings.HasSuffix(s, "?")
	s = strings.TrimSuffix(s, "?")
	if s == "" {
		return fmt.Errorf("invalid property type")
	}
	if p.Type != TypeList {
		// {type: "object", objectType: "Person"}
		p.ObjectType = s
		return nil
	}
	if primitiveTypes[PropertyType(s)] {
		p.ElementType = PropertyType(s)
	} else {
		p.ElementType = TypeObject
		p.ObjectType = s
	}
	p.Optional = optional
	return nil
}

// schemaValue renders schemas the way realm.schema exposes them.
func schemaValue(vm *goja.Runtime, schemas []*ObjectSchema) goja.Value {
	items := make([]any, len(schemas))
	for i, s := range schemas {
		items[i] = objectSchemaValue(vm, s)
	}
	return vm.NewArray(items...)
}

func objectSchemaValue(vm *goja.Runtime, s *ObjectSchema) *goja.Object {
	out := vm.NewObject()
	_ = out.Set("name", s.Name)
	if s.PrimaryKey != "" {
		_ = out.Set("primaryKey", s.PrimaryKey)
	}
	props := vm.NewObject()
	for _, p := range s.Properties {
		po := vm.NewObject()
		_ = po.Set("name", p.Name)
		_ = po.Set("type", string(p.Type))
		if p.IsList() && p.ElementType != TypeObject {
			_ = po.Set("objectType", string(p.ElementType))
		} else if p.ObjectType != "" {
			_ = po.Set("objectType", p.ObjectType)
		}
		_ = po.Set("optional", p.Optional)
		_ = po.Set("indexed", p.Indexed)
		_ = props.Set(p.Name, po)
	}
	_ = out.Set("properties", props)
	return out
}

func stringOf(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}
