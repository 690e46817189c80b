package realm

import (
	"fmt"

	"github.com/dop251/goja"
)

// Object is a managed object backed by a store record.
type Object struct {
	env *Env
	rec *record
}

// IsValid reports whether the object still exists.
func (o *Object) IsValid() bool { return o.rec.valid }

// Schema returns the object's schema.
func (o *Object) Schema() *ObjectSchema { return o.rec.table.schema }

// Raw returns the stored value of a property: nil, bool, int64, float64,
// string, []byte, time.Time, Decimal128, ObjectID, a linked record (opaque)
// or a list (opaque).
func (o *Object) Raw(name string) (any, bool) {
	v, ok := o.rec.values[name]
	return v, ok
}

// Get implements goja.DynamicObject.
func (o *Object) Get(key string) goja.Value {
	p, ok := o.rec.table.schema.Property(key)
	if !ok {
		return nil
	}
	if !o.rec.valid {
		throw(o.env.vm, errInvalidated)
	}
	v := o.rec.values[key]
	if l, ok := v.(*listData); ok {
		return o.env.listFor(o.rec, p, l)
	}
	return o.env.toJS(v)
}

// Set implements goja.DynamicObject.
func (o *Object) Set(key string, val goja.Value) bool {
	p, ok := o.rec.table.schema.Property(key)
	if !ok {
		return false
	}
	f := o.env.fileOf(o.rec)
	if f == nil {
		throw(o.env.vm, errInvalidated)
	}
	if err := o.env.assign(f, o.rec, p, val); err != nil {
		throw(o.env.vm, err)
	}
	return true
}

// Has implements goja.DynamicObject.
func (o *Object) Has(key string) bool {
	_, ok := o.rec.table.schema.Property(key)
	return ok
}

// Delete implements goja.DynamicObject.
func (o *Object) Delete(string) bool { return false }

// Keys implements goja.DynamicObject.
func (o *Object) Keys() []string { return o.rec.table.schema.PropertyNames() }

// objectFor returns the single wrapper of rec.
func (e *Env) objectFor(rec *record) *goja.Object {
	if obj, ok := e.objects[rec]; ok {
		return obj
	}
	obj := e.vm.NewDynamicObject(&Object{env: e, rec: rec})
	_ = obj.SetPrototype(e.protos.object)
	e.objects[rec] = obj
	return obj
}

// fileOf finds the file a record belongs to.
func (e *Env) fileOf(rec *record) *file {
	for _, f := range e.store.files {
		if t, ok := f.tables[rec.table.schema.Name]; ok && t == rec.table {
			return f
		}
	}
	return nil
}

func (e *Env) newObjectPrototype() *goja.Object {
	vm := e.vm
	proto := vm.NewObject()
	this := func(call goja.FunctionCall) *Object {
		o, ok := call.This.Export().(*Object)
		if !ok {
			typeError(vm, "Method called on an object that is not a Realm.Object")
		}
		return o
	}
	e.method(proto, "isValid", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(this(call).rec.valid)
	})
	e.method(proto, "objectSchema", func(call goja.FunctionCall) goja.Value {
		return objectSchemaValue(vm, this(call).Schema())
	})
	e.method(proto, "keys", func(call goja.FunctionCall) goja.Value {
		names := this(call).Keys()
		items := make([]any, len(names))
		for i, n := range names {
			items[i] = n
		}
		return vm.NewArray(items...)
	})
	e.method(proto, "entries", func(call goja.FunctionCall) goja.Value {
		o := this(call)
		items := make([]any, 0, len(o.Schema().Properties))
		for _, name := range o.Keys() {
			items = append(items, vm.NewArray(name, o.Get(name)))
		}
		return vm.NewArray(items...)
	})
	e.method(proto, "toJSON", func(call goja.FunctionCall) goja.Value {
		o := this(call)
		out := vm.NewObject()
		for _, name := range o.Keys() {
			_ = out.Set(name, o.Get(name))
		}
		return out
	})
	e.method(proto, "_objectId", func(call goja.FunctionCall) goja.Value {
		o := this(call)
		if pk := o.Schema().PrimaryKey; pk != "" {
			return vm.ToValue(fmt.Sprint(o.rec.values[pk]))
		}
		return vm.ToValue(fmt.Sprint(o.rec.id))
	})
	return proto
}
