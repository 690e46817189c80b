package realm

import (
	"fmt"

	"github.com/dop251/goja"
)

var realmKeys = []string{"path", "inMemory", "readOnly", "isClosed", "isInTransaction", "isEmpty", "schema", "schemaVersion", "syncSession", "_isPartialRealm"}

// Realm is an open handle on a database file.
type Realm struct {
	env      *Env
	file     *file
	obj      *goja.Object
	config   goja.Value
	readOnly bool
	closed   bool
	session  *Session

	listeners map[string][]*goja.Object
}

// ID identifies the underlying file; realms opened on the same path share it.
func (r *Realm) ID() uint64 { return r.file.id }

// Path returns the file path.
func (r *Realm) Path() string { return r.file.path }

// IsClosed reports whether close() was called.
func (r *Realm) IsClosed() bool { return r.closed }

// Get implements goja.DynamicObject.
func (r *Realm) Get(key string) goja.Value {
	vm := r.env.vm
	switch key {
	case "path":
		return vm.ToValue(r.file.path)
	case "inMemory":
		return vm.ToValue(r.file.inMemory)
	case "readOnly":
		return vm.ToValue(r.readOnly)
	case "isClosed":
		return vm.ToValue(r.closed)
	case "isInTransaction":
		return vm.ToValue(!r.closed && r.file.inTransaction())
	case "isEmpty":
		for _, t := range r.file.tables {
			if len(t.rows) > 0 {
				return vm.ToValue(false)
			}
		}
		return vm.ToValue(true)
	case "schema":
		return schemaValue(vm, r.file.schema)
	case "schemaVersion":
		return vm.ToValue(0)
	case "_isPartialRealm":
		return vm.ToValue(false)
	case "syncSession":
		if r.session == nil {
			return goja.Null()
		}
		return r.session.obj
	}
	return nil
}

// Set implements goja.DynamicObject. Realm properties are read-only.
func (r *Realm) Set(string, goja.Value) bool { return false }

// Has implements goja.DynamicObject.
func (r *Realm) Has(key string) bool {
	for _, k := range realmKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Delete implements goja.DynamicObject.
func (r *Realm) Delete(string) bool { return false }

// Keys implements goja.DynamicObject.
func (r *Realm) Keys() []string { return append([]string(nil), realmKeys...) }

type realmConfig struct {
	path     string
	schema   []*ObjectSchema
	inMemory bool
	readOnly bool
	sync     *goja.Object
}

func (e *Env) configPath(v goja.Value) string {
	switch c := v.(type) {
	case *goja.Object:
		if p := stringOf(c.Get("path")); p != "" {
			return p
		}
	default:
		if s := stringOf(v); s != "" {
			return s
		}
	}
	return stringOf(e.ctor.Get("defaultPath"))
}

func (e *Env) parseConfig(v goja.Value) (*realmConfig, error) {
	cfg := &realmConfig{path: e.configPath(v)}
	obj, ok := v.(*goja.Object)
	if !ok {
		return cfg, nil
	}
	schema, err := parseSchema(e.vm, obj.Get("schema"))
	if err != nil {
		return nil, err
	}
	cfg.schema = schema
	if b := obj.Get("inMemory"); b != nil {
		cfg.inMemory = b.ToBoolean()
	}
	if b := obj.Get("readOnly"); b != nil {
		cfg.readOnly = b.ToBoolean()
	}
	if s, ok := obj.Get("sync").(*goja.Object); ok {
		cfg.sync = s
	}
	return cfg, nil
}

// open creates a Realm for the given configuration value.
func (e *Env) open(config goja.Value) (*Realm, error) {
	cfg, err := e.parseConfig(config)
	if err != nil {
		return nil, err
	}
	if cfg.readOnly && !e.store.exists(cfg.path) {
		return nil, fmt.Errorf("Unable to open a realm at path '%s': read-only Realm does not exist", cfg.path)
	}
	f, err := e.store.open(cfg.path, cfg.schema, cfg.inMemory)
	if err != nil {
		return nil, err
	}
	r := &Realm{
		env:       e,
		file:      f,
		config:    config,
		readOnly:  cfg.readOnly,
		listeners: make(map[string][]*goja.Object),
	}
	if cfg.sync != nil {
		u, ok := cfg.sync.Get("user").Export().(*User)
		if !ok {
			return nil, fmt.Errorf("sync.user must be of type 'User'")
		}
		r.session = e.newSession(u, cfg.sync, cfg.path)
	}
	r.obj = e.vm.NewDynamicObject(r)
	if err := r.obj.SetPrototype(e.protos.realm); err != nil {
		return nil, err
	}
	f.realms = append(f.realms, r)
	return r, nil
}

func (e *Env) realmConstructor() *goja.Object {
	vm := e.vm
	ctor := vm.ToValue(func(call goja.ConstructorCall) *goja.Object {
		r, err := e.open(call.Argument(0))
		if err != nil {
			throw(vm, err)
		}
		return r.obj
	}).(*goja.Object)
	proto := ctor.Get("prototype").(*goja.Object)
	e.protos.realm = proto

	e.method(proto, "write", func(call goja.FunctionCall) goja.Value {
		r := e.thisRealm(call)
		fn := e.callback(call.Argument(0), "callback")
		r.begin()
		res, err := fn(goja.Undefined())
		if err != nil {
			if r.file.inTransaction() {
				_ = r.file.cancel()
			}
			panic(err)
		}
		r.commit()
		return res
	})
	e.method(proto, "beginTransaction", func(call goja.FunctionCall) goja.Value {
		e.thisRealm(call).begin()
		return goja.Undefined()
	})
	e.method(proto, "commitTransaction", func(call goja.FunctionCall) goja.Value {
		e.thisRealm(call).commit()
		return goja.Undefined()
	})
	e.method(proto, "cancelTransaction", func(call goja.FunctionCall) goja.Value {
		r := e.thisRealm(call)
		if err := r.file.cancel(); err != nil {
			throw(vm, err)
		}
		return goja.Undefined()
	})
	e.method(proto, "create", func(call goja.FunctionCall) goja.Value {
		r := e.thisRealm(call)
		t, err := r.file.table(e.typeName(call.Argument(0)))
		if err != nil {
			throw(vm, err)
		}
		update := false
		if m := call.Argument(2); !goja.IsUndefined(m) {
			switch m.Export() {
			case true, "all", "modified":
				update = true
			}
		}
		rec, err := e.create(r.file, t, call.Argument(1), update)
		if err != nil {
			throw(vm, err)
		}
		return e.objectFor(rec)
	})
	e.method(proto, "delete", func(call goja.FunctionCall) goja.Value {
		r := e.thisRealm(call)
		if err := e.deleteValue(r.file, call.Argument(0)); err != nil {
			throw(vm, err)
		}
		return goja.Undefined()
	})
	e.method(proto, "deleteAll", func(call goja.FunctionCall) goja.Value {
		r := e.thisRealm(call)
		if err := r.file.removeAll(); err != nil {
			throw(vm, err)
		}
		return goja.Undefined()
	})
	e.method(proto, "objects", func(call goja.FunctionCall) goja.Value {
		r := e.thisRealm(call)
		t, err := r.file.table(e.typeName(call.Argument(0)))
		if err != nil {
			throw(vm, err)
		}
		return e.newResults(&Results{env: e, file: r.file, table: t})
	})
	e.method(proto, "objectForPrimaryKey", func(call goja.FunctionCall) goja.Value {
		r := e.thisRealm(call)
		t, err := r.file.table(e.typeName(call.Argument(0)))
		if err != nil {
			throw(vm, err)
		}
		pk := t.schema.PrimaryKey
		if pk == "" {
			throw(vm, fmt.Errorf("'%s' does not have a primary key defined", t.schema.Name))
		}
		p, _ := t.schema.Property(pk)
		key, err := e.toStore(t.schema.Name, p, p.Type, call.Argument(1))
		if err != nil {
			throw(vm, err)
		}
		rec, ok := t.byKey[keyOf(key)]
		if !ok {
			return goja.Undefined()
		}
		return e.objectFor(rec)
	})
	e.method(proto, "close", func(call goja.FunctionCall) goja.Value {
		r, ok := call.This.Export().(*Realm)
		if !ok {
			typeError(vm, "close called on a non-Realm object")
		}
		r.close()
		return goja.Undefined()
	})
	e.method(proto, "addListener", func(call goja.FunctionCall) goja.Value {
		r := e.thisRealm(call)
		name := r.checkEvent(call.Argument(0))
		fn, ok := call.Argument(1).(*goja.Object)
		if !ok {
			typeError(vm, "callback must be of type 'function', got (%s)", describe(call.Argument(1)))
		}
		e.callback(fn, "callback")
		r.listeners[name] = append(r.listeners[name], fn)
		return goja.Undefined()
	})
	e.method(proto, "removeListener", func(call goja.FunctionCall) goja.Value {
		r := e.thisRealm(call)
		name := r.checkEvent(call.Argument(0))
		fn, _ := call.Argument(1).(*goja.Object)
		kept := r.listeners[name][:0]
		for _, l := range r.listeners[name] {
			if fn == nil || !l.SameAs(fn) {
				kept = append(kept, l)
			}
		}
		r.listeners[name] = kept
		return goja.Undefined()
	})
	e.method(proto, "removeAllListeners", func(call goja.FunctionCall) goja.Value {
		r := e.thisRealm(call)
		if n := call.Argument(0); !goja.IsUndefined(n) {
			delete(r.listeners, r.checkEvent(n))
		} else {
			r.listeners = make(map[string][]*goja.Object)
		}
		return goja.Undefined()
	})
	return ctor
}

func (e *Env) thisRealm(call goja.FunctionCall) *Realm {
	r, ok := call.This.Export().(*Realm)
	if !ok {
		typeError(e.vm, "Method called on an object that is not a Realm")
	}
	if r.closed {
		throw(e.vm, errClosed)
	}
	return r
}

// typeName accepts a schema name or a constructor carrying a schema.
func (e *Env) typeName(v goja.Value) string {
	if obj, ok := v.(*goja.Object); ok {
		if s, ok := obj.Get("schema").(*goja.Object); ok {
			return stringOf(s.Get("name"))
		}
		if n := stringOf(obj.Get("name")); n != "" {
			return n
		}
	}
	return stringOf(v)
}

func (r *Realm) checkEvent(v goja.Value) string {
	name := stringOf(v)
	switch name {
	case "change", "beforenotify", "schema":
		return name
	}
	typeError(r.env.vm, "Unknown event name '%s': only 'change', 'schema' and 'beforenotify' are supported.", name)
	return ""
}

func (r *Realm) begin() {
	if r.readOnly {
		throw(r.env.vm, errReadOnly)
	}
	if err := r.file.begin(); err != nil {
		throw(r.env.vm, err)
	}
}

func (r *Realm) commit() {
	if err := r.file.commit(); err != nil {
		throw(r.env.vm, err)
	}
	r.file.notify()
}

func (r *Realm) close() {
	if r.closed {
		return
	}
	if r.file.txn != nil {
		_ = r.file.cancel()
	}
	r.closed = true
	for i, other := range r.file.realms {
		if other == r {
			r.file.realms = append(r.file.realms[:i:i], r.file.realms[i+1:]...)
			break
		}
	}
}

// notify schedules beforenotify and change listeners of every open realm on
// the file. Listeners run after the committing call returns.
func (f *file) notify() {
	for _, r := range f.realms {
		r := r
		for _, event := range []string{"beforenotify", "change"} {
			for _, l := range r.listeners[event] {
				fn, ok := goja.AssertFunction(l)
				if !ok {
					continue
				}
				event := event
				r.env.post("realm "+event+" listener", func() {
					if r.closed {
						return
					}
					if _, err := fn(goja.Undefined(), r.obj, r.env.vm.ToValue(event)); err != nil {
						r.env.logger.Warn("realm listener threw", "event", event, "error", err)
					}
				})
			}
		}
	}
}

// create builds and inserts a record from a JS object.
func (e *Env) create(f *file, t *table, props goja.Value, update bool) (*record, error) {
	if err := f.requireWrite(); err != nil {
		return nil, err
	}
	if rec, ok := props.Export().(*Object); ok && rec.rec.table == t && rec.rec.valid {
		return rec.rec, nil
	}
	src, _ := props.(*goja.Object)
	get := func(name string) goja.Value {
		if src == nil {
			return goja.Undefined()
		}
		v := src.Get(name)
		if v == nil {
			return goja.Undefined()
		}
		return v
	}
	s := t.schema
	if update && s.PrimaryKey != "" {
		p, _ := s.Property(s.PrimaryKey)
		key, err := e.toStore(s.Name, p, p.Type, get(s.PrimaryKey))
		if err != nil {
			return nil, err
		}
		if existing, ok := t.byKey[keyOf(key)]; ok {
			for _, p := range s.Properties {
				v := get(p.Name)
				if goja.IsUndefined(v) || p.Name == s.PrimaryKey {
					continue
				}
				if err := e.assign(f, existing, p, v); err != nil {
					return nil, err
				}
			}
			return existing, nil
		}
	}
	values := make(map[string]any, len(s.Properties))
	for _, p := range s.Properties {
		v := get(p.Name)
		if goja.IsUndefined(v) {
			switch {
			case p.HasDefault:
				v = p.Default
			case p.IsList():
				values[p.Name] = &listData{}
				continue
			case p.Optional:
				values[p.Name] = nil
				continue
			default:
				return nil, fmt.Errorf("Missing value for property '%s.%s'", s.Name, p.Name)
			}
		}
		sv, err := e.fieldValue(f, s.Name, p, v)
		if err != nil {
			return nil, err
		}
		values[p.Name] = sv
	}
	return f.insert(t, values)
}

// fieldValue converts v for storage in p, creating linked objects as needed.
func (e *Env) fieldValue(f *file, owner string, p *Property, v goja.Value) (any, error) {
	if p.IsList() {
		items, err := e.listItems(f, owner, p, v)
		if err != nil {
			return nil, err
		}
		return &listData{items: items}, nil
	}
	if p.Type == TypeObject {
		return e.link(f, p, v)
	}
	return e.toStore(owner, p, p.Type, v)
}

func (e *Env) listItems(f *file, owner string, p *Property, v goja.Value) ([]any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, fmt.Errorf("%s.%s must be of type 'array', got (%s)", owner, p.Name, describe(v))
	}
	n := int(obj.Get("length").ToInteger())
	items := make([]any, 0, n)
	for i := 0; i < n; i++ {
		item, err := e.element(f, owner, p, obj.Get(fmt.Sprint(i)))
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (e *Env) element(f *file, owner string, p *Property, v goja.Value) (any, error) {
	if p.ElementType == TypeObject {
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			return nil, fmt.Errorf("%s.%s: lists of objects cannot contain null", owner, p.Name)
		}
		return e.link(f, p, v)
	}
	return e.toStore(owner, p, p.ElementType, v)
}

// link resolves an object reference, creating the target from a plain object.
func (e *Env) link(f *file, p *Property, v goja.Value) (any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	t, err := f.table(p.ObjectType)
	if err != nil {
		return nil, err
	}
	if o, ok := v.Export().(*Object); ok {
		if o.rec.table != t {
			return nil, fmt.Errorf("%s must be of type '%s', got '%s'", p.Name, p.ObjectType, o.rec.table.schema.Name)
		}
		return o.rec, nil
	}
	return e.create(f, t, v, t.schema.PrimaryKey != "")
}

// assign writes v into one property of an existing record.
func (e *Env) assign(f *file, rec *record, p *Property, v goja.Value) error {
	if err := f.requireWrite(); err != nil {
		return err
	}
	if p.IsList() {
		items, err := e.listItems(f, rec.table.schema.Name, p, v)
		if err != nil {
			return err
		}
		l, _ := rec.values[p.Name].(*listData)
		if l == nil {
			return f.set(rec, p.Name, &listData{items: items})
		}
		return f.setList(l, items)
	}
	sv, err := e.fieldValue(f, rec.table.schema.Name, p, v)
	if err != nil {
		return err
	}
	return f.set(rec, p.Name, sv)
}

// deleteValue removes an object, every object of a collection, or an array
// of objects.
func (e *Env) deleteValue(f *file, v goja.Value) error {
	if err := f.requireWrite(); err != nil {
		return err
	}
	switch x := v.Export().(type) {
	case *Object:
		return f.remove(x.rec)
	case *List:
		for _, it := range append([]any(nil), x.data.items...) {
			if rec, ok := it.(*record); ok {
				if err := f.remove(rec); err != nil {
					return err
				}
			}
		}
		return nil
	case *Results:
		for _, rec := range x.rows() {
			if err := f.remove(rec); err != nil {
				return err
			}
		}
		return nil
	}
	obj, ok := v.(*goja.Object)
	if !ok || obj.ClassName() != "Array" {
		return fmt.Errorf("Can only delete objects, lists and results")
	}
	n := int(obj.Get("length").ToInteger())
	for i := 0; i < n; i++ {
		if err := e.deleteValue(f, obj.Get(fmt.Sprint(i))); err != nil {
			return err
		}
	}
	return nil
}
