package realm

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/dop251/goja"
)

// List is a list property of a managed object.
type List struct {
	env   *Env
	owner *record
	prop  *Property
	data  *listData
}

// DataType names the element type ("int", "object", ...).
func (l *List) DataType() string { return string(l.prop.ElementType) }

// Optional reports whether elements may be null.
func (l *List) Optional() bool { return l.prop.Optional }

// IsValid reports whether the owning object still exists.
func (l *List) IsValid() bool { return l.owner.valid }

// Len implements goja.DynamicArray.
func (l *List) Len() int {
	if !l.owner.valid {
		return 0
	}
	return len(l.data.items)
}

// Get implements goja.DynamicArray.
func (l *List) Get(idx int) goja.Value {
	if idx < 0 || idx >= l.Len() {
		return nil
	}
	return l.env.toJS(l.data.items[idx])
}

// Set implements goja.DynamicArray. Writing one past the end appends.
func (l *List) Set(idx int, val goja.Value) bool {
	f := l.file()
	if idx < 0 || idx > len(l.data.items) {
		throw(l.env.vm, fmt.Errorf("Requested index %d greater than max %d", idx, len(l.data.items)))
	}
	item, err := l.env.element(f, l.owner.table.schema.Name, l.prop, val)
	if err != nil {
		throw(l.env.vm, err)
	}
	items := append([]any(nil), l.data.items...)
	if idx == len(items) {
		items = append(items, item)
	} else {
		items[idx] = item
	}
	if err := f.setList(l.data, items); err != nil {
		throw(l.env.vm, err)
	}
	return true
}

// SetLen implements goja.DynamicArray. Growing pads with null, which is only
// valid for optional primitive lists.
func (l *List) SetLen(n int) bool {
	f := l.file()
	items := append([]any(nil), l.data.items...)
	switch {
	case n < len(items):
		items = items[:n]
	case n > len(items):
		if !l.prop.Optional || l.prop.ElementType == TypeObject {
			throw(l.env.vm, fmt.Errorf("Cannot grow a list of non-optional values by setting its length"))
		}
		for len(items) < n {
			items = append(items, nil)
		}
	}
	if err := f.setList(l.data, items); err != nil {
		throw(l.env.vm, err)
	}
	return true
}

func (l *List) file() *file {
	if !l.owner.valid {
		throw(l.env.vm, errInvalidated)
	}
	f := l.env.fileOf(l.owner)
	if f == nil {
		throw(l.env.vm, errInvalidated)
	}
	if err := f.requireWrite(); err != nil {
		throw(l.env.vm, err)
	}
	return f
}

// Results is a live, read-only query over one object type.
type Results struct {
	env   *Env
	file  *file
	table *table
	query []*query
	sort  []sortKey

	frozen  []*record
	snap    bool
	cached  []*record
	version uint64
	valid   bool
}

type sortKey struct {
	path    string
	reverse bool
}

// DataType is always "object".
func (r *Results) DataType() string { return string(TypeObject) }

// Optional is always false.
func (r *Results) Optional() bool { return false }

// ObjectType names the queried schema.
func (r *Results) ObjectType() string { return r.table.schema.Name }

// Len implements goja.DynamicArray.
func (r *Results) Len() int { return len(r.rows()) }

// Get implements goja.DynamicArray.
func (r *Results) Get(idx int) goja.Value {
	rows := r.rows()
	if idx < 0 || idx >= len(rows) {
		return nil
	}
	return r.env.objectFor(rows[idx])
}

// Set implements goja.DynamicArray.
func (r *Results) Set(int, goja.Value) bool {
	throw(r.env.vm, fmt.Errorf("Cannot assign to an index of Results"))
	return false
}

// SetLen implements goja.DynamicArray.
func (r *Results) SetLen(int) bool {
	throw(r.env.vm, fmt.Errorf("Cannot change the length of Results"))
	return false
}

// rows evaluates the query, reusing the previous evaluation until the file
// version changes.
func (r *Results) rows() []*record {
	if r.snap {
		out := r.frozen[:0:0]
		for _, rec := range r.frozen {
			if rec.valid {
				out = append(out, rec)
			}
		}
		return out
	}
	if r.valid && r.version == r.file.version && !r.file.inTransaction() {
		return r.cached
	}
	out := make([]*record, 0, len(r.table.rows))
	for _, rec := range r.table.rows {
		if !rec.valid {
			continue
		}
		match := true
		for _, q := range r.query {
			if !q.match(r.env, rec) {
				match = false
				break
			}
		}
		if match {
			out = append(out, rec)
		}
	}
	if len(r.sort) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, k := range r.sort {
				c := compareValues(resolvePath(out[i], k.path), resolvePath(out[j], k.path))
				if c == 0 {
					continue
				}
				if k.reverse {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if !r.file.inTransaction() {
		r.cached, r.version, r.valid = out, r.file.version, true
	}
	return out
}

func (r *Results) derive() *Results {
	return &Results{
		env:   r.env,
		file:  r.file,
		table: r.table,
		query: append([]*query(nil), r.query...),
		sort:  append([]sortKey(nil), r.sort...),
	}
}

// resolvePath follows a dotted key path through links. A trailing @count or
// @size yields the length of a list or string.
func resolvePath(rec *record, path string) any {
	var cur any = rec
	for _, part := range splitPath(path) {
		switch x := cur.(type) {
		case *listData:
			if part == "@count" || part == "@size" {
				cur = int64(len(x.items))
				continue
			}
			return nil
		case string:
			if part == "@size" {
				cur = int64(len(x))
				continue
			}
			return nil
		case *record:
			if x == nil || !x.valid {
				return nil
			}
			cur = x.values[part]
		default:
			return nil
		}
	}
	if r, ok := cur.(*record); ok && !r.valid {
		return nil
	}
	return cur
}

func (e *Env) newResults(r *Results) *goja.Object {
	obj := e.vm.NewDynamicArray(r)
	_ = obj.SetPrototype(e.protos.results)
	return obj
}

func (e *Env) listFor(owner *record, p *Property, data *listData) *goja.Object {
	if obj, ok := e.lists[data]; ok {
		return obj
	}
	obj := e.vm.NewDynamicArray(&List{env: e, owner: owner, prop: p, data: data})
	_ = obj.SetPrototype(e.protos.list)
	e.lists[data] = obj
	return obj
}

// collection is what List and Results share for the prototype methods.
type collection interface {
	Len() int
	DataType() string
	Optional() bool
	IsValid() bool
}

// IsValid reports whether the underlying file is still open.
func (r *Results) IsValid() bool {
	for _, rr := range r.file.realms {
		if !rr.closed {
			return true
		}
	}
	return false
}

// newCollectionPrototype builds a prototype for lists or results.
// Array.prototype stays in the chain so map, forEach and friends work on both.
func (e *Env) newCollectionPrototype() *goja.Object {
	vm := e.vm
	proto := vm.NewObject()
	if arr, ok := vm.Get("Array").(*goja.Object); ok {
		if ap, ok := arr.Get("prototype").(*goja.Object); ok {
			_ = proto.SetPrototype(ap)
		}
	}
	this := func(call goja.FunctionCall) collection {
		c, ok := call.This.Export().(collection)
		if !ok {
			typeError(vm, "Method called on an object that is not a Realm collection")
		}
		return c
	}
	e.getter(proto, "type", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(this(call).DataType())
	})
	e.getter(proto, "optional", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(this(call).Optional())
	})
	e.method(proto, "isValid", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(this(call).IsValid())
	})
	e.method(proto, "isEmpty", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(this(call).Len() == 0)
	})
	e.method(proto, "filtered", func(call goja.FunctionCall) goja.Value {
		base := e.resultsOf(this(call))
		q, err := compileQuery(stringOf(call.Argument(0)), exportArgs(call.Arguments[min(1, len(call.Arguments)):]))
		if err != nil {
			throw(vm, err)
		}
		out := base.derive()
		out.query = append(out.query, q)
		return e.newResults(out)
	})
	e.method(proto, "sorted", func(call goja.FunctionCall) goja.Value {
		base := e.resultsOf(this(call))
		out := base.derive()
		out.sort = append(parseSort(call.Argument(0), call.Argument(1).ToBoolean()), out.sort...)
		return e.newResults(out)
	})
	e.method(proto, "snapshot", func(call goja.FunctionCall) goja.Value {
		base := e.resultsOf(this(call))
		out := base.derive()
		out.frozen = append([]*record(nil), base.rows()...)
		out.snap = true
		return e.newResults(out)
	})
	for _, name := range []string{"min", "max", "sum", "avg"} {
		name := name
		e.method(proto, name, func(call goja.FunctionCall) goja.Value {
			return e.aggregate(this(call), name, stringOf(call.Argument(0)))
		})
	}
	return proto
}

// resultsOf views any collection as Results so queries compose uniformly.
// Lists of primitives cannot be queried.
func (e *Env) resultsOf(c collection) *Results {
	switch x := c.(type) {
	case *Results:
		return x
	case *List:
		if x.prop.ElementType != TypeObject {
			throw(e.vm, fmt.Errorf("Cannot query a list of '%s'", x.prop.ElementType))
		}
		f := e.fileOf(x.owner)
		if f == nil {
			throw(e.vm, errInvalidated)
		}
		t, err := f.table(x.prop.ObjectType)
		if err != nil {
			throw(e.vm, err)
		}
		// a list view keeps list order and membership
		frozen := make([]*record, 0, len(x.data.items))
		for _, it := range x.data.items {
			if rec, ok := it.(*record); ok {
				frozen = append(frozen, rec)
			}
		}
		return &Results{env: e, file: f, table: t, frozen: frozen, snap: true}
	}
	typeError(e.vm, "unsupported collection")
	return nil
}

func parseSort(v goja.Value, reverse bool) []sortKey {
	obj, ok := v.(*goja.Object)
	if !ok || obj.ClassName() != "Array" {
		return []sortKey{{path: stringOf(v), reverse: reverse}}
	}
	n := int(obj.Get("length").ToInteger())
	keys := make([]sortKey, 0, n)
	for i := 0; i < n; i++ {
		item := obj.Get(fmt.Sprint(i))
		if pair, ok := item.(*goja.Object); ok && pair.ClassName() == "Array" {
			keys = append(keys, sortKey{path: stringOf(pair.Get("0")), reverse: pair.Get("1").ToBoolean()})
			continue
		}
		keys = append(keys, sortKey{path: stringOf(item), reverse: reverse})
	}
	return keys
}

func (e *Env) aggregate(c collection, op, prop string) goja.Value {
	vm := e.vm
	var values []any
	switch x := c.(type) {
	case *Results:
		for _, rec := range x.rows() {
			values = append(values, resolvePath(rec, prop))
		}
	case *List:
		if x.prop.ElementType == TypeObject {
			for _, it := range x.data.items {
				if rec, ok := it.(*record); ok {
					values = append(values, resolvePath(rec, prop))
				}
			}
		} else {
			values = append(values, x.data.items...)
		}
	}
	var (
		best  any
		sum   float64
		count int
		isInt = true
	)
	for _, v := range values {
		switch v.(type) {
		case nil:
			continue
		case int64, float64, time.Time, Decimal128:
		default:
			throw(vm, fmt.Errorf("Cannot %s property '%s': operation not supported for its type", op, prop))
		}
		if _, ok := v.(int64); !ok {
			isInt = false
		}
		count++
		sum += numberOf(v)
		switch op {
		case "min":
			if best == nil || compareValues(v, best) < 0 {
				best = v
			}
		case "max":
			if best == nil || compareValues(v, best) > 0 {
				best = v
			}
		}
	}
	switch op {
	case "sum":
		if isInt && !math.IsNaN(sum) {
			return vm.ToValue(int64(sum))
		}
		return vm.ToValue(sum)
	case "avg":
		if count == 0 {
			return goja.Undefined()
		}
		return vm.ToValue(sum / float64(count))
	}
	if best == nil {
		return goja.Undefined()
	}
	return e.toJS(best)
}

func exportArgs(args []goja.Value) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = queryValue(a)
	}
	return out
}
