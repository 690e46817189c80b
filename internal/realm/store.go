package realm

import (
	"fmt"
	"time"
)

// Decimal128 holds a decimal value in its canonical string form.
type Decimal128 string

// ObjectID is a 12 byte identifier.
type ObjectID [12]byte

// Store keeps every open file in memory, keyed by path. It is only used from
// the engine goroutine and carries no locking.
type Store struct {
	files  map[string]*file
	nextID uint64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{files: make(map[string]*file)}
}

type file struct {
	id       uint64
	path     string
	inMemory bool
	schema   []*ObjectSchema
	tables   map[string]*table
	version  uint64
	txn      *txn
	realms   []*Realm
	nextRow  uint64
}

type table struct {
	schema *ObjectSchema
	rows   []*record
	byKey  map[any]*record
}

type record struct {
	id     uint64
	table  *table
	values map[string]any
	valid  bool
}

// listData is the identity-stable backing store of a list property.
type listData struct {
	items []any
}

type txn struct {
	undo []func()
}

// open returns the file at path, creating it when missing. A non-nil schema
// must match the schema of an existing file.
func (s *Store) open(path string, schema []*ObjectSchema, inMemory bool) (*file, error) {
	if f, ok := s.files[path]; ok {
		if schema != nil && f.schema != nil && !schemasEqual(schema, f.schema) {
			return nil, fmt.Errorf("Provided schema does not match the schema of the existing Realm at '%s'.", path)
		}
		if f.schema == nil && schema != nil {
			f.setSchema(schema)
		}
		return f, nil
	}
	s.nextID++
	f := &file{
		id:       s.nextID,
		path:     path,
		inMemory: inMemory,
		tables:   make(map[string]*table),
	}
	if schema != nil {
		f.setSchema(schema)
	}
	s.files[path] = f
	return f, nil
}

func (s *Store) exists(path string) bool {
	_, ok := s.files[path]
	return ok
}

// reset closes and forgets every file.
func (s *Store) reset() {
	for _, f := range s.files {
		for _, r := range f.realms {
			r.closed = true
		}
		for _, t := range f.tables {
			for _, rec := range t.rows {
				rec.valid = false
			}
		}
	}
	s.files = make(map[string]*file)
}

func (f *file) setSchema(schema []*ObjectSchema) {
	f.schema = schema
	for _, os := range schema {
		if _, ok := f.tables[os.Name]; !ok {
			f.tables[os.Name] = &table{schema: os, byKey: make(map[any]*record)}
		}
	}
}

func (f *file) table(name string) (*table, error) {
	t, ok := f.tables[name]
	if !ok {
		return nil, fmt.Errorf("Object type '%s' not found in schema.", name)
	}
	return t, nil
}

func (f *file) inTransaction() bool { return f.txn != nil }

func (f *file) begin() error {
	if f.txn != nil {
		return fmt.Errorf("The Realm is already in a write transaction")
	}
	f.txn = &txn{}
	return nil
}

func (f *file) commit() error {
	if f.txn == nil {
		return fmt.Errorf("Can only commit a write transaction when one is in progress")
	}
	f.txn = nil
	f.version++
	return nil
}

func (f *file) cancel() error {
	if f.txn == nil {
		return fmt.Errorf("Can only cancel a write transaction when one is in progress")
	}
	undo := f.txn.undo
	f.txn = nil
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
	return nil
}

func (f *file) recordUndo(fn func()) {
	if f.txn != nil {
		f.txn.undo = append(f.txn.undo, fn)
	}
}

func (f *file) requireWrite() error {
	if f.txn == nil {
		return errOutsideTransaction
	}
	return nil
}

// insert adds a fully populated record to t.
func (f *file) insert(t *table, values map[string]any) (*record, error) {
	if err := f.requireWrite(); err != nil {
		return nil, err
	}
	if pk := t.schema.PrimaryKey; pk != "" {
		key := keyOf(values[pk])
		if _, dup := t.byKey[key]; dup {
			return nil, fmt.Errorf("Attempting to create an object of type '%s' with an existing primary key value '%v'.", t.schema.Name, values[pk])
		}
	}
	f.nextRow++
	rec := &record{id: f.nextRow, table: t, values: values, valid: true}
	t.rows = append(t.rows, rec)
	if pk := t.schema.PrimaryKey; pk != "" {
		t.byKey[keyOf(values[pk])] = rec
	}
	f.recordUndo(func() { f.detach(rec) })
	return rec, nil
}

// set writes one field of rec.
func (f *file) set(rec *record, name string, v any) error {
	if err := f.requireWrite(); err != nil {
		return err
	}
	if !rec.valid {
		return errInvalidated
	}
	if name == rec.table.schema.PrimaryKey {
		if keyOf(rec.values[name]) != keyOf(v) {
			return fmt.Errorf("Cannot change the primary key of an existing '%s' object.", rec.table.schema.Name)
		}
	}
	old, had := rec.values[name]
	rec.values[name] = v
	f.recordUndo(func() {
		if had {
			rec.values[name] = old
		} else {
			delete(rec.values, name)
		}
	})
	return nil
}

// setList replaces the items of a list, recording the previous contents.
func (f *file) setList(l *listData, items []any) error {
	if err := f.requireWrite(); err != nil {
		return err
	}
	old := l.items
	l.items = items
	f.recordUndo(func() { l.items = old })
	return nil
}

// remove deletes rec and clears links pointing at it.
func (f *file) remove(rec *record) error {
	if err := f.requireWrite(); err != nil {
		return err
	}
	if !rec.valid {
		return nil
	}
	f.detach(rec)
	f.recordUndo(func() { f.attach(rec) })
	for _, t := range f.tables {
		for _, other := range t.rows {
			for _, p := range t.schema.Properties {
				if p.ValueType() != TypeObject {
					continue
				}
				if p.IsList() {
					l, _ := other.values[p.Name].(*listData)
					if l == nil {
						continue
					}
					kept := make([]any, 0, len(l.items))
					for _, it := range l.items {
						if it != rec {
							kept = append(kept, it)
						}
					}
					if len(kept) != len(l.items) {
						_ = f.setList(l, kept)
					}
					continue
				}
				if other.values[p.Name] == rec {
					_ = f.set(other, p.Name, nil)
				}
			}
		}
	}
	return nil
}

func (f *file) removeAll() error {
	if err := f.requireWrite(); err != nil {
		return err
	}
	for _, t := range f.tables {
		rows := append([]*record(nil), t.rows...)
		for _, rec := range rows {
			f.detach(rec)
		}
		f.recordUndo(func() {
			for _, rec := range rows {
				f.attach(rec)
			}
		})
	}
	return nil
}

func (f *file) detach(rec *record) {
	t := rec.table
	for i, r := range t.rows {
		if r == rec {
			t.rows = append(t.rows[:i:i], t.rows[i+1:]...)
			break
		}
	}
	if pk := t.schema.PrimaryKey; pk != "" {
		delete(t.byKey, keyOf(rec.values[pk]))
	}
	rec.valid = false
}

func (f *file) attach(rec *record) {
	t := rec.table
	t.rows = append(t.rows, rec)
	if pk := t.schema.PrimaryKey; pk != "" {
		t.byKey[keyOf(rec.values[pk])] = rec
	}
	rec.valid = true
}

// keyOf normalises primary key values for map lookups.
func keyOf(v any) any {
	switch k := v.(type) {
	case float64:
		return int64(k)
	case int:
		return int64(k)
	case time.Time:
		return k.UnixNano()
	}
	return v
}
