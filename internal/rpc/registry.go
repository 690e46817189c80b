package rpc

import (
	"sync"

	"github.com/dop251/goja"
)

// Registry pins engine values behind opaque handles. Handles are issued from
// a counter that is never reset, so a handle is never reused even across
// Clear. The registry does not deduplicate; storing the same value twice
// yields two handles.
type Registry struct {
	mu      sync.RWMutex
	next    Handle
	objects map[Handle]goja.Value
}

// NewRegistry returns an empty registry whose first handle is 1.
func NewRegistry() *Registry {
	return &Registry{
		next:    1,
		objects: make(map[Handle]goja.Value),
	}
}

// Store pins v and returns its fresh handle.
func (r *Registry) Store(v goja.Value) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.next
	r.next++
	r.objects[h] = v
	return h
}

// Lookup returns the value pinned under h.
func (r *Registry) Lookup(h Handle) (goja.Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.objects[h]
	return v, ok
}

// Dispose releases h. Unknown handles are ignored.
func (r *Registry) Dispose(h Handle) {
	r.mu.Lock()
	delete(r.objects, h)
	r.mu.Unlock()
}

// Clear releases every handle except keep.
func (r *Registry) Clear(keep Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept, ok := r.objects[keep]
	r.objects = make(map[Handle]goja.Value)
	if ok {
		r.objects[keep] = kept
	}
}

// Len reports the number of pinned values.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}

// Callbacks maps client-chosen callback handles to the trampoline functions
// standing in for them inside the engine, with a reverse index used when a
// trampoline is serialized back to the client.
type Callbacks struct {
	mu      sync.RWMutex
	byID    map[Handle]*goja.Object
	byValue map[*goja.Object]Handle
}

// NewCallbacks returns an empty callback registry.
func NewCallbacks() *Callbacks {
	return &Callbacks{
		byID:    make(map[Handle]*goja.Object),
		byValue: make(map[*goja.Object]Handle),
	}
}

// Register binds fn to h. An existing binding for h is replaced.
func (c *Callbacks) Register(h Handle, fn *goja.Object) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.byID[h]; ok {
		delete(c.byValue, old)
	}
	c.byID[h] = fn
	c.byValue[fn] = h
}

// Callback returns the trampoline registered under h.
func (c *Callbacks) Callback(h Handle) (*goja.Object, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn, ok := c.byID[h]
	return fn, ok
}

// HandleOf returns the handle a trampoline was registered under.
func (c *Callbacks) HandleOf(fn *goja.Object) (Handle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.byValue[fn]
	return h, ok
}

// Clear drops every callback except the one registered under keep.
func (c *Callbacks) Clear(keep Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept, ok := c.byID[keep]
	c.byID = make(map[Handle]*goja.Object)
	c.byValue = make(map[*goja.Object]Handle)
	if ok {
		c.byID[keep] = kept
		c.byValue[kept] = keep
	}
}
