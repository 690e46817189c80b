package rpc

import (
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_StoreIssuesIncreasingHandles(t *testing.T) {
	t.Parallel()
	vm := goja.New()
	r := NewRegistry()

	var last Handle
	for i := 0; i < 50; i++ {
		h := r.Store(vm.NewObject())
		if i == 0 {
			assert.Equal(t, Handle(1), h)
		}
		require.Greater(t, h, last)
		last = h
	}
	assert.Equal(t, 50, r.Len())
}

func TestRegistry_NoDeduplication(t *testing.T) {
	t.Parallel()
	vm := goja.New()
	r := NewRegistry()
	obj := vm.NewObject()

	a := r.Store(obj)
	b := r.Store(obj)
	assert.NotEqual(t, a, b)

	va, ok := r.Lookup(a)
	require.True(t, ok)
	vb, ok := r.Lookup(b)
	require.True(t, ok)
	assert.Same(t, va.(*goja.Object), vb.(*goja.Object))
}

func TestRegistry_Dispose(t *testing.T) {
	t.Parallel()
	vm := goja.New()
	r := NewRegistry()
	h := r.Store(vm.NewObject())

	r.Dispose(h)
	_, ok := r.Lookup(h)
	assert.False(t, ok)

	// disposing twice is harmless
	r.Dispose(h)

	// handles are not reused after disposal
	assert.Greater(t, r.Store(vm.NewObject()), h)
}

func TestRegistry_ClearKeepsOneHandle(t *testing.T) {
	t.Parallel()
	vm := goja.New()
	r := NewRegistry()
	session := r.Store(vm.NewObject())
	other := r.Store(vm.NewObject())

	r.Clear(session)

	_, ok := r.Lookup(session)
	assert.True(t, ok)
	_, ok = r.Lookup(other)
	assert.False(t, ok)
	assert.Greater(t, r.Store(vm.NewObject()), other)
}

func TestCallbacks_ReverseIndex(t *testing.T) {
	t.Parallel()
	vm := goja.New()
	c := NewCallbacks()
	fetch := vm.NewObject()
	cb := vm.NewObject()

	c.Register(0, fetch)
	c.Register(7, cb)

	h, ok := c.HandleOf(cb)
	require.True(t, ok)
	assert.Equal(t, Handle(7), h)

	got, ok := c.Callback(0)
	require.True(t, ok)
	assert.Same(t, fetch, got)

	c.Clear(0)
	_, ok = c.Callback(7)
	assert.False(t, ok)
	_, ok = c.HandleOf(cb)
	assert.False(t, ok)
	h, ok = c.HandleOf(fetch)
	require.True(t, ok)
	assert.Equal(t, Handle(0), h)
}

func TestCallbacks_RegisterReplacesBinding(t *testing.T) {
	t.Parallel()
	vm := goja.New()
	c := NewCallbacks()
	first := vm.NewObject()
	second := vm.NewObject()

	c.Register(3, first)
	c.Register(3, second)

	_, ok := c.HandleOf(first)
	assert.False(t, ok)
	h, ok := c.HandleOf(second)
	require.True(t, ok)
	assert.Equal(t, Handle(3), h)
}
