package rpc

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newIdleServer returns a poll-mode server whose engine is never pumped, so
// the test goroutine may use the runtime directly.
func newIdleServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(Options{Mode: ModePoll})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func run(t *testing.T, s *Server, src string) goja.Value {
	t.Helper()
	v, err := s.engine.Runtime().RunString(src)
	require.NoError(t, err)
	return v
}

func TestSerialize_Primitives(t *testing.T) {
	t.Parallel()
	s := newIdleServer(t)
	vm := s.engine.Runtime()

	for _, tc := range []struct {
		in   goja.Value
		want map[string]any
	}{
		{goja.Undefined(), map[string]any{}},
		{nil, map[string]any{}},
		{goja.Null(), map[string]any{"value": nil}},
		{vm.ToValue(true), map[string]any{"value": true}},
		{vm.ToValue("hi"), map[string]any{"value": "hi"}},
		{vm.ToValue(3), map[string]any{"value": int64(3)}},
		{vm.ToValue(2.0), map[string]any{"value": int64(2)}},
		{vm.ToValue(1.5), map[string]any{"value": 1.5}},
		{vm.ToValue(math.NaN()), map[string]any{"value": nil}},
		{vm.ToValue(math.Inf(-1)), map[string]any{"value": nil}},
	} {
		assert.Equal(t, tc.want, s.serialize(tc.in), "%v", tc.in)
	}
}

func TestSerialize_Structures(t *testing.T) {
	t.Parallel()
	s := newIdleServer(t)

	assert.Equal(t, map[string]any{"value": []any{
		map[string]any{"value": int64(1)},
		map[string]any{"value": "a"},
		map[string]any{},
	}}, s.serialize(run(t, s, `[1, "a", undefined]`)))

	assert.Equal(t, map[string]any{
		"type":   typeDict,
		"keys":   []any{"a", "b"},
		"values": []any{map[string]any{"value": int64(1)}, map[string]any{"value": nil}},
	}, s.serialize(run(t, s, `({a: 1, b: null})`)))

	assert.Equal(t, map[string]any{"type": typeDate, "value": float64(86400000)},
		s.serialize(run(t, s, `new Date(86400000)`)))

	e := s.serialize(run(t, s, `new Error("nope")`))
	assert.Equal(t, typeError, e["type"])
	assert.Equal(t, map[string]any{"value": "nope"}, e["message"])
	assert.Contains(t, e, "stack")
}

func TestSerialize_Binary(t *testing.T) {
	t.Parallel()
	s := newIdleServer(t)
	want := map[string]any{"type": typeData, "value": "AQID"}

	assert.Equal(t, want, s.serialize(run(t, s, `new Uint8Array([1, 2, 3]).buffer`)))
	assert.Equal(t, want, s.serialize(run(t, s, `new Uint8Array([1, 2, 3])`)))
	assert.Equal(t, want, s.serialize(run(t, s, `new Uint8Array([0, 1, 2, 3, 4]).subarray(1, 4)`)))
}

func TestSerialize_Functions(t *testing.T) {
	t.Parallel()
	s := newIdleServer(t)

	w := s.serialize(run(t, s, `(function () {})`))
	assert.Equal(t, typeFunction, w["type"])
	h, ok := toHandle(w["id"])
	require.True(t, ok)
	_, ok = s.objects.Lookup(h)
	assert.True(t, ok)

	cb := s.callbackFor(12)
	assert.Equal(t, map[string]any{"type": typeFunction, "value": uint64(12)}, s.serialize(cb))
	assert.Same(t, cb, s.callbackFor(12))
}

func TestSerialize_CyclesAreBounded(t *testing.T) {
	t.Parallel()
	s := newIdleServer(t)

	w := s.serialize(run(t, s, `var a = {}; a.self = a; a`))
	depth := 0
	for len(w) > 0 {
		require.Equal(t, typeDict, w["type"])
		w = w["values"].([]any)[0].(map[string]any)
		depth++
	}
	assert.Equal(t, maxDepth+1, depth)
}

func TestDeserialize(t *testing.T) {
	t.Parallel()
	s := newIdleServer(t)
	vm := s.engine.Runtime()

	v, err := s.deserialize(map[string]any{})
	require.NoError(t, err)
	assert.True(t, goja.IsUndefined(v))

	v, err = s.deserialize(map[string]any{"type": typeUndefined})
	require.NoError(t, err)
	assert.True(t, goja.IsUndefined(v))

	v, err = s.deserialize(map[string]any{"value": nil})
	require.NoError(t, err)
	assert.True(t, goja.IsNull(v))

	v, err = s.deserialize(map[string]any{"value": float64(7)})
	require.NoError(t, err)
	assert.Equal(t, int64(7), v.Export())

	v, err = s.deserialize(map[string]any{"value": []any{
		map[string]any{"value": "x"},
		map[string]any{"value": 2.5},
	}})
	require.NoError(t, err)
	assert.Equal(t, []any{"x", 2.5}, v.Export())

	v, err = s.deserialize(map[string]any{
		"type":   typeDict,
		"keys":   []any{"name"},
		"values": []any{map[string]any{"value": "Ann"}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Ann"}, v.Export())

	v, err = s.deserialize(map[string]any{"type": typeDate, "value": float64(1000)})
	require.NoError(t, err)
	assert.Equal(t, float64(1000), v.ToObject(vm).ToFloat())

	v, err = s.deserialize(map[string]any{"type": typeData, "value": "AQID"})
	require.NoError(t, err)
	ab, ok := v.Export().(goja.ArrayBuffer)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, ab.Bytes())

	v, err = s.deserialize(map[string]any{"type": typeError, "message": "bad", "stack": "at x"})
	require.NoError(t, err)
	obj := v.ToObject(vm)
	assert.Equal(t, "bad", obj.Get("message").String())
	assert.Equal(t, "at x", obj.Get("stack").String())

	v, err = s.deserialize(map[string]any{"type": typeEJSON, "value": map[string]any{"$oid": "abc"}})
	require.NoError(t, err)
	assert.Equal(t, "abc", v.ToObject(vm).Get("$oid").String())
}

func TestDeserialize_Handles(t *testing.T) {
	t.Parallel()
	s := newIdleServer(t)
	obj := s.engine.Runtime().NewObject()
	h := s.objects.Store(obj)

	v, err := s.deserialize(map[string]any{"id": uint64(h)})
	require.NoError(t, err)
	assert.Same(t, obj, v)

	v, err = s.deserialize(map[string]any{"id": float64(h + 100)})
	require.NoError(t, err)
	assert.True(t, goja.IsUndefined(v))

	v, err = s.deserialize(map[string]any{"type": typeFunction, "value": float64(3)})
	require.NoError(t, err)
	_, ok := goja.AssertFunction(v)
	assert.True(t, ok)
	got, ok := s.callbacks.HandleOf(v.(*goja.Object))
	require.True(t, ok)
	assert.Equal(t, Handle(3), got)
}

func TestDeserialize_Errors(t *testing.T) {
	t.Parallel()
	s := newIdleServer(t)

	for _, w := range []any{
		"plain",
		map[string]any{"type": "mystery"},
		map[string]any{"shape": 1},
		map[string]any{"type": typeData, "value": "!!not base64"},
		map[string]any{"type": typeDict, "keys": []any{"a"}, "values": []any{}},
		map[string]any{"value": map[string]any{}},
	} {
		_, err := s.deserialize(w)
		assert.ErrorIs(t, err, ErrDecode, "%v", w)
	}

	_, err := s.deserialize(map[string]any{"type": typeData, "value": "!!"})
	assert.ErrorContains(t, err, msgBase64)
	_, err = s.deserializeArgs([]any{map[string]any{}, "bad"})
	assert.ErrorContains(t, err, "argument 1")
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	s := newIdleServer(t)

	for _, src := range []string{
		`null`, `true`, `"text"`, `42`, `-0.25`,
		`[1, [2, "three"], null]`,
		`({a: {b: [1, 2]}, c: "d"})`,
	} {
		in := run(t, s, src)
		out, err := s.deserialize(s.serialize(in))
		require.NoError(t, err, src)
		assert.Equal(t, in.Export(), out.Export(), src)
	}
}

func TestRoundTrip_NegativeZero(t *testing.T) {
	t.Parallel()
	s := newIdleServer(t)
	vm := s.engine.Runtime()

	w := s.serialize(run(t, s, `-0`))
	f, ok := w["value"].(float64)
	require.True(t, ok, "negative zero must travel as a float: %v", w)
	assert.True(t, math.Signbit(f))

	// through JSON, as a client sees it
	b, err := json.Marshal(w)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))

	out, err := s.deserialize(decoded)
	require.NoError(t, err)
	require.NoError(t, vm.Set("out", out))
	assert.Equal(t, true, run(t, s, `Object.is(out, -0)`).Export())

	out, err = s.deserialize(s.serialize(run(t, s, `0`)))
	require.NoError(t, err)
	require.NoError(t, vm.Set("out", out))
	assert.Equal(t, true, run(t, s, `Object.is(out, 0)`).Export())
}
