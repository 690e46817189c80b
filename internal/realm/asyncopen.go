package realm

import (
	"github.com/dop251/goja"
)

// AsyncOpenTask is a pending Realm._asyncOpen.
type AsyncOpenTask struct {
	env       *Env
	cancelled bool
	done      bool
	progress  []goja.Callable
}

func (t *AsyncOpenTask) Get(string) goja.Value       { return nil }
func (t *AsyncOpenTask) Set(string, goja.Value) bool { return false }
func (t *AsyncOpenTask) Has(string) bool             { return false }
func (t *AsyncOpenTask) Delete(string) bool          { return false }
func (t *AsyncOpenTask) Keys() []string              { return nil }

// asyncOpen implements Realm._asyncOpen(config, callback). The realm is
// opened on a later turn of the engine; callback receives (realm, null) or
// (null, error). A cancelled task never calls back.
func (e *Env) asyncOpen(call goja.FunctionCall) goja.Value {
	config := call.Argument(0)
	cb := e.callback(call.Argument(1), "callback")
	t := &AsyncOpenTask{env: e}
	obj := e.host(t, e.protos.task)
	e.post("async open", func() {
		if t.cancelled {
			return
		}
		t.done = true
		r, err := e.open(config)
		if err != nil {
			e.invoke("async open callback", cb, goja.Null(), e.errorValue(err.Error()))
			return
		}
		for _, fn := range t.progress {
			e.invoke("download notification", fn, e.vm.ToValue(0), e.vm.ToValue(0))
		}
		e.invoke("async open callback", cb, r.obj, goja.Null())
	})
	return obj
}

func (e *Env) newAsyncOpenPrototype() *goja.Object {
	vm := e.vm
	proto := vm.NewObject()
	this := func(call goja.FunctionCall) *AsyncOpenTask {
		t, ok := call.This.Export().(*AsyncOpenTask)
		if !ok {
			typeError(vm, "Method called on an object that is not an AsyncOpenTask")
		}
		return t
	}
	e.method(proto, "cancel", func(call goja.FunctionCall) goja.Value {
		this(call).cancelled = true
		return goja.Undefined()
	})
	e.method(proto, "addDownloadNotification", func(call goja.FunctionCall) goja.Value {
		t := this(call)
		t.progress = append(t.progress, e.callback(call.Argument(0), "callback"))
		return goja.Undefined()
	})
	return proto
}
