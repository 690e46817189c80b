package realm

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

var (
	errOutsideTransaction = errors.New("Cannot modify managed objects outside of a write transaction.")
	errInvalidated        = errors.New("Accessing object which has been invalidated or deleted")
	errClosed             = errors.New("Cannot access realm that has been closed.")
	errReadOnly           = errors.New("Can't perform transactions on read-only Realms.")
)

// throw raises err inside the engine as a JS Error.
func throw(vm *goja.Runtime, err error) {
	panic(vm.NewGoError(err))
}

// typeError raises a TypeError with the given message.
func typeError(vm *goja.Runtime, format string, args ...any) {
	panic(vm.NewTypeError("%s", fmt.Sprintf(format, args...)))
}
