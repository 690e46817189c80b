package rpc

import (
	"log/slog"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
)

// slogPrinter routes script console output to a structured logger.
type slogPrinter struct {
	logger *slog.Logger
}

func (p slogPrinter) Log(msg string)   { p.logger.Info(msg, "source", "console") }
func (p slogPrinter) Warn(msg string)  { p.logger.Warn(msg, "source", "console") }
func (p slogPrinter) Error(msg string) { p.logger.Error(msg, "source", "console") }

// registerConsole binds the console module to logger. installConsole then
// exposes it as the console global.
func registerConsole(registry *require.Registry, logger *slog.Logger) {
	registry.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(slogPrinter{logger: logger}))
}

func installConsole(vm *goja.Runtime) error {
	console.Enable(vm)
	return nil
}
