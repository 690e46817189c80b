package realm

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

var logLevels = []string{"all", "trace", "debug", "detail", "info", "warn", "error", "fatal", "off"}

// LogLevel returns the level set through Realm.Sync.setLogLevel.
func (e *Env) LogLevel() string { return e.logLevel }

// syncNamespace builds Realm.Sync.
func (e *Env) syncNamespace() *goja.Object {
	vm := e.vm
	ns := vm.NewObject()

	users := vm.NewObject()
	// createUser(app | appId, identity, accessToken?, refreshToken?) registers
	// a logged-in user without contacting the server.
	e.method(users, "createUser", func(call goja.FunctionCall) goja.Value {
		var a *App
		switch x := call.Argument(0).Export().(type) {
		case *App:
			a = x
		case string:
			if a = e.apps[x]; a == nil {
				a = e.newApp(x, "")
			}
		default:
			typeError(vm, "app must be of type 'App' or 'string', got (%s)", describe(call.Argument(0)))
		}
		identity := call.Argument(1)
		if _, ok := identity.Export().(string); !ok || identity.String() == "" {
			typeError(vm, "identity must be a non-empty string, got (%s)", describe(identity))
		}
		u := a.userFor(identity.String(), ProviderAnonymous)
		u.AccessToken = stringOf(call.Argument(2))
		u.RefreshToken = stringOf(call.Argument(3))
		u.State = UserLoggedIn
		a.current = u
		return u.obj
	})
	if err := ns.Set("User", users); err != nil {
		panic(err)
	}

	e.method(ns, "setLogLevel", func(call goja.FunctionCall) goja.Value {
		// setLogLevel(app, level) or setLogLevel(level)
		level := lastArg(call)
		name := strings.ToLower(stringOf(level))
		for _, l := range logLevels {
			if l == name {
				e.logLevel = name
				return goja.Undefined()
			}
		}
		throw(vm, fmt.Errorf("Bad log level: '%s'", stringOf(level)))
		return nil
	})
	e.method(ns, "getAllSyncSessions", func(call goja.FunctionCall) goja.Value {
		u := e.userArg(call.Argument(0))
		items := make([]any, 0, len(u.sessions))
		for _, s := range u.sessions {
			if s.state == sessionActive {
				items = append(items, s.obj)
			}
		}
		return vm.NewArray(items...)
	})
	e.method(ns, "getSyncSession", func(call goja.FunctionCall) goja.Value {
		u := e.userArg(call.Argument(0))
		path := stringOf(call.Argument(1))
		for _, s := range u.sessions {
			if s.path == path && s.state == sessionActive {
				return s.obj
			}
		}
		return goja.Null()
	})
	e.method(ns, "_hasExistingSessions", func(goja.FunctionCall) goja.Value {
		for _, a := range e.apps {
			for _, u := range a.users {
				for _, s := range u.sessions {
					if s.state == sessionActive {
						return vm.ToValue(true)
					}
				}
			}
		}
		return vm.ToValue(false)
	})
	e.method(ns, "reconnect", func(goja.FunctionCall) goja.Value {
		for _, a := range e.apps {
			for _, u := range a.users {
				for _, s := range u.sessions {
					if s.state == sessionActive {
						s.setState(sessionActive)
					}
				}
			}
		}
		return goja.Undefined()
	})
	e.method(ns, "initiateClientReset", func(call goja.FunctionCall) goja.Value {
		path := stringOf(lastArg(call))
		f, ok := e.store.files[path]
		if !ok {
			throw(vm, fmt.Errorf("Realm at path '%s' is not open", path))
		}
		if len(f.realms) > 0 {
			throw(vm, fmt.Errorf("Realm at path '%s' is still open; close it before resetting", path))
		}
		delete(e.store.files, path)
		return goja.Undefined()
	})
	return ns
}

func (e *Env) userArg(v goja.Value) *User {
	u, ok := v.Export().(*User)
	if !ok {
		typeError(e.vm, "user must be of type 'User', got (%s)", describe(v))
	}
	return u
}

func lastArg(call goja.FunctionCall) goja.Value {
	if len(call.Arguments) == 0 {
		return goja.Undefined()
	}
	return call.Arguments[len(call.Arguments)-1]
}
