package realm

import (
	"net/url"

	"github.com/dop251/goja"
)

// EmailPasswordAuth manages accounts of the email/password provider.
type EmailPasswordAuth struct {
	app *App
}

func (a *EmailPasswordAuth) Get(string) goja.Value       { return nil }
func (a *EmailPasswordAuth) Set(string, goja.Value) bool { return false }
func (a *EmailPasswordAuth) Has(string) bool             { return false }
func (a *EmailPasswordAuth) Delete(string) bool          { return false }
func (a *EmailPasswordAuth) Keys() []string              { return nil }

// emailPasswordOps maps each method to its endpoint suffix and argument
// names. A trailing node-style callback follows the arguments.
var emailPasswordOps = []struct {
	method string
	path   string
	args   []string
}{
	{"registerUser", "register", []string{"email", "password"}},
	{"confirmUser", "confirm", []string{"token", "tokenId"}},
	{"resendConfirmationEmail", "confirm/send", []string{"email"}},
	{"sendResetPasswordEmail", "reset/send", []string{"email"}},
	{"resetPassword", "reset", []string{"password", "token", "tokenId"}},
	{"callResetPasswordFunction", "reset/call", []string{"email", "password", "arguments"}},
}

func (e *Env) newEmailPasswordAuthPrototype() *goja.Object {
	vm := e.vm
	proto := vm.NewObject()
	for _, op := range emailPasswordOps {
		op := op
		e.method(proto, op.method, func(call goja.FunctionCall) goja.Value {
			auth, ok := call.This.Export().(*EmailPasswordAuth)
			if !ok {
				typeError(vm, "Method called on an object that is not an EmailPasswordAuth")
			}
			body := make(map[string]any, len(op.args))
			for i, name := range op.args {
				arg := call.Argument(i)
				if name == "arguments" {
					items, _ := arg.Export().([]any)
					if items == nil {
						items = []any{}
					}
					body[name] = items
					continue
				}
				if _, ok := arg.Export().(string); !ok {
					typeError(vm, "%s must be of type 'string', got (%s)", name, describe(arg))
				}
				body[name] = arg.String()
			}
			cb := e.callback(call.Argument(len(op.args)), "callback")
			a := auth.app
			u := a.url("app", url.PathEscape(a.ID), "auth", "providers", ProviderEmailPassword) + "/" + op.path
			a.call("POST", u, body, "", func(_ map[string]any, err error) {
				if err != nil {
					e.invoke(op.method+" callback", cb, e.errorValue(err.Error()))
					return
				}
				e.invoke(op.method+" callback", cb, goja.Null())
			})
			return goja.Undefined()
		})
	}
	return proto
}
