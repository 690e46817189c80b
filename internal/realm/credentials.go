package realm

import (
	"github.com/dop251/goja"
	"github.com/golang-jwt/jwt/v5"
)

// Provider names as used by app services.
const (
	ProviderAnonymous     = "anon-user"
	ProviderEmailPassword = "local-userpass"
	ProviderFunction      = "custom-function"
	ProviderJWT           = "custom-token"
	ProviderAPIKey        = "api-key"
	ProviderFacebook      = "oauth2-facebook"
	ProviderGoogle        = "oauth2-google"
	ProviderApple         = "oauth2-apple"
)

// Credentials identify a user to an app login.
type Credentials struct {
	env          *Env
	ProviderType string
	Payload      map[string]any
}

// Get implements goja.DynamicObject.
func (c *Credentials) Get(key string) goja.Value {
	switch key {
	case "providerType":
		return c.env.vm.ToValue(c.ProviderType)
	case "payload":
		return c.env.vm.ToValue(c.Payload)
	}
	return nil
}

func (c *Credentials) Set(string, goja.Value) bool { return false }
func (c *Credentials) Has(key string) bool         { return key == "providerType" || key == "payload" }
func (c *Credentials) Delete(string) bool          { return false }
func (c *Credentials) Keys() []string              { return []string{"providerType", "payload"} }

func (e *Env) newCredentialsPrototype() *goja.Object { return e.vm.NewObject() }

func (e *Env) credentials(provider string, payload map[string]any) goja.Value {
	return e.host(&Credentials{env: e, ProviderType: provider, Payload: payload}, e.protos.credentials)
}

// credentialsNamespace builds Realm.Credentials.
func (e *Env) credentialsNamespace() *goja.Object {
	vm := e.vm
	ns := vm.NewObject()
	token := func(call goja.FunctionCall, what string) string {
		v := call.Argument(0)
		if _, ok := v.Export().(string); !ok {
			typeError(vm, "%s must be of type 'string', got (%s)", what, describe(v))
		}
		return v.String()
	}
	e.method(ns, "anonymous", func(goja.FunctionCall) goja.Value {
		return e.credentials(ProviderAnonymous, map[string]any{})
	})
	e.method(ns, "facebook", func(call goja.FunctionCall) goja.Value {
		return e.credentials(ProviderFacebook, map[string]any{"accessToken": token(call, "accessToken")})
	})
	e.method(ns, "apple", func(call goja.FunctionCall) goja.Value {
		return e.credentials(ProviderApple, map[string]any{"id_token": token(call, "idToken")})
	})
	e.method(ns, "emailPassword", func(call goja.FunctionCall) goja.Value {
		email, password := call.Argument(0), call.Argument(1)
		if obj, ok := email.(*goja.Object); ok {
			email, password = obj.Get("email"), obj.Get("password")
		}
		if _, ok := email.Export().(string); !ok {
			typeError(vm, "email must be of type 'string', got (%s)", describe(email))
		}
		if _, ok := password.Export().(string); !ok {
			typeError(vm, "password must be of type 'string', got (%s)", describe(password))
		}
		return e.credentials(ProviderEmailPassword, map[string]any{"username": email.String(), "password": password.String()})
	})
	e.method(ns, "function", func(call goja.FunctionCall) goja.Value {
		payload, ok := call.Argument(0).Export().(map[string]any)
		if !ok {
			typeError(vm, "payload must be of type 'object', got (%s)", describe(call.Argument(0)))
		}
		return e.credentials(ProviderFunction, payload)
	})
	e.method(ns, "google", func(call goja.FunctionCall) goja.Value {
		arg := call.Argument(0)
		if obj, ok := arg.(*goja.Object); ok {
			if t := obj.Get("idToken"); t != nil && !goja.IsUndefined(t) {
				return e.credentials(ProviderGoogle, map[string]any{"id_token": stringOf(t)})
			}
			return e.credentials(ProviderGoogle, map[string]any{"authCode": stringOf(obj.Get("authCode"))})
		}
		return e.credentials(ProviderGoogle, map[string]any{"authCode": token(call, "authCode")})
	})
	e.method(ns, "userApiKey", func(call goja.FunctionCall) goja.Value {
		return e.credentials(ProviderAPIKey, map[string]any{"key": token(call, "userAPIKey")})
	})
	e.method(ns, "serverApiKey", func(call goja.FunctionCall) goja.Value {
		return e.credentials(ProviderAPIKey, map[string]any{"key": token(call, "serverAPIKey")})
	})
	e.method(ns, "jwt", func(call goja.FunctionCall) goja.Value {
		t := token(call, "token")
		if _, _, err := jwt.NewParser().ParseUnverified(t, jwt.MapClaims{}); err != nil {
			typeError(vm, "token is not a valid JWT: %v", err)
		}
		return e.credentials(ProviderJWT, map[string]any{"token": t})
	})
	return ns
}
