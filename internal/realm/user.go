package realm

import (
	"github.com/dop251/goja"
	"github.com/golang-jwt/jwt/v5"
)

// User states.
const (
	UserLoggedIn  = "LoggedIn"
	UserLoggedOut = "LoggedOut"
	UserRemoved   = "Removed"
)

// User is an app user.
type User struct {
	env *Env
	app *App
	obj *goja.Object

	ID           string
	Identity     string
	ProviderType string
	DeviceID     string
	AccessToken  string
	RefreshToken string
	State        string
	Profile      map[string]any

	sessions []*Session
}

var userKeys = []string{"id", "identity", "providerType", "deviceId", "accessToken", "refreshToken", "state", "profile", "customData", "isLoggedIn"}

// CustomData decodes the user_data claim of the access token. The token is
// not verified; the server already did that.
func (u *User) CustomData() map[string]any {
	if u.AccessToken == "" {
		return map[string]any{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(u.AccessToken, claims); err != nil {
		u.env.logger.Debug("access token is not a JWT", "user", u.ID, "error", err)
		return map[string]any{}
	}
	if data, ok := claims["user_data"].(map[string]any); ok {
		return data
	}
	return map[string]any{}
}

// Get implements goja.DynamicObject.
func (u *User) Get(key string) goja.Value {
	vm := u.env.vm
	switch key {
	case "id":
		return vm.ToValue(u.ID)
	case "identity":
		return vm.ToValue(u.Identity)
	case "providerType":
		return vm.ToValue(u.ProviderType)
	case "deviceId":
		return vm.ToValue(u.DeviceID)
	case "accessToken":
		if u.AccessToken == "" {
			return goja.Null()
		}
		return vm.ToValue(u.AccessToken)
	case "refreshToken":
		if u.RefreshToken == "" {
			return goja.Null()
		}
		return vm.ToValue(u.RefreshToken)
	case "state":
		return vm.ToValue(u.State)
	case "profile":
		return vm.ToValue(u.Profile)
	case "customData":
		return vm.ToValue(u.CustomData())
	case "isLoggedIn":
		return vm.ToValue(u.State == UserLoggedIn)
	}
	return nil
}

func (u *User) Set(string, goja.Value) bool { return false }
func (u *User) Delete(string) bool          { return false }
func (u *User) Keys() []string              { return append([]string(nil), userKeys...) }

// Has implements goja.DynamicObject.
func (u *User) Has(key string) bool {
	for _, k := range userKeys {
		if k == key {
			return true
		}
	}
	return false
}

func (u *User) stopSessions() {
	for _, s := range u.sessions {
		s.state = sessionInactive
	}
}

// logOut ends the server session and forgets the tokens. The local state
// changes whatever the server answers.
func (u *User) logOut(done func(error)) {
	token := u.RefreshToken
	finish := func(err error) {
		u.State = UserLoggedOut
		u.AccessToken, u.RefreshToken = "", ""
		u.stopSessions()
		if u.app.current == u {
			u.app.current = nil
		}
		done(err)
	}
	if token == "" {
		finish(nil)
		return
	}
	u.app.call("DELETE", u.app.url("auth", "session"), nil, token, func(_ map[string]any, err error) {
		finish(err)
	})
}

func (e *Env) newUserPrototype() *goja.Object {
	vm := e.vm
	proto := vm.NewObject()
	e.method(proto, "logOut", func(call goja.FunctionCall) goja.Value {
		u, ok := call.This.Export().(*User)
		if !ok {
			typeError(vm, "Method called on an object that is not a User")
		}
		var cb goja.Callable
		if fn := call.Argument(0); !goja.IsUndefined(fn) {
			cb = e.callback(fn, "callback")
		}
		u.logOut(func(err error) {
			if cb == nil {
				if err != nil {
					e.logger.Warn("log out failed", "user", u.ID, "error", err)
				}
				return
			}
			if err != nil {
				e.invoke("logOut callback", cb, e.errorValue(err.Error()))
				return
			}
			e.invoke("logOut callback", cb, goja.Null())
		})
		return goja.Undefined()
	})
	return proto
}
