package realm

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/dop251/goja"
	"github.com/google/uuid"
)

// App is an app services client. Apps are cached by id.
type App struct {
	env     *Env
	ID      string
	BaseURL string
	obj     *goja.Object
	users   []*User
	current *User
	auth    *goja.Object
}

var appKeys = []string{"id", "currentUser", "allUsers", "emailPasswordAuth"}

// CurrentUser returns the active user, or nil.
func (a *App) CurrentUser() *User { return a.current }

// Get implements goja.DynamicObject.
func (a *App) Get(key string) goja.Value {
	vm := a.env.vm
	switch key {
	case "id":
		return vm.ToValue(a.ID)
	case "currentUser":
		if a.current == nil {
			return goja.Null()
		}
		return a.current.obj
	case "allUsers":
		all := vm.NewObject()
		for _, u := range a.users {
			_ = all.Set(u.ID, u.obj)
		}
		return all
	case "emailPasswordAuth":
		if a.auth == nil {
			a.auth = a.env.host(&EmailPasswordAuth{app: a}, a.env.protos.emailAuth)
		}
		return a.auth
	}
	return nil
}

func (a *App) Set(string, goja.Value) bool { return false }
func (a *App) Delete(string) bool          { return false }
func (a *App) Keys() []string              { return append([]string(nil), appKeys...) }

// Has implements goja.DynamicObject.
func (a *App) Has(key string) bool {
	for _, k := range appKeys {
		if k == key {
			return true
		}
	}
	return false
}

func (a *App) url(parts ...string) string {
	return strings.TrimRight(a.BaseURL, "/") + "/api/client/v2.0/" + strings.Join(parts, "/")
}

// call sends a JSON request and hands the decoded body (or an error) to
// done on the engine goroutine.
func (a *App) call(method, u string, body any, bearer string, done func(map[string]any, error)) {
	req := Request{
		Method:  method,
		URL:     u,
		Headers: map[string]string{"Content-Type": "application/json", "Accept": "application/json"},
	}
	if bearer != "" {
		req.Headers["Authorization"] = "Bearer " + bearer
	}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			done(nil, fmt.Errorf("encode request: %w", err))
			return
		}
		req.Body = string(b)
	}
	a.env.transport.Fetch(req, func(resp Response) {
		if resp.Err != nil {
			done(nil, resp.Err)
			return
		}
		var out map[string]any
		if strings.TrimSpace(resp.Body) != "" {
			if err := json.Unmarshal([]byte(resp.Body), &out); err != nil && resp.StatusCode < 300 {
				done(nil, fmt.Errorf("decode response: %w", err))
				return
			}
		}
		if resp.StatusCode >= 300 || resp.StatusCode < 200 {
			if msg, ok := out["error"].(string); ok && msg != "" {
				done(out, errors.New(msg))
				return
			}
			done(out, fmt.Errorf("request failed with status %d", resp.StatusCode))
			return
		}
		done(out, nil)
	})
}

func (a *App) device() map[string]any {
	v := a.env.versions
	return map[string]any{
		"appId":           a.ID,
		"platform":        v.PlatformOS,
		"platformVersion": v.PlatformVersion,
		"sdkVersion":      v.PackageVersion,
	}
}

// logIn authenticates with the given credentials.
func (a *App) logIn(c *Credentials, done func(*User, error)) {
	body := make(map[string]any, len(c.Payload)+1)
	for k, v := range c.Payload {
		body[k] = v
	}
	body["options"] = map[string]any{"device": a.device()}
	a.call("POST", a.url("app", url.PathEscape(a.ID), "auth", "providers", c.ProviderType, "login"), body, "", func(out map[string]any, err error) {
		if err != nil {
			done(nil, err)
			return
		}
		id, _ := out["user_id"].(string)
		if id == "" {
			done(nil, errors.New("login response did not name a user"))
			return
		}
		u := a.userFor(id, c.ProviderType)
		u.AccessToken, _ = out["access_token"].(string)
		u.RefreshToken, _ = out["refresh_token"].(string)
		if d, ok := out["device_id"].(string); ok && d != "" {
			u.DeviceID = d
		}
		u.State = UserLoggedIn
		a.current = u
		done(u, nil)
	})
}

// userFor returns the known user with id, registering a new one if needed.
func (a *App) userFor(id, provider string) *User {
	for _, u := range a.users {
		if u.ID == id {
			return u
		}
	}
	u := &User{
		env:          a.env,
		app:          a,
		ID:           id,
		Identity:     id,
		ProviderType: provider,
		DeviceID:     uuid.NewString(),
		State:        UserLoggedOut,
		Profile:      map[string]any{},
	}
	u.obj = a.env.host(u, a.env.protos.user)
	a.users = append(a.users, u)
	return u
}

func (a *App) remove(u *User) {
	for i, other := range a.users {
		if other == u {
			a.users = append(a.users[:i:i], a.users[i+1:]...)
			break
		}
	}
	if a.current == u {
		a.current = nil
		for _, other := range a.users {
			if other.State == UserLoggedIn {
				a.current = other
				break
			}
		}
	}
	u.State = UserRemoved
	u.AccessToken, u.RefreshToken = "", ""
	u.stopSessions()
}

func (e *Env) newApp(id, baseURL string) *App {
	if baseURL == "" {
		baseURL = e.baseURL
	}
	a := &App{env: e, ID: id, BaseURL: baseURL}
	a.obj = e.host(a, e.protos.app)
	e.apps[id] = a
	return a
}

// appConstructor builds Realm.App.
func (e *Env) appConstructor() *goja.Object {
	vm := e.vm
	ctor := vm.ToValue(func(call goja.ConstructorCall) *goja.Object {
		var id, base string
		switch arg := call.Argument(0).(type) {
		case *goja.Object:
			id, base = stringOf(arg.Get("id")), stringOf(arg.Get("baseUrl"))
		default:
			if _, ok := arg.Export().(string); ok {
				id = arg.String()
			}
		}
		if id == "" {
			typeError(vm, "App id must be a non-empty string")
		}
		if a, ok := e.apps[id]; ok {
			return a.obj
		}
		return e.newApp(id, base).obj
	}).(*goja.Object)
	proto := ctor.Get("prototype").(*goja.Object)
	e.protos.app = proto

	this := func(call goja.FunctionCall) *App {
		a, ok := call.This.Export().(*App)
		if !ok {
			typeError(vm, "Method called on an object that is not an App")
		}
		return a
	}
	e.method(proto, "_logIn", func(call goja.FunctionCall) goja.Value {
		a := this(call)
		c, ok := call.Argument(0).Export().(*Credentials)
		if !ok {
			typeError(vm, "credentials must be of type 'Credentials', got (%s)", describe(call.Argument(0)))
		}
		cb := e.callback(call.Argument(1), "callback")
		a.logIn(c, func(u *User, err error) {
			if err != nil {
				e.invoke("logIn callback", cb, goja.Null(), e.errorValue(err.Error()))
				return
			}
			e.invoke("logIn callback", cb, u.obj, goja.Null())
		})
		return goja.Undefined()
	})
	e.method(proto, "switchUser", func(call goja.FunctionCall) goja.Value {
		a := this(call)
		u, ok := call.Argument(0).Export().(*User)
		if !ok || u.app != a {
			typeError(vm, "user must be a user of this app")
		}
		if u.State != UserLoggedIn {
			throw(vm, errors.New("User is no longer valid or is logged out"))
		}
		a.current = u
		return goja.Undefined()
	})
	e.method(proto, "removeUser", func(call goja.FunctionCall) goja.Value {
		a := this(call)
		u, ok := call.Argument(0).Export().(*User)
		if !ok || u.app != a {
			typeError(vm, "user must be a user of this app")
		}
		cb := e.callback(call.Argument(1), "callback")
		a.remove(u)
		e.invoke("removeUser callback", cb, goja.Null())
		return goja.Undefined()
	})

	e.method(ctor, "getApp", func(call goja.FunctionCall) goja.Value {
		id := stringOf(call.Argument(0))
		if a, ok := e.apps[id]; ok {
			return a.obj
		}
		return e.newApp(id, "").obj
	})
	e.method(ctor, "clearAppCache", func(goja.FunctionCall) goja.Value {
		e.apps = make(map[string]*App)
		return goja.Undefined()
	})
	return ctor
}

// invoke calls a script callback, logging rather than propagating what it
// throws.
func (e *Env) invoke(what string, fn goja.Callable, args ...goja.Value) {
	if _, err := fn(goja.Undefined(), args...); err != nil {
		e.logger.Warn("callback threw", "what", what, "error", err)
	}
}
