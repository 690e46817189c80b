package realm

import (
	"github.com/dop251/goja"
)

const (
	sessionInactive = "inactive"
	sessionActive   = "active"
)

const (
	connectionDisconnected = "disconnected"
	connectionConnected    = "connected"
)

// Session is the sync session of a synced realm. There is no server; a
// session is "connected" while active and its user is logged in.
type Session struct {
	env    *Env
	obj    *goja.Object
	user   *User
	config *goja.Object
	path   string
	state  string

	listeners []*goja.Object
	lastConn  string
}

var sessionKeys = []string{"user", "config", "state", "connectionState", "url"}

// User returns the owning user.
func (s *Session) User() *User { return s.user }

// Config returns the sync configuration object the realm was opened with.
func (s *Session) Config() *goja.Object { return s.config }

func (s *Session) connectionState() string {
	if s.state == sessionActive && s.user.State == UserLoggedIn {
		return connectionConnected
	}
	return connectionDisconnected
}

// Get implements goja.DynamicObject.
func (s *Session) Get(key string) goja.Value {
	vm := s.env.vm
	switch key {
	case "user":
		return s.user.obj
	case "config":
		return s.config
	case "state":
		return vm.ToValue(s.state)
	case "connectionState":
		return vm.ToValue(s.connectionState())
	case "url":
		return vm.ToValue(s.user.app.BaseURL)
	}
	return nil
}

func (s *Session) Set(string, goja.Value) bool { return false }
func (s *Session) Delete(string) bool          { return false }
func (s *Session) Keys() []string              { return append([]string(nil), sessionKeys...) }

// Has implements goja.DynamicObject.
func (s *Session) Has(key string) bool {
	for _, k := range sessionKeys {
		if k == key {
			return true
		}
	}
	return false
}

// setState changes the session state and posts connection notifications
// when the connection state changes.
func (s *Session) setState(state string) {
	s.state = state
	now := s.connectionState()
	if now == s.lastConn {
		return
	}
	old := s.lastConn
	s.lastConn = now
	for _, l := range s.listeners {
		fn, ok := goja.AssertFunction(l)
		if !ok {
			continue
		}
		s.env.post("connection notification", func() {
			s.env.invoke("connection notification", fn, s.env.vm.ToValue(now), s.env.vm.ToValue(old))
		})
	}
}

// newSession returns the user's session for path, creating it if needed.
func (e *Env) newSession(u *User, config *goja.Object, path string) *Session {
	for _, s := range u.sessions {
		if s.path == path {
			s.config = config
			s.setState(sessionActive)
			return s
		}
	}
	s := &Session{env: e, user: u, config: config, path: path, lastConn: connectionDisconnected}
	s.obj = e.host(s, e.protos.session)
	u.sessions = append(u.sessions, s)
	s.setState(sessionActive)
	return s
}

func (e *Env) newSessionPrototype() *goja.Object {
	vm := e.vm
	proto := vm.NewObject()
	this := func(call goja.FunctionCall) *Session {
		s, ok := call.This.Export().(*Session)
		if !ok {
			typeError(vm, "Method called on an object that is not a Session")
		}
		return s
	}
	e.method(proto, "isConnected", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(this(call).connectionState() == connectionConnected)
	})
	e.method(proto, "pause", func(call goja.FunctionCall) goja.Value {
		this(call).setState(sessionInactive)
		return goja.Undefined()
	})
	e.method(proto, "resume", func(call goja.FunctionCall) goja.Value {
		this(call).setState(sessionActive)
		return goja.Undefined()
	})
	e.method(proto, "addConnectionNotification", func(call goja.FunctionCall) goja.Value {
		s := this(call)
		fn, ok := call.Argument(0).(*goja.Object)
		if !ok {
			typeError(vm, "callback must be of type 'function', got (%s)", describe(call.Argument(0)))
		}
		e.callback(fn, "callback")
		s.listeners = append(s.listeners, fn)
		return goja.Undefined()
	})
	e.method(proto, "removeConnectionNotification", func(call goja.FunctionCall) goja.Value {
		s := this(call)
		fn, _ := call.Argument(0).(*goja.Object)
		kept := s.listeners[:0]
		for _, l := range s.listeners {
			if fn == nil || !l.SameAs(fn) {
				kept = append(kept, l)
			}
		}
		s.listeners = kept
		return goja.Undefined()
	})
	return proto
}
