package rpc

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/dop251/goja"

	"github.com/SACHINnANYAKKARA/realm-js/internal/realm"
)

// action handles one request on the engine goroutine.
type action func(args Message) (Message, error)

// credentialFactories maps credential actions to Realm.Credentials methods.
var credentialFactories = map[string]string{
	"/_anonymous":     "anonymous",
	"/_facebook":      "facebook",
	"/_apple":         "apple",
	"/_emailPassword": "emailPassword",
	"/_function":      "function",
	"/_google":        "google",
	"/_userApiKey":    "userApiKey",
	"/_serverApiKey":  "serverApiKey",
	"/_jwt":           "jwt",
}

func (s *Server) defaultActions() map[string]action {
	actions := map[string]action{
		actionCreateSession: s.createSession,
		"/create_realm":     s.createRealm,
		"/create_app": func(args Message) (Message, error) {
			return s.construct(args, "App")
		},
		"/create_user": func(args Message) (Message, error) {
			return s.callStatic(args, "Sync", "User", "createUser")
		},
		"/call_sync_function": func(args Message) (Message, error) {
			name, err := args.String("name")
			if err != nil {
				return nil, err
			}
			return s.callStatic(args, "Sync", name)
		},
		"/_asyncOpen": func(args Message) (Message, error) {
			return s.callStatic(args, "_asyncOpen")
		},
		"/call_method":      s.callMethod,
		"/get_object":       s.getObject,
		"/get_property":     s.getProperty,
		"/set_property":     s.setProperty,
		"/dispose_object":   s.disposeObject,
		"/clear_test_state": s.clearTestState,
		"/set_versions":     s.setVersions,
	}
	for name, method := range credentialFactories {
		actions[name] = func(args Message) (Message, error) {
			return s.callStatic(args, "Credentials", method)
		}
	}
	return actions
}

// realmConstructor returns the constructor pinned by create_session.
func (s *Server) realmConstructor() (*goja.Object, error) {
	if v, ok := s.objects.Lookup(s.SessionID()); ok {
		if ctor, ok := v.(*goja.Object); ok {
			return ctor, nil
		}
	}
	return nil, errors.New("Realm constructor not found!")
}

func (s *Server) arguments(args Message) ([]goja.Value, error) {
	raw, err := args.Arguments()
	if err != nil {
		return nil, err
	}
	return s.deserializeArgs(raw)
}

func (s *Server) createSession(args Message) (Message, error) {
	vm := s.engine.Runtime()
	env, err := realm.Install(vm, realm.Options{
		Scheduler:   s.engine,
		Transport:   s.opts.Transport,
		BaseURL:     s.opts.BaseURL,
		HTTPTimeout: s.opts.HTTPTimeout,
		Logger:      s.logger,
	})
	if err != nil {
		return nil, err
	}
	if raw, ok := args["fetch"]; ok && raw != nil {
		fetch, err := s.deserialize(raw)
		if err != nil {
			return nil, err
		}
		if err := env.SetFetch(fetch); err != nil {
			panic(vm.NewTypeError("%s", err.Error()))
		}
	}
	s.env = env
	id := s.objects.Store(env.Constructor())
	s.session.Store(uint64(id))
	s.logger.Debug("session created", "session", uint64(id))
	return Result(uint64(id)), nil
}

func (s *Server) createRealm(args Message) (Message, error) {
	vm := s.engine.Runtime()
	ctor, err := s.realmConstructor()
	if err != nil {
		return nil, err
	}
	argv, err := s.arguments(args)
	if err != nil {
		return nil, err
	}
	r, err := vm.New(ctor, argv...)
	if err != nil {
		return nil, err
	}
	listener, err := s.deserialize(args["beforeNotify"])
	if err != nil {
		return nil, err
	}
	add, ok := goja.AssertFunction(r.Get("addListener"))
	if !ok {
		return nil, errors.New("realm has no addListener method")
	}
	if _, err := add(r, vm.ToValue("beforenotify"), listener); err != nil {
		return nil, err
	}
	return Result(s.serialize(r)), nil
}

// construct runs `new Realm[name](...arguments)`.
func (s *Server) construct(args Message, name string) (Message, error) {
	vm := s.engine.Runtime()
	ctor, err := s.realmConstructor()
	if err != nil {
		return nil, err
	}
	argv, err := s.arguments(args)
	if err != nil {
		return nil, err
	}
	obj, err := vm.New(ctor.Get(name), argv...)
	if err != nil {
		return nil, err
	}
	return Result(s.serialize(obj)), nil
}

// callStatic calls Realm[path[0]][path[1]]... with the decoded arguments.
func (s *Server) callStatic(args Message, path ...string) (Message, error) {
	vm := s.engine.Runtime()
	ctor, err := s.realmConstructor()
	if err != nil {
		return nil, err
	}
	this := ctor
	target := goja.Value(ctor)
	for _, name := range path {
		obj, ok := target.(*goja.Object)
		if !ok {
			panic(vm.NewTypeError("Cannot read property '%s' of %s", name, target))
		}
		this = obj
		target = obj.Get(name)
	}
	fn, ok := goja.AssertFunction(target)
	if !ok {
		panic(vm.NewTypeError("%s is not a function", path[len(path)-1]))
	}
	argv, err := s.arguments(args)
	if err != nil {
		return nil, err
	}
	v, err := fn(this, argv...)
	if err != nil {
		return nil, err
	}
	return Result(s.serialize(v)), nil
}

func (s *Server) object(args Message) (*goja.Object, bool, error) {
	h, err := args.Handle("id")
	if err != nil {
		return nil, false, err
	}
	v, ok := s.objects.Lookup(h)
	if !ok {
		return nil, false, nil
	}
	obj, ok := v.(*goja.Object)
	return obj, ok, nil
}

// propertyName accepts numeric and string property names.
func propertyName(args Message) (string, error) {
	switch n := args["name"].(type) {
	case string:
		return n, nil
	case nil:
		return "", fmt.Errorf("%w: missing \"name\"", ErrProtocol)
	}
	h, ok := toHandle(args["name"])
	if !ok {
		return "", fmt.Errorf("%w: \"name\" must be a string or an index, got %v", ErrProtocol, args["name"])
	}
	return strconv.FormatUint(uint64(h), 10), nil
}

func (s *Server) callMethod(args Message) (Message, error) {
	vm := s.engine.Runtime()
	obj, ok, err := s.object(args)
	if err != nil {
		return nil, err
	}
	name, err := args.String("name")
	if err != nil {
		return nil, err
	}
	if !ok {
		panic(vm.NewTypeError("Cannot call method '%s' of a disposed object", name))
	}
	fn, ok := goja.AssertFunction(obj.Get(name))
	if !ok {
		panic(vm.NewTypeError("%s is not a function", name))
	}
	argv, err := s.arguments(args)
	if err != nil {
		return nil, err
	}
	v, err := fn(obj, argv...)
	if err != nil {
		return nil, err
	}
	return Result(s.serialize(v)), nil
}

func (s *Server) getObject(args Message) (Message, error) {
	obj, ok, err := s.object(args)
	if err != nil {
		return nil, err
	}
	if !ok {
		return Result(nil), nil
	}
	name, err := propertyName(args)
	if err != nil {
		return nil, err
	}
	result := map[string]any{}
	if o, ok := hostOf(obj).(*realm.Object); ok {
		result = snapshot(o)
	}
	if _, ok := result[name]; !ok {
		result[name] = s.serialize(obj.Get(name))
	}
	return Result(result), nil
}

func (s *Server) getProperty(args Message) (Message, error) {
	obj, ok, err := s.object(args)
	if err != nil {
		return nil, err
	}
	if !ok {
		return Result(s.serialize(goja.Null())), nil
	}
	name, err := propertyName(args)
	if err != nil {
		return nil, err
	}
	return Result(s.serialize(obj.Get(name))), nil
}

func (s *Server) setProperty(args Message) (Message, error) {
	vm := s.engine.Runtime()
	obj, ok, err := s.object(args)
	if err != nil {
		return nil, err
	}
	name, err := propertyName(args)
	if err != nil {
		return nil, err
	}
	if !ok {
		panic(vm.NewTypeError("Cannot set property '%s' of a disposed object", name))
	}
	v, err := s.deserialize(args["value"])
	if err != nil {
		return nil, err
	}
	if err := obj.Set(name, v); err != nil {
		return nil, err
	}
	return Message{}, nil
}

func (s *Server) disposeObject(args Message) (Message, error) {
	h, err := args.Handle("id")
	if err != nil {
		return nil, err
	}
	s.objects.Dispose(h)
	return Message{}, nil
}

// clearTestState drops every pinned value except the session constructor and
// every callback except the fetch function, cancels in-flight callback waits
// and resets the Realm test state.
func (s *Server) clearTestState(Message) (Message, error) {
	s.objects.Clear(s.SessionID())
	s.callbacks.Clear(0)
	s.reset.Add(1)
	s.pendingMu.Lock()
	clear(s.pending)
	s.pendingMu.Unlock()
	if s.env != nil {
		s.env.ClearTestState()
	}
	return Message{}, nil
}

func (s *Server) setVersions(args Message) (Message, error) {
	vm := s.engine.Runtime()
	raw, err := s.deserialize(args["versions"])
	if err != nil {
		return nil, err
	}
	obj, ok := raw.(*goja.Object)
	if !ok {
		panic(vm.NewTypeError("versions must be of type 'object', got (%s)", raw))
	}
	field := func(name string) string {
		v := obj.Get(name)
		if v == nil || goja.IsUndefined(v) {
			panic(vm.NewTypeError("versions.%s must be of type 'string', got (undefined)", name))
		}
		return v.String()
	}
	versions := realm.Versions{
		PackageVersion:  field("packageVersion"),
		PlatformContext: field("platformContext"),
		PlatformOS:      field("platformOs"),
		PlatformVersion: field("platformVersion"),
	}
	if s.env != nil {
		s.env.SetVersions(versions)
	}
	return Message{}, nil
}
