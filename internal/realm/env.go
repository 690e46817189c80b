// Package realm implements the Realm object model exposed to the script
// engine: databases, managed objects, collections and the app services
// surface (apps, users, credentials, sync sessions). Data lives in an
// in-memory store; nothing is persisted.
package realm

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
)

// ModuleName is the name under which require() resolves the constructor.
const ModuleName = "realm"

// DefaultBaseURL is used by apps whose configuration names no server.
const DefaultBaseURL = "https://realm.mongodb.com"

// Scheduler runs work on the engine goroutine outside of the current call.
type Scheduler interface {
	Post(fn func(*goja.Runtime)) bool
}

// Versions identifies the client SDK in app requests.
type Versions struct {
	PackageVersion  string
	PlatformContext string
	PlatformOS      string
	PlatformVersion string
}

// Options configures Install.
type Options struct {
	// Scheduler delivers notifications and async completions. Required.
	Scheduler Scheduler

	// Transport carries app requests. Defaults to an HTTP client.
	Transport Transport

	BaseURL     string
	HTTPTimeout time.Duration
	Logger      *slog.Logger
}

// Env is one installation of the Realm constructor into a runtime. All of
// its state is owned by the engine goroutine.
type Env struct {
	vm        *goja.Runtime
	scheduler Scheduler
	logger    *slog.Logger
	baseURL   string

	store     *Store
	transport Transport
	fallback  Transport

	ctor   *goja.Object
	protos prototypes

	objects map[*record]*goja.Object
	lists   map[*listData]*goja.Object
	apps    map[string]*App

	versions Versions
	logLevel string
}

type prototypes struct {
	realm, object, list, results    *goja.Object
	app, user, credentials, session *goja.Object
	task, handler, emailAuth        *goja.Object
}

// Install defines the global Realm constructor on vm.
func Install(vm *goja.Runtime, opts Options) (*Env, error) {
	if opts.Scheduler == nil {
		return nil, fmt.Errorf("realm: a scheduler is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	e := &Env{
		vm:        vm,
		scheduler: opts.Scheduler,
		logger:    logger,
		baseURL:   baseURL,
		store:     NewStore(),
		objects:   make(map[*record]*goja.Object),
		lists:     make(map[*listData]*goja.Object),
		apps:      make(map[string]*App),
		logLevel:  "info",
	}
	e.fallback = opts.Transport
	if e.fallback == nil {
		e.fallback = NewHTTPTransport(opts.Scheduler, opts.HTTPTimeout)
	}
	e.transport = e.fallback

	e.ctor = e.realmConstructor()
	e.protos.object = e.newObjectPrototype()
	e.protos.list = e.newCollectionPrototype()
	e.protos.results = e.newCollectionPrototype()
	e.protos.credentials = e.newCredentialsPrototype()
	e.protos.user = e.newUserPrototype()
	e.protos.session = e.newSessionPrototype()
	e.protos.task = e.newAsyncOpenPrototype()
	e.protos.handler = e.newResponseHandlerPrototype()
	e.protos.emailAuth = e.newEmailPasswordAuthPrototype()

	set := func(name string, v any) {
		if err := e.ctor.Set(name, v); err != nil {
			panic(err)
		}
	}
	set("App", e.appConstructor())
	set("Credentials", e.credentialsNamespace())
	set("Sync", e.syncNamespace())
	set("_asyncOpen", e.asyncOpen)
	set("clearTestState", func(goja.FunctionCall) goja.Value {
		e.ClearTestState()
		return goja.Undefined()
	})
	set("Test", e.testNamespace())
	set("defaultPath", "default.realm")
	set("exists", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(e.store.exists(e.configPath(call.Argument(0))))
	})

	if err := vm.Set("Realm", e.ctor); err != nil {
		return nil, fmt.Errorf("realm: define global: %w", err)
	}
	return e, nil
}

// Constructor returns the Realm constructor object.
func (e *Env) Constructor() *goja.Object { return e.ctor }

// Runtime returns the runtime the environment is installed in.
func (e *Env) Runtime() *goja.Runtime { return e.vm }

// SetFetch routes app requests through fn(request, handler). A nil or
// non-callable fn restores the default transport.
func (e *Env) SetFetch(fn goja.Value) error {
	if fn == nil || goja.IsUndefined(fn) || goja.IsNull(fn) {
		e.transport = e.fallback
		return nil
	}
	call, ok := goja.AssertFunction(fn)
	if !ok {
		return fmt.Errorf("fetch must be of type 'function', got (%s)", describe(fn))
	}
	e.transport = &callbackTransport{env: e, fetch: call}
	return nil
}

// SetVersions records the SDK identification sent with app requests.
func (e *Env) SetVersions(v Versions) { e.versions = v }

// Versions returns the recorded SDK identification.
func (e *Env) Versions() Versions { return e.versions }

// ClearTestState closes every realm, drops all data and forgets cached apps.
func (e *Env) ClearTestState() {
	e.store.reset()
	e.objects = make(map[*record]*goja.Object)
	e.lists = make(map[*listData]*goja.Object)
	for _, app := range e.apps {
		for _, u := range app.users {
			for _, s := range u.sessions {
				s.state = sessionInactive
			}
		}
	}
	e.apps = make(map[string]*App)
	e.logLevel = "info"
}

// ModuleLoader exposes the constructor to require("realm").
func (e *Env) ModuleLoader() require.ModuleLoader {
	return func(runtime *goja.Runtime, module *goja.Object) {
		_ = module.Set("exports", e.ctor)
	}
}

// post runs fn later on the engine goroutine, logging panics raised by
// callbacks so one faulty listener does not take others down.
func (e *Env) post(what string, fn func()) {
	ok := e.scheduler.Post(func(*goja.Runtime) {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Warn("realm callback failed", "what", what, "error", r)
			}
		}()
		fn()
	})
	if !ok {
		e.logger.Debug("engine stopped, dropping scheduled work", "what", what)
	}
}

// host wraps a Go value as a script object with the given prototype.
func (e *Env) host(d goja.DynamicObject, proto *goja.Object) *goja.Object {
	obj := e.vm.NewDynamicObject(d)
	if err := obj.SetPrototype(proto); err != nil {
		panic(err)
	}
	return obj
}

// method adds a native method to a prototype.
func (e *Env) method(proto *goja.Object, name string, fn func(goja.FunctionCall) goja.Value) {
	if err := proto.Set(name, fn); err != nil {
		panic(err)
	}
}

// getter adds a read-only accessor to a prototype.
func (e *Env) getter(proto *goja.Object, name string, fn func(goja.FunctionCall) goja.Value) {
	g := e.vm.ToValue(fn)
	if err := proto.DefineAccessorProperty(name, g, nil, goja.FLAG_TRUE, goja.FLAG_FALSE); err != nil {
		panic(err)
	}
}

func (e *Env) testNamespace() *goja.Object {
	ns := e.vm.NewObject()
	e.method(ns, "_test", func(goja.FunctionCall) goja.Value {
		return e.vm.ToValue("Test!")
	})
	return ns
}

// callback asserts v is callable, raising a TypeError naming what.
func (e *Env) callback(v goja.Value, what string) goja.Callable {
	fn, ok := goja.AssertFunction(v)
	if !ok {
		typeError(e.vm, "%s must be of type 'function', got (%s)", what, describe(v))
	}
	return fn
}

// errorValue builds a JS Error carrying msg.
func (e *Env) errorValue(msg string) goja.Value {
	v, err := e.vm.New(e.vm.Get("Error"), e.vm.ToValue(msg))
	if err != nil {
		return e.vm.ToValue(msg)
	}
	return v
}
