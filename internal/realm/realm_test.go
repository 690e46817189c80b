package realm

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/dop251/goja"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// queue is a Scheduler whose posted work runs when the test drains it.
type queue struct {
	jobs []func(*goja.Runtime)
}

func (q *queue) Post(fn func(*goja.Runtime)) bool {
	q.jobs = append(q.jobs, fn)
	return true
}

func (q *queue) drain(vm *goja.Runtime) {
	for len(q.jobs) > 0 {
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		job(vm)
	}
}

// fakeTransport answers every request synchronously.
type fakeTransport struct {
	requests []Request
	respond  func(Request) Response
}

func (f *fakeTransport) Fetch(req Request, done func(Response)) {
	f.requests = append(f.requests, req)
	if f.respond == nil {
		done(Response{StatusCode: 200, Body: "{}"})
		return
	}
	done(f.respond(req))
}

type harness struct {
	t  *testing.T
	vm *goja.Runtime
	q  *queue
	tr *fakeTransport
	e  *Env
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	vm := goja.New()
	q := &queue{}
	tr := &fakeTransport{}
	e, err := Install(vm, Options{Scheduler: q, Transport: tr})
	require.NoError(t, err)
	return &harness{t: t, vm: vm, q: q, tr: tr, e: e}
}

func (h *harness) run(src string) goja.Value {
	h.t.Helper()
	v, err := h.vm.RunString(src)
	require.NoError(h.t, err)
	return v
}

func (h *harness) fails(src string) string {
	h.t.Helper()
	_, err := h.vm.RunString(src)
	require.Error(h.t, err)
	return err.Error()
}

const peopleSetup = `
var r = new Realm({
	path: 'people.realm',
	schema: [{
		name: 'Person',
		primaryKey: 'name',
		properties: {
			name: 'string',
			age: 'int',
			nick: 'string?',
			tags: 'string[]',
			friends: 'Person[]',
			best: 'Person',
		},
	}],
});
r.write(function () {
	var ann = r.create('Person', {name: 'Ann', age: 30, tags: ['a', 'b']});
	var bob = r.create('Person', {name: 'Bob', age: 25, nick: 'bobby'});
	var cy = r.create('Person', {name: 'Cy', age: 40, best: ann});
	ann.friends.push(bob);
	ann.friends.push(cy);
});
var people = r.objects('Person');
`

func TestRealm_CreateAndQuery(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.run(peopleSetup)

	for src, want := range map[string]any{
		`people.length`:                                           int64(3),
		`people.filtered('age > $0', 26).length`:                  int64(2),
		`people.filtered('name BEGINSWITH[c] "b"')[0].name`:       "Bob",
		`people.filtered('nick == null').length`:                  int64(2),
		`people.filtered('best.name == "Ann"')[0].name`:           "Cy",
		`people.filtered('friends.@count == 2')[0].name`:          "Ann",
		`people.filtered('age < 30 OR age > 35').length`:          int64(2),
		`people.filtered('TRUEPREDICATE').length`:                 int64(3),
		`people.sorted('age')[0].name`:                            "Bob",
		`people.sorted('age', true)[0].name`:                      "Cy",
		`people.sorted([['age', true]]).map(p => p.name).join()`:  "Cy,Ann,Bob",
		`people.max('age')`:                                       int64(40),
		`people.min('age')`:                                       int64(25),
		`people.sum('age')`:                                       int64(95),
		`people.avg('age')`:                                       float64(95) / 3,
		`r.objectForPrimaryKey('Person', 'Bob').age`:              int64(25),
		`r.objectForPrimaryKey('Person', 'Nobody') === undefined`: true,
		`people.type`:                                        "object",
		`people.isValid()`:                                   true,
		`people.filtered('age > 100').isEmpty()`:             true,
		`r.objectForPrimaryKey('Person', 'Ann').tags.join()`: "a,b",
		`r.objectForPrimaryKey('Person', 'Ann').tags.type`:   "string",
		`r.objectForPrimaryKey('Person', 'Ann').friends.filtered('age > 30')[0].name`: "Cy",
		`r.objectForPrimaryKey('Person', 'Ann').keys().join()`:                        "name,age,nick,tags,friends,best",
		`r.objectForPrimaryKey('Person', 'Ann')._objectId()`:                          "Ann",
		`r.objectForPrimaryKey('Person', 'Ann').objectSchema().name`:                  "Person",
	} {
		assert.Equal(t, want, h.run(src).Export(), src)
	}
}

func TestRealm_ResultsAreLive(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.run(peopleSetup)
	h.run(`
		var adults = people.filtered('age >= 30');
		var frozen = adults.snapshot();
		r.write(function () { r.create('Person', {name: 'Di', age: 50}); });
	`)
	assert.Equal(t, int64(3), h.run(`adults.length`).Export())
	assert.Equal(t, int64(2), h.run(`frozen.length`).Export())

	h.run(`r.write(function () { r.delete(r.objectForPrimaryKey('Person', 'Di')); });`)
	assert.Equal(t, int64(2), h.run(`adults.length`).Export())
}

func TestRealm_WriteTransactions(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.run(peopleSetup)

	msg := h.fails(`people[0].age = 99`)
	assert.Contains(t, msg, "outside of a write transaction")
	msg = h.fails(`r.create('Person', {name: 'Zed', age: 1})`)
	assert.Contains(t, msg, "outside of a write transaction")

	h.run(`r.beginTransaction(); r.objectForPrimaryKey('Person', 'Bob').age = 26;`)
	assert.Equal(t, true, h.run(`r.isInTransaction`).Export())
	h.run(`r.cancelTransaction()`)
	assert.Equal(t, int64(25), h.run(`r.objectForPrimaryKey('Person', 'Bob').age`).Export())

	// a throwing write rolls back
	h.fails(`r.write(function () { r.create('Person', {name: 'Eve', age: 3}); throw new Error('stop'); })`)
	assert.Equal(t, false, h.run(`r.isInTransaction`).Export())
	assert.Equal(t, int64(3), h.run(`people.length`).Export())

	msg = h.fails(`r.write(function () { r.create('Person', {name: 'Ann', age: 1}); })`)
	assert.Contains(t, msg, "Ann")
	h.run(`r.write(function () { r.create('Person', {name: 'Ann', age: 31}, 'modified'); })`)
	assert.Equal(t, int64(31), h.run(`r.objectForPrimaryKey('Person', 'Ann').age`).Export())
}

func TestRealm_Listeners(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.run(peopleSetup)
	h.q.drain(h.vm)

	h.run(`
		var events = [];
		function before(realm, name) { events.push(name + ':' + (realm === r)); }
		r.addListener('beforenotify', before);
		r.addListener('change', function (realm, name) { events.push(name); });
		r.write(function () { r.create('Person', {name: 'Fay', age: 9}); });
	`)
	assert.Equal(t, int64(0), h.run(`events.length`).Export())
	h.q.drain(h.vm)
	assert.Equal(t, "beforenotify:true,change", h.run(`events.join()`).Export())

	h.run(`
		r.removeListener('beforenotify', before);
		r.write(function () { r.create('Person', {name: 'Gus', age: 9}); });
	`)
	h.q.drain(h.vm)
	assert.Equal(t, "beforenotify:true,change,change", h.run(`events.join()`).Export())

	assert.Contains(t, h.fails(`r.addListener('bogus', function () {})`), "Unknown event name 'bogus'")
}

func TestRealm_CloseAndClearTestState(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.run(peopleSetup)
	h.run(`var ann = r.objectForPrimaryKey('Person', 'Ann');`)

	assert.Equal(t, true, h.run(`Realm.exists('people.realm')`).Export())
	assert.Equal(t, "Test!", h.run(`Realm.Test._test()`).Export())

	h.run(`Realm.clearTestState()`)
	assert.Equal(t, false, h.run(`ann.isValid()`).Export())
	assert.Equal(t, true, h.run(`r.isClosed`).Export())
	assert.Equal(t, false, h.run(`Realm.exists('people.realm')`).Export())
	assert.Contains(t, h.fails(`r.objects('Person')`), "closed")
}

func TestRealm_SchemaErrors(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	assert.Contains(t, h.fails(`new Realm({schema: [{name: 'A', properties: 5}]})`), "A.properties must be of type 'object'")
	assert.Contains(t, h.fails(`new Realm({path: 'nope.realm', readOnly: true})`), "read-only Realm does not exist")
}

func accessToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return s
}

func TestApp_LogInAndLogOut(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	token := accessToken(t, jwt.MapClaims{"sub": "u1", "user_data": map[string]any{"plan": "pro"}})
	h.tr.respond = func(req Request) Response {
		if req.Method == "DELETE" {
			return Response{StatusCode: 204}
		}
		body, _ := json.Marshal(map[string]any{
			"user_id":       "u1",
			"access_token":  token,
			"refresh_token": "rt",
			"device_id":     "dev-1",
		})
		return Response{StatusCode: 200, Body: string(body)}
	}
	h.e.SetVersions(Versions{PackageVersion: "10.0.0", PlatformOS: "linux", PlatformVersion: "6"})

	h.run(`
		var app = new Realm.App({id: 'my-app', baseUrl: 'http://localhost:9090/'});
		var result;
		app._logIn(Realm.Credentials.emailPassword('a@b.c', 'pw'), function (user, err) { result = [user, err]; });
	`)
	require.Len(t, h.tr.requests, 1)
	req := h.tr.requests[0]
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "http://localhost:9090/api/client/v2.0/app/my-app/auth/providers/local-userpass/login", req.URL)
	var sent map[string]any
	require.NoError(t, json.Unmarshal([]byte(req.Body), &sent))
	assert.Equal(t, "a@b.c", sent["username"])
	assert.Equal(t, "linux", sent["options"].(map[string]any)["device"].(map[string]any)["platform"])

	assert.Equal(t, true, h.run(`result[1] === null`).Export())
	assert.Equal(t, "u1", h.run(`result[0].id`).Export())
	assert.Equal(t, "dev-1", h.run(`result[0].deviceId`).Export())
	assert.Equal(t, "pro", h.run(`result[0].customData.plan`).Export())
	assert.Equal(t, true, h.run(`app.currentUser === result[0] && result[0].isLoggedIn`).Export())
	assert.Equal(t, int64(1), h.run(`Object.keys(app.allUsers).length`).Export())
	assert.Equal(t, true, h.run(`app.allUsers['u1'] === result[0]`).Export())
	assert.Equal(t, true, h.run(`Realm.App.getApp('my-app') === app`).Export())

	h.run(`var out = 'pending'; result[0].logOut(function (err) { out = err; });`)
	require.Len(t, h.tr.requests, 2)
	assert.Equal(t, "DELETE", h.tr.requests[1].Method)
	assert.Equal(t, "Bearer rt", h.tr.requests[1].Headers["Authorization"])
	assert.Equal(t, true, h.run(`out === null`).Export())
	assert.Equal(t, UserLoggedOut, h.run(`result[0].state`).Export())
	assert.Equal(t, true, h.run(`app.currentUser === null || app.currentUser === undefined`).Export())
}

func TestApp_LogInFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.tr.respond = func(Request) Response {
		return Response{StatusCode: 401, Body: `{"error":"invalid username/password"}`}
	}
	h.run(`
		var app = new Realm.App('bad-app');
		var failure;
		app._logIn(Realm.Credentials.anonymous(), function (user, err) { failure = [user, err]; });
	`)
	assert.Equal(t, true, h.run(`failure[0] === null`).Export())
	assert.Equal(t, "invalid username/password", h.run(`failure[1].message`).Export())
}

func TestApp_EmailPasswordAuth(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.run(`
		var app = new Realm.App('mail-app');
		var calls = [];
		app.emailPasswordAuth.registerUser('a@b.c', 'pw', function (err) { calls.push(err); });
		app.emailPasswordAuth.resetPassword('new', 'tok', 'tid', function (err) { calls.push(err); });
	`)
	require.Len(t, h.tr.requests, 2)
	assert.True(t, strings.HasSuffix(h.tr.requests[0].URL, "/app/mail-app/auth/providers/local-userpass/register"))
	assert.True(t, strings.HasSuffix(h.tr.requests[1].URL, "/auth/providers/local-userpass/reset"))
	assert.Equal(t, true, h.run(`calls.length === 2 && calls[0] === null && calls[1] === null`).Export())
	assert.Contains(t, h.fails(`app.emailPasswordAuth.registerUser(1, 'pw', function () {})`), "email must be of type 'string'")
}

func TestApp_FetchFunctionTransport(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.run(`
		var seen;
		function fetch(request, handler) {
			seen = request;
			handler.onSuccess({statusCode: 200, headers: {}, body: '{"user_id":"u9","access_token":"x.y"}'});
		}
	`)
	require.NoError(t, h.e.SetFetch(h.vm.Get("fetch")))
	h.run(`
		var who;
		new Realm.App('fetch-app')._logIn(Realm.Credentials.anonymous(), function (u) { who = u.id; });
	`)
	assert.Equal(t, "u9", h.run(`who`).Export())
	assert.Equal(t, "POST", h.run(`seen.method`).Export())
	assert.Empty(t, h.tr.requests)

	assert.Error(t, h.e.SetFetch(h.vm.ToValue(5)))
	require.NoError(t, h.e.SetFetch(goja.Undefined()))
	h.run(`new Realm.App('fetch-app')._logIn(Realm.Credentials.anonymous(), function () {});`)
	assert.Len(t, h.tr.requests, 1)
}

func TestCredentials(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	token := accessToken(t, jwt.MapClaims{"sub": "me"})
	require.NoError(t, h.vm.Set("token", token))

	for src, want := range map[string]any{
		`Realm.Credentials.anonymous().providerType`:                                    ProviderAnonymous,
		`Realm.Credentials.emailPassword({email: 'e', password: 'p'}).payload.username`: "e",
		`Realm.Credentials.google({idToken: 'i'}).payload.id_token`:                     "i",
		`Realm.Credentials.google('code').payload.authCode`:                             "code",
		`Realm.Credentials.serverApiKey('k').providerType`:                              ProviderAPIKey,
		`Realm.Credentials.function({a: 1}).payload.a`:                                  int64(1),
		`Realm.Credentials.jwt(token).payload.token === token`:                          true,
	} {
		assert.Equal(t, want, h.run(src).Export(), src)
	}
	assert.Contains(t, h.fails(`Realm.Credentials.jwt('not-a-jwt')`), "token is not a valid JWT")
	assert.Contains(t, h.fails(`Realm.Credentials.facebook(5)`), "accessToken must be of type 'string'")
}

func TestSync_UsersAndSessions(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.run(`
		var user = Realm.Sync.User.createUser('sync-app', 'alice', 'at', 'rt');
		var changes = [];
		var r = new Realm({
			path: 'synced.realm',
			schema: [{name: 'Item', properties: {n: 'int'}}],
			sync: {user: user, partitionValue: 'p1'},
		});
		var session = r.syncSession;
		session.addConnectionNotification(function (now, old) { changes.push(old + '>' + now); });
	`)
	assert.Equal(t, "active", h.run(`session.state`).Export())
	assert.Equal(t, true, h.run(`session.isConnected()`).Export())
	assert.Equal(t, true, h.run(`session.user === user && session.config.partitionValue === 'p1'`).Export())
	assert.Equal(t, int64(1), h.run(`Realm.Sync.getAllSyncSessions(user).length`).Export())
	assert.Equal(t, true, h.run(`Realm.Sync.getSyncSession(user, 'synced.realm') === session`).Export())
	assert.Equal(t, true, h.run(`Realm.Sync._hasExistingSessions()`).Export())

	h.run(`session.pause()`)
	h.q.drain(h.vm)
	assert.Equal(t, "connected>disconnected", h.run(`changes.join()`).Export())
	assert.Equal(t, true, h.run(`Realm.Sync.getSyncSession(user, 'synced.realm') === null`).Export())
	h.run(`session.resume()`)
	h.q.drain(h.vm)
	assert.Equal(t, "connected>disconnected,disconnected>connected", h.run(`changes.join()`).Export())

	h.run(`Realm.Sync.setLogLevel('debug')`)
	assert.Equal(t, "debug", h.e.LogLevel())
	assert.Contains(t, h.fails(`Realm.Sync.setLogLevel('chatty')`), "Bad log level")
}

func TestAsyncOpen(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.run(`
		var opened, progress = 0;
		var task = Realm._asyncOpen({path: 'async.realm', schema: []}, function (realm, err) { opened = [realm, err]; });
		task.addDownloadNotification(function () { progress++; });
		var cancelled = Realm._asyncOpen({path: 'never.realm'}, function () { throw new Error('called'); });
		cancelled.cancel();
	`)
	assert.Equal(t, true, h.run(`opened === undefined`).Export())
	h.q.drain(h.vm)
	assert.Equal(t, "async.realm", h.run(`opened[0].path`).Export())
	assert.Equal(t, true, h.run(`opened[1] === null`).Export())
	assert.Equal(t, int64(1), h.run(`progress`).Export())
	assert.Equal(t, false, h.run(`Realm.exists('never.realm')`).Export())
}
