package tests

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"

	. "github.com/trezcool/masomo/console/apps/console/echo"
	"github.com/trezcool/masomo/console/core"
	"github.com/trezcool/masomo/console/core/auth"
	"github.com/trezcool/masomo/console/core/cache"
	"github.com/trezcool/masomo/console/core/guard"
	"github.com/trezcool/masomo/console/core/permission"
	"github.com/trezcool/masomo/console/core/realtime"
	"github.com/trezcool/masomo/console/core/session"
	"github.com/trezcool/masomo/console/services/restapi"
	inmemsnap "github.com/trezcool/masomo/console/storage/snapshot/inmem"
	"github.com/trezcool/masomo/console/tests"
)

const (
	email = "jane@test.cd"
	pwd   = "pwd"
)

type app struct {
	*Server
	backend *testutil.Backend
	ctl     *auth.Controller
	store   *session.Store
	channel *fakeChannel
	logger  *testutil.Logger
}

func setup(t *testing.T, configure ...func(*core.Config)) *app {
	t.Helper()

	backend := testutil.NewBackend(t)
	backend.AddAccount(t, "1", "Jane", email, pwd, "teacher", "attendance:read", "sessions:read")

	conf := testutil.Config(backend.URL)
	for _, fn := range configure {
		fn(conf)
	}
	logger := new(testutil.Logger)
	store := session.NewStore(inmemsnap.New(), conf.Snapshot.Key, logger)
	client := restapi.NewClient(conf.API, logger)
	queries := cache.New(0)
	alerts := NewAlertBox()

	translator := core.NewTranslator()
	validate := validator.New()
	core.InitValidators(validate, translator)

	ctl, err := auth.NewController(auth.Deps{
		Store:       store,
		Backend:     restapi.NewAuthBackend(client),
		Cache:       queries,
		Navigator:   NewNavigator(),
		Alerter:     alerts,
		Logger:      logger,
		Validate:    validate,
		Translator:  translator,
		RefreshSkew: conf.Console.RefreshSkew,
	})
	if err != nil {
		t.Fatalf("NewController() failed: %v", err)
	}

	routes, err := permission.LoadRouteTable("")
	if err != nil {
		t.Fatalf("LoadRouteTable() failed: %v", err)
	}

	ch := newFakeChannel()
	notifier := realtime.NewNotifier()
	notifier.Attach(ch)

	srv, err := NewServer(ServerDeps{
		Conf:       conf,
		Logger:     logger,
		Controller: ctl,
		Guard:      guard.New(ctl, conf.Console.LoadingWait),
		Routes:     routes,
		Cache:      queries,
		Data:       client,
		Alerts:     alerts,
		Notifier:   notifier,
	})
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	return &app{Server: srv, backend: backend, ctl: ctl, store: store, channel: ch, logger: logger}
}

func (a *app) get(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)
	return rec
}

func (a *app) post(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)
	return rec
}

func (a *app) login(t *testing.T) {
	t.Helper()
	rec := a.post("/login", url.Values{"email": {email}, "password": {pwd}})
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("login failed! code = %v; body %s", rec.Code, rec.Body.String())
	}
}

// fakeChannel is a realtime.Channel the test pushes events through by hand.
type fakeChannel struct {
	mu       sync.Mutex
	handlers map[realtime.EventKind]map[int]func(realtime.Event)
	nextID   int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[realtime.EventKind]map[int]func(realtime.Event))}
}

func (c *fakeChannel) On(kind realtime.EventKind, handler func(realtime.Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	if c.handlers[kind] == nil {
		c.handlers[kind] = make(map[int]func(realtime.Event))
	}
	c.handlers[kind][id] = handler
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[kind], id)
	}
}

func (c *fakeChannel) Connected() bool { return true }

func (c *fakeChannel) handlerCount(kind realtime.EventKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers[kind])
}

func (c *fakeChannel) emit(evt realtime.Event) {
	c.mu.Lock()
	fns := make([]func(realtime.Event), 0, len(c.handlers[evt.Kind]))
	for _, fn := range c.handlers[evt.Kind] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(evt)
	}
}

func ctx() context.Context {
	return context.Background()
}
