package echoconsole

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/kat-co/vala"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo/console/core"
	"github.com/trezcool/masomo/console/core/auth"
	"github.com/trezcool/masomo/console/core/cache"
	"github.com/trezcool/masomo/console/core/guard"
	"github.com/trezcool/masomo/console/core/permission"
	"github.com/trezcool/masomo/console/core/realtime"
	"github.com/trezcool/masomo/console/core/session"
)

type (
	// DataSource fetches console page data from the backend.
	DataSource interface {
		Fetch(ctx context.Context, path, accessToken string) (interface{}, error)
	}

	ServerDeps struct {
		Conf       *core.Config
		Logger     core.Logger
		Controller *auth.Controller
		Guard      *guard.Guard
		Routes     *permission.RouteTable
		Cache      *cache.QueryCache
		Data       DataSource
		Alerts     *AlertBox
		Notifier   *realtime.Notifier
	}

	Server struct {
		deps     ServerDeps
		app      *echo.Echo
		shutdown chan os.Signal
		errors   chan error
		teardown func()
	}
)

func NewServer(deps ServerDeps) (*Server, error) {
	err := vala.BeginValidation().Validate(
		vala.IsNotNil(deps.Conf, "Conf"),
		vala.IsNotNil(deps.Logger, "Logger"),
		vala.IsNotNil(deps.Controller, "Controller"),
		vala.IsNotNil(deps.Guard, "Guard"),
		vala.IsNotNil(deps.Routes, "Routes"),
		vala.IsNotNil(deps.Cache, "Cache"),
		vala.IsNotNil(deps.Data, "Data"),
		vala.IsNotNil(deps.Alerts, "Alerts"),
		vala.IsNotNil(deps.Notifier, "Notifier"),
	).Check()
	if err != nil {
		return nil, errors.Wrap(err, "invalid server dependencies")
	}

	s := &Server{
		deps:     deps,
		app:      echo.New(),
		shutdown: make(chan os.Signal, 1),
		errors:   make(chan error, 1),
	}
	if err = s.setup(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) setup() error {
	conf := s.deps.Conf
	testMode := conf.Env == "TEST"

	rdr, err := newRenderer(conf.Debug || testMode)
	if err != nil {
		return errors.Wrap(err, "loading templates")
	}
	s.app.Renderer = rdr

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !testMode {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || testMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.Use(navigationMiddleware)

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.store(), s.signalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", s.home)
	s.app.GET("/login", s.loginPage)
	s.app.POST("/login", s.login)
	s.app.POST("/logout", s.logout)

	// protected: the guard runs first, then the route's permission requirement
	for _, route := range s.deps.Routes.Routes {
		s.app.GET(route.Path, s.page(route), s.guardMiddleware, s.permissionMiddleware(route))
	}
	s.app.GET("/api/session", s.sessionInfo, s.guardMiddleware)
	s.app.GET("/api/alerts", s.alerts, s.guardMiddleware)
	s.app.RouteNotFound("/*", func(echo.Context) error { return errHttpNotFound })

	s.teardown = s.deps.Notifier.Mount(s.deps.Alerts.PresentEvent)
	return nil
}

func (s *Server) Start() {
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	if err := s.app.Start(s.deps.Conf.Console.Address); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.teardown()
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	s.teardown()
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *Server) store() *session.Store {
	return s.deps.Controller.Store()
}

// view prepares the data shared by every page: current user, allowed navigation and pending alerts.
func (s *Server) view(title string) view {
	sess := s.store().Session()
	return view{
		Title:  title,
		User:   sess.User,
		Nav:    s.deps.Routes.Allowed(sess.Permissions),
		Alerts: s.deps.Alerts.Drain(),
	}
}
