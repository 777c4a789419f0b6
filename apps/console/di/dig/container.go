package dig_container

import (
	"io"
	"log"
	"os"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoconsole "github.com/trezcool/masomo/console/apps/console/echo"
	"github.com/trezcool/masomo/console/core"
	"github.com/trezcool/masomo/console/core/auth"
	"github.com/trezcool/masomo/console/core/cache"
	"github.com/trezcool/masomo/console/core/guard"
	"github.com/trezcool/masomo/console/core/permission"
	"github.com/trezcool/masomo/console/core/realtime"
	"github.com/trezcool/masomo/console/core/session"
	logsvc "github.com/trezcool/masomo/console/services/logger"
	realtimesvc "github.com/trezcool/masomo/console/services/realtime"
	"github.com/trezcool/masomo/console/services/restapi"
	"github.com/trezcool/masomo/console/storage"
)

const queryCacheTTL = 5 * time.Minute

type (
	SnapshotsResult struct {
		dig.Out
		Snapshotter session.Snapshotter
		Close       func() error `name:"closeSnapshots"`
	}

	// CloseSnapshotsParam releases the snapshot store on shutdown.
	CloseSnapshotsParam struct {
		dig.In
		Close func() error `name:"closeSnapshots"`
	}

	ControllerParams struct {
		dig.In
		Conf       *core.Config
		Store      *session.Store
		Backend    auth.Backend
		Cache      *cache.QueryCache
		Navigator  auth.Navigator
		Alerter    auth.Alerter
		Logger     core.Logger
		Validate   *validator.Validate
		Translator ut.Translator
	}

	ServerParams struct {
		dig.In
		Conf       *core.Config
		Logger     core.Logger
		Controller *auth.Controller
		Guard      *guard.Guard
		Routes     *permission.RouteTable
		Cache      *cache.QueryCache
		Client     *restapi.Client
		Alerts     *echoconsole.AlertBox
		Notifier   *realtime.Notifier
	}
)

var (
	// LogPrefix is prepended to every std log line.
	LogPrefix = "CONSOLE : "
	LogOutput io.Writer = os.Stdout
)

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(LogOutput, LogPrefix, log.LstdFlags)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")
	return logger
}

func newValidator(translator ut.Translator) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	return validate
}

func newSnapshots(conf *core.Config) (SnapshotsResult, error) {
	snaps, closeFn, err := storage.OpenSnapshotter(conf.Snapshot)
	if err != nil {
		return SnapshotsResult{}, errors.Wrap(err, "opening snapshot store")
	}
	return SnapshotsResult{Snapshotter: snaps, Close: closeFn}, nil
}

func newStore(conf *core.Config, snaps session.Snapshotter, logger core.Logger) *session.Store {
	return session.NewStore(snaps, conf.Snapshot.Key, logger)
}

func newClient(conf *core.Config, logger core.Logger) *restapi.Client {
	return restapi.NewClient(conf.API, logger)
}

func newBackend(client *restapi.Client) auth.Backend {
	return restapi.NewAuthBackend(client)
}

func newQueryCache() *cache.QueryCache {
	return cache.New(queryCacheTTL)
}

func newAlerter(box *echoconsole.AlertBox) auth.Alerter {
	return box
}

func newNavigator() auth.Navigator {
	return echoconsole.NewNavigator()
}

func newController(p ControllerParams) (*auth.Controller, error) {
	return auth.NewController(auth.Deps{
		Store:        p.Store,
		Backend:      p.Backend,
		Cache:        p.Cache,
		Navigator:    p.Navigator,
		Alerter:      p.Alerter,
		Logger:       p.Logger,
		Validate:     p.Validate,
		Translator:   p.Translator,
		RefreshSkew:  p.Conf.Console.RefreshSkew,
		FetchTimeout: p.Conf.API.Timeout * time.Duration(p.Conf.API.RetryAttempts+1),
		ProfileRetry: p.Conf.Console.ProfileRetry,
	})
}

func newGuard(conf *core.Config, ctl *auth.Controller) *guard.Guard {
	return guard.New(ctl, conf.Console.LoadingWait)
}

func newChannel(conf *core.Config, logger core.Logger, ctl *auth.Controller) *realtimesvc.Channel {
	ch := realtimesvc.NewChannel(conf.RealtimeURL(), conf.Realtime.ReconnectDelay, logger)
	ch.OnAuthFailure = ctl.Logout
	return ch
}

func newNotifier(ch *realtimesvc.Channel) *realtime.Notifier {
	n := realtime.NewNotifier()
	n.Attach(ch)
	return n
}

func newRouteTable(conf *core.Config) (*permission.RouteTable, error) {
	return permission.LoadRouteTable(conf.Console.RoutesFile)
}

func newServer(p ServerParams) (*echoconsole.Server, error) {
	return echoconsole.NewServer(echoconsole.ServerDeps{
		Conf:       p.Conf,
		Logger:     p.Logger,
		Controller: p.Controller,
		Guard:      p.Guard,
		Routes:     p.Routes,
		Cache:      p.Cache,
		Data:       p.Client,
		Alerts:     p.Alerts,
		Notifier:   p.Notifier,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(newValidator))
	must(c.Provide(newSnapshots))
	must(c.Provide(newStore))
	must(c.Provide(newClient))
	must(c.Provide(newBackend))
	must(c.Provide(newQueryCache))
	must(c.Provide(echoconsole.NewAlertBox))
	must(c.Provide(newAlerter))
	must(c.Provide(newNavigator))
	must(c.Provide(newController))
	must(c.Provide(newGuard))
	must(c.Provide(newChannel))
	must(c.Provide(newNotifier))
	must(c.Provide(newRouteTable))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
