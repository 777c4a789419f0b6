package main

import (
	"context"
	"fmt"
	"log"

	dig_container "github.com/trezcool/masomo/console/apps/console/di/dig"
	echoconsole "github.com/trezcool/masomo/console/apps/console/echo"
	"github.com/trezcool/masomo/console/core"
	"github.com/trezcool/masomo/console/core/session"
	realtimesvc "github.com/trezcool/masomo/console/services/realtime"
)

func startWithDig() {
	c := dig_container.New()

	must(c.Invoke(func(
		conf *core.Config,
		logger core.Logger,
		closeSnapshots dig_container.CloseSnapshotsParam,
		store *session.Store,
		channel *realtimesvc.Channel,
		server *echoconsole.Server,
	) {
		// =========================================================================
		// Initialize App

		logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
		defer logger.Info("Application stopped")

		defer func() {
			if err := closeSnapshots.Close(); err != nil {
				logger.Error("Failed to close snapshot store", err)
			}
		}()

		if err := store.Hydrate(context.Background()); err != nil {
			logger.Error(fmt.Sprintf("restoring session: %v", err), err)
		}

		// the realtime channel lives as long as there is an access token
		stopFollowing := channel.Follow(store)
		defer func() {
			stopFollowing()
			channel.Close()
		}()

		// =========================================================================
		// Start Console Service

		go func() {
			logger.Info(fmt.Sprintf("console listening on http://%s", conf.Console.Address))
			server.Start()
		}()

		// =========================================================================
		// Shutdown

		select {
		case err := <-server.Errors():
			logger.Error(fmt.Sprintf("server error: %v", err), err)

		case sig := <-server.ShutdownSignal():
			logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

			// give outstanding requests a deadline for completion
			ctx, cancel := context.WithTimeout(context.Background(), conf.Console.ShutdownTimeout)
			defer cancel()

			// asking listener to shut down and shed load
			if err := server.Shutdown(ctx); err != nil {
				logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

				if err = server.Close(); err != nil {
					logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
				}
			}
		}
	}))
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
