package main

import (
	"context"
	"fmt"
	"log"
	"os"

	dig_container "github.com/trezcool/masomo/console/apps/console/di/dig"
	"github.com/trezcool/masomo/console/core"
	"github.com/trezcool/masomo/console/core/auth"
	"github.com/trezcool/masomo/console/core/permission"
	"github.com/trezcool/masomo/console/core/realtime"
	"github.com/trezcool/masomo/console/core/session"
	realtimesvc "github.com/trezcool/masomo/console/services/realtime"
)

func main() {
	dig_container.LogPrefix = "CLI : "
	dig_container.LogOutput = os.Stderr

	c := dig_container.New()
	out := printer{w: os.Stderr}
	must(c.Decorate(func(auth.Alerter) auth.Alerter { return out }))
	must(c.Decorate(func(auth.Navigator) auth.Navigator { return out }))

	code := 0
	must(c.Invoke(func(
		logger core.Logger,
		closeSnapshots dig_container.CloseSnapshotsParam,
		store *session.Store,
		ctl *auth.Controller,
		routes *permission.RouteTable,
		channel *realtimesvc.Channel,
		notifier *realtime.Notifier,
	) {
		defer func() {
			if err := closeSnapshots.Close(); err != nil {
				logger.Error("Failed to close snapshot store", err)
			}
		}()

		ctx := context.Background()
		if err := store.Hydrate(ctx); err != nil {
			logger.Error(fmt.Sprintf("restoring session: %v", err), err)
		}

		cli := &commandLine{ctl: ctl, routes: routes, notifier: notifier, channel: channel, out: os.Stdout}
		if err := cli.run(ctx, os.Args[1:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			code = 1
		}
	}))
	os.Exit(code)
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
