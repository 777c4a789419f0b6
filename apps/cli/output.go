package main

import (
	"context"
	"fmt"
	"io"

	"github.com/trezcool/masomo/console/core/auth"
)

// printer shows alerts and navigation on a terminal.
type printer struct {
	w io.Writer
}

var (
	_ auth.Alerter   = printer{}
	_ auth.Navigator = printer{}
)

func (p printer) Success(_ context.Context, msg string) {
	fmt.Fprintln(p.w, msg)
}

func (p printer) Error(_ context.Context, msg string) {
	fmt.Fprintln(p.w, "error: "+msg)
}

// Navigate only reports leaving the session; the CLI has no views.
func (p printer) Navigate(_ context.Context, route string) {
	if route == auth.LandingUnauthenticated {
		fmt.Fprintln(p.w, "logged out")
	}
}
