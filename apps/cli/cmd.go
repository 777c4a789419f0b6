package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/trezcool/masomo/console/core/auth"
	"github.com/trezcool/masomo/console/core/permission"
	"github.com/trezcool/masomo/console/core/realtime"
	"github.com/trezcool/masomo/console/core/session"
)

var (
	readPasswordFunc = term.ReadPassword // mockable
	notifyContext    = signal.NotifyContext

	errNoPassword = errors.New("password is required")
	errDenied     = errors.New("permission denied")
)

// Follower keeps a realtime channel connected while the store holds a token.
type Follower interface {
	Follow(store *session.Store) (cancel func())
	Close()
}

type commandLine struct {
	ctl      *auth.Controller
	routes   *permission.RouteTable
	notifier *realtime.Notifier
	channel  Follower
	out      io.Writer
}

func (cli *commandLine) store() *session.Store {
	return cli.ctl.Store()
}

func (cli *commandLine) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "masomo",
		Short:         "Masomo console command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(cli.out)
	root.SetErr(cli.out)

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Log in; the password is prompted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			return cli.login(cmd.Context(), email)
		},
	}
	loginCmd.Flags().StringP("email", "e", "", "Email")
	_ = loginCmd.MarkFlagRequired("email")

	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "Log out and forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli.ctl.Logout(cmd.Context())
			return nil
		},
	}

	whoamiCmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the current user and permissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.whoami(cmd.Context())
		},
	}

	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Renew the access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := cli.ctl.Refresh(cmd.Context(), ""); err != nil {
				return err
			}
			cmd.Println("token refreshed")
			return nil
		},
	}

	canCmd := &cobra.Command{
		Use:   "can PERMISSION...",
		Short: "Check whether the current session holds permissions (any of them, or all with --all)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool("all")
			return cli.can(args, all)
		},
	}
	canCmd.Flags().Bool("all", false, "Require every permission")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Print realtime events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := notifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return cli.watch(ctx)
		},
	}

	root.AddCommand(loginCmd, logoutCmd, whoamiCmd, refreshCmd, canCmd, watchCmd)
	return root
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	root := cli.rootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func (cli *commandLine) login(ctx context.Context, email string) error {
	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return errors.Wrap(err, "reading password")
	}
	if len(pwd) == 0 {
		return errNoPassword
	}
	return cli.ctl.Login(ctx, auth.Credentials{Email: email, Password: string(pwd)})
}

func (cli *commandLine) whoami(ctx context.Context) error {
	sess := cli.store().Session()
	if !sess.HasToken() {
		return auth.ErrNoAccessToken
	}
	if err := cli.ctl.EnsureFresh(ctx); err != nil {
		return err
	}
	if err := cli.ctl.FetchProfile(ctx); err != nil {
		return err
	}

	sess = cli.store().Session()
	if sess.User != nil {
		fmt.Fprintf(cli.out, "%s <%s>\n", sess.User.Name, sess.User.Email)
		if sess.User.Role != "" {
			fmt.Fprintf(cli.out, "role: %s\n", sess.User.Role)
		}
	}
	fmt.Fprintf(cli.out, "permissions: %s\n", strings.Join(sess.Permissions.Names(), ", "))

	nav := make([]string, 0)
	for _, route := range cli.routes.Allowed(sess.Permissions) {
		nav = append(nav, route.Path)
	}
	fmt.Fprintf(cli.out, "sections: %s\n", strings.Join(nav, " "))
	return nil
}

func (cli *commandLine) can(perms []string, all bool) error {
	req := permission.RequireAny(perms...)
	if all {
		req = permission.RequireAll(perms...)
	}
	if !permission.Evaluate(req, cli.store().Session().Permissions) {
		fmt.Fprintf(cli.out, "denied: %s\n", req)
		return errDenied
	}
	fmt.Fprintf(cli.out, "allowed: %s\n", req)
	return nil
}

func (cli *commandLine) watch(ctx context.Context) error {
	if !cli.store().Session().HasToken() {
		return auth.ErrNoAccessToken
	}

	teardown := cli.notifier.Mount(func(evt realtime.Event) {
		fmt.Fprintf(cli.out, "%s %s %s\n", evt.Timestamp.Format("15:04:05"), evt.Kind, describe(evt))
	})
	defer teardown()

	stop := cli.channel.Follow(cli.store())
	defer func() {
		stop()
		cli.channel.Close()
	}()

	<-ctx.Done()
	return nil
}

func describe(evt realtime.Event) string {
	p, ok := evt.Payload.(realtime.SessionForceEnded)
	if !ok {
		return ""
	}
	out := p.StudentName
	if p.GradeName != "" {
		out += " (" + p.GradeName + ")"
	}
	if p.Reason != "" {
		out += ": " + p.Reason
	}
	return out
}
