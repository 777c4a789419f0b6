package echoconsole

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo/console/core"
	"github.com/trezcool/masomo/console/core/auth"
	"github.com/trezcool/masomo/console/core/guard"
	"github.com/trezcool/masomo/console/core/permission"
)

var (
	msgFetchFailed = "Unable to load this page, please try again."
)

type sessionResponse struct {
	User            interface{} `json:"user"`
	Permissions     interface{} `json:"permissions"`
	IsAuthenticated bool        `json:"isAuthenticated"`
	Profile         string      `json:"profile"`
	Realtime        bool        `json:"realtime"`
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.Redirect(http.StatusFound, auth.LandingAuthenticated)
}

func (s *Server) loginPage(ctx echo.Context) error {
	next := ctx.QueryParam("next")
	if s.store().Session().IsAuthenticated {
		return ctx.Redirect(http.StatusFound, guard.SafeNext(next))
	}
	v := view{Title: "Log in", Next: next, Alerts: s.deps.Alerts.Drain()}
	return ctx.Render(http.StatusOK, "login", v)
}

func (s *Server) login(ctx echo.Context) error {
	creds := auth.Credentials{
		Email:    ctx.FormValue("email"),
		Password: ctx.FormValue("password"),
	}
	next := ctx.FormValue("next")

	if err := s.deps.Controller.Login(ctx.Request().Context(), creds); err != nil {
		v := view{Title: "Log in", Next: next, Email: creds.Email}
		code := http.StatusServiceUnavailable

		var vErr *core.ValidationError
		switch {
		case errors.As(err, &vErr):
			code = http.StatusBadRequest
			v.Errors = make(map[string]string, len(vErr.Fields))
			for _, fErr := range vErr.Fields {
				v.Errors[fErr.Field] = fErr.Error
			}
		case core.IsCredential(err):
			code = http.StatusUnauthorized
		}
		v.Alerts = s.deps.Alerts.Drain()
		return ctx.Render(code, "login", v)
	}

	target := auth.LandingAuthenticated
	if next != "" {
		target = guard.SafeNext(next)
	} else if to := navigatedTo(ctx); to != "" {
		target = to
	}
	return ctx.Redirect(http.StatusSeeOther, target)
}

func (s *Server) logout(ctx echo.Context) error {
	s.deps.Controller.Logout(ctx.Request().Context())

	target := navigatedTo(ctx)
	if target == "" {
		target = auth.LandingUnauthenticated
	}
	return ctx.Redirect(http.StatusSeeOther, target)
}

// page renders a protected console page backed by route.Backend.
func (s *Server) page(route permission.Route) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		v := s.view(route.Title)
		if route.Backend == "" {
			return ctx.Render(http.StatusOK, "page", v)
		}

		data, err := s.fetch(ctx.Request().Context(), route.Backend)
		if err != nil {
			if !s.store().Session().HasToken() {
				// the session could not be renewed and was cleared
				return ctx.Redirect(http.StatusFound, guard.LoginLocation(ctx.Request().URL.RequestURI()))
			}
			if !core.IsNetwork(err) && !core.IsCredential(err) {
				return errors.Wrapf(err, "fetching %s", route.Backend)
			}
			s.deps.Logger.Warn("console: page data unavailable", err)
			v.Error = msgFetchFailed
			return ctx.Render(http.StatusBadGateway, "page", v)
		}

		pretty, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return errors.Wrap(err, "encoding page data")
		}
		v.Data = string(pretty)
		return ctx.Render(http.StatusOK, "page", v)
	}
}

// fetch loads backend data through the query cache. A rejected access token is refreshed once.
func (s *Server) fetch(ctx context.Context, path string) (interface{}, error) {
	if data, ok := s.deps.Cache.Get(path); ok {
		return data, nil
	}

	data, err := s.deps.Data.Fetch(ctx, path, s.store().Session().AccessToken)
	if err != nil && core.IsUnauthorized(err) {
		pair, rErr := s.deps.Controller.Refresh(ctx, "")
		if rErr != nil {
			return nil, rErr
		}
		data, err = s.deps.Data.Fetch(ctx, path, pair.Token)
	}
	if err != nil {
		return nil, err
	}
	s.deps.Cache.Set(path, data)
	return data, nil
}

func (s *Server) sessionInfo(ctx echo.Context) error {
	sess := s.store().Session()
	return ctx.JSON(http.StatusOK, sessionResponse{
		User:            sess.User,
		Permissions:     sess.Permissions,
		IsAuthenticated: sess.IsAuthenticated,
		Profile:         s.deps.Controller.ProfileStatus().State.String(),
		Realtime:        s.deps.Notifier.Connected(),
	})
}

func (s *Server) alerts(ctx echo.Context) error {
	alerts := s.deps.Alerts.Drain()
	if alerts == nil {
		alerts = []Alert{}
	}
	return ctx.JSON(http.StatusOK, alerts)
}
