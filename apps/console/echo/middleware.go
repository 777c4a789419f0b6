package echoconsole

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/masomo/console/core/guard"
	"github.com/trezcool/masomo/console/core/permission"
)

// guardMiddleware lets a request through only when the session is authenticated.
// A session still being confirmed gets a self-refreshing loading page.
func (s *Server) guardMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		from := ctx.Request().URL.RequestURI()
		d := s.deps.Guard.Check(ctx.Request().Context(), from)

		switch d.State {
		case guard.Loading:
			ctx.Response().Header().Set("Refresh", "1; url="+from)
			if isAPI(ctx) {
				return ctx.JSON(http.StatusAccepted, echo.Map{"state": d.State.String()})
			}
			return ctx.Render(http.StatusAccepted, "loading", view{Title: "Loading", Next: from})

		case guard.Unauthenticated:
			if isAPI(ctx) {
				return ctx.JSON(http.StatusUnauthorized, echo.Map{
					"error":    errUnauthenticated.Message,
					"reason":   d.Reason,
					"redirect": d.Redirect,
				})
			}
			return ctx.Redirect(http.StatusFound, d.Redirect)
		}
		return next(ctx)
	}
}

// permissionMiddleware never calls next when the session lacks the route's permissions,
// so nothing behind it (backend fetches included) runs.
func (s *Server) permissionMiddleware(route permission.Route) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if permission.Evaluate(route.Requirement, s.store().Session().Permissions) {
				return next(ctx)
			}
			v := s.view(route.Title)
			return ctx.Render(http.StatusForbidden, "restricted", v)
		}
	}
}

func isAPI(ctx echo.Context) bool {
	return strings.HasPrefix(ctx.Request().URL.Path, "/api/")
}
