package echoconsole

import (
	"context"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/masomo/console/core/auth"
)

type navKey struct{}

// navigation records where the session lifecycle sent the current request.
type navigation struct {
	mu    sync.Mutex
	route string
}

func (n *navigation) get() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.route
}

// Navigator implements auth.Navigator for the console: navigation is recorded on the
// request context and turned into a redirect by the handler.
type Navigator struct{}

var _ auth.Navigator = Navigator{}

func NewNavigator() Navigator {
	return Navigator{}
}

func (Navigator) Navigate(ctx context.Context, route string) {
	if n, ok := ctx.Value(navKey{}).(*navigation); ok {
		n.mu.Lock()
		n.route = route
		n.mu.Unlock()
	}
}

func navigationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		req := ctx.Request()
		ctx.SetRequest(req.WithContext(context.WithValue(req.Context(), navKey{}, new(navigation))))
		return next(ctx)
	}
}

// navigatedTo returns the route the lifecycle navigated to during this request, if any.
func navigatedTo(ctx echo.Context) string {
	if n, ok := ctx.Request().Context().Value(navKey{}).(*navigation); ok {
		return n.get()
	}
	return ""
}
