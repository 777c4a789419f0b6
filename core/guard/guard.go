package guard

import (
	"context"
	"net/url"
	"time"
	"unicode"

	"github.com/trezcool/masomo/console/core/auth"
	"github.com/trezcool/masomo/console/core/session"
)

// State is what a protected view should do.
type State int

const (
	Loading State = iota
	Authenticated
	Unauthenticated
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Authenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// Reasons attached to an Unauthenticated decision.
const (
	ReasonNoToken         = "no-token"
	ReasonProfileRejected = "profile-rejected"
)

// Input is everything the decision depends on.
type Input struct {
	Loading       bool
	HasToken      bool
	Authenticated bool
	ProfileFailed bool
}

type Decision struct {
	State  State
	Reason string
	// Redirect is the login location carrying the originating path, set when Unauthenticated.
	Redirect string
}

// Decide applies the guard rule:
// loading → Loading; no token → Unauthenticated; unconfirmed token whose profile fetch failed → Unauthenticated;
// anything else → Authenticated.
func Decide(in Input) Decision {
	switch {
	case in.Loading:
		return Decision{State: Loading}
	case !in.HasToken:
		return Decision{State: Unauthenticated, Reason: ReasonNoToken}
	case !in.Authenticated && in.ProfileFailed:
		return Decision{State: Unauthenticated, Reason: ReasonProfileRejected}
	default:
		return Decision{State: Authenticated}
	}
}

// LoginLocation builds the login URL that returns the user to from after logging in.
func LoginLocation(from string) string {
	if from == "" || from == auth.LandingUnauthenticated {
		return auth.LandingUnauthenticated
	}
	return auth.LandingUnauthenticated + "?next=" + url.QueryEscape(from)
}

// SafeNext returns the post-login destination, refusing anything that is not a local path.
// Browsers read a backslash as a slash, so "/\host" is as foreign as "//host".
func SafeNext(next string) string {
	if len(next) < 2 || next[0] != '/' || next[1] == '/' || next[1] == '\\' || hasControl(next) {
		return auth.LandingAuthenticated
	}
	u, err := url.Parse(next)
	if err != nil || u.IsAbs() || u.Host != "" {
		return auth.LandingAuthenticated
	}
	return next
}

func hasControl(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}

// needsFetch reports whether the token still has to be confirmed, or a failed confirmation may be retried.
func needsFetch(status auth.ProfileStatus) bool {
	switch status.State {
	case auth.ProfileIdle, auth.ProfileLoading:
		return true
	default:
		return status.Retryable(auth.NowFunc())
	}
}

// Lifecycle is the part of auth.Controller the guard drives.
type Lifecycle interface {
	Store() *session.Store
	ProfileStatus() auth.ProfileStatus
	StartProfileFetch(ctx context.Context) <-chan error
	EnsureFresh(ctx context.Context) error
}

// Guard evaluates protected requests against the live session.
type Guard struct {
	lc   Lifecycle
	wait time.Duration
}

// New returns a Guard that waits up to wait for a pending profile fetch before answering Loading.
func New(lc Lifecycle, wait time.Duration) *Guard {
	return &Guard{lc: lc, wait: wait}
}

// Check decides for a request to from. An unconfirmed token triggers the profile fetch.
func (g *Guard) Check(ctx context.Context, from string) Decision {
	if g.lc.Store().Session().HasToken() {
		// a failed refresh logs out; the decision below then sees no token
		_ = g.lc.EnsureFresh(ctx)
	}

	sess := g.lc.Store().Session()
	status := g.lc.ProfileStatus()
	if sess.HasToken() && needsFetch(status) {
		done := g.lc.StartProfileFetch(ctx)
		timer := time.NewTimer(g.wait)
		select {
		case <-done:
		case <-timer.C:
		case <-ctx.Done():
		}
		timer.Stop()
		sess = g.lc.Store().Session()
		status = g.lc.ProfileStatus()
	}

	d := Decide(Input{
		Loading:       status.State == auth.ProfileLoading,
		HasToken:      sess.HasToken(),
		Authenticated: sess.IsAuthenticated,
		ProfileFailed: status.State == auth.ProfileInvalid,
	})
	if d.State == Unauthenticated {
		d.Redirect = LoginLocation(from)
	}
	return d
}
