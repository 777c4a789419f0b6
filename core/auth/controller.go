package auth

import (
	"context"
	"time"

	"github.com/dgrijalva/jwt-go"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/trezcool/masomo/console/core"
	"github.com/trezcool/masomo/console/core/session"
)

var (
	NowFunc = time.Now // mockable

	// errors
	ErrNoAccessToken  = errors.New("no access token")
	ErrNoRefreshToken = errors.New("no refresh token")
	ErrEmptyToken     = errors.New("backend returned an empty token")
	ErrStaleSession   = errors.New("session changed while the request was in flight")

	msgLoginSuccess   = "Welcome back!"
	msgLoginInvalid   = "Please check the highlighted fields."
	msgNetworkFailure = "Unable to reach the server, please try again."
	msgSessionExpired = "Your session has expired, please log in again."
)

// Deps holds what a Controller needs.
type Deps struct {
	Store      *session.Store
	Backend    Backend
	Cache      QueryCache
	Navigator  Navigator
	Alerter    Alerter
	Logger     core.Logger
	Validate   *validator.Validate
	Translator ut.Translator

	// RefreshSkew is how close to expiry EnsureFresh refreshes the access token.
	RefreshSkew time.Duration
	// FetchTimeout bounds a detached profile fetch.
	FetchTimeout time.Duration
	// ProfileRetry is how long a failed profile fetch is kept before the token may be checked again.
	ProfileRetry time.Duration
}

// Controller drives the session lifecycle: login, profile confirmation, token refresh and logout.
// Besides login it is the only writer of the session.Store.
type Controller struct {
	store      *session.Store
	backend    Backend
	cache      QueryCache
	nav        Navigator
	alerts     Alerter
	logger     core.Logger
	validate   *validator.Validate
	translator ut.Translator

	refreshSkew  time.Duration
	fetchTimeout time.Duration
	profileRetry time.Duration

	flight   singleflight.Group
	profiles profileTracker
}

func NewController(deps Deps) (*Controller, error) {
	err := vala.BeginValidation().Validate(
		vala.IsNotNil(deps.Store, "Store"),
		vala.IsNotNil(deps.Backend, "Backend"),
		vala.IsNotNil(deps.Cache, "Cache"),
		vala.IsNotNil(deps.Navigator, "Navigator"),
		vala.IsNotNil(deps.Alerter, "Alerter"),
		vala.IsNotNil(deps.Logger, "Logger"),
		vala.IsNotNil(deps.Validate, "Validate"),
		vala.IsNotNil(deps.Translator, "Translator"),
	).Check()
	if err != nil {
		return nil, errors.Wrap(err, "invalid controller dependencies")
	}

	fetchTimeout := deps.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = time.Minute
	}
	profileRetry := deps.ProfileRetry
	if profileRetry <= 0 {
		profileRetry = 30 * time.Second
	}
	return &Controller{
		store:        deps.Store,
		backend:      deps.Backend,
		cache:        deps.Cache,
		nav:          deps.Navigator,
		alerts:       deps.Alerter,
		logger:       deps.Logger,
		validate:     deps.Validate,
		translator:   deps.Translator,
		refreshSkew:  deps.RefreshSkew,
		fetchTimeout: fetchTimeout,
		profileRetry: profileRetry,
	}, nil
}

func (c *Controller) Store() *session.Store {
	return c.store
}

// Login authenticates creds against the backend. On success the session is replaced,
// cached profile data is dropped and the app moves to the authenticated landing view, in that order.
// On failure the user is alerted and the session is left untouched.
func (c *Controller) Login(ctx context.Context, creds Credentials) error {
	creds.Email = core.CleanString(creds.Email, true /* lower */)
	if err := c.validate.Struct(creds); err != nil {
		c.alerts.Error(ctx, msgLoginInvalid)
		return core.TranslateValidation(err, c.translator)
	}

	res, err := c.backend.Login(ctx, creds)
	if err != nil {
		c.alerts.Error(ctx, failureMessage(err))
		return errors.Wrap(err, "logging in")
	}
	if res.Token == "" {
		c.alerts.Error(ctx, msgNetworkFailure)
		return errors.Wrap(ErrEmptyToken, "logging in")
	}

	if err = c.store.SetAuth(ctx, res.User, res.Token, res.RefreshToken, res.Permissions); err != nil {
		return errors.Wrap(err, "storing session")
	}
	c.cache.Invalidate(ProfileCacheKey)
	c.profiles.reset()

	c.logger.Info("auth: logged in", userArg(res.User))
	c.alerts.Success(ctx, msgLoginSuccess)
	c.nav.Navigate(ctx, LandingAuthenticated)
	return nil
}

// ProfileStatus reports the profile fetch outcome for the current access token.
func (c *Controller) ProfileStatus() ProfileStatus {
	return c.profiles.get(c.store.Session().AccessToken)
}

// StartProfileFetch triggers a profile fetch for the current access token and returns
// a channel that receives its outcome. Concurrent triggers for one token share a single request.
// The fetch outlives ctx cancellation; a result for a token that is no longer current is dropped.
func (c *Controller) StartProfileFetch(ctx context.Context) <-chan error {
	done := make(chan error, 1)

	token := c.store.Session().AccessToken
	if token == "" {
		done <- ErrNoAccessToken
		return done
	}
	c.profiles.markLoading(token)

	ch := c.flight.DoChan("profile:"+token, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		return nil, c.fetchProfile(fctx, token)
	})
	go func() {
		res := <-ch
		done <- res.Err
	}()
	return done
}

// FetchProfile confirms the current access token and refreshes user and permissions.
// It does not clear the session on failure; the failure is kept in ProfileStatus.
func (c *Controller) FetchProfile(ctx context.Context) error {
	select {
	case err := <-c.StartProfileFetch(ctx):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) fetchProfile(ctx context.Context, token string) error {
	prof, err := c.backend.Profile(ctx, token)
	if err != nil && core.IsUnauthorized(err) {
		sess := c.store.Session()
		if sess.AccessToken != token {
			return nil
		}
		if sess.RefreshToken != "" {
			// the access token may just be stale
			pair, rErr := c.Refresh(ctx, sess.RefreshToken)
			if rErr != nil {
				c.failProfile(token, err)
				return errors.Wrap(rErr, "refreshing stale access token")
			}
			token = pair.Token
			c.profiles.markLoading(token)
			prof, err = c.backend.Profile(ctx, token)
		}
	}
	if err != nil {
		c.failProfile(token, err)
		c.logger.Warn("auth: profile fetch failed", err)
		return errors.Wrap(err, "fetching profile")
	}

	if !c.store.ConfirmAuth(ctx, token, prof.User, prof.Permissions) {
		// logged out or token rotated meanwhile
		return nil
	}
	c.profiles.set(token, ProfileValid, nil)
	return nil
}

func (c *Controller) failProfile(token string, err error) {
	c.profiles.fail(token, err, NowFunc().Add(c.profileRetry))
}

// Refresh exchanges refreshToken (the stored one when empty) for a new token pair.
// Any failure logs the user out locally: a broken credential chain leaves nothing to trust.
func (c *Controller) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if refreshToken == "" {
		refreshToken = c.store.Session().RefreshToken
	}
	if refreshToken == "" {
		c.expire(ctx)
		return TokenPair{}, ErrNoRefreshToken
	}

	v, err, _ := c.flight.Do("refresh:"+refreshToken, func() (interface{}, error) {
		pair, err := c.backend.Refresh(ctx, refreshToken)
		if err != nil {
			return TokenPair{}, err
		}
		if pair.Token == "" {
			return TokenPair{}, ErrEmptyToken
		}
		if pair.RefreshToken == "" {
			pair.RefreshToken = refreshToken
		}
		if !c.store.RotateTokens(ctx, refreshToken, pair.Token, pair.RefreshToken) {
			// logged out meanwhile; the fresh pair belongs to nobody
			if lErr := c.backend.Logout(ctx, pair.Token, pair.RefreshToken); lErr != nil {
				c.logger.Warn("auth: revoking orphaned tokens failed", lErr)
			}
			return TokenPair{}, ErrStaleSession
		}
		return pair, nil
	})
	if errors.Cause(err) == ErrStaleSession {
		return TokenPair{}, errors.Wrap(err, "refreshing token")
	}
	if err != nil {
		c.logger.Warn("auth: token refresh failed, logging out", err)
		c.expire(ctx)
		return TokenPair{}, errors.Wrap(err, "refreshing token")
	}
	return v.(TokenPair), nil
}

// EnsureFresh refreshes the access token when it is a JWT expiring within the configured skew.
// Opaque tokens are left alone.
func (c *Controller) EnsureFresh(ctx context.Context) error {
	sess := c.store.Session()
	if sess.AccessToken == "" || sess.RefreshToken == "" {
		return nil
	}
	exp, ok := tokenExpiry(sess.AccessToken)
	if !ok || NowFunc().Add(c.refreshSkew).Before(exp) {
		return nil
	}
	_, err := c.Refresh(ctx, sess.RefreshToken)
	return err
}

// Logout asks the backend to invalidate the refresh token, then clears local state whatever
// the answer was, so a broken session can always be left.
func (c *Controller) Logout(ctx context.Context) {
	sess := c.store.Session()
	if sess.AccessToken != "" || sess.RefreshToken != "" {
		if err := c.backend.Logout(ctx, sess.AccessToken, sess.RefreshToken); err != nil {
			c.logger.Warn("auth: server logout failed", err)
		}
	}
	c.clear(ctx)
	c.logger.Info("auth: logged out", userArg(sess.User))
}

// expire clears a session whose credentials can no longer be renewed.
func (c *Controller) expire(ctx context.Context) {
	hadSession := c.store.Session().HasToken()
	c.clear(ctx)
	if hadSession {
		c.alerts.Error(ctx, msgSessionExpired)
	}
}

func (c *Controller) clear(ctx context.Context) {
	c.store.Logout(ctx)
	c.profiles.reset()
	c.cache.Clear()
	c.nav.Navigate(ctx, LandingUnauthenticated)
}

func tokenExpiry(token string) (time.Time, bool) {
	claims := new(jwt.StandardClaims)
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == 0 {
		return time.Time{}, false
	}
	return time.Unix(claims.ExpiresAt, 0), true
}

func failureMessage(err error) string {
	var cErr *core.CredentialError
	if errors.As(err, &cErr) {
		return cErr.Message
	}
	return msgNetworkFailure
}

func userArg(usr *session.User) interface{} {
	if usr == nil {
		return session.User{}
	}
	return *usr
}
