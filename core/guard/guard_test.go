package guard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo/console/core/auth"
	"github.com/trezcool/masomo/console/core/session"
	inmemsnap "github.com/trezcool/masomo/console/storage/snapshot/inmem"
	"github.com/trezcool/masomo/console/tests"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want Decision
	}{
		{name: "loading wins", in: Input{Loading: true}, want: Decision{State: Loading}},
		{name: "loading with token", in: Input{Loading: true, HasToken: true, ProfileFailed: true}, want: Decision{State: Loading}},
		{name: "no token", in: Input{}, want: Decision{State: Unauthenticated, Reason: ReasonNoToken}},
		{name: "no token but flagged", in: Input{Authenticated: true}, want: Decision{State: Unauthenticated, Reason: ReasonNoToken}},
		{name: "unconfirmed token, profile failed", in: Input{HasToken: true, ProfileFailed: true}, want: Decision{State: Unauthenticated, Reason: ReasonProfileRejected}},
		{name: "unconfirmed token, no failure", in: Input{HasToken: true}, want: Decision{State: Authenticated}},
		{name: "authenticated", in: Input{HasToken: true, Authenticated: true}, want: Decision{State: Authenticated}},
		{name: "authenticated, refetch failed", in: Input{HasToken: true, Authenticated: true, ProfileFailed: true}, want: Decision{State: Authenticated}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.in))
		})
	}
}

func TestLoginLocation(t *testing.T) {
	assert.Equal(t, "/login", LoginLocation(""))
	assert.Equal(t, "/login", LoginLocation("/login"))
	assert.Equal(t, "/login?next=%2Fusers%3Fpage%3D2", LoginLocation("/users?page=2"))
}

func TestSafeNext(t *testing.T) {
	tests := []struct {
		next string
		want string
	}{
		{next: "", want: "/dashboard"},
		{next: "/users?page=2", want: "/users?page=2"},
		{next: "https://evil.test/x", want: "/dashboard"},
		{next: "//evil.test", want: "/dashboard"},
		{next: "users", want: "/dashboard"},
		{next: "/", want: "/dashboard"},
		{next: "/\\evil.test", want: "/dashboard"},
		{next: "/\\/evil.test", want: "/dashboard"},
		{next: "/users\r\nSet-Cookie: x=1", want: "/dashboard"},
		{next: "/\tevil.test", want: "/dashboard"},
	}
	for _, tt := range tests {
		t.Run(tt.next, func(t *testing.T) {
			assert.Equal(t, tt.want, SafeNext(tt.next))
		})
	}
}

// fakeLifecycle confirms or rejects the stored token after delay.
type fakeLifecycle struct {
	store   *session.Store
	delay   time.Duration
	reject  bool
	mu      sync.Mutex
	status  auth.ProfileStatus
	fetches int
}

func (f *fakeLifecycle) Store() *session.Store { return f.store }

func (f *fakeLifecycle) ProfileStatus() auth.ProfileStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeLifecycle) EnsureFresh(context.Context) error { return nil }

func (f *fakeLifecycle) StartProfileFetch(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	f.mu.Lock()
	f.fetches++
	f.status = auth.ProfileStatus{State: auth.ProfileLoading}
	f.mu.Unlock()

	go func() {
		time.Sleep(f.delay)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.reject {
			f.status = auth.ProfileStatus{State: auth.ProfileInvalid, Err: auth.ErrNoAccessToken}
			done <- auth.ErrNoAccessToken
			return
		}
		sess := f.store.Session()
		_ = f.store.SetAuth(ctx, &session.User{ID: "1"}, sess.AccessToken, sess.RefreshToken, nil)
		f.status = auth.ProfileStatus{State: auth.ProfileValid}
		done <- nil
	}()
	return done
}

func TestGuard_Check(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		token       string
		delay       time.Duration
		reject      bool
		wantState   State
		wantRedir   string
		wantFetches int
	}{
		{name: "no token", wantState: Unauthenticated, wantRedir: "/login?next=%2Fusers"},
		{name: "token confirmed in time", token: "t", wantState: Authenticated, wantFetches: 1},
		{name: "token rejected", token: "t", reject: true, wantState: Unauthenticated, wantRedir: "/login?next=%2Fusers", wantFetches: 1},
		{name: "slow profile", token: "t", delay: 200 * time.Millisecond, wantState: Loading, wantFetches: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := session.NewStore(inmemsnap.New(), "k", new(testutil.Logger))
			if tt.token != "" {
				store.SetAccessToken(ctx, tt.token)
			}
			lc := &fakeLifecycle{store: store, delay: tt.delay, reject: tt.reject}
			g := New(lc, 50*time.Millisecond)

			d := g.Check(ctx, "/users")
			assert.Equal(t, tt.wantState, d.State)
			assert.Equal(t, tt.wantRedir, d.Redirect)
			assert.Equal(t, tt.wantFetches, lc.fetches)
		})
	}
}

func TestGuard_Check_confirmedSessionSkipsFetch(t *testing.T) {
	ctx := context.Background()
	store := session.NewStore(inmemsnap.New(), "k", new(testutil.Logger))
	require.NoError(t, store.SetAuth(ctx, &session.User{ID: "1"}, "t", "", nil))

	lc := &fakeLifecycle{store: store, status: auth.ProfileStatus{State: auth.ProfileValid}}
	d := New(lc, time.Second).Check(ctx, "/dashboard")

	assert.Equal(t, Authenticated, d.State)
	assert.Equal(t, 0, lc.fetches)
}

func TestGuard_Check_failedProfileIsRetried(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	tests := []struct {
		name        string
		retryAt     time.Time
		wantFetches int
	}{
		{name: "backing off", retryAt: now.Add(time.Minute)},
		{name: "retry due", retryAt: now.Add(-time.Second), wantFetches: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := session.NewStore(inmemsnap.New(), "k", new(testutil.Logger))
			require.NoError(t, store.SetAuth(ctx, &session.User{ID: "1"}, "t", "", nil))

			lc := &fakeLifecycle{store: store, status: auth.ProfileStatus{
				State:   auth.ProfileInvalid,
				Err:     errors.New("unreachable"),
				RetryAt: tt.retryAt,
			}}
			d := New(lc, time.Second).Check(ctx, "/dashboard")

			assert.Equal(t, Authenticated, d.State)
			assert.Equal(t, tt.wantFetches, lc.fetches)
		})
	}
}
