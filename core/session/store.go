package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo/console/core"
)

var (
	// errors
	ErrSnapshotNotFound = errors.New("session snapshot not found")
	ErrEmptyAccessToken = errors.New("access token is required to authenticate")

	persistTimeout = 5 * time.Second
)

// Snapshotter is the durable keyed storage a Store mirrors itself to.
// Load returns ErrSnapshotNotFound when no snapshot exists for key.
type Snapshotter interface {
	Load(ctx context.Context, key string) (Snapshot, error)
	Save(ctx context.Context, key string, snap Snapshot) error
	Delete(ctx context.Context, key string) error
}

// Store is the single source of truth for the current Session.
// All mutation goes through its mutators; readers get immutable copies.
type Store struct {
	mu        sync.Mutex
	current   Session
	snapshots Snapshotter
	key       string
	logger    core.Logger

	lmu       sync.Mutex
	listeners map[int]func(Session)
	nextID    int
}

func NewStore(snapshots Snapshotter, key string, logger core.Logger) *Store {
	return &Store{
		current:   Session{Permissions: NewPermissionSet()},
		snapshots: snapshots,
		key:       key,
		logger:    logger,
		listeners: make(map[int]func(Session)),
	}
}

// Hydrate restores the Session from the durable snapshot. A missing snapshot leaves the store empty.
func (s *Store) Hydrate(ctx context.Context) error {
	snap, err := s.snapshots.Load(ctx, s.key)
	if err != nil {
		if errors.Cause(err) == ErrSnapshotNotFound {
			return nil
		}
		return errors.Wrap(err, "loading session snapshot")
	}
	s.mu.Lock()
	s.current = snap.Session()
	sess := s.current
	s.mu.Unlock()

	s.notify(sess)
	return nil
}

// Session returns the current snapshot.
func (s *Store) Session() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SetAuth replaces the whole Session after a verified login or profile confirmation.
func (s *Store) SetAuth(ctx context.Context, usr *User, accessToken, refreshToken string, perms []string) error {
	if accessToken == "" {
		return ErrEmptyAccessToken
	}
	s.update(ctx, func(Session) Session {
		return Session{
			User:            copyUser(usr),
			AccessToken:     accessToken,
			RefreshToken:    refreshToken,
			Permissions:     NewPermissionSet(perms...),
			IsAuthenticated: true,
		}
	})
	return nil
}

// SetAccessToken replaces the access token. Clearing it also drops the authenticated flag.
func (s *Store) SetAccessToken(ctx context.Context, token string) {
	s.update(ctx, func(sess Session) Session {
		sess.AccessToken = token
		if token == "" {
			sess.IsAuthenticated = false
		}
		return sess
	})
}

func (s *Store) SetRefreshToken(ctx context.Context, token string) {
	s.update(ctx, func(sess Session) Session {
		sess.RefreshToken = token
		return sess
	})
}

// SetTokens replaces both tokens in a single mutation.
func (s *Store) SetTokens(ctx context.Context, accessToken, refreshToken string) {
	s.update(ctx, func(sess Session) Session {
		sess.AccessToken = accessToken
		sess.RefreshToken = refreshToken
		if accessToken == "" {
			sess.IsAuthenticated = false
		}
		return sess
	})
}

// RotateTokens replaces both tokens only while the session still holds oldRefresh.
// It reports whether the rotation was applied.
func (s *Store) RotateTokens(ctx context.Context, oldRefresh, accessToken, refreshToken string) bool {
	if oldRefresh == "" || accessToken == "" {
		return false
	}
	return s.updateIf(ctx, func(sess Session) bool { return sess.RefreshToken == oldRefresh }, func(sess Session) Session {
		sess.AccessToken = accessToken
		sess.RefreshToken = refreshToken
		return sess
	})
}

// ConfirmAuth marks the session authenticated with usr and perms only while it still holds accessToken.
// It reports whether the confirmation was applied.
func (s *Store) ConfirmAuth(ctx context.Context, accessToken string, usr *User, perms []string) bool {
	if accessToken == "" {
		return false
	}
	return s.updateIf(ctx, func(sess Session) bool { return sess.AccessToken == accessToken }, func(sess Session) Session {
		sess.User = copyUser(usr)
		sess.Permissions = NewPermissionSet(perms...)
		sess.IsAuthenticated = true
		return sess
	})
}

func (s *Store) SetUser(ctx context.Context, usr *User) {
	s.update(ctx, func(sess Session) Session {
		sess.User = copyUser(usr)
		return sess
	})
}

func (s *Store) SetPermissions(ctx context.Context, perms []string) {
	s.update(ctx, func(sess Session) Session {
		sess.Permissions = NewPermissionSet(perms...)
		return sess
	})
}

// Logout erases the durable snapshot and then resets the Session. Calling it again is a no-op.
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	// the snapshot goes first so a concurrent Hydrate cannot bring the old session back
	if err := s.deleteSnapshot(ctx); err != nil {
		s.logger.Error("session: deleting snapshot failed", err)
	}
	s.current = Session{Permissions: NewPermissionSet()}
	sess := s.current
	s.mu.Unlock()

	s.notify(sess)
}

func (s *Store) HasPermission(name string) bool {
	return s.Session().Permissions.Has(name)
}

func (s *Store) HasRole(role string) bool {
	usr := s.Session().User
	return usr != nil && usr.Role == role
}

// OnChange registers fn to be called with every new Session. The returned func unregisters it.
func (s *Store) OnChange(fn func(Session)) (cancel func()) {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.lmu.Lock()
			delete(s.listeners, id)
			s.lmu.Unlock()
		})
	}
}

func (s *Store) update(ctx context.Context, mutate func(Session) Session) {
	s.updateIf(ctx, nil, mutate)
}

// updateIf applies mutate when cond holds for the current Session. Both run under s.mu.
func (s *Store) updateIf(ctx context.Context, cond func(Session) bool, mutate func(Session) Session) bool {
	s.mu.Lock()
	if cond != nil && !cond(s.current) {
		s.mu.Unlock()
		return false
	}
	next := mutate(s.current)
	if next.Permissions.names == nil {
		next.Permissions = NewPermissionSet()
	}
	s.current = next
	if err := s.saveSnapshot(ctx, next); err != nil {
		s.logger.Error("session: saving snapshot failed", err)
	}
	s.mu.Unlock()

	s.notify(next)
	return true
}

func (s *Store) saveSnapshot(ctx context.Context, sess Session) error {
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	return errors.Wrap(s.snapshots.Save(ctx, s.key, sess.Snapshot()), "saving session snapshot")
}

func (s *Store) deleteSnapshot(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	return errors.Wrap(s.snapshots.Delete(ctx, s.key), "deleting session snapshot")
}

func (s *Store) notify(sess Session) {
	s.lmu.Lock()
	fns := make([]func(Session), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.lmu.Unlock()

	for _, fn := range fns {
		fn(sess)
	}
}
