package session_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/masomo/console/core/session"
	inmemsnap "github.com/trezcool/masomo/console/storage/snapshot/inmem"
	"github.com/trezcool/masomo/console/tests"
)

const key = "masomo-auth"

var ctx = context.Background()

func newStore(t *testing.T) (*Store, *inmemsnap.Store) {
	t.Helper()
	snaps := inmemsnap.New()
	return NewStore(snaps, key, new(testutil.Logger)), snaps
}

func login(t *testing.T, s *Store, perms ...string) {
	t.Helper()
	usr := &User{ID: "1", Name: "Jane", Role: "teacher"}
	if err := s.SetAuth(ctx, usr, "access", "refresh", perms); err != nil {
		t.Fatalf("SetAuth() failed: %v", err)
	}
}

func TestStore_SetAuth(t *testing.T) {
	s, snaps := newStore(t)

	assert.False(t, s.Session().IsAuthenticated)
	assert.Equal(t, 0, s.Session().Permissions.Len())

	login(t, s, "a", "b", "a")

	sess := s.Session()
	assert.True(t, sess.IsAuthenticated)
	assert.Equal(t, "access", sess.AccessToken)
	assert.Equal(t, "refresh", sess.RefreshToken)
	assert.Equal(t, []string{"a", "b"}, sess.Permissions.Names())
	assert.True(t, s.HasPermission("a"))
	assert.False(t, s.HasPermission("c"))
	assert.True(t, s.HasRole("teacher"))
	assert.False(t, s.HasRole("admin"))
	assert.True(t, snaps.Has(key))

	err := s.SetAuth(ctx, nil, "", "refresh", nil)
	assert.Equal(t, ErrEmptyAccessToken, err)
	assert.Equal(t, "access", s.Session().AccessToken, "rejected SetAuth must not change the session")
}

func TestStore_partialUpdates(t *testing.T) {
	s, _ := newStore(t)
	login(t, s, "a")

	s.SetAccessToken(ctx, "access2")
	s.SetRefreshToken(ctx, "refresh2")
	s.SetUser(ctx, &User{ID: "2", Name: "John", Role: "admin"})
	s.SetPermissions(ctx, []string{"x"})

	sess := s.Session()
	assert.True(t, sess.IsAuthenticated, "partial updates keep the authenticated flag")
	assert.Equal(t, "access2", sess.AccessToken)
	assert.Equal(t, "refresh2", sess.RefreshToken)
	assert.Equal(t, "John", sess.User.Name)
	assert.True(t, s.HasPermission("x"))
	assert.False(t, s.HasPermission("a"))

	s.SetAccessToken(ctx, "")
	sess = s.Session()
	assert.False(t, sess.IsAuthenticated, "no token, no authentication")
	assert.Equal(t, "refresh2", sess.RefreshToken)
}

func TestStore_snapshotsAreImmutable(t *testing.T) {
	s, _ := newStore(t)
	usr := &User{ID: "1", Name: "Jane"}
	require.NoError(t, s.SetAuth(ctx, usr, "access", "", nil))

	before := s.Session()
	usr.Name = "changed"
	s.SetPermissions(ctx, []string{"a"})

	assert.Equal(t, "Jane", before.User.Name)
	assert.Equal(t, "Jane", s.Session().User.Name)
	assert.False(t, before.Permissions.Has("a"))
}

func TestStore_Logout(t *testing.T) {
	s, snaps := newStore(t)
	login(t, s, "a")
	require.True(t, snaps.Has(key))

	for i := 0; i < 2; i++ { // idempotent
		s.Logout(ctx)

		sess := s.Session()
		assert.Nil(t, sess.User)
		assert.Empty(t, sess.AccessToken)
		assert.Empty(t, sess.RefreshToken)
		assert.False(t, sess.IsAuthenticated)
		assert.Equal(t, 0, sess.Permissions.Len())
		assert.False(t, snaps.Has(key), "logout must erase the durable snapshot")
	}

	// a fresh store started after logout restores nothing
	fresh := NewStore(snaps, key, new(testutil.Logger))
	require.NoError(t, fresh.Hydrate(ctx))
	assert.False(t, fresh.Session().HasToken())
}

func TestStore_RotateTokens(t *testing.T) {
	s, snaps := newStore(t)
	login(t, s, "a")

	assert.False(t, s.RotateTokens(ctx, "other", "access2", "refresh2"), "stale refresh token")
	assert.Equal(t, "access", s.Session().AccessToken)

	assert.True(t, s.RotateTokens(ctx, "refresh", "access2", "refresh2"))
	sess := s.Session()
	assert.Equal(t, "access2", sess.AccessToken)
	assert.Equal(t, "refresh2", sess.RefreshToken)
	assert.True(t, sess.IsAuthenticated)

	s.Logout(ctx)
	assert.False(t, s.RotateTokens(ctx, "refresh2", "access3", "refresh3"))
	assert.False(t, s.Session().HasToken())
	assert.False(t, snaps.Has(key), "a dropped rotation must not write a snapshot")
}

func TestStore_ConfirmAuth(t *testing.T) {
	s, snaps := newStore(t)
	s.SetTokens(ctx, "access", "refresh")
	usr := &User{ID: "1", Name: "Jane", Role: "teacher"}

	assert.False(t, s.ConfirmAuth(ctx, "other", usr, []string{"a"}))
	assert.False(t, s.Session().IsAuthenticated)

	assert.True(t, s.ConfirmAuth(ctx, "access", usr, []string{"a"}))
	sess := s.Session()
	assert.True(t, sess.IsAuthenticated)
	assert.Equal(t, "refresh", sess.RefreshToken)
	assert.Equal(t, "Jane", sess.User.Name)
	assert.True(t, sess.Permissions.Has("a"))

	s.Logout(ctx)
	assert.False(t, s.ConfirmAuth(ctx, "access", usr, nil))
	assert.False(t, s.Session().IsAuthenticated)
	assert.Nil(t, s.Session().User)
	assert.False(t, snaps.Has(key))
}

func TestStore_Hydrate(t *testing.T) {
	s, snaps := newStore(t)
	login(t, s, "a", "b")

	restored := NewStore(snaps, key, new(testutil.Logger))
	require.NoError(t, restored.Hydrate(ctx))

	want, got := s.Session(), restored.Session()
	assert.Equal(t, want.AccessToken, got.AccessToken)
	assert.Equal(t, want.RefreshToken, got.RefreshToken)
	assert.Equal(t, want.IsAuthenticated, got.IsAuthenticated)
	assert.Equal(t, want.Permissions.Names(), got.Permissions.Names())
	assert.Equal(t, want.User, got.User)
}

type failingSnapshots struct {
	*inmemsnap.Store
}

func (failingSnapshots) Save(context.Context, string, Snapshot) error {
	return errors.New("disk full")
}

func TestStore_persistFailureIsLogged(t *testing.T) {
	logger := new(testutil.Logger)
	s := NewStore(failingSnapshots{inmemsnap.New()}, key, logger)

	login(t, s, "a")

	assert.True(t, s.Session().IsAuthenticated, "in-memory session stays authoritative")
	assert.Equal(t, 1, logger.Count("error"))
}

func TestStore_OnChange(t *testing.T) {
	s, _ := newStore(t)

	var mu sync.Mutex
	var tokens []string
	cancel := s.OnChange(func(sess Session) {
		mu.Lock()
		tokens = append(tokens, sess.AccessToken)
		mu.Unlock()
	})

	login(t, s)
	s.SetAccessToken(ctx, "access2")
	cancel()
	cancel() // safe twice
	s.Logout(ctx)

	assert.Equal(t, []string{"access", "access2"}, tokens)
}

func TestSnapshot_roundTrip(t *testing.T) {
	sess := Session{
		User:            &User{ID: "7", Name: "Jane", Email: "jane@test.cd", Role: "teacher", Extra: map[string]interface{}{"school": "Masomo"}},
		AccessToken:     "access",
		RefreshToken:    "refresh",
		Permissions:     NewPermissionSet("b", "a"),
		IsAuthenticated: true,
	}

	data, err := json.Marshal(sess.Snapshot())
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Len(t, fields, 5)
	for _, f := range []string{"user", "token", "refreshToken", "permissions", "isAuthenticated"} {
		assert.Contains(t, fields, f)
	}

	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	got := snap.Session()
	assert.Equal(t, sess.User, got.User)
	assert.Equal(t, sess.AccessToken, got.AccessToken)
	assert.Equal(t, sess.RefreshToken, got.RefreshToken)
	assert.Equal(t, []string{"a", "b"}, got.Permissions.Names())
	assert.True(t, got.IsAuthenticated)
}

func TestSnapshot_Session_keepsInvariant(t *testing.T) {
	sess := Snapshot{IsAuthenticated: true}.Session()
	assert.False(t, sess.IsAuthenticated)
	assert.Equal(t, 0, sess.Permissions.Len())
}

func TestUser_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		data string
		want User
	}{
		{name: "string id", data: `{"id":"a1","name":"Jane","role":"admin"}`, want: User{ID: "a1", Name: "Jane", Role: "admin"}},
		{name: "numeric id", data: `{"id":42,"name":"Jane"}`, want: User{ID: "42", Name: "Jane"}},
		{name: "mongo id", data: `{"_id":"abc","name":"Jane"}`, want: User{ID: "abc", Name: "Jane"}},
		{
			name: "extra fields",
			data: `{"id":"1","name":"Jane","school":"Masomo"}`,
			want: User{ID: "1", Name: "Jane", Extra: map[string]interface{}{"school": "Masomo"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got User
			require.NoError(t, json.Unmarshal([]byte(tt.data), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}
