package testutil

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo/console/core/session"
)

// SampleSnapshot is an authenticated snapshot carrying every persisted field.
func SampleSnapshot() session.Snapshot {
	return session.Snapshot{
		User: &session.User{
			ID:    "42",
			Name:  "Jane Doe",
			Email: "jane@test.cd",
			Role:  "teacher",
			Extra: map[string]interface{}{"school": "Masomo"},
		},
		Token:           "access",
		RefreshToken:    "refresh",
		Permissions:     session.NewPermissionSet("attendance:read", "users:read"),
		IsAuthenticated: true,
	}
}

// SnapshotterContract checks the behaviour every session.Snapshotter shares.
func SnapshotterContract(t *testing.T, s session.Snapshotter) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Load(ctx, "missing")
	assert.Equal(t, session.ErrSnapshotNotFound, errors.Cause(err), "Load() of a missing key")

	want := SampleSnapshot()
	require.NoError(t, s.Save(ctx, "a", want))
	AssertSnapshot(t, want, mustLoad(t, s, "a"))

	// overwrite
	next := want
	next.Token = "rotated"
	next.Permissions = session.NewPermissionSet("users:read")
	require.NoError(t, s.Save(ctx, "a", next))
	AssertSnapshot(t, next, mustLoad(t, s, "a"))

	// keys are independent
	other := session.Snapshot{Token: "other", Permissions: session.NewPermissionSet()}
	require.NoError(t, s.Save(ctx, "b", other))
	AssertSnapshot(t, next, mustLoad(t, s, "a"))

	require.NoError(t, s.Delete(ctx, "a"))
	_, err = s.Load(ctx, "a")
	assert.Equal(t, session.ErrSnapshotNotFound, errors.Cause(err), "Load() after Delete()")
	AssertSnapshot(t, other, mustLoad(t, s, "b"))

	require.NoError(t, s.Delete(ctx, "a"), "deleting a missing key is not an error")
}

// AssertSnapshot compares two snapshots field by field.
func AssertSnapshot(t *testing.T, want, got session.Snapshot) {
	t.Helper()

	assert.Equal(t, want.Token, got.Token)
	assert.Equal(t, want.RefreshToken, got.RefreshToken)
	assert.Equal(t, want.IsAuthenticated, got.IsAuthenticated)
	assert.Equal(t, want.Permissions.Names(), got.Permissions.Names())
	if want.User == nil {
		assert.Nil(t, got.User)
		return
	}
	require.NotNil(t, got.User)
	assert.Equal(t, *want.User, *got.User)
}

func mustLoad(t *testing.T, s session.Snapshotter, key string) session.Snapshot {
	t.Helper()
	snap, err := s.Load(context.Background(), key)
	require.NoError(t, err)
	return snap
}
