package filesnap

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo/console/core/session"
	"github.com/trezcool/masomo/console/tests"
)

var ctx = context.Background()

func sessionPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "masomo", "session.json")
}

func TestStore(t *testing.T) {
	tests := []struct {
		name   string
		secret string
	}{
		{name: "plain"},
		{name: "sealed", secret: "s3cr3t"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.SnapshotterContract(t, New(sessionPath(t), tt.secret))
		})
	}
}

func TestStore_fileLifecycle(t *testing.T) {
	path := sessionPath(t)
	s := New(path, "")

	require.NoError(t, s.Save(ctx, "masomo-auth", testutil.SampleSnapshot()))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"masomo-auth"`)

	require.NoError(t, s.Delete(ctx, "masomo-auth"))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "the file goes away with its last snapshot")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".session-"), "temp file %s left behind", e.Name())
	}
}

func TestStore_sealed(t *testing.T) {
	path := sessionPath(t)
	require.NoError(t, New(path, "s3cr3t").Save(ctx, "masomo-auth", testutil.SampleSnapshot()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "access", "tokens must not be stored in clear")

	t.Run("wrong secret", func(t *testing.T) {
		_, err := New(path, "other").Load(ctx, "masomo-auth")
		assert.Equal(t, ErrCorrupted, errors.Cause(err))
	})

	t.Run("right secret", func(t *testing.T) {
		snap, err := New(path, "s3cr3t").Load(ctx, "masomo-auth")
		require.NoError(t, err)
		testutil.AssertSnapshot(t, testutil.SampleSnapshot(), snap)
	})
}

func TestStore_corrupted(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		data   string
	}{
		{name: "plain garbage", data: "{not json"},
		{name: "sealed garbage", secret: "s3cr3t", data: "short"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := sessionPath(t)
			require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
			require.NoError(t, os.WriteFile(path, []byte(tt.data), 0o600))
			s := New(path, tt.secret)

			_, err := s.Load(ctx, "masomo-auth")
			assert.Equal(t, ErrCorrupted, errors.Cause(err))

			// saving starts a fresh file
			require.NoError(t, s.Save(ctx, "masomo-auth", testutil.SampleSnapshot()))
			snap, err := s.Load(ctx, "masomo-auth")
			require.NoError(t, err)
			assert.Equal(t, "access", snap.Token)
		})
	}

	t.Run("delete removes an unreadable file", func(t *testing.T) {
		path := sessionPath(t)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
		require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))

		require.NoError(t, New(path, "").Delete(ctx, "masomo-auth"))
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err))

		_, err = New(path, "").Load(ctx, "masomo-auth")
		assert.Equal(t, session.ErrSnapshotNotFound, err)
	})
}
