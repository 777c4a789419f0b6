package redissnap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo/console/core/session"
	"github.com/trezcool/masomo/console/tests"
)

func TestStore(t *testing.T) {
	rdb, _ := testutil.NewRedis(t)
	testutil.SnapshotterContract(t, New(rdb, 0))
}

func TestStore_keyLayout(t *testing.T) {
	rdb, mr := testutil.NewRedis(t)
	s := New(rdb, time.Hour)

	require.NoError(t, s.Save(context.Background(), "masomo-auth", testutil.SampleSnapshot()))
	assert.True(t, mr.Exists("masomo:session:masomo-auth"))
	assert.Equal(t, time.Hour, mr.TTL("masomo:session:masomo-auth"))

	mr.FastForward(2 * time.Hour)
	_, err := s.Load(context.Background(), "masomo-auth")
	assert.Equal(t, session.ErrSnapshotNotFound, err)
}

func TestStore_unreachable(t *testing.T) {
	rdb, mr := testutil.NewRedis(t)
	mr.Close()

	_, err := New(rdb, 0).Load(context.Background(), "masomo-auth")
	require.Error(t, err)
	assert.NotEqual(t, session.ErrSnapshotNotFound, err)
}
