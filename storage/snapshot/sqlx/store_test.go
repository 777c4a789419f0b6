package sqlxsnap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo/console/tests"
)

func TestStore(t *testing.T) {
	testutil.SnapshotterContract(t, New(testutil.PrepareDB(t)))
}

func TestStore_Save_upserts(t *testing.T) {
	db := testutil.PrepareDB(t)
	s := New(db)

	now := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	nowFunc = func() time.Time { return now }
	defer func() { nowFunc = time.Now }()

	ctx := context.Background()
	snap := testutil.SampleSnapshot()
	require.NoError(t, s.Save(ctx, "masomo-auth", snap))
	snap.Token = "rotated"
	require.NoError(t, s.Save(ctx, "masomo-auth", snap))

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM session_snapshots`))
	assert.Equal(t, 1, count)

	got, err := s.Load(ctx, "masomo-auth")
	require.NoError(t, err)
	assert.Equal(t, "rotated", got.Token)
}
