package redissnap

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/masomo/console/core/session"
)

const keyPrefix = "masomo:session:"

// Store keeps session snapshots as redis string values.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ session.Snapshotter = (*Store)(nil)

// New returns a Store on rdb. A zero ttl keeps snapshots until deleted.
func New(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) Load(ctx context.Context, key string) (session.Snapshot, error) {
	data, err := s.rdb.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return session.Snapshot{}, session.ErrSnapshotNotFound
		}
		return session.Snapshot{}, errors.Wrap(err, "reading snapshot")
	}

	var snap session.Snapshot
	if err = json.Unmarshal(data, &snap); err != nil {
		return session.Snapshot{}, errors.Wrap(err, "decoding snapshot")
	}
	return snap, nil
}

func (s *Store) Save(ctx context.Context, key string, snap session.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "encoding snapshot")
	}
	return errors.Wrap(s.rdb.Set(ctx, keyPrefix+key, data, s.ttl).Err(), "writing snapshot")
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return errors.Wrap(s.rdb.Del(ctx, keyPrefix+key).Err(), "deleting snapshot")
}
