package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/masomo/console/core"
	"github.com/trezcool/masomo/console/core/session"
	"github.com/trezcool/masomo/console/storage/database"
	filesnap "github.com/trezcool/masomo/console/storage/snapshot/file"
	inmemsnap "github.com/trezcool/masomo/console/storage/snapshot/inmem"
	redissnap "github.com/trezcool/masomo/console/storage/snapshot/redis"
	sqlxsnap "github.com/trezcool/masomo/console/storage/snapshot/sqlx"
)

const redisPingTimeout = 5 * time.Second

// OpenSnapshotter returns the snapshot store selected by conf.Driver and a func releasing it.
func OpenSnapshotter(conf core.SnapshotConfig) (session.Snapshotter, func() error, error) {
	noop := func() error { return nil }

	switch conf.Driver {
	case "memory":
		return inmemsnap.New(), noop, nil

	case "file":
		if conf.Path == "" {
			return nil, nil, errors.New("snapshot path is required")
		}
		return filesnap.New(conf.Path, conf.Secret), noop, nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: conf.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, errors.Wrap(err, "pinging redis")
		}
		return redissnap.New(rdb, 0), rdb.Close, nil

	case "postgres", "sqlite":
		db, err := database.Open(conf.Driver, conf.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err = database.Migrate(db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return sqlxsnap.New(db), db.Close, nil

	default:
		return nil, nil, errors.Errorf("unknown snapshot driver %q", conf.Driver)
	}
}
