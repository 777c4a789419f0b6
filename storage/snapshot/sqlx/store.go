package sqlxsnap

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo/console/core/session"
)

var nowFunc = time.Now // mockable

type row struct {
	Key       string    `db:"snapshot_key"`
	Data      string    `db:"data"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Store keeps session snapshots in the session_snapshots table.
type Store struct {
	db *sqlx.DB
}

var _ session.Snapshotter = (*Store)(nil)

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Load(ctx context.Context, key string) (session.Snapshot, error) {
	var data string
	q := s.db.Rebind(`SELECT data FROM session_snapshots WHERE snapshot_key = ?`)
	if err := s.db.GetContext(ctx, &data, q, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Snapshot{}, session.ErrSnapshotNotFound
		}
		return session.Snapshot{}, errors.Wrap(err, "selecting snapshot")
	}

	var snap session.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return session.Snapshot{}, errors.Wrap(err, "decoding snapshot")
	}
	return snap, nil
}

func (s *Store) Save(ctx context.Context, key string, snap session.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "encoding snapshot")
	}
	r := row{Key: key, Data: string(data), UpdatedAt: nowFunc().UTC()}
	q := `INSERT INTO session_snapshots (snapshot_key, data, updated_at)
		VALUES (:snapshot_key, :data, :updated_at)
		ON CONFLICT (snapshot_key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`
	if _, err = s.db.NamedExecContext(ctx, q, r); err != nil {
		return errors.Wrap(err, "upserting snapshot")
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	q := s.db.Rebind(`DELETE FROM session_snapshots WHERE snapshot_key = ?`)
	if _, err := s.db.ExecContext(ctx, q, key); err != nil {
		return errors.Wrap(err, "deleting snapshot")
	}
	return nil
}
