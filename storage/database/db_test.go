package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		driver  string
		dsn     string
		wantErr bool
	}{
		{name: "sqlite", driver: "sqlite", dsn: filepath.Join(t.TempDir(), "console.db")},
		{name: "unknown driver", driver: "mysql", dsn: "root@/console", wantErr: true},
		{name: "missing dsn", driver: "postgres", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := Open(tt.driver, tt.dsn)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, db.Close())
		})
	}
}

func TestMigrate(t *testing.T) {
	db, err := Open("sqlite", filepath.Join(t.TempDir(), "console.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(db))
	require.NoError(t, Migrate(db), "migrating twice is a no-op")

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM session_snapshots`))
	assert.Equal(t, 0, count)
}
