package database

import (
	"embed"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/trezcool/goose"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	gooseRunFunc = goose.RunFS // mockable

	// driver name -> goose dialect
	dialects = map[string]string{
		"postgres": "postgres",
		"sqlite":   "sqlite3",
	}
)

// Open connects to the snapshot database. driver is "postgres" or "sqlite".
func Open(driver, dsn string) (*sqlx.DB, error) {
	if _, ok := dialects[driver]; !ok {
		return nil, errors.Errorf("unsupported database driver %q", driver)
	}
	if dsn == "" {
		return nil, errors.New("database DSN is required")
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if driver == "sqlite" {
		// a single writer avoids SQLITE_BUSY on concurrent saves
		db.SetMaxOpenConns(1)
	}
	if err = ping(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// ping waits for the database to be ready. Waits 100ms longer between each attempt.
func ping(db *sqlx.DB) error {
	var err error
	maxAttempts := 10
	for attempts := 1; attempts <= maxAttempts; attempts++ {
		err = db.Ping()
		if err == nil {
			break
		}
		time.Sleep(time.Duration(attempts) * 100 * time.Millisecond)
	}

	if err != nil {
		return errors.Wrap(err, "DB ping timeout")
	}
	return nil
}

// Migrate applies the embedded migrations.
func Migrate(db *sqlx.DB) error {
	dialect, ok := dialects[db.DriverName()]
	if !ok {
		return errors.Errorf("unsupported database driver %q", db.DriverName())
	}
	if err := goose.SetDialect(dialect); err != nil {
		return errors.Wrap(err, "setting migration dialect")
	}
	if err := gooseRunFunc("up", db.DB, migrations, "migrations"); err != nil {
		return errors.Wrap(err, "migrating database")
	}
	return nil
}
