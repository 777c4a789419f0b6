package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/masomo/console/core"
	"github.com/trezcool/masomo/console/storage/database"
)

// Config returns a test configuration pointing at baseURL.
func Config(baseURL string) *core.Config {
	return &core.Config{
		Env:   "TEST",
		Build: "test",
		API: core.APIConfig{
			BaseURL:       baseURL,
			Timeout:       2 * time.Second,
			RetryAttempts: 2,
			RetryDelay:    10 * time.Millisecond,
		},
		Console: core.ConsoleConfig{
			Address:         "127.0.0.1:0",
			ShutdownTimeout: time.Second,
			LoadingWait:     time.Second,
			RefreshSkew:     30 * time.Second,
		},
		Realtime: core.RealtimeConfig{ReconnectDelay: 20 * time.Millisecond},
		Snapshot: core.SnapshotConfig{Driver: "memory", Key: "masomo-auth"},
	}
}

// Logger is a core.Logger that keeps entries for assertions.
type Logger struct {
	mu      sync.Mutex
	Entries []string
}

var _ core.Logger = (*Logger)(nil)

func (l *Logger) log(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Entries = append(l.Entries, level+": "+msg)
}

// Count reports how many entries were logged at level.
func (l *Logger) Count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.Entries {
		if len(e) > len(level) && e[:len(level)+1] == level+":" {
			n++
		}
	}
	return n
}

func (l *Logger) Debug(msg string, _ ...interface{}) { l.log("debug", msg) }
func (l *Logger) Info(msg string, _ ...interface{})  { l.log("info", msg) }
func (l *Logger) Warn(msg string, _ ...interface{})  { l.log("warn", msg) }
func (l *Logger) Error(msg string, _ ...interface{}) { l.log("error", msg) }
func (l *Logger) Fatal(msg string, _ ...interface{}) { l.log("fatal", msg) }

// Recorder is an auth.Navigator, auth.Alerter and auth.QueryCache that remembers every call.
type Recorder struct {
	mu          sync.Mutex
	Routes      []string
	Successes   []string
	Errors      []string
	Invalidated []string
	Clears      int
	// Events is the global call order, e.g. "navigate:/dashboard".
	Events []string
}

func (r *Recorder) Navigate(_ context.Context, route string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Routes = append(r.Routes, route)
	r.Events = append(r.Events, "navigate:"+route)
}

func (r *Recorder) Success(_ context.Context, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Successes = append(r.Successes, msg)
	r.Events = append(r.Events, "success")
}

func (r *Recorder) Error(_ context.Context, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, msg)
	r.Events = append(r.Events, "error")
}

func (r *Recorder) Invalidate(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Invalidated = append(r.Invalidated, key)
	r.Events = append(r.Events, "invalidate:"+key)
}

func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Clears++
	r.Events = append(r.Events, "clear")
}

// Snapshot returns a copy of the recorded call order.
func (r *Recorder) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.Events...)
}

// PrepareDB opens a migrated sqlite database in a temp dir.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := database.Open("sqlite", filepath.Join(t.TempDir(), "console.db"))
	if err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(db); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	return db
}

// NewRedis returns a client connected to an in-process redis.
func NewRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}
