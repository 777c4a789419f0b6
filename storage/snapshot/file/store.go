package filesnap

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/trezcool/masomo/console/core/session"
)

const nonceSize = 24

var ErrCorrupted = errors.New("session file cannot be opened")

// Store keeps every snapshot in one JSON file keyed by snapshot key.
// With a secret the file is sealed with NaCl secretbox.
type Store struct {
	mu     sync.Mutex
	path   string
	sealed bool
	key    [32]byte
}

var _ session.Snapshotter = (*Store)(nil)

func New(path, secret string) *Store {
	s := &Store{path: path}
	if secret != "" {
		s.sealed = true
		s.key = sha256.Sum256([]byte(secret))
	}
	return s
}

func (s *Store) Load(_ context.Context, key string) (session.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.read()
	if err != nil {
		return session.Snapshot{}, err
	}
	snap, ok := all[key]
	if !ok {
		return session.Snapshot{}, session.ErrSnapshotNotFound
	}
	return snap, nil
}

func (s *Store) Save(_ context.Context, key string, snap session.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.read()
	if err != nil {
		if errors.Cause(err) != ErrCorrupted {
			return err
		}
		// start over rather than keep a file nobody can read
		all = make(map[string]session.Snapshot)
	}
	all[key] = snap
	return s.write(all)
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.read()
	if err != nil {
		if errors.Cause(err) == ErrCorrupted {
			return errors.Wrap(os.Remove(s.path), "removing session file")
		}
		return err
	}
	if _, ok := all[key]; !ok {
		return nil
	}
	delete(all, key)
	if len(all) == 0 {
		if err = os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "removing session file")
		}
		return nil
	}
	return s.write(all)
}

func (s *Store) read() (map[string]session.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]session.Snapshot), nil
		}
		return nil, errors.Wrap(err, "reading session file")
	}
	if s.sealed {
		if data, err = s.open(data); err != nil {
			return nil, err
		}
	}

	all := make(map[string]session.Snapshot)
	if err = json.Unmarshal(data, &all); err != nil {
		return nil, errors.Wrap(ErrCorrupted, err.Error())
	}
	return all, nil
}

// write replaces the file atomically.
func (s *Store) write(all map[string]session.Snapshot) error {
	data, err := json.Marshal(all)
	if err != nil {
		return errors.Wrap(err, "encoding session file")
	}
	if s.sealed {
		if data, err = s.seal(data); err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.path)
	if err = os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(err, "creating session dir")
	}
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "writing temp file")
	}
	if err = tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "securing temp file")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "closing temp file")
	}
	return errors.Wrap(os.Rename(tmp.Name(), s.path), "replacing session file")
}

func (s *Store) seal(data []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, errors.Wrap(err, "generating nonce")
	}
	return secretbox.Seal(nonce[:], data, &nonce, &s.key), nil
}

func (s *Store) open(data []byte) ([]byte, error) {
	if len(data) < nonceSize+secretbox.Overhead {
		return nil, ErrCorrupted
	}
	var nonce [nonceSize]byte
	copy(nonce[:], data[:nonceSize])
	out, ok := secretbox.Open(nil, data[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrCorrupted
	}
	return out, nil
}
