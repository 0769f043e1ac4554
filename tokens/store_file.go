package tokens

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/tradelane-dev/marketauth/internal/autherr"
	"github.com/tradelane-dev/marketauth/internal/filelock"
)

const lockTimeout = 5 * time.Second

// FileStore persists the token record as files in a directory. Writes are
// guarded by a lock file so concurrent processes (the cross-tab case) never
// interleave a primary write with a mirror write.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed and returns the store.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, autherr.Wrap(err, autherr.ConfigurationError, "cannot determine home directory for token storage")
		}
		dir = filepath.Join(home, ".marketauth")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, autherr.Wrap(err, autherr.PersistenceFailure, "failed to create token storage directory")
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the storage directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) primaryPath() string {
	return filepath.Join(s.dir, PrimaryKey+".json")
}

func (s *FileStore) mirrorPath() string {
	return filepath.Join(s.dir, MirrorKey)
}

// Save writes the record under the primary key and then mirrors the access
// token under the legacy key. The mirror is written only after the primary
// write succeeds.
func (s *FileStore) Save(ctx context.Context, rec *Record) error {
	if rec == nil {
		return autherr.New(autherr.PersistenceFailure, "refusing to save nil record")
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return autherr.Wrap(err, autherr.PersistenceFailure, "failed to serialize token record")
	}

	lock := filelock.New(s.primaryPath())
	return lock.WithLock(lockTimeout, func() error {
		if err := os.WriteFile(s.primaryPath(), data, 0600); err != nil {
			return autherr.Wrap(err, autherr.PersistenceFailure, "failed to write token record")
		}
		if err := os.WriteFile(s.mirrorPath(), []byte(rec.AccessToken), 0600); err != nil {
			return autherr.Wrap(err, autherr.PersistenceFailure, "failed to write legacy token mirror")
		}
		return nil
	})
}

// Load reads the primary key. A missing file means unauthenticated, not an
// error; unreadable or corrupt data is reported as a persistence failure so
// callers can degrade (manager) or surface it (diagnostics).
func (s *FileStore) Load(ctx context.Context) (*Record, error) {
	data, err := os.ReadFile(s.primaryPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, autherr.Wrap(err, autherr.PersistenceFailure, "failed to read token record")
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, autherr.Wrap(err, autherr.PersistenceFailure, "stored token record is corrupt")
	}
	return &rec, nil
}

// Clear deletes both keys. Missing files are ignored.
func (s *FileStore) Clear(ctx context.Context) error {
	lock := filelock.New(s.primaryPath())
	return lock.WithLock(lockTimeout, func() error {
		for _, path := range []string{s.primaryPath(), s.mirrorPath()} {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return autherr.Wrap(err, autherr.PersistenceFailure, "failed to clear stored tokens")
			}
		}
		return nil
	})
}
