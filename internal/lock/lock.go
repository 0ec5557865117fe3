// Package lock keeps the agent and the migration tool from working on the
// same mapping database at the same time.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

var ErrLocked = errors.New("mapping database is in use by another process")

type Lock struct {
	fl *flock.Flock
}

// PathFor returns the lock file guarding the database at dbPath.
func PathFor(dbPath string) string {
	return dbPath + ".lock"
}

// Acquire takes an exclusive, non-blocking lock on the database at dbPath.
func Acquire(dbPath string) (*Lock, error) {
	path := PathFor(dbPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return nil, ErrLocked
	}
	return &Lock{fl: fl}, nil
}

func (l *Lock) Release() error {
	return l.fl.Unlock()
}
