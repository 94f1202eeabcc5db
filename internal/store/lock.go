package store

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrLocked means another process holds the pipeline lock for the database.
var ErrLocked = errors.New("database is locked by another signalforge process")

// ProcessLock is an advisory file lock next to the database file. Only the
// process holding it runs the pipeline; readers such as the API do not need it.
type ProcessLock struct {
	fl *flock.Flock
}

// AcquireProcessLock takes the lock for dbPath without blocking.
func AcquireProcessLock(dbPath string) (*ProcessLock, error) {
	fl := flock.New(dbPath + ".lock")
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", fl.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (%s)", ErrLocked, fl.Path())
	}
	return &ProcessLock{fl: fl}, nil
}

// Release unlocks. It is safe to call more than once.
func (l *ProcessLock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
