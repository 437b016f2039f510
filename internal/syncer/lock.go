package syncer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/openmined/remotesync/internal/utils"
)

const lockFile = "remotesync.lock"

var ErrRunLocked = errors.New("another sync run holds the lock")

// runLock keeps two processes sharing a state dir from syncing at the same time.
type runLock struct {
	dir   string
	flock *flock.Flock
}

func newRunLock(stateDir string) *runLock {
	if stateDir == "" {
		return nil
	}
	return &runLock{
		dir:   stateDir,
		flock: flock.New(filepath.Join(stateDir, lockFile)),
	}
}

func (l *runLock) Lock() error {
	if l == nil {
		return nil
	}
	if err := utils.EnsureDir(l.dir); err != nil {
		return fmt.Errorf("create state dir %s: %w", l.dir, err)
	}

	locked, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", l.flock.Path(), err)
	}
	if !locked {
		return ErrRunLocked
	}
	return nil
}

func (l *runLock) Unlock() error {
	if l == nil || !l.flock.Locked() {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("unlock %s: %w", l.flock.Path(), err)
	}
	return os.Remove(l.flock.Path())
}
