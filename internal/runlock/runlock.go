package runlock

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrHeld means another process holds the lock; the new run must not start.
var ErrHeld = errors.New("another synchronization process is already running")

// Lock is a cross-process advisory lock tied to the process lifetime. It
// guarantees at most one synchronization run system-wide; the wall-clock
// budget of the run itself is the caller's context deadline.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes the named lock without blocking. ErrHeld when another
// process has it.
func Acquire(dir, name string) (*Lock, error) {
	fl := flock.New(filepath.Join(dir, name))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", fl.Path(), err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &Lock{fl: fl}, nil
}

// Release drops the lock. Safe to call on every exit path.
func (l *Lock) Release() {
	if l == nil || l.fl == nil {
		return
	}
	_ = l.fl.Unlock()
}
