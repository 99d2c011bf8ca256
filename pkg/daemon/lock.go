package daemon

import "errors"

// ErrLocked is returned by AcquireLock when another daemon holds the lock.
var ErrLocked = errors.New("another daemon is already running")

const lockFileName = "daemon.lock"

// Lock is held by the single daemon allowed to consume a store.
type Lock struct {
	path    string
	release func() error
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Release gives up the lock. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.release == nil {
		return nil
	}
	release := l.release
	l.release = nil
	return release()
}
