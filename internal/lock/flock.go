package lock

import (
	"fmt"

	"github.com/gofrs/flock"
)

// FlockAcquire acquires an exclusive advisory lock on path, creating the
// file if needed, and blocks until it is available. Returns a cleanup
// function that releases the lock. This is a general-purpose cross-process
// lock suitable for any read-modify-write operation that needs serialization
// across separate CLI invocations (store compaction, reset's archival of
// the SQLite file).
func FlockAcquire(path string) (func(), error) {
	fl := flock.New(path)
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("acquiring flock: %w", err)
	}
	return func() { _ = fl.Unlock() }, nil
}

// TryFlockAcquire is FlockAcquire's non-blocking sibling: used for
// singleton-process enforcement (the daemon's PID file), where a second
// instance must detect contention immediately rather than wait. ok is false
// (with a nil cleanup and nil error) when another process already holds the
// lock.
func TryFlockAcquire(path string) (cleanup func(), ok bool, err error) {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("acquiring flock: %w", err)
	}
	if !locked {
		return nil, false, nil
	}
	return func() { _ = fl.Unlock() }, true, nil
}
