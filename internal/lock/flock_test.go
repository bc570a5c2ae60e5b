package lock

import (
	"path/filepath"
	"testing"
)

func TestFlockAcquireBlocksConcurrentCallers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")

	release, err := FlockAcquire(path)
	if err != nil {
		t.Fatalf("FlockAcquire: %v", err)
	}

	release2, ok, err := TryFlockAcquire(path)
	if err != nil {
		t.Fatalf("TryFlockAcquire while held: %v", err)
	}
	if ok {
		release2()
		t.Fatal("expected TryFlockAcquire to fail while the lock is held")
	}

	release()

	release3, ok, err := TryFlockAcquire(path)
	if err != nil {
		t.Fatalf("TryFlockAcquire after release: %v", err)
	}
	if !ok {
		t.Fatal("expected TryFlockAcquire to succeed once the lock is released")
	}
	release3()
}

func TestFlockAcquireFailsWhenParentDirIsMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "test.lock")

	release, err := FlockAcquire(path)
	if err == nil {
		release()
		t.Fatal("expected an error when the parent directory does not exist")
	}
}
