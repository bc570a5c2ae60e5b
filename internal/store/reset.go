package store

import (
	"fmt"
	"os"
	"time"

	"github.com/hcomhq/hcom/internal/lock"
)

// Reset archives the current store file (and its -wal/-shm companions) so
// that the next Open at the same path starts a fresh store (spec §4.8
// `reset`); Reset itself opens nothing. The archive is a sibling file named
// "<path>.bak-<timestamp>"; callers that want the old history pruned are
// responsible for removing archives themselves, hcom never deletes one.
//
// Reset holds an exclusive flock on "<path>.lock" while it renames the
// files. Lifecycle operations (create/start/stop) do not take this lock.
func Reset(path string) (archivePath string, err error) {
	release, err := lock.FlockAcquire(path + ".lock")
	if err != nil {
		return "", fmt.Errorf("acquiring reset lock: %w", err)
	}
	defer release()

	if _, statErr := os.Stat(path); statErr != nil {
		if os.IsNotExist(statErr) {
			return "", nil
		}
		return "", fmt.Errorf("statting store %s: %w", path, statErr)
	}

	archivePath = fmt.Sprintf("%s.bak-%s", path, time.Now().UTC().Format("20060102T150405Z"))
	for _, suffix := range []string{"", "-wal", "-shm"} {
		src := path + suffix
		if _, statErr := os.Stat(src); statErr != nil {
			continue
		}
		dst := archivePath + suffix
		if err := os.Rename(src, dst); err != nil {
			return "", fmt.Errorf("archiving %s: %w", src, err)
		}
	}
	return archivePath, nil
}
