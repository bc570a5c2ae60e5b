package lifecycle

import (
	"context"
	"fmt"

	"github.com/hcomhq/hcom/internal/store"
)

// Reset archives the current store file and returns the archive path (spec
// §4.8 `reset()`), wrapping store.Reset so callers go through one surface
// for all lifecycle operations.
func Reset(st *store.Store) (archivePath string, err error) {
	return store.Reset(st.Path())
}

// ResetAll implements `reset all`: stop every local instance first (so
// their life/stopped events and snapshot capture land in the store being
// archived, not lost to it), then archive. Re-applying hooks/config after
// the archive is a CLI-layer concern, not this package's.
func ResetAll(ctx context.Context, st *store.Store, waker PortWaker, by string) (archivePath string, err error) {
	all, err := st.ListInstances(ctx)
	if err != nil {
		return "", fmt.Errorf("listing instances for reset all: %w", err)
	}
	for _, in := range all {
		if in.ParentName != "" {
			continue // stopped recursively by its top-level parent
		}
		if err := Stop(ctx, st, waker, in.Name, by, "reset all"); err != nil {
			return "", fmt.Errorf("stopping %s for reset all: %w", in.Name, err)
		}
	}
	return Reset(st)
}
