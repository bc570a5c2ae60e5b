package lifecycle

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hcomhq/hcom/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "hcom.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// fakeWaker records every wake call instead of touching the network,
// satisfying both Waker (by-name) and PortWaker (by-port).
type fakeWaker struct {
	wokenNames []string
	wokenPorts []int
}

func (w *fakeWaker) WakeInstances(ctx context.Context, names []string) error {
	w.wokenNames = append(w.wokenNames, names...)
	return nil
}

func (w *fakeWaker) WakePorts(ports []int) {
	w.wokenPorts = append(w.wokenPorts, ports...)
}
