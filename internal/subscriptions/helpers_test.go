package subscriptions

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

type fakeWaker struct {
	woken []string
}

func (w *fakeWaker) WakeInstances(ctx context.Context, names []string) error {
	w.woken = append(w.woken, names...)
	return nil
}
