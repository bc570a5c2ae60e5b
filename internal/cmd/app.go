package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/hcomhq/hcom/internal/config"
	"github.com/hcomhq/hcom/internal/identity"
	"github.com/hcomhq/hcom/internal/notifybus"
	"github.com/hcomhq/hcom/internal/relay"
	"github.com/hcomhq/hcom/internal/store"
	"github.com/hcomhq/hcom/internal/subscriptions"
)

// storeFileName is hcom's well-known store path under config.Dir(),
// matching the convention internal/daemon's own tests open the store with.
const storeFileName = "hcom.db"

// app bundles the collaborators every subcommand needs: an open store, its
// config, a wake bus, and the (stubbed) relay collaborator.
type app struct {
	cfg   *config.Config
	store *store.Store
	bus   *notifybus.Bus
	relay relay.Relay
}

// openApp loads config, ensures HCOM_DIR exists, and opens the store,
// wiring the subscriptions matcher as its append hook the same way
// internal/daemon would for a long-running process (subscriptions need to
// fire regardless of which binary appended the triggering event).
func openApp() (*app, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	dir := config.Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating %s: %w", dir, err)
	}

	st, err := store.Open(filepath.Join(dir, storeFileName))
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}

	bus := notifybus.NewBus(st)
	subscriptions.Install(st, bus)

	a := &app{cfg: cfg, store: st, bus: bus, relay: relay.New()}
	cleanup := func() { st.Close() }
	return a, cleanup, nil
}

// selfProcessID is the identity hint a CLI invocation can actually offer:
// the parent process's PID. Every `hcom` subcommand run from the same
// shell shares a parent shell PID, so binding an instance to it at `start`
// time lets later invocations (`hcom send`, `hcom listen`) from that same
// shell resolve back to it without re-specifying --as — the CLI's
// unprompted analogue of a hook's process_id hint (spec §4.2).
func selfProcessID() string {
	return strconv.Itoa(os.Getppid())
}

// resolveSelf determines "which instance am I" for a subcommand that
// doesn't take an explicit target: --as wins outright, else identity.Resolve
// against the parent-PID binding set up by `hcom start`.
func resolveSelf(ctx context.Context, a *app) (string, error) {
	if asName != "" {
		return asName, nil
	}
	name, err := identity.Resolve(ctx, a.store, identity.Hint{ProcessID: selfProcessID()})
	if err != nil {
		return "", fmt.Errorf("resolving identity: %w", err)
	}
	if name == "" {
		return "", fmt.Errorf("no hcom identity bound to this shell; pass --as <name> or run 'hcom start' first")
	}
	return name, nil
}
