package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hcomhq/hcom/internal/config"
	"github.com/hcomhq/hcom/internal/lifecycle"
	"github.com/hcomhq/hcom/internal/session"
	"github.com/hcomhq/hcom/internal/tmux"
)

var (
	stopReason string
	killReason string
)

var stopCmd = &cobra.Command{
	Use:     "stop [name]",
	GroupID: GroupCore,
	Short:   "Stop an instance (defaults to the one bound to this shell)",
	Long: `Stop recursively stops any subagents, kills a headless instance's OS
process, clears its bindings and notify endpoints, appends life/stopped
with a snapshot of the row, then deletes it (spec §4.8). Listeners are
woken last, after deletion, so they observe the row already gone.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStop,
}

// killCmd is an alias for stop: spec §4.8 doesn't distinguish a softer
// "stop" from a harder "kill" at the store layer (both converge on the
// same teardown), but the CLI surface keeps both verbs since operators
// reach for "kill" when a tool has gone unresponsive.
var killCmd = &cobra.Command{
	Use:     "kill [name]",
	GroupID: GroupCore,
	Short:   "Alias for stop",
	Args:    cobra.MaximumNArgs(1),
	RunE:    runStop,
}

func init() {
	stopCmd.Flags().StringVar(&stopReason, "reason", "", "reason recorded on the life/stopped event")
	killCmd.Flags().StringVar(&killReason, "reason", "killed", "reason recorded on the life/stopped event")
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(killCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	a, cleanup, err := openApp()
	if err != nil {
		return err
	}
	defer cleanup()
	ctx := cmd.Context()

	name := ""
	if len(args) > 0 {
		name = args[0]
	} else {
		name, err = resolveSelf(ctx, a)
		if err != nil {
			return err
		}
	}

	by, err := resolveSelf(ctx, a)
	if err != nil {
		by = name
	}

	reason := stopReason
	if cmd.CalledAs() == "kill" {
		reason = killReason
	}

	in, err := a.store.GetInstance(ctx, name)
	if err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	wasBackground := in != nil && in.Background

	if err := lifecycle.Stop(ctx, a.store, a.bus, name, by, reason); err != nil {
		return fmt.Errorf("stopping %s: %w", name, err)
	}

	if wasBackground {
		_ = tmux.NewTmux().KillSession(name)
		session.UntrackPID(config.Dir(), name)
	}

	fmt.Printf("stopped %s\n", name)
	return nil
}
