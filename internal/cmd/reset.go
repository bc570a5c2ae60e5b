package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hcomhq/hcom/internal/lifecycle"
)

var resetAll bool

var resetCmd = &cobra.Command{
	Use:     "reset",
	GroupID: GroupServices,
	Short:   "Archive the store and start fresh",
	Long: `Reset archives the current store file to a sibling "<path>.bak-<timestamp>"
and reopens a clean one at the same path (spec §4.8). With --all, every
local top-level instance is stopped first, so their life/stopped events and
snapshots land in the archive rather than being discarded with it.`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetAll, "all", false, "stop every running instance before archiving")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	a, cleanup, err := openApp()
	if err != nil {
		return err
	}
	defer cleanup()
	ctx := cmd.Context()

	var archivePath string
	if resetAll {
		by, _ := resolveSelf(ctx, a)
		if by == "" {
			by = "hcom-reset"
		}
		archivePath, err = lifecycle.ResetAll(ctx, a.store, a.bus, by)
	} else {
		archivePath, err = lifecycle.Reset(a.store)
	}
	if err != nil {
		return fmt.Errorf("resetting: %w", err)
	}

	if archivePath == "" {
		fmt.Println("nothing to reset (no store file yet)")
		return nil
	}
	fmt.Printf("archived to %s\n", archivePath)
	return nil
}
