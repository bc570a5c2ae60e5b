package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hcomhq/hcom/internal/lifecycle"
	"github.com/hcomhq/hcom/internal/store"
)

// listTipKey is the KV tombstone key gating the first-run tip this command
// prints at most once per store (SPEC_FULL's tip-of-the-day supplement,
// grounded on original_source/core/tips.py's "one-time notification" KV
// idiom already implemented generically in internal/store).
const listTipKey = "tip_seen:list-intro"

var listJSON bool

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: GroupCore,
	Short:   "List every currently live instance",
	RunE:    runList,
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "print one JSON object per instance instead of a table")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	a, cleanup, err := openApp()
	if err != nil {
		return err
	}
	defer cleanup()
	ctx := cmd.Context()

	if err := lifecycle.CleanupOneStale(ctx, a.store, a.cfg, a.bus); err != nil {
		return fmt.Errorf("cleaning up a stale instance: %w", err)
	}

	instances, err := a.store.ListInstances(ctx)
	if err != nil {
		return fmt.Errorf("listing instances: %w", err)
	}

	if listJSON {
		return printInstancesJSON(instances)
	}

	printTip(ctx, a.store)

	if len(instances) == 0 {
		fmt.Println("no live instances")
		return nil
	}

	width := terminalWidth()
	nameW, toolW, statusW := 16, 8, 10
	dirW := width - nameW - toolW - statusW - 3
	if dirW < 10 {
		dirW = 10
	}

	tbl := NewTable(
		Column{Name: "NAME", Width: nameW},
		Column{Name: "TOOL", Width: toolW},
		Column{Name: "STATUS", Width: statusW},
		Column{Name: "DIRECTORY", Width: dirW},
	)
	for _, in := range instances {
		status := in.Status
		if in.StatusContext != "" {
			status = status + "/" + in.StatusContext
		}
		tbl.AddRow(in.FullName(), in.Tool, status, in.Directory)
	}
	fmt.Print(tbl.Render())
	return nil
}

// printTip shows a one-shot onboarding hint the first time `hcom list` runs
// against a given store, then tombstones it so it never repeats. Errors
// reading/writing the tip are swallowed: missing a tip once is harmless,
// unlike failing the list itself over it.
func printTip(ctx context.Context, st *store.Store) {
	if _, seen, err := st.KVGet(ctx, listTipKey); err != nil || seen {
		return
	}
	fmt.Println("tip: run 'hcom listen' to block until a message arrives, or 'hcom events --wait' to watch the log live.")
	fmt.Println()
	_ = st.KVSet(ctx, listTipKey, "1")
}

func printInstancesJSON(instances []store.Instance) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, in := range instances {
		if err := enc.Encode(in); err != nil {
			return fmt.Errorf("encoding instance %s: %w", in.Name, err)
		}
	}
	return nil
}
