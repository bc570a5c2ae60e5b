package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hcomhq/hcom/internal/config"
	"github.com/hcomhq/hcom/internal/lifecycle"
	"github.com/hcomhq/hcom/internal/session"
	"github.com/hcomhq/hcom/internal/store"
	"github.com/hcomhq/hcom/internal/tmux"
)

var (
	startTool       string
	startTag        string
	startDirectory  string
	startBackground bool
	startAs         string
	startLaunchCmd  string
)

var startCmd = &cobra.Command{
	Use:     "start [name]",
	GroupID: GroupCore,
	Short:   "Create and activate an instance, binding it to this shell",
	Long: `Start creates (or reclaims, with --as) an instance row, marks it active, and
emits life/started (spec §4.8). The new instance is bound to this shell's
parent process id, so later "hcom send"/"hcom listen" calls made from the
same shell resolve back to it without needing --as.

Examples:
  hcom start nova
  hcom start --as nova   # reclaim an existing name (start --as, spec §4.8)`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&startTool, "tool", "claude", "the coding tool this instance runs (claude, gemini, codex)")
	startCmd.Flags().StringVar(&startTag, "tag", "", "group tag; the instance's full name becomes tag-name")
	startCmd.Flags().StringVar(&startDirectory, "directory", "", "working directory to record for this instance (default: cwd)")
	startCmd.Flags().BoolVar(&startBackground, "background", false, "launch the tool detached in a tmux pane instead of the current terminal")
	startCmd.Flags().StringVar(&startLaunchCmd, "launch-cmd", "", "shell command to run in the detached pane for --background (default: --tool)")
	startCmd.Flags().StringVar(&startAs, "as", "", "reclaim this existing name instead of creating a fresh one")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	name := startAs
	if len(args) > 0 {
		if name != "" && args[0] != name {
			return fmt.Errorf("both a positional name and --as were given; use one")
		}
		name = args[0]
	}
	if name == "" {
		return fmt.Errorf("start requires a name, or --as <name>")
	}

	dir := startDirectory
	if dir == "" {
		if wd, err := os.Getwd(); err == nil {
			dir = wd
		}
	}

	a, cleanup, err := openApp()
	if err != nil {
		return err
	}
	defer cleanup()
	ctx := cmd.Context()

	params := lifecycle.StartParams{
		CreateParams: lifecycle.CreateParams{
			Name:       name,
			Tool:       startTool,
			Tag:        startTag,
			Directory:  dir,
			Background: startBackground,
		},
		By: name,
	}

	var startErr error
	var instanceName string
	if startAs != "" {
		// currentName is whatever this shell was already bound to, if
		// anything — a placeholder from a prior partial start, typically
		// empty for a brand new shell.
		currentName, _ := resolveSelf(ctx, a)
		created, err := lifecycle.StartAs(ctx, a.store, a.bus, currentName, startAs, params)
		startErr = err
		if created != nil {
			instanceName = created.Name
		}
	} else {
		created, err := lifecycle.Start(ctx, a.store, a.bus, params)
		startErr = err
		if created != nil {
			instanceName = created.Name
		}
	}
	if startErr != nil {
		return fmt.Errorf("starting %s: %w", name, startErr)
	}

	if err := a.store.SetProcessBinding(ctx, selfProcessID(), "", instanceName); err != nil {
		return fmt.Errorf("binding shell to %s: %w", instanceName, err)
	}

	if startBackground {
		if err := spawnBackgroundPane(ctx, a.store, instanceName, dir, launchCommand()); err != nil {
			return fmt.Errorf("launching %s in background: %w", instanceName, err)
		}
	}

	fmt.Printf("started %s\n", instanceName)
	return nil
}

// launchCommand is what runs inside a --background instance's detached tmux
// pane: an explicit --launch-cmd, or --tool bare (e.g. "claude").
func launchCommand() string {
	if startLaunchCmd != "" {
		return startLaunchCmd
	}
	return startTool
}

// spawnBackgroundPane launches cmd detached in a new tmux session named
// after the instance, records its pane PID on the instance row (the PID
// lifecycle.Stop signals on teardown), and tracks it in the PID-file
// fallback cleanup internal/session provides for panes that survive a
// normal kill (e.g. reparented after SIGHUP).
func spawnBackgroundPane(ctx context.Context, st *store.Store, name, dir, command string) error {
	t := tmux.NewTmux()
	if err := t.NewSession(name, dir, command); err != nil {
		return fmt.Errorf("creating tmux session: %w", err)
	}
	pid, err := t.GetPanePID(name)
	if err != nil {
		return fmt.Errorf("reading pane pid: %w", err)
	}
	pid64 := int64(pid)
	if err := st.UpdateInstance(ctx, name, store.InstanceUpdate{PID: &pid64}); err != nil {
		return fmt.Errorf("recording pane pid: %w", err)
	}
	if err := session.TrackSessionPID(config.Dir(), name, t); err != nil {
		return fmt.Errorf("tracking pane pid: %w", err)
	}
	return nil
}
