package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hcomhq/hcom/internal/config"
	"github.com/hcomhq/hcom/internal/daemon"
	"github.com/hcomhq/hcom/internal/notifybus"
	"github.com/hcomhq/hcom/internal/protocol"
	"github.com/hcomhq/hcom/internal/session"
	"github.com/hcomhq/hcom/internal/store"
	"github.com/hcomhq/hcom/internal/subscriptions"
)

// daemonCmd groups hcom's Unix-socket fast-path daemon (spec §6), following
// the teacher's daemon command shape (internal/cmd/daemon.go): start/stop
// spawn or signal a detached child running "hcom daemon run", status reads
// the PID file, run is the foreground process itself.
var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: GroupServices,
	Short:   "Manage hcom's background daemon",
	Long: `The daemon keeps one store and dispatch table open so a hook invocation
pays a socket round trip instead of a process-startup cost (spec §6). It is
optional: every command in this CLI already works directly against the
store file when the daemon isn't running.`,
	RunE: requireSubcommand,
}

var daemonRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run the daemon in the foreground (internal)",
	Hidden: true,
	RunE:   runDaemonRun,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the background",
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the daemon is running",
	RunE:  runDaemonStatus,
}

func init() {
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonRunCmd)
	rootCmd.AddCommand(daemonCmd)
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	if running, pid := daemonRunning(); running {
		fmt.Printf("daemon already running (PID %d)\n", pid)
		return nil
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("finding executable: %w", err)
	}

	child := exec.Command(exePath, "daemon", "run")
	child.Stdin = nil
	child.Stdout = nil
	child.Stderr = nil
	if err := child.Start(); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}

	time.Sleep(200 * time.Millisecond)

	running, pid := daemonRunning()
	if !running {
		return fmt.Errorf("daemon failed to start")
	}
	fmt.Printf("daemon started (PID %d)\n", pid)
	return nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	running, pid := daemonRunning()
	if !running {
		return fmt.Errorf("daemon is not running")
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("signaling daemon pid %d: %w", pid, err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if running, _ := daemonRunning(); !running {
			fmt.Printf("daemon stopped (was PID %d)\n", pid)
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not stop within the grace period")
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	if running, pid := daemonRunning(); running {
		fmt.Printf("daemon is running (PID %d)\n", pid)
		return nil
	}
	fmt.Println("daemon is not running")
	fmt.Println("start with: hcom daemon start")
	return newSilentExit(1)
}

func runDaemonRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	dir := config.Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	st, err := store.Open(filepath.Join(dir, storeFileName))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	bus := notifybus.NewBus(st)
	subscriptions.Install(st, bus)

	reg := protocol.NewRegistryWithDedupe(filepath.Join(dir, "notify-state"), cfg.NotifyDedupeWindow)
	s := daemon.NewServer(st, reg, nil, cfg, version)
	if err := s.Start(); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}

	pushCtx, stopPushEngines := context.WithCancel(context.Background())
	defer stopPushEngines()
	startPushEngines(pushCtx, st, bus)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DaemonDrainTimeout+time.Second)
	defer cancel()
	s.Shutdown(ctx)
	s.Wait()

	// Orphan-cleanup phase: kill any background instance's tmux pane that
	// survived the per-instance kill (e.g. reparented to init after SIGHUP),
	// using the PID tracking files internal/session maintains as a
	// defense-in-depth fallback.
	if killed, failed := session.KillTrackedPIDs(dir); killed > 0 || len(failed) > 0 {
		fmt.Printf("orphan cleanup: killed %d, %d still unresolved\n", killed, len(failed))
	}
	return nil
}

// daemonRunning reports whether a daemon is live by reading the PID file
// and probing the process with signal 0 (no-op delivery, just an
// existence/permission check).
func daemonRunning() (bool, int) {
	data, err := os.ReadFile(daemon.PIDPath(config.Dir()))
	if err != nil {
		return false, 0
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil || pid <= 0 {
		return false, 0
	}
	if err := syscall.Kill(pid, 0); err != nil {
		return false, 0
	}
	return true, pid
}
