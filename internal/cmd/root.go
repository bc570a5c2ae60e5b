// Package cmd is hcom's command-line surface: one file per subcommand,
// package-level cobra.Command vars wired up in init(), and an Execute()
// entry point cmd/hcom/main.go calls directly. Grounded on the teacher's
// internal/cmd package shape (internal/cmd/daemon.go, internal/cmd/mail_send.go,
// internal/cmd/mail_check.go), adapted from Gas Town's rig/beads/mail domain
// to hcom's store-backed instances and messages.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Command groups, shown as headings in `hcom --help` (cobra.Group). The
// teacher splits its much larger command tree the same way (agent-facing
// vs. service-facing commands); hcom's tree is small enough for two groups.
const (
	GroupCore     = "core"
	GroupServices = "services"
)

// version is set at build time via -ldflags "-X .../cmd.version=...". It is
// also what the daemon writes to its version file so a stale long-running
// daemon can detect a newer client and restart (SPEC_FULL's
// "daemon version file + stale-client restart").
var version = "dev"

// asName is the --as override: every subcommand that needs "my own
// instance name" resolves through resolveSelf, which prefers this flag over
// process-binding lookup. Spec §4.2's identity resolution is hook-oriented
// (process/session/transcript hints); a CLI invocation has none of those
// ambient signals reliably, so --as is the CLI's explicit escape hatch, and
// ppid-keyed process binding (see app.go) is its implicit one.
var asName string

var rootCmd = &cobra.Command{
	Use:           "hcom",
	Short:         "hcom is the messaging fabric for co-resident AI coding assistants",
	Long:          `hcom lets independently-running Claude Code, Gemini CLI and Codex CLI instances send each other messages, discover who's around, and coordinate lifecycle, through one local SQLite-backed event log.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          requireSubcommand,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: GroupCore, Title: "Core Commands:"},
		&cobra.Group{ID: GroupServices, Title: "Service Commands:"},
	)
	rootCmd.PersistentFlags().StringVar(&asName, "as", "", "act as this instance name instead of resolving it from the environment")
}

// Execute runs the command tree and returns a process exit code. main.go's
// only job is os.Exit(cmd.Execute()).
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		if se, ok := err.(*silentExit); ok {
			return se.code
		}
		fmt.Fprintf(os.Stderr, "hcom: %v\n", err)
		return 1
	}
	return 0
}

// requireSubcommand is the RunE for command groups (root, daemon) that take
// no action of their own.
func requireSubcommand(cmd *cobra.Command, args []string) error {
	return cmd.Help()
}

// silentExit lets a RunE signal a specific exit code without cobra printing
// an error (e.g. `hcom listen --timeout ...` that simply found nothing
// before the deadline isn't a usage error).
type silentExit struct{ code int }

func (s *silentExit) Error() string { return "" }

// newSilentExit returns an error that Execute turns into exit code code
// without printing anything.
func newSilentExit(code int) error { return &silentExit{code: code} }
