package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hcomhq/hcom/internal/eventstail"
	"github.com/hcomhq/hcom/internal/store"
	"github.com/hcomhq/hcom/internal/subscriptions"
)

var (
	eventsWait     bool
	eventsInstance string
	eventsTypes    []string
	eventsAfter    int64
)

var eventsCmd = &cobra.Command{
	Use:     "events",
	GroupID: GroupCore,
	Short:   "Inspect or tail the append-only event log",
	Long: `Events prints (or, with --wait, live-tails) the event log the rest of hcom is
built on: message, status and life rows (spec §3). The schema behind it
(events_v, a flattened view over the three event kinds) is the stable
external contract third-party tooling can query directly with
"hcom events --sql".`,
	RunE: runEvents,
}

var eventsSQL string

var eventsSubCmd = &cobra.Command{
	Use:     "sub <preset>",
	GroupID: GroupCore,
	Short:   "Create a durable subscription against the event log",
	Long: `Sub registers a subscription (spec §4.9): its predicate is evaluated against
every newly appended event, and a match enqueues a system message back to
the caller. Presets cover common predicates, e.g.:

  hcom events sub idle:nova
  hcom events sub "cmd:git commit"
  hcom events sub collision --once`,
	Args: cobra.ExactArgs(1),
	RunE: runEventsSub,
}

var eventsSubOnce bool

var eventsUnsubCmd = &cobra.Command{
	Use:     "unsub <id>",
	GroupID: GroupCore,
	Short:   "Delete a subscription by id",
	Args:    cobra.ExactArgs(1),
	RunE:    runEventsUnsub,
}

func init() {
	eventsCmd.Flags().BoolVar(&eventsWait, "wait", false, "live-tail the log with a scrolling terminal view instead of printing once")
	eventsCmd.Flags().StringVar(&eventsInstance, "instance", "", "restrict to events for one instance")
	eventsCmd.Flags().StringSliceVar(&eventsTypes, "type", nil, "restrict to these event types (message,status,life)")
	eventsCmd.Flags().Int64Var(&eventsAfter, "after", 0, "only show events with id greater than this")
	eventsCmd.Flags().StringVar(&eventsSQL, "sql", "", "run a raw boolean predicate against events_v and print matches")

	eventsSubCmd.Flags().BoolVar(&eventsSubOnce, "once", false, "delete the subscription after its first match")
	eventsCmd.AddCommand(eventsSubCmd)
	eventsCmd.AddCommand(eventsUnsubCmd)
	rootCmd.AddCommand(eventsCmd)
}

func parseEventTypes(raw []string) []store.EventType {
	if len(raw) == 0 {
		return nil
	}
	out := make([]store.EventType, len(raw))
	for i, r := range raw {
		out[i] = store.EventType(r)
	}
	return out
}

func runEvents(cmd *cobra.Command, args []string) error {
	a, cleanup, err := openApp()
	if err != nil {
		return err
	}
	defer cleanup()
	ctx := cmd.Context()

	if eventsSQL != "" {
		rows, err := a.store.RunSQL(ctx, `SELECT id, ts, type, instance FROM events_v WHERE `+eventsSQL+` ORDER BY id`)
		if err != nil {
			return fmt.Errorf("running query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			var ts, typ, instance string
			if err := rows.Scan(&id, &ts, &typ, &instance); err != nil {
				return fmt.Errorf("reading row: %w", err)
			}
			fmt.Printf("%d\t%s\t%s\t%s\n", id, ts, typ, instance)
		}
		return rows.Err()
	}

	filter := eventstail.Filter{Types: parseEventTypes(eventsTypes), Instance: eventsInstance}

	if eventsWait {
		return eventstail.Run(a.store, filter, eventsAfter)
	}

	events, err := a.store.EventsAfter(ctx, eventsAfter, filter.Types, 0)
	if err != nil {
		return fmt.Errorf("reading events: %w", err)
	}
	for _, e := range events {
		if filter.Instance != "" && e.Instance != filter.Instance {
			continue
		}
		fmt.Printf("%d\t%s\t%s\t%s\t%s\n", e.ID, e.Ts.Format("15:04:05"), e.Type, e.Instance, e.Data)
	}
	return nil
}

func runEventsSub(cmd *cobra.Command, args []string) error {
	a, cleanup, err := openApp()
	if err != nil {
		return err
	}
	defer cleanup()
	ctx := cmd.Context()

	self, err := resolveSelf(ctx, a)
	if err != nil {
		return err
	}

	pred, err := subscriptions.Preset(args[0])
	if err != nil {
		return err
	}
	sub, err := subscriptions.Create(ctx, a.store, self, pred, eventsSubOnce)
	if err != nil {
		return fmt.Errorf("creating subscription: %w", err)
	}
	fmt.Printf("subscribed %s (id %s)\n", args[0], sub.ID)
	return nil
}

func runEventsUnsub(cmd *cobra.Command, args []string) error {
	a, cleanup, err := openApp()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := subscriptions.Delete(cmd.Context(), a.store, args[0]); err != nil {
		return fmt.Errorf("deleting subscription %s: %w", args[0], err)
	}
	fmt.Printf("unsubscribed %s\n", args[0])
	return nil
}
