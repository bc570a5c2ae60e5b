package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hcomhq/hcom/internal/notifybus"
	"github.com/hcomhq/hcom/internal/pullengine"
)

var (
	listenTimeout time.Duration
	listenLimit   int
)

var listenCmd = &cobra.Command{
	Use:     "listen",
	GroupID: GroupCore,
	Short:   "Block until a message arrives, or a timeout elapses",
	Long: `Listen drains unread messages for the calling instance (spec §4.7): it
returns immediately if any are already pending, otherwise it registers a
wake endpoint and blocks until one arrives, the relay reports activity, or
--timeout elapses.`,
	RunE: runListen,
}

func init() {
	listenCmd.Flags().DurationVar(&listenTimeout, "timeout", 60*time.Second, "how long to block waiting for a message")
	listenCmd.Flags().IntVar(&listenLimit, "limit", 0, "max messages to drain in one call (0 uses the configured default)")
	rootCmd.AddCommand(listenCmd)
}

func runListen(cmd *cobra.Command, args []string) error {
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

	limit := listenLimit
	if limit <= 0 {
		limit = a.cfg.MaxMessagesPerDelivery
	}

	res, err := pullengine.ListenWithBus(ctx, a.store, a.bus, a.relay, self, notifybus.KindPull, listenTimeout, pullengine.MatchAll, limit)
	if err != nil {
		return fmt.Errorf("listening: %w", err)
	}

	if len(res.Messages) == 0 {
		fmt.Println("(timed out, no messages)")
		return newSilentExit(1)
	}
	for _, d := range res.Messages {
		fmt.Printf("[%s] %s: %s\n", d.Event.Ts.Format("15:04:05"), d.Message.From, d.Message.Text)
	}
	return nil
}
