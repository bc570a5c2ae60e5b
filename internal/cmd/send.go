package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hcomhq/hcom/internal/messagebus"
)

var (
	sendIntent  string
	sendReplyTo string
	sendThread  string
	sendStdin   bool
)

var sendCmd = &cobra.Command{
	Use:     "send [text] [@target...]",
	GroupID: GroupCore,
	Short:   "Send a message to one or more instances, or broadcast",
	Long: `Send appends a message event and wakes whichever instances it resolves to
(spec §4.4). With no @target the message broadcasts to every live instance;
"@name" addresses one instance by its base name, "@tag-" addresses every
instance under a tag, and "@name:DEVICE" addresses across devices when a
relay is configured.

Examples:
  hcom send "ready for review"
  hcom send "can you check this" @nova
  hcom send --stdin @nova < patch.diff`,
	Args: cobra.ArbitraryArgs,
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendIntent, "intent", "", "free-form intent tag carried on the message")
	sendCmd.Flags().StringVar(&sendReplyTo, "reply-to", "", "id of the message this one replies to")
	sendCmd.Flags().StringVar(&sendThread, "thread", "", "thread id grouping this message with others")
	sendCmd.Flags().BoolVar(&sendStdin, "stdin", false, "read the message body from stdin instead of args[0]")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	var text string
	var targets []string

	if sendStdin {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		text = strings.TrimRight(string(data), "\n")
		targets = args
	} else {
		if len(args) == 0 {
			return fmt.Errorf("send requires a message, or --stdin")
		}
		text = args[0]
		targets = args[1:]
	}

	a, cleanup, err := openApp()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	from, err := resolveSelf(ctx, a)
	if err != nil {
		return err
	}

	_, res, err := messagebus.Send(ctx, a.store, a.bus, a.relay, messagebus.SendParams{
		From:          from,
		Text:          text,
		Targets:       targets,
		Intent:        sendIntent,
		ReplyTo:       sendReplyTo,
		Thread:        sendThread,
		RelayEnabled:  len(targets) > 0,
		LocalDeviceID: "",
	})
	if err != nil {
		return fmt.Errorf("sending: %w", err)
	}

	if len(res.DeliveredTo) == 0 {
		fmt.Println("sent (no live recipients)")
		return nil
	}
	fmt.Printf("sent to %s\n", strings.Join(res.DeliveredTo, ", "))
	return nil
}
