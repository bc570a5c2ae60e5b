package cmd

import (
	"context"

	"github.com/hcomhq/hcom/internal/logx"
	"github.com/hcomhq/hcom/internal/messagebus"
	"github.com/hcomhq/hcom/internal/notifybus"
	"github.com/hcomhq/hcom/internal/pushengine"
	"github.com/hcomhq/hcom/internal/store"
	"github.com/hcomhq/hcom/internal/tmux"
)

// pushTrigger is the line PushEngine injects into a tool's prompt; the
// tool's own UserPromptSubmit/Stop hook, not this injection, delivers the
// actual message text (claude.py: "Injects \"<hcom>\" trigger").
const pushTrigger = "<hcom>"

// startPushEngines launches one pushengine.Engine per currently active
// background instance, each driving its tmux pane through TmuxPTY. This is
// the daemon's job rather than any one CLI invocation's: the engines must
// outlive the command that happened to start them (spec §4.6 assumes one
// long-running loop per PTY for the life of the instance).
func startPushEngines(ctx context.Context, st *store.Store, bus *notifybus.Bus) {
	instances, err := st.ListInstances(ctx)
	if err != nil {
		logx.Warn("pushengine", "list.fail", logx.F("err", err))
		return
	}
	for _, in := range instances {
		if !in.Background {
			continue
		}
		go runPushEngine(ctx, st, bus, in)
	}
}

func runPushEngine(ctx context.Context, st *store.Store, bus *notifybus.Bus, in store.Instance) {
	name := in.FullName()
	t := tmux.NewTmux()
	if ok, err := t.HasSession(name); err != nil || !ok {
		return
	}

	ln, port, err := bus.Listen(ctx, name, notifybus.KindPush)
	if err != nil {
		logx.Warn("pushengine", "listen.fail", logx.F("instance", name), logx.F("err", err))
		return
	}
	defer bus.Unregister(ctx, name, notifybus.KindPush, port)
	notifier := notifybus.NewAcceptNotifier(ln)
	defer notifier.Close()

	pty := pushengine.NewTmuxPTY(t, name)
	gate := pushengine.DefaultGate()
	if in.Tool == "claude" {
		gate = pushengine.ClaudeGate()
	}

	cfg := pushengine.Config{
		InstanceName: name,
		Store:        st,
		Notifier:     notifier,
		PTY:          pty,
		Gate:         gate,

		HasPending: func(ctx context.Context) (bool, error) {
			cur, err := st.GetInstance(ctx, name)
			if err != nil || cur == nil {
				return false, err
			}
			deliveries, _, err := messagebus.Unread(ctx, st, *cur, 1)
			return len(deliveries) > 0, err
		},
		TryDeliver: func(ctx context.Context) (bool, error) {
			return t.SendKeys(name, pushTrigger, 0) == nil, nil
		},
		TryEnter: func(ctx context.Context) (bool, error) {
			return t.SendKeysRaw(name, "Enter") == nil, nil
		},
		IsIdle: func(ctx context.Context) (bool, error) {
			cur, err := st.GetInstance(ctx, name)
			if err != nil || cur == nil {
				return false, err
			}
			return cur.Status == "listening", nil
		},
		GetCursor: func(ctx context.Context) (int64, error) {
			cur, err := st.GetInstance(ctx, name)
			if err != nil || cur == nil {
				return 0, err
			}
			return cur.LastEventID, nil
		},
		RebindCheck: func(ctx context.Context) (string, bool, error) {
			cur, err := st.GetInstance(ctx, name)
			if err != nil {
				return "", false, err
			}
			if cur == nil {
				return "", false, nil
			}
			return cur.FullName(), true, nil
		},
	}

	engine := pushengine.New(cfg)
	if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
		logx.Warn("pushengine", "run.exit", logx.F("instance", name), logx.F("err", err))
	}
}
