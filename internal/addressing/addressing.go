// Package addressing parses and resolves hcom's @mention targets against
// the set of live instances (spec §4.3).
package addressing

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/hcomhq/hcom/internal/store"
)

// mentionPattern extracts every "@token[:DEVICE]" occurrence from free text,
// for the `mentions` field hcom records alongside every message.
var mentionPattern = regexp.MustCompile(`@([a-zA-Z0-9_-]+(?::[a-zA-Z0-9_-]+)?)`)

// ParseMentions returns the ordered, deduplicated list of @tokens found in
// text, exactly as written (including any ":DEVICE" suffix).
func ParseMentions(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		tok := "@" + m[1]
		if seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

// Result is the outcome of resolving a message's targets.
type Result struct {
	DeliveredTo []string // resolved full names, for cursor logic and read receipts
	Mentions    []string // the parsed @tokens as written, for subscription filtering
	Warnings    []string // non-fatal resolution problems (e.g. relay disabled, unknown device)
}

// Resolve implements the spec §4.3 resolution order for a set of raw
// @tokens parsed from a message's text. targets == nil means no @mentions
// were present; the message broadcasts to every live instance.
func Resolve(ctx context.Context, st *store.Store, targets []string, relayEnabled bool, localDeviceID string) (Result, error) {
	live, err := st.ListInstances(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("listing live instances: %w", err)
	}

	res := Result{Mentions: append([]string(nil), targets...)}

	if len(targets) == 0 {
		for _, in := range live {
			res.DeliveredTo = append(res.DeliveredTo, in.FullName())
		}
		return res, nil
	}

	delivered := make(map[string]bool)
	for _, raw := range targets {
		token := strings.TrimPrefix(raw, "@")
		resolveOne(token, live, relayEnabled, localDeviceID, &res, delivered)
	}

	for name := range delivered {
		res.DeliveredTo = append(res.DeliveredTo, name)
	}
	return res, nil
}

func resolveOne(token string, live []store.Instance, relayEnabled bool, localDeviceID string, res *Result, delivered map[string]bool) {
	// @name:DEVICE -> exact cross-device pair.
	if name, device, ok := strings.Cut(token, ":"); ok {
		if device != localDeviceID {
			if !relayEnabled {
				res.Warnings = append(res.Warnings, fmt.Sprintf("relay disabled: dropping target @%s:%s", name, device))
				return
			}
			// Relay delivery is out of this function's scope (see the
			// relay package); record the qualified name so the caller
			// can hand it to the relay.
			delivered["@"+name+":"+device] = true
			return
		}
		token = name
	}

	// @name where a live instance's base_name or full_name matches.
	var exact []string
	for _, in := range live {
		if in.Name == token {
			exact = append(exact, in.FullName())
		} else if in.FullName() == token {
			exact = append(exact, in.FullName())
		}
	}
	if len(exact) > 0 {
		for _, name := range exact {
			delivered[name] = true
		}
		return
	}

	// @api- (token ending '-') -> all live instances with that tag.
	if strings.HasSuffix(token, "-") {
		tag := strings.TrimSuffix(token, "-")
		matchTag(tag, live, delivered)
		return
	}

	// @api (bare tag, no single instance matched exactly) -> all live
	// instances with that tag; '_' in a candidate name blocks expansion.
	matched := matchTag(token, live, delivered)
	if !matched {
		res.Warnings = append(res.Warnings, fmt.Sprintf("no live instance or tag matches @%s", token))
	}
}

func matchTag(tag string, live []store.Instance, delivered map[string]bool) bool {
	matched := false
	for _, in := range live {
		if in.Tag != tag {
			continue
		}
		if strings.Contains(in.Name, "_") {
			continue
		}
		delivered[in.FullName()] = true
		matched = true
	}
	return matched
}
