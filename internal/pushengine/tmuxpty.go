package pushengine

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hcomhq/hcom/internal/tmux"
)

// readyPattern is CLAUDE_CODEX_READY_PATTERN: the status-bar hint both
// Claude and Codex print once idle at their prompt
// (original_source/src/hcom/pty/claude.py: '"? for shortcuts" in status bar
// when idle').
var readyPattern = regexp.MustCompile(`\? for shortcuts`)

// approvalPattern matches the permission-prompt banner shown while a tool
// use awaits a yes/no choice at the bottom of the pane.
var approvalPattern = regexp.MustCompile(`(?i)do you want to proceed\?|\(y/n\)`)

// TmuxPTY implements PTYLike by reading one tmux pane's captured screen. It
// generalizes claude.py/codex.py/gemini.py's per-tool PTYWrapper views (not
// carried over individually — pty_wrapper.py itself isn't part of this
// repo's lineage) onto one shared capture-pane-backed predicate set good
// enough for any tool whose idle/approval/prompt states show up on screen.
type TmuxPTY struct {
	t      *tmux.Tmux
	target string

	mu          sync.Mutex
	lastScreen  string
	lastChanged time.Time
}

// NewTmuxPTY builds a PTYLike bound to one tmux target ("session" or
// "session:window.pane"), reading through t.
func NewTmuxPTY(t *tmux.Tmux, target string) *TmuxPTY {
	return &TmuxPTY{t: t, target: target, lastChanged: time.Now()}
}

func (p *TmuxPTY) screen() string {
	out, err := p.t.CapturePane(p.target, 40)
	if err != nil {
		return ""
	}
	p.mu.Lock()
	if out != p.lastScreen {
		p.lastScreen = out
		p.lastChanged = time.Now()
	}
	p.mu.Unlock()
	return out
}

// IsWaitingApproval reports whether the pane shows a pending y/n tool-use
// approval, gate predicate 1 (spec §4.6).
func (p *TmuxPTY) IsWaitingApproval() bool {
	return screenWaitingApproval(p.screen())
}

// IsUserActive approximates "user has started typing" from the trailing
// screen line: tmux can observe rendered text, not raw keystrokes, so an
// unsubmitted, non-ready trailing line stands in for push_delivery.py's
// is_user_active signal.
func (p *TmuxPTY) IsUserActive() bool {
	return screenUserActive(p.screen())
}

// IsReady reports whether the ready pattern is visible on screen.
func (p *TmuxPTY) IsReady() bool {
	return screenReady(p.screen())
}

// screenWaitingApproval, screenUserActive and screenReady are the pure
// string predicates behind TmuxPTY's methods, split out so they're testable
// without a live tmux binary.

func screenWaitingApproval(screen string) bool {
	return approvalPattern.MatchString(screen)
}

func screenReady(screen string) bool {
	return readyPattern.MatchString(screen)
}

func screenUserActive(screen string) bool {
	lines := strings.Split(screen, "\n")
	if len(lines) == 0 {
		return false
	}
	last := strings.TrimSpace(lines[len(lines)-1])
	return last != "" && !readyPattern.MatchString(last)
}

// IsPromptEmpty is the complement of IsUserActive: no uncommitted input.
func (p *TmuxPTY) IsPromptEmpty() bool {
	return !p.IsUserActive()
}

// IsOutputStable reports whether the captured screen has been unchanged for
// at least since, refreshing the capture first so a caller polling in a
// loop sees up-to-date staleness.
func (p *TmuxPTY) IsOutputStable(since time.Duration) bool {
	p.screen()
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Since(p.lastChanged) >= since
}
