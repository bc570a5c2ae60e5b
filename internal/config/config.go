// Package config holds hcom's runtime-tunable settings: gate thresholds,
// retry backoff caps, staleness windows and delivery batch size (spec §9's
// "dynamic config dict" translation hint: one strongly-typed struct with
// validated setters, unknown keys preserved opaquely for pass-through).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/hcomhq/hcom/internal/util"
)

// Config is hcom's full set of tunables. Zero value is meaningless; always
// obtain one via Default() or Load().
type Config struct {
	// MaxMessagesPerDelivery bounds a single PushEngine/PullEngine delivery
	// batch (spec §4.4's "implementation defined" constant).
	MaxMessagesPerDelivery int

	// Gate thresholds (spec §4.6).
	UserActivityCooldown     time.Duration
	OutputStableSeconds      time.Duration
	VerifyTimeoutClaude      time.Duration
	VerifyTimeoutGemini      time.Duration
	VerifyTimeoutCodex       time.Duration
	MaxVerifyRetries         int
	RecoverAfterOutputStable time.Duration // is_output_stable window used by the "force listening" recovery path

	// Retry backoff (spec §4.6).
	BackoffInitial      time.Duration
	BackoffMultiplier   float64
	BackoffWarmMaximum  time.Duration
	BackoffColdMaximum  time.Duration
	BackoffWarmDuration time.Duration

	// Staleness thresholds (spec §4.7, §4.8, §9 Open Questions). StaleTCP
	// must stay greater than StaleNoTCP — see Validate.
	StaleTCPListening        time.Duration
	StaleNoTCPListening      time.Duration
	StaleExit                time.Duration
	StaleListeningHeartbeat  time.Duration
	StaleOther               time.Duration
	GateBlockLogDebounce     time.Duration
	SubagentStopLookback     time.Duration
	DaemonIdleTimeout        time.Duration
	DaemonDrainTimeout       time.Duration

	// NotifyDedupeWindow bounds how often a repeated Notification-hook
	// firing re-emits the same idle status for an instance. Notify hooks
	// are one-shot processes with no memory of the last firing, so this
	// dedupe state is kept on disk rather than in-process.
	NotifyDedupeWindow time.Duration

	// Unrecognised keys read from the TOML file, preserved for pass-through
	// to external tooling instead of being silently dropped.
	Extra map[string]any
}

// Default returns hcom's built-in configuration (spec §9 Open Question
// decisions).
func Default() *Config {
	return &Config{
		MaxMessagesPerDelivery:   50,
		UserActivityCooldown:     500 * time.Millisecond,
		OutputStableSeconds:      1 * time.Second,
		VerifyTimeoutClaude:      2 * time.Second,
		VerifyTimeoutGemini:      2 * time.Second,
		VerifyTimeoutCodex:       10 * time.Second,
		MaxVerifyRetries:         5,
		RecoverAfterOutputStable: 10 * time.Second,
		BackoffInitial:           250 * time.Millisecond,
		BackoffMultiplier:        2,
		BackoffWarmMaximum:       2 * time.Second,
		BackoffColdMaximum:       5 * time.Second,
		BackoffWarmDuration:      60 * time.Second,
		StaleTCPListening:        35 * time.Second,
		StaleNoTCPListening:      10 * time.Second,
		StaleExit:                60 * time.Second,
		StaleListeningHeartbeat:  1 * time.Hour,
		StaleOther:               12 * time.Hour,
		GateBlockLogDebounce:     5 * time.Second,
		SubagentStopLookback:     10 * time.Second,
		DaemonIdleTimeout:        30 * time.Minute,
		DaemonDrainTimeout:       5 * time.Second,
		NotifyDedupeWindow:       10 * time.Second,
		Extra:                    map[string]any{},
	}
}

// fileShape mirrors Config's TOML-facing fields. Durations are stored in
// the file as milliseconds so the struct round-trips without a custom
// TOML unmarshaler for time.Duration.
type fileShape struct {
	MaxMessagesPerDelivery      int     `toml:"max_messages_per_delivery"`
	UserActivityCooldownMs      int64   `toml:"user_activity_cooldown_ms"`
	OutputStableSecondsMs       int64   `toml:"output_stable_seconds_ms"`
	VerifyTimeoutClaudeMs       int64   `toml:"verify_timeout_claude_ms"`
	VerifyTimeoutGeminiMs       int64   `toml:"verify_timeout_gemini_ms"`
	VerifyTimeoutCodexMs        int64   `toml:"verify_timeout_codex_ms"`
	MaxVerifyRetries            int     `toml:"max_verify_retries"`
	RecoverAfterOutputStableMs  int64   `toml:"recover_after_output_stable_ms"`
	BackoffInitialMs            int64   `toml:"backoff_initial_ms"`
	BackoffMultiplier            float64 `toml:"backoff_multiplier"`
	BackoffWarmMaximumMs        int64   `toml:"backoff_warm_maximum_ms"`
	BackoffColdMaximumMs        int64   `toml:"backoff_cold_maximum_ms"`
	BackoffWarmDurationMs       int64   `toml:"backoff_warm_duration_ms"`
	StaleTCPListeningMs         int64   `toml:"stale_tcp_listening_ms"`
	StaleNoTCPListeningMs       int64   `toml:"stale_no_tcp_listening_ms"`
	StaleExitMs                 int64   `toml:"stale_exit_ms"`
	StaleListeningHeartbeatMs   int64   `toml:"stale_listening_heartbeat_ms"`
	StaleOtherMs                 int64  `toml:"stale_other_ms"`
	GateBlockLogDebounceMs       int64  `toml:"gate_block_log_debounce_ms"`
	SubagentStopLookbackMs       int64  `toml:"subagent_stop_lookback_ms"`
	DaemonIdleTimeoutMs          int64  `toml:"daemon_idle_timeout_ms"`
	DaemonDrainTimeoutMs         int64  `toml:"daemon_drain_timeout_ms"`
	NotifyDedupeWindowMs         int64  `toml:"notify_dedupe_window_ms"`
}

func (c *Config) toFileShape() fileShape {
	return fileShape{
		MaxMessagesPerDelivery:     c.MaxMessagesPerDelivery,
		UserActivityCooldownMs:     c.UserActivityCooldown.Milliseconds(),
		OutputStableSecondsMs:      c.OutputStableSeconds.Milliseconds(),
		VerifyTimeoutClaudeMs:      c.VerifyTimeoutClaude.Milliseconds(),
		VerifyTimeoutGeminiMs:      c.VerifyTimeoutGemini.Milliseconds(),
		VerifyTimeoutCodexMs:       c.VerifyTimeoutCodex.Milliseconds(),
		MaxVerifyRetries:           c.MaxVerifyRetries,
		RecoverAfterOutputStableMs: c.RecoverAfterOutputStable.Milliseconds(),
		BackoffInitialMs:           c.BackoffInitial.Milliseconds(),
		BackoffMultiplier:          c.BackoffMultiplier,
		BackoffWarmMaximumMs:       c.BackoffWarmMaximum.Milliseconds(),
		BackoffColdMaximumMs:       c.BackoffColdMaximum.Milliseconds(),
		BackoffWarmDurationMs:      c.BackoffWarmDuration.Milliseconds(),
		StaleTCPListeningMs:        c.StaleTCPListening.Milliseconds(),
		StaleNoTCPListeningMs:      c.StaleNoTCPListening.Milliseconds(),
		StaleExitMs:                c.StaleExit.Milliseconds(),
		StaleListeningHeartbeatMs:  c.StaleListeningHeartbeat.Milliseconds(),
		StaleOtherMs:               c.StaleOther.Milliseconds(),
		GateBlockLogDebounceMs:     c.GateBlockLogDebounce.Milliseconds(),
		SubagentStopLookbackMs:     c.SubagentStopLookback.Milliseconds(),
		DaemonIdleTimeoutMs:        c.DaemonIdleTimeout.Milliseconds(),
		DaemonDrainTimeoutMs:       c.DaemonDrainTimeout.Milliseconds(),
		NotifyDedupeWindowMs:       c.NotifyDedupeWindow.Milliseconds(),
	}
}

func msOrDefault(ms int64, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func (c *Config) applyFileShape(fs fileShape, extra map[string]any) {
	if fs.MaxMessagesPerDelivery > 0 {
		c.MaxMessagesPerDelivery = fs.MaxMessagesPerDelivery
	}
	c.UserActivityCooldown = msOrDefault(fs.UserActivityCooldownMs, c.UserActivityCooldown)
	c.OutputStableSeconds = msOrDefault(fs.OutputStableSecondsMs, c.OutputStableSeconds)
	c.VerifyTimeoutClaude = msOrDefault(fs.VerifyTimeoutClaudeMs, c.VerifyTimeoutClaude)
	c.VerifyTimeoutGemini = msOrDefault(fs.VerifyTimeoutGeminiMs, c.VerifyTimeoutGemini)
	c.VerifyTimeoutCodex = msOrDefault(fs.VerifyTimeoutCodexMs, c.VerifyTimeoutCodex)
	if fs.MaxVerifyRetries > 0 {
		c.MaxVerifyRetries = fs.MaxVerifyRetries
	}
	c.RecoverAfterOutputStable = msOrDefault(fs.RecoverAfterOutputStableMs, c.RecoverAfterOutputStable)
	c.BackoffInitial = msOrDefault(fs.BackoffInitialMs, c.BackoffInitial)
	if fs.BackoffMultiplier > 0 {
		c.BackoffMultiplier = fs.BackoffMultiplier
	}
	c.BackoffWarmMaximum = msOrDefault(fs.BackoffWarmMaximumMs, c.BackoffWarmMaximum)
	c.BackoffColdMaximum = msOrDefault(fs.BackoffColdMaximumMs, c.BackoffColdMaximum)
	c.BackoffWarmDuration = msOrDefault(fs.BackoffWarmDurationMs, c.BackoffWarmDuration)
	c.StaleTCPListening = msOrDefault(fs.StaleTCPListeningMs, c.StaleTCPListening)
	c.StaleNoTCPListening = msOrDefault(fs.StaleNoTCPListeningMs, c.StaleNoTCPListening)
	c.StaleExit = msOrDefault(fs.StaleExitMs, c.StaleExit)
	c.StaleListeningHeartbeat = msOrDefault(fs.StaleListeningHeartbeatMs, c.StaleListeningHeartbeat)
	c.StaleOther = msOrDefault(fs.StaleOtherMs, c.StaleOther)
	c.GateBlockLogDebounce = msOrDefault(fs.GateBlockLogDebounceMs, c.GateBlockLogDebounce)
	c.SubagentStopLookback = msOrDefault(fs.SubagentStopLookbackMs, c.SubagentStopLookback)
	c.DaemonIdleTimeout = msOrDefault(fs.DaemonIdleTimeoutMs, c.DaemonIdleTimeout)
	c.DaemonDrainTimeout = msOrDefault(fs.DaemonDrainTimeoutMs, c.DaemonDrainTimeout)
	c.NotifyDedupeWindow = msOrDefault(fs.NotifyDedupeWindowMs, c.NotifyDedupeWindow)
	c.Extra = extra
}

// Dir returns HCOM_DIR, defaulting to ~/.hcom, with ~ expansion applied.
func Dir() string {
	if d := os.Getenv("HCOM_DIR"); d != "" {
		return util.ExpandHome(d)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hcom"
	}
	return filepath.Join(home, ".hcom")
}

// Path returns the path to the config.toml file under Dir().
func Path() string {
	return filepath.Join(Dir(), "config.toml")
}

// Load reads config.toml under Dir(), returning Default() unmodified if the
// file doesn't exist. Unknown keys are preserved in Config.Extra rather
// than rejected, so newer CLI builds interoperate with older config files.
func Load() (*Config, error) {
	return LoadFile(Path())
}

// LoadFile reads a specific TOML config file.
func LoadFile(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var raw map[string]any
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	var fs fileShape
	if _, err := toml.Decode(string(data), &fs); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	known := knownKeys(fs)
	extra := map[string]any{}
	for k, v := range raw {
		if !known[k] {
			extra[k] = v
		}
	}

	c.applyFileShape(fs, extra)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func knownKeys(fileShape) map[string]bool {
	return map[string]bool{
		"max_messages_per_delivery": true, "user_activity_cooldown_ms": true,
		"output_stable_seconds_ms": true, "verify_timeout_claude_ms": true,
		"verify_timeout_gemini_ms": true, "verify_timeout_codex_ms": true,
		"max_verify_retries": true, "recover_after_output_stable_ms": true,
		"backoff_initial_ms": true, "backoff_multiplier": true,
		"backoff_warm_maximum_ms": true, "backoff_cold_maximum_ms": true,
		"backoff_warm_duration_ms": true, "stale_tcp_listening_ms": true,
		"stale_no_tcp_listening_ms": true, "stale_exit_ms": true,
		"stale_listening_heartbeat_ms": true, "stale_other_ms": true,
		"gate_block_log_debounce_ms": true, "subagent_stop_lookback_ms": true,
		"daemon_idle_timeout_ms": true, "daemon_drain_timeout_ms": true,
		"notify_dedupe_window_ms": true,
	}
}

// Validate enforces the invariants spec §9 calls out explicitly: the
// TCP-attached staleness threshold must exceed the no-TCP one.
func (c *Config) Validate() error {
	if c.StaleTCPListening <= c.StaleNoTCPListening {
		return fmt.Errorf("config: stale_tcp_listening_ms (%s) must exceed stale_no_tcp_listening_ms (%s)",
			c.StaleTCPListening, c.StaleNoTCPListening)
	}
	if c.MaxMessagesPerDelivery <= 0 {
		return fmt.Errorf("config: max_messages_per_delivery must be positive")
	}
	if c.MaxVerifyRetries < 0 {
		return fmt.Errorf("config: max_verify_retries must be non-negative")
	}
	return nil
}

// SetStaleThresholds is the validated setter for the staleness pair called
// out in spec §9; it rejects updates that would violate the monotone
// TCP > no-TCP invariant instead of silently accepting bad config.
func (c *Config) SetStaleThresholds(tcp, noTCP time.Duration) error {
	if tcp <= noTCP {
		return fmt.Errorf("config: stale tcp threshold %s must exceed no-tcp threshold %s", tcp, noTCP)
	}
	c.StaleTCPListening = tcp
	c.StaleNoTCPListening = noTCP
	return nil
}

// Save writes the config to Dir()/config.toml.
func Save(c *Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(Dir(), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	f, err := os.Create(Path())
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()
	enc := toml.NewEncoder(f)
	return enc.Encode(c.toFileShape())
}
