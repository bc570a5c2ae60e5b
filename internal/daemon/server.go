// Package daemon implements hcom's Unix-socket fast path (spec §6):
// persistent process, one already-open store and dispatch table, so a hook
// or CLI invocation pays socket round-trip cost instead of process startup
// cost. Grounded on original_source/src/hcom/daemon.py's threaded
// socketserver daemon, adapted to net.Listener + goroutine-per-connection.
package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hcomhq/hcom/internal/config"
	"github.com/hcomhq/hcom/internal/lock"
	"github.com/hcomhq/hcom/internal/logx"
	"github.com/hcomhq/hcom/internal/protocol"
	"github.com/hcomhq/hcom/internal/store"
)

const (
	// ProtocolVersion is the wire version; a mismatched client is logged,
	// not rejected (an older client still gets a best-effort response).
	ProtocolVersion = 1
	// MaxRequestSize bounds a single request line (spec §6).
	MaxRequestSize = 16 * 1024 * 1024

	socketFileName  = "hcomd.sock"
	pidFileName     = "hcomd.pid"
	versionFileName = "daemon.version"
)

// Request is one client->daemon call, one JSON object per line (spec §6).
type Request struct {
	Version     int               `json:"version"`
	RequestID   string            `json:"request_id"`
	Kind        string            `json:"kind"` // "hook" | "cli"
	Argv        []string          `json:"argv,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Cwd         string            `json:"cwd,omitempty"`
	Stdin       string            `json:"stdin,omitempty"`
	StdinIsTTY  bool              `json:"stdin_is_tty,omitempty"`
	StdoutIsTTY bool              `json:"stdout_is_tty,omitempty"`
	HookType    string            `json:"hook_type,omitempty"`
}

// Response is the daemon's reply to one Request.
type Response struct {
	ExitCode  int    `json:"exit_code"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	RequestID string `json:"request_id,omitempty"`
}

// CLIHandler runs a "cli"-kind request. The CLI argument parser itself is
// an external collaborator (spec §1's explicit non-goals); cmd/hcom
// supplies this so the daemon stays agnostic of the command surface.
type CLIHandler func(ctx context.Context, req Request) Response

// Server is hcom's Unix-socket daemon.
type Server struct {
	Store    *store.Store
	Registry *protocol.Registry
	CLI      CLIHandler // nil: "cli" requests get a generic not-implemented response

	SocketPath  string
	PIDPath     string
	VersionPath string
	Version     string

	IdleTimeout  time.Duration
	DrainTimeout time.Duration

	listener    net.Listener
	lockRelease func()

	lastActivity atomic.Int64 // UnixNano of the last request seen
	active       atomic.Int64 // in-flight request count

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}
}

// SocketPath, PIDPath and VersionPath are hcom's well-known daemon file
// locations under an HCOM_DIR-rooted directory.
func SocketPath(dir string) string  { return filepath.Join(dir, socketFileName) }
func PIDPath(dir string) string     { return filepath.Join(dir, pidFileName) }
func VersionPath(dir string) string { return filepath.Join(dir, ".tmp", versionFileName) }

// NewServer wires a Server from cfg's daemon tunables and config.Dir's
// layout. version is written to VersionPath so a stale client can detect a
// mismatch and force a restart (spec §6).
func NewServer(st *store.Store, reg *protocol.Registry, cli CLIHandler, cfg *config.Config, version string) *Server {
	dir := config.Dir()
	return &Server{
		Store:    st,
		Registry: reg,
		CLI:      cli,

		SocketPath:  SocketPath(dir),
		PIDPath:     PIDPath(dir),
		VersionPath: VersionPath(dir),
		Version:     version,

		IdleTimeout:  cfg.DaemonIdleTimeout,
		DrainTimeout: cfg.DaemonDrainTimeout,

		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start acquires the singleton PID-file lock, binds the socket, writes the
// version file, and begins serving in a background goroutine. ErrAlreadyRunning
// is returned (not a process kill/retry) when another daemon holds the lock;
// hcom's "zombie daemon" recovery is a `stop`-then-`start` operator action,
// not something the library does silently.
func (s *Server) Start() error {
	dir := filepath.Dir(s.SocketPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating daemon dir: %w", err)
	}

	release, ok, err := lock.TryFlockAcquire(s.PIDPath)
	if err != nil {
		return fmt.Errorf("acquiring daemon pid lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	s.lockRelease = release

	if err := writePIDFile(s.PIDPath); err != nil {
		release()
		return err
	}

	os.Remove(s.SocketPath)
	l, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		release()
		return fmt.Errorf("listening on %s: %w", s.SocketPath, err)
	}
	os.Chmod(s.SocketPath, 0o600)
	s.listener = l

	if err := os.MkdirAll(filepath.Dir(s.VersionPath), 0o755); err != nil {
		l.Close()
		release()
		return fmt.Errorf("creating version dir: %w", err)
	}
	if err := atomicWriteFile(s.VersionPath, []byte(s.Version)); err != nil {
		l.Close()
		release()
		return fmt.Errorf("writing version file: %w", err)
	}

	s.lastActivity.Store(time.Now().UnixNano())
	logx.Info("daemon", "start", logx.F("socket", s.SocketPath), logx.F("version", s.Version))

	go s.idleLoop()
	go s.acceptLoop()
	return nil
}

// ErrAlreadyRunning is returned by Start when another daemon already holds
// the PID-file lock.
var ErrAlreadyRunning = fmt.Errorf("daemon already running")

// Shutdown stops accepting new connections, waits up to DrainTimeout for
// in-flight requests to finish, then releases the socket, PID lock, and
// version file.
func (s *Server) Shutdown(ctx context.Context) {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		if s.listener != nil {
			s.listener.Close()
		}

		deadline := time.Now().Add(s.DrainTimeout)
		for s.active.Load() > 0 && time.Now().Before(deadline) {
			select {
			case <-ctx.Done():
				deadline = time.Now()
			case <-time.After(50 * time.Millisecond):
			}
		}

		os.Remove(s.SocketPath)
		if s.lockRelease != nil {
			s.lockRelease()
		}
		os.Remove(s.VersionPath)
		logx.Info("daemon", "stop")
		close(s.done)
	})
}

// Wait blocks until Shutdown has finished cleanup.
func (s *Server) Wait() { <-s.done }

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				logx.Warn("daemon", "accept_failed", logx.F("err", err))
				return
			}
		}
		s.active.Add(1)
		go func() {
			defer s.active.Add(-1)
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	s.lastActivity.Store(time.Now().UnixNano())

	conn.SetDeadline(time.Now().Add(60 * time.Second))
	reader := bufio.NewReaderSize(io.LimitReader(conn, MaxRequestSize+1), 64*1024)

	line, err := reader.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return
	}
	if len(line) > MaxRequestSize {
		writeResponse(conn, Response{ExitCode: 1, Stderr: "request exceeds 16MB limit"})
		return
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		writeResponse(conn, Response{ExitCode: 1, Stderr: fmt.Sprintf("invalid JSON: %v", err)})
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.Version != 0 && req.Version != ProtocolVersion {
		logx.Warn("daemon", "version_mismatch", logx.F("got", req.Version), logx.F("want", ProtocolVersion))
	}

	start := time.Now()
	resp := s.dispatch(context.Background(), req)
	resp.RequestID = req.RequestID

	logx.Info("daemon", "request_done",
		logx.F("request_id", req.RequestID),
		logx.F("kind", req.Kind),
		logx.F("exit_code", resp.ExitCode),
		logx.F("duration_ms", time.Since(start).Milliseconds()),
	)
	writeResponse(conn, resp)
}

// dispatch routes a decoded Request to the hook registry or the CLI
// handler, matching dispatch_request's hook-payload construction: Codex's
// collapsed notify hook and Gemini's distinct key names each get their own
// Payload constructor, everything else normalizes as Claude's.
func (s *Server) dispatch(ctx context.Context, req Request) Response {
	switch req.Kind {
	case "hook":
		return resultToResponse(s.dispatchHook(ctx, req))
	case "cli":
		if s.CLI == nil {
			return Response{ExitCode: 1, Stderr: "daemon has no cli handler configured"}
		}
		return s.CLI(ctx, req)
	default:
		return Response{ExitCode: 1, Stderr: "unknown request kind: " + req.Kind}
	}
}

func (s *Server) dispatchHook(ctx context.Context, req Request) protocol.HookResult {
	var stdin map[string]any
	if req.Stdin != "" {
		if err := json.Unmarshal([]byte(req.Stdin), &stdin); err != nil {
			return protocol.Error(fmt.Sprintf("invalid hook payload JSON: %v", err), 1)
		}
	}
	if stdin == nil {
		stdin = map[string]any{}
	}

	hookType := protocol.HookType(req.HookType)
	var payload protocol.Payload
	switch {
	case req.HookType == "codex-notify":
		argv := req.Argv
		raw := map[string]any{}
		if len(argv) > 1 {
			if err := json.Unmarshal([]byte(argv[1]), &raw); err != nil {
				return protocol.Error(fmt.Sprintf("invalid codex payload JSON: %v", err), 1)
			}
		}
		payload = protocol.FromCodex(raw)
	case strings.HasPrefix(req.HookType, "gemini-"):
		payload = protocol.FromGemini(stdin, hookType)
	default:
		payload = protocol.FromClaude(stdin, hookType)
	}
	payload.ProcessID = req.Env["HCOM_PROCESS_ID"]

	res, err := s.Registry.Dispatch(ctx, s.Store, payload)
	if err != nil {
		return protocol.Error(err.Error(), 1)
	}
	return res
}

func resultToResponse(r protocol.HookResult) Response {
	resp := Response{ExitCode: r.ExitCode, Stdout: r.Stdout, Stderr: r.Stderr}
	if r.HookOutput != nil {
		if b, err := json.Marshal(r.HookOutput); err == nil {
			resp.Stdout = string(b)
		}
	}
	return resp
}

func writeResponse(conn net.Conn, resp Response) {
	b, err := json.Marshal(resp)
	if err != nil {
		return
	}
	b = append(b, '\n')
	conn.Write(b)
}

// idleLoop shuts the daemon down after IdleTimeout of inactivity with no
// in-flight requests, mirroring idle_shutdown_timer's behavior.
func (s *Server) idleLoop() {
	if s.IdleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			if s.active.Load() > 0 {
				continue
			}
			last := time.Unix(0, s.lastActivity.Load())
			if time.Since(last) <= s.IdleTimeout {
				continue
			}
			logx.Info("daemon", "idle_timeout", logx.F("idle_seconds", s.IdleTimeout.Seconds()))
			go s.Shutdown(context.Background())
			return
		}
	}
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644)
}

// atomicWriteFile writes data to a temp file in the same directory as path
// and renames it into place, so a reader never observes a partial write.
func atomicWriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
