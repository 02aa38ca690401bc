// Package supervisor owns the lifecycle of the analysis tool subprocess.
//
// It decides, at any instant, whether tool calls should be attempted: it
// spawns the process, watches its output for the readiness marker, health-
// checks it on a cadence, restarts it with a bounded budget, and downgrades
// to fallback mode when the process cannot be kept alive. All subprocess
// failures degrade service; none of them crash the host.
package supervisor

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbd888/chainscout/internal/metrics"
	"github.com/mbd888/chainscout/internal/toolproc"
	"github.com/mbd888/chainscout/internal/traces"
)

// State represents the supervisor's connection state.
type State int

const (
	StateDisconnected State = iota // No subprocess, no pending attempt
	StateConnecting                // Spawned, waiting for the readiness marker
	StateConnected                 // Live subprocess, tool calls flow through
	StateFallback                  // All requests served by direct API calls
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFallback:
		return "fallback_active"
	default:
		return "unknown"
	}
}

var stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "chainscout",
	Subsystem: "supervisor",
	Name:      "state_transitions_total",
	Help:      "Supervisor state transitions by from-state and to-state.",
}, []string{"from_state", "to_state"})

func init() {
	prometheus.MustRegister(stateTransitions)
}

// Runner is the tool-process client the supervisor drives.
// Implemented by *toolproc.Client.
type Runner interface {
	Spawn(ctx context.Context, hooks toolproc.Hooks) error
	Handshake() error
	Call(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)
	Alive() bool
	HasProcess() bool
	Kill()
}

// Clock abstracts timer creation so retry and backoff timing is testable.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// DefaultReadyMarker is the line fragment the stock tool server prints on
// stderr once it is serving.
const DefaultReadyMarker = "tool server ready on stdio"

// Config holds the supervisory timing knobs.
type Config struct {
	ReadyMarker    string        // substring that signals subprocess readiness
	ConnectTimeout time.Duration // marker deadline after spawn (default 10s)
	PollInterval   time.Duration // Start's readiness poll period (default 1s)
	ConnectPolls   int           // Start's overall wait budget in polls (default 20)
	HealthInterval time.Duration // liveness check cadence (default 30s)
	RestartBackoff time.Duration // delay before an automatic restart (default 5s)
	MaxRestarts    int           // automatic restart budget (default 3)
}

func (c *Config) applyDefaults() {
	if c.ReadyMarker == "" {
		c.ReadyMarker = DefaultReadyMarker
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.ConnectPolls <= 0 {
		c.ConnectPolls = 20
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 30 * time.Second
	}
	if c.RestartBackoff <= 0 {
		c.RestartBackoff = 5 * time.Second
	}
	if c.MaxRestarts <= 0 {
		c.MaxRestarts = 3
	}
}

// Status is a point-in-time snapshot of the supervisor.
type Status struct {
	State          string `json:"state"`
	Connected      bool   `json:"connected"`
	FallbackActive bool   `json:"fallbackActive"`
	LastError      string `json:"lastError,omitempty"`
	AttemptsUsed   int    `json:"attemptsUsed"`
	MaxAttempts    int    `json:"maxAttempts"`
	HasProcess     bool   `json:"hasProcess"`
	ProcessDead    bool   `json:"processDead"`
}

// Supervisor is the connection/fallback lifecycle manager.
// All connection state is owned here and mutated only by its transitions;
// everything else reads it through snapshots.
type Supervisor struct {
	cfg    Config
	runner Runner
	clock  Clock
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	attempts    int
	lastError   string
	gen         uint64        // spawn generation; stale hooks are ignored
	healthStop  chan struct{} // non-nil while the health loop runs
	restartStop chan struct{} // non-nil while an auto-restart is pending
}

// Option configures the Supervisor.
type Option func(*Supervisor)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithClock sets a custom clock (for tests).
func WithClock(c Clock) Option {
	return func(s *Supervisor) { s.clock = c }
}

// New creates a supervisor driving runner.
func New(runner Runner, cfg Config, opts ...Option) *Supervisor {
	cfg.applyDefaults()
	s := &Supervisor{
		cfg:    cfg,
		runner: runner,
		clock:  realClock{},
		logger: slog.Default(),
		state:  StateDisconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start spawns the subprocess and waits for readiness. It returns whether
// the connection was achieved within the overall wait budget. Spawn failure
// is non-fatal: it downgrades to fallback mode instead of erroring.
func (s *Supervisor) Start(ctx context.Context) bool {
	s.mu.Lock()
	if s.state == StateConnected {
		s.mu.Unlock()
		return true
	}
	s.setStateLocked(StateConnecting)
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	hooks := toolproc.Hooks{
		Line: func(line string) { s.onLine(gen, line) },
		Exit: func(err error) { s.onExit(gen) },
	}

	if err := s.runner.Spawn(ctx, hooks); err != nil {
		s.logger.Error("tool process spawn failed", "error", err)
		s.EnableFallback("spawn failed: " + err.Error())
		return false
	}

	if err := s.runner.Handshake(); err != nil {
		s.logger.Warn("handshake send failed", "error", err)
	}

	// Watchdog: no readiness marker within the connect timeout means the
	// process is up but not speaking our protocol.
	go func() {
		<-s.clock.After(s.cfg.ConnectTimeout)
		s.mu.Lock()
		timedOut := s.gen == gen && s.state == StateConnecting
		s.mu.Unlock()
		if timedOut {
			s.EnableFallback("Connection timeout")
		}
	}()

	for i := 0; i < s.cfg.ConnectPolls; i++ {
		if s.Connected() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-s.clock.After(s.cfg.PollInterval):
		}
	}
	return s.Connected()
}

// Restart is the manual operator override: it cancels any pending automatic
// restart, stops the health loop, kills the subprocess, resets the retry
// budget, and starts over.
func (s *Supervisor) Restart(ctx context.Context) bool {
	s.mu.Lock()
	s.cancelTimersLocked()
	s.attempts = 0
	s.lastError = ""
	s.setStateLocked(StateDisconnected)
	s.mu.Unlock()

	s.runner.Kill()
	s.logger.Info("manual restart requested")
	return s.Start(ctx)
}

// Stop shuts the supervisor down: health loop, pending restart, subprocess.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.cancelTimersLocked()
	s.gen++ // invalidate hooks of the current process
	s.setStateLocked(StateDisconnected)
	s.mu.Unlock()

	s.runner.Kill()
}

// EnableFallback transitions to fallback mode. Idempotent; the first reason
// sticks. The subprocess, if any, is left running (soft transition).
func (s *Supervisor) EnableFallback(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateFallback {
		return
	}
	s.setStateLocked(StateFallback)
	s.lastError = reason
	s.logger.Warn("fallback mode enabled", "reason", reason)
}

// CallTool issues one tool call through the subprocess. It fails immediately
// with toolproc.ErrNotConnected when the supervisor is not connected; no
// subprocess I/O is attempted in that case.
func (s *Supervisor) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	if !s.Connected() {
		return nil, toolproc.ErrNotConnected
	}

	ctx, span := traces.StartSpan(ctx, "tool_call", traces.Tool(name))
	defer span.End()

	timer := prometheus.NewTimer(metrics.ToolCallDuration)
	raw, err := s.runner.Call(ctx, name, args)
	timer.ObserveDuration()

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.ToolCallsTotal.WithLabelValues(name, result).Inc()
	return raw, err
}

// Connected reports whether tool calls should currently be attempted.
func (s *Supervisor) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateConnected
}

// Status returns a point-in-time snapshot for the status surface.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	hasProc := s.runner.HasProcess()
	return Status{
		State:          s.state.String(),
		Connected:      s.state == StateConnected,
		FallbackActive: s.state == StateFallback,
		LastError:      s.lastError,
		AttemptsUsed:   s.attempts,
		MaxAttempts:    s.cfg.MaxRestarts,
		HasProcess:     hasProc,
		ProcessDead:    hasProc && !s.runner.Alive(),
	}
}

// onLine scans subprocess output for the readiness marker.
func (s *Supervisor) onLine(gen uint64, line string) {
	if !strings.Contains(line, s.cfg.ReadyMarker) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		return
	}
	if s.state != StateDisconnected && s.state != StateConnecting {
		return
	}

	// Connected implies no pending restart timer.
	if s.restartStop != nil {
		close(s.restartStop)
		s.restartStop = nil
	}
	s.setStateLocked(StateConnected)
	s.attempts = 0
	s.lastError = ""
	s.startHealthLoopLocked()
	s.logger.Info("tool process connected")
}

// onExit handles an unexpected subprocess exit: it spends one unit of the
// retry budget and either schedules a delayed restart or goes to fallback
// until a manual restart.
func (s *Supervisor) onExit(gen uint64) {
	s.mu.Lock()

	if s.gen != gen {
		s.mu.Unlock()
		return
	}

	if s.attempts < s.cfg.MaxRestarts {
		s.attempts++
	}
	if s.attempts >= s.cfg.MaxRestarts {
		s.setStateLocked(StateFallback)
		s.lastError = "Max retries reached"
		s.mu.Unlock()
		s.logger.Error("tool process exhausted restart budget", "attempts", s.cfg.MaxRestarts)
		return
	}

	s.setStateLocked(StateDisconnected)
	attempt := s.attempts
	stop := make(chan struct{})
	s.restartStop = stop
	s.mu.Unlock()

	s.logger.Warn("tool process exited, restart scheduled",
		"attempt", attempt,
		"max_attempts", s.cfg.MaxRestarts,
		"backoff", s.cfg.RestartBackoff,
	)

	metrics.ToolRestartsTotal.Inc()

	go func() {
		select {
		case <-stop:
			return
		case <-s.clock.After(s.cfg.RestartBackoff):
		}

		s.mu.Lock()
		if s.restartStop == stop {
			s.restartStop = nil
		}
		s.mu.Unlock()

		s.Start(context.Background())
	}()
}

// startHealthLoopLocked launches the liveness loop if it is not running.
// Caller must hold s.mu.
func (s *Supervisor) startHealthLoopLocked() {
	if s.healthStop != nil {
		return
	}
	stop := make(chan struct{})
	s.healthStop = stop

	go func() {
		for {
			select {
			case <-stop:
				return
			case <-s.clock.After(s.cfg.HealthInterval):
			}

			s.mu.Lock()
			dead := s.state == StateConnected && !s.runner.Alive()
			if dead {
				// Died without the exit handler firing.
				s.setStateLocked(StateDisconnected)
			}
			s.mu.Unlock()

			if dead {
				s.logger.Warn("health check found tool process dead, reconnecting")
				s.Start(context.Background())
			}
		}
	}()
}

// cancelTimersLocked stops the health loop and any pending auto-restart.
// Caller must hold s.mu.
func (s *Supervisor) cancelTimersLocked() {
	if s.restartStop != nil {
		close(s.restartStop)
		s.restartStop = nil
	}
	if s.healthStop != nil {
		close(s.healthStop)
		s.healthStop = nil
	}
}

// setStateLocked transitions state and records the metric.
// Caller must hold s.mu.
func (s *Supervisor) setStateLocked(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	stateTransitions.WithLabelValues(from.String(), to.String()).Inc()
}
