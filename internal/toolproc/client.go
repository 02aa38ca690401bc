// Package toolproc manages the request/response protocol with the analysis
// tool subprocess.
//
// Requests are JSON-RPC 2.0 lines written to the subprocess's stdin; every
// stdout line is opportunistically parsed as a response and matched to a
// pending call by ID. Lines that do not parse (the subprocess's own log
// output, including the readiness marker) are handed to the line hook and
// otherwise ignored. Correlation IDs come from a process-lifetime monotonic
// counter and are never reused, even across subprocess restarts.
package toolproc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// ProtocolVersion is the JSON-RPC version marker on every request.
const ProtocolVersion = "2.0"

var (
	// ErrNotConnected is returned when a call is attempted with no live
	// subprocess. No I/O is performed.
	ErrNotConnected = errors.New("toolproc: not connected")

	// ErrToolTimeout is returned when a call's response never arrives.
	ErrToolTimeout = errors.New("toolproc: tool call timed out")

	// ErrProcessExited fails pending calls when the subprocess dies.
	ErrProcessExited = errors.New("toolproc: process exited")
)

// ToolError carries an error payload returned by the subprocess.
type ToolError struct {
	Message string
}

func (e *ToolError) Error() string { return "toolproc: tool error: " + e.Message }

// Hooks receive out-of-band subprocess events. Line is invoked for every
// non-protocol output line (stdout and stderr); Exit is invoked once when
// the subprocess terminates for any reason other than Kill.
type Hooks struct {
	Line func(line string)
	Exit func(err error)
}

// request is the outbound JSON-RPC envelope.
type request struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      uint64     `json:"id"`
	Method  string     `json:"method"`
	Params  callParams `json:"params,omitempty"`
}

type callParams struct {
	Name      string         `json:"name,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// response is the inbound JSON-RPC envelope.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *respError      `json:"error"`
}

type respError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// pendingCall tracks one in-flight request. At most one entry per ID.
type pendingCall struct {
	id       uint64
	tool     string
	issuedAt time.Time
	ch       chan response
}

// Config holds subprocess launch settings.
type Config struct {
	Command     string        // executable to spawn
	Args        []string      // arguments
	Env         []string      // extra environment entries, KEY=VALUE
	CallTimeout time.Duration // per-call response deadline (default 15s)
}

// Client spawns the tool subprocess and issues correlated tool calls to it.
// Calls may run concurrently; each is independently tracked and timed out.
type Client struct {
	cfg    Config
	logger *slog.Logger

	nextID atomic.Uint64 // monotonic for the host process lifetime

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.Writer
	pending map[uint64]*pendingCall
	hooks   Hooks
	killed  bool
	exited  chan struct{} // closed by waitExit once the process is reaped
}

// Option configures the Client.
type Option func(*Client)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client. The subprocess is not started until Spawn.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	c := &Client{
		cfg:     cfg,
		logger:  slog.Default(),
		pending: make(map[uint64]*pendingCall),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Spawn starts the subprocess and wires its output streams. Safe to call
// again after the previous process exited; the correlation counter carries
// over so IDs stay unique across restarts.
func (c *Client) Spawn(ctx context.Context, hooks Hooks) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd != nil && c.cmd.ProcessState == nil {
		return fmt.Errorf("toolproc: process already running")
	}

	cmd := exec.Command(c.cfg.Command, c.cfg.Args...)
	cmd.Env = append(cmd.Environ(), c.cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}

	done := make(chan struct{})
	c.cmd = cmd
	c.stdin = stdin
	c.hooks = hooks
	c.killed = false
	c.exited = done

	go c.scanStdout(stdout)
	go c.scanStderr(stderr)
	go c.waitExit(cmd, done)

	c.logger.Info("tool process spawned", "command", c.cfg.Command, "pid", cmd.Process.Pid)
	return nil
}

// Handshake sends the protocol initialize request. The response, if any,
// is not awaited; readiness is signaled by the marker line instead.
func (c *Client) Handshake() error {
	return c.send(request{
		JSONRPC: ProtocolVersion,
		ID:      c.nextID.Add(1),
		Method:  "initialize",
	})
}

// Call issues one tool call and waits for its correlated response.
func (c *Client) Call(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.cmd == nil || c.cmd.ProcessState != nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}

	id := c.nextID.Add(1)
	pc := &pendingCall{
		id:       id,
		tool:     name,
		issuedAt: time.Now(),
		ch:       make(chan response, 1),
	}
	c.pending[id] = pc
	c.mu.Unlock()

	err := c.send(request{
		JSONRPC: ProtocolVersion,
		ID:      id,
		Method:  "tools/call",
		Params:  callParams{Name: name, Arguments: args},
	})
	if err != nil {
		c.removePending(id)
		return nil, err
	}

	timer := time.NewTimer(c.cfg.CallTimeout)
	defer timer.Stop()

	select {
	case resp := <-pc.ch:
		if resp.Error != nil {
			return nil, &ToolError{Message: resp.Error.Message}
		}
		return resp.Result, nil
	case <-timer.C:
		c.removePending(id)
		return nil, fmt.Errorf("%w: %s after %s", ErrToolTimeout, name, c.cfg.CallTimeout)
	case <-ctx.Done():
		c.removePending(id)
		return nil, ctx.Err()
	}
}

// Alive reports whether a spawned process is still running.
func (c *Client) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cmd != nil && c.cmd.ProcessState == nil
}

// HasProcess reports whether a process handle exists, dead or alive.
func (c *Client) HasProcess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cmd != nil
}

// Kill terminates the subprocess without invoking the exit hook. Used for
// intentional shutdown and manual restarts. It returns only after the old
// process has been reaped, so an immediate Spawn never collides with it.
func (c *Client) Kill() {
	c.mu.Lock()
	cmd := c.cmd
	done := c.exited
	c.killed = true
	c.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}
	if cmd.ProcessState == nil {
		_ = cmd.Process.Kill()
	}
	if done != nil {
		<-done
	}
}

// send serializes one request as a JSON line on the subprocess's stdin.
func (c *Client) send(req request) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stdin == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')
	if _, err := c.stdin.Write(data); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

// scanStdout parses each stdout line as a protocol response; lines that do
// not parse are treated as diagnostics and forwarded to the line hook.
func (c *Client) scanStdout(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if c.deliver(line) {
			continue
		}
		c.forwardLine(line)
	}
}

func (c *Client) scanStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		c.forwardLine(scanner.Text())
	}
}

// deliver routes a parsed response to its pending call. Returns false for
// non-protocol lines. Responses carrying an unknown ID are swallowed: their
// listener has already timed out or they belong to the handshake.
func (c *Client) deliver(line string) bool {
	var resp response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return false
	}
	if resp.ID == 0 && resp.Result == nil && resp.Error == nil {
		// Parsed but not a response envelope (e.g. a JSON log line).
		return false
	}

	c.mu.Lock()
	pc, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()

	if ok {
		pc.ch <- resp
	}
	return true
}

func (c *Client) forwardLine(line string) {
	c.mu.Lock()
	hook := c.hooks.Line
	c.mu.Unlock()
	if hook != nil && line != "" {
		hook(line)
	}
}

// waitExit reaps the subprocess and fails everything still in flight. The
// done channel is closed last; Kill blocks on it before allowing a respawn.
func (c *Client) waitExit(cmd *exec.Cmd, done chan struct{}) {
	defer close(done)
	err := cmd.Wait()

	c.mu.Lock()
	if c.cmd != cmd {
		// A newer process replaced this one; nothing to clean up.
		c.mu.Unlock()
		return
	}
	pending := c.pending
	c.pending = make(map[uint64]*pendingCall)
	killed := c.killed
	hook := c.hooks.Exit
	c.stdin = nil
	c.mu.Unlock()

	for _, pc := range pending {
		pc.ch <- response{ID: pc.id, Error: &respError{Message: ErrProcessExited.Error()}}
	}

	if killed {
		return
	}

	c.logger.Warn("tool process exited", "error", err)
	if hook != nil {
		hook(err)
	}
}

// removePending deregisters a call's listener after timeout or send failure.
func (c *Client) removePending(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
