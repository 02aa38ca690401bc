package toolproc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a goroutine-safe in-memory stdin stand-in.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

// fakeProcess wires a client to an unstarted command and an in-memory stdin
// so protocol behavior can be exercised without spawning anything.
func fakeProcess(c *Client) *syncBuffer {
	buf := &syncBuffer{}
	c.mu.Lock()
	c.cmd = exec.Command("true")
	c.stdin = buf
	c.mu.Unlock()
	return buf
}

// writtenRequests decodes every JSON line the client wrote to stdin.
func writtenRequests(t *testing.T, buf *syncBuffer) []request {
	t.Helper()
	var reqs []request
	scanner := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for scanner.Scan() {
		var req request
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &req))
		reqs = append(reqs, req)
	}
	return reqs
}

func TestCall_NotConnected(t *testing.T) {
	c := NewClient(Config{Command: "unused"})

	_, err := c.Call(context.Background(), "analyze_wallet", nil)
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestCall_SuccessCorrelatedByID(t *testing.T) {
	c := NewClient(Config{Command: "unused", CallTimeout: time.Second})
	buf := fakeProcess(c)

	done := make(chan struct{})
	var result json.RawMessage
	var callErr error
	go func() {
		defer close(done)
		result, callErr = c.Call(context.Background(), "gas_price", map[string]any{"chain": "ethereum"})
	}()

	// Wait for the request to hit stdin, then answer it by ID.
	var req request
	require.Eventually(t, func() bool {
		reqs := writtenRequests(t, buf)
		if len(reqs) == 0 {
			return false
		}
		req = reqs[0]
		return true
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, ProtocolVersion, req.JSONRPC)
	assert.Equal(t, "tools/call", req.Method)
	assert.Equal(t, "gas_price", req.Params.Name)

	// A response for someone else's ID must be left alone.
	assert.True(t, c.deliver(`{"jsonrpc":"2.0","id":99999,"result":{"x":1}}`))

	// Non-JSON diagnostics are not responses.
	assert.False(t, c.deliver("tool server log line"))

	require.True(t, c.deliver(`{"jsonrpc":"2.0","id":`+itoa(req.ID)+`,"result":{"answer":42}}`))
	<-done

	require.NoError(t, callErr)
	assert.JSONEq(t, `{"answer":42}`, string(result))
}

func TestCall_ErrorResponse(t *testing.T) {
	c := NewClient(Config{Command: "unused", CallTimeout: time.Second})
	buf := fakeProcess(c)

	done := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "chain_info", nil)
		done <- err
	}()

	var req request
	require.Eventually(t, func() bool {
		reqs := writtenRequests(t, buf)
		if len(reqs) == 0 {
			return false
		}
		req = reqs[0]
		return true
	}, time.Second, 5*time.Millisecond)

	require.True(t, c.deliver(`{"jsonrpc":"2.0","id":`+itoa(req.ID)+`,"error":{"code":-32000,"message":"upstream unavailable"}}`))

	err := <-done
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "upstream unavailable", toolErr.Message)
}

func TestCall_Timeout(t *testing.T) {
	c := NewClient(Config{Command: "unused", CallTimeout: 30 * time.Millisecond})
	fakeProcess(c)

	_, err := c.Call(context.Background(), "analyze_wallet", nil)
	require.ErrorIs(t, err, ErrToolTimeout)

	// The listener must be deregistered after timeout.
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.pending)
}

func TestCorrelationIDsMonotonic(t *testing.T) {
	c := NewClient(Config{Command: "unused", CallTimeout: 20 * time.Millisecond})
	buf := fakeProcess(c)

	require.NoError(t, c.Handshake())
	_, _ = c.Call(context.Background(), "a", nil) // times out
	_, _ = c.Call(context.Background(), "b", nil) // times out

	// Simulate a restart: swap in a fresh process and stdin.
	buf2 := fakeProcess(c)
	require.NoError(t, c.Handshake())
	_, _ = c.Call(context.Background(), "c", nil)

	var ids []uint64
	for _, req := range writtenRequests(t, buf) {
		ids = append(ids, req.ID)
	}
	for _, req := range writtenRequests(t, buf2) {
		ids = append(ids, req.ID)
	}

	require.Len(t, ids, 5)
	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i], ids[i-1], "IDs must never repeat, even across restarts")
	}
}

func TestDeliver_IgnoresJSONLogLines(t *testing.T) {
	c := NewClient(Config{Command: "unused"})

	// Valid JSON with no response shape should fall through to the line hook.
	assert.False(t, c.deliver(`{"level":"info","msg":"listening"}`))
	assert.False(t, c.deliver(`not json at all`))
}

func TestKillSuppressesExitHook(t *testing.T) {
	exited := make(chan error, 1)
	c := NewClient(Config{Command: "sleep", Args: []string{"60"}})
	require.NoError(t, c.Spawn(context.Background(), Hooks{
		Exit: func(err error) { exited <- err },
	}))
	require.True(t, c.Alive())

	c.Kill()

	select {
	case <-exited:
		t.Fatal("exit hook must not fire for intentional kills")
	case <-time.After(200 * time.Millisecond):
	}
	assert.True(t, c.HasProcess())
}

func TestKillThenRespawn(t *testing.T) {
	c := NewClient(Config{Command: "sleep", Args: []string{"60"}})
	require.NoError(t, c.Spawn(context.Background(), Hooks{}))
	require.True(t, c.Alive())

	// Kill must not return until the old process is reaped, so the manual
	// restart path can respawn immediately without a collision.
	c.Kill()
	require.NoError(t, c.Spawn(context.Background(), Hooks{}))
	assert.True(t, c.Alive())
	c.Kill()
}

func TestSpawnFailure(t *testing.T) {
	c := NewClient(Config{Command: "/nonexistent/binary"})
	err := c.Spawn(context.Background(), Hooks{})
	require.Error(t, err)
	assert.False(t, c.Alive())
	assert.False(t, c.HasProcess())
	require.True(t, errors.Is(c.sendWithoutProcess(), ErrNotConnected))
}

// sendWithoutProcess exercises the no-process send path.
func (c *Client) sendWithoutProcess() error {
	return c.send(request{JSONRPC: ProtocolVersion, ID: 0, Method: "initialize"})
}

func itoa(v uint64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
