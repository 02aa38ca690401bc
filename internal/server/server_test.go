package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/chainscout/internal/assistant"
	"github.com/mbd888/chainscout/internal/config"
	"github.com/mbd888/chainscout/internal/intent"
	"github.com/mbd888/chainscout/internal/supervisor"
	"github.com/mbd888/chainscout/internal/validation"
)

type fakeLifecycle struct {
	status    supervisor.Status
	restarts  int
	reconnect bool // what Restart reports
}

func (f *fakeLifecycle) Start(ctx context.Context) bool { return f.status.Connected }
func (f *fakeLifecycle) Restart(ctx context.Context) bool {
	f.restarts++
	return f.reconnect
}
func (f *fakeLifecycle) Stop()                     {}
func (f *fakeLifecycle) Status() supervisor.Status { return f.status }

type fakeQuerier struct {
	answer assistant.Answer
	gotMsg string
}

func (f *fakeQuerier) Query(ctx context.Context, message string) assistant.Answer {
	f.gotMsg = message
	return f.answer
}

func newTestServer(t *testing.T, sup *fakeLifecycle, q *fakeQuerier) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	// Canned upstream so the direct-analysis route has something to read.
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/account/native-balance"):
			_, _ = w.Write([]byte(`{"balance":"1000000000000000000"}`))
		case strings.HasSuffix(r.URL.Path, "/account/tokens"):
			_, _ = w.Write([]byte(`{"items":[]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(upstream.Close)

	cfg := &config.Config{
		Port:        "0",
		Env:         "development",
		LogLevel:    "error",
		DataAPIURL:  upstream.URL,
		DataAPIKey:  "test_key",
		ToolCommand: "./bin/chainscout-mcp",
		MaxRestarts: 3,
	}

	s, err := New(cfg, WithSupervisor(sup), WithQuerier(q))
	require.NoError(t, err)
	return s
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	s.Router().ServeHTTP(w, req)
	return w
}

func TestQueryEndpoint(t *testing.T) {
	q := &fakeQuerier{answer: assistant.Answer{
		Text:   "Gas Prices on Ethereum: ...",
		Intent: intent.Intent{Kind: intent.KindGas, Chain: "ethereum", NeedsData: true},
		Route:  assistant.RouteTool,
	}}
	s := newTestServer(t, &fakeLifecycle{}, q)

	w := doRequest(s, "POST", "/v1/query", `{"message":"gas prices?"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp QueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Gas Prices on Ethereum: ...", resp.Text)
	assert.Equal(t, "tool", resp.Route)
	assert.Equal(t, intent.KindGas, resp.Intent.Kind)
	assert.NotEmpty(t, resp.RequestID)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "gas prices?", q.gotMsg)
}

func TestQueryEndpoint_InvalidBody(t *testing.T) {
	s := newTestServer(t, &fakeLifecycle{}, &fakeQuerier{})

	w := doRequest(s, "POST", "/v1/query", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_json")

	w = doRequest(s, "POST", "/v1/query", `{"message":"  "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_failed")
}

func TestQueryEndpoint_MessageTooLong(t *testing.T) {
	q := &fakeQuerier{}
	s := newTestServer(t, &fakeLifecycle{}, q)

	long := strings.Repeat("a", validation.MaxMessageLength+1)
	w := doRequest(s, "POST", "/v1/query", `{"message":"`+long+`"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_failed")
	assert.Contains(t, w.Body.String(), "exceeds maximum length")
	assert.Empty(t, q.gotMsg, "oversized messages must be rejected, not truncated")
}

func TestStatusEndpoint(t *testing.T) {
	sup := &fakeLifecycle{status: supervisor.Status{
		State:          "fallback_active",
		FallbackActive: true,
		LastError:      "Max retries reached",
		AttemptsUsed:   3,
		MaxAttempts:    3,
	}}
	s := newTestServer(t, sup, &fakeQuerier{})

	w := doRequest(s, "GET", "/v1/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fallback_active")
	assert.Contains(t, w.Body.String(), "Max retries reached")
}

func TestRestartEndpoint(t *testing.T) {
	sup := &fakeLifecycle{reconnect: true}
	s := newTestServer(t, sup, &fakeQuerier{})

	w := doRequest(s, "POST", "/v1/restart", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, sup.restarts)

	sup.reconnect = false
	w = doRequest(s, "POST", "/v1/restart", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 2, sup.restarts)
}

func TestChainsEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeLifecycle{}, &fakeQuerier{})

	w := doRequest(s, "GET", "/v1/chains", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count  int               `json:"count"`
		Chains []json.RawMessage `json:"chains"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 6, resp.Count)
	assert.Len(t, resp.Chains, 6)
}

func TestWalletEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeLifecycle{}, &fakeQuerier{})

	w := doRequest(s, "GET", "/v1/wallets/0x1234567890abcdef1234567890abcdef12345678?chain=ethereum", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Native Balance: 1.0000 ETH")
}

func TestWalletEndpoint_InvalidAddress(t *testing.T) {
	s := newTestServer(t, &fakeLifecycle{}, &fakeQuerier{})

	w := doRequest(s, "GET", "/v1/wallets/not-an-address", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_address")
}

func TestWalletEndpoint_UnknownChain(t *testing.T) {
	s := newTestServer(t, &fakeLifecycle{}, &fakeQuerier{})

	w := doRequest(s, "GET", "/v1/wallets/0x1234567890abcdef1234567890abcdef12345678?chain=dogechain", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown_chain")
}

func TestHealthEndpoints(t *testing.T) {
	sup := &fakeLifecycle{status: supervisor.Status{State: "fallback_active", FallbackActive: true}}
	s := newTestServer(t, sup, &fakeQuerier{})

	// Fallback mode degrades the detail but the service stays healthy.
	w := doRequest(s, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fallback_active")

	w = doRequest(s, "GET", "/health/live", "")
	assert.Equal(t, http.StatusOK, w.Code)

	// Readiness flips only once Run has started.
	w = doRequest(s, "GET", "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
