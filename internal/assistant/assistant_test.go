package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/chainscout/internal/analyzer"
	"github.com/mbd888/chainscout/internal/chains"
	"github.com/mbd888/chainscout/internal/dataapi"
)

const testAddr = "0x1234567890abcdef1234567890abcdef12345678"

type fakeTools struct {
	connected      bool
	result         json.RawMessage
	err            error
	calls          []string
	lastArgs       map[string]any
	fallbackReason string
}

func (f *fakeTools) Connected() bool { return f.connected }

func (f *fakeTools) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	f.calls = append(f.calls, name)
	f.lastArgs = args
	return f.result, f.err
}

func (f *fakeTools) EnableFallback(reason string) {
	if f.fallbackReason == "" {
		f.fallbackReason = reason
	}
}

// stubSource makes the fallback analyzer usable without HTTP.
type stubSource struct{}

func (stubSource) NativeBalance(ctx context.Context, chain chains.Descriptor, address string) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (stubSource) TokenBalances(ctx context.Context, chain chains.Descriptor, address string) ([]dataapi.TokenBalance, error) {
	return nil, nil
}
func (stubSource) NFTs(ctx context.Context, chain chains.Descriptor, address string) ([]dataapi.NFT, error) {
	return nil, nil
}
func (stubSource) GasPrice(ctx context.Context, chain chains.Descriptor) (*big.Int, error) {
	return big.NewInt(20_000_000_000), nil
}
func (stubSource) ChainStats(ctx context.Context, chain chains.Descriptor) (*dataapi.ChainStats, error) {
	return &dataapi.ChainStats{ChainID: big.NewInt(1), BlockNumber: big.NewInt(100), GasPrice: big.NewInt(1e9)}, nil
}

func newAssistant(tools *fakeTools) *Assistant {
	return New(tools, analyzer.New(stubSource{}))
}

func toolText(text string) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
	})
	return raw
}

func TestQuery_ToolPath(t *testing.T) {
	tools := &fakeTools{connected: true, result: toolText("Wallet Analysis: ...")}
	a := newAssistant(tools)

	ans := a.Query(context.Background(), "analyze "+testAddr+" on polygon")

	assert.Equal(t, RouteTool, ans.Route)
	assert.Equal(t, "Wallet Analysis: ...", ans.Text)
	require.Equal(t, []string{"analyze_wallet"}, tools.calls)
	assert.Equal(t, testAddr, tools.lastArgs["address"])
	assert.Equal(t, "polygon", tools.lastArgs["chain"])
}

func TestQuery_FallbackWhenDisconnected(t *testing.T) {
	tools := &fakeTools{connected: false}
	a := newAssistant(tools)

	ans := a.Query(context.Background(), "gas price please")

	assert.Equal(t, RouteFallback, ans.Route)
	assert.Contains(t, ans.Text, "Gas Prices on Ethereum")
	assert.Empty(t, tools.calls, "no tool I/O while disconnected")
}

func TestQuery_ToolFailureDowngrades(t *testing.T) {
	tools := &fakeTools{connected: true, err: errors.New("tool call timed out")}
	a := newAssistant(tools)

	ans := a.Query(context.Background(), "current gas fees")

	assert.Equal(t, RouteFallback, ans.Route)
	assert.Contains(t, ans.Text, "Gas Prices on Ethereum")
	assert.Contains(t, tools.fallbackReason, "tool call failed")
}

func TestQuery_ToolErrorResultDowngrades(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{
		"content": []map[string]any{{"type": "text", "text": "upstream exploded"}},
		"isError": true,
	})
	tools := &fakeTools{connected: true, result: raw}
	a := newAssistant(tools)

	ans := a.Query(context.Background(), "gas check")

	assert.Equal(t, RouteFallback, ans.Route)
	assert.Contains(t, tools.fallbackReason, "upstream exploded")
}

func TestQuery_StaticChainListSkipsTool(t *testing.T) {
	tools := &fakeTools{connected: true}
	a := newAssistant(tools)

	ans := a.Query(context.Background(), "which chains are supported?")

	assert.Equal(t, RouteFallback, ans.Route)
	assert.Contains(t, ans.Text, "Supported Chains:")
	assert.Empty(t, tools.calls, "catalog answers never call the subprocess")
}

func TestQuery_AddressRequired(t *testing.T) {
	tools := &fakeTools{connected: true}
	a := newAssistant(tools)

	ans := a.Query(context.Background(), "check my wallet balance")

	assert.Equal(t, RouteFallback, ans.Route)
	assert.Contains(t, ans.Text, "Send a wallet address")
	assert.Empty(t, tools.calls)
}

func TestQuery_GeneralNeverCallsTool(t *testing.T) {
	tools := &fakeTools{connected: true}
	a := newAssistant(tools)

	ans := a.Query(context.Background(), "good morning")

	assert.Equal(t, RouteFallback, ans.Route)
	assert.Empty(t, tools.calls)
}

func TestRenderToolResult(t *testing.T) {
	text, err := renderToolResult(toolText("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	_, err = renderToolResult(json.RawMessage(`{"content":[]}`))
	assert.Error(t, err)
}
