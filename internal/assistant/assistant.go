// Package assistant dispatches classified queries to the tool subprocess or
// the direct-API fallback, whichever the supervisor currently allows.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mbd888/chainscout/internal/analyzer"
	"github.com/mbd888/chainscout/internal/chains"
	"github.com/mbd888/chainscout/internal/intent"
)

// Route identifies which serving path produced an answer.
const (
	RouteTool     = "tool"
	RouteFallback = "fallback"
)

// ToolCaller is the supervisor surface the assistant needs.
// Implemented by *supervisor.Supervisor.
type ToolCaller interface {
	Connected() bool
	CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)
	EnableFallback(reason string)
}

// Answer is one served query.
type Answer struct {
	Text   string        `json:"text"`
	Intent intent.Intent `json:"intent"`
	Route  string        `json:"route"`
}

// Assistant answers free-text queries.
type Assistant struct {
	tools    ToolCaller
	analyzer *analyzer.Analyzer
	logger   *slog.Logger
}

// Option configures the Assistant.
type Option func(*Assistant)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assistant) { a.logger = l }
}

// New creates an assistant over a tool caller and the fallback analyzer.
func New(tools ToolCaller, fb *analyzer.Analyzer, opts ...Option) *Assistant {
	a := &Assistant{
		tools:    tools,
		analyzer: fb,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Query classifies the message and serves it. The tool path is tried only
// when the supervisor is connected and the query needs external data; any
// tool failure downgrades to the fallback path for this and future requests.
func (a *Assistant) Query(ctx context.Context, message string) Answer {
	it := intent.Classify(message)

	if needsAddress(it) {
		return Answer{
			Text:   "Send a wallet address (0x followed by 40 hex characters) and I'll analyze it.",
			Intent: it,
			Route:  RouteFallback,
		}
	}

	if it.NeedsData && a.tools.Connected() {
		text, err := a.callTool(ctx, it)
		if err == nil {
			return Answer{Text: text, Intent: it, Route: RouteTool}
		}
		a.logger.Warn("tool call failed, switching to fallback",
			"kind", it.Kind, "error", err)
		a.tools.EnableFallback("tool call failed: " + err.Error())
	}

	return Answer{Text: a.fallback(ctx, it, message), Intent: it, Route: RouteFallback}
}

// needsAddress reports whether the intent requires an address none was given.
func needsAddress(it intent.Intent) bool {
	switch it.Kind {
	case intent.KindWallet, intent.KindPortfolio, intent.KindNFT:
		return it.Address == ""
	default:
		return false
	}
}

// toolNames maps intent kinds to the subprocess tool that serves them.
var toolNames = map[intent.Kind]string{
	intent.KindWallet:    "analyze_wallet",
	intent.KindPortfolio: "analyze_portfolio",
	intent.KindNFT:       "analyze_nfts",
	intent.KindChainInfo: "chain_info",
	intent.KindGas:       "gas_price",
}

func (a *Assistant) callTool(ctx context.Context, it intent.Intent) (string, error) {
	name, ok := toolNames[it.Kind]
	if !ok {
		return "", fmt.Errorf("no tool serves %q queries", it.Kind)
	}

	args := map[string]any{}
	if it.Address != "" {
		args["address"] = it.Address
	}
	if it.Chain != "" {
		args["chain"] = it.Chain
	}
	if it.MultiChain {
		args["multi_chain"] = true
	}

	raw, err := a.tools.CallTool(ctx, name, args)
	if err != nil {
		return "", err
	}
	return renderToolResult(raw)
}

// renderToolResult extracts the text content from an MCP tool result.
func renderToolResult(raw json.RawMessage) (string, error) {
	var res struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", fmt.Errorf("decode tool result: %w", err)
	}

	var parts []string
	for _, c := range res.Content {
		if c.Type == "text" && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	if len(parts) == 0 {
		return "", errors.New("tool result carried no text content")
	}
	text := strings.Join(parts, "\n")

	if res.IsError {
		return "", fmt.Errorf("tool reported error: %s", text)
	}
	return text, nil
}

// fallback serves the intent from the direct-API analyzer.
func (a *Assistant) fallback(ctx context.Context, it intent.Intent, message string) string {
	chain := chainOrDefault(it.Chain)

	switch it.Kind {
	case intent.KindWallet:
		return a.analyzer.Wallet(ctx, it.Address, chain, it.MultiChain)
	case intent.KindPortfolio:
		return a.analyzer.Portfolio(ctx, it.Address, chain, it.MultiChain)
	case intent.KindNFT:
		return a.analyzer.NFTs(ctx, it.Address)
	case intent.KindChainInfo:
		if !it.NeedsData {
			return a.analyzer.ChainInfo(ctx, nil)
		}
		return a.analyzer.ChainInfo(ctx, &chain)
	case intent.KindGas:
		return a.analyzer.Gas(ctx, chain)
	default:
		return a.analyzer.General(message)
	}
}

func chainOrDefault(id string) chains.Descriptor {
	if d, ok := chains.ByID(id); ok {
		return d
	}
	return chains.Default
}
