package mcpserver

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/chainscout/internal/analyzer"
	"github.com/mbd888/chainscout/internal/chains"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	analyzer *analyzer.Analyzer
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(a *analyzer.Analyzer) *Handlers {
	return &Handlers{analyzer: a}
}

// HandleAnalyzeWallet analyzes one wallet, single- or multi-chain.
func (h *Handlers) HandleAnalyzeWallet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("address", "")
	if !common.IsHexAddress(address) {
		return mcp.NewToolResultError("address must be 0x followed by 40 hex characters"), nil
	}
	chain := chainArg(req)
	multi := req.GetBool("multi_chain", false)

	return resultFromText(h.analyzer.Wallet(ctx, address, chain, multi)), nil
}

// HandleAnalyzePortfolio analyzes holdings with the risk assessment.
// Portfolios default to the multi-chain path.
func (h *Handlers) HandleAnalyzePortfolio(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("address", "")
	if !common.IsHexAddress(address) {
		return mcp.NewToolResultError("address must be 0x followed by 40 hex characters"), nil
	}
	chain := chainArg(req)
	multi := req.GetBool("multi_chain", req.GetString("chain", "") == "")

	return resultFromText(h.analyzer.Portfolio(ctx, address, chain, multi)), nil
}

// HandleAnalyzeNFTs counts NFTs across every supported chain.
func (h *Handlers) HandleAnalyzeNFTs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("address", "")
	if !common.IsHexAddress(address) {
		return mcp.NewToolResultError("address must be 0x followed by 40 hex characters"), nil
	}

	return resultFromText(h.analyzer.NFTs(ctx, address)), nil
}

// HandleChainInfo returns the catalog, or live stats when a chain is named.
func (h *Handlers) HandleChainInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("chain", "")
	if id == "" {
		return resultFromText(h.analyzer.ChainInfo(ctx, nil)), nil
	}
	chain, ok := chains.ByID(id)
	if !ok {
		return mcp.NewToolResultError("unknown chain: " + id), nil
	}

	return resultFromText(h.analyzer.ChainInfo(ctx, &chain)), nil
}

// HandleGasPrice returns tiered gas prices for one chain.
func (h *Handlers) HandleGasPrice(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return resultFromText(h.analyzer.Gas(ctx, chainArg(req))), nil
}

func chainArg(req mcp.CallToolRequest) chains.Descriptor {
	if d, ok := chains.ByID(req.GetString("chain", "")); ok {
		return d
	}
	return chains.Default
}

// resultFromText maps analyzer output to a tool result. The analyzer folds
// upstream failures into "Fallback Error" text; surface those as tool errors
// so the host can downgrade.
func resultFromText(text string) *mcp.CallToolResult {
	if strings.HasPrefix(text, "Fallback Error:") {
		return mcp.NewToolResultError(text)
	}
	return mcp.NewToolResultText(text)
}
