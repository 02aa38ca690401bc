// Package mcpserver wires the analysis tools into an MCP stdio server.
// It runs inside the tool subprocess, not the host.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/chainscout/internal/analyzer"
)

// NewMCPServer creates a configured MCP server with all analysis tools registered.
func NewMCPServer(a *analyzer.Analyzer) *server.MCPServer {
	s := server.NewMCPServer("chainscout", "1.0.0")
	h := NewHandlers(a)

	s.AddTool(ToolAnalyzeWallet, h.HandleAnalyzeWallet)
	s.AddTool(ToolAnalyzePortfolio, h.HandleAnalyzePortfolio)
	s.AddTool(ToolAnalyzeNFTs, h.HandleAnalyzeNFTs)
	s.AddTool(ToolChainInfo, h.HandleChainInfo)
	s.AddTool(ToolGasPrice, h.HandleGasPrice)

	return s
}
