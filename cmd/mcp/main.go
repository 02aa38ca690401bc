// chainscout MCP server - exposes the chain analysis tools over stdio.
// Spawned as a subprocess by the host; stdout carries the protocol, so all
// diagnostics go to stderr.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/chainscout/internal/analyzer"
	"github.com/mbd888/chainscout/internal/dataapi"
	"github.com/mbd888/chainscout/internal/mcpserver"
)

func main() {
	apiKey := os.Getenv("DATA_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "DATA_API_KEY is required")
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	client := dataapi.New(dataapi.Config{
		BaseURL: envOrDefault("DATA_API_URL", "https://web3.nodit.io"),
		APIKey:  apiKey,
		Timeout: 10 * time.Second,
	})
	a := analyzer.New(client, analyzer.WithLogger(logger))

	s := mcpserver.NewMCPServer(a)

	// The host watches stderr for this line before routing tool calls.
	fmt.Fprintln(os.Stderr, "chainscout tool server ready on stdio")

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
