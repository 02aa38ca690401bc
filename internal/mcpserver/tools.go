package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the chainscout MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolAnalyzeWallet = mcp.NewTool("analyze_wallet",
	mcp.WithDescription(
		"Analyze a wallet's native balance and token positions. "+
			"Single chain by default; set multi_chain to fan out across all six supported networks."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("Wallet address (0x followed by 40 hex characters)")),
	mcp.WithString("chain",
		mcp.Description("Chain to analyze: ethereum, polygon, bsc, arbitrum, base, or optimism. Defaults to ethereum."),
		mcp.Enum("ethereum", "polygon", "bsc", "arbitrum", "base", "optimism")),
	mcp.WithBoolean("multi_chain",
		mcp.Description("Analyze the wallet across all supported chains instead of one")),
)

var ToolAnalyzePortfolio = mcp.NewTool("analyze_portfolio",
	mcp.WithDescription(
		"Analyze a portfolio's holdings with a risk assessment: "+
			"per-chain breakdown, concentration, diversification, and stability scores with recommendations."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("Wallet address (0x followed by 40 hex characters)")),
	mcp.WithString("chain",
		mcp.Description("Restrict to one chain. Defaults to a multi-chain analysis."),
		mcp.Enum("ethereum", "polygon", "bsc", "arbitrum", "base", "optimism")),
	mcp.WithBoolean("multi_chain",
		mcp.Description("Analyze across all supported chains (the default for portfolios)")),
)

var ToolAnalyzeNFTs = mcp.NewTool("analyze_nfts",
	mcp.WithDescription(
		"Count NFTs owned by an address across all supported chains, "+
			"with unique collection counts and collector insights."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("Wallet address (0x followed by 40 hex characters)")),
)

var ToolChainInfo = mcp.NewTool("chain_info",
	mcp.WithDescription(
		"Get the supported-chain catalog, or live stats (chain ID, latest block, gas price) "+
			"for one named chain."),
	mcp.WithString("chain",
		mcp.Description("Chain to query. Omit to list the full catalog."),
		mcp.Enum("ethereum", "polygon", "bsc", "arbitrum", "base", "optimism")),
)

var ToolGasPrice = mcp.NewTool("gas_price",
	mcp.WithDescription(
		"Get current gas prices for a chain as slow/standard/fast tiers in Gwei "+
			"plus a base-fee estimate."),
	mcp.WithString("chain",
		mcp.Description("Chain to query. Defaults to ethereum."),
		mcp.Enum("ethereum", "polygon", "bsc", "arbitrum", "base", "optimism")),
)
