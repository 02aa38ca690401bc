// Package analyzer turns raw data-API reads into human-readable analysis
// text. It backs both serving paths: the MCP tool subprocess and the host's
// direct fallback. Every method returns text, never an error; upstream
// failures are folded into the text itself.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/chainscout/internal/chains"
	"github.com/mbd888/chainscout/internal/dataapi"
	"github.com/mbd888/chainscout/internal/metrics"
)

// DataSource is the slice of the data API the analyzer reads from.
// Implemented by *dataapi.Client.
type DataSource interface {
	NativeBalance(ctx context.Context, chain chains.Descriptor, address string) (*big.Int, error)
	TokenBalances(ctx context.Context, chain chains.Descriptor, address string) ([]dataapi.TokenBalance, error)
	NFTs(ctx context.Context, chain chains.Descriptor, address string) ([]dataapi.NFT, error)
	GasPrice(ctx context.Context, chain chains.Descriptor) (*big.Int, error)
	ChainStats(ctx context.Context, chain chains.Descriptor) (*dataapi.ChainStats, error)
}

// Analyzer composes analysis text from a DataSource.
type Analyzer struct {
	src             DataSource
	logger          *slog.Logger
	perChainTimeout time.Duration
}

// Option configures the Analyzer.
type Option func(*Analyzer)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// WithPerChainTimeout bounds each chain's fetch during a fan-out.
func WithPerChainTimeout(d time.Duration) Option {
	return func(a *Analyzer) { a.perChainTimeout = d }
}

// New creates an analyzer over src.
func New(src DataSource, opts ...Option) *Analyzer {
	a := &Analyzer{
		src:             src,
		logger:          slog.Default(),
		perChainTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Wallet analyzes one address: a single chain, or a fan-out over all chains.
func (a *Analyzer) Wallet(ctx context.Context, address string, chain chains.Descriptor, multi bool) string {
	if !multi {
		return a.singleChainSummary(ctx, "Wallet Analysis", address, chain)
	}

	results := a.fanOutBalances(ctx, address)
	var sb strings.Builder
	fmt.Fprintf(&sb, "Multi-Chain Wallet Analysis: %s\n\n", address)
	writeChainBreakdown(&sb, results)
	writeAggregates(&sb, results)
	return sb.String()
}

// Portfolio analyzes holdings with a risk assessment on the multi-chain path.
func (a *Analyzer) Portfolio(ctx context.Context, address string, chain chains.Descriptor, multi bool) string {
	if !multi {
		return a.singleChainSummary(ctx, "Portfolio Analysis", address, chain)
	}

	results := a.fanOutBalances(ctx, address)
	var sb strings.Builder
	fmt.Fprintf(&sb, "Multi-Chain Portfolio Analysis: %s\n\n", address)
	writeChainBreakdown(&sb, results)
	writeAggregates(&sb, results)
	writeRiskAssessment(&sb, results)
	return sb.String()
}

// NFTs fans ownership queries out over all chains and summarizes the result.
func (a *Analyzer) NFTs(ctx context.Context, address string) string {
	results := make([]nftResult, chains.Count)
	var wg sync.WaitGroup
	for i, ch := range chains.All {
		wg.Add(1)
		go func(i int, ch chains.Descriptor) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, a.perChainTimeout)
			defer cancel()

			items, err := a.src.NFTs(cctx, ch, address)
			if err != nil {
				a.logger.Warn("nft fetch failed", "chain", ch.ID, "error", err)
				metrics.DataAPIErrorsTotal.WithLabelValues(ch.ID).Inc()
				results[i] = nftResult{chain: ch, err: err}
				return
			}
			results[i] = nftResult{chain: ch, items: items}
		}(i, ch)
	}
	wg.Wait()

	total := 0
	active := 0
	failed := 0
	collections := make(map[string]struct{})

	var sb strings.Builder
	fmt.Fprintf(&sb, "NFT Analysis: %s\n\n", address)
	for _, r := range results {
		if r.err != nil {
			failed++
			fmt.Fprintf(&sb, "%s: unavailable\n", r.chain.DisplayName)
			continue
		}
		fmt.Fprintf(&sb, "%s: %d NFTs\n", r.chain.DisplayName, len(r.items))
		if len(r.items) > 0 {
			active++
		}
		total += len(r.items)
		for _, n := range r.items {
			collections[r.chain.ID+":"+strings.ToLower(n.Contract)] = struct{}{}
		}
	}

	fmt.Fprintf(&sb, "\nTotal NFTs: %d\n", total)
	fmt.Fprintf(&sb, "Unique Collections: %d\n", len(collections))
	fmt.Fprintf(&sb, "Active Chains: %d/%d\n", active, chains.Count)
	if failed > 0 {
		fmt.Fprintf(&sb, "API Errors: %d/%d\n", failed, chains.Count)
	}

	sb.WriteString("\n" + nftInsight(total, active) + "\n")
	return sb.String()
}

// ChainInfo describes the chain catalog, or live stats when a chain is named.
func (a *Analyzer) ChainInfo(ctx context.Context, chain *chains.Descriptor) string {
	if chain == nil {
		var sb strings.Builder
		sb.WriteString("Supported Chains:\n")
		for _, ch := range chains.All {
			fmt.Fprintf(&sb, "  - %s (%s)\n", ch.DisplayName, ch.NativeSymbol)
		}
		sb.WriteString("\nName a chain to get its live stats, e.g. \"ethereum stats\".\n")
		return sb.String()
	}

	stats, err := a.src.ChainStats(ctx, *chain)
	if err != nil {
		a.logger.Warn("chain stats fetch failed", "chain", chain.ID, "error", err)
		metrics.DataAPIErrorsTotal.WithLabelValues(chain.ID).Inc()
		return fmt.Sprintf("Fallback Error: could not fetch stats for %s: %v", chain.DisplayName, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Chain: %s\n", chain.DisplayName)
	fmt.Fprintf(&sb, "Chain ID: %s\n", stats.ChainID)
	fmt.Fprintf(&sb, "Latest Block: %s\n", stats.BlockNumber)
	fmt.Fprintf(&sb, "Gas Price: %d Gwei\n", roundGwei(stats.GasPrice, 1.0))
	return sb.String()
}

// Gas reports tiered gas prices for one chain.
func (a *Analyzer) Gas(ctx context.Context, chain chains.Descriptor) string {
	price, err := a.src.GasPrice(ctx, chain)
	if err != nil {
		a.logger.Warn("gas price fetch failed", "chain", chain.ID, "error", err)
		metrics.DataAPIErrorsTotal.WithLabelValues(chain.ID).Inc()
		return fmt.Sprintf("Fallback Error: could not fetch gas price for %s: %v", chain.DisplayName, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Gas Prices on %s:\n", chain.DisplayName)
	fmt.Fprintf(&sb, "  Slow:     %d Gwei\n", roundGwei(price, 0.8))
	fmt.Fprintf(&sb, "  Standard: %d Gwei\n", roundGwei(price, 1.0))
	fmt.Fprintf(&sb, "  Fast:     %d Gwei\n", roundGwei(price, 1.2))
	fmt.Fprintf(&sb, "  Base Fee (est.): %d Gwei\n", roundGwei(price, 0.9))
	return sb.String()
}

// General answers conversational queries without touching the data API.
func (a *Analyzer) General(message string) string {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "help") || strings.Contains(lower, "what can you do"):
		return "I can analyze wallets, portfolios, and NFTs across Ethereum, Polygon, BSC, " +
			"Arbitrum, Base, and Optimism, report live chain stats, and estimate gas prices. " +
			"Try \"analyze 0x... on polygon\" or \"gas price on arbitrum\"."
	case strings.Contains(lower, "hello") || strings.Contains(lower, "hi "):
		return "Hello! Ask me about a wallet address, a chain, or current gas prices."
	default:
		return "I track on-chain activity across six networks. Send a wallet address or " +
			"ask about chains, gas prices, portfolios, or NFTs."
	}
}

// chainResult is one chain's slice of a balance fan-out. On error the value
// fields stay zero so the aggregate never has to special-case failures.
type chainResult struct {
	chain  chains.Descriptor
	native *big.Int
	tokens []dataapi.TokenBalance
	err    error
}

type nftResult struct {
	chain chains.Descriptor
	items []dataapi.NFT
	err   error
}

// fanOutBalances fetches native and token balances for every tracked chain
// concurrently. The join is all-settled: every chain reports, failed ones
// with zero values and a recorded error.
func (a *Analyzer) fanOutBalances(ctx context.Context, address string) []chainResult {
	results := make([]chainResult, chains.Count)
	var wg sync.WaitGroup
	for i, ch := range chains.All {
		wg.Add(1)
		go func(i int, ch chains.Descriptor) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, a.perChainTimeout)
			defer cancel()

			r := chainResult{chain: ch, native: new(big.Int)}
			native, err := a.src.NativeBalance(cctx, ch, address)
			if err == nil {
				r.native = native
				r.tokens, err = a.src.TokenBalances(cctx, ch, address)
			}
			if err != nil {
				a.logger.Warn("chain fetch failed", "chain", ch.ID, "error", err)
				metrics.DataAPIErrorsTotal.WithLabelValues(ch.ID).Inc()
				r.native = new(big.Int)
				r.tokens = nil
				r.err = err
			}
			results[i] = r
		}(i, ch)
	}
	wg.Wait()
	return results
}

// singleChainSummary is the shared wallet/portfolio single-chain text.
func (a *Analyzer) singleChainSummary(ctx context.Context, title, address string, chain chains.Descriptor) string {
	cctx, cancel := context.WithTimeout(ctx, a.perChainTimeout)
	defer cancel()

	native, err := a.src.NativeBalance(cctx, chain, address)
	if err != nil {
		a.logger.Warn("wallet fetch failed", "chain", chain.ID, "error", err)
		metrics.DataAPIErrorsTotal.WithLabelValues(chain.ID).Inc()
		return fmt.Sprintf("Fallback Error: could not fetch data for %s on %s: %v",
			address, chain.DisplayName, err)
	}
	tokens, err := a.src.TokenBalances(cctx, chain, address)
	if err != nil {
		a.logger.Warn("token fetch failed", "chain", chain.ID, "error", err)
		metrics.DataAPIErrorsTotal.WithLabelValues(chain.ID).Inc()
		return fmt.Sprintf("Fallback Error: could not fetch data for %s on %s: %v",
			address, chain.DisplayName, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s (%s)\n\n", title, address, chain.DisplayName)
	fmt.Fprintf(&sb, "Native Balance: %s %s\n", formatUnits(native, chain.Decimals), chain.NativeSymbol)
	fmt.Fprintf(&sb, "Token Positions: %d\n", len(tokens))

	const maxListed = 10
	for i, t := range tokens {
		if i == maxListed {
			fmt.Fprintf(&sb, "  ... and %d more\n", len(tokens)-maxListed)
			break
		}
		fmt.Fprintf(&sb, "  - %s: %s\n", t.Symbol, formatTokenBalance(t))
	}
	return sb.String()
}

// writeChainBreakdown prints each chain's line with its share of the total
// native value, one decimal place.
func writeChainBreakdown(sb *strings.Builder, results []chainResult) {
	total := 0.0
	values := make([]float64, len(results))
	for i, r := range results {
		values[i] = unitsFloat(r.native, r.chain.Decimals)
		total += values[i]
	}

	for i, r := range results {
		if r.err != nil {
			fmt.Fprintf(sb, "%s: unavailable\n", r.chain.DisplayName)
			continue
		}
		share := 0.0
		if total > 0 {
			share = values[i] / total * 100
		}
		fmt.Fprintf(sb, "%s: %s %s, %d tokens (%.1f%% of native value)\n",
			r.chain.DisplayName, formatUnits(r.native, r.chain.Decimals),
			r.chain.NativeSymbol, len(r.tokens), share)
	}
}

func writeAggregates(sb *strings.Builder, results []chainResult) {
	active := 0
	tokens := 0
	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			continue
		}
		if r.native.Sign() > 0 || len(r.tokens) > 0 {
			active++
		}
		tokens += len(r.tokens)
	}

	fmt.Fprintf(sb, "\nActive Chains: %d/%d\n", active, chains.Count)
	fmt.Fprintf(sb, "Total Token Positions: %d\n", tokens)
	if failed > 0 {
		fmt.Fprintf(sb, "API Errors: %d/%d\n", failed, chains.Count)
	}
}

// writeRiskAssessment appends the portfolio risk heuristics and any
// threshold-triggered recommendations.
func writeRiskAssessment(sb *strings.Builder, results []chainResult) {
	total := 0.0
	largest := 0.0
	active := 0
	tokens := 0
	for _, r := range results {
		v := unitsFloat(r.native, r.chain.Decimals)
		total += v
		if v > largest {
			largest = v
		}
		if r.err == nil && (r.native.Sign() > 0 || len(r.tokens) > 0) {
			active++
		}
		tokens += len(r.tokens)
	}

	concentration := 0.0
	if total > 0 {
		concentration = largest / total * 100
	}
	diversification := float64(active) / float64(chains.Count) * 100
	stability := math.Min(100, float64(tokens)/10*100)

	sb.WriteString("\nPortfolio Risk Assessment:\n")
	fmt.Fprintf(sb, "  Concentration: %.1f%%\n", concentration)
	fmt.Fprintf(sb, "  Diversification: %.1f%%\n", diversification)
	fmt.Fprintf(sb, "  Stability: %.1f%%\n", stability)

	var recs []string
	if diversification < 50 {
		recs = append(recs, "Consider spreading funds across more chains to improve diversification.")
	}
	if concentration > 80 {
		recs = append(recs, "Holdings are heavily concentrated on one chain; consider rebalancing.")
	}
	if stability < 30 {
		recs = append(recs, "Token base is thin; stability would improve with more positions.")
	}
	if len(recs) == 0 {
		recs = append(recs, "Portfolio allocation looks balanced.")
	}

	sb.WriteString("\nRecommendations:\n")
	for _, r := range recs {
		fmt.Fprintf(sb, "  - %s\n", r)
	}
}

func nftInsight(total, active int) string {
	switch {
	case total == 0:
		return "No NFTs found for this address across the tracked chains."
	case total < 5:
		return "A small NFT footprint; likely a casual collector."
	case active >= 3:
		return "An active cross-chain NFT collector."
	default:
		return "A focused collector concentrated on a few chains."
	}
}

// formatUnits renders a raw integer amount with the given decimals, four
// fractional digits.
func formatUnits(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0.0000"
	}
	f := new(big.Float).SetInt(amount)
	f.Quo(f, pow10(decimals))
	return f.Text('f', 4)
}

func formatTokenBalance(t dataapi.TokenBalance) string {
	raw, ok := new(big.Int).SetString(t.Balance, 10)
	if !ok {
		return t.Balance
	}
	return formatUnits(raw, t.Decimals)
}

func unitsFloat(amount *big.Int, decimals int) float64 {
	if amount == nil {
		return 0
	}
	f := new(big.Float).SetInt(amount)
	f.Quo(f, pow10(decimals))
	v, _ := f.Float64()
	return v
}

func pow10(n int) *big.Float {
	return new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil))
}

// roundGwei converts a wei price to integer Gwei after applying a tier
// multiplier.
func roundGwei(wei *big.Int, mult float64) int64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e9)).Float64()
	return int64(math.Round(f * mult))
}
