// Package intent classifies free-text messages into structured query intents.
//
// Classification is ordered keyword matching, not language understanding:
// address-bearing messages always win, chain-name mentions rank above generic
// gas/wallet/portfolio keywords, and the first matching rule decides.
package intent

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mbd888/chainscout/internal/chains"
)

// Kind categorizes a query intent.
type Kind string

const (
	KindWallet    Kind = "wallet"
	KindPortfolio Kind = "portfolio"
	KindNFT       Kind = "nft"
	KindChainInfo Kind = "chain_info"
	KindGas       Kind = "gas"
	KindGeneral   Kind = "general"
)

// Intent is the structured result of classifying one message.
// It is transient: recomputed per request, no lifecycle of its own.
type Intent struct {
	Kind       Kind   `json:"kind"`
	Address    string `json:"address,omitempty"` // 0x + 40 hex digits, as written in the message
	Chain      string `json:"chain,omitempty"`   // chain ID from the catalog
	MultiChain bool   `json:"multiChain"`
	NeedsData  bool   `json:"needsData"` // false for answers served from static text
}

var addressRe = regexp.MustCompile(`0x[0-9a-fA-F]{40}`)

// multiChainPhrases trigger multi-chain analysis when present anywhere in the
// message. Note "multi" alone is in the set, so any hyphenated or spaced
// variant matches too.
var multiChainPhrases = []string{
	"all chain", "multi-chain", "multi chain", "across all",
	"every chain", "all networks", "multi", "all chains",
}

var (
	gasKeywords     = []string{"gas", "gwei", "fee"}
	listingKeywords = []string{"supported chains", "available chains", "which chains", "chain list", "networks"}
	nftKeywords     = []string{"nft", "collection"}
	walletKeywords  = []string{"wallet", "balance", "analysis", "check", "analyze"}

	// "portofolio" is a common misspelling worth catching.
	portfolioKeywords = []string{"portfolio", "portofolio"}
)

// Classify maps a message to an intent. Pure function; first rule wins.
func Classify(message string) Intent {
	lower := strings.ToLower(message)

	// Rule 1: an address anywhere in the message dominates everything else.
	if addr := addressRe.FindString(message); addr != "" && common.IsHexAddress(addr) {
		return classifyAddressQuery(lower, addr)
	}

	// Rule 2: chain-name mentions outrank generic keywords.
	if d, ok := chains.Detect(lower); ok {
		return Intent{Kind: KindChainInfo, Chain: d.ID, NeedsData: true}
	}

	// Rule 3: gas queries default to ethereum.
	if containsAny(lower, gasKeywords) {
		return Intent{Kind: KindGas, Chain: chains.Default.ID, NeedsData: true}
	}

	// Rule 4: chain listing is informational only, no external call.
	if containsAny(lower, listingKeywords) {
		return Intent{Kind: KindChainInfo, NeedsData: false}
	}

	// Rule 5: keyword cascade without an address.
	switch {
	case containsAny(lower, nftKeywords):
		return Intent{Kind: KindNFT, Chain: chains.Default.ID, NeedsData: true, MultiChain: isMultiChain(lower, KindNFT)}
	case containsAny(lower, walletKeywords):
		return Intent{Kind: KindWallet, Chain: chains.Default.ID, NeedsData: true, MultiChain: isMultiChain(lower, KindWallet)}
	case containsAny(lower, portfolioKeywords):
		return Intent{Kind: KindPortfolio, Chain: chains.Default.ID, NeedsData: true, MultiChain: isMultiChain(lower, KindPortfolio)}
	}

	// Rule 6: everything else.
	return Intent{Kind: KindGeneral, NeedsData: false}
}

// classifyAddressQuery sub-classifies a message that carries an address.
// Priority: portfolio > nft > wallet > wallet default. The address is kept
// exactly as written; downstream consumers checksum it where needed.
func classifyAddressQuery(lower, addr string) Intent {
	it := Intent{
		Address:   addr,
		NeedsData: true,
	}

	switch {
	case containsAny(lower, portfolioKeywords):
		it.Kind = KindPortfolio
	case containsAny(lower, nftKeywords):
		it.Kind = KindNFT
	case containsAny(lower, walletKeywords):
		it.Kind = KindWallet
	default:
		it.Kind = KindWallet
	}

	it.MultiChain = isMultiChain(lower, it.Kind)

	// A chain named alongside the address pins single-chain analysis to it.
	if d, ok := chains.Detect(lower); ok {
		it.Chain = d.ID
	} else {
		it.Chain = chains.Default.ID
	}

	return it
}

// isMultiChain reports whether the message asks for multi-chain analysis.
// The type keyword itself also sets the flag for wallet/portfolio/nft
// queries; that rule mirrors the original classifier and is kept as-is.
func isMultiChain(lower string, kind Kind) bool {
	if containsAny(lower, multiChainPhrases) {
		return true
	}
	switch kind {
	case KindWallet:
		return strings.Contains(lower, "wallet")
	case KindPortfolio:
		return containsAny(lower, portfolioKeywords)
	case KindNFT:
		return strings.Contains(lower, "nft")
	}
	return false
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
