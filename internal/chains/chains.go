// Package chains holds the static catalog of supported EVM chains.
//
// The catalog is immutable for the process lifetime. Every multi-chain
// operation in the platform fans out over exactly this set.
package chains

import "strings"

// Descriptor describes one supported chain.
type Descriptor struct {
	ID           string `json:"id"`           // Internal identifier, e.g. "ethereum"
	DisplayName  string `json:"displayName"`  // Human-readable name
	NativeSymbol string `json:"nativeSymbol"` // Native currency symbol
	Decimals     int    `json:"decimals"`     // Native currency decimal places
	APISlug      string `json:"apiSlug"`      // Path segment used by the data API
}

// All lists every supported chain, in display order.
var All = []Descriptor{
	{ID: "ethereum", DisplayName: "Ethereum", NativeSymbol: "ETH", Decimals: 18, APISlug: "ethereum"},
	{ID: "polygon", DisplayName: "Polygon", NativeSymbol: "MATIC", Decimals: 18, APISlug: "polygon"},
	{ID: "bsc", DisplayName: "BNB Smart Chain", NativeSymbol: "BNB", Decimals: 18, APISlug: "bsc"},
	{ID: "arbitrum", DisplayName: "Arbitrum One", NativeSymbol: "ETH", Decimals: 18, APISlug: "arbitrum"},
	{ID: "base", DisplayName: "Base", NativeSymbol: "ETH", Decimals: 18, APISlug: "base"},
	{ID: "optimism", DisplayName: "Optimism", NativeSymbol: "ETH", Decimals: 18, APISlug: "optimism"},
}

// Count is the number of supported chains. Diversification percentages
// are computed against this total.
const Count = 6

// Default is the chain used when a query names none.
var Default = All[0]

// keywords maps chain IDs to the substrings that select them in free text.
// Matching is case-insensitive substring containment, checked in All order.
var keywords = map[string][]string{
	"ethereum": {"ethereum", "eth"},
	"polygon":  {"polygon", "matic"},
	"bsc":      {"bsc", "bnb"},
	"arbitrum": {"arbitrum", "arb"},
	"base":     {"base"},
	"optimism": {"optimism", "op"},
}

// ByID looks up a chain by its internal identifier.
func ByID(id string) (Descriptor, bool) {
	for _, d := range All {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Detect returns the first chain whose keywords appear in the message.
// The message is expected to be lowercased by the caller.
func Detect(message string) (Descriptor, bool) {
	for _, d := range All {
		for _, kw := range keywords[d.ID] {
			if strings.Contains(message, kw) {
				return d, true
			}
		}
	}
	return Descriptor{}, false
}
