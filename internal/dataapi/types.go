package dataapi

import "math/big"

// TokenBalance is one fungible token position on a single chain.
type TokenBalance struct {
	Contract string `json:"contract"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	Balance  string `json:"balance"` // raw integer amount as decimal string
}

// NFT is one owned token from an NFT contract.
type NFT struct {
	Contract   string `json:"contract"`
	TokenID    string `json:"tokenId"`
	Name       string `json:"name,omitempty"`
	Collection string `json:"collection,omitempty"`
}

// ChainStats is a point-in-time view of one chain.
type ChainStats struct {
	ChainID     *big.Int
	BlockNumber *big.Int
	GasPrice    *big.Int // wei
}
