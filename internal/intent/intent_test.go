package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddr = "0xABCDEF0123456789ABCDEF0123456789ABCDEF01"

func TestClassify_AddressQueries(t *testing.T) {
	tests := []struct {
		name       string
		message    string
		wantKind   Kind
		wantMulti  bool
		wantChain  string
	}{
		{
			name:      "portfolio keyword sets intent and multi-chain",
			message:   "portfolio " + testAddr,
			wantKind:  KindPortfolio,
			wantMulti: true,
			wantChain: "ethereum",
		},
		{
			name:      "nft keyword",
			message:   "show nft holdings for " + testAddr,
			wantKind:  KindNFT,
			wantMulti: true,
			wantChain: "ethereum",
		},
		{
			name:      "wallet keyword also flips multi-chain",
			message:   "wallet " + testAddr,
			wantKind:  KindWallet,
			wantMulti: true,
			wantChain: "ethereum",
		},
		{
			name:      "bare address defaults to single-chain wallet",
			message:   testAddr,
			wantKind:  KindWallet,
			wantMulti: false,
			wantChain: "ethereum",
		},
		{
			name:      "explicit multi-chain phrase",
			message:   "analyze " + testAddr + " across all networks",
			wantKind:  KindWallet,
			wantMulti: true,
			wantChain: "ethereum",
		},
		{
			name:      "chain named alongside address",
			message:   "analyze " + testAddr + " on polygon",
			wantKind:  KindWallet,
			wantMulti: false,
			wantChain: "polygon",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := Classify(tt.message)
			assert.Equal(t, tt.wantKind, it.Kind)
			assert.Equal(t, testAddr, it.Address, "address must be extracted verbatim")
			assert.Equal(t, tt.wantMulti, it.MultiChain)
			assert.Equal(t, tt.wantChain, it.Chain)
			assert.True(t, it.NeedsData)
		})
	}
}

func TestClassify_AddressNeverGeneral(t *testing.T) {
	messages := []string{
		testAddr,
		"hello " + testAddr,
		"???? " + testAddr + " ????",
	}
	for _, m := range messages {
		it := Classify(m)
		require.NotEqual(t, KindGeneral, it.Kind, "message %q", m)
		require.Equal(t, testAddr, it.Address)
	}
}

func TestClassify_ChainMentionOutranksGenericKeywords(t *testing.T) {
	// "gas" and "polygon" both present: chain-name precedence wins.
	it := Classify("gas prices on polygon please")
	assert.Equal(t, KindChainInfo, it.Kind)
	assert.Equal(t, "polygon", it.Chain)
	assert.True(t, it.NeedsData)
}

func TestClassify_Gas(t *testing.T) {
	it := Classify("how much is gas right now")
	assert.Equal(t, KindGas, it.Kind)
	assert.Equal(t, "ethereum", it.Chain)
	assert.True(t, it.NeedsData)
}

func TestClassify_ChainListing(t *testing.T) {
	it := Classify("which chains do you support?")
	assert.Equal(t, KindChainInfo, it.Kind)
	assert.False(t, it.NeedsData)
	assert.Empty(t, it.Chain)
}

func TestClassify_KeywordCascade(t *testing.T) {
	tests := []struct {
		message   string
		wantKind  Kind
		wantMulti bool
	}{
		{"got any nft news?", KindNFT, true},
		{"my wallet please", KindWallet, true},
		{"what is my balance", KindWallet, false},
		// "portfolio" alone: the wallet keyword set does not match, the
		// portfolio set does, and the keyword doubles as the multi flag.
		{"portofolio summary", KindPortfolio, true},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			it := Classify(tt.message)
			assert.Equal(t, tt.wantKind, it.Kind)
			assert.Equal(t, tt.wantMulti, it.MultiChain)
			assert.True(t, it.NeedsData)
			assert.Equal(t, "ethereum", it.Chain)
		})
	}
}

func TestClassify_General(t *testing.T) {
	it := Classify("hi, what can you do?")
	assert.Equal(t, KindGeneral, it.Kind)
	assert.False(t, it.NeedsData)
	assert.Empty(t, it.Address)
}

func TestClassify_ShortHexIsNotAnAddress(t *testing.T) {
	it := Classify("0x1234 is not a full address")
	assert.Empty(t, it.Address)
}
