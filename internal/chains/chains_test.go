package chains

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByID(t *testing.T) {
	d, ok := ByID("polygon")
	require.True(t, ok)
	assert.Equal(t, "Polygon", d.DisplayName)
	assert.Equal(t, "MATIC", d.NativeSymbol)

	_, ok = ByID("solana")
	assert.False(t, ok)
}

func TestCatalogSize(t *testing.T) {
	assert.Len(t, All, Count)
	assert.Equal(t, "ethereum", Default.ID)
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name    string
		message string
		wantID  string
		wantOK  bool
	}{
		{"full name", "tell me about ethereum", "ethereum", true},
		{"symbol", "what is bnb doing", "bsc", true},
		{"matic alias", "matic network status", "polygon", true},
		{"arb", "arb fees", "arbitrum", true},
		{"base", "base chain info", "base", true},
		{"no chain", "hello there", "", false},
		// "eth" is a substring of "ethereum" but also wins on its own.
		{"bare eth", "eth stats", "ethereum", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := Detect(tt.message)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantID, d.ID)
			}
		})
	}
}
