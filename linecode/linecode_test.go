package linecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for sym := Hex0; sym <= Sync3; sym++ {
		code := Encode[sym]
		require.Less(t, code, uint8(32))
		got := Decode[code]
		assert.Equal(t, sym, got, "symbol %s did not round trip through its 5b code", sym)
	}
}

func TestDecodeUnusedCodesAreError(t *testing.T) {
	used := map[uint8]bool{}
	for sym := Hex0; sym <= Sync3; sym++ {
		used[Encode[sym]] = true
	}
	for code := uint8(0); code < 32; code++ {
		if used[code] {
			continue
		}
		assert.Equal(t, Error, Decode[code], "code %05b should decode to Error", code)
	}
}

func TestLookupSOP(t *testing.T) {
	for target, syms := range SOPSymbols {
		got, ok := LookupSOP(syms)
		require.True(t, ok)
		assert.Equal(t, target, got)
	}

	_, ok := LookupSOP([4]Symbol{Hex0, Hex1, Hex2, Hex3})
	assert.False(t, ok)
}

func TestTargetString(t *testing.T) {
	assert.Equal(t, "SOP", TargetSOP.String())
	assert.Equal(t, "Hard Reset", TargetHardReset.String())
	assert.Equal(t, "Unknown", TargetUnknown.String())
}

func TestSymbolString(t *testing.T) {
	assert.Equal(t, "Hex0", Hex0.String())
	assert.Equal(t, "HexF", HexF.String())
	assert.Equal(t, "SYNC-1", Sync1.String())
	assert.Equal(t, "ERROR", Error.String())
}
