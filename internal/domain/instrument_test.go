package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInstrumentKey_Valid(t *testing.T) {
	k, err := ParseInstrumentKey("aave:aToken:USDC")
	require.NoError(t, err)
	assert.Equal(t, InstrumentKey{Venue: "aave", PositionType: AToken, Symbol: "USDC"}, k)
	assert.Equal(t, "aave:aToken:USDC", k.String())
}

func TestParseInstrumentKey_WrongSegmentCount(t *testing.T) {
	_, err := ParseInstrumentKey("aave:USDC")
	assert.Error(t, err)

	_, err = ParseInstrumentKey("aave:aToken:USDC:extra")
	assert.Error(t, err)
}

func TestParseInstrumentKey_EmptySegment(t *testing.T) {
	_, err := ParseInstrumentKey("aave::USDC")
	assert.Error(t, err)
}

func TestParseInstrumentKey_UnknownPositionType(t *testing.T) {
	_, err := ParseInstrumentKey("aave:yToken:USDC")
	assert.Error(t, err)
}

func TestMustParseInstrumentKey_PanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() {
		MustParseInstrumentKey("not-a-key")
	})
}

func TestInstrumentSet_ContainsAndLen(t *testing.T) {
	set, err := NewInstrumentSet([]string{"binance:Perp:BTC", "aave:aToken:USDC"})
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())
	assert.True(t, set.Contains(MustParseInstrumentKey("binance:Perp:BTC")))
	assert.False(t, set.Contains(MustParseInstrumentKey("binance:Perp:ETH")))
}

func TestInstrumentSet_RejectsInvalidMember(t *testing.T) {
	_, err := NewInstrumentSet([]string{"binance:Perp:BTC", "garbage"})
	assert.Error(t, err)
}

func TestInstrumentSet_NilSetContainsNothing(t *testing.T) {
	var set *InstrumentSet
	assert.False(t, set.Contains(MustParseInstrumentKey("binance:Perp:BTC")))
}
