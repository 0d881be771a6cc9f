package linecode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestBMCRoundTrip encodes a symbol sequence with BMCEncoder and feeds the
// resulting pulses through BMCClassifier, reassembling 5-bit symbols and
// checking they decode back to the original sequence.
func TestBMCRoundTrip(t *testing.T) {
	want := []Symbol{Sync1, Sync1, Sync1, Sync2, Hex0, HexF, Hex3, EOP}

	var enc BMCEncoder
	enc.Reset()
	var pulses []Pulse
	for _, s := range want {
		pulses = enc.AddSymbol(pulses, Encode[s], ShortDuration)
	}
	pulses = MergePulses(pulses)

	var cls BMCClassifier
	var bitData uint8
	var bitCount uint8
	var got []Symbol
	for _, p := range pulses {
		bit, ok, resync := cls.Classify(p.Duration)
		require.False(t, resync, "unexpected resync mid-stream")
		if !ok {
			continue
		}
		bitData = (bitData >> 1) | (bit << 4)
		bitCount++
		if bitCount == 5 {
			bitCount = 0
			got = append(got, Decode[bitData])
		}
	}

	require.Equal(t, want, got)
}

func TestMergePulses(t *testing.T) {
	in := []Pulse{
		{Level: true, Duration: 10},
		{Level: true, Duration: 6},
		{Level: false, Duration: 20},
		{Level: false, Duration: 5},
		{Level: false, Duration: 5},
		{Level: true, Duration: 1},
	}
	want := []Pulse{
		{Level: true, Duration: 16},
		{Level: false, Duration: 30},
		{Level: true, Duration: 1},
	}
	require.Equal(t, want, MergePulses(in))
	require.Nil(t, MergePulses(nil))
}

func TestBMCClassifierResync(t *testing.T) {
	var cls BMCClassifier
	// An isolated short pulse followed by another long pulse is an invalid
	// BMC sequence: a short half-bit must always be followed by a matching
	// short half-bit, never a long one.
	_, ok, resync := cls.Classify(ShortDuration)
	require.False(t, resync)
	require.False(t, ok)
	_, _, resync = cls.Classify(LongDuration)
	require.True(t, resync)
}
