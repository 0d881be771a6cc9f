package txengine

import (
	"testing"

	"github.com/tinypd/pdsink/linecode"
)

// TestTxCoderDoneOnlyOnEmptyCall guards against a regression where Next
// reported done=true on the same call that still appended the EOP symbol
// and trailing long edge. The pulseio.Producer contract requires done=true
// only on a call that produced nothing, so a real peripheral sampling done
// eagerly never drops buffered pulses.
func TestTxCoderDoneOnlyOnEmptyCall(t *testing.T) {
	c := newTxCoder(linecode.TargetSOP, []byte{0x01})

	var calls int
	for {
		calls++
		if calls > 10000 {
			t.Fatalf("producer never reported done")
		}
		out, done := c.Next(nil)
		if done {
			if len(out) != 0 {
				t.Fatalf("got %d pulses on the call reporting done, want 0", len(out))
			}
			break
		}
	}
}

// TestTxCoderProducesEOPBeforeDone confirms the frame's final pulses (the
// EOP symbol plus the trailing long edge) are actually emitted on some
// call prior to the done call, i.e. the fix didn't just delay done forever.
func TestTxCoderProducesEOPBeforeDone(t *testing.T) {
	c := newTxCoder(linecode.TargetSOP, []byte{0x01})

	var total []linecode.Pulse
	for {
		out, done := c.Next(nil)
		total = append(total, out...)
		if done {
			break
		}
	}

	// Preamble (64 bits => 128 pulses) + 4 sync symbols (5 bits => 10
	// pulses each = 40) + 1 data byte (2 symbols => 20 pulses) + EOP
	// symbol (10 pulses) + 1 trailing long edge (2 pulses).
	want := 128 + 40 + 20 + 10 + 2
	if len(total) != want {
		t.Fatalf("got %d total pulses, want %d", len(total), want)
	}
}
