package txengine

import "github.com/tinypd/pdsink/linecode"

type txPhase uint8

const (
	phasePattern txPhase = iota
	phaseSync
	phaseData
	phaseEOP
	phaseDone
)

// txCoder streams one frame's pulses out across repeated Next calls,
// resuming wherever the previous call left off. It reproduces
// pd_tx_enc_cbr's four phases: preamble, sync, data, EOP.
type txCoder struct {
	enc  linecode.BMCEncoder
	data []byte

	syncSymbols [4]linecode.Symbol

	phase      txPhase
	patternPos int
	syncPos    int
	dataPos    int
	eopStep    int
}

func newTxCoder(target linecode.Target, frame []byte) *txCoder {
	c := &txCoder{
		data:        frame,
		syncSymbols: linecode.SOPSymbols[target],
	}
	c.enc.Reset()
	return c
}

// Next implements pulseio.Producer. It appends the pulses of up to
// maxPulsesPerCall encoding steps (one preamble bit, one sync symbol, one
// data byte or one EOP step each) to dst and reports done=true only on a
// call that produced zero pulses,
// one call after the phase sequence actually drains.
func (c *txCoder) Next(dst []linecode.Pulse) ([]linecode.Pulse, bool) {
	produced := 0
	for produced < maxPulsesPerCall {
		switch c.phase {
		case phasePattern:
			if c.patternPos >= linecode.PreambleBitCount {
				c.phase = phaseSync
				continue
			}
			bit := uint8(c.patternPos & 1)
			dst = c.enc.AddBit(dst, bit, linecode.TxShortDuration)
			c.patternPos++
			produced++

		case phaseSync:
			if c.syncPos >= len(c.syncSymbols) {
				c.phase = phaseData
				continue
			}
			sym := c.syncSymbols[c.syncPos]
			dst = c.enc.AddSymbol(dst, linecode.Encode[sym], linecode.TxShortDuration)
			c.syncPos++
			produced++

		case phaseData:
			if c.dataPos >= len(c.data) {
				c.phase = phaseEOP
				continue
			}
			b := c.data[c.dataPos]
			dst = c.enc.AddSymbol(dst, linecode.Encode[linecode.Symbol(b&0x0F)], linecode.TxShortDuration)
			dst = c.enc.AddSymbol(dst, linecode.Encode[linecode.Symbol(b>>4)], linecode.TxShortDuration)
			c.dataPos++
			produced++

		case phaseEOP:
			switch c.eopStep {
			case 0:
				dst = c.enc.AddSymbol(dst, linecode.Encode[linecode.EOP], linecode.TxShortDuration)
				c.eopStep = 1
				produced++
			case 1:
				dst = c.enc.AddBit(dst, 0, 2*linecode.TxShortDuration)
				c.eopStep = 2
				produced++
			default:
				c.phase = phaseDone
			}

		case phaseDone:
			// done must only be asserted when this call produced nothing:
			// the call that transitions into phaseDone (from the EOP
			// phase) still has those pulses sitting in dst and must report
			// false, or a real peripheral sampling done on that same call
			// could drop them. The next call finds phase already
			// phaseDone, produces nothing, and reports true.
			return dst, produced == 0
		}
	}
	return dst, false
}
