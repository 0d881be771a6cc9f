// Package rxframer assembles BMC/4b5b pulse events into decoded power
// delivery frames: preamble search, SOP* recognition, payload accumulation,
// CRC validation, and hand-off to the GoodCRC responder and the protocol
// task.
package rxframer

import (
	"time"

	"github.com/tinypd/pdsink/bufpool"
	"github.com/tinypd/pdsink/crc32pd"
	"github.com/tinypd/pdsink/linecode"
)

type rxState uint8

const (
	stateInit rxState = iota
	statePreamble
	stateSOP
	statePayload
	stateFinished
)

// AckRequest is sent to the GoodCRC responder for every addressed, CRC-valid
// message that is not itself a GoodCRC.
type AckRequest struct {
	Target    linecode.Target
	MessageID uint8
}

// Config controls which SOP* targets are acknowledged, matching the
// build-time EmarkerEmulation option.
type Config struct {
	// EmarkerEmulation, if true, acknowledges SOP' and SOP'' in addition to
	// SOP, and allows the policy layer to answer cable Discover Identity.
	EmarkerEmulation bool
}

// Framer is the RX state machine. Feed must be called with each pulse
// duration in arrival order; it never blocks and never allocates once warmed
// up, so it is safe to call from a pulse-capture callback.
type Framer struct {
	pool   *bufpool.Pool
	dataCh chan<- *bufpool.Buffer
	ackCh  chan<- AckRequest
	cfg    Config

	state    rxState
	cls      linecode.BMCClassifier
	bitData  uint8
	bitCount uint8
	cur      *bufpool.Buffer
}

// New creates a Framer. dataCh receives every terminated buffer (Data or
// Symbols); ackCh receives a request for each addressed, valid, non-GoodCRC
// frame. Both channels should be buffered; Feed drops to the pool on a full
// channel rather than blocking.
func New(pool *bufpool.Pool, dataCh chan<- *bufpool.Buffer, ackCh chan<- AckRequest, cfg Config) *Framer {
	return &Framer{pool: pool, dataCh: dataCh, ackCh: ackCh, cfg: cfg, state: stateInit}
}

// acknowledge reports whether target is eligible for a GoodCRC response.
func (f *Framer) acknowledge(t linecode.Target) bool {
	switch t {
	case linecode.TargetSOP:
		return true
	case linecode.TargetSOPPrime, linecode.TargetSOPDoublePrime:
		return f.cfg.EmarkerEmulation
	default:
		return false
	}
}

// Feed processes one pulse duration in ticks. A duration of 0 signals the
// end of a capture batch and forces a resync to Init, matching the
// peripheral's flush behavior.
func (f *Framer) Feed(duration uint32) {
	if f.cur == nil {
		b, ok := f.pool.Get()
		if !ok {
			return
		}
		f.cur = b
		f.cur.Start = time.Now()
		f.state = stateInit
	}

	if duration == 0 {
		f.state = stateInit
		return
	}

	if f.state == stateInit {
		f.cur.Reset()
		f.cls.Reset()
		f.bitData = 0
		f.bitCount = 0
		f.state = statePreamble
	}

	bit, shifted, resync := f.cls.Classify(duration)
	if resync {
		f.state = stateInit
		return
	}
	if !shifted {
		return
	}

	f.bitData = (f.bitData >> 1) | (bit << 4)
	f.bitCount++

	if f.state == statePreamble {
		sym := linecode.Decode[f.bitData]
		if sym == linecode.Sync1 || sym == linecode.Rst1 {
			f.state = stateSOP
			f.bitCount = 5
		}
	}

	if f.state == stateSOP {
		if f.bitCount == 5 {
			f.bitCount = 0
			sym := linecode.Decode[f.bitData]
			f.cur.AppendSymbol(sym)
			if f.cur.SymbolCount >= 4 {
				var tuple [4]linecode.Symbol
				copy(tuple[:], f.cur.Symbols[:4])
				if t, ok := linecode.LookupSOP(tuple); ok {
					f.cur.Target = t
					if t == linecode.TargetHardReset || t == linecode.TargetCableReset {
						// Reset ordered sets carry no payload or EOP: the
						// 4-symbol tuple is the entire signal.
						f.state = stateFinished
					} else {
						f.state = statePayload
					}
				} else {
					f.state = stateInit
				}
			}
		}
	}

	if f.state == statePayload {
		if f.bitCount == 5 {
			f.bitCount = 0
			sym := linecode.Decode[f.bitData]
			full := !f.cur.AppendSymbol(sym)
			if sym == linecode.EOP || full {
				f.state = stateFinished
			}
		}
	}

	if f.state == stateFinished {
		f.finish()
	}
}

// finish runs the post-processing rules of §4.2 and releases f.cur, either
// by forwarding it to dataCh or returning it to the pool on overflow.
func (f *Framer) finish() {
	b := f.cur
	f.cur = nil
	f.state = stateInit

	b.Kind = bufpool.KindSymbols
	if b.SymbolCount >= 5 {
		n := (b.SymbolCount - 5) / 2
		if n > bufpool.MaxSymbols {
			n = bufpool.MaxSymbols
		}
		b.Payload = b.PayloadSlice(n)
		for i := 0; i < n; i++ {
			lo := b.Symbols[4+2*i]
			hi := b.Symbols[4+2*i+1]
			b.Payload[i] = packNibbles(lo, hi)
		}
		b.Length = n
		if n > 4 && crc32pd.VerifyLE(b.Payload) {
			b.Kind = bufpool.KindData
		}
	}

	b.Direction = bufpool.DirectionReceived
	ackEligible := f.acknowledge(b.Target)
	if ackEligible {
		b.Direction = bufpool.DirectionReceivedAcked
	}

	if b.Kind == bufpool.KindData && ackEligible && b.Length >= 2 {
		header := uint16(b.Payload[0]) | uint16(b.Payload[1])<<8
		dataRole := (header >> 5) & 1
		messageType := header & 0x1F
		numDataObjects := (header >> 12) & 0x07
		messageID := uint8((header >> 9) & 0x07)
		isGoodCRC := numDataObjects == 0 && messageType == 0b00001
		if dataRole == 1 && !isGoodCRC { // data_role == DFP
			req := AckRequest{Target: b.Target, MessageID: messageID}
			select {
			case f.ackCh <- req:
			default:
			}
		}
	}

	select {
	case f.dataCh <- b:
	default:
		f.pool.Put(b)
	}
}

func packNibbles(lo, hi linecode.Symbol) byte {
	return byte(lo&0xF) | byte(hi&0xF)<<4
}
