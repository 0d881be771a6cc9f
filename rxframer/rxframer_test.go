package rxframer

import (
	"testing"
	"time"

	"github.com/tinypd/pdsink/bufpool"
	"github.com/tinypd/pdsink/crc32pd"
	"github.com/tinypd/pdsink/linecode"
	"github.com/tinypd/pdsink/pdmsg"
)

// encodeFrame reproduces the transmit encoder's phase order (preamble, sync,
// data, EOP) directly over linecode primitives, independent of txengine, so
// this test exercises the RX framer against a hand-built waveform rather
// than round-tripping through the encoder it will eventually be paired with.
func encodeFrame(t linecode.Target, payload []byte) []linecode.Pulse {
	var enc linecode.BMCEncoder
	enc.Reset()
	var pulses []linecode.Pulse

	for i := 0; i < linecode.PreambleBitCount; i++ {
		pulses = enc.AddBit(pulses, uint8(i&1), linecode.ShortDuration)
	}
	for _, sym := range linecode.SOPSymbols[t] {
		pulses = enc.AddSymbol(pulses, linecode.Encode[sym], linecode.ShortDuration)
	}
	for _, b := range payload {
		pulses = enc.AddSymbol(pulses, linecode.Encode[linecode.Symbol(b&0x0F)], linecode.ShortDuration)
		pulses = enc.AddSymbol(pulses, linecode.Encode[linecode.Symbol(b>>4)], linecode.ShortDuration)
	}
	pulses = enc.AddSymbol(pulses, linecode.Encode[linecode.EOP], linecode.ShortDuration)
	pulses = enc.AddBit(pulses, 0, 2*linecode.ShortDuration)

	return linecode.MergePulses(pulses)
}

func newTestFramer(t *testing.T, cfg Config) (*Framer, *bufpool.Pool, chan *bufpool.Buffer, chan AckRequest) {
	t.Helper()
	pool := bufpool.New(4)
	dataCh := make(chan *bufpool.Buffer, 4)
	ackCh := make(chan AckRequest, 4)
	return New(pool, dataCh, ackCh, cfg), pool, dataCh, ackCh
}

func buildSourceCapFrame(t *testing.T) []byte {
	var m pdmsg.Message
	m.SetType(pdmsg.TypeSourceCap)
	m.SetDataObjectCount(1)
	m.SetID(3)
	m.SetDataRole(pdmsg.DataRoleDFP)
	m.SetPowerRole(pdmsg.PowerRoleSource)
	m.SetRevision(pdmsg.Revision20)
	var fs pdmsg.FixedSupplyPDO
	fs.SetVoltage(5000)
	fs.SetMaxCurrent(3000)
	m.Data[0] = uint32(fs)

	var buf [pdmsg.MaxMessageBytes]byte
	n := m.ToBytes(buf[:])
	return crc32pd.AppendLE(buf[:n])
}

func TestFramerDecodesValidFrameAndRequestsAck(t *testing.T) {
	f, _, dataCh, ackCh := newTestFramer(t, Config{EmarkerEmulation: false})

	payload := buildSourceCapFrame(t)
	for _, p := range encodeFrame(linecode.TargetSOP, payload) {
		f.Feed(p.Duration)
	}
	f.Feed(0)

	select {
	case b := <-dataCh:
		if b.Kind != bufpool.KindData {
			t.Fatalf("got kind %v, want KindData", b.Kind)
		}
		if b.Target != linecode.TargetSOP {
			t.Fatalf("got target %v, want SOP", b.Target)
		}
		if b.Direction != bufpool.DirectionReceivedAcked {
			t.Fatalf("got direction %v, want ReceivedAcked", b.Direction)
		}
		m := pdmsg.FromBytes(b.Payload[:b.Length])
		if m.Type() != pdmsg.TypeSourceCap || !m.IsData() {
			t.Fatalf("decoded message mismatch: %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatalf("no buffer delivered to dataCh")
	}

	select {
	case req := <-ackCh:
		if req.Target != linecode.TargetSOP || req.MessageID != 3 {
			t.Fatalf("got ack request %+v, want target SOP id 3", req)
		}
	case <-time.After(time.Second):
		t.Fatalf("no ack request emitted for an addressed, valid, non-GoodCRC frame")
	}
}

func TestFramerRejectsCorruptedFrame(t *testing.T) {
	f, _, dataCh, ackCh := newTestFramer(t, Config{})

	payload := buildSourceCapFrame(t)
	payload[0] ^= 0xFF // corrupt the header byte, breaking the CRC

	for _, p := range encodeFrame(linecode.TargetSOP, payload) {
		f.Feed(p.Duration)
	}
	f.Feed(0)

	select {
	case b := <-dataCh:
		if b.Kind != bufpool.KindSymbols {
			t.Fatalf("got kind %v for a CRC-corrupted frame, want KindSymbols", b.Kind)
		}
	case <-time.After(time.Second):
		t.Fatalf("no buffer delivered for the corrupted frame")
	}

	select {
	case req := <-ackCh:
		t.Fatalf("unexpected ack request %+v for a CRC-invalid frame", req)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFramerDoesNotAckSOPPrimeWithoutEmarkerEmulation(t *testing.T) {
	f, _, dataCh, ackCh := newTestFramer(t, Config{EmarkerEmulation: false})

	payload := buildSourceCapFrame(t)
	for _, p := range encodeFrame(linecode.TargetSOPPrime, payload) {
		f.Feed(p.Duration)
	}
	f.Feed(0)

	select {
	case b := <-dataCh:
		if b.Direction != bufpool.DirectionReceived {
			t.Fatalf("got direction %v, want Received (no ack) without emarker emulation", b.Direction)
		}
	case <-time.After(time.Second):
		t.Fatalf("no buffer delivered")
	}

	select {
	case req := <-ackCh:
		t.Fatalf("unexpected ack request %+v for SOP' without emarker emulation", req)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFramerAcksSOPPrimeWithEmarkerEmulation(t *testing.T) {
	f, _, dataCh, ackCh := newTestFramer(t, Config{EmarkerEmulation: true})

	payload := buildSourceCapFrame(t)
	for _, p := range encodeFrame(linecode.TargetSOPPrime, payload) {
		f.Feed(p.Duration)
	}
	f.Feed(0)

	<-dataCh
	select {
	case req := <-ackCh:
		if req.Target != linecode.TargetSOPPrime {
			t.Fatalf("got target %v, want SOP'", req.Target)
		}
	case <-time.After(time.Second):
		t.Fatalf("no ack request for SOP' with emarker emulation enabled")
	}
}
