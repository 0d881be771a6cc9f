package txengine

import (
	"context"
	"testing"
	"time"

	"github.com/tinypd/pdsink/bufpool"
	"github.com/tinypd/pdsink/linecode"
	"github.com/tinypd/pdsink/pdmsg"
	"github.com/tinypd/pdsink/pulseio"
	"github.com/tinypd/pdsink/rxframer"
)

// wiredLoop sets up a TX engine driving a Loopback peripheral whose
// transmitted waveform feeds straight into an rxframer.Framer, the way
// port.Port wires the real pipeline, so Submit exercises encode, BMC
// pulses, decode and CRC validation in one pass.
type wiredLoop struct {
	engine *Engine
	dataCh chan *bufpool.Buffer
	ackCh  chan rxframer.AckRequest
}

func newWiredLoop(t *testing.T, cfg Config) *wiredLoop {
	t.Helper()
	pool := bufpool.New(4)
	dataCh := make(chan *bufpool.Buffer, 4)
	ackCh := make(chan rxframer.AckRequest, 4)
	framer := rxframer.New(pool, dataCh, ackCh, rxframer.Config{})

	lb := pulseio.NewLoopback()
	lb.RxStart(func(pulses []linecode.Pulse, lastBatch bool) {
		for _, p := range pulses {
			framer.Feed(p.Duration)
		}
		if lastBatch {
			framer.Feed(0)
		}
	})

	engine := New(lb, pool, nil, cfg)
	return &wiredLoop{engine: engine, dataCh: dataCh, ackCh: ackCh}
}

// autoAck drains w.ackCh in the background and immediately reports the ack
// back to the engine, standing in for a goodcrc.Responder so Submit
// observes a normal accept.
func (w *wiredLoop) autoAck(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case req := <-w.ackCh:
				w.engine.AckReceived(req.MessageID)
			}
		}
	}()
}

func TestSubmitRoundTripsThroughLoopback(t *testing.T) {
	w := newWiredLoop(t, DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w.autoAck(ctx)

	// The framer only requests a GoodCRC for frames whose data role is DFP,
	// so the looped-back frame carries that role.
	var m pdmsg.Message
	m.SetType(pdmsg.TypeRequest)
	m.SetDataObjectCount(1)
	m.SetDataRole(pdmsg.DataRoleDFP)
	m.Data[0] = 0x30019064

	if err := w.engine.Submit(ctx, linecode.TargetSOP, m); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	select {
	case b := <-w.dataCh:
		if b.Kind != bufpool.KindData {
			t.Fatalf("got kind %v, want KindData", b.Kind)
		}
		got := pdmsg.FromBytes(b.Payload[:b.Length])
		if got.Type() != pdmsg.TypeRequest || got.Data[0] != 0x30019064 {
			t.Fatalf("decoded message mismatch: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("transmitted frame was never decoded by the framer")
	}
}

func TestSubmitFailsWithoutAck(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AckWaitTimeout = 10 * time.Millisecond
	cfg.MaxRetries = 1
	w := newWiredLoop(t, cfg)
	// No autoAck goroutine: nothing ever calls AckReceived.

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var m pdmsg.Message
	m.SetType(pdmsg.TypeAccept)

	err := w.engine.Submit(ctx, linecode.TargetSOP, m)
	if err == nil {
		t.Fatalf("expected Submit to fail when no GoodCRC ever arrives")
	}
}

func TestSubmitAssignsAndAdvancesMessageID(t *testing.T) {
	w := newWiredLoop(t, DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w.autoAck(ctx)

	// DFP data role, so the framer requests a GoodCRC for the looped-back frame.
	var m pdmsg.Message
	m.SetType(pdmsg.TypeAccept)
	m.SetDataRole(pdmsg.DataRoleDFP)

	for want := uint8(0); want < 3; want++ {
		if err := w.engine.Submit(ctx, linecode.TargetSOP, m); err != nil {
			t.Fatalf("Submit #%d failed: %v", want, err)
		}
		select {
		case b := <-w.dataCh:
			got := pdmsg.FromBytes(b.Payload[:b.Length])
			if got.ID() != want {
				t.Fatalf("attempt %d: got message id %d, want %d", want, got.ID(), want)
			}
		case <-time.After(time.Second):
			t.Fatalf("attempt %d: frame never decoded", want)
		}
	}
}
