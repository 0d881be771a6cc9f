package goodcrc

import (
	"context"
	"testing"
	"time"

	"github.com/tinypd/pdsink/crc32pd"
	"github.com/tinypd/pdsink/linecode"
	"github.com/tinypd/pdsink/pdmsg"
	"github.com/tinypd/pdsink/rxframer"
)

type capturingSender struct {
	target linecode.Target
	frame  []byte
	calls  int
}

func (c *capturingSender) SendRaw(target linecode.Target, frame []byte) error {
	c.target = target
	c.frame = append([]byte(nil), frame...)
	c.calls++
	return nil
}

func TestResponderEchoesMessageID(t *testing.T) {
	sender := &capturingSender{}
	r := New(sender)

	reqCh := make(chan rxframer.AckRequest, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx, reqCh)

	reqCh <- rxframer.AckRequest{Target: linecode.TargetSOPPrime, MessageID: 5}

	deadline := time.After(time.Second)
	for sender.calls == 0 {
		select {
		case <-deadline:
			t.Fatalf("responder never transmitted")
		case <-time.After(time.Millisecond):
		}
	}

	if sender.target != linecode.TargetSOPPrime {
		t.Fatalf("got target %v, want SOP'", sender.target)
	}
	if !crc32pd.VerifyLE(sender.frame) {
		t.Fatalf("responder's frame failed CRC self-check")
	}

	m := pdmsg.FromBytes(sender.frame[:len(sender.frame)-4])
	if m.Type() != pdmsg.TypeGoodCRC {
		t.Fatalf("got type %v, want GoodCRC", m.Type())
	}
	if m.ID() != 5 {
		t.Fatalf("got echoed message id %d, want 5", m.ID())
	}
	if m.IsData() {
		t.Fatalf("GoodCRC must be a control message with zero data objects")
	}
	if m.DataRole() != pdmsg.DataRoleUFP || m.PowerRole() != pdmsg.PowerRoleSink {
		t.Fatalf("got data role %v / power role %v, want UFP/Sink", m.DataRole(), m.PowerRole())
	}
}
