// Package goodcrc implements the highest-priority task in the engine: it
// turns an addressed, valid received frame into a GoodCRC acknowledgment and
// transmits it immediately, without waiting for line idle.
package goodcrc

import (
	"context"

	"github.com/tinypd/pdsink/crc32pd"
	"github.com/tinypd/pdsink/linecode"
	"github.com/tinypd/pdsink/pdmsg"
	"github.com/tinypd/pdsink/rxframer"
)

// RawSender transmits a fully serialized frame (no further CRC or header
// work) as soon as possible, assuming the line is already idle. It is
// implemented by the TX engine's tx_start-equivalent path.
type RawSender interface {
	SendRaw(target linecode.Target, frame []byte) error
}

// SpecRevision is the spec_revision field value the responder places in every
// GoodCRC it sends: 2 (0b10, pdmsg.Revision30). The reference firmware
// hardcodes this to 2 regardless of
// the incoming message's revision; see the Open Questions entry in
// SPEC_FULL.md for why this is kept despite being a conformance gap.
const SpecRevision = pdmsg.Revision30

// Responder drains ack requests from the RX framer and answers them.
type Responder struct {
	tx RawSender
}

// New creates a Responder that transmits through tx.
func New(tx RawSender) *Responder {
	return &Responder{tx: tx}
}

// Run drains reqCh until ctx is done. It should be started in its own
// goroutine before any other task, since nothing else in the engine may
// delay it: a late GoodCRC is indistinguishable to the source from a lost
// packet.
func (r *Responder) Run(ctx context.Context, reqCh <-chan rxframer.AckRequest) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-reqCh:
			r.respond(req)
		}
	}
}

func (r *Responder) respond(req rxframer.AckRequest) {
	var m pdmsg.Message
	m.SetType(pdmsg.TypeGoodCRC)
	m.SetDataObjectCount(0)
	m.SetID(req.MessageID)
	m.SetPowerRole(pdmsg.PowerRoleSink)
	m.SetDataRole(pdmsg.DataRoleUFP)
	m.SetRevision(SpecRevision)

	var buf [pdmsg.MaxMessageBytes]byte
	n := m.ToBytes(buf[:])
	frame := crc32pd.AppendLE(buf[:n])

	// Best-effort: a failed GoodCRC causes the source to retransmit, which
	// is the same outcome as any other lost frame.
	_ = r.tx.SendRaw(req.Target, frame)
}
