// Package port wires the RX framer, GoodCRC responder, TX engine, sink
// policy engine and packet logger into one running port, the way
// pd_protocol_task's buffer dispatch loop ties the reference firmware's
// queues together.
package port

import (
	"context"

	"github.com/tinypd/pdsink/bufpool"
	"github.com/tinypd/pdsink/goodcrc"
	"github.com/tinypd/pdsink/linecode"
	"github.com/tinypd/pdsink/pdmsg"
	"github.com/tinypd/pdsink/portlog"
	"github.com/tinypd/pdsink/pulseio"
	"github.com/tinypd/pdsink/rxframer"
	"github.com/tinypd/pdsink/sinkpolicy"
	"github.com/tinypd/pdsink/txengine"
)

// queueDepth sizes every inter-task channel. The reference firmware backs
// each of these with an 8-entry FreeRTOS queue.
const queueDepth = 8

// Config bundles everything needed to stand a port up against a
// pulseio.Peripheral.
type Config struct {
	// Peripheral is the CC-line pulse source/sink. Required.
	Peripheral pulseio.Peripheral

	// PoolSize is the number of preallocated packet buffers. The reference
	// firmware allocates 8.
	PoolSize int

	// EmarkerEmulation enables SOP'/SOP'' GoodCRC acknowledgment and the
	// canned cable Discover Identity response.
	EmarkerEmulation bool

	TxConfig     txengine.Config
	PolicyConfig sinkpolicy.Config

	// Logger, if non-nil, receives every terminated buffer (both the ones
	// consumed by the policy engine and the ones dropped along the way) for
	// a human-readable trace.
	Logger *portlog.Logger
}

// Port owns one CC line's worth of running tasks.
type Port struct {
	Pool   *bufpool.Pool
	Framer *rxframer.Framer
	Ack    *goodcrc.Responder
	Tx     *txengine.Engine
	Policy *sinkpolicy.Engine

	logger *portlog.Logger

	dataCh   chan *bufpool.Buffer
	ackReqCh chan rxframer.AckRequest
	rxCh     chan sinkpolicy.Inbound
	resetCh  chan linecode.Target
	logCh    chan *bufpool.Buffer
}

// New builds a Port from cfg; it does not start anything until Run is
// called.
func New(cfg Config) *Port {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 8
	}

	p := &Port{
		dataCh:   make(chan *bufpool.Buffer, queueDepth),
		ackReqCh: make(chan rxframer.AckRequest, queueDepth),
		rxCh:     make(chan sinkpolicy.Inbound, queueDepth),
		resetCh:  make(chan linecode.Target, queueDepth),
		logger:   cfg.Logger,
	}
	p.Pool = bufpool.New(cfg.PoolSize)
	if cfg.Logger != nil {
		p.logCh = make(chan *bufpool.Buffer, queueDepth)
	}

	p.Tx = txengine.New(cfg.Peripheral, p.Pool, p.logCh, cfg.TxConfig)
	p.Ack = goodcrc.New(p.Tx)
	p.Framer = rxframer.New(p.Pool, p.dataCh, p.ackReqCh, rxframer.Config{EmarkerEmulation: cfg.EmarkerEmulation})
	if cfg.EmarkerEmulation {
		cfg.PolicyConfig.EmarkerEmulation = true
	}
	p.Policy = sinkpolicy.New(p.Tx, cfg.PolicyConfig)

	cfg.Peripheral.RxStart(p.onPulses)

	return p
}

// onPulses feeds one capture batch into the RX framer, matching
// pd_rx_done_cbr's per-edge handling plus its end-of-batch flush.
func (p *Port) onPulses(pulses []linecode.Pulse, lastBatch bool) {
	for _, pulse := range pulses {
		p.Framer.Feed(pulse.Duration)
	}
	if lastBatch {
		p.Framer.Feed(0)
	}
}

// Run starts the GoodCRC responder and buffer dispatcher in their own
// goroutines, then runs the sink policy engine on the calling goroutine
// until ctx is done.
func (p *Port) Run(ctx context.Context) {
	go p.Ack.Run(ctx, p.ackReqCh)
	go p.dispatch(ctx)
	if p.logger != nil {
		go p.logger.Run(ctx, p.Pool, p.logCh)
	}
	p.Policy.Run(ctx, p.rxCh, p.resetCh)
}

// dispatch drains terminated buffers off the RX framer, decoding addressed
// data frames into sink policy input and routing reset ordered sets to the
// policy engine's reset channel, mirroring pd_protocol_task's switch over
// rx_data->type.
func (p *Port) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-p.dataCh:
			p.handleBuffer(b)
		}
	}
}

func (p *Port) handleBuffer(b *bufpool.Buffer) {
	switch {
	case b.Kind == bufpool.KindSymbols && (b.Target == linecode.TargetHardReset || b.Target == linecode.TargetCableReset):
		select {
		case p.resetCh <- b.Target:
		default:
		}

	case b.Kind == bufpool.KindData && b.Direction == bufpool.DirectionReceivedAcked && b.Length >= 2:
		m := pdmsg.FromBytes(b.Payload[:b.Length])
		select {
		case p.rxCh <- sinkpolicy.Inbound{Target: b.Target, Msg: m}:
		default:
		}
	}

	if p.logCh != nil {
		select {
		case p.logCh <- b:
			return
		default:
		}
	}
	p.Pool.Put(b)
}
