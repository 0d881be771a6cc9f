// Package txengine serializes outgoing messages, streams them through the
// BMC/4b5b encoder, drives the CC line, and retries against missing
// GoodCRC acknowledgment.
package txengine

import (
	"context"
	"sync"
	"time"

	"github.com/tinypd/pdsink/bufpool"
	"github.com/tinypd/pdsink/crc32pd"
	"github.com/tinypd/pdsink/linecode"
	"github.com/tinypd/pdsink/pdmsg"
	"github.com/tinypd/pdsink/pdsinkerr"
	"github.com/tinypd/pdsink/pulseio"
)

// Config holds the tunables the distilled spec leaves as build-time/Open
// Question values.
type Config struct {
	// MaxRetries bounds additional attempts after the first, so total
	// attempts = MaxRetries+1. The reference firmware uses 1 (2 attempts
	// total); strict USB-PD conformance specifies 3.
	MaxRetries int

	// AckWaitTimeout is how long Submit waits for a matching GoodCRC after
	// each attempt.
	AckWaitTimeout time.Duration

	// LogTxPackets tees a copy of every attempt to the logging channel.
	LogTxPackets bool
}

// DefaultConfig returns the reference firmware's values.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     1,
		AckWaitTimeout: 10 * time.Millisecond,
		LogTxPackets:   true,
	}
}

const maxPulsesPerCall = 32

// Engine is the TX task: it owns the outbound message_id counter and the
// CC line while a transmission is in flight.
type Engine struct {
	peripheral pulseio.Peripheral
	pool       *bufpool.Pool
	logCh      chan<- *bufpool.Buffer
	cfg        Config

	mu     sync.Mutex
	nextID uint8
	ackCh  chan uint8
}

// New creates an Engine driving peripheral. logCh, if non-nil, receives a
// copy of every transmitted frame for the logging task; sends never block.
func New(peripheral pulseio.Peripheral, pool *bufpool.Pool, logCh chan<- *bufpool.Buffer, cfg Config) *Engine {
	return &Engine{
		peripheral: peripheral,
		pool:       pool,
		logCh:      logCh,
		cfg:        cfg,
		ackCh:      make(chan uint8, 4),
	}
}

// AckReceived notifies the engine that a GoodCRC with the given message_id
// arrived from the port partner. It is called by the protocol task after it
// decodes an inbound GoodCRC addressed to us with data_role=DFP.
func (e *Engine) AckReceived(id uint8) {
	select {
	case e.ackCh <- id:
	default:
	}
}

// Submit serializes, transmits and retries m until a GoodCRC is received or
// retries are exhausted. It assigns m's message_id from the engine's
// outbound counter (advanced only on success) and defaults Target to SOP
// when unset. Submit blocks until the outcome is known; it is the engine's
// equivalent of firing the message's completion callback.
func (e *Engine) Submit(ctx context.Context, target linecode.Target, m pdmsg.Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	attempts := e.cfg.MaxRetries + 1
	id := e.nextID

	for attempt := 0; attempt < attempts; attempt++ {
		m.SetID(id)

		var hdr [pdmsg.MaxMessageBytes]byte
		n := m.ToBytes(hdr[:])
		frame := crc32pd.AppendLE(append([]byte(nil), hdr[:n]...))

		coder := newTxCoder(target, frame)
		if err := e.transmit(ctx, coder); err != nil {
			return err
		}

		acked := e.waitAck(ctx, id, e.cfg.AckWaitTimeout)
		e.logAttempt(target, m, frame, acked)

		if acked {
			e.nextID = (id + 1) % 8
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return pdsinkerr.ErrTxNoAck
}

// SendRaw implements goodcrc.RawSender: it transmits a fully serialized
// frame immediately, without the retry loop or ack wait, matching
// pd_tx_start's "assume the line is free" contract.
func (e *Engine) SendRaw(target linecode.Target, frame []byte) error {
	coder := newTxCoder(target, frame)
	return e.transmit(context.Background(), coder)
}

func (e *Engine) transmit(ctx context.Context, coder *txCoder) error {
	if err := e.activateLine(); err != nil {
		return err
	}
	done := make(chan struct{})
	err := e.peripheral.TxSubmit(coder.Next, func() {
		e.deactivateLine()
		close(done)
	})
	if err != nil {
		e.deactivateLine()
		return err
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// activateLine reconfigures the CC pin (and aux pin, if present) for
// transmission: low drive strength, connected to the generated waveform,
// with the aux pin driving low to form the resistor divider approximating
// the 1.1V CC level. Order matches pd_tx_active.
func (e *Engine) activateLine() error {
	if err := e.peripheral.SetDriveStrength(pulseio.PinCC, pulseio.DriveLow); err != nil {
		return err
	}
	if err := e.peripheral.ConnectOutSignal(pulseio.PinCC, true); err != nil {
		return err
	}
	if err := e.peripheral.SetDirection(pulseio.PinAux, pulseio.DirectionOut); err != nil {
		return err
	}
	return nil
}

// deactivateLine restores both pins to high-impedance inputs so RX is not
// blocked, matching pd_tx_inactive.
func (e *Engine) deactivateLine() {
	_ = e.peripheral.ConnectOutSignal(pulseio.PinCC, false)
	_ = e.peripheral.SetDirection(pulseio.PinCC, pulseio.DirectionIn)
	_ = e.peripheral.SetDirection(pulseio.PinAux, pulseio.DirectionIn)
}

func (e *Engine) waitAck(ctx context.Context, id uint8, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case got := <-e.ackCh:
			if got == id {
				return true
			}
		case <-timer.C:
			return false
		}
	}
}

func (e *Engine) logAttempt(target linecode.Target, m pdmsg.Message, frame []byte, acked bool) {
	if !e.cfg.LogTxPackets || e.logCh == nil || e.pool == nil {
		return
	}
	b, ok := e.pool.Get()
	if !ok {
		return
	}
	b.Target = target
	b.Kind = bufpool.KindData
	b.Direction = bufpool.DirectionSent
	if acked {
		b.Direction = bufpool.DirectionSentAcked
	}
	n := len(frame)
	if n > bufpool.MaxSymbols {
		n = bufpool.MaxSymbols
	}
	b.Payload = b.PayloadSlice(n)
	copy(b.Payload, frame[:n])
	b.Length = n

	select {
	case e.logCh <- b:
	default:
		e.pool.Put(b)
	}
}
