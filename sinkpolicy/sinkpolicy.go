// Package sinkpolicy implements the sink-side USB Power Delivery policy
// engine: source capability evaluation, request/accept/ready negotiation,
// and the handful of control messages the sink answers unconditionally
// (Soft Reset, GoodCRC bookkeeping).
package sinkpolicy

import (
	"context"
	"sync"
	"time"

	"github.com/tinypd/pdsink/linecode"
	"github.com/tinypd/pdsink/pdmsg"
	"github.com/tinypd/pdsink/txengine"
)

var maxTimerExpiry = time.Unix(1<<63-62135596801, 999999999) // https://stackoverflow.com/a/32620397

// CapabilityEvaluator decides which, if any, of the source's advertised
// power profiles to request.
type CapabilityEvaluator interface {
	// EvaluateCapabilities is called every time a Source_Capabilities
	// message arrives. Returning pdmsg.EmptyRequestDO declines every
	// profile offered: the engine then requests object 1 at 100 mA and
	// does not report EventPowerReady.
	EvaluateCapabilities([]pdmsg.PDO) pdmsg.RequestDO
}

// CapabilityEvaluatorFunc adapts a plain function to CapabilityEvaluator.
type CapabilityEvaluatorFunc func([]pdmsg.PDO) pdmsg.RequestDO

// EvaluateCapabilities implements CapabilityEvaluator.
func (f CapabilityEvaluatorFunc) EvaluateCapabilities(pdos []pdmsg.PDO) pdmsg.RequestDO {
	return f(pdos)
}

// Event is a high-level policy notification for a device policy manager,
// distinct from the wire-level messages that drive it.
type Event string

const (
	EventAccepted      Event = "accepted"
	EventRejected      Event = "rejected"
	EventPowerNotReady Event = "power_not_ready"
	EventPowerReady    Event = "power_ready"
)

// EventHandler receives policy Events.
type EventHandler interface {
	HandleEvent(Event)
}

// EventHandlerFunc adapts a plain function to EventHandler.
type EventHandlerFunc func(Event)

// HandleEvent implements EventHandler.
func (e EventHandlerFunc) HandleEvent(ev Event) { e(ev) }

// Config holds the Open-Question values the distilled spec leaves tunable.
type Config struct {
	// DefaultRequestVoltageMV and DefaultRequestCurrentMA parameterize the
	// built-in evaluator (see DefaultEvaluator). The engine does not install
	// that evaluator itself; it is used only once passed to
	// SetCapabilityEvaluator.
	DefaultRequestVoltageMV uint16
	DefaultRequestCurrentMA uint16

	// RequestRefresh is how often an explicit contract's Request is resent
	// while idle in sink-ready, matching PD_REQUEST_REFRESH_MS.
	RequestRefresh time.Duration

	// EmarkerEmulation, if true, answers a Discover Identity addressed to
	// SOP' with a canned cable-identity VDM, matching the build-time
	// PD_TEST_EMARKER_CABLE option.
	EmarkerEmulation bool
}

// DefaultConfig returns the reference firmware's tunables.
func DefaultConfig() Config {
	return Config{
		DefaultRequestVoltageMV: 12000,
		DefaultRequestCurrentMA: 1000,
		RequestRefresh:          2 * time.Second,
	}
}

// DefaultEvaluator selects the first Fixed Supply PDO matching cfg's
// voltage exactly with sufficient current, else the first PPS PDO whose
// range covers the voltage with sufficient current, else falls back to
// object #1 with no particular match (mirroring the reference selection
// loop's final "request #1 anyway" fallback).
func DefaultEvaluator(cfg Config) CapabilityEvaluator {
	return CapabilityEvaluatorFunc(func(pdos []pdmsg.PDO) pdmsg.RequestDO {
		for i, p := range pdos {
			if p.Type() != pdmsg.PDOTypeFixedSupply {
				continue
			}
			fs := pdmsg.FixedSupplyPDO(p)
			if fs.Voltage() == cfg.DefaultRequestVoltageMV && fs.MaxCurrent() >= cfg.DefaultRequestCurrentMA {
				return fixedRDO(uint8(i+1), cfg.DefaultRequestCurrentMA)
			}
		}
		for i, p := range pdos {
			if p.Type() != pdmsg.PDOTypePPS {
				continue
			}
			pps := pdmsg.PPSPDO(p)
			if pps.MinVoltage() <= cfg.DefaultRequestVoltageMV && pps.MaxVoltage() >= cfg.DefaultRequestVoltageMV && pps.MaxCurrent() >= cfg.DefaultRequestCurrentMA {
				return ppsRDO(uint8(i+1), cfg.DefaultRequestVoltageMV, cfg.DefaultRequestCurrentMA)
			}
		}
		if len(pdos) == 0 {
			return pdmsg.EmptyRequestDO
		}
		return fixedRDO(1, cfg.DefaultRequestCurrentMA)
	})
}

func fixedRDO(object uint8, currentMA uint16) pdmsg.RequestDO {
	var r pdmsg.RequestDO
	r.SetSelectedObjectPosition(object)
	r.SetFixedOperatingCurrent(currentMA)
	r.SetFixedMaxOperatingCurrent(currentMA)
	return r
}

func ppsRDO(object uint8, voltageMV, currentMA uint16) pdmsg.RequestDO {
	var r pdmsg.RequestDO
	r.SetSelectedObjectPosition(object)
	r.SetPPSOutputVoltage(voltageMV)
	r.SetPPSOutputCurrent(currentMA)
	return r
}

// Inbound is one decoded, addressed message handed to the engine by the
// caller wiring it to an rxframer/bufpool pipeline.
type Inbound struct {
	Target linecode.Target
	Msg    pdmsg.Message
}

// engineEvent drives state transitions alongside inbound messages.
type engineEvent uint8

const (
	eventNone engineEvent = iota
	eventRx
	eventTimerTimeout
	eventReset // Hard Reset / Cable Reset observed, or Reset() called
)

// Engine is the sink policy task. It owns no transport of its own: it reads
// decoded frames from rxCh, reads reset notifications from resetCh, and
// submits outgoing messages through tx.
type Engine struct {
	tx  *txengine.Engine
	cfg Config

	timerExpiry  time.Time
	sourceCapMsg pdmsg.Message
	requestDO    pdmsg.RequestDO
	msgTpl       pdmsg.Message
	pdoBuf       [pdmsg.MaxDataObjects]pdmsg.PDO

	explicitContract bool
	waitingOnSource  bool

	lastRxID uint8

	callbacks struct {
		mu           sync.Mutex
		capEvaluator CapabilityEvaluator
		eventHandler EventHandler
	}

	resetRequested chan struct{}
}

// New creates an Engine that transmits through tx.
func New(tx *txengine.Engine, cfg Config) *Engine {
	m := pdmsg.Message{}
	m.SetPowerRole(pdmsg.PowerRoleSink)
	m.SetDataRole(pdmsg.DataRoleUFP)
	m.SetExtended(false)

	return &Engine{
		tx:             tx,
		cfg:            cfg,
		timerExpiry:    maxTimerExpiry,
		msgTpl:         m,
		resetRequested: make(chan struct{}, 1),
	}
}

// SetCapabilityEvaluator installs ce. With a nil evaluator every offer is
// declined as if it had returned pdmsg.EmptyRequestDO.
func (pe *Engine) SetCapabilityEvaluator(ce CapabilityEvaluator) {
	pe.callbacks.mu.Lock()
	pe.callbacks.capEvaluator = ce
	pe.callbacks.mu.Unlock()
}

// SetEventHandler installs e, or removes it if nil.
func (pe *Engine) SetEventHandler(e EventHandler) {
	pe.callbacks.mu.Lock()
	pe.callbacks.eventHandler = e
	pe.callbacks.mu.Unlock()
}

// Reset requests a Hard Reset cycle. Safe to call concurrently with Run.
func (pe *Engine) Reset() {
	select {
	case pe.resetRequested <- struct{}{}:
	default:
	}
}

func (pe *Engine) evalCaps(pdos []pdmsg.PDO) pdmsg.RequestDO {
	pe.callbacks.mu.Lock()
	defer pe.callbacks.mu.Unlock()
	if pe.callbacks.capEvaluator != nil {
		return pe.callbacks.capEvaluator.EvaluateCapabilities(pdos)
	}
	return pdmsg.EmptyRequestDO
}

func (pe *Engine) notify(e Event) {
	pe.callbacks.mu.Lock()
	defer pe.callbacks.mu.Unlock()
	if pe.callbacks.eventHandler != nil {
		pe.callbacks.eventHandler.HandleEvent(e)
	}
}

func (pe *Engine) startTimer(d time.Duration) {
	pe.timerExpiry = time.Now().Add(d)
}

func (pe *Engine) sendRDO(ctx context.Context, rdo pdmsg.RequestDO) error {
	m := pe.msgTpl
	m.SetType(pdmsg.TypeRequest)
	m.SetDataObjectCount(1)
	m.Data[0] = uint32(rdo)
	return pe.tx.Submit(ctx, linecode.TargetSOP, m)
}

func (pe *Engine) sendAccept(ctx context.Context, target linecode.Target) error {
	m := pe.msgTpl
	m.SetType(pdmsg.TypeAccept)
	m.SetDataObjectCount(0)
	return pe.tx.Submit(ctx, target, m)
}

// Run drives the policy state machine until ctx is done. rxCh delivers
// every addressed, CRC-valid frame not itself consumed as a GoodCRC ack;
// resetCh delivers one notification per observed Hard Reset or Cable Reset
// ordered set.
func (pe *Engine) Run(ctx context.Context, rxCh <-chan Inbound, resetCh <-chan linecode.Target) {
	cur := stateSinkStartup
	entering := true

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var next *state
		var ev engineEvent
		var in Inbound

		if entering {
			pe.timerExpiry = maxTimerExpiry
			if cur.Enter != nil {
				next = cur.Enter(pe, ctx)
			}
			entering = false
		} else {
			timer := pe.timerExpiry
			var timerCh <-chan time.Time
			if !timer.Equal(maxTimerExpiry) {
				d := time.Until(timer)
				if d < 0 {
					d = 0
				}
				t := time.NewTimer(d)
				timerCh = t.C
				defer t.Stop()
			}

			select {
			case <-ctx.Done():
				return
			case <-pe.resetRequested:
				ev = eventReset
			case t := <-resetCh:
				_ = t
				ev = eventReset
			case m, ok := <-rxCh:
				if !ok {
					return
				}
				if m.Msg.ID() == pe.lastRxID {
					continue
				}
				pe.lastRxID = m.Msg.ID()
				if pe.handleGlobal(ctx, m) {
					continue
				}
				in = m
				ev = eventRx
			case <-timerCh:
				pe.timerExpiry = maxTimerExpiry
				ev = eventTimerTimeout
			}

			switch ev {
			case eventReset:
				next = stateSinkHardReset
			default:
				next = cur.Process(pe, ctx, in, ev)
			}
		}

		if next != nil {
			if cur.Exit != nil {
				cur.Exit(pe)
			}
			cur = next
			entering = true
		}
	}
}

// HandleSoftReset answers an inbound Soft Reset immediately with Accept,
// independent of the current state, matching the reference firmware's
// unconditional response.
func (pe *Engine) HandleSoftReset(ctx context.Context, target linecode.Target) {
	_ = pe.sendAccept(ctx, target)
}

// handleGlobal answers the handful of messages pd_protocol_task handles
// unconditionally, outside of the requested/accepted-object state machine:
// Soft Reset, a GoodCRC for one of our own outbound messages, and a
// Discover Identity addressed to the cable (SOP'). It reports whether it
// consumed m, in which case the FSM's Process is not invoked for it.
func (pe *Engine) handleGlobal(ctx context.Context, m Inbound) bool {
	msg := m.Msg
	if !msg.IsData() {
		switch msg.Type() {
		case pdmsg.TypeSoftReset:
			pe.HandleSoftReset(ctx, m.Target)
			return true
		case pdmsg.TypeGoodCRC:
			if msg.DataRole() == pdmsg.DataRoleDFP {
				pe.tx.AckReceived(msg.ID())
			}
			return true
		}
		return false
	}

	if msg.Type() == pdmsg.TypeVendorMessage && m.Target == linecode.TargetSOPPrime {
		v := pdmsg.ParseVDM(msg.Data[:msg.DataObjectCount()])
		if pe.cfg.EmarkerEmulation && v.Header.CommandType == pdmsg.VDMCommandTypeREQ && v.Header.Command == pdmsg.VDMCommandDiscoverIdentity {
			pe.sendDiscoverIdentityResponse(ctx)
		}
		return true
	}
	return false
}

// sendDiscoverIdentityResponse answers a cable Discover Identity with the
// canned passive/active-cable identity the reference firmware hardcodes
// under PD_TEST_EMARKER_CABLE: SVID 0xFF00, vendor ID 0xDEAD, product ID
// 0xDEAD, BCD device 0xBEEF, plug type 2 (USB Type-C) with one Cable VDO1.
func (pe *Engine) sendDiscoverIdentityResponse(ctx context.Context) {
	v := pdmsg.VDM{
		Header: pdmsg.VDMHeader{
			SVID:            0xFF00,
			VDMType:         1,
			VDMVersionMajor: 1,
			CommandType:     pdmsg.VDMCommandTypeACK,
			Command:         pdmsg.VDMCommandDiscoverIdentity,
		},
		IDHeader: pdmsg.IDHeaderVDO{
			SOPProductType: 3, // passive cable
			USBVendorID:    0xDEAD,
		},
		Product: pdmsg.ProductVDO{
			USBProductID: 0xDEAD,
			BCDDevice:    0xBEEF,
		},
		Cable1: pdmsg.CableVDO1{
			HWVersion:      1,
			FWVersion:      2,
			PlugType:       2,
			EPRCapable:     true,
			CableLatency:   1,
			MaxVBUSVoltage: 3,
			VBUSCurrent:    2,
			VBUSThrough:    true,
			USBSpeed:       4,
		},
	}
	var pdos [6]uint32
	n := pdmsg.BuildVDM(v, pdos[:])

	m := pe.msgTpl
	m.SetType(pdmsg.TypeVendorMessage)
	m.SetDataObjectCount(uint8(n))
	copy(m.Data[:], pdos[:n])
	_ = pe.tx.Submit(ctx, linecode.TargetSOPPrime, m)
}

// state is one node of the sink policy state machine.
type state struct {
	Name string

	// Enter runs on entry; a non-nil return immediately replaces cur
	// without waiting for an event.
	Enter func(pe *Engine, ctx context.Context) (next *state)

	// Process handles one event while resident in this state.
	Process func(pe *Engine, ctx context.Context, in Inbound, e engineEvent) (next *state)

	Exit func(pe *Engine)
}

var (
	stateSinkStartup              *state
	stateSinkWaitForCapabilities  *state
	stateSinkEvaluateCapabilities *state
	stateSinkSelectCapabilities   *state
	stateSinkTransitionSink       *state
	stateSinkReady                *state
	stateSinkHardReset            *state
)

func init() {
	stateSinkStartup = &state{
		Name: "sink-startup",
		Enter: func(pe *Engine, ctx context.Context) *state {
			pe.lastRxID = 8 // impossible ID: no message received yet
			pe.notify(EventPowerNotReady)
			pe.explicitContract = false
			pe.waitingOnSource = false
			pe.requestDO = pdmsg.EmptyRequestDO
			return stateSinkWaitForCapabilities
		},
	}

	stateSinkWaitForCapabilities = &state{
		Name: "sink-wait-for-cap",
		Enter: func(pe *Engine, ctx context.Context) *state {
			pe.sourceCapMsg = pdmsg.Message{}
			pe.startTimer(timerSinkWaitCap)
			return nil
		},
		Process: func(pe *Engine, ctx context.Context, in Inbound, e engineEvent) *state {
			if e == eventTimerTimeout {
				return stateSinkHardReset
			}
			if e == eventRx && in.Msg.IsData() && in.Msg.Type() == pdmsg.TypeSourceCap {
				pe.sourceCapMsg = in.Msg
				r := in.Msg.Revision()
				if r < pdmsg.Revision30 {
					pe.msgTpl.SetRevision(r)
				} else {
					pe.msgTpl.SetRevision(pdmsg.Revision30)
				}
				return stateSinkEvaluateCapabilities
			}
			return nil
		},
	}

	stateSinkEvaluateCapabilities = &state{
		Name: "sink-eval-cap",
		Enter: func(pe *Engine, ctx context.Context) *state {
			l := pe.sourceCapMsg.DataObjectCount()
			for i, d := range pe.sourceCapMsg.Data[:l] {
				pe.pdoBuf[i] = pdmsg.PDO(d)
			}
			pe.requestDO = pe.evalCaps(pe.pdoBuf[:l])
			return stateSinkSelectCapabilities
		},
	}

	stateSinkSelectCapabilities = &state{
		Name: "sink-select-cap",
		Enter: func(pe *Engine, ctx context.Context) *state {
			rdo := pe.requestDO
			if rdo == pdmsg.EmptyRequestDO {
				rdo = fixedRDO(1, 100)
			}
			if err := pe.sendRDO(ctx, rdo); err != nil {
				return stateSinkHardReset
			}
			pe.startTimer(timerSenderResponse)
			return nil
		},
		Process: func(pe *Engine, ctx context.Context, in Inbound, e engineEvent) *state {
			if e == eventTimerTimeout {
				return stateSinkHardReset
			}
			if e == eventRx && !in.Msg.IsData() {
				switch in.Msg.Type() {
				case pdmsg.TypeAccept:
					pe.notify(EventAccepted)
					pe.waitingOnSource = false
					pe.explicitContract = true
					return stateSinkTransitionSink
				case pdmsg.TypeReject:
					pe.notify(EventRejected)
					if pe.explicitContract {
						return stateSinkReady
					}
					return stateSinkWaitForCapabilities
				case pdmsg.TypeWait:
					pe.waitingOnSource = true
					if pe.explicitContract {
						return stateSinkReady
					}
					return stateSinkWaitForCapabilities
				}
			}
			return nil
		},
	}

	stateSinkTransitionSink = &state{
		Name: "sink-transition-sink",
		Enter: func(pe *Engine, ctx context.Context) *state {
			pe.startTimer(timerPSTransition)
			return nil
		},
		Process: func(pe *Engine, ctx context.Context, in Inbound, e engineEvent) *state {
			if e == eventTimerTimeout {
				return stateSinkHardReset
			}
			if e == eventRx && !in.Msg.IsData() && in.Msg.Type() == pdmsg.TypePSReady {
				return stateSinkReady
			}
			return nil
		},
	}

	stateSinkReady = &state{
		Name: "sink-ready",
		Enter: func(pe *Engine, ctx context.Context) *state {
			if pe.requestDO != pdmsg.EmptyRequestDO {
				pe.notify(EventPowerReady)
			}
			if pe.waitingOnSource {
				pe.startTimer(timerSinkRequest)
			} else if pe.requestDO != pdmsg.EmptyRequestDO {
				// Any explicit contract, fixed or PPS, needs its Request
				// re-issued periodically or the source lets it expire.
				pe.startTimer(pe.cfg.RequestRefresh)
			}
			return nil
		},
		Process: func(pe *Engine, ctx context.Context, in Inbound, e engineEvent) *state {
			if e == eventTimerTimeout {
				return stateSinkSelectCapabilities
			}
			if e == eventRx && in.Msg.IsData() && in.Msg.Type() == pdmsg.TypeSourceCap {
				pe.sourceCapMsg = in.Msg
				return stateSinkEvaluateCapabilities
			}
			return nil
		},
	}

	stateSinkHardReset = &state{
		Name: "sink-hard-reset",
		Enter: func(pe *Engine, ctx context.Context) *state {
			pe.notify(EventPowerNotReady)
			return stateSinkStartup
		},
	}
}

// Timer durations, from the USB-PD spec.
const (
	timerPSTransition    = 550 * time.Millisecond
	timerSenderResponse  = 32 * time.Millisecond
	timerSinkRequest     = 100 * time.Millisecond
	timerSinkWaitCap     = 620 * time.Millisecond
)

