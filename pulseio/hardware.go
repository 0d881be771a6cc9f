package pulseio

import (
	"time"

	"github.com/tinypd/pdsink/linecode"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// tick is the duration of one pulse-timer tick (10 MHz, matching
// linecode.TickRate), expressed as a periph.io physical quantity so pulse
// widths read like the physical durations they are rather than bare
// integers.
const tick = 100 * physic.NanoSecond

// Hardware drives the CC line (and an optional auxiliary divider pin)
// through two periph.io gpio.PinIO lines. Pulse capture is implemented by
// watching edges on the CC pin and timestamping them; pulse generation
// bit-bangs the waveform by toggling the pin for each computed duration.
// This trades real-time precision for portability across any periph.io
// host driver; a board with a dedicated pulse-capture/generation peripheral
// should implement Peripheral directly against that hardware instead.
type Hardware struct {
	cc  gpio.PinIO
	aux gpio.PinIO // may be nil if the board has no resistor-divider pin

	onPulses func(pulses []linecode.Pulse, lastBatch bool)
	stopRx   chan struct{}
}

// NewHardware creates a Hardware peripheral driving cc and, optionally, aux.
func NewHardware(cc, aux gpio.PinIO) *Hardware {
	return &Hardware{cc: cc, aux: aux}
}

func (h *Hardware) RxStart(onPulses func(pulses []linecode.Pulse, lastBatch bool)) error {
	h.onPulses = onPulses
	if err := h.cc.In(gpio.PullDown, gpio.BothEdges); err != nil {
		return err
	}
	if h.stopRx != nil {
		close(h.stopRx)
	}
	h.stopRx = make(chan struct{})
	go h.watchEdges(h.stopRx)
	return nil
}

func (h *Hardware) watchEdges(stop chan struct{}) {
	last := time.Now()
	batch := make([]linecode.Pulse, 0, 32)
	for {
		select {
		case <-stop:
			return
		default:
		}
		if !h.cc.WaitForEdge(50 * time.Millisecond) {
			if len(batch) > 0 && h.onPulses != nil {
				h.onPulses(batch, true)
				batch = batch[:0]
			}
			continue
		}
		now := time.Now()
		dur := now.Sub(last)
		last = now
		ticks := uint32(dur / time.Duration(tick))
		batch = append(batch, linecode.Pulse{Level: h.cc.Read() == gpio.High, Duration: ticks})
		if len(batch) == cap(batch) && h.onPulses != nil {
			h.onPulses(batch, false)
			batch = batch[:0]
		}
	}
}

func (h *Hardware) TxSubmit(produce Producer, onDone func()) error {
	buf := make([]linecode.Pulse, 0, 64)
	for {
		out, done := produce(buf[:0])
		for _, p := range out {
			level := gpio.Low
			if p.Level {
				level = gpio.High
			}
			if err := h.cc.Out(level); err != nil {
				return err
			}
			time.Sleep(time.Duration(p.Duration) * time.Duration(tick))
		}
		if done {
			break
		}
	}
	if onDone != nil {
		onDone()
	}
	return nil
}

func (h *Hardware) pin(p Pin) gpio.PinIO {
	if p == PinAux {
		return h.aux
	}
	return h.cc
}

func (h *Hardware) SetDirection(p Pin, d Direction) error {
	pin := h.pin(p)
	if pin == nil {
		return nil
	}
	if d == DirectionOut {
		return pin.Out(gpio.Low)
	}
	return pin.In(gpio.PullNoChange, gpio.NoEdge)
}

func (h *Hardware) SetPull(p Pin, pull Pull) error {
	pin := h.pin(p)
	if pin == nil {
		return nil
	}
	var gp gpio.Pull
	switch pull {
	case PullDown:
		gp = gpio.PullDown
	case PullUp:
		gp = gpio.PullUp
	default:
		gp = gpio.Float
	}
	return pin.In(gp, gpio.NoEdge)
}

// SetDriveStrength is a no-op on periph.io's generic gpio.PinIO, which has
// no portable drive-strength knob; boards that need it should special-case
// their concrete pin type. Returning nil keeps the call sequence in
// txengine uniform across backends.
func (h *Hardware) SetDriveStrength(Pin, DriveStrength) error {
	return nil
}

func (h *Hardware) ConnectOutSignal(p Pin, connect bool) error {
	pin := h.pin(p)
	if pin == nil {
		return nil
	}
	if connect {
		return pin.Out(gpio.Low)
	}
	return pin.In(gpio.Float, gpio.NoEdge)
}
