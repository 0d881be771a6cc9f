package pulseio

import "github.com/tinypd/pdsink/linecode"

// Loopback is a software Peripheral that feeds every transmitted pulse back
// as received input, letting rxframer/txengine round-trip without real
// silicon. It ignores GPIO pin state entirely since there is no physical
// line to misconfigure.
type Loopback struct {
	onPulses func(pulses []linecode.Pulse, lastBatch bool)
}

// NewLoopback creates a Loopback peripheral.
func NewLoopback() *Loopback {
	return &Loopback{}
}

func (l *Loopback) RxStart(onPulses func(pulses []linecode.Pulse, lastBatch bool)) error {
	l.onPulses = onPulses
	return nil
}

// TxSubmit drains produce synchronously and, if an RX callback is
// registered, feeds the transmitted waveform back in as received input
// before calling onDone. The waveform is coalesced with linecode.MergePulses
// first, matching what an edge-triggered capture peripheral (see Hardware)
// would report for the same output.
func (l *Loopback) TxSubmit(produce Producer, onDone func()) error {
	buf := make([]linecode.Pulse, 0, 64)
	var all []linecode.Pulse
	for {
		out, done := produce(buf[:0])
		all = append(all, out...)
		if done {
			break
		}
	}

	if l.onPulses != nil {
		l.onPulses(linecode.MergePulses(all), false)
		l.onPulses(nil, true)
	}
	if onDone != nil {
		onDone()
	}
	return nil
}

func (l *Loopback) SetDirection(Pin, Direction) error      { return nil }
func (l *Loopback) SetPull(Pin, Pull) error                 { return nil }
func (l *Loopback) SetDriveStrength(Pin, DriveStrength) error { return nil }
func (l *Loopback) ConnectOutSignal(Pin, bool) error        { return nil }
