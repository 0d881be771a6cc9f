// Package pulseio abstracts the CC-line pulse capture/generation peripheral
// and the two GPIO pins (CC and an optional auxiliary divider pin) that the
// engine drives directly. It is the one seam in this module that a real
// board wires to silicon; see Hardware for a periph.io-backed implementation
// and Loopback for a software one used in tests.
package pulseio

import "github.com/tinypd/pdsink/linecode"

// Pin names the two GPIO lines the engine touches directly.
type Pin uint8

const (
	PinCC Pin = iota
	PinAux
)

// Direction is a GPIO pin direction.
type Direction uint8

const (
	DirectionIn Direction = iota
	DirectionOut
)

// Pull is a GPIO weak pull configuration.
type Pull uint8

const (
	PullNone Pull = iota
	PullDown
	PullUp
)

// DriveStrength is a GPIO output drive strength, coarsely bucketed the way
// the reference firmware's SoC HAL does.
type DriveStrength uint8

const (
	DriveLow DriveStrength = iota
	DriveMedium
	DriveHigh
)

// Producer streams BMC pulses into dst, appending as many as fit, and
// reports done=true only when it produced zero symbols in this call —
// callers MUST NOT treat a non-empty, non-done return as a stopping point.
type Producer func(dst []linecode.Pulse) (out []linecode.Pulse, done bool)

// Peripheral is the pulse-stream I/O contract: capture into a ring, stream
// pulses out via a producer callback, and the handful of GPIO primitives the
// TX engine and port configurator need to sequence CC-line drive.
type Peripheral interface {
	// RxStart arms capture. onPulses is called with each batch of captured
	// pulses in arrival order; lastBatch marks the end of one RX session
	// (the peripheral's equivalent of a flush). onPulses MUST NOT block.
	RxStart(onPulses func(pulses []linecode.Pulse, lastBatch bool)) error

	// TxSubmit streams produce's output to the line until it reports done,
	// then calls onDone once the peripheral has physically flushed.
	TxSubmit(produce Producer, onDone func()) error

	// SetDirection, SetPull, SetDriveStrength and ConnectOutSignal configure
	// one GPIO pin. ConnectOutSignal wires (or unwires) the pin to the
	// peripheral's generated waveform; when disconnected the pin is a plain
	// GPIO under direct level control via SetDirection/SetPull.
	SetDirection(pin Pin, d Direction) error
	SetPull(pin Pin, p Pull) error
	SetDriveStrength(pin Pin, s DriveStrength) error
	ConnectOutSignal(pin Pin, connect bool) error
}
