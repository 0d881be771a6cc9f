// Package portcfg sets the CC/aux GPIO pins up for a given operating mode.
package portcfg

import "github.com/tinypd/pdsink/pulseio"

// Mode is the port's GPIO configuration mode.
type Mode uint8

const (
	// ModeIdle puts both pins in a high-impedance input state, suitable
	// before a source is detected.
	ModeIdle Mode = iota

	// ModeSink configures the CC pin as an output at high drive strength
	// and the aux pin as an input with pull-down at low drive strength.
	ModeSink
)

// Configure applies mode to peripheral's CC and aux pins.
func Configure(peripheral pulseio.Peripheral, mode Mode) error {
	switch mode {
	case ModeSink:
		if err := peripheral.SetDirection(pulseio.PinCC, pulseio.DirectionOut); err != nil {
			return err
		}
		if err := peripheral.SetDriveStrength(pulseio.PinCC, pulseio.DriveHigh); err != nil {
			return err
		}
		if err := peripheral.SetDirection(pulseio.PinAux, pulseio.DirectionIn); err != nil {
			return err
		}
		if err := peripheral.SetPull(pulseio.PinAux, pulseio.PullDown); err != nil {
			return err
		}
		if err := peripheral.SetDriveStrength(pulseio.PinAux, pulseio.DriveLow); err != nil {
			return err
		}
		return nil

	default: // ModeIdle
		if err := peripheral.SetDirection(pulseio.PinCC, pulseio.DirectionIn); err != nil {
			return err
		}
		if err := peripheral.SetPull(pulseio.PinCC, pulseio.PullNone); err != nil {
			return err
		}
		return peripheral.SetDirection(pulseio.PinAux, pulseio.DirectionIn)
	}
}
