// Package pdsinkerr defines sentinel errors callers can errors.Is against.
// Only ErrTxNoAck is returned by a package of this module; the RX framer
// handles the conditions named by the other three without returning an
// error.
package pdsinkerr

import "errors"

var (
	// ErrFramingReset names a Hard Reset or Cable Reset pattern aborting
	// the frame the RX framer was assembling.
	ErrFramingReset = errors.New("pdsink: framing reset")

	// ErrCRCMismatch names a received frame whose trailing CRC-32 does not
	// match its header and data objects.
	ErrCRCMismatch = errors.New("pdsink: crc mismatch")

	// ErrBufferPoolExhausted names the case of no free buffer being
	// available to hold a newly framed packet.
	ErrBufferPoolExhausted = errors.New("pdsink: buffer pool exhausted")

	// ErrTxNoAck is returned, unwrapped, by txengine.Engine.Submit when
	// every transmit attempt for a message completed without a matching
	// GoodCRC.
	ErrTxNoAck = errors.New("pdsink: no ack for transmitted message")
)
