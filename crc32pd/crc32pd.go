// Package crc32pd computes the USB Power Delivery message CRC-32, which is
// the standard IEEE 802.3 CRC-32 polynomial applied to the header and data
// objects of a message.
package crc32pd

import "hash/crc32"

// Compute returns the CRC-32 of b, as appended (little-endian) to the end of
// a power delivery message by a sender and verified by a receiver.
func Compute(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

// AppendLE appends the little-endian CRC-32 of b to b and returns the
// extended slice.
func AppendLE(b []byte) []byte {
	c := Compute(b)
	return append(b,
		byte(c),
		byte(c>>8),
		byte(c>>16),
		byte(c>>24),
	)
}

// VerifyLE reports whether the last 4 bytes of b (little-endian) match the
// CRC-32 of the preceding bytes. b must be at least 4 bytes long.
func VerifyLE(b []byte) bool {
	if len(b) < 4 {
		return false
	}
	payload := b[:len(b)-4]
	want := Compute(payload)
	got := uint32(b[len(b)-4]) | uint32(b[len(b)-3])<<8 | uint32(b[len(b)-2])<<16 | uint32(b[len(b)-1])<<24
	return want == got
}
