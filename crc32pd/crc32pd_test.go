package crc32pd

import "testing"

func TestAppendAndVerifyRoundTrip(t *testing.T) {
	payload := []byte{0x61, 0x04, 0x2C, 0x91, 0x01, 0x08}
	framed := AppendLE(append([]byte(nil), payload...))
	if len(framed) != len(payload)+4 {
		t.Fatalf("got length %d, want %d", len(framed), len(payload)+4)
	}
	if !VerifyLE(framed) {
		t.Fatalf("VerifyLE rejected a frame it just appended a CRC to")
	}
}

func TestVerifyLERejectsCorruption(t *testing.T) {
	framed := AppendLE([]byte{0x61, 0x04, 0x2C, 0x91})
	framed[len(framed)-5] ^= 0xFF // flip the last payload byte
	if VerifyLE(framed) {
		t.Fatalf("VerifyLE accepted a corrupted frame")
	}
}

func TestVerifyLETooShort(t *testing.T) {
	if VerifyLE([]byte{1, 2, 3}) {
		t.Fatalf("VerifyLE accepted a buffer shorter than a CRC")
	}
}
