// Package bufpool implements a fixed-size pool of packet buffers that move
// by ownership transfer between the RX framer, the protocol task, and the
// logging task, mirroring the pre-allocated buffer slab and FreeRTOS queues
// of the reference firmware's receive path.
package bufpool

import (
	"time"

	"github.com/tinypd/pdsink/linecode"
)

// Direction classifies how a buffer came to exist.
type Direction uint8

const (
	DirectionReceived Direction = iota
	DirectionReceivedAcked
	DirectionSent
	DirectionSentAcked
)

func (d Direction) String() string {
	switch d {
	case DirectionReceived:
		return "Received"
	case DirectionReceivedAcked:
		return "Received, Acknowledged"
	case DirectionSent:
		return "Sent"
	case DirectionSentAcked:
		return "Sent, Acknowledged"
	default:
		return "Unknown"
	}
}

// Kind classifies the post-processing outcome of a buffer.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindTimings      // raw pulse timings, decode never reached a stable symbol
	KindSymbols      // decoded symbols but failed CRC or was too short
	KindData         // decoded symbols, CRC-valid payload
)

// MaxSymbols bounds the per-buffer symbol and payload arrays, matching the
// reference firmware's 256-entry buffers.
const MaxSymbols = 256

// Buffer is one pool entry. Exactly one goroutine owns a *Buffer at any
// instant; ownership passes by sending the pointer over a channel, never by
// copying the struct.
type Buffer struct {
	Target    linecode.Target
	Direction Direction
	Kind      Kind
	Start     time.Time

	Symbols     [MaxSymbols]linecode.Symbol
	SymbolCount int

	Payload []byte // slice into payloadArr[:Length]
	Length  int
	payloadArr [MaxSymbols]byte
}

// Reset clears a buffer for reuse, matching PD_RX_INIT's memset.
func (b *Buffer) Reset() {
	b.Target = linecode.TargetUnknown
	b.Direction = DirectionReceived
	b.Kind = KindInvalid
	b.SymbolCount = 0
	b.Length = 0
	b.Payload = b.payloadArr[:0]
}

// PayloadSlice returns a zero-length-extended view of the buffer's fixed
// payload array, letting callers pack n bytes into it without allocating.
func (b *Buffer) PayloadSlice(n int) []byte {
	return b.payloadArr[:n]
}

// AppendSymbol appends a decoded symbol, reporting false if the buffer is full.
func (b *Buffer) AppendSymbol(s linecode.Symbol) bool {
	if b.SymbolCount >= MaxSymbols {
		return false
	}
	b.Symbols[b.SymbolCount] = s
	b.SymbolCount++
	return true
}

// Pool is a fixed-capacity free list of buffers, standing in for the
// reference firmware's pd_queue_empty plus its preallocated slab.
type Pool struct {
	free  chan *Buffer
	slab  []Buffer
}

// New creates a pool of n preallocated buffers, all initially free.
func New(n int) *Pool {
	p := &Pool{
		free: make(chan *Buffer, n),
		slab: make([]Buffer, n),
	}
	for i := range p.slab {
		p.slab[i].Reset()
		p.free <- &p.slab[i]
	}
	return p
}

// Get removes a buffer from the free list without blocking. It reports
// ok=false, and returns no buffer, when the free list is empty.
func (p *Pool) Get() (*Buffer, bool) {
	select {
	case b := <-p.free:
		b.Reset()
		return b, true
	default:
		return nil, false
	}
}

// Put returns a buffer to the free list. Put never blocks: on a full pool
// (a logic error since capacity equals the number of buffers ever handed
// out) the buffer is simply dropped rather than risking a stall.
func (p *Pool) Put(b *Buffer) {
	select {
	case p.free <- b:
	default:
	}
}

// Len reports the number of buffers currently free.
func (p *Pool) Len() int {
	return len(p.free)
}
