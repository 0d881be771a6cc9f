package linecode

// Pulse timing constants, in 10 MHz ticks (100 ns per tick), matching the
// capture/generation tick rate named in the pulse-stream I/O contract.
const (
	TickRate         = 10_000_000 // Hz
	LongDuration     = 33         // ~3.3us, one full unit interval
	ShortDuration    = LongDuration / 2
	HighThreshold    = (ShortDuration * 3) / 2
	TxShortDuration  = 16 // ~1.6us, used by the transmit encoder
	PreambleBitCount = 64
	MaxSymbolBuffer  = 256
)

// BMCClassifier turns a stream of pulse durations into decoded data bits. It
// holds only the physical-layer state needed to tell a long pulse from a
// matched pair of short pulses: the short-pulse phase flag and a
// drift-correction term for the long-pulse threshold. It never allocates and
// Classify never blocks, so it is safe to drive from an interrupt-equivalent
// context.
//
// Bit framing (grouping decoded bits into 5-bit symbols, and recognizing the
// preamble) is the responsibility of the caller, matching the layering
// between the line codec and the RX framer.
type BMCClassifier struct {
	shortPulseSeen bool
	lastShortened  int
}

// Reset returns the classifier to its initial state.
func (c *BMCClassifier) Reset() {
	*c = BMCClassifier{}
}

// Classify processes one pulse duration (in ticks). It returns bit and ok=true
// when a data bit was produced, or resync=true when the pulse sequence
// violates BMC framing and the caller must restart its symbol search.
func (c *BMCClassifier) Classify(duration uint32) (bit uint8, ok bool, resync bool) {
	longPulse := duration > HighThreshold+uint32(c.lastShortened)
	if !longPulse && duration > ShortDuration {
		c.lastShortened = ShortDuration - int(duration)
	} else {
		c.lastShortened = 0
	}

	if c.shortPulseSeen {
		c.shortPulseSeen = false
		if longPulse {
			return 0, false, true
		}
		return 1, true, false
	}
	if longPulse {
		return 0, true, false
	}
	c.shortPulseSeen = true
	return 0, false, false
}

// BMCEncoder streams BMC pulse pairs for a sequence of data bits. A 0-bit is
// one long pulse at the current level; a 1-bit is a pair of equal-duration
// pulses that toggles the level mid-interval.
type BMCEncoder struct {
	level bool // current line level; starts high like the reference encoder
}

// Pulse is one output pulse: a level and a duration in ticks.
type Pulse struct {
	Level    bool
	Duration uint32
}

// Reset returns the encoder to its initial level.
func (e *BMCEncoder) Reset() {
	e.level = true
}

// AddBit appends the pulse pair for one data bit to dst and returns the
// extended slice.
func (e *BMCEncoder) AddBit(dst []Pulse, bit uint8, shortDuration uint32) []Pulse {
	p := Pulse{Level: e.level, Duration: shortDuration}
	if bit == 0 {
		e.level = !e.level
	}
	dst = append(dst, p, Pulse{Level: !e.level, Duration: shortDuration})
	return dst
}

// AddSymbol appends the pulse pairs for the 5 bits of a 5b code, LSB first.
func (e *BMCEncoder) AddSymbol(dst []Pulse, code uint8, shortDuration uint32) []Pulse {
	for i := 0; i < 5; i++ {
		dst = e.AddBit(dst, code&1, shortDuration)
		code >>= 1
	}
	return dst
}

// MergePulses coalesces consecutive same-level pulses into one, the way a
// real edge-triggered capture peripheral reports them: a 0-bit is emitted by
// AddBit as two equal-level half-bit segments with no toggle between them,
// which on an actual CC line is a single electrical pulse with no edge in
// the middle. Any capture path that does not itself measure real edges
// (notably pulseio.Loopback) must run its transmitted waveform through this
// before feeding it to a BMCClassifier.
func MergePulses(pulses []Pulse) []Pulse {
	if len(pulses) == 0 {
		return nil
	}
	merged := make([]Pulse, 0, len(pulses))
	cur := pulses[0]
	for _, p := range pulses[1:] {
		if p.Level == cur.Level {
			cur.Duration += p.Duration
			continue
		}
		merged = append(merged, cur)
		cur = p
	}
	merged = append(merged, cur)
	return merged
}
