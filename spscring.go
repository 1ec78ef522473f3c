package executor

import (
	"sync/atomic"
)

// spscConnIDUnset and spscConnIDDisconnected are the connection-id
// sentinels from §3 "SPSC Ring": 0 means "never connected", all-ones
// means "disconnected". Any other value identifies the peer executor.
const (
	spscConnIDUnset        uint32 = 0
	spscConnIDDisconnected uint32 = ^uint32(0)
)

// spscSlot is one array element: a value plus a presence flag used as
// the release/acquire synchronization edge between producer and
// consumer (§4.3 "Ordering guarantees").
type spscSlot struct {
	hasValue atomic.Bool
	value    any
}

// spscCore is the ring storage and indices shared by a connected
// producer/consumer pair. It is never exposed directly; callers only
// ever see the non-duplicable SPSCProducer/SPSCConsumer wrapper types
// (§4.3 "Type constraint", Design Notes "Non-duplicable endpoints").
type spscCore struct { // betteralign:ignore
	_        [64]byte // cache line padding //nolint:unused
	tail     uint64   // producer-private
	limit    uint64   // producer-private look-ahead cursor
	consumerID atomic.Uint32
	_        [40]byte //nolint:unused

	_        [64]byte //nolint:unused
	head     uint64   // consumer-private
	producerID atomic.Uint32
	_        [52]byte //nolint:unused

	mask  uint64
	slots []spscSlot
}

// lookAhead is L from §4.3: clamp(capacity/4, 1, 4096).
func lookAhead(capacity int) uint64 {
	l := capacity / 4
	if l < 1 {
		l = 1
	}
	if l > 4096 {
		l = 4096
	}
	return uint64(l)
}

func nextPowerOfTwo(n int) int {
	if n < 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// NewSPSCRing builds a bounded ring of at least the requested capacity,
// rounded up to a power of two, and returns its producer and consumer
// ends (§4.3 "make"). The returned ends are single-use: the runtime
// never hands out a second producer or consumer over the same core.
func NewSPSCRing(capacity int) (*SPSCProducer, *SPSCConsumer) {
	cap2 := nextPowerOfTwo(capacity)
	core := &spscCore{
		mask:  uint64(cap2 - 1),
		slots: make([]spscSlot, cap2),
	}
	core.limit = lookAhead(cap2)
	return &SPSCProducer{core: core}, &SPSCConsumer{core: core}
}

// SPSCProducer is the producing end of an SPSC ring. It must not be
// copied: the zero value is meaningless and there is deliberately no
// exported way to clone a live producer (§4.3 "Type constraint").
type SPSCProducer struct {
	core *spscCore
}

// TryPush attempts a non-blocking push (§4.3 "try_push"). On success it
// returns (nil, true). On a full ring or a disconnected consumer, it
// returns the value back to the caller with ok=false.
func (p *SPSCProducer) TryPush(v any) (any, bool) {
	c := p.core

	if c.consumerID.Load() == spscConnIDDisconnected {
		return v, false
	}

	if c.tail == c.limit {
		probe := (c.tail + lookAhead(len(c.slots))) & c.mask
		if !c.slots[probe].hasValue.Load() {
			c.limit = c.tail + lookAhead(len(c.slots))
		} else if c.slots[c.tail&c.mask].hasValue.Load() {
			return v, false
		}
	}

	idx := c.tail & c.mask
	if c.slots[idx].hasValue.Load() {
		return v, false
	}
	c.slots[idx].value = v
	c.slots[idx].hasValue.Store(true) // release
	c.tail++
	return nil, true
}

// Disconnect marks the producer side gone; idempotent (§4.3
// "disconnect_producer"). The consumer observes it via the sentinel on
// its next operation.
func (p *SPSCProducer) Disconnect() {
	p.core.producerID.Store(spscConnIDDisconnected)
}

// connect assigns this producer's non-sentinel peer id during a
// channel handshake (§4.4 "connect").
func (p *SPSCProducer) connect(peerID uint32) {
	p.core.producerID.Store(peerID)
}

// SPSCConsumer is the consuming end of an SPSC ring; like SPSCProducer,
// it must not be copied.
type SPSCConsumer struct {
	core *spscCore
}

// TryPop attempts a non-blocking pop (§4.3 "try_pop"). Returns
// (nil, false) on an empty ring.
func (c *SPSCConsumer) TryPop() (any, bool) {
	core := c.core
	idx := core.head & core.mask
	if !core.slots[idx].hasValue.Load() { // acquire
		return nil, false
	}
	v := core.slots[idx].value
	core.slots[idx].value = nil
	core.slots[idx].hasValue.Store(false) // release
	core.head++
	return v, true
}

// Disconnect marks the consumer side gone; idempotent.
func (c *SPSCConsumer) Disconnect() {
	c.core.consumerID.Store(spscConnIDDisconnected)
}

func (c *SPSCConsumer) connect(peerID uint32) {
	c.core.consumerID.Store(peerID)
}

// ProducerDisconnected reports whether the consumer has observed the
// producer's disconnect sentinel.
func (c *SPSCConsumer) ProducerDisconnected() bool {
	return c.core.producerID.Load() == spscConnIDDisconnected
}

// ConsumerDisconnected reports whether the producer has observed the
// consumer's disconnect sentinel.
func (p *SPSCProducer) ConsumerDisconnected() bool {
	return p.core.consumerID.Load() == spscConnIDDisconnected
}
