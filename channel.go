package executor

import "sync"

// channelState is shared by a send/recv endpoint pair so either side
// can park a waker for the reactor to fire when the other side makes
// room or deposits a value (§4.4).
type channelState struct {
	mu         sync.Mutex
	sendWaiter *Waker // parked send future, woken when space frees up
	recvWaiter *Waker // parked recv future, woken when a value arrives
}

// ChannelSender is the producer half of a shared-channel endpoint: an
// SPSCProducer plus the cross-executor wake bridge described in §4.4.
// Non-duplicable, like the ring ends it wraps.
type ChannelSender struct {
	ring  *SPSCProducer
	state *channelState
	// peerExec is the executor owning the consumer side. Wakes are not
	// routed through it: a parked Waker's Wake enqueues onto the
	// executor of its own cell directly.
	peerExec *Executor
}

// ChannelReceiver is the consumer half of a shared-channel endpoint.
type ChannelReceiver struct {
	ring  *SPSCConsumer
	state *channelState
	peerExec *Executor
}

// NewChannel builds a bounded shared channel and connects both ends
// (§4.4 "connect"), assigning each endpoint the other's executor so
// wakes can be routed home regardless of which thread triggers them.
func NewChannel(capacity int, senderExec, receiverExec *Executor) (*ChannelSender, *ChannelReceiver) {
	prod, cons := NewSPSCRing(capacity)
	prod.connect(uint32(receiverExec.id))
	cons.connect(uint32(senderExec.id))

	state := &channelState{}
	return &ChannelSender{ring: prod, state: state, peerExec: receiverExec},
		&ChannelReceiver{ring: cons, state: state, peerExec: senderExec}
}

// TrySend is the non-blocking half of §6's "try_send". It returns a
// *PeerDisconnectedError if the receiver has gone away, or a
// *CapacityExceededError if the ring is momentarily full. Neither error
// carries v: a value that could not be sent is not handed back.
func (s *ChannelSender) TrySend(v any) error {
	if s.ring.ConsumerDisconnected() {
		return &PeerDisconnectedError{Endpoint: "channel sender"}
	}
	if _, ok := s.ring.TryPush(v); !ok {
		return &CapacityExceededError{Resource: "channel ring", Capacity: len(s.ring.core.slots)}
	}
	s.wakeReceiver()
	return nil
}

// Send returns a Future that yields cooperatively while the ring is
// full, registering its waker so the consumer's reactor wakes it once
// space frees (§4.4 "a send future that yields cooperatively...").
func (s *ChannelSender) Send(v any) Future {
	sent := false
	return FutureFunc(func(cx *Context) (any, bool) {
		if sent {
			return nil, true
		}
		if s.ring.ConsumerDisconnected() {
			return &PeerDisconnectedError{Endpoint: "channel sender"}, true
		}
		if _, ok := s.ring.TryPush(v); ok {
			sent = true
			s.wakeReceiver()
			return nil, true
		}
		s.state.mu.Lock()
		s.state.sendWaiter = cx.Waker
		s.state.mu.Unlock()
		return nil, false
	})
}

// Disconnect idempotently disconnects the sender (§4.3
// "disconnect_producer"; §4.4 "Disconnection"), waking any parked recv
// waiter exactly once so it can observe end-of-stream.
func (s *ChannelSender) Disconnect() {
	alreadyGone := s.ring.core.producerID.Load() == spscConnIDDisconnected
	s.ring.Disconnect()
	if alreadyGone {
		return
	}
	s.wakeReceiver()
}

func (s *ChannelSender) wakeReceiver() {
	s.state.mu.Lock()
	w := s.state.recvWaiter
	s.state.recvWaiter = nil
	s.state.mu.Unlock()
	if w != nil {
		w.Wake()
	}
}

// TryRecv is the non-blocking half of §6's "try_recv". A nil, ok=false
// result with no error means empty-but-connected; ok=false with
// err set to a *PeerDisconnectedError means end-of-stream.
func (r *ChannelReceiver) TryRecv() (v any, ok bool, err error) {
	if v, ok := r.ring.TryPop(); ok {
		r.wakeSender()
		return v, true, nil
	}
	if r.ring.ProducerDisconnected() {
		return nil, false, &PeerDisconnectedError{Endpoint: "channel receiver"}
	}
	return nil, false, nil
}

// Recv returns a Future that yields while the ring is empty,
// registering its waker with the producer side (§4.4 "a recv future
// that yields while empty, registering with the producer's reactor").
func (r *ChannelReceiver) Recv() Future {
	return FutureFunc(func(cx *Context) (any, bool) {
		if v, ok := r.ring.TryPop(); ok {
			r.wakeSender()
			return v, true
		}
		if r.ring.ProducerDisconnected() {
			return &PeerDisconnectedError{Endpoint: "channel receiver"}, true
		}
		r.state.mu.Lock()
		r.state.recvWaiter = cx.Waker
		r.state.mu.Unlock()
		return nil, false
	})
}

// Disconnect idempotently disconnects the receiver, waking any parked
// send waiter exactly once (§4.4 "Disconnection").
func (r *ChannelReceiver) Disconnect() {
	alreadyGone := r.ring.core.consumerID.Load() == spscConnIDDisconnected
	r.ring.Disconnect()
	if alreadyGone {
		return
	}
	r.wakeSender()
}

func (r *ChannelReceiver) wakeSender() {
	r.state.mu.Lock()
	w := r.state.sendWaiter
	r.state.sendWaiter = nil
	r.state.mu.Unlock()
	if w != nil {
		w.Wake()
	}
}
