package relay

import (
	"context"
	"sync"

	"yield-router/internal/domain"
)

// Handler consumes a delivered envelope on the destination domain.
type Handler func(ctx context.Context, env *Envelope) error

// Loopback is an in-process relay used by tests and the simulator.
// It preserves the transport's observable properties: fees are charged at
// send time, delivery is decoupled from sending, and held messages can be
// delivered late, out of order, more than once, or never.
type Loopback struct {
	mu       sync.Mutex
	vault    *FeeVault
	handlers map[domain.DomainID]Handler

	// queue holds undelivered envelopes when hold is set.
	queue []*Envelope
	hold  bool

	sent int
}

// NewLoopback creates a loopback relay. With hold=false envelopes are
// handed to the destination handler synchronously on Send; with hold=true
// they queue until a Deliver* call.
func NewLoopback(vault *FeeVault, hold bool) *Loopback {
	return &Loopback{
		vault:    vault,
		handlers: make(map[domain.DomainID]Handler),
		hold:     hold,
	}
}

// Route registers the handler for a destination domain.
func (l *Loopback) Route(dom domain.DomainID, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[dom] = h
}

// Send charges the fee and either delivers or queues the envelope.
func (l *Loopback) Send(ctx context.Context, env *Envelope) error {
	if err := l.vault.Charge(env.SourceDomain); err != nil {
		return err
	}

	l.mu.Lock()
	h, routed := l.handlers[env.DestDomain]
	if !routed {
		l.mu.Unlock()
		return ErrNoRoute
	}
	l.sent++

	// Envelopes cross a serialization boundary on a real transport;
	// round-tripping through the codec keeps that honest.
	data, err := EncodeEnvelope(env)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	copied, err := DecodeEnvelope(data)
	if err != nil {
		l.mu.Unlock()
		return err
	}

	if l.hold {
		l.queue = append(l.queue, copied)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	return h(ctx, copied)
}

// Pending returns the number of held, undelivered envelopes.
func (l *Loopback) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Sent returns the total number of accepted sends.
func (l *Loopback) Sent() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sent
}

// DeliverNext delivers the oldest held envelope. No-op when empty.
func (l *Loopback) DeliverNext(ctx context.Context) error {
	return l.deliverAt(ctx, 0, true)
}

// DeliverIndex delivers the held envelope at position i, allowing tests to
// reorder deliveries arbitrarily.
func (l *Loopback) DeliverIndex(ctx context.Context, i int) error {
	return l.deliverAt(ctx, i, true)
}

// RedeliverIndex delivers the held envelope at position i without removing
// it, simulating at-least-once duplication.
func (l *Loopback) RedeliverIndex(ctx context.Context, i int) error {
	return l.deliverAt(ctx, i, false)
}

// DropIndex discards the held envelope at position i, simulating a lost
// message.
func (l *Loopback) DropIndex(i int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i < 0 || i >= len(l.queue) {
		return
	}
	l.queue = append(l.queue[:i], l.queue[i+1:]...)
}

// DeliverAll delivers every held envelope in FIFO order. Envelopes queued
// by handlers during delivery are delivered too.
func (l *Loopback) DeliverAll(ctx context.Context) error {
	for {
		l.mu.Lock()
		empty := len(l.queue) == 0
		l.mu.Unlock()
		if empty {
			return nil
		}
		if err := l.DeliverNext(ctx); err != nil {
			return err
		}
	}
}

func (l *Loopback) deliverAt(ctx context.Context, i int, remove bool) error {
	l.mu.Lock()
	if i < 0 || i >= len(l.queue) {
		l.mu.Unlock()
		return nil
	}
	env := l.queue[i]
	if remove {
		l.queue = append(l.queue[:i], l.queue[i+1:]...)
	}
	h := l.handlers[env.DestDomain]
	l.mu.Unlock()

	if h == nil {
		return ErrNoRoute
	}
	return h(ctx, env)
}

// Verify interface compliance at compile time.
var _ Relay = (*Loopback)(nil)
