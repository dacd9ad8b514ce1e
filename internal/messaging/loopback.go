package messaging

import (
	"context"
)

// Loopback is the in-process fallback implementation (spec §4.5.2): no
// transport, delivery happens synchronously on the calling goroutine
// (the caller of Publish), which is the messaging executor in this
// single-process deployment shape.
type Loopback struct {
	subs   *subRegistry
	closed bool
}

// NewLoopback builds a Loopback service.
func NewLoopback() *Loopback {
	return &Loopback{subs: newSubRegistry()}
}

func (l *Loopback) Publish(_ context.Context, channel string, messageType string, payload any) error {
	env, err := encodeEnvelope(messageType, payload)
	if err != nil {
		return err
	}
	decoded, err := decodeEnvelope(env)
	if err != nil {
		return err
	}
	l.subs.deliver(channel, Message{Channel: channel, MessageType: decoded.MessageType, Payload: decoded.Payload, FromSelf: true})
	return nil
}

func (l *Loopback) Subscribe(channel string, includeSelf bool, handler Handler) func() {
	return l.subs.add(channel, includeSelf, handler)
}

func (l *Loopback) UnsubscribeAll(channel string) { l.subs.removeAll(channel) }

// IsConnected is always true for the loopback implementation: there is
// no external connection to lose.
func (l *Loopback) IsConnected() bool { return true }

func (l *Loopback) Close() error {
	l.closed = true
	return nil
}

var _ Service = (*Loopback)(nil)
