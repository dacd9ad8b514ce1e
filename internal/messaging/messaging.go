// Package messaging implements the Messaging Service (G): a small
// channel/topic pub-sub abstraction with two interchangeable
// implementations, a NATS-backed primary and an in-process loopback
// fallback, selected once at boot (see SPEC_FULL.md §4.5).
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Message is the envelope every implementation delivers to subscribers.
// Channel is redundant with the subscription's own channel but is kept
// on the envelope so a handler can see where a message arrived from.
type Message struct {
	Channel     string
	MessageType string
	Payload     json.RawMessage
	FromSelf    bool
}

// Handler receives messages delivered to a subscription.
type Handler func(Message)

// Service is the interface both implementations satisfy: publish,
// subscribe, unsubscribe_all, is_connected, teardown. Annotation-style
// listener registration and per-type codec adapters (spec §4.5) are not
// provided, per the REDESIGN FLAGS guidance against runtime
// reflection-based dispatch. Subscribe takes a channel and no
// message-type filter: every message on the channel reaches the handler,
// which can check Message.MessageType.
type Service interface {
	Publish(ctx context.Context, channel string, messageType string, payload any) error
	Subscribe(channel string, includeSelf bool, handler Handler) (unsubscribe func())
	UnsubscribeAll(channel string)
	IsConnected() bool
	Close() error
}

type subscription struct {
	id          uint64
	includeSelf bool
	handler     Handler
}

type subRegistry struct {
	mu   sync.RWMutex
	subs map[string]map[uint64]*subscription
	next uint64
}

func newSubRegistry() *subRegistry {
	return &subRegistry{subs: map[string]map[uint64]*subscription{}}
}

func (r *subRegistry) add(channel string, includeSelf bool, h Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	id := r.next
	if r.subs[channel] == nil {
		r.subs[channel] = map[uint64]*subscription{}
	}
	r.subs[channel][id] = &subscription{id: id, includeSelf: includeSelf, handler: h}
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs[channel], id)
	}
}

func (r *subRegistry) removeAll(channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, channel)
}

func (r *subRegistry) deliver(channel string, msg Message) {
	r.mu.RLock()
	subs := make([]*subscription, 0, len(r.subs[channel]))
	for _, s := range r.subs[channel] {
		subs = append(subs, s)
	}
	r.mu.RUnlock()

	for _, s := range subs {
		if msg.FromSelf && !s.includeSelf {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("channel", channel).Msg("messaging subscriber panicked, dropping")
				}
			}()
			s.handler(msg)
		}()
	}
}

// Envelope is the wire representation used by the broker-backed
// implementation; the loopback implementation also encodes and decodes
// it in memory, so both implementations dispatch the same message shape.
type Envelope struct {
	MessageType string          `json:"messageType"`
	Payload     json.RawMessage `json:"payload"`
}

func encodeEnvelope(messageType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("messaging: encoding payload: %w", err)
	}
	return json.Marshal(Envelope{MessageType: messageType, Payload: raw})
}

func decodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("messaging: decoding envelope: %w", err)
	}
	return env, nil
}
