// Package codec lets the command and projection layers attach a typed
// protobuf payload to an event_type without the engine ever knowing
// payloads are anything but opaque bytes. Grounded on the teacher's
// use of google.golang.org/protobuf for wire encoding, adapted from a
// fixed set of generated message types to an event_type-keyed registry
// since this engine's Command/Event payload field is a bare []byte by
// design.
package codec

import (
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
)

// Registry maps event_type strings to the protobuf message type that
// decodes their payload. The zero value is unusable; construct with
// NewRegistry.
type Registry struct {
	mu    sync.RWMutex
	types map[string]func() proto.Message
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]func() proto.Message)}
}

// Register associates eventType with a constructor for its payload
// message. Calling it twice for the same eventType replaces the prior
// registration; callers that want to detect accidental duplicates
// should check Registered first.
func Register[T proto.Message](r *Registry, eventType string, newMessage func() T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[eventType] = func() proto.Message { return newMessage() }
}

// Registered reports whether eventType has a decoder.
func (r *Registry) Registered(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[eventType]
	return ok
}

// Encode marshals msg to the bytes an event's Payload field stores.
func (r *Registry) Encode(msg proto.Message) ([]byte, error) {
	b, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return b, nil
}

// Decode unmarshals payload into a freshly constructed message for
// eventType. It fails if eventType has no registered decoder.
func (r *Registry) Decode(eventType string, payload []byte) (proto.Message, error) {
	r.mu.RLock()
	newMessage, ok := r.types[eventType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no payload decoder registered for event type %q", eventType)
	}

	msg := newMessage()
	if err := proto.Unmarshal(payload, msg); err != nil {
		return nil, fmt.Errorf("unmarshal payload for event type %q: %w", eventType, err)
	}
	return msg, nil
}
