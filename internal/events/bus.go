package events

import (
	"sync"
	"time"
)

// Type identifies one kind of lifecycle change.
type Type string

const (
	ActivityCreated       Type = "activity_created"
	ParticipantJoined     Type = "participant_joined"
	ParticipantLeft       Type = "participant_left"
	ParticipantCheckedOut Type = "participant_checked_out"
	ActivityEnded         Type = "activity_ended"
)

// Reasons carried on ActivityEnded events.
const (
	ReasonHostEnded     = "host_ended"
	ReasonExpired       = "expired"
	ReasonAllCheckedOut = "all_checked_out"
)

type Event struct {
	Type       Type      `json:"type"`
	ActivityID string    `json:"activity_id"`
	UserID     string    `json:"user_id,omitempty"` // acting participant, when relevant
	Members    []string  `json:"members,omitempty"` // participant set at event time
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

type Handler func(Event)

// Bus is an in-process publish/subscribe fan-out for store changes. Handlers
// run synchronously on the publishing goroutine and must not block.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[Type]map[int]Handler
}

// anyType receives every published event regardless of its Type.
const anyType Type = "*"

func NewBus() *Bus {
	return &Bus{subs: make(map[Type]map[int]Handler)}
}

// Subscribe registers h for events of type t and returns an unsubscribe
// function. Callers own the subscription lifetime and must call it on
// teardown.
func (b *Bus) Subscribe(t Type, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	if b.subs[t] == nil {
		b.subs[t] = make(map[int]Handler)
	}
	b.subs[t][id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[t], id)
	}
}

// SubscribeAll registers h for every event type.
func (b *Bus) SubscribeAll(h Handler) func() {
	return b.Subscribe(anyType, h)
}

func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[e.Type])+len(b.subs[anyType]))
	for _, h := range b.subs[e.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range b.subs[anyType] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(e)
	}
}
