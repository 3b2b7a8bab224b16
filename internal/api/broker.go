package api

import (
	"sync"
)

// SSEEvent is one planning event fanned out to SSE and WebSocket clients.
type SSEEvent struct {
	Type string
	Data map[string]any
}

// Broker is the in-process fan-out used when no REDIS_URL is configured.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan SSEEvent]struct{} // planningId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(planningID string) chan SSEEvent {
	ch := make(chan SSEEvent, 8)
	b.mu.Lock()
	if b.subs[planningID] == nil {
		b.subs[planningID] = map[chan SSEEvent]struct{}{}
	}
	b.subs[planningID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(planningID string, ch chan SSEEvent) {
	b.mu.Lock()
	if m := b.subs[planningID]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, planningID)
		}
	}
	b.mu.Unlock()
	close(ch)
}

// Publish delivers to current subscribers; slow consumers are skipped rather
// than blocking the publisher.
func (b *Broker) Publish(planningID string, evt SSEEvent) {
	b.mu.Lock()
	for ch := range b.subs[planningID] {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}
