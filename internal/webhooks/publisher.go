package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fieldplan/internal/store"
)

// Event types emitted by the planning service.
const (
	EventPlanningCreated = "planning.created"
	EventPlanningApplied = "planning.applied"
)

type Publisher struct {
	Store store.Store
}

func NewPublisher(s store.Store) *Publisher {
	return &Publisher{Store: s}
}

// Emit enqueues the event for every subscription registered for its type.
// Delivery is asynchronous; failures here are deliberately swallowed so that
// planning requests never fail because of notification plumbing.
func (p *Publisher) Emit(ctx context.Context, eventType string, data any) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, eventType)
	if err != nil || len(subs) == 0 {
		return
	}
	payload := map[string]any{
		"id":   fmt.Sprintf("evt_%d", time.Now().UnixNano()),
		"type": eventType,
		"ts":   time.Now().UTC().Format(time.RFC3339),
		"data": data,
	}
	body, _ := json.Marshal(payload)
	for _, s := range subs {
		_, _ = p.Store.EnqueueWebhook(ctx, s.ID, eventType, s.URL, s.Secret, body)
	}
}
