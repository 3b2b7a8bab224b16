package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type EventBroker interface {
	Subscribe(planningID string) chan SSEEvent
	Unsubscribe(planningID string, ch chan SSEEvent)
	Publish(planningID string, evt SSEEvent)
}

// RedisBroker implements EventBroker over Redis Pub/Sub so that several API
// replicas share one event stream.
type RedisBroker struct {
	rdb *redis.Client

	mu   sync.Mutex
	subs map[chan SSEEvent]*redis.PubSub
}

func NewRedisBroker(url string) (*RedisBroker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisBroker{rdb: redis.NewClient(opt), subs: map[chan SSEEvent]*redis.PubSub{}}, nil
}

func (b *RedisBroker) Subscribe(planningID string) chan SSEEvent {
	ch := make(chan SSEEvent, 16)
	ps := b.rdb.Subscribe(context.Background(), b.chanName(planningID))
	// initial receive confirms the subscription is live
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	_, _ = ps.Receive(ctx)
	cancel()

	b.mu.Lock()
	b.subs[ch] = ps
	b.mu.Unlock()

	// The reader goroutine is the only closer of ch. It exits when the
	// pubsub is closed (Unsubscribe) or the connection is torn down, so a
	// late message can never hit a closed channel.
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt SSEEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
				select {
				case ch <- evt:
				default:
				}
			}
		}
	}()
	return ch
}

func (b *RedisBroker) Unsubscribe(planningID string, ch chan SSEEvent) {
	b.mu.Lock()
	ps := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ps != nil {
		_ = ps.Close()
	}
}

func (b *RedisBroker) Publish(planningID string, evt SSEEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, _ := json.Marshal(evt)
	_ = b.rdb.Publish(ctx, b.chanName(planningID), data).Err()
}

func (b *RedisBroker) chanName(planningID string) string { return "planning:" + planningID }
