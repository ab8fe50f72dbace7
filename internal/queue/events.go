package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// eventsChannel carries task lifecycle notifications from whichever process
// observed the transition to any process with UI clients attached.
const eventsChannel = "task_events"

// Event is one task lifecycle transition, published best-effort for live
// status feeds. The result store stays the source of truth; a missed event
// only delays what polling would report anyway.
type Event struct {
	TaskID string    `json:"task_id"`
	Status string    `json:"status"`
	Model  string    `json:"llm,omitempty"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

// PublishEvent broadcasts a lifecycle transition to subscribed processes.
func (q *Queue) PublishEvent(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := q.rdb.Publish(ctx, eventsChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// SubscribeEvents opens a subscription to task lifecycle events. The caller
// owns the returned PubSub and must Close it.
func (q *Queue) SubscribeEvents(ctx context.Context) *redis.PubSub {
	return q.rdb.Subscribe(ctx, eventsChannel)
}
