// Package queue is the shared coordination layer between the dispatcher and
// the worker: a Redis stream as the pending log of task entries, and plain
// keys with a TTL as the result store. Producers and consumers may live in
// different processes; nothing here assumes in-process state.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/docpipe/docpipe/internal/config"
	"github.com/docpipe/docpipe/internal/task"
)

const (
	// StreamKey is the pending log of task entries.
	StreamKey = "llm_requests"
	// Group is the consumer group all worker instances poll through.
	Group = "workers"

	resultPrefix = "response:"
	textPrefix   = "extracted_text:"
)

// Queue wraps a Redis client with the stream and result-store operations the
// rest of the system uses. Safe for concurrent use.
type Queue struct {
	rdb       *redis.Client
	resultTTL time.Duration
}

// Connect opens a Redis client and verifies the connection.
func Connect(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	return rdb, nil
}

func New(rdb *redis.Client, resultTTL time.Duration) *Queue {
	if resultTTL <= 0 {
		resultTTL = time.Hour
	}
	return &Queue{rdb: rdb, resultTTL: resultTTL}
}

// Init creates the consumer group, starting at the beginning of the stream
// so entries enqueued before the first worker came up are still delivered.
// Calling it again is a no-op.
func (q *Queue) Init(ctx context.Context) error {
	err := q.rdb.XGroupCreateMkStream(ctx, StreamKey, Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Entry is one delivered-but-not-yet-acknowledged stream entry. Data is the
// raw task payload; nil when the entry does not carry one.
type Entry struct {
	ID   string
	Data []byte
}

// Enqueue appends a task to the tail of the pending log. Safe under
// concurrent producers; ordering between producers is whatever Redis saw.
func (q *Queue) Enqueue(ctx context.Context, t *task.Task) (string, error) {
	payload, err := t.Marshal()
	if err != nil {
		return "", fmt.Errorf("encode task: %w", err)
	}
	id, err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		Values: map[string]interface{}{"data": payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("enqueue task %s: %w", t.TaskID, err)
	}
	return id, nil
}

// Poll returns up to max not-yet-delivered entries for this consumer,
// blocking up to block when the stream is empty. An empty slice means
// nothing arrived within the window.
func (q *Queue) Poll(ctx context.Context, consumer string, max int, block time.Duration) ([]Entry, error) {
	return q.read(ctx, consumer, ">", max, block)
}

// PollPending re-reads entries this consumer was delivered but never
// acknowledged, e.g. after a crash between Poll and Ack. At-least-once
// delivery comes from draining this before polling for new entries.
func (q *Queue) PollPending(ctx context.Context, consumer string, max int) ([]Entry, error) {
	return q.read(ctx, consumer, "0", max, -1)
}

func (q *Queue) read(ctx context.Context, consumer, cursor string, max int, block time.Duration) ([]Entry, error) {
	streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    Group,
		Consumer: consumer,
		Streams:  []string{StreamKey, cursor},
		Count:    int64(max),
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	var entries []Entry
	for _, s := range streams {
		for _, msg := range s.Messages {
			e := Entry{ID: msg.ID}
			if raw, ok := msg.Values["data"]; ok {
				if str, ok := raw.(string); ok {
					e.Data = []byte(str)
				}
			}
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// Ack marks an entry processed and drops it from the stream. Acknowledging
// an already-acknowledged or unknown entry is a no-op.
func (q *Queue) Ack(ctx context.Context, entryID string) error {
	if err := q.rdb.XAck(ctx, StreamKey, Group, entryID).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", entryID, err)
	}
	if err := q.rdb.XDel(ctx, StreamKey, entryID).Err(); err != nil {
		return fmt.Errorf("del %s: %w", entryID, err)
	}
	return nil
}

// PendingCount reports how many entries sit in the pending log.
func (q *Queue) PendingCount(ctx context.Context) (int64, error) {
	return q.rdb.XLen(ctx, StreamKey).Result()
}

// SetResult stores the outcome for a task. Last write wins, so reprocessing
// after a redelivery is safe. The key expires after the configured TTL.
func (q *Queue) SetResult(ctx context.Context, taskID, text string) error {
	if err := q.rdb.Set(ctx, resultPrefix+taskID, text, q.resultTTL).Err(); err != nil {
		return fmt.Errorf("store result %s: %w", taskID, err)
	}
	return nil
}

// GetResult fetches the stored outcome for a task. The second return is
// false while no result exists (still pending, expired, or never submitted).
func (q *Queue) GetResult(ctx context.Context, taskID string) (string, bool, error) {
	text, err := q.rdb.Get(ctx, resultPrefix+taskID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get result %s: %w", taskID, err)
	}
	return text, true, nil
}

// CacheText stores extracted document text under its markdown name for the
// upload flow, with the same bounded retention as results.
func (q *Queue) CacheText(ctx context.Context, name, text string) error {
	if err := q.rdb.Set(ctx, textPrefix+name, text, q.resultTTL).Err(); err != nil {
		return fmt.Errorf("cache text %s: %w", name, err)
	}
	return nil
}

// CachedText returns previously extracted text, or false when it was never
// cached or already expired.
func (q *Queue) CachedText(ctx context.Context, name string) (string, bool, error) {
	text, err := q.rdb.Get(ctx, textPrefix+name).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get cached text %s: %w", name, err)
	}
	return text, true, nil
}
