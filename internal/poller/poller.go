// Package poller is the client-side half of result retrieval: query the
// result store at fixed intervals until a result appears or a deadline
// passes.
package poller

import (
	"context"
	"errors"
	"time"

	"github.com/docpipe/docpipe/internal/queue"
)

// ErrTimeout means the deadline elapsed with no result recorded. The caller
// may re-poll or resubmit; the task may still complete server-side.
var ErrTimeout = errors.New("timed out waiting for result")

type Poller struct {
	q *queue.Queue
}

func New(q *queue.Queue) *Poller {
	return &Poller{q: q}
}

// Await polls for the result of taskID every interval until deadline has
// elapsed. Store errors count as "not yet available" and are retried; only
// the deadline or ctx cancellation end the wait without a result.
func (p *Poller) Await(ctx context.Context, taskID string, interval, deadline time.Duration) (string, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	end := time.Now().Add(deadline)
	for {
		text, ok, err := p.q.GetResult(ctx, taskID)
		if err == nil && ok {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if time.Now().After(end) {
			return "", ErrTimeout
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(interval):
		}
	}
}
