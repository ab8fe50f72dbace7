// Package dispatch is the producer side of the task protocol: validate a
// request, mint a task identifier, append to the pending log, return
// immediately. Processing happens elsewhere; the caller correlates by the
// returned identifier.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/docpipe/docpipe/internal/history"
	"github.com/docpipe/docpipe/internal/queue"
	"github.com/docpipe/docpipe/internal/task"
)

type Dispatcher struct {
	q    *queue.Queue
	hist history.Store
}

// New builds a Dispatcher. hist may be nil when no ledger is wired.
func New(q *queue.Queue, hist history.Store) *Dispatcher {
	return &Dispatcher{q: q, hist: hist}
}

// Submit validates the request and appends one pending entry. It returns the
// minted task identifier without waiting for processing. Validation failures
// (task.ErrEmptyContent, task.ErrMissingQuestion) happen before any queue
// interaction; a queue failure is returned wrapped and is retryable.
func (d *Dispatcher) Submit(ctx context.Context, kind task.Kind, documentRef, modelID, content, question string) (string, error) {
	t := &task.Task{
		TaskID:      "task-" + uuid.NewString(),
		Kind:        kind,
		DocumentRef: documentRef,
		ModelID:     modelID,
		Content:     content,
		Question:    question,
		CreatedAt:   time.Now().UTC(),
	}
	if err := t.Validate(); err != nil {
		return "", err
	}

	if _, err := d.q.Enqueue(ctx, t); err != nil {
		return "", fmt.Errorf("submit %s: %w", t.TaskID, err)
	}

	// Ledger and event feed are advisory; a failure there must not fail a
	// submission that is already on the queue.
	if d.hist != nil {
		if err := d.hist.InsertCreated(ctx, history.Record{
			TaskID:      t.TaskID,
			Kind:        string(t.Kind),
			Model:       t.ModelID,
			DocumentRef: t.DocumentRef,
			CreatedAt:   t.CreatedAt,
		}); err != nil {
			log.Printf("[DISPATCH] history insert for %s failed: %v", t.TaskID, err)
		}
	}
	if err := d.q.PublishEvent(ctx, queue.Event{TaskID: t.TaskID, Status: "enqueued", Model: t.ModelID}); err != nil {
		log.Printf("[DISPATCH] event publish for %s failed: %v", t.TaskID, err)
	}

	return t.TaskID, nil
}
