// Package worker runs the consumer side of the task protocol: poll the
// pending log, turn each entry into a provider call, record the outcome in
// the result store, acknowledge. One Loop instance is single-threaded;
// scale-out is running more instances against the same consumer group.
package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/docpipe/docpipe/internal/history"
	"github.com/docpipe/docpipe/internal/provider"
	"github.com/docpipe/docpipe/internal/queue"
	"github.com/docpipe/docpipe/internal/task"
)

type Options struct {
	Consumer  string        // consumer name within the group
	PollBlock time.Duration // how long one poll waits for new entries
	Backoff   time.Duration // pause after a connectivity failure
	Batch     int           // max entries per poll
}

type Loop struct {
	q         *queue.Queue
	completer provider.Completer
	hist      history.Store
	opts      Options
}

// New builds a worker loop. hist may be nil.
func New(q *queue.Queue, completer provider.Completer, hist history.Store, opts Options) *Loop {
	if opts.Consumer == "" {
		opts.Consumer = "worker-1"
	}
	if opts.PollBlock <= 0 {
		opts.PollBlock = time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 2 * time.Second
	}
	if opts.Batch <= 0 {
		opts.Batch = 10
	}
	return &Loop{q: q, completer: completer, hist: hist, opts: opts}
}

// Run polls until ctx is cancelled. A failure inside one iteration is
// logged and followed by a backoff; the loop itself only exits on ctx.
func (w *Loop) Run(ctx context.Context) {
	log.Printf("[WORKER] %s started, waiting for tasks", w.opts.Consumer)

	// Entries delivered to this consumer before a crash are still in the
	// pending list; drain them first so nothing is lost.
	if entries, err := w.q.PollPending(ctx, w.opts.Consumer, w.opts.Batch); err != nil {
		log.Printf("[WORKER] pending drain failed: %v", err)
	} else {
		for _, e := range entries {
			w.processEntry(ctx, e)
		}
	}

	for {
		if ctx.Err() != nil {
			log.Printf("[WORKER] %s shutting down", w.opts.Consumer)
			return
		}
		entries, err := w.q.Poll(ctx, w.opts.Consumer, w.opts.Batch, w.opts.PollBlock)
		if err != nil {
			if ctx.Err() != nil {
				log.Printf("[WORKER] %s shutting down", w.opts.Consumer)
				return
			}
			log.Printf("[WORKER] poll failed: %v", err)
			w.pause(ctx, w.opts.Backoff)
			continue
		}
		if len(entries) == 0 {
			// The blocking window already throttles against a live server;
			// the extra pause keeps us from spinning when it returns early.
			w.pause(ctx, 100*time.Millisecond)
			continue
		}
		for _, e := range entries {
			w.processEntry(ctx, e)
		}
	}
}

func (w *Loop) pause(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// processEntry handles one delivered entry through to acknowledgement. A
// panic in here is contained to the entry.
func (w *Loop) processEntry(ctx context.Context, e queue.Entry) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[WORKER] panic processing %s: %v", e.ID, r)
		}
	}()

	if e.Data == nil {
		log.Printf("[WORKER] skipping %s: missing data field", e.ID)
		w.ack(ctx, e.ID)
		return
	}

	t, err := task.Decode(e.Data)
	if err != nil {
		log.Printf("[WORKER] skipping malformed entry %s: %v", e.ID, err)
		// When the payload still names a task, write an error result so the
		// submitting client's poll terminates instead of timing out.
		if t != nil && t.TaskID != "" {
			w.writeResult(ctx, t, task.ErrorPrefix+"invalid task: "+err.Error(), err)
		}
		w.ack(ctx, e.ID)
		return
	}

	log.Printf("[WORKER] processing %s type=%s model=%s", t.TaskID, t.Kind, t.ModelID)
	if w.hist != nil {
		if err := w.hist.MarkStarted(ctx, t.TaskID, time.Now().UTC()); err != nil {
			log.Printf("[WORKER] history mark started %s: %v", t.TaskID, err)
		}
	}
	w.publish(ctx, queue.Event{TaskID: t.TaskID, Status: "in_progress", Model: t.ModelID})

	text, err := w.completer.Complete(ctx, t.ModelID, t.Prompt())
	result := text
	if err != nil {
		// A provider failure is an outcome, not a loop failure: the client
		// sees a readable error string when it polls.
		result = task.ErrorPrefix + err.Error()
		log.Printf("[WORKER] task %s provider failure: %v", t.TaskID, err)
	}

	if !w.writeResult(ctx, t, result, err) {
		// Result write failed: leave the entry unacknowledged so it is
		// redelivered. Reprocessing overwrites the result, which is safe.
		return
	}
	w.ack(ctx, e.ID)
	log.Printf("[WORKER] task %s completed", t.TaskID)
}

// writeResult stores the outcome and records it in the ledger and event
// feed. Returns false when the store write itself failed.
func (w *Loop) writeResult(ctx context.Context, t *task.Task, result string, procErr error) bool {
	if err := w.q.SetResult(ctx, t.TaskID, result); err != nil {
		log.Printf("[WORKER] result write for %s failed: %v", t.TaskID, err)
		return false
	}
	now := time.Now().UTC()
	if procErr != nil {
		if w.hist != nil {
			if err := w.hist.MarkFailed(ctx, t.TaskID, procErr.Error(), now); err != nil {
				log.Printf("[WORKER] history mark failed %s: %v", t.TaskID, err)
			}
		}
		w.publish(ctx, queue.Event{TaskID: t.TaskID, Status: "failed", Model: t.ModelID, Error: procErr.Error()})
		return true
	}
	if w.hist != nil {
		if err := w.hist.MarkCompleted(ctx, t.TaskID, now); err != nil {
			log.Printf("[WORKER] history mark completed %s: %v", t.TaskID, err)
		}
	}
	w.publish(ctx, queue.Event{TaskID: t.TaskID, Status: "completed", Model: t.ModelID})
	return true
}

func (w *Loop) ack(ctx context.Context, entryID string) {
	if err := w.q.Ack(ctx, entryID); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[WORKER] ack %s failed: %v", entryID, err)
	}
}

func (w *Loop) publish(ctx context.Context, ev queue.Event) {
	if err := w.q.PublishEvent(ctx, ev); err != nil {
		log.Printf("[WORKER] event publish for %s failed: %v", ev.TaskID, err)
	}
}
