package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind selects how the worker turns a task into a provider prompt.
// Kept as string for readability on the wire.
type Kind string

const (
	KindSummarize Kind = "summarize"
	KindQA        Kind = "qa"
)

// Validation failures surfaced synchronously by the dispatcher, before any
// queue interaction.
var (
	ErrEmptyContent    = errors.New("content is empty")
	ErrMissingQuestion = errors.New("question is required for qa tasks")
	ErrUnknownKind     = errors.New("unknown task kind")
)

// ErrorPrefix marks results that carry a failure message instead of
// generated text. Clients match on it to distinguish the two.
const ErrorPrefix = "ERROR: "

// Task is one queued unit of document-processing work. Immutable once
// enqueued; the worker decodes it back from the stream entry payload.
type Task struct {
	TaskID      string `json:"task_id"`
	Kind        Kind   `json:"type"`
	DocumentRef string `json:"pdf_name"`
	ModelID     string `json:"llm"`
	Content     string `json:"content"`
	Question    string `json:"question,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the invariants the queue layer does not: non-empty
// content and, for qa tasks, a non-empty question.
func (t *Task) Validate() error {
	switch t.Kind {
	case KindSummarize:
	case KindQA:
		if strings.TrimSpace(t.Question) == "" {
			return ErrMissingQuestion
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, t.Kind)
	}
	if strings.TrimSpace(t.Content) == "" {
		return ErrEmptyContent
	}
	return nil
}

// Prompt builds the provider prompt for the task.
func (t *Task) Prompt() string {
	if t.Kind == KindQA {
		return fmt.Sprintf("Answer this question: %s based on the following document:\n\n%s", t.Question, t.Content)
	}
	return "Summarize this document:\n\n" + t.Content
}

func (t *Task) Marshal() ([]byte, error) {
	return json.Marshal(t)
}

// Decode parses a stream entry payload into a Task. It returns an error for
// unparseable JSON or a structurally incomplete record; the partial task is
// still returned when a task_id could be recovered, so the caller can key an
// error result by it.
func Decode(data []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	if t.TaskID == "" {
		return nil, errors.New("task missing task_id")
	}
	if t.ModelID == "" || t.Content == "" {
		return &t, fmt.Errorf("task %s missing required fields", t.TaskID)
	}
	if err := t.Validate(); err != nil {
		return &t, err
	}
	return &t, nil
}

// ResultStatus is what the HTTP API reports for a polled task.
type ResultStatus string

const (
	StatusPending ResultStatus = "pending"
	StatusDone    ResultStatus = "done"
)

// IsError reports whether a stored result carries a failure message rather
// than generated text.
func IsError(result string) bool {
	return strings.HasPrefix(result, ErrorPrefix)
}
