package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/docpipe/docpipe/internal/dispatch"
	"github.com/docpipe/docpipe/internal/extract"
	"github.com/docpipe/docpipe/internal/queue"
	"github.com/docpipe/docpipe/internal/store"
	"github.com/docpipe/docpipe/internal/worker"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeCompleter struct {
	fn func(ctx context.Context, modelID, prompt string) (string, error)
}

func (f *fakeCompleter) Complete(ctx context.Context, modelID, prompt string) (string, error) {
	return f.fn(ctx, modelID, prompt)
}

type fixture struct {
	router *gin.Engine
	q      *queue.Queue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(s.Close)

	q := queue.New(redis.NewClient(&redis.Options{Addr: s.Addr()}), time.Hour)
	if err := q.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	objects, err := store.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	srv := New(dispatch.New(q, nil), q, objects, extract.Plaintext{}, nil, nil, []string{"GPT-4o", "Claude"})
	return &fixture{router: srv.Routes(), q: q}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) upload(t *testing.T, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write([]byte(content))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return m
}

func TestUploadAndListDocuments(t *testing.T) {
	f := newFixture(t)

	w := f.upload(t, "paper.pdf", "The quick brown fox.")
	if w.Code != http.StatusOK {
		t.Fatalf("upload status = %d body=%s", w.Code, w.Body.String())
	}
	if got := decode(t, w)["filename"]; got != "paper.md" {
		t.Fatalf("filename = %v", got)
	}

	w = f.do(t, http.MethodGet, "/documents", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "paper.md") {
		t.Fatalf("listing = %s", w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/documents/paper.md", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get document status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "The quick brown fox.") {
		t.Fatalf("document body = %s", w.Body.String())
	}
}

func TestUploadRejectsEmptyExtraction(t *testing.T) {
	f := newFixture(t)
	w := f.upload(t, "blank.pdf", "   \n ")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSubmitSummarize(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "paper.pdf", "The quick brown fox.")

	w := f.do(t, http.MethodPost, "/summarize", map[string]string{"pdf_name": "paper.md", "llm": "GPT-4o"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	id, _ := decode(t, w)["task_id"].(string)
	if !strings.HasPrefix(id, "task-") {
		t.Fatalf("task_id = %q", id)
	}
	n, _ := f.q.PendingCount(context.Background())
	if n != 1 {
		t.Fatalf("pending count = %d, want 1", n)
	}
}

func TestSubmitUnknownDocument(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/summarize", map[string]string{"pdf_name": "ghost.md", "llm": "GPT-4o"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestSubmitAskRequiresQuestion(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "paper.pdf", "The quick brown fox.")

	w := f.do(t, http.MethodPost, "/ask", map[string]string{"pdf_name": "paper.md", "llm": "GPT-4o"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	n, _ := f.q.PendingCount(context.Background())
	if n != 0 {
		t.Fatalf("rejected submission enqueued %d entries", n)
	}
}

func TestGetResultLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w := f.do(t, http.MethodGet, "/result/task-nothing", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 pending", w.Code)
	}
	if got := decode(t, w)["status"]; got != "pending" {
		t.Fatalf("status field = %v", got)
	}

	if err := f.q.SetResult(ctx, "task-42", "a summary"); err != nil {
		t.Fatalf("SetResult: %v", err)
	}
	w = f.do(t, http.MethodGet, "/result/task-42", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	m := decode(t, w)
	if m["status"] != "done" || m["result"] != "a summary" {
		t.Fatalf("body = %v", m)
	}
}

func TestModelsAndHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/models", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "GPT-4o") {
		t.Fatalf("models: status=%d body=%s", w.Code, w.Body.String())
	}
	w = f.do(t, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", w.Code)
	}
}

// Submit through the API, process with a worker loop, observe the result via
// the polling endpoint: the full protocol in one test.
func TestSubmitProcessPollRoundtrip(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "paper.pdf", "The quick brown fox.")

	loopCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop := worker.New(f.q, &fakeCompleter{fn: func(_ context.Context, _, prompt string) (string, error) {
		if !strings.Contains(prompt, "The quick brown fox.") {
			t.Errorf("prompt lost the document body: %q", prompt)
		}
		return "fox summary", nil
	}}, nil, worker.Options{Consumer: "api-test", PollBlock: 10 * time.Millisecond})
	go loop.Run(loopCtx)

	w := f.do(t, http.MethodPost, "/summarize", map[string]string{"pdf_name": "paper.md", "llm": "GPT-4o"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d", w.Code)
	}
	id := decode(t, w)["task_id"].(string)

	deadline := time.Now().Add(3 * time.Second)
	for {
		w = f.do(t, http.MethodGet, "/result/"+id, nil)
		if w.Code == http.StatusOK {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("result never became done, last status %d", w.Code)
		}
		time.Sleep(20 * time.Millisecond)
	}
	m := decode(t, w)
	if m["status"] != "done" || m["result"] != "fox summary" {
		t.Fatalf("final body = %v", m)
	}

	if got, _ := decode(t, f.do(t, http.MethodGet, "/result/task-never-submitted", nil))["status"]; got != "pending" {
		t.Fatalf("never-submitted task status = %v, want pending", got)
	}
}
