package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func chatServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestCompleteUnknownModel(t *testing.T) {
	r := NewRegistry(map[string]ModelConfig{})
	_, err := r.Complete(context.Background(), "nope", "hi")
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("want *Error, got %v", err)
	}
	if perr.Msg != "unknown model" {
		t.Fatalf("msg = %q", perr.Msg)
	}
}

func TestCompleteMissingKeySkipsNetwork(t *testing.T) {
	called := false
	srv := chatServer(t, func(w http.ResponseWriter, req *http.Request) {
		called = true
	})
	r := NewRegistry(map[string]ModelConfig{
		"m": {Style: StyleOpenAI, Model: "m-1", BaseURL: srv.URL},
	})
	_, err := r.Complete(context.Background(), "m", "hi")
	var perr *Error
	if !errors.As(err, &perr) || !strings.Contains(perr.Msg, "API key missing") {
		t.Fatalf("want credential error, got %v", err)
	}
	if called {
		t.Fatal("network call made without a credential")
	}
}

func TestCompleteOpenAIStyle(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", req.URL.Path)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("auth = %q", got)
		}
		var body chatRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Model != "gpt-4o" || len(body.Messages) != 1 {
			t.Errorf("unexpected request: %+v", body)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "a summary"}},
			},
		})
	})
	r := NewRegistry(map[string]ModelConfig{
		"GPT-4o": {Style: StyleOpenAI, Model: "gpt-4o", APIKey: "sk-test", BaseURL: srv.URL},
	})
	text, err := r.Complete(context.Background(), "GPT-4o", "Summarize this")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "a summary" {
		t.Fatalf("text = %q", text)
	}
}

func TestCompleteGenericStyleSendsRoute(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, req *http.Request) {
		var body chatRequest
		json.NewDecoder(req.Body).Decode(&body)
		if body.Provider != "deepseek" {
			t.Errorf("provider = %q, want deepseek", body.Provider)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "ok"}},
			},
		})
	})
	r := NewRegistry(map[string]ModelConfig{
		"DeepSeek": {Style: StyleGeneric, Model: "deepseek-chat", APIKey: "k", BaseURL: srv.URL, Route: "deepseek"},
	})
	if _, err := r.Complete(context.Background(), "DeepSeek", "hi"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
}

func TestCompleteGoogleStyle(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, req *http.Request) {
		if !strings.Contains(req.URL.Path, ":generateContent") {
			t.Errorf("path = %s", req.URL.Path)
		}
		if req.URL.Query().Get("key") != "g-key" {
			t.Errorf("key = %q", req.URL.Query().Get("key"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]string{{"text": "an answer"}}}},
			},
		})
	})
	r := NewRegistry(map[string]ModelConfig{
		"Gemini-Flash": {Style: StyleGoogle, Model: "gemini-2.0-flash-exp", APIKey: "g-key", BaseURL: srv.URL},
	})
	text, err := r.Complete(context.Background(), "Gemini-Flash", "hi")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "an answer" {
		t.Fatalf("text = %q", text)
	}
}

func TestCompleteUpstreamError(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "quota exceeded"},
		})
	})
	r := NewRegistry(map[string]ModelConfig{
		"m": {Style: StyleOpenAI, Model: "m-1", APIKey: "k", BaseURL: srv.URL},
	})
	_, err := r.Complete(context.Background(), "m", "hi")
	var perr *Error
	if !errors.As(err, &perr) || !strings.Contains(perr.Msg, "quota exceeded") {
		t.Fatalf("want quota error, got %v", err)
	}
}

func TestCompleteTransportError(t *testing.T) {
	r := NewRegistry(map[string]ModelConfig{
		"m": {Style: StyleOpenAI, Model: "m-1", APIKey: "k", BaseURL: "http://127.0.0.1:1"},
	})
	_, err := r.Complete(context.Background(), "m", "hi")
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("want *Error, got %v", err)
	}
}
