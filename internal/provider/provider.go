// Package provider gives the worker one uniform capability: given a model
// identifier and a prompt, return generated text or a typed failure. The
// per-backend request shaping and credential handling stay inside.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Style selects the wire shape a backend speaks.
type Style string

const (
	// StyleOpenAI is the chat/completions shape with a bearer credential.
	StyleOpenAI Style = "openai"
	// StyleGoogle is the generateContent shape with the credential in the
	// query string.
	StyleGoogle Style = "google"
	// StyleGeneric is the chat/completions shape plus a routing field for
	// gateways that multiplex several upstreams behind one endpoint.
	StyleGeneric Style = "generic"
)

// Error is any completion failure, carrying a message fit for showing to the
// client that submitted the task.
type Error struct {
	Model string
	Msg   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("calling %s: %s", e.Model, e.Msg)
}

// ModelConfig is one configured backend.
type ModelConfig struct {
	Style   Style
	Model   string // provider-side model name
	APIKey  string
	BaseURL string
	Route   string // extra routing parameter, StyleGeneric only
}

// Completer is what the worker depends on.
type Completer interface {
	Complete(ctx context.Context, modelID, prompt string) (string, error)
}

// Registry maps client-facing model identifiers to backend configurations
// and dispatches by style. Immutable after construction.
type Registry struct {
	models map[string]ModelConfig
	client *http.Client
}

func NewRegistry(models map[string]ModelConfig) *Registry {
	return &Registry{
		models: models,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

// FromEnv builds the default model table, credentials taken from the
// environment. Models without a key stay listed; calling them yields a
// credential-missing error rather than a lookup failure.
func FromEnv() *Registry {
	return NewRegistry(map[string]ModelConfig{
		"GPT-4o":       {Style: StyleOpenAI, Model: "gpt-4o", APIKey: os.Getenv("GPT4O_API_KEY"), BaseURL: "https://api.openai.com"},
		"Gemini-Flash": {Style: StyleGoogle, Model: "gemini-2.0-flash-exp", APIKey: os.Getenv("GEMINI_API_KEY"), BaseURL: "https://generativelanguage.googleapis.com"},
		"DeepSeek":     {Style: StyleGeneric, Model: "deepseek-chat", APIKey: os.Getenv("DEEPSEEK_API_KEY"), BaseURL: "https://api.deepseek.com", Route: "deepseek"},
		"Claude":       {Style: StyleOpenAI, Model: "claude-3-5-sonnet-20240620", APIKey: os.Getenv("CLAUDE_API_KEY"), BaseURL: "https://api.anthropic.com"},
		"Grok":         {Style: StyleGeneric, Model: "grok-2-1212", APIKey: os.Getenv("GROK_API_KEY"), BaseURL: "https://api.x.ai", Route: "grok"},
	})
}

// Models lists the configured model identifiers, for the UI picker.
func (r *Registry) Models() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	return names
}

// Complete runs one prompt against the named model. All failures come back
// as *Error; it never panics and never returns a transport error raw.
func (r *Registry) Complete(ctx context.Context, modelID, prompt string) (string, error) {
	cfg, ok := r.models[modelID]
	if !ok {
		return "", &Error{Model: modelID, Msg: "unknown model"}
	}
	if cfg.APIKey == "" {
		return "", &Error{Model: modelID, Msg: "API key missing"}
	}
	switch cfg.Style {
	case StyleGoogle:
		return r.completeGoogle(ctx, modelID, cfg, prompt)
	default:
		return r.completeChat(ctx, modelID, cfg, prompt)
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Provider string        `json:"provider,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (r *Registry) completeChat(ctx context.Context, modelID string, cfg ModelConfig, prompt string) (string, error) {
	reqBody := chatRequest{
		Model:    cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	}
	if cfg.Style == StyleGeneric {
		reqBody.Provider = cfg.Route
	}
	body, err := r.post(ctx, modelID, cfg.BaseURL+"/v1/chat/completions", "Bearer "+cfg.APIKey, reqBody)
	if err != nil {
		return "", err
	}
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &Error{Model: modelID, Msg: "unparseable response"}
	}
	if resp.Error != nil {
		return "", &Error{Model: modelID, Msg: resp.Error.Message}
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Model: modelID, Msg: "empty response"}
	}
	return resp.Choices[0].Message.Content, nil
}

type generatePart struct {
	Text string `json:"text"`
}

type generateContent struct {
	Parts []generatePart `json:"parts"`
}

type generateRequest struct {
	Contents []generateContent `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content generateContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (r *Registry) completeGoogle(ctx context.Context, modelID string, cfg ModelConfig, prompt string) (string, error) {
	reqBody := generateRequest{
		Contents: []generateContent{{Parts: []generatePart{{Text: prompt}}}},
	}
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", cfg.BaseURL, cfg.Model, cfg.APIKey)
	body, err := r.post(ctx, modelID, url, "", reqBody)
	if err != nil {
		return "", err
	}
	var resp generateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &Error{Model: modelID, Msg: "unparseable response"}
	}
	if resp.Error != nil {
		return "", &Error{Model: modelID, Msg: resp.Error.Message}
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", &Error{Model: modelID, Msg: "empty response"}
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}

func (r *Registry) post(ctx context.Context, modelID, url, auth string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Model: modelID, Msg: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Model: modelID, Msg: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &Error{Model: modelID, Msg: err.Error()}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Model: modelID, Msg: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		var apiErr chatResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return nil, &Error{Model: modelID, Msg: msg}
	}
	return body, nil
}
