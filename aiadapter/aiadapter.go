// Package aiadapter implements C3: a single invoke() call over a chat
// completion backend, used as the last-resort tier by normalization,
// categorization and statement fingerprint inference. The HTTP client
// shape (custom Transport, context-scoped request, header injection,
// status-code classification) is adapted from the gateway's Anthropic
// connector (provider.AnthropicProvider); collapsed here to the one
// operation every tier-3 caller actually needs.
package aiadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/expensecore/expense-engine/apperr"
)

const defaultBaseURL = "https://api.anthropic.com/v1"
const anthropicVersion = "2023-06-01"

// Config configures the adapter's single backend connection.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Adapter is C3.
type Adapter struct {
	cfg    Config
	client *http.Client
}

// New creates an AI adapter. A zero-value Timeout defaults to 20s, shorter
// than the gateway's 120s chat timeout since tier-3 calls are synchronous
// extraction requests, not open-ended completions.
func New(cfg Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Adapter{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
	}
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Temperature float64   `json:"temperature"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// Invoke sends systemPrompt/userPrompt to the backend with temperature
// pinned low (deterministic extraction) and returns the stripped text
// response. Errors are classified per §4.3: a context deadline is
// surfaced distinctly from other transport failures so C4 can decide
// whether a retry is worthwhile, but both ultimately present to callers
// as ServiceUnavailable with no lower tier left to fall through to.
func (a *Adapter) Invoke(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error) {
	if temperature <= 0 {
		temperature = 0.1
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	reqBody := messagesRequest{
		Model:       a.cfg.Model,
		MaxTokens:   maxTokens,
		System:      systemPrompt,
		Temperature: temperature,
		Messages:    []message{{Role: "user", Content: userPrompt}},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", apperr.ParseError("ai_request_marshal_failed", "could not build AI request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", apperr.ServiceUnavailable("ai_request_build_failed", "could not build AI request").WithCause(err)
	}
	a.setHeaders(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", apperr.ServiceUnavailable("ai_timeout", "AI request timed out").WithCause(ctx.Err())
		}
		return "", apperr.ServiceUnavailable("ai_request_failed", "AI request failed").WithCause(err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", apperr.ServiceUnavailable("ai_bad_status", fmt.Sprintf("AI backend returned status %d", resp.StatusCode))
	}

	var parsed messagesResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", apperr.ParseError("ai_response_undecodable", "AI response was not valid JSON").WithCause(err)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return stripFencedCode(text.String()), nil
}

// stripFencedCode removes a single leading/trailing ```json / ``` fence,
// if present, so callers can unmarshal the result directly (§4.3).
func stripFencedCode(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if nl := strings.IndexByte(trimmed, '\n'); nl >= 0 {
		first := trimmed[:nl]
		if !strings.Contains(first, "{") && !strings.Contains(first, "[") {
			trimmed = trimmed[nl+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func (a *Adapter) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
}
