package aiadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/expensecore/expense-engine/apperr"
)

const defaultEmbeddingBaseURL = "https://api.openai.com/v1"

// EmbeddingConfig configures the embedding client's backend connection.
// Kept separate from Config because the vector store (C2) and the chat
// backend (C3) are independent external collaborators per §6 and are
// commonly different vendors — Anthropic's messages API has no embeddings
// endpoint, so embeddings are requested from an OpenAI-compatible one.
type EmbeddingConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// EmbeddingClient implements vectorindex.Embedder. The request/response
// shape and header injection are adapted from the gateway's OpenAI
// connector (provider.OpenAIProvider.Embeddings), trimmed to the single
// input-string call C2 actually makes.
type EmbeddingClient struct {
	cfg    EmbeddingConfig
	client *http.Client
}

// NewEmbeddingClient creates an embedding client. A zero-value Timeout
// defaults to 10s: embedding calls are small and latency-sensitive
// relative to chat completions.
func NewEmbeddingClient(cfg EmbeddingConfig) *EmbeddingClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultEmbeddingBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &EmbeddingClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type embeddingsRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed turns text into a vector via the configured backend. Transport,
// status and empty-response failures surface as ServiceUnavailable (§6
// embed()): there is no lower tier for C2 to fall back to when the embedder
// is unreachable. A request or response that cannot be (de)serialized is a
// ParseError.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody := embeddingsRequest{Model: c.cfg.Model, Input: text}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, apperr.ParseError("embedding_request_marshal_failed", "could not build embedding request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.ServiceUnavailable("embedding_request_build_failed", "could not build embedding request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.ServiceUnavailable("embedding_timeout", "embedding request timed out").WithCause(ctx.Err())
		}
		return nil, apperr.ServiceUnavailable("embedding_request_failed", "embedding request failed").WithCause(err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.ServiceUnavailable("embedding_bad_status", fmt.Sprintf("embedding backend returned status %d", resp.StatusCode))
	}

	var parsed embeddingsResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, apperr.ParseError("embedding_response_undecodable", "embedding response was not valid JSON").WithCause(err)
	}
	if len(parsed.Data) == 0 {
		return nil, apperr.ServiceUnavailable("embedding_response_empty", "embedding backend returned no vectors")
	}

	return parsed.Data[0].Embedding, nil
}
