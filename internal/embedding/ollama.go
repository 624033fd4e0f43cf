package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/notedrift/geist/internal/logging"
)

// Ollama generates embeddings via a local Ollama instance.
type Ollama struct {
	baseURL string
	model   string
	dims    int
	retries int
	client  *http.Client
}

// NewOllama creates an Ollama embedding client. Zero values fall back to the
// local default endpoint and nomic-embed-text (768 dims).
func NewOllama(baseURL, model string, timeout time.Duration, retries int) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Ollama{
		baseURL: baseURL,
		model:   model,
		dims:    768,
		retries: retries,
		client:  &http.Client{Timeout: timeout},
	}
}

// embeddingRequest is the Ollama API request format
type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// embeddingResponse is the Ollama API response format
type embeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed generates an embedding for the given text. Transient failures are
// retried a bounded number of times; anything left surfaces as ErrUnavailable.
func (c *Ollama) Embed(ctx context.Context, text string) ([]float64, error) {
	if text == "" {
		return nil, unavailable("empty text")
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			logging.Debug("embed", "retry %d/%d: %v", attempt, c.retries, lastErr)
			select {
			case <-ctx.Done():
				return nil, unavailable("canceled: %v", ctx.Err())
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
		vec, err := c.embedOnce(ctx, text)
		if err == nil {
			c.dims = len(vec)
			return vec, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, unavailable("%v", lastErr)
}

func (c *Ollama) embedOnce(ctx context.Context, text string) ([]float64, error) {
	jsonBody, err := json.Marshal(embeddingRequest{Model: c.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/embeddings", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, string(body))
	}

	var result embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}
	return result.Embedding, nil
}

// Dimensions returns the vector width of the configured model. The value is
// refined after the first successful call.
func (c *Ollama) Dimensions() int {
	return c.dims
}
