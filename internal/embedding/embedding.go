package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"ticket-triage/internal/config"
)

// Client computes text embeddings against OpenAI-compatible inference APIs.
// When the preferred provider fails it retries once against the next
// configured provider before giving up.
type Client struct {
	providers  []config.ProviderConfig
	model      string
	dimensions int
	http       *http.Client
	log        zerolog.Logger
}

func NewClient(cfg config.EmbeddingConfig, log zerolog.Logger) *Client {
	// The default provider is tried first; the rest keep their config order.
	providers := make([]config.ProviderConfig, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if p.Name == cfg.DefaultProvider {
			providers = append([]config.ProviderConfig{p}, providers...)
		} else {
			providers = append(providers, p)
		}
	}

	return &Client{
		providers:  providers,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		http:       &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// Providers disagree on response shape: OpenAI-style APIs nest vectors under
// data[].embedding, others return a bare embeddings array.
type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the embedding vector for text, falling back to at most one
// alternate provider. It never returns an empty or zero-length vector
// without an error.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	attempts := len(c.providers)
	if attempts > 2 {
		attempts = 2
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		p := c.providers[i]
		vec, err := c.embedWith(ctx, p, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		c.log.Warn().Err(err).Str("provider", p.Name).Msg("embedding provider failed")
	}
	return nil, fmt.Errorf("all embedding providers failed: %w", lastErr)
}

func (c *Client) embedWith(ctx context.Context, p config.ProviderConfig, text string) ([]float32, error) {
	if p.APIKey == "" {
		return nil, fmt.Errorf("provider %s: no API key configured", p.Name)
	}

	body, err := json.Marshal(embeddingRequest{Model: c.model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", p.Name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("provider %s: read response: %w", p.Name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider %s: status %d: %s", p.Name, resp.StatusCode, truncate(string(respBody), 200))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("provider %s: decode response: %w", p.Name, err)
	}

	var vec []float32
	switch {
	case len(parsed.Data) > 0:
		vec = parsed.Data[0].Embedding
	case len(parsed.Embeddings) > 0:
		vec = parsed.Embeddings[0]
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("provider %s: empty embedding in response", p.Name)
	}
	if c.dimensions > 0 && len(vec) != c.dimensions {
		return nil, fmt.Errorf("provider %s: got %d dimensions, want %d", p.Name, len(vec), c.dimensions)
	}
	return vec, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
