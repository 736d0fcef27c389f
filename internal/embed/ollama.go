package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	qerrors "github.com/quarry-search/quarry/internal/errors"
)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	Host      string
	Model     string
	BatchSize int
	Timeout   time.Duration
}

// WithDefaults fills zero-valued fields with defaults.
func (c OllamaConfig) WithDefaults() OllamaConfig {
	if c.Host == "" {
		c.Host = DefaultOllamaHost
	}
	if c.Model == "" {
		c.Model = DefaultOllamaModel
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchSize > MaxBatchSize {
		c.BatchSize = MaxBatchSize
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// OllamaEmbedder generates embeddings via a local Ollama server.
type OllamaEmbedder struct {
	config OllamaConfig
	client *http.Client
	logger *slog.Logger

	// mu guards dimensions; batches arrive from concurrent workers.
	mu         sync.Mutex
	dimensions int
}

// NewOllamaEmbedder creates an Ollama-backed embedder. The embedding
// dimension is detected lazily on the first call.
func NewOllamaEmbedder(config OllamaConfig) *OllamaEmbedder {
	config = config.WithDefaults()
	return &OllamaEmbedder{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: slog.Default().With(slog.String("component", "embed.ollama")),
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed generates the embedding for a single text.
func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts, splitting into
// API-sized sub-batches. Transient failures are retried with backoff.
func (o *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += o.config.BatchSize {
		end := start + o.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := qerrors.RetryWithResult(ctx, qerrors.DefaultRetryConfig(), func() ([][]float32, error) {
			return o.embedOnce(ctx, texts[start:end])
		})
		if err != nil {
			return nil, err
		}
		results = append(results, batch...)
	}
	return results, nil
}

func (o *OllamaEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: o.config.Model, Input: texts})
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeInternal, "marshal embed request", err)
	}

	url := strings.TrimRight(o.config.Host, "/") + "/api/embed"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeInternal, "build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeProviderTimeout, "ollama request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		code := qerrors.ErrCodeProviderResponse
		if resp.StatusCode == http.StatusTooManyRequests {
			code = qerrors.ErrCodeProviderRateLimited
		}
		return nil, qerrors.New(code,
			fmt.Sprintf("ollama returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))), nil)
	}

	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, qerrors.New(qerrors.ErrCodeProviderResponse, "decode embed response", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, qerrors.New(qerrors.ErrCodeProviderResponse,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(parsed.Embeddings)), nil)
	}

	for i, vec := range parsed.Embeddings {
		if len(vec) == 0 {
			return nil, qerrors.New(qerrors.ErrCodeProviderResponse,
				fmt.Sprintf("empty embedding at index %d", i), nil)
		}
		parsed.Embeddings[i] = normalizeVector(vec)
	}
	o.mu.Lock()
	if o.dimensions == 0 {
		o.dimensions = len(parsed.Embeddings[0])
		o.logger.Debug("detected embedding dimensions",
			slog.String("model", o.config.Model),
			slog.Int("dimensions", o.dimensions))
	}
	o.mu.Unlock()
	return parsed.Embeddings, nil
}

// Dimensions returns the embedding dimension, 0 until the first call.
func (o *OllamaEmbedder) Dimensions() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dimensions
}

func (o *OllamaEmbedder) ModelName() string { return o.config.Model }

// Available checks that the server responds and the model is pulled.
func (o *OllamaEmbedder) Available(ctx context.Context) bool {
	url := strings.TrimRight(o.config.Host, "/") + "/api/tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}
	for _, m := range tags.Models {
		if m.Name == o.config.Model || strings.HasPrefix(m.Name, o.config.Model+":") {
			return true
		}
	}
	o.logger.Warn("model not found on ollama server", slog.String("model", o.config.Model))
	return false
}

func (o *OllamaEmbedder) Close() error {
	o.client.CloseIdleConnections()
	return nil
}
