package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	qerrors "github.com/quarry-search/quarry/internal/errors"
)

// OpenAIConfig configures an embedder speaking the OpenAI embeddings API.
// Any compatible endpoint works by overriding BaseURL.
type OpenAIConfig struct {
	BaseURL   string
	Model     string
	APIKeyEnv string
	BatchSize int
	Timeout   time.Duration
	// Dimensions pins the output dimension when the model supports it;
	// 0 uses the model default.
	Dimensions int
}

// WithDefaults fills zero-valued fields with defaults.
func (c OpenAIConfig) WithDefaults() OpenAIConfig {
	if c.BaseURL == "" {
		c.BaseURL = DefaultOpenAIBaseURL
	}
	if c.Model == "" {
		c.Model = DefaultOpenAIModel
	}
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = "OPENAI_API_KEY"
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

// OpenAIEmbedder generates embeddings via an OpenAI-compatible endpoint.
type OpenAIEmbedder struct {
	config OpenAIConfig
	apiKey string
	client *http.Client

	// mu guards dimensions; batches arrive from concurrent workers.
	mu         sync.Mutex
	dimensions int
}

// NewOpenAIEmbedder creates an embedder for an OpenAI-compatible API. The
// API key is read from the configured environment variable; a missing key
// is an auth error.
func NewOpenAIEmbedder(config OpenAIConfig) (*OpenAIEmbedder, error) {
	config = config.WithDefaults()
	apiKey := os.Getenv(config.APIKeyEnv)
	if apiKey == "" {
		return nil, qerrors.New(qerrors.ErrCodeProviderAuth,
			fmt.Sprintf("environment variable %s is not set", config.APIKeyEnv), nil)
	}

	dims := config.Dimensions
	if dims == 0 && config.Model == DefaultOpenAIModel {
		dims = OpenAIDimensions
	}
	return &OpenAIEmbedder{
		config:     config,
		apiKey:     apiKey,
		client:     &http.Client{Timeout: config.Timeout},
		dimensions: dims,
	}, nil
}

type openaiEmbedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed generates the embedding for a single text.
func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in API-sized
// sub-batches, retrying transient failures.
func (o *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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

func (o *OpenAIEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	payload := openaiEmbedRequest{Model: o.config.Model, Input: texts, Dimensions: o.config.Dimensions}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeInternal, "marshal embed request", err)
	}

	url := strings.TrimRight(o.config.BaseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeInternal, "build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeProviderTimeout, "embeddings request failed", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, qerrors.New(qerrors.ErrCodeProviderAuth,
			fmt.Sprintf("embeddings endpoint rejected credentials (%d)", resp.StatusCode), nil)
	case http.StatusTooManyRequests:
		return nil, qerrors.New(qerrors.ErrCodeProviderRateLimited, "embeddings endpoint rate limited", nil)
	default:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, qerrors.New(qerrors.ErrCodeProviderResponse,
			fmt.Sprintf("embeddings endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))), nil)
	}

	var parsed openaiEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, qerrors.New(qerrors.ErrCodeProviderResponse, "decode embed response", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, qerrors.New(qerrors.ErrCodeProviderResponse,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(parsed.Data)), nil)
	}

	// The API may return entries out of order; place by index.
	out := make([][]float32, len(texts))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(out) || len(item.Embedding) == 0 {
			return nil, qerrors.New(qerrors.ErrCodeProviderResponse, "malformed embedding entry", nil)
		}
		out[item.Index] = normalizeVector(item.Embedding)
	}
	o.mu.Lock()
	if o.dimensions == 0 {
		o.dimensions = len(out[0])
	}
	o.mu.Unlock()
	return out, nil
}

func (o *OpenAIEmbedder) Dimensions() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dimensions
}

func (o *OpenAIEmbedder) ModelName() string { return o.config.Model }

// Available probes the endpoint with a minimal embedding request.
func (o *OpenAIEmbedder) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := o.embedOnce(probeCtx, []string{"ping"})
	return err == nil
}

func (o *OpenAIEmbedder) Close() error {
	o.client.CloseIdleConnections()
	return nil
}
