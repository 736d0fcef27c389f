// Package embed generates vector embeddings for text chunks via Ollama,
// an OpenAI-compatible endpoint, or a deterministic offline embedder.
package embed

import (
	"context"
	"math"
	"time"
)

// Batch and timeout defaults shared by providers.
const (
	DefaultBatchSize  = 32
	MaxBatchSize      = 256
	DefaultTimeout    = 60 * time.Second
	DefaultMaxRetries = 3

	// DefaultOllamaHost is the local Ollama endpoint.
	DefaultOllamaHost = "http://localhost:11434"
	// DefaultOllamaModel is a compact local embedding model.
	DefaultOllamaModel = "nomic-embed-text"

	// DefaultOpenAIBaseURL is the hosted OpenAI endpoint.
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	// DefaultOpenAIModel is OpenAI's small embedding model.
	DefaultOpenAIModel = "text-embedding-3-small"
	// OpenAIDimensions is the dimension of text-embedding-3-small.
	OpenAIDimensions = 1536

	// StaticDimensions is the dimension of the offline hash embedder.
	StaticDimensions = 256
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts. The result is a
	// parallel array: result[i] corresponds to texts[i].
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available reports whether the provider is reachable and ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector scales a vector to unit length. Cosine distance over
// normalized vectors equals dot-product distance, which the store assumes.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
