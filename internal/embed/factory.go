package embed

import (
	"fmt"
	"log/slog"

	"github.com/quarry-search/quarry/internal/config"
	qerrors "github.com/quarry-search/quarry/internal/errors"
)

// Provider identifiers accepted in configuration.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderStatic = "static"
)

// NewFromConfig builds the configured embedder wrapped in the LRU cache.
func NewFromConfig(cfg config.EmbeddingsConfig) (Embedder, error) {
	var (
		inner Embedder
		err   error
	)
	switch cfg.Provider {
	case ProviderOllama, "":
		inner = NewOllamaEmbedder(OllamaConfig{
			Host:      cfg.OllamaHost,
			Model:     cfg.Model,
			BatchSize: cfg.BatchSize,
			Timeout:   cfg.Timeout,
		})
	case ProviderOpenAI:
		inner, err = NewOpenAIEmbedder(OpenAIConfig{
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.Model,
			APIKeyEnv:  cfg.OpenAIKeyEnv,
			BatchSize:  cfg.BatchSize,
			Timeout:    cfg.Timeout,
			Dimensions: cfg.Dimensions,
		})
		if err != nil {
			return nil, err
		}
	case ProviderStatic:
		inner = NewStaticEmbedder()
	default:
		return nil, qerrors.New(qerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown embedding provider %q", cfg.Provider), nil)
	}

	cached, err := NewCachedEmbedder(inner, cfg.CacheSize)
	if err != nil {
		inner.Close()
		return nil, qerrors.New(qerrors.ErrCodeInternal, "create embedding cache", err)
	}
	slog.Debug("embedder created",
		slog.String("provider", cfg.Provider),
		slog.String("model", cached.ModelName()))
	return cached, nil
}
