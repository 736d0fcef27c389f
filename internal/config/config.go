// Package config loads quarry configuration from a YAML file with
// environment-variable overrides. The engine only reads settings through
// the typed accessors here; nothing else parses raw settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the per-workspace config file.
const ConfigFileName = ".quarry.yaml"

// Intensity controls the cooperative yield between indexed files.
type Intensity string

const (
	IntensityHigh   Intensity = "high"
	IntensityMedium Intensity = "medium"
	IntensityLow    Intensity = "low"
)

// Delay returns the inter-file delay for this intensity level.
func (i Intensity) Delay() time.Duration {
	switch i {
	case IntensityMedium:
		return 50 * time.Millisecond
	case IntensityLow:
		return 200 * time.Millisecond
	default:
		return 0
	}
}

// Config is the complete quarry configuration.
type Config struct {
	Version    int              `yaml:"version"`
	Paths      PathsConfig      `yaml:"paths"`
	Watcher    WatcherConfig    `yaml:"watcher"`
	Indexing   IndexingConfig   `yaml:"indexing"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Store      StoreConfig      `yaml:"store"`
	LogLevel   string           `yaml:"log_level"`
}

// PathsConfig configures which paths to include and exclude.
type PathsConfig struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// WatcherConfig configures the file change detector.
type WatcherConfig struct {
	// DebounceWindow is the quiet period before a coalesced event is emitted.
	DebounceWindow time.Duration `yaml:"debounce_window"`
	// EventBufferSize is the size of the event channel buffer.
	EventBufferSize int `yaml:"event_buffer_size"`
}

// IndexingConfig configures the coordinator and worker pool.
type IndexingConfig struct {
	// Workers is the parse/embed worker pool size. 0 means NumCPU-1.
	Workers int `yaml:"workers"`
	// Intensity is the throttling level: high, medium, low.
	Intensity Intensity `yaml:"intensity"`
	// MaxFileSize skips files larger than this many bytes.
	MaxFileSize int64 `yaml:"max_file_size"`
	// BreakerFailures is the consecutive embed failures that pause a job.
	BreakerFailures int `yaml:"breaker_failures"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the backend: ollama, openai, static.
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// Dimensions is 0 to auto-detect from the provider.
	Dimensions int           `yaml:"dimensions"`
	BatchSize  int           `yaml:"batch_size"`
	Timeout    time.Duration `yaml:"timeout"`
	// OllamaHost is the Ollama API endpoint.
	OllamaHost string `yaml:"ollama_host"`
	// OpenAIBaseURL is the OpenAI-compatible endpoint.
	OpenAIBaseURL string `yaml:"openai_base_url"`
	// OpenAIKeyEnv names the env var holding the API key.
	OpenAIKeyEnv string `yaml:"openai_key_env"`
	// CacheSize is the LRU embedding cache capacity (entries).
	CacheSize int `yaml:"cache_size"`
}

// StoreConfig configures the per-collection vector index.
type StoreConfig struct {
	// Metric is the distance metric: cos or l2.
	Metric string `yaml:"metric"`
	// M is the HNSW max connections per layer.
	M int `yaml:"m"`
	// EfSearch is the HNSW query-time search width.
	EfSearch int `yaml:"ef_search"`
}

// defaultExcludePatterns are always excluded.
var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/.quarry/**",
	"**/*.min.js",
	"**/*.min.css",
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Exclude: defaultExcludePatterns,
		},
		Watcher: WatcherConfig{
			DebounceWindow:  500 * time.Millisecond,
			EventBufferSize: 1000,
		},
		Indexing: IndexingConfig{
			Workers:         DefaultWorkers(),
			Intensity:       IntensityHigh,
			MaxFileSize:     10 * 1024 * 1024,
			BreakerFailures: 5,
		},
		Embeddings: EmbeddingsConfig{
			Provider:      "ollama",
			Model:         "nomic-embed-text",
			BatchSize:     32,
			Timeout:       60 * time.Second,
			OllamaHost:    "http://localhost:11434",
			OpenAIBaseURL: "https://api.openai.com/v1",
			OpenAIKeyEnv:  "OPENAI_API_KEY",
			CacheSize:     4096,
		},
		Store: StoreConfig{
			Metric:   "cos",
			M:        16,
			EfSearch: 64,
		},
		LogLevel: "info",
	}
}

// DefaultWorkers reserves one core for the host/editor.
func DefaultWorkers() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	return n
}

// Load reads the config file under root, applies defaults and env overrides.
// A missing file is not an error; defaults are returned.
func Load(root string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(root, ConfigFileName)
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies QUARRY_* environment overrides (highest priority).
func (c *Config) applyEnv() {
	if v := os.Getenv("QUARRY_EMBED_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("QUARRY_EMBED_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("QUARRY_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("QUARRY_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("QUARRY_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Indexing.Workers = n
		}
	}
	if v := os.Getenv("QUARRY_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Watcher.DebounceWindow = d
		}
	}
	if v := os.Getenv("QUARRY_INTENSITY"); v != "" {
		c.Indexing.Intensity = Intensity(v)
	}
}

// applyDefaults fills zero values left by a partial config file.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Watcher.DebounceWindow <= 0 {
		c.Watcher.DebounceWindow = d.Watcher.DebounceWindow
	}
	if c.Watcher.EventBufferSize <= 0 {
		c.Watcher.EventBufferSize = d.Watcher.EventBufferSize
	}
	if c.Indexing.Workers <= 0 {
		c.Indexing.Workers = d.Indexing.Workers
	}
	if c.Indexing.Intensity == "" {
		c.Indexing.Intensity = d.Indexing.Intensity
	}
	if c.Indexing.MaxFileSize <= 0 {
		c.Indexing.MaxFileSize = d.Indexing.MaxFileSize
	}
	if c.Indexing.BreakerFailures <= 0 {
		c.Indexing.BreakerFailures = d.Indexing.BreakerFailures
	}
	if c.Embeddings.Provider == "" {
		c.Embeddings.Provider = d.Embeddings.Provider
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = d.Embeddings.Model
	}
	if c.Embeddings.BatchSize <= 0 {
		c.Embeddings.BatchSize = d.Embeddings.BatchSize
	}
	if c.Embeddings.Timeout <= 0 {
		c.Embeddings.Timeout = d.Embeddings.Timeout
	}
	if c.Embeddings.OllamaHost == "" {
		c.Embeddings.OllamaHost = d.Embeddings.OllamaHost
	}
	if c.Embeddings.OpenAIBaseURL == "" {
		c.Embeddings.OpenAIBaseURL = d.Embeddings.OpenAIBaseURL
	}
	if c.Embeddings.OpenAIKeyEnv == "" {
		c.Embeddings.OpenAIKeyEnv = d.Embeddings.OpenAIKeyEnv
	}
	if c.Embeddings.CacheSize <= 0 {
		c.Embeddings.CacheSize = d.Embeddings.CacheSize
	}
	if c.Store.Metric == "" {
		c.Store.Metric = d.Store.Metric
	}
	if c.Store.M <= 0 {
		c.Store.M = d.Store.M
	}
	if c.Store.EfSearch <= 0 {
		c.Store.EfSearch = d.Store.EfSearch
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if len(c.Paths.Exclude) == 0 {
		c.Paths.Exclude = d.Paths.Exclude
	}
}

// Validate checks for values the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Embeddings.Provider {
	case "ollama", "openai", "static":
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embeddings.Provider)
	}
	switch c.Indexing.Intensity {
	case IntensityHigh, IntensityMedium, IntensityLow:
	default:
		return fmt.Errorf("unknown intensity %q", c.Indexing.Intensity)
	}
	switch c.Store.Metric {
	case "cos", "l2":
	default:
		return fmt.Errorf("unknown store metric %q", c.Store.Metric)
	}
	return nil
}

// DataDir returns the per-workspace data directory.
func DataDir(root string) string {
	return filepath.Join(root, ".quarry")
}
