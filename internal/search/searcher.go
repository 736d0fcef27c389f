// Package search answers natural-language queries against the vector
// collections, scoped to the workspace folder that owns the active file.
package search

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/quarry-search/quarry/internal/embed"
	qerrors "github.com/quarry-search/quarry/internal/errors"
	"github.com/quarry-search/quarry/internal/router"
)

// DefaultLimit is the result count when the caller does not set one.
const DefaultLimit = 10

// Result is one search hit.
type Result struct {
	Folder   string
	FilePath string
	Language string
	Content  string
	// StartLine is 1-indexed; EndLine is inclusive.
	StartLine int
	EndLine   int
	Score     float32
}

// Options shape one query.
type Options struct {
	// Limit caps the result count. 0 means DefaultLimit.
	Limit int
	// MinScore drops weaker hits.
	MinScore float32
}

// Searcher resolves query scope and runs vector searches through the
// router. Folders must be registered before their files can anchor a
// search.
type Searcher struct {
	mu       sync.RWMutex
	embedder embed.Embedder
	router   *router.Router
	folders  []string
	logger   *slog.Logger
}

// NewSearcher creates a searcher over the given router.
func NewSearcher(embedder embed.Embedder, rt *router.Router) *Searcher {
	return &Searcher{
		embedder: embedder,
		router:   rt,
		logger:   slog.Default().With(slog.String("component", "search")),
	}
}

// Register adds a workspace folder to the scope set. Registering the
// same folder twice is a no-op. Longest folders are tried first so
// nested workspace folders resolve to the innermost match.
func (s *Searcher) Register(folder string) {
	folder = filepath.Clean(folder)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.folders {
		if f == folder {
			return
		}
	}
	s.folders = append(s.folders, folder)
	sort.Slice(s.folders, func(i, j int) bool { return len(s.folders[i]) > len(s.folders[j]) })
}

// Scope returns the registered folder containing the given file.
func (s *Searcher) Scope(activeFile string) (string, bool) {
	activeFile = filepath.Clean(activeFile)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, folder := range s.folders {
		if activeFile == folder || strings.HasPrefix(activeFile, folder+string(filepath.Separator)) {
			return folder, true
		}
	}
	return "", false
}

// Search embeds the query and searches the collection of the folder
// containing activeFile. A folder that was never indexed yields empty
// results, not an error.
func (s *Searcher) Search(ctx context.Context, query, activeFile string, opts Options) ([]Result, error) {
	folder, ok := s.Scope(activeFile)
	if !ok {
		return nil, qerrors.New(qerrors.ErrCodeInvalidInput,
			"active file is not inside any registered workspace folder", nil).
			WithDetail("file", activeFile)
	}
	return s.SearchFolder(ctx, query, folder, opts)
}

// SearchFolder searches one workspace folder's collection directly.
func (s *Searcher) SearchFolder(ctx context.Context, query, folder string, opts Options) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, qerrors.New(qerrors.ErrCodeInvalidInput, "empty query", nil)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	handle := router.HandleFor(folder)
	hits, err := s.router.Query(ctx, handle, vector, limit, opts.MinScore)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(hits))
	for i, hit := range hits {
		results[i] = Result{
			Folder:    folder,
			FilePath:  hit.Payload.FilePath,
			Language:  hit.Payload.Language,
			Content:   hit.Payload.Content,
			StartLine: hit.Payload.StartLine,
			EndLine:   hit.Payload.EndLine,
			Score:     hit.Score,
		}
	}

	s.logger.Debug("search completed",
		slog.String("folder", folder),
		slog.Int("results", len(results)))
	return results, nil
}
