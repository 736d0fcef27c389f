package index

import (
	"context"
	"log/slog"
	"os"

	"github.com/quarry-search/quarry/internal/chunk"
	"github.com/quarry-search/quarry/internal/embed"
	qerrors "github.com/quarry-search/quarry/internal/errors"
	"github.com/quarry-search/quarry/internal/router"
	"github.com/quarry-search/quarry/internal/scanner"
)

// Pipeline turns one file into committed vector points: read, chunk,
// embed, then upsert through the router. It holds no per-file state, so
// any number of workers can share one instance; the router serializes
// the final commit.
type Pipeline struct {
	chunker  chunk.Chunker
	embedder embed.Embedder
	router   *router.Router
	breaker  *qerrors.CircuitBreaker
	logger   *slog.Logger
}

// NewPipeline wires the processing stages together. The breaker guards
// embedding calls; a tripped breaker surfaces as ErrCircuitOpen so the
// coordinator can pause the job instead of burning through the queue.
func NewPipeline(chunker chunk.Chunker, embedder embed.Embedder, rt *router.Router, breaker *qerrors.CircuitBreaker) *Pipeline {
	return &Pipeline{
		chunker:  chunker,
		embedder: embedder,
		router:   rt,
		breaker:  breaker,
		logger:   slog.Default().With(slog.String("component", "pipeline")),
	}
}

// ProcessFile indexes a single file into the given collection. A file
// that vanished between scan and read is treated as already removed.
func (p *Pipeline) ProcessFile(ctx context.Context, handle string, file *scanner.FileInfo) error {
	content, err := os.ReadFile(file.AbsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return p.RemoveFile(ctx, handle, file.Path)
		}
		return qerrors.New(qerrors.ErrCodeFileUnreadable, "read "+file.Path, err)
	}
	if scanner.IsBinary(content) {
		return nil
	}

	chunks, err := p.chunker.Chunk(ctx, &chunk.FileInput{
		Path:     file.Path,
		Content:  content,
		Language: file.Language,
	})
	if err != nil {
		return qerrors.New(qerrors.ErrCodeFileUnreadable, "chunk "+file.Path, err)
	}
	if len(chunks) == 0 {
		// An emptied file still needs its old points dropped.
		return p.RemoveFile(ctx, handle, file.Path)
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}

	var vectors [][]float32
	err = p.breaker.Execute(func() error {
		var embedErr error
		vectors, embedErr = p.embedder.EmbedBatch(ctx, texts)
		return embedErr
	})
	if err != nil {
		return err
	}

	if err := p.router.Upsert(ctx, handle, file.Path, chunks, vectors); err != nil {
		return err
	}

	p.logger.Debug("file indexed",
		slog.String("path", file.Path),
		slog.Int("chunks", len(chunks)))
	return nil
}

// RemoveFile drops a file's points. Safe to call for files that were
// never indexed.
func (p *Pipeline) RemoveFile(ctx context.Context, handle, relPath string) error {
	return p.router.Remove(ctx, handle, relPath)
}
