// Package chunk splits source files into embeddable chunks. Code in
// languages with a registered grammar is chunked structurally along
// top-level declarations; everything else falls back to fixed-size
// line windows with overlap.
package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Chunking defaults. Sizes are in characters; embedding models tokenize at
// roughly 4 characters per token.
const (
	DefaultMaxChunkChars = 2048
	DefaultOverlapLines  = 4
	MinChunkChars        = 16
)

// Chunk is one contiguous slice of a source file, the unit of embedding.
type Chunk struct {
	// ID is deterministic: sha256(filePath + chunk content), first 16 hex chars.
	ID string
	// FilePath is relative to the workspace root.
	FilePath string
	Content  string
	Language string
	// StartLine is 1-indexed; EndLine is inclusive.
	StartLine int
	EndLine   int
	// Index is the chunk's position within the file, in source order.
	Index int
}

// FileInput is the input to a Chunker.
type FileInput struct {
	// Path is relative to the workspace root.
	Path     string
	Content  []byte
	Language string
}

// Chunker splits one file into chunks.
type Chunker interface {
	// Chunk splits a file. Chunks are returned in source order.
	Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error)
}

// chunkID derives the content-addressable chunk ID.
func chunkID(filePath, content string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s", filePath, content)))
	return hex.EncodeToString(h[:])[:16]
}
