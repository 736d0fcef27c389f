package chunk

import (
	"context"
	"fmt"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

// CodeChunker chunks files structurally where a grammar exists, falling
// back to fixed-size line windows otherwise. It is safe for concurrent use;
// each call parses with its own tree-sitter parser since parsers are not
// goroutine-safe.
type CodeChunker struct {
	maxChars     int
	overlapLines int

	pool sync.Pool
}

// NewCodeChunker creates a chunker with default sizing.
func NewCodeChunker() *CodeChunker {
	return NewCodeChunkerWithSize(DefaultMaxChunkChars, DefaultOverlapLines)
}

// NewCodeChunkerWithSize creates a chunker with explicit chunk sizing.
func NewCodeChunkerWithSize(maxChars, overlapLines int) *CodeChunker {
	if maxChars < MinChunkChars {
		maxChars = MinChunkChars
	}
	if overlapLines < 0 {
		overlapLines = 0
	}
	return &CodeChunker{
		maxChars:     maxChars,
		overlapLines: overlapLines,
		pool: sync.Pool{
			New: func() any { return sitter.NewParser() },
		},
	}
}

// Chunk splits a file into chunks in source order.
func (c *CodeChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	if file == nil {
		return nil, fmt.Errorf("nil file input")
	}
	if len(file.Content) == 0 {
		return nil, nil
	}

	if g := grammarFor(file.Language); g != nil {
		chunks, err := c.chunkStructural(ctx, file, g)
		if err == nil && len(chunks) > 0 {
			return chunks, nil
		}
		// Parse failure degrades to fixed-size chunking, not a file failure.
	}

	return c.chunkFixed(file), nil
}

// chunkStructural emits one chunk per top-level declaration. Declarations
// larger than maxChars are split with the fixed-size strategy so no chunk
// exceeds the embedding context.
func (c *CodeChunker) chunkStructural(ctx context.Context, file *FileInput, g *grammar) ([]*Chunk, error) {
	parser := c.pool.Get().(*sitter.Parser)
	defer c.pool.Put(parser)

	parser.SetLanguage(g.language)
	tree, err := parser.ParseCtx(ctx, nil, file.Content)
	if err != nil {
		return nil, err
	}
	if tree == nil {
		return nil, fmt.Errorf("nil parse tree")
	}
	defer tree.Close()

	root := tree.RootNode()
	var chunks []*Chunk

	for i := 0; i < int(root.ChildCount()); i++ {
		node := root.Child(i)
		if node == nil || !g.declarationTypes[node.Type()] {
			continue
		}

		content := string(file.Content[node.StartByte():node.EndByte()])
		startLine := int(node.StartPoint().Row) + 1
		endLine := int(node.EndPoint().Row) + 1

		if len(content) <= c.maxChars {
			chunks = append(chunks, &Chunk{
				FilePath:  file.Path,
				Content:   content,
				Language:  file.Language,
				StartLine: startLine,
				EndLine:   endLine,
			})
			continue
		}

		// Oversized declaration: window it, preserving line attribution.
		for _, w := range c.windows(content, startLine) {
			chunks = append(chunks, &Chunk{
				FilePath:  file.Path,
				Content:   w.content,
				Language:  file.Language,
				StartLine: w.startLine,
				EndLine:   w.endLine,
			})
		}
	}

	finalize(file.Path, chunks)
	return chunks, nil
}

// chunkFixed splits the whole file into overlapping line windows.
func (c *CodeChunker) chunkFixed(file *FileInput) []*Chunk {
	var chunks []*Chunk
	for _, w := range c.windows(string(file.Content), 1) {
		chunks = append(chunks, &Chunk{
			FilePath:  file.Path,
			Content:   w.content,
			Language:  file.Language,
			StartLine: w.startLine,
			EndLine:   w.endLine,
		})
	}
	finalize(file.Path, chunks)
	return chunks
}

type window struct {
	content   string
	startLine int
	endLine   int
}

// windows splits text into maxChars-bounded line windows with overlap.
func (c *CodeChunker) windows(text string, firstLine int) []window {
	lines := strings.Split(text, "\n")
	var out []window

	start := 0
	for start < len(lines) {
		size := 0
		end := start
		for end < len(lines) {
			lineLen := len(lines[end]) + 1
			if size+lineLen > c.maxChars && end > start {
				break
			}
			size += lineLen
			end++
		}

		content := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(content) != "" {
			out = append(out, window{
				content:   content,
				startLine: firstLine + start,
				endLine:   firstLine + end - 1,
			})
		}

		if end >= len(lines) {
			break
		}
		next := end - c.overlapLines
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return out
}

// finalize assigns source-order indices and content-addressed IDs.
func finalize(filePath string, chunks []*Chunk) {
	for i, ch := range chunks {
		ch.Index = i
		ch.ID = chunkID(filePath, ch.Content)
	}
}
