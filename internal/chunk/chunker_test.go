package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goSource = `package demo

import "fmt"

// Greet says hello.
func Greet(name string) string {
	return fmt.Sprintf("hello %s", name)
}

type Greeter struct {
	Prefix string
}

func (g *Greeter) Do(name string) string {
	return g.Prefix + name
}
`

func TestChunk_GoStructural(t *testing.T) {
	c := NewCodeChunker()
	chunks, err := c.Chunk(context.Background(), &FileInput{
		Path:     "demo/greet.go",
		Content:  []byte(goSource),
		Language: "go",
	})
	require.NoError(t, err)
	require.Len(t, chunks, 3) // func, type, method

	assert.Contains(t, chunks[0].Content, "func Greet")
	assert.Contains(t, chunks[1].Content, "type Greeter struct")
	assert.Contains(t, chunks[2].Content, "func (g *Greeter) Do")

	// Source order and line attribution.
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.LessOrEqual(t, ch.StartLine, ch.EndLine)
		if i > 0 {
			assert.Greater(t, ch.StartLine, chunks[i-1].StartLine)
		}
	}
}

func TestChunk_PythonStructural(t *testing.T) {
	src := "def one():\n    return 1\n\n\nclass Two:\n    def method(self):\n        return 2\n"
	c := NewCodeChunker()
	chunks, err := c.Chunk(context.Background(), &FileInput{
		Path:     "two.py",
		Content:  []byte(src),
		Language: "python",
	})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Contains(t, chunks[0].Content, "def one")
	assert.Contains(t, chunks[1].Content, "class Two")
}

func TestChunk_FixedFallbackForUnknownLanguage(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 200; i++ {
		sb.WriteString("SELECT * FROM metrics WHERE bucket = 42;\n")
	}

	c := NewCodeChunkerWithSize(512, 2)
	chunks, err := c.Chunk(context.Background(), &FileInput{
		Path:     "report.sql",
		Content:  []byte(sb.String()),
		Language: "sql",
	})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch.Content), 512+64)
		assert.NotEmpty(t, ch.ID)
	}
	// Consecutive windows overlap.
	assert.Less(t, chunks[1].StartLine, chunks[0].EndLine+1)
}

func TestChunk_EmptyFileYieldsNothing(t *testing.T) {
	c := NewCodeChunker()
	chunks, err := c.Chunk(context.Background(), &FileInput{
		Path:     "empty.go",
		Content:  nil,
		Language: "go",
	})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunk_DeterministicIDs(t *testing.T) {
	c := NewCodeChunker()
	in := &FileInput{Path: "demo/greet.go", Content: []byte(goSource), Language: "go"}

	first, err := c.Chunk(context.Background(), in)
	require.NoError(t, err)
	second, err := c.Chunk(context.Background(), in)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestChunk_SamePathDifferentContentDifferentIDs(t *testing.T) {
	c := NewCodeChunker()
	a, err := c.Chunk(context.Background(), &FileInput{
		Path: "x.go", Content: []byte("package a\n\nfunc A() {}\n"), Language: "go",
	})
	require.NoError(t, err)
	b, err := c.Chunk(context.Background(), &FileInput{
		Path: "x.go", Content: []byte("package a\n\nfunc B() {}\n"), Language: "go",
	})
	require.NoError(t, err)

	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.NotEqual(t, a[0].ID, b[0].ID)
}
