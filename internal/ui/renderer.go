package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/quarry-search/quarry/internal/index"
	"github.com/quarry-search/quarry/internal/router"
	"github.com/quarry-search/quarry/internal/search"
)

// snippetLines caps how many lines of a chunk appear per result.
const snippetLines = 6

// Renderer writes human output to one stream.
type Renderer struct {
	w      io.Writer
	styles Styles
}

// NewRenderer creates a renderer. Colors are used only when the writer
// is a terminal.
func NewRenderer(w io.Writer) *Renderer {
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
	}
	if os.Getenv("NO_COLOR") != "" {
		noColor = true
	}
	return &Renderer{w: w, styles: GetStyles(noColor)}
}

// SearchResults prints ranked hits with file, lines, score, and snippet.
func (r *Renderer) SearchResults(query string, results []search.Result) {
	if len(results) == 0 {
		fmt.Fprintln(r.w, r.styles.Dim.Render("no results for "+fmt.Sprintf("%q", query)))
		return
	}

	fmt.Fprintln(r.w, r.styles.Header.Render(fmt.Sprintf("%d results for %q", len(results), query)))
	for i, res := range results {
		fmt.Fprintf(r.w, "\n%s %s %s %s\n",
			r.styles.Label.Render(fmt.Sprintf("%2d.", i+1)),
			r.styles.Path.Render(res.FilePath),
			r.styles.LineRange.Render(fmt.Sprintf("%d-%d", res.StartLine, res.EndLine)),
			r.styles.Score.Render(fmt.Sprintf("(%.2f)", res.Score)))

		lines := strings.Split(res.Content, "\n")
		truncated := false
		if len(lines) > snippetLines {
			lines = lines[:snippetLines]
			truncated = true
		}
		for _, line := range lines {
			fmt.Fprintf(r.w, "    %s\n", r.styles.Snippet.Render(line))
		}
		if truncated {
			fmt.Fprintf(r.w, "    %s\n", r.styles.Dim.Render("..."))
		}
	}
}

// JobStatus prints one indexing job snapshot.
func (r *Renderer) JobStatus(snap index.Snapshot) {
	state := r.styles.Label.Render(string(snap.Status))
	switch snap.Status {
	case index.StatusCompleted:
		state = r.styles.Success.Render(string(snap.Status))
	case index.StatusFailed:
		state = r.styles.Error.Render(string(snap.Status))
	case index.StatusPaused:
		state = r.styles.Warning.Render(string(snap.Status))
	}

	fmt.Fprintf(r.w, "%s  %s\n", r.styles.Path.Render(snap.Folder), state)
	fmt.Fprintf(r.w, "  %s %d/%d files",
		r.styles.Label.Render("indexed"), snap.IndexedFiles, snap.TotalFiles)
	if len(snap.Failures) > 0 {
		fmt.Fprintf(r.w, "  %s", r.styles.Warning.Render(fmt.Sprintf("%d failed", len(snap.Failures))))
	}
	fmt.Fprintln(r.w)

	if snap.PauseReason != "" && snap.Status == index.StatusPaused {
		fmt.Fprintf(r.w, "  %s %s\n", r.styles.Label.Render("reason"), snap.PauseReason)
	}
	if snap.Error != "" {
		fmt.Fprintf(r.w, "  %s %s\n", r.styles.Error.Render("error"), snap.Error)
	}
	for _, f := range snap.Failures {
		fmt.Fprintf(r.w, "  %s %s: %s\n",
			r.styles.Warning.Render("warn"), f.Path, r.styles.Dim.Render(f.Error))
	}
}

// Collections prints per-collection stats.
func (r *Renderer) Collections(stats []router.CollectionStats) {
	if len(stats) == 0 {
		fmt.Fprintln(r.w, r.styles.Dim.Render("no collections"))
		return
	}
	for _, s := range stats {
		fmt.Fprintf(r.w, "%s  %s\n", r.styles.Path.Render(s.Root), r.styles.Dim.Render(s.Handle))
		fmt.Fprintf(r.w, "  %s %d  %s %d\n",
			r.styles.Label.Render("files"), s.Files,
			r.styles.Label.Render("points"), s.Points)
	}
}

// Info prints a neutral informational line.
func (r *Renderer) Info(msg string) {
	fmt.Fprintln(r.w, msg)
}

// Success prints a positive status line.
func (r *Renderer) Success(msg string) {
	fmt.Fprintln(r.w, r.styles.Success.Render(msg))
}

// Error prints an error line.
func (r *Renderer) Error(msg string) {
	fmt.Fprintln(r.w, r.styles.Error.Render(msg))
}
