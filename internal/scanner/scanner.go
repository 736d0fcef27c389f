// Package scanner enumerates the indexable files of a workspace folder.
// It applies the configured exclude patterns and drops unsupported and
// binary files so the rest of the pipeline only sees eligible paths.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FileInfo describes one eligible file found during a scan.
type FileInfo struct {
	// Path is relative to the scan root, slash-separated.
	Path string
	// AbsPath is the absolute path on disk.
	AbsPath string
	Size    int64
	ModTime time.Time
	// Language is the detected language identifier.
	Language string
}

// Options configures a scan.
type Options struct {
	// ExcludePatterns use gitignore-style globs ("**" matches any depth).
	ExcludePatterns []string
	// MaxFileSize skips files larger than this many bytes (0 = no limit).
	MaxFileSize int64
}

// Scanner walks workspace folders.
type Scanner struct {
	opts Options
}

// New creates a scanner with the given options.
func New(opts Options) *Scanner {
	return &Scanner{opts: opts}
}

// Scan enumerates eligible files under root, sorted by relative path.
// The stable order is what makes the coordinator's pause/resume cursor
// well-defined. A root that cannot be read is an error; unreadable
// subdirectories are skipped.
func (s *Scanner) Scan(ctx context.Context, root string) ([]FileInfo, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("scan root: %w", err)
	}

	var files []FileInfo
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if path == root {
				return err
			}
			return nil // skip unreadable entries
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && Excluded(rel+"/", s.opts.ExcludePatterns) {
				return filepath.SkipDir
			}
			return nil
		}

		// Symlinks are never followed.
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if !IsSupported(rel) || Excluded(rel, s.opts.ExcludePatterns) {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		if s.opts.MaxFileSize > 0 && info.Size() > s.opts.MaxFileSize {
			return nil
		}

		files = append(files, FileInfo{
			Path:     rel,
			AbsPath:  path,
			Size:     info.Size(),
			ModTime:  info.ModTime(),
			Language: DetectLanguage(rel),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// Excluded reports whether a slash-separated relative path matches any of
// the gitignore-style patterns.
func Excluded(rel string, patterns []string) bool {
	for _, p := range patterns {
		if matchPattern(rel, p) {
			return true
		}
	}
	return false
}

// matchPattern matches gitignore-style globs where "**" crosses directory
// boundaries and "*" stays within one path segment.
func matchPattern(rel, pattern string) bool {
	pattern = strings.TrimSuffix(filepath.ToSlash(pattern), "/")
	rel = strings.TrimSuffix(rel, "/")

	return matchSegments(strings.Split(rel, "/"), strings.Split(pattern, "/"))
}

func matchSegments(path, pattern []string) bool {
	if len(pattern) == 0 {
		return len(path) == 0
	}

	if pattern[0] == "**" {
		// "**" matches zero or more leading segments.
		for skip := 0; skip <= len(path); skip++ {
			if matchSegments(path[skip:], pattern[1:]) {
				return true
			}
		}
		return false
	}

	if len(path) == 0 {
		return false
	}
	ok, err := filepath.Match(pattern[0], path[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(path[1:], pattern[1:])
}

// IsBinary reports whether content looks binary (NUL in the first 512 bytes).
func IsBinary(content []byte) bool {
	n := len(content)
	if n > 512 {
		n = 512
	}
	for i := 0; i < n; i++ {
		if content[i] == 0 {
			return true
		}
	}
	return false
}
