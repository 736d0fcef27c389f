package scanner

import (
	"path/filepath"
	"strings"
)

// languageByExtension maps file extensions to language identifiers.
// Files with extensions outside this map are not eligible for indexing;
// the watcher drops their events at the source.
var languageByExtension = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".rb":    "ruby",
	".rs":    "rust",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".php":   "php",
	".swift": "swift",
	".kt":    "kotlin",
	".scala": "scala",
	".sh":    "shell",
	".sql":   "sql",
	".md":    "markdown",
	".yaml":  "yaml",
	".yml":   "yaml",
	".json":  "json",
	".toml":  "toml",
}

// DetectLanguage returns the language for a path, or "" if unsupported.
func DetectLanguage(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	return languageByExtension[ext]
}

// IsSupported reports whether the path's extension is indexable.
func IsSupported(path string) bool {
	return DetectLanguage(path) != ""
}
