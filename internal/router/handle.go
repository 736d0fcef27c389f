// Package router maps workspace folders to vector collections and owns
// all writes to them. Collection handles are derived from the folder
// path, so the same folder always routes to the same collection.
package router

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"

	"github.com/google/uuid"
)

// HandlePrefix precedes the path hash in every collection handle.
const HandlePrefix = "ws-"

// pointNamespace scopes deterministic point UUIDs to this application.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("quarry://points"))

// HandleFor derives the collection handle for a workspace folder:
// the prefix plus the first 16 hex characters of the SHA-256 of the
// cleaned absolute path. Cleaning makes trailing-slash and dot-segment
// variants of the same folder hash identically.
func HandleFor(rootPath string) string {
	cleaned := filepath.Clean(rootPath)
	sum := sha256.Sum256([]byte(cleaned))
	return HandlePrefix + hex.EncodeToString(sum[:])[:16]
}

// PointID derives the stable UUID for a chunk within a collection.
// Re-indexing the same chunk content always yields the same ID, which
// makes upserts idempotent.
func PointID(handle, chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(handle+"/"+chunkID)).String()
}
