package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO
)

// Registry persists collection handles and per-file index records in
// SQLite. It is the source of truth for which root a handle belongs to
// and which point IDs each file contributed, so incremental updates can
// delete before inserting.
type Registry struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

const registrySchema = `
CREATE TABLE IF NOT EXISTS collections (
	handle     TEXT PRIMARY KEY,
	root_path  TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS files (
	collection_handle TEXT NOT NULL,
	path              TEXT NOT NULL,
	content_hash      TEXT NOT NULL,
	size              INTEGER NOT NULL,
	mod_time          INTEGER NOT NULL,
	point_ids         TEXT NOT NULL,
	indexed_at        INTEGER NOT NULL,
	PRIMARY KEY (collection_handle, path)
);
CREATE INDEX IF NOT EXISTS idx_files_collection ON files(collection_handle);
`

// NewRegistry opens (or creates) the registry database. An empty path
// opens an in-memory registry for tests.
func NewRegistry(path string) (*Registry, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create registry directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open registry database: %w", err)
	}
	// Single connection keeps SQLite writes serialized.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// DSN parameters are silently ignored by this driver; pragmas must
	// be executed explicitly. WAL lets a reader process query while a
	// writer indexes.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if _, err := db.Exec(registrySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply registry schema: %w", err)
	}
	return &Registry{db: db}, nil
}

// RegisterCollection records handle -> rootPath. If the handle already
// exists, the stored record is returned unchanged so the caller can
// detect a hash collision against a different root.
func (r *Registry) RegisterCollection(ctx context.Context, handle, rootPath string) (*CollectionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("registry is closed")
	}

	existing, err := r.lookupLocked(ctx, handle)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO collections (handle, root_path, created_at) VALUES (?, ?, ?)`,
		handle, rootPath, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("register collection %s: %w", handle, err)
	}
	return &CollectionRecord{Handle: handle, RootPath: rootPath, CreatedAt: now}, nil
}

// LookupCollection returns the record for a handle, or nil if unknown.
func (r *Registry) LookupCollection(ctx context.Context, handle string) (*CollectionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("registry is closed")
	}
	return r.lookupLocked(ctx, handle)
}

func (r *Registry) lookupLocked(ctx context.Context, handle string) (*CollectionRecord, error) {
	var rec CollectionRecord
	var created int64
	err := r.db.QueryRowContext(ctx,
		`SELECT handle, root_path, created_at FROM collections WHERE handle = ?`, handle).
		Scan(&rec.Handle, &rec.RootPath, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup collection %s: %w", handle, err)
	}
	rec.CreatedAt = time.Unix(created, 0)
	return &rec, nil
}

// ListCollections returns all registered collections.
func (r *Registry) ListCollections(ctx context.Context) ([]*CollectionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("registry is closed")
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT handle, root_path, created_at FROM collections ORDER BY handle`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var out []*CollectionRecord
	for rows.Next() {
		var rec CollectionRecord
		var created int64
		if err := rows.Scan(&rec.Handle, &rec.RootPath, &created); err != nil {
			return nil, fmt.Errorf("scan collection row: %w", err)
		}
		rec.CreatedAt = time.Unix(created, 0)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// DropCollection removes a collection and all its file records.
func (r *Registry) DropCollection(ctx context.Context, handle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("registry is closed")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin drop transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE collection_handle = ?`, handle); err != nil {
		return fmt.Errorf("drop file records for %s: %w", handle, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE handle = ?`, handle); err != nil {
		return fmt.Errorf("drop collection %s: %w", handle, err)
	}
	return tx.Commit()
}

// UpsertFile records (or replaces) one file's index record.
func (r *Registry) UpsertFile(ctx context.Context, rec *FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("registry is closed")
	}

	pointIDs, err := json.Marshal(rec.PointIDs)
	if err != nil {
		return fmt.Errorf("encode point ids: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO files (collection_handle, path, content_hash, size, mod_time, point_ids, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (collection_handle, path) DO UPDATE SET
			content_hash = excluded.content_hash,
			size = excluded.size,
			mod_time = excluded.mod_time,
			point_ids = excluded.point_ids,
			indexed_at = excluded.indexed_at`,
		rec.CollectionHandle, rec.Path, rec.ContentHash, rec.Size,
		rec.ModTime.UnixNano(), string(pointIDs), rec.IndexedAt.Unix())
	if err != nil {
		return fmt.Errorf("upsert file record %s: %w", rec.Path, err)
	}
	return nil
}

// GetFile returns a file's record, or nil if the file is not indexed.
func (r *Registry) GetFile(ctx context.Context, handle, path string) (*FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("registry is closed")
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT collection_handle, path, content_hash, size, mod_time, point_ids, indexed_at
		FROM files WHERE collection_handle = ? AND path = ?`, handle, path)
	rec, err := scanFileRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// DeleteFile removes a file's record and returns the point IDs it held.
// Deleting an unknown file returns nil, nil.
func (r *Registry) DeleteFile(ctx context.Context, handle, path string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("registry is closed")
	}

	var raw string
	err := r.db.QueryRowContext(ctx,
		`SELECT point_ids FROM files WHERE collection_handle = ? AND path = ?`, handle, path).
		Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read point ids for %s: %w", path, err)
	}

	var pointIDs []string
	if err := json.Unmarshal([]byte(raw), &pointIDs); err != nil {
		return nil, fmt.Errorf("decode point ids for %s: %w", path, err)
	}

	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM files WHERE collection_handle = ? AND path = ?`, handle, path); err != nil {
		return nil, fmt.Errorf("delete file record %s: %w", path, err)
	}
	return pointIDs, nil
}

// ListFiles returns all file records for a collection, ordered by path.
func (r *Registry) ListFiles(ctx context.Context, handle string) ([]*FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("registry is closed")
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT collection_handle, path, content_hash, size, mod_time, point_ids, indexed_at
		FROM files WHERE collection_handle = ? ORDER BY path`, handle)
	if err != nil {
		return nil, fmt.Errorf("list files for %s: %w", handle, err)
	}
	defer rows.Close()

	var out []*FileRecord
	for rows.Next() {
		rec, err := scanFileRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// FileCount returns the number of indexed files in a collection.
func (r *Registry) FileCount(ctx context.Context, handle string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, fmt.Errorf("registry is closed")
	}

	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM files WHERE collection_handle = ?`, handle).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count files for %s: %w", handle, err)
	}
	return count, nil
}

func scanFileRecord(scan func(dest ...any) error) (*FileRecord, error) {
	var rec FileRecord
	var modTime, indexedAt int64
	var raw string
	if err := scan(&rec.CollectionHandle, &rec.Path, &rec.ContentHash,
		&rec.Size, &modTime, &raw, &indexedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(raw), &rec.PointIDs); err != nil {
		return nil, fmt.Errorf("decode point ids for %s: %w", rec.Path, err)
	}
	rec.ModTime = time.Unix(0, modTime)
	rec.IndexedAt = time.Unix(indexedAt, 0)
	return &rec, nil
}

// Close closes the underlying database.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.db.Close()
}
