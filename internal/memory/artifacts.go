package memory

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// ErrNotFound is returned when an artifact row or blob is missing.
var ErrNotFound = errors.New("not found")

// timeLayout is a fixed-width RFC3339 variant (nanoseconds, UTC) so that
// stored timestamps compare correctly as strings in SQL.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ArtifactRecord is one metadata row. Content is addressed by hash; several
// rows may reference the same blob with different titles or tags.
type ArtifactRecord struct {
	ID          int64     `json:"id"`
	ContentHash string    `json:"content_hash"`
	GroupID     string    `json:"group_id"`
	Title       string    `json:"title"`
	Tags        []string  `json:"tags"`
	Author      string    `json:"author"`
	CreatedAt   time.Time `json:"created_at"`
	Path        string    `json:"path"` // relative to the artifacts dir
	Size        int64     `json:"size"`
	Mime        string    `json:"mime"`
}

// Artifact bundles a record with its blob content.
type Artifact struct {
	ArtifactRecord
	Content []byte `json:"content"`
}

// ArtifactStore is content-addressed blob storage with an indexed metadata
// table. Blobs live under <dir>/blobs/YYYY/MM/DD/aa/bb/<hash>; metadata in
// SQLite next to them.
type ArtifactStore struct {
	db  *sql.DB
	dir string // artifacts dir holding blobs/
}

const artifactSchema = `
CREATE TABLE IF NOT EXISTS artifacts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	content_hash TEXT NOT NULL,
	group_id TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	tags TEXT NOT NULL DEFAULT '[]',
	author TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	path TEXT NOT NULL,
	size INTEGER NOT NULL,
	mime TEXT NOT NULL DEFAULT 'text/plain'
);
CREATE INDEX IF NOT EXISTS idx_artifacts_hash ON artifacts(content_hash);
CREATE INDEX IF NOT EXISTS idx_artifacts_tags ON artifacts(tags);
CREATE INDEX IF NOT EXISTS idx_artifacts_created ON artifacts(created_at);
`

// NewArtifactStore opens (or creates) the store. dbPath is the SQLite file;
// dir is the directory that holds the blobs/ tree.
func NewArtifactStore(dbPath, dir string) (*ArtifactStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts dir: %w", err)
	}
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(artifactSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create artifacts schema: %w", err)
	}
	return &ArtifactStore{db: db, dir: dir}, nil
}

func (s *ArtifactStore) Close() error { return s.db.Close() }

// Dir returns the directory holding the blobs/ tree.
func (s *ArtifactStore) Dir() string { return s.dir }

// blobRelPath builds the date-sharded relative path for a content hash.
func blobRelPath(hash string, t time.Time) string {
	return filepath.Join("blobs",
		t.Format("2006"), t.Format("01"), t.Format("02"),
		hash[:2], hash[2:4], hash)
}

// Save writes content under its hash and inserts one metadata row. The blob
// is written only when absent; the row is inserted unconditionally, so the
// same content can be saved under several titles or tag sets. Returns the
// new row id.
func (s *ArtifactStore) Save(ctx context.Context, content []byte, title, author, group string, tags []string, mime string) (int64, error) {
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])
	now := time.Now().UTC()

	rel := s.findExistingBlob(hash)
	if rel == "" {
		rel = blobRelPath(hash, now)
		abs := filepath.Join(s.dir, rel)
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return 0, fmt.Errorf("create blob dir: %w", err)
		}
		// Blob before row: a crash in between leaves an orphan blob
		// that the GC orphan scan reclaims.
		if err := os.WriteFile(abs, content, 0o644); err != nil {
			return 0, fmt.Errorf("write blob: %w", err)
		}
	}

	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return 0, fmt.Errorf("serialize tags: %w", err)
	}
	if mime == "" {
		mime = "text/plain"
	}

	var id int64
	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO artifacts (content_hash, group_id, title, tags, author, created_at, path, size, mime)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			hash, group, title, string(tagsJSON), author,
			now.Format(timeLayout), rel, int64(len(content)), mime)
		if err != nil {
			return fmt.Errorf("insert artifact: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}

	slog.Debug("artifact saved", "id", id, "hash", hash[:8], "size", len(content), "group", group)
	return id, nil
}

// findExistingBlob returns the stored relative path for a hash, or "" when
// no row references it yet (the blob may still exist from an earlier day at
// a different date shard, so the row path is authoritative).
func (s *ArtifactStore) findExistingBlob(hash string) string {
	var rel string
	err := s.db.QueryRow(`SELECT path FROM artifacts WHERE content_hash = ? LIMIT 1`, hash).Scan(&rel)
	if err != nil {
		return ""
	}
	if filepath.IsAbs(rel) {
		// Archived blobs live outside the blobs/ tree; do not reuse them.
		return ""
	}
	if _, statErr := os.Stat(filepath.Join(s.dir, rel)); statErr != nil {
		return ""
	}
	return rel
}

// blobAbs resolves a stored blob path. Rows normally hold paths relative to
// the artifacts dir; archived rows hold absolute paths.
func (s *ArtifactStore) blobAbs(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.dir, p)
}

// Get returns the record plus blob content, or ErrNotFound when either the
// row or the blob file is missing.
func (s *ArtifactStore) Get(ctx context.Context, id int64) (*Artifact, error) {
	rec, err := s.getRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(s.blobAbs(rec.Path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("artifact %d blob missing: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return &Artifact{ArtifactRecord: *rec, Content: content}, nil
}

func (s *ArtifactStore) getRecord(ctx context.Context, id int64) (*ArtifactRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content_hash, group_id, title, tags, author, created_at, path, size, mime
		 FROM artifacts WHERE id = ?`, id)
	rec, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("artifact %d: %w", id, ErrNotFound)
	}
	return rec, err
}

type rowScanner interface{ Scan(dest ...any) error }

func scanArtifact(row rowScanner) (*ArtifactRecord, error) {
	var rec ArtifactRecord
	var tagsJSON, createdAt string
	if err := row.Scan(&rec.ID, &rec.ContentHash, &rec.GroupID, &rec.Title,
		&tagsJSON, &rec.Author, &createdAt, &rec.Path, &rec.Size, &rec.Mime); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &rec.Tags); err != nil {
		rec.Tags = nil
	}
	if t, err := time.Parse(timeLayout, createdAt); err == nil {
		rec.CreatedAt = t
	}
	return &rec, nil
}

// List returns metadata rows, newest first, optionally filtered by group
// and/or a single tag. Tag matching is a substring match against the
// serialized JSON array.
func (s *ArtifactStore) List(ctx context.Context, group, tag string) ([]ArtifactRecord, error) {
	query := `SELECT id, content_hash, group_id, title, tags, author, created_at, path, size, mime
	          FROM artifacts WHERE 1=1`
	var args []any
	if group != "" {
		query += ` AND group_id = ?`
		args = append(args, group)
	}
	if tag != "" {
		query += ` AND tags LIKE ?`
		args = append(args, `%"`+tag+`"%`)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []ArtifactRecord
	for rows.Next() {
		rec, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Delete removes the metadata row only. The blob, if no longer referenced,
// is reclaimed by the GC orphan scan.
func (s *ArtifactStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("artifact %d: %w", id, ErrNotFound)
	}
	return nil
}

// referencedHashes returns the set of content hashes still referenced by rows.
func (s *ArtifactStore) referencedHashes(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT content_hash FROM artifacts`)
	if err != nil {
		return nil, fmt.Errorf("query hashes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out[h] = true
	}
	return out, rows.Err()
}
