package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// GCStats reports what a collection pass did.
type GCStats struct {
	Phase1Deleted int  `json:"phase1_deleted"` // expired ephemeral rows
	Phase2Deleted int  `json:"phase2_deleted"` // orphan blob files
	Skipped       bool `json:"skipped"`        // another process held the lock
}

// GarbageCollector prunes expired ephemeral artifact rows and orphan blobs.
// All work happens under a non-blocking exclusive file lock so concurrent
// invocations degrade to no-ops.
type GarbageCollector struct {
	store         *ArtifactStore
	stateDir      string // holds the lock and cooldown files
	RetentionDays int
}

func NewGarbageCollector(store *ArtifactStore, stateDir string, retentionDays int) *GarbageCollector {
	return &GarbageCollector{store: store, stateDir: stateDir, RetentionDays: retentionDays}
}

// RunOnce performs both phases under the lock. When the lock is held
// elsewhere, returns Skipped=true without error.
func (g *GarbageCollector) RunOnce(ctx context.Context, skipPhase2 bool) (*GCStats, error) {
	unlock, ok, err := g.tryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		slog.Info("gc: lock held by another process, skipping")
		return &GCStats{Skipped: true}, nil
	}
	defer unlock()

	stats := &GCStats{}

	n, err := g.pruneExpired(ctx)
	if err != nil {
		return nil, err
	}
	stats.Phase1Deleted = n

	if !skipPhase2 {
		n, err := g.removeOrphanBlobs(ctx)
		if err != nil {
			return nil, err
		}
		stats.Phase2Deleted = n
	}

	if err := g.recordRun(); err != nil {
		slog.Warn("gc: failed to record run time", "error", err)
	}
	slog.Info("gc: done", "expired_rows", stats.Phase1Deleted, "orphan_blobs", stats.Phase2Deleted)
	return stats, nil
}

// pruneExpired deletes rows tagged sys:ephemeral whose created_at is older
// than the retention window.
func (g *GarbageCollector) pruneExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -g.RetentionDays).Format(timeLayout)
	res, err := g.store.db.ExecContext(ctx,
		`DELETE FROM artifacts WHERE tags LIKE '%sys:ephemeral%' AND created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune expired artifacts: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// removeOrphanBlobs unlinks every file under blobs/ whose name is not a
// referenced content hash.
func (g *GarbageCollector) removeOrphanBlobs(ctx context.Context) (int, error) {
	referenced, err := g.store.referencedHashes(ctx)
	if err != nil {
		return 0, err
	}

	blobsRoot := filepath.Join(g.store.dir, "blobs")
	deleted := 0
	err = filepath.WalkDir(blobsRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !referenced[d.Name()] {
			if rmErr := os.Remove(path); rmErr != nil {
				slog.Warn("gc: failed to remove orphan blob", "path", path, "error", rmErr)
				return nil
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return deleted, fmt.Errorf("orphan scan: %w", err)
	}
	return deleted, nil
}

// tryLock acquires the exclusive GC lock without blocking. ok=false means
// another process holds it.
func (g *GarbageCollector) tryLock() (unlock func(), ok bool, err error) {
	if err := os.MkdirAll(g.stateDir, 0o755); err != nil {
		return nil, false, fmt.Errorf("create gc state dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(g.stateDir, ".gc.lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("open gc lock: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("acquire gc lock: %w", err)
	}
	return func() {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
	}, true, nil
}

// ShouldRun consults the cooldown file: true when the last run is older
// than the given number of hours (or there was no run yet).
func (g *GarbageCollector) ShouldRun(hours int) bool {
	data, err := os.ReadFile(filepath.Join(g.stateDir, ".gc_state"))
	if err != nil {
		return true
	}
	last, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
	if err != nil {
		return true
	}
	return time.Since(last) >= time.Duration(hours)*time.Hour
}

func (g *GarbageCollector) recordRun() error {
	path := filepath.Join(g.stateDir, ".gc_state")
	return os.WriteFile(path, []byte(time.Now().UTC().Format(time.RFC3339)), 0o644)
}

// ArchiveByDate moves non-ephemeral blobs older than the given number of
// days into archive/YYYY-MM-DD/ (keyed by the record's creation date) under
// a descriptive name, and tags the rows sys:archived. Returns the number of
// rows archived.
func (g *GarbageCollector) ArchiveByDate(ctx context.Context, archiveDir string, days int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(timeLayout)
	rows, err := g.store.db.QueryContext(ctx,
		`SELECT id, content_hash, group_id, title, tags, author, created_at, path, size, mime
		 FROM artifacts
		 WHERE created_at < ? AND tags NOT LIKE '%sys:ephemeral%' AND tags NOT LIKE '%sys:archived%'`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("query archivable artifacts: %w", err)
	}
	var records []ArtifactRecord
	for rows.Next() {
		rec, err := scanArtifact(rows)
		if err != nil {
			rows.Close()
			return 0, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	archived := 0
	for _, rec := range records {
		if err := g.archiveOne(ctx, archiveDir, rec); err != nil {
			slog.Warn("gc: archive failed", "id", rec.ID, "error", err)
			continue
		}
		archived++
	}
	return archived, nil
}

func (g *GarbageCollector) archiveOne(ctx context.Context, archiveDir string, rec ArtifactRecord) error {
	dateDir := filepath.Join(archiveDir, rec.CreatedAt.Format("2006-01-02"))
	if err := os.MkdirAll(dateDir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}

	name := fmt.Sprintf("%d_%s_%s.blob", rec.ID, safeTitle(rec.Title), rec.ContentHash[:8])
	dst := filepath.Join(dateDir, name)
	src := filepath.Join(g.store.dir, rec.Path)

	// Blobs are content-addressed and shared: moving one out from under a
	// sibling row would break it, so only sole referents get moved.
	var refs int
	if err := g.store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM artifacts WHERE content_hash = ?`, rec.ContentHash).Scan(&refs); err != nil {
		return fmt.Errorf("count blob referents: %w", err)
	}
	if refs > 1 {
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("copy blob: %w", err)
		}
	} else if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("move blob: %w", err)
	}

	tags := append(rec.Tags, "sys:archived")
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return err
	}
	return withTx(ctx, g.store.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE artifacts SET tags = ?, path = ? WHERE id = ?`,
			string(tagsJSON), dst, rec.ID)
		return err
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// safeTitle reduces a title to a filesystem-safe slug, capped at 50 chars.
func safeTitle(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() >= 50 {
			break
		}
	}
	if b.Len() == 0 {
		return "untitled"
	}
	return b.String()
}
