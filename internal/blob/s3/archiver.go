package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/cyclebot/internal/domain"
)

// JournalPruner is the journal store capability the archiver needs beyond
// reading: removing rows that have been safely uploaded.
type JournalPruner interface {
	domain.JournalStore
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// multipartThreshold is the payload size above which uploads switch to the
// multipart path.
const multipartThreshold = 8 * 1024 * 1024

// Archiver moves aged journal rows into cold object storage as
// newline-delimited JSON, then prunes them from the primary store. Rows are
// only deleted after the upload succeeds.
type Archiver struct {
	writer    domain.BlobWriter
	journal   JournalPruner
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewArchiver builds an Archiver. retention is how much history stays in
// PostgreSQL; interval is how often the archive pass runs.
func NewArchiver(writer domain.BlobWriter, journal JournalPruner, retention, interval time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		journal:   journal,
		retention: retention,
		interval:  interval,
		logger:    logger.With(slog.String("component", "archiver")),
		now:       time.Now,
	}
}

// Run executes archive passes on the configured interval until the context
// ends. A failed pass logs and waits for the next tick.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if count, err := a.ArchiveOnce(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive pass failed", slog.String("error", err.Error()))
			} else if count > 0 {
				a.logger.InfoContext(ctx, "journal archived", slog.Int64("rows", count))
			}
		}
	}
}

// ArchiveOnce uploads all journal rows older than the retention window and
// prunes them. Returns the number of rows archived.
func (a *Archiver) ArchiveOnce(ctx context.Context) (int64, error) {
	cutoff := a.now().UTC().Add(-a.retention)

	entries, err := a.journal.ListBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	path := archivePath(cutoff)
	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), int64(len(buf))/4)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive upload: %w", err)
	}

	pruned, err := a.journal.DeleteBefore(ctx, cutoff)
	if err != nil {
		// The upload already succeeded; the rows will be re-archived next
		// pass under a fresh key, so a retry duplicates rows in cold storage
		// but never loses them.
		return int64(len(entries)), fmt.Errorf("s3blob: archive prune: %w", err)
	}
	if pruned != int64(len(entries)) {
		a.logger.WarnContext(ctx, "archive prune count mismatch",
			slog.Int("archived", len(entries)), slog.Int64("pruned", pruned))
	}
	return int64(len(entries)), nil
}

// archivePath builds the S3 key for one archive pass, month-partitioned with
// the cutoff timestamp in the name, e.g.
// archive/journal/2026-08/20260829T060000Z.jsonl. Every pass gets its own
// object; Put overwrites, and rows pruned by an earlier pass must never be
// clobbered by a later one.
func archivePath(cutoff time.Time) string {
	return fmt.Sprintf("archive/journal/%s/%s.jsonl",
		cutoff.Format("2006-01"), cutoff.Format("20060102T150405Z"))
}

// marshalJSONL serializes records as newline-delimited JSON.
func marshalJSONL(entries []domain.JournalEntry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, e := range entries {
		if err := enc.Encode(e); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
