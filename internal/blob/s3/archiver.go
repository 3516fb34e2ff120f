package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/volkv/snipebot/internal/domain"
)

// BlobWriter uploads a single object to the blob store.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// TradeArchiveStore is the slice of the trade store the archiver needs:
// time-ranged reads plus deletion of rows already shipped to cold storage.
type TradeArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ExecutionArchiveStore is the equivalent slice of the execution store.
type ExecutionArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archiver ships closed trades and execution history older than the
// retention window to S3 as JSONL, then prunes the archived rows from the
// primary store. Rows are deleted only after the upload succeeded.
type Archiver struct {
	writer     BlobWriter
	trades     TradeArchiveStore
	executions ExecutionArchiveStore
	retention  time.Duration
	interval   time.Duration
	logger     *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(
	writer BlobWriter,
	trades TradeArchiveStore,
	executions ExecutionArchiveStore,
	retentionDays int,
	interval time.Duration,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer:     writer,
		trades:     trades,
		executions: executions,
		retention:  time.Duration(retentionDays) * 24 * time.Hour,
		interval:   interval,
		logger:     logger.With(slog.String("component", "archiver")),
	}
}

// Run archives on the configured interval until ctx is cancelled. A failed
// sweep is logged and retried on the next tick.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().Add(-a.retention)
			if _, err := a.ArchiveTrades(ctx, cutoff); err != nil {
				a.logger.Error("archive trades failed", slog.String("error", err.Error()))
			}
			if _, err := a.ArchiveExecutions(ctx, cutoff); err != nil {
				a.logger.Error("archive executions failed", slog.String("error", err.Error()))
			}
		}
	}
}

// ArchiveTrades ships all trades closed before the cutoff to a fresh object
// under archive/trades/ and deletes them from the store. Returns the number
// of archived rows.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	deleted, err := a.trades.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(trades)), fmt.Errorf("s3blob: prune archived trades: %w", err)
	}

	a.logger.Info("trades archived",
		slog.String("path", path),
		slog.Int("uploaded", len(trades)),
		slog.Int64("pruned", deleted),
	)
	return int64(len(trades)), nil
}

// ArchiveExecutions ships execution history before the cutoff to a fresh
// object under archive/executions/ and deletes the archived rows.
func (a *Archiver) ArchiveExecutions(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.executions.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions query: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(recs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions marshal: %w", err)
	}

	path := archivePath("executions", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive executions upload: %w", err)
	}

	deleted, err := a.executions.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(recs)), fmt.Errorf("s3blob: prune archived executions: %w", err)
	}

	a.logger.Info("executions archived",
		slog.String("path", path),
		slog.Int("uploaded", len(recs)),
		slog.Int64("pruned", deleted),
	)
	return int64(len(recs)), nil
}

// archivePath builds the S3 key for an archive file: a year-month partition
// with the full cutoff timestamp as the object name. Rows are pruned after
// upload, so every sweep must land on its own key; reusing one would
// overwrite rows that no longer exist anywhere else.
//
//	archive/trades/2026-08/20260810T000000Z.jsonl
//	archive/executions/2026-08/20260810T000000Z.jsonl
func archivePath(kind string, before time.Time) string {
	u := before.UTC()
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", kind, u.Format("2006-01"), u.Format("20060102T150405Z"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
