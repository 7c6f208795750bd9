package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pancholabs/pancho-engine/internal/domain"
)

// multipartThreshold is the payload size above which uploads switch to the
// multipart path.
const multipartThreshold = 8 * 1024 * 1024

// RoundArchiveStore provides the read access the archiver needs. It is
// narrower than domain.RoundStore: only the query methods the archiver
// actually calls, satisfied implicitly by the Postgres store.
type RoundArchiveStore interface {
	// ListSettledBefore returns settled rounds whose settlement landed
	// strictly before the cutoff time.
	ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Round, error)
}

// PositionArchiveStore reads the positions belonging to an archived round.
type PositionArchiveStore interface {
	ListByRound(ctx context.Context, round common.Hash, opts domain.ListOpts) ([]domain.Position, error)
}

// ArchiveImpl implements domain.Archiver by querying settled rounds past the
// retention window, serializing them with their positions to JSONL, and
// uploading the result to S3.
//
// Deletion of the archived rows from the primary store is intentionally NOT
// performed here. That is a separate, explicit step to be executed after the
// archive has been verified.
type ArchiveImpl struct {
	writer    *Writer
	reader    *Reader
	rounds    RoundArchiveStore
	positions PositionArchiveStore
	audit     domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl. reader may be nil, in which case the
// post-upload existence check is skipped.
func NewArchiver(
	writer *Writer,
	reader *Reader,
	rounds RoundArchiveStore,
	positions PositionArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		reader:    reader,
		rounds:    rounds,
		positions: positions,
		audit:     audit,
	}
}

// archivedRound is one JSONL record: the settled round with its positions
// inlined so the archive is self-contained.
type archivedRound struct {
	Round     domain.Round      `json:"round"`
	Positions []domain.Position `json:"positions"`
}

// ArchiveSettled uploads every settled round older than the retention window
// to S3 at archive/rounds/YYYY-MM.jsonl, records the archival in the audit
// log, and returns the number of rounds archived.
func (a *ArchiveImpl) ArchiveSettled(ctx context.Context, olderThanDays int) (int, error) {
	before := time.Now().UTC().AddDate(0, 0, -olderThanDays)

	rounds, err := a.rounds.ListSettledBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settled query: %w", err)
	}
	if len(rounds) == 0 {
		return 0, nil
	}

	records := make([]archivedRound, 0, len(rounds))
	for _, r := range rounds {
		positions, err := a.positions.ListByRound(ctx, r.Key, domain.ListOpts{Limit: 10000})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive positions %s: %w", r.Key.Hex(), err)
		}
		records = append(records, archivedRound{Round: r, Positions: positions})
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settled marshal: %w", err)
	}

	path := archivePath("rounds", before)
	if int64(len(buf)) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartThreshold)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settled upload: %w", err)
	}

	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive settled verify: %w", err)
		}
		if !exists {
			return 0, fmt.Errorf("s3blob: archive settled verify: object %s missing after upload", path)
		}
	}

	count := len(rounds)

	if err := a.audit.Log(ctx, "archive.rounds", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive settled audit log: %w", err)
	}

	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/rounds/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("%s%s/%s.jsonl", domain.ArchivePrefix, kind, before.Format("2006-01"))
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

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
