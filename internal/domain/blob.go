package domain

import (
	"context"
	"io"
	"time"
)

// ArchivePrefix roots every cold-storage object the engine writes. Round
// snapshots land under ArchivePrefix + "rounds/".
const ArchivePrefix = "archive/"

// BlobWriter writes objects to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobInfo describes one stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobReader reads objects back from cold storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver exports long-settled rounds and audit entries to cold storage.
type Archiver interface {
	ArchiveSettled(ctx context.Context, olderThanDays int) (int, error)
}
