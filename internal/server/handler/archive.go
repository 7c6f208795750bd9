package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/pancholabs/pancho-engine/internal/domain"
)

// ArchiveBrowser is the read access the archive endpoint needs from cold
// storage. Satisfied by the S3 blob reader.
type ArchiveBrowser interface {
	List(ctx context.Context, prefix string) ([]domain.BlobInfo, error)
}

// ArchiveHandler serves the archived round snapshot listing.
type ArchiveHandler struct {
	blobs  ArchiveBrowser
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler with the given blob reader and
// logger.
func NewArchiveHandler(blobs ArchiveBrowser, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		blobs:  blobs,
		logger: logger,
	}
}

// archiveResponse is the JSON shape of one archived snapshot object.
type archiveResponse struct {
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	LastModified string `json:"last_modified"`
}

// ListArchives returns the archived round snapshots in cold storage, one
// JSONL object per archived month.
// GET /api/archives
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	infos, err := h.blobs.List(r.Context(), domain.ArchivePrefix+"rounds/")
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archives failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	out := make([]archiveResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, archiveResponse{
			Path:         info.Path,
			Size:         info.Size,
			LastModified: info.LastModified.UTC().Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"archives": out,
	})
}
