package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pancholabs/pancho-engine/internal/domain"
)

type stubArchiveBrowser struct {
	infos     []domain.BlobInfo
	err       error
	gotPrefix string
}

func (s *stubArchiveBrowser) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	s.gotPrefix = prefix
	return s.infos, s.err
}

var _ ArchiveBrowser = (*stubArchiveBrowser)(nil)

func newArchiveMux(browser ArchiveBrowser) *http.ServeMux {
	h := NewArchiveHandler(browser, testLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/archives", h.ListArchives)
	return mux
}

func TestListArchives(t *testing.T) {
	browser := &stubArchiveBrowser{
		infos: []domain.BlobInfo{
			{
				Path:         "archive/rounds/2026-07.jsonl",
				Size:         4096,
				LastModified: time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC),
			},
			{
				Path:         "archive/rounds/2026-08.jsonl",
				Size:         1024,
				LastModified: time.Date(2026, 8, 28, 3, 0, 0, 0, time.UTC),
			},
		},
	}
	mux := newArchiveMux(browser)

	req := httptest.NewRequest(http.MethodGet, "/api/archives", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if browser.gotPrefix != "archive/rounds/" {
		t.Errorf("list prefix = %q, want %q", browser.gotPrefix, "archive/rounds/")
	}

	var body struct {
		Archives []struct {
			Path         string `json:"path"`
			Size         int64  `json:"size"`
			LastModified string `json:"last_modified"`
		} `json:"archives"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Archives) != 2 {
		t.Fatalf("archives = %d entries, want 2", len(body.Archives))
	}
	if body.Archives[0].Path != "archive/rounds/2026-07.jsonl" {
		t.Errorf("path = %q, want %q", body.Archives[0].Path, "archive/rounds/2026-07.jsonl")
	}
	if body.Archives[0].Size != 4096 {
		t.Errorf("size = %d, want 4096", body.Archives[0].Size)
	}
	if body.Archives[1].LastModified != "2026-08-28T03:00:00Z" {
		t.Errorf("last_modified = %q, want %q", body.Archives[1].LastModified, "2026-08-28T03:00:00Z")
	}
}

func TestListArchivesEmpty(t *testing.T) {
	mux := newArchiveMux(&stubArchiveBrowser{})

	req := httptest.NewRequest(http.MethodGet, "/api/archives", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body struct {
		Archives []json.RawMessage `json:"archives"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Archives == nil {
		t.Error("archives should be an empty array, not null")
	}
	if len(body.Archives) != 0 {
		t.Errorf("archives = %d entries, want 0", len(body.Archives))
	}
}

func TestListArchivesStorageError(t *testing.T) {
	mux := newArchiveMux(&stubArchiveBrowser{err: errors.New("dial tcp 10.0.0.7:9000: connection refused")})

	req := httptest.NewRequest(http.MethodGet, "/api/archives", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if got := rec.Body.String(); strings.Contains(got, "10.0.0.7") {
		t.Errorf("response leaks storage internals: %q", got)
	}
}
