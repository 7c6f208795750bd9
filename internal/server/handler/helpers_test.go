package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pancholabs/pancho-engine/internal/domain"
)

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: domain.ErrNotFound, want: http.StatusNotFound},
		{err: domain.ErrUnauthorized, want: http.StatusForbidden},
		{err: domain.ErrProtocolPaused, want: http.StatusServiceUnavailable},
		{err: domain.ErrInvalidSide, want: http.StatusBadRequest},
		{err: domain.ErrInvalidStake, want: http.StatusBadRequest},
		{err: domain.ErrInvalidSchedule, want: http.StatusBadRequest},
		{err: domain.ErrJoinWindowClosed, want: http.StatusConflict},
		{err: domain.ErrTooEarlyToLock, want: http.StatusConflict},
		{err: domain.ErrLockWindowExpired, want: http.StatusConflict},
		{err: domain.ErrTooEarlyToSettle, want: http.StatusConflict},
		{err: domain.ErrRoundAlreadySettled, want: http.StatusConflict},
		{err: domain.ErrAlreadyClaimed, want: http.StatusConflict},
		{err: domain.ErrLockHeld, want: http.StatusConflict},
		{err: domain.ErrStaleOraclePrice, want: http.StatusBadGateway},
		{err: domain.ErrInvalidOracleOwner, want: http.StatusBadGateway},
		{err: errors.New("pg connection refused"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeDomainError(rec, tt.err)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestWriteDomainErrorWrapped(t *testing.T) {
	// Service errors arrive wrapped; the mapping must unwrap.
	err := fmt.Errorf("round_service: apply claim 0xabc: %w", domain.ErrAlreadyClaimed)
	rec := httptest.NewRecorder()
	writeDomainError(rec, err)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestWriteDomainErrorOpaqueDefault(t *testing.T) {
	rec := httptest.NewRecorder()
	writeDomainError(rec, errors.New("dial tcp 10.0.0.5:5432: i/o timeout"))
	if strings.Contains(rec.Body.String(), "10.0.0.5") {
		t.Errorf("internal error leaked into the response: %s", rec.Body)
	}
}

func TestParseListOpts(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
	}{
		{name: "defaults", query: "", wantLimit: 50, wantOffset: 0},
		{name: "explicit", query: "limit=10&offset=20", wantLimit: 10, wantOffset: 20},
		{name: "limit clamped", query: "limit=9999", wantLimit: 500},
		{name: "garbage ignored", query: "limit=abc&offset=-5", wantLimit: 50, wantOffset: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/rounds?"+tt.query, nil)
			opts := parseListOpts(req)
			if opts.Limit != tt.wantLimit || opts.Offset != tt.wantOffset {
				t.Errorf("opts = %+v, want limit %d offset %d", opts, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}

func TestParseAddress(t *testing.T) {
	if _, ok := parseAddress("0x00000000000000000000000000000000000000a1"); !ok {
		t.Error("valid address rejected")
	}
	for _, bad := range []string{"", "0x123", "not-an-address"} {
		if _, ok := parseAddress(bad); ok {
			t.Errorf("parseAddress(%q) accepted", bad)
		}
	}
}
