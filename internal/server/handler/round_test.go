package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pancholabs/pancho-engine/internal/domain"
	"github.com/pancholabs/pancho-engine/internal/service"
)

// stubRoundService records the last call and returns scripted results.
type stubRoundService struct {
	err    error
	round  domain.Round
	pos    domain.Position
	payout uint64

	joinCalls  int
	claimCalls int
	gotUser    common.Address
	gotSide    domain.Side
	gotStake   uint64
	gotMarket  uint8
	gotRoundID int64
}

func (s *stubRoundService) Create(_ context.Context, _ common.Address, _ service.CreateParams) (domain.Round, error) {
	return s.round, s.err
}

func (s *stubRoundService) Join(_ context.Context, user common.Address, market uint8, roundID int64, side domain.Side, lamports uint64) (domain.Position, error) {
	s.joinCalls++
	s.gotUser, s.gotSide, s.gotStake = user, side, lamports
	s.gotMarket, s.gotRoundID = market, roundID
	return s.pos, s.err
}

func (s *stubRoundService) Lock(_ context.Context, market uint8, roundID int64) (domain.Round, error) {
	s.gotMarket, s.gotRoundID = market, roundID
	return s.round, s.err
}

func (s *stubRoundService) Settle(_ context.Context, market uint8, roundID int64) (domain.Round, error) {
	s.gotMarket, s.gotRoundID = market, roundID
	return s.round, s.err
}

func (s *stubRoundService) Claim(_ context.Context, user common.Address, market uint8, roundID int64, side domain.Side) (uint64, error) {
	s.claimCalls++
	s.gotUser, s.gotSide = user, side
	s.gotMarket, s.gotRoundID = market, roundID
	return s.payout, s.err
}

func (s *stubRoundService) GetRound(_ context.Context, market uint8, roundID int64) (domain.Round, error) {
	s.gotMarket, s.gotRoundID = market, roundID
	return s.round, s.err
}

func (s *stubRoundService) ListRounds(_ context.Context, _ domain.ListOpts) ([]domain.Round, error) {
	return []domain.Round{s.round}, s.err
}

func (s *stubRoundService) RoundVaults(_ context.Context, market uint8, roundID int64) (domain.Vault, domain.Vault, error) {
	s.gotMarket, s.gotRoundID = market, roundID
	return domain.Vault{Side: domain.SideUp}, domain.Vault{Side: domain.SideDown}, s.err
}

var _ RoundService = (*stubRoundService)(nil)

// newRoundMux registers the round routes the way the server does, so the
// {market}/{round_id} path values resolve.
func newRoundMux(h *RoundHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/rounds", h.CreateRound)
	mux.HandleFunc("GET /api/rounds/{market}/{round_id}", h.GetRound)
	mux.HandleFunc("POST /api/rounds/{market}/{round_id}/join", h.JoinRound)
	mux.HandleFunc("POST /api/rounds/{market}/{round_id}/lock", h.LockRound)
	mux.HandleFunc("POST /api/rounds/{market}/{round_id}/settle", h.SettleRound)
	mux.HandleFunc("POST /api/rounds/{market}/{round_id}/claim", h.ClaimRound)
	return mux
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testUser = "0x00000000000000000000000000000000000000a1"

func TestJoinRound(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		svcErr     error
		wantStatus int
		wantCalls  int
	}{
		{
			name:       "valid join",
			body:       `{"user":"` + testUser + `","side":"up","lamports":500000}`,
			wantStatus: http.StatusOK,
			wantCalls:  1,
		},
		{
			name:       "invalid side never reaches the service",
			body:       `{"user":"` + testUser + `","side":"sideways","lamports":500000}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "empty side",
			body:       `{"user":"` + testUser + `","lamports":500000}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid user address",
			body:       `{"user":"not-an-address","side":"up","lamports":500000}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body",
			body:       `{"user":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "join window closed maps to conflict",
			body:       `{"user":"` + testUser + `","side":"down","lamports":100}`,
			svcErr:     domain.ErrJoinWindowClosed,
			wantStatus: http.StatusConflict,
			wantCalls:  1,
		},
		{
			name:       "paused maps to unavailable",
			body:       `{"user":"` + testUser + `","side":"up","lamports":100}`,
			svcErr:     domain.ErrProtocolPaused,
			wantStatus: http.StatusServiceUnavailable,
			wantCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubRoundService{err: tt.svcErr}
			mux := newRoundMux(NewRoundHandler(svc, testLogger()))

			req := httptest.NewRequest(http.MethodPost, "/api/rounds/1/7/join", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if svc.joinCalls != tt.wantCalls {
				t.Errorf("service calls = %d, want %d", svc.joinCalls, tt.wantCalls)
			}
			if tt.wantStatus == http.StatusOK {
				if svc.gotMarket != 1 || svc.gotRoundID != 7 {
					t.Errorf("path routing = (%d,%d), want (1,7)", svc.gotMarket, svc.gotRoundID)
				}
				if svc.gotSide != domain.SideUp || svc.gotStake != 500_000 {
					t.Errorf("parsed side/stake = (%s,%d), want (up,500000)", svc.gotSide, svc.gotStake)
				}
				if svc.gotUser != common.HexToAddress(testUser) {
					t.Errorf("parsed user = %s", svc.gotUser.Hex())
				}
			}
		})
	}
}

func TestClaimRound(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		svcErr     error
		payout     uint64
		wantStatus int
		wantCalls  int
	}{
		{
			name:       "winning claim returns the payout",
			body:       `{"user":"` + testUser + `","side":"up"}`,
			payout:     975_000,
			wantStatus: http.StatusOK,
			wantCalls:  1,
		},
		{
			name:       "invalid side never reaches the service",
			body:       `{"user":"` + testUser + `","side":"none"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "double claim maps to conflict",
			body:       `{"user":"` + testUser + `","side":"up"}`,
			svcErr:     domain.ErrAlreadyClaimed,
			wantStatus: http.StatusConflict,
			wantCalls:  1,
		},
		{
			name:       "unsettled round maps to conflict",
			body:       `{"user":"` + testUser + `","side":"down"}`,
			svcErr:     domain.ErrRoundNotSettled,
			wantStatus: http.StatusConflict,
			wantCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubRoundService{err: tt.svcErr, payout: tt.payout}
			mux := newRoundMux(NewRoundHandler(svc, testLogger()))

			req := httptest.NewRequest(http.MethodPost, "/api/rounds/1/7/claim", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if svc.claimCalls != tt.wantCalls {
				t.Errorf("service calls = %d, want %d", svc.claimCalls, tt.wantCalls)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var resp claimResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Payout != tt.payout {
				t.Errorf("payout = %d, want %d", resp.Payout, tt.payout)
			}
		})
	}
}

func TestGetRound(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		svcErr     error
		wantStatus int
	}{
		{name: "found", path: "/api/rounds/1/7", wantStatus: http.StatusOK},
		{name: "unknown round maps to 404", path: "/api/rounds/1/99", svcErr: domain.ErrNotFound, wantStatus: http.StatusNotFound},
		{name: "market out of uint8 range", path: "/api/rounds/999/7", wantStatus: http.StatusBadRequest},
		{name: "non-numeric round id", path: "/api/rounds/1/seven", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubRoundService{err: tt.svcErr, round: domain.Round{
				Key:     domain.RoundKey(1, 7),
				Market:  1,
				RoundID: 7,
				Status:  domain.RoundOpen,
				Winner:  domain.SideNone,
			}}
			mux := newRoundMux(NewRoundHandler(svc, testLogger()))

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var resp roundResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Status != "open" || resp.Winner != "none" || resp.RoundID != 7 {
				t.Errorf("response = %+v", resp)
			}
		})
	}
}

func TestCreateRoundRequestParsing(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		svcErr     error
		wantStatus int
	}{
		{
			name:       "valid create",
			body:       `{"caller":"` + testUser + `","market":1,"round_id":7,"lock_ts":2000,"end_ts":3000,"oracle_account":"Feed111"}`,
			wantStatus: http.StatusCreated,
		},
		{
			name:       "missing oracle account",
			body:       `{"caller":"` + testUser + `","market":1,"round_id":7,"lock_ts":2000,"end_ts":3000}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "non-admin maps to forbidden",
			body:       `{"caller":"` + testUser + `","market":1,"round_id":7,"lock_ts":2000,"end_ts":3000,"oracle_account":"Feed111"}`,
			svcErr:     domain.ErrUnauthorized,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "bad schedule maps to bad request",
			body:       `{"caller":"` + testUser + `","market":1,"round_id":7,"lock_ts":3000,"end_ts":2000,"oracle_account":"Feed111"}`,
			svcErr:     domain.ErrInvalidSchedule,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubRoundService{err: tt.svcErr}
			mux := newRoundMux(NewRoundHandler(svc, testLogger()))

			req := httptest.NewRequest(http.MethodPost, "/api/rounds", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
		})
	}
}
