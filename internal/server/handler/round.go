package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pancholabs/pancho-engine/internal/domain"
	"github.com/pancholabs/pancho-engine/internal/service"
)

// RoundService defines the methods the round handler requires from the
// service layer.
type RoundService interface {
	Create(ctx context.Context, caller common.Address, p service.CreateParams) (domain.Round, error)
	Join(ctx context.Context, user common.Address, market uint8, roundID int64, side domain.Side, lamports uint64) (domain.Position, error)
	Lock(ctx context.Context, market uint8, roundID int64) (domain.Round, error)
	Settle(ctx context.Context, market uint8, roundID int64) (domain.Round, error)
	Claim(ctx context.Context, user common.Address, market uint8, roundID int64, side domain.Side) (uint64, error)
	GetRound(ctx context.Context, market uint8, roundID int64) (domain.Round, error)
	ListRounds(ctx context.Context, opts domain.ListOpts) ([]domain.Round, error)
	RoundVaults(ctx context.Context, market uint8, roundID int64) (domain.Vault, domain.Vault, error)
}

// RoundHandler serves round lifecycle HTTP endpoints.
type RoundHandler struct {
	rounds RoundService
	logger *slog.Logger
}

// NewRoundHandler creates a RoundHandler with the given service and logger.
func NewRoundHandler(rounds RoundService, logger *slog.Logger) *RoundHandler {
	return &RoundHandler{
		rounds: rounds,
		logger: logger,
	}
}

// roundResponse is the JSON shape of a round.
type roundResponse struct {
	Key           string `json:"key"`
	Market        uint8  `json:"market"`
	RoundID       int64  `json:"round_id"`
	FeedID        string `json:"feed_id"`
	OracleAccount string `json:"oracle_account"`
	LockTS        int64  `json:"lock_ts"`
	EndTS         int64  `json:"end_ts"`
	StartPrice    int64  `json:"start_price"`
	EndPrice      int64  `json:"end_price"`
	Expo          int32  `json:"expo"`
	Status        string `json:"status"`
	Winner        string `json:"winner"`
	UpTotal       uint64 `json:"up_total"`
	DownTotal     uint64 `json:"down_total"`
	FeeLamports   uint64 `json:"fee_lamports"`
	Distributable uint64 `json:"distributable_lamports"`
}

func toRoundResponse(r domain.Round) roundResponse {
	return roundResponse{
		Key:           r.Key.Hex(),
		Market:        r.Market,
		RoundID:       r.RoundID,
		FeedID:        r.FeedID.Hex(),
		OracleAccount: r.OracleAccount,
		LockTS:        r.LockTS,
		EndTS:         r.EndTS,
		StartPrice:    r.StartPrice,
		EndPrice:      r.EndPrice,
		Expo:          r.Expo,
		Status:        string(r.Status),
		Winner:        r.Winner.String(),
		UpTotal:       r.UpTotal,
		DownTotal:     r.DownTotal,
		FeeLamports:   r.FeeLamports,
		Distributable: r.Distributable,
	}
}

type createRoundRequest struct {
	Caller        string `json:"caller"`
	Market        uint8  `json:"market"`
	RoundID       int64  `json:"round_id"`
	LockTS        int64  `json:"lock_ts"`
	EndTS         int64  `json:"end_ts"`
	FeedID        string `json:"feed_id"`
	OracleAccount string `json:"oracle_account"`
}

// CreateRound opens a new round with two empty vaults. Admin only.
// POST /api/rounds
func (h *RoundHandler) CreateRound(w http.ResponseWriter, r *http.Request) {
	var req createRoundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	if req.OracleAccount == "" {
		writeError(w, http.StatusBadRequest, "missing oracle_account")
		return
	}

	round, err := h.rounds.Create(r.Context(), caller, service.CreateParams{
		Market:        req.Market,
		RoundID:       req.RoundID,
		LockTS:        req.LockTS,
		EndTS:         req.EndTS,
		FeedID:        common.HexToHash(req.FeedID),
		OracleAccount: req.OracleAccount,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create round failed",
			slog.Int64("round_id", req.RoundID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toRoundResponse(round))
}

// listRoundsResponse wraps the list endpoint output with pagination metadata.
type listRoundsResponse struct {
	Rounds []roundResponse `json:"rounds"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// ListRounds returns rounds with pagination, newest first.
// GET /api/rounds?limit=50&offset=0
func (h *RoundHandler) ListRounds(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	rounds, err := h.rounds.ListRounds(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list rounds failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	out := make([]roundResponse, 0, len(rounds))
	for _, round := range rounds {
		out = append(out, toRoundResponse(round))
	}

	writeJSON(w, http.StatusOK, listRoundsResponse{
		Rounds: out,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

// GetRound returns a single round by its public identifiers.
// GET /api/rounds/{market}/{round_id}
func (h *RoundHandler) GetRound(w http.ResponseWriter, r *http.Request) {
	market, roundID, ok := parseRoundPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market or round id")
		return
	}

	round, err := h.rounds.GetRound(r.Context(), market, roundID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toRoundResponse(round))
}

type joinRoundRequest struct {
	User     string `json:"user"`
	Side     string `json:"side"`
	Lamports uint64 `json:"lamports"`
}

// JoinRound stakes lamports on one side of an open round.
// POST /api/rounds/{market}/{round_id}/join
func (h *RoundHandler) JoinRound(w http.ResponseWriter, r *http.Request) {
	market, roundID, ok := parseRoundPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market or round id")
		return
	}

	var req joinRoundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, ok := parseAddress(req.User)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user address")
		return
	}
	side, err := domain.ParseSide(req.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid side")
		return
	}

	pos, err := h.rounds.Join(r.Context(), user, market, roundID, side, req.Lamports)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toPositionResponse(pos))
}

// LockRound captures the start price of an open round. Any caller.
// POST /api/rounds/{market}/{round_id}/lock
func (h *RoundHandler) LockRound(w http.ResponseWriter, r *http.Request) {
	market, roundID, ok := parseRoundPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market or round id")
		return
	}

	round, err := h.rounds.Lock(r.Context(), market, roundID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toRoundResponse(round))
}

// SettleRound finalizes a round after its end time. Any caller.
// POST /api/rounds/{market}/{round_id}/settle
func (h *RoundHandler) SettleRound(w http.ResponseWriter, r *http.Request) {
	market, roundID, ok := parseRoundPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market or round id")
		return
	}

	round, err := h.rounds.Settle(r.Context(), market, roundID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toRoundResponse(round))
}

type claimRequest struct {
	User string `json:"user"`
	Side string `json:"side"`
}

// claimResponse reports the payout of a successful claim.
type claimResponse struct {
	Payout uint64 `json:"payout_lamports"`
}

// ClaimRound pays out a position of a settled round.
// POST /api/rounds/{market}/{round_id}/claim
func (h *RoundHandler) ClaimRound(w http.ResponseWriter, r *http.Request) {
	market, roundID, ok := parseRoundPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market or round id")
		return
	}

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, ok := parseAddress(req.User)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user address")
		return
	}
	side, err := domain.ParseSide(req.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid side")
		return
	}

	payout, err := h.rounds.Claim(r.Context(), user, market, roundID, side)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, claimResponse{Payout: payout})
}

// vaultResponse is the JSON shape of a vault balance.
type vaultResponse struct {
	Key     string `json:"key"`
	Side    string `json:"side"`
	Balance uint64 `json:"balance"`
}

// GetVaults returns the Up and Down vault balances of a round.
// GET /api/rounds/{market}/{round_id}/vaults
func (h *RoundHandler) GetVaults(w http.ResponseWriter, r *http.Request) {
	market, roundID, ok := parseRoundPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market or round id")
		return
	}

	up, down, err := h.rounds.RoundVaults(r.Context(), market, roundID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]vaultResponse{
		"up":   {Key: up.Key.Hex(), Side: up.Side.String(), Balance: up.Balance},
		"down": {Key: down.Key.Hex(), Side: down.Side.String(), Balance: down.Balance},
	})
}
