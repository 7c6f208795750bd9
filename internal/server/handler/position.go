package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pancholabs/pancho-engine/internal/domain"
)

// PositionService defines the position read methods the handler requires.
type PositionService interface {
	RoundPositions(ctx context.Context, market uint8, roundID int64, opts domain.ListOpts) ([]domain.Position, error)
	UserPositions(ctx context.Context, user common.Address, opts domain.ListOpts) ([]domain.Position, error)
}

// PositionHandler serves position read endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger,
	}
}

// positionResponse is the JSON shape of a position.
type positionResponse struct {
	Key     string `json:"key"`
	Round   string `json:"round"`
	User    string `json:"user"`
	Side    string `json:"side"`
	Amount  uint64 `json:"amount"`
	Claimed bool   `json:"claimed"`
}

func toPositionResponse(p domain.Position) positionResponse {
	return positionResponse{
		Key:     p.Key.Hex(),
		Round:   p.Round.Hex(),
		User:    p.User.Hex(),
		Side:    p.Side.String(),
		Amount:  p.Amount,
		Claimed: p.Claimed,
	}
}

// listPositionsResponse wraps position lists with pagination metadata.
type listPositionsResponse struct {
	Positions []positionResponse `json:"positions"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
}

// ListRoundPositions returns all positions of a round.
// GET /api/rounds/{market}/{round_id}/positions
func (h *PositionHandler) ListRoundPositions(w http.ResponseWriter, r *http.Request) {
	market, roundID, ok := parseRoundPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market or round id")
		return
	}
	opts := parseListOpts(r)

	positions, err := h.positions.RoundPositions(r.Context(), market, roundID, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list round positions failed",
			slog.Int64("round_id", roundID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	out := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		out = append(out, toPositionResponse(p))
	}

	writeJSON(w, http.StatusOK, listPositionsResponse{
		Positions: out,
		Limit:     opts.Limit,
		Offset:    opts.Offset,
	})
}

// ListUserPositions returns a user's positions across rounds.
// GET /api/positions?user=0x...
func (h *PositionHandler) ListUserPositions(w http.ResponseWriter, r *http.Request) {
	user, ok := parseAddress(r.URL.Query().Get("user"))
	if !ok {
		writeError(w, http.StatusBadRequest, "missing or invalid user address")
		return
	}
	opts := parseListOpts(r)

	positions, err := h.positions.UserPositions(r.Context(), user, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list user positions failed",
			slog.String("user", user.Hex()),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	out := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		out = append(out, toPositionResponse(p))
	}

	writeJSON(w, http.StatusOK, listPositionsResponse{
		Positions: out,
		Limit:     opts.Limit,
		Offset:    opts.Offset,
	})
}
