package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pancholabs/pancho-engine/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps engine errors onto HTTP status codes and writes the
// error message as the response body. Unrecognized errors become opaque 500s.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrProtocolPaused):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, domain.ErrInvalidSide),
		errors.Is(err, domain.ErrInvalidStake),
		errors.Is(err, domain.ErrInvalidSchedule),
		errors.Is(err, domain.ErrInvalidFeeBps),
		errors.Is(err, domain.ErrMathOverflow):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrRoundNotOpen),
		errors.Is(err, domain.ErrRoundAlreadyLocked),
		errors.Is(err, domain.ErrRoundAlreadySettled),
		errors.Is(err, domain.ErrRoundNotSettled),
		errors.Is(err, domain.ErrAlreadyClaimed),
		errors.Is(err, domain.ErrNothingToClaim),
		errors.Is(err, domain.ErrJoinWindowClosed),
		errors.Is(err, domain.ErrTooEarlyToLock),
		errors.Is(err, domain.ErrLockWindowExpired),
		errors.Is(err, domain.ErrTooEarlyToSettle),
		errors.Is(err, domain.ErrPositionSideMismatch),
		errors.Is(err, domain.ErrPositionUserMismatch),
		errors.Is(err, domain.ErrInsufficientVaultLiquidity),
		errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidOraclePrice),
		errors.Is(err, domain.ErrStaleOraclePrice),
		errors.Is(err, domain.ErrUnexpectedOracleAccount),
		errors.Is(err, domain.ErrInvalidOracleOwner):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// parseRoundPath extracts the {market} and {round_id} path parameters.
func parseRoundPath(r *http.Request) (uint8, int64, bool) {
	market, err := strconv.ParseUint(pathParam(r, "market"), 10, 8)
	if err != nil {
		return 0, 0, false
	}
	roundID, err := strconv.ParseInt(pathParam(r, "round_id"), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return uint8(market), roundID, true
}

// parseAddress decodes a 0x-prefixed hex address.
func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
