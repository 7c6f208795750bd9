package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pancholabs/pancho-engine/internal/domain"
)

// ProtocolService defines the methods the protocol handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type ProtocolService interface {
	Initialize(ctx context.Context, admin, treasury common.Address, feeBps uint16, maxAgeSlots uint64, oracleProgram string) (domain.ProtocolConfig, error)
	Get(ctx context.Context) (domain.ProtocolConfig, error)
	SetConfig(ctx context.Context, caller common.Address, feeBps uint16, maxAgeSlots uint64, paused bool) (domain.ProtocolConfig, error)
	SetTreasury(ctx context.Context, caller, newTreasury common.Address) (domain.ProtocolConfig, error)
}

// ProtocolHandler serves protocol config HTTP endpoints.
type ProtocolHandler struct {
	protocol ProtocolService
	logger   *slog.Logger
}

// NewProtocolHandler creates a ProtocolHandler with the given service and logger.
func NewProtocolHandler(protocol ProtocolService, logger *slog.Logger) *ProtocolHandler {
	return &ProtocolHandler{
		protocol: protocol,
		logger:   logger,
	}
}

// protocolConfigResponse is the JSON shape of the protocol config.
type protocolConfigResponse struct {
	Admin             string `json:"admin"`
	Treasury          string `json:"treasury"`
	OracleProgram     string `json:"oracle_program"`
	FeeBps            uint16 `json:"fee_bps"`
	OracleMaxAgeSlots uint64 `json:"oracle_max_age_slots"`
	Paused            bool   `json:"paused"`
}

func toConfigResponse(cfg domain.ProtocolConfig) protocolConfigResponse {
	return protocolConfigResponse{
		Admin:             cfg.Admin.Hex(),
		Treasury:          cfg.Treasury.Hex(),
		OracleProgram:     cfg.OracleProgram,
		FeeBps:            cfg.FeeBps,
		OracleMaxAgeSlots: cfg.OracleMaxAgeSlots,
		Paused:            cfg.Paused,
	}
}

type initProtocolRequest struct {
	Admin             string `json:"admin"`
	Treasury          string `json:"treasury"`
	OracleProgram     string `json:"oracle_program"`
	FeeBps            uint16 `json:"fee_bps"`
	OracleMaxAgeSlots uint64 `json:"oracle_max_age_slots"`
}

// Initialize creates the protocol config singleton.
// POST /api/protocol/init
func (h *ProtocolHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req initProtocolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	admin, ok := parseAddress(req.Admin)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid admin address")
		return
	}
	treasury, ok := parseAddress(req.Treasury)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid treasury address")
		return
	}
	if req.OracleProgram == "" {
		writeError(w, http.StatusBadRequest, "missing oracle_program")
		return
	}

	cfg, err := h.protocol.Initialize(r.Context(), admin, treasury, req.FeeBps, req.OracleMaxAgeSlots, req.OracleProgram)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: initialize protocol failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toConfigResponse(cfg))
}

// GetConfig returns the current protocol config.
// GET /api/protocol
func (h *ProtocolHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.protocol.Get(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConfigResponse(cfg))
}

type updateConfigRequest struct {
	Caller            string `json:"caller"`
	FeeBps            uint16 `json:"fee_bps"`
	OracleMaxAgeSlots uint64 `json:"oracle_max_age_slots"`
	Paused            bool   `json:"paused"`
}

// UpdateConfig changes the fee rate, oracle staleness bound, and pause flag.
// PUT /api/protocol/config
func (h *ProtocolHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req updateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}

	cfg, err := h.protocol.SetConfig(r.Context(), caller, req.FeeBps, req.OracleMaxAgeSlots, req.Paused)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toConfigResponse(cfg))
}

type updateTreasuryRequest struct {
	Caller   string `json:"caller"`
	Treasury string `json:"treasury"`
}

// UpdateTreasury points the fee destination at a new treasury address.
// PUT /api/protocol/treasury
func (h *ProtocolHandler) UpdateTreasury(w http.ResponseWriter, r *http.Request) {
	var req updateTreasuryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	treasury, ok := parseAddress(req.Treasury)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid treasury address")
		return
	}

	cfg, err := h.protocol.SetTreasury(r.Context(), caller, treasury)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toConfigResponse(cfg))
}
