// Package service implements the settlement engine's operations: protocol
// configuration, the round lifecycle state machine, and the payout math.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pancholabs/pancho-engine/internal/domain"
)

// ConfigService manages the protocol config singleton: fee rate, pause flag,
// treasury, and oracle identity. All mutations are admin-gated.
type ConfigService struct {
	store  domain.ProtocolConfigStore
	audit  domain.AuditStore
	clock  domain.Clock
	logger *slog.Logger
}

// NewConfigService creates a ConfigService.
func NewConfigService(
	store domain.ProtocolConfigStore,
	audit domain.AuditStore,
	clock domain.Clock,
	logger *slog.Logger,
) *ConfigService {
	return &ConfigService{
		store:  store,
		audit:  audit,
		clock:  clock,
		logger: logger.With(slog.String("component", "config_service")),
	}
}

// Initialize creates the protocol config. It fails with ErrAlreadyExists if
// a config is already present; there is no reinitialization path.
func (s *ConfigService) Initialize(ctx context.Context, admin, treasury common.Address, feeBps uint16, maxAgeSlots uint64, oracleProgram string) (domain.ProtocolConfig, error) {
	if feeBps > domain.MaxFeeBps {
		return domain.ProtocolConfig{}, domain.ErrInvalidFeeBps
	}

	now := s.clock.Now()
	cfg := domain.ProtocolConfig{
		Admin:             admin,
		Treasury:          treasury,
		OracleProgram:     oracleProgram,
		FeeBps:            feeBps,
		OracleMaxAgeSlots: maxAgeSlots,
		Paused:            false,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.store.Init(ctx, cfg); err != nil {
		return domain.ProtocolConfig{}, fmt.Errorf("config_service: init: %w", err)
	}

	s.auditLog(ctx, "config_initialized", map[string]any{
		"admin":    admin.Hex(),
		"treasury": treasury.Hex(),
		"fee_bps":  feeBps,
	})

	s.logger.InfoContext(ctx, "protocol config initialized",
		slog.String("admin", admin.Hex()),
		slog.Int("fee_bps", int(feeBps)),
	)

	return cfg, nil
}

// Get returns the current protocol config.
func (s *ConfigService) Get(ctx context.Context) (domain.ProtocolConfig, error) {
	cfg, err := s.store.Get(ctx)
	if err != nil {
		return domain.ProtocolConfig{}, fmt.Errorf("config_service: get: %w", err)
	}
	return cfg, nil
}

// SetConfig updates the fee rate, oracle staleness bound, and pause flag.
// Only the admin may call it.
func (s *ConfigService) SetConfig(ctx context.Context, caller common.Address, feeBps uint16, maxAgeSlots uint64, paused bool) (domain.ProtocolConfig, error) {
	if feeBps > domain.MaxFeeBps {
		return domain.ProtocolConfig{}, domain.ErrInvalidFeeBps
	}

	cfg, err := s.store.Get(ctx)
	if err != nil {
		return domain.ProtocolConfig{}, fmt.Errorf("config_service: get: %w", err)
	}
	if caller != cfg.Admin {
		return domain.ProtocolConfig{}, domain.ErrUnauthorized
	}

	cfg.FeeBps = feeBps
	cfg.OracleMaxAgeSlots = maxAgeSlots
	cfg.Paused = paused
	cfg.UpdatedAt = s.clock.Now()

	if err := s.store.Update(ctx, cfg); err != nil {
		return domain.ProtocolConfig{}, fmt.Errorf("config_service: update: %w", err)
	}

	s.auditLog(ctx, "config_updated", map[string]any{
		"fee_bps":       feeBps,
		"max_age_slots": maxAgeSlots,
		"paused":        paused,
	})

	s.logger.InfoContext(ctx, "protocol config updated",
		slog.Int("fee_bps", int(feeBps)),
		slog.Bool("paused", paused),
	)

	return cfg, nil
}

// SetTreasury points the fee destination at a new treasury address. Only the
// admin may call it.
func (s *ConfigService) SetTreasury(ctx context.Context, caller, newTreasury common.Address) (domain.ProtocolConfig, error) {
	cfg, err := s.store.Get(ctx)
	if err != nil {
		return domain.ProtocolConfig{}, fmt.Errorf("config_service: get: %w", err)
	}
	if caller != cfg.Admin {
		return domain.ProtocolConfig{}, domain.ErrUnauthorized
	}

	cfg.Treasury = newTreasury
	cfg.UpdatedAt = s.clock.Now()

	if err := s.store.Update(ctx, cfg); err != nil {
		return domain.ProtocolConfig{}, fmt.Errorf("config_service: update treasury: %w", err)
	}

	s.auditLog(ctx, "treasury_updated", map[string]any{
		"treasury": newTreasury.Hex(),
	})

	return cfg, nil
}

// auditLog writes an audit entry, logging instead of failing the operation
// when the write does not succeed.
func (s *ConfigService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
