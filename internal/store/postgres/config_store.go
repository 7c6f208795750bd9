package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pancholabs/pancho-engine/internal/domain"
)

// ConfigStore implements domain.ProtocolConfigStore. The table holds at most
// one row, enforced by a constant primary key.
type ConfigStore struct {
	pool *pgxpool.Pool
}

// NewConfigStore creates a new ConfigStore.
func NewConfigStore(pool *pgxpool.Pool) *ConfigStore {
	return &ConfigStore{pool: pool}
}

// Init inserts the singleton config row. Returns ErrAlreadyExists if the
// protocol was already initialized.
func (s *ConfigStore) Init(ctx context.Context, cfg domain.ProtocolConfig) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO protocol_config (
			singleton, admin, treasury, oracle_program,
			fee_bps, oracle_max_age, paused, created_at, updated_at
		 ) VALUES (TRUE, $1, $2, $3, $4, $5, $6, $7, $8)`,
		cfg.Admin.Bytes(), cfg.Treasury.Bytes(), cfg.OracleProgram,
		int32(cfg.FeeBps), int64(cfg.OracleMaxAgeSlots), cfg.Paused,
		cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: init protocol config: %w", err)
	}
	return nil
}

// Get returns the singleton config row.
func (s *ConfigStore) Get(ctx context.Context) (domain.ProtocolConfig, error) {
	var cfg domain.ProtocolConfig
	var admin, treasury []byte
	var feeBps int32
	var maxAge int64

	err := s.pool.QueryRow(ctx,
		`SELECT admin, treasury, oracle_program, fee_bps, oracle_max_age,
			paused, created_at, updated_at
		 FROM protocol_config WHERE singleton`,
	).Scan(&admin, &treasury, &cfg.OracleProgram, &feeBps, &maxAge,
		&cfg.Paused, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ProtocolConfig{}, domain.ErrNotFound
		}
		return domain.ProtocolConfig{}, fmt.Errorf("postgres: get protocol config: %w", err)
	}

	cfg.Admin = common.BytesToAddress(admin)
	cfg.Treasury = common.BytesToAddress(treasury)
	cfg.FeeBps = uint16(feeBps)
	cfg.OracleMaxAgeSlots = uint64(maxAge)
	return cfg, nil
}

// Update overwrites the mutable config fields.
func (s *ConfigStore) Update(ctx context.Context, cfg domain.ProtocolConfig) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE protocol_config SET
			treasury = $1, fee_bps = $2, oracle_max_age = $3,
			paused = $4, updated_at = $5
		 WHERE singleton`,
		cfg.Treasury.Bytes(), int32(cfg.FeeBps), int64(cfg.OracleMaxAgeSlots),
		cfg.Paused, cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: update protocol config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.ProtocolConfigStore = (*ConfigStore)(nil)
