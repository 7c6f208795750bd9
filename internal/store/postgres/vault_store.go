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

// VaultStore implements domain.VaultStore. Vault balances only move inside
// RoundStore's transactional ApplyX methods; this store is read-only.
type VaultStore struct {
	pool *pgxpool.Pool
}

// NewVaultStore creates a new VaultStore.
func NewVaultStore(pool *pgxpool.Pool) *VaultStore {
	return &VaultStore{pool: pool}
}

func scanVault(row pgx.Row) (domain.Vault, error) {
	var v domain.Vault
	var key, round []byte
	var side string
	var balance int64

	if err := row.Scan(&key, &round, &side, &balance); err != nil {
		return domain.Vault{}, err
	}

	v.Key = common.BytesToHash(key)
	v.Round = common.BytesToHash(round)
	v.Side, _ = domain.ParseSide(side)
	v.Balance = uint64(balance)
	return v, nil
}

// Get retrieves a vault by its record key.
func (s *VaultStore) Get(ctx context.Context, key common.Hash) (domain.Vault, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT key, round_key, side, balance FROM vaults WHERE key = $1`, key.Bytes())

	v, err := scanVault(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Vault{}, domain.ErrNotFound
		}
		return domain.Vault{}, fmt.Errorf("postgres: get vault %s: %w", key.Hex(), err)
	}
	return v, nil
}

// Pair returns the Up and Down vaults of a round, in that order.
func (s *VaultStore) Pair(ctx context.Context, round common.Hash) (domain.Vault, domain.Vault, error) {
	up, err := s.Get(ctx, domain.VaultKey(round, domain.SideUp))
	if err != nil {
		return domain.Vault{}, domain.Vault{}, err
	}
	down, err := s.Get(ctx, domain.VaultKey(round, domain.SideDown))
	if err != nil {
		return domain.Vault{}, domain.Vault{}, err
	}
	return up, down, nil
}

var _ domain.VaultStore = (*VaultStore)(nil)
