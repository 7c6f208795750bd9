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

// PositionStore implements domain.PositionStore. Position writes go through
// RoundStore.ApplyJoin and ApplyClaim, so this store is read-only.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `key, round_key, "user", side, amount, claimed, created_at, updated_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var key, round, user []byte
	var side string
	var amount int64

	err := row.Scan(&key, &round, &user, &side, &amount, &p.Claimed, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Position{}, err
	}

	p.Key = common.BytesToHash(key)
	p.Round = common.BytesToHash(round)
	p.User = common.BytesToAddress(user)
	p.Side, _ = domain.ParseSide(side)
	p.Amount = uint64(amount)
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Get retrieves a position by its record key.
func (s *PositionStore) Get(ctx context.Context, key common.Hash) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE key = $1`, key.Bytes())

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", key.Hex(), err)
	}
	return p, nil
}

// ListByRound returns all positions of a round.
func (s *PositionStore) ListByRound(ctx context.Context, round common.Hash, opts domain.ListOpts) ([]domain.Position, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE round_key = $1
		 ORDER BY created_at
		 LIMIT $2 OFFSET $3`, round.Bytes(), limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions by round %s: %w", round.Hex(), err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

// ListByUser returns a user's positions across rounds, newest first.
func (s *PositionStore) ListByUser(ctx context.Context, user common.Address, opts domain.ListOpts) ([]domain.Position, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE "user" = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`, user.Bytes(), limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions by user %s: %w", user.Hex(), err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
