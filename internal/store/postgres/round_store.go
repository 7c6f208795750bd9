package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pancholabs/pancho-engine/internal/domain"
)

// RoundStore implements domain.RoundStore using PostgreSQL. Each ApplyX
// method runs all of its writes in one transaction with guarded UPDATEs, so
// an operation's state change is all-or-nothing even if the caller's
// precondition checks raced.
type RoundStore struct {
	pool *pgxpool.Pool
}

// NewRoundStore creates a new RoundStore backed by the given connection pool.
func NewRoundStore(pool *pgxpool.Pool) *RoundStore {
	return &RoundStore{pool: pool}
}

const roundSelectCols = `key, market, round_id, feed_id, oracle_account,
	lock_ts, end_ts, start_price, end_price, expo, status, winner,
	up_total, down_total, fee_lamports, distributable, created_at, updated_at`

func scanRound(row pgx.Row) (domain.Round, error) {
	var r domain.Round
	var key, feedID []byte
	var status, winner string
	var upTotal, downTotal, fee, distributable int64

	err := row.Scan(
		&key, &r.Market, &r.RoundID, &feedID, &r.OracleAccount,
		&r.LockTS, &r.EndTS, &r.StartPrice, &r.EndPrice, &r.Expo,
		&status, &winner,
		&upTotal, &downTotal, &fee, &distributable,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return domain.Round{}, err
	}

	r.Key = common.BytesToHash(key)
	r.FeedID = common.BytesToHash(feedID)
	r.Status = domain.RoundStatus(status)
	r.Winner = winnerFromText(winner)
	r.UpTotal = uint64(upTotal)
	r.DownTotal = uint64(downTotal)
	r.FeeLamports = uint64(fee)
	r.Distributable = uint64(distributable)
	return r, nil
}

func scanRounds(rows pgx.Rows) ([]domain.Round, error) {
	var rounds []domain.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

func winnerFromText(v string) domain.Side {
	switch v {
	case "up":
		return domain.SideUp
	case "down":
		return domain.SideDown
	default:
		return domain.SideNone
	}
}

// Create inserts a round together with its two zero-balance vaults in one
// transaction.
func (s *RoundStore) Create(ctx context.Context, r domain.Round, vaults [2]domain.Vault) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create round: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertRound = `
		INSERT INTO rounds (
			key, market, round_id, feed_id, oracle_account,
			lock_ts, end_ts, start_price, end_price, expo, status, winner,
			up_total, down_total, fee_lamports, distributable, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18
		)`

	_, err = tx.Exec(ctx, insertRound,
		r.Key.Bytes(), int16(r.Market), r.RoundID, r.FeedID.Bytes(), r.OracleAccount,
		r.LockTS, r.EndTS, r.StartPrice, r.EndPrice, r.Expo,
		string(r.Status), r.Winner.String(),
		int64(r.UpTotal), int64(r.DownTotal), int64(r.FeeLamports), int64(r.Distributable),
		r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: insert round %s: %w", r.Key.Hex(), err)
	}

	const insertVault = `
		INSERT INTO vaults (key, round_key, side, balance) VALUES ($1, $2, $3, 0)`
	for _, v := range vaults {
		if _, err := tx.Exec(ctx, insertVault, v.Key.Bytes(), v.Round.Bytes(), v.Side.String()); err != nil {
			return fmt.Errorf("postgres: insert vault %s: %w", v.Key.Hex(), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit create round: %w", err)
	}
	return nil
}

// Get retrieves a round by its record key.
func (s *RoundStore) Get(ctx context.Context, key common.Hash) (domain.Round, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+roundSelectCols+` FROM rounds WHERE key = $1`, key.Bytes())

	r, err := scanRound(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Round{}, domain.ErrNotFound
		}
		return domain.Round{}, fmt.Errorf("postgres: get round %s: %w", key.Hex(), err)
	}
	return r, nil
}

// List returns rounds ordered newest first.
func (s *RoundStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Round, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+roundSelectCols+` FROM rounds
		 ORDER BY created_at DESC
		 LIMIT $1 OFFSET $2`, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rounds: %w", err)
	}
	defer rows.Close()

	rounds, err := scanRounds(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan rounds: %w", err)
	}
	return rounds, nil
}

// ListLockable returns open rounds whose lock grace window contains now.
func (s *RoundStore) ListLockable(ctx context.Context, now int64) ([]domain.Round, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+roundSelectCols+` FROM rounds
		 WHERE status = 'open' AND lock_ts <= $1 AND lock_ts + $2 >= $1
		 ORDER BY lock_ts`, now, domain.LockGraceSeconds)
	if err != nil {
		return nil, fmt.Errorf("postgres: list lockable rounds: %w", err)
	}
	defer rows.Close()

	rounds, err := scanRounds(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan lockable rounds: %w", err)
	}
	return rounds, nil
}

// ListSettleable returns unsettled rounds whose end time has passed.
func (s *RoundStore) ListSettleable(ctx context.Context, now int64) ([]domain.Round, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+roundSelectCols+` FROM rounds
		 WHERE status <> 'settled' AND end_ts <= $1
		 ORDER BY end_ts`, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settleable rounds: %w", err)
	}
	defer rows.Close()

	rounds, err := scanRounds(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan settleable rounds: %w", err)
	}
	return rounds, nil
}

// ListSettledBefore returns settled rounds whose last update landed strictly
// before the cutoff. Settlement is the final write to a round, so updated_at
// is its settlement time.
func (s *RoundStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Round, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+roundSelectCols+` FROM rounds
		 WHERE status = 'settled' AND updated_at < $1
		 ORDER BY updated_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled rounds before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	rounds, err := scanRounds(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan settled rounds: %w", err)
	}
	return rounds, nil
}

// ApplyJoin persists a join: side totals, upserted position, credited vault.
// The round update is guarded on status='open' so a raced transition rolls
// everything back. All three writes add the stake to the stored row rather
// than writing the caller's snapshot, so a join committed by another process
// between the service's read and this write is never overwritten.
func (s *RoundStore) ApplyJoin(ctx context.Context, r domain.Round, pos domain.Position, stake uint64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin join: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE rounds SET
			up_total = up_total + CASE WHEN $2 = 'up' THEN $3::BIGINT ELSE 0 END,
			down_total = down_total + CASE WHEN $2 = 'down' THEN $3::BIGINT ELSE 0 END,
			updated_at = $4
		 WHERE key = $1 AND status = 'open'`,
		r.Key.Bytes(), pos.Side.String(), int64(stake), r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: update round totals %s: %w", r.Key.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRoundNotOpen
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO positions (key, round_key, "user", side, amount, claimed, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7)
		 ON CONFLICT (key) DO UPDATE SET
			amount = positions.amount + EXCLUDED.amount,
			updated_at = EXCLUDED.updated_at`,
		pos.Key.Bytes(), pos.Round.Bytes(), pos.User.Bytes(), pos.Side.String(),
		int64(stake), pos.CreatedAt, pos.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", pos.Key.Hex(), err)
	}

	vaultKey := domain.VaultKey(pos.Round, pos.Side)
	tag, err = tx.Exec(ctx,
		`UPDATE vaults SET balance = balance + $2 WHERE key = $1`,
		vaultKey.Bytes(), int64(stake))
	if err != nil {
		return fmt.Errorf("postgres: credit vault %s: %w", vaultKey.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit join: %w", err)
	}
	return nil
}

// ApplyLock persists the Open->Locked transition with the captured start
// price.
func (s *RoundStore) ApplyLock(ctx context.Context, r domain.Round) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rounds SET start_price = $2, expo = $3, status = 'locked', updated_at = $4
		 WHERE key = $1 AND status = 'open'`,
		r.Key.Bytes(), r.StartPrice, r.Expo, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: lock round %s: %w", r.Key.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRoundAlreadyLocked
	}
	return nil
}

// ApplySettle persists the settlement outputs and debits the fee from the
// vault pair, guarded so an already-settled round cannot be re-settled and
// a vault can never go negative.
func (s *RoundStore) ApplySettle(ctx context.Context, r domain.Round, feeFromUp, feeFromDown uint64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin settle: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE rounds SET
			end_price = $2, winner = $3, status = 'settled',
			fee_lamports = $4, distributable = $5, updated_at = $6
		 WHERE key = $1 AND status <> 'settled'`,
		r.Key.Bytes(), r.EndPrice, r.Winner.String(),
		int64(r.FeeLamports), int64(r.Distributable), r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: settle round %s: %w", r.Key.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRoundAlreadySettled
	}

	if err := debitVault(ctx, tx, domain.VaultKey(r.Key, domain.SideUp), feeFromUp); err != nil {
		return err
	}
	if err := debitVault(ctx, tx, domain.VaultKey(r.Key, domain.SideDown), feeFromDown); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit settle: %w", err)
	}
	return nil
}

// ApplyClaim flips the claimed flag exactly once and debits the payout from
// the vault pair.
func (s *RoundStore) ApplyClaim(ctx context.Context, pos domain.Position, payFromUp, payFromDown uint64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin claim: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE positions SET claimed = TRUE, updated_at = $2
		 WHERE key = $1 AND claimed = FALSE`,
		pos.Key.Bytes(), pos.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: mark claimed %s: %w", pos.Key.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyClaimed
	}

	if err := debitVault(ctx, tx, domain.VaultKey(pos.Round, domain.SideUp), payFromUp); err != nil {
		return err
	}
	if err := debitVault(ctx, tx, domain.VaultKey(pos.Round, domain.SideDown), payFromDown); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit claim: %w", err)
	}
	return nil
}

// debitVault subtracts amount from a vault, failing if the balance cannot
// cover it. A zero amount is a no-op.
func debitVault(ctx context.Context, tx pgx.Tx, key common.Hash, amount uint64) error {
	if amount == 0 {
		return nil
	}
	tag, err := tx.Exec(ctx,
		`UPDATE vaults SET balance = balance - $2 WHERE key = $1 AND balance >= $2`,
		key.Bytes(), int64(amount))
	if err != nil {
		return fmt.Errorf("postgres: debit vault %s: %w", key.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientVaultLiquidity
	}
	return nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Compile-time interface check.
var _ domain.RoundStore = (*RoundStore)(nil)
