package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pancholabs/pancho-engine/internal/domain"
	"github.com/pancholabs/pancho-engine/internal/oracle"
)

// roundLockTTL bounds how long a per-round mutation lock may be held before
// Redis expires it.
const roundLockTTL = 10 * time.Second

// PriceReader reads a validated oracle price for a round's bound account.
type PriceReader interface {
	Read(ctx context.Context, boundAccount, expectedProgram string, maxAgeSlots uint64) (oracle.Price, error)
}

// RoundService drives the round lifecycle state machine: create, join, lock,
// settle, claim. Every mutation re-reads persisted state under a per-round
// distributed lock and commits through a single-transaction store call, so an
// operation either fully applies or leaves nothing behind.
type RoundService struct {
	rounds    domain.RoundStore
	positions domain.PositionStore
	vaults    domain.VaultStore
	config    domain.ProtocolConfigStore
	oracle    PriceReader
	locks     domain.LockManager
	bus       domain.SignalBus
	audit     domain.AuditStore
	cache     domain.RoundCache
	clock     domain.Clock
	logger    *slog.Logger
}

// NewRoundService creates a RoundService with all required dependencies.
// cache may be nil.
func NewRoundService(
	rounds domain.RoundStore,
	positions domain.PositionStore,
	vaults domain.VaultStore,
	config domain.ProtocolConfigStore,
	priceReader PriceReader,
	locks domain.LockManager,
	bus domain.SignalBus,
	audit domain.AuditStore,
	cache domain.RoundCache,
	clock domain.Clock,
	logger *slog.Logger,
) *RoundService {
	return &RoundService{
		rounds:    rounds,
		positions: positions,
		vaults:    vaults,
		config:    config,
		oracle:    priceReader,
		locks:     locks,
		bus:       bus,
		audit:     audit,
		cache:     cache,
		clock:     clock,
		logger:    logger.With(slog.String("component", "round_service")),
	}
}

// CreateParams carries the inputs of a round creation.
type CreateParams struct {
	Market        uint8
	RoundID       int64
	LockTS        int64
	EndTS         int64
	FeedID        common.Hash
	OracleAccount string
}

// Create opens a new round with two empty vaults. Admin only; the protocol
// must not be paused, the schedule must be end_ts > lock_ts, and the lock
// time must still be in the future.
func (s *RoundService) Create(ctx context.Context, caller common.Address, p CreateParams) (domain.Round, error) {
	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return domain.Round{}, err
	}
	if caller != cfg.Admin {
		return domain.Round{}, domain.ErrUnauthorized
	}
	if p.EndTS <= p.LockTS {
		return domain.Round{}, domain.ErrInvalidSchedule
	}

	now := s.clock.Now()
	if p.LockTS <= now.Unix() {
		return domain.Round{}, domain.ErrInvalidSchedule
	}

	key := domain.RoundKey(p.Market, p.RoundID)
	round := domain.Round{
		Key:           key,
		Market:        p.Market,
		RoundID:       p.RoundID,
		FeedID:        p.FeedID,
		OracleAccount: p.OracleAccount,
		LockTS:        p.LockTS,
		EndTS:         p.EndTS,
		Status:        domain.RoundOpen,
		Winner:        domain.SideNone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	vaults := [2]domain.Vault{
		{Key: domain.VaultKey(key, domain.SideUp), Round: key, Side: domain.SideUp},
		{Key: domain.VaultKey(key, domain.SideDown), Round: key, Side: domain.SideDown},
	}

	if err := s.rounds.Create(ctx, round, vaults); err != nil {
		return domain.Round{}, fmt.Errorf("round_service: create round %s: %w", key.Hex(), err)
	}

	s.publish(ctx, domain.ChannelRounds, domain.RoundCreatedEvent{
		Event:   domain.EventRoundCreated,
		Round:   key,
		RoundID: p.RoundID,
		Market:  p.Market,
		LockTS:  p.LockTS,
		EndTS:   p.EndTS,
	})
	s.auditLog(ctx, domain.EventRoundCreated, map[string]any{
		"round":    key.Hex(),
		"round_id": p.RoundID,
		"market":   p.Market,
		"lock_ts":  p.LockTS,
		"end_ts":   p.EndTS,
	})

	s.logger.InfoContext(ctx, "round created",
		slog.String("round", key.Hex()),
		slog.Int64("round_id", p.RoundID),
		slog.Int64("lock_ts", p.LockTS),
		slog.Int64("end_ts", p.EndTS),
	)

	return round, nil
}

// Join stakes lamports on one side of an open round before its lock time.
// The stake is credited to the side's vault, accumulated into the user's
// position (side fixed at first contact), and added to the round's side
// total, all atomically.
func (s *RoundService) Join(ctx context.Context, user common.Address, market uint8, roundID int64, side domain.Side, lamports uint64) (domain.Position, error) {
	if lamports == 0 {
		return domain.Position{}, domain.ErrInvalidStake
	}
	if !side.Valid() {
		return domain.Position{}, domain.ErrInvalidSide
	}

	if _, err := s.loadConfig(ctx); err != nil {
		return domain.Position{}, err
	}

	key := domain.RoundKey(market, roundID)
	unlock, err := s.lockRoundKey(ctx, key)
	if err != nil {
		return domain.Position{}, err
	}
	defer unlock()

	round, err := s.rounds.Get(ctx, key)
	if err != nil {
		return domain.Position{}, fmt.Errorf("round_service: get round %s: %w", key.Hex(), err)
	}
	if round.Status != domain.RoundOpen {
		return domain.Position{}, domain.ErrRoundNotOpen
	}
	if s.clock.Now().Unix() >= round.LockTS {
		return domain.Position{}, domain.ErrJoinWindowClosed
	}

	posKey := domain.PositionKey(key, user, side)
	pos, err := s.positions.Get(ctx, posKey)
	switch {
	case err == nil:
	case isNotFound(err):
		pos = domain.Position{
			Key:       posKey,
			Round:     key,
			User:      user,
			Side:      side,
			CreatedAt: s.clock.Now(),
		}
	default:
		return domain.Position{}, fmt.Errorf("round_service: get position %s: %w", posKey.Hex(), err)
	}

	// Unreachable through key derivation, checked defensively.
	if pos.Side != side {
		return domain.Position{}, domain.ErrPositionSideMismatch
	}
	if pos.Claimed {
		return domain.Position{}, domain.ErrAlreadyClaimed
	}

	pos.Amount, err = domain.CheckedAdd(pos.Amount, lamports)
	if err != nil {
		return domain.Position{}, err
	}
	pos.UpdatedAt = s.clock.Now()

	if side == domain.SideUp {
		round.UpTotal, err = domain.CheckedAdd(round.UpTotal, lamports)
	} else {
		round.DownTotal, err = domain.CheckedAdd(round.DownTotal, lamports)
	}
	if err != nil {
		return domain.Position{}, err
	}
	round.UpdatedAt = pos.UpdatedAt

	if err := s.rounds.ApplyJoin(ctx, round, pos, lamports); err != nil {
		return domain.Position{}, fmt.Errorf("round_service: apply join %s: %w", key.Hex(), err)
	}

	s.invalidate(ctx, key)
	s.publish(ctx, domain.ChannelRounds, domain.RoundJoinedEvent{
		Event:    domain.EventRoundJoined,
		Round:    key,
		User:     user,
		Side:     side.String(),
		Lamports: lamports,
	})
	s.auditLog(ctx, domain.EventRoundJoined, map[string]any{
		"round":    key.Hex(),
		"user":     user.Hex(),
		"side":     side.String(),
		"lamports": lamports,
	})

	s.logger.InfoContext(ctx, "round joined",
		slog.String("round", key.Hex()),
		slog.String("user", user.Hex()),
		slog.String("side", side.String()),
		slog.Uint64("lamports", lamports),
	)

	return pos, nil
}

// Lock captures the start price of an open round. It is legal only inside
// the grace window [lock_ts, lock_ts+45s]; before the window it fails too
// early, after it the round is stuck open until it can be settled directly.
// Any caller may lock.
func (s *RoundService) Lock(ctx context.Context, market uint8, roundID int64) (domain.Round, error) {
	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return domain.Round{}, err
	}

	key := domain.RoundKey(market, roundID)
	unlock, err := s.lockRoundKey(ctx, key)
	if err != nil {
		return domain.Round{}, err
	}
	defer unlock()

	round, err := s.rounds.Get(ctx, key)
	if err != nil {
		return domain.Round{}, fmt.Errorf("round_service: get round %s: %w", key.Hex(), err)
	}
	if round.Status != domain.RoundOpen {
		return domain.Round{}, domain.ErrRoundAlreadyLocked
	}

	now := s.clock.Now().Unix()
	if now < round.LockTS {
		return domain.Round{}, domain.ErrTooEarlyToLock
	}
	if now > round.LockTS+domain.LockGraceSeconds {
		return domain.Round{}, domain.ErrLockWindowExpired
	}

	price, err := s.oracle.Read(ctx, round.OracleAccount, cfg.OracleProgram, cfg.OracleMaxAgeSlots)
	if err != nil {
		return domain.Round{}, err
	}

	round.StartPrice = price.Price
	round.Expo = price.Expo
	round.Status = domain.RoundLocked
	round.UpdatedAt = s.clock.Now()

	if err := s.rounds.ApplyLock(ctx, round); err != nil {
		return domain.Round{}, fmt.Errorf("round_service: apply lock %s: %w", key.Hex(), err)
	}

	s.invalidate(ctx, key)
	s.publish(ctx, domain.ChannelRounds, domain.RoundLockedEvent{
		Event:      domain.EventRoundLocked,
		Round:      key,
		StartPrice: round.StartPrice,
		Expo:       round.Expo,
		LockedAt:   now,
	})
	s.auditLog(ctx, domain.EventRoundLocked, map[string]any{
		"round":       key.Hex(),
		"start_price": round.StartPrice,
		"expo":        round.Expo,
	})

	s.logger.InfoContext(ctx, "round locked",
		slog.String("round", key.Hex()),
		slog.Int64("start_price", round.StartPrice),
		slog.Int("expo", int(round.Expo)),
	)

	return round, nil
}

// Settle finalizes a round after its end time. A round still open (lock
// window missed) settles directly with no winner and no oracle read; a
// locked round captures the end price and picks the winner. In both paths
// the protocol fee is computed on the combined pool and drained from the
// vault pair to the treasury. Settling an already-settled round fails
// cleanly without re-extracting fees. Any caller may settle.
func (s *RoundService) Settle(ctx context.Context, market uint8, roundID int64) (domain.Round, error) {
	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return domain.Round{}, err
	}

	key := domain.RoundKey(market, roundID)
	unlock, err := s.lockRoundKey(ctx, key)
	if err != nil {
		return domain.Round{}, err
	}
	defer unlock()

	round, err := s.rounds.Get(ctx, key)
	if err != nil {
		return domain.Round{}, fmt.Errorf("round_service: get round %s: %w", key.Hex(), err)
	}

	now := s.clock.Now().Unix()
	if now < round.EndTS {
		return domain.Round{}, domain.ErrTooEarlyToSettle
	}
	if round.Status == domain.RoundSettled {
		return domain.Round{}, domain.ErrRoundAlreadySettled
	}

	switch round.Status {
	case domain.RoundOpen:
		// No-contest path: the lock window was missed, so there is no
		// start price to judge against. Everyone is refunded net of fee.
		round.Winner = domain.SideNone
	case domain.RoundLocked:
		price, err := s.oracle.Read(ctx, round.OracleAccount, cfg.OracleProgram, cfg.OracleMaxAgeSlots)
		if err != nil {
			return domain.Round{}, err
		}
		round.EndPrice = price.Price
		round.Winner = DetermineWinner(round)
	}
	round.Status = domain.RoundSettled

	total, err := round.Total()
	if err != nil {
		return domain.Round{}, err
	}
	round.FeeLamports, round.Distributable, err = ComputeFee(total, cfg.FeeBps)
	if err != nil {
		return domain.Round{}, err
	}
	round.UpdatedAt = s.clock.Now()

	up, down, err := s.vaults.Pair(ctx, key)
	if err != nil {
		return domain.Round{}, fmt.Errorf("round_service: get vaults %s: %w", key.Hex(), err)
	}
	feeFromUp, feeFromDown, err := SplitWithdrawal(up.Balance, down.Balance, round.FeeLamports)
	if err != nil {
		return domain.Round{}, err
	}

	if err := s.rounds.ApplySettle(ctx, round, feeFromUp, feeFromDown); err != nil {
		return domain.Round{}, fmt.Errorf("round_service: apply settle %s: %w", key.Hex(), err)
	}

	s.invalidate(ctx, key)
	s.publish(ctx, domain.ChannelRounds, domain.RoundSettledEvent{
		Event:         domain.EventRoundSettled,
		Round:         key,
		Winner:        round.Winner.String(),
		StartPrice:    round.StartPrice,
		EndPrice:      round.EndPrice,
		FeeLamports:   round.FeeLamports,
		Distributable: round.Distributable,
		SettledAt:     now,
	})
	s.auditLog(ctx, domain.EventRoundSettled, map[string]any{
		"round":         key.Hex(),
		"winner":        round.Winner.String(),
		"fee_lamports":  round.FeeLamports,
		"distributable": round.Distributable,
	})

	s.logger.InfoContext(ctx, "round settled",
		slog.String("round", key.Hex()),
		slog.String("winner", round.Winner.String()),
		slog.Uint64("fee_lamports", round.FeeLamports),
		slog.Uint64("distributable", round.Distributable),
	)

	return round, nil
}

// Claim pays out a position of a settled round. The claimed flag flips
// exactly once, even when the payout is zero, so a second claim fails with
// no transfer.
func (s *RoundService) Claim(ctx context.Context, user common.Address, market uint8, roundID int64, side domain.Side) (uint64, error) {
	if !side.Valid() {
		return 0, domain.ErrInvalidSide
	}

	key := domain.RoundKey(market, roundID)
	unlock, err := s.lockRoundKey(ctx, key)
	if err != nil {
		return 0, err
	}
	defer unlock()

	round, err := s.rounds.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("round_service: get round %s: %w", key.Hex(), err)
	}
	if round.Status != domain.RoundSettled {
		return 0, domain.ErrRoundNotSettled
	}

	posKey := domain.PositionKey(key, user, side)
	pos, err := s.positions.Get(ctx, posKey)
	if err != nil {
		if isNotFound(err) {
			return 0, domain.ErrNothingToClaim
		}
		return 0, fmt.Errorf("round_service: get position %s: %w", posKey.Hex(), err)
	}
	if pos.User != user {
		return 0, domain.ErrPositionUserMismatch
	}
	if pos.Claimed {
		return 0, domain.ErrAlreadyClaimed
	}
	if pos.Amount == 0 {
		return 0, domain.ErrNothingToClaim
	}

	payout, err := ClaimPayout(round, pos)
	if err != nil {
		return 0, err
	}

	var payFromUp, payFromDown uint64
	if payout > 0 {
		up, down, err := s.vaults.Pair(ctx, key)
		if err != nil {
			return 0, fmt.Errorf("round_service: get vaults %s: %w", key.Hex(), err)
		}
		payFromUp, payFromDown, err = SplitWithdrawal(up.Balance, down.Balance, payout)
		if err != nil {
			return 0, err
		}
	}

	pos.Claimed = true
	pos.UpdatedAt = s.clock.Now()

	if err := s.rounds.ApplyClaim(ctx, pos, payFromUp, payFromDown); err != nil {
		return 0, fmt.Errorf("round_service: apply claim %s: %w", posKey.Hex(), err)
	}

	s.publish(ctx, domain.ChannelClaims, domain.ClaimedEvent{
		Event:  domain.EventClaimed,
		Round:  key,
		User:   user,
		Side:   pos.Side.String(),
		Stake:  pos.Amount,
		Payout: payout,
	})
	s.auditLog(ctx, domain.EventClaimed, map[string]any{
		"round":  key.Hex(),
		"user":   user.Hex(),
		"side":   pos.Side.String(),
		"stake":  pos.Amount,
		"payout": payout,
	})

	s.logger.InfoContext(ctx, "position claimed",
		slog.String("round", key.Hex()),
		slog.String("user", user.Hex()),
		slog.Uint64("stake", pos.Amount),
		slog.Uint64("payout", payout),
	)

	return payout, nil
}

// GetRound returns a round by its public identifiers, preferring the cache.
func (s *RoundService) GetRound(ctx context.Context, market uint8, roundID int64) (domain.Round, error) {
	key := domain.RoundKey(market, roundID)

	if s.cache != nil {
		if round, err := s.cache.Get(ctx, key); err == nil {
			return round, nil
		}
	}

	round, err := s.rounds.Get(ctx, key)
	if err != nil {
		return domain.Round{}, fmt.Errorf("round_service: get round %s: %w", key.Hex(), err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, round); err != nil {
			s.logger.DebugContext(ctx, "round cache set failed",
				slog.String("round", key.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	return round, nil
}

// ListRounds returns rounds ordered newest first.
func (s *RoundService) ListRounds(ctx context.Context, opts domain.ListOpts) ([]domain.Round, error) {
	rounds, err := s.rounds.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("round_service: list rounds: %w", err)
	}
	return rounds, nil
}

// RoundPositions returns all positions of a round.
func (s *RoundService) RoundPositions(ctx context.Context, market uint8, roundID int64, opts domain.ListOpts) ([]domain.Position, error) {
	key := domain.RoundKey(market, roundID)
	positions, err := s.positions.ListByRound(ctx, key, opts)
	if err != nil {
		return nil, fmt.Errorf("round_service: list positions %s: %w", key.Hex(), err)
	}
	return positions, nil
}

// UserPositions returns a user's positions across all rounds.
func (s *RoundService) UserPositions(ctx context.Context, user common.Address, opts domain.ListOpts) ([]domain.Position, error) {
	positions, err := s.positions.ListByUser(ctx, user, opts)
	if err != nil {
		return nil, fmt.Errorf("round_service: list user positions %s: %w", user.Hex(), err)
	}
	return positions, nil
}

// RoundVaults returns the Up and Down vaults of a round.
func (s *RoundService) RoundVaults(ctx context.Context, market uint8, roundID int64) (domain.Vault, domain.Vault, error) {
	key := domain.RoundKey(market, roundID)
	up, down, err := s.vaults.Pair(ctx, key)
	if err != nil {
		return domain.Vault{}, domain.Vault{}, fmt.Errorf("round_service: get vaults %s: %w", key.Hex(), err)
	}
	return up, down, nil
}

// ListLockable returns open rounds whose lock window contains now.
func (s *RoundService) ListLockable(ctx context.Context) ([]domain.Round, error) {
	rounds, err := s.rounds.ListLockable(ctx, s.clock.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("round_service: list lockable: %w", err)
	}
	return rounds, nil
}

// ListSettleable returns unsettled rounds past their end time.
func (s *RoundService) ListSettleable(ctx context.Context) ([]domain.Round, error) {
	rounds, err := s.rounds.ListSettleable(ctx, s.clock.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("round_service: list settleable: %w", err)
	}
	return rounds, nil
}

// loadConfig reads the protocol config and enforces the pause gate shared by
// every round operation except Claim.
func (s *RoundService) loadConfig(ctx context.Context) (domain.ProtocolConfig, error) {
	cfg, err := s.config.Get(ctx)
	if err != nil {
		return domain.ProtocolConfig{}, fmt.Errorf("round_service: load config: %w", err)
	}
	if cfg.Paused {
		return domain.ProtocolConfig{}, domain.ErrProtocolPaused
	}
	return cfg, nil
}

// lockRoundKey serializes all mutations of one round.
func (s *RoundService) lockRoundKey(ctx context.Context, key common.Hash) (func(), error) {
	unlock, err := s.locks.Acquire(ctx, "round:"+key.Hex(), roundLockTTL)
	if err != nil {
		return nil, fmt.Errorf("round_service: lock round %s: %w", key.Hex(), err)
	}
	return unlock, nil
}

func (s *RoundService) publish(ctx context.Context, channel string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, channel, payload); err != nil {
		s.logger.WarnContext(ctx, "publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, domain.StreamName(channel), payload); err != nil {
		s.logger.WarnContext(ctx, "stream append failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func (s *RoundService) auditLog(ctx context.Context, event string, detail map[string]any) {
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

func (s *RoundService) invalidate(ctx context.Context, key common.Hash) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, key); err != nil {
		s.logger.DebugContext(ctx, "round cache invalidate failed",
			slog.String("round", key.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
