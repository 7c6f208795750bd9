// Package keeper drives time-based round transitions that no user request
// triggers: locking rounds whose lock window has opened and settling rounds
// past their end time.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pancholabs/pancho-engine/internal/domain"
	"github.com/pancholabs/pancho-engine/internal/service"
)

// Config holds the keeper's polling intervals.
type Config struct {
	LockInterval     time.Duration
	SettleInterval   time.Duration
	ArchiveInterval  time.Duration
	ArchiveAfterDays int
}

// Defaults fills zero-valued intervals.
func (c *Config) Defaults() {
	if c.LockInterval <= 0 {
		c.LockInterval = 5 * time.Second
	}
	if c.SettleInterval <= 0 {
		c.SettleInterval = 15 * time.Second
	}
	if c.ArchiveInterval <= 0 {
		c.ArchiveInterval = 6 * time.Hour
	}
	if c.ArchiveAfterDays <= 0 {
		c.ArchiveAfterDays = 30
	}
}

// Keeper polls for due rounds and applies the lock and settle transitions.
// An optional archiver moves old settled rounds to cold storage.
type Keeper struct {
	rounds   *service.RoundService
	archiver domain.Archiver
	cfg      Config
	logger   *slog.Logger
}

// New creates a Keeper. archiver may be nil.
func New(rounds *service.RoundService, archiver domain.Archiver, cfg Config, logger *slog.Logger) *Keeper {
	cfg.Defaults()
	return &Keeper{
		rounds:   rounds,
		archiver: archiver,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "keeper")),
	}
}

// Run starts the keeper loops as concurrent goroutines using an errgroup.
// Each loop respects ctx cancellation. If any loop returns a non-context
// error, the errgroup cancels the shared context and Run returns that error.
func (k *Keeper) Run(ctx context.Context) error {
	k.logger.Info("keeper starting",
		slog.Duration("lock_interval", k.cfg.LockInterval),
		slog.Duration("settle_interval", k.cfg.SettleInterval),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := k.runLoop(ctx, k.cfg.LockInterval, k.lockDue)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("lock loop: %w", err)
	})

	g.Go(func() error {
		err := k.runLoop(ctx, k.cfg.SettleInterval, k.settleDue)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("settle loop: %w", err)
	})

	if k.archiver != nil {
		g.Go(func() error {
			err := k.runLoop(ctx, k.cfg.ArchiveInterval, k.archiveOld)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archive loop: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		k.logger.Error("keeper stopped with error", slog.String("error", err.Error()))
		return err
	}

	k.logger.Info("keeper stopped cleanly")
	return nil
}

// runLoop runs fn immediately and then on every tick until ctx is done. fn
// errors are logged, not fatal; a broken round must not stall the rest.
func (k *Keeper) runLoop(ctx context.Context, interval time.Duration, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		k.logger.Error("keeper pass failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				k.logger.Error("keeper pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// lockDue locks every open round whose lock window contains now.
func (k *Keeper) lockDue(ctx context.Context) error {
	rounds, err := k.rounds.ListLockable(ctx)
	if err != nil {
		return err
	}

	for _, r := range rounds {
		if _, err := k.rounds.Lock(ctx, r.Market, r.RoundID); err != nil {
			if isExpectedRace(err) {
				continue
			}
			k.logger.Warn("keeper lock failed",
				slog.String("round", r.Key.Hex()),
				slog.Int64("round_id", r.RoundID),
				slog.String("error", err.Error()),
			)
			continue
		}
		k.logger.Info("keeper locked round",
			slog.String("round", r.Key.Hex()),
			slog.Int64("round_id", r.RoundID),
		)
	}
	return nil
}

// settleDue settles every unsettled round past its end time. Rounds stuck
// open after a missed lock window settle here with no winner.
func (k *Keeper) settleDue(ctx context.Context) error {
	rounds, err := k.rounds.ListSettleable(ctx)
	if err != nil {
		return err
	}

	for _, r := range rounds {
		if _, err := k.rounds.Settle(ctx, r.Market, r.RoundID); err != nil {
			if isExpectedRace(err) {
				continue
			}
			k.logger.Warn("keeper settle failed",
				slog.String("round", r.Key.Hex()),
				slog.Int64("round_id", r.RoundID),
				slog.String("error", err.Error()),
			)
			continue
		}
		k.logger.Info("keeper settled round",
			slog.String("round", r.Key.Hex()),
			slog.Int64("round_id", r.RoundID),
		)
	}
	return nil
}

// archiveOld moves settled rounds older than the retention window to cold
// storage.
func (k *Keeper) archiveOld(ctx context.Context) error {
	n, err := k.archiver.ArchiveSettled(ctx, k.cfg.ArchiveAfterDays)
	if err != nil {
		return err
	}
	if n > 0 {
		k.logger.Info("keeper archived rounds", slog.Int("count", n))
	}
	return nil
}

// isExpectedRace reports errors that mean another actor already performed the
// transition, or is holding the round lock right now.
func isExpectedRace(err error) bool {
	return errors.Is(err, domain.ErrLockHeld) ||
		errors.Is(err, domain.ErrRoundAlreadyLocked) ||
		errors.Is(err, domain.ErrRoundAlreadySettled) ||
		errors.Is(err, domain.ErrTooEarlyToLock) ||
		errors.Is(err, domain.ErrLockWindowExpired)
}
