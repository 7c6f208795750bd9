package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pancholabs/pancho-engine/internal/domain"
	"github.com/pancholabs/pancho-engine/internal/keeper"
	"github.com/pancholabs/pancho-engine/internal/notify"
	"github.com/pancholabs/pancho-engine/internal/oracle"
	"github.com/pancholabs/pancho-engine/internal/server"
	"github.com/pancholabs/pancho-engine/internal/server/handler"
	"github.com/pancholabs/pancho-engine/internal/server/ws"
	"github.com/pancholabs/pancho-engine/internal/service"
)

// ServerMode runs the HTTP/WebSocket API without the background keeper.
// Lifecycle transitions still happen, but only when a request drives them.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	configSvc, roundSvc := a.buildServices(deps)
	a.startHTTPServer(ctx, g, deps, configSvc, roundSvc)
	a.startNotifyListener(ctx, g, deps)

	return g.Wait()
}

// KeeperMode runs only the background transition driver: locking rounds whose
// lock window has opened, settling rounds past their end time, and archiving
// old settled rounds to cold storage.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting keeper mode")

	g, ctx := errgroup.WithContext(ctx)

	_, roundSvc := a.buildServices(deps)
	a.startKeeper(ctx, g, roundSvc, deps.Archiver)
	a.startNotifyListener(ctx, g, deps)

	return g.Wait()
}

// FullMode runs the HTTP/WebSocket API and the keeper in one process. Either
// half can be disabled through config; Validate rejects disabling both.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	configSvc, roundSvc := a.buildServices(deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, configSvc, roundSvc)
	}
	if a.cfg.Keeper.Enabled {
		a.startKeeper(ctx, g, roundSvc, deps.Archiver)
	}
	a.startNotifyListener(ctx, g, deps)

	return g.Wait()
}

// buildServices constructs the service layer shared by all modes.
func (a *App) buildServices(deps *Dependencies) (*service.ConfigService, *service.RoundService) {
	clock := domain.SystemClock{}

	configSvc := service.NewConfigService(deps.Protocol, deps.Audit, clock, a.logger)

	feedSource := oracle.NewRPCSource(a.cfg.Oracle.RPCURL, a.cfg.Oracle.Timeout.Duration)
	priceReader := oracle.NewReader(feedSource)

	roundSvc := service.NewRoundService(
		deps.Rounds, deps.Positions, deps.Vaults, deps.Protocol,
		priceReader, deps.LockManager, deps.SignalBus, deps.Audit,
		deps.RoundCache, clock, a.logger,
	)
	return configSvc, roundSvc
}

// startHTTPServer adds the WebSocket hub and HTTP server goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	configSvc *service.ConfigService,
	roundSvc *service.RoundService,
) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return err
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"postgres": handler.PingerFunc(deps.Postgres.Pool().Ping),
			"redis":    handler.PingerFunc(deps.Redis.Ping),
		}, a.logger),
		Protocol:  handler.NewProtocolHandler(configSvc, a.logger),
		Rounds:    handler.NewRoundHandler(roundSvc, a.logger),
		Positions: handler.NewPositionHandler(roundSvc, a.logger),
		Audit:     handler.NewAuditHandler(deps.Audit, a.logger),
	}
	if deps.BlobReader != nil {
		handlers.Archives = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:           a.cfg.Server.Port,
		CORSOrigins:    a.cfg.Server.CORSOrigins,
		APIKey:         a.cfg.Server.APIKey,
		RateLimitRPS:   a.cfg.Server.RateLimitRPS,
		RateLimitBurst: a.cfg.Server.RateLimitBurst,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		if err := srv.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startKeeper adds the keeper goroutine to the given errgroup.
func (a *App) startKeeper(ctx context.Context, g *errgroup.Group, roundSvc *service.RoundService, archiver domain.Archiver) {
	k := keeper.New(roundSvc, archiver, keeper.Config{
		LockInterval:     a.cfg.Keeper.LockInterval.Duration,
		SettleInterval:   a.cfg.Keeper.SettleInterval.Duration,
		ArchiveInterval:  a.cfg.Keeper.ArchiveInterval.Duration,
		ArchiveAfterDays: a.cfg.Keeper.ArchiveRetentionDays,
	}, a.logger)

	g.Go(func() error {
		err := k.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return err
	})
}

// startNotifyListener forwards engine events to the configured notification
// channels. It is a no-op when no channel is configured.
func (a *App) startNotifyListener(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if a.cfg.Notify.TelegramToken == "" && a.cfg.Notify.DiscordWebhookURL == "" {
		return
	}

	listener := notify.NewListener(deps.SignalBus, deps.Notifier, a.logger)
	g.Go(func() error {
		err := listener.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return err
	})
}
