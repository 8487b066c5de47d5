package sweeperapp

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tribalmingle/boost-auction/internal/config"
	"github.com/tribalmingle/boost-auction/internal/jobs/sweep"
	pgrepo "github.com/tribalmingle/boost-auction/internal/repo/postgres"
	redrepo "github.com/tribalmingle/boost-auction/internal/repo/redis"
	auctionsvc "github.com/tribalmingle/boost-auction/internal/services/auction"
	rolloversvc "github.com/tribalmingle/boost-auction/internal/services/rollover"
	windowssvc "github.com/tribalmingle/boost-auction/internal/services/windows"
)

// App is the resolution sweeper: a single loop that settles every window past
// its cutoff and expires finished boosts. The api process never resolves on
// its own; this loop and the admin force-clear are the only triggers.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	postgres *pgxpool.Pool
	redis    *goredis.Client
	job      *sweep.Job
}

func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	pool, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("init postgres for sweeper app: %w", err)
	}

	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	lockRepo := redrepo.NewLockRepo(redisClient)
	bidRepo := pgrepo.NewBidRepo(pool)
	creditRepo := pgrepo.NewCreditRepo(pool)
	windowRepo := pgrepo.NewWindowRepo(pool)

	auctionService := auctionsvc.NewService(auctionsvc.Dependencies{
		Pool:     pool,
		Bids:     bidRepo,
		Credits:  creditRepo,
		Markers:  windowRepo,
		Clock:    windowssvc.NewClock(cfg.Auction),
		Locks:    lockRepo,
		Rollover: rolloversvc.NewEngine(cfg.Auction.MaxRollovers),
	})

	return &App{
		cfg:      cfg,
		logger:   logger,
		postgres: pool,
		redis:    redisClient,
		job:      sweep.New(bidRepo, auctionService, logger),
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	a.logger.Info("sweeper app started")

	interval := a.cfg.Sweeper.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	a.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("sweeper app stopped")
			return nil
		case <-ticker.C:
			a.runOnce(ctx)
		}
	}
}

// runOnce logs and swallows sweep failures so a transient outage does not
// take the process down; the next tick retries the same due windows.
func (a *App) runOnce(ctx context.Context) {
	if err := a.job.Run(ctx); err != nil && ctx.Err() == nil {
		a.logger.Error("sweep run failed", zap.Error(err))
	}
}

func (a *App) Close() {
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
