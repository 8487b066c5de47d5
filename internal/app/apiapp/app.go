package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tribalmingle/boost-auction/internal/config"
	pgrepo "github.com/tribalmingle/boost-auction/internal/repo/postgres"
	redrepo "github.com/tribalmingle/boost-auction/internal/repo/redis"
	auctionsvc "github.com/tribalmingle/boost-auction/internal/services/auction"
	authsvc "github.com/tribalmingle/boost-auction/internal/services/auth"
	bidssvc "github.com/tribalmingle/boost-auction/internal/services/bids"
	ratesvc "github.com/tribalmingle/boost-auction/internal/services/rate"
	rolloversvc "github.com/tribalmingle/boost-auction/internal/services/rollover"
	windowssvc "github.com/tribalmingle/boost-auction/internal/services/windows"
)

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	postgres   *pgxpool.Pool
	redis      *goredis.Client
	httpRouter http.Handler
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log)

	var pool *pgxpool.Pool
	if p, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN); err != nil {
		log.Warn("postgres init failed, continuing in degraded mode", zap.Error(err))
	} else {
		pool = p
	}

	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	lockRepo := redrepo.NewLockRepo(redisClient)
	rateRepo := redrepo.NewRateRepo(redisClient)
	bidRepo := pgrepo.NewBidRepo(pool)
	creditRepo := pgrepo.NewCreditRepo(pool)
	windowRepo := pgrepo.NewWindowRepo(pool)

	jwtManager := authsvc.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTAccessTTL)
	clock := windowssvc.NewClock(cfg.Auction)
	rateLimiter := ratesvc.NewLimiter(rateRepo, cfg.Auction.BidsPerMinute, cfg.Auction.BidsPer10Seconds)
	rolloverEngine := rolloversvc.NewEngine(cfg.Auction.MaxRollovers)

	bidService := bidssvc.NewService(bidssvc.Dependencies{
		Pool:        pool,
		Bids:        bidRepo,
		Credits:     creditRepo,
		Resolutions: windowRepo,
		Clock:       clock,
		Limiter:     rateLimiter,
		Locks:       lockRepo,
	}, bidssvc.Config{
		SuggestedBidStep: cfg.Auction.SuggestedBidStep,
		HistoryLimit:     cfg.Auction.HistoryLimit,
	})
	auctionService := auctionsvc.NewService(auctionsvc.Dependencies{
		Pool:     pool,
		Bids:     bidRepo,
		Credits:  creditRepo,
		Markers:  windowRepo,
		Clock:    clock,
		Locks:    lockRepo,
		Rollover: rolloverEngine,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	RegisterRoutes(r, Dependencies{
		BidService:     bidService,
		AuctionService: auctionService,
		Clock:          clock,
		JWTManager:     jwtManager,
		Logger:         log,
		Config:         cfg,
	})

	return &App{
		cfg:        cfg,
		logger:     log,
		server:     server,
		postgres:   pool,
		redis:      redisClient,
		httpRouter: r,
	}, nil
}

func (a *App) Run() error {
	a.logger.Info("api server started", zap.String("addr", a.cfg.HTTP.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}
