package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tribalmingle/boost-auction/internal/domain/enums"
	pgrepo "github.com/tribalmingle/boost-auction/internal/repo/postgres"
	auctionsvc "github.com/tribalmingle/boost-auction/internal/services/auction"
)

type dueWindowSource interface {
	DueWindows(ctx context.Context, now time.Time) ([]pgrepo.WindowKey, error)
	ExpireFinished(ctx context.Context, now time.Time) (int64, error)
}

type resolver interface {
	Resolve(ctx context.Context, key pgrepo.WindowKey, trigger enums.ResolveTrigger) (auctionsvc.Outcome, error)
}

// Job is the scheduled trigger: every tick it settles windows whose cutoff has
// passed and expires boost runs that have ended. Windows missed during
// downtime show up as due and are caught up the same way.
type Job struct {
	source   dueWindowSource
	resolver resolver
	now      func() time.Time
	logger   *zap.Logger
}

func New(source dueWindowSource, resolver resolver, logger *zap.Logger) *Job {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Job{
		source:   source,
		resolver: resolver,
		now:      time.Now,
		logger:   logger,
	}
}

func (j *Job) Run(ctx context.Context) error {
	if j.source == nil || j.resolver == nil {
		return nil
	}

	now := j.now().UTC()

	due, err := j.source.DueWindows(ctx, now)
	if err != nil {
		return fmt.Errorf("list due windows: %w", err)
	}

	for _, key := range due {
		outcome, err := j.resolver.Resolve(ctx, key, enums.ResolveTriggerScheduled)
		if err != nil {
			// One broken window must not starve the rest of the sweep.
			j.logger.Error("window resolution failed",
				zap.Error(err),
				zap.String("locale", key.Locale),
				zap.String("placement", string(key.Placement)),
				zap.Time("window_start", key.WindowStart))
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			continue
		}
		if outcome.AlreadyResolved {
			continue
		}

		j.logger.Info("window resolved",
			zap.String("locale", key.Locale),
			zap.String("placement", string(key.Placement)),
			zap.Time("window_start", key.WindowStart),
			zap.Int("winners", len(outcome.Winners)),
			zap.Int("refunded", outcome.Refunded),
			zap.Int("rolled_over", outcome.RolledOver),
			zap.Int("anomalies", outcome.Anomalies))
	}

	expired, err := j.source.ExpireFinished(ctx, now)
	if err != nil {
		return fmt.Errorf("expire finished boosts: %w", err)
	}
	if expired > 0 {
		j.logger.Info("finished boosts expired", zap.Int64("expired", expired))
	}

	return nil
}
