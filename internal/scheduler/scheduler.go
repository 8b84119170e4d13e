// Package scheduler runs the periodic maintenance jobs: expiring legacy
// pending upgrades and freeing upgrade locks whose holder died.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/searchleads/billing/internal/clock"
	"github.com/searchleads/billing/internal/observability/metrics"
	subscriptiondomain "github.com/searchleads/billing/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

// Config controls scheduler intervals.
type Config struct {
	RunInterval time.Duration
	JobTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.RunInterval <= 0 {
		c.RunInterval = time.Minute
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Second
	}
	return c
}

type Params struct {
	fx.In

	Log         *zap.Logger
	Clock       clock.Clock
	Coordinator subscriptiondomain.Coordinator
	Metrics     *metrics.Metrics
	Config      Config `optional:"true"`
}

type Scheduler struct {
	log         *zap.Logger
	cfg         Config
	clock       clock.Clock
	coordinator subscriptiondomain.Coordinator
	metrics     *metrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.Coordinator == nil || p.Metrics == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:         p.Log.Named("scheduler"),
		cfg:         p.Config.withDefaults(),
		clock:       p.Clock,
		coordinator: p.Coordinator,
		metrics:     p.Metrics,
	}, nil
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	jobs := []struct {
		Name string
		Run  func(context.Context) (int64, error)
	}{
		{"expired_pending_upgrades", s.coordinator.SweepExpiredPendingUpgrades},
		{"stale_upgrade_locks", s.coordinator.SweepStaleLocks},
	}

	var err error
	for _, job := range jobs {
		err = errors.Join(err, s.runJob(parent, job.Name, job.Run))
	}
	return err
}

func (s *Scheduler) runJob(parent context.Context, name string, run func(context.Context) (int64, error)) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	affected, err := run(ctx)
	if err != nil {
		s.log.Warn("scheduler job failed", zap.String("job", name), zap.Error(err))
		return err
	}
	if affected > 0 {
		s.metrics.RecordSweep(name, affected)
		s.log.Info("scheduler job swept rows",
			zap.String("job", name),
			zap.Int64("affected", affected),
		)
	}
	return nil
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
