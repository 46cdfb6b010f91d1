package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Pruner deletes journal entries older than the retention window on a cron
// schedule.
type Pruner struct {
	store     *Store
	sched     gocron.Scheduler
	schedule  string
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

type PrunerConfig struct {
	Schedule      string // cron expression, five fields
	RetentionDays int
	Logger        *slog.Logger
}

func NewPruner(store *Store, cfg PrunerConfig) (*Pruner, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "0 3 * * *"
	}
	logger := cfg.Logger.With("component", "journal-pruner")

	sched, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	p := &Pruner{
		store:     store,
		sched:     sched,
		schedule:  cfg.Schedule,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		logger:    logger,
		now:       time.Now,
	}

	_, err = sched.NewJob(
		gocron.CronJob(cfg.Schedule, false),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if _, err := p.RunOnce(ctx); err != nil {
				p.logger.Error("journal prune failed", "err", err)
			}
		}),
		gocron.WithName("journal-prune"),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("schedule journal prune %q: %w", cfg.Schedule, err)
	}
	return p, nil
}

// RunOnce prunes immediately. A zero retention keeps everything.
func (p *Pruner) RunOnce(ctx context.Context) (int64, error) {
	if p.retention <= 0 {
		return 0, nil
	}
	cutoff := p.now().Add(-p.retention)
	n, err := p.store.Prune(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	p.logger.Info("journal pruned", "deleted", n, "before", cutoff.Format(time.RFC3339))
	return n, nil
}

func (p *Pruner) Start() {
	p.sched.Start()
	p.logger.Info("journal pruner scheduled", "cron", p.schedule, "retention", p.retention)
}

func (p *Pruner) Stop() error {
	if err := p.sched.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	return nil
}
