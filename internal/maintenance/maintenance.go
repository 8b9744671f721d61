// Package maintenance runs periodic queue housekeeping: reclaiming
// expired leases and pruning dead entries past their retention window.
package maintenance

import (
	"context"
	"time"

	"courier/internal/eventbus"
	"courier/internal/storage"
	logx "courier/pkg/logx"

	"github.com/robfig/cron/v3"
)

type Config struct {
	// Schedule is a cron spec or descriptor ("@every 1m" by default).
	Schedule string
	// Retention is how long dead entries are kept for inspection.
	Retention time.Duration
}

func (c Config) withDefaults() Config {
	if c.Schedule == "" {
		c.Schedule = "@every 1m"
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	return c
}

type Service struct {
	cfg   Config
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger

	cron *cron.Cron
}

func New(cfg Config, store storage.Store, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg.withDefaults(),
		store: store,
		bus:   bus,
		log:   log.With(logx.String("comp", "maintenance")),
	}
}

func (s *Service) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.Schedule, s.sweep); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.log.Info("maintenance scheduled", logx.String("schedule", s.cfg.Schedule))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.cron = nil
}

func (s *Service) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	reclaimed, err := s.store.ReclaimExpiredLeases(ctx)
	if err != nil {
		s.log.Warn("lease reclaim failed", logx.Err(err))
	}
	pruned, err := s.store.PruneDeadDeliveries(ctx, s.cfg.Retention)
	if err != nil {
		s.log.Warn("dead prune failed", logx.Err(err))
	}
	if reclaimed > 0 || pruned > 0 {
		s.log.Info("queue swept",
			logx.Int64("reclaimed", reclaimed),
			logx.Int64("pruned", pruned),
		)
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{
				Type: eventbus.TypeMaintenanceSwept,
				Data: map[string]int64{"reclaimed": reclaimed, "pruned": pruned},
			})
		}
	}
}
