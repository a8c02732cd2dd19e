// Package jobs runs periodic housekeeping on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const DefaultHeldOrderSpec = "@daily"

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type HeldOrderExpirer interface {
	Expire(ctx context.Context, before time.Time) (int, error)
}

type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewScheduler(loc *time.Location, logger *zap.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc), cron.WithParser(cronParser)),
		logger:  logger.Named("jobs"),
		timeout: time.Minute,
		now:     time.Now,
	}
}

// ScheduleHeldOrderExpiry deletes held orders older than retention on
// every tick of spec.
func (s *Scheduler) ScheduleHeldOrderExpiry(spec string, retention time.Duration, held HeldOrderExpirer) error {
	if spec == "" {
		spec = DefaultHeldOrderSpec
	}
	if retention <= 0 {
		return fmt.Errorf("held order retention must be positive, got %s", retention)
	}
	_, err := s.cron.AddFunc(spec, func() {
		s.expireHeldOrders(retention, held)
	})
	if err != nil {
		return fmt.Errorf("schedule held order expiry %q: %w", spec, err)
	}
	return nil
}

func (s *Scheduler) expireHeldOrders(retention time.Duration, held HeldOrderExpirer) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	cutoff := s.now().Add(-retention)
	n, err := held.Expire(ctx, cutoff)
	if err != nil {
		s.logger.Error("held order expiry failed", zap.Error(err))
		return
	}
	s.logger.Info("held order expiry finished", zap.Int("expired", n), zap.Time("cutoff", cutoff))
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for running jobs to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
