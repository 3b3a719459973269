package main

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type overdueEscalator interface {
	EscalateOverdue(ctx context.Context) (int, error)
}

// Sweeper periodically escalates reports past their SLA deadline.
type Sweeper struct {
	cron   *cron.Cron
	engine overdueEscalator
	logger *zap.Logger
}

// NewSweeper schedules the sweep on a standard five-field cron spec.
func NewSweeper(ctx context.Context, spec string, engine overdueEscalator, logger *zap.Logger) (*Sweeper, error) {
	s := &Sweeper{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		engine: engine,
		logger: logger,
	}
	if _, err := s.cron.AddFunc(spec, func() { s.Run(ctx) }); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return s, nil
}

// Run performs one sweep.
func (s *Sweeper) Run(ctx context.Context) {
	n, err := s.engine.EscalateOverdue(ctx)
	if err != nil {
		s.logger.Error("sla sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("escalated overdue reports", zap.Int("count", n))
	}
}

func (s *Sweeper) Start() { s.cron.Start() }

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
