// Package maintenance schedules periodic background upkeep: the
// full-text index's weekly merge/optimize pass.
package maintenance

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"
)

// Merger is the narrow view of the FTS index the scheduler needs.
type Merger interface {
	Merge(ctx context.Context) error
}

// Scheduler drives recurring maintenance jobs on a cron.Cron instance.
type Scheduler struct {
	cron *cron.Cron
	log  logr.Logger
}

// New builds a Scheduler and registers the weekly index-merge job against
// merger, running Sunday at 03:00 local time.
func New(merger Merger, log logr.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron: cron.New(),
		log:  log.WithName("maintenance"),
	}
	if _, err := s.cron.AddFunc("0 3 * * 0", func() {
		if err := merger.Merge(context.Background()); err != nil {
			s.log.Info("fts index merge failed", "error", err.Error())
		}
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }
