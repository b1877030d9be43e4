/**
 * @description
 * Cron scheduler setup for scheduled jobs.
 */
package app

import (
	"context"

	"github.com/neelvaidya133/bankify/internal/logger"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Schedules holds the cron expressions of the jobs.
type Schedules struct {
	StatementGeneration string
	EMICollection       string
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	jobs      *Jobs
	logger    zerolog.Logger
	schedules Schedules
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, log zerolog.Logger, schedules Schedules) *Scheduler {
	log = log.With().Str("component", "scheduler").Logger()
	cronLogger := cron.PrintfLogger(logger.Printf{Logger: log})
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:      c,
		jobs:      jobs,
		logger:    log,
		schedules: schedules,
	}
}

func (s *Scheduler) register(name, spec string, job func()) {
	if spec == "" {
		s.logger.Info().Str("job", name).Msg("job disabled; no schedule configured")
		return
	}
	if _, err := s.cron.AddFunc(spec, job); err != nil {
		s.logger.Error().Err(err).Str("job", name).Str("schedule", spec).Msg("failed to schedule job")
		return
	}
	s.logger.Info().Str("job", name).Str("schedule", spec).Msg("scheduled job")
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	s.register("statement_generation", s.schedules.StatementGeneration, s.jobs.GenerateStatements)
	s.register("emi_collection", s.schedules.EMICollection, s.jobs.CollectInstallments)
	s.cron.Start()
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
