/**
 * @description
 * Scheduled job implementations: monthly statement generation and EMI installment collection.
 */
package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Ledger is the part of the service the jobs drive.
type Ledger interface {
	GenerateMonthlyStatements(ctx context.Context) (int, error)
	CollectDueInstallments(ctx context.Context, asOf time.Time) (CollectionReport, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	ledger  Ledger
	logger  zerolog.Logger
	now     Clock
	timeout time.Duration
}

// NewJobs creates a new Jobs runner. Each run is bounded by timeout.
func NewJobs(ledger Ledger, logger zerolog.Logger, clock Clock, timeout time.Duration) *Jobs {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Jobs{
		ledger:  ledger,
		logger:  logger.With().Str("component", "jobs").Logger(),
		now:     clock,
		timeout: timeout,
	}
}

// GenerateStatements opens this month's statement for every active credit card.
func (j *Jobs) GenerateStatements() {
	j.logger.Info().Msg("starting statement generation job")
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	created, err := j.ledger.GenerateMonthlyStatements(ctx)
	if err != nil {
		j.logger.Error().Err(err).Msg("failed to generate monthly statements")
		return
	}
	j.logger.Info().Int("created", created).Msg("statement generation job finished")
}

// CollectInstallments charges every EMI installment that has fallen due.
func (j *Jobs) CollectInstallments() {
	j.logger.Info().Msg("starting emi collection job")
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	report, err := j.ledger.CollectDueInstallments(ctx, j.now())
	if err != nil {
		j.logger.Error().Err(err).Msg("failed to collect emi installments")
		return
	}
	j.logger.Info().
		Int("collected", report.Collected).
		Int("defaulted", report.Defaulted).
		Int("failed", report.Failed).
		Msg("emi collection job finished")
}
