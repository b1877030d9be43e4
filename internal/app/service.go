/**
 * @description
 * This file contains the core of the ledger-service. The `Service` struct orchestrates every
 * money movement: purchases with temporary cards, EMI purchases, credit card bill payments,
 * peer-to-peer transfers and deposits.
 *
 * Key features:
 * - Each operation is a short saga (validating -> authorizing -> posting -> committed) that
 *   runs inside one store unit of work, so a failure leaves no partial writes.
 * - Lock conflicts reported by the store are retried a bounded number of times.
 * - Post-commit side effects (transfer notifications) never affect the outcome.
 *
 * @dependencies
 * - github.com/rs/zerolog: structured logging.
 * - github.com/shopspring/decimal: EMI rate arithmetic.
 * - internal/domain, internal/store: domain models and data access.
 */

package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/neelvaidya133/bankify/internal/domain"
	"github.com/neelvaidya133/bankify/internal/money"
	"github.com/neelvaidya133/bankify/internal/store"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Clock returns the current time. Operations never read the wall clock directly.
type Clock func() time.Time

// Settings are the tunables of the settlement core.
type Settings struct {
	MaxRetries                 int
	EMIAnnualRate              decimal.Decimal
	NotificationTimeout        time.Duration
	TempCardTTL                time.Duration
	MaxDeposit                 money.Money
	MaxBalance                 money.Money
	PurchaseRateLimitPerMinute int
}

func (s Settings) withDefaults() Settings {
	if s.MaxRetries < 0 {
		s.MaxRetries = 0
	}
	if s.EMIAnnualRate.IsNegative() {
		s.EMIAnnualRate = decimal.Zero
	}
	if s.NotificationTimeout <= 0 {
		s.NotificationTimeout = 5 * time.Second
	}
	if s.TempCardTTL <= 0 {
		s.TempCardTTL = 24 * time.Hour
	}
	if s.MaxDeposit <= 0 {
		s.MaxDeposit = money.FromMajor(10_000_000)
	}
	if s.MaxBalance <= 0 {
		s.MaxBalance = money.FromMajor(1_000_000_000)
	}
	return s
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		MaxRetries:                 3,
		EMIAnnualRate:              decimal.NewFromFloat(0.10),
		PurchaseRateLimitPerMinute: 10,
	}.withDefaults()
}

// RateLimiter counts attempts per subject inside a fixed window.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// TransferNotifier delivers the "you received money" message to a transfer recipient.
type TransferNotifier interface {
	NotifyTransfer(ctx context.Context, n domain.TransferNotification) error
}

// Service provides the core business logic for the ledger.
type Service struct {
	repo     store.Repository
	notifier TransferNotifier
	limiter  RateLimiter
	logger   zerolog.Logger
	settings Settings
	now      Clock

	inflight sync.WaitGroup
}

// NewService creates a new ledger service instance. notifier and limiter may be nil.
func NewService(repo store.Repository, notifier TransferNotifier, limiter RateLimiter, logger zerolog.Logger, settings Settings, clock Clock) *Service {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:     repo,
		notifier: notifier,
		limiter:  limiter,
		logger:   logger.With().Str("component", "settlement").Logger(),
		settings: settings.withDefaults(),
		now:      clock,
	}
}

// Wait blocks until every post-commit side effect started so far has finished.
func (s *Service) Wait() {
	s.inflight.Wait()
}

// saga tracks the lifecycle of one operation attempt.
type saga struct {
	op     string
	state  domain.SettlementState
	logger zerolog.Logger
}

func (sg *saga) advance(next domain.SettlementState) {
	sg.logger.Debug().Str("from", string(sg.state)).Str("to", string(next)).Msg("saga transition")
	sg.state = next
}

// settle runs fn inside one unit of work, retrying on store conflicts. Any failure is
// returned as an *OperationError.
func (s *Service) settle(ctx context.Context, op string, fn func(tx store.Tx, sg *saga) error) error {
	attempts := s.settings.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		sg := &saga{
			op:     op,
			state:  domain.StateValidating,
			logger: s.logger.With().Str("operation", op).Int("attempt", attempt).Logger(),
		}

		err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
			return fn(tx, sg)
		})
		if err == nil {
			sg.advance(domain.StateCommitted)
			sg.logger.Info().Str("outcome", "committed").Msg("operation settled")
			return nil
		}

		sg.advance(domain.StateFailed)
		lastErr = err
		if !errors.Is(err, store.ErrConflict) || attempt == attempts {
			break
		}
		sg.logger.Warn().Err(err).Msg("store conflict; retrying")
		if waitErr := sleepContext(ctx, time.Duration(attempt)*10*time.Millisecond); waitErr != nil {
			lastErr = waitErr
			break
		}
	}

	opErr := classify(lastErr)
	event := s.logger.Info()
	if opErr.Code == CodeStoreUnavailable || opErr.Code == CodeConcurrencyConflict {
		event = s.logger.Error().Err(lastErr)
	}
	event.Str("operation", op).Str("outcome", "rejected").Str("error_code", string(opErr.Code)).Msg(opErr.Message)
	return opErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
