package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neelvaidya133/bankify/internal/domain"
	"github.com/neelvaidya133/bankify/internal/money"
	"github.com/neelvaidya133/bankify/internal/store"
)

// billingPeriodFor returns the calendar month of t (UTC) and its due date, the 15th of the
// following month.
func billingPeriodFor(t time.Time) domain.BillingPeriod {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return domain.BillingPeriod{
		Start:   start,
		End:     start.AddDate(0, 1, -1),
		DueDate: time.Date(t.Year(), t.Month()+1, 15, 0, 0, 0, 0, time.UTC),
	}
}

func statementStatus(st *domain.Statement) domain.StatementStatus {
	if st.PaidAmount >= st.StatementAmount {
		return domain.StatementPaid
	}
	return domain.StatementUnpaid
}

// postCharge adds amount to the card's statement for the month of occurredAt.
func postCharge(ctx context.Context, tx store.Tx, card *domain.Card, amount money.Money, occurredAt time.Time) (*domain.Statement, error) {
	if !amount.IsPositive() {
		return nil, validationError("charge amount must be positive")
	}
	st, _, err := tx.LockOrCreateStatement(ctx, card, billingPeriodFor(occurredAt), occurredAt)
	if err != nil {
		return nil, fmt.Errorf("failed to find or create statement: %w", err)
	}
	st.StatementAmount = st.StatementAmount.Add(amount)
	st.Status = statementStatus(st)
	st.UpdatedAt = occurredAt
	if err := tx.UpdateStatementAmounts(ctx, st); err != nil {
		return nil, fmt.Errorf("failed to update statement: %w", err)
	}
	return st, nil
}

// checkStatementPayment validates amount against what is still owed on st.
func checkStatementPayment(st *domain.Statement, amount money.Money) error {
	if !amount.IsPositive() {
		return validationError("payment amount must be positive")
	}
	if st.PaidAmount >= st.StatementAmount {
		return newOpError(CodeAlreadyPaid, "bill is already paid in full")
	}
	if remaining := st.StatementAmount.Sub(st.PaidAmount); amount > remaining {
		return newOpError(CodeOverpayment, "payment amount %s exceeds remaining balance %s", amount, remaining)
	}
	return nil
}

// applyStatementPayment records amount as paid on st.
func applyStatementPayment(st *domain.Statement, amount money.Money, now time.Time) error {
	if err := checkStatementPayment(st, amount); err != nil {
		return err
	}
	st.PaidAmount = st.PaidAmount.Add(amount)
	st.Status = statementStatus(st)
	st.UpdatedAt = now
	return nil
}

// isOverdue reports whether st is past due with money still owed.
func isOverdue(st domain.Statement, now time.Time) bool {
	return st.DueDate.Before(now) && st.PaidAmount < st.StatementAmount
}

// GenerateMonthlyStatements makes sure every active credit card has a statement for the
// current month. New statements start from the charges already in the ledger.
func (s *Service) GenerateMonthlyStatements(ctx context.Context) (int, error) {
	cards, err := s.repo.ListActiveCreditCards(ctx)
	if err != nil {
		return 0, classify(err)
	}

	now := s.now()
	period := billingPeriodFor(now)
	created := 0
	for i := range cards {
		card := cards[i]
		inserted := false
		err := s.settle(ctx, "statement_generation", func(tx store.Tx, sg *saga) error {
			sg.advance(domain.StatePosting)
			st, isNew, err := tx.LockOrCreateStatement(ctx, &card, period, now)
			if err != nil {
				return err
			}
			inserted = false
			if !isNew {
				return nil
			}
			charges, err := tx.SumCardCharges(ctx, card.ID, period)
			if err != nil {
				return err
			}
			st.StatementAmount = charges
			st.Status = statementStatus(st)
			st.UpdatedAt = now
			if err := tx.UpdateStatementAmounts(ctx, st); err != nil {
				return err
			}
			inserted = true
			return nil
		})
		if err != nil {
			s.logger.Warn().Str("component", "billing").Str("card_id", card.ID.String()).Err(err).Msg("statement generation failed for card")
			continue
		}
		if inserted {
			created++
		}
	}
	return created, nil
}

// ListStatements returns the caller's statements with the derived overdue flag.
func (s *Service) ListStatements(ctx context.Context, userID uuid.UUID) ([]domain.StatementView, error) {
	statements, err := s.repo.ListStatementsByUserID(ctx, userID)
	if err != nil {
		return nil, classify(err)
	}
	now := s.now()
	views := make([]domain.StatementView, 0, len(statements))
	for _, st := range statements {
		views = append(views, domain.StatementView{
			Statement: st,
			Remaining: st.Remaining(),
			Overdue:   isOverdue(st, now),
		})
	}
	return views, nil
}
