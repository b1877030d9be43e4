package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/neelvaidya133/bankify/internal/domain"
	"github.com/neelvaidya133/bankify/internal/store"
)

// PayBill pays part or all of a credit card statement from the caller's deposit account and
// restores the same amount of available credit on the card.
func (s *Service) PayBill(ctx context.Context, userID uuid.UUID, req domain.BillPaymentRequest) (*domain.BillPaymentResult, error) {
	if req.StatementID == uuid.Nil {
		return nil, validationError("statement_id is required")
	}
	if !req.Amount.IsPositive() {
		return nil, validationError("payment amount must be greater than zero")
	}

	var result *domain.BillPaymentResult
	err := s.settle(ctx, "bill_payment", func(tx store.Tx, sg *saga) error {
		now := s.now()
		// Card, then account, then statement: the order purchases take.
		found, err := tx.FindStatementByID(ctx, req.StatementID)
		if err != nil {
			return err
		}
		if found.UserID != userID {
			return notFoundError("statement not found")
		}

		sg.advance(domain.StateAuthorizing)
		card, err := tx.LockCard(ctx, found.CardID)
		if err != nil {
			return err
		}
		account, err := tx.LockAccountByUserID(ctx, userID)
		if err != nil {
			return err
		}
		st, err := tx.LockStatement(ctx, req.StatementID)
		if err != nil {
			return err
		}
		if err := checkStatementPayment(st, req.Amount); err != nil {
			return err
		}
		if account.Balance < req.Amount {
			return insufficientFunds("insufficient funds in bank account: available %s, required %s", account.Balance, req.Amount)
		}
		credit := &creditSource{card: card}

		sg.advance(domain.StatePosting)
		txn, err := recordTransaction(ctx, tx, ledgerEntry{
			userID:       userID,
			cardID:       &card.ID,
			kind:         domain.KindPayment,
			amount:       req.Amount,
			description:  "Credit card bill payment",
			counterparty: "Credit Card Payment",
		}, now)
		if err != nil {
			return err
		}

		account.Balance = account.Balance.Sub(req.Amount)
		if err := tx.UpdateAccountBalance(ctx, account.ID, account.Balance, now); err != nil {
			return fmt.Errorf("failed to debit account: %w", err)
		}
		if err := applyStatementPayment(st, req.Amount, now); err != nil {
			return err
		}
		if err := tx.UpdateStatementAmounts(ctx, st); err != nil {
			return fmt.Errorf("failed to update statement: %w", err)
		}
		if _, err := credit.Apply(req.Amount); err != nil {
			return err
		}
		if err := credit.Persist(ctx, tx, now); err != nil {
			return fmt.Errorf("failed to restore available credit: %w", err)
		}

		result = &domain.BillPaymentResult{
			Transaction:     *txn,
			Statement:       *st,
			AccountBalance:  account.Balance,
			AvailableCredit: card.AvailableCredit,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
