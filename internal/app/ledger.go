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

type ledgerEntry struct {
	userID       uuid.UUID
	cardID       *uuid.UUID
	tempCardID   *uuid.UUID
	kind         domain.TransactionKind
	amount       money.Money
	description  string
	counterparty string
	category     string
}

// recordTransaction appends one completed row to the ledger.
func recordTransaction(ctx context.Context, tx store.Tx, e ledgerEntry, now time.Time) (*domain.Transaction, error) {
	if !e.kind.Valid() {
		return nil, fmt.Errorf("unknown transaction kind %q", e.kind)
	}
	if !e.amount.IsPositive() {
		return nil, validationError("transaction amount must be positive")
	}
	txn := &domain.Transaction{
		ID:                uuid.New(),
		UserID:            e.userID,
		CardID:            e.cardID,
		TempCardID:        e.tempCardID,
		Kind:              e.kind,
		Amount:            e.amount,
		Status:            domain.TransactionCompleted,
		Description:       e.description,
		CounterpartyLabel: e.counterparty,
		MerchantCategory:  e.category,
		CreatedAt:         now,
	}
	if err := tx.InsertTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("failed to record %s transaction: %w", e.kind, err)
	}
	return txn, nil
}
