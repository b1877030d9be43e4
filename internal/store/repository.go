/**
 * @description
 * This file defines the `Repository` and `Tx` interfaces, the contract for all data access
 * required by the ledger-service. Every money movement runs inside `WithinTx`, which gives
 * the settlement core one atomic, isolated unit of work: rows read through the `Lock*`
 * methods stay locked until the unit commits or rolls back.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain, internal/money: domain models and amounts.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/neelvaidya133/bankify/internal/domain"
	"github.com/neelvaidya133/bankify/internal/money"
)

var (
	ErrUserNotFound          = errors.New("user not found")
	ErrAccountNotFound       = errors.New("account not found")
	ErrCardNotFound          = errors.New("card not found")
	ErrTemporaryCardNotFound = errors.New("temporary card not found")
	ErrStatementNotFound     = errors.New("statement not found")
	ErrProductNotFound       = errors.New("product not found")
	ErrEMIPlanNotFound       = errors.New("emi plan not found")
	ErrDuplicate             = errors.New("duplicate record")

	// ErrConflict marks lock contention or a serialization failure; the unit can be retried.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrUnavailable marks an unreachable store; nothing was committed.
	ErrUnavailable = errors.New("store unavailable")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// WithinTx runs fn as one atomic unit. A non-nil error from fn rolls every write back.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	// Read-only queries used by listings and jobs.
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	FindAccountByUserID(ctx context.Context, userID uuid.UUID) (*domain.Account, error)
	ListCardsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Card, error)
	ListActiveCreditCards(ctx context.Context) ([]domain.Card, error)
	ListStatementsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Statement, error)
	ListTransactionsByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Transaction, error)
	ListEMIPlansByUserID(ctx context.Context, userID uuid.UUID) ([]domain.EMIPlan, error)
	ListDueEMIPlanIDs(ctx context.Context, asOf time.Time) ([]uuid.UUID, error)
}

// Tx is the view of the store inside one unit of work.
type Tx interface {
	// Lookups
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
	FindProductByID(ctx context.Context, productID uuid.UUID) (*domain.Product, error)
	FindStatementByID(ctx context.Context, statementID uuid.UUID) (*domain.Statement, error)

	// Row-locked reads
	LockAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	LockAccountByUserID(ctx context.Context, userID uuid.UUID) (*domain.Account, error)
	LockCard(ctx context.Context, cardID uuid.UUID) (*domain.Card, error)
	LockTemporaryCardByNumber(ctx context.Context, cardNumber string) (*domain.TemporaryCard, error)
	LockStatement(ctx context.Context, statementID uuid.UUID) (*domain.Statement, error)
	// LockOrCreateStatement returns the locked statement of card for period, inserting an empty
	// one if none exists. created reports whether this call inserted it.
	LockOrCreateStatement(ctx context.Context, card *domain.Card, period domain.BillingPeriod, now time.Time) (st *domain.Statement, created bool, err error)
	LockEMIPlan(ctx context.Context, planID uuid.UUID) (*domain.EMIPlan, error)

	// Writes
	UpdateAccountBalance(ctx context.Context, accountID uuid.UUID, balance money.Money, now time.Time) error
	UpdateCardCredit(ctx context.Context, cardID uuid.UUID, availableCredit money.Money, now time.Time) error
	UpdateCardStatus(ctx context.Context, cardID uuid.UUID, status domain.CardStatus, now time.Time) error
	InsertTemporaryCard(ctx context.Context, card *domain.TemporaryCard) error
	UpdateTemporaryCardStatus(ctx context.Context, tempCardID uuid.UUID, status domain.TemporaryCardStatus) error
	UpdateStatementAmounts(ctx context.Context, st *domain.Statement) error
	InsertEMIPlan(ctx context.Context, plan *domain.EMIPlan) error
	UpdateEMIPlan(ctx context.Context, plan *domain.EMIPlan) error
	InsertEMIInstallment(ctx context.Context, installment *domain.EMIInstallment) error

	// Ledger (append-only)
	InsertTransaction(ctx context.Context, txn *domain.Transaction) error
	SumCardCharges(ctx context.Context, cardID uuid.UUID, period domain.BillingPeriod) (money.Money, error)
}

// chargeKinds are the ledger kinds that accrue on a credit card statement.
var chargeKinds = []domain.TransactionKind{domain.KindPurchase, domain.KindEMIInstallment}

func isChargeKind(kind domain.TransactionKind) bool {
	for _, k := range chargeKinds {
		if k == kind {
			return true
		}
	}
	return false
}

const MaxTransactionListLimit = 100

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > MaxTransactionListLimit {
		return MaxTransactionListLimit
	}
	return limit
}
