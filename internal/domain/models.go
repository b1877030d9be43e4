/**
 * @description
 * Domain models for the ledger-service. All monetary fields are money.Money (cents).
 * JSON tags describe the caller-facing shape; secrets such as the temporary card CVV hash
 * never leave the service.
 *
 * @dependencies
 * - github.com/google/uuid: identifiers.
 * - internal/money: fixed-point amounts.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/neelvaidya133/bankify/internal/money"
)

const Currency = "CAD"

type CardKind string

const (
	CardKindCredit CardKind = "credit"
	CardKindDebit  CardKind = "debit"
)

type CardStatus string

const (
	CardStatusActive CardStatus = "active"
	CardStatusFrozen CardStatus = "frozen"
)

type TemporaryCardStatus string

const (
	TemporaryCardActive  TemporaryCardStatus = "active"
	TemporaryCardUsed    TemporaryCardStatus = "used"
	TemporaryCardExpired TemporaryCardStatus = "expired"
)

type StatementStatus string

const (
	StatementUnpaid StatementStatus = "unpaid"
	StatementPaid   StatementStatus = "paid"
)

type TransactionKind string

const (
	KindPurchase       TransactionKind = "purchase"
	KindPayment        TransactionKind = "payment"
	KindTransferIn     TransactionKind = "transfer-in"
	KindTransferOut    TransactionKind = "transfer-out"
	KindEMIInstallment TransactionKind = "emi-installment"
	KindDeposit        TransactionKind = "deposit"
)

// Valid reports whether k is a known ledger kind.
func (k TransactionKind) Valid() bool {
	switch k {
	case KindPurchase, KindPayment, KindTransferIn, KindTransferOut, KindEMIInstallment, KindDeposit:
		return true
	}
	return false
}

type TransactionStatus string

const (
	TransactionCompleted TransactionStatus = "completed"
	TransactionPending   TransactionStatus = "pending"
	TransactionFailed    TransactionStatus = "failed"
)

type EMIPlanStatus string

const (
	EMIPlanActive    EMIPlanStatus = "active"
	EMIPlanCompleted EMIPlanStatus = "completed"
	EMIPlanDefaulted EMIPlanStatus = "defaulted"
)

type EMIInstallmentStatus string

const (
	EMIInstallmentPaid    EMIInstallmentStatus = "paid"
	EMIInstallmentPending EMIInstallmentStatus = "pending"
	EMIInstallmentFailed  EMIInstallmentStatus = "failed"
)

// User is owned by the auth collaborator; the ledger only reads it.
type User struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
}

// Account is the single deposit account of a user.
type Account struct {
	ID            uuid.UUID   `json:"id"`
	UserID        uuid.UUID   `json:"user_id"`
	AccountNumber string      `json:"account_number"`
	Balance       money.Money `json:"balance"`
	Currency      string      `json:"currency"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Card is a main payment card. Credit cards carry a limit; debit cards a funding account.
type Card struct {
	ID               uuid.UUID   `json:"id"`
	UserID           uuid.UUID   `json:"user_id"`
	FundingAccountID *uuid.UUID  `json:"funding_account_id,omitempty"`
	Kind             CardKind    `json:"card_type"`
	CardNumber       string      `json:"card_number"`
	CardholderName   string      `json:"cardholder_name"`
	CreditLimit      money.Money `json:"credit_limit"`
	AvailableCredit  money.Money `json:"available_credit"`
	Status           CardStatus  `json:"status"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// TemporaryCard is a single-use proxy credential bound to one main card.
type TemporaryCard struct {
	ID         uuid.UUID           `json:"id"`
	UserID     uuid.UUID           `json:"user_id"`
	MainCardID uuid.UUID           `json:"main_card_id"`
	CardNumber string              `json:"card_number"`
	ExpiryDate string              `json:"expiry_date"`
	CVVHash    string              `json:"-"`
	Status     TemporaryCardStatus `json:"status"`
	ExpiresAt  time.Time           `json:"expires_at"`
	CreatedAt  time.Time           `json:"created_at"`
}

// Product is a catalog entry used to label purchases.
type Product struct {
	ID       uuid.UUID   `json:"id"`
	Name     string      `json:"name"`
	Category string      `json:"category"`
	Price    money.Money `json:"price"`
}

// BillingPeriod is the calendar month a statement covers.
type BillingPeriod struct {
	Start   time.Time `json:"period_start"`
	End     time.Time `json:"period_end"`
	DueDate time.Time `json:"due_date"`
}

// Contains reports whether t falls on any day of the period.
func (p BillingPeriod) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(p.Start) && t.Before(p.End.AddDate(0, 0, 1))
}

// Statement is the monthly bill of a credit card.
type Statement struct {
	ID              uuid.UUID       `json:"id"`
	CardID          uuid.UUID       `json:"card_id"`
	UserID          uuid.UUID       `json:"user_id"`
	PeriodStart     time.Time       `json:"period_start"`
	PeriodEnd       time.Time       `json:"period_end"`
	DueDate         time.Time       `json:"due_date"`
	StatementAmount money.Money     `json:"statement_amount"`
	PaidAmount      money.Money     `json:"paid_amount"`
	Status          StatementStatus `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Remaining is the amount still owed.
func (s Statement) Remaining() money.Money {
	remaining := s.StatementAmount.Sub(s.PaidAmount)
	if remaining.IsNegative() {
		return money.Zero
	}
	return remaining
}

// Transaction is an immutable ledger row.
type Transaction struct {
	ID                uuid.UUID         `json:"id"`
	UserID            uuid.UUID         `json:"user_id"`
	CardID            *uuid.UUID        `json:"card_id,omitempty"`
	TempCardID        *uuid.UUID        `json:"temp_card_id,omitempty"`
	Kind              TransactionKind   `json:"transaction_type"`
	Amount            money.Money       `json:"amount"`
	Status            TransactionStatus `json:"status"`
	Description       string            `json:"description"`
	CounterpartyLabel string            `json:"counterparty_label"`
	MerchantCategory  string            `json:"merchant_category,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// EMIPlan amortises a purchase over a fixed number of monthly installments.
type EMIPlan struct {
	ID                    uuid.UUID        `json:"id"`
	UserID                uuid.UUID        `json:"user_id"`
	CardID                uuid.UUID        `json:"card_id"`
	TempCardID            uuid.UUID        `json:"temp_card_id"`
	ProductName           string           `json:"product_name"`
	Principal             money.Money      `json:"total_amount"`
	InstallmentAmount     money.Money      `json:"emi_amount"`
	AnnualRateBps         int64            `json:"annual_rate_bps"`
	TotalInstallments     int              `json:"total_installments"`
	RemainingInstallments int              `json:"remaining_installments"`
	NextPaymentDate       time.Time        `json:"next_payment_date"`
	Status                EMIPlanStatus    `json:"status"`
	CreatedAt             time.Time        `json:"created_at"`
	Installments          []EMIInstallment `json:"installments,omitempty"`
}

// EMIInstallment is one due payment of a plan.
type EMIInstallment struct {
	ID                uuid.UUID            `json:"id"`
	PlanID            uuid.UUID            `json:"emi_plan_id"`
	TransactionID     *uuid.UUID           `json:"transaction_id,omitempty"`
	InstallmentNumber int                  `json:"installment_number"`
	Amount            money.Money          `json:"amount"`
	DueDate           time.Time            `json:"due_date"`
	Status            EMIInstallmentStatus `json:"status"`
	CreatedAt         time.Time            `json:"created_at"`
}
