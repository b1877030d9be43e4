package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/neelvaidya133/bankify/internal/money"
)

// SettlementState is the position of an operation in its saga.
type SettlementState string

const (
	StateValidating  SettlementState = "validating"
	StateAuthorizing SettlementState = "authorizing"
	StatePosting     SettlementState = "posting"
	StateCommitted   SettlementState = "committed"
	StateFailed      SettlementState = "failed"
)

// PurchaseRequest authorizes a purchase with a temporary card.
type PurchaseRequest struct {
	ProductID  *uuid.UUID  `json:"product_id,omitempty"`
	CardNumber string      `json:"card_number"`
	ExpiryDate string      `json:"expiry_date"`
	CVV        string      `json:"cvv"`
	Amount     money.Money `json:"amount"`
}

// EMIPurchaseRequest is a purchase paid in monthly installments.
type EMIPurchaseRequest struct {
	ProductID  *uuid.UUID  `json:"product_id,omitempty"`
	CardNumber string      `json:"card_number"`
	ExpiryDate string      `json:"expiry_date"`
	CVV        string      `json:"cvv"`
	Amount     money.Money `json:"amount"`
	Tenure     int         `json:"tenure"`
}

// BillPaymentRequest pays part or all of a statement from the deposit account.
type BillPaymentRequest struct {
	StatementID uuid.UUID   `json:"statement_id"`
	Amount      money.Money `json:"amount"`
}

// TransferRequest moves funds to another user identified by email.
type TransferRequest struct {
	RecipientEmail string      `json:"recipient_email"`
	Amount         money.Money `json:"amount"`
	Description    string      `json:"description,omitempty"`
}

// AddFundsRequest deposits money into the caller's account.
type AddFundsRequest struct {
	Amount money.Money `json:"amount"`
}

// PurchaseResult is returned by Purchase.
type PurchaseResult struct {
	Transaction     Transaction `json:"transaction"`
	FundingKind     CardKind    `json:"funding_kind"`
	AvailableAfter  money.Money `json:"available_after"`
	StatementID     *uuid.UUID  `json:"statement_id,omitempty"`
	TemporaryCardID uuid.UUID   `json:"temporary_card_id"`
}

// EMIPurchaseResult is returned by PurchaseWithEMI.
type EMIPurchaseResult struct {
	PurchaseResult
	Plan        EMIPlan        `json:"emi_plan"`
	Installment EMIInstallment `json:"installment"`
}

// BillPaymentResult is returned by PayBill.
type BillPaymentResult struct {
	Transaction     Transaction `json:"transaction"`
	Statement       Statement   `json:"statement"`
	AccountBalance  money.Money `json:"account_balance"`
	AvailableCredit money.Money `json:"available_credit"`
}

// TransferResult is returned by Transfer.
type TransferResult struct {
	Outgoing      Transaction `json:"transaction"`
	Incoming      Transaction `json:"-"`
	SenderBalance money.Money `json:"balance"`
}

// AddFundsResult is returned by AddFunds.
type AddFundsResult struct {
	Transaction Transaction `json:"transaction"`
	Balance     money.Money `json:"balance"`
}

// IssuedTemporaryCard carries the clear CVV exactly once, at issue time.
type IssuedTemporaryCard struct {
	ID         uuid.UUID `json:"id"`
	MainCardID uuid.UUID `json:"main_card_id"`
	CardNumber string    `json:"card_number"`
	ExpiryDate string    `json:"expiry_date"`
	CVV        string    `json:"cvv"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// StatementView adds the derived overdue flag for listings.
type StatementView struct {
	Statement
	Remaining money.Money `json:"remaining"`
	Overdue   bool        `json:"overdue"`
}

// TransferNotification is the payload handed to the notification collaborator.
type TransferNotification struct {
	RecipientEmail string      `json:"recipient_email"`
	RecipientName  string      `json:"recipient_name"`
	SenderName     string      `json:"sender_name"`
	Amount         money.Money `json:"amount"`
	Currency       string      `json:"currency"`
	AccountTail    string      `json:"account_tail"`
	Date           time.Time   `json:"date"`
}

// EMIQuote previews an installment amount.
type EMIQuote struct {
	Principal         money.Money `json:"principal"`
	Tenure            int         `json:"tenure"`
	AnnualRatePercent string      `json:"annual_rate_percent"`
	InstallmentAmount money.Money `json:"emi_amount"`
	TotalPayable      money.Money `json:"total_payable"`
}
