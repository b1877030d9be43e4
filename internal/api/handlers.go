/**
 * @description
 * HTTP handlers for the ledger-service. Handlers decode the request, call the settlement
 * service and write the `{success, ...}` envelope. Operation errors are mapped onto HTTP
 * statuses by their code.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: URL parameters.
 * - github.com/rs/zerolog: request outcome logging.
 * - internal/app, internal/domain, internal/money: service logic, models and amounts.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/neelvaidya133/bankify/internal/app"
	"github.com/neelvaidya133/bankify/internal/domain"
	"github.com/neelvaidya133/bankify/internal/money"
	"github.com/rs/zerolog"
)

// LedgerService is the part of the settlement service exposed over HTTP.
type LedgerService interface {
	Purchase(ctx context.Context, userID uuid.UUID, req domain.PurchaseRequest) (*domain.PurchaseResult, error)
	PurchaseWithEMI(ctx context.Context, userID uuid.UUID, req domain.EMIPurchaseRequest) (*domain.EMIPurchaseResult, error)
	PayBill(ctx context.Context, userID uuid.UUID, req domain.BillPaymentRequest) (*domain.BillPaymentResult, error)
	Transfer(ctx context.Context, senderID uuid.UUID, req domain.TransferRequest) (*domain.TransferResult, error)
	AddFunds(ctx context.Context, userID uuid.UUID, req domain.AddFundsRequest) (*domain.AddFundsResult, error)
	GetAccount(ctx context.Context, userID uuid.UUID) (*domain.Account, error)
	ListCards(ctx context.Context, userID uuid.UUID) ([]domain.Card, error)
	IssueTemporaryCard(ctx context.Context, userID, mainCardID uuid.UUID) (*domain.IssuedTemporaryCard, error)
	FreezeCard(ctx context.Context, userID, cardID uuid.UUID) (*domain.Card, error)
	UnfreezeCard(ctx context.Context, userID, cardID uuid.UUID) (*domain.Card, error)
	ListStatements(ctx context.Context, userID uuid.UUID) ([]domain.StatementView, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Transaction, error)
	ListEMIPlans(ctx context.Context, userID uuid.UUID) ([]domain.EMIPlan, error)
	Quote(amount money.Money, tenure int) (*domain.EMIQuote, error)
}

// Handlers holds the service that handlers will use.
type Handlers struct {
	service LedgerService
	logger  zerolog.Logger
}

// NewHandlers creates a new instance of Handlers.
func NewHandlers(service LedgerService, logger zerolog.Logger) *Handlers {
	return &Handlers{service: service, logger: logger.With().Str("component", "api").Logger()}
}

type errorResponse struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

func (e errorResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Success   bool   `json:"success"`
		ErrorCode string `json:"errorCode"`
		Message   string `json:"message"`
	}{false, e.ErrorCode, e.Message})
}

var statusByCode = map[app.ErrorCode]int{
	app.CodeValidation:          http.StatusBadRequest,
	app.CodeCardFrozen:          http.StatusUnprocessableEntity,
	app.CodeNotFound:            http.StatusNotFound,
	app.CodeInsufficientFunds:   http.StatusUnprocessableEntity,
	app.CodeAlreadyPaid:         http.StatusConflict,
	app.CodeOverpayment:         http.StatusUnprocessableEntity,
	app.CodeRateLimited:         http.StatusTooManyRequests,
	app.CodeConcurrencyConflict: http.StatusConflict,
	app.CodeStoreUnavailable:    http.StatusServiceUnavailable,
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeSuccess adds the success flag to body and writes it.
func writeSuccess(w http.ResponseWriter, status int, body map[string]interface{}) {
	body["success"] = true
	writeJSON(w, status, body)
}

func (h *Handlers) writeError(w http.ResponseWriter, endpoint string, err error) {
	var opErr *app.OperationError
	if !errors.As(err, &opErr) {
		h.logger.Error().Err(err).Str("endpoint", endpoint).Str("outcome", "failed").Msg("unexpected error")
		writeJSON(w, http.StatusInternalServerError, errorResponse{ErrorCode: "INTERNAL_ERROR", Message: "Internal server error"})
		return
	}

	status, ok := statusByCode[opErr.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	event := h.logger.Warn()
	if status >= http.StatusInternalServerError {
		event = h.logger.Error()
	}
	event.Err(err).Str("endpoint", endpoint).Str("outcome", "rejected").Str("error_code", string(opErr.Code)).Msg("request failed")
	writeJSON(w, status, errorResponse{ErrorCode: string(opErr.Code), Message: opErr.Error()})
}

func writeValidation(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{ErrorCode: string(app.CodeValidation), Message: message})
}

// decode reads a JSON body into dst, writing a validation error on failure.
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeValidation(w, fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	return true
}

func currentUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "Could not get user ID from context")
	}
	return userID, ok
}

func cardIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	cardID, err := uuid.Parse(chi.URLParam(r, "cardID"))
	if err != nil {
		writeValidation(w, "Invalid card ID format")
		return uuid.Nil, false
	}
	return cardID, true
}

// PurchaseHandler authorizes a purchase with a temporary card.
func (h *Handlers) PurchaseHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req domain.PurchaseRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.service.Purchase(r.Context(), userID, req)
	if err != nil {
		h.writeError(w, "purchase", err)
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]interface{}{
		"message":  "Purchase completed",
		"purchase": result,
	})
}

// EMIPurchaseHandler buys with a temporary card on a monthly installment plan.
func (h *Handlers) EMIPurchaseHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req domain.EMIPurchaseRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.service.PurchaseWithEMI(r.Context(), userID, req)
	if err != nil {
		h.writeError(w, "emi_purchase", err)
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]interface{}{
		"message":     "EMI purchase completed",
		"purchase":    result.PurchaseResult,
		"emi_plan":    result.Plan,
		"installment": result.Installment,
	})
}

// BillPaymentHandler pays a credit card statement from the deposit account.
func (h *Handlers) BillPaymentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req domain.BillPaymentRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.service.PayBill(r.Context(), userID, req)
	if err != nil {
		h.writeError(w, "bill_payment", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"message":          "Bill payment completed",
		"transaction":      result.Transaction,
		"statement":        result.Statement,
		"balance":          result.AccountBalance,
		"available_credit": result.AvailableCredit,
	})
}

// TransferHandler sends funds to another user by email.
func (h *Handlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req domain.TransferRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.service.Transfer(r.Context(), userID, req)
	if err != nil {
		h.writeError(w, "transfer", err)
		return
	}
	h.logger.Info().Str("endpoint", "transfer").Str("outcome", "committed").Str("sender_id", userID.String()).Str("amount", req.Amount.String()).Msg("transfer completed")
	writeSuccess(w, http.StatusCreated, map[string]interface{}{
		"message":     "Transfer completed",
		"transaction": result.Outgoing,
		"balance":     result.SenderBalance,
	})
}

// AddFundsHandler deposits money into the caller's account.
func (h *Handlers) AddFundsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req domain.AddFundsRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.service.AddFunds(r.Context(), userID, req)
	if err != nil {
		h.writeError(w, "add_funds", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"message":     "Funds added",
		"transaction": result.Transaction,
		"balance":     result.Balance,
	})
}

func (h *Handlers) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	account, err := h.service.GetAccount(r.Context(), userID)
	if err != nil {
		h.writeError(w, "get_account", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{"account": account})
}

func (h *Handlers) ListCardsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	cards, err := h.service.ListCards(r.Context(), userID)
	if err != nil {
		h.writeError(w, "list_cards", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{"cards": cards})
}

// IssueTemporaryCardHandler returns a new single-use card. The CVV is shown only in this response.
func (h *Handlers) IssueTemporaryCardHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	cardID, ok := cardIDParam(w, r)
	if !ok {
		return
	}

	card, err := h.service.IssueTemporaryCard(r.Context(), userID, cardID)
	if err != nil {
		h.writeError(w, "issue_temporary_card", err)
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]interface{}{"temporary_card": card})
}

func (h *Handlers) FreezeCardHandler(w http.ResponseWriter, r *http.Request) {
	h.cardStatusHandler(w, r, "freeze_card", h.service.FreezeCard)
}

func (h *Handlers) UnfreezeCardHandler(w http.ResponseWriter, r *http.Request) {
	h.cardStatusHandler(w, r, "unfreeze_card", h.service.UnfreezeCard)
}

func (h *Handlers) cardStatusHandler(w http.ResponseWriter, r *http.Request, endpoint string, apply func(context.Context, uuid.UUID, uuid.UUID) (*domain.Card, error)) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	cardID, ok := cardIDParam(w, r)
	if !ok {
		return
	}

	card, err := apply(r.Context(), userID, cardID)
	if err != nil {
		h.writeError(w, endpoint, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{"card": card})
}

func (h *Handlers) ListStatementsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	statements, err := h.service.ListStatements(r.Context(), userID)
	if err != nil {
		h.writeError(w, "list_statements", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{"statements": statements})
}

// ListTransactionsHandler returns the newest ledger rows; `limit` defaults to and is capped at
// store.MaxTransactionListLimit.
func (h *Handlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeValidation(w, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	txns, err := h.service.ListTransactions(r.Context(), userID, limit)
	if err != nil {
		h.writeError(w, "list_transactions", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{"transactions": txns})
}

func (h *Handlers) ListEMIPlansHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	plans, err := h.service.ListEMIPlans(r.Context(), userID)
	if err != nil {
		h.writeError(w, "list_emi_plans", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{"emi_plans": plans})
}

// EMIQuoteHandler previews the installment for ?amount=&tenure=.
func (h *Handlers) EMIQuoteHandler(w http.ResponseWriter, r *http.Request) {
	amount, err := money.Parse(r.URL.Query().Get("amount"))
	if err != nil {
		writeValidation(w, fmt.Sprintf("invalid amount: %v", err))
		return
	}
	tenure, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("tenure")))
	if err != nil {
		writeValidation(w, "tenure must be a whole number of months")
		return
	}

	quote, err := h.service.Quote(amount, tenure)
	if err != nil {
		h.writeError(w, "emi_quote", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"quote":              quote,
		"advertised_tenures": app.AdvertisedTenures,
	})
}
