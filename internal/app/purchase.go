package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neelvaidya133/bankify/internal/domain"
	"github.com/neelvaidya133/bankify/internal/money"
	"github.com/neelvaidya133/bankify/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const (
	purchaseRateLimitScope  = "temp_card_authorization"
	purchaseRateLimitWindow = time.Minute
	defaultProductName      = "Product Purchase"
)

// cardCredentials are the fields a merchant presents for a temporary card.
type cardCredentials struct {
	number string
	expiry string
	cvv    string
}

func (c cardCredentials) validate() error {
	if c.number == "" || c.expiry == "" || c.cvv == "" {
		return validationError("card number, expiry date and cvv are required")
	}
	return nil
}

// authorization is the locked state a purchase settles against.
type authorization struct {
	tempCard *domain.TemporaryCard
	card     *domain.Card
	source   FundingSource
	product  *domain.Product
}

func (a *authorization) description(fallback string) string {
	if a.product != nil {
		return "Purchase: " + a.product.Name
	}
	return fallback
}

func (a *authorization) category() string {
	if a.product != nil {
		return a.product.Category
	}
	return ""
}

func (s *Service) checkPurchaseRateLimit(ctx context.Context, cardNumber string) error {
	limit := s.settings.PurchaseRateLimitPerMinute
	if s.limiter == nil || limit <= 0 {
		return nil
	}
	count, retryAfter, err := s.limiter.ConsumeRateLimit(ctx, purchaseRateLimitScope, cardNumber, limit, purchaseRateLimitWindow)
	if err != nil {
		s.logger.Warn().Err(err).Str("scope", purchaseRateLimitScope).Msg("rate limiter unavailable; allowing request")
		return nil
	}
	if count > limit {
		return newOpError(CodeRateLimited, "too many authorization attempts for this card; retry in %ds", retryAfter)
	}
	return nil
}

// authorizeTemporaryCard validates the presented credentials and locks everything the purchase
// will mutate. When the card turns out to be past its expiry, its id is stored in expired so the
// caller can record the transition after the unit rolls back.
func (s *Service) authorizeTemporaryCard(ctx context.Context, tx store.Tx, userID uuid.UUID, creds cardCredentials, productID *uuid.UUID, now time.Time, expired *uuid.UUID) (*authorization, error) {
	invalid := notFoundError("invalid or expired temporary card")

	temp, err := tx.LockTemporaryCardByNumber(ctx, creds.number)
	if err != nil {
		return nil, err
	}
	if temp.Status != domain.TemporaryCardActive {
		return nil, invalid
	}
	if !now.Before(temp.ExpiresAt) {
		*expired = temp.ID
		return nil, invalid
	}
	if temp.ExpiryDate != creds.expiry {
		return nil, invalid
	}
	if bcrypt.CompareHashAndPassword([]byte(temp.CVVHash), []byte(creds.cvv)) != nil {
		return nil, invalid
	}
	if temp.UserID != userID {
		return nil, invalid
	}

	card, err := tx.LockCard(ctx, temp.MainCardID)
	if err != nil {
		return nil, err
	}
	source, err := resolveFundingSource(ctx, tx, card)
	if err != nil {
		return nil, err
	}

	auth := &authorization{tempCard: temp, card: card, source: source}
	if productID != nil {
		product, err := tx.FindProductByID(ctx, *productID)
		if err != nil {
			return nil, err
		}
		auth.product = product
	}
	return auth, nil
}

// expireTemporaryCard records the expired state in its own unit of work.
func (s *Service) expireTemporaryCard(ctx context.Context, tempCardID uuid.UUID) {
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		return tx.UpdateTemporaryCardStatus(ctx, tempCardID, domain.TemporaryCardExpired)
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("temp_card_id", tempCardID.String()).Msg("failed to mark temporary card expired")
	}
}

// debitAndPost applies a charge to the funding source, persists it and, for credit cards, posts it
// to the statement of the month.
func debitAndPost(ctx context.Context, tx store.Tx, auth *authorization, amount money.Money, now time.Time) (*uuid.UUID, error) {
	if err := auth.source.Persist(ctx, tx, now); err != nil {
		return nil, fmt.Errorf("failed to persist funding source: %w", err)
	}
	if auth.source.Kind() != domain.CardKindCredit {
		return nil, nil
	}
	st, err := postCharge(ctx, tx, auth.card, amount, now)
	if err != nil {
		return nil, err
	}
	return &st.ID, nil
}

// Purchase authorizes a payment of req.Amount with a single-use temporary card.
func (s *Service) Purchase(ctx context.Context, userID uuid.UUID, req domain.PurchaseRequest) (*domain.PurchaseResult, error) {
	creds := cardCredentials{
		number: strings.TrimSpace(req.CardNumber),
		expiry: strings.TrimSpace(req.ExpiryDate),
		cvv:    strings.TrimSpace(req.CVV),
	}
	if !req.Amount.IsPositive() {
		return nil, validationError("amount must be greater than zero")
	}
	if err := creds.validate(); err != nil {
		return nil, err
	}
	if err := s.checkPurchaseRateLimit(ctx, creds.number); err != nil {
		return nil, err
	}

	var (
		result    *domain.PurchaseResult
		expiredID uuid.UUID
	)
	err := s.settle(ctx, "purchase", func(tx store.Tx, sg *saga) error {
		now := s.now()
		sg.advance(domain.StateAuthorizing)
		auth, err := s.authorizeTemporaryCard(ctx, tx, userID, creds, req.ProductID, now, &expiredID)
		if err != nil {
			return err
		}

		available, err := auth.source.Apply(req.Amount.Neg())
		if err != nil {
			return err
		}

		sg.advance(domain.StatePosting)
		txn, err := recordTransaction(ctx, tx, ledgerEntry{
			userID:       userID,
			cardID:       &auth.card.ID,
			tempCardID:   &auth.tempCard.ID,
			kind:         domain.KindPurchase,
			amount:       req.Amount,
			description:  auth.description("Purchase"),
			counterparty: "Temporary card ending " + cardTail(auth.tempCard.CardNumber),
			category:     auth.category(),
		}, now)
		if err != nil {
			return err
		}
		statementID, err := debitAndPost(ctx, tx, auth, req.Amount, now)
		if err != nil {
			return err
		}
		if err := tx.UpdateTemporaryCardStatus(ctx, auth.tempCard.ID, domain.TemporaryCardUsed); err != nil {
			return fmt.Errorf("failed to mark temporary card used: %w", err)
		}

		result = &domain.PurchaseResult{
			Transaction:     *txn,
			FundingKind:     auth.source.Kind(),
			AvailableAfter:  available,
			StatementID:     statementID,
			TemporaryCardID: auth.tempCard.ID,
		}
		return nil
	})
	if expiredID != uuid.Nil {
		s.expireTemporaryCard(ctx, expiredID)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}
