package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/neelvaidya133/bankify/internal/domain"
	"github.com/neelvaidya133/bankify/internal/store"
	"golang.org/x/crypto/bcrypt"
)

// cvvHashCost is the bcrypt cost for temporary card CVVs.
var cvvHashCost = bcrypt.DefaultCost

const temporaryCardIssueAttempts = 3

// AddFunds deposits money into the caller's account.
func (s *Service) AddFunds(ctx context.Context, userID uuid.UUID, req domain.AddFundsRequest) (*domain.AddFundsResult, error) {
	if !req.Amount.IsPositive() {
		return nil, validationError("amount must be greater than zero")
	}
	if req.Amount > s.settings.MaxDeposit {
		return nil, validationError("a single deposit cannot exceed %s", s.settings.MaxDeposit)
	}

	var result *domain.AddFundsResult
	err := s.settle(ctx, "add_funds", func(tx store.Tx, sg *saga) error {
		now := s.now()
		account, err := tx.LockAccountByUserID(ctx, userID)
		if err != nil {
			return err
		}
		next := account.Balance.Add(req.Amount)
		if next > s.settings.MaxBalance {
			return validationError("deposit would take the balance above %s", s.settings.MaxBalance)
		}

		sg.advance(domain.StatePosting)
		txn, err := recordTransaction(ctx, tx, ledgerEntry{
			userID:       userID,
			kind:         domain.KindDeposit,
			amount:       req.Amount,
			description:  "Funds added to account",
			counterparty: "Deposit",
		}, now)
		if err != nil {
			return err
		}
		if err := tx.UpdateAccountBalance(ctx, account.ID, next, now); err != nil {
			return fmt.Errorf("failed to credit account: %w", err)
		}
		result = &domain.AddFundsResult{Transaction: *txn, Balance: next}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func randomDigits(n int) (string, error) {
	buf := make([]byte, n)
	ten := big.NewInt(10)
	for i := range buf {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		buf[i] = byte('0' + d.Int64())
	}
	return string(buf), nil
}

// temporaryCardExpiry is the MM/YY printed on a card issued at now: the following month.
func temporaryCardExpiry(now time.Time) string {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return next.Format("01/06")
}

// IssueTemporaryCard creates a single-use card bound to one of the caller's active cards. The
// clear CVV is only ever returned here.
func (s *Service) IssueTemporaryCard(ctx context.Context, userID, mainCardID uuid.UUID) (*domain.IssuedTemporaryCard, error) {
	for attempt := 1; attempt <= temporaryCardIssueAttempts; attempt++ {
		suffix, err := randomDigits(15)
		if err != nil {
			return nil, fmt.Errorf("failed to generate card number: %w", err)
		}
		cvv, err := randomDigits(3)
		if err != nil {
			return nil, fmt.Errorf("failed to generate cvv: %w", err)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(cvv), cvvHashCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash cvv: %w", err)
		}

		var issued *domain.IssuedTemporaryCard
		err = s.settle(ctx, "issue_temporary_card", func(tx store.Tx, sg *saga) error {
			now := s.now()
			card, err := tx.LockCard(ctx, mainCardID)
			if err != nil {
				return err
			}
			if card.UserID != userID {
				return notFoundError("card not found")
			}
			if card.Status != domain.CardStatusActive {
				return newOpError(CodeCardFrozen, "card ending %s is frozen", cardTail(card.CardNumber))
			}

			sg.advance(domain.StatePosting)
			temp := &domain.TemporaryCard{
				ID:         uuid.New(),
				UserID:     userID,
				MainCardID: card.ID,
				CardNumber: "4" + suffix,
				ExpiryDate: temporaryCardExpiry(now),
				CVVHash:    string(hash),
				Status:     domain.TemporaryCardActive,
				ExpiresAt:  now.Add(s.settings.TempCardTTL),
				CreatedAt:  now,
			}
			if err := tx.InsertTemporaryCard(ctx, temp); err != nil {
				return err
			}
			issued = &domain.IssuedTemporaryCard{
				ID:         temp.ID,
				MainCardID: temp.MainCardID,
				CardNumber: temp.CardNumber,
				ExpiryDate: temp.ExpiryDate,
				CVV:        cvv,
				ExpiresAt:  temp.ExpiresAt,
			}
			return nil
		})
		if err == nil {
			return issued, nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return nil, err
		}
	}
	return nil, newOpError(CodeStoreUnavailable, "could not allocate a unique temporary card number")
}

func (s *Service) setCardStatus(ctx context.Context, userID, cardID uuid.UUID, status domain.CardStatus) (*domain.Card, error) {
	var updated *domain.Card
	err := s.settle(ctx, "card_status", func(tx store.Tx, sg *saga) error {
		now := s.now()
		card, err := tx.LockCard(ctx, cardID)
		if err != nil {
			return err
		}
		if card.UserID != userID {
			return notFoundError("card not found")
		}
		sg.advance(domain.StatePosting)
		if card.Status != status {
			if err := tx.UpdateCardStatus(ctx, card.ID, status, now); err != nil {
				return err
			}
			card.Status = status
			card.UpdatedAt = now
		}
		updated = card
		return nil
	})
	if err != nil {
		return nil, err
	}
	updated.CardNumber = maskCardNumber(updated.CardNumber)
	return updated, nil
}

// FreezeCard blocks every debit on the card until it is unfrozen.
func (s *Service) FreezeCard(ctx context.Context, userID, cardID uuid.UUID) (*domain.Card, error) {
	return s.setCardStatus(ctx, userID, cardID, domain.CardStatusFrozen)
}

// UnfreezeCard reactivates a frozen card.
func (s *Service) UnfreezeCard(ctx context.Context, userID, cardID uuid.UUID) (*domain.Card, error) {
	return s.setCardStatus(ctx, userID, cardID, domain.CardStatusActive)
}

func (s *Service) GetAccount(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	account, err := s.repo.FindAccountByUserID(ctx, userID)
	if err != nil {
		return nil, classify(err)
	}
	return account, nil
}

// ListCards returns the caller's cards with masked numbers.
func (s *Service) ListCards(ctx context.Context, userID uuid.UUID) ([]domain.Card, error) {
	cards, err := s.repo.ListCardsByUserID(ctx, userID)
	if err != nil {
		return nil, classify(err)
	}
	for i := range cards {
		cards[i].CardNumber = maskCardNumber(cards[i].CardNumber)
	}
	return cards, nil
}

// ListTransactions returns the newest ledger rows of the caller, at most limit of them.
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Transaction, error) {
	txns, err := s.repo.ListTransactionsByUserID(ctx, userID, limit)
	if err != nil {
		return nil, classify(err)
	}
	return txns, nil
}
