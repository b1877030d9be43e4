package app

import (
	"context"
	"fmt"
	"time"

	"github.com/neelvaidya133/bankify/internal/domain"
	"github.com/neelvaidya133/bankify/internal/money"
	"github.com/neelvaidya133/bankify/internal/store"
)

// FundingSource is what a card draws on: a deposit account (debit) or a revolving
// credit line (credit). Apply works on the locked in-memory copy; Persist writes it back
// inside the same unit of work.
type FundingSource interface {
	Kind() domain.CardKind
	Available() money.Money
	// Apply adds delta (negative for a debit) and returns the new available amount.
	Apply(delta money.Money) (money.Money, error)
	Persist(ctx context.Context, tx store.Tx, now time.Time) error
}

// resolveFundingSource locks the row backing card and wraps it.
func resolveFundingSource(ctx context.Context, tx store.Tx, card *domain.Card) (FundingSource, error) {
	switch card.Kind {
	case domain.CardKindDebit:
		if card.FundingAccountID == nil {
			return nil, notFoundError("debit card %s has no linked account", card.ID)
		}
		account, err := tx.LockAccountByID(ctx, *card.FundingAccountID)
		if err != nil {
			return nil, fmt.Errorf("failed to lock funding account: %w", err)
		}
		return &accountSource{card: card, account: account}, nil
	case domain.CardKindCredit:
		return &creditSource{card: card}, nil
	default:
		return nil, validationError("unsupported card type %q", card.Kind)
	}
}

func checkDebitAllowed(card *domain.Card, delta money.Money) error {
	if delta.IsNegative() && card.Status == domain.CardStatusFrozen {
		return newOpError(CodeCardFrozen, "card ending %s is frozen", cardTail(card.CardNumber))
	}
	return nil
}

type accountSource struct {
	card    *domain.Card
	account *domain.Account
}

func (s *accountSource) Kind() domain.CardKind { return domain.CardKindDebit }

func (s *accountSource) Available() money.Money { return s.account.Balance }

func (s *accountSource) Apply(delta money.Money) (money.Money, error) {
	if err := checkDebitAllowed(s.card, delta); err != nil {
		return s.account.Balance, err
	}
	next := s.account.Balance.Add(delta)
	if next.IsNegative() {
		return s.account.Balance, insufficientFunds("insufficient funds in bank account: available %s, required %s", s.account.Balance, delta.Neg())
	}
	s.account.Balance = next
	return next, nil
}

func (s *accountSource) Persist(ctx context.Context, tx store.Tx, now time.Time) error {
	return tx.UpdateAccountBalance(ctx, s.account.ID, s.account.Balance, now)
}

type creditSource struct {
	card *domain.Card
}

func (s *creditSource) Kind() domain.CardKind { return domain.CardKindCredit }

func (s *creditSource) Available() money.Money { return s.card.AvailableCredit }

func (s *creditSource) Apply(delta money.Money) (money.Money, error) {
	if err := checkDebitAllowed(s.card, delta); err != nil {
		return s.card.AvailableCredit, err
	}
	next := s.card.AvailableCredit.Add(delta)
	if next.IsNegative() {
		return s.card.AvailableCredit, insufficientFunds("insufficient credit available: available %s, required %s", s.card.AvailableCredit, delta.Neg())
	}
	s.card.AvailableCredit = next.Min(s.card.CreditLimit)
	return s.card.AvailableCredit, nil
}

func (s *creditSource) Persist(ctx context.Context, tx store.Tx, now time.Time) error {
	return tx.UpdateCardCredit(ctx, s.card.ID, s.card.AvailableCredit, now)
}

func cardTail(number string) string {
	if len(number) <= 4 {
		return number
	}
	return number[len(number)-4:]
}

// maskCardNumber keeps only the last four digits visible.
func maskCardNumber(number string) string {
	if len(number) <= 4 {
		return number
	}
	return "**** **** **** " + cardTail(number)
}
