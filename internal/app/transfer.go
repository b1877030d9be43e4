package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/neelvaidya133/bankify/internal/domain"
	"github.com/neelvaidya133/bankify/internal/store"
)

// Transfer moves money from the caller's account to the account of the user registered under
// req.RecipientEmail. The recipient is notified after commit; that never affects the result.
func (s *Service) Transfer(ctx context.Context, senderID uuid.UUID, req domain.TransferRequest) (*domain.TransferResult, error) {
	email := strings.TrimSpace(req.RecipientEmail)
	if email == "" {
		return nil, validationError("recipient email is required")
	}
	if !req.Amount.IsPositive() {
		return nil, validationError("amount must be greater than zero")
	}
	description := strings.TrimSpace(req.Description)

	var (
		result       *domain.TransferResult
		notification domain.TransferNotification
	)
	err := s.settle(ctx, "transfer", func(tx store.Tx, sg *saga) error {
		now := s.now()
		sender, err := tx.FindUserByID(ctx, senderID)
		if err != nil {
			return err
		}
		recipient, err := tx.FindUserByEmail(ctx, email)
		if errors.Is(err, store.ErrUserNotFound) {
			return notFoundError("recipient %s not found", email)
		}
		if err != nil {
			return err
		}
		if recipient.ID == sender.ID {
			return validationError("cannot transfer to yourself")
		}

		sg.advance(domain.StateAuthorizing)
		senderAccount, recipientAccount, err := lockAccountPair(ctx, tx, sender.ID, recipient.ID)
		if err != nil {
			return err
		}
		if senderAccount.Balance < req.Amount {
			return insufficientFunds("insufficient funds: available %s, required %s", senderAccount.Balance, req.Amount)
		}

		sg.advance(domain.StatePosting)
		outDescription := "Transfer to " + recipient.Email
		if description != "" {
			outDescription = description
		}
		outgoing, err := recordTransaction(ctx, tx, ledgerEntry{
			userID:       sender.ID,
			kind:         domain.KindTransferOut,
			amount:       req.Amount,
			description:  outDescription,
			counterparty: recipient.Email,
		}, now)
		if err != nil {
			return err
		}
		incoming, err := recordTransaction(ctx, tx, ledgerEntry{
			userID:       recipient.ID,
			kind:         domain.KindTransferIn,
			amount:       req.Amount,
			description:  "Transfer from " + sender.Email,
			counterparty: sender.Email,
		}, now)
		if err != nil {
			return err
		}

		senderAccount.Balance = senderAccount.Balance.Sub(req.Amount)
		recipientAccount.Balance = recipientAccount.Balance.Add(req.Amount)
		if err := tx.UpdateAccountBalance(ctx, senderAccount.ID, senderAccount.Balance, now); err != nil {
			return fmt.Errorf("failed to debit sender: %w", err)
		}
		if err := tx.UpdateAccountBalance(ctx, recipientAccount.ID, recipientAccount.Balance, now); err != nil {
			return fmt.Errorf("failed to credit recipient: %w", err)
		}

		result = &domain.TransferResult{Outgoing: *outgoing, Incoming: *incoming, SenderBalance: senderAccount.Balance}
		notification = domain.TransferNotification{
			RecipientEmail: recipient.Email,
			RecipientName:  displayName(recipient),
			SenderName:     displayName(sender),
			Amount:         req.Amount,
			Currency:       domain.Currency,
			AccountTail:    cardTail(recipientAccount.AccountNumber),
			Date:           now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyTransfer(ctx, notification)
	return result, nil
}

// lockAccountPair locks both accounts in user id order so two opposite transfers cannot deadlock.
func lockAccountPair(ctx context.Context, tx store.Tx, senderID, recipientID uuid.UUID) (*domain.Account, *domain.Account, error) {
	first, second := senderID, recipientID
	swapped := strings.Compare(first.String(), second.String()) > 0
	if swapped {
		first, second = second, first
	}
	a, err := tx.LockAccountByUserID(ctx, first)
	if err != nil {
		return nil, nil, err
	}
	b, err := tx.LockAccountByUserID(ctx, second)
	if err != nil {
		return nil, nil, err
	}
	if swapped {
		return b, a, nil
	}
	return a, b, nil
}

func displayName(u *domain.User) string {
	if name := strings.TrimSpace(u.FullName); name != "" {
		return name
	}
	return u.Email
}

// notifyTransfer hands the notification to the collaborator in the background with a bounded
// timeout. Failures are logged and dropped.
func (s *Service) notifyTransfer(ctx context.Context, n domain.TransferNotification) {
	if s.notifier == nil {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.settings.NotificationTimeout)
		defer cancel()

		if err := s.notifier.NotifyTransfer(notifyCtx, n); err != nil {
			s.logger.Warn().
				Err(err).
				Str("component", "notification").
				Str("outcome", "dropped").
				Str("recipient", n.RecipientEmail).
				Msg("transfer notification failed")
			return
		}
		s.logger.Debug().Str("component", "notification").Str("outcome", "sent").Str("recipient", n.RecipientEmail).Msg("transfer notification sent")
	}()
}
