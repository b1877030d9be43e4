package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/neelvaidya133/bankify/internal/domain"
	"github.com/neelvaidya133/bankify/internal/money"
	"github.com/neelvaidya133/bankify/internal/store"
	"github.com/rs/zerolog"
)

func TestPurchase_DebitCardDrawsOnAccount(t *testing.T) {
	repo := store.NewMemoryRepository()
	c := seedCustomer(t, repo, "ava@example.com", money.FromMajor(100), money.FromMajor(1000))
	temp, cvv := seedTempCard(t, repo, c.user.ID, c.debit, testNow.Add(time.Hour))
	product := domain.Product{ID: uuid.New(), Name: "Headphones", Category: "electronics", Price: money.FromMajor(25)}
	repo.PutProduct(product)
	svc := newTestService(repo, newTestClock(testNow))

	req := purchaseRequest(temp, cvv, money.FromMajor(25))
	req.ProductID = &product.ID
	result, err := svc.Purchase(context.Background(), c.user.ID, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.FundingKind != domain.CardKindDebit {
		t.Fatalf("expected debit funding, got %s", result.FundingKind)
	}
	if result.AvailableAfter != money.FromMajor(75) {
		t.Fatalf("expected 75.00 available, got %s", result.AvailableAfter)
	}
	if result.StatementID != nil {
		t.Fatalf("expected no statement for a debit purchase")
	}
	if got := mustAccount(t, repo, c.account.ID).Balance; got != money.FromMajor(75) {
		t.Fatalf("expected balance 75.00, got %s", got)
	}
	if result.Transaction.Kind != domain.KindPurchase || result.Transaction.Description != "Purchase: Headphones" {
		t.Fatalf("unexpected ledger row: %+v", result.Transaction)
	}
	if result.Transaction.MerchantCategory != "electronics" {
		t.Fatalf("expected merchant category, got %q", result.Transaction.MerchantCategory)
	}
	stored, _ := repo.TemporaryCard(temp.ID)
	if stored.Status != domain.TemporaryCardUsed {
		t.Fatalf("expected temporary card to be used, got %s", stored.Status)
	}
}

func TestPurchase_CreditCardPostsToStatement(t *testing.T) {
	repo := store.NewMemoryRepository()
	c := seedCustomer(t, repo, "ben@example.com", money.FromMajor(100), money.FromMajor(1000))
	temp, cvv := seedTempCard(t, repo, c.user.ID, c.credit, testNow.Add(time.Hour))
	svc := newTestService(repo, newTestClock(testNow))

	result, err := svc.Purchase(context.Background(), c.user.ID, purchaseRequest(temp, cvv, money.FromMajor(200)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := mustCard(t, repo, c.credit.ID).AvailableCredit; got != money.FromMajor(800) {
		t.Fatalf("expected 800.00 available credit, got %s", got)
	}
	if got := mustAccount(t, repo, c.account.ID).Balance; got != money.FromMajor(100) {
		t.Fatalf("expected account untouched, got %s", got)
	}
	if result.StatementID == nil {
		t.Fatalf("expected a statement id")
	}
	st, ok := repo.Statement(*result.StatementID)
	if !ok {
		t.Fatalf("statement %s not stored", *result.StatementID)
	}
	if st.StatementAmount != money.FromMajor(200) || st.Status != domain.StatementUnpaid {
		t.Fatalf("unexpected statement: %+v", st)
	}
	if want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC); !st.PeriodStart.Equal(want) {
		t.Fatalf("expected period start %s, got %s", want, st.PeriodStart)
	}
	if want := time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC); !st.DueDate.Equal(want) {
		t.Fatalf("expected due date %s, got %s", want, st.DueDate)
	}
}

func TestPurchase_TemporaryCardAuthorizesOnce(t *testing.T) {
	repo := store.NewMemoryRepository()
	c := seedCustomer(t, repo, "cora@example.com", money.FromMajor(100), money.FromMajor(1000))
	temp, cvv := seedTempCard(t, repo, c.user.ID, c.debit, testNow.Add(time.Hour))
	svc := newTestService(repo, newTestClock(testNow))

	if _, err := svc.Purchase(context.Background(), c.user.ID, purchaseRequest(temp, cvv, money.FromMajor(10))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := svc.Purchase(context.Background(), c.user.ID, purchaseRequest(temp, cvv, money.FromMajor(10)))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on reuse, got %v", err)
	}
	if got := mustAccount(t, repo, c.account.ID).Balance; got != money.FromMajor(90) {
		t.Fatalf("expected one debit only, got balance %s", got)
	}
	if n := countKind(repo.Transactions(), domain.KindPurchase); n != 1 {
		t.Fatalf("expected one purchase row, got %d", n)
	}
}

func TestPurchase_RejectsInvalidCredentials(t *testing.T) {
	repo := store.NewMemoryRepository()
	owner := seedCustomer(t, repo, "dan@example.com", money.FromMajor(100), money.FromMajor(1000))
	other := seedCustomer(t, repo, "eve@example.com", money.FromMajor(100), money.FromMajor(1000))
	temp, cvv := seedTempCard(t, repo, owner.user.ID, owner.debit, testNow.Add(time.Hour))
	svc := newTestService(repo, newTestClock(testNow))

	tests := []struct {
		name   string
		userID uuid.UUID
		mutate func(r *domain.PurchaseRequest)
		want   error
	}{
		{name: "wrong cvv", userID: owner.user.ID, mutate: func(r *domain.PurchaseRequest) { r.CVV = "999" }, want: ErrNotFound},
		{name: "wrong expiry", userID: owner.user.ID, mutate: func(r *domain.PurchaseRequest) { r.ExpiryDate = "05/26" }, want: ErrNotFound},
		{name: "unknown number", userID: owner.user.ID, mutate: func(r *domain.PurchaseRequest) { r.CardNumber = "4999999999999999" }, want: ErrNotFound},
		{name: "not the owner", userID: other.user.ID, mutate: func(r *domain.PurchaseRequest) {}, want: ErrNotFound},
		{name: "zero amount", userID: owner.user.ID, mutate: func(r *domain.PurchaseRequest) { r.Amount = 0 }, want: ErrValidation},
		{name: "negative amount", userID: owner.user.ID, mutate: func(r *domain.PurchaseRequest) { r.Amount = -100 }, want: ErrValidation},
		{name: "missing cvv", userID: owner.user.ID, mutate: func(r *domain.PurchaseRequest) { r.CVV = " " }, want: ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := purchaseRequest(temp, cvv, money.FromMajor(10))
			tt.mutate(&req)
			_, err := svc.Purchase(context.Background(), tt.userID, req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	stored, _ := repo.TemporaryCard(temp.ID)
	if stored.Status != domain.TemporaryCardActive {
		t.Fatalf("expected card to stay active, got %s", stored.Status)
	}
	if n := len(repo.Transactions()); n != 0 {
		t.Fatalf("expected no ledger rows, got %d", n)
	}
}

func TestPurchase_ExpiredTemporaryCardIsMarkedExpired(t *testing.T) {
	repo := store.NewMemoryRepository()
	c := seedCustomer(t, repo, "fay@example.com", money.FromMajor(100), money.FromMajor(1000))
	temp, cvv := seedTempCard(t, repo, c.user.ID, c.debit, testNow.Add(-time.Minute))
	svc := newTestService(repo, newTestClock(testNow))

	_, err := svc.Purchase(context.Background(), c.user.ID, purchaseRequest(temp, cvv, money.FromMajor(10)))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	stored, _ := repo.TemporaryCard(temp.ID)
	if stored.Status != domain.TemporaryCardExpired {
		t.Fatalf("expected expired status, got %s", stored.Status)
	}
	if got := mustAccount(t, repo, c.account.ID).Balance; got != money.FromMajor(100) {
		t.Fatalf("expected balance untouched, got %s", got)
	}
}

func TestPurchase_FrozenCardRejectsDebit(t *testing.T) {
	repo := store.NewMemoryRepository()
	c := seedCustomer(t, repo, "gus@example.com", money.FromMajor(100), money.FromMajor(1000))
	frozen := c.credit
	frozen.Status = domain.CardStatusFrozen
	repo.PutCard(frozen)
	temp, cvv := seedTempCard(t, repo, c.user.ID, frozen, testNow.Add(time.Hour))
	svc := newTestService(repo, newTestClock(testNow))

	_, err := svc.Purchase(context.Background(), c.user.ID, purchaseRequest(temp, cvv, money.FromMajor(10)))
	if !errors.Is(err, ErrCardFrozen) {
		t.Fatalf("expected ErrCardFrozen, got %v", err)
	}
	if got := mustCard(t, repo, c.credit.ID).AvailableCredit; got != money.FromMajor(1000) {
		t.Fatalf("expected credit untouched, got %s", got)
	}
	stored, _ := repo.TemporaryCard(temp.ID)
	if stored.Status != domain.TemporaryCardActive {
		t.Fatalf("expected temporary card to stay active, got %s", stored.Status)
	}
}

func TestPurchase_InsufficientCredit(t *testing.T) {
	repo := store.NewMemoryRepository()
	c := seedCustomer(t, repo, "hal@example.com", money.FromMajor(100), money.FromMajor(50))
	temp, cvv := seedTempCard(t, repo, c.user.ID, c.credit, testNow.Add(time.Hour))
	svc := newTestService(repo, newTestClock(testNow))

	_, err := svc.Purchase(context.Background(), c.user.ID, purchaseRequest(temp, cvv, money.FromMinor(5001)))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if n := len(repo.StatementsForCard(c.credit.ID)); n != 0 {
		t.Fatalf("expected no statement, got %d", n)
	}
	if n := len(repo.Transactions()); n != 0 {
		t.Fatalf("expected no ledger rows, got %d", n)
	}
}

func TestPurchase_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	repo := store.NewMemoryRepository()
	c := seedCustomer(t, repo, "ivy@example.com", money.FromMajor(100), money.FromMajor(1000))
	first, firstCVV := seedTempCard(t, repo, c.user.ID, c.debit, testNow.Add(time.Hour))
	second, secondCVV := seedTempCard(t, repo, c.user.ID, c.debit, testNow.Add(time.Hour))
	svc := newTestService(repo, newTestClock(testNow))

	requests := []domain.PurchaseRequest{
		purchaseRequest(first, firstCVV, money.FromMajor(60)),
		purchaseRequest(second, secondCVV, money.FromMajor(60)),
	}
	errs := make([]error, len(requests))
	var wg sync.WaitGroup
	for i := range requests {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Purchase(context.Background(), c.user.ID, requests[i])
		}(i)
	}
	wg.Wait()

	successes, insufficient := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrInsufficientFunds):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || insufficient != 1 {
		t.Fatalf("expected one success and one insufficient funds, got %d and %d", successes, insufficient)
	}
	if got := mustAccount(t, repo, c.account.ID).Balance; got != money.FromMajor(40) {
		t.Fatalf("expected final balance 40.00, got %s", got)
	}
}

func TestPurchase_StatementReconcilesUnderConcurrency(t *testing.T) {
	repo := store.NewMemoryRepository()
	c := seedCustomer(t, repo, "jon@example.com", money.FromMajor(100), money.FromMajor(10_000))
	svc := newTestService(repo, newTestClock(testNow))

	const buyers = 12
	requests := make([]domain.PurchaseRequest, buyers)
	for i := range requests {
		temp, cvv := seedTempCard(t, repo, c.user.ID, c.credit, testNow.Add(time.Hour))
		requests[i] = purchaseRequest(temp, cvv, money.FromMinor(int64(1000+i*37)))
	}

	var wg sync.WaitGroup
	for i := range requests {
		wg.Add(1)
		go func(req domain.PurchaseRequest) {
			defer wg.Done()
			if _, err := svc.Purchase(context.Background(), c.user.ID, req); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}(requests[i])
	}
	wg.Wait()

	statements := repo.StatementsForCard(c.credit.ID)
	if len(statements) != 1 {
		t.Fatalf("expected exactly one statement, got %d", len(statements))
	}
	var charged money.Money
	for _, txn := range repo.Transactions() {
		if txn.Kind == domain.KindPurchase && txn.CardID != nil && *txn.CardID == c.credit.ID {
			charged = charged.Add(txn.Amount)
		}
	}
	if statements[0].StatementAmount != charged {
		t.Fatalf("expected statement %s to equal ledger charges %s", statements[0].StatementAmount, charged)
	}
	if got := mustCard(t, repo, c.credit.ID).AvailableCredit; got != money.FromMajor(10_000).Sub(charged) {
		t.Fatalf("expected available credit to drop by %s, got %s", charged, got)
	}
}

type limiterStub struct {
	count int
	err   error
}

func (l *limiterStub) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	l.count++
	return l.count, 42, l.err
}

func TestPurchase_RateLimitedAfterTooManyAttempts(t *testing.T) {
	repo := store.NewMemoryRepository()
	c := seedCustomer(t, repo, "kim@example.com", money.FromMajor(100), money.FromMajor(1000))
	temp, cvv := seedTempCard(t, repo, c.user.ID, c.debit, testNow.Add(time.Hour))
	settings := DefaultSettings()
	settings.PurchaseRateLimitPerMinute = 2
	limiter := &limiterStub{}
	svc := NewService(repo, nil, limiter, zerolog.Nop(), settings, newTestClock(testNow).Now)

	bad := purchaseRequest(temp, "000", money.FromMajor(1))
	for i := 0; i < 2; i++ {
		if _, err := svc.Purchase(context.Background(), c.user.ID, bad); !errors.Is(err, ErrNotFound) {
			t.Fatalf("attempt %d: expected ErrNotFound, got %v", i+1, err)
		}
	}
	_, err := svc.Purchase(context.Background(), c.user.ID, purchaseRequest(temp, cvv, money.FromMajor(1)))
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestPurchase_RateLimiterOutageFailsOpen(t *testing.T) {
	repo := store.NewMemoryRepository()
	c := seedCustomer(t, repo, "lee@example.com", money.FromMajor(100), money.FromMajor(1000))
	temp, cvv := seedTempCard(t, repo, c.user.ID, c.debit, testNow.Add(time.Hour))
	limiter := &limiterStub{err: errors.New("redis down")}
	svc := NewService(repo, nil, limiter, zerolog.Nop(), DefaultSettings(), newTestClock(testNow).Now)

	if _, err := svc.Purchase(context.Background(), c.user.ID, purchaseRequest(temp, cvv, money.FromMajor(1))); err != nil {
		t.Fatalf("expected purchase to proceed, got %v", err)
	}
}
