package app

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/neelvaidya133/bankify/internal/domain"
	"github.com/neelvaidya133/bankify/internal/money"
	"github.com/neelvaidya133/bankify/internal/store"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	cvvHashCost = bcrypt.MinCost
}

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{t: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type customer struct {
	user    domain.User
	account domain.Account
	debit   domain.Card
	credit  domain.Card
}

var accountSeq int

func seedCustomer(t *testing.T, repo *store.MemoryRepository, email string, balance, creditLimit money.Money) customer {
	t.Helper()
	accountSeq++
	user := domain.User{ID: uuid.New(), Email: email, FullName: "Customer " + email}
	account := domain.Account{
		ID:            uuid.New(),
		UserID:        user.ID,
		AccountNumber: fmt.Sprintf("0000%08d", accountSeq),
		Balance:       balance,
		Currency:      domain.Currency,
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
	}
	debit := domain.Card{
		ID:               uuid.New(),
		UserID:           user.ID,
		FundingAccountID: &account.ID,
		Kind:             domain.CardKindDebit,
		CardNumber:       fmt.Sprintf("5100%012d", accountSeq),
		CardholderName:   user.FullName,
		Status:           domain.CardStatusActive,
		CreatedAt:        testNow,
	}
	credit := domain.Card{
		ID:              uuid.New(),
		UserID:          user.ID,
		Kind:            domain.CardKindCredit,
		CardNumber:      fmt.Sprintf("5200%012d", accountSeq),
		CardholderName:  user.FullName,
		CreditLimit:     creditLimit,
		AvailableCredit: creditLimit,
		Status:          domain.CardStatusActive,
		CreatedAt:       testNow.Add(time.Second),
	}
	repo.PutUser(user)
	repo.PutAccount(account)
	repo.PutCard(debit)
	repo.PutCard(credit)
	return customer{user: user, account: account, debit: debit, credit: credit}
}

var tempCardSeq int

// seedTempCard issues a temporary card directly in the store and returns it with its clear CVV.
func seedTempCard(t *testing.T, repo *store.MemoryRepository, owner uuid.UUID, main domain.Card, expiresAt time.Time) (domain.TemporaryCard, string) {
	t.Helper()
	tempCardSeq++
	cvv := fmt.Sprintf("%03d", tempCardSeq%1000)
	hash, err := bcrypt.GenerateFromPassword([]byte(cvv), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash cvv: %v", err)
	}
	card := domain.TemporaryCard{
		ID:         uuid.New(),
		UserID:     owner,
		MainCardID: main.ID,
		CardNumber: fmt.Sprintf("4%015d", tempCardSeq),
		ExpiryDate: "04/26",
		CVVHash:    string(hash),
		Status:     domain.TemporaryCardActive,
		ExpiresAt:  expiresAt,
		CreatedAt:  testNow,
	}
	repo.PutTemporaryCard(card)
	return card, cvv
}

func purchaseRequest(card domain.TemporaryCard, cvv string, amount money.Money) domain.PurchaseRequest {
	return domain.PurchaseRequest{
		CardNumber: card.CardNumber,
		ExpiryDate: card.ExpiryDate,
		CVV:        cvv,
		Amount:     amount,
	}
}

func newTestService(repo store.Repository, clock *testClock) *Service {
	return NewService(repo, nil, nil, zerolog.Nop(), DefaultSettings(), clock.Now)
}

type notifierStub struct {
	mu   sync.Mutex
	sent []domain.TransferNotification
	err  error
}

func (n *notifierStub) NotifyTransfer(ctx context.Context, notification domain.TransferNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
	return n.err
}

func (n *notifierStub) calls() []domain.TransferNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.TransferNotification(nil), n.sent...)
}

// flakyRepo fails the first failures units of work with err before delegating.
type flakyRepo struct {
	*store.MemoryRepository
	mu       sync.Mutex
	failures int
	err      error
	calls    int
}

func (r *flakyRepo) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	r.mu.Lock()
	r.calls++
	fail := r.calls <= r.failures
	r.mu.Unlock()
	if fail {
		return r.err
	}
	return r.MemoryRepository.WithinTx(ctx, fn)
}

// lockRecorder notes the row locks each unit of work takes, in order.
type lockRecorder struct {
	*store.MemoryRepository
	mu    sync.Mutex
	units [][]string
}

func (r *lockRecorder) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return r.MemoryRepository.WithinTx(ctx, func(tx store.Tx) error {
		rt := &recordingTx{Tx: tx}
		err := fn(rt)
		r.mu.Lock()
		r.units = append(r.units, rt.locks)
		r.mu.Unlock()
		return err
	})
}

type recordingTx struct {
	store.Tx
	locks []string
}

func (t *recordingTx) LockAccountByUserID(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	t.locks = append(t.locks, "account")
	return t.Tx.LockAccountByUserID(ctx, userID)
}

func (t *recordingTx) LockCard(ctx context.Context, cardID uuid.UUID) (*domain.Card, error) {
	t.locks = append(t.locks, "card")
	return t.Tx.LockCard(ctx, cardID)
}

func (t *recordingTx) LockStatement(ctx context.Context, statementID uuid.UUID) (*domain.Statement, error) {
	t.locks = append(t.locks, "statement")
	return t.Tx.LockStatement(ctx, statementID)
}

func (t *recordingTx) LockOrCreateStatement(ctx context.Context, card *domain.Card, period domain.BillingPeriod, now time.Time) (*domain.Statement, bool, error) {
	t.locks = append(t.locks, "statement")
	return t.Tx.LockOrCreateStatement(ctx, card, period, now)
}

func countKind(txns []domain.Transaction, kind domain.TransactionKind) int {
	n := 0
	for _, txn := range txns {
		if txn.Kind == kind {
			n++
		}
	}
	return n
}

func mustAccount(t *testing.T, repo *store.MemoryRepository, id uuid.UUID) domain.Account {
	t.Helper()
	a, ok := repo.Account(id)
	if !ok {
		t.Fatalf("account %s not found", id)
	}
	return a
}

func mustCard(t *testing.T, repo *store.MemoryRepository, id uuid.UUID) domain.Card {
	t.Helper()
	c, ok := repo.Card(id)
	if !ok {
		t.Fatalf("card %s not found", id)
	}
	return c
}
