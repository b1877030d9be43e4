package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/neelvaidya133/bankify/internal/domain"
	"github.com/neelvaidya133/bankify/internal/money"
)

// MemoryRepository keeps the whole ledger in process. Units of work are serialised by a
// single mutex and applied copy-on-write, so a failed unit leaves no trace.
type MemoryRepository struct {
	mu    sync.Mutex
	state *memoryState
}

type memoryState struct {
	users        map[uuid.UUID]domain.User
	accounts     map[uuid.UUID]domain.Account
	cards        map[uuid.UUID]domain.Card
	tempCards    map[uuid.UUID]domain.TemporaryCard
	products     map[uuid.UUID]domain.Product
	statements   map[uuid.UUID]domain.Statement
	plans        map[uuid.UUID]domain.EMIPlan
	installments []domain.EMIInstallment
	transactions []domain.Transaction
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{state: &memoryState{
		users:      map[uuid.UUID]domain.User{},
		accounts:   map[uuid.UUID]domain.Account{},
		cards:      map[uuid.UUID]domain.Card{},
		tempCards:  map[uuid.UUID]domain.TemporaryCard{},
		products:   map[uuid.UUID]domain.Product{},
		statements: map[uuid.UUID]domain.Statement{},
		plans:      map[uuid.UUID]domain.EMIPlan{},
	}}
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *memoryState) clone() *memoryState {
	return &memoryState{
		users:        cloneMap(s.users),
		accounts:     cloneMap(s.accounts),
		cards:        cloneMap(s.cards),
		tempCards:    cloneMap(s.tempCards),
		products:     cloneMap(s.products),
		statements:   cloneMap(s.statements),
		plans:        cloneMap(s.plans),
		installments: append([]domain.EMIInstallment(nil), s.installments...),
		transactions: append([]domain.Transaction(nil), s.transactions...),
	}
}

// WithinTx runs fn against a private copy of the state and publishes it only on success.
func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	work := r.state.clone()
	if err := fn(&memoryTx{state: work}); err != nil {
		return err
	}
	r.state = work
	return nil
}

// Seeding helpers for local runs and tests.

func (r *MemoryRepository) PutUser(u domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.users[u.ID] = u
}

func (r *MemoryRepository) PutAccount(a domain.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.accounts[a.ID] = a
}

func (r *MemoryRepository) PutCard(c domain.Card) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.cards[c.ID] = c
}

func (r *MemoryRepository) PutTemporaryCard(c domain.TemporaryCard) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.tempCards[c.ID] = c
}

func (r *MemoryRepository) PutProduct(p domain.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.products[p.ID] = p
}

func (r *MemoryRepository) PutStatement(s domain.Statement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.statements[s.ID] = s
}

// Snapshot accessors for assertions.

func (r *MemoryRepository) Account(accountID uuid.UUID) (domain.Account, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.state.accounts[accountID]
	return a, ok
}

func (r *MemoryRepository) Card(cardID uuid.UUID) (domain.Card, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.state.cards[cardID]
	return c, ok
}

func (r *MemoryRepository) TemporaryCard(tempCardID uuid.UUID) (domain.TemporaryCard, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.state.tempCards[tempCardID]
	return c, ok
}

func (r *MemoryRepository) Statement(statementID uuid.UUID) (domain.Statement, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.state.statements[statementID]
	return s, ok
}

func (r *MemoryRepository) StatementsForCard(cardID uuid.UUID) []domain.Statement {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Statement
	for _, s := range r.state.statements {
		if s.CardID == cardID {
			out = append(out, s)
		}
	}
	return out
}

func (r *MemoryRepository) Transactions() []domain.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Transaction(nil), r.state.transactions...)
}

func (r *MemoryRepository) EMIPlan(planID uuid.UUID) (domain.EMIPlan, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.state.plans[planID]
	if ok {
		p.Installments = r.state.installmentsFor(planID)
	}
	return p, ok
}

// Repository read side.

func (r *MemoryRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return (&memoryTx{state: r.state}).FindUserByID(ctx, userID)
}

func (r *MemoryRepository) FindAccountByUserID(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return (&memoryTx{state: r.state}).LockAccountByUserID(ctx, userID)
}

func (r *MemoryRepository) ListCardsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Card, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cards := []domain.Card{}
	for _, c := range r.state.cards {
		if c.UserID == userID {
			cards = append(cards, c)
		}
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].CreatedAt.Before(cards[j].CreatedAt) })
	return cards, nil
}

func (r *MemoryRepository) ListActiveCreditCards(ctx context.Context) ([]domain.Card, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cards := []domain.Card{}
	for _, c := range r.state.cards {
		if c.Kind == domain.CardKindCredit && c.Status == domain.CardStatusActive {
			cards = append(cards, c)
		}
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].ID.String() < cards[j].ID.String() })
	return cards, nil
}

func (r *MemoryRepository) ListStatementsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Statement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	statements := []domain.Statement{}
	for _, s := range r.state.statements {
		if s.UserID == userID {
			statements = append(statements, s)
		}
	}
	sort.Slice(statements, func(i, j int) bool { return statements[i].PeriodStart.After(statements[j].PeriodStart) })
	return statements, nil
}

func (r *MemoryRepository) ListTransactionsByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	limit = normalizeLimit(limit)
	txns := []domain.Transaction{}
	for i := len(r.state.transactions) - 1; i >= 0 && len(txns) < limit; i-- {
		if r.state.transactions[i].UserID == userID {
			txns = append(txns, r.state.transactions[i])
		}
	}
	return txns, nil
}

func (r *MemoryRepository) ListEMIPlansByUserID(ctx context.Context, userID uuid.UUID) ([]domain.EMIPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	plans := []domain.EMIPlan{}
	for _, p := range r.state.plans {
		if p.UserID == userID {
			p.Installments = r.state.installmentsFor(p.ID)
			plans = append(plans, p)
		}
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].CreatedAt.After(plans[j].CreatedAt) })
	return plans, nil
}

func (r *MemoryRepository) ListDueEMIPlanIDs(ctx context.Context, asOf time.Time) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []domain.EMIPlan
	for _, p := range r.state.plans {
		if p.Status == domain.EMIPlanActive && p.RemainingInstallments > 0 && !p.NextPaymentDate.After(asOf) {
			due = append(due, p)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextPaymentDate.Before(due[j].NextPaymentDate) })
	ids := make([]uuid.UUID, 0, len(due))
	for _, p := range due {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func (s *memoryState) installmentsFor(planID uuid.UUID) []domain.EMIInstallment {
	var out []domain.EMIInstallment
	for _, i := range s.installments {
		if i.PlanID == planID {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].InstallmentNumber < out[b].InstallmentNumber })
	return out
}

// memoryTx implements Tx over a working copy. Locks are implicit: the repository mutex is
// held for the whole unit.
type memoryTx struct {
	state *memoryState
}

func (t *memoryTx) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	u, ok := t.state.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (t *memoryTx) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	needle := strings.ToLower(strings.TrimSpace(email))
	for _, u := range t.state.users {
		if strings.ToLower(u.Email) == needle {
			found := u
			return &found, nil
		}
	}
	return nil, ErrUserNotFound
}

func (t *memoryTx) FindProductByID(ctx context.Context, productID uuid.UUID) (*domain.Product, error) {
	p, ok := t.state.products[productID]
	if !ok {
		return nil, ErrProductNotFound
	}
	return &p, nil
}

func (t *memoryTx) LockAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	a, ok := t.state.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &a, nil
}

func (t *memoryTx) LockAccountByUserID(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	for _, a := range t.state.accounts {
		if a.UserID == userID {
			found := a
			return &found, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (t *memoryTx) LockCard(ctx context.Context, cardID uuid.UUID) (*domain.Card, error) {
	c, ok := t.state.cards[cardID]
	if !ok {
		return nil, ErrCardNotFound
	}
	return &c, nil
}

func (t *memoryTx) LockTemporaryCardByNumber(ctx context.Context, cardNumber string) (*domain.TemporaryCard, error) {
	for _, c := range t.state.tempCards {
		if c.CardNumber == cardNumber {
			found := c
			return &found, nil
		}
	}
	return nil, ErrTemporaryCardNotFound
}

func (t *memoryTx) FindStatementByID(ctx context.Context, statementID uuid.UUID) (*domain.Statement, error) {
	return t.LockStatement(ctx, statementID)
}

func (t *memoryTx) LockStatement(ctx context.Context, statementID uuid.UUID) (*domain.Statement, error) {
	s, ok := t.state.statements[statementID]
	if !ok {
		return nil, ErrStatementNotFound
	}
	return &s, nil
}

func (t *memoryTx) LockOrCreateStatement(ctx context.Context, card *domain.Card, period domain.BillingPeriod, now time.Time) (*domain.Statement, bool, error) {
	for _, s := range t.state.statements {
		if s.CardID == card.ID && s.PeriodStart.Equal(period.Start) {
			found := s
			return &found, false, nil
		}
	}
	st := domain.Statement{
		ID:          uuid.New(),
		CardID:      card.ID,
		UserID:      card.UserID,
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		DueDate:     period.DueDate,
		Status:      domain.StatementUnpaid,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	t.state.statements[st.ID] = st
	return &st, true, nil
}

func (t *memoryTx) LockEMIPlan(ctx context.Context, planID uuid.UUID) (*domain.EMIPlan, error) {
	p, ok := t.state.plans[planID]
	if !ok {
		return nil, ErrEMIPlanNotFound
	}
	return &p, nil
}

func (t *memoryTx) UpdateAccountBalance(ctx context.Context, accountID uuid.UUID, balance money.Money, now time.Time) error {
	a, ok := t.state.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	a.Balance = balance
	a.UpdatedAt = now
	t.state.accounts[accountID] = a
	return nil
}

func (t *memoryTx) UpdateCardCredit(ctx context.Context, cardID uuid.UUID, availableCredit money.Money, now time.Time) error {
	c, ok := t.state.cards[cardID]
	if !ok {
		return ErrCardNotFound
	}
	c.AvailableCredit = availableCredit
	c.UpdatedAt = now
	t.state.cards[cardID] = c
	return nil
}

func (t *memoryTx) UpdateCardStatus(ctx context.Context, cardID uuid.UUID, status domain.CardStatus, now time.Time) error {
	c, ok := t.state.cards[cardID]
	if !ok {
		return ErrCardNotFound
	}
	c.Status = status
	c.UpdatedAt = now
	t.state.cards[cardID] = c
	return nil
}

func (t *memoryTx) InsertTemporaryCard(ctx context.Context, card *domain.TemporaryCard) error {
	for _, c := range t.state.tempCards {
		if c.CardNumber == card.CardNumber {
			return ErrDuplicate
		}
	}
	t.state.tempCards[card.ID] = *card
	return nil
}

func (t *memoryTx) UpdateTemporaryCardStatus(ctx context.Context, tempCardID uuid.UUID, status domain.TemporaryCardStatus) error {
	c, ok := t.state.tempCards[tempCardID]
	if !ok {
		return ErrTemporaryCardNotFound
	}
	c.Status = status
	t.state.tempCards[tempCardID] = c
	return nil
}

func (t *memoryTx) UpdateStatementAmounts(ctx context.Context, st *domain.Statement) error {
	existing, ok := t.state.statements[st.ID]
	if !ok {
		return ErrStatementNotFound
	}
	existing.StatementAmount = st.StatementAmount
	existing.PaidAmount = st.PaidAmount
	existing.Status = st.Status
	existing.UpdatedAt = st.UpdatedAt
	t.state.statements[st.ID] = existing
	return nil
}

func (t *memoryTx) InsertEMIPlan(ctx context.Context, plan *domain.EMIPlan) error {
	stored := *plan
	stored.Installments = nil
	t.state.plans[plan.ID] = stored
	return nil
}

func (t *memoryTx) UpdateEMIPlan(ctx context.Context, plan *domain.EMIPlan) error {
	if _, ok := t.state.plans[plan.ID]; !ok {
		return ErrEMIPlanNotFound
	}
	stored := *plan
	stored.Installments = nil
	t.state.plans[plan.ID] = stored
	return nil
}

func (t *memoryTx) InsertEMIInstallment(ctx context.Context, installment *domain.EMIInstallment) error {
	for _, i := range t.state.installments {
		if i.PlanID == installment.PlanID && i.InstallmentNumber == installment.InstallmentNumber {
			return ErrDuplicate
		}
	}
	t.state.installments = append(t.state.installments, *installment)
	return nil
}

func (t *memoryTx) InsertTransaction(ctx context.Context, txn *domain.Transaction) error {
	t.state.transactions = append(t.state.transactions, *txn)
	return nil
}

func (t *memoryTx) SumCardCharges(ctx context.Context, cardID uuid.UUID, period domain.BillingPeriod) (money.Money, error) {
	total := money.Zero
	for _, txn := range t.state.transactions {
		if txn.CardID == nil || *txn.CardID != cardID {
			continue
		}
		if txn.Status != domain.TransactionCompleted || !isChargeKind(txn.Kind) {
			continue
		}
		if period.Contains(txn.CreatedAt) {
			total = total.Add(txn.Amount)
		}
	}
	return total, nil
}
