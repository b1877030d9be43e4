/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Money movement happens inside `WithinTx`: rows are locked with `SELECT ... FOR UPDATE`
 * so concurrent settlements on the same account, card or statement serialise, and the
 * monthly statement is found-or-created under the (card_id, period_start) unique key.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain, internal/money: domain models and amounts.
 */

package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neelvaidya133/bankify/internal/domain"
	"github.com/neelvaidya133/bankify/internal/money"
)

//go:embed schema.sql
var schemaSQL string

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// ApplySchema creates missing tables and indexes.
func (r *PostgresRepository) ApplySchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", mapPgError(err))
	}
	return nil
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// WithinTx runs fn inside a READ COMMITTED transaction; row locks provide the isolation.
func (r *PostgresRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapPgError(err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&postgresTx{q: tx}); err != nil {
		return mapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgError(err)
	}
	return nil
}

// mapPgError turns driver failures into store sentinels and passes every other error through.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		case "57P01", "57P03", "53300":
			return fmt.Errorf("%w: %s", ErrUnavailable, pgErr.Message)
		}
		return err
	}
	var connectErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connectErr) || errors.As(err, &netErr) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func notFound(err error, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return err
}

const (
	userColumns      = "id, email, full_name"
	accountColumns   = "id, user_id, account_number, balance, currency, created_at, updated_at"
	cardColumns      = "id, user_id, funding_account_id, card_type, card_number, cardholder_name, credit_limit, available_credit, status, created_at, updated_at"
	tempCardColumns  = "id, user_id, main_card_id, card_number, expiry_date, cvv_hash, status, expires_at, created_at"
	statementColumns = "id, card_id, user_id, period_start, period_end, due_date, statement_amount, paid_amount, status, created_at, updated_at"
	txnColumns       = "id, user_id, card_id, temp_card_id, transaction_type, amount, status, description, counterparty_label, merchant_category, created_at"
	planColumns      = "id, user_id, card_id, temp_card_id, product_name, principal, installment_amount, annual_rate_bps, total_installments, remaining_installments, next_payment_date, status, created_at"
	installColumns   = "id, plan_id, transaction_id, installment_number, amount, due_date, status, created_at"
)

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.FullName); err != nil {
		return nil, err
	}
	return &u, nil
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var a domain.Account
	var balance int64
	if err := row.Scan(&a.ID, &a.UserID, &a.AccountNumber, &balance, &a.Currency, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Balance = money.FromMinor(balance)
	return &a, nil
}

func scanCard(row rowScanner) (*domain.Card, error) {
	var c domain.Card
	var kind, status string
	var limit, available int64
	if err := row.Scan(&c.ID, &c.UserID, &c.FundingAccountID, &kind, &c.CardNumber, &c.CardholderName, &limit, &available, &status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Kind = domain.CardKind(kind)
	c.Status = domain.CardStatus(status)
	c.CreditLimit = money.FromMinor(limit)
	c.AvailableCredit = money.FromMinor(available)
	return &c, nil
}

func scanTemporaryCard(row rowScanner) (*domain.TemporaryCard, error) {
	var c domain.TemporaryCard
	var status string
	if err := row.Scan(&c.ID, &c.UserID, &c.MainCardID, &c.CardNumber, &c.ExpiryDate, &c.CVVHash, &status, &c.ExpiresAt, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Status = domain.TemporaryCardStatus(status)
	return &c, nil
}

func scanStatement(row rowScanner) (*domain.Statement, error) {
	var s domain.Statement
	var amount, paid int64
	var status string
	if err := row.Scan(&s.ID, &s.CardID, &s.UserID, &s.PeriodStart, &s.PeriodEnd, &s.DueDate, &amount, &paid, &status, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.StatementAmount = money.FromMinor(amount)
	s.PaidAmount = money.FromMinor(paid)
	s.Status = domain.StatementStatus(status)
	return &s, nil
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var t domain.Transaction
	var kind, status string
	var amount int64
	if err := row.Scan(&t.ID, &t.UserID, &t.CardID, &t.TempCardID, &kind, &amount, &status, &t.Description, &t.CounterpartyLabel, &t.MerchantCategory, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Kind = domain.TransactionKind(kind)
	t.Status = domain.TransactionStatus(status)
	t.Amount = money.FromMinor(amount)
	return &t, nil
}

func scanPlan(row rowScanner) (*domain.EMIPlan, error) {
	var p domain.EMIPlan
	var principal, installment int64
	var status string
	if err := row.Scan(&p.ID, &p.UserID, &p.CardID, &p.TempCardID, &p.ProductName, &principal, &installment, &p.AnnualRateBps, &p.TotalInstallments, &p.RemainingInstallments, &p.NextPaymentDate, &status, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Principal = money.FromMinor(principal)
	p.InstallmentAmount = money.FromMinor(installment)
	p.Status = domain.EMIPlanStatus(status)
	return &p, nil
}

func scanInstallment(row rowScanner) (*domain.EMIInstallment, error) {
	var i domain.EMIInstallment
	var amount int64
	var status string
	if err := row.Scan(&i.ID, &i.PlanID, &i.TransactionID, &i.InstallmentNumber, &amount, &i.DueDate, &status, &i.CreatedAt); err != nil {
		return nil, err
	}
	i.Amount = money.FromMinor(amount)
	i.Status = domain.EMIInstallmentStatus(status)
	return &i, nil
}

func collect[T any](rows pgx.Rows, scan func(rowScanner) (*T, error)) ([]T, error) {
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

// --- Repository read side ---

func (r *PostgresRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", userID))
	if err != nil {
		return nil, mapPgError(notFound(err, ErrUserNotFound))
	}
	return u, nil
}

func (r *PostgresRepository) FindAccountByUserID(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	a, err := scanAccount(r.db.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE user_id = $1", userID))
	if err != nil {
		return nil, mapPgError(notFound(err, ErrAccountNotFound))
	}
	return a, nil
}

func (r *PostgresRepository) ListCardsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Card, error) {
	rows, err := r.db.Query(ctx, "SELECT "+cardColumns+" FROM cards WHERE user_id = $1 ORDER BY created_at", userID)
	if err != nil {
		return nil, mapPgError(err)
	}
	return collect(rows, scanCard)
}

func (r *PostgresRepository) ListActiveCreditCards(ctx context.Context) ([]domain.Card, error) {
	rows, err := r.db.Query(ctx, "SELECT "+cardColumns+" FROM cards WHERE card_type = 'credit' AND status = 'active' ORDER BY id")
	if err != nil {
		return nil, mapPgError(err)
	}
	return collect(rows, scanCard)
}

func (r *PostgresRepository) ListStatementsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Statement, error) {
	rows, err := r.db.Query(ctx, "SELECT "+statementColumns+" FROM statements WHERE user_id = $1 ORDER BY period_start DESC", userID)
	if err != nil {
		return nil, mapPgError(err)
	}
	return collect(rows, scanStatement)
}

func (r *PostgresRepository) ListTransactionsByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Transaction, error) {
	rows, err := r.db.Query(ctx, "SELECT "+txnColumns+" FROM transactions WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2", userID, normalizeLimit(limit))
	if err != nil {
		return nil, mapPgError(err)
	}
	return collect(rows, scanTransaction)
}

func (r *PostgresRepository) ListEMIPlansByUserID(ctx context.Context, userID uuid.UUID) ([]domain.EMIPlan, error) {
	rows, err := r.db.Query(ctx, "SELECT "+planColumns+" FROM emi_plans WHERE user_id = $1 ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, mapPgError(err)
	}
	plans, err := collect(rows, scanPlan)
	if err != nil {
		return nil, mapPgError(err)
	}
	if len(plans) == 0 {
		return plans, nil
	}

	index := make(map[uuid.UUID]int, len(plans))
	ids := make([]uuid.UUID, 0, len(plans))
	for i, p := range plans {
		index[p.ID] = i
		ids = append(ids, p.ID)
	}
	instRows, err := r.db.Query(ctx, "SELECT "+installColumns+" FROM emi_installments WHERE plan_id = ANY($1) ORDER BY installment_number", ids)
	if err != nil {
		return nil, mapPgError(err)
	}
	installments, err := collect(instRows, scanInstallment)
	if err != nil {
		return nil, mapPgError(err)
	}
	for _, inst := range installments {
		if i, ok := index[inst.PlanID]; ok {
			plans[i].Installments = append(plans[i].Installments, inst)
		}
	}
	return plans, nil
}

func (r *PostgresRepository) ListDueEMIPlanIDs(ctx context.Context, asOf time.Time) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id FROM emi_plans
		WHERE status = 'active' AND remaining_installments > 0 AND next_payment_date <= $1
		ORDER BY next_payment_date`, asOf)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()
	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, mapPgError(err)
		}
		ids = append(ids, id)
	}
	return ids, mapPgError(rows.Err())
}

// --- Tx implementation ---

type postgresTx struct {
	q queryer
}

func (t *postgresTx) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	u, err := scanUser(t.q.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", userID))
	if err != nil {
		return nil, notFound(err, ErrUserNotFound)
	}
	return u, nil
}

func (t *postgresTx) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	u, err := scanUser(t.q.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE lower(email) = $1", strings.ToLower(strings.TrimSpace(email))))
	if err != nil {
		return nil, notFound(err, ErrUserNotFound)
	}
	return u, nil
}

func (t *postgresTx) FindProductByID(ctx context.Context, productID uuid.UUID) (*domain.Product, error) {
	var p domain.Product
	var price int64
	err := t.q.QueryRow(ctx, "SELECT id, name, category, price FROM products WHERE id = $1", productID).Scan(&p.ID, &p.Name, &p.Category, &price)
	if err != nil {
		return nil, notFound(err, ErrProductNotFound)
	}
	p.Price = money.FromMinor(price)
	return &p, nil
}

func (t *postgresTx) LockAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	a, err := scanAccount(t.q.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1 FOR UPDATE", accountID))
	if err != nil {
		return nil, notFound(err, ErrAccountNotFound)
	}
	return a, nil
}

func (t *postgresTx) LockAccountByUserID(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	a, err := scanAccount(t.q.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE user_id = $1 FOR UPDATE", userID))
	if err != nil {
		return nil, notFound(err, ErrAccountNotFound)
	}
	return a, nil
}

func (t *postgresTx) LockCard(ctx context.Context, cardID uuid.UUID) (*domain.Card, error) {
	c, err := scanCard(t.q.QueryRow(ctx, "SELECT "+cardColumns+" FROM cards WHERE id = $1 FOR UPDATE", cardID))
	if err != nil {
		return nil, notFound(err, ErrCardNotFound)
	}
	return c, nil
}

func (t *postgresTx) LockTemporaryCardByNumber(ctx context.Context, cardNumber string) (*domain.TemporaryCard, error) {
	c, err := scanTemporaryCard(t.q.QueryRow(ctx, "SELECT "+tempCardColumns+" FROM temporary_cards WHERE card_number = $1 FOR UPDATE", cardNumber))
	if err != nil {
		return nil, notFound(err, ErrTemporaryCardNotFound)
	}
	return c, nil
}

func (t *postgresTx) FindStatementByID(ctx context.Context, statementID uuid.UUID) (*domain.Statement, error) {
	s, err := scanStatement(t.q.QueryRow(ctx, "SELECT "+statementColumns+" FROM statements WHERE id = $1", statementID))
	if err != nil {
		return nil, notFound(err, ErrStatementNotFound)
	}
	return s, nil
}

func (t *postgresTx) LockStatement(ctx context.Context, statementID uuid.UUID) (*domain.Statement, error) {
	s, err := scanStatement(t.q.QueryRow(ctx, "SELECT "+statementColumns+" FROM statements WHERE id = $1 FOR UPDATE", statementID))
	if err != nil {
		return nil, notFound(err, ErrStatementNotFound)
	}
	return s, nil
}

func (t *postgresTx) LockOrCreateStatement(ctx context.Context, card *domain.Card, period domain.BillingPeriod, now time.Time) (*domain.Statement, bool, error) {
	// The unique key makes concurrent first charges of the month converge on one row.
	tag, err := t.q.Exec(ctx, `
		INSERT INTO statements (id, card_id, user_id, period_start, period_end, due_date, statement_amount, paid_amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, 0, 'unpaid', $7, $7)
		ON CONFLICT (card_id, period_start) DO NOTHING`,
		uuid.New(), card.ID, card.UserID, period.Start, period.End, period.DueDate, now)
	if err != nil {
		return nil, false, err
	}

	st, err := scanStatement(t.q.QueryRow(ctx, "SELECT "+statementColumns+" FROM statements WHERE card_id = $1 AND period_start = $2 FOR UPDATE", card.ID, period.Start))
	if err != nil {
		return nil, false, notFound(err, ErrStatementNotFound)
	}
	return st, tag.RowsAffected() == 1, nil
}

func (t *postgresTx) LockEMIPlan(ctx context.Context, planID uuid.UUID) (*domain.EMIPlan, error) {
	p, err := scanPlan(t.q.QueryRow(ctx, "SELECT "+planColumns+" FROM emi_plans WHERE id = $1 FOR UPDATE", planID))
	if err != nil {
		return nil, notFound(err, ErrEMIPlanNotFound)
	}
	return p, nil
}

func expectOne(tag pgconn.CommandTag, sentinel error) error {
	if tag.RowsAffected() == 0 {
		return sentinel
	}
	return nil
}

func (t *postgresTx) UpdateAccountBalance(ctx context.Context, accountID uuid.UUID, balance money.Money, now time.Time) error {
	tag, err := t.q.Exec(ctx, "UPDATE accounts SET balance = $1, updated_at = $2 WHERE id = $3", balance.Minor(), now, accountID)
	if err != nil {
		return err
	}
	return expectOne(tag, ErrAccountNotFound)
}

func (t *postgresTx) UpdateCardCredit(ctx context.Context, cardID uuid.UUID, availableCredit money.Money, now time.Time) error {
	tag, err := t.q.Exec(ctx, "UPDATE cards SET available_credit = $1, updated_at = $2 WHERE id = $3", availableCredit.Minor(), now, cardID)
	if err != nil {
		return err
	}
	return expectOne(tag, ErrCardNotFound)
}

func (t *postgresTx) UpdateCardStatus(ctx context.Context, cardID uuid.UUID, status domain.CardStatus, now time.Time) error {
	tag, err := t.q.Exec(ctx, "UPDATE cards SET status = $1, updated_at = $2 WHERE id = $3", string(status), now, cardID)
	if err != nil {
		return err
	}
	return expectOne(tag, ErrCardNotFound)
}

func (t *postgresTx) InsertTemporaryCard(ctx context.Context, card *domain.TemporaryCard) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO temporary_cards (`+tempCardColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		card.ID, card.UserID, card.MainCardID, card.CardNumber, card.ExpiryDate, card.CVVHash, string(card.Status), card.ExpiresAt, card.CreatedAt)
	return mapPgError(err)
}

func (t *postgresTx) UpdateTemporaryCardStatus(ctx context.Context, tempCardID uuid.UUID, status domain.TemporaryCardStatus) error {
	tag, err := t.q.Exec(ctx, "UPDATE temporary_cards SET status = $1 WHERE id = $2", string(status), tempCardID)
	if err != nil {
		return err
	}
	return expectOne(tag, ErrTemporaryCardNotFound)
}

func (t *postgresTx) UpdateStatementAmounts(ctx context.Context, st *domain.Statement) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE statements SET statement_amount = $1, paid_amount = $2, status = $3, updated_at = $4
		WHERE id = $5`,
		st.StatementAmount.Minor(), st.PaidAmount.Minor(), string(st.Status), st.UpdatedAt, st.ID)
	if err != nil {
		return err
	}
	return expectOne(tag, ErrStatementNotFound)
}

func (t *postgresTx) InsertEMIPlan(ctx context.Context, plan *domain.EMIPlan) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO emi_plans (`+planColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		plan.ID, plan.UserID, plan.CardID, plan.TempCardID, plan.ProductName, plan.Principal.Minor(), plan.InstallmentAmount.Minor(),
		plan.AnnualRateBps, plan.TotalInstallments, plan.RemainingInstallments, plan.NextPaymentDate, string(plan.Status), plan.CreatedAt)
	return err
}

func (t *postgresTx) UpdateEMIPlan(ctx context.Context, plan *domain.EMIPlan) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE emi_plans SET remaining_installments = $1, next_payment_date = $2, status = $3
		WHERE id = $4`,
		plan.RemainingInstallments, plan.NextPaymentDate, string(plan.Status), plan.ID)
	if err != nil {
		return err
	}
	return expectOne(tag, ErrEMIPlanNotFound)
}

func (t *postgresTx) InsertEMIInstallment(ctx context.Context, installment *domain.EMIInstallment) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO emi_installments (`+installColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		installment.ID, installment.PlanID, installment.TransactionID, installment.InstallmentNumber,
		installment.Amount.Minor(), installment.DueDate, string(installment.Status), installment.CreatedAt)
	return mapPgError(err)
}

func (t *postgresTx) InsertTransaction(ctx context.Context, txn *domain.Transaction) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO transactions (`+txnColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		txn.ID, txn.UserID, txn.CardID, txn.TempCardID, string(txn.Kind), txn.Amount.Minor(), string(txn.Status),
		txn.Description, txn.CounterpartyLabel, txn.MerchantCategory, txn.CreatedAt)
	return err
}

func (t *postgresTx) SumCardCharges(ctx context.Context, cardID uuid.UUID, period domain.BillingPeriod) (money.Money, error) {
	kinds := make([]string, 0, len(chargeKinds))
	for _, k := range chargeKinds {
		kinds = append(kinds, string(k))
	}
	var total int64
	err := t.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::BIGINT FROM transactions
		WHERE card_id = $1 AND status = 'completed' AND transaction_type = ANY($2)
		  AND created_at >= $3 AND created_at < $4`,
		cardID, kinds, period.Start, period.End.AddDate(0, 0, 1)).Scan(&total)
	if err != nil {
		return 0, err
	}
	return money.FromMinor(total), nil
}
