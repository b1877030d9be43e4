package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/neelvaidya133/bankify/internal/domain"
	"github.com/neelvaidya133/bankify/internal/money"
	"github.com/neelvaidya133/bankify/internal/store"
	"github.com/shopspring/decimal"
)

func TestCalculateInstallment(t *testing.T) {
	tests := []struct {
		name      string
		principal money.Money
		rate      string
		tenure    int
		want      money.Money
		wantTotal money.Money
	}{
		{name: "twelve months at ten percent", principal: money.FromMajor(1200), rate: "0.10", tenure: 12, want: money.FromMinor(10550), wantTotal: money.FromMinor(126599)},
		{name: "six months", principal: money.FromMajor(1000), rate: "0.10", tenure: 6, want: money.FromMinor(17156), wantTotal: money.FromMinor(102937)},
		{name: "twenty four months", principal: money.FromMajor(5000), rate: "0.10", tenure: 24, want: money.FromMinor(23072), wantTotal: money.FromMinor(553739)},
		{name: "odd principal", principal: money.FromMinor(99999), rate: "0.12", tenure: 4, want: money.FromMinor(25628), wantTotal: money.FromMinor(102511)},
		{name: "zero rate", principal: money.FromMajor(100), rate: "0", tenure: 3, want: money.FromMinor(3333), wantTotal: money.FromMajor(100)},
		{name: "single month", principal: money.FromMajor(1000), rate: "0.10", tenure: 1, want: money.FromMinor(100833), wantTotal: money.FromMinor(100833)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate := decimal.RequireFromString(tt.rate)
			got, err := CalculateInstallment(tt.principal, rate, tt.tenure)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected installment %s, got %s", tt.want, got)
			}
			_, total, err := planTotal(tt.principal, rate, tt.tenure)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if total != tt.wantTotal {
				t.Fatalf("expected total %s, got %s", tt.wantTotal, total)
			}
		})
	}
}

func TestCalculateInstallment_RejectsBadInput(t *testing.T) {
	rate := decimal.RequireFromString("0.10")
	if _, err := CalculateInstallment(money.FromMajor(100), rate, 0); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for zero tenure, got %v", err)
	}
	if _, err := CalculateInstallment(0, rate, 12); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for zero principal, got %v", err)
	}
	if _, err := CalculateInstallment(money.FromMajor(100), decimal.RequireFromString("-0.01"), 12); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for negative rate, got %v", err)
	}
}

func TestCalculateInstallment_HugeTenureReturnsQuickly(t *testing.T) {
	rate := decimal.RequireFromString("0.10")
	done := make(chan money.Money, 1)
	go func() {
		got, err := CalculateInstallment(money.FromMajor(1200), rate, 2_000_000_000)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		done <- got
	}()

	select {
	case got := <-done:
		// The installment converges on the monthly interest, P*r.
		if got != money.FromMajor(10) {
			t.Fatalf("expected 10.00, got %s", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("expected installment for a huge tenure within 5s")
	}
}

func TestQuote_RejectsTenureAboveCeiling(t *testing.T) {
	svc := newTestService(store.NewMemoryRepository(), newTestClock(testNow))

	if _, err := svc.Quote(money.FromMajor(1200), MaxTenure); err != nil {
		t.Fatalf("expected %d months to be quoted, got %v", MaxTenure, err)
	}
	for _, tenure := range []int{MaxTenure + 1, 2_000_000_000} {
		if _, err := svc.Quote(money.FromMajor(1200), tenure); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation for tenure %d, got %v", tenure, err)
		}
	}
}

func TestInstallmentDueDate(t *testing.T) {
	tests := []struct {
		name   string
		start  time.Time
		offset int
		want   time.Time
	}{
		{name: "mid month", start: testNow, offset: 1, want: time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)},
		{name: "end of january into february", start: time.Date(2026, 1, 31, 9, 30, 0, 0, time.UTC), offset: 1, want: time.Date(2026, 2, 28, 9, 30, 0, 0, time.UTC)},
		{name: "end of january into march", start: time.Date(2026, 1, 31, 9, 30, 0, 0, time.UTC), offset: 2, want: time.Date(2026, 3, 31, 9, 30, 0, 0, time.UTC)},
		{name: "end of january into april", start: time.Date(2026, 1, 31, 9, 30, 0, 0, time.UTC), offset: 3, want: time.Date(2026, 4, 30, 9, 30, 0, 0, time.UTC)},
		{name: "leap february", start: time.Date(2028, 1, 30, 0, 0, 0, 0, time.UTC), offset: 1, want: time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC)},
		{name: "across a year", start: time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), offset: 6, want: time.Date(2027, 2, 28, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := installmentDueDate(tt.start, tt.offset); !got.Equal(tt.want) {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestQuote(t *testing.T) {
	svc := newTestService(store.NewMemoryRepository(), newTestClock(testNow))

	quote, err := svc.Quote(money.FromMajor(1200), 12)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.InstallmentAmount != money.FromMinor(10550) || quote.TotalPayable != money.FromMinor(126599) {
		t.Fatalf("unexpected quote %+v", quote)
	}
	if quote.AnnualRatePercent != "10" {
		t.Fatalf("expected rate 10, got %s", quote.AnnualRatePercent)
	}
}

func TestPurchaseWithEMI_Debit(t *testing.T) {
	repo := store.NewMemoryRepository()
	c := seedCustomer(t, repo, "emi@example.com", money.FromMajor(500), 0)
	temp, cvv := seedTempCard(t, repo, c.user.ID, c.debit, testNow.Add(time.Hour))
	svc := newTestService(repo, newTestClock(testNow))

	result, err := svc.PurchaseWithEMI(context.Background(), c.user.ID, domain.EMIPurchaseRequest{
		CardNumber: temp.CardNumber,
		ExpiryDate: temp.ExpiryDate,
		CVV:        cvv,
		Amount:     money.FromMajor(1200),
		Tenure:     12,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := mustAccount(t, repo, c.account.ID).Balance; got != money.FromMinor(39450) {
		t.Fatalf("expected balance 394.50, got %s", got)
	}
	if result.Transaction.Kind != domain.KindEMIInstallment || result.Transaction.Description != "EMI 1/12: Product Purchase" {
		t.Fatalf("unexpected ledger row %+v", result.Transaction)
	}
	plan, ok := repo.EMIPlan(result.Plan.ID)
	if !ok {
		t.Fatalf("expected plan to be stored")
	}
	if plan.RemainingInstallments != 11 || plan.Status != domain.EMIPlanActive {
		t.Fatalf("unexpected plan %+v", plan)
	}
	if want := testNow.AddDate(0, 1, 0); !plan.NextPaymentDate.Equal(want) {
		t.Fatalf("expected next payment %s, got %s", want, plan.NextPaymentDate)
	}
	if len(plan.Installments) != 1 || plan.Installments[0].Status != domain.EMIInstallmentPaid || plan.Installments[0].Amount != money.FromMinor(10550) {
		t.Fatalf("unexpected installments %+v", plan.Installments)
	}
	if got, _ := repo.TemporaryCard(temp.ID); got.Status != domain.TemporaryCardUsed {
		t.Fatalf("expected temporary card used, got %s", got.Status)
	}
}

func TestPurchaseWithEMI_CreditPostsToStatement(t *testing.T) {
	repo := store.NewMemoryRepository()
	c := seedCustomer(t, repo, "emicredit@example.com", 0, money.FromMajor(2000))
	temp, cvv := seedTempCard(t, repo, c.user.ID, c.credit, testNow.Add(time.Hour))
	svc := newTestService(repo, newTestClock(testNow))

	result, err := svc.PurchaseWithEMI(context.Background(), c.user.ID, domain.EMIPurchaseRequest{
		CardNumber: temp.CardNumber,
		ExpiryDate: temp.ExpiryDate,
		CVV:        cvv,
		Amount:     money.FromMajor(1000),
		Tenure:     1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Plan.Status != domain.EMIPlanCompleted || result.Plan.RemainingInstallments != 0 {
		t.Fatalf("expected a single-installment plan to complete, got %+v", result.Plan)
	}
	if result.StatementID == nil {
		t.Fatalf("expected the installment to be posted to a statement")
	}
	st, _ := repo.Statement(*result.StatementID)
	if st.StatementAmount != money.FromMinor(100833) {
		t.Fatalf("expected statement 1008.33, got %s", st.StatementAmount)
	}
	if got := mustCard(t, repo, c.credit.ID).AvailableCredit; got != money.FromMinor(99167) {
		t.Fatalf("expected available credit 991.67, got %s", got)
	}
}

func TestPurchaseWithEMI_Validation(t *testing.T) {
	repo := store.NewMemoryRepository()
	c := seedCustomer(t, repo, "emival@example.com", money.FromMajor(500), 0)
	temp, cvv := seedTempCard(t, repo, c.user.ID, c.debit, testNow.Add(time.Hour))
	svc := newTestService(repo, newTestClock(testNow))

	tests := []struct {
		name string
		req  domain.EMIPurchaseRequest
		want error
	}{
		{name: "zero tenure", req: domain.EMIPurchaseRequest{CardNumber: temp.CardNumber, ExpiryDate: temp.ExpiryDate, CVV: cvv, Amount: money.FromMajor(100)}, want: ErrValidation},
		{name: "zero amount", req: domain.EMIPurchaseRequest{CardNumber: temp.CardNumber, ExpiryDate: temp.ExpiryDate, CVV: cvv, Tenure: 6}, want: ErrValidation},
		{name: "tenure above ceiling", req: domain.EMIPurchaseRequest{CardNumber: temp.CardNumber, ExpiryDate: temp.ExpiryDate, CVV: cvv, Amount: money.FromMajor(100), Tenure: MaxTenure + 1}, want: ErrValidation},
		{name: "first installment exceeds balance", req: domain.EMIPurchaseRequest{CardNumber: temp.CardNumber, ExpiryDate: temp.ExpiryDate, CVV: cvv, Amount: money.FromMajor(600), Tenure: 1}, want: ErrInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.PurchaseWithEMI(context.Background(), c.user.ID, tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if got, _ := repo.TemporaryCard(temp.ID); got.Status != domain.TemporaryCardActive {
		t.Fatalf("expected temporary card still active, got %s", got.Status)
	}
}

func TestCollectDueInstallments_CompletesPlan(t *testing.T) {
	repo := store.NewMemoryRepository()
	c := seedCustomer(t, repo, "collect@example.com", money.FromMajor(500), 0)
	temp, cvv := seedTempCard(t, repo, c.user.ID, c.debit, testNow.Add(time.Hour))
	clock := newTestClock(testNow)
	svc := newTestService(repo, clock)

	result, err := svc.PurchaseWithEMI(context.Background(), c.user.ID, domain.EMIPurchaseRequest{
		CardNumber: temp.CardNumber,
		ExpiryDate: temp.ExpiryDate,
		CVV:        cvv,
		Amount:     money.FromMajor(200),
		Tenure:     2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	early, err := svc.CollectDueInstallments(context.Background(), testNow.AddDate(0, 0, 20))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if early.Collected != 0 {
		t.Fatalf("expected nothing due yet, got %+v", early)
	}

	due := testNow.AddDate(0, 1, 0)
	clock.Set(due)
	report, err := svc.CollectDueInstallments(context.Background(), due)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Collected != 1 || report.Defaulted != 0 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}

	plan, _ := repo.EMIPlan(result.Plan.ID)
	if plan.Status != domain.EMIPlanCompleted || plan.RemainingInstallments != 0 {
		t.Fatalf("expected completed plan, got %+v", plan)
	}
	quote, _ := svc.Quote(money.FromMajor(200), 2)
	paid := money.Zero
	for _, inst := range plan.Installments {
		paid = paid.Add(inst.Amount)
	}
	if paid != quote.TotalPayable {
		t.Fatalf("expected installments to sum to %s, got %s", quote.TotalPayable, paid)
	}
	if got := mustAccount(t, repo, c.account.ID).Balance; got != money.FromMajor(500).Sub(quote.TotalPayable) {
		t.Fatalf("unexpected balance %s", got)
	}

	again, _ := svc.CollectDueInstallments(context.Background(), due.AddDate(0, 1, 0))
	if again.Collected != 0 {
		t.Fatalf("expected completed plan to be skipped, got %+v", again)
	}
}

func TestCollectDueInstallments_DefaultsOnInsufficientFunds(t *testing.T) {
	repo := store.NewMemoryRepository()
	c := seedCustomer(t, repo, "default@example.com", money.FromMajor(150), 0)
	temp, cvv := seedTempCard(t, repo, c.user.ID, c.debit, testNow.Add(time.Hour))
	svc := newTestService(repo, newTestClock(testNow))

	result, err := svc.PurchaseWithEMI(context.Background(), c.user.ID, domain.EMIPurchaseRequest{
		CardNumber: temp.CardNumber,
		ExpiryDate: temp.ExpiryDate,
		CVV:        cvv,
		Amount:     money.FromMajor(200),
		Tenure:     2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := mustAccount(t, repo, c.account.ID).Balance

	report, err := svc.CollectDueInstallments(context.Background(), testNow.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Defaulted != 1 || report.Collected != 0 {
		t.Fatalf("unexpected report %+v", report)
	}

	plan, _ := repo.EMIPlan(result.Plan.ID)
	if plan.Status != domain.EMIPlanDefaulted {
		t.Fatalf("expected defaulted plan, got %s", plan.Status)
	}
	if len(plan.Installments) != 2 || plan.Installments[1].Status != domain.EMIInstallmentFailed {
		t.Fatalf("expected a failed second installment, got %+v", plan.Installments)
	}
	if got := mustAccount(t, repo, c.account.ID).Balance; got != before {
		t.Fatalf("expected balance unchanged at %s, got %s", before, got)
	}
	if n := countKind(repo.Transactions(), domain.KindEMIInstallment); n != 1 {
		t.Fatalf("expected only the first installment in the ledger, got %d", n)
	}
}

func TestCollectDueInstallments_MonthEndSchedule(t *testing.T) {
	start := time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC)
	repo := store.NewMemoryRepository()
	c := seedCustomer(t, repo, "monthend@example.com", money.FromMajor(1000), 0)
	temp, cvv := seedTempCard(t, repo, c.user.ID, c.debit, start.Add(time.Hour))
	clock := newTestClock(start)
	svc := newTestService(repo, clock)

	result, err := svc.PurchaseWithEMI(context.Background(), c.user.ID, domain.EMIPurchaseRequest{
		CardNumber: temp.CardNumber,
		ExpiryDate: temp.ExpiryDate,
		CVV:        cvv,
		Amount:     money.FromMajor(600),
		Tenure:     4,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := time.Date(2026, 2, 28, 10, 0, 0, 0, time.UTC); !result.Plan.NextPaymentDate.Equal(want) {
		t.Fatalf("expected first due date %s, got %s", want, result.Plan.NextPaymentDate)
	}

	for _, want := range []time.Time{
		time.Date(2026, 3, 31, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 4, 30, 10, 0, 0, 0, time.UTC),
	} {
		plan, _ := repo.EMIPlan(result.Plan.ID)
		due := plan.NextPaymentDate
		clock.Set(due)
		report, err := svc.CollectDueInstallments(context.Background(), due)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if report.Collected != 1 {
			t.Fatalf("expected one installment collected on %s, got %+v", due, report)
		}
		plan, _ = repo.EMIPlan(result.Plan.ID)
		if !plan.NextPaymentDate.Equal(want) {
			t.Fatalf("expected next due date %s, got %s", want, plan.NextPaymentDate)
		}
	}
}
