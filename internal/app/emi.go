package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neelvaidya133/bankify/internal/domain"
	"github.com/neelvaidya133/bankify/internal/money"
	"github.com/neelvaidya133/bankify/internal/store"
	"github.com/shopspring/decimal"
)

// AdvertisedTenures are the plan lengths offered to customers. Any tenure from 1 to
// MaxTenure is accepted.
var AdvertisedTenures = []int{4, 6, 12, 18, 24}

// MaxTenure is the longest plan, in months, that can be quoted or purchased.
const MaxTenure = 600

const emiRatePrecision = 24

// Past this value (1+r)^n / ((1+r)^n - 1) equals 1 at emiRatePrecision.
var growthCeiling = decimal.New(1, 40)

var (
	twelve    = decimal.NewFromInt(12)
	bpsFactor = decimal.NewFromInt(10_000)
)

// amortize returns the exact (unrounded) monthly installment for principal at annualRate
// over n months: P*r*(1+r)^n / ((1+r)^n - 1) with r = annualRate/12, or P/n when r is zero.
func amortize(principal money.Money, annualRate decimal.Decimal, n int) (decimal.Decimal, error) {
	if n < 1 {
		return decimal.Zero, validationError("tenure must be at least one month")
	}
	if !principal.IsPositive() {
		return decimal.Zero, validationError("principal must be greater than zero")
	}
	if annualRate.IsNegative() {
		return decimal.Zero, validationError("interest rate cannot be negative")
	}

	p := principal.Decimal()
	months := decimal.NewFromInt(int64(n))
	if annualRate.IsZero() {
		return p.DivRound(months, emiRatePrecision), nil
	}

	r := annualRate.DivRound(twelve, emiRatePrecision)
	growth := compoundGrowth(decimal.NewFromInt(1).Add(r), n)
	numerator := p.Mul(r).Mul(growth)
	return numerator.DivRound(growth.Sub(decimal.NewFromInt(1)), emiRatePrecision), nil
}

func validateTenure(n int) error {
	if n < 1 {
		return validationError("tenure must be at least one month")
	}
	if n > MaxTenure {
		return validationError(fmt.Sprintf("tenure cannot exceed %d months", MaxTenure))
	}
	return nil
}

// compoundGrowth returns base^n (base > 1) by repeated squaring, rounding every product and
// saturating at growthCeiling.
func compoundGrowth(base decimal.Decimal, n int) decimal.Decimal {
	result := decimal.NewFromInt(1)
	for ; n > 0; n >>= 1 {
		if n&1 == 1 {
			result = result.Mul(base).Round(emiRatePrecision)
			if result.GreaterThan(growthCeiling) {
				return growthCeiling
			}
		}
		if n > 1 {
			base = base.Mul(base).Round(emiRatePrecision)
			if base.GreaterThan(growthCeiling) {
				return growthCeiling
			}
		}
	}
	return result
}

// installmentDueDate returns the due date of the installment paid offset months after the
// plan started. Days past the end of a short month fall on its last day.
func installmentDueDate(start time.Time, offset int) time.Time {
	first := time.Date(start.Year(), start.Month(), 1, start.Hour(), start.Minute(), start.Second(), start.Nanosecond(), start.Location())
	target := first.AddDate(0, offset, 0)
	lastDay := target.AddDate(0, 1, -1).Day()
	day := start.Day()
	if day > lastDay {
		day = lastDay
	}
	return target.AddDate(0, 0, day-1)
}

// CalculateInstallment returns the monthly installment rounded half-up to cents.
func CalculateInstallment(principal money.Money, annualRate decimal.Decimal, n int) (money.Money, error) {
	exact, err := amortize(principal, annualRate, n)
	if err != nil {
		return money.Zero, err
	}
	installment, err := money.FromDecimal(exact)
	if err != nil {
		return money.Zero, validationError("installment is out of range")
	}
	return installment, nil
}

// planTotal is the amount a plan collects over its life.
func planTotal(principal money.Money, annualRate decimal.Decimal, n int) (installment, total money.Money, err error) {
	exact, err := amortize(principal, annualRate, n)
	if err != nil {
		return money.Zero, money.Zero, err
	}
	installment, err = money.FromDecimal(exact)
	if err != nil {
		return money.Zero, money.Zero, validationError("installment is out of range")
	}
	total, err = money.FromDecimal(exact.Mul(decimal.NewFromInt(int64(n))))
	if err != nil {
		return money.Zero, money.Zero, validationError("total payable is out of range")
	}
	return installment, total, nil
}

func rateFromBps(bps int64) decimal.Decimal {
	return decimal.NewFromInt(bps).Div(bpsFactor)
}

func rateToBps(rate decimal.Decimal) int64 {
	return rate.Mul(bpsFactor).Round(0).IntPart()
}

// installmentAmountFor returns what installment number owes. The last one absorbs rounding.
func installmentAmountFor(plan *domain.EMIPlan, number int) (money.Money, error) {
	if number < plan.TotalInstallments {
		return plan.InstallmentAmount, nil
	}
	_, total, err := planTotal(plan.Principal, rateFromBps(plan.AnnualRateBps), plan.TotalInstallments)
	if err != nil {
		return money.Zero, err
	}
	paid := money.FromMinor(plan.InstallmentAmount.Minor() * int64(plan.TotalInstallments-1))
	last := total.Sub(paid)
	if !last.IsPositive() {
		return plan.InstallmentAmount, nil
	}
	return last, nil
}

// Quote previews the installment for amount over tenure at the configured rate.
func (s *Service) Quote(amount money.Money, tenure int) (*domain.EMIQuote, error) {
	if err := validateTenure(tenure); err != nil {
		return nil, err
	}
	rate := rateFromBps(rateToBps(s.settings.EMIAnnualRate))
	installment, total, err := planTotal(amount, rate, tenure)
	if err != nil {
		return nil, err
	}
	return &domain.EMIQuote{
		Principal:         amount,
		Tenure:            tenure,
		AnnualRatePercent: rate.Mul(decimal.NewFromInt(100)).String(),
		InstallmentAmount: installment,
		TotalPayable:      total,
	}, nil
}

// PurchaseWithEMI buys with a temporary card and converts the price into a monthly plan. Only
// the first installment is charged now.
func (s *Service) PurchaseWithEMI(ctx context.Context, userID uuid.UUID, req domain.EMIPurchaseRequest) (*domain.EMIPurchaseResult, error) {
	creds := cardCredentials{
		number: strings.TrimSpace(req.CardNumber),
		expiry: strings.TrimSpace(req.ExpiryDate),
		cvv:    strings.TrimSpace(req.CVV),
	}
	if !req.Amount.IsPositive() {
		return nil, validationError("amount must be greater than zero")
	}
	if err := validateTenure(req.Tenure); err != nil {
		return nil, err
	}
	if err := creds.validate(); err != nil {
		return nil, err
	}

	rateBps := rateToBps(s.settings.EMIAnnualRate)
	installment, err := CalculateInstallment(req.Amount, rateFromBps(rateBps), req.Tenure)
	if err != nil {
		return nil, err
	}
	if err := s.checkPurchaseRateLimit(ctx, creds.number); err != nil {
		return nil, err
	}

	var (
		result    *domain.EMIPurchaseResult
		expiredID uuid.UUID
	)
	err = s.settle(ctx, "emi_purchase", func(tx store.Tx, sg *saga) error {
		now := s.now()
		sg.advance(domain.StateAuthorizing)
		auth, err := s.authorizeTemporaryCard(ctx, tx, userID, creds, req.ProductID, now, &expiredID)
		if err != nil {
			return err
		}

		productName := defaultProductName
		if auth.product != nil {
			productName = auth.product.Name
		}
		plan := &domain.EMIPlan{
			ID:                    uuid.New(),
			UserID:                userID,
			CardID:                auth.card.ID,
			TempCardID:            auth.tempCard.ID,
			ProductName:           productName,
			Principal:             req.Amount,
			InstallmentAmount:     installment,
			AnnualRateBps:         rateBps,
			TotalInstallments:     req.Tenure,
			RemainingInstallments: req.Tenure - 1,
			NextPaymentDate:       installmentDueDate(now, 1),
			Status:                domain.EMIPlanActive,
			CreatedAt:             now,
		}
		if plan.RemainingInstallments == 0 {
			plan.Status = domain.EMIPlanCompleted
		}
		firstAmount, err := installmentAmountFor(plan, 1)
		if err != nil {
			return err
		}

		available, err := auth.source.Apply(firstAmount.Neg())
		if err != nil {
			return err
		}

		sg.advance(domain.StatePosting)
		txn, err := recordTransaction(ctx, tx, ledgerEntry{
			userID:       userID,
			cardID:       &auth.card.ID,
			tempCardID:   &auth.tempCard.ID,
			kind:         domain.KindEMIInstallment,
			amount:       firstAmount,
			description:  fmt.Sprintf("EMI 1/%d: %s", req.Tenure, productName),
			counterparty: "Temporary card ending " + cardTail(auth.tempCard.CardNumber),
			category:     auth.category(),
		}, now)
		if err != nil {
			return err
		}
		statementID, err := debitAndPost(ctx, tx, auth, firstAmount, now)
		if err != nil {
			return err
		}

		if err := tx.InsertEMIPlan(ctx, plan); err != nil {
			return fmt.Errorf("failed to create emi plan: %w", err)
		}
		first := domain.EMIInstallment{
			ID:                uuid.New(),
			PlanID:            plan.ID,
			TransactionID:     &txn.ID,
			InstallmentNumber: 1,
			Amount:            firstAmount,
			DueDate:           now,
			Status:            domain.EMIInstallmentPaid,
			CreatedAt:         now,
		}
		if err := tx.InsertEMIInstallment(ctx, &first); err != nil {
			return fmt.Errorf("failed to record emi installment: %w", err)
		}
		if err := tx.UpdateTemporaryCardStatus(ctx, auth.tempCard.ID, domain.TemporaryCardUsed); err != nil {
			return fmt.Errorf("failed to mark temporary card used: %w", err)
		}

		plan.Installments = []domain.EMIInstallment{first}
		result = &domain.EMIPurchaseResult{
			PurchaseResult: domain.PurchaseResult{
				Transaction:     *txn,
				FundingKind:     auth.source.Kind(),
				AvailableAfter:  available,
				StatementID:     statementID,
				TemporaryCardID: auth.tempCard.ID,
			},
			Plan:        *plan,
			Installment: first,
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

// CollectionReport summarises one run of CollectDueInstallments.
type CollectionReport struct {
	Collected int
	Defaulted int
	Failed    int
}

// CollectDueInstallments charges the next installment of every active plan due on or before
// asOf. A plan whose funding source cannot cover the installment is marked defaulted.
func (s *Service) CollectDueInstallments(ctx context.Context, asOf time.Time) (CollectionReport, error) {
	var report CollectionReport
	ids, err := s.repo.ListDueEMIPlanIDs(ctx, asOf)
	if err != nil {
		return report, classify(err)
	}

	for _, planID := range ids {
		if ctx.Err() != nil {
			return report, classify(ctx.Err())
		}
		var outcome domain.EMIInstallmentStatus
		err := s.settle(ctx, "emi_collection", func(tx store.Tx, sg *saga) error {
			outcome = ""
			var err error
			outcome, err = s.collectInstallment(ctx, tx, sg, planID, asOf)
			return err
		})
		switch {
		case err != nil:
			report.Failed++
			s.logger.Warn().Err(err).Str("component", "emi").Str("plan_id", planID.String()).Msg("installment collection failed")
		case outcome == domain.EMIInstallmentPaid:
			report.Collected++
		case outcome == domain.EMIInstallmentFailed:
			report.Defaulted++
		}
	}
	return report, nil
}

func (s *Service) collectInstallment(ctx context.Context, tx store.Tx, sg *saga, planID uuid.UUID, asOf time.Time) (domain.EMIInstallmentStatus, error) {
	now := s.now()
	plan, err := tx.LockEMIPlan(ctx, planID)
	if err != nil {
		return "", err
	}
	if plan.Status != domain.EMIPlanActive || plan.RemainingInstallments <= 0 || plan.NextPaymentDate.After(asOf) {
		return "", nil
	}

	number := plan.TotalInstallments - plan.RemainingInstallments + 1
	amount, err := installmentAmountFor(plan, number)
	if err != nil {
		return "", err
	}

	sg.advance(domain.StateAuthorizing)
	card, err := tx.LockCard(ctx, plan.CardID)
	if err != nil {
		return "", err
	}
	source, err := resolveFundingSource(ctx, tx, card)
	if err != nil {
		return "", err
	}

	installment := domain.EMIInstallment{
		ID:                uuid.New(),
		PlanID:            plan.ID,
		InstallmentNumber: number,
		Amount:            amount,
		DueDate:           plan.NextPaymentDate,
		CreatedAt:         now,
	}

	sg.advance(domain.StatePosting)
	if _, err := source.Apply(amount.Neg()); err != nil {
		if !errors.Is(err, ErrInsufficientFunds) {
			return "", err
		}
		installment.Status = domain.EMIInstallmentFailed
		if err := tx.InsertEMIInstallment(ctx, &installment); err != nil {
			return "", err
		}
		plan.Status = domain.EMIPlanDefaulted
		if err := tx.UpdateEMIPlan(ctx, plan); err != nil {
			return "", err
		}
		return domain.EMIInstallmentFailed, nil
	}

	tempCardID := plan.TempCardID
	txn, err := recordTransaction(ctx, tx, ledgerEntry{
		userID:       plan.UserID,
		cardID:       &card.ID,
		tempCardID:   &tempCardID,
		kind:         domain.KindEMIInstallment,
		amount:       amount,
		description:  fmt.Sprintf("EMI %d/%d: %s", number, plan.TotalInstallments, plan.ProductName),
		counterparty: "EMI Plan",
	}, now)
	if err != nil {
		return "", err
	}
	if _, err := debitAndPost(ctx, tx, &authorization{card: card, source: source}, amount, now); err != nil {
		return "", err
	}

	installment.TransactionID = &txn.ID
	installment.Status = domain.EMIInstallmentPaid
	if err := tx.InsertEMIInstallment(ctx, &installment); err != nil {
		return "", err
	}
	plan.RemainingInstallments--
	plan.NextPaymentDate = installmentDueDate(plan.CreatedAt, number)
	if plan.RemainingInstallments == 0 {
		plan.Status = domain.EMIPlanCompleted
	}
	if err := tx.UpdateEMIPlan(ctx, plan); err != nil {
		return "", err
	}
	return domain.EMIInstallmentPaid, nil
}

// ListEMIPlans returns the caller's plans with their installments.
func (s *Service) ListEMIPlans(ctx context.Context, userID uuid.UUID) ([]domain.EMIPlan, error) {
	plans, err := s.repo.ListEMIPlansByUserID(ctx, userID)
	if err != nil {
		return nil, classify(err)
	}
	return plans, nil
}
