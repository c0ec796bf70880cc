package rules

import (
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var asOf = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func evalRule(t *testing.T, module, id string, e domain.Entity, rc domain.RuleContext) (domain.InsightPayload, bool) {
	t.Helper()
	ev := NewEvaluator(DefaultCatalog(), discardLogger())
	for _, p := range ev.Evaluate(module, e, rc) {
		if p.RuleID == id {
			return p, true
		}
	}
	return domain.InsightPayload{}, false
}

func ctxWith(kv map[string]float64) domain.RuleContext {
	rc := domain.NewRuleContext(asOf)
	for k, v := range kv {
		rc.Set(k, v)
	}
	return rc
}

func TestBudgetOverspend(t *testing.T) {
	t.Run("fifty percent over is critical", func(t *testing.T) {
		b := &domain.Budget{ID: "B2", Name: "Q3 Trade", TotalAmount: 100000, SpentAmount: 150000}
		p, ok := evalRule(t, domain.ModuleBudget, "budgetOverspend", b, ctxWith(nil))
		if !ok {
			t.Fatal("expected budgetOverspend to fire")
		}
		if p.Variance != 50.00 {
			t.Errorf("expected variance 50.00, got %.2f", p.Variance)
		}
		if p.Severity != domain.SeverityCritical {
			t.Errorf("expected critical, got %s", p.Severity)
		}
		if p.ActualValue != 150000 || p.ExpectedValue != 100000 {
			t.Errorf("unexpected actual/expected %.2f/%.2f", p.ActualValue, p.ExpectedValue)
		}
	})

	t.Run("B1 twenty percent over", func(t *testing.T) {
		b := &domain.Budget{ID: "B1", TotalAmount: 100000, SpentAmount: 120000}
		p, ok := evalRule(t, domain.ModuleBudget, "budgetOverspend", b, ctxWith(nil))
		if !ok {
			t.Fatal("expected budgetOverspend to fire")
		}
		if p.Fingerprint != "budget-budgetOverspend-B1" {
			t.Errorf("unexpected fingerprint %s", p.Fingerprint)
		}
		if p.Variance != 20.00 || p.Severity != domain.SeverityCritical {
			t.Errorf("expected 20.00 critical, got %.2f %s", p.Variance, p.Severity)
		}
	})

	t.Run("small overspend is a warning", func(t *testing.T) {
		b := &domain.Budget{ID: "B3", TotalAmount: 100000, SpentAmount: 105000}
		p, ok := evalRule(t, domain.ModuleBudget, "budgetOverspend", b, ctxWith(nil))
		if !ok || p.Severity != domain.SeverityWarning || p.Variance != 5.00 {
			t.Errorf("expected warning at 5.00, got fired=%v %s %.2f", ok, p.Severity, p.Variance)
		}
	})

	t.Run("within budget does not fire", func(t *testing.T) {
		b := &domain.Budget{ID: "B4", TotalAmount: 100000, SpentAmount: 100000}
		if _, ok := evalRule(t, domain.ModuleBudget, "budgetOverspend", b, ctxWith(nil)); ok {
			t.Error("spent == total must not fire")
		}
	})

	t.Run("zero total does not fire", func(t *testing.T) {
		b := &domain.Budget{ID: "B5", SpentAmount: 10}
		if _, ok := evalRule(t, domain.ModuleBudget, "budgetOverspend", b, ctxWith(nil)); ok {
			t.Error("zero total must not fire")
		}
	})
}

func TestBudgetBurnRateAnomaly(t *testing.T) {
	b := &domain.Budget{
		ID: "B1", TotalAmount: 1000, SpentAmount: 600,
		StartDate: asOf.AddDate(0, -1, 0), EndDate: asOf.AddDate(0, 5, 0),
	}

	if _, ok := evalRule(t, domain.ModuleBudget, "budgetBurnRateAnomaly", b, ctxWith(nil)); ok {
		t.Error("must not fire without averageBurnRate")
	}

	p, ok := evalRule(t, domain.ModuleBudget, "budgetBurnRateAnomaly", b,
		ctxWith(map[string]float64{domain.CtxAverageBurnRate: 0.2}))
	if !ok {
		t.Fatal("expected anomaly at 3x the peer average")
	}
	if p.ActualValue != 60 || p.ExpectedValue != 20 {
		t.Errorf("unexpected values %.2f/%.2f", p.ActualValue, p.ExpectedValue)
	}

	if _, ok := evalRule(t, domain.ModuleBudget, "budgetBurnRateAnomaly", b,
		ctxWith(map[string]float64{domain.CtxAverageBurnRate: 0.5})); ok {
		t.Error("must not fire at 1.2x the peer average")
	}
}

func TestBudgetUnderutilizationAndExpiry(t *testing.T) {
	b := &domain.Budget{
		ID: "B1", TotalAmount: 1000, SpentAmount: 100,
		StartDate: asOf.AddDate(0, -11, 0), EndDate: asOf.AddDate(0, 0, 10),
	}

	if _, ok := evalRule(t, domain.ModuleBudget, "budgetUnderutilization", b, ctxWith(nil)); !ok {
		t.Error("expected underutilization late in the period")
	}
	p, ok := evalRule(t, domain.ModuleBudget, "budgetExpiringUnspent", b, ctxWith(nil))
	if !ok {
		t.Fatal("expected expiring unspent")
	}
	if p.Severity != domain.SeverityInfo || p.ActualValue != 900 {
		t.Errorf("unexpected payload %+v", p)
	}

	b.EndDate = asOf.AddDate(0, 0, -1)
	if _, ok := evalRule(t, domain.ModuleBudget, "budgetExpiringUnspent", b, ctxWith(nil)); ok {
		t.Error("an already ended budget is not expiring")
	}
}

func TestPromotionRules(t *testing.T) {
	p := &domain.Promotion{
		ID: "P1", Name: "Summer BOGO", Status: "active",
		PlannedSpend: 10000, ActualSpend: 13000, IncrementalRevenue: 5000,
		PlannedVolume: 1000, ActualVolume: 100,
		StartDate: asOf.AddDate(0, -2, 0), EndDate: asOf.AddDate(0, 1, 0),
	}

	t.Run("overlap needs context", func(t *testing.T) {
		if _, ok := evalRule(t, domain.ModulePromotion, "promotionOverlap", p, ctxWith(nil)); ok {
			t.Error("must not fire without overlapCount")
		}
		got, ok := evalRule(t, domain.ModulePromotion, "promotionOverlap", p,
			ctxWith(map[string]float64{domain.CtxOverlapCount: 3, domain.CtxHasOverlap: 1}))
		if !ok || got.Severity != domain.SeverityCritical {
			t.Errorf("expected critical overlap, got fired=%v %s", ok, got.Severity)
		}
	})

	t.Run("negative roi", func(t *testing.T) {
		got, ok := evalRule(t, domain.ModulePromotion, "promotionNegativeROI", p, ctxWith(nil))
		if !ok {
			t.Fatal("expected negative ROI")
		}
		if got.Variance != -61.54 || got.Severity != domain.SeverityCritical {
			t.Errorf("unexpected roi %.2f %s", got.Variance, got.Severity)
		}
	})

	t.Run("spend overrun", func(t *testing.T) {
		got, ok := evalRule(t, domain.ModulePromotion, "promotionSpendOverrun", p, ctxWith(nil))
		if !ok || got.Variance != 30 || got.Severity != domain.SeverityCritical {
			t.Errorf("expected 30%% critical overrun, got fired=%v %.2f %s", ok, got.Variance, got.Severity)
		}
	})

	t.Run("low volume lift", func(t *testing.T) {
		if _, ok := evalRule(t, domain.ModulePromotion, "promotionLowVolumeLift", p, ctxWith(nil)); !ok {
			t.Error("expected low volume lift")
		}
	})

	t.Run("missing budget", func(t *testing.T) {
		if _, ok := evalRule(t, domain.ModulePromotion, "promotionMissingBudget", p, ctxWith(nil)); !ok {
			t.Error("expected missing budget for active promotion")
		}
		draft := *p
		draft.Status = "draft"
		if _, ok := evalRule(t, domain.ModulePromotion, "promotionMissingBudget", &draft, ctxWith(nil)); ok {
			t.Error("draft promotions may lack a budget")
		}
	})
}

func TestClaimRules(t *testing.T) {
	c := &domain.Claim{
		ID: "C1", Number: "CLM-001", Amount: 12000, ApprovedAmount: 10000,
		SubmittedAt: asOf.AddDate(0, 0, -61),
	}
	rc := ctxWith(map[string]float64{
		domain.CtxAvgClaimAmount:   3000,
		domain.CtxInvalidClaimRate: 0.25,
		domain.CtxClaimCount:       8,
	})

	tests := []struct {
		rule     string
		severity domain.Severity
	}{
		{"claimAmountOutlier", domain.SeverityCritical},
		{"claimHighRiskCustomer", domain.SeverityWarning},
		{"claimExceedsApproved", domain.SeverityCritical},
		{"claimAging", domain.SeverityCritical},
		{"claimMissingDocumentation", domain.SeverityWarning},
	}
	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			got, ok := evalRule(t, domain.ModuleClaim, tt.rule, c, rc)
			if !ok {
				t.Fatalf("expected %s to fire", tt.rule)
			}
			if got.Severity != tt.severity {
				t.Errorf("expected %s, got %s", tt.severity, got.Severity)
			}
			if got.EntityName != "CLM-001" {
				t.Errorf("expected claim number as name, got %s", got.EntityName)
			}
		})
	}

	t.Run("too few claims for risk", func(t *testing.T) {
		few := ctxWith(map[string]float64{domain.CtxInvalidClaimRate: 0.5, domain.CtxClaimCount: 4})
		if _, ok := evalRule(t, domain.ModuleClaim, "claimHighRiskCustomer", c, few); ok {
			t.Error("must not fire below five claims")
		}
	})
}

func TestDeductionRules(t *testing.T) {
	d := &domain.Deduction{ID: "D1", Number: "DED-1", Amount: 5000, DeductionDate: asOf.AddDate(0, 0, -20)}

	if _, ok := evalRule(t, domain.ModuleDeduction, "deductionUnmatched", d, ctxWith(nil)); !ok {
		t.Error("expected unmatched deduction")
	}
	if _, ok := evalRule(t, domain.ModuleDeduction, "deductionAging", d, ctxWith(nil)); ok {
		t.Error("20 days is not aging")
	}

	d.MatchedAmount = 4000
	if _, ok := evalRule(t, domain.ModuleDeduction, "deductionPartialMatch", d, ctxWith(nil)); !ok {
		t.Error("expected partial match at 20% remainder")
	}
	if _, ok := evalRule(t, domain.ModuleDeduction, "deductionUnmatched", d, ctxWith(nil)); ok {
		t.Error("partially matched deduction is not unmatched")
	}

	d.DeductionDate = asOf.AddDate(0, 0, -100)
	got, ok := evalRule(t, domain.ModuleDeduction, "deductionAging", d, ctxWith(nil))
	if !ok || got.Severity != domain.SeverityCritical {
		t.Errorf("expected critical aging, got fired=%v %s", ok, got.Severity)
	}

	got, ok = evalRule(t, domain.ModuleDeduction, "deductionAmountOutlier", d,
		ctxWith(map[string]float64{domain.CtxAvgDeductionAmount: 2000}))
	if !ok || got.Severity != domain.SeverityWarning {
		t.Errorf("expected warning outlier at 2.5x, got fired=%v %s", ok, got.Severity)
	}
}

func TestTradeSpendRules(t *testing.T) {
	ts := &domain.TradeSpend{
		ID: "T1", Code: "TS-1", Amount: 30000, AccruedAmount: 30000,
		PeriodStart: asOf.AddDate(0, -1, 0), PeriodEnd: asOf.AddDate(0, 1, 0),
	}

	if _, ok := evalRule(t, domain.ModuleTradeSpend, "tradeSpendRatioHigh", ts, ctxWith(nil)); ok {
		t.Error("ratio must not fire without net sales")
	}

	got, ok := evalRule(t, domain.ModuleTradeSpend, "tradeSpendRatioHigh", ts,
		ctxWith(map[string]float64{domain.CtxNetSales: 100000}))
	if !ok {
		t.Fatal("expected ratio to fire at 30%")
	}
	if got.ActualValue != 30 || got.Severity != domain.SeverityCritical {
		t.Errorf("unexpected ratio payload %.2f %s", got.ActualValue, got.Severity)
	}

	if _, ok := evalRule(t, domain.ModuleTradeSpend, "tradeSpendRatioHigh", ts,
		ctxWith(map[string]float64{domain.CtxNetSales: 1000000})); ok {
		t.Error("3% ratio must not fire")
	}

	if _, ok := evalRule(t, domain.ModuleTradeSpend, "tradeSpendWithoutSales", ts,
		ctxWith(map[string]float64{domain.CtxNetSales: 0})); !ok {
		t.Error("expected spend without sales")
	}

	ts.AccruedAmount = 1000
	if _, ok := evalRule(t, domain.ModuleTradeSpend, "tradeSpendAccrualGap", ts, ctxWith(nil)); !ok {
		t.Error("expected accrual gap")
	}
}

func TestKAMWalletRules(t *testing.T) {
	w := &domain.KAMWallet{ID: "W1", Name: "North KAM", AllocatedAmount: 1000, UtilizedAmount: 700, CommittedAmount: 400}

	if _, ok := evalRule(t, domain.ModuleKAMWallet, "kamWalletOverCommitted", w, ctxWith(nil)); !ok {
		t.Error("expected over-committed")
	}
	if _, ok := evalRule(t, domain.ModuleKAMWallet, "kamWalletLowBalance", w, ctxWith(nil)); ok {
		t.Error("over-committed wallet is not reported as low balance")
	}

	w.CommittedAmount = 250
	if _, ok := evalRule(t, domain.ModuleKAMWallet, "kamWalletLowBalance", w, ctxWith(nil)); !ok {
		t.Error("expected low balance at 5% available")
	}

	idle := &domain.KAMWallet{ID: "W2", AllocatedAmount: 1000, UtilizedAmount: 100, ExpiryDate: asOf.AddDate(0, 0, 20)}
	if _, ok := evalRule(t, domain.ModuleKAMWallet, "kamWalletIdleExpiring", idle, ctxWith(nil)); !ok {
		t.Error("expected idle expiring wallet")
	}
}
