package rules

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func tradeSpendRules() []*domain.Rule {
	return []*domain.Rule{
		{
			ID:          "tradeSpendRatioHigh",
			Name:        "High trade spend ratio",
			Description: "Trade spend exceeds 15% of the customer's net sales for the period",
			Module:      domain.ModuleTradeSpend,
			Severity:    domain.SeverityWarning,
			Category:    domain.CategoryFinancial,
			Threshold:   domain.Threshold{Type: "percentage", Value: 15},
			Condition: MustCELCondition(
				`has(ctx.netSales) && ctx.netSales > 0.0 && double(entity.amount) / ctx.netSales > 0.15`,
			),
			Generate: build(func(t *domain.TradeSpend, rc domain.RuleContext) domain.InsightPayload {
				sales, _ := rc.Value(domain.CtxNetSales)
				ratio := domain.Round2(t.Amount / sales * 100)
				return domain.InsightPayload{
					Title: "Trade spend ratio too high",
					Description: fmt.Sprintf("%s spends %.2f on %.2f of net sales (%.2f%%).",
						t.DisplayName(), t.Amount, sales, ratio),
					Severity:      escalate(ratio > 25),
					Category:      domain.CategoryFinancial,
					ActualValue:   ratio,
					ExpectedValue: 15,
					Variance:      pctOver(ratio, 15),
					RecommendedActions: []domain.RecommendedAction{
						action("renegotiate_terms", "Renegotiate trade terms with the customer", "high"),
					},
				}
			}),
		},
		{
			ID:          "tradeSpendWithoutSales",
			Name:        "Trade spend without sales",
			Description: "Trade spend was recorded for a period with zero net sales",
			Module:      domain.ModuleTradeSpend,
			Severity:    domain.SeverityWarning,
			Category:    domain.CategoryAnomaly,
			Condition: when(func(t *domain.TradeSpend, rc domain.RuleContext) bool {
				sales, ok := rc.Value(domain.CtxNetSales)
				return ok && sales == 0 && t.Amount > 0
			}),
			Generate: build(func(t *domain.TradeSpend, _ domain.RuleContext) domain.InsightPayload {
				return domain.InsightPayload{
					Title:         "Trade spend with no sales",
					Description:   fmt.Sprintf("%s records %.2f of spend in a period with no net sales.", t.DisplayName(), t.Amount),
					Severity:      domain.SeverityWarning,
					Category:      domain.CategoryAnomaly,
					ActualValue:   t.Amount,
					ExpectedValue: 0,
					RecommendedActions: []domain.RecommendedAction{
						action("verify_sales_feed", "Check that sales for the period were loaded", "medium"),
					},
				}
			}),
		},
		{
			ID:          "tradeSpendAccrualGap",
			Name:        "Trade spend accrual gap",
			Description: "Accruals are below 80% of the pro-rated spend",
			Module:      domain.ModuleTradeSpend,
			Severity:    domain.SeverityWarning,
			Category:    domain.CategoryCompliance,
			Threshold:   domain.Threshold{Type: "percentage", Value: 80},
			Condition: when(func(t *domain.TradeSpend, rc domain.RuleContext) bool {
				if t.Amount <= 0 {
					return false
				}
				frac, ok := elapsed(t.PeriodStart, t.PeriodEnd, rc.AsOf)
				return ok && frac > 0 && t.AccruedAmount < 0.8*t.Amount*frac
			}),
			Generate: build(func(t *domain.TradeSpend, rc domain.RuleContext) domain.InsightPayload {
				frac, _ := elapsed(t.PeriodStart, t.PeriodEnd, rc.AsOf)
				expected := domain.Round2(t.Amount * frac)
				return domain.InsightPayload{
					Title: "Trade spend under-accrued",
					Description: fmt.Sprintf("%s has accrued %.2f against %.2f expected to date.",
						t.DisplayName(), t.AccruedAmount, expected),
					Severity:      domain.SeverityWarning,
					Category:      domain.CategoryCompliance,
					ActualValue:   t.AccruedAmount,
					ExpectedValue: expected,
					Variance:      pctOver(t.AccruedAmount, expected),
					RecommendedActions: []domain.RecommendedAction{
						action("post_accrual", "Post the missing accrual before period close", "high"),
					},
				}
			}),
		},
	}
}
