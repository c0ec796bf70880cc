package rules

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func budgetRules() []*domain.Rule {
	return []*domain.Rule{
		{
			ID:          "budgetOverspend",
			Name:        "Budget overspend",
			Description: "Spent amount exceeds the total budget",
			Module:      domain.ModuleBudget,
			Severity:    domain.SeverityWarning,
			Category:    domain.CategoryFinancial,
			Threshold:   domain.Threshold{Type: "percentage", Value: 10},
			Condition: when(func(b *domain.Budget, _ domain.RuleContext) bool {
				return b.TotalAmount > 0 && b.SpentAmount > b.TotalAmount
			}),
			Generate: build(func(b *domain.Budget, _ domain.RuleContext) domain.InsightPayload {
				variance := pctOver(b.SpentAmount, b.TotalAmount)
				return domain.InsightPayload{
					Title: "Budget overspent",
					Description: fmt.Sprintf("%s has spent %.2f against a budget of %.2f (%.2f%% over).",
						b.DisplayName(), b.SpentAmount, b.TotalAmount, variance),
					Severity:      escalate(variance > 10),
					Category:      domain.CategoryFinancial,
					ActualValue:   b.SpentAmount,
					ExpectedValue: b.TotalAmount,
					Variance:      variance,
					RecommendedActions: []domain.RecommendedAction{
						action("review_spend", "Review the spend posted against this budget", "high"),
						action("freeze_budget", "Block further commitments until the overspend is covered", "high"),
						action("reallocate", "Move funds from an underused budget", "medium"),
					},
				}
			}),
		},
		{
			ID:          "budgetBurnRateAnomaly",
			Name:        "Budget burn rate anomaly",
			Description: "Budget is being consumed far faster than its peers early in the period",
			Module:      domain.ModuleBudget,
			Severity:    domain.SeverityWarning,
			Category:    domain.CategoryAnomaly,
			Threshold:   domain.Threshold{Type: "multiplier", Value: 1.5},
			Condition: when(func(b *domain.Budget, rc domain.RuleContext) bool {
				avg, ok := rc.Value(domain.CtxAverageBurnRate)
				if !ok || avg <= 0 || b.TotalAmount <= 0 {
					return false
				}
				frac, ok := elapsed(b.StartDate, b.EndDate, rc.AsOf)
				if !ok || frac >= 0.5 {
					return false
				}
				return b.SpentAmount/b.TotalAmount > 1.5*avg
			}),
			Generate: build(func(b *domain.Budget, rc domain.RuleContext) domain.InsightPayload {
				avg, _ := rc.Value(domain.CtxAverageBurnRate)
				util := b.SpentAmount / b.TotalAmount
				return domain.InsightPayload{
					Title: "Unusual budget burn rate",
					Description: fmt.Sprintf("%s is %.2f%% utilized while comparable budgets average %.2f%%.",
						b.DisplayName(), util*100, avg*100),
					Severity:      domain.SeverityWarning,
					Category:      domain.CategoryAnomaly,
					ActualValue:   domain.Round2(util * 100),
					ExpectedValue: domain.Round2(avg * 100),
					Variance:      pctOver(util, avg),
					RecommendedActions: []domain.RecommendedAction{
						action("review_commitments", "Check for front-loaded or duplicated commitments", "medium"),
					},
				}
			}),
		},
		{
			ID:          "budgetUnderutilization",
			Name:        "Budget underutilization",
			Description: "Most of the period has passed but less than half the budget is spent",
			Module:      domain.ModuleBudget,
			Severity:    domain.SeverityWarning,
			Category:    domain.CategoryPerformance,
			Threshold:   domain.Threshold{Type: "percentage", Value: 50},
			Condition: when(func(b *domain.Budget, rc domain.RuleContext) bool {
				if b.TotalAmount <= 0 {
					return false
				}
				frac, ok := elapsed(b.StartDate, b.EndDate, rc.AsOf)
				return ok && frac >= 0.75 && b.SpentAmount/b.TotalAmount < 0.5
			}),
			Generate: build(func(b *domain.Budget, rc domain.RuleContext) domain.InsightPayload {
				frac, _ := elapsed(b.StartDate, b.EndDate, rc.AsOf)
				util := b.SpentAmount / b.TotalAmount
				return domain.InsightPayload{
					Title: "Budget underutilized",
					Description: fmt.Sprintf("%s has used %.2f%% of its funds with %.0f%% of the period elapsed.",
						b.DisplayName(), util*100, frac*100),
					Severity:      domain.SeverityWarning,
					Category:      domain.CategoryPerformance,
					ActualValue:   domain.Round2(util * 100),
					ExpectedValue: domain.Round2(frac * 100),
					Variance:      domain.Round2((util - frac) * 100),
					RecommendedActions: []domain.RecommendedAction{
						action("plan_activity", "Schedule promotions to use the remaining funds", "medium"),
						action("release_funds", "Release unneeded funds to other budgets", "low"),
					},
				}
			}),
		},
		{
			ID:          "budgetExpiringUnspent",
			Name:        "Budget expiring unspent",
			Description: "Budget ends within 14 days with more than 30% remaining",
			Module:      domain.ModuleBudget,
			Severity:    domain.SeverityInfo,
			Category:    domain.CategoryOperational,
			Threshold:   domain.Threshold{Type: "days", Value: 14},
			Condition: when(func(b *domain.Budget, rc domain.RuleContext) bool {
				if b.TotalAmount <= 0 || b.EndDate.IsZero() || !b.EndDate.After(rc.AsOf) {
					return false
				}
				remaining := (b.TotalAmount - b.SpentAmount) / b.TotalAmount
				return days(rc.AsOf, b.EndDate) <= 14 && remaining > 0.3
			}),
			Generate: build(func(b *domain.Budget, rc domain.RuleContext) domain.InsightPayload {
				remaining := b.TotalAmount - b.SpentAmount
				return domain.InsightPayload{
					Title: "Budget expiring with funds remaining",
					Description: fmt.Sprintf("%s ends in %.0f days with %.2f unspent.",
						b.DisplayName(), days(rc.AsOf, b.EndDate), remaining),
					Severity:      domain.SeverityInfo,
					Category:      domain.CategoryOperational,
					ActualValue:   remaining,
					ExpectedValue: 0,
					Variance:      domain.Round2(remaining / b.TotalAmount * 100),
					RecommendedActions: []domain.RecommendedAction{
						action("extend_budget", "Extend the budget end date if activity is planned", "low"),
					},
				}
			}),
		},
	}
}
