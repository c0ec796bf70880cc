package rules

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func deductionRules() []*domain.Rule {
	return []*domain.Rule{
		{
			ID:          "deductionUnmatched",
			Name:        "Unmatched deduction",
			Description: "Nothing has been matched to the deduction after 14 days",
			Module:      domain.ModuleDeduction,
			Severity:    domain.SeverityWarning,
			Category:    domain.CategoryFinancial,
			Threshold:   domain.Threshold{Type: "days", Value: 14},
			Condition: when(func(d *domain.Deduction, rc domain.RuleContext) bool {
				return d.Amount > 0 && d.MatchedAmount == 0 &&
					!d.DeductionDate.IsZero() && days(d.DeductionDate, rc.AsOf) > 14
			}),
			Generate: build(func(d *domain.Deduction, rc domain.RuleContext) domain.InsightPayload {
				return domain.InsightPayload{
					Title: "Deduction not matched",
					Description: fmt.Sprintf("Deduction %s for %.2f is unmatched after %.0f days.",
						d.DisplayName(), d.Amount, days(d.DeductionDate, rc.AsOf)),
					Severity:      domain.SeverityWarning,
					Category:      domain.CategoryFinancial,
					ActualValue:   0,
					ExpectedValue: d.Amount,
					Variance:      -100,
					RecommendedActions: []domain.RecommendedAction{
						action("match_claim", "Match the deduction to a promotion or claim", "high"),
						action("dispute", "Dispute the deduction if no valid basis exists", "medium"),
					},
				}
			}),
		},
		{
			ID:          "deductionAmountOutlier",
			Name:        "Deduction amount outlier",
			Description: "Deduction is more than twice the customer's average deduction",
			Module:      domain.ModuleDeduction,
			Severity:    domain.SeverityWarning,
			Category:    domain.CategoryAnomaly,
			Threshold:   domain.Threshold{Type: "multiplier", Value: 2},
			Condition: when(func(d *domain.Deduction, rc domain.RuleContext) bool {
				avg, ok := rc.Value(domain.CtxAvgDeductionAmount)
				return ok && avg > 0 && d.Amount > 2*avg
			}),
			Generate: build(func(d *domain.Deduction, rc domain.RuleContext) domain.InsightPayload {
				avg, _ := rc.Value(domain.CtxAvgDeductionAmount)
				return domain.InsightPayload{
					Title: "Unusually large deduction",
					Description: fmt.Sprintf("Deduction %s is %.2f, %.1fx the customer's average of %.2f.",
						d.DisplayName(), d.Amount, d.Amount/avg, avg),
					Severity:      escalate(d.Amount > 3*avg),
					Category:      domain.CategoryAnomaly,
					ActualValue:   d.Amount,
					ExpectedValue: domain.Round2(avg),
					Variance:      pctOver(d.Amount, avg),
					RecommendedActions: []domain.RecommendedAction{
						action("validate_deduction", "Validate the deduction against agreed terms", "high"),
					},
				}
			}),
		},
		{
			ID:          "deductionAging",
			Name:        "Deduction aging",
			Description: "Deduction has been open more than 45 days",
			Module:      domain.ModuleDeduction,
			Severity:    domain.SeverityWarning,
			Category:    domain.CategoryOperational,
			Threshold:   domain.Threshold{Type: "days", Value: 45},
			Condition: when(func(d *domain.Deduction, rc domain.RuleContext) bool {
				return !d.DeductionDate.IsZero() && days(d.DeductionDate, rc.AsOf) > 45
			}),
			Generate: build(func(d *domain.Deduction, rc domain.RuleContext) domain.InsightPayload {
				age := domain.Round2(days(d.DeductionDate, rc.AsOf))
				return domain.InsightPayload{
					Title:         "Deduction open too long",
					Description:   fmt.Sprintf("Deduction %s has been open for %.0f days.", d.DisplayName(), age),
					Severity:      escalate(age > 90),
					Category:      domain.CategoryOperational,
					ActualValue:   age,
					ExpectedValue: 45,
					Variance:      pctOver(age, 45),
					RecommendedActions: []domain.RecommendedAction{
						action("escalate_resolution", "Escalate to the deductions team lead", "medium"),
					},
				}
			}),
		},
		{
			ID:          "deductionPartialMatch",
			Name:        "Partially matched deduction",
			Description: "More than 5% of the deduction remains unmatched",
			Module:      domain.ModuleDeduction,
			Severity:    domain.SeverityInfo,
			Category:    domain.CategoryFinancial,
			Threshold:   domain.Threshold{Type: "percentage", Value: 5},
			Condition: when(func(d *domain.Deduction, _ domain.RuleContext) bool {
				return d.Amount > 0 && d.MatchedAmount > 0 && d.MatchedAmount < d.Amount &&
					(d.Amount-d.MatchedAmount)/d.Amount > 0.05
			}),
			Generate: build(func(d *domain.Deduction, _ domain.RuleContext) domain.InsightPayload {
				remainder := d.Amount - d.MatchedAmount
				return domain.InsightPayload{
					Title: "Deduction partially matched",
					Description: fmt.Sprintf("Deduction %s has %.2f of %.2f still unmatched.",
						d.DisplayName(), remainder, d.Amount),
					Severity:      domain.SeverityInfo,
					Category:      domain.CategoryFinancial,
					ActualValue:   d.MatchedAmount,
					ExpectedValue: d.Amount,
					Variance:      pctOver(d.MatchedAmount, d.Amount),
					RecommendedActions: []domain.RecommendedAction{
						action("match_remainder", "Match or write off the remaining amount", "low"),
					},
				}
			}),
		},
	}
}
