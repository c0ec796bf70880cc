package rules

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func promotionRules() []*domain.Rule {
	return []*domain.Rule{
		{
			ID:          "promotionOverlap",
			Name:        "Overlapping promotions",
			Description: "Other live promotions target the same customer and product in the same period",
			Module:      domain.ModulePromotion,
			Severity:    domain.SeverityWarning,
			Category:    domain.CategoryOperational,
			Threshold:   domain.Threshold{Type: "count", Value: 1},
			Condition: when(func(_ *domain.Promotion, rc domain.RuleContext) bool {
				n, ok := rc.Value(domain.CtxOverlapCount)
				return ok && n > 0
			}),
			Generate: build(func(p *domain.Promotion, rc domain.RuleContext) domain.InsightPayload {
				n, _ := rc.Value(domain.CtxOverlapCount)
				return domain.InsightPayload{
					Title: "Promotion overlaps other promotions",
					Description: fmt.Sprintf("%s overlaps %.0f other promotion(s) for the same customer and product.",
						p.DisplayName(), n),
					Severity:      escalate(n >= 3),
					Category:      domain.CategoryOperational,
					ActualValue:   n,
					ExpectedValue: 0,
					RecommendedActions: []domain.RecommendedAction{
						action("review_calendar", "Review the promotion calendar for this customer", "high"),
						action("merge_or_shift", "Merge the promotions or shift their dates", "medium"),
					},
				}
			}),
		},
		{
			ID:          "promotionNegativeROI",
			Name:        "Negative promotion ROI",
			Description: "Incremental revenue does not cover promotion spend",
			Module:      domain.ModulePromotion,
			Severity:    domain.SeverityWarning,
			Category:    domain.CategoryFinancial,
			Threshold:   domain.Threshold{Type: "percentage", Value: 0},
			Condition: when(func(p *domain.Promotion, _ domain.RuleContext) bool {
				return p.ActualSpend > 0 && p.IncrementalRevenue < p.ActualSpend
			}),
			Generate: build(func(p *domain.Promotion, _ domain.RuleContext) domain.InsightPayload {
				roi := domain.Round2((p.IncrementalRevenue - p.ActualSpend) / p.ActualSpend * 100)
				return domain.InsightPayload{
					Title: "Promotion ROI is negative",
					Description: fmt.Sprintf("%s returned %.2f on %.2f of spend (ROI %.2f%%).",
						p.DisplayName(), p.IncrementalRevenue, p.ActualSpend, roi),
					Severity:      escalate(roi < -50),
					Category:      domain.CategoryFinancial,
					ActualValue:   roi,
					ExpectedValue: 0,
					Variance:      roi,
					RecommendedActions: []domain.RecommendedAction{
						action("post_event_analysis", "Run a post-event analysis before repeating this mechanic", "high"),
					},
				}
			}),
		},
		{
			ID:          "promotionSpendOverrun",
			Name:        "Promotion spend overrun",
			Description: "Actual spend is more than 10% over plan",
			Module:      domain.ModulePromotion,
			Severity:    domain.SeverityWarning,
			Category:    domain.CategoryFinancial,
			Threshold:   domain.Threshold{Type: "percentage", Value: 10},
			Condition: when(func(p *domain.Promotion, _ domain.RuleContext) bool {
				return p.PlannedSpend > 0 && pctOver(p.ActualSpend, p.PlannedSpend) > 10
			}),
			Generate: build(func(p *domain.Promotion, _ domain.RuleContext) domain.InsightPayload {
				variance := pctOver(p.ActualSpend, p.PlannedSpend)
				return domain.InsightPayload{
					Title: "Promotion spend over plan",
					Description: fmt.Sprintf("%s has spent %.2f against a plan of %.2f (%.2f%% over).",
						p.DisplayName(), p.ActualSpend, p.PlannedSpend, variance),
					Severity:      escalate(variance > 25),
					Category:      domain.CategoryFinancial,
					ActualValue:   p.ActualSpend,
					ExpectedValue: p.PlannedSpend,
					Variance:      variance,
					RecommendedActions: []domain.RecommendedAction{
						action("cap_spend", "Cap remaining spend for this promotion", "high"),
					},
				}
			}),
		},
		{
			ID:          "promotionLowVolumeLift",
			Name:        "Low volume lift",
			Description: "Volume is below 70% of the pro-rated plan after half the period",
			Module:      domain.ModulePromotion,
			Severity:    domain.SeverityWarning,
			Category:    domain.CategoryPerformance,
			Threshold:   domain.Threshold{Type: "percentage", Value: 70},
			Condition: when(func(p *domain.Promotion, rc domain.RuleContext) bool {
				if p.PlannedVolume <= 0 {
					return false
				}
				frac, ok := elapsed(p.StartDate, p.EndDate, rc.AsOf)
				return ok && frac >= 0.5 && p.ActualVolume < 0.7*p.PlannedVolume*frac
			}),
			Generate: build(func(p *domain.Promotion, rc domain.RuleContext) domain.InsightPayload {
				frac, _ := elapsed(p.StartDate, p.EndDate, rc.AsOf)
				expected := domain.Round2(p.PlannedVolume * frac)
				return domain.InsightPayload{
					Title: "Promotion volume below plan",
					Description: fmt.Sprintf("%s has moved %.2f units against %.2f expected by now.",
						p.DisplayName(), p.ActualVolume, expected),
					Severity:      domain.SeverityWarning,
					Category:      domain.CategoryPerformance,
					ActualValue:   p.ActualVolume,
					ExpectedValue: expected,
					Variance:      pctOver(p.ActualVolume, expected),
					RecommendedActions: []domain.RecommendedAction{
						action("check_execution", "Check in-store execution and distribution", "medium"),
					},
				}
			}),
		},
		{
			ID:          "promotionMissingBudget",
			Name:        "Promotion without budget",
			Description: "An approved or active promotion is not linked to a budget",
			Module:      domain.ModulePromotion,
			Severity:    domain.SeverityWarning,
			Category:    domain.CategoryCompliance,
			Condition: when(func(p *domain.Promotion, _ domain.RuleContext) bool {
				return p.BudgetID == "" && (p.Status == "approved" || p.Status == "active")
			}),
			Generate: build(func(p *domain.Promotion, _ domain.RuleContext) domain.InsightPayload {
				return domain.InsightPayload{
					Title:         "Promotion has no budget",
					Description:   fmt.Sprintf("%s is %s but has no budget assigned.", p.DisplayName(), p.Status),
					Severity:      domain.SeverityWarning,
					Category:      domain.CategoryCompliance,
					ActualValue:   p.PlannedSpend,
					ExpectedValue: 0,
					RecommendedActions: []domain.RecommendedAction{
						action("assign_budget", "Link the promotion to a funding budget", "high"),
					},
				}
			}),
		},
	}
}
