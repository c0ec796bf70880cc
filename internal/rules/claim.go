package rules

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func claimRules() []*domain.Rule {
	return []*domain.Rule{
		{
			ID:          "claimAmountOutlier",
			Name:        "Claim amount outlier",
			Description: "Claim is more than twice the customer's average claim",
			Module:      domain.ModuleClaim,
			Severity:    domain.SeverityWarning,
			Category:    domain.CategoryAnomaly,
			Threshold:   domain.Threshold{Type: "multiplier", Value: 2},
			Condition: when(func(c *domain.Claim, rc domain.RuleContext) bool {
				avg, ok := rc.Value(domain.CtxAvgClaimAmount)
				return ok && avg > 0 && c.Amount > 2*avg
			}),
			Generate: build(func(c *domain.Claim, rc domain.RuleContext) domain.InsightPayload {
				avg, _ := rc.Value(domain.CtxAvgClaimAmount)
				return domain.InsightPayload{
					Title: "Unusually large claim",
					Description: fmt.Sprintf("Claim %s is %.2f, %.1fx the customer's average of %.2f.",
						c.DisplayName(), c.Amount, c.Amount/avg, avg),
					Severity:      escalate(c.Amount > 3*avg),
					Category:      domain.CategoryAnomaly,
					ActualValue:   c.Amount,
					ExpectedValue: domain.Round2(avg),
					Variance:      pctOver(c.Amount, avg),
					RecommendedActions: []domain.RecommendedAction{
						action("verify_proof", "Verify proof of performance before approval", "high"),
					},
				}
			}),
		},
		{
			ID:          "claimHighRiskCustomer",
			Name:        "High-risk customer claim",
			Description: "Customer has a history of invalid claims",
			Module:      domain.ModuleClaim,
			Severity:    domain.SeverityWarning,
			Category:    domain.CategoryCompliance,
			Threshold:   domain.Threshold{Type: "ratio", Value: 0.2},
			Condition: when(func(_ *domain.Claim, rc domain.RuleContext) bool {
				rate, ok := rc.Value(domain.CtxInvalidClaimRate)
				if !ok {
					return false
				}
				n, ok := rc.Value(domain.CtxClaimCount)
				return ok && n >= 5 && rate >= 0.2
			}),
			Generate: build(func(c *domain.Claim, rc domain.RuleContext) domain.InsightPayload {
				rate, _ := rc.Value(domain.CtxInvalidClaimRate)
				n, _ := rc.Value(domain.CtxClaimCount)
				return domain.InsightPayload{
					Title: "Claim from high-risk customer",
					Description: fmt.Sprintf("Claim %s comes from a customer with %.0f%% invalid claims across %.0f claims.",
						c.DisplayName(), rate*100, n),
					Severity:      domain.SeverityWarning,
					Category:      domain.CategoryCompliance,
					ActualValue:   domain.Round2(rate * 100),
					ExpectedValue: 20,
					Variance:      pctOver(rate, 0.2),
					RecommendedActions: []domain.RecommendedAction{
						action("enhanced_review", "Route the claim to enhanced review", "high"),
					},
				}
			}),
		},
		{
			ID:          "claimExceedsApproved",
			Name:        "Claim exceeds approved amount",
			Description: "Claimed amount is greater than the amount approved",
			Module:      domain.ModuleClaim,
			Severity:    domain.SeverityWarning,
			Category:    domain.CategoryFinancial,
			Condition: when(func(c *domain.Claim, _ domain.RuleContext) bool {
				return c.ApprovedAmount > 0 && c.Amount > c.ApprovedAmount
			}),
			Generate: build(func(c *domain.Claim, _ domain.RuleContext) domain.InsightPayload {
				variance := pctOver(c.Amount, c.ApprovedAmount)
				return domain.InsightPayload{
					Title: "Claim exceeds approval",
					Description: fmt.Sprintf("Claim %s requests %.2f but only %.2f was approved.",
						c.DisplayName(), c.Amount, c.ApprovedAmount),
					Severity:      escalate(variance > 10),
					Category:      domain.CategoryFinancial,
					ActualValue:   c.Amount,
					ExpectedValue: c.ApprovedAmount,
					Variance:      variance,
					RecommendedActions: []domain.RecommendedAction{
						action("partial_settle", "Settle up to the approved amount only", "high"),
					},
				}
			}),
		},
		{
			ID:          "claimAging",
			Name:        "Claim aging",
			Description: "Claim has been waiting more than 30 days",
			Module:      domain.ModuleClaim,
			Severity:    domain.SeverityWarning,
			Category:    domain.CategoryOperational,
			Threshold:   domain.Threshold{Type: "days", Value: 30},
			Condition: when(func(c *domain.Claim, rc domain.RuleContext) bool {
				return !c.SubmittedAt.IsZero() && days(c.SubmittedAt, rc.AsOf) > 30
			}),
			Generate: build(func(c *domain.Claim, rc domain.RuleContext) domain.InsightPayload {
				age := domain.Round2(days(c.SubmittedAt, rc.AsOf))
				return domain.InsightPayload{
					Title:         "Claim pending too long",
					Description:   fmt.Sprintf("Claim %s has been open for %.0f days.", c.DisplayName(), age),
					Severity:      escalate(age > 60),
					Category:      domain.CategoryOperational,
					ActualValue:   age,
					ExpectedValue: 30,
					Variance:      pctOver(age, 30),
					RecommendedActions: []domain.RecommendedAction{
						action("expedite", "Expedite the review of this claim", "medium"),
					},
				}
			}),
		},
		{
			ID:          "claimMissingDocumentation",
			Name:        "Claim missing documentation",
			Description: "Large claim has no supporting documents",
			Module:      domain.ModuleClaim,
			Severity:    domain.SeverityWarning,
			Category:    domain.CategoryCompliance,
			Threshold:   domain.Threshold{Type: "amount", Value: 10000},
			Condition: when(func(c *domain.Claim, _ domain.RuleContext) bool {
				return c.DocumentCount == 0 && c.Amount > 10000
			}),
			Generate: build(func(c *domain.Claim, _ domain.RuleContext) domain.InsightPayload {
				return domain.InsightPayload{
					Title:         "Claim has no documentation",
					Description:   fmt.Sprintf("Claim %s for %.2f has no supporting documents.", c.DisplayName(), c.Amount),
					Severity:      domain.SeverityWarning,
					Category:      domain.CategoryCompliance,
					ActualValue:   0,
					ExpectedValue: 1,
					RecommendedActions: []domain.RecommendedAction{
						action("request_documents", "Request proof of performance from the customer", "high"),
					},
				}
			}),
		},
	}
}
