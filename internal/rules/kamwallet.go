package rules

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func kamWalletRules() []*domain.Rule {
	return []*domain.Rule{
		{
			ID:          "kamWalletOverCommitted",
			Name:        "KAM wallet over-committed",
			Description: "Utilized plus committed funds exceed the wallet allocation",
			Module:      domain.ModuleKAMWallet,
			Severity:    domain.SeverityCritical,
			Category:    domain.CategoryFinancial,
			Condition: MustCELCondition(
				`double(entity.allocatedAmount) > 0.0 &&
				 double(entity.utilizedAmount) + double(entity.committedAmount) > double(entity.allocatedAmount)`,
			),
			Generate: build(func(w *domain.KAMWallet, _ domain.RuleContext) domain.InsightPayload {
				used := w.UtilizedAmount + w.CommittedAmount
				return domain.InsightPayload{
					Title: "Wallet over-committed",
					Description: fmt.Sprintf("%s has %.2f utilized or committed against %.2f allocated.",
						w.DisplayName(), used, w.AllocatedAmount),
					Severity:      domain.SeverityCritical,
					Category:      domain.CategoryFinancial,
					ActualValue:   used,
					ExpectedValue: w.AllocatedAmount,
					Variance:      pctOver(used, w.AllocatedAmount),
					RecommendedActions: []domain.RecommendedAction{
						action("release_commitments", "Release or defer pending commitments", "high"),
					},
				}
			}),
		},
		{
			ID:          "kamWalletLowBalance",
			Name:        "KAM wallet low balance",
			Description: "Less than 10% of the wallet allocation is still available",
			Module:      domain.ModuleKAMWallet,
			Severity:    domain.SeverityWarning,
			Category:    domain.CategoryOperational,
			Threshold:   domain.Threshold{Type: "percentage", Value: 10},
			Condition: MustCELCondition(
				`double(entity.allocatedAmount) > 0.0 &&
				 double(entity.utilizedAmount) + double(entity.committedAmount) <= double(entity.allocatedAmount) &&
				 (double(entity.allocatedAmount) - double(entity.utilizedAmount) - double(entity.committedAmount)) /
				   double(entity.allocatedAmount) < 0.1`,
			),
			Generate: build(func(w *domain.KAMWallet, _ domain.RuleContext) domain.InsightPayload {
				available := w.AllocatedAmount - w.UtilizedAmount - w.CommittedAmount
				return domain.InsightPayload{
					Title:         "Wallet balance low",
					Description:   fmt.Sprintf("%s has %.2f of %.2f available.", w.DisplayName(), available, w.AllocatedAmount),
					Severity:      domain.SeverityWarning,
					Category:      domain.CategoryOperational,
					ActualValue:   available,
					ExpectedValue: domain.Round2(w.AllocatedAmount * 0.1),
					Variance:      domain.Round2(available / w.AllocatedAmount * 100),
					RecommendedActions: []domain.RecommendedAction{
						action("request_topup", "Request a wallet top-up", "medium"),
					},
				}
			}),
		},
		{
			ID:          "kamWalletIdleExpiring",
			Name:        "KAM wallet idle before expiry",
			Description: "Wallet expires within 30 days with less than 25% utilized",
			Module:      domain.ModuleKAMWallet,
			Severity:    domain.SeverityInfo,
			Category:    domain.CategoryPerformance,
			Threshold:   domain.Threshold{Type: "days", Value: 30},
			Condition: when(func(w *domain.KAMWallet, rc domain.RuleContext) bool {
				if w.AllocatedAmount <= 0 || w.ExpiryDate.IsZero() || !w.ExpiryDate.After(rc.AsOf) {
					return false
				}
				return days(rc.AsOf, w.ExpiryDate) <= 30 && w.UtilizedAmount/w.AllocatedAmount < 0.25
			}),
			Generate: build(func(w *domain.KAMWallet, rc domain.RuleContext) domain.InsightPayload {
				util := domain.Round2(w.UtilizedAmount / w.AllocatedAmount * 100)
				return domain.InsightPayload{
					Title: "Wallet largely unused before expiry",
					Description: fmt.Sprintf("%s expires in %.0f days with only %.2f%% utilized.",
						w.DisplayName(), days(rc.AsOf, w.ExpiryDate), util),
					Severity:      domain.SeverityInfo,
					Category:      domain.CategoryPerformance,
					ActualValue:   util,
					ExpectedValue: 25,
					Variance:      pctOver(util, 25),
					RecommendedActions: []domain.RecommendedAction{
						action("plan_spend", "Plan activity with the key account before expiry", "low"),
					},
				}
			}),
		},
	}
}
