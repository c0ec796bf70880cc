package rules

import (
	"fmt"
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// BuiltinRules returns the built-in rule set in registration order.
func BuiltinRules() []*domain.Rule {
	var all []*domain.Rule
	all = append(all, budgetRules()...)
	all = append(all, promotionRules()...)
	all = append(all, claimRules()...)
	all = append(all, deductionRules()...)
	all = append(all, tradeSpendRules()...)
	all = append(all, kamWalletRules()...)
	return all
}

// DefaultCatalog returns a catalog loaded with the built-in rules.
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	c.MustRegister(BuiltinRules()...)
	return c
}

// when adapts a typed predicate to a domain.Condition.
func when[T domain.Entity](f func(T, domain.RuleContext) bool) domain.Condition {
	return func(e domain.Entity, rc domain.RuleContext) (bool, error) {
		v, ok := e.(T)
		if !ok {
			return false, fmt.Errorf("%w: unexpected entity %T", domain.ErrInvalidInput, e)
		}
		return f(v, rc), nil
	}
}

// build adapts a typed generator to a domain.Generator.
func build[T domain.Entity](f func(T, domain.RuleContext) domain.InsightPayload) domain.Generator {
	return func(e domain.Entity, rc domain.RuleContext) domain.InsightPayload {
		return f(e.(T), rc)
	}
}

func days(from, to time.Time) float64 {
	return to.Sub(from).Hours() / 24
}

// elapsed returns how much of [start, end] has passed at asOf, clamped to [0, 1].
// ok is false when the period is undefined.
func elapsed(start, end, asOf time.Time) (float64, bool) {
	if start.IsZero() || end.IsZero() || !end.After(start) {
		return 0, false
	}
	f := float64(asOf.Sub(start)) / float64(end.Sub(start))
	return math.Max(0, math.Min(1, f)), true
}

// pctOver is how far actual exceeds expected, as a percentage of expected.
func pctOver(actual, expected float64) float64 {
	return domain.Round2((actual - expected) / expected * 100)
}

func escalate(critical bool) domain.Severity {
	if critical {
		return domain.SeverityCritical
	}
	return domain.SeverityWarning
}

func action(name, desc, priority string) domain.RecommendedAction {
	return domain.RecommendedAction{Action: name, Description: desc, Priority: priority}
}
