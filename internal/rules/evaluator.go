package rules

import (
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Evaluator applies a module's rules to one entity.
type Evaluator struct {
	catalog *Catalog
	logger  *slog.Logger
}

// NewEvaluator creates an evaluator over catalog.
func NewEvaluator(catalog *Catalog, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		catalog: catalog,
		logger:  logger.With("component", "evaluator"),
	}
}

// Catalog returns the catalog the evaluator reads.
func (e *Evaluator) Catalog() *Catalog {
	return e.catalog
}

// Evaluate runs every rule of module against entity and returns one payload per rule that fired.
// A rule that errors or panics is logged and skipped; the others still run.
func (e *Evaluator) Evaluate(module string, entity domain.Entity, rc domain.RuleContext) []domain.InsightPayload {
	rules := e.catalog.Rules(module)
	if len(rules) == 0 || entity == nil {
		return nil
	}

	var out []domain.InsightPayload
	for _, rule := range rules {
		payload, fired, err := apply(rule, entity, rc)
		if err != nil {
			e.logger.Warn("rule failed",
				"module", module,
				"rule_id", rule.ID,
				"entity_id", entity.EntityID(),
				"error", err,
			)
			continue
		}
		if !fired {
			continue
		}

		stamp(&payload, rule, module, entity)
		out = append(out, payload)
	}

	return out
}

func apply(rule *domain.Rule, entity domain.Entity, rc domain.RuleContext) (payload domain.InsightPayload, fired bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			payload, fired, err = domain.InsightPayload{}, false, fmt.Errorf("panic: %v", r)
		}
	}()

	ok, err := rule.Condition(entity, rc)
	if err != nil || !ok {
		return domain.InsightPayload{}, false, err
	}
	return rule.Generate(entity, rc), true, nil
}

func stamp(p *domain.InsightPayload, rule *domain.Rule, module string, entity domain.Entity) {
	if !p.Severity.Valid() {
		p.Severity = rule.Severity
	}
	if p.Category == "" {
		p.Category = rule.Category
	}
	if p.Title == "" {
		p.Title = rule.Name
	}
	p.RuleID = rule.ID
	p.Module = module
	p.EntityType = module
	p.EntityID = entity.EntityID()
	p.EntityName = entity.DisplayName()
	p.Owner = entity.OwnerID()
	p.Fingerprint = domain.Fingerprint(module, rule.ID, entity.EntityID())
}
