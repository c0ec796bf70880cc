// Package rules holds the rule catalog and the evaluator that applies it.
package rules

import (
	"fmt"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Catalog is the registry of rules, grouped by module.
// Rules and modules are returned in registration order.
type Catalog struct {
	mu      sync.RWMutex
	modules []string
	byMod   map[string][]*domain.Rule
	byID    map[string]*domain.Rule
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		byMod: make(map[string][]*domain.Rule),
		byID:  make(map[string]*domain.Rule),
	}
}

// Register validates and adds a rule.
func (c *Catalog) Register(rule *domain.Rule) error {
	if err := validateRule(rule); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byID[rule.ID]; exists {
		return fmt.Errorf("%w: duplicate rule id %s", domain.ErrInvalidInput, rule.ID)
	}

	if _, seen := c.byMod[rule.Module]; !seen {
		c.modules = append(c.modules, rule.Module)
	}
	c.byMod[rule.Module] = append(c.byMod[rule.Module], rule)
	c.byID[rule.ID] = rule

	return nil
}

// MustRegister is Register for startup code; it panics on error.
func (c *Catalog) MustRegister(rules ...*domain.Rule) {
	for _, r := range rules {
		if err := c.Register(r); err != nil {
			panic(err)
		}
	}
}

// Rules returns the rules of a module. The slice is a copy.
func (c *Catalog) Rules(module string) []*domain.Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rules := c.byMod[module]
	out := make([]*domain.Rule, len(rules))
	copy(out, rules)
	return out
}

// Rule looks up a rule by module and id.
func (c *Catalog) Rule(module, id string) (*domain.Rule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.byID[id]
	if !ok || r.Module != module {
		return nil, false
	}
	return r, true
}

// Modules returns the modules that have at least one rule.
func (c *Catalog) Modules() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, len(c.modules))
	copy(out, c.modules)
	return out
}

// HasModule reports whether any rule is registered for module.
func (c *Catalog) HasModule(module string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.byMod[module]
	return ok
}

// Count returns the total number of registered rules.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

func validateRule(rule *domain.Rule) error {
	switch {
	case rule == nil:
		return fmt.Errorf("%w: rule is required", domain.ErrInvalidInput)
	case rule.ID == "":
		return fmt.Errorf("%w: rule id is required", domain.ErrInvalidInput)
	case !domain.KnownModule(rule.Module):
		return fmt.Errorf("%w: rule %s: unknown module %q", domain.ErrInvalidInput, rule.ID, rule.Module)
	case !rule.Severity.Valid():
		return fmt.Errorf("%w: rule %s: invalid severity %q", domain.ErrInvalidInput, rule.ID, rule.Severity)
	case rule.Condition == nil || rule.Generate == nil:
		return fmt.Errorf("%w: rule %s: condition and generator are required", domain.ErrInvalidInput, rule.ID)
	}
	return nil
}
