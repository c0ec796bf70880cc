// Package rulectx builds the auxiliary context rules evaluate against.
package rulectx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	keyPrefix        = "stats:"
	budgetAverageKey = keyPrefix + "budget-utilization"
)

// customerKey namespaces a customer's statistics so they can be dropped together.
func customerKey(customerID string, parts ...string) string {
	key := keyPrefix + "customer:" + customerID + ":"
	return key + strings.Join(parts, ":")
}

// Builder assembles a domain.RuleContext per module from historical aggregates.
// Per-customer statistics are cached for ttl when a cache is configured.
type Builder struct {
	stats  domain.StatsSource
	cache  domain.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewBuilder creates a context builder. cache may be nil.
func NewBuilder(stats domain.StatsSource, cache domain.Cache, ttl time.Duration, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		stats:  stats,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With("component", "rulectx"),
	}
}

type budgetAverage struct {
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

type netSales struct {
	Amount float64 `json:"amount"`
	Found  bool    `json:"found"`
}

// Build returns the context for evaluating entity under module at asOf.
// Aggregates with no underlying data are left out. On error the context built so far
// is returned with the error.
func (b *Builder) Build(ctx context.Context, module string, entity domain.Entity, asOf time.Time) (domain.RuleContext, error) {
	rc := domain.NewRuleContext(asOf)
	if !domain.KnownModule(module) {
		return rc, fmt.Errorf("%w: %s", domain.ErrUnknownModule, module)
	}
	if b.stats == nil || entity == nil {
		return rc, nil
	}

	switch e := entity.(type) {
	case *domain.Budget:
		avg, err := cached(ctx, b, budgetAverageKey, func(ctx context.Context) (budgetAverage, error) {
			v, n, err := b.stats.AverageBudgetUtilization(ctx)
			return budgetAverage{Average: v, Count: n}, err
		})
		if err != nil {
			return rc, fmt.Errorf("average budget utilization: %w", err)
		}
		if avg.Count > 0 {
			rc.Set(domain.CtxAverageBurnRate, avg.Average)
		}

	case *domain.Promotion:
		n, err := b.stats.CountOverlappingPromotions(ctx, e)
		if err != nil {
			return rc, fmt.Errorf("overlapping promotions for %s: %w", e.ID, err)
		}
		rc.Set(domain.CtxOverlapCount, float64(n))
		rc.Set(domain.CtxHasOverlap, boolValue(n > 0))

	case *domain.Claim:
		if e.CustomerID == "" {
			return rc, nil
		}
		s, err := cached(ctx, b, customerKey(e.CustomerID, "claims"), func(ctx context.Context) (domain.ClaimStats, error) {
			return b.stats.CustomerClaimStats(ctx, e.CustomerID)
		})
		if err != nil {
			return rc, fmt.Errorf("claim stats for %s: %w", e.CustomerID, err)
		}
		if s.Count > 0 {
			rc.Set(domain.CtxAvgClaimAmount, s.AverageAmount)
			rc.Set(domain.CtxInvalidClaimRate, s.InvalidRate)
			rc.Set(domain.CtxClaimCount, float64(s.Count))
		}

	case *domain.Deduction:
		if e.CustomerID == "" {
			return rc, nil
		}
		s, err := cached(ctx, b, customerKey(e.CustomerID, "deductions"), func(ctx context.Context) (domain.DeductionStats, error) {
			return b.stats.CustomerDeductionStats(ctx, e.CustomerID)
		})
		if err != nil {
			return rc, fmt.Errorf("deduction stats for %s: %w", e.CustomerID, err)
		}
		if s.Count > 0 {
			rc.Set(domain.CtxAvgDeductionAmount, s.AverageAmount)
			rc.Set(domain.CtxDeductionCount, float64(s.Count))
		}

	case *domain.TradeSpend:
		if e.CustomerID == "" || e.PeriodStart.IsZero() || e.PeriodEnd.IsZero() {
			return rc, nil
		}
		key := customerKey(e.CustomerID, "sales",
			e.PeriodStart.UTC().Format(time.DateOnly), e.PeriodEnd.UTC().Format(time.DateOnly))
		s, err := cached(ctx, b, key, func(ctx context.Context) (netSales, error) {
			v, found, err := b.stats.NetSales(ctx, e.CustomerID, e.PeriodStart, e.PeriodEnd)
			return netSales{Amount: v, Found: found}, err
		})
		if err != nil {
			return rc, fmt.Errorf("net sales for %s: %w", e.CustomerID, err)
		}
		if s.Found {
			rc.Set(domain.CtxNetSales, s.Amount)
		}
	}

	return rc, nil
}

// Invalidate drops every cached statistic of a customer.
func (b *Builder) Invalidate(ctx context.Context, customerID string) {
	if b.cache == nil || customerID == "" {
		return
	}
	prefix := customerKey(customerID)
	if err := b.cache.DeletePrefix(ctx, prefix); err != nil {
		b.logger.Warn("cache invalidation failed", "prefix", prefix, "error", err)
	}
}

// Forget drops the cached statistics the next Build for entity would read,
// so an on-demand scan sees current history.
func (b *Builder) Forget(ctx context.Context, entity domain.Entity) {
	switch e := entity.(type) {
	case *domain.Budget:
		if b.cache == nil {
			return
		}
		if err := b.cache.Delete(ctx, budgetAverageKey); err != nil {
			b.logger.Warn("cache invalidation failed", "key", budgetAverageKey, "error", err)
		}
	case *domain.Claim:
		b.Invalidate(ctx, e.CustomerID)
	case *domain.Deduction:
		b.Invalidate(ctx, e.CustomerID)
	case *domain.TradeSpend:
		b.Invalidate(ctx, e.CustomerID)
	}
}

// cached reads key from the cache, falling back to fetch and storing its result.
// Cache failures only cost a fetch.
func cached[T any](ctx context.Context, b *Builder, key string, fetch func(context.Context) (T, error)) (T, error) {
	if b.cache != nil && b.ttl > 0 {
		if raw, err := b.cache.Get(ctx, key); err != nil {
			b.logger.Debug("cache get failed", "key", key, "error", err)
		} else if raw != nil {
			var v T
			if err := json.Unmarshal(raw, &v); err == nil {
				return v, nil
			}
		}
	}

	v, err := fetch(ctx)
	if err != nil {
		return v, err
	}

	if b.cache != nil && b.ttl > 0 {
		if raw, err := json.Marshal(v); err == nil {
			if err := b.cache.Set(ctx, key, raw, b.ttl); err != nil {
				b.logger.Debug("cache set failed", "key", key, "error", err)
			}
		}
	}
	return v, nil
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
