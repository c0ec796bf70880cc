package domain

import (
	"math"
	"time"
)

// Condition decides whether a rule fires for an entity.
// It must not mutate its inputs and must return false when data it needs is missing.
type Condition func(e Entity, rc RuleContext) (bool, error)

// Generator builds the insight for an entity whose condition held.
type Generator func(e Entity, rc RuleContext) InsightPayload

// Threshold documents what a rule compares against. The engine never enforces it.
type Threshold struct {
	Type  string  `json:"type"` // percentage, ratio, multiplier, days, amount, count
	Value float64 `json:"value"`
}

// Rule pairs a condition with an insight generator.
type Rule struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Module      string    `json:"module"`
	Severity    Severity  `json:"severity"` // default; generators may escalate per instance
	Category    Category  `json:"category"`
	Threshold   Threshold `json:"threshold"`

	Condition Condition `json:"-"`
	Generate  Generator `json:"-"`
}

// Context keys populated by the context builder.
const (
	CtxAverageBurnRate    = "averageBurnRate"
	CtxOverlapCount       = "overlapCount"
	CtxHasOverlap         = "hasOverlap"
	CtxAvgClaimAmount     = "avgClaimAmount"
	CtxInvalidClaimRate   = "invalidClaimRate"
	CtxClaimCount         = "claimCount"
	CtxAvgDeductionAmount = "avgDeductionAmount"
	CtxDeductionCount     = "deductionCount"
	CtxNetSales           = "netSales"
)

// RuleContext carries the auxiliary data rules need beyond the entity.
// AsOf is the only notion of "now" a rule may use.
type RuleContext struct {
	AsOf   time.Time          `json:"asOf"`
	Values map[string]float64 `json:"values,omitempty"`
}

// NewRuleContext returns an empty context evaluated at asOf.
func NewRuleContext(asOf time.Time) RuleContext {
	return RuleContext{AsOf: asOf, Values: make(map[string]float64)}
}

// Value returns the named aggregate and whether it is present.
func (rc RuleContext) Value(key string) (float64, bool) {
	if rc.Values == nil {
		return 0, false
	}
	v, ok := rc.Values[key]
	return v, ok
}

// Set stores an aggregate.
func (rc *RuleContext) Set(key string, v float64) {
	if rc.Values == nil {
		rc.Values = make(map[string]float64)
	}
	rc.Values[key] = v
}

// Round2 rounds to two decimal places, the precision used for variance.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
