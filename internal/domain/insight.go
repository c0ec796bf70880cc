package domain

import (
	"time"
)

// Severity is the urgency of an insight.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for sorting: critical > warning > info.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// Category groups insights by the kind of problem they describe.
type Category string

const (
	CategoryPerformance Category = "performance"
	CategoryFinancial   Category = "financial"
	CategoryCompliance  Category = "compliance"
	CategoryOperational Category = "operational"
	CategoryAnomaly     Category = "anomaly"
)

// RecommendedAction is a suggested next step attached to an insight.
type RecommendedAction struct {
	Action      string `json:"action"`
	Description string `json:"description"`
	Priority    string `json:"priority"` // high, medium, low
}

// InsightPayload is what a rule produces when its condition holds.
// The evaluator stamps the identity fields after the generator returns.
type InsightPayload struct {
	Title              string              `json:"title"`
	Description        string              `json:"description"`
	Severity           Severity            `json:"severity"`
	Category           Category            `json:"category"`
	ActualValue        float64             `json:"actualValue"`
	ExpectedValue      float64             `json:"expectedValue"`
	Variance           float64             `json:"variance"`
	RecommendedActions []RecommendedAction `json:"recommendedActions,omitempty"`

	// Stamped by the evaluator
	Module      string `json:"module"`
	EntityType  string `json:"entityType"`
	EntityID    string `json:"entityId"`
	EntityName  string `json:"entityName"`
	RuleID      string `json:"ruleId"`
	Owner       string `json:"owner,omitempty"`
	Fingerprint string `json:"fingerprint"`
}

// Fingerprint identifies "this rule is violated for this entity" independently
// of when or how often it fires.
func Fingerprint(module, ruleID, entityID string) string {
	return module + "-" + ruleID + "-" + entityID
}

// Insight is the persisted, triageable record for a fingerprint.
type Insight struct {
	ID string `json:"insightId"`

	InsightPayload

	AssignedTo      string     `json:"assignedTo,omitempty"`
	Status          Status     `json:"status"`
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`
	ResolvedBy      string     `json:"resolvedBy,omitempty"`
	ResolutionNotes string     `json:"resolutionNotes,omitempty"`

	FirstSeenAt     time.Time `json:"firstSeenAt"`
	LastSeenAt      time.Time `json:"lastSeenAt"`
	OccurrenceCount int       `json:"occurrenceCount"`

	Tags     []string          `json:"tags,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// Free-form enrichment written by other systems.
	MLScore    *float64 `json:"mlScore,omitempty"`
	LLMSummary string   `json:"llmSummary,omitempty"`

	CreatedBy string    `json:"createdBy,omitempty"` // empty for scanner-created insights
	UpdatedBy string    `json:"updatedBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsOpen reports whether the insight can still be triaged.
func (i *Insight) IsOpen() bool {
	return i.Status.IsOpen()
}

// InsightFilter narrows ListInsights. Empty fields match everything.
type InsightFilter struct {
	Module     string
	Severity   Severity
	Status     Status
	Owner      string
	AssignedTo string
	EntityID   string
	Limit      int
	Offset     int
}

// Default and maximum page sizes for ListInsights.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Normalize clamps pagination to sane bounds.
func (f InsightFilter) Normalize() InsightFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// InsightPage is one page of a filtered listing.
type InsightPage struct {
	Insights []*Insight `json:"insights"`
	Total    int        `json:"total"`
	Limit    int        `json:"limit"`
	Offset   int        `json:"offset"`
}

// InsightSummary counts insights by severity and status.
type InsightSummary struct {
	Counts map[Severity]map[Status]int `json:"counts"`
	Total  int                         `json:"total"`
	Open   int                         `json:"open"`
}

// Add records n insights with the given severity and status.
func (s *InsightSummary) Add(sev Severity, st Status, n int) {
	if s.Counts == nil {
		s.Counts = make(map[Severity]map[Status]int)
	}
	if s.Counts[sev] == nil {
		s.Counts[sev] = make(map[Status]int)
	}
	s.Counts[sev][st] += n
	s.Total += n
	if st.IsOpen() {
		s.Open += n
	}
}

// InsightEvent is published for every newly created insight.
type InsightEvent struct {
	Event       string    `json:"event"`
	Recipient   string    `json:"recipient"`
	TriggeredAt time.Time `json:"triggeredAt"`
	Insight     *Insight  `json:"insight"`
}
