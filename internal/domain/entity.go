package domain

import (
	"time"
)

// Module names. A module groups related rules and the entities they inspect.
const (
	ModuleBudget     = "budget"
	ModulePromotion  = "promotion"
	ModuleClaim      = "claim"
	ModuleDeduction  = "deduction"
	ModuleTradeSpend = "tradeSpend"
	ModuleKAMWallet  = "kamWallet"
)

// Modules lists every known module in scan order.
var Modules = []string{
	ModuleBudget,
	ModulePromotion,
	ModuleClaim,
	ModuleDeduction,
	ModuleTradeSpend,
	ModuleKAMWallet,
}

// KnownModule reports whether m names a module.
func KnownModule(m string) bool {
	for _, known := range Modules {
		if known == m {
			return true
		}
	}
	return false
}

// Entity is the typed projection of a business record that rules evaluate.
type Entity interface {
	EntityID() string
	// DisplayName prefers name, then code, then number.
	DisplayName() string
	OwnerID() string
	// Fields exposes the projection as a flat map for expression-backed conditions.
	Fields() map[string]any
}

func displayName(name, code, number string) string {
	switch {
	case name != "":
		return name
	case code != "":
		return code
	default:
		return number
	}
}

// Budget is the projection of a budget record.
type Budget struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	Status      string    `json:"status"`
	Owner       string    `json:"owner"`
	TotalAmount float64   `json:"totalAmount"`
	SpentAmount float64   `json:"spentAmount"`
	StartDate   time.Time `json:"startDate"`
	EndDate     time.Time `json:"endDate"`
}

func (b *Budget) EntityID() string    { return b.ID }
func (b *Budget) DisplayName() string { return displayName(b.Name, b.Code, "") }
func (b *Budget) OwnerID() string     { return b.Owner }

func (b *Budget) Fields() map[string]any {
	return map[string]any{
		"id":          b.ID,
		"status":      b.Status,
		"totalAmount": b.TotalAmount,
		"spentAmount": b.SpentAmount,
	}
}

// Promotion is the projection of a trade promotion.
type Promotion struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Code               string    `json:"code"`
	Status             string    `json:"status"`
	Owner              string    `json:"owner"`
	CustomerID         string    `json:"customerId"`
	ProductID          string    `json:"productId"`
	BudgetID           string    `json:"budgetId"`
	PlannedSpend       float64   `json:"plannedSpend"`
	ActualSpend        float64   `json:"actualSpend"`
	PlannedVolume      float64   `json:"plannedVolume"`
	ActualVolume       float64   `json:"actualVolume"`
	IncrementalRevenue float64   `json:"incrementalRevenue"`
	StartDate          time.Time `json:"startDate"`
	EndDate            time.Time `json:"endDate"`
}

func (p *Promotion) EntityID() string    { return p.ID }
func (p *Promotion) DisplayName() string { return displayName(p.Name, p.Code, "") }
func (p *Promotion) OwnerID() string     { return p.Owner }

func (p *Promotion) Fields() map[string]any {
	return map[string]any{
		"id":                 p.ID,
		"status":             p.Status,
		"plannedSpend":       p.PlannedSpend,
		"actualSpend":        p.ActualSpend,
		"plannedVolume":      p.PlannedVolume,
		"actualVolume":       p.ActualVolume,
		"incrementalRevenue": p.IncrementalRevenue,
	}
}

// Claim is the projection of a customer claim against a promotion.
type Claim struct {
	ID             string    `json:"id"`
	Number         string    `json:"number"`
	Status         string    `json:"status"`
	Owner          string    `json:"owner"`
	CustomerID     string    `json:"customerId"`
	PromotionID    string    `json:"promotionId"`
	Amount         float64   `json:"amount"`
	ApprovedAmount float64   `json:"approvedAmount"`
	DocumentCount  int       `json:"documentCount"`
	SubmittedAt    time.Time `json:"submittedAt"`
}

func (c *Claim) EntityID() string    { return c.ID }
func (c *Claim) DisplayName() string { return displayName("", "", c.Number) }
func (c *Claim) OwnerID() string     { return c.Owner }

func (c *Claim) Fields() map[string]any {
	return map[string]any{
		"id":             c.ID,
		"status":         c.Status,
		"amount":         c.Amount,
		"approvedAmount": c.ApprovedAmount,
		"documentCount":  float64(c.DocumentCount),
	}
}

// Deduction is the projection of a customer deduction taken against an invoice.
type Deduction struct {
	ID            string    `json:"id"`
	Number        string    `json:"number"`
	Status        string    `json:"status"`
	Owner         string    `json:"owner"`
	CustomerID    string    `json:"customerId"`
	Amount        float64   `json:"amount"`
	MatchedAmount float64   `json:"matchedAmount"`
	DeductionDate time.Time `json:"deductionDate"`
}

func (d *Deduction) EntityID() string    { return d.ID }
func (d *Deduction) DisplayName() string { return displayName("", "", d.Number) }
func (d *Deduction) OwnerID() string     { return d.Owner }

func (d *Deduction) Fields() map[string]any {
	return map[string]any{
		"id":            d.ID,
		"status":        d.Status,
		"amount":        d.Amount,
		"matchedAmount": d.MatchedAmount,
	}
}

// TradeSpend is the projection of a trade spend line for a customer and period.
type TradeSpend struct {
	ID            string    `json:"id"`
	Code          string    `json:"code"`
	Status        string    `json:"status"`
	Owner         string    `json:"owner"`
	CustomerID    string    `json:"customerId"`
	Amount        float64   `json:"amount"`
	AccruedAmount float64   `json:"accruedAmount"`
	PeriodStart   time.Time `json:"periodStart"`
	PeriodEnd     time.Time `json:"periodEnd"`
}

func (t *TradeSpend) EntityID() string    { return t.ID }
func (t *TradeSpend) DisplayName() string { return displayName("", t.Code, "") }
func (t *TradeSpend) OwnerID() string     { return t.Owner }

func (t *TradeSpend) Fields() map[string]any {
	return map[string]any{
		"id":            t.ID,
		"status":        t.Status,
		"amount":        t.Amount,
		"accruedAmount": t.AccruedAmount,
	}
}

// KAMWallet is the projection of a key-account-manager spending wallet.
type KAMWallet struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Status          string    `json:"status"`
	Owner           string    `json:"owner"`
	AllocatedAmount float64   `json:"allocatedAmount"`
	UtilizedAmount  float64   `json:"utilizedAmount"`
	CommittedAmount float64   `json:"committedAmount"`
	ExpiryDate      time.Time `json:"expiryDate"`
}

func (w *KAMWallet) EntityID() string    { return w.ID }
func (w *KAMWallet) DisplayName() string { return displayName(w.Name, "", "") }
func (w *KAMWallet) OwnerID() string     { return w.Owner }

func (w *KAMWallet) Fields() map[string]any {
	return map[string]any{
		"id":              w.ID,
		"status":          w.Status,
		"allocatedAmount": w.AllocatedAmount,
		"utilizedAmount":  w.UtilizedAmount,
		"committedAmount": w.CommittedAmount,
	}
}

// LiveStatuses lists, per module, the entity statuses the scanner evaluates.
// Terminal and archived records are never scanned.
var LiveStatuses = map[string][]string{
	ModuleBudget:     {"active", "approved"},
	ModulePromotion:  {"draft", "approved", "active"},
	ModuleClaim:      {"pending", "submitted", "under_review"},
	ModuleDeduction:  {"open", "pending", "under_review"},
	ModuleTradeSpend: {"active", "pending", "approved"},
	ModuleKAMWallet:  {"active"},
}
