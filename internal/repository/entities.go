package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// entityTable describes how one module's entities are stored.
type entityTable struct {
	table   string
	columns string
	scan    func(rowScanner) (domain.Entity, error)
}

var entityTables = map[string]entityTable{
	domain.ModuleBudget: {
		table:   "budgets",
		columns: "id, name, code, status, owner, total_amount, spent_amount, start_date, end_date",
		scan: func(row rowScanner) (domain.Entity, error) {
			var b domain.Budget
			var start, end sql.NullTime
			if err := row.Scan(&b.ID, &b.Name, &b.Code, &b.Status, &b.Owner,
				&b.TotalAmount, &b.SpentAmount, &start, &end); err != nil {
				return nil, err
			}
			b.StartDate, b.EndDate = fromNullTime(start), fromNullTime(end)
			return &b, nil
		},
	},
	domain.ModulePromotion: {
		table: "promotions",
		columns: "id, name, code, status, owner, customer_id, product_id, budget_id, planned_spend, actual_spend, " +
			"planned_volume, actual_volume, incremental_revenue, start_date, end_date",
		scan: func(row rowScanner) (domain.Entity, error) {
			var p domain.Promotion
			var start, end sql.NullTime
			if err := row.Scan(&p.ID, &p.Name, &p.Code, &p.Status, &p.Owner, &p.CustomerID, &p.ProductID, &p.BudgetID,
				&p.PlannedSpend, &p.ActualSpend, &p.PlannedVolume, &p.ActualVolume, &p.IncrementalRevenue,
				&start, &end); err != nil {
				return nil, err
			}
			p.StartDate, p.EndDate = fromNullTime(start), fromNullTime(end)
			return &p, nil
		},
	},
	domain.ModuleClaim: {
		table:   "claims",
		columns: "id, number, status, owner, customer_id, promotion_id, amount, approved_amount, document_count, submitted_at",
		scan: func(row rowScanner) (domain.Entity, error) {
			var c domain.Claim
			var submitted sql.NullTime
			if err := row.Scan(&c.ID, &c.Number, &c.Status, &c.Owner, &c.CustomerID, &c.PromotionID,
				&c.Amount, &c.ApprovedAmount, &c.DocumentCount, &submitted); err != nil {
				return nil, err
			}
			c.SubmittedAt = fromNullTime(submitted)
			return &c, nil
		},
	},
	domain.ModuleDeduction: {
		table:   "deductions",
		columns: "id, number, status, owner, customer_id, amount, matched_amount, deduction_date",
		scan: func(row rowScanner) (domain.Entity, error) {
			var d domain.Deduction
			var date sql.NullTime
			if err := row.Scan(&d.ID, &d.Number, &d.Status, &d.Owner, &d.CustomerID,
				&d.Amount, &d.MatchedAmount, &date); err != nil {
				return nil, err
			}
			d.DeductionDate = fromNullTime(date)
			return &d, nil
		},
	},
	domain.ModuleTradeSpend: {
		table:   "trade_spends",
		columns: "id, code, status, owner, customer_id, amount, accrued_amount, period_start, period_end",
		scan: func(row rowScanner) (domain.Entity, error) {
			var t domain.TradeSpend
			var start, end sql.NullTime
			if err := row.Scan(&t.ID, &t.Code, &t.Status, &t.Owner, &t.CustomerID,
				&t.Amount, &t.AccruedAmount, &start, &end); err != nil {
				return nil, err
			}
			t.PeriodStart, t.PeriodEnd = fromNullTime(start), fromNullTime(end)
			return &t, nil
		},
	},
	domain.ModuleKAMWallet: {
		table:   "kam_wallets",
		columns: "id, name, status, owner, allocated_amount, utilized_amount, committed_amount, expiry_date",
		scan: func(row rowScanner) (domain.Entity, error) {
			var w domain.KAMWallet
			var expiry sql.NullTime
			if err := row.Scan(&w.ID, &w.Name, &w.Status, &w.Owner,
				&w.AllocatedAmount, &w.UtilizedAmount, &w.CommittedAmount, &expiry); err != nil {
				return nil, err
			}
			w.ExpiryDate = fromNullTime(expiry)
			return &w, nil
		},
	},
}

// FindLiveEntities returns at most limit entities of module whose status is live.
func (r *SQLRepository) FindLiveEntities(ctx context.Context, module string, limit int) ([]domain.Entity, error) {
	t, ok := entityTables[module]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownModule, module)
	}
	if limit <= 0 {
		limit = 100
	}

	live := domain.LiveStatuses[module]
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE status IN (%s) ORDER BY id LIMIT ?`,
		t.columns, t.table, inList(len(live)))
	args := append(stringArgs(live), limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", t.table, err)
	}
	defer rows.Close()

	var entities []domain.Entity
	for rows.Next() {
		e, err := t.scan(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// FindEntityByID returns one entity regardless of its status.
func (r *SQLRepository) FindEntityByID(ctx context.Context, module string, id string) (domain.Entity, error) {
	t, ok := entityTables[module]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownModule, module)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, t.columns, t.table)
	e, err := t.scan(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", module, id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// AverageBudgetUtilization returns mean spent/total over live budgets with a positive total.
func (r *SQLRepository) AverageBudgetUtilization(ctx context.Context) (float64, int, error) {
	live := domain.LiveStatuses[domain.ModuleBudget]
	query := fmt.Sprintf(`
		SELECT COUNT(*), COALESCE(AVG(spent_amount / total_amount), 0)
		FROM budgets
		WHERE total_amount > 0 AND status IN (%s)
	`, inList(len(live)))

	var n int
	var avg float64
	if err := r.db.QueryRowContext(ctx, r.rebind(query), stringArgs(live)...).Scan(&n, &avg); err != nil {
		return 0, 0, fmt.Errorf("failed to average budget utilization: %w", err)
	}
	return avg, n, nil
}

// CountOverlappingPromotions counts other live promotions for the same customer and
// product whose date range intersects p's.
func (r *SQLRepository) CountOverlappingPromotions(ctx context.Context, p *domain.Promotion) (int, error) {
	if p.CustomerID == "" || p.ProductID == "" || p.StartDate.IsZero() || p.EndDate.IsZero() {
		return 0, nil
	}

	live := domain.LiveStatuses[domain.ModulePromotion]
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM promotions
		WHERE id <> ? AND customer_id = ? AND product_id = ?
		AND start_date <= ? AND end_date >= ?
		AND status IN (%s)
	`, inList(len(live)))

	args := []any{p.ID, p.CustomerID, p.ProductID, p.EndDate.UTC(), p.StartDate.UTC()}
	args = append(args, stringArgs(live)...)

	var n int
	if err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count overlapping promotions: %w", err)
	}
	return n, nil
}

// invalidClaimStatuses mark claims that were rejected after review.
var invalidClaimStatuses = []string{"rejected", "invalid"}

// CustomerClaimStats summarizes every claim the customer has filed.
func (r *SQLRepository) CustomerClaimStats(ctx context.Context, customerID string) (domain.ClaimStats, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*), COALESCE(AVG(amount), 0),
			COALESCE(SUM(CASE WHEN status IN (%s) THEN 1 ELSE 0 END), 0)
		FROM claims WHERE customer_id = ?
	`, inList(len(invalidClaimStatuses)))

	args := append(stringArgs(invalidClaimStatuses), customerID)

	var s domain.ClaimStats
	var invalid int
	if err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(&s.Count, &s.AverageAmount, &invalid); err != nil {
		return domain.ClaimStats{}, fmt.Errorf("failed to compute claim stats: %w", err)
	}
	if s.Count > 0 {
		s.InvalidRate = float64(invalid) / float64(s.Count)
	}
	return s, nil
}

// CustomerDeductionStats summarizes every deduction the customer has taken.
func (r *SQLRepository) CustomerDeductionStats(ctx context.Context, customerID string) (domain.DeductionStats, error) {
	query := `SELECT COUNT(*), COALESCE(AVG(amount), 0) FROM deductions WHERE customer_id = ?`

	var s domain.DeductionStats
	if err := r.db.QueryRowContext(ctx, r.rebind(query), customerID).Scan(&s.Count, &s.AverageAmount); err != nil {
		return domain.DeductionStats{}, fmt.Errorf("failed to compute deduction stats: %w", err)
	}
	return s, nil
}

// NetSales sums the customer's sales in [from, to].
func (r *SQLRepository) NetSales(ctx context.Context, customerID string, from, to time.Time) (float64, bool, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(net_amount), 0) FROM sales
		WHERE customer_id = ? AND sale_date >= ? AND sale_date <= ?
	`

	var n int
	var total float64
	if err := r.db.QueryRowContext(ctx, r.rebind(query), customerID, from.UTC(), to.UTC()).Scan(&n, &total); err != nil {
		return 0, false, fmt.Errorf("failed to sum net sales: %w", err)
	}
	return total, n > 0, nil
}

// SaveBudget inserts or replaces a budget.
func (r *SQLRepository) SaveBudget(ctx context.Context, b *domain.Budget) error {
	return r.upsertRow(ctx, "budgets",
		[]string{"id", "name", "code", "status", "owner", "total_amount", "spent_amount", "start_date", "end_date"},
		b.ID, b.Name, b.Code, b.Status, b.Owner, b.TotalAmount, b.SpentAmount, nullTime(b.StartDate), nullTime(b.EndDate))
}

// SavePromotion inserts or replaces a promotion.
func (r *SQLRepository) SavePromotion(ctx context.Context, p *domain.Promotion) error {
	return r.upsertRow(ctx, "promotions",
		[]string{"id", "name", "code", "status", "owner", "customer_id", "product_id", "budget_id",
			"planned_spend", "actual_spend", "planned_volume", "actual_volume", "incremental_revenue",
			"start_date", "end_date"},
		p.ID, p.Name, p.Code, p.Status, p.Owner, p.CustomerID, p.ProductID, p.BudgetID,
		p.PlannedSpend, p.ActualSpend, p.PlannedVolume, p.ActualVolume, p.IncrementalRevenue,
		nullTime(p.StartDate), nullTime(p.EndDate))
}

// SaveClaim inserts or replaces a claim.
func (r *SQLRepository) SaveClaim(ctx context.Context, c *domain.Claim) error {
	return r.upsertRow(ctx, "claims",
		[]string{"id", "number", "status", "owner", "customer_id", "promotion_id",
			"amount", "approved_amount", "document_count", "submitted_at"},
		c.ID, c.Number, c.Status, c.Owner, c.CustomerID, c.PromotionID,
		c.Amount, c.ApprovedAmount, c.DocumentCount, nullTime(c.SubmittedAt))
}

// SaveDeduction inserts or replaces a deduction.
func (r *SQLRepository) SaveDeduction(ctx context.Context, d *domain.Deduction) error {
	return r.upsertRow(ctx, "deductions",
		[]string{"id", "number", "status", "owner", "customer_id", "amount", "matched_amount", "deduction_date"},
		d.ID, d.Number, d.Status, d.Owner, d.CustomerID, d.Amount, d.MatchedAmount, nullTime(d.DeductionDate))
}

// SaveTradeSpend inserts or replaces a trade spend line.
func (r *SQLRepository) SaveTradeSpend(ctx context.Context, t *domain.TradeSpend) error {
	return r.upsertRow(ctx, "trade_spends",
		[]string{"id", "code", "status", "owner", "customer_id", "amount", "accrued_amount", "period_start", "period_end"},
		t.ID, t.Code, t.Status, t.Owner, t.CustomerID, t.Amount, t.AccruedAmount,
		nullTime(t.PeriodStart), nullTime(t.PeriodEnd))
}

// SaveKAMWallet inserts or replaces a wallet.
func (r *SQLRepository) SaveKAMWallet(ctx context.Context, w *domain.KAMWallet) error {
	return r.upsertRow(ctx, "kam_wallets",
		[]string{"id", "name", "status", "owner", "allocated_amount", "utilized_amount", "committed_amount", "expiry_date"},
		w.ID, w.Name, w.Status, w.Owner, w.AllocatedAmount, w.UtilizedAmount, w.CommittedAmount, nullTime(w.ExpiryDate))
}

// SaveSale records a sales row used for net sales.
func (r *SQLRepository) SaveSale(ctx context.Context, id, customerID string, date time.Time, netAmount float64) error {
	return r.upsertRow(ctx, "sales",
		[]string{"id", "customer_id", "sale_date", "net_amount"},
		id, customerID, date.UTC(), netAmount)
}

// upsertRow writes one row keyed by its first column.
func (r *SQLRepository) upsertRow(ctx context.Context, table string, columns []string, values ...any) error {
	if len(values) != len(columns) {
		return fmt.Errorf("%w: %d values for %d columns", domain.ErrInvalidInput, len(values), len(columns))
	}
	if id, _ := values[0].(string); id == "" {
		return fmt.Errorf("%w: id is required", domain.ErrInvalidInput)
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s`,
		table, strings.Join(columns, ", "), inList(len(columns)), columns[0], excludedSet(columns[1:]))

	if _, err := r.db.ExecContext(ctx, r.rebind(query), values...); err != nil {
		return fmt.Errorf("failed to save %s row: %w", table, err)
	}
	return nil
}

func excludedSet(columns []string) string {
	sets := make([]string, len(columns))
	for i, c := range columns {
		sets[i] = c + " = excluded." + c
	}
	return strings.Join(sets, ", ")
}
