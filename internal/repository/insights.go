package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const insightColumns = `
	id, fingerprint, module, entity_type, entity_id, entity_name, rule_id,
	title, description, severity, category, actual_value, expected_value, variance,
	recommended_actions, owner, assigned_to, status, resolved_at, resolved_by,
	resolution_notes, first_seen_at, last_seen_at, occurrence_count, tags, metadata,
	ml_score, llm_summary, created_by, updated_by, created_at, updated_at`

// UpsertInsight refreshes the open insight for payload.Fingerprint, or creates one.
// The statement relies on the partial unique index over open fingerprints, so
// concurrent scans of the same fingerprint collapse into one record.
func (r *SQLRepository) UpsertInsight(ctx context.Context, p *domain.InsightPayload, seenAt time.Time) (*domain.Insight, bool, error) {
	if p == nil || p.Fingerprint == "" {
		return nil, false, fmt.Errorf("%w: payload with fingerprint is required", domain.ErrInvalidInput)
	}
	if !p.Severity.Valid() {
		return nil, false, fmt.Errorf("%w: invalid severity %q", domain.ErrInvalidInput, p.Severity)
	}

	actions := p.RecommendedActions
	if actions == nil {
		actions = []domain.RecommendedAction{}
	}
	actionsJSON, err := json.Marshal(actions)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode recommended actions: %w", err)
	}

	if seenAt.IsZero() {
		seenAt = r.now()
	}
	seenAt = seenAt.UTC()
	id := uuid.NewString()

	query := `
		INSERT INTO insights (
			id, fingerprint, module, entity_type, entity_id, entity_name, rule_id,
			title, description, severity, category, actual_value, expected_value, variance,
			recommended_actions, owner, status, first_seen_at, last_seen_at, occurrence_count,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (fingerprint) WHERE status IN (` + openStatusSQL + `)
		DO UPDATE SET
			occurrence_count = insights.occurrence_count + 1,
			last_seen_at = excluded.last_seen_at,
			actual_value = excluded.actual_value,
			variance = excluded.variance,
			updated_at = excluded.updated_at
		RETURNING id
	`

	var gotID string
	err = r.db.QueryRowContext(ctx, r.rebind(query),
		id, p.Fingerprint, p.Module, p.EntityType, p.EntityID, p.EntityName, p.RuleID,
		p.Title, p.Description, string(p.Severity), string(p.Category),
		p.ActualValue, p.ExpectedValue, p.Variance,
		string(actionsJSON), p.Owner, string(domain.StatusNew), seenAt, seenAt,
		seenAt, seenAt,
	).Scan(&gotID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert insight %s: %w", p.Fingerprint, err)
	}

	insight, err := r.GetInsight(ctx, gotID)
	if err != nil {
		return nil, false, err
	}
	return insight, gotID == id, nil
}

// GetInsight retrieves an insight by ID.
func (r *SQLRepository) GetInsight(ctx context.Context, id string) (*domain.Insight, error) {
	query := `SELECT ` + insightColumns + ` FROM insights WHERE id = ?`

	insight, err := scanInsight(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("insight %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return insight, nil
}

// ListInsights returns one page of insights matching filter, most recently seen first.
func (r *SQLRepository) ListInsights(ctx context.Context, filter domain.InsightFilter) (*domain.InsightPage, error) {
	filter = filter.Normalize()

	var where []string
	var args []any
	add := func(column, value string) {
		if value != "" {
			where = append(where, column+" = ?")
			args = append(args, value)
		}
	}
	add("module", filter.Module)
	add("severity", string(filter.Severity))
	add("status", string(filter.Status))
	add("owner", filter.Owner)
	add("assigned_to", filter.AssignedTo)
	add("entity_id", filter.EntityID)

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	page := &domain.InsightPage{
		Insights: []*domain.Insight{},
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	}

	if err := r.db.QueryRowContext(ctx, r.rebind(`SELECT COUNT(*) FROM insights`+clause), args...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("failed to count insights: %w", err)
	}

	query := `SELECT ` + insightColumns + ` FROM insights` + clause +
		` ORDER BY last_seen_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	insights, err := r.queryInsights(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	page.Insights = insights
	return page, nil
}

// SummarizeInsights counts insights grouped by severity and status.
func (r *SQLRepository) SummarizeInsights(ctx context.Context) (*domain.InsightSummary, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT severity, status, COUNT(*) FROM insights GROUP BY severity, status`)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize insights: %w", err)
	}
	defer rows.Close()

	summary := &domain.InsightSummary{Counts: make(map[domain.Severity]map[domain.Status]int)}
	for rows.Next() {
		var sev, status string
		var n int
		if err := rows.Scan(&sev, &status, &n); err != nil {
			return nil, err
		}
		summary.Add(domain.Severity(sev), domain.Status(status), n)
	}
	return summary, rows.Err()
}

// TopInsights returns open insights for module ordered by severity, then recency.
// An empty module spans all modules.
func (r *SQLRepository) TopInsights(ctx context.Context, module string, limit int) ([]*domain.Insight, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > domain.MaxPageSize {
		limit = domain.MaxPageSize
	}

	var args []any
	query := `SELECT ` + insightColumns + ` FROM insights WHERE status IN (` + openStatusSQL + `)`
	if module != "" {
		query += ` AND module = ?`
		args = append(args, module)
	}
	query += `
		ORDER BY CASE severity WHEN 'critical' THEN 3 WHEN 'warning' THEN 2 WHEN 'info' THEN 1 ELSE 0 END DESC,
			last_seen_at DESC, id
		LIMIT ?`
	args = append(args, limit)

	return r.queryInsights(ctx, query, args...)
}

// Acknowledge moves an open insight to acknowledged.
func (r *SQLRepository) Acknowledge(ctx context.Context, id, actor string) (*domain.Insight, error) {
	return r.transition(ctx, id, actor, domain.StatusAcknowledged, r.now().UTC())
}

// Assign moves an open insight to in_progress and records the assignee.
func (r *SQLRepository) Assign(ctx context.Context, id, actor, assignee string) (*domain.Insight, error) {
	if assignee == "" {
		return nil, fmt.Errorf("%w: assignee is required", domain.ErrInvalidInput)
	}
	return r.transition(ctx, id, actor, domain.StatusInProgress, r.now().UTC(),
		change{"assigned_to", assignee})
}

// Resolve closes an open insight as resolved.
func (r *SQLRepository) Resolve(ctx context.Context, id, actor, notes string) (*domain.Insight, error) {
	now := r.now().UTC()
	return r.transition(ctx, id, actor, domain.StatusResolved, now,
		change{"resolved_at", now},
		change{"resolved_by", actor},
		change{"resolution_notes", notes},
	)
}

// Dismiss closes an open insight as dismissed.
func (r *SQLRepository) Dismiss(ctx context.Context, id, actor, notes string) (*domain.Insight, error) {
	now := r.now().UTC()
	return r.transition(ctx, id, actor, domain.StatusDismissed, now,
		change{"resolved_at", now},
		change{"resolved_by", actor},
		change{"resolution_notes", notes},
	)
}

type change struct {
	column string
	value  any
}

// transition applies a status change in one conditional UPDATE guarded by the
// legal source statuses. Terminal rows never match, so they stay untouched.
func (r *SQLRepository) transition(ctx context.Context, id, actor string, target domain.Status, now time.Time, extra ...change) (*domain.Insight, error) {
	if id == "" || actor == "" {
		return nil, fmt.Errorf("%w: insight id and actor are required", domain.ErrInvalidInput)
	}

	sources := domain.TransitionSources(target)
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no transition into %s", domain.ErrInvalidTransition, target)
	}

	sets := []string{"status = ?", "updated_by = ?", "updated_at = ?"}
	args := []any{string(target), actor, now}
	for _, c := range extra {
		sets = append(sets, c.column+" = ?")
		args = append(args, c.value)
	}
	args = append(args, id)
	args = append(args, stringArgs(sources)...)

	query := fmt.Sprintf(`UPDATE insights SET %s WHERE id = ? AND status IN (%s)`,
		strings.Join(sets, ", "), inList(len(sources)))

	result, err := r.db.ExecContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update insight %s: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		current, err := r.GetInsight(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, target)
	}

	return r.GetInsight(ctx, id)
}

// queryInsights reads every row before returning so no statement stays open
// while the caller issues further queries.
func (r *SQLRepository) queryInsights(ctx context.Context, query string, args ...any) ([]*domain.Insight, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query insights: %w", err)
	}
	defer rows.Close()

	insights := []*domain.Insight{}
	for rows.Next() {
		insight, err := scanInsight(rows)
		if err != nil {
			return nil, err
		}
		insights = append(insights, insight)
	}
	return insights, rows.Err()
}

func scanInsight(row rowScanner) (*domain.Insight, error) {
	var (
		in                         domain.Insight
		severity, category, status string
		actions, tags, metadata    string
		resolvedAt                 sql.NullTime
		mlScore                    sql.NullFloat64
	)

	err := row.Scan(
		&in.ID, &in.Fingerprint, &in.Module, &in.EntityType, &in.EntityID, &in.EntityName, &in.RuleID,
		&in.Title, &in.Description, &severity, &category, &in.ActualValue, &in.ExpectedValue, &in.Variance,
		&actions, &in.Owner, &in.AssignedTo, &status, &resolvedAt, &in.ResolvedBy,
		&in.ResolutionNotes, &in.FirstSeenAt, &in.LastSeenAt, &in.OccurrenceCount, &tags, &metadata,
		&mlScore, &in.LLMSummary, &in.CreatedBy, &in.UpdatedBy, &in.CreatedAt, &in.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	in.Severity = domain.Severity(severity)
	in.Category = domain.Category(category)
	in.Status = domain.Status(status)
	in.FirstSeenAt = in.FirstSeenAt.UTC()
	in.LastSeenAt = in.LastSeenAt.UTC()
	in.CreatedAt = in.CreatedAt.UTC()
	in.UpdatedAt = in.UpdatedAt.UTC()

	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		in.ResolvedAt = &t
	}
	if mlScore.Valid {
		v := mlScore.Float64
		in.MLScore = &v
	}

	// Malformed JSON columns degrade to empty values rather than failing the read.
	if actions != "" {
		_ = json.Unmarshal([]byte(actions), &in.RecommendedActions)
	}
	if tags != "" {
		_ = json.Unmarshal([]byte(tags), &in.Tags)
	}
	if metadata != "" {
		_ = json.Unmarshal([]byte(metadata), &in.Metadata)
	}

	return &in, nil
}
