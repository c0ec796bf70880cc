package scanner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rulectx"
	"github.com/opensource-finance/kestrel/internal/rules"
)

var asOf = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingNotifier struct {
	mu       sync.Mutex
	insights []*domain.Insight
}

func (r *recordingNotifier) InsightCreated(_ context.Context, insight *domain.Insight) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insights = append(r.insights, insight)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.insights)
}

type fixture struct {
	repo     *repository.SQLRepository
	notifier *recordingNotifier
	scanner  *Scanner
}

func newFixture(t *testing.T, catalog *rules.Catalog, entities domain.EntityStore) *fixture {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "scanner-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	if catalog == nil {
		catalog = rules.DefaultCatalog()
	}
	if entities == nil {
		entities = repo
	}

	logger := discardLogger()
	notifier := &recordingNotifier{}
	s := New(Deps{
		Entities:  entities,
		Insights:  repo,
		Evaluator: rules.NewEvaluator(catalog, logger),
		Contexts:  rulectx.NewBuilder(repo, nil, 0, logger),
		Notifier:  notifier,
		Logger:    logger,
		Now:       func() time.Time { return asOf },
	}, domain.ScannerConfig{IntervalSec: 3600, Workers: 4})

	return &fixture{repo: repo, notifier: notifier, scanner: s}
}

func saveB1(t *testing.T, repo *repository.SQLRepository) {
	t.Helper()
	err := repo.SaveBudget(context.Background(), &domain.Budget{
		ID:          "B1",
		Name:        "Q2 Trade",
		Status:      "active",
		Owner:       "u1",
		TotalAmount: 100000,
		SpentAmount: 120000,
	})
	if err != nil {
		t.Fatalf("SaveBudget failed: %v", err)
	}
}

func budgetInsights(t *testing.T, repo *repository.SQLRepository) []*domain.Insight {
	t.Helper()
	page, err := repo.ListInsights(context.Background(), domain.InsightFilter{Module: domain.ModuleBudget})
	if err != nil {
		t.Fatalf("ListInsights failed: %v", err)
	}
	return page.Insights
}

func TestScanCreatesInsight(t *testing.T) {
	f := newFixture(t, nil, nil)
	saveB1(t, f.repo)

	report, err := f.scanner.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if report.Created != 1 || report.Entities != 1 || report.Errors != 0 {
		t.Errorf("unexpected report %+v", report)
	}
	if report.Modules[domain.ModuleBudget].Created != 1 {
		t.Errorf("expected budget module to create 1, got %+v", report.Modules[domain.ModuleBudget])
	}

	insights := budgetInsights(t, f.repo)
	if len(insights) != 1 {
		t.Fatalf("expected 1 insight, got %d", len(insights))
	}
	ins := insights[0]
	if ins.Fingerprint != "budget-budgetOverspend-B1" {
		t.Errorf("unexpected fingerprint %s", ins.Fingerprint)
	}
	if ins.Variance != 20.00 || ins.Severity != domain.SeverityCritical {
		t.Errorf("expected 20.00 critical, got %.2f %s", ins.Variance, ins.Severity)
	}
	if ins.Status != domain.StatusNew || ins.OccurrenceCount != 1 {
		t.Errorf("expected new with count 1, got %s %d", ins.Status, ins.OccurrenceCount)
	}
	if ins.Owner != "u1" || ins.EntityName != "Q2 Trade" {
		t.Errorf("unexpected owner/name %s %s", ins.Owner, ins.EntityName)
	}
	if !ins.FirstSeenAt.Equal(asOf) {
		t.Errorf("expected first seen at scan time, got %v", ins.FirstSeenAt)
	}
	if f.notifier.count() != 1 {
		t.Errorf("expected 1 notification, got %d", f.notifier.count())
	}

	status := f.scanner.Status()
	if status.LastScan != report || status.Scanning {
		t.Errorf("unexpected status %+v", status)
	}
}

func TestRescanRefreshesInsight(t *testing.T) {
	f := newFixture(t, nil, nil)
	saveB1(t, f.repo)
	ctx := context.Background()

	if _, err := f.scanner.Scan(ctx); err != nil {
		t.Fatalf("first Scan failed: %v", err)
	}
	report, err := f.scanner.Scan(ctx)
	if err != nil {
		t.Fatalf("second Scan failed: %v", err)
	}
	if report.Created != 0 || report.Refreshed != 1 {
		t.Errorf("expected a refresh, got %+v", report)
	}

	insights := budgetInsights(t, f.repo)
	if len(insights) != 1 {
		t.Fatalf("expected 1 insight after rescan, got %d", len(insights))
	}
	if insights[0].OccurrenceCount != 2 {
		t.Errorf("expected occurrence count 2, got %d", insights[0].OccurrenceCount)
	}
	if f.notifier.count() != 1 {
		t.Errorf("refresh must not notify, got %d notifications", f.notifier.count())
	}
}

func TestScanAfterResolveCreatesNewInsight(t *testing.T) {
	f := newFixture(t, nil, nil)
	saveB1(t, f.repo)
	ctx := context.Background()

	f.scanner.Scan(ctx)
	first := budgetInsights(t, f.repo)[0]
	if _, err := f.repo.Resolve(ctx, first.ID, "u1", "topped up"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	report, _ := f.scanner.Scan(ctx)
	if report.Created != 1 {
		t.Fatalf("expected a new insight after resolve, got %+v", report)
	}

	insights := budgetInsights(t, f.repo)
	if len(insights) != 2 {
		t.Fatalf("expected 2 insights, got %d", len(insights))
	}
	resolved, err := f.repo.GetInsight(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetInsight failed: %v", err)
	}
	if resolved.Status != domain.StatusResolved || resolved.OccurrenceCount != 1 {
		t.Errorf("resolved insight must not change, got %s %d", resolved.Status, resolved.OccurrenceCount)
	}
}

// blockingStore holds FindLiveEntities until released.
type blockingStore struct {
	domain.EntityStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingStore) FindLiveEntities(ctx context.Context, module string, limit int) ([]domain.Entity, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.EntityStore.FindLiveEntities(ctx, module, limit)
}

func TestConcurrentScanIsRejected(t *testing.T) {
	store := &blockingStore{entered: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, nil, store)
	store.EntityStore = f.repo
	saveB1(t, f.repo)
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() {
		_, err := f.scanner.Scan(ctx)
		errCh <- err
	}()

	select {
	case <-store.entered:
	case <-time.After(time.Second):
		t.Fatal("first scan never started")
	}

	if _, err := f.scanner.Scan(ctx); !errors.Is(err, domain.ErrScanInProgress) {
		t.Errorf("expected ErrScanInProgress, got %v", err)
	}
	if !f.scanner.Status().Scanning {
		t.Error("status should report a scan in flight")
	}

	close(store.release)
	if err := <-errCh; err != nil {
		t.Fatalf("first scan failed: %v", err)
	}
	if len(budgetInsights(t, f.repo)) != 1 {
		t.Error("expected exactly one insight")
	}

	if _, err := f.scanner.Scan(ctx); err != nil {
		t.Errorf("scan after completion should run, got %v", err)
	}
}

func TestFailingRuleDoesNotStopOthers(t *testing.T) {
	catalog := rules.NewCatalog()
	catalog.MustRegister(
		&domain.Rule{
			ID: "explodes", Module: domain.ModuleBudget, Severity: domain.SeverityWarning,
			Condition: func(domain.Entity, domain.RuleContext) (bool, error) { panic("boom") },
			Generate:  func(domain.Entity, domain.RuleContext) domain.InsightPayload { return domain.InsightPayload{} },
		},
		&domain.Rule{
			ID: "alwaysFires", Name: "Always fires", Module: domain.ModuleBudget, Severity: domain.SeverityInfo,
			Condition: func(domain.Entity, domain.RuleContext) (bool, error) { return true, nil },
			Generate: func(domain.Entity, domain.RuleContext) domain.InsightPayload {
				return domain.InsightPayload{Description: "fired"}
			},
		},
	)

	f := newFixture(t, catalog, nil)
	saveB1(t, f.repo)

	report, err := f.scanner.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if report.Created != 1 {
		t.Fatalf("expected the healthy rule to fire, got %+v", report)
	}
	if got := budgetInsights(t, f.repo)[0].RuleID; got != "alwaysFires" {
		t.Errorf("expected alwaysFires, got %s", got)
	}
}

func TestScanManyEntitiesWithRateLimit(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	for _, id := range []string{"B1", "B2", "B3", "B4", "B5"} {
		f.repo.SaveBudget(ctx, &domain.Budget{ID: id, Status: "active", TotalAmount: 100, SpentAmount: 150})
	}

	logger := discardLogger()
	s := New(Deps{
		Entities:  f.repo,
		Insights:  f.repo,
		Evaluator: rules.NewEvaluator(rules.DefaultCatalog(), logger),
		Logger:    logger,
		Now:       func() time.Time { return asOf },
	}, domain.ScannerConfig{Workers: 2, EntitiesPerSecond: 1000})

	report, err := s.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if report.Modules[domain.ModuleBudget].Entities != 5 || report.Created != 5 {
		t.Errorf("unexpected report %+v", report.Modules[domain.ModuleBudget])
	}
}

func TestScanEntity(t *testing.T) {
	f := newFixture(t, nil, nil)
	saveB1(t, f.repo)
	ctx := context.Background()

	t.Run("Found", func(t *testing.T) {
		insights, err := f.scanner.ScanEntity(ctx, domain.ModuleBudget, "B1")
		if err != nil {
			t.Fatalf("ScanEntity failed: %v", err)
		}
		if len(insights) != 1 || insights[0].RuleID != "budgetOverspend" {
			t.Errorf("unexpected insights %+v", insights)
		}
		if f.notifier.count() != 1 {
			t.Errorf("expected notification for a new insight, got %d", f.notifier.count())
		}
	})

	t.Run("Rescan", func(t *testing.T) {
		insights, _ := f.scanner.ScanEntity(ctx, domain.ModuleBudget, "B1")
		if len(insights) != 1 || insights[0].OccurrenceCount != 2 {
			t.Errorf("expected refreshed insight, got %+v", insights)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := f.scanner.ScanEntity(ctx, domain.ModuleBudget, "missing")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("UnknownModule", func(t *testing.T) {
		_, err := f.scanner.ScanEntity(ctx, "invoices", "B1")
		if !errors.Is(err, domain.ErrUnknownModule) {
			t.Errorf("expected ErrUnknownModule, got %v", err)
		}
	})

	t.Run("NoFindings", func(t *testing.T) {
		f.repo.SaveBudget(ctx, &domain.Budget{ID: "OK", Status: "active", TotalAmount: 100, SpentAmount: 10})
		insights, err := f.scanner.ScanEntity(ctx, domain.ModuleBudget, "OK")
		if err != nil || len(insights) != 0 {
			t.Errorf("expected no insights, got %d (%v)", len(insights), err)
		}
	})
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, nil, nil)
	saveB1(t, f.repo)
	ctx := context.Background()

	f.scanner.Stop()
	if f.scanner.Running() {
		t.Fatal("scanner should not be running before Start")
	}

	f.scanner.Start(ctx)
	f.scanner.Start(ctx)
	if !f.scanner.Running() {
		t.Fatal("scanner should be running after Start")
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.scanner.Status().LastScan == nil {
		if time.Now().After(deadline) {
			t.Fatal("initial scan did not run")
		}
		time.Sleep(10 * time.Millisecond)
	}

	f.scanner.Stop()
	f.scanner.Stop()
	if f.scanner.Running() {
		t.Error("scanner should be stopped")
	}
	if len(budgetInsights(t, f.repo)) != 1 {
		t.Error("expected the initial scan to create one insight")
	}

	f.scanner.Start(ctx)
	if !f.scanner.Running() {
		t.Error("scanner should restart")
	}
	f.scanner.Stop()
}

func TestStartStopsWithContext(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	f.scanner.Start(ctx)
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for f.scanner.Running() {
		if time.Now().After(deadline) {
			t.Fatal("scanner did not stop when its context was cancelled")
		}
		time.Sleep(10 * time.Millisecond)
	}
	f.scanner.Stop()
}

type forgettingBuilder struct {
	ContextBuilder
	mu     sync.Mutex
	forgot []string
}

func (b *forgettingBuilder) Forget(_ context.Context, entity domain.Entity) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forgot = append(b.forgot, entity.EntityID())
}

func TestOnDemandScanForgetsCachedStats(t *testing.T) {
	f := newFixture(t, nil, nil)
	saveB1(t, f.repo)

	builder := &forgettingBuilder{ContextBuilder: f.scanner.contexts}
	f.scanner.contexts = builder

	if _, err := f.scanner.Scan(context.Background()); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(builder.forgot) != 0 {
		t.Errorf("full scans must reuse cached stats, forgot %v", builder.forgot)
	}

	if _, err := f.scanner.ScanEntity(context.Background(), domain.ModuleBudget, "B1"); err != nil {
		t.Fatalf("ScanEntity failed: %v", err)
	}
	if len(builder.forgot) != 1 || builder.forgot[0] != "B1" {
		t.Errorf("expected B1 to be forgotten once, got %v", builder.forgot)
	}
}

// moduleStore fails or hangs FindLiveEntities for one module and delegates the rest.
type moduleStore struct {
	domain.EntityStore
	module string
	err    error
}

func (m *moduleStore) FindLiveEntities(ctx context.Context, module string, limit int) ([]domain.Entity, error) {
	if module != m.module {
		return m.EntityStore.FindLiveEntities(ctx, module, limit)
	}
	if m.err != nil {
		return nil, m.err
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestStuckFetchDoesNotStallPass(t *testing.T) {
	store := &moduleStore{module: domain.ModulePromotion}
	f := newFixture(t, nil, store)
	store.EntityStore = f.repo
	f.scanner.cfg.EntityTimeoutSec = 1
	saveB1(t, f.repo)
	ctx := context.Background()

	type outcome struct {
		report *Report
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		report, err := f.scanner.Scan(ctx)
		done <- outcome{report, err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pass still running after the fetch deadline")
	}
	if out.err != nil {
		t.Fatalf("Scan failed: %v", out.err)
	}
	if got := out.report.Modules[domain.ModulePromotion].Errors; got != 1 {
		t.Errorf("expected the stuck fetch to count as one error, got %d", got)
	}
	if got := out.report.Modules[domain.ModuleBudget].Created; got != 1 {
		t.Errorf("expected budget insight despite the stuck module, got %d", got)
	}
	if len(budgetInsights(t, f.repo)) != 1 {
		t.Error("expected exactly one budget insight")
	}

	if _, err := f.scanner.Scan(ctx); errors.Is(err, domain.ErrScanInProgress) {
		t.Error("next pass must not be blocked by the stuck fetch")
	}
}

func TestModuleFetchFailureIsIsolated(t *testing.T) {
	catalog := rules.NewCatalog()
	catalog.MustRegister(rules.BuiltinRules()...)
	catalog.MustRegister(
		&domain.Rule{
			ID: "claimExplodes", Module: domain.ModuleClaim, Severity: domain.SeverityWarning,
			Condition: func(domain.Entity, domain.RuleContext) (bool, error) { panic("boom") },
			Generate:  func(domain.Entity, domain.RuleContext) domain.InsightPayload { return domain.InsightPayload{} },
		},
		&domain.Rule{
			ID: "claimAlwaysFires", Name: "Claim always fires", Module: domain.ModuleClaim, Severity: domain.SeverityInfo,
			Condition: func(domain.Entity, domain.RuleContext) (bool, error) { return true, nil },
			Generate: func(domain.Entity, domain.RuleContext) domain.InsightPayload {
				return domain.InsightPayload{Description: "fired"}
			},
		},
	)

	store := &moduleStore{module: domain.ModuleDeduction, err: errors.New("deductions table locked")}
	f := newFixture(t, catalog, store)
	store.EntityStore = f.repo
	saveB1(t, f.repo)
	ctx := context.Background()
	if err := f.repo.SaveClaim(ctx, &domain.Claim{
		ID: "C1", Number: "CLM-1", Status: "pending", CustomerID: "CU1",
		Amount: 10, DocumentCount: 2, SubmittedAt: asOf.AddDate(0, 0, -1),
	}); err != nil {
		t.Fatalf("SaveClaim failed: %v", err)
	}

	report, err := f.scanner.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	t.Run("FetchErrorCounted", func(t *testing.T) {
		if got := report.Modules[domain.ModuleDeduction].Errors; got != 1 {
			t.Errorf("expected one deduction error, got %d", got)
		}
		if report.Errors != 1 {
			t.Errorf("expected one error in total, got %d", report.Errors)
		}
	})

	t.Run("OtherModulesStillScanned", func(t *testing.T) {
		if got := report.Modules[domain.ModuleBudget].Created; got != 1 {
			t.Errorf("expected one budget insight, got %d", got)
		}
		page, err := f.repo.ListInsights(ctx, domain.InsightFilter{Module: domain.ModuleClaim})
		if err != nil {
			t.Fatalf("ListInsights failed: %v", err)
		}
		var fired bool
		for _, in := range page.Insights {
			if in.RuleID == "claimExplodes" {
				t.Error("panicking rule must not produce an insight")
			}
			fired = fired || in.RuleID == "claimAlwaysFires"
		}
		if !fired {
			t.Errorf("expected claimAlwaysFires next to the panicking rule, got %+v", page.Insights)
		}
	})
}

// stallingInsights blocks UpsertInsight for one entity until its context ends.
type stallingInsights struct {
	domain.InsightRepository
	entityID string
}

func (s *stallingInsights) UpsertInsight(ctx context.Context, payload *domain.InsightPayload, seenAt time.Time) (*domain.Insight, bool, error) {
	if payload.EntityID == s.entityID {
		<-ctx.Done()
		return nil, false, ctx.Err()
	}
	return s.InsightRepository.UpsertInsight(ctx, payload, seenAt)
}

func TestEntityTimeoutBoundsSlowEntity(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.scanner.insights = &stallingInsights{InsightRepository: f.repo, entityID: "B1"}
	f.scanner.cfg.EntityTimeoutSec = 1
	saveB1(t, f.repo)
	ctx := context.Background()
	if err := f.repo.SaveBudget(ctx, &domain.Budget{ID: "B2", Status: "active", Owner: "u2", TotalAmount: 100, SpentAmount: 150}); err != nil {
		t.Fatalf("SaveBudget failed: %v", err)
	}

	start := time.Now()
	report, err := f.scanner.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("slow entity held the pass for %v", elapsed)
	}

	mr := report.Modules[domain.ModuleBudget]
	if mr.Entities != 2 || mr.Errors != 1 || mr.Created != 1 {
		t.Errorf("unexpected budget report %+v", mr)
	}
	insights := budgetInsights(t, f.repo)
	if len(insights) != 1 || insights[0].EntityID != "B2" {
		t.Errorf("expected only the B2 insight, got %+v", insights)
	}
}

// failingBuilder returns an empty context and an error, as when statistics are unavailable.
type failingBuilder struct{}

func (failingBuilder) Build(_ context.Context, _ string, _ domain.Entity, asOf time.Time) (domain.RuleContext, error) {
	return domain.NewRuleContext(asOf), errors.New("stats unavailable")
}

func TestDegradedContextStillFires(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.scanner.contexts = failingBuilder{}
	saveB1(t, f.repo)

	report, err := f.scanner.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if report.Created != 1 || report.Errors != 0 {
		t.Errorf("expected the overspend insight without errors, got %+v", report)
	}
	insights := budgetInsights(t, f.repo)
	if len(insights) != 1 || insights[0].RuleID != "budgetOverspend" {
		t.Errorf("unexpected insights %+v", insights)
	}
	if f.notifier.count() != 1 {
		t.Errorf("expected one notification, got %d", f.notifier.count())
	}
}
