// Package scanner runs the rule catalog over live business entities, on a timer
// or on demand, and records what it finds as insights.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// ContextBuilder assembles the rule context for one entity.
type ContextBuilder interface {
	Build(ctx context.Context, module string, entity domain.Entity, asOf time.Time) (domain.RuleContext, error)
}

// Deps are the collaborators a Scanner needs. Notifier, Logger, Tracer and Now are optional.
type Deps struct {
	Entities  domain.EntityStore
	Insights  domain.InsightRepository
	Evaluator *rules.Evaluator
	Contexts  ContextBuilder
	Notifier  domain.Notifier
	Logger    *slog.Logger
	Tracer    trace.Tracer
	Now       func() time.Time
}

// ModuleReport counts what one module contributed to a pass.
type ModuleReport struct {
	Entities  int `json:"entities"`
	Created   int `json:"created"`
	Refreshed int `json:"refreshed"`
	Errors    int `json:"errors"`
}

// Report summarizes a full pass.
type Report struct {
	StartedAt  time.Time                `json:"startedAt"`
	FinishedAt time.Time                `json:"finishedAt"`
	Modules    map[string]*ModuleReport `json:"modules"`
	Entities   int                      `json:"entities"`
	Created    int                      `json:"created"`
	Refreshed  int                      `json:"refreshed"`
	Errors     int                      `json:"errors"`
}

// Status is a point-in-time view of the scanner.
type Status struct {
	Running  bool    `json:"running"`
	Scanning bool    `json:"scanning"`
	Interval string  `json:"interval"`
	LastScan *Report `json:"lastScan,omitempty"`
}

// Scanner evaluates entities against the catalog and upserts the resulting insights.
type Scanner struct {
	entities  domain.EntityStore
	insights  domain.InsightRepository
	evaluator *rules.Evaluator
	contexts  ContextBuilder
	notifier  domain.Notifier
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time

	cfg     domain.ScannerConfig
	sem     chan struct{}
	limiter *rate.Limiter

	scanning atomic.Bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	last    *Report
}

// New creates a scanner. Zero config values fall back to the defaults.
func New(deps Deps, cfg domain.ScannerConfig) *Scanner {
	def := domain.DefaultConfig().Scanner
	if cfg.IntervalSec <= 0 {
		cfg.IntervalSec = def.IntervalSec
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.EntityTimeoutSec <= 0 {
		cfg.EntityTimeoutSec = def.EntityTimeoutSec
	}
	if cfg.OnDemandTimeoutSec <= 0 {
		cfg.OnDemandTimeoutSec = def.OnDemandTimeoutSec
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/opensource-finance/kestrel/internal/scanner")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	s := &Scanner{
		entities:  deps.Entities,
		insights:  deps.Insights,
		evaluator: deps.Evaluator,
		contexts:  deps.Contexts,
		notifier:  deps.Notifier,
		logger:    logger.With("component", "scanner"),
		tracer:    tracer,
		now:       now,
		cfg:       cfg,
		sem:       make(chan struct{}, cfg.Workers),
	}
	if cfg.EntitiesPerSecond > 0 {
		burst := int(cfg.EntitiesPerSecond)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.EntitiesPerSecond), burst)
	}
	return s
}

// Start begins periodic scanning: one pass immediately, then one per interval.
// Calling Start on a running scanner does nothing.
func (s *Scanner) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Info("scanner already running")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.running = true
	s.cancel = cancel
	s.done = done

	go s.run(runCtx, done)
}

// Stop halts periodic scanning and waits for an in-flight pass to finish.
// Calling Stop on a stopped scanner does nothing.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.logger.Info("scanner not running")
		return
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	<-done
}

// Running reports whether periodic scanning is active.
func (s *Scanner) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns the scanner state and the last completed pass.
func (s *Scanner) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:  s.running,
		Scanning: s.scanning.Load(),
		Interval: s.cfg.Interval().String(),
		LastScan: s.last,
	}
}

func (s *Scanner) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		s.mu.Lock()
		if s.done == done {
			s.running = false
			s.cancel = nil
		}
		s.mu.Unlock()
	}()

	s.logger.Info("scanner started",
		"interval", s.cfg.Interval(),
		"batch_size", s.cfg.BatchSize,
		"workers", s.cfg.Workers,
	)

	s.tick(ctx)

	ticker := time.NewTicker(s.cfg.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scanner stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scanner) tick(ctx context.Context) {
	if _, err := s.Scan(ctx); err != nil {
		switch {
		case errors.Is(err, domain.ErrScanInProgress):
			s.logger.Debug("previous scan still running, skipping tick")
			return
		case errors.Is(err, context.Canceled):
			return
		}
		s.logger.Error("scan failed", "error", err)
	}
}

// Scan runs one full pass over every module. It returns ErrScanInProgress when a
// pass is already running. Per-entity failures are logged and counted, not returned.
func (s *Scanner) Scan(ctx context.Context) (*Report, error) {
	if !s.scanning.CompareAndSwap(false, true) {
		return nil, domain.ErrScanInProgress
	}
	defer s.scanning.Store(false)

	ctx, span := s.tracer.Start(ctx, "scanner.Scan")
	defer span.End()

	asOf := s.now()
	modules := s.evaluator.Catalog().Modules()
	report := &Report{
		StartedAt: asOf,
		Modules:   make(map[string]*ModuleReport, len(modules)),
	}
	for _, module := range modules {
		report.Modules[module] = &ModuleReport{}
	}

	var wg sync.WaitGroup
	for _, module := range modules {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.scanModule(ctx, module, asOf, report.Modules[module])
		}()
	}
	wg.Wait()

	for _, mr := range report.Modules {
		report.Entities += mr.Entities
		report.Created += mr.Created
		report.Refreshed += mr.Refreshed
		report.Errors += mr.Errors
	}
	report.FinishedAt = s.now()

	span.SetAttributes(
		attribute.Int("scanner.entities", report.Entities),
		attribute.Int("scanner.created", report.Created),
		attribute.Int("scanner.errors", report.Errors),
	)

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	s.logger.Info("scan complete",
		"entities", report.Entities,
		"created", report.Created,
		"refreshed", report.Refreshed,
		"errors", report.Errors,
		"duration_ms", report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	)
	return report, ctx.Err()
}

func (s *Scanner) scanModule(ctx context.Context, module string, asOf time.Time, mr *ModuleReport) {
	ctx, span := s.tracer.Start(ctx, "scanner.module", trace.WithAttributes(attribute.String("module", module)))
	defer span.End()

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.EntityTimeout())
	entities, err := s.entities.FindLiveEntities(fetchCtx, module, s.cfg.BatchSize)
	cancel()
	if err != nil {
		msg := "failed to load entities"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "entity fetch timed out"
		}
		s.logger.Error(msg, "module", module, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "load entities")
		mr.Errors++
		return
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, entity := range entities {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				break
			}
		}
		if !s.acquire(ctx) {
			break
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-s.sem }()

			ectx, cancel := context.WithTimeout(ctx, s.cfg.EntityTimeout())
			defer cancel()

			_, res, err := s.scanOne(ectx, module, entity, asOf)
			if err != nil {
				s.logger.Warn("entity scan failed",
					"module", module,
					"entity_id", entity.EntityID(),
					"error", err,
				)
			}

			mu.Lock()
			mr.Entities++
			mr.Created += res.created
			mr.Refreshed += res.refreshed
			if err != nil {
				mr.Errors++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	span.SetAttributes(attribute.Int("scanner.entities", mr.Entities))
}

func (s *Scanner) acquire(ctx context.Context) bool {
	select {
	case s.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

// ScanEntity evaluates one entity immediately and returns the insights it produced.
// It is bounded by the on-demand timeout and does not wait for a running pass.
func (s *Scanner) ScanEntity(ctx context.Context, module, id string) ([]*domain.Insight, error) {
	if !s.evaluator.Catalog().HasModule(module) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownModule, module)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OnDemandTimeout())
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "scanner.ScanEntity", trace.WithAttributes(
		attribute.String("module", module),
		attribute.String("entity_id", id),
	))
	defer span.End()

	entity, err := s.entities.FindEntityByID(ctx, module, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup")
		return nil, err
	}

	if f, ok := s.contexts.(forgetter); ok {
		f.Forget(ctx, entity)
	}

	insights, res, err := s.scanOne(ctx, module, entity, s.now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan")
		return insights, err
	}

	s.logger.Info("on-demand scan complete",
		"module", module,
		"entity_id", id,
		"created", res.created,
		"refreshed", res.refreshed,
	)
	return insights, nil
}

// forgetter is implemented by context builders that cache per-entity statistics.
type forgetter interface {
	Forget(ctx context.Context, entity domain.Entity)
}

type result struct {
	created   int
	refreshed int
}

// scanOne builds the context, evaluates every rule of module, and upserts each payload.
// Upsert failures for one payload do not stop the others.
func (s *Scanner) scanOne(ctx context.Context, module string, entity domain.Entity, asOf time.Time) ([]*domain.Insight, result, error) {
	var res result

	rc := domain.NewRuleContext(asOf)
	if s.contexts != nil {
		built, err := s.contexts.Build(ctx, module, entity, asOf)
		if err != nil {
			s.logger.Warn("partial rule context",
				"module", module,
				"entity_id", entity.EntityID(),
				"error", err,
			)
		}
		rc = built
	}

	payloads := s.evaluator.Evaluate(module, entity, rc)

	var insights []*domain.Insight
	var errs []error
	for i := range payloads {
		insight, created, err := s.insights.UpsertInsight(ctx, &payloads[i], asOf)
		if err != nil {
			errs = append(errs, fmt.Errorf("upsert %s: %w", payloads[i].Fingerprint, err))
			continue
		}
		insights = append(insights, insight)

		if !created {
			res.refreshed++
			continue
		}
		res.created++
		s.notify(ctx, insight)
	}

	return insights, res, errors.Join(errs...)
}

func (s *Scanner) notify(ctx context.Context, insight *domain.Insight) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.InsightCreated(ctx, insight); err != nil {
		s.logger.Warn("failed to notify",
			"insight_id", insight.ID,
			"fingerprint", insight.Fingerprint,
			"error", err,
		)
	}
}
