// Package notify delivers newly created insights to their owners.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// EventInsightCreated names the event in published payloads.
const EventInsightCreated = "insight_created"

func newEvent(insight *domain.Insight, now time.Time) domain.InsightEvent {
	return domain.InsightEvent{
		Event:       EventInsightCreated,
		Recipient:   insight.Owner,
		TriggeredAt: now.UTC(),
		Insight:     insight,
	}
}

// BusNotifier publishes created insights on the event bus, addressed to the owner.
type BusNotifier struct {
	bus    domain.EventBus
	logger *slog.Logger
	now    func() time.Time
}

// NewBusNotifier returns a notifier that publishes on TopicInsightCreated.
func NewBusNotifier(bus domain.EventBus, logger *slog.Logger) *BusNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &BusNotifier{bus: bus, logger: logger.With("component", "notify.bus"), now: time.Now}
}

// InsightCreated publishes the event. Insights without an owner are skipped.
func (n *BusNotifier) InsightCreated(ctx context.Context, insight *domain.Insight) error {
	if insight.Owner == "" {
		n.logger.Debug("insight has no owner, not publishing", "insight_id", insight.ID)
		return nil
	}

	body, err := json.Marshal(newEvent(insight, n.now()))
	if err != nil {
		return fmt.Errorf("failed to marshal insight event: %w", err)
	}
	if err := n.bus.Publish(ctx, insight.Owner, domain.TopicInsightCreated, body); err != nil {
		return fmt.Errorf("failed to publish insight %s: %w", insight.ID, err)
	}
	return nil
}

// WebhookNotifier POSTs created insights to a fixed URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewWebhookNotifier returns a notifier whose requests are bounded by timeout.
func NewWebhookNotifier(url string, timeout time.Duration, logger *slog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With("component", "notify.webhook"),
		now:    time.Now,
	}
}

// InsightCreated delivers the event. A non-2xx response is an error.
// Insights without an owner are skipped.
func (n *WebhookNotifier) InsightCreated(ctx context.Context, insight *domain.Insight) error {
	if insight.Owner == "" {
		n.logger.Debug("insight has no owner, not delivering", "insight_id", insight.ID)
		return nil
	}

	body, err := json.Marshal(newEvent(insight, n.now()))
	if err != nil {
		return fmt.Errorf("failed to marshal insight event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Kestrel-Event", EventInsightCreated)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	n.logger.Debug("webhook delivered",
		"url", n.url,
		"status", resp.StatusCode,
		"insight_id", insight.ID,
		"fingerprint", insight.Fingerprint,
	)
	return nil
}

// Multi fans an insight out to every notifier and joins their errors.
type Multi []domain.Notifier

// InsightCreated calls every notifier even when an earlier one fails.
func (m Multi) InsightCreated(ctx context.Context, insight *domain.Insight) error {
	var errs []error
	for _, n := range m {
		if err := n.InsightCreated(ctx, insight); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every insight.
type Nop struct{}

func (Nop) InsightCreated(context.Context, *domain.Insight) error { return nil }

// New assembles the notifiers enabled in cfg. With none enabled it returns Nop.
func New(cfg domain.NotifyConfig, bus domain.EventBus, logger *slog.Logger) domain.Notifier {
	var m Multi
	if cfg.Bus && bus != nil {
		m = append(m, NewBusNotifier(bus, logger))
	}
	if cfg.WebhookURL != "" {
		m = append(m, NewWebhookNotifier(cfg.WebhookURL, time.Duration(cfg.WebhookTimeoutSec)*time.Second, logger))
	}
	switch len(m) {
	case 0:
		return Nop{}
	case 1:
		return m[0]
	default:
		return m
	}
}
