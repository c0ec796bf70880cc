package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testInsight(owner string) *domain.Insight {
	return &domain.Insight{
		ID: "ins-1",
		InsightPayload: domain.InsightPayload{
			Title:       "Budget overspend",
			Severity:    domain.SeverityCritical,
			Module:      domain.ModuleBudget,
			EntityID:    "B1",
			RuleID:      "budgetOverspend",
			Owner:       owner,
			Fingerprint: domain.Fingerprint(domain.ModuleBudget, "budgetOverspend", "B1"),
		},
		Status:          domain.StatusNew,
		OccurrenceCount: 1,
	}
}

func TestBusNotifier(t *testing.T) {
	b := bus.NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	got := make(chan *domain.Message, 1)
	b.Subscribe(ctx, "u1", domain.TopicInsightCreated, func(ctx context.Context, msg *domain.Message) error {
		got <- msg
		return nil
	})

	n := NewBusNotifier(b, discardLogger())

	t.Run("PublishesToOwner", func(t *testing.T) {
		if err := n.InsightCreated(ctx, testInsight("u1")); err != nil {
			t.Fatalf("InsightCreated failed: %v", err)
		}

		select {
		case msg := <-got:
			var ev domain.InsightEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				t.Fatalf("bad payload: %v", err)
			}
			if ev.Event != EventInsightCreated || ev.Recipient != "u1" {
				t.Errorf("unexpected event %+v", ev)
			}
			if ev.Insight.Fingerprint != "budget-budgetOverspend-B1" {
				t.Errorf("unexpected fingerprint %s", ev.Insight.Fingerprint)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event")
		}
	})

	t.Run("SkipsWithoutOwner", func(t *testing.T) {
		if err := n.InsightCreated(ctx, testInsight("")); err != nil {
			t.Fatalf("InsightCreated failed: %v", err)
		}
		select {
		case msg := <-got:
			t.Errorf("unexpected message %+v", msg)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("ClosedBus", func(t *testing.T) {
		closed := bus.NewChannelBus(1)
		closed.Close()
		err := NewBusNotifier(closed, discardLogger()).InsightCreated(ctx, testInsight("u1"))
		if !errors.Is(err, bus.ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	})
}

func TestWebhookNotifier(t *testing.T) {
	ctx := context.Background()

	t.Run("Delivers", func(t *testing.T) {
		var mu sync.Mutex
		var received domain.InsightEvent
		var header string

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			defer mu.Unlock()
			header = r.Header.Get("X-Kestrel-Event")
			json.NewDecoder(r.Body).Decode(&received)
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		n := NewWebhookNotifier(srv.URL, time.Second, discardLogger())
		if err := n.InsightCreated(ctx, testInsight("u1")); err != nil {
			t.Fatalf("InsightCreated failed: %v", err)
		}

		mu.Lock()
		defer mu.Unlock()
		if header != EventInsightCreated {
			t.Errorf("expected event header, got %q", header)
		}
		if received.Insight == nil || received.Insight.ID != "ins-1" || received.Recipient != "u1" {
			t.Errorf("unexpected body %+v", received)
		}
	})

	t.Run("SkipsOwnerless", func(t *testing.T) {
		var mu sync.Mutex
		requests := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			requests++
			mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		n := NewWebhookNotifier(srv.URL, time.Second, discardLogger())
		if err := n.InsightCreated(ctx, testInsight("")); err != nil {
			t.Fatalf("InsightCreated failed: %v", err)
		}

		mu.Lock()
		defer mu.Unlock()
		if requests != 0 {
			t.Errorf("expected no delivery for an ownerless insight, got %d requests", requests)
		}
	})

	t.Run("Non2xxIsError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		n := NewWebhookNotifier(srv.URL, time.Second, discardLogger())
		if err := n.InsightCreated(ctx, testInsight("u1")); err == nil {
			t.Error("expected error for 500 response")
		}
	})

	t.Run("Timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-release
		}))
		defer srv.Close()
		defer close(release)

		n := NewWebhookNotifier(srv.URL, 50*time.Millisecond, discardLogger())
		if err := n.InsightCreated(ctx, testInsight("u1")); err == nil {
			t.Error("expected timeout error")
		}
	})
}

type recordingNotifier struct {
	calls int
	err   error
}

func (r *recordingNotifier) InsightCreated(context.Context, *domain.Insight) error {
	r.calls++
	return r.err
}

func TestMulti(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("boom")}
	ok := &recordingNotifier{}

	err := Multi{failing, ok}.InsightCreated(context.Background(), testInsight("u1"))
	if err == nil {
		t.Error("expected joined error")
	}
	if failing.calls != 1 || ok.calls != 1 {
		t.Errorf("every notifier must be called, got %d and %d", failing.calls, ok.calls)
	}
}

func TestNew(t *testing.T) {
	b := bus.NewChannelBus(1)
	defer b.Close()

	if _, ok := New(domain.NotifyConfig{}, b, nil).(Nop); !ok {
		t.Error("expected Nop when nothing is enabled")
	}
	if _, ok := New(domain.NotifyConfig{Bus: true}, b, nil).(*BusNotifier); !ok {
		t.Error("expected BusNotifier")
	}
	if _, ok := New(domain.NotifyConfig{Bus: true, WebhookURL: "http://localhost"}, b, nil).(Multi); !ok {
		t.Error("expected Multi when both are enabled")
	}
}
