package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEventPublisher_SyncDelivery(t *testing.T) {
	ep := NewEventPublisher(EventsConfig{Enabled: true})

	var got []string
	ep.Subscribe(func(e Event) { got = append(got, e.Type) }, nil)

	if err := ep.PublishRunStarted("run-1", "syncAll"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := ep.PublishDocumentEvent("run-1", EventTypeDocumentSynced, "P1", "create p1", nil); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if diff := cmp.Diff([]string{EventTypeRunStarted, EventTypeDocumentSynced}, got); diff != "" {
		t.Errorf("delivered events mismatch (-want +got):\n%s", diff)
	}
}

func TestEventPublisher_AsyncDrainsOnShutdown(t *testing.T) {
	ep := NewEventPublisher(EventsConfig{Enabled: true, EnableAsync: true, BufferSize: 16})

	var mu sync.Mutex
	var ids []string
	ep.Subscribe(func(e Event) {
		mu.Lock()
		ids = append(ids, e.ExternalID)
		mu.Unlock()
	}, FilterByType(EventTypeDocumentArchived))

	for _, id := range []string{"P1", "P2", "P3"} {
		if err := ep.PublishDocumentEvent("run-1", EventTypeDocumentArchived, id, "archived", nil); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	_ = ep.PublishPhaseChanged("run-1", "complete")

	if err := ep.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]string{"P1", "P2", "P3"}, ids); diff != "" {
		t.Errorf("delivered events mismatch (-want +got):\n%s", diff)
	}

	if err := ep.PublishRunFailed("run-1", "late"); !errors.Is(err, ErrPublisherStopped) {
		t.Errorf("expected ErrPublisherStopped after shutdown, got %v", err)
	}
}

func TestEventPublisher_Filters(t *testing.T) {
	ep := NewEventPublisher(EventsConfig{Enabled: true})
	ep.AddFilter(FilterByRunID("run-2"))

	var levels []string
	ep.Subscribe(func(e Event) { levels = append(levels, e.Level) }, FilterByLevel(EventLevelWarning))

	_ = ep.PublishRunFailed("run-1", "ignored run")
	_ = ep.PublishRunStarted("run-2", "syncAll")
	_ = ep.PublishRunFailed("run-2", "store down")

	if diff := cmp.Diff([]string{EventLevelError}, levels); diff != "" {
		t.Errorf("filtered events mismatch (-want +got):\n%s", diff)
	}
}

func TestEventPublisher_DisabledAndNil(t *testing.T) {
	var nilPublisher *EventPublisher
	if err := nilPublisher.PublishRunStarted("run-1", "syncAll"); err != nil {
		t.Errorf("nil publisher must accept events, got %v", err)
	}

	ep := NewEventPublisher(EventsConfig{Enabled: false})
	called := false
	ep.Subscribe(func(Event) { called = true }, nil)
	_ = ep.PublishRunStarted("run-1", "syncAll")
	if called {
		t.Error("disabled publisher must not deliver events")
	}
}
