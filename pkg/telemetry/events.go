package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one entry of a sync run's timeline.
type Event struct {
	ID         string                 `json:"id"`
	Timestamp  time.Time              `json:"timestamp"`
	Type       string                 `json:"type"`
	Source     string                 `json:"source"`
	RunID      string                 `json:"run_id,omitempty"`
	ExternalID string                 `json:"external_id,omitempty"`
	Phase      string                 `json:"phase,omitempty"`
	Message    string                 `json:"message"`
	Level      string                 `json:"level"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

const (
	EventTypeRunStarted       = "run.started"
	EventTypeRunCompleted     = "run.completed"
	EventTypeRunFailed        = "run.failed"
	EventTypePhaseChanged     = "phase.changed"
	EventTypeDocumentSynced   = "document.synced"
	EventTypeDocumentLinked   = "document.linked"
	EventTypeDocumentArchived = "document.archived"
	EventTypeSecretsChanged   = "secrets.changed"
)

const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

var eventLevelRank = map[string]int{
	EventLevelInfo:    0,
	EventLevelWarning: 1,
	EventLevelError:   2,
}

// ErrPublisherStopped is returned by Publish after Shutdown.
var ErrPublisherStopped = errors.New("event publisher stopped")

// EventSubscriber receives delivered events.
type EventSubscriber func(event Event)

// EventFilter reports whether an event should be delivered.
type EventFilter func(event Event) bool

type subscription struct {
	fn     EventSubscriber
	filter EventFilter
}

func (s subscription) deliver(event Event) {
	if s.filter == nil || s.filter(event) {
		s.fn(event)
	}
}

// EventPublisher fans events out to subscribers in publish order. In async
// mode a single goroutine drains a bounded queue; otherwise Publish delivers
// inline.
type EventPublisher struct {
	enabled bool

	mu     sync.RWMutex
	subs   []subscription
	global []EventFilter

	queue    chan Event
	stop     chan struct{}
	stopOnce sync.Once
	drained  chan struct{}
}

// NewEventPublisher creates a publisher. The async worker starts only when
// events are enabled.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	ep := &EventPublisher{
		enabled: cfg.Enabled,
		stop:    make(chan struct{}),
		drained: make(chan struct{}),
	}
	if !cfg.Enabled || !cfg.EnableAsync {
		close(ep.drained)
		return ep
	}

	ep.queue = make(chan Event, max(cfg.BufferSize, 1))
	go ep.drain()
	return ep
}

// Publish stamps the event and delivers it. A nil or disabled publisher
// accepts and discards events.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}
	if !ep.accepts(event) {
		return nil
	}

	if ep.queue == nil {
		ep.deliver(event)
		return nil
	}

	select {
	case <-ep.stop:
		return ErrPublisherStopped
	default:
	}
	select {
	case ep.queue <- event:
		return nil
	case <-ep.stop:
		return ErrPublisherStopped
	default:
		return fmt.Errorf("event queue full, dropped %s", event.Type)
	}
}

func (ep *EventPublisher) accepts(event Event) bool {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, f := range ep.global {
		if !f(event) {
			return false
		}
	}
	return true
}

func (ep *EventPublisher) deliver(event Event) {
	ep.mu.RLock()
	subs := ep.subs
	ep.mu.RUnlock()
	for _, s := range subs {
		s.deliver(event)
	}
}

func (ep *EventPublisher) drain() {
	defer close(ep.drained)
	for {
		select {
		case event := <-ep.queue:
			ep.deliver(event)
		case <-ep.stop:
			for {
				select {
				case event := <-ep.queue:
					ep.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) runEvent(eventType, runID, message string, data map[string]interface{}) Event {
	return Event{Type: eventType, Source: "orchestrator", RunID: runID, Message: message, Data: data}
}

// PublishRunStarted records the start of a run.
func (ep *EventPublisher) PublishRunStarted(runID, operation string) error {
	return ep.Publish(ep.runEvent(EventTypeRunStarted, runID,
		fmt.Sprintf("Run %s started: %s", runID, operation),
		map[string]interface{}{"operation": operation}))
}

// PublishRunCompleted records a finished run. The run duration in seconds is
// added to data.
func (ep *EventPublisher) PublishRunCompleted(runID string, duration time.Duration, data map[string]interface{}) error {
	if data == nil {
		data = make(map[string]interface{}, 1)
	}
	data["duration"] = duration.Seconds()
	return ep.Publish(ep.runEvent(EventTypeRunCompleted, runID,
		fmt.Sprintf("Run %s completed in %s", runID, duration.Round(time.Millisecond)), data))
}

// PublishRunFailed records a failed run at error level.
func (ep *EventPublisher) PublishRunFailed(runID, reason string) error {
	ev := ep.runEvent(EventTypeRunFailed, runID, fmt.Sprintf("Run %s failed: %s", runID, reason),
		map[string]interface{}{"reason": reason})
	ev.Level = EventLevelError
	return ep.Publish(ev)
}

// PublishPhaseChanged records a state machine transition.
func (ep *EventPublisher) PublishPhaseChanged(runID, phase string) error {
	ev := ep.runEvent(EventTypePhaseChanged, runID, "Entered "+phase, nil)
	ev.Source = "state_machine"
	ev.Phase = phase
	return ep.Publish(ev)
}

// PublishDocumentEvent records a change to one document.
func (ep *EventPublisher) PublishDocumentEvent(runID, eventType, externalID, message string, data map[string]interface{}) error {
	ev := ep.runEvent(eventType, runID, message, data)
	ev.ExternalID = externalID
	return ep.Publish(ev)
}

// Subscribe registers fn. A nil filter receives every event.
func (ep *EventPublisher) Subscribe(fn EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	subs := make([]subscription, len(ep.subs), len(ep.subs)+1)
	copy(subs, ep.subs)
	ep.subs = append(subs, subscription{fn: fn, filter: filter})
}

// AddFilter drops events rejected by filter before any subscriber sees them.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.global = append(ep.global, filter)
}

// Shutdown stops accepting events and waits for queued ones to be delivered.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil {
		return nil
	}
	ep.stopOnce.Do(func() { close(ep.stop) })

	select {
	case <-ep.drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

// FilterByLevel passes events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	floor := eventLevelRank[minLevel]
	return func(event Event) bool { return eventLevelRank[event.Level] >= floor }
}

// FilterByType passes events of the given types.
func FilterByType(types ...string) EventFilter {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(event Event) bool {
		_, ok := set[event.Type]
		return ok
	}
}

// FilterByRunID passes events of one run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool { return event.RunID == runID }
}
