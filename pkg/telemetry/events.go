package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event describing driver or step lifecycle.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	RunID     string                 `json:"run_id,omitempty"`
	Step      string                 `json:"step,omitempty"`
	Message   string                 `json:"message"`
	Level     string                 `json:"level"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeRunStarted    = "run.started"
	EventTypeRunCompleted  = "run.completed"
	EventTypeRunFailed     = "run.failed"
	EventTypeStepStarted   = "step.started"
	EventTypeStepCompleted = "step.completed"
	EventTypeStepFailed    = "step.failed"
	EventTypeError         = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions. It exists so
// an operator watching a fleet of rolloutd agents can attach a subscriber
// (e.g. forwarding run-completed events to a chat webhook) without the
// driver itself knowing anything about the transport.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// EventsConfig configures the event publishing system.
type EventsConfig struct {
	Enabled       bool
	BufferSize    int
	FlushInterval time.Duration
	MaxBatchSize  int
	EnableAsync   bool
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID, host, mode string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		Source:  "driver",
		RunID:   runID,
		Message: fmt.Sprintf("run %s started on %s (%s)", runID, host, mode),
		Level:   EventLevelInfo,
		Data:    map[string]interface{}{"host": host, "mode": mode},
	})
}

// PublishRunCompleted publishes a run completed event.
func (ep *EventPublisher) PublishRunCompleted(runID, status string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		Source:  "driver",
		RunID:   runID,
		Message: fmt.Sprintf("run %s completed with status: %s", runID, status),
		Level:   EventLevelInfo,
		Data:    map[string]interface{}{"status": status, "duration": duration.Seconds()},
	})
}

// PublishRunFailed publishes a run failed event.
func (ep *EventPublisher) PublishRunFailed(runID, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunFailed,
		Source:  "driver",
		RunID:   runID,
		Message: fmt.Sprintf("run %s failed: %s", runID, reason),
		Level:   EventLevelError,
		Data:    map[string]interface{}{"reason": reason},
	})
}

// PublishStepStarted publishes a step started event.
func (ep *EventPublisher) PublishStepStarted(runID, step string) error {
	return ep.Publish(Event{
		Type:    EventTypeStepStarted,
		Source:  "driver",
		RunID:   runID,
		Step:    step,
		Message: fmt.Sprintf("step %s started", step),
		Level:   EventLevelInfo,
	})
}

// PublishStepCompleted publishes a step completed event.
func (ep *EventPublisher) PublishStepCompleted(runID, step string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeStepCompleted,
		Source:  "driver",
		RunID:   runID,
		Step:    step,
		Message: fmt.Sprintf("step %s completed", step),
		Level:   EventLevelInfo,
		Data:    map[string]interface{}{"duration": duration.Seconds()},
	})
}

// PublishStepFailed publishes a step failed event.
func (ep *EventPublisher) PublishStepFailed(runID, step, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeStepFailed,
		Source:  "driver",
		RunID:   runID,
		Step:    step,
		Message: fmt.Sprintf("step %s failed: %s", step, reason),
		Level:   EventLevelError,
		Data:    map[string]interface{}{"reason": reason},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriberEntry{subscriber: subscriber, filter: filter})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		go entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	minLevelValue := levels[minLevel]
	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}
	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID creates a filter that only allows events for a specific run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}
