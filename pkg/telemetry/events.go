package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a progress event emitted during a setup run.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	RunID     string    `json:"run_id,omitempty"`
	StepID    string    `json:"step_id,omitempty"`

	// From and To are the step statuses around a transition.
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	Attempt int `json:"attempt,omitempty"`

	// Category is the failure category of a failed or blocked step.
	Category string `json:"category,omitempty"`

	Message string `json:"message"`
	Level   string `json:"level"`

	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeRunStarted        = "run.started"
	EventTypeRunCompleted      = "run.completed"
	EventTypePreflightComplete = "preflight.completed"
	EventTypeStepTransition    = "step.transition"
	EventTypeStepRetry         = "step.retry"
	EventTypeWarning           = "warning"
)

// Event levels.
const (
	EventLevelDebug   = "debug"
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles published events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher fans progress events out to subscribers. Delivery is
// synchronous, so subscribers see events in publish order.
type EventPublisher struct {
	config      EventsConfig
	subscribers []subscriberEntry
	mu          sync.RWMutex
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	return &EventPublisher{config: cfg}
}

// Publish delivers an event to all subscribers. Subscribers have run by
// the time Publish returns.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	ep.deliverEvent(event)
	return nil
}

// PublishStepTransition publishes one step status change. Starting an
// attempt is a debug event; failures and blocks are raised above info.
func (ep *EventPublisher) PublishStepTransition(runID, stepID, from, to string, attempt int, category, message string) error {
	level := EventLevelInfo
	switch to {
	case "running":
		level = EventLevelDebug
	case "failed":
		level = EventLevelError
	case "blocked":
		level = EventLevelWarning
	}

	return ep.Publish(Event{
		Type:     EventTypeStepTransition,
		Source:   "orchestrator",
		RunID:    runID,
		StepID:   stepID,
		From:     from,
		To:       to,
		Attempt:  attempt,
		Category: category,
		Message:  message,
		Level:    level,
	})
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID string, steps int, resume bool) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		Source:  "orchestrator",
		RunID:   runID,
		Message: fmt.Sprintf("run %s started with %d steps", runID, steps),
		Data: map[string]interface{}{
			"steps":  steps,
			"resume": resume,
		},
	})
}

// PublishRunCompleted publishes a run completed event.
func (ep *EventPublisher) PublishRunCompleted(runID, status string, duration time.Duration) error {
	level := EventLevelInfo
	if status != "success" {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		Source:  "orchestrator",
		RunID:   runID,
		Message: fmt.Sprintf("run %s completed with status: %s", runID, status),
		Level:   level,
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishWarning publishes a run-level warning.
func (ep *EventPublisher) PublishWarning(runID, stepID, message string) error {
	return ep.Publish(Event{
		Type:    EventTypeWarning,
		Source:  "orchestrator",
		RunID:   runID,
		StepID:  stepID,
		Message: message,
		Level:   EventLevelWarning,
	})
}

// Subscribe adds a new event subscriber. A nil filter accepts everything.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelDebug:   0,
		EventLevelInfo:    1,
		EventLevelWarning: 2,
		EventLevelError:   3,
	}
	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}
