package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event in the OpenConform system.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// PlanID is the associated config plan ID, if applicable.
	PlanID string `json:"plan_id,omitempty"`

	// JobID is the associated deployment job ID, if applicable.
	JobID string `json:"job_id,omitempty"`

	// DeviceID is the associated device ID, if applicable.
	DeviceID string `json:"device_id,omitempty"`

	// Feature is the associated config feature, if applicable.
	Feature string `json:"feature,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeComplianceCompleted = "compliance.completed"
	EventTypeDriftDetected       = "drift.detected"
	EventTypePlanCreated         = "plan.created"
	EventTypePlanApproved        = "plan.approved"
	EventTypeDeployStarted       = "deploy.started"
	EventTypeJobFinished         = "deploy.job_finished"
	EventTypeDeployCompleted     = "deploy.completed"
	EventTypePolicyViolation     = "policy.violation"
	EventTypeError               = "error"
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

// EventPublisher manages event publishing and subscriptions.
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

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	// Start the event processing goroutine
	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	// Start the periodic flush goroutine
	if cfg.FlushInterval > 0 {
		ep.wg.Add(1)
		go ep.periodicFlush()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	// Set ID and timestamp if not already set
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Apply global filters
	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil // Event filtered out
		}
	}
	ep.mu.RUnlock()

	// Send to buffer if async, otherwise process immediately
	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			// Buffer full, drop event or log warning
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	// Synchronous publishing
	ep.deliverEvent(event)
	return nil
}

// PublishComplianceCompleted publishes a compliance run completed event.
func (ep *EventPublisher) PublishComplianceCompleted(deviceID, feature, state string) error {
	return ep.Publish(Event{
		Type:     EventTypeComplianceCompleted,
		Source:   "diff_engine",
		DeviceID: deviceID,
		Feature:  feature,
		Message:  fmt.Sprintf("Compliance computed for %s/%s: %s", deviceID, feature, state),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"state": state,
		},
	})
}

// PublishDriftDetected publishes a drift detected event.
func (ep *EventPublisher) PublishDriftDetected(deviceID, feature string, changeCount int) error {
	return ep.Publish(Event{
		Type:     EventTypeDriftDetected,
		Source:   "diff_engine",
		DeviceID: deviceID,
		Feature:  feature,
		Message:  fmt.Sprintf("Drift detected on %s/%s (%d changes)", deviceID, feature, changeCount),
		Level:    EventLevelWarning,
		Data: map[string]interface{}{
			"change_count": changeCount,
		},
	})
}

// PublishPlanCreated publishes a plan created event.
func (ep *EventPublisher) PublishPlanCreated(planID, planType string, entryCount int) error {
	return ep.Publish(Event{
		Type:    EventTypePlanCreated,
		Source:  "planner",
		PlanID:  planID,
		Message: fmt.Sprintf("Config plan %s created (%s, %d devices)", planID, planType, entryCount),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"plan_type":   planType,
			"entry_count": entryCount,
		},
	})
}

// PublishPlanApproved publishes a plan approved event.
func (ep *EventPublisher) PublishPlanApproved(planID, user string) error {
	return ep.Publish(Event{
		Type:    EventTypePlanApproved,
		Source:  "planner",
		PlanID:  planID,
		Message: fmt.Sprintf("Config plan %s approved by %s", planID, user),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"user": user,
		},
	})
}

// PublishDeployStarted publishes a deployment started event.
func (ep *EventPublisher) PublishDeployStarted(planID, user string) error {
	return ep.Publish(Event{
		Type:    EventTypeDeployStarted,
		Source:  "orchestrator",
		PlanID:  planID,
		Message: fmt.Sprintf("Deployment of plan %s started by %s", planID, user),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"user": user,
		},
	})
}

// PublishJobFinished publishes a per-device job finished event.
func (ep *EventPublisher) PublishJobFinished(planID, jobID, deviceID, status string, duration time.Duration) error {
	level := EventLevelInfo
	if status == "failed" {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:     EventTypeJobFinished,
		Source:   "orchestrator",
		PlanID:   planID,
		JobID:    jobID,
		DeviceID: deviceID,
		Message:  fmt.Sprintf("Deployment job %s on device %s finished: %s", jobID, deviceID, status),
		Level:    level,
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishDeployCompleted publishes a deployment completed event.
func (ep *EventPublisher) PublishDeployCompleted(planID, outcome string, duration time.Duration) error {
	level := EventLevelInfo
	if outcome == "failed" {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:    EventTypeDeployCompleted,
		Source:  "orchestrator",
		PlanID:  planID,
		Message: fmt.Sprintf("Deployment of plan %s completed with outcome: %s", planID, outcome),
		Level:   level,
		Data: map[string]interface{}{
			"outcome":  outcome,
			"duration": duration.Seconds(),
		},
	})
}

// PublishPolicyViolation publishes a policy violation event.
func (ep *EventPublisher) PublishPolicyViolation(planID, policyName, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		Source:  "policy_gate",
		PlanID:  planID,
		Message: fmt.Sprintf("Policy violation on plan %s: %s - %s", planID, policyName, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
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

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			// Flush batch if it reaches max size
			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			// Flush remaining events before shutting down
			if len(batch) > 0 {
				ep.flushBatch(batch)
			}
			return
		}
	}
}

// periodicFlush flushes events periodically.
func (ep *EventPublisher) periodicFlush() {
	defer ep.wg.Done()

	ticker := time.NewTicker(ep.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Trigger flush by draining buffer
			// This is handled by the processEvents goroutine
		case <-ep.ctx.Done():
			return
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		// Apply subscriber-specific filter
		if entry.filter != nil && !entry.filter(event) {
			continue
		}

		// Call subscriber in a goroutine to avoid blocking
		go entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	// Signal shutdown
	ep.cancel()

	// Wait for processing to complete with timeout
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

// Common event filters.

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

// FilterByPlanID creates a filter that only allows events for a specific plan.
func FilterByPlanID(planID string) EventFilter {
	return func(event Event) bool {
		return event.PlanID == planID
	}
}

// FilterByDeviceID creates a filter that only allows events for a specific device.
func FilterByDeviceID(deviceID string) EventFilter {
	return func(event Event) bool {
		return event.DeviceID == deviceID
	}
}
