package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openconform/openconform/pkg/stores"
)

// subscriberBuffer is the channel capacity per subscription. A subscriber
// that falls this far behind starts losing events rather than blocking
// publishers.
const subscriberBuffer = 64

// EventLog implements EventPublisher backed by the persistent audit log.
// Published events are appended to the store and fanned out to in-process
// subscribers. The store may be nil, in which case events are fan-out only.
type EventLog struct {
	store stores.Store

	mu   sync.RWMutex
	subs map[string]*eventSubscription
}

type eventSubscription struct {
	id     string
	filter EventFilter
	ch     chan Event
}

// NewEventLog creates an event log. Pass a nil store for an in-memory bus
// without audit persistence.
func NewEventLog(store stores.Store) *EventLog {
	return &EventLog{
		store: store,
		subs:  make(map[string]*eventSubscription),
	}
}

// Publish appends the event to the audit log and delivers it to matching
// subscribers. Slow subscribers lose events; persistence never does.
func (l *EventLog) Publish(ctx context.Context, event *Event) error {
	if event == nil {
		return NewValidationError("event is nil", nil)
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = "info"
	}

	if l.store != nil {
		record, err := eventToRecord(event)
		if err != nil {
			return err
		}
		if err := l.store.AppendEvent(ctx, record); err != nil {
			return fmt.Errorf("failed to append event: %w", err)
		}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, sub := range l.subs {
		if !matchesFilter(event, sub.filter) {
			continue
		}
		select {
		case sub.ch <- *event:
		default:
			// Subscriber buffer full; drop rather than block the publisher.
		}
	}
	return nil
}

// Subscribe registers a subscription and returns its event channel. The
// subscription is removed and its channel closed when ctx is cancelled;
// callers that need explicit removal can use SubscribeWithID.
func (l *EventLog) Subscribe(ctx context.Context, filter EventFilter) (<-chan Event, error) {
	_, ch, err := l.SubscribeWithID(ctx, filter)
	return ch, err
}

// SubscribeWithID registers a subscription and returns its ID alongside the
// event channel. The ID can be passed to Unsubscribe.
func (l *EventLog) SubscribeWithID(ctx context.Context, filter EventFilter) (string, <-chan Event, error) {
	sub := &eventSubscription{
		id:     uuid.New().String(),
		filter: filter,
		ch:     make(chan Event, subscriberBuffer),
	}

	l.mu.Lock()
	l.subs[sub.id] = sub
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = l.Unsubscribe(context.Background(), sub.id)
	}()

	return sub.id, sub.ch, nil
}

// Unsubscribe removes a subscription and closes its channel. Unknown IDs
// are a no-op so that context cleanup and explicit removal can race safely.
func (l *EventLog) Unsubscribe(_ context.Context, subscriptionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sub, ok := l.subs[subscriptionID]
	if !ok {
		return nil
	}
	delete(l.subs, subscriptionID)
	close(sub.ch)
	return nil
}

// History reads persisted events from the audit log, newest first. PlanID
// and DeviceID filter when set; Types and MinLevel are applied in memory.
func (l *EventLog) History(ctx context.Context, filter EventFilter, limit, offset int) ([]*Event, error) {
	if l.store == nil {
		return nil, nil
	}

	var planID, deviceID *string
	if filter.PlanID != "" {
		planID = &filter.PlanID
	}
	if filter.DeviceID != "" {
		deviceID = &filter.DeviceID
	}

	records, err := l.store.ListEvents(ctx, planID, deviceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	events := make([]*Event, 0, len(records))
	for _, record := range records {
		event, err := recordToEvent(record)
		if err != nil {
			return nil, err
		}
		if !matchesFilter(event, filter) {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// matchesFilter reports whether the event passes the filter. Zero-valued
// filter fields match everything.
func matchesFilter(event *Event, filter EventFilter) bool {
	if filter.PlanID != "" && event.PlanID != filter.PlanID {
		return false
	}
	if filter.DeviceID != "" && event.DeviceID != filter.DeviceID {
		return false
	}
	if len(filter.Types) > 0 {
		found := false
		for _, t := range filter.Types {
			if event.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.MinLevel != "" && levelRank(event.Level) < levelRank(filter.MinLevel) {
		return false
	}
	return true
}

func levelRank(level string) int {
	switch level {
	case "debug":
		return 0
	case "info":
		return 1
	case "warning":
		return 2
	case "error":
		return 3
	default:
		return 1
	}
}

// eventToRecord converts an engine event to its persisted form. The audit
// log keys rows by its own autoincrement ID; the in-memory event ID is not
// stored.
func eventToRecord(event *Event) (*stores.Event, error) {
	record := &stores.Event{
		EventType: string(event.Type),
		Level:     event.Level,
		Message:   event.Message,
		Timestamp: event.Timestamp,
	}
	if event.PlanID != "" {
		record.PlanID = &event.PlanID
	}
	if event.JobID != "" {
		record.JobID = &event.JobID
	}
	if event.DeviceID != "" {
		record.DeviceID = &event.DeviceID
	}
	if event.Feature != "" {
		record.Feature = &event.Feature
	}
	if len(event.Details) > 0 {
		raw, err := json.Marshal(event.Details)
		if err != nil {
			return nil, fmt.Errorf("failed to encode event details: %w", err)
		}
		s := string(raw)
		record.Details = &s
	}
	return record, nil
}

// recordToEvent converts a persisted audit row back to an engine event.
func recordToEvent(record *stores.Event) (*Event, error) {
	event := &Event{
		ID:        fmt.Sprintf("%d", record.ID),
		Type:      EventType(record.EventType),
		Timestamp: record.Timestamp,
		Message:   record.Message,
		Level:     record.Level,
	}
	if record.PlanID != nil {
		event.PlanID = *record.PlanID
	}
	if record.JobID != nil {
		event.JobID = *record.JobID
	}
	if record.DeviceID != nil {
		event.DeviceID = *record.DeviceID
	}
	if record.Feature != nil {
		event.Feature = *record.Feature
	}
	if record.Details != nil && *record.Details != "" {
		if err := json.Unmarshal([]byte(*record.Details), &event.Details); err != nil {
			return nil, fmt.Errorf("failed to decode event details: %w", err)
		}
	}
	return event, nil
}
