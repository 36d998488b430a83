package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// DiffEngine computes compliance results using the comparison strategy each
// feature declares. Custom comparators are injected through
// RegisterComparator; the engine holds no global state.
type DiffEngine struct {
	normalizer *Normalizer

	// mu protects the comparator registry.
	mu          sync.RWMutex
	comparators map[string]CompareFunc
}

// NewDiffEngine creates a diff engine. A nil normalizer gets a default one.
func NewDiffEngine(normalizer *Normalizer) *DiffEngine {
	if normalizer == nil {
		normalizer = NewNormalizer()
	}
	return &DiffEngine{
		normalizer:  normalizer,
		comparators: make(map[string]CompareFunc),
	}
}

// RegisterComparator registers a named comparison function for the custom
// strategy. Registering the same name twice is an error so wiring mistakes
// surface at startup.
func (e *DiffEngine) RegisterComparator(name string, fn CompareFunc) error {
	if name == "" {
		return NewValidationError("comparator name is required", nil)
	}
	if fn == nil {
		return NewValidationError(fmt.Sprintf("comparator %q is nil", name), nil)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.comparators[name]; exists {
		return NewValidationError(fmt.Sprintf("comparator %q already registered", name), nil)
	}
	e.comparators[name] = fn
	return nil
}

// Compare computes the compliance result for one (device, feature) pair.
// Identical inputs always produce identical results apart from timestamps.
func (e *DiffEngine) Compare(ctx context.Context, device *Device, feature *ConfigFeature, intended, actual *ConfigSnapshot) (*ComplianceResult, error) {
	if device == nil {
		return nil, NewValidationError("device is required", nil)
	}
	if feature == nil {
		return nil, NewValidationError("feature is required", nil)
	}
	if intended == nil || actual == nil {
		return nil, NewValidationError("intended and actual snapshots are required", nil).WithFeature(feature.Name).WithDevice(device.ID)
	}
	if err := feature.Strategy.Validate(); err != nil {
		return nil, NewValidationError(err.Error(), nil).WithFeature(feature.Name)
	}

	switch feature.Strategy {
	case StrategyCLI:
		return e.compareLines(device, feature, intended, actual)
	case StrategyJSON:
		return e.compareDocuments(device, feature, intended, actual)
	default:
		return e.compareCustom(ctx, device, feature, intended, actual)
	}
}

// compareCustom runs the feature's registered comparator over the canonical
// text forms. The comparator owns classification; the engine derives the
// aggregate fields from its entries.
func (e *DiffEngine) compareCustom(ctx context.Context, device *Device, feature *ConfigFeature, intended, actual *ConfigSnapshot) (*ComplianceResult, error) {
	if feature.Comparator == "" {
		return nil, NewValidationError("custom strategy requires a comparator", nil).WithFeature(feature.Name)
	}

	e.mu.RLock()
	fn, ok := e.comparators[feature.Comparator]
	e.mu.RUnlock()
	if !ok {
		return nil, NewValidationError(fmt.Sprintf("unknown comparator %q", feature.Comparator), nil).WithFeature(feature.Name)
	}

	intendedLines, err := e.normalizer.NormalizeText(feature, intended.Text)
	if err != nil {
		return nil, err
	}
	actualLines, err := e.normalizer.NormalizeText(feature, actual.Text)
	if err != nil {
		return nil, err
	}

	canonIntended := &ConfigSnapshot{
		DeviceID:   intended.DeviceID,
		Feature:    intended.Feature,
		Text:       strings.Join(intendedLines, "\n"),
		CapturedAt: intended.CapturedAt,
	}
	canonActual := &ConfigSnapshot{
		DeviceID:   actual.DeviceID,
		Feature:    actual.Feature,
		Text:       strings.Join(actualLines, "\n"),
		CapturedAt: actual.CapturedAt,
	}

	added, removed, changed, err := fn(ctx, canonIntended, canonActual)
	if err != nil {
		var engErr *EngineError
		if errors.As(err, &engErr) {
			return nil, err
		}
		return nil, NewPermanentError(fmt.Sprintf("comparator %q failed", feature.Comparator), err).WithFeature(feature.Name).WithDevice(device.ID)
	}

	result := &ComplianceResult{
		DeviceID:     device.ID,
		Feature:      feature.Name,
		Strategy:     StrategyCustom,
		Compliant:    len(added) == 0 && len(removed) == 0 && len(changed) == 0,
		Added:        added,
		Removed:      removed,
		Changed:      changed,
		Missing:      renderDiffText(added),
		Extra:        renderDiffText(removed),
		Ordered:      linesOrdered(intendedLines, actualLines),
		IntendedHash: hashText(canonIntended.Text),
		ActualHash:   hashText(canonActual.Text),
		ComputedAt:   time.Now(),
	}

	if len(intendedLines) > 0 && len(removed) == 0 && len(changed) == 0 && allLineEntries(added) && len(added) == len(intendedLines) {
		result.IntendedAbsent = true
	}

	return result, nil
}

// renderDiffText renders entries as configuration text for line entries and
// as path listings for structural entries.
func renderDiffText(entries []DiffEntry) string {
	if len(entries) == 0 {
		return ""
	}
	if entries[0].Line != "" {
		return renderEntries(entries)
	}
	return renderPaths(entries)
}

func allLineEntries(entries []DiffEntry) bool {
	for _, entry := range entries {
		if entry.Line == "" {
			return false
		}
	}
	return true
}

// documentPayload picks the structural payload from a snapshot, falling back
// to the text column for stores that persist one representation.
func documentPayload(snapshot *ConfigSnapshot) json.RawMessage {
	if len(snapshot.Document) > 0 {
		return snapshot.Document
	}
	return json.RawMessage(snapshot.Text)
}
