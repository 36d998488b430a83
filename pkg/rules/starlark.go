package rules

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openconform/openconform/pkg/engine"
)

// Evaluator executes Starlark comparator scripts safely: no filesystem or
// network access, print suppressed, and a hard execution timeout.
//
// A comparator script sees two predeclared dicts, intended and actual, each
// with device_id, feature, text, and lines keys holding the canonical form of
// one comparison side. The script assigns globals to report its result:
// added and removed are lists of diff elements, compliant is an optional
// bool cross-checked against them, and changed may carry value-level
// differences.
type Evaluator struct {
	timeout time.Duration
}

// NewEvaluator creates a new Starlark evaluator. A zero timeout uses the
// 30 second default.
func NewEvaluator(timeout time.Duration) *Evaluator {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Evaluator{
		timeout: timeout,
	}
}

// Check parses a comparator script without executing it, so syntax errors
// surface at load time rather than during a diff.
func (ev *Evaluator) Check(comparator Comparator) error {
	_, _, err := starlark.SourceProgram(comparator.Name+".star", comparator.Script, isPredeclared)
	if err != nil {
		return fmt.Errorf("starlark syntax error: %w", err)
	}
	return nil
}

// isPredeclared reports whether a name is bound by the evaluator before the
// script runs.
func isPredeclared(name string) bool {
	switch name {
	case "intended", "actual", "struct":
		return true
	default:
		return false
	}
}

// CompareFunc builds an engine comparison function from a comparator script.
// The returned function honors the engine's custom-strategy contract: added
// entries in intended order, removed entries in actual order, classification
// owned by the script.
func (ev *Evaluator) CompareFunc(comparator Comparator) engine.CompareFunc {
	return func(ctx context.Context, intended, actual *engine.ConfigSnapshot) ([]engine.DiffEntry, []engine.DiffEntry, []engine.DiffEntry, error) {
		input := map[string]interface{}{
			"intended": snapshotInput(intended),
			"actual":   snapshotInput(actual),
		}

		output, err := ev.evaluate(ctx, comparator, input)
		if err != nil {
			return nil, nil, nil, err
		}

		added, err := entriesFromOutput(engine.DiffActionAdded, output["added"])
		if err != nil {
			return nil, nil, nil, fmt.Errorf("comparator %q: bad added output: %w", comparator.Name, err)
		}
		removed, err := entriesFromOutput(engine.DiffActionRemoved, output["removed"])
		if err != nil {
			return nil, nil, nil, fmt.Errorf("comparator %q: bad removed output: %w", comparator.Name, err)
		}
		changed, err := entriesFromOutput(engine.DiffActionChanged, output["changed"])
		if err != nil {
			return nil, nil, nil, fmt.Errorf("comparator %q: bad changed output: %w", comparator.Name, err)
		}

		// A script reporting compliant while emitting diff entries (or the
		// reverse) is a script bug; surface it instead of recording a result
		// that violates the compliant-iff-empty invariant.
		if compliant, ok := output["compliant"].(bool); ok {
			empty := len(added)+len(removed)+len(changed) == 0
			if compliant != empty {
				return nil, nil, nil, fmt.Errorf("comparator %q: compliant=%v disagrees with %d diff entries",
					comparator.Name, compliant, len(added)+len(removed)+len(changed))
			}
		}

		return added, removed, changed, nil
	}
}

// RegisterComparators builds and registers a compare function for every
// comparator in the rule set. Registration order is sorted by name so a
// duplicate registration fails deterministically.
func (ev *Evaluator) RegisterComparators(diffEngine *engine.DiffEngine, ruleSet *RuleSet) error {
	names := make([]string, 0, len(ruleSet.Comparators))
	for name := range ruleSet.Comparators {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := diffEngine.RegisterComparator(name, ev.CompareFunc(ruleSet.Comparators[name])); err != nil {
			return fmt.Errorf("failed to register comparator %q: %w", name, err)
		}
	}
	return nil
}

// evaluate executes a comparator script with the given input and returns its
// exported globals. On timeout the interpreter thread is cancelled so the
// worker goroutine stops at its next loop iteration instead of running on.
func (ev *Evaluator) evaluate(ctx context.Context, comparator Comparator, input map[string]interface{}) (map[string]interface{}, error) {
	timeout := ev.timeout
	if comparator.TimeoutSeconds > 0 {
		timeout = time.Duration(comparator.TimeoutSeconds) * time.Second
	}

	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: comparator.Name,
		Print: func(_ *starlark.Thread, msg string) {
			// Suppressed; scripts have no output channel
		},
	}

	resultCh := make(chan map[string]interface{}, 1)
	errCh := make(chan error, 1)

	go func() {
		output, err := ev.evaluateSync(thread, comparator, input)
		if err != nil {
			errCh <- err
		} else {
			resultCh <- output
		}
	}()

	select {
	case <-evalCtx.Done():
		thread.Cancel("timeout")
		return nil, fmt.Errorf("comparator %q: execution timeout after %v", comparator.Name, timeout)
	case err := <-errCh:
		return nil, err
	case output := <-resultCh:
		return output, nil
	}
}

// evaluateSync performs the actual Starlark evaluation synchronously.
func (ev *Evaluator) evaluateSync(thread *starlark.Thread, comparator Comparator, input map[string]interface{}) (map[string]interface{}, error) {
	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
	}

	for key, val := range input {
		starlarkVal, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		predeclared[key] = starlarkVal
	}

	globals, err := starlark.ExecFile(thread, comparator.Name+".star", comparator.Script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("comparator %q: %w", comparator.Name, err)
	}

	output := make(map[string]interface{})
	for name, val := range globals {
		// Names starting with _ are script-internal, and helper functions
		// are not results
		if len(name) > 0 && name[0] == '_' {
			continue
		}
		if _, ok := val.(*starlark.Function); ok {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert output %s: %w", name, err)
		}
		output[name] = goVal
	}

	return output, nil
}

// snapshotInput renders one comparison side as the dict a script sees. The
// lines key is always a list so scripts can iterate it without a None check.
func snapshotInput(snapshot *engine.ConfigSnapshot) map[string]interface{} {
	lines := []interface{}{}
	if snapshot.Text != "" {
		for _, line := range strings.Split(snapshot.Text, "\n") {
			lines = append(lines, line)
		}
	}
	return map[string]interface{}{
		"device_id": snapshot.DeviceID,
		"feature":   snapshot.Feature,
		"text":      snapshot.Text,
		"lines":     lines,
	}
}

// entriesFromOutput converts a script's added/removed/changed global into
// diff entries. Elements are either plain strings (the line) or dicts with
// line, path, context, before, and after keys.
func entriesFromOutput(action engine.DiffAction, v interface{}) ([]engine.DiffEntry, error) {
	if v == nil {
		return nil, nil
	}

	list, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}

	var entries []engine.DiffEntry
	for i, elem := range list {
		switch e := elem.(type) {
		case string:
			entries = append(entries, engine.DiffEntry{Action: action, Line: e})
		case map[string]interface{}:
			entry := engine.DiffEntry{Action: action}
			if line, ok := e["line"].(string); ok {
				entry.Line = line
			}
			if path, ok := e["path"].(string); ok {
				entry.Path = path
			}
			if rawContext, ok := e["context"].([]interface{}); ok {
				for _, c := range rawContext {
					s, ok := c.(string)
					if !ok {
						return nil, fmt.Errorf("element %d: context entries must be strings, got %T", i, c)
					}
					entry.Context = append(entry.Context, s)
				}
			}
			if before, ok := e["before"]; ok {
				entry.Before = before
			}
			if after, ok := e["after"]; ok {
				entry.After = after
			}
			if entry.Line == "" && entry.Path == "" {
				return nil, fmt.Errorf("element %d: needs a line or path key", i)
			}
			entries = append(entries, entry)
		default:
			return nil, fmt.Errorf("element %d: expected a string or dict, got %T", i, elem)
		}
	}

	return entries, nil
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			starlarkVal, err := toStarlarkValue(v)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
