package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// compareDocuments implements the json-structural-diff strategy. Both
// payloads are reduced to canonical form, then walked recursively. Map keys
// are visited in sorted order so entry order is deterministic regardless of
// input key order.
func (e *DiffEngine) compareDocuments(device *Device, feature *ConfigFeature, intended, actual *ConfigSnapshot) (*ComplianceResult, error) {
	intendedCanon, err := e.normalizer.NormalizeDocument(feature, documentPayload(intended))
	if err != nil {
		return nil, err
	}
	actualCanon, err := e.normalizer.NormalizeDocument(feature, documentPayload(actual))
	if err != nil {
		return nil, err
	}

	// Canonical form already validated; decode cannot fail here.
	intendedVal, _ := decodeDocument(intendedCanon)
	actualVal, _ := decodeDocument(actualCanon)

	walker := &structWalker{sets: make(map[string]bool, len(feature.SetPaths))}
	for _, p := range feature.SetPaths {
		walker.sets[p] = true
	}
	walker.walk("", intendedVal, actualVal)

	result := &ComplianceResult{
		DeviceID:       device.ID,
		Feature:        feature.Name,
		Strategy:       StrategyJSON,
		Compliant:      len(walker.added) == 0 && len(walker.removed) == 0 && len(walker.changed) == 0,
		Added:          walker.added,
		Removed:        walker.removed,
		Changed:        walker.changed,
		Missing:        renderPaths(walker.added),
		Extra:          renderPaths(walker.removed),
		Ordered:        true,
		IntendedAbsent: structAbsent(intendedVal, actualVal),
		IntendedHash:   hashText(string(intendedCanon)),
		ActualHash:     hashText(string(actualCanon)),
		ComputedAt:     time.Now(),
	}

	return result, nil
}

// structWalker accumulates diff entries during a recursive document walk.
type structWalker struct {
	sets    map[string]bool
	added   []DiffEntry
	removed []DiffEntry
	changed []DiffEntry
}

func (w *structWalker) walk(path string, want, have interface{}) {
	switch wantTyped := want.(type) {
	case map[string]interface{}:
		haveTyped, ok := have.(map[string]interface{})
		if !ok {
			w.change(path, have, want)
			return
		}
		w.walkMap(path, wantTyped, haveTyped)

	case []interface{}:
		haveTyped, ok := have.([]interface{})
		if !ok {
			w.change(path, have, want)
			return
		}
		if w.sets[pathKey(path)] {
			w.walkSet(path, wantTyped, haveTyped)
		} else {
			w.walkSlice(path, wantTyped, haveTyped)
		}

	default:
		if !canonicalEqual(want, have) {
			w.change(path, have, want)
		}
	}
}

func (w *structWalker) walkMap(path string, want, have map[string]interface{}) {
	keys := make([]string, 0, len(want)+len(have))
	seen := make(map[string]bool, len(want)+len(have))
	for k := range want {
		keys = append(keys, k)
		seen[k] = true
	}
	for k := range have {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		child := childPath(path, k)
		wantVal, inWant := want[k]
		haveVal, inHave := have[k]
		switch {
		case inWant && !inHave:
			w.add(child, wantVal)
		case !inWant && inHave:
			w.remove(child, haveVal)
		default:
			w.walk(child, wantVal, haveVal)
		}
	}
}

// walkSlice compares sequences element-wise. Position is significant, so a
// shifted element reports as changed rather than moved.
func (w *structWalker) walkSlice(path string, want, have []interface{}) {
	n := len(want)
	if len(have) > n {
		n = len(have)
	}
	for i := 0; i < n; i++ {
		child := indexPath(path, i)
		switch {
		case i >= len(have):
			w.add(child, want[i])
		case i >= len(want):
			w.remove(child, have[i])
		default:
			w.walk(child, want[i], have[i])
		}
	}
}

// walkSet compares sequences as unordered collections keyed by canonical
// encoding. Duplicates count: two copies on one side and one on the other
// leave one unmatched.
func (w *structWalker) walkSet(path string, want, have []interface{}) {
	haveLeft := make(map[string]int, len(have))
	for _, v := range have {
		haveLeft[canonicalKey(v)]++
	}
	for _, v := range want {
		key := canonicalKey(v)
		if haveLeft[key] > 0 {
			haveLeft[key]--
		} else {
			w.add(path, v)
		}
	}

	wantLeft := make(map[string]int, len(want))
	for _, v := range want {
		wantLeft[canonicalKey(v)]++
	}
	for _, v := range have {
		key := canonicalKey(v)
		if wantLeft[key] > 0 {
			wantLeft[key]--
		} else {
			w.remove(path, v)
		}
	}
}

func (w *structWalker) add(path string, value interface{}) {
	w.added = append(w.added, DiffEntry{Action: DiffActionAdded, Path: path, After: value})
}

func (w *structWalker) remove(path string, value interface{}) {
	w.removed = append(w.removed, DiffEntry{Action: DiffActionRemoved, Path: path, Before: value})
}

func (w *structWalker) change(path string, before, after interface{}) {
	w.changed = append(w.changed, DiffEntry{Action: DiffActionChanged, Path: path, Before: before, After: after})
}

// childPath extends a dotted path with a map key.
func childPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// indexPath extends a path with a sequence index.
func indexPath(path string, i int) string {
	return fmt.Sprintf("%s[%d]", path, i)
}

// pathKey strips sequence indices from a path so set declarations match the
// path at any nesting position.
func pathKey(path string) string {
	var b strings.Builder
	depth := 0
	for _, r := range path {
		switch {
		case r == '[':
			depth++
		case r == ']':
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// canonicalEqual compares two decoded values by canonical encoding.
func canonicalEqual(a, b interface{}) bool {
	return canonicalKey(a) == canonicalKey(b)
}

// canonicalKey is the canonical encoding of a decoded value. Map keys sort
// during marshal, so equal values always encode identically.
func canonicalKey(v interface{}) string {
	enc, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(enc)
}

// renderPaths flattens structural entries into "path: value" lines.
func renderPaths(entries []DiffEntry) string {
	if len(entries) == 0 {
		return ""
	}
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		value := entry.After
		if entry.Action == DiffActionRemoved {
			value = entry.Before
		}
		lines = append(lines, fmt.Sprintf("%s: %s", entry.Path, canonicalKey(value)))
	}
	return strings.Join(lines, "\n")
}

// structAbsent reports whether nothing from the intended document is present
// in actual: no shared top-level key for objects, no matched element for
// sequences.
func structAbsent(want, have interface{}) bool {
	switch wantTyped := want.(type) {
	case map[string]interface{}:
		haveTyped, ok := have.(map[string]interface{})
		if !ok {
			return true
		}
		if len(wantTyped) == 0 {
			return false
		}
		for k := range wantTyped {
			if _, exists := haveTyped[k]; exists {
				return false
			}
		}
		return true

	case []interface{}:
		haveTyped, ok := have.([]interface{})
		if !ok {
			return true
		}
		if len(wantTyped) == 0 {
			return false
		}
		haveKeys := make(map[string]bool, len(haveTyped))
		for _, v := range haveTyped {
			haveKeys[canonicalKey(v)] = true
		}
		for _, v := range wantTyped {
			if haveKeys[canonicalKey(v)] {
				return false
			}
		}
		return true

	default:
		return false
	}
}
