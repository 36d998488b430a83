package engine

import (
	"strings"
	"time"
)

// compareLines implements the cli-line-diff strategy. Both sides are
// normalized to canonical lines, aligned with a longest-common-subsequence
// pass, and the unmatched lines become added and removed entries. Added
// entries keep intended-document order, removed entries keep
// actual-document order.
func (e *DiffEngine) compareLines(device *Device, feature *ConfigFeature, intended, actual *ConfigSnapshot) (*ComplianceResult, error) {
	intendedLines, err := e.normalizer.NormalizeText(feature, intended.Text)
	if err != nil {
		return nil, err
	}
	actualLines, err := e.normalizer.NormalizeText(feature, actual.Text)
	if err != nil {
		return nil, err
	}

	// Hashes cover the canonical form in source order, so a pure reorder of
	// an order-insensitive feature still registers as a change upstream.
	intendedHash := hashText(strings.Join(intendedLines, "\n"))
	actualHash := hashText(strings.Join(actualLines, "\n"))

	diffIntended, diffActual := intendedLines, actualLines
	if feature.OrderInsensitive {
		diffIntended = SortBlocks(intendedLines)
		diffActual = SortBlocks(actualLines)
	}

	addedIdx, removedIdx := diffLines(diffIntended, diffActual)

	intendedContexts := lineContexts(diffIntended)
	actualContexts := lineContexts(diffActual)

	added := make([]DiffEntry, 0, len(addedIdx))
	for _, i := range addedIdx {
		added = append(added, lineEntry(DiffActionAdded, diffIntended[i], intendedContexts[i]))
	}
	removed := make([]DiffEntry, 0, len(removedIdx))
	for _, j := range removedIdx {
		removed = append(removed, lineEntry(DiffActionRemoved, diffActual[j], actualContexts[j]))
	}

	result := &ComplianceResult{
		DeviceID:     device.ID,
		Feature:      feature.Name,
		Strategy:     StrategyCLI,
		Compliant:    len(added) == 0 && len(removed) == 0,
		Added:        added,
		Removed:      removed,
		Missing:      renderEntries(added),
		Extra:        renderEntries(removed),
		Ordered:      linesOrdered(intendedLines, actualLines),
		IntendedHash: intendedHash,
		ActualHash:   actualHash,
		ComputedAt:   time.Now(),
	}

	// Nothing from intended matched at all: the feature is absent from the
	// device, not merely drifted.
	if len(intendedLines) > 0 && len(addedIdx) == len(intendedLines) {
		result.IntendedAbsent = true
	}

	return result, nil
}

// lineEntry builds a diff entry from a source line and its section chain.
func lineEntry(action DiffAction, line string, context []string) DiffEntry {
	return DiffEntry{
		Action:  action,
		Line:    strings.TrimSpace(line),
		Indent:  lineIndent(line),
		Context: append([]string(nil), context...),
	}
}

// diffLines aligns two line sequences with a longest-common-subsequence
// table and returns the unmatched indices on each side, in source order.
// Quadratic in the input sizes, which network feature sections stay well
// within.
func diffLines(intended, actual []string) (added, removed []int) {
	n, m := len(intended), len(actual)

	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			switch {
			case intended[i] == actual[j]:
				dp[i][j] = dp[i+1][j+1] + 1
			case dp[i+1][j] >= dp[i][j+1]:
				dp[i][j] = dp[i+1][j]
			default:
				dp[i][j] = dp[i][j+1]
			}
		}
	}

	i, j := 0, 0
	for i < n && j < m {
		switch {
		case intended[i] == actual[j]:
			i++
			j++
		case dp[i+1][j] >= dp[i][j+1]:
			added = append(added, i)
			i++
		default:
			removed = append(removed, j)
			j++
		}
	}
	for ; i < n; i++ {
		added = append(added, i)
	}
	for ; j < m; j++ {
		removed = append(removed, j)
	}

	return added, removed
}

// lineContexts returns, for each line, the chain of enclosing section lines
// in source form, outermost first. A line's parents are the nearest
// preceding lines with strictly smaller indentation.
func lineContexts(lines []string) [][]string {
	contexts := make([][]string, len(lines))
	var stack []int

	for i, line := range lines {
		indent := lineIndentWidth(line)
		for len(stack) > 0 && lineIndentWidth(lines[stack[len(stack)-1]]) >= indent {
			stack = stack[:len(stack)-1]
		}

		if len(stack) > 0 {
			chain := make([]string, len(stack))
			for k, idx := range stack {
				chain[k] = lines[idx]
			}
			contexts[i] = chain
		}

		stack = append(stack, i)
	}

	return contexts
}

// renderEntries rebuilds configuration text from diff entries, emitting each
// enclosing section line once above its members.
func renderEntries(entries []DiffEntry) string {
	if len(entries) == 0 {
		return ""
	}

	var out []string
	var prev []string

	for _, entry := range entries {
		common := 0
		for common < len(prev) && common < len(entry.Context) && prev[common] == entry.Context[common] {
			common++
		}
		for _, parent := range entry.Context[common:] {
			out = append(out, parent)
		}
		out = append(out, entry.Indent+entry.Line)
		prev = entry.Context
	}

	return strings.Join(out, "\n")
}

// linesOrdered reports whether the lines shared by both sides appear in the
// same relative order. A line surfacing as both added and removed under a
// longest-common-subsequence alignment is a moved line.
func linesOrdered(intended, actual []string) bool {
	addedIdx, removedIdx := diffLines(intended, actual)

	counts := make(map[string]int, len(addedIdx))
	for _, i := range addedIdx {
		counts[intended[i]]++
	}
	for _, j := range removedIdx {
		if counts[actual[j]] > 0 {
			return false
		}
	}
	return true
}
