package engine

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Normalizer converts raw configuration inputs into the canonical form the
// diff strategies compare. Both sides of a diff always pass through the same
// normalization, so comparison operates on like representations.
type Normalizer struct {
	// mu protects the compiled pattern cache.
	mu sync.RWMutex

	// patterns caches compiled scrub and match expressions.
	patterns map[string]*regexp.Regexp
}

// NewNormalizer creates a new normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		patterns: make(map[string]*regexp.Regexp),
	}
}

// compile returns the compiled form of pattern, caching it for reuse across
// devices. An invalid expression is reported as malformed input for the
// feature.
func (n *Normalizer) compile(feature, pattern string) (*regexp.Regexp, error) {
	n.mu.RLock()
	re, ok := n.patterns[pattern]
	n.mu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, NewMalformedInputError(feature, fmt.Errorf("invalid pattern %q: %w", pattern, err))
	}

	n.mu.Lock()
	n.patterns[pattern] = re
	n.mu.Unlock()

	return re, nil
}

// NormalizeText converts raw configuration text into canonical lines:
// trailing whitespace is stripped, blank lines are dropped, and the
// feature's remove and replace rules are applied in declared order. Remove
// rules run before replace rules. Line order is preserved; callers that
// need order-insensitive comparison sort afterwards with SortBlocks.
func (n *Normalizer) NormalizeText(feature *ConfigFeature, text string) ([]string, error) {
	var removeRules, replaceRules []*regexp.Regexp

	if feature != nil {
		for _, rule := range feature.RemoveRules {
			re, err := n.compile(feature.Name, rule.Pattern)
			if err != nil {
				return nil, err
			}
			removeRules = append(removeRules, re)
		}
		for _, rule := range feature.ReplaceRules {
			re, err := n.compile(feature.Name, rule.Pattern)
			if err != nil {
				return nil, err
			}
			replaceRules = append(replaceRules, re)
		}
	}

	rawLines := strings.Split(text, "\n")
	lines := make([]string, 0, len(rawLines))

	for _, raw := range rawLines {
		line := strings.TrimRight(raw, " \t\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		removed := false
		for _, re := range removeRules {
			if re.MatchString(line) {
				removed = true
				break
			}
		}
		if removed {
			continue
		}

		for i, re := range replaceRules {
			if re.MatchString(line) {
				line = re.ReplaceAllString(line, feature.ReplaceRules[i].Replace)
			}
		}

		// A replacement can leave an empty line behind.
		if strings.TrimSpace(line) == "" {
			continue
		}

		lines = append(lines, line)
	}

	return lines, nil
}

// NormalizeDocument converts a structured payload into its canonical
// encoding: object keys sorted, two-space indentation. Invalid JSON is
// malformed input.
func (n *Normalizer) NormalizeDocument(feature *ConfigFeature, raw json.RawMessage) (json.RawMessage, error) {
	name := ""
	if feature != nil {
		name = feature.Name
	}

	value, err := decodeDocument(raw)
	if err != nil {
		return nil, NewMalformedInputError(name, err)
	}

	canonical, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return nil, NewMalformedInputError(name, err)
	}

	return canonical, nil
}

// decodeDocument parses a JSON payload preserving number precision.
func decodeDocument(raw json.RawMessage) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}

	// Trailing content after the first value is also malformed.
	if dec.More() {
		return nil, fmt.Errorf("invalid document: trailing content after value")
	}

	return value, nil
}

// ExtractFeature pulls a feature's section out of a full configuration.
// A line matching any of the feature's match patterns starts a section; the
// section includes every following line indented deeper than its anchor.
// With no match patterns the whole text belongs to the feature.
func (n *Normalizer) ExtractFeature(feature *ConfigFeature, text string) (string, error) {
	if feature == nil || len(feature.MatchPatterns) == 0 {
		return text, nil
	}

	anchors := make([]*regexp.Regexp, 0, len(feature.MatchPatterns))
	for _, pattern := range feature.MatchPatterns {
		re, err := n.compile(feature.Name, pattern)
		if err != nil {
			return "", err
		}
		anchors = append(anchors, re)
	}

	lines := strings.Split(text, "\n")
	var out []string
	inSection := false
	anchorIndent := 0

	for _, raw := range lines {
		line := strings.TrimRight(raw, " \t\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := len(line) - len(strings.TrimLeft(line, " \t"))

		matched := false
		for _, re := range anchors {
			if re.MatchString(strings.TrimSpace(line)) {
				matched = true
				break
			}
		}

		switch {
		case matched:
			inSection = true
			anchorIndent = indent
			out = append(out, line)
		case inSection && indent > anchorIndent:
			out = append(out, line)
		default:
			inSection = false
		}
	}

	return strings.Join(out, "\n"), nil
}

// SortBlocks returns the lines with siblings sorted at every nesting level.
// Child lines travel with their parent. Used for features whose block
// members carry no ordering semantics.
func SortBlocks(lines []string) []string {
	blocks := parseBlocks(lines)
	sortBlockTree(blocks)

	out := make([]string, 0, len(lines))
	flattenBlocks(blocks, &out)
	return out
}

// configBlock is one line plus its indented children.
type configBlock struct {
	line     string
	children []*configBlock
}

// parseBlocks groups lines into blocks by indentation.
func parseBlocks(lines []string) []*configBlock {
	var blocks []*configBlock
	i := 0
	for i < len(lines) {
		indent := lineIndentWidth(lines[i])
		block := &configBlock{line: lines[i]}
		j := i + 1
		for j < len(lines) && lineIndentWidth(lines[j]) > indent {
			j++
		}
		if j > i+1 {
			block.children = parseBlocks(lines[i+1 : j])
		}
		blocks = append(blocks, block)
		i = j
	}
	return blocks
}

func sortBlockTree(blocks []*configBlock) {
	sort.SliceStable(blocks, func(i, j int) bool {
		return strings.TrimSpace(blocks[i].line) < strings.TrimSpace(blocks[j].line)
	})
	for _, b := range blocks {
		sortBlockTree(b.children)
	}
}

func flattenBlocks(blocks []*configBlock, out *[]string) {
	for _, b := range blocks {
		*out = append(*out, b.line)
		flattenBlocks(b.children, out)
	}
}

// lineIndentWidth returns the count of leading whitespace characters.
func lineIndentWidth(line string) int {
	return len(line) - len(strings.TrimLeft(line, " \t"))
}

// lineIndent returns the leading whitespace of a line verbatim.
func lineIndent(line string) string {
	return line[:lineIndentWidth(line)]
}

// hashText fingerprints a canonical form.
func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
