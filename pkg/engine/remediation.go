package engine

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// defaultNegatePrefix undoes a configuration line on most CLI platforms.
const defaultNegatePrefix = "no "

// RemediationGenerator turns compliance diffs into ordered command
// sequences using per-platform rule sets. Rule sets are registered at
// startup; generation itself is read-only and safe for concurrent use.
type RemediationGenerator struct {
	mu        sync.RWMutex
	platforms map[string]*platformRuleSet
}

// platformRuleSet is a registered rule set with its expressions compiled.
type platformRuleSet struct {
	rules      *PlatformRules
	matchers   []*regexp.Regexp
	idempotent []*regexp.Regexp
	negate     string
}

// NewRemediationGenerator creates a generator with no registered platforms.
func NewRemediationGenerator() *RemediationGenerator {
	return &RemediationGenerator{
		platforms: make(map[string]*platformRuleSet),
	}
}

// RegisterPlatform registers the rule set for one platform, replacing any
// previous registration. Expressions are compiled here so bad rule
// definitions fail at startup rather than mid-generation.
func (g *RemediationGenerator) RegisterPlatform(rules *PlatformRules) error {
	if rules == nil || rules.Platform == "" {
		return NewValidationError("platform rules require a platform name", nil)
	}

	set := &platformRuleSet{
		rules:  rules,
		negate: rules.NegatePrefix,
	}
	if set.negate == "" {
		set.negate = defaultNegatePrefix
	}

	for _, rule := range rules.Rules {
		re, err := regexp.Compile(rule.Match)
		if err != nil {
			return NewValidationError(fmt.Sprintf("platform %q: invalid match pattern %q", rules.Platform, rule.Match), err)
		}
		set.matchers = append(set.matchers, re)
	}
	for _, pattern := range rules.IdempotentPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return NewValidationError(fmt.Sprintf("platform %q: invalid idempotent pattern %q", rules.Platform, pattern), err)
		}
		set.idempotent = append(set.idempotent, re)
	}

	g.mu.Lock()
	g.platforms[rules.Platform] = set
	g.mu.Unlock()

	return nil
}

// Platforms returns the registered platform names, sorted.
func (g *RemediationGenerator) Platforms() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, 0, len(g.platforms))
	for name := range g.platforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Generate derives the command sequence that moves the device from its
// actual state to the intended state described by the compliance result.
// A compliant result yields an empty command list and no error. Every
// diff entry must match a rule; an unmatched entry fails the whole feature
// so a partial fix is never emitted.
func (g *RemediationGenerator) Generate(device *Device, result *ComplianceResult) (*RemediationResult, error) {
	if device == nil {
		return nil, NewValidationError("device is required", nil)
	}
	if result == nil {
		return nil, NewValidationError("compliance result is required", nil).WithDevice(device.ID)
	}

	remediation := &RemediationResult{
		DeviceID:       device.ID,
		Feature:        result.Feature,
		Platform:       device.Platform,
		SourceRevision: result.Revision,
		GeneratedAt:    time.Now(),
	}

	if result.Compliant {
		return remediation, nil
	}

	g.mu.RLock()
	set, ok := g.platforms[device.Platform]
	g.mu.RUnlock()
	if !ok {
		return nil, NewPermanentError(fmt.Sprintf("no remediation rules registered for platform %q", device.Platform), nil).
			WithCode(ErrCodeUnsupportedRemediation).
			WithDevice(device.ID).
			WithFeature(result.Feature)
	}

	groups, err := groupEntries(device.Platform, result)
	if err != nil {
		return nil, err
	}

	for _, group := range groups {
		var commands []string

		for _, entry := range group.removed {
			if set.isIdempotent(entry, group.added) {
				continue
			}
			cmd, err := set.negateCommand(device.Platform, entry)
			if err != nil {
				return nil, err
			}
			commands = append(commands, cmd)
		}

		for _, entry := range group.added {
			cmd, err := set.assertCommand(device.Platform, entry)
			if err != nil {
				return nil, err
			}
			commands = append(commands, cmd)
		}

		if len(commands) == 0 {
			continue
		}

		remediation.Commands = append(remediation.Commands, group.context...)
		remediation.Commands = append(remediation.Commands, commands...)
	}

	return remediation, nil
}

// entryGroup collects the diff entries sharing one section chain.
type entryGroup struct {
	context []string
	removed []DiffEntry
	added   []DiffEntry
}

// groupEntries buckets diff entries by their section chain. Groups keep
// first-appearance order, scanning removed entries before added ones so
// negations for a section land ahead of its assertions.
func groupEntries(platform string, result *ComplianceResult) ([]*entryGroup, error) {
	var groups []*entryGroup
	index := make(map[string]*entryGroup)

	locate := func(entry DiffEntry) (*entryGroup, error) {
		if entry.Line == "" {
			element := entry.Path
			if element == "" {
				element = "(empty)"
			}
			return nil, NewUnsupportedRemediationError(platform, element).WithDevice(result.DeviceID).WithFeature(result.Feature)
		}
		key := strings.Join(entry.Context, "\n")
		group, ok := index[key]
		if !ok {
			group = &entryGroup{context: append([]string(nil), entry.Context...)}
			index[key] = group
			groups = append(groups, group)
		}
		return group, nil
	}

	for _, entry := range result.Removed {
		group, err := locate(entry)
		if err != nil {
			return nil, err
		}
		group.removed = append(group.removed, entry)
	}
	for _, entry := range result.Added {
		group, err := locate(entry)
		if err != nil {
			return nil, err
		}
		group.added = append(group.added, entry)
	}

	return groups, nil
}

// isIdempotent reports whether negating the removed entry is unnecessary
// because an added entry in the same section matches the same idempotent
// pattern and will overwrite the running value.
func (s *platformRuleSet) isIdempotent(removed DiffEntry, added []DiffEntry) bool {
	for _, re := range s.idempotent {
		if !re.MatchString(removed.Line) {
			continue
		}
		for _, entry := range added {
			if re.MatchString(entry.Line) {
				return true
			}
		}
	}
	return false
}

// assertCommand renders the command that establishes an intended line.
func (s *platformRuleSet) assertCommand(platform string, entry DiffEntry) (string, error) {
	rule, re, err := s.match(platform, entry)
	if err != nil {
		return "", err
	}
	if rule.AddCommand == "" {
		return entry.Indent + entry.Line, nil
	}
	return entry.Indent + expandTemplate(re, entry.Line, rule.AddCommand), nil
}

// negateCommand renders the command that undoes an extra line. Lines that
// already carry the negation prefix are un-negated instead of doubled.
func (s *platformRuleSet) negateCommand(platform string, entry DiffEntry) (string, error) {
	rule, re, err := s.match(platform, entry)
	if err != nil {
		return "", err
	}
	if rule.RemoveCommand != "" {
		return entry.Indent + expandTemplate(re, entry.Line, rule.RemoveCommand), nil
	}
	if strings.HasPrefix(entry.Line, s.negate) {
		return entry.Indent + strings.TrimPrefix(entry.Line, s.negate), nil
	}
	return entry.Indent + s.negate + entry.Line, nil
}

// match finds the first rule whose pattern matches the entry line.
func (s *platformRuleSet) match(platform string, entry DiffEntry) (*RemediationRule, *regexp.Regexp, error) {
	for i, re := range s.matchers {
		if re.MatchString(entry.Line) {
			return &s.rules.Rules[i], re, nil
		}
	}
	return nil, nil, NewUnsupportedRemediationError(platform, entry.Line)
}

// expandTemplate expands $1-style capture references in a command template.
func expandTemplate(re *regexp.Regexp, line, template string) string {
	match := re.FindStringSubmatchIndex(line)
	if match == nil {
		return template
	}
	return string(re.ExpandString(nil, template, line, match))
}
