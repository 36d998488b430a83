package rules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/openconform/openconform/pkg/engine"
)

// Loader parses rule definitions from CUE sources into a RuleSet. Feature
// definitions, platform remediation rules, and custom comparators all live in
// the same CUE package; multiple sources unify into one value before
// extraction, so a feature and its comparator may come from different files.
type Loader struct {
	ctx       *cue.Context
	registry  *SchemaRegistry
	evaluator *Evaluator
	validator *validator.Validate
	logger    zerolog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewLoader creates a new rule loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		ctx:       cuecontext.New(),
		registry:  NewSchemaRegistry(),
		evaluator: NewEvaluator(0),
		validator: validator.New(),
		logger:    logger.With().Str("component", "rules-loader").Logger(),
	}
}

// Registry returns the schema registry used for rule validation.
func (l *Loader) Registry() *SchemaRegistry {
	return l.registry
}

// Evaluator returns the Starlark evaluator used for comparator scripts.
func (l *Loader) Evaluator() *Evaluator {
	return l.evaluator
}

// Load parses rule definitions from the given sources. Sources may be CUE
// files or directories containing a CUE package. Parse and validation
// problems are collected into the returned rule set's Errors rather than
// aborting the load, so one bad file reports every problem it has.
func (l *Loader) Load(ctx context.Context, sources []string) (*RuleSet, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var cueValue cue.Value
	var sourceFiles []string
	var parseErrors []ValidationError

	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		if info.IsDir() {
			val, files, errs := l.loadDirectory(source)
			if len(errs) > 0 {
				parseErrors = append(parseErrors, errs...)
			}
			if val.Exists() {
				if cueValue.Exists() {
					cueValue = cueValue.Unify(val)
				} else {
					cueValue = val
				}
			}
			sourceFiles = append(sourceFiles, files...)
		} else {
			val, errs := l.loadFile(source)
			if len(errs) > 0 {
				parseErrors = append(parseErrors, errs...)
			}
			if val.Exists() {
				if cueValue.Exists() {
					cueValue = cueValue.Unify(val)
				} else {
					cueValue = val
				}
			}
			sourceFiles = append(sourceFiles, source)
		}
	}

	if len(parseErrors) > 0 {
		return &RuleSet{
			SourceFiles: sourceFiles,
			LoadedAt:    time.Now(),
			Errors:      parseErrors,
		}, nil
	}

	if err := cueValue.Err(); err != nil {
		return &RuleSet{
			SourceFiles: sourceFiles,
			LoadedAt:    time.Now(),
			Errors:      l.convertCUEErrors(err),
		}, nil
	}

	ruleSet := l.extractRuleSet(ctx, cueValue, sourceFiles)
	l.validateRuleSet(ruleSet)

	l.logger.Info().
		Int("features", len(ruleSet.Features)).
		Int("platforms", len(ruleSet.Platforms)).
		Int("comparators", len(ruleSet.Comparators)).
		Int("errors", len(ruleSet.Errors)).
		Msg("Rule set loaded")

	return ruleSet, nil
}

// LoadInline parses rule definitions from inline CUE content.
func (l *Loader) LoadInline(ctx context.Context, content string) (*RuleSet, error) {
	val := l.ctx.CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		return &RuleSet{
			SourceFiles: []string{"inline"},
			LoadedAt:    time.Now(),
			Errors:      l.convertCUEErrors(err),
		}, nil
	}

	ruleSet := l.extractRuleSet(ctx, val, []string{"inline"})
	l.validateRuleSet(ruleSet)
	return ruleSet, nil
}

// loadDirectory loads a directory of rule files. Files carrying a package
// clause load as CUE package instances; a plain directory of standalone .cue
// files falls back to unifying each file in lexical order.
func (l *Loader) loadDirectory(dir string) (cue.Value, []string, []ValidationError) {
	val, files, errs := l.loadPackageDir(dir)
	if len(files) > 0 || len(errs) > 0 {
		return val, files, errs
	}
	return l.loadStandaloneFiles(dir)
}

// loadPackageDir loads the CUE package instances found in a directory and
// unifies them. Instances without files are skipped so a package-less
// directory reports nothing instead of a loader error.
func (l *Loader) loadPackageDir(dir string) (cue.Value, []string, []ValidationError) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})

	var cueValue cue.Value
	var files []string
	var errs []ValidationError

	for _, inst := range instances {
		if len(inst.Files) == 0 {
			continue
		}
		if inst.Err != nil {
			errs = append(errs, l.convertCUEErrors(inst.Err)...)
			continue
		}

		val := l.ctx.BuildInstance(inst)
		if err := val.Err(); err != nil {
			errs = append(errs, l.convertCUEErrors(err)...)
			continue
		}

		if cueValue.Exists() {
			cueValue = cueValue.Unify(val)
		} else {
			cueValue = val
		}
		for _, file := range inst.Files {
			if file.Filename != "" {
				files = append(files, file.Filename)
			}
		}
	}

	return cueValue, files, errs
}

// loadStandaloneFiles unifies every .cue file under a directory.
func (l *Loader) loadStandaloneFiles(dir string) (cue.Value, []string, []ValidationError) {
	var cueValue cue.Value
	var files []string
	var errs []ValidationError

	walkErr := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".cue") {
			return nil
		}

		val, fileErrs := l.loadFile(path)
		if len(fileErrs) > 0 {
			errs = append(errs, fileErrs...)
			return nil
		}

		if cueValue.Exists() {
			cueValue = cueValue.Unify(val)
		} else {
			cueValue = val
		}
		files = append(files, path)
		return nil
	})
	if walkErr != nil {
		errs = append(errs, ValidationError{
			File:     dir,
			Message:  fmt.Sprintf("failed to walk directory: %v", walkErr),
			Severity: "error",
		})
	}

	if len(files) == 0 && len(errs) == 0 {
		errs = append(errs, ValidationError{
			File:     dir,
			Message:  "no CUE files found",
			Severity: "error",
		})
	}

	return cueValue, files, errs
}

// loadFile loads a single CUE file.
func (l *Loader) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	val := l.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, l.convertCUEErrors(err)
	}

	return val, nil
}

// extractRuleSet extracts features, platform rules, and comparators from a
// unified CUE value.
func (l *Loader) extractRuleSet(ctx context.Context, val cue.Value, sourceFiles []string) *RuleSet {
	ruleSet := &RuleSet{
		SourceFiles: sourceFiles,
		LoadedAt:    time.Now(),
		Comparators: make(map[string]Comparator),
	}

	l.extractFeatures(ctx, val, ruleSet)
	l.extractPlatforms(ctx, val, ruleSet)
	l.extractComparators(ctx, val, ruleSet)

	return ruleSet
}

// extractFeatures extracts feature definitions. Features are declared either
// as a two-level struct keyed by platform then feature name, or as a list of
// definitions carrying explicit name and platform fields.
func (l *Loader) extractFeatures(ctx context.Context, val cue.Value, ruleSet *RuleSet) {
	featuresVal := val.LookupPath(cue.ParsePath("features"))
	if !featuresVal.Exists() {
		return
	}

	switch featuresVal.Kind() {
	case cue.StructKind:
		platformIter, err := featuresVal.Fields(cue.All())
		if err != nil {
			ruleSet.Errors = append(ruleSet.Errors, ValidationError{
				Path:     "features",
				Message:  fmt.Sprintf("failed to iterate features: %v", err),
				Severity: "error",
			})
			return
		}
		for platformIter.Next() {
			platform := selectorLabel(platformIter.Selector())
			nameIter, err := platformIter.Value().Fields(cue.All())
			if err != nil {
				ruleSet.Errors = append(ruleSet.Errors, ValidationError{
					Path:     fmt.Sprintf("features.%s", platform),
					Message:  fmt.Sprintf("failed to iterate platform features: %v", err),
					Severity: "error",
				})
				continue
			}
			for nameIter.Next() {
				name := selectorLabel(nameIter.Selector())
				feature, err := l.extractFeature(ctx, name, platform, nameIter.Value())
				if err != nil {
					ruleSet.Errors = append(ruleSet.Errors, ValidationError{
						Path:     fmt.Sprintf("features.%s.%s", platform, name),
						Message:  err.Error(),
						Severity: "error",
					})
					continue
				}
				ruleSet.Features = append(ruleSet.Features, feature)
			}
		}

	case cue.ListKind:
		list, err := featuresVal.List()
		if err != nil {
			ruleSet.Errors = append(ruleSet.Errors, ValidationError{
				Path:     "features",
				Message:  fmt.Sprintf("failed to list features: %v", err),
				Severity: "error",
			})
			return
		}
		idx := 0
		for list.Next() {
			feature, err := l.extractFeature(ctx, "", "", list.Value())
			if err != nil {
				ruleSet.Errors = append(ruleSet.Errors, ValidationError{
					Path:     fmt.Sprintf("features[%d]", idx),
					Message:  err.Error(),
					Severity: "error",
				})
			} else {
				ruleSet.Features = append(ruleSet.Features, feature)
			}
			idx++
		}

	default:
		ruleSet.Errors = append(ruleSet.Errors, ValidationError{
			Path:     "features",
			Message:  fmt.Sprintf("features must be a struct or list, got %s", featuresVal.Kind()),
			Severity: "error",
		})
	}
}

// extractFeature decodes and validates a single feature definition. The name
// and platform arguments fill fields omitted because they were CUE keys.
func (l *Loader) extractFeature(ctx context.Context, name, platform string, val cue.Value) (engine.ConfigFeature, error) {
	var feature engine.ConfigFeature

	if err := val.Decode(&feature); err != nil {
		return feature, fmt.Errorf("failed to decode feature: %w", err)
	}

	if feature.Name == "" && name != "" {
		feature.Name = name
	}
	if feature.Platform == "" && platform != "" {
		feature.Platform = platform
	}

	if err := l.validator.Struct(feature); err != nil {
		return feature, fmt.Errorf("validation failed: %w", err)
	}

	if err := l.registry.ValidateFeature(ctx, feature); err != nil {
		return feature, err
	}

	return feature, nil
}

// extractPlatforms extracts per-platform remediation rule sets. Platforms are
// declared as a struct keyed by platform name, or as a list with explicit
// platform fields.
func (l *Loader) extractPlatforms(ctx context.Context, val cue.Value, ruleSet *RuleSet) {
	platformsVal := val.LookupPath(cue.ParsePath("platforms"))
	if !platformsVal.Exists() {
		return
	}

	switch platformsVal.Kind() {
	case cue.StructKind:
		iter, err := platformsVal.Fields(cue.All())
		if err != nil {
			ruleSet.Errors = append(ruleSet.Errors, ValidationError{
				Path:     "platforms",
				Message:  fmt.Sprintf("failed to iterate platforms: %v", err),
				Severity: "error",
			})
			return
		}
		for iter.Next() {
			platform := selectorLabel(iter.Selector())
			rules, err := l.extractPlatformRules(ctx, platform, iter.Value())
			if err != nil {
				ruleSet.Errors = append(ruleSet.Errors, ValidationError{
					Path:     fmt.Sprintf("platforms.%s", platform),
					Message:  err.Error(),
					Severity: "error",
				})
				continue
			}
			ruleSet.Platforms = append(ruleSet.Platforms, rules)
		}

	case cue.ListKind:
		list, err := platformsVal.List()
		if err != nil {
			ruleSet.Errors = append(ruleSet.Errors, ValidationError{
				Path:     "platforms",
				Message:  fmt.Sprintf("failed to list platforms: %v", err),
				Severity: "error",
			})
			return
		}
		idx := 0
		for list.Next() {
			rules, err := l.extractPlatformRules(ctx, "", list.Value())
			if err != nil {
				ruleSet.Errors = append(ruleSet.Errors, ValidationError{
					Path:     fmt.Sprintf("platforms[%d]", idx),
					Message:  err.Error(),
					Severity: "error",
				})
			} else {
				ruleSet.Platforms = append(ruleSet.Platforms, rules)
			}
			idx++
		}

	default:
		ruleSet.Errors = append(ruleSet.Errors, ValidationError{
			Path:     "platforms",
			Message:  fmt.Sprintf("platforms must be a struct or list, got %s", platformsVal.Kind()),
			Severity: "error",
		})
	}
}

// extractPlatformRules decodes and validates one platform rule set.
func (l *Loader) extractPlatformRules(ctx context.Context, platform string, val cue.Value) (engine.PlatformRules, error) {
	var rules engine.PlatformRules

	if err := val.Decode(&rules); err != nil {
		return rules, fmt.Errorf("failed to decode platform rules: %w", err)
	}

	if rules.Platform == "" && platform != "" {
		rules.Platform = platform
	}

	if err := l.validator.Struct(rules); err != nil {
		return rules, fmt.Errorf("validation failed: %w", err)
	}

	if err := l.registry.ValidatePlatformRules(ctx, rules); err != nil {
		return rules, err
	}

	return rules, nil
}

// extractComparators extracts custom comparator scripts. A comparator value
// is either a bare string holding the script or a struct with script and
// timeout fields.
func (l *Loader) extractComparators(ctx context.Context, val cue.Value, ruleSet *RuleSet) {
	comparatorsVal := val.LookupPath(cue.ParsePath("comparators"))
	if !comparatorsVal.Exists() {
		return
	}

	if comparatorsVal.Kind() != cue.StructKind {
		ruleSet.Errors = append(ruleSet.Errors, ValidationError{
			Path:     "comparators",
			Message:  fmt.Sprintf("comparators must be a struct, got %s", comparatorsVal.Kind()),
			Severity: "error",
		})
		return
	}

	iter, err := comparatorsVal.Fields(cue.All())
	if err != nil {
		ruleSet.Errors = append(ruleSet.Errors, ValidationError{
			Path:     "comparators",
			Message:  fmt.Sprintf("failed to iterate comparators: %v", err),
			Severity: "error",
		})
		return
	}

	for iter.Next() {
		name := selectorLabel(iter.Selector())
		comparator, err := l.extractComparator(ctx, name, iter.Value())
		if err != nil {
			ruleSet.Errors = append(ruleSet.Errors, ValidationError{
				Path:     fmt.Sprintf("comparators.%s", name),
				Message:  err.Error(),
				Severity: "error",
			})
			continue
		}
		ruleSet.Comparators[comparator.Name] = comparator
	}
}

// extractComparator decodes and validates one comparator definition,
// including a syntax check of its Starlark script.
func (l *Loader) extractComparator(ctx context.Context, name string, val cue.Value) (Comparator, error) {
	var comparator Comparator

	if val.Kind() == cue.StringKind {
		script, err := val.String()
		if err != nil {
			return comparator, fmt.Errorf("failed to read script: %w", err)
		}
		comparator = Comparator{Name: name, Script: script}
	} else {
		if err := val.Decode(&comparator); err != nil {
			return comparator, fmt.Errorf("failed to decode comparator: %w", err)
		}
		if comparator.Name == "" && name != "" {
			comparator.Name = name
		}
	}

	if err := l.validator.Struct(comparator); err != nil {
		return comparator, fmt.Errorf("validation failed: %w", err)
	}

	if err := l.registry.ValidateComparator(ctx, comparator); err != nil {
		return comparator, err
	}

	if err := l.evaluator.Check(comparator); err != nil {
		return comparator, fmt.Errorf("script check failed: %w", err)
	}

	return comparator, nil
}

// validateRuleSet runs cross-reference checks over an extracted rule set.
// Problems are appended to the set's Errors with the severity they deserve:
// a custom feature naming a missing comparator can never diff and is an
// error, while a platform without remediation rules only fails later if
// someone asks to remediate it.
func (l *Loader) validateRuleSet(ruleSet *RuleSet) {
	seenFeatures := make(map[string]bool)
	platformsWithRules := make(map[string]bool)
	referencedComparators := make(map[string]bool)

	for i := range ruleSet.Platforms {
		platform := ruleSet.Platforms[i].Platform
		if platformsWithRules[platform] {
			ruleSet.Errors = append(ruleSet.Errors, ValidationError{
				Path:     fmt.Sprintf("platforms.%s", platform),
				Message:  fmt.Sprintf("duplicate rule set for platform %q", platform),
				Severity: "error",
			})
		}
		platformsWithRules[platform] = true
	}

	for i := range ruleSet.Features {
		feature := &ruleSet.Features[i]
		key := feature.Platform + "/" + feature.Name

		if seenFeatures[key] {
			ruleSet.Errors = append(ruleSet.Errors, ValidationError{
				Path:     fmt.Sprintf("features.%s.%s", feature.Platform, feature.Name),
				Message:  fmt.Sprintf("duplicate feature %q for platform %q", feature.Name, feature.Platform),
				Severity: "error",
			})
		}
		seenFeatures[key] = true

		if feature.Comparator != "" {
			referencedComparators[feature.Comparator] = true
			if _, ok := ruleSet.Comparators[feature.Comparator]; !ok {
				ruleSet.Errors = append(ruleSet.Errors, ValidationError{
					Path:     fmt.Sprintf("features.%s.%s", feature.Platform, feature.Name),
					Message:  fmt.Sprintf("comparator %q is not defined", feature.Comparator),
					Severity: "error",
				})
			}
		}

		if !platformsWithRules[feature.Platform] {
			ruleSet.Errors = append(ruleSet.Errors, ValidationError{
				Path:     fmt.Sprintf("features.%s.%s", feature.Platform, feature.Name),
				Message:  fmt.Sprintf("platform %q has no remediation rules", feature.Platform),
				Severity: "warning",
			})
		}
	}

	for name := range ruleSet.Comparators {
		if !referencedComparators[name] {
			ruleSet.Errors = append(ruleSet.Errors, ValidationError{
				Path:     fmt.Sprintf("comparators.%s", name),
				Message:  fmt.Sprintf("comparator %q is not referenced by any feature", name),
				Severity: "warning",
			})
		}
	}
}

// convertCUEErrors converts CUE errors to a ValidationError slice.
func (l *Loader) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	errs := errors.Errors(err)
	for _, e := range errs {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}

	return validationErrors
}

// selectorLabel returns a CUE selector as a plain label, stripping the
// quoting String() adds for non-identifier keys.
func selectorLabel(sel cue.Selector) string {
	return strings.Trim(sel.String(), `"`)
}

// Watch starts watching the given paths for rule changes. On a change,
// the paths are reloaded after a debounce period; reloadFn is invoked only
// when the reloaded set is valid, so a half-saved edit never replaces a
// working rule set.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func(*RuleSet) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	l.mu.Lock()
	l.watcher = watcher
	l.mu.Unlock()

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to stat path for watching")
			continue
		}

		if info.IsDir() {
			if err := l.watchDirectory(path); err != nil {
				l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch directory")
			}
		} else {
			if err := watcher.Add(path); err != nil {
				l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch file")
			}
		}
	}

	go l.processEvents(ctx, watcher, paths, reloadFn)

	l.logger.Info().
		Int("paths", len(paths)).
		Msg("Started watching rule paths")

	return nil
}

// watchDirectory adds a directory tree to the watcher.
func (l *Loader) watchDirectory(dirPath string) error {
	return filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return l.watcher.Add(path)
		}

		return nil
	})
}

// processEvents processes file system events and triggers debounced reloads.
func (l *Loader) processEvents(ctx context.Context, watcher *fsnotify.Watcher, paths []string, reloadFn func(*RuleSet) error) {
	var reloadTimer *time.Timer
	reloadDelay := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 && strings.HasSuffix(event.Name, ".cue") {
				l.logger.Debug().
					Str("file", event.Name).
					Str("op", event.Op.String()).
					Msg("Rule file changed")

				if reloadTimer != nil {
					reloadTimer.Stop()
				}
				reloadTimer = time.AfterFunc(reloadDelay, func() {
					if err := l.triggerReload(ctx, paths, reloadFn); err != nil {
						l.logger.Error().Err(err).Msg("Failed to reload rules")
					}
				})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// triggerReload reloads all rules from watched paths and applies them.
// An invalid set is reported and dropped; the previously applied set stays
// in effect.
func (l *Loader) triggerReload(ctx context.Context, paths []string, reloadFn func(*RuleSet) error) error {
	l.logger.Info().Msg("Reloading rules...")

	ruleSet, err := l.Load(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to reload rules: %w", err)
	}

	if !ruleSet.Valid() {
		count := 0
		for i := range ruleSet.Errors {
			if ruleSet.Errors[i].Severity == "error" {
				count++
			}
		}
		return fmt.Errorf("reloaded rules have %d validation errors, keeping previous set", count)
	}

	if err := reloadFn(ruleSet); err != nil {
		return fmt.Errorf("failed to apply reloaded rules: %w", err)
	}

	l.logger.Info().
		Int("features", len(ruleSet.Features)).
		Int("platforms", len(ruleSet.Platforms)).
		Msg("Rules reloaded successfully")

	return nil
}

// StopWatching stops watching for file changes.
func (l *Loader) StopWatching() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.watcher != nil {
		err := l.watcher.Close()
		l.watcher = nil
		return err
	}
	return nil
}
