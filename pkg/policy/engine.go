package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/openconform/openconform/pkg/engine"
	"github.com/rs/zerolog"
)

// GateConfig configures the deployment gate.
type GateConfig struct {
	// Environment is the deployment environment handed to policies
	// (e.g., "production", "development").
	Environment string `yaml:"environment"`

	// MaxPlanEntries caps the number of devices one plan may touch.
	// Zero disables the blast-radius policy.
	MaxPlanEntries int `yaml:"max_plan_entries"`

	// MaintenanceWindow marks an active maintenance window, relaxing the
	// reload restriction.
	MaintenanceWindow bool `yaml:"maintenance_window"`

	// BlastRadiusOverride acknowledges oversized plans explicitly.
	BlastRadiusOverride bool `yaml:"blast_radius_override"`
}

// Gate implements the engine.PolicyGate interface over compiled Rego
// policies. Built-in policies are always present; user policies loaded from
// .rego files extend the set and can be hot-reloaded.
type Gate struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	cfg      GateConfig
	logger   zerolog.Logger
	builtin  []Policy
}

// compiledPolicy represents a compiled Rego policy with its prepared query.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewGate creates a deployment gate with the built-in policies compiled.
func NewGate(cfg GateConfig, logger zerolog.Logger) (*Gate, error) {
	g := &Gate{
		policies: make(map[string]*compiledPolicy),
		cfg:      cfg,
		logger:   logger.With().Str("component", "policy-gate").Logger(),
		builtin:  GetBuiltinPolicies(),
	}

	if err := g.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return g, nil
}

// CheckDeploy evaluates the plan against every enabled policy. A blocking
// violation denies the whole deployment before any device is touched;
// non-blocking violations come back as warning strings for the summary.
func (g *Gate) CheckDeploy(ctx context.Context, plan *engine.ConfigPlan, opts *engine.DeployOptions) ([]string, error) {
	result, err := g.EvaluatePlan(ctx, plan, opts)
	if err != nil {
		return nil, err
	}

	warnings := make([]string, 0, len(result.Warnings))
	for _, w := range result.Warnings {
		warnings = append(warnings, fmt.Sprintf("%s: %s", w.Policy, w.Message))
	}

	if !result.Allowed {
		messages := make([]string, 0, len(result.Violations))
		for _, v := range result.Violations {
			messages = append(messages, fmt.Sprintf("%s: %s", v.Policy, v.Message))
		}
		return warnings, engine.NewRejectedError(
			fmt.Sprintf("deployment denied by policy: %s", strings.Join(messages, "; ")), nil).
			WithCode(engine.ErrCodePolicyDenied).
			WithDetail("violations", result.Violations)
	}

	return warnings, nil
}

// EvaluatePlan evaluates every enabled policy against the plan and splits
// the violations into blocking and warning sets.
func (g *Gate) EvaluatePlan(ctx context.Context, plan *engine.ConfigPlan, opts *engine.DeployOptions) (*GateResult, error) {
	if plan == nil {
		return nil, engine.NewValidationError("plan is nil", nil)
	}

	startTime := time.Now()

	input := &GateInput{
		Plan:    plan,
		Options: opts,
		Context: &GateContext{
			Environment:         g.cfg.Environment,
			MaintenanceWindow:   g.cfg.MaintenanceWindow,
			MaxPlanEntries:      g.cfg.MaxPlanEntries,
			BlastRadiusOverride: g.cfg.BlastRadiusOverride,
			Timestamp:           startTime,
		},
	}
	if opts != nil {
		input.Context.User = opts.User
		input.Context.DryRun = opts.DryRun
	}

	g.mu.RLock()
	compiled := make([]*compiledPolicy, 0, len(g.policies))
	for _, cp := range g.policies {
		if cp.policy.Enabled {
			compiled = append(compiled, cp)
		}
	}
	g.mu.RUnlock()

	// Policies evaluate in name order so repeated runs report violations
	// identically.
	sort.Slice(compiled, func(i, j int) bool {
		return compiled[i].policy.Name < compiled[j].policy.Name
	})

	result := &GateResult{
		Allowed:     true,
		EvaluatedAt: startTime,
	}

	for _, cp := range compiled {
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, cp.policy.Name)

		violations, err := g.evaluatePolicy(ctx, cp, input)
		if err != nil {
			// A policy that cannot evaluate must not silently wave the
			// plan through.
			return nil, engine.NewPermanentError(
				fmt.Sprintf("policy %s failed to evaluate", cp.policy.Name), err).
				WithCode(engine.ErrCodePolicyDenied)
		}

		for _, v := range violations {
			if v.Severity.Blocks() {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}

	result.Duration = time.Since(startTime)

	g.logger.Debug().
		Str("plan_id", plan.ID).
		Bool("allowed", result.Allowed).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Plan policy evaluation completed")

	return result, nil
}

// evaluatePolicy runs one compiled policy's deny query against the input.
func (g *Gate) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *GateInput) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		for _, expr := range result.Expressions {
			denySet, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range denySet {
				violations = append(violations, g.createViolation(cp.policy, d, input))
			}
		}
	}

	return violations, nil
}

// createViolation converts one deny result into a Violation, honoring the
// severity and device the policy attached.
func (g *Gate) createViolation(policy *Policy, result interface{}, input *GateInput) Violation {
	violation := Violation{
		Policy:     policy.Name,
		Severity:   policy.Severity,
		DetectedAt: time.Now(),
	}
	if input.Plan != nil {
		violation.PlanID = input.Plan.ID
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if device, ok := v["device"].(string); ok {
			violation.DeviceID = device
		}
		if details, ok := v["details"].(map[string]interface{}); ok {
			violation.Details = details
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// LoadPolicies loads user policy files from the given paths and adds them to
// the gate. A policy that fails to compile aborts the whole load.
func (g *Gate) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(g.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	return g.ReplaceUserPolicies(policies)
}

// ReplaceUserPolicies swaps the user policy set, keeping built-ins. The swap
// is all-or-nothing: a compile failure leaves the previous set in place.
func (g *Gate) ReplaceUserPolicies(policies []Policy) error {
	compiled := make(map[string]*compiledPolicy, len(policies))
	for i := range policies {
		cp, err := compilePolicy(context.Background(), &policies[i])
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
		compiled[policies[i].Name] = cp
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for name, cp := range g.policies {
		if !cp.policy.Builtin {
			delete(g.policies, name)
		}
	}
	for name, cp := range compiled {
		g.policies[name] = cp
	}

	g.logger.Info().
		Int("count", len(compiled)).
		Msg("User policies loaded")

	return nil
}

// Watch starts watching the given paths and swaps the user policy set when a
// file changes. Invalid edits keep the previous set.
func (g *Gate) Watch(ctx context.Context, paths []string) error {
	loader := NewLoader(g.logger)
	return loader.Watch(ctx, paths, func(policies []Policy) error {
		return g.ReplaceUserPolicies(policies)
	})
}

// GetPolicy returns a policy by name.
func (g *Gate) GetPolicy(name string) (*Policy, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cp, exists := g.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns all loaded policies, sorted by name.
func (g *Gate) ListPolicies() []Policy {
	g.mu.RLock()
	defer g.mu.RUnlock()

	policies := make([]Policy, 0, len(g.policies))
	for _, cp := range g.policies {
		policies = append(policies, *cp.policy)
	}
	sort.Slice(policies, func(i, j int) bool {
		return policies[i].Name < policies[j].Name
	})
	return policies
}

// EnablePolicy enables a policy by name.
func (g *Gate) EnablePolicy(name string) error {
	return g.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (g *Gate) DisablePolicy(name string) error {
	return g.setEnabled(name, false)
}

func (g *Gate) setEnabled(name string, enabled bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cp, exists := g.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled

	g.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}

// loadBuiltinPolicies compiles the built-in policy set.
func (g *Gate) loadBuiltinPolicies(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := range g.builtin {
		cp, err := compilePolicy(ctx, &g.builtin[i])
		if err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", g.builtin[i].Name, err)
		}
		g.policies[g.builtin[i].Name] = cp
	}

	g.logger.Debug().
		Int("count", len(g.builtin)).
		Msg("Built-in policies loaded")

	return nil
}

// compilePolicy parses a policy's Rego module and prepares its deny query
// for repeated evaluation.
func compilePolicy(ctx context.Context, policy *Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	query := fmt.Sprintf("data.%s.deny", extractPackageName(policy.Rego))

	prepared, err := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Query(query),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	return &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    prepared,
		compiled: time.Now(),
	}, nil
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(code string) string {
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "openconform.policies"
}
