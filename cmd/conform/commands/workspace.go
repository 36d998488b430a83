package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openconform/openconform/pkg/drivers/ssh"
	"github.com/openconform/openconform/pkg/engine"
	"github.com/openconform/openconform/pkg/policy"
	"github.com/openconform/openconform/pkg/rules"
	"github.com/openconform/openconform/pkg/stores"
	"github.com/openconform/openconform/pkg/telemetry"
)

// defaultConfigFile is the workspace configuration file looked up in the
// working directory when --config is not given.
const defaultConfigFile = "conform.yaml"

// WorkspaceConfig is the top-level workspace configuration loaded from
// conform.yaml.
type WorkspaceConfig struct {
	// Store configures the persistence layer.
	Store StoreConfig `yaml:"store" validate:"required"`

	// Rules lists the CUE sources carrying feature definitions, platform
	// remediation rules, and custom comparators.
	Rules RulesConfig `yaml:"rules" validate:"required"`

	// Policy configures the deployment gate and optional user policy paths.
	Policy PolicyConfig `yaml:"policy"`

	// Intended points at the directory holding rendered intended configs,
	// laid out <device>/<feature>.<ext>.
	Intended IntendedConfig `yaml:"intended"`

	// Drivers configures one SSH driver per platform family.
	Drivers []ssh.Config `yaml:"drivers" validate:"dive"`

	// Deploy carries deployment defaults applied when flags are absent.
	Deploy DeployConfig `yaml:"deploy"`

	// Telemetry selects the telemetry profile and optional metrics endpoint.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	// Path is the database file path.
	Path string `yaml:"path" validate:"required"`
}

// RulesConfig configures the rule loader.
type RulesConfig struct {
	// Sources are CUE files or directories.
	Sources []string `yaml:"sources" validate:"required,min=1,dive,required"`
}

// PolicyConfig configures the deployment policy gate.
type PolicyConfig struct {
	// Gate holds the built-in policy parameters.
	Gate policy.GateConfig `yaml:"gate"`

	// Paths are .rego/.json files or directories with user policies.
	Paths []string `yaml:"paths"`
}

// IntendedConfig locates rendered intended configurations.
type IntendedConfig struct {
	// Path is the intended config directory.
	Path string `yaml:"path"`
}

// DeployConfig carries deployment defaults.
type DeployConfig struct {
	MaxParallel   int           `yaml:"max_parallel" validate:"gte=0"`
	MaxRetries    int           `yaml:"max_retries"`
	DeviceTimeout time.Duration `yaml:"device_timeout"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
}

// TelemetryConfig selects the telemetry profile.
type TelemetryConfig struct {
	// Profile picks the base configuration (development, production).
	Profile string `yaml:"profile" validate:"omitempty,oneof=development production"`

	// Tracing enables distributed tracing.
	Tracing bool `yaml:"tracing"`

	// MetricsListen enables the Prometheus endpoint on the given address.
	MetricsListen string `yaml:"metrics_listen"`
}

// loadWorkspaceConfig reads and validates the workspace configuration file.
func loadWorkspaceConfig(path string) (*WorkspaceConfig, error) {
	if path == "" {
		path = defaultConfigFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg WorkspaceConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config %s failed validation: %w", path, err)
	}

	return &cfg, nil
}

// workspace is the wired runtime behind every command: the store, the rule
// set, and the engine components built from them. Open it once per command
// invocation and Close it when done.
type workspace struct {
	cfg *WorkspaceConfig
	tel *telemetry.Telemetry

	store  stores.Store
	loader *rules.Loader
	rules  *rules.RuleSet

	registry    *engine.DeviceRegistry
	configs     *engine.StoreConfigSource
	results     *engine.StoreResultSource
	plans       *engine.PlanStore
	golden      *engine.GoldenTracker
	events      *engine.EventLog
	diffEngine  *engine.DiffEngine
	remediation *engine.RemediationGenerator
	gate        *policy.Gate
}

// openWorkspace loads the configuration, opens the store, loads and
// validates the rule set, and wires the engine components.
func openWorkspace(ctx context.Context) (*workspace, error) {
	cfg, err := loadWorkspaceConfig(configPath)
	if err != nil {
		return nil, err
	}

	tel, err := buildTelemetry(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logger := tel.Logger.Zerolog()

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Store.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	ws := &workspace{
		cfg:         cfg,
		tel:         tel,
		store:       store,
		loader:      rules.NewLoader(logger),
		registry:    engine.NewDeviceRegistry(store),
		configs:     engine.NewStoreConfigSource(store),
		results:     engine.NewStoreResultSource(store),
		plans:       engine.NewPlanStore(store),
		golden:      engine.NewGoldenTracker(store),
		events:      engine.NewEventLog(store),
		diffEngine:  engine.NewDiffEngine(nil),
		remediation: engine.NewRemediationGenerator(),
	}

	ruleSet, err := ws.loader.Load(ctx, cfg.Rules.Sources)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if !ruleSet.Valid() {
		_ = store.Close()
		return nil, fmt.Errorf("rule set has validation errors:\n%s", formatRuleErrors(ruleSet))
	}
	ws.rules = ruleSet

	if err := ws.loader.Evaluator().RegisterComparators(ws.diffEngine, ruleSet); err != nil {
		_ = store.Close()
		return nil, err
	}
	for i := range ruleSet.Platforms {
		if err := ws.remediation.RegisterPlatform(&ruleSet.Platforms[i]); err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	gate, err := policy.NewGate(cfg.Policy.Gate, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if len(cfg.Policy.Paths) > 0 {
		if err := gate.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	ws.gate = gate

	return ws, nil
}

// Close releases the workspace's resources.
func (ws *workspace) Close() error {
	if ws.tel != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ws.tel.Shutdown(shutdownCtx)
	}
	return ws.store.Close()
}

// buildTelemetry builds the telemetry stack from the workspace profile.
func buildTelemetry(cfg *WorkspaceConfig) (*telemetry.Telemetry, error) {
	var tcfg *telemetry.Config
	switch cfg.Telemetry.Profile {
	case "production":
		tcfg = telemetry.ProductionConfig()
	case "development":
		tcfg = telemetry.DevelopmentConfig()
	default:
		tcfg = telemetry.DefaultConfig()
	}

	tcfg.ServiceName = "conform"
	tcfg.Logging.Output = "stderr"
	if verbose {
		tcfg.Logging.Level = "debug"
	}
	tcfg.Tracing.Enabled = cfg.Telemetry.Tracing
	tcfg.Metrics.Enabled = cfg.Telemetry.MetricsListen != ""
	if cfg.Telemetry.MetricsListen != "" {
		tcfg.Metrics.ListenAddress = cfg.Telemetry.MetricsListen
	}

	return telemetry.NewTelemetry(tcfg)
}

// driverResolver builds the SSH driver resolver from the configured drivers.
func (ws *workspace) driverResolver() (*ssh.Resolver, error) {
	resolver := ssh.NewResolver()
	for i := range ws.cfg.Drivers {
		driver, err := ssh.NewDriver(&ws.cfg.Drivers[i])
		if err != nil {
			return nil, fmt.Errorf("driver for platform %s: %w", ws.cfg.Drivers[i].Platform, err)
		}
		resolver.Register(ws.cfg.Drivers[i].Platform, driver)
	}
	return resolver, nil
}

// formatRuleErrors renders rule validation problems one per line.
func formatRuleErrors(ruleSet *rules.RuleSet) string {
	var b strings.Builder
	for i := range ruleSet.Errors {
		fmt.Fprintf(&b, "  %s: %s\n", ruleSet.Errors[i].Severity, ruleSet.Errors[i].Error())
	}
	return b.String()
}

// filterFlags are the shared device-selection flags.
type filterFlags struct {
	names       []string
	ids         []string
	locations   []string
	roles       []string
	platforms   []string
	deviceTypes []string
	tags        []string
	statuses    []string
}

// toFilter converts the flags to a device filter.
func (f *filterFlags) toFilter() engine.DeviceFilter {
	filter := engine.DeviceFilter{
		Names:       f.names,
		IDs:         f.ids,
		Locations:   f.locations,
		Roles:       f.roles,
		Platforms:   f.platforms,
		DeviceTypes: f.deviceTypes,
		Tags:        f.tags,
	}
	for _, s := range f.statuses {
		filter.Statuses = append(filter.Statuses, engine.DeviceStatus(s))
	}
	return filter
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
