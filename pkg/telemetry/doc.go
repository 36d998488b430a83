// Package telemetry provides comprehensive observability instrumentation for OpenConform.
//
// The telemetry package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing into a unified system
// for monitoring and debugging OpenConform operations.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Async event system for audit and notifications
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "openconform"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	// Start metrics server
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context propagation:
//
//	logger := tel.Logger.NewComponentLogger("orchestrator")
//	logger = logger.WithPlan("plan-123").WithDevice("dev-456", "sw-edge-01")
//	logger.Info("Dispatching deployment job")
//	logger.WithError(err).Error("Device session failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into request flow and performance:
//
//	ctx, span := tel.Tracer.StartDiffSpan(ctx, deviceID, "ntp", "cli")
//	defer span.End()
//
//	// Add attributes
//	span.SetAttributes(
//	    telemetry.AttrState.String("non_compliant"),
//	    telemetry.AttrRevision.Int64(3),
//	)
//
//	// Record errors
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Span helpers exist for the main operations: StartDiffSpan, StartPlanBuildSpan,
// StartDeploySpan, StartJobSpan, StartDriverSpan.
//
// Supported exporters: OTLP (production), Stdout (development)
//
// # Metrics
//
// Prometheus metrics track system behavior and performance:
//
//	// Record compliance runs
//	tel.Metrics.RecordComplianceRun("ntp", "non_compliant", "cli", duration)
//	tel.Metrics.RecordDriftDetected("ntp", "ios")
//
//	// Record remediation and plan builds
//	tel.Metrics.RecordRemediation("ios", "succeeded", 12)
//	tel.Metrics.RecordPlanBuilt("remediation", 37)
//
//	// Record deployments
//	tel.Metrics.RecordDeployStarted("user@example.com")
//	tel.Metrics.RecordJobCompleted("succeeded", "ios", duration)
//	tel.Metrics.RecordDeployCompleted("partial", duration)
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics)
//
// # Event Publishing
//
// The event system provides async publishing with buffering and filtering:
//
//	// Publish events
//	tel.Events.PublishDriftDetected(deviceID, "ntp", 4)
//	tel.Events.PublishPlanCreated(planID, "remediation", 37)
//	tel.Events.PublishDeployCompleted(planID, "succeeded", duration)
//
//	// Subscribe to events
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel("warning"))
//
// Event filters: FilterByLevel, FilterByType, FilterByPlanID, FilterByDeviceID
//
// # Context Helpers
//
// High-level helpers simplify common instrumentation patterns:
//
//	// Instrument an operation
//	ic := telemetry.StartOperation(ctx, "plan.build",
//	    telemetry.AttrPlanType.String("remediation"))
//	defer ic.End(err)
//
//	ic.Logger.Info("Building config plan")
//
//	// Deployment context
//	ctx = telemetry.WithDeployContext(ctx, planID, user)
//	defer telemetry.EndDeployContext(ctx, planID, outcome, err)
//
//	// Per-device job context
//	ctx = telemetry.WithJobContext(ctx, planID, jobID, deviceID)
//	defer telemetry.EndJobContext(ctx, planID, jobID, deviceID, platform, status, err)
//
//	// Driver operation
//	err := telemetry.RecordDriverOperation(ctx, "ios", "push_commands", func() error {
//	    return session.PushCommands(ctx, commands)
//	})
//
// # Configuration
//
// The package provides pre-configured setups for different environments:
//
//	// Development (verbose logging, stdout traces, full sampling)
//	cfg := telemetry.DevelopmentConfig()
//
//	// Production (JSON logs, OTLP traces, 10% sampling)
//	cfg := telemetry.ProductionConfig()
//
//	// Custom configuration
//	cfg := &telemetry.Config{
//	    ServiceName: "openconform",
//	    ServiceVersion: "1.0.0",
//	    Environment: "staging",
//	    Logging: telemetry.LoggingConfig{
//	        Level: "info",
//	        Format: "json",
//	    },
//	    Tracing: telemetry.TracingConfig{
//	        Enabled: true,
//	        Exporter: "otlp",
//	        Endpoint: "otel-collector:4317",
//	        SamplingRate: 0.1,
//	    },
//	    Metrics: telemetry.MetricsConfig{
//	        Enabled: true,
//	        ListenAddress: ":9090",
//	    },
//	}
//
// # Performance Considerations
//
// The telemetry system is designed for minimal overhead:
//
//   - Structured logging uses zerolog's zero-allocation approach
//   - Tracing uses sampling to reduce data volume in production
//   - Metrics use Prometheus's efficient storage format
//   - Events are buffered and batched to reduce I/O
//   - All operations are non-blocking when possible
//
// # Graceful Shutdown
//
// Always shut down telemetry gracefully to flush pending data:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("Telemetry shutdown error: %v", err)
//	}
//
// This ensures:
//   - All buffered events are published
//   - All pending traces are exported
//   - Metrics are finalized
//
// # Integration with the OpenConform Engine
//
// The engine components integrate with telemetry when available:
//
//  1. Compliance diffs: Per-run tracing, duration histograms, drift events
//  2. Remediation: Command-count metrics per platform
//  3. Plan builds: Plan-type counters and entry-count histograms
//  4. Deployments: Deploy-level and per-job tracing, retry counters
//  5. Policy gate: Policy violation events
//
// # Common Metrics
//
// Key metrics exposed:
//
//   - openconform_compliance_runs_total{feature,state}
//   - openconform_diff_duration_seconds{strategy}
//   - openconform_drift_detections_total{feature,platform}
//   - openconform_remediation_commands_generated_total{platform}
//   - openconform_plans_built_total{plan_type}
//   - openconform_deploys_completed_total{outcome}
//   - openconform_deployment_jobs_total{status}
//   - openconform_deployment_job_retries_total{platform}
//   - openconform_driver_calls_total{platform,operation}
//   - openconform_errors_by_class_total{class}
//   - openconform_active_deploys
//   - openconform_active_deploy_workers
//
// # Security Considerations
//
//   - Never log sensitive data (credentials, keys, tokens)
//   - Scrub device config lines before logging (see the normalizer's replace rules)
//   - Use secure connections (TLS) for trace exporters in production
//   - Limit metrics endpoint access via network policies
//   - Consider event data before adding to audit logs
package telemetry
