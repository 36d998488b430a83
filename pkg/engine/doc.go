// Package engine provides the core types and interfaces for the OpenConform compliance engine.
//
// # Overview
//
// OpenConform detects configuration drift on network devices and drives it back
// to the intended state. The engine operates through a 4-phase workflow:
//
//  1. Normalize - Canonicalize intended and actual configs (Normalizer)
//  2. Diff - Compute per-feature compliance results (DiffEngine)
//  3. Remediate - Translate diffs into ordered device commands (RemediationGenerator)
//  4. Deploy - Build plans and push commands to devices (PlanBuilder, DeploymentOrchestrator)
//
// # Core Domain Types
//
// The package defines the types that flow through the workflow:
//
//   - Device: An inventory entry with platform, location, role, and tags
//   - ConfigFeature: A named slice of device configuration with a diff strategy
//   - ConfigSnapshot: Intended or actual configuration captured at a point in time
//   - ComplianceResult: The diff outcome for one device/feature pair
//   - RemediationResult: Ordered commands that close a diff
//   - ConfigPlan: A reviewable set of per-device command entries
//   - DeploymentJob: One device's execution within a plan
//   - DeploymentSummary: The aggregate outcome of a deployment
//
// # Diff Strategies
//
// Features choose a comparison strategy:
//
//   - StrategyCLI: Line-oriented LCS diff with hierarchy context
//   - StrategyJSON: Structural diff over canonicalized documents
//   - StrategyCustom: A registered CompareFunc supplies the diff
//
// # Error Classification
//
// Errors are classified so the orchestrator can retry intelligently:
//
//   - Transient: Connection and timeout failures that may succeed on retry
//   - Validation: Malformed input rejected before any device is touched
//   - Rejected: Authentication failures and command rejections, never retried
//   - Permanent: Non-recoverable errors
//
// Use the error helper functions to classify and inspect errors:
//
//	if IsRetryable(err) {
//	    // Retry the operation
//	}
//
// # Persistence
//
// Store-backed implementations of the data interfaces live alongside the
// workflow types: DeviceRegistry (Inventory), StoreConfigSource
// (ConfigSource), StoreResultSource (ResultSource), PlanStore,
// StoreJobRecorder (JobRecorder), and GoldenTracker.
//
// # Thread Safety
//
// All interfaces are designed to be safe for concurrent use. Implementations
// must ensure proper synchronization when accessing shared state.
package engine
