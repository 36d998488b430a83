package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Defaults for plan deployment.
const (
	// DefaultMaxParallel is the default worker pool size.
	DefaultMaxParallel = 5

	// DefaultMaxRetries is the default retry count per device after the
	// first attempt.
	DefaultMaxRetries = 2

	// DefaultDeviceTimeout bounds one connect-push-disconnect attempt.
	DefaultDeviceTimeout = 5 * time.Minute

	// DefaultRetryBackoff is the base delay for exponential retry backoff.
	DefaultRetryBackoff = 1 * time.Second
)

// DeployOptions contains options for deploying a config plan.
type DeployOptions struct {
	// MaxParallel is the maximum number of devices deployed to
	// concurrently. Zero or negative uses the default.
	MaxParallel int `json:"max_parallel,omitempty"`

	// MaxRetries is the retry count per device for transient failures.
	// Zero uses the default; negative disables retries.
	MaxRetries int `json:"max_retries,omitempty"`

	// DeviceTimeout bounds a single attempt against one device.
	DeviceTimeout time.Duration `json:"device_timeout,omitempty"`

	// RetryBackoff is the base delay for exponential retry backoff. Zero or
	// negative uses the default.
	RetryBackoff time.Duration `json:"retry_backoff,omitempty"`

	// DryRun validates the deployment without contacting any device.
	DryRun bool `json:"dry_run,omitempty"`

	// User is the user initiating the deployment.
	User string `json:"user,omitempty"`
}

// withDefaults returns a copy with unset options filled in.
func (o DeployOptions) withDefaults() DeployOptions {
	if o.MaxParallel <= 0 {
		o.MaxParallel = DefaultMaxParallel
	}
	switch {
	case o.MaxRetries == 0:
		o.MaxRetries = DefaultMaxRetries
	case o.MaxRetries < 0:
		o.MaxRetries = 0
	}
	if o.DeviceTimeout <= 0 {
		o.DeviceTimeout = DefaultDeviceTimeout
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	return o
}

// DeploymentOrchestrator pushes approved config plans to their devices
// through a bounded worker pool. Devices are deployed to in parallel; the
// commands for one device always run sequentially over a single session.
type DeploymentOrchestrator struct {
	// drivers resolves the device driver per platform
	drivers DriverResolver

	// inventory resolves plan entries to devices
	inventory Inventory

	// recorder persists job transitions; optional
	recorder JobRecorder

	// gate evaluates deployment policy before dispatch; optional
	gate PolicyGate

	// eventPublisher publishes deployment events; optional
	eventPublisher EventPublisher
}

// NewDeploymentOrchestrator creates a new deployment orchestrator. The
// recorder, gate, and event publisher may be nil.
func NewDeploymentOrchestrator(
	drivers DriverResolver,
	inventory Inventory,
	recorder JobRecorder,
	gate PolicyGate,
	eventPublisher EventPublisher,
) *DeploymentOrchestrator {
	return &DeploymentOrchestrator{
		drivers:        drivers,
		inventory:      inventory,
		recorder:       recorder,
		gate:           gate,
		eventPublisher: eventPublisher,
	}
}

// deployState tracks the jobs of one deployment. Each Deploy call gets its
// own state so concurrent deployments of different plans don't interleave.
type deployState struct {
	mu   sync.RWMutex
	jobs map[string]*DeploymentJob
}

func newDeployState(plan *ConfigPlan) *deployState {
	state := &deployState{
		jobs: make(map[string]*DeploymentJob, len(plan.Entries)),
	}
	for _, entry := range plan.Entries {
		state.jobs[entry.ID] = &DeploymentJob{
			ID:       uuid.New().String(),
			PlanID:   plan.ID,
			EntryID:  entry.ID,
			DeviceID: entry.DeviceID,
			Status:   JobStatusPending,
		}
	}
	return state
}

func (s *deployState) job(entryID string) *DeploymentJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[entryID]
}

// cancelPending marks every job that never reached a worker as cancelled.
// Cancelled jobs carry no output or error; nothing ran against the device.
func (s *deployState) cancelPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.Status == JobStatusPending {
			job.Status = JobStatusCancelled
		}
	}
}

// Deploy pushes the plan's command sets to their devices and blocks until
// every entry reaches a terminal state or the context is cancelled. On
// cancellation, in-flight devices finish their current attempt and entries
// never dispatched are marked cancelled.
func (o *DeploymentOrchestrator) Deploy(ctx context.Context, plan *ConfigPlan, opts DeployOptions) (*DeploymentSummary, error) {
	if plan == nil {
		return nil, NewValidationError("plan is nil", nil)
	}
	if !plan.Status.IsDeployable() {
		return nil, NewValidationError(fmt.Sprintf("plan %s is not deployable in state %s", plan.ID, plan.Status), nil)
	}

	opts = opts.withDefaults()

	summary := &DeploymentSummary{
		PlanID:    plan.ID,
		Total:     len(plan.Entries),
		StartedAt: time.Now(),
	}

	// Policy is consulted once, before any device is touched. A denial
	// aborts the whole deployment.
	if o.gate != nil {
		warnings, err := o.gate.CheckDeploy(ctx, plan, &opts)
		if err != nil {
			o.publishEvent(ctx, plan.ID, "", "", EventTypePolicyDenied,
				fmt.Sprintf("Deployment denied by policy: %v", err), "error")
			return nil, err
		}
		summary.Warnings = warnings
	}

	plan.Status = PlanStateInProgress
	o.publishEvent(ctx, plan.ID, "", "", EventTypeDeployStarted,
		fmt.Sprintf("Deployment started for plan %s", plan.Name), "info")

	state := newDeployState(plan)

	workQueue := make(chan *ConfigPlanEntry, len(plan.Entries))
	for i := range plan.Entries {
		workQueue <- &plan.Entries[i]
	}
	close(workQueue)

	workerCount := opts.MaxParallel
	if len(plan.Entries) < workerCount {
		workerCount = len(plan.Entries)
	}

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for entry := range workQueue {
				select {
				case <-ctx.Done():
					return
				default:
				}

				o.deployEntry(ctx, state, entry, opts)
			}
		}()
	}

	wg.Wait()

	if ctx.Err() != nil {
		state.cancelPending()
	}

	o.finalize(ctx, plan, state, summary)

	if o.recorder != nil {
		if err := o.recorder.RecordSummary(ctx, summary); err != nil {
			return summary, fmt.Errorf("failed to record deployment summary: %w", err)
		}
	}

	return summary, nil
}

// deployEntry runs one plan entry to a terminal state, retrying transient
// failures with exponential backoff. Authentication failures and command
// rejections are never retried.
func (o *DeploymentOrchestrator) deployEntry(ctx context.Context, state *deployState, entry *ConfigPlanEntry, opts DeployOptions) {
	job := state.job(entry.ID)

	state.mu.Lock()
	job.Status = JobStatusInProgress
	job.StartedAt = time.Now()
	state.mu.Unlock()

	o.recordJob(ctx, job)
	o.publishEvent(ctx, job.PlanID, job.ID, job.DeviceID, EventTypeJobStarted,
		fmt.Sprintf("Pushing %d commands to %s", len(entry.Commands), entry.DeviceName), "info")

	var output string
	var err error

	device, err := o.inventory.GetDevice(ctx, entry.DeviceID)
	if err == nil {
		for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
			state.mu.Lock()
			job.Attempts = attempt + 1
			state.mu.Unlock()

			if opts.DryRun {
				output, err = o.simulateDryRun(entry), nil
			} else {
				output, err = o.pushOnce(ctx, device, entry.Commands, opts.DeviceTimeout)
			}

			if err == nil {
				break
			}
			err = classifyDeviceError(err)

			if !IsRetryable(err) {
				break
			}
			if attempt >= opts.MaxRetries {
				break
			}

			backoff := o.calculateBackoff(attempt, opts.RetryBackoff)
			o.publishEvent(ctx, job.PlanID, job.ID, job.DeviceID, EventTypeJobRetried,
				fmt.Sprintf("Retrying %s after failure (attempt %d/%d)", entry.DeviceName, attempt+1, opts.MaxRetries+1),
				"warning")

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				attempt = opts.MaxRetries
			}
		}
	}

	finishedAt := time.Now()

	state.mu.Lock()
	job.Output = output
	job.FinishedAt = &finishedAt
	job.Duration = finishedAt.Sub(job.StartedAt)
	if err != nil {
		job.Status = JobStatusFailed
		job.Error = err.Error()
	} else {
		job.Status = JobStatusSucceeded
	}
	state.mu.Unlock()

	o.recordJob(ctx, job)

	if err != nil {
		o.publishEvent(ctx, job.PlanID, job.ID, job.DeviceID, EventTypeJobFailed,
			fmt.Sprintf("Failed to deploy to %s: %v", entry.DeviceName, err), "error")
	} else {
		o.publishEvent(ctx, job.PlanID, job.ID, job.DeviceID, EventTypeJobSucceeded,
			fmt.Sprintf("Deployed to %s", entry.DeviceName), "info")
	}
}

// pushOnce performs one connect-push-disconnect attempt against a device.
// The commands run in order over a single session; partial output survives
// a failing command.
func (o *DeploymentOrchestrator) pushOnce(ctx context.Context, device *Device, commands []string, timeout time.Duration) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	driver, err := o.drivers.Resolve(device)
	if err != nil {
		return "", err
	}

	session, err := driver.Connect(attemptCtx, device)
	if err != nil {
		return "", err
	}
	defer session.Close()

	return session.PushCommands(attemptCtx, commands)
}

// simulateDryRun produces the output of a deployment that touches nothing.
func (o *DeploymentOrchestrator) simulateDryRun(entry *ConfigPlanEntry) string {
	return fmt.Sprintf("[dry-run] validated %d commands for %s", len(entry.Commands), entry.DeviceName)
}

// calculateBackoff calculates exponential backoff with jitter.
func (o *DeploymentOrchestrator) calculateBackoff(attempt int, baseDelay time.Duration) time.Duration {
	// Exponential backoff: delay = baseDelay * 2^attempt
	delay := baseDelay * time.Duration(math.Pow(2, float64(attempt)))

	// Cap at 1 minute
	if delay > time.Minute {
		delay = time.Minute
	}

	// Add jitter (±25%)
	jitter := time.Duration(float64(delay) * 0.25)
	delay = delay + jitter/2

	return delay
}

// finalize computes the aggregate outcome, mirrors job states onto the plan
// entries, and publishes the completion event.
func (o *DeploymentOrchestrator) finalize(ctx context.Context, plan *ConfigPlan, state *deployState, summary *DeploymentSummary) {
	state.mu.RLock()
	for i := range plan.Entries {
		entry := &plan.Entries[i]
		job := state.jobs[entry.ID]
		if job == nil {
			continue
		}
		entry.Status = job.Status

		summary.Jobs = append(summary.Jobs, *job)
		if job.Attempts > 1 {
			summary.Retries += job.Attempts - 1
		}
		switch job.Status {
		case JobStatusSucceeded:
			summary.Succeeded++
		case JobStatusFailed:
			summary.Failed++
		case JobStatusCancelled:
			summary.Cancelled++
		}
	}
	state.mu.RUnlock()

	switch {
	case summary.Total == 0 || summary.Succeeded == summary.Total:
		summary.Outcome = OutcomeSucceeded
	case summary.Failed == summary.Total:
		summary.Outcome = OutcomeFailed
	case summary.Cancelled == summary.Total:
		summary.Outcome = OutcomeCancelled
	default:
		summary.Outcome = OutcomePartial
	}

	summary.CompletedAt = time.Now()
	summary.Duration = summary.CompletedAt.Sub(summary.StartedAt)

	switch summary.Outcome {
	case OutcomeCancelled:
		plan.Status = PlanStateCancelled
	default:
		plan.Status = PlanStateCompleted
	}

	if summary.Outcome == OutcomeSucceeded {
		o.publishEvent(ctx, plan.ID, "", "", EventTypeDeployCompleted,
			fmt.Sprintf("Deployment completed: %d/%d devices succeeded", summary.Succeeded, summary.Total), "info")
	} else {
		o.publishEvent(ctx, plan.ID, "", "", EventTypeDeployFailed,
			fmt.Sprintf("Deployment finished with outcome %s: %d succeeded, %d failed, %d cancelled",
				summary.Outcome, summary.Succeeded, summary.Failed, summary.Cancelled), "error")
	}
}

// recordJob persists a job transition when a recorder is wired.
func (o *DeploymentOrchestrator) recordJob(ctx context.Context, job *DeploymentJob) {
	if o.recorder == nil {
		return
	}
	// Recording failures must not alter the deployment outcome.
	_ = o.recorder.RecordJob(ctx, job)
}

// classifyDeviceError converts a device error into an EngineError so the
// retry loop can act on its class. Driver errors carry their own
// classification; everything unrecognized is permanent.
func classifyDeviceError(err error) error {
	if err == nil {
		return nil
	}

	var engErr *EngineError
	if errors.As(err, &engErr) {
		return err
	}

	var auth interface{ AuthFailed() bool }
	if errors.As(err, &auth) && auth.AuthFailed() {
		return NewRejectedError("authentication rejected by device", err).WithCode(ErrCodeAuthFailed)
	}

	var rejected interface{ Rejected() bool }
	if errors.As(err, &rejected) && rejected.Rejected() {
		return NewRejectedError("command rejected by device", err).WithCode(ErrCodeCommandRejected)
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) {
		if temporary.Temporary() {
			return NewTransientError("transient device failure", err).WithCode(ErrCodeConnection)
		}
		return NewPermanentError("device operation failed", err).WithCode(ErrCodeConnection)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewTransientError("device operation timed out", err).WithCode(ErrCodeTimeout)
	}

	return NewPermanentError("device operation failed", err)
}

// publishEvent publishes a deployment event.
func (o *DeploymentOrchestrator) publishEvent(
	ctx context.Context,
	planID, jobID, deviceID string,
	eventType EventType,
	message, level string,
) {
	if o.eventPublisher == nil {
		return
	}

	event := &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		PlanID:    planID,
		JobID:     jobID,
		DeviceID:  deviceID,
		Message:   message,
		Level:     level,
	}

	// Publish event asynchronously to avoid blocking
	go func() {
		if err := o.eventPublisher.Publish(ctx, event); err != nil {
			// Dropped events are acceptable during deployment
			_ = err
		}
	}()
}
