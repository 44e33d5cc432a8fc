// Package engine provides the core types and the orchestrator for gateway setup runs.
//
// # Overview
//
// A setup run walks a DAG of steps, each performing one Action against an
// external system through a ServiceAdapter. A run has four phases:
//
//  1. Graph - validate the step set and compute a topological order (DAGBuilder)
//  2. Pre-flight - check environment, configuration, policy and connectivity once (Validator)
//  3. Execute - run each step with pre/post-conditions and retries (Orchestrator)
//  4. Report - summarise every step's final status (VerificationReport)
//
// # Step Lifecycle
//
// Within a run each step moves through a small state machine:
//
//	pending -> running -> succeeded | failed
//	pending -> blocked
//	pending -> succeeded   (restored from a previous run)
//
// Every transition into running, succeeded or failed is written to the
// StateStore before the orchestrator moves on, so an interrupted run can
// be resumed. Blocked is derived from dependency state and is not persisted.
//
// # Failure Handling
//
// Adapter errors are mapped by a Classifier onto six categories:
// credential, configuration, network, permission, resource and unknown.
// Only network failures are retried, following the RetryPolicy's
// exponential backoff. A non-retryable failure halts the run and the
// remaining steps are reported as blocked. A resource conflict on an
// idempotent step counts as success.
//
// # Basic Usage
//
//	orch := engine.NewOrchestrator(adapter, store, validator,
//	    engine.WithRetryPolicy(engine.DefaultRetryPolicy()),
//	    engine.WithTelemetry(tel),
//	)
//
//	result, err := orch.Run(ctx, steps, engine.RunOptions{Resume: true})
//	if err != nil {
//	    return err
//	}
//	result.Report.Render(os.Stdout)
package engine
