// Package engine provides the core types and the orchestrator of the client
// provisioning workflow.
//
// # Overview
//
// Each onboarded client gets its own cloud project, billing link, enabled
// service APIs, an analytics dataset and an entry in the shared clients
// manifest. The orchestrator runs these steps in a fixed order:
//
//  1. project_created
//  2. billing_linked
//  3. capabilities_enabled
//  4. dataset_created
//  5. manifest_updated
//
// After every step the outcome is persisted through a StateTracker before the
// next step starts, so a run that crashes or fails resumes at the first unset
// flag. Steps check for their resource before creating it and treat an
// already-exists response as success, which makes redelivered triggers safe.
//
// # Concurrency
//
// Runs for the same client are serialized by a leased claim held in the state
// record. A run that cannot claim exits without side effects. Every state
// write is conditional on still holding the claim; a run that loses it stops
// before its next external call.
//
// # Error Classification
//
// Every error leaving a step is classified:
//
//   - ValidationError: the record is malformed, no external call is made
//   - TransientProviderError: retried in-process with exponential backoff
//   - AlreadyExistsConflict: treated as success
//   - PermanentProviderError: recorded as Failed, needs operator attention
//   - ManifestConflict: the manifest write lost too many races
//   - ManifestCorruptError: the manifest cannot be parsed, never overwritten
//   - ClaimConflict: another run holds the client
//
// Unclassified errors are treated as permanent.
package engine
