// Package trigger receives "client record created" notifications and hands
// validated records to the provisioning orchestrator.
//
// Events arrive as Firestore document-change envelopes, either pushed to the
// HTTP endpoint or passed in directly. Records that are missing mandatory
// fields, or denied by an admission policy, are rejected with a validation
// error before any state is touched. The workflow result is propagated as
// the trigger's own result so the delivery mechanism can redeliver failures.
package trigger
