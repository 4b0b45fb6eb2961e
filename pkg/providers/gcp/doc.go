// Package gcp implements the cloud-side provisioning steps against Google
// Cloud: project creation under a parent folder, billing linkage, service
// enablement and dataset creation.
//
// Each step checks for its resource before creating it, so re-running a step
// after a crash or a redelivery is safe. API errors are mapped onto the
// engine error taxonomy by Classify; steps never retry on their own, the
// orchestrator's retry policy does.
//
// The steps talk to small interfaces (ProjectsAPI, BillingAPI, ServicesAPI,
// DatasetsAPI). Clients implements them over the Google API client libraries
// with a shared rate limiter and a per-request timeout.
package gcp
