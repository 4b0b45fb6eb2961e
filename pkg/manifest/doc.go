// Package manifest maintains the shared clients manifest: a JSON array with
// one entry per provisioned client, keyed by slug, read by the downstream
// analytics pipeline.
//
// The manifest is always replaced as a whole with a conditional write against
// the generation read at the start of the cycle, so concurrent provisioning
// runs for different clients never lose each other's entries and readers never
// see a partial file. A manifest that exists but does not decode is reported
// as corrupt and left untouched.
package manifest
