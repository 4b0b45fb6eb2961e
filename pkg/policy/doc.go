// Package policy provides Open Policy Agent (OPA) admission checks for client
// records.
//
// Before a client is provisioned its record is evaluated against every
// enabled Rego policy. Each policy package defines a "deny" set; members are
// either plain messages or objects of the form
//
//	{"message": "...", "severity": "warning"}
//
// Violations with error or critical severity deny admission and surface as a
// validation error, so nothing is created for the client. Warnings are logged.
//
// # Input
//
// Policies see the record under input.client, using its JSON field names:
//
//	package provisioner.custom.region
//
//	import rego.v1
//
//	deny contains msg if {
//		startswith(input.client.slug, "test")
//		msg := "test clients are provisioned in the sandbox folder only"
//	}
//
// # Built-in policies
//
// project-naming rejects project ids the cloud would refuse, and
// display-name-length warns when a client name will be truncated.
//
// # Loading and reload
//
// Engine.LoadPolicies reads .rego files and JSON policy definitions from files
// or directories. Engine.Watch uses fsnotify to reload them on change; a set
// that fails to compile is rejected and the previous policies stay in force.
package policy
