package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		projectNamingPolicy(),
		displayNamePolicy(),
	}
}

// projectNamingPolicy enforces the cloud project identifier rules so that a
// bad identifier is rejected before any API call.
func projectNamingPolicy() Policy {
	return Policy{
		Name:        "project-naming",
		Description: "Project ids are 6-30 lowercase letters, digits or hyphens, start with a letter and do not end with a hyphen",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package provisioner.builtin.project_naming

import rego.v1

project_id := input.client.project_id

deny contains msg if {
	count(project_id) < 6
	msg := sprintf("project id '%s' is shorter than 6 characters", [project_id])
}

deny contains msg if {
	count(project_id) > 30
	msg := sprintf("project id '%s' is longer than 30 characters", [project_id])
}

deny contains msg if {
	not regex.match("^[a-z][a-z0-9-]*$", project_id)
	msg := sprintf("project id '%s' must start with a lowercase letter and contain only lowercase letters, digits and hyphens", [project_id])
}

deny contains msg if {
	endswith(project_id, "-")
	msg := sprintf("project id '%s' must not end with a hyphen", [project_id])
}

deny contains msg if {
	some word in ["google", "null", "undefined", "ssl"]
	contains(project_id, word)
	msg := sprintf("project id '%s' contains the restricted word '%s'", [project_id, word])
}
`,
	}
}

// displayNamePolicy warns when the client name will be truncated.
func displayNamePolicy() Policy {
	return Policy{
		Name:        "display-name-length",
		Description: "Warns when the client name exceeds the 30 character project display name limit",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Rego: `package provisioner.builtin.display_name

import rego.v1

deny contains violation if {
	count(input.client.name) > 30
	violation := {
		"message": sprintf("client name '%s' will be truncated to 30 characters", [input.client.name]),
		"severity": "warning",
	}
}
`,
	}
}
