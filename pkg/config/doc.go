// Package config loads the provisioner service configuration.
//
// Values come from three layers, later layers winning:
//
//  1. Defaults (Default)
//  2. An optional YAML file; unknown keys are rejected
//  3. Environment variables
//
// The deployment variable names of the onboarding pipeline are honoured:
// CLIENT_FOLDER_ID, BILLING_ACCOUNT_ID, DATASET_ID, CLIENTS_CONFIG_BUCKET and
// CLIENTS_CONFIG_FILENAME. The PROVISIONER_* variables and LOG_LEVEL /
// LOG_FORMAT cover the rest.
//
// # Example
//
//	provisioning:
//	  parent: folders/123456789
//	  billing_account: 0000AA-BBBBBB-CCCCCC
//	  claim_ttl: 30m
//	  max_attempts: 10
//	retry:
//	  attempt_timeout: 15m
//	manifest:
//	  location: gs://clients-config/clients.json
//	state:
//	  backend: firestore
//	firestore:
//	  project: onboarding-prod
//	policy:
//	  paths: [/etc/provisioner/policies]
//	  watch: true
//
// Validate applies struct rules with go-playground/validator and then the
// cross-section rules, most importantly that a step attempt ends before the
// claim it runs under expires.
package config
