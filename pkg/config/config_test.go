package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func validConfig() *Config {
	cfg := Default()
	cfg.Provisioning.Parent = "folders/123456789"
	return cfg
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "provisioner.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestDefaultRequiresParent(t *testing.T) {
	if err := Default().Validate(); err == nil {
		t.Fatal("Expected validation error without a parent")
	}
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Expected defaults plus parent to validate, got %v", err)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Provisioning.DatasetID != "meta_ads" {
		t.Errorf("Expected dataset meta_ads, got %s", cfg.Provisioning.DatasetID)
	}
	if cfg.Provisioning.DatasetLocation != "US" {
		t.Errorf("Expected location US, got %s", cfg.Provisioning.DatasetLocation)
	}
	if cfg.Manifest.Location != "gs://clients-config/clients.json" {
		t.Errorf("Unexpected manifest location %s", cfg.Manifest.Location)
	}
	if len(cfg.Provisioning.Services) != 5 {
		t.Errorf("Expected 5 required services, got %d", len(cfg.Provisioning.Services))
	}
	if cfg.Retry.AttemptTimeout >= cfg.Provisioning.ClaimTTL {
		t.Error("Expected default attempt timeout to be shorter than the claim TTL")
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
provisioning:
  parent: folders/42
  billing_account: 0000AA-BBBBBB-CCCCCC
  claim_ttl: 45m
  required_services:
    - bigquery.googleapis.com
retry:
  max_attempts: 3
  attempt_timeout: 20m
manifest:
  location: s3://clients/clients.json
state:
  backend: memory
policy:
  paths: [./policies]
  watch: true
telemetry:
  service_name: provisioner
  logging:
    level: debug
    format: json
`)

	t.Setenv("LOG_LEVEL", "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Provisioning.Parent != "folders/42" {
		t.Errorf("Expected parent folders/42, got %s", cfg.Provisioning.Parent)
	}
	if cfg.Provisioning.ClaimTTL != 45*time.Minute {
		t.Errorf("Expected claim TTL 45m, got %s", cfg.Provisioning.ClaimTTL)
	}
	if len(cfg.Provisioning.Services) != 1 {
		t.Errorf("Expected services list to be replaced, got %v", cfg.Provisioning.Services)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("Expected 3 retry attempts, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.Multiplier != 2 {
		t.Errorf("Expected default multiplier to survive, got %v", cfg.Retry.Multiplier)
	}
	if cfg.State.Backend != "memory" {
		t.Errorf("Expected memory backend, got %s", cfg.State.Backend)
	}
	if !cfg.Policy.Watch || len(cfg.Policy.Paths) != 1 {
		t.Errorf("Unexpected policy config %+v", cfg.Policy)
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("Expected debug logging, got %s", cfg.Telemetry.Logging.Level)
	}
}

func TestLoad_UnknownField(t *testing.T) {
	path := writeConfig(t, "provisioning:\n  parnet: folders/42\n")
	if _, err := Load(path); err == nil {
		t.Fatal("Expected error for unknown field")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeConfig(t, "")
	t.Setenv("CLIENT_FOLDER_ID", "folders/7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Provisioning.Parent != "folders/7" {
		t.Errorf("Expected parent from environment, got %s", cfg.Provisioning.Parent)
	}
}

func TestLoad_DefaultsValidate(t *testing.T) {
	t.Setenv("CLIENT_FOLDER_ID", "folders/7")
	t.Setenv("DATASET_ID", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load with defaults failed: %v", err)
	}
	if cfg.Provisioning.DatasetID != "meta_ads" {
		t.Errorf("Expected default dataset, got %s", cfg.Provisioning.DatasetID)
	}
	if !datasetIDPattern.MatchString(cfg.Provisioning.DatasetID) {
		t.Errorf("Default dataset %s does not match the dataset id pattern", cfg.Provisioning.DatasetID)
	}

	cfg.Provisioning.DatasetID = strings.Repeat("a", 1024)
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected a 1024 character dataset id to validate, got %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		check func(t *testing.T, cfg *Config)
	}{
		{
			name: "deployment variables",
			env: map[string]string{
				"CLIENT_FOLDER_ID":   "987654321",
				"BILLING_ACCOUNT_ID": "0000AA-BBBBBB-CCCCCC",
				"DATASET_ID":         "ads_raw",
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Provisioning.Parent != "987654321" {
					t.Errorf("Unexpected parent %s", cfg.Provisioning.Parent)
				}
				if cfg.Provisioning.BillingAccount != "0000AA-BBBBBB-CCCCCC" {
					t.Errorf("Unexpected billing account %s", cfg.Provisioning.BillingAccount)
				}
				if cfg.Provisioning.DatasetID != "ads_raw" {
					t.Errorf("Unexpected dataset %s", cfg.Provisioning.DatasetID)
				}
			},
		},
		{
			name: "bucket and filename",
			env: map[string]string{
				"CLIENTS_CONFIG_BUCKET":   "acme-config",
				"CLIENTS_CONFIG_FILENAME": "prod/clients.json",
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Manifest.Location != "gs://acme-config/prod/clients.json" {
					t.Errorf("Unexpected location %s", cfg.Manifest.Location)
				}
			},
		},
		{
			name: "bucket without filename",
			env:  map[string]string{"CLIENTS_CONFIG_BUCKET": "acme-config"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Manifest.Location != "gs://acme-config/clients.json" {
					t.Errorf("Unexpected location %s", cfg.Manifest.Location)
				}
			},
		},
		{
			name: "explicit location wins",
			env: map[string]string{
				"CLIENTS_CONFIG_BUCKET":         "acme-config",
				"PROVISIONER_MANIFEST_LOCATION": "file:///tmp/clients.json",
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Manifest.Location != "file:///tmp/clients.json" {
					t.Errorf("Unexpected location %s", cfg.Manifest.Location)
				}
			},
		},
		{
			name: "provisioner parent wins over folder id",
			env: map[string]string{
				"CLIENT_FOLDER_ID":   "1",
				"PROVISIONER_PARENT": "organizations/2",
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Provisioning.Parent != "organizations/2" {
					t.Errorf("Unexpected parent %s", cfg.Provisioning.Parent)
				}
			},
		},
		{
			name: "blank values ignored",
			env:  map[string]string{"DATASET_ID": "  "},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Provisioning.DatasetID != "meta_ads" {
					t.Errorf("Expected default dataset, got %s", cfg.Provisioning.DatasetID)
				}
			},
		},
		{
			name: "state and logging",
			env: map[string]string{
				"PROVISIONER_STATE_BACKEND":     "firestore",
				"PROVISIONER_FIRESTORE_PROJECT": "onboarding",
				"PROVISIONER_LISTEN_ADDRESS":    "0.0.0.0:9000",
				"LOG_LEVEL":                     "warn",
				"LOG_FORMAT":                    "json",
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.State.Backend != "firestore" || cfg.Firestore.Project != "onboarding" {
					t.Errorf("Unexpected state config %+v / %+v", cfg.State, cfg.Firestore)
				}
				if cfg.Server.ListenAddress != "0.0.0.0:9000" {
					t.Errorf("Unexpected listen address %s", cfg.Server.ListenAddress)
				}
				if cfg.Telemetry.Logging.Level != "warn" || cfg.Telemetry.Logging.Format != "json" {
					t.Errorf("Unexpected logging config %+v", cfg.Telemetry.Logging)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			ApplyEnv(cfg, envMap(tt.env))
			tt.check(t, cfg)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "attempt timeout equal to claim TTL",
			mutate:  func(c *Config) { c.Retry.AttemptTimeout = c.Provisioning.ClaimTTL },
			wantErr: "attempt_timeout",
		},
		{
			name: "operation timeout beyond attempt timeout",
			mutate: func(c *Config) {
				c.Retry.OperationTimeout = 20 * time.Minute
			},
			wantErr: "operation_timeout",
		},
		{
			name: "max interval below initial",
			mutate: func(c *Config) {
				c.Retry.InitialInterval = time.Minute
				c.Retry.MaxInterval = time.Second
			},
			wantErr: "max_interval",
		},
		{
			name: "stuck threshold above max attempts",
			mutate: func(c *Config) {
				c.Provisioning.MaxAttempts = 3
				c.Provisioning.StuckThreshold = 5
			},
			wantErr: "stuck_threshold",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.State.Backend = "postgres" },
			wantErr: "Backend",
		},
		{
			name:    "sqlite without path",
			mutate:  func(c *Config) { c.State.SQLitePath = "" },
			wantErr: "SQLitePath",
		},
		{
			name:    "bad dataset id",
			mutate:  func(c *Config) { c.Provisioning.DatasetID = "meta-ads" },
			wantErr: "dataset_id",
		},
		{
			name:    "dataset id too long",
			mutate:  func(c *Config) { c.Provisioning.DatasetID = strings.Repeat("a", 1025) },
			wantErr: "'max'",
		},
		{
			name:    "no services",
			mutate:  func(c *Config) { c.Provisioning.Services = nil },
			wantErr: "Services",
		},
		{
			name:    "zero retry attempts",
			mutate:  func(c *Config) { c.Retry.MaxAttempts = 0 },
			wantErr: "MaxAttempts",
		},
		{
			name:    "s3 access key without secret",
			mutate:  func(c *Config) { c.S3.AccessKey = "AKIA" },
			wantErr: "SecretKey",
		},
		{
			name:    "bad listen address",
			mutate:  func(c *Config) { c.Server.ListenAddress = "localhost" },
			wantErr: "ListenAddress",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Telemetry.Logging.Level = "loud" },
			wantErr: "telemetry",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}
