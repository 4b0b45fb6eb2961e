package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var datasetIDPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Load reads the configuration. The file at path, if any, is layered over
// the defaults, environment variables over the file, and the result is
// validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	ApplyEnv(cfg, os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with the recognised environment variables. lookup is
// os.LookupEnv outside tests.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	set("CLIENT_FOLDER_ID", &cfg.Provisioning.Parent)
	set("PROVISIONER_PARENT", &cfg.Provisioning.Parent)
	set("BILLING_ACCOUNT_ID", &cfg.Provisioning.BillingAccount)
	set("DATASET_ID", &cfg.Provisioning.DatasetID)

	// The bucket and file name pair predates location URIs.
	bucket, hasBucket := lookup("CLIENTS_CONFIG_BUCKET")
	if hasBucket && bucket != "" {
		filename := "clients.json"
		set("CLIENTS_CONFIG_FILENAME", &filename)
		cfg.Manifest.Location = fmt.Sprintf("gs://%s/%s", bucket, strings.TrimPrefix(filename, "/"))
	}
	set("PROVISIONER_MANIFEST_LOCATION", &cfg.Manifest.Location)

	set("PROVISIONER_STATE_BACKEND", &cfg.State.Backend)
	set("PROVISIONER_SQLITE_PATH", &cfg.State.SQLitePath)
	set("PROVISIONER_FIRESTORE_PROJECT", &cfg.Firestore.Project)
	set("PROVISIONER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)

	set("LOG_LEVEL", &cfg.Telemetry.Logging.Level)
	set("LOG_FORMAT", &cfg.Telemetry.Logging.Format)
}

// Validate checks field rules and the constraints between sections.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("dataset_id", func(fl validator.FieldLevel) bool {
		return datasetIDPattern.MatchString(fl.Field().String())
	}); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return err
	}

	if c.Retry.AttemptTimeout >= c.Provisioning.ClaimTTL {
		return fmt.Errorf("retry.attempt_timeout (%s) must be shorter than provisioning.claim_ttl (%s)",
			c.Retry.AttemptTimeout, c.Provisioning.ClaimTTL)
	}
	if c.Retry.OperationTimeout > c.Retry.AttemptTimeout {
		return fmt.Errorf("retry.operation_timeout (%s) must not exceed retry.attempt_timeout (%s)",
			c.Retry.OperationTimeout, c.Retry.AttemptTimeout)
	}
	if c.Retry.MaxInterval < c.Retry.InitialInterval {
		return fmt.Errorf("retry.max_interval must not be shorter than retry.initial_interval")
	}
	if c.Provisioning.StuckThreshold > 0 && c.Provisioning.MaxAttempts > 0 &&
		c.Provisioning.StuckThreshold > c.Provisioning.MaxAttempts {
		return fmt.Errorf("provisioning.stuck_threshold must not exceed provisioning.max_attempts")
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}
