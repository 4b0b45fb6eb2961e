package config

import (
	"time"

	"github.com/lumaops/provisioner/pkg/telemetry"
)

// Config is the complete service configuration.
type Config struct {
	Provisioning ProvisioningConfig `yaml:"provisioning"`
	Retry        RetryConfig        `yaml:"retry"`
	Manifest     ManifestConfig     `yaml:"manifest"`
	State        StateConfig        `yaml:"state"`
	Firestore    FirestoreConfig    `yaml:"firestore"`
	GCP          GCPConfig          `yaml:"gcp"`
	S3           S3Config           `yaml:"s3"`
	Server       ServerConfig       `yaml:"server"`
	Policy       PolicyConfig       `yaml:"policy"`
	Telemetry    telemetry.Config   `yaml:"telemetry"`
}

// ProvisioningConfig describes what gets created for each client.
type ProvisioningConfig struct {
	// Parent is the container new projects are created under, either
	// "folders/<id>" or "organizations/<id>". A bare id is treated as a folder.
	Parent string `yaml:"parent" validate:"required"`

	// BillingAccount is linked to every project. Empty skips linking.
	BillingAccount string `yaml:"billing_account"`

	DatasetID       string   `yaml:"dataset_id" validate:"required,max=1024,dataset_id"`
	DatasetLocation string   `yaml:"dataset_location" validate:"required"`
	Services        []string `yaml:"required_services" validate:"required,min=1,dive,fqdn"`

	// ClaimTTL is the lease of the per-client claim.
	ClaimTTL time.Duration `yaml:"claim_ttl" validate:"min=1s"`

	// MaxAttempts bounds the runs a client may consume. Zero is unlimited.
	MaxAttempts int `yaml:"max_attempts" validate:"gte=0"`

	// StuckThreshold flags failed clients with at least this many runs.
	StuckThreshold int `yaml:"stuck_threshold" validate:"gte=0"`
}

// RetryConfig configures in-process retries of each step.
type RetryConfig struct {
	MaxAttempts     uint          `yaml:"max_attempts" validate:"min=1"`
	InitialInterval time.Duration `yaml:"initial_interval" validate:"min=1ms"`
	MaxInterval     time.Duration `yaml:"max_interval" validate:"min=1ms"`
	Multiplier      float64       `yaml:"multiplier" validate:"gte=1"`

	// AttemptTimeout bounds one attempt of a step, including operation
	// polling. It must be shorter than the claim TTL.
	AttemptTimeout time.Duration `yaml:"attempt_timeout" validate:"min=1s"`

	// RequestTimeout bounds a single API request.
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"min=1s"`

	OperationTimeout time.Duration `yaml:"operation_timeout" validate:"min=1s"`
	PollInterval     time.Duration `yaml:"poll_interval" validate:"min=1ms"`
}

// ManifestConfig locates the shared client manifest.
type ManifestConfig struct {
	// Location is a gs://, s3://, file:// or mem:// URI.
	Location string `yaml:"location" validate:"required,uri"`

	// MaxAttempts bounds read-modify-write cycles per upsert.
	MaxAttempts int `yaml:"max_attempts" validate:"min=1"`
}

// StateConfig selects the provisioning state backend.
type StateConfig struct {
	Backend    string `yaml:"backend" validate:"oneof=sqlite firestore memory"`
	SQLitePath string `yaml:"sqlite_path" validate:"required_if=Backend sqlite"`
}

// FirestoreConfig configures the Firestore client used for records and,
// optionally, state.
type FirestoreConfig struct {
	Project           string `yaml:"project"`
	ClientsCollection string `yaml:"clients_collection" validate:"required"`
	StateCollection   string `yaml:"state_collection" validate:"required"`
}

// GCPConfig configures the Google API clients.
type GCPConfig struct {
	CredentialsFile   string  `yaml:"credentials_file" validate:"omitempty,file"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int     `yaml:"burst" validate:"gte=0"`
}

// S3Config configures S3 access for s3:// manifest locations.
type S3Config struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint" validate:"omitempty,url"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key" validate:"required_with=AccessKey"`
}

// ServerConfig configures the push endpoint.
type ServerConfig struct {
	ListenAddress   string        `yaml:"listen_address" validate:"required,hostname_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"min=1s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"min=1s"`
}

// PolicyConfig configures admission policies.
type PolicyConfig struct {
	// Paths are .rego/.json files or directories loaded next to the
	// built-in policies.
	Paths []string `yaml:"paths"`

	// Watch reloads Paths on change.
	Watch bool `yaml:"watch"`

	// Disabled names policies, built-in or loaded, to switch off.
	Disabled []string `yaml:"disabled"`
}

// Default returns the configuration used when no file or variable overrides
// a value.
func Default() *Config {
	tel := telemetry.DefaultConfig()
	return &Config{
		Provisioning: ProvisioningConfig{
			DatasetID:       "meta_ads",
			DatasetLocation: "US",
			Services: []string{
				"bigquery.googleapis.com",
				"storage.googleapis.com",
				"secretmanager.googleapis.com",
				"serviceusage.googleapis.com",
				"cloudresourcemanager.googleapis.com",
			},
			ClaimTTL:       30 * time.Minute,
			MaxAttempts:    0,
			StuckThreshold: 5,
		},
		Retry: RetryConfig{
			MaxAttempts:      5,
			InitialInterval:  time.Second,
			MaxInterval:      30 * time.Second,
			Multiplier:       2,
			AttemptTimeout:   15 * time.Minute,
			RequestTimeout:   60 * time.Second,
			OperationTimeout: 10 * time.Minute,
			PollInterval:     5 * time.Second,
		},
		Manifest: ManifestConfig{
			Location:    "gs://clients-config/clients.json",
			MaxAttempts: 5,
		},
		State: StateConfig{
			Backend:    "sqlite",
			SQLitePath: "provisioner.db",
		},
		Firestore: FirestoreConfig{
			ClientsCollection: "clients",
			StateCollection:   "provisioning_state",
		},
		GCP: GCPConfig{
			RequestsPerSecond: 5,
			Burst:             10,
		},
		Server: ServerConfig{
			ListenAddress:   ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0,
			ShutdownTimeout: 30 * time.Second,
		},
		Telemetry: tel,
	}
}
