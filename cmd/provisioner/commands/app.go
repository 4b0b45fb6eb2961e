package commands

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/lumaops/provisioner/pkg/config"
	"github.com/lumaops/provisioner/pkg/engine"
	"github.com/lumaops/provisioner/pkg/manifest"
	"github.com/lumaops/provisioner/pkg/policy"
	"github.com/lumaops/provisioner/pkg/providers/gcp"
	"github.com/lumaops/provisioner/pkg/stores"
	"github.com/lumaops/provisioner/pkg/telemetry"
)

// app owns the components built from one configuration and releases them
// on Close.
type app struct {
	cfg *config.Config
	tel *telemetry.Telemetry
	log zerolog.Logger

	fs      *firestore.Client
	factory *manifest.Factory
	closers []func() error
}

func newApp(version string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if version != "" {
		cfg.Telemetry.ServiceVersion = version
	}

	tel, err := telemetry.NewTelemetry(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a := &app{cfg: cfg, tel: tel, log: tel.Logger}
	a.closers = append(a.closers, func() error { return tel.Shutdown(context.Background()) })
	return a, nil
}

// Close releases everything in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn().Err(err).Msg("failed to release resource")
		}
	}
	a.closers = nil
}

func (a *app) gcpOptions() []option.ClientOption {
	if a.cfg.GCP.CredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(a.cfg.GCP.CredentialsFile)}
}

func (a *app) firestoreClient(ctx context.Context) (*firestore.Client, error) {
	if a.fs != nil {
		return a.fs, nil
	}
	project := a.cfg.Firestore.Project
	if project == "" {
		project = firestore.DetectProjectID
	}
	client, err := firestore.NewClient(ctx, project, a.gcpOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	a.fs = client
	a.closers = append(a.closers, client.Close)
	return client, nil
}

// stateTracker opens the configured state backend.
func (a *app) stateTracker(ctx context.Context) (engine.StateTracker, error) {
	switch a.cfg.State.Backend {
	case "sqlite":
		store, err := stores.NewSQLiteStore(stores.Config{Path: a.cfg.State.SQLitePath})
		if err != nil {
			return nil, err
		}
		if err := store.Init(ctx); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		a.log.Debug().Str("path", a.cfg.State.SQLitePath).Msg("using sqlite state")
		return store, nil

	case "firestore":
		client, err := a.firestoreClient(ctx)
		if err != nil {
			return nil, err
		}
		a.log.Debug().Str("collection", a.cfg.Firestore.StateCollection).Msg("using firestore state")
		return stores.NewFirestoreStore(client, a.cfg.Firestore.StateCollection), nil

	case "memory":
		a.log.Warn().Msg("using in-memory state, progress is lost on exit")
		return stores.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unsupported state backend: %s", a.cfg.State.Backend)
	}
}

func (a *app) manifestStore(ctx context.Context) (manifest.BlobStore, error) {
	if a.factory == nil {
		a.factory = manifest.NewFactory(a.log, manifest.S3Options{
			Region:    a.cfg.S3.Region,
			Endpoint:  a.cfg.S3.Endpoint,
			AccessKey: a.cfg.S3.AccessKey,
			SecretKey: a.cfg.S3.SecretKey,
		}, a.gcpOptions()...)
		a.closers = append(a.closers, a.factory.Close)
	}
	return a.factory.StoreFor(ctx, a.cfg.Manifest.Location)
}

func (a *app) manifestUpdater(ctx context.Context) (*manifest.Updater, error) {
	store, err := a.manifestStore(ctx)
	if err != nil {
		return nil, err
	}
	return manifest.NewUpdater(store, manifest.UpdaterOptions{
		MaxAttempts: a.cfg.Manifest.MaxAttempts,
		OnConflict:  a.tel.Metrics.RecordManifestConflict,
		Logger:      a.log,
	}), nil
}

// orchestrator wires the step runners, in workflow order, over tracker.
func (a *app) orchestrator(ctx context.Context, tracker engine.StateTracker) (*engine.Orchestrator, error) {
	clients, err := gcp.NewClients(ctx, gcp.ClientOptions{
		CredentialsFile:   a.cfg.GCP.CredentialsFile,
		RequestsPerSecond: a.cfg.GCP.RequestsPerSecond,
		Burst:             a.cfg.GCP.Burst,
		CallTimeout:       a.cfg.Retry.RequestTimeout,
	})
	if err != nil {
		return nil, err
	}

	updater, err := a.manifestUpdater(ctx)
	if err != nil {
		return nil, err
	}

	p := a.cfg.Provisioning
	poll := gcp.PollConfig{Interval: a.cfg.Retry.PollInterval, Timeout: a.cfg.Retry.OperationTimeout}
	runners := []engine.StepRunner{
		gcp.NewProjectCreator(clients, p.Parent, poll, a.log),
		gcp.NewBillingLinker(clients, p.BillingAccount, a.log),
		gcp.NewCapabilityEnabler(clients.Services(), p.Services, poll, a.log),
		gcp.NewDatasetCreator(clients, p.DatasetID, p.DatasetLocation, a.log),
		updater,
	}

	return engine.NewOrchestrator(tracker, runners, engine.OrchestratorOptions{
		ClaimTTL: p.ClaimTTL,
		Retry: engine.RetryPolicy{
			MaxAttempts:     a.cfg.Retry.MaxAttempts,
			InitialInterval: a.cfg.Retry.InitialInterval,
			MaxInterval:     a.cfg.Retry.MaxInterval,
			Multiplier:      a.cfg.Retry.Multiplier,
			AttemptTimeout:  a.cfg.Retry.AttemptTimeout,
		},
		MaxAttempts:    p.MaxAttempts,
		StuckThreshold: p.StuckThreshold,
		Logger:         a.log,
		Observer:       a.tel.Observer(),
	})
}

// policyEngine loads the admission policies and, when configured, watches
// them until ctx is done.
func (a *app) policyEngine(ctx context.Context, watch bool) (*policy.Engine, error) {
	eng, err := policy.NewEngine(a.log)
	if err != nil {
		return nil, err
	}

	pc := a.cfg.Policy
	if len(pc.Paths) > 0 {
		if err := eng.LoadPolicies(ctx, pc.Paths); err != nil {
			return nil, err
		}
	}
	for _, name := range pc.Disabled {
		if err := eng.DisablePolicy(name); err != nil {
			return nil, fmt.Errorf("cannot disable policy: %w", err)
		}
	}
	if watch && pc.Watch && len(pc.Paths) > 0 {
		if err := eng.Watch(ctx, pc.Paths); err != nil {
			return nil, err
		}
	}
	return eng, nil
}
