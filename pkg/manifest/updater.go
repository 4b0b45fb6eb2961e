package manifest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/lumaops/provisioner/pkg/engine"
)

// UpdaterOptions configures the read-modify-write loop.
type UpdaterOptions struct {
	// MaxAttempts bounds the read-modify-write cycles per upsert.
	MaxAttempts int

	// InitialInterval and MaxInterval pace the cycles after a lost race.
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// OnConflict is called every time a conditional write is rejected.
	OnConflict func()

	Logger zerolog.Logger
}

// Updater upserts client entries into the shared manifest with optimistic
// concurrency. It is the runner of the manifest_updated step.
type Updater struct {
	store BlobStore
	opts  UpdaterOptions
	log   zerolog.Logger
}

// NewUpdater creates an updater over store.
func NewUpdater(store BlobStore, opts UpdaterOptions) *Updater {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 50 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 2 * time.Second
	}
	return &Updater{
		store: store,
		opts:  opts,
		log:   opts.Logger.With().Str("component", "manifest").Str("location", store.Location()).Logger(),
	}
}

// Step implements engine.StepRunner.
func (u *Updater) Step() engine.Step {
	return engine.StepManifestUpdated
}

// Run implements engine.StepRunner.
func (u *Updater) Run(ctx context.Context, rec *engine.ClientRecord) error {
	return u.Upsert(ctx, EntryFor(rec))
}

// Upsert writes e into the manifest, replacing any entry with the same slug.
// A corrupt manifest is never overwritten.
func (u *Updater) Upsert(ctx context.Context, e Entry) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = u.opts.InitialInterval
	b.MaxInterval = u.opts.MaxInterval

	attempt := 0
	op := func() (struct{}, error) {
		attempt++
		err := u.cycle(ctx, e)
		if errors.Is(err, ErrPreconditionFailed) {
			u.log.Debug().Str("slug", e.Slug).Int("attempt", attempt).Msg("manifest changed concurrently, retrying")
			if u.opts.OnConflict != nil {
				u.opts.OnConflict()
			}
			return struct{}{}, err
		}
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(u.opts.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
	if errors.Is(err, ErrPreconditionFailed) {
		return engine.NewManifestConflictError(
			fmt.Sprintf("manifest changed concurrently on %d consecutive attempts", attempt), err).
			WithResource(u.store.Location()).WithStep(engine.StepManifestUpdated)
	}
	if err != nil {
		return err
	}

	u.log.Info().Str("slug", e.Slug).Int("attempts", attempt).Msg("manifest entry upserted")
	return nil
}

// cycle performs one read-modify-write.
func (u *Updater) cycle(ctx context.Context, e Entry) error {
	m, gen, err := u.load(ctx)
	if err != nil {
		return err
	}

	if !m.Upsert(e) {
		return nil
	}

	data, err := Encode(m)
	if err != nil {
		return err
	}

	if _, err := u.store.Write(ctx, data, gen); err != nil {
		if errors.Is(err, ErrPreconditionFailed) {
			return err
		}
		return storeError("failed to write manifest", u.store.Location(), err)
	}
	return nil
}

// Load returns the current manifest. A missing blob is an empty manifest.
func (u *Updater) Load(ctx context.Context) (Manifest, error) {
	m, _, err := u.load(ctx)
	return m, err
}

func (u *Updater) load(ctx context.Context) (Manifest, string, error) {
	blob, err := u.store.Read(ctx)
	if errors.Is(err, ErrBlobNotFound) {
		return Manifest{}, "", nil
	}
	if err != nil {
		return nil, "", storeError("failed to read manifest", u.store.Location(), err)
	}

	m, err := Decode(blob.Data)
	if err != nil {
		var e *engine.Error
		if errors.As(err, &e) {
			e.WithResource(u.store.Location()).WithStep(engine.StepManifestUpdated)
		}
		u.log.Error().Err(err).Msg("manifest is corrupt, operator repair required")
		return nil, "", err
	}
	return m, blob.Generation, nil
}

func storeError(msg, location string, err error) error {
	var e *engine.Error
	if errors.As(err, &e) {
		return err
	}
	return engine.NewTransientError(msg, err).WithCode(engine.ErrCodeUnavailable).WithResource(location)
}

var _ engine.StepRunner = (*Updater)(nil)
