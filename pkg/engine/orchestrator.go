package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// Run outcomes reported to the Observer.
const (
	OutcomeCompleted     = "completed"
	OutcomeDuplicate     = "duplicate"
	OutcomeFailed        = "failed"
	OutcomeClaimConflict = "claim_conflict"
)

// OrchestratorOptions configures an Orchestrator.
type OrchestratorOptions struct {
	// ClaimTTL is the lease length of the per-client claim. Each persisted
	// step extends it.
	ClaimTTL time.Duration

	// RenewInterval is how often a running workflow renews its claim while
	// a step is in flight. Defaults to a third of ClaimTTL.
	RenewInterval time.Duration

	// Retry bounds in-process retries of each step.
	Retry RetryPolicy

	// MaxAttempts caps the number of claimed runs per client. Zero means
	// unlimited. Once reached, runs are refused until an operator reset.
	MaxAttempts int

	// StuckThreshold reports a failed client as stuck once it has consumed
	// at least this many runs. Zero disables the report.
	StuckThreshold int

	Logger   zerolog.Logger
	Observer Observer

	// Now and NewClaimID are overridable for tests.
	Now        func() time.Time
	NewClaimID func() string
}

// Result summarizes one Provision call.
type Result struct {
	ClientID string
	Status   Status

	// Duplicate is true when the client was already Completed and no
	// external call was made.
	Duplicate bool

	// Executed lists the steps run by this call, in order.
	Executed []Step

	State *ProvisioningState
}

// Orchestrator drives the ordered provisioning steps for one client at a time,
// persisting progress after each step so a later run resumes where the
// previous one stopped.
type Orchestrator struct {
	tracker StateTracker
	runners map[Step]StepRunner
	opts    OrchestratorOptions
	logger  zerolog.Logger
}

// NewOrchestrator creates an orchestrator. A runner must be supplied for
// every workflow step.
func NewOrchestrator(tracker StateTracker, runners []StepRunner, opts OrchestratorOptions) (*Orchestrator, error) {
	if tracker == nil {
		return nil, fmt.Errorf("state tracker is required")
	}

	byStep := make(map[Step]StepRunner, len(runners))
	for _, r := range runners {
		if err := r.Step().Validate(); err != nil {
			return nil, err
		}
		if _, dup := byStep[r.Step()]; dup {
			return nil, fmt.Errorf("duplicate runner for step %s", r.Step())
		}
		byStep[r.Step()] = r
	}
	for _, step := range Steps {
		if _, ok := byStep[step]; !ok {
			return nil, fmt.Errorf("no runner registered for step %s", step)
		}
	}

	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = 30 * time.Minute
	}
	if opts.RenewInterval <= 0 || opts.RenewInterval >= opts.ClaimTTL {
		opts.RenewInterval = opts.ClaimTTL / 3
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewClaimID == nil {
		opts.NewClaimID = uuid.NewString
	}
	opts.Retry = opts.Retry.withDefaults()

	return &Orchestrator{
		tracker: tracker,
		runners: byStep,
		opts:    opts,
		logger:  opts.Logger.With().Str("component", "orchestrator").Logger(),
	}, nil
}

// Provision runs the workflow for a validated record. It returns nil once the
// client is Completed, including when it already was. On failure the
// classified error is returned so the delivery mechanism redelivers.
func (o *Orchestrator) Provision(ctx context.Context, rec *ClientRecord) (*Result, error) {
	if rec == nil || rec.ID == "" {
		return nil, NewValidationError("client record has no identifier", nil)
	}

	started := o.opts.Now()
	ctx = o.opts.Observer.RunStarted(ctx, rec.ID)
	log := o.logger.With().Str("client_id", rec.ID).Logger()

	res, err := o.provision(ctx, rec, log)

	outcome := OutcomeCompleted
	switch {
	case err != nil && IsClaimConflict(err):
		outcome = OutcomeClaimConflict
	case err != nil:
		outcome = OutcomeFailed
	case res.Duplicate:
		outcome = OutcomeDuplicate
	}
	o.opts.Observer.RunFinished(ctx, rec.ID, outcome, err, o.opts.Now().Sub(started))

	return res, err
}

func (o *Orchestrator) provision(ctx context.Context, rec *ClientRecord, log zerolog.Logger) (*Result, error) {
	res := &Result{ClientID: rec.ID}

	state, err := o.tracker.Get(ctx, rec.ID)
	switch {
	case errors.Is(err, ErrStateNotFound):
		state = nil
	case err != nil:
		return res, NewTransientError("failed to read provisioning state", err).WithResource(rec.ID)
	}

	if state != nil && state.Status == StatusCompleted {
		log.Debug().Msg("client already provisioned, nothing to do")
		res.Status, res.Duplicate, res.State = StatusCompleted, true, state
		return res, nil
	}

	if o.opts.MaxAttempts > 0 && state != nil && state.Attempts >= o.opts.MaxAttempts {
		log.Error().Int("attempts", state.Attempts).Msg("retry horizon exceeded, operator reset required")
		return res, NewPermanentError(
			fmt.Sprintf("client has used %d of %d allowed runs", state.Attempts, o.opts.MaxAttempts), nil).
			WithCode(ErrCodeHorizonExceeded).WithResource(rec.ID)
	}

	claimID := o.opts.NewClaimID()
	state, err = o.tracker.Claim(ctx, rec.ID, claimID, o.opts.ClaimTTL)
	if err != nil {
		if IsClaimConflict(err) {
			log.Info().Msg("another run holds the claim, exiting")
			return res, err
		}
		return res, NewTransientError("failed to claim client", err).WithResource(rec.ID)
	}
	if state.Status == StatusCompleted {
		res.Status, res.Duplicate, res.State = StatusCompleted, true, state
		return res, nil
	}

	log = log.With().Str("claim_id", claimID).Int("attempt", state.Attempts).Logger()
	log.Info().Str("next_step", string(state.NextStep())).Msg("provisioning run started")

	lost, release := o.holdClaim(ctx, rec.ID, claimID, log)
	defer release()

	for _, step := range Steps {
		if state.Done(step) {
			continue
		}

		stepErr := o.runStep(ctx, rec, step, lost, log)
		if stepErr != nil {
			release()
			if IsClaimConflict(stepErr) {
				return res, stepErr
			}
			res.State = o.recordFailure(ctx, rec, claimID, step, stepErr, log)
			res.Status = StatusFailed
			return res, stepErr
		}

		state, err = o.tracker.WriteStep(ctx, rec.ID, claimID, step, StepOutcome{At: o.opts.Now()}, o.opts.ClaimTTL)
		if err != nil {
			return res, o.trackerWriteError(err, rec.ID, step)
		}
		res.Executed = append(res.Executed, step)
	}

	release()
	state, err = o.tracker.Finalize(ctx, rec.ID, claimID)
	if err != nil {
		return res, o.trackerWriteError(err, rec.ID, "")
	}

	log.Info().Int("steps_run", len(res.Executed)).Msg("client provisioned")
	res.Status, res.State = state.Status, state
	return res, nil
}

// holdClaim renews the claim every RenewInterval until release is called.
// lost reports whether a renewal found the claim taken over by another run.
func (o *Orchestrator) holdClaim(ctx context.Context, clientID, claimID string, log zerolog.Logger) (lost func() bool, release func()) {
	gone := atomic.NewBool(false)
	done := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(o.opts.RenewInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, err := o.tracker.Renew(ctx, clientID, claimID, o.opts.ClaimTTL)
				switch {
				case errors.Is(err, ErrClaimLost):
					log.Error().Msg("claim taken over by another run")
					gone.Store(true)
					return
				case err != nil:
					log.Warn().Err(err).Msg("failed to renew claim")
				}
			}
		}
	}()

	var once sync.Once
	return gone.Load, func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

func (o *Orchestrator) runStep(ctx context.Context, rec *ClientRecord, step Step, lost func() bool, log zerolog.Logger) error {
	runner := o.runners[step]
	stepLog := log.With().Str("step", string(step)).Logger()

	started := o.opts.Now()
	stepCtx := o.opts.Observer.StepStarted(ctx, rec.ID, step)

	err := o.opts.Retry.Do(stepCtx, func(callCtx context.Context) error {
		// no external call once another run owns the client
		if lost() {
			return NewClaimConflictError("claim lost to a concurrent run", ErrClaimLost).WithResource(rec.ID)
		}
		return runner.Run(callCtx, rec)
	}, func(err error, next time.Duration) {
		stepLog.Warn().Err(err).Dur("backoff", next).Msg("transient failure, retrying")
	})

	if err != nil {
		if ctx.Err() != nil {
			err = NewTransientError("run interrupted", err).WithCode(ErrCodeTimeout)
		}
		var e *Error
		if !errors.As(err, &e) {
			e = NewPermanentError("step failed", err).WithCode(ErrCodeInternal)
			err = e
		}
		if e.Step == "" {
			e.Step = step
		}
	}

	o.opts.Observer.StepFinished(stepCtx, rec.ID, step, err, o.opts.Now().Sub(started))

	if err != nil {
		stepLog.Error().Err(err).Str("error_class", string(ClassOf(err))).Msg("step failed")
		return err
	}
	stepLog.Info().Dur("elapsed", o.opts.Now().Sub(started)).Msg("step completed")
	return nil
}

// recordFailure persists the failed step even when ctx is already cancelled.
func (o *Orchestrator) recordFailure(ctx context.Context, rec *ClientRecord, claimID string, step Step, stepErr error, log zerolog.Logger) *ProvisioningState {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	state, err := o.tracker.WriteStep(writeCtx, rec.ID, claimID, step, StepOutcome{Err: stepErr, At: o.opts.Now()}, o.opts.ClaimTTL)
	if err != nil {
		log.Error().Err(err).Str("step", string(step)).Msg("failed to record step failure")
		return nil
	}

	if o.opts.StuckThreshold > 0 && state.Attempts >= o.opts.StuckThreshold {
		log.Error().Int("attempts", state.Attempts).Str("step", string(step)).
			Msg("client stuck in failed state, operator attention required")
		o.opts.Observer.StuckClient(rec.ID, state.Attempts)
	}
	return state
}

func (o *Orchestrator) trackerWriteError(err error, clientID string, step Step) error {
	if errors.Is(err, ErrClaimLost) {
		return NewClaimConflictError("claim lost to a concurrent run", err).WithResource(clientID).WithStep(step)
	}
	return NewTransientError("failed to persist provisioning state", err).WithResource(clientID).WithStep(step)
}

type nopObserver struct{}

func (nopObserver) RunStarted(ctx context.Context, _ string) context.Context { return ctx }
func (nopObserver) RunFinished(context.Context, string, string, error, time.Duration) {}
func (nopObserver) StepStarted(ctx context.Context, _ string, _ Step) context.Context {
	return ctx
}
func (nopObserver) StepFinished(context.Context, string, Step, error, time.Duration) {}
func (nopObserver) StuckClient(string, int)                                         {}
