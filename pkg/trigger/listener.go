package trigger

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/lumaops/provisioner/pkg/engine"
)

// Provisioner runs the provisioning workflow for a validated record.
type Provisioner interface {
	Provision(ctx context.Context, rec *engine.ClientRecord) (*engine.Result, error)
}

// Listener turns trigger notifications into provisioning runs. It never
// mutates state for a record that fails validation or admission.
type Listener struct {
	source      engine.RecordSource
	validator   *Validator
	admitter    engine.Admitter
	provisioner Provisioner
	log         zerolog.Logger
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithAdmitter adds an admission check run after field validation.
func WithAdmitter(a engine.Admitter) ListenerOption {
	return func(l *Listener) { l.admitter = a }
}

// WithValidator replaces the default record validator.
func WithValidator(v *Validator) ListenerOption {
	return func(l *Listener) { l.validator = v }
}

// NewListener creates a listener. source is used when an event does not carry
// the record fields and for manual triggers by id.
func NewListener(source engine.RecordSource, p Provisioner, logger zerolog.Logger, opts ...ListenerOption) *Listener {
	l := &Listener{
		source:      source,
		provisioner: p,
		log:         logger.With().Str("component", "trigger").Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.validator == nil {
		l.validator = NewValidator()
	}
	return l
}

// Handle processes one document event. Events without a document (deletes)
// are acknowledged without action.
func (l *Listener) Handle(ctx context.Context, ev *FirestoreEvent) (*engine.Result, error) {
	doc, err := ev.Document()
	if err != nil {
		return nil, err
	}
	if doc == nil {
		l.log.Debug().Msg("event carries no document, ignoring")
		return nil, nil
	}

	id := DocumentID(doc.GetName())
	if id == "" {
		return nil, engine.NewValidationError("event document has no name", nil)
	}

	if len(doc.GetFields()) == 0 {
		l.log.Debug().Str("client_id", id).Msg("event carries no fields, reading record")
		return l.ProvisionByID(ctx, id)
	}

	return l.run(ctx, RecordFromFields(id, DecodeFields(doc.GetFields())))
}

// ProvisionByID reads the record from the source and provisions it.
//
// A record that does not exist is a ValidationError, like an incomplete
// one. A source that cannot be read is a TransientProviderError instead,
// so the event is redelivered once the source recovers rather than
// being dropped as invalid input.
func (l *Listener) ProvisionByID(ctx context.Context, clientID string) (*engine.Result, error) {
	if clientID == "" {
		return nil, engine.NewValidationError("client id is required", nil)
	}
	if l.source == nil {
		return nil, engine.NewValidationError("no record source configured", nil).WithResource(clientID)
	}

	rec, err := l.source.GetClient(ctx, clientID)
	switch {
	case errors.Is(err, engine.ErrRecordNotFound):
		return nil, engine.NewValidationError("client record not found", err).WithResource(clientID)
	case err != nil:
		return nil, engine.NewTransientError("failed to read client record", err).
			WithCode(engine.ErrCodeUnavailable).WithResource(clientID)
	}
	rec.ID = clientID
	return l.run(ctx, rec)
}

func (l *Listener) run(ctx context.Context, rec *engine.ClientRecord) (*engine.Result, error) {
	log := l.log.With().Str("client_id", rec.ID).Str("slug", rec.Slug).Logger()

	if err := l.validator.Validate(rec); err != nil {
		log.Warn().Err(err).Msg("rejecting invalid client record")
		return nil, err
	}

	if l.admitter != nil {
		if err := l.admitter.Admit(ctx, rec); err != nil {
			log.Warn().Err(err).Msg("client record denied by policy")
			return nil, err
		}
	}

	res, err := l.provisioner.Provision(ctx, rec)
	if err != nil {
		log.Error().Err(err).Str("error_class", string(engine.ClassOf(err))).Msg("provisioning run failed")
		return res, err
	}
	log.Info().Str("status", string(res.Status)).Bool("duplicate", res.Duplicate).Msg("provisioning run finished")
	return res, nil
}
