package gcp

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lumaops/provisioner/pkg/engine"
)

const maxDisplayNameLength = 30

// ProjectCreator performs the project_created step.
type ProjectCreator struct {
	api    ProjectsAPI
	parent string
	poll   PollConfig
	log    zerolog.Logger
}

// NewProjectCreator creates the step. parent is "folders/<id>",
// "organizations/<id>" or a bare folder number.
func NewProjectCreator(api ProjectsAPI, parent string, poll PollConfig, logger zerolog.Logger) *ProjectCreator {
	return &ProjectCreator{
		api:    api,
		parent: NormalizeParent(parent),
		poll:   poll,
		log:    logger.With().Str("component", "project-creator").Logger(),
	}
}

// Step implements engine.StepRunner.
func (p *ProjectCreator) Step() engine.Step { return engine.StepProjectCreated }

// Run implements engine.StepRunner.
func (p *ProjectCreator) Run(ctx context.Context, rec *engine.ClientRecord) error {
	id := rec.ProjectID

	visible, err := p.visible(ctx, id)
	if err != nil {
		return err
	}
	if visible {
		p.log.Info().Str("project_id", id).Msg("project already exists")
		return nil
	}

	op, err := p.api.CreateProject(ctx, id, DisplayName(rec), p.parent)
	if err == nil {
		err = waitOperation(ctx, op, p.api.GetOperation, p.poll, "projects.create", id)
	} else {
		err = Classify("projects.create", id, err)
	}

	if engine.IsAlreadyExists(err) {
		return p.confirmOwned(ctx, id, err)
	}
	if err != nil {
		return err
	}

	p.log.Info().Str("project_id", id).Str("parent", p.parent).Msg("project created")
	return nil
}

// visible reports whether the project exists and this identity can see it.
// The API answers 403 for projects that do not exist as well as for projects
// owned by someone else, so both count as not visible.
func (p *ProjectCreator) visible(ctx context.Context, id string) (bool, error) {
	proj, err := p.api.GetProject(ctx, id)
	switch {
	case err == nil:
	case IsNotFound(err), IsForbidden(err):
		return false, nil
	default:
		return false, Classify("projects.get", id, err)
	}

	if proj.State == "DELETE_REQUESTED" {
		return false, engine.NewPermanentError("project is pending deletion", nil).
			WithCode(engine.ErrCodeInvalidArgument).WithResource(id).WithOperation("projects.get")
	}
	return true, nil
}

// confirmOwned resolves a create conflict: the conflict is success only if the
// project is now visible to us; otherwise the identifier belongs to someone
// else and retrying can never succeed.
func (p *ProjectCreator) confirmOwned(ctx context.Context, id string, conflict error) error {
	visible, err := p.visible(ctx, id)
	if err != nil {
		return err
	}
	if visible {
		p.log.Info().Str("project_id", id).Msg("project created by an earlier attempt")
		return nil
	}
	return engine.NewPermanentError("project id is taken by another owner", conflict).
		WithCode(engine.ErrCodeAlreadyExists).WithResource(id).WithOperation("projects.create")
}

// DisplayName returns the project display name for a record: its name, or
// the project id, truncated to the API limit.
func DisplayName(rec *engine.ClientRecord) string {
	name := strings.TrimSpace(rec.Name)
	if name == "" {
		name = rec.ProjectID
	}
	r := []rune(name)
	if len(r) > maxDisplayNameLength {
		r = r[:maxDisplayNameLength]
	}
	return strings.TrimSpace(string(r))
}

// NormalizeParent turns a bare folder number into "folders/<id>".
func NormalizeParent(parent string) string {
	parent = strings.TrimSpace(parent)
	if parent == "" || strings.Contains(parent, "/") {
		return parent
	}
	return "folders/" + parent
}

var _ engine.StepRunner = (*ProjectCreator)(nil)
