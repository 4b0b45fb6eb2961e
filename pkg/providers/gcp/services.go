package gcp

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/lumaops/provisioner/pkg/engine"
)

// DefaultRequiredServices are the service APIs every client project needs.
var DefaultRequiredServices = []string{
	"bigquery.googleapis.com",
	"storage.googleapis.com",
	"secretmanager.googleapis.com",
	"serviceusage.googleapis.com",
	"cloudresourcemanager.googleapis.com",
}

// CapabilityEnabler performs the capabilities_enabled step.
type CapabilityEnabler struct {
	api      ServicesAPI
	services []string
	poll     PollConfig
	log      zerolog.Logger
}

// NewCapabilityEnabler creates the step. An empty list enables the defaults.
func NewCapabilityEnabler(api ServicesAPI, services []string, poll PollConfig, logger zerolog.Logger) *CapabilityEnabler {
	if len(services) == 0 {
		services = DefaultRequiredServices
	}
	return &CapabilityEnabler{
		api:      api,
		services: services,
		poll:     poll,
		log:      logger.With().Str("component", "capability-enabler").Logger(),
	}
}

// Step implements engine.StepRunner.
func (c *CapabilityEnabler) Step() engine.Step { return engine.StepCapabilitiesEnabled }

// Run implements engine.StepRunner.
func (c *CapabilityEnabler) Run(ctx context.Context, rec *engine.ClientRecord) error {
	id := rec.ProjectID

	enabled, err := c.api.EnabledServices(ctx, id, c.services)
	if err != nil {
		return Classify("services.batchGet", id, err)
	}

	var missing []string
	for _, s := range c.services {
		if !enabled[s] {
			missing = append(missing, s)
		}
	}
	if len(missing) == 0 {
		c.log.Info().Str("project_id", id).Msg("required services already enabled")
		return nil
	}

	for _, batch := range chunks(missing, batchLimit) {
		op, err := c.api.EnableServices(ctx, id, batch)
		if err == nil {
			err = waitOperation(ctx, op, c.api.GetOperation, c.poll, "services.batchEnable", id)
		} else {
			err = Classify("services.batchEnable", id, err)
		}
		if err != nil && !engine.IsAlreadyExists(err) {
			return err
		}
	}

	c.log.Info().Str("project_id", id).Strs("services", missing).Msg("services enabled")
	return nil
}

var _ engine.StepRunner = (*CapabilityEnabler)(nil)
