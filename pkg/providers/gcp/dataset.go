package gcp

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/lumaops/provisioner/pkg/engine"
)

// DatasetCreator performs the dataset_created step.
type DatasetCreator struct {
	api       DatasetsAPI
	datasetID string
	location  string
	labels    map[string]string
	log       zerolog.Logger
}

// NewDatasetCreator creates the step.
func NewDatasetCreator(api DatasetsAPI, datasetID, location string, logger zerolog.Logger) *DatasetCreator {
	if location == "" {
		location = "US"
	}
	return &DatasetCreator{
		api:       api,
		datasetID: datasetID,
		location:  location,
		labels:    map[string]string{"managed-by": "provisioner"},
		log:       logger.With().Str("component", "dataset-creator").Logger(),
	}
}

// Step implements engine.StepRunner.
func (d *DatasetCreator) Step() engine.Step { return engine.StepDatasetCreated }

// Run implements engine.StepRunner.
func (d *DatasetCreator) Run(ctx context.Context, rec *engine.ClientRecord) error {
	resource := rec.ProjectID + ":" + d.datasetID

	exists, err := d.api.DatasetExists(ctx, rec.ProjectID, d.datasetID)
	if err != nil {
		return Classify("datasets.get", resource, err)
	}
	if exists {
		d.log.Info().Str("dataset", resource).Msg("dataset already exists")
		return nil
	}

	if err := d.api.CreateDataset(ctx, rec.ProjectID, d.datasetID, d.location, d.labels); err != nil {
		err = Classify("datasets.insert", resource, err)
		if engine.IsAlreadyExists(err) {
			return nil
		}
		return err
	}

	d.log.Info().Str("dataset", resource).Str("location", d.location).Msg("dataset created")
	return nil
}

var _ engine.StepRunner = (*DatasetCreator)(nil)
