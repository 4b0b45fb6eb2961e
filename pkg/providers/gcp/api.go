package gcp

import (
	"context"
)

// Project is the subset of project metadata the steps need.
type Project struct {
	ProjectID string
	Parent    string
	State     string
}

// Operation is a long-running operation handle.
type Operation struct {
	Name string
	Done bool

	// ErrCode is a canonical status code, zero when the operation succeeded.
	ErrCode    int64
	ErrMessage string
}

// BillingInfo is the billing link of a project.
type BillingInfo struct {
	AccountName string
	Enabled     bool
}

// ProjectsAPI creates and reads projects.
type ProjectsAPI interface {
	GetProject(ctx context.Context, projectID string) (*Project, error)
	CreateProject(ctx context.Context, projectID, displayName, parent string) (*Operation, error)
	GetOperation(ctx context.Context, name string) (*Operation, error)
}

// BillingAPI reads and updates project billing links.
type BillingAPI interface {
	GetBillingInfo(ctx context.Context, projectID string) (*BillingInfo, error)
	UpdateBillingInfo(ctx context.Context, projectID, accountName string) error
}

// ServicesAPI enables service APIs on a project.
type ServicesAPI interface {
	// EnabledServices returns which of services are enabled.
	EnabledServices(ctx context.Context, projectID string, services []string) (map[string]bool, error)
	EnableServices(ctx context.Context, projectID string, services []string) (*Operation, error)
	GetOperation(ctx context.Context, name string) (*Operation, error)
}

// DatasetsAPI manages analytics datasets.
type DatasetsAPI interface {
	DatasetExists(ctx context.Context, projectID, datasetID string) (bool, error)
	CreateDataset(ctx context.Context, projectID, datasetID, location string, labels map[string]string) error
}
