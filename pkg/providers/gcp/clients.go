package gcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"golang.org/x/time/rate"
	cloudbilling "google.golang.org/api/cloudbilling/v1"
	crm "google.golang.org/api/cloudresourcemanager/v3"
	"google.golang.org/api/option"
	serviceusage "google.golang.org/api/serviceusage/v1"
)

// ClientOptions configures the Google API clients.
type ClientOptions struct {
	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string

	// RequestsPerSecond and Burst pace every API request made by this
	// process. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int

	// CallTimeout bounds every individual request.
	CallTimeout time.Duration

	// Extra options, e.g. endpoints for tests.
	Options []option.ClientOption
}

// Clients holds the Google API services used by the provisioning steps and
// implements the step API interfaces.
type Clients struct {
	projects *crm.Service
	billing  *cloudbilling.APIService
	services *serviceusage.Service

	opts    []option.ClientOption
	limiter *rate.Limiter
	timeout time.Duration
}

// NewClients creates the API services.
func NewClients(ctx context.Context, cfg ClientOptions) (*Clients, error) {
	opts := append([]option.ClientOption{}, cfg.Options...)
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	projects, err := crm.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource manager client: %w", err)
	}
	billing, err := cloudbilling.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create billing client: %w", err)
	}
	services, err := serviceusage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create service usage client: %w", err)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Clients{
		projects: projects,
		billing:  billing,
		services: services,
		opts:     opts,
		limiter:  limiter,
		timeout:  timeout,
	}, nil
}

// call waits for the limiter and returns a context bounded by the call timeout.
func (c *Clients) call(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	return callCtx, cancel, nil
}

// GetProject implements ProjectsAPI.
func (c *Clients) GetProject(ctx context.Context, projectID string) (*Project, error) {
	ctx, cancel, err := c.call(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	p, err := c.projects.Projects.Get("projects/" + projectID).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return &Project{ProjectID: p.ProjectId, Parent: p.Parent, State: p.State}, nil
}

// CreateProject implements ProjectsAPI.
func (c *Clients) CreateProject(ctx context.Context, projectID, displayName, parent string) (*Operation, error) {
	ctx, cancel, err := c.call(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	op, err := c.projects.Projects.Create(&crm.Project{
		ProjectId:   projectID,
		DisplayName: displayName,
		Parent:      parent,
		Labels:      map[string]string{"managed-by": "provisioner"},
	}).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return crmOperation(op), nil
}

// GetOperation implements ProjectsAPI.
func (c *Clients) GetOperation(ctx context.Context, name string) (*Operation, error) {
	ctx, cancel, err := c.call(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	op, err := c.projects.Operations.Get(name).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return crmOperation(op), nil
}

func crmOperation(op *crm.Operation) *Operation {
	out := &Operation{Name: op.Name, Done: op.Done}
	if op.Error != nil {
		out.ErrCode, out.ErrMessage = op.Error.Code, op.Error.Message
	}
	return out
}

// GetBillingInfo implements BillingAPI.
func (c *Clients) GetBillingInfo(ctx context.Context, projectID string) (*BillingInfo, error) {
	ctx, cancel, err := c.call(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	info, err := c.billing.Projects.GetBillingInfo("projects/" + projectID).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return &BillingInfo{AccountName: info.BillingAccountName, Enabled: info.BillingEnabled}, nil
}

// UpdateBillingInfo implements BillingAPI.
func (c *Clients) UpdateBillingInfo(ctx context.Context, projectID, accountName string) error {
	ctx, cancel, err := c.call(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	_, err = c.billing.Projects.UpdateBillingInfo("projects/"+projectID, &cloudbilling.ProjectBillingInfo{
		BillingAccountName: accountName,
	}).Context(ctx).Do()
	return err
}

// EnabledServices implements ServicesAPI.
func (c *Clients) EnabledServices(ctx context.Context, projectID string, services []string) (map[string]bool, error) {
	enabled := make(map[string]bool, len(services))
	for _, chunk := range chunks(services, batchLimit) {
		names := make([]string, len(chunk))
		for i, s := range chunk {
			names[i] = fmt.Sprintf("projects/%s/services/%s", projectID, s)
		}

		callCtx, cancel, err := c.call(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := c.services.Services.BatchGet("projects/" + projectID).Names(names...).Context(callCtx).Do()
		cancel()
		if err != nil {
			return nil, err
		}

		for _, svc := range resp.Services {
			name := svc.Name
			if i := strings.LastIndex(name, "/services/"); i >= 0 {
				name = name[i+len("/services/"):]
			}
			enabled[name] = svc.State == "ENABLED"
		}
	}
	return enabled, nil
}

// EnableServices implements ServicesAPI. Callers pass at most batchLimit services.
func (c *Clients) EnableServices(ctx context.Context, projectID string, services []string) (*Operation, error) {
	ctx, cancel, err := c.call(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	op, err := c.services.Services.BatchEnable("projects/"+projectID, &serviceusage.BatchEnableServicesRequest{
		ServiceIds: services,
	}).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	out := &Operation{Name: op.Name, Done: op.Done}
	if op.Error != nil {
		out.ErrCode, out.ErrMessage = op.Error.Code, op.Error.Message
	}
	return out, nil
}

// Services returns the ServicesAPI view of the clients, whose GetOperation
// polls service usage operations instead of resource manager ones.
func (c *Clients) Services() ServicesAPI {
	return serviceOps{c}
}

type serviceOps struct{ *Clients }

func (s serviceOps) GetOperation(ctx context.Context, name string) (*Operation, error) {
	ctx, cancel, err := s.call(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	op, err := s.services.Operations.Get(name).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	out := &Operation{Name: op.Name, Done: op.Done}
	if op.Error != nil {
		out.ErrCode, out.ErrMessage = op.Error.Code, op.Error.Message
	}
	return out, nil
}

// DatasetExists implements DatasetsAPI.
func (c *Clients) DatasetExists(ctx context.Context, projectID, datasetID string) (bool, error) {
	ctx, cancel, err := c.call(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()

	client, err := bigquery.NewClient(ctx, projectID, c.opts...)
	if err != nil {
		return false, err
	}
	defer client.Close()

	_, err = client.Dataset(datasetID).Metadata(ctx)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CreateDataset implements DatasetsAPI.
func (c *Clients) CreateDataset(ctx context.Context, projectID, datasetID, location string, labels map[string]string) error {
	ctx, cancel, err := c.call(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	client, err := bigquery.NewClient(ctx, projectID, c.opts...)
	if err != nil {
		return err
	}
	defer client.Close()

	return client.Dataset(datasetID).Create(ctx, &bigquery.DatasetMetadata{
		Location: location,
		Labels:   labels,
	})
}

const batchLimit = 20

func chunks(items []string, size int) [][]string {
	var out [][]string
	for len(items) > size {
		out = append(out, items[:size])
		items = items[size:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}

var (
	_ ProjectsAPI = (*Clients)(nil)
	_ BillingAPI  = (*Clients)(nil)
	_ DatasetsAPI = (*Clients)(nil)
	_ ServicesAPI = serviceOps{}
)
