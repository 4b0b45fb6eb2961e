package gcp

import (
	"context"
	"net/http"
	"sync"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/lumaops/provisioner/pkg/engine"
)

var fastPoll = PollConfig{Interval: time.Millisecond, Timeout: 200 * time.Millisecond}

func apiErr(code int, reasons ...string) error {
	e := &googleapi.Error{Code: code, Message: http.StatusText(code)}
	for _, r := range reasons {
		e.Errors = append(e.Errors, googleapi.ErrorItem{Reason: r})
	}
	return e
}

func testRecord() *engine.ClientRecord {
	return &engine.ClientRecord{
		ID:         "c-1",
		Slug:       "acme",
		Name:       "Acme Corporation",
		BusinessID: "1234567890",
		ProjectID:  "acme-prod-1",
	}
}

type fakeProjects struct {
	mu sync.Mutex

	projects map[string]*Project
	getErr   error
	createFn func(id, displayName, parent string) (*Operation, error)

	// pollsUntilDone is the number of GetOperation calls before the
	// operation reports done.
	pollsUntilDone int
	opErrCode      int64

	creates int
	polls   int
}

func newFakeProjects() *fakeProjects {
	return &fakeProjects{projects: map[string]*Project{}}
}

func (f *fakeProjects) GetProject(_ context.Context, id string) (*Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	p, ok := f.projects[id]
	if !ok {
		return nil, apiErr(http.StatusForbidden)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProjects) CreateProject(_ context.Context, id, displayName, parent string) (*Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createFn != nil {
		return f.createFn(id, displayName, parent)
	}
	if _, ok := f.projects[id]; ok {
		return nil, apiErr(http.StatusConflict)
	}
	if f.opErrCode == 0 {
		f.projects[id] = &Project{ProjectID: id, Parent: parent, State: "ACTIVE"}
	}
	return &Operation{Name: "operations/cp." + id, Done: f.pollsUntilDone == 0, ErrCode: f.doneErr()}, nil
}

func (f *fakeProjects) doneErr() int64 {
	if f.pollsUntilDone == 0 {
		return f.opErrCode
	}
	return 0
}

func (f *fakeProjects) GetOperation(_ context.Context, name string) (*Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.polls < f.pollsUntilDone {
		return &Operation{Name: name}, nil
	}
	return &Operation{Name: name, Done: true, ErrCode: f.opErrCode, ErrMessage: "operation failed"}, nil
}

type fakeBilling struct {
	info       map[string]*BillingInfo
	getErr     error
	updateErr  error
	updates    []string
	getCalls   int
}

func (f *fakeBilling) GetBillingInfo(_ context.Context, id string) (*BillingInfo, error) {
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	if info, ok := f.info[id]; ok {
		return info, nil
	}
	return &BillingInfo{}, nil
}

func (f *fakeBilling) UpdateBillingInfo(_ context.Context, id, account string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, account)
	if f.info == nil {
		f.info = map[string]*BillingInfo{}
	}
	f.info[id] = &BillingInfo{AccountName: account, Enabled: true}
	return nil
}

type fakeServices struct {
	enabled   map[string]bool
	getErr    error
	enableErr error
	opErrCode int64
	batches   [][]string
}

func (f *fakeServices) EnabledServices(_ context.Context, _ string, services []string) (map[string]bool, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	out := make(map[string]bool, len(services))
	for _, s := range services {
		out[s] = f.enabled[s]
	}
	return out, nil
}

func (f *fakeServices) EnableServices(_ context.Context, _ string, services []string) (*Operation, error) {
	if f.enableErr != nil {
		return nil, f.enableErr
	}
	f.batches = append(f.batches, append([]string(nil), services...))
	return &Operation{Name: "operations/enable"}, nil
}

func (f *fakeServices) GetOperation(_ context.Context, name string) (*Operation, error) {
	if f.opErrCode != 0 {
		return &Operation{Name: name, Done: true, ErrCode: f.opErrCode, ErrMessage: "enable failed"}, nil
	}
	if f.enabled == nil {
		f.enabled = map[string]bool{}
	}
	for _, b := range f.batches {
		for _, s := range b {
			f.enabled[s] = true
		}
	}
	return &Operation{Name: name, Done: true}, nil
}

type fakeDatasets struct {
	datasets  map[string]map[string]string
	existsErr error
	createErr error
	creates   int
}

func (f *fakeDatasets) DatasetExists(_ context.Context, project, dataset string) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, ok := f.datasets[project+":"+dataset]
	return ok, nil
}

func (f *fakeDatasets) CreateDataset(_ context.Context, project, dataset, _ string, labels map[string]string) error {
	f.creates++
	if f.createErr != nil {
		return f.createErr
	}
	if f.datasets == nil {
		f.datasets = map[string]map[string]string{}
	}
	f.datasets[project+":"+dataset] = labels
	return nil
}
