package gcp

import (
	"context"
	"net/http"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"

	"github.com/lumaops/provisioner/pkg/engine"
)

func TestProjectCreatorCreatesMissingProject(t *testing.T) {
	api := newFakeProjects()
	api.pollsUntilDone = 3
	step := NewProjectCreator(api, "123456", fastPoll, zerolog.Nop())

	if step.Step() != engine.StepProjectCreated {
		t.Fatalf("unexpected step %s", step.Step())
	}
	if err := step.Run(context.Background(), testRecord()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if api.creates != 1 {
		t.Errorf("expected 1 create, got %d", api.creates)
	}
	if api.polls != 3 {
		t.Errorf("expected 3 polls, got %d", api.polls)
	}
	p, ok := api.projects["acme-prod-1"]
	if !ok {
		t.Fatal("project not created")
	}
	if p.Parent != "folders/123456" {
		t.Errorf("unexpected parent %s", p.Parent)
	}
}

func TestProjectCreatorSkipsExistingProject(t *testing.T) {
	api := newFakeProjects()
	api.projects["acme-prod-1"] = &Project{ProjectID: "acme-prod-1", State: "ACTIVE"}
	step := NewProjectCreator(api, "folders/1", fastPoll, zerolog.Nop())

	if err := step.Run(context.Background(), testRecord()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if api.creates != 0 {
		t.Errorf("existing project was created again: %d creates", api.creates)
	}
}

func TestProjectCreatorRerunIsIdempotent(t *testing.T) {
	api := newFakeProjects()
	step := NewProjectCreator(api, "folders/1", fastPoll, zerolog.Nop())

	for i := 0; i < 3; i++ {
		if err := step.Run(context.Background(), testRecord()); err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
	}
	if api.creates != 1 || len(api.projects) != 1 {
		t.Errorf("expected one project, got creates=%d projects=%d", api.creates, len(api.projects))
	}
}

func TestProjectCreatorConflictWithVisibleProject(t *testing.T) {
	api := newFakeProjects()
	api.createFn = func(id, _, parent string) (*Operation, error) {
		// a concurrent create won the race
		api.projects[id] = &Project{ProjectID: id, Parent: parent, State: "ACTIVE"}
		return nil, apiErr(http.StatusConflict)
	}
	step := NewProjectCreator(api, "folders/1", fastPoll, zerolog.Nop())

	if err := step.Run(context.Background(), testRecord()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
}

func TestProjectCreatorConflictWithForeignProject(t *testing.T) {
	api := newFakeProjects()
	api.createFn = func(string, string, string) (*Operation, error) {
		return nil, apiErr(http.StatusConflict)
	}
	step := NewProjectCreator(api, "folders/1", fastPoll, zerolog.Nop())

	err := step.Run(context.Background(), testRecord())
	if !engine.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if engine.CodeOf(err) != engine.ErrCodeAlreadyExists {
		t.Errorf("unexpected code %s", engine.CodeOf(err))
	}
}

func TestProjectCreatorPendingDeletion(t *testing.T) {
	api := newFakeProjects()
	api.projects["acme-prod-1"] = &Project{ProjectID: "acme-prod-1", State: "DELETE_REQUESTED"}
	step := NewProjectCreator(api, "folders/1", fastPoll, zerolog.Nop())

	if err := step.Run(context.Background(), testRecord()); !engine.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if api.creates != 0 {
		t.Errorf("unexpected create: %d", api.creates)
	}
}

func TestProjectCreatorOperationFailure(t *testing.T) {
	api := newFakeProjects()
	api.pollsUntilDone = 1
	api.opErrCode = int64(codes.PermissionDenied)
	step := NewProjectCreator(api, "folders/1", fastPoll, zerolog.Nop())

	err := step.Run(context.Background(), testRecord())
	if !engine.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if engine.CodeOf(err) != engine.ErrCodePermissionDenied {
		t.Errorf("unexpected code %s", engine.CodeOf(err))
	}
}

func TestProjectCreatorOperationTimeoutIsTransient(t *testing.T) {
	api := newFakeProjects()
	api.pollsUntilDone = 1 << 30
	step := NewProjectCreator(api, "folders/1", fastPoll, zerolog.Nop())

	err := step.Run(context.Background(), testRecord())
	if !engine.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if engine.CodeOf(err) != engine.ErrCodeTimeout {
		t.Errorf("unexpected code %s", engine.CodeOf(err))
	}
}

func TestProjectCreatorGetFailureIsClassified(t *testing.T) {
	api := newFakeProjects()
	api.getErr = apiErr(http.StatusServiceUnavailable)
	step := NewProjectCreator(api, "folders/1", fastPoll, zerolog.Nop())

	if err := step.Run(context.Background(), testRecord()); !engine.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if api.creates != 0 {
		t.Errorf("create issued after a failed existence check: %d", api.creates)
	}
}

func TestDisplayName(t *testing.T) {
	rec := testRecord()
	if got := DisplayName(rec); got != "Acme Corporation" {
		t.Errorf("DisplayName = %q", got)
	}

	rec.Name = "A Very Long Client Name That Exceeds The Limit"
	if got := DisplayName(rec); got != "A Very Long Client Name That E" || len(got) != maxDisplayNameLength {
		t.Errorf("DisplayName not truncated: %q", got)
	}

	rec.Name = "  "
	if got := DisplayName(rec); got != "acme-prod-1" {
		t.Errorf("blank name must fall back to the project id, got %q", got)
	}
}

func TestNormalizeParent(t *testing.T) {
	tests := map[string]string{
		"42":              "folders/42",
		"folders/42":      "folders/42",
		"organizations/7": "organizations/7",
		"":                "",
	}
	for in, want := range tests {
		if got := NormalizeParent(in); got != want {
			t.Errorf("NormalizeParent(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBillingLinker(t *testing.T) {
	t.Run("links unlinked project", func(t *testing.T) {
		api := &fakeBilling{}
		step := NewBillingLinker(api, "0000-AAAA", zerolog.Nop())

		if step.Step() != engine.StepBillingLinked {
			t.Fatalf("unexpected step %s", step.Step())
		}
		if err := step.Run(context.Background(), testRecord()); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if !reflect.DeepEqual(api.updates, []string{"billingAccounts/0000-AAAA"}) {
			t.Fatalf("unexpected updates %v", api.updates)
		}

		if err := step.Run(context.Background(), testRecord()); err != nil {
			t.Fatalf("second Run failed: %v", err)
		}
		if len(api.updates) != 1 {
			t.Errorf("linked project was updated again: %v", api.updates)
		}
	})

	t.Run("no account configured", func(t *testing.T) {
		api := &fakeBilling{}
		step := NewBillingLinker(api, "", zerolog.Nop())

		if err := step.Run(context.Background(), testRecord()); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if api.getCalls != 0 {
			t.Errorf("no-op step called the API %d times", api.getCalls)
		}
	})

	t.Run("relinks other account", func(t *testing.T) {
		api := &fakeBilling{info: map[string]*BillingInfo{
			"acme-prod-1": {AccountName: "billingAccounts/OTHER", Enabled: true},
		}}
		step := NewBillingLinker(api, "billingAccounts/MINE", zerolog.Nop())

		if err := step.Run(context.Background(), testRecord()); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if !reflect.DeepEqual(api.updates, []string{"billingAccounts/MINE"}) {
			t.Errorf("unexpected updates %v", api.updates)
		}
	})

	t.Run("permission denied", func(t *testing.T) {
		api := &fakeBilling{updateErr: apiErr(http.StatusForbidden)}
		step := NewBillingLinker(api, "MINE", zerolog.Nop())

		if err := step.Run(context.Background(), testRecord()); !engine.IsPermanent(err) {
			t.Fatalf("expected permanent error, got %v", err)
		}
	})

	t.Run("rate limited read", func(t *testing.T) {
		api := &fakeBilling{getErr: apiErr(http.StatusTooManyRequests)}
		step := NewBillingLinker(api, "MINE", zerolog.Nop())

		if err := step.Run(context.Background(), testRecord()); !engine.IsTransient(err) {
			t.Fatalf("expected transient error, got %v", err)
		}
	})
}

func TestCapabilityEnabler(t *testing.T) {
	t.Run("enables only missing services", func(t *testing.T) {
		api := &fakeServices{enabled: map[string]bool{"storage.googleapis.com": true}}
		step := NewCapabilityEnabler(api, nil, fastPoll, zerolog.Nop())

		if step.Step() != engine.StepCapabilitiesEnabled {
			t.Fatalf("unexpected step %s", step.Step())
		}
		if err := step.Run(context.Background(), testRecord()); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if len(api.batches) != 1 {
			t.Fatalf("expected 1 enable batch, got %d", len(api.batches))
		}
		for _, svc := range api.batches[0] {
			if svc == "storage.googleapis.com" {
				t.Error("already enabled service was enabled again")
			}
		}
		if len(api.batches[0]) != len(DefaultRequiredServices)-1 {
			t.Errorf("expected %d services, got %v", len(DefaultRequiredServices)-1, api.batches[0])
		}

		if err := step.Run(context.Background(), testRecord()); err != nil {
			t.Fatalf("second Run failed: %v", err)
		}
		if len(api.batches) != 1 {
			t.Errorf("second run enabled services again: %d batches", len(api.batches))
		}
	})

	t.Run("chunks large requests", func(t *testing.T) {
		var services []string
		for i := 0; i < batchLimit+5; i++ {
			services = append(services, "svc"+string(rune('a'+i))+".googleapis.com")
		}
		api := &fakeServices{}
		step := NewCapabilityEnabler(api, services, fastPoll, zerolog.Nop())

		if err := step.Run(context.Background(), testRecord()); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if len(api.batches) != 2 || len(api.batches[0]) != batchLimit || len(api.batches[1]) != 5 {
			t.Fatalf("unexpected batches: %v", api.batches)
		}
	})

	t.Run("already enabled conflict", func(t *testing.T) {
		api := &fakeServices{enableErr: apiErr(http.StatusConflict)}
		step := NewCapabilityEnabler(api, nil, fastPoll, zerolog.Nop())

		if err := step.Run(context.Background(), testRecord()); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	})

	t.Run("operation failure", func(t *testing.T) {
		api := &fakeServices{opErrCode: int64(codes.FailedPrecondition)}
		step := NewCapabilityEnabler(api, nil, fastPoll, zerolog.Nop())

		if err := step.Run(context.Background(), testRecord()); !engine.IsPermanent(err) {
			t.Fatalf("expected permanent error, got %v", err)
		}
	})

	t.Run("unavailable", func(t *testing.T) {
		api := &fakeServices{getErr: apiErr(http.StatusServiceUnavailable)}
		step := NewCapabilityEnabler(api, nil, fastPoll, zerolog.Nop())

		if err := step.Run(context.Background(), testRecord()); !engine.IsTransient(err) {
			t.Fatalf("expected transient error, got %v", err)
		}
	})
}

func TestDatasetCreator(t *testing.T) {
	t.Run("creates with labels", func(t *testing.T) {
		api := &fakeDatasets{}
		step := NewDatasetCreator(api, "meta_ads", "", zerolog.Nop())

		if step.Step() != engine.StepDatasetCreated {
			t.Fatalf("unexpected step %s", step.Step())
		}
		if err := step.Run(context.Background(), testRecord()); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		labels, ok := api.datasets["acme-prod-1:meta_ads"]
		if !ok {
			t.Fatal("dataset not created")
		}
		if labels["managed-by"] != "provisioner" {
			t.Errorf("unexpected labels %v", labels)
		}

		if err := step.Run(context.Background(), testRecord()); err != nil {
			t.Fatalf("second Run failed: %v", err)
		}
		if api.creates != 1 {
			t.Errorf("expected 1 create, got %d", api.creates)
		}
	})

	t.Run("conflict is success", func(t *testing.T) {
		api := &fakeDatasets{createErr: apiErr(http.StatusConflict)}
		step := NewDatasetCreator(api, "meta_ads", "EU", zerolog.Nop())

		if err := step.Run(context.Background(), testRecord()); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	})

	t.Run("permission denied", func(t *testing.T) {
		api := &fakeDatasets{createErr: apiErr(http.StatusForbidden)}
		step := NewDatasetCreator(api, "meta_ads", "US", zerolog.Nop())

		err := step.Run(context.Background(), testRecord())
		if !engine.IsPermanent(err) {
			t.Fatalf("expected permanent error, got %v", err)
		}
		if engine.CodeOf(err) != engine.ErrCodePermissionDenied {
			t.Errorf("unexpected code %s", engine.CodeOf(err))
		}
	})
}
