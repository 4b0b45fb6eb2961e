package commands

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/lumaops/provisioner/pkg/engine"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"validation", engine.NewValidationError("missing slug", nil), 2},
		{"wrapped validation", fmt.Errorf("trigger: %w", engine.NewValidationError("bad", nil)), 2},
		{"transient", engine.NewTransientError("timeout", nil), 3},
		{"claim conflict", engine.NewClaimConflictError("claimed", nil), 3},
		{"manifest conflict", engine.NewManifestConflictError("contended", nil), 3},
		{"permanent", engine.NewPermanentError("denied", nil), 1},
		{"manifest corrupt", engine.NewManifestCorruptError("unparseable", nil), 1},
		{"plain", errors.New("boom"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Fatalf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand("test", "abc", "today")

	for _, name := range []string{"serve", "provision", "status", "reset", "manifest", "config"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd == root {
			t.Fatalf("subcommand %q not registered: %v", name, err)
		}
	}

	for _, path := range [][]string{{"manifest", "show"}, {"manifest", "check"}, {"config", "validate"}} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[1] {
			t.Fatalf("subcommand %v not registered: %v", path, err)
		}
	}
}

func TestResetRejectsInputBeforeLoadingConfig(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown step", []string{"reset", "client-1", "--from", "bogus", "--yes"}},
		{"missing confirmation", []string{"reset", "client-1", "--from", "dataset_created"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newRootCommand("test", "abc", "today")
			root.SetArgs(tt.args)

			err := root.ExecuteContext(context.Background())
			if err == nil {
				t.Fatal("expected an error")
			}
			if !engine.IsValidation(err) {
				t.Fatalf("expected a validation error, got %v", err)
			}
			if ExitCode(err) != 2 {
				t.Fatalf("exit code = %d, want 2", ExitCode(err))
			}
		})
	}
}
