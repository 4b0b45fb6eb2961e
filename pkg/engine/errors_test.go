package engine

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorClassHelpers(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		class ErrorClass
	}{
		{"validation", NewValidationError("bad", nil), IsValidation, ErrorClassValidation},
		{"transient", NewTransientError("busy", nil), IsTransient, ErrorClassTransient},
		{"exists", NewAlreadyExistsError("exists", nil), IsAlreadyExists, ErrorClassAlreadyExists},
		{"permanent", NewPermanentError("denied", nil), IsPermanent, ErrorClassPermanent},
		{"manifest conflict", NewManifestConflictError("lost", nil), IsManifestConflict, ErrorClassManifestConflict},
		{"manifest corrupt", NewManifestCorruptError("broken", nil), IsManifestCorrupt, ErrorClassManifestCorrupt},
		{"claim conflict", NewClaimConflictError("busy", nil), IsClaimConflict, ErrorClassClaimConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("context: %w", tt.err)
			if !tt.check(wrapped) {
				t.Errorf("helper did not match wrapped error")
			}
			if ClassOf(wrapped) != tt.class {
				t.Errorf("expected class %s, got %s", tt.class, ClassOf(wrapped))
			}
		})
	}
}

func TestClassOfUnclassified(t *testing.T) {
	if ClassOf(errors.New("plain")) != ErrorClassPermanent {
		t.Fatal("unclassified errors must be permanent")
	}
	if IsTransient(errors.New("plain")) {
		t.Fatal("unclassified error reported transient")
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Fatal("unclassified error has a code")
	}
}

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("googleapi: 403")
	err := NewPermanentError("permission denied", cause).
		WithCode(ErrCodePermissionDenied).
		WithResource("acme-prod-1").
		WithOperation("projects.create").
		WithStep(StepProjectCreated)

	msg := err.Error()
	for _, want := range []string{"[PermanentProviderError]", "permission denied", "resource=acme-prod-1", "operation=projects.create", "googleapi: 403"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
	if !errors.Is(err, cause) {
		t.Error("cause not reachable through Unwrap")
	}
	if !errors.Is(err, &Error{Class: ErrorClassPermanent, Code: ErrCodePermissionDenied}) {
		t.Error("errors.Is should match on class and code")
	}
	if errors.Is(err, &Error{Class: ErrorClassTransient, Code: ErrCodePermissionDenied}) {
		t.Error("errors.Is matched a different class")
	}
}

func TestValidationErrorCode(t *testing.T) {
	if CodeOf(NewValidationError("bad", nil)) != ErrCodeInvalidRecord {
		t.Fatal("validation errors carry INVALID_RECORD")
	}
}
