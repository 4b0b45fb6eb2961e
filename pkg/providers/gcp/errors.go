package gcp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/lumaops/provisioner/pkg/engine"
)

// Classify maps a Google API error to the engine taxonomy. Errors that are
// already classified pass through unchanged.
//
// Rate limiting, 5xx responses, timeouts and transport failures are
// transient. 409 means the resource already exists. Permission, quota and
// argument errors are permanent.
func Classify(op, resource string, err error) error {
	if err == nil {
		return nil
	}

	var classified *engine.Error
	if errors.As(err, &classified) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return engine.NewTransientError("request timed out", err).
			WithCode(engine.ErrCodeTimeout).WithOperation(op).WithResource(resource)
	}
	if errors.Is(err, context.Canceled) {
		return engine.NewTransientError("request cancelled", err).
			WithCode(engine.ErrCodeTimeout).WithOperation(op).WithResource(resource)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return classifyHTTP(gerr, err).WithOperation(op).WithResource(resource)
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return classifyCode(st.Code(), st.Message(), err).WithOperation(op).WithResource(resource)
	}

	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return engine.NewTransientError("transport failure", err).
			WithCode(engine.ErrCodeUnavailable).WithOperation(op).WithResource(resource)
	}

	return engine.NewPermanentError("unexpected provider error", err).
		WithCode(engine.ErrCodeInternal).WithOperation(op).WithResource(resource)
}

func classifyHTTP(gerr *googleapi.Error, err error) *engine.Error {
	switch gerr.Code {
	case http.StatusConflict:
		if hasReason(gerr, "aborted") {
			return engine.NewTransientError("concurrent modification", err).WithCode(engine.ErrCodeUnavailable)
		}
		return engine.NewAlreadyExistsError("resource already exists", err)

	case http.StatusTooManyRequests:
		return engine.NewTransientError("rate limited", err).WithCode(engine.ErrCodeRateLimited)

	case http.StatusForbidden:
		switch {
		case hasReason(gerr, "rateLimitExceeded", "userRateLimitExceeded"):
			return engine.NewTransientError("rate limited", err).WithCode(engine.ErrCodeRateLimited)
		case hasReason(gerr, "quotaExceeded"):
			return engine.NewPermanentError("quota exceeded", err).WithCode(engine.ErrCodeQuotaExceeded)
		}
		return engine.NewPermanentError("permission denied", err).WithCode(engine.ErrCodePermissionDenied)

	case http.StatusUnauthorized:
		return engine.NewPermanentError("unauthenticated", err).WithCode(engine.ErrCodePermissionDenied)

	case http.StatusBadRequest:
		return engine.NewPermanentError("invalid argument", err).WithCode(engine.ErrCodeInvalidArgument)

	case http.StatusNotFound:
		return engine.NewPermanentError("resource not found", err).WithCode(engine.ErrCodeNotFound)

	case http.StatusRequestTimeout:
		return engine.NewTransientError("request timed out", err).WithCode(engine.ErrCodeTimeout)
	}

	if gerr.Code >= 500 {
		return engine.NewTransientError("provider unavailable", err).WithCode(engine.ErrCodeUnavailable)
	}
	return engine.NewPermanentError("request rejected", err).WithCode(engine.ErrCodeInvalidArgument)
}

// classifyCode maps a canonical status code, as returned by gRPC calls and
// carried in long-running operation errors.
func classifyCode(code codes.Code, msg string, err error) *engine.Error {
	if err == nil {
		err = errors.New(msg)
	}

	switch code {
	case codes.AlreadyExists:
		return engine.NewAlreadyExistsError("resource already exists", err)

	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
		return engine.NewTransientError("provider unavailable", err).WithCode(engine.ErrCodeUnavailable)

	case codes.ResourceExhausted:
		if strings.Contains(strings.ToLower(msg), "quota") {
			return engine.NewPermanentError("quota exceeded", err).WithCode(engine.ErrCodeQuotaExceeded)
		}
		return engine.NewTransientError("rate limited", err).WithCode(engine.ErrCodeRateLimited)

	case codes.PermissionDenied, codes.Unauthenticated:
		return engine.NewPermanentError("permission denied", err).WithCode(engine.ErrCodePermissionDenied)

	case codes.NotFound:
		return engine.NewPermanentError("resource not found", err).WithCode(engine.ErrCodeNotFound)

	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return engine.NewPermanentError("invalid argument", err).WithCode(engine.ErrCodeInvalidArgument)
	}

	return engine.NewPermanentError("provider error", err).WithCode(engine.ErrCodeInternal)
}

func hasReason(gerr *googleapi.Error, reasons ...string) bool {
	for _, item := range gerr.Errors {
		for _, r := range reasons {
			if item.Reason == r {
				return true
			}
		}
	}
	return false
}

func httpCode(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	switch status.Code(err) {
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists:
		return http.StatusConflict
	case codes.PermissionDenied:
		return http.StatusForbidden
	}
	return 0
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	return httpCode(err) == http.StatusNotFound
}

// IsForbidden reports whether err is a 403 from the API.
func IsForbidden(err error) bool {
	return httpCode(err) == http.StatusForbidden
}

// IsAlreadyExists reports whether err is a 409 from the API.
func IsAlreadyExists(err error) bool {
	return httpCode(err) == http.StatusConflict
}
