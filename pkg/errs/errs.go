// Package errs holds the error taxonomy shared by adapters, the ingestion engine and the poller.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
)

var (
	// ErrTransientProvider marks network failures, timeouts and retryable provider responses.
	ErrTransientProvider = errors.New("transient provider error")
	// ErrDuplicateRecord is returned when a record was already materialized. Callers treat it as success.
	ErrDuplicateRecord = errors.New("duplicate record")
	// ErrMapping marks unknown content types or statuses that were mapped to a default bucket.
	ErrMapping = errors.New("mapping error")
	// ErrPersistence marks storage failures for a single record.
	ErrPersistence = errors.New("persistence error")
	// ErrAuth marks rejected or insufficient source credentials.
	ErrAuth = errors.New("auth error")
	// ErrNotSupported is returned by adapters for operations a provider does not offer.
	ErrNotSupported = errors.New("operation not supported by provider")
	// ErrNotFound is returned by repositories when a row does not exist.
	ErrNotFound = errors.New("not found")
)

// Transient wraps err as ErrTransientProvider.
func Transient(err error) error { return wrap(ErrTransientProvider, err) }

// Auth wraps err as ErrAuth.
func Auth(err error) error { return wrap(ErrAuth, err) }

// Persistence wraps err as ErrPersistence.
func Persistence(err error) error { return wrap(ErrPersistence, err) }

// Mapping wraps err as ErrMapping.
func Mapping(err error) error { return wrap(ErrMapping, err) }

func wrap(kind, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// FromStatus classifies an HTTP status code returned by a provider API.
// It returns nil for 2xx codes.
func FromStatus(code int, body string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: status %d: %s", ErrAuth, code, body)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrTransientProvider, code, body)
	default:
		return fmt.Errorf("provider rejected request: status %d: %s", code, body)
	}
}

// Classify maps a raw error from a provider client onto the taxonomy.
// Errors already carrying a taxonomy sentinel are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrTransientProvider, ErrAuth, ErrPersistence, ErrMapping, ErrDuplicateRecord, ErrNotSupported} {
		if errors.Is(err, known) {
			return err
		}
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if classified := FromStatus(gerr.Code, gerr.Message); classified != nil {
			if errors.Is(classified, ErrAuth) || errors.Is(classified, ErrTransientProvider) {
				return fmt.Errorf("%w: %w", classified, err)
			}
		}
		if gerr.Code == http.StatusNotFound {
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient(err)
	}

	msg := strings.ToLower(err.Error())
	for _, indicator := range []string{"invalid credentials", "authentication failed", "insufficient authentication scopes", "invalid_grant", "unauthorized"} {
		if strings.Contains(msg, indicator) {
			return Auth(err)
		}
	}
	for _, indicator := range []string{"connection refused", "connection reset", "no such host", "timeout", "eof", "broken pipe"} {
		if strings.Contains(msg, indicator) {
			return Transient(err)
		}
	}
	return err
}

// IsRetryable reports whether a failed operation is worth retrying later.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMapping) || errors.Is(err, ErrNotSupported) || errors.Is(err, ErrDuplicateRecord) {
		return false
	}
	return true
}

// HTTPStatus picks the response code for an error surfaced by the agent API
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotSupported):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrAuth), errors.Is(err, ErrTransientProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
