// Package syncerrors collects the error-kind taxonomy shared across the
// sync engine: sentinel values for parameterless kinds, small structs for
// parameterized ones. Callers dispatch with errors.Is / errors.As, never by
// comparing strings.
package syncerrors

import (
	"errors"
	"fmt"
	"time"
)

// Eligibility kinds.
var (
	ErrPolicyDisabled             = errors.New("syncerrors: policy disabled")
	ErrNotAuthenticated           = errors.New("syncerrors: not authenticated")
	ErrSubscriptionRequired       = errors.New("syncerrors: subscription required")
	ErrConditionsNotMet           = errors.New("syncerrors: conditions not met")
	ErrTooManyConcurrentOps       = errors.New("syncerrors: too many concurrent operations")
	ErrDuplicateOperation         = errors.New("syncerrors: duplicate operation")
)

// Transport kinds.
var (
	ErrNetworkUnavailable = errors.New("syncerrors: network unavailable")
	ErrTimeout            = errors.New("syncerrors: timeout")
	ErrUnauthorized       = errors.New("syncerrors: unauthorized")
	ErrForbidden          = errors.New("syncerrors: forbidden")
	ErrNotFound           = errors.New("syncerrors: not found")
	ErrCancelled          = errors.New("syncerrors: cancelled")
)

// RateLimited reports a transport-level throttle response.
type RateLimited struct {
	RetryAfter *time.Duration
}

func (e *RateLimited) Error() string {
	if e.RetryAfter != nil {
		return fmt.Sprintf("syncerrors: rate limited, retry after %s", *e.RetryAfter)
	}

	return "syncerrors: rate limited"
}

// ServerError reports a remote 5xx-class failure.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("syncerrors: server error %d: %s", e.Status, e.Message)
}

// Data kinds.

// SchemaIncompatible reports that a family's expected and remote shapes
// diverge beyond additive changes.
type SchemaIncompatible struct {
	Family      string
	Differences []string
}

func (e *SchemaIncompatible) Error() string {
	return fmt.Sprintf("syncerrors: schema incompatible for %s: %v", e.Family, e.Differences)
}

// IntegrityViolation reports one failed invariant check.
type IntegrityViolation struct {
	Kind string
}

func (e *IntegrityViolation) Error() string {
	return "syncerrors: integrity violation: " + e.Kind
}

// Conflict kinds.
var (
	ErrAutoResolutionDisabled = errors.New("syncerrors: auto resolution disabled")
)

// UnresolvableConflict reports a conflict no configured strategy could settle.
type UnresolvableConflict struct {
	Reason string
}

func (e *UnresolvableConflict) Error() string {
	return "syncerrors: unresolvable conflict: " + e.Reason
}

// Internal kinds.

// StoreFailure reports a local-record-store failure.
type StoreFailure struct {
	Kind string
}

func (e *StoreFailure) Error() string {
	return "syncerrors: store failure: " + e.Kind
}
