// Package opregistry implements the Operation Registry (C9): bounded
// concurrent in-flight operations, cancellation, and at-most-one-per-
// fingerprint admission. The registry is the sole owner of in-flight
// OperationContext values — no other component writes to it, mirroring the
// teacher's DepTracker single-writer mutex-guarded map.
package opregistry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/brightloom/syncengine/internal/metrics"
	"github.com/brightloom/syncengine/internal/syncengine"
	"github.com/brightloom/syncengine/internal/syncerrors"
)

// Registry tracks in-flight operations keyed by fingerprint
// (entity_family, operation_type).
type Registry struct {
	mu       sync.Mutex
	active   map[string]*syncengine.OperationContext
	maxOps   int
	group    singleflight.Group
}

// New builds a Registry admitting at most maxConcurrent operations at once.
func New(maxConcurrent int) *Registry {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	return &Registry{
		active: make(map[string]*syncengine.OperationContext),
		maxOps: maxConcurrent,
	}
}

func fingerprint(family string, opType syncengine.OperationType) string {
	return fmt.Sprintf("%s:%s", family, opType)
}

// Register admits a new operation, or fails with ErrDuplicateOperation if
// one is already in flight for the same fingerprint, or
// ErrTooManyConcurrentOps if the registry is at capacity.
func (r *Registry) Register(ctx context.Context, family string, opType syncengine.OperationType, user string, policy syncengine.SyncPolicy) (*syncengine.OperationContext, context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fp := fingerprint(family, opType)
	if _, exists := r.active[fp]; exists {
		return nil, nil, syncerrors.ErrDuplicateOperation
	}

	if len(r.active) >= r.maxOps {
		return nil, nil, syncerrors.ErrTooManyConcurrentOps
	}

	opCtx, cancel := context.WithCancel(ctx)
	if policy.MaxSyncDuration > 0 {
		opCtx, cancel = context.WithTimeout(ctx, policy.MaxSyncDuration)
	}

	op := &syncengine.OperationContext{
		ID:             uuid.NewString(),
		Type:           opType,
		EntityFamily:   family,
		RequestingUser: user,
		Policy:         policy,
		StartedAt:      time.Now(),
		Status:         syncengine.OpStatusRunning,
	}
	op.SetCancelFunc(cancel)

	r.active[fp] = op

	metrics.OperationsActive.WithLabelValues(family, string(opType)).Inc()

	return op, opCtx, nil
}

// Unregister removes an operation from the active set once it has reached a
// terminal status.
func (r *Registry) Unregister(family string, opType syncengine.OperationType, status syncengine.OperationStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fp := fingerprint(family, opType)
	if op, ok := r.active[fp]; ok {
		op.Status = status
		delete(r.active, fp)

		metrics.OperationsActive.WithLabelValues(family, string(opType)).Dec()
		metrics.OperationsTotal.WithLabelValues(family, string(opType), string(status)).Inc()
	}
}

// ActiveCount returns the number of currently in-flight operations. It never
// exceeds the registry's configured maximum.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.active)
}

// Get returns the in-flight operation for a fingerprint, if any.
func (r *Registry) Get(family string, opType syncengine.OperationType) (*syncengine.OperationContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.active[fingerprint(family, opType)]

	return op, ok
}

// Cancel requests cooperative cancellation of the in-flight operation for a
// fingerprint, if any.
func (r *Registry) Cancel(family string, opType syncengine.OperationType) bool {
	r.mu.Lock()
	op, ok := r.active[fingerprint(family, opType)]
	r.mu.Unlock()

	if !ok {
		return false
	}

	op.Cancel()

	return true
}

// Deduplicate collapses concurrent calls sharing fp into a single execution
// of fn via singleflight: a caller arriving while fn is already running for
// fp blocks and receives the in-flight call's result instead of running fn
// itself. The engine uses this to fold concurrent run requests for the same
// (family, operation_type) into one pipeline execution whose report every
// caller shares, rather than having every caller but the first rejected with
// ErrDuplicateOperation by Register's admission check.
func (r *Registry) Deduplicate(fp string, fn func() (any, error)) (any, error, bool) {
	return r.group.Do(fp, fn)
}

