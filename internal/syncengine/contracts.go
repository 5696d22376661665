// Package syncengine implements the Sync Operations Manager (full and
// incremental sync pipelines) and defines the outbound collaborator
// contracts every other component of the engine is built against — kept
// here, not behind the components that consume them, so the Engine is the
// one composition root wiring concrete implementations to these interfaces.
package syncengine

import (
	"context"
	"time"

	"github.com/brightloom/syncengine/internal/snapshot"
)

// LocalStore is the outbound contract to the local record store. Every
// method is async (accepts ctx) and may fail with *syncerrors.StoreFailure.
type LocalStore interface {
	FetchPending(ctx context.Context, family string, limit int) ([]snapshot.Snapshot, error)
	FetchBySyncID(ctx context.Context, family, syncID string) (snapshot.Snapshot, bool, error)
	FetchModifiedAfter(ctx context.Context, family string, t time.Time, limit int) ([]snapshot.Snapshot, error)
	FetchDeleted(ctx context.Context, family string, since time.Time) ([]snapshot.Snapshot, error)
	ApplyRemote(ctx context.Context, snapshots []snapshot.Snapshot) ([]ApplyResult, error)
	MarkSynced(ctx context.Context, family string, ids []string, t time.Time) error
	MarkAllSyncedForFamily(ctx context.Context, family string, t time.Time) error
}

// ApplyResult reports the outcome of applying one remote snapshot to the
// local store.
type ApplyResult struct {
	SyncID  string
	Applied bool
	Err     error
}

// RemoteCollaborator is the outbound contract to the remote relational
// service.
type RemoteCollaborator interface {
	UpsertBatch(ctx context.Context, family string, snapshots []snapshot.Snapshot) ([]ApplyResult, error)
	Delete(ctx context.Context, family, syncID string) error
	Fetch(ctx context.Context, family, syncID string) (snapshot.Snapshot, bool, error)
	FetchModifiedAfter(ctx context.Context, family string, t time.Time, limit int) ([]snapshot.Snapshot, error)
	FetchDeleted(ctx context.Context, family string, since time.Time, limit int) ([]snapshot.Snapshot, error)
	TableExists(ctx context.Context, family string) (bool, error)
}

// RealtimeEvent is one inbound change notification from the realtime
// collaborator.
type RealtimeEvent struct {
	Type      string // "insert", "update", "delete"
	Table     string
	New       map[string]any
	Old       map[string]any
	Timestamp time.Time
}

// RealtimeCollaborator is the outbound contract to the realtime change
// stream transport.
type RealtimeCollaborator interface {
	Subscribe(ctx context.Context, family string, eventSet []string, onEvent func(RealtimeEvent)) (subscriptionID string, err error)
	Unsubscribe(ctx context.Context, subscriptionID string) error
}

// Session is the result of querying the auth collaborator for the current
// session.
type Session struct {
	User      string
	Token     string
	ExpiresAt time.Time
}

// AuthCollaborator is the outbound contract to the authentication provider.
type AuthCollaborator interface {
	CurrentSession(ctx context.Context) (Session, error)
	ValidateSession(ctx context.Context) (isValid bool, user string, err error)
}

// SubscriptionCollaborator is the outbound contract to the feature/
// subscription entitlement validator.
type SubscriptionCollaborator interface {
	ValidateFeature(ctx context.Context, feature, user string) (hasAccess bool, err error)
}

// OperationType names a kind of operation tracked by the Operation
// Registry.
type OperationType string

const (
	OpFull        OperationType = "full"
	OpIncremental OperationType = "incremental"
	OpUpload      OperationType = "upload"
	OpDownload    OperationType = "download"
)

// OperationStatus is the lifecycle state of one OperationContext.
type OperationStatus string

const (
	OpStatusRunning   OperationStatus = "running"
	OpStatusCompleted OperationStatus = "completed"
	OpStatusFailed    OperationStatus = "failed"
	OpStatusCancelled OperationStatus = "cancelled"
)

// OperationContext describes one admitted, in-flight (or just-finished)
// operation.
type OperationContext struct {
	ID              string
	Type            OperationType
	EntityFamily    string
	RequestingUser  string
	Policy          SyncPolicy
	StartedAt       time.Time
	Status          OperationStatus
	cancel          context.CancelFunc
}

// Cancel requests cooperative cancellation of the operation, if it is still
// running. Safe to call multiple times.
func (o *OperationContext) Cancel() {
	if o.cancel != nil {
		o.cancel()
	}
}

// SetCancelFunc wires the context.CancelFunc that Cancel invokes. Called
// once by the Operation Registry at admission time.
func (o *OperationContext) SetCancelFunc(cancel context.CancelFunc) {
	o.cancel = cancel
}

// Frequency names how often a family's sync operations are allowed to run
// unprompted.
type Frequency string

const (
	FrequencyManual   Frequency = "manual"
	FrequencyOnChange Frequency = "on_change"
	FrequencyInterval Frequency = "interval"
	FrequencyAutomatic Frequency = "automatic"
)

// SyncPolicy is the enumerated option set admission and the pipeline
// consult before and during a sync operation.
type SyncPolicy struct {
	Enabled              bool
	RequireNetwork       bool
	WifiOnly             bool
	AllowOnBattery       bool
	PauseOnLowBattery    bool
	MinimumBatteryLevel  float64 // 0..1; only consulted when PauseOnLowBattery is set
	AllowInBackground    bool
	Frequency            Frequency
	FrequencyInterval    time.Duration // consulted only when Frequency == FrequencyInterval
	IncludedEntities     []string      // empty = all families admitted
	ExcludedEntities     []string
	MaxConcurrentSyncs   int
	MaxConcurrentUploads int // bounded upload fan-out per run; <=1 means sequential
	RequireSubscription  string // feature name, empty = none required
	MaxBatchSize         int
	MaxSyncDuration       time.Duration
	RetryBaseDelay       time.Duration
	RetryMaxAttempts     int
	ConflictStrategy     string
	RealtimeEnabled      bool
	TombstoneRetention   time.Duration
	HistoryRetentionDays int
}
