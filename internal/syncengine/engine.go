package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/brightloom/syncengine/internal/conflict"
	"github.com/brightloom/syncengine/internal/metrics"
	"github.com/brightloom/syncengine/internal/snapshot"
	"github.com/brightloom/syncengine/internal/syncerrors"
)

// MetadataStore is the Sync Metadata Store subset the engine drives.
type MetadataStore interface {
	GetStatus(ctx context.Context, family string) (snapshot.EntitySyncStatus, error)
	SetStatus(ctx context.Context, status snapshot.EntitySyncStatus) error
	LastSyncAt(ctx context.Context, family string) (time.Time, error)
	SetLastSyncAt(ctx context.Context, family string, t time.Time, isFullSync bool) error
}

// Gate is the Policy & Eligibility Gate subset the engine consults before
// admitting work. explicit tells the gate whether this call originates from
// a direct user invocation, which governs the manual frequency check.
type Gate interface {
	Check(ctx context.Context, family string, policy SyncPolicy, user string, explicit bool) error
}

// Registry is the Operation Registry subset the engine registers operations
// with. Deduplicate collapses concurrent calls that share a fingerprint
// (entity_family, operation_type) into a single admitted run: a caller that
// arrives while another is already building its pipeline gets that run's
// result instead of racing Register for an admission slot.
type Registry interface {
	Register(ctx context.Context, family string, opType OperationType, user string, policy SyncPolicy) (*OperationContext, context.Context, error)
	Unregister(family string, opType OperationType, status OperationStatus)
	Deduplicate(fingerprint string, fn func() (any, error)) (any, error, bool)
}

// Engine is the Sync Operations Manager (C6): it drives the full and
// incremental pipelines, grounded step-for-step on the teacher's
// Engine.RunOnce ("load baseline, observe remote, observe local, plan,
// execute, commit cursor") generalized from one OneDrive drive to an
// arbitrary registered entity family.
type Engine struct {
	local     LocalStore
	remote    RemoteCollaborator
	metadata  MetadataStore
	detector  *conflict.Detector
	resolver  *conflict.Resolver
	gate      Gate
	registry  Registry
	logger    *slog.Logger
	now       func() time.Time
}

// New builds an Engine wiring every collaborator and subsystem the pipeline
// needs. gate and registry may be nil for tests that bypass eligibility and
// concurrency admission.
func New(local LocalStore, remote RemoteCollaborator, metadata MetadataStore,
	detector *conflict.Detector, resolver *conflict.Resolver, gate Gate, registry Registry, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		local:    local,
		remote:   remote,
		metadata: metadata,
		detector: detector,
		resolver: resolver,
		gate:     gate,
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
}

// RunFull implements start_full_sync: uploads every pending local snapshot,
// downloads every remote snapshot, detects and resolves conflicts, and
// converges both sides. On an empty remote it is exactly "upload everything,
// download nothing". explicit marks this as a direct user-invoked run (a
// CLI command, an API call) rather than an unprompted trigger, which is what
// lets a manual-frequency policy admit it.
func (e *Engine) RunFull(ctx context.Context, family string, policy SyncPolicy, user string, explicit bool) (*SyncReport, error) {
	return e.run(ctx, family, policy, user, ModeFull, time.Time{}, explicit)
}

// RunIncremental implements start_incremental_sync: uploads pending local
// snapshots and downloads only remote snapshots modified after the family's
// last recorded sync instant. See RunFull for the meaning of explicit.
func (e *Engine) RunIncremental(ctx context.Context, family string, policy SyncPolicy, user string, explicit bool) (*SyncReport, error) {
	since := time.Time{}

	if e.metadata != nil {
		var err error
		since, err = e.metadata.LastSyncAt(ctx, family)
		if err != nil {
			return nil, err
		}
	}

	return e.run(ctx, family, policy, user, ModeIncremental, since, explicit)
}

func (e *Engine) run(ctx context.Context, family string, policy SyncPolicy, user string, mode Mode, since time.Time, explicit bool) (*SyncReport, error) {
	if e.gate != nil {
		if err := e.gate.Check(ctx, family, policy, user, explicit); err != nil {
			return nil, err
		}
	}

	opType := OpFull
	if mode == ModeIncremental {
		opType = OpIncremental
	}

	if e.registry != nil {
		fp := fmt.Sprintf("%s:%s", family, opType)

		result, err, _ := e.registry.Deduplicate(fp, func() (any, error) {
			return e.runAdmitted(ctx, family, policy, user, mode, since, opType)
		})
		if err != nil {
			return nil, err
		}

		report, _ := result.(*SyncReport)

		return report, nil
	}

	return e.runAdmitted(ctx, family, policy, user, mode, since, opType)
}

// runAdmitted registers the operation and drives the pipeline to
// completion. Split out from run so concurrent callers sharing a
// fingerprint can be coalesced through Registry.Deduplicate.
func (e *Engine) runAdmitted(ctx context.Context, family string, policy SyncPolicy, user string, mode Mode, since time.Time, opType OperationType) (*SyncReport, error) {
	start := e.now()

	runCtx := ctx

	if e.registry != nil {
		_, rc, err := e.registry.Register(ctx, family, opType, user, policy)
		if err != nil {
			return nil, err
		}

		runCtx = rc

		defer func() {
			status := OpStatusCompleted
			if runCtx.Err() != nil {
				status = OpStatusCancelled
			}

			e.registry.Unregister(family, opType, status)
		}()
	}

	e.setState(ctx, family, snapshot.StatePreparing)

	report := &SyncReport{Family: family, Mode: mode}

	if err := checkCancelled(runCtx); err != nil {
		report.Cancelled = true
		return report, nil
	}

	e.setState(ctx, family, snapshot.StateSyncing)

	localRows, err := e.fetchPending(runCtx, family)
	if err != nil {
		return e.fail(ctx, family, report, start, err)
	}

	remoteRows, err := e.remote.FetchModifiedAfter(runCtx, family, since, 0)
	if err != nil {
		return e.fail(ctx, family, report, start, err)
	}

	if err := checkCancelled(runCtx); err != nil {
		report.Cancelled = true
		return report, nil
	}

	conflicts, versionAligned := e.detector.Detect(localRows, remoteRows)
	report.Conflicts = len(conflicts)

	conflictedIDs := make(map[string]struct{}, len(conflicts))
	for _, c := range conflicts {
		conflictedIDs[c.SyncID] = struct{}{}
		metrics.ConflictsTotal.WithLabelValues(family, string(c.ConflictType)).Inc()
	}

	auto, manual := e.resolver.Partition(conflicts, nil)
	report.ConflictsManualRequired = len(manual)

	resolutions := e.resolver.AutoResolve(runCtx, auto)
	report.ConflictsAutoResolved = len(resolutions)

	// Upload every pending local snapshot not involved in a detected
	// conflict (auto-resolved or manual), ordered ascending by last_modified.
	toUpload := make([]snapshot.Snapshot, 0, len(localRows))
	for _, s := range orderByLastModifiedAsc(localRows) {
		if _, conflicted := conflictedIDs[s.SyncID]; conflicted {
			continue
		}
		toUpload = append(toUpload, s)
	}

	uploaded, failed := e.uploadAll(runCtx, family, policy, toUpload)
	report.Uploaded = uploaded
	report.Failed += failed

	if err := checkCancelled(runCtx); err != nil {
		report.Cancelled = true
		return report, nil
	}

	// Apply resolved conflicts and remote survivors (remote rows not
	// conflicted) to the local store.
	toApply := make([]snapshot.Snapshot, 0, len(remoteRows))
	for _, r := range orderByLastModifiedAsc(remoteRows) {
		if _, conflicted := conflictedIDs[r.SyncID]; conflicted {
			continue
		}
		toApply = append(toApply, r)
	}

	for _, res := range resolutions {
		s, err := resolutionToSnapshot(res, family)
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
			report.Failed++
			continue
		}

		toApply = append(toApply, s)
	}

	// Every applied record must carry the instant this operation started as
	// its last_synced, or NeedsSync would immediately re-flag it as pending.
	for i := range toApply {
		toApply[i].LastSynced = start
	}

	applied, failedApply := e.applyAll(runCtx, toApply)
	report.Downloaded = applied
	report.Failed += failedApply

	if err := e.markSynced(runCtx, family, toUpload, start); err != nil {
		report.Errors = append(report.Errors, err.Error())
	}

	if len(versionAligned) > 0 {
		e.logger.Debug("version-align hints detected, no remote write needed",
			slog.String("family", family), slog.Int("count", len(versionAligned)))
	}

	e.markComplete(ctx, family, mode, report, start)

	report.Duration = e.now().Sub(start)

	return report, nil
}

func (e *Engine) fetchPending(ctx context.Context, family string) ([]snapshot.Snapshot, error) {
	rows, err := e.local.FetchPending(ctx, family, 0)
	if err != nil {
		return nil, err
	}

	return rows, nil
}

// uploadAll dispatches one upload per record through a bounded errgroup,
// grounded on the teacher's TransferManager.dispatchPool: workers run
// concurrently up to policy.MaxConcurrentUploads, and a single record's
// failure (already retried, per-record, by retryPerRecord) only counts
// against that record rather than aborting the others.
func (e *Engine) uploadAll(ctx context.Context, family string, policy SyncPolicy, rows []snapshot.Snapshot) (uploaded, failed int) {
	if len(rows) == 0 {
		return 0, 0
	}

	workers := policy.MaxConcurrentUploads
	if workers <= 0 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var mu sync.Mutex

	for i := range rows {
		s := rows[i]

		g.Go(func() error {
			recordStart := e.now()

			err := retryPerRecord(gctx, policy, func(ctx context.Context) error {
				_, err := e.remote.UpsertBatch(ctx, family, []snapshot.Snapshot{s})
				if isTransient(err) {
					return retryableError(err)
				}

				return err
			})

			metrics.UploadDuration.WithLabelValues(family).Observe(e.now().Sub(recordStart).Seconds())

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				e.logger.Warn("upload failed", slog.String("family", family), slog.String("sync_id", s.SyncID), slog.String("error", err.Error()))
				failed++
				return nil
			}

			uploaded++

			return nil
		})
	}

	_ = g.Wait()

	return uploaded, failed
}

func (e *Engine) applyAll(ctx context.Context, rows []snapshot.Snapshot) (applied, failed int) {
	if len(rows) == 0 {
		return 0, 0
	}

	results, err := e.local.ApplyRemote(ctx, rows)
	if err != nil {
		return 0, len(rows)
	}

	for _, r := range results {
		if r.Err != nil {
			failed++
			continue
		}

		if r.Applied {
			applied++
		}
	}

	return applied, failed
}

func (e *Engine) markSynced(ctx context.Context, family string, uploaded []snapshot.Snapshot, t time.Time) error {
	if len(uploaded) == 0 {
		return nil
	}

	ids := make([]string, 0, len(uploaded))
	for _, s := range uploaded {
		ids = append(ids, s.SyncID)
	}

	return e.local.MarkSynced(ctx, family, ids, t)
}

func (e *Engine) setState(ctx context.Context, family string, state snapshot.SyncState) {
	if e.metadata == nil {
		return
	}

	st, err := e.metadata.GetStatus(ctx, family)
	if err != nil {
		st = snapshot.EntitySyncStatus{Family: family}
	}

	st.State = state

	_ = e.metadata.SetStatus(ctx, st)
}

func (e *Engine) markComplete(ctx context.Context, family string, mode Mode, report *SyncReport, start time.Time) {
	if e.metadata == nil {
		return
	}

	st, err := e.metadata.GetStatus(ctx, family)
	if err != nil {
		st = snapshot.EntitySyncStatus{Family: family}
	}

	st.State = snapshot.StateCompleted
	st.LastError = ""
	st.PendingCount = 0

	if mode == ModeFull {
		st.LastFullSyncAt = start
	} else {
		st.LastIncrementalSyncAt = start
	}

	_ = e.metadata.SetStatus(ctx, st)
}

func (e *Engine) fail(ctx context.Context, family string, report *SyncReport, start time.Time, err error) (*SyncReport, error) {
	var schemaErr *syncerrors.SchemaIncompatible
	if errors.As(err, &schemaErr) {
		// Schema incompatibility aborts only the affected family.
		e.setFailed(ctx, family, err)
		report.Errors = append(report.Errors, err.Error())
		report.Duration = e.now().Sub(start)

		return report, err
	}

	e.setFailed(ctx, family, err)
	report.Errors = append(report.Errors, err.Error())
	report.Duration = e.now().Sub(start)

	return report, err
}

func (e *Engine) setFailed(ctx context.Context, family string, err error) {
	if e.metadata == nil {
		return
	}

	st, getErr := e.metadata.GetStatus(ctx, family)
	if getErr != nil {
		st = snapshot.EntitySyncStatus{Family: family}
	}

	st.State = snapshot.StateFailed
	st.LastError = err.Error()

	_ = e.metadata.SetStatus(ctx, st)
}

func checkCancelled(ctx context.Context) error {
	if ctx.Err() != nil {
		return syncerrors.ErrCancelled
	}

	return nil
}

// resolutionToSnapshot builds the Snapshot a resolved conflict is applied to
// the local store as, carrying the winning side's full metadata (version,
// last_modified, is_deleted) rather than just its payload.
func resolutionToSnapshot(res conflict.Resolution, family string) (snapshot.Snapshot, error) {
	hash, err := snapshot.ContentHash(res.ResolvedPayload, res.ResolvedIsDeleted)
	if err != nil {
		return snapshot.Snapshot{}, err
	}

	return snapshot.Snapshot{
		SyncID:       res.SyncID,
		Family:       family,
		Version:      res.ResolvedVersion,
		LastModified: res.ResolvedLastModified,
		IsDeleted:    res.ResolvedIsDeleted,
		ContentHash:  hash,
		Payload:      res.ResolvedPayload,
	}, nil
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, syncerrors.ErrNetworkUnavailable) || errors.Is(err, syncerrors.ErrTimeout)
}

func retryableError(err error) error {
	return retry.RetryableError(err)
}
