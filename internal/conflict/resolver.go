package conflict

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/brightloom/syncengine/internal/metrics"
	"github.com/brightloom/syncengine/internal/snapshot"
)

// defaultMaxBatchSize is used when a Resolver is constructed with
// maxBatchSize <= 0.
const defaultMaxBatchSize = 50

// KnownProperties reports the declared syncable properties of a family, used
// to validate manual resolutions. Implemented by the schema package in
// production; a plain map suffices in tests.
type KnownProperties interface {
	Properties(family string) (map[string]struct{}, bool)
}

// Recorder durably persists one resolution history entry, alongside the
// Resolver's own bounded in-memory History. Implemented by the Sync Metadata
// Store; nil disables durable persistence.
type Recorder interface {
	RecordConflictResolution(ctx context.Context, family, syncID, strategy string, succeeded bool, errMsg, chosenVersion, resolvedContentHash string, resolvedAt time.Time) error
}

// Resolver dispatches resolution strategies over batches of conflicts and
// maintains the bounded resolution history.
type Resolver struct {
	logger       *slog.Logger
	maxBatchSize int
	schema       KnownProperties
	history      *History
	recorder     Recorder
	now          func() time.Time
}

// NewResolver builds a Resolver. logger defaults to slog.Default when nil.
// recorder may be nil, in which case only the in-memory History is kept.
func NewResolver(schema KnownProperties, maxBatchSize int, retentionDays int, recorder Recorder, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	if maxBatchSize <= 0 {
		maxBatchSize = defaultMaxBatchSize
	}

	return &Resolver{
		logger:       logger,
		maxBatchSize: maxBatchSize,
		schema:       schema,
		history:      NewHistory(retentionDays),
		recorder:     recorder,
		now:          time.Now,
	}
}

// Partition splits conflicts into auto-resolvable and manual-required sets,
// per the eligibility rule: conflict_type in {data, version}, no field in
// the family's manual-only set, and priority below critical.
func (r *Resolver) Partition(conflicts []SyncConflict, manualOnlyFields map[string]struct{}) (auto, manual []SyncConflict) {
	for _, c := range conflicts {
		if c.Priority == PriorityCritical {
			manual = append(manual, c)
			continue
		}

		if c.ConflictType != TypeData && c.ConflictType != TypeVersion {
			manual = append(manual, c)
			continue
		}

		if touchesManualOnly(c.ConflictedFields, manualOnlyFields) {
			manual = append(manual, c)
			continue
		}

		auto = append(auto, c)
	}

	return auto, manual
}

func touchesManualOnly(fields, manualOnly map[string]struct{}) bool {
	for f := range fields {
		if _, ok := manualOnly[f]; ok {
			return true
		}
	}

	return false
}

// AutoResolve resolves a batch of conflicts with last_write_wins, the only
// strategy eligible for automatic application. Failures within the batch do
// not abort it — each conflict yields its own Resolution or is recorded as a
// history failure and omitted from the result.
func (r *Resolver) AutoResolve(ctx context.Context, conflicts []SyncConflict) []Resolution {
	return r.ResolveBatch(ctx, conflicts, StrategyLastWriteWins, nil)
}

// ResolveBatch applies one strategy to a slice of conflicts, chunked by
// maxBatchSize. manualPayloads supplies resolved_payload values keyed by
// sync_id for StrategyManual; unused for other strategies.
func (r *Resolver) ResolveBatch(ctx context.Context, conflicts []SyncConflict, strategy Strategy, manualPayloads map[string]map[string]any) []Resolution {
	results := make([]Resolution, 0, len(conflicts))

	for start := 0; start < len(conflicts); start += r.maxBatchSize {
		end := start + r.maxBatchSize
		if end > len(conflicts) {
			end = len(conflicts)
		}

		for _, c := range conflicts[start:end] {
			res, err := r.resolveOne(c, strategy, manualPayloads[c.SyncID])

			rec := ResolutionRecord{
				Family:     c.Family,
				SyncID:     c.SyncID,
				Strategy:   strategy,
				ResolvedAt: r.now(),
			}

			if err != nil {
				rec.Error = err.Error()
				r.logger.Warn("conflict resolution failed",
					slog.String("family", c.Family),
					slog.String("sync_id", c.SyncID),
					slog.String("strategy", string(strategy)),
					slog.String("error", err.Error()))
				r.history.Append(rec)
				r.persist(ctx, rec, "")
				metrics.ConflictsResolvedTotal.WithLabelValues(c.Family, string(strategy), "failed").Inc()

				continue
			}

			rec.Succeeded = true
			rec.ChosenVersion = res.ChosenVersion
			r.history.Append(rec)

			resolvedHash, hashErr := snapshot.ContentHash(res.ResolvedPayload, res.ResolvedIsDeleted)
			if hashErr != nil {
				resolvedHash = ""
			}
			r.persist(ctx, rec, resolvedHash)

			metrics.ConflictsResolvedTotal.WithLabelValues(c.Family, string(strategy), "succeeded").Inc()
			results = append(results, res)
		}
	}

	return results
}

// persist durably records rec via the configured Recorder, if any. Durable
// persistence is best-effort: a failure here never aborts resolution, since
// the in-memory History already has the record.
func (r *Resolver) persist(ctx context.Context, rec ResolutionRecord, resolvedContentHash string) {
	if r.recorder == nil {
		return
	}

	if err := r.recorder.RecordConflictResolution(ctx, rec.Family, rec.SyncID, string(rec.Strategy), rec.Succeeded, rec.Error, string(rec.ChosenVersion), resolvedContentHash, rec.ResolvedAt); err != nil {
		r.logger.Warn("durable conflict history write failed",
			slog.String("family", rec.Family), slog.String("sync_id", rec.SyncID), slog.String("error", err.Error()))
	}
}

func (r *Resolver) resolveOne(c SyncConflict, strategy Strategy, manualPayload map[string]any) (Resolution, error) {
	switch strategy {
	case StrategyLocalWins:
		return Resolution{
			SyncID:               c.SyncID,
			Strategy:             strategy,
			ResolvedPayload:      c.Local.Payload,
			ResolvedVersion:      c.Local.Version,
			ResolvedLastModified: c.Local.LastModified,
			ResolvedIsDeleted:    c.Local.IsDeleted,
			ChosenVersion:        ChosenLocal,
			Confidence:           1,
			WasAutomatic:         true,
			Explanation:          "local snapshot kept per local_wins strategy",
		}, nil

	case StrategyRemoteWins:
		return Resolution{
			SyncID:               c.SyncID,
			Strategy:             strategy,
			ResolvedPayload:      c.Remote.Payload,
			ResolvedVersion:      c.Remote.Version,
			ResolvedLastModified: c.Remote.LastModified,
			ResolvedIsDeleted:    c.Remote.IsDeleted,
			ChosenVersion:        ChosenRemote,
			Confidence:           1,
			WasAutomatic:         true,
			Explanation:          "remote snapshot kept per remote_wins strategy",
		}, nil

	case StrategyLastWriteWins:
		return r.resolveLastWriteWins(c), nil

	case StrategyMerge:
		return r.resolveMerge(c), nil

	case StrategyManual:
		if err := r.validateManual(c, manualPayload); err != nil {
			return Resolution{}, err
		}

		return Resolution{
			SyncID:               c.SyncID,
			Strategy:             strategy,
			ResolvedPayload:      manualPayload,
			ResolvedVersion:      maxInt64(c.Local.Version, c.Remote.Version) + 1,
			ResolvedLastModified: r.now(),
			ResolvedIsDeleted:    c.Local.IsDeleted,
			ChosenVersion:        ChosenMerged,
			Confidence:           1,
			WasAutomatic:         false,
			Explanation:          "caller-supplied manual resolution",
		}, nil

	default:
		return Resolution{}, &ResolutionValidationFailed{Family: c.Family, SyncID: c.SyncID, Property: string(strategy)}
	}
}

func (r *Resolver) resolveLastWriteWins(c SyncConflict) Resolution {
	chosen := ChosenLocal
	winner := c.Local

	switch {
	case c.Remote.LastModified.After(c.Local.LastModified):
		chosen, winner = ChosenRemote, c.Remote
	case c.Remote.LastModified.Equal(c.Local.LastModified) && strings.Compare(c.Remote.SyncID, c.Local.SyncID) < 0:
		chosen, winner = ChosenRemote, c.Remote
	}

	return Resolution{
		SyncID:               c.SyncID,
		Strategy:             StrategyLastWriteWins,
		ResolvedPayload:      winner.Payload,
		ResolvedVersion:      winner.Version,
		ResolvedLastModified: winner.LastModified,
		ResolvedIsDeleted:    winner.IsDeleted,
		ChosenVersion:        chosen,
		Confidence:           0.8,
		WasAutomatic:         true,
		Explanation:          "chosen side had the later last_modified (ties broken by sync_id)",
	}
}

func (r *Resolver) resolveMerge(c SyncConflict) Resolution {
	merged := make(map[string]any, len(c.Local.Payload)+len(c.Remote.Payload))

	keys := make(map[string]struct{}, len(c.Local.Payload)+len(c.Remote.Payload))
	for k := range c.Local.Payload {
		keys[k] = struct{}{}
	}
	for k := range c.Remote.Payload {
		keys[k] = struct{}{}
	}

	localNewer := c.Local.LastModified.After(c.Remote.LastModified) ||
		(c.Local.LastModified.Equal(c.Remote.LastModified) && strings.Compare(c.Local.SyncID, c.Remote.SyncID) <= 0)

	for k := range keys {
		lv, lok := c.Local.Payload[k]
		rv, rok := c.Remote.Payload[k]

		merged[k] = mergeField(lv, lok, rv, rok, localNewer)
	}

	return Resolution{
		SyncID:               c.SyncID,
		Strategy:             StrategyMerge,
		ResolvedPayload:      merged,
		ResolvedVersion:      maxInt64(c.Local.Version, c.Remote.Version) + 1,
		ResolvedLastModified: r.now(),
		ResolvedIsDeleted:    c.Local.IsDeleted,
		ChosenVersion:        ChosenMerged,
		Confidence:           0.6,
		WasAutomatic:         true,
		Explanation:          "field-wise merge: newer side wins per field, sets unioned, null yields to present value",
	}
}

func mergeField(lv any, lok bool, rv any, rok bool, localNewer bool) any {
	if !lok {
		return rv
	}
	if !rok {
		return lv
	}

	ls, lIsSet := lv.([]any)
	rs, rIsSet := rv.([]any)
	if lIsSet && rIsSet {
		return unionSet(ls, rs)
	}

	if lv == nil && rv != nil {
		return rv
	}
	if rv == nil && lv != nil {
		return lv
	}

	if localNewer {
		return lv
	}

	return rv
}

func unionSet(a, b []any) []any {
	seen := make(map[any]struct{}, len(a)+len(b))
	out := make([]any, 0, len(a)+len(b))

	for _, v := range append(append([]any{}, a...), b...) {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}

	return out
}

func (r *Resolver) validateManual(c SyncConflict, payload map[string]any) error {
	if r.schema == nil {
		return nil
	}

	known, ok := r.schema.Properties(c.Family)
	if !ok {
		return nil
	}

	for k := range payload {
		if _, ok := known[k]; !ok {
			return &ResolutionValidationFailed{Family: c.Family, SyncID: c.SyncID, Property: k}
		}
	}

	return nil
}

// History returns the resolver's bounded resolution history log.
func (r *Resolver) History() *History {
	return r.history
}

// sortRecordsNewestFirst is used by History queries.
func sortRecordsNewestFirst(recs []ResolutionRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].ResolvedAt.After(recs[j].ResolvedAt)
	})
}
