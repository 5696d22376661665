// Package synctrack implements the Change Tracker: a thin, read-only view
// over the local record store that surfaces pending, deleted, and
// recently-modified snapshots as lazy, restartable sequences.
package synctrack

import (
	"context"
	"iter"
	"sort"
	"time"

	"github.com/brightloom/syncengine/internal/snapshot"
)

// Reader is the subset of the local store Change Tracker reads from. It is
// satisfied by syncengine.LocalStore.
type Reader interface {
	FetchPending(ctx context.Context, family string, limit int) ([]snapshot.Snapshot, error)
	FetchDeleted(ctx context.Context, family string, since time.Time) ([]snapshot.Snapshot, error)
	FetchModifiedAfter(ctx context.Context, family string, t time.Time, limit int) ([]snapshot.Snapshot, error)
}

// Tracker emits change sequences over a Reader. It holds no state of its
// own: every query re-reads the store, matching the spec's "no separate
// write-ahead log" requirement.
type Tracker struct {
	store Reader
}

// New builds a Tracker over store.
func New(store Reader) *Tracker {
	return &Tracker{store: store}
}

// Pending yields local snapshots with needs_sync=true for family, ordered
// by ascending last_modified, bounded by limit (0 = no limit).
func (t *Tracker) Pending(ctx context.Context, family string, limit int) iter.Seq2[snapshot.Snapshot, error] {
	return func(yield func(snapshot.Snapshot, error) bool) {
		rows, err := t.store.FetchPending(ctx, family, limit)
		if err != nil {
			yield(snapshot.Snapshot{}, err)
			return
		}

		sortByLastModifiedAsc(rows)

		for _, s := range rows {
			if !yield(s, nil) {
				return
			}
		}
	}
}

// Deleted yields tombstoned snapshots for family modified since t (zero
// time = all tombstones).
func (t *Tracker) Deleted(ctx context.Context, family string, since time.Time) iter.Seq2[snapshot.Snapshot, error] {
	return func(yield func(snapshot.Snapshot, error) bool) {
		rows, err := t.store.FetchDeleted(ctx, family, since)
		if err != nil {
			yield(snapshot.Snapshot{}, err)
			return
		}

		sortByLastModifiedAsc(rows)

		for _, s := range rows {
			if !yield(s, nil) {
				return
			}
		}
	}
}

// ModifiedAfter yields snapshots for family whose last_modified is after t,
// bounded by limit (0 = no limit).
func (t *Tracker) ModifiedAfter(ctx context.Context, family string, since time.Time, limit int) iter.Seq2[snapshot.Snapshot, error] {
	return func(yield func(snapshot.Snapshot, error) bool) {
		rows, err := t.store.FetchModifiedAfter(ctx, family, since, limit)
		if err != nil {
			yield(snapshot.Snapshot{}, err)
			return
		}

		sortByLastModifiedAsc(rows)

		for _, s := range rows {
			if !yield(s, nil) {
				return
			}
		}
	}
}

func sortByLastModifiedAsc(rows []snapshot.Snapshot) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].LastModified.Before(rows[j].LastModified)
	})
}
