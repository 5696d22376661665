// Package localwatch implements the on_change sync trigger: a debounced
// filesystem watch over the local store's database file, grounded on the
// teacher's internal/sync/observer_local.go FsWatcher abstraction and its
// reconnect-with-backoff watch loop, narrowed from "watch a whole sync root
// tree" to "watch the one file a write to the local store always touches".
package localwatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	debounce            = 500 * time.Millisecond
	watchErrInitBackoff = 1 * time.Second
	watchErrMaxBackoff  = 30 * time.Second
	watchErrBackoffMult = 2
)

var errWatcherClosed = errors.New("localwatch: watcher channel closed")

// FsWatcher abstracts filesystem event monitoring. Satisfied by
// *fsnotify.Watcher; tests inject a mock implementation.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWrapper struct{ w *fsnotify.Watcher }

func (fw *fsnotifyWrapper) Add(name string) error         { return fw.w.Add(name) }
func (fw *fsnotifyWrapper) Close() error                  { return fw.w.Close() }
func (fw *fsnotifyWrapper) Events() <-chan fsnotify.Event { return fw.w.Events }
func (fw *fsnotifyWrapper) Errors() <-chan error          { return fw.w.Errors }

// Trigger watches one or more local paths and invokes a callback, debounced,
// shortly after any write settles.
type Trigger struct {
	paths          []string
	logger         *slog.Logger
	watcherFactory func() (FsWatcher, error)
}

// New builds a Trigger over paths (typically the local store's database file
// and its WAL sidecar).
func New(paths []string, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}

	return &Trigger{
		paths:  paths,
		logger: logger,
		watcherFactory: func() (FsWatcher, error) {
			w, err := fsnotify.NewWatcher()
			if err != nil {
				return nil, err
			}

			return &fsnotifyWrapper{w: w}, nil
		},
	}
}

// Watch blocks until ctx is done, invoking onChange at most once per
// debounce window after the watched paths receive a write. A watcher that
// errors out is recreated with exponential backoff rather than ending the
// call, matching the teacher's connecting/connected/disconnected reconnect
// idiom.
func (t *Trigger) Watch(ctx context.Context, onChange func()) error {
	backoff := watchErrInitBackoff

	for {
		err := t.watchOnce(ctx, onChange)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			return nil
		}

		t.logger.Warn("local watch failed, reconnecting",
			slog.String("error", err.Error()), slog.Duration("backoff", backoff))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil
		}

		backoff *= watchErrBackoffMult
		if backoff > watchErrMaxBackoff {
			backoff = watchErrMaxBackoff
		}
	}
}

func (t *Trigger) watchOnce(ctx context.Context, onChange func()) error {
	watcher, err := t.watcherFactory()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, p := range t.paths {
		if err := watcher.Add(p); err != nil {
			t.logger.Warn("failed to watch path", slog.String("path", p), slog.String("error", err.Error()))
		}
	}

	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			return nil

		case _, ok := <-watcher.Events():
			if !ok {
				return errWatcherClosed
			}

			if timer == nil {
				timer = time.AfterFunc(debounce, onChange)
			} else {
				timer.Reset(debounce)
			}

		case watchErr, ok := <-watcher.Errors():
			if !ok {
				return errWatcherClosed
			}

			return watchErr
		}
	}
}
