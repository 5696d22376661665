package localwatch

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/require"
)

// mockFsWatcher implements FsWatcher with injectable channels, grounded on
// the teacher's mockFsWatcher for testing watchLoop without touching a real
// filesystem.
type mockFsWatcher struct {
	events   chan fsnotify.Event
	errs     chan error
	closeOne sync.Once
	addErr   error
}

func newMockFsWatcher() *mockFsWatcher {
	return &mockFsWatcher{
		events: make(chan fsnotify.Event, 10),
		errs:   make(chan error, 10),
	}
}

func (m *mockFsWatcher) Add(string) error { return m.addErr }

func (m *mockFsWatcher) Events() <-chan fsnotify.Event { return m.events }
func (m *mockFsWatcher) Errors() <-chan error          { return m.errs }

func (m *mockFsWatcher) Close() error {
	m.closeOne.Do(func() { close(m.events); close(m.errs) })
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTrigger(factory func() (FsWatcher, error)) *Trigger {
	return &Trigger{
		paths:          []string{"/tmp/does-not-matter.db"},
		logger:         discardLogger(),
		watcherFactory: factory,
	}
}

func TestWatch_InvokesOnChangeAfterEvent(t *testing.T) {
	t.Parallel()

	watcher := newMockFsWatcher()
	trig := newTestTrigger(func() (FsWatcher, error) { return watcher, nil })

	ctx, cancel := context.WithCancel(context.Background())
	changed := make(chan struct{}, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = trig.watchOnce(ctx, func() { changed <- struct{}{} })
	}()

	watcher.events <- fsnotify.Event{Name: "/tmp/does-not-matter.db", Op: fsnotify.Write}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("timeout waiting for onChange")
	}

	cancel()
	<-done
}

func TestWatch_DebouncesRapidEvents(t *testing.T) {
	t.Parallel()

	watcher := newMockFsWatcher()
	trig := newTestTrigger(func() (FsWatcher, error) { return watcher, nil })

	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	calls := 0

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = trig.watchOnce(ctx, func() {
			mu.Lock()
			calls++
			mu.Unlock()
		})
	}()

	for i := 0; i < 5; i++ {
		watcher.events <- fsnotify.Event{Name: "/tmp/does-not-matter.db", Op: fsnotify.Write}
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(2 * debounce)

	mu.Lock()
	got := calls
	mu.Unlock()

	require.Equal(t, 1, got)

	cancel()
	<-done
}

func TestWatch_ReturnsNilOnContextCancel(t *testing.T) {
	t.Parallel()

	watcher := newMockFsWatcher()
	trig := newTestTrigger(func() (FsWatcher, error) { return watcher, nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := trig.watchOnce(ctx, func() {})
	require.NoError(t, err)
}

func TestWatch_ReturnsErrorWhenEventsChannelCloses(t *testing.T) {
	t.Parallel()

	watcher := newMockFsWatcher()
	trig := newTestTrigger(func() (FsWatcher, error) { return watcher, nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- trig.watchOnce(ctx, func() {}) }()

	watcher.Close()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, errWatcherClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for watchOnce to return")
	}
}

func TestWatch_ReconnectsWithBackoffAfterWatcherError(t *testing.T) {
	t.Parallel()

	first := newMockFsWatcher()
	second := newMockFsWatcher()

	attempt := 0
	trig := newTestTrigger(func() (FsWatcher, error) {
		attempt++
		if attempt == 1 {
			return first, nil
		}
		return second, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = trig.Watch(ctx, func() { changed <- struct{}{} })
	}()

	first.errs <- fsnotify.ErrEventOverflow

	second.events <- fsnotify.Event{Name: "/tmp/does-not-matter.db", Op: fsnotify.Write}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for onChange after reconnect")
	}

	cancel()
	<-done
}
