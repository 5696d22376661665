package realtime

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/brightloom/syncengine/internal/syncengine"
)

func TestUnsubscribe_UnknownIDIsNoop(t *testing.T) {
	m := New("ws://unused", nil, nil)

	err := m.Unsubscribe(context.Background(), "does-not-exist")
	assert.NoError(t, err)
}

func TestTriggerDebounced_CoalescesBurstIntoSingleCall(t *testing.T) {
	var calls int32

	m := New("ws://unused", func(family string) {
		atomic.AddInt32(&calls, 1)
	}, nil)
	m.debounceWindow = 20 * time.Millisecond

	m.triggerDebounced("contacts")
	m.triggerDebounced("contacts")
	m.triggerDebounced("contacts")

	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTriggerDebounced_TracksFamiliesIndependently(t *testing.T) {
	seen := make(chan string, 2)

	m := New("ws://unused", func(family string) {
		seen <- family
	}, nil)
	m.debounceWindow = 10 * time.Millisecond

	m.triggerDebounced("contacts")
	m.triggerDebounced("notes")

	time.Sleep(60 * time.Millisecond)
	close(seen)

	var got []string
	for f := range seen {
		got = append(got, f)
	}

	assert.ElementsMatch(t, []string{"contacts", "notes"}, got)
}

func TestTriggerDebounced_NoOnTriggerIsSafe(t *testing.T) {
	m := New("ws://unused", nil, nil)

	assert.NotPanics(t, func() {
		m.triggerDebounced("contacts")
	})
}

func TestSubscribe_AssignsUniqueIDsAndRegistersSubscription(t *testing.T) {
	m := New("ws://127.0.0.1:0", nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := m.Subscribe(ctx, "contacts", []string{"created"}, func(evt syncengine.RealtimeEvent) {})
	assert.NoError(t, err)
	assert.NotEmpty(t, id)

	m.mu.Lock()
	_, ok := m.subs[id]
	m.mu.Unlock()
	assert.True(t, ok)
}
