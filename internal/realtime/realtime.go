// Package realtime implements the Realtime Fan-in (C10): subscription
// lifecycle over a websocket change stream, auto-reconnect with bounded
// attempts, per-subscription error isolation, and debounced per-family
// incremental-sync triggers. Grounded on the teacher's session-lifecycle
// conventions (connecting/connected/disconnected/error) applied to
// github.com/coder/websocket instead of the teacher's Graph API transport.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/brightloom/syncengine/internal/syncengine"
)

const (
	defaultReconnectAttempts = 10
	defaultReconnectDelay    = 5 * time.Second
	defaultDebounceWindow    = time.Second
)

// ConnState is the connection lifecycle state of one subscription.
type ConnState string

const (
	StateConnecting    ConnState = "connecting"
	StateConnected     ConnState = "connected"
	StateDisconnected  ConnState = "disconnected"
	StateError         ConnState = "error"
)

// subscription tracks one active family subscription.
type subscription struct {
	id       string
	family   string
	conn     *websocket.Conn
	cancel   context.CancelFunc
	state    ConnState
}

// Manager owns the set of active subscriptions and fans debounced triggers
// out to a single handler per family.
type Manager struct {
	mu                sync.Mutex
	subs              map[string]*subscription
	url               string
	reconnectAttempts int
	reconnectDelay    time.Duration
	debounceWindow    time.Duration
	onTrigger         func(family string)
	logger            *slog.Logger

	debounceMu sync.Mutex
	pending    map[string]*time.Timer
}

// New builds a Manager dialing url for each subscription. onTrigger is
// called at most once per debounceWindow per family, the translation of
// inbound realtime events into family-scoped incremental-sync triggers.
func New(url string, onTrigger func(family string), logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		subs:              make(map[string]*subscription),
		url:               url,
		reconnectAttempts: defaultReconnectAttempts,
		reconnectDelay:    defaultReconnectDelay,
		debounceWindow:    defaultDebounceWindow,
		onTrigger:         onTrigger,
		logger:            logger,
		pending:           make(map[string]*time.Timer),
	}
}

// Subscribe implements syncengine.RealtimeCollaborator.Subscribe: it dials
// the realtime transport, starts a read loop translating inbound frames into
// RealtimeEvent callbacks, and reconnects with bounded attempts on drop. A
// failing subscription never crashes the manager — errors are logged and
// the subscription transitions to StateError.
func (m *Manager) Subscribe(ctx context.Context, family string, eventSet []string, onEvent func(syncengine.RealtimeEvent)) (string, error) {
	subCtx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()

	sub := &subscription{id: id, family: family, cancel: cancel, state: StateConnecting}

	m.mu.Lock()
	m.subs[id] = sub
	m.mu.Unlock()

	go m.runWithReconnect(subCtx, sub, eventSet, onEvent)

	return id, nil
}

// Unsubscribe cancels and removes a subscription.
func (m *Manager) Unsubscribe(ctx context.Context, subscriptionID string) error {
	m.mu.Lock()
	sub, ok := m.subs[subscriptionID]
	if ok {
		delete(m.subs, subscriptionID)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}

	sub.cancel()

	if sub.conn != nil {
		_ = sub.conn.Close(websocket.StatusNormalClosure, "unsubscribed")
	}

	return nil
}

func (m *Manager) runWithReconnect(ctx context.Context, sub *subscription, eventSet []string, onEvent func(syncengine.RealtimeEvent)) {
	attempts := 0

	for {
		if ctx.Err() != nil {
			return
		}

		err := m.connectAndRead(ctx, sub, eventSet, onEvent)
		if err == nil || ctx.Err() != nil {
			return
		}

		attempts++
		m.setState(sub, StateError)
		m.logger.Warn("realtime subscription error, reconnecting",
			slog.String("subscription_id", sub.id), slog.String("family", sub.family),
			slog.Int("attempt", attempts), slog.String("error", err.Error()))

		if attempts >= m.reconnectAttempts {
			m.logger.Error("realtime subscription exhausted reconnect attempts",
				slog.String("subscription_id", sub.id), slog.String("family", sub.family))

			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.reconnectDelay):
		}
	}
}

func (m *Manager) connectAndRead(ctx context.Context, sub *subscription, eventSet []string, onEvent func(syncengine.RealtimeEvent)) error {
	m.setState(sub, StateConnecting)

	conn, _, err := websocket.Dial(ctx, m.url, nil)
	if err != nil {
		return err
	}
	defer conn.CloseNow() //nolint:errcheck

	m.mu.Lock()
	sub.conn = conn
	m.mu.Unlock()

	m.setState(sub, StateConnected)

	subMsg, _ := json.Marshal(map[string]any{"action": "subscribe", "table": sub.family, "events": eventSet})
	if err := conn.Write(ctx, websocket.MessageText, subMsg); err != nil {
		return err
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var evt syncengine.RealtimeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			m.logger.Warn("realtime: malformed event", slog.String("error", err.Error()))
			continue
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("realtime: event handler panicked", slog.Any("recover", r))
				}
			}()

			onEvent(evt)
		}()

		m.triggerDebounced(sub.family)
	}
}

func (m *Manager) setState(sub *subscription, s ConnState) {
	m.mu.Lock()
	sub.state = s
	m.mu.Unlock()
}

// triggerDebounced coalesces bursts of events into at most one onTrigger
// call per family per debounce window.
func (m *Manager) triggerDebounced(family string) {
	if m.onTrigger == nil {
		return
	}

	m.debounceMu.Lock()
	defer m.debounceMu.Unlock()

	if t, ok := m.pending[family]; ok {
		t.Stop()
	}

	m.pending[family] = time.AfterFunc(m.debounceWindow, func() {
		m.debounceMu.Lock()
		delete(m.pending, family)
		m.debounceMu.Unlock()

		m.onTrigger(family)
	})
}
