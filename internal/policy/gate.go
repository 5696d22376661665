// Package policy implements the Policy & Eligibility Gate (C8): the
// checklist of preconditions an operation must satisfy before the Operation
// Registry admits it. Grounded on the teacher's SafetyChecker pattern — a
// sequence of independently named sub-checks run before any side effect —
// generalized from "filter an already-built plan" to "admit or reject
// before any work starts".
package policy

import (
	"context"
	"log/slog"

	"github.com/brightloom/syncengine/internal/syncengine"
	"github.com/brightloom/syncengine/internal/syncerrors"
)

// NetworkObserver reports current connectivity.
type NetworkObserver interface {
	IsOnline() bool
	IsWifi() bool
}

// BatteryObserver reports current power state.
type BatteryObserver interface {
	IsOnBattery() bool
	BatteryLevel() float64 // 0..1
}

// BackgroundObserver reports whether the host application is currently
// backgrounded.
type BackgroundObserver interface {
	IsBackgrounded() bool
}

// Gate evaluates SyncPolicy and environmental conditions before an
// operation is admitted.
type Gate struct {
	network      NetworkObserver
	battery      BatteryObserver
	background   BackgroundObserver
	auth         syncengine.AuthCollaborator
	subscription syncengine.SubscriptionCollaborator
	activeCount  func() int
	logger       *slog.Logger
}

// New builds a Gate. activeCount reports the Operation Registry's current
// in-flight count; any nil collaborator disables the corresponding check.
func New(network NetworkObserver, battery BatteryObserver, background BackgroundObserver,
	auth syncengine.AuthCollaborator, subscription syncengine.SubscriptionCollaborator,
	activeCount func() int, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}

	return &Gate{
		network:      network,
		battery:      battery,
		background:   background,
		auth:         auth,
		subscription: subscription,
		activeCount:  activeCount,
		logger:       logger,
	}
}

// Check runs the full eligibility checklist for policy, returning the first
// failing condition's error kind, or nil if admission is permitted. explicit
// reports whether this call originates from a direct user-invoked sync (a
// CLI command, an API call) as opposed to an unprompted trigger (a scheduler
// tick, a realtime fan-in event) — it governs the manual frequency check.
func (g *Gate) Check(ctx context.Context, family string, policy syncengine.SyncPolicy, user string, explicit bool) error {
	if !policy.Enabled {
		return syncerrors.ErrPolicyDisabled
	}

	if policy.MaxConcurrentSyncs <= 0 {
		return syncerrors.ErrPolicyDisabled
	}

	if !entityAdmitted(family, policy.IncludedEntities, policy.ExcludedEntities) {
		return syncerrors.ErrConditionsNotMet
	}

	if policy.Frequency == syncengine.FrequencyManual && !explicit {
		return syncerrors.ErrConditionsNotMet
	}

	if g.activeCount != nil && g.activeCount() >= policy.MaxConcurrentSyncs {
		return syncerrors.ErrTooManyConcurrentOps
	}

	if policy.RequireNetwork && g.network != nil && !g.network.IsOnline() {
		return syncerrors.ErrNetworkUnavailable
	}

	if policy.WifiOnly && g.network != nil && !g.network.IsWifi() {
		return syncerrors.ErrConditionsNotMet
	}

	if !policy.AllowOnBattery && g.battery != nil && g.battery.IsOnBattery() {
		return syncerrors.ErrConditionsNotMet
	}

	if policy.PauseOnLowBattery && g.battery != nil && g.battery.IsOnBattery() && g.battery.BatteryLevel() < policy.MinimumBatteryLevel {
		return syncerrors.ErrConditionsNotMet
	}

	if !policy.AllowInBackground && g.background != nil && g.background.IsBackgrounded() {
		return syncerrors.ErrConditionsNotMet
	}

	if g.auth != nil {
		valid, _, err := g.auth.ValidateSession(ctx)
		if err != nil || !valid {
			return syncerrors.ErrNotAuthenticated
		}
	}

	if policy.RequireSubscription != "" && g.subscription != nil {
		ok, err := g.subscription.ValidateFeature(ctx, policy.RequireSubscription, user)
		if err != nil {
			g.logger.Warn("subscription validation failed", slog.String("error", err.Error()))
			return syncerrors.ErrSubscriptionRequired
		}

		if !ok {
			return syncerrors.ErrSubscriptionRequired
		}
	}

	return nil
}

// entityAdmitted applies the included/excluded entity filters: an empty
// included list admits every family except those explicitly excluded.
func entityAdmitted(family string, included, excluded []string) bool {
	for _, f := range excluded {
		if f == family {
			return false
		}
	}

	if len(included) == 0 {
		return true
	}

	for _, f := range included {
		if f == family {
			return true
		}
	}

	return false
}
