// Package trigger starts broadcast jobs for matches. At most one request per
// match is in flight at any time; a second trigger for the same match is
// rejected while the first is pending.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/tsntt/footballdash/internal/adapter/metrics"
	"github.com/tsntt/footballdash/internal/domain"
)

const (
	loadingMessage = "Sending notification..."
	failureMessage = "Failed to send notification"
)

// ListingController is the part of the listing cache a trigger touches.
type ListingController interface {
	CancelRefresh()
	Invalidate()
}

type Trigger struct {
	api      domain.BroadcastAPI
	listing  ListingController
	notifier domain.Notifier
	clock    clockwork.Clock
	metrics  *metrics.TriggerMetrics

	mu      sync.Mutex
	pending map[int]domain.BroadcastAction
}

// New creates a Trigger. listing, notifier and m may be nil.
func New(api domain.BroadcastAPI, listing ListingController, notifier domain.Notifier, clock clockwork.Clock, m *metrics.TriggerMetrics) *Trigger {
	return &Trigger{
		api:      api,
		listing:  listing,
		notifier: notifier,
		clock:    clock,
		metrics:  m,
		pending:  make(map[int]domain.BroadcastAction),
	}
}

// Trigger asks the backend to broadcast matchID. The request is sent once and
// never retried. On success the listing is invalidated; on failure it is left
// alone. Either way the pending indicator for the match is dismissed.
func (t *Trigger) Trigger(ctx context.Context, matchID int) (*domain.BroadcastResponse, error) {
	if matchID <= 0 {
		t.count("rejected")
		return nil, fmt.Errorf("match %d: %w", matchID, domain.ErrInvalidMatchID)
	}

	if !t.begin(matchID) {
		t.count("rejected")
		slog.InfoContext(ctx, "Broadcast already pending", "match_id", matchID)
		return nil, fmt.Errorf("match %d: %w", matchID, domain.ErrBroadcastPending)
	}
	defer t.finish(matchID)

	if t.listing != nil {
		t.listing.CancelRefresh()
	}
	key := domain.BroadcastKey(matchID)
	if t.notifier != nil {
		t.notifier.Loading(key, loadingMessage)
		defer t.notifier.Dismiss(key)
	}

	start := t.clock.Now()
	resp, err := t.api.BroadcastMatch(ctx, matchID)
	if t.metrics != nil {
		t.metrics.Duration.Observe(t.clock.Since(start).Seconds())
	}

	if err != nil {
		t.settle(matchID, domain.PhaseError)
		t.count("error")
		slog.ErrorContext(ctx, "Broadcast trigger failed", "match_id", matchID, "error", err)
		if t.notifier != nil {
			t.notifier.Notify(domain.LevelError, failureMessage)
		}
		return nil, fmt.Errorf("broadcast match %d: %w", matchID, err)
	}

	t.settle(matchID, domain.PhaseSuccess)
	t.count("success")
	slog.InfoContext(ctx, "Broadcast triggered",
		"match_id", matchID,
		"targets", resp.Data.TargetsCount,
		"notification_id", resp.Data.NotificationID,
	)
	if t.listing != nil {
		t.listing.Invalidate()
	}
	if t.notifier != nil {
		t.notifier.Notify(domain.LevelSuccess, resp.Message)
	}
	return resp, nil
}

// Pending returns the actions still in flight, oldest first.
func (t *Trigger) Pending() []domain.BroadcastAction {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]domain.BroadcastAction, 0, len(t.pending))
	for _, a := range t.pending {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b domain.BroadcastAction) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return a.MatchID - b.MatchID
	})
	return out
}

func (t *Trigger) IsPending(matchID int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.pending[matchID]
	return ok && a.Phase == domain.PhasePending
}

func (t *Trigger) begin(matchID int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, busy := t.pending[matchID]; busy {
		return false
	}
	t.pending[matchID] = domain.BroadcastAction{
		MatchID:   matchID,
		Phase:     domain.PhasePending,
		StartedAt: t.clock.Now(),
	}
	t.gauge()
	return true
}

func (t *Trigger) settle(matchID int, phase domain.BroadcastPhase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.pending[matchID]; ok {
		a.Phase = phase
		t.pending[matchID] = a
	}
}

func (t *Trigger) finish(matchID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, matchID)
	t.gauge()
}

func (t *Trigger) gauge() {
	if t.metrics != nil {
		t.metrics.Pending.Set(float64(len(t.pending)))
	}
}

func (t *Trigger) count(outcome string) {
	if t.metrics != nil {
		t.metrics.Requests.WithLabelValues(outcome).Inc()
	}
}
