// Package notify keeps the operator-facing notification feed: transient
// messages plus keyed entries (such as a pending broadcast indicator) that
// are dismissed later.
package notify

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/tsntt/footballdash/internal/domain"
)

const (
	DefaultLimit   = 50
	publishTimeout = 2 * time.Second
)

// Feed is a bounded, newest-first notification list. It implements
// domain.Notifier and is safe for concurrent use.
type Feed struct {
	mu        sync.Mutex
	entries   []domain.Notification
	limit     int
	clock     clockwork.Clock
	publisher domain.NotificationPublisher
}

// NewFeed creates a feed holding at most limit entries. publisher may be nil.
func NewFeed(clock clockwork.Clock, limit int, publisher domain.NotificationPublisher) *Feed {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Feed{
		limit:     limit,
		clock:     clock,
		publisher: publisher,
	}
}

func (f *Feed) Notify(level domain.NotificationLevel, message string) {
	f.add("", level, message)
}

// Loading adds a keyed loading entry, replacing any entry with the same key.
func (f *Feed) Loading(key, message string) {
	f.add(key, domain.LevelLoading, message)
}

// Dismiss removes the entry whose key or id equals key. Unknown keys are
// ignored.
func (f *Feed) Dismiss(key string) {
	if key == "" {
		return
	}
	f.mu.Lock()
	idx := slices.IndexFunc(f.entries, func(n domain.Notification) bool { return n.Key == key || n.ID == key })
	if idx < 0 {
		f.mu.Unlock()
		return
	}
	removed := f.entries[idx]
	f.entries = slices.Delete(f.entries, idx, idx+1)
	f.mu.Unlock()

	slog.Debug("Notification dismissed", "key", key)
	f.publish(domain.NotificationEvent{Action: domain.NotificationDismissed, Notification: removed})
}

// List returns the current entries, newest first.
func (f *Feed) List() []domain.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.entries)
}

func (f *Feed) add(key string, level domain.NotificationLevel, message string) {
	n := domain.Notification{
		ID:        uuid.NewString(),
		Key:       key,
		Level:     level,
		Message:   message,
		CreatedAt: f.clock.Now(),
	}

	f.mu.Lock()
	if key != "" {
		f.entries = slices.DeleteFunc(f.entries, func(e domain.Notification) bool { return e.Key == key })
	}
	f.entries = slices.Insert(f.entries, 0, n)
	if len(f.entries) > f.limit {
		f.entries = f.entries[:f.limit]
	}
	f.mu.Unlock()

	logNotification(n)
	f.publish(domain.NotificationEvent{Action: domain.NotificationAdded, Notification: n})
}

func (f *Feed) publish(ev domain.NotificationEvent) {
	if f.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := f.publisher.PublishNotification(ctx, ev); err != nil {
		slog.Warn("Failed to publish notification", "error", err, "action", ev.Action)
	}
}

func logNotification(n domain.Notification) {
	attrs := []any{"level", n.Level, "message", n.Message}
	if n.Key != "" {
		attrs = append(attrs, "key", n.Key)
	}

	switch n.Level {
	case domain.LevelError:
		slog.Error("Notification", attrs...)
	case domain.LevelWarning:
		slog.Warn("Notification", attrs...)
	default:
		slog.Info("Notification", attrs...)
	}
}
