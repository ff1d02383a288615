// Package progress tracks broadcast jobs reported over the realtime channel.
//
// The Tracker is an actor: a single goroutine owns the job table and serves
// ingest, lookup and expiry requests from a command channel. Completed jobs
// stay visible for a retention window and are then swept.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/tsntt/footballdash/internal/adapter/metrics"
	"github.com/tsntt/footballdash/internal/domain"
)

const (
	commandTimeout = 5 * time.Second
	stopTimeout    = 10 * time.Second
	publishTimeout = 2 * time.Second
)

// Options tunes retention of completed jobs.
type Options struct {
	Retention     time.Duration
	SweepInterval time.Duration
}

func DefaultOptions() Options {
	return Options{
		Retention:     30 * time.Second,
		SweepInterval: 5 * time.Second,
	}
}

// Effect describes what an ingested event did to the job table.
type Effect string

const (
	EffectCreated   Effect = "created"
	EffectReplaced  Effect = "replaced"
	EffectDuplicate Effect = "duplicate"
)

type trackerCmd interface{ isTrackerCmd() }

type baseTrackerCmd struct{}

func (baseTrackerCmd) isTrackerCmd() {}

type ingestCmd struct {
	baseTrackerCmd
	event domain.ProgressEvent
	reply chan Effect
}

type snapshotCmd struct {
	baseTrackerCmd
	reply chan []domain.JobProgress
}

type getCmd struct {
	baseTrackerCmd
	channelID int
	reply     chan *domain.JobProgress
}

type expireCmd struct {
	baseTrackerCmd
	now   time.Time
	reply chan int
}

type stopCmd struct {
	baseTrackerCmd
}

// Tracker holds at most one JobProgress per channel id.
type Tracker struct {
	cmdCh     chan trackerCmd
	done      chan struct{}
	stopOnce  sync.Once
	clock     clockwork.Clock
	notifier  domain.Notifier
	publisher domain.ProgressPublisher
	metrics   *metrics.ProgressMetrics
	opts      Options

	// owned by run
	jobs  map[int]*domain.JobProgress
	order []int
}

// NewTracker starts the tracker goroutine. notifier, publisher and m may be nil.
func NewTracker(clock clockwork.Clock, notifier domain.Notifier, publisher domain.ProgressPublisher, m *metrics.ProgressMetrics, opts Options) *Tracker {
	defaults := DefaultOptions()
	if opts.Retention <= 0 {
		opts.Retention = defaults.Retention
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaults.SweepInterval
	}

	t := &Tracker{
		cmdCh:     make(chan trackerCmd, 64),
		done:      make(chan struct{}),
		clock:     clock,
		notifier:  notifier,
		publisher: publisher,
		metrics:   m,
		opts:      opts,
		jobs:      make(map[int]*domain.JobProgress),
	}
	go t.run()
	return t
}

// Ingest applies one event: the first event for a channel creates its job,
// later ones replace it wholesale. An event equal to the stored one changes
// nothing.
func (t *Tracker) Ingest(ev domain.ProgressEvent) (Effect, error) {
	reply := make(chan Effect, 1)
	if err := t.send(ingestCmd{event: ev.Clone(), reply: reply}); err != nil {
		return "", err
	}
	return await(t, reply)
}

// Snapshot returns all jobs in the order their channels were first seen.
func (t *Tracker) Snapshot() ([]domain.JobProgress, error) {
	reply := make(chan []domain.JobProgress, 1)
	if err := t.send(snapshotCmd{reply: reply}); err != nil {
		return nil, err
	}
	return await(t, reply)
}

// Get returns the job for channelID or domain.ErrJobNotFound.
func (t *Tracker) Get(channelID int) (domain.JobProgress, error) {
	reply := make(chan *domain.JobProgress, 1)
	if err := t.send(getCmd{channelID: channelID, reply: reply}); err != nil {
		return domain.JobProgress{}, err
	}
	job, err := await(t, reply)
	if err != nil {
		return domain.JobProgress{}, err
	}
	if job == nil {
		return domain.JobProgress{}, fmt.Errorf("channel %d: %w", channelID, domain.ErrJobNotFound)
	}
	return *job, nil
}

// ExpireStale removes completed jobs whose last event is at least Retention
// older than now and returns how many were removed. Jobs still in progress
// are never removed.
func (t *Tracker) ExpireStale(now time.Time) (int, error) {
	reply := make(chan int, 1)
	if err := t.send(expireCmd{now: now, reply: reply}); err != nil {
		return 0, err
	}
	return await(t, reply)
}

// Stop shuts the tracker down and waits for its goroutine to exit.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		select {
		case t.cmdCh <- stopCmd{}:
		case <-t.done:
			return
		}

		timeout := t.clock.NewTimer(stopTimeout)
		defer timeout.Stop()

		select {
		case <-t.done:
			slog.Info("Progress tracker stopped")
		case <-timeout.Chan():
			slog.Warn("Progress tracker stop timeout exceeded", "timeout", stopTimeout)
		}
	})
}

func (t *Tracker) send(cmd trackerCmd) error {
	select {
	case t.cmdCh <- cmd:
		return nil
	case <-t.done:
		return domain.ErrTrackerStopped
	}
}

func await[T any](t *Tracker, reply chan T) (T, error) {
	timer := t.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case v := <-reply:
		return v, nil
	case <-t.done:
		var zero T
		return zero, domain.ErrTrackerStopped
	case <-timer.Chan():
		var zero T
		return zero, fmt.Errorf("tracker command timed out after %v", commandTimeout)
	}
}

func (t *Tracker) run() {
	defer close(t.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Progress tracker panic recovered", "panic", r)
		}
	}()

	sweep := t.clock.NewTicker(t.opts.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case cmd := <-t.cmdCh:
			switch c := cmd.(type) {
			case ingestCmd:
				c.reply <- t.handleIngest(c.event)
			case snapshotCmd:
				c.reply <- t.snapshot()
			case getCmd:
				c.reply <- t.lookup(c.channelID)
			case expireCmd:
				c.reply <- t.handleExpire(c.now)
			case stopCmd:
				slog.Info("Progress tracker shutting down", "tracked_jobs", len(t.jobs))
				return
			default:
				slog.Warn("Progress tracker received unknown command", "command_type", fmt.Sprintf("%T", cmd))
			}
		case <-sweep.Chan():
			t.handleExpire(t.clock.Now())
		}
	}
}

func (t *Tracker) handleIngest(ev domain.ProgressEvent) Effect {
	prev, exists := t.jobs[ev.ChannelID]
	if exists && prev.Event.Equal(ev) {
		t.countEvent(EffectDuplicate)
		return EffectDuplicate
	}

	now := t.clock.Now()
	effect := EffectReplaced
	if !exists {
		effect = EffectCreated
		prev = &domain.JobProgress{FirstSeenAt: now}
		t.jobs[ev.ChannelID] = prev
		t.order = append(t.order, ev.ChannelID)
	}
	wasCompleted := exists && prev.Event.IsCompleted

	prev.Event = ev
	prev.ReceivedAt = now

	slog.Debug("Progress event applied",
		"channel_id", ev.ChannelID,
		"effect", effect,
		"sent", ev.SentCount,
		"failed", ev.FailedCount,
		"total", ev.TotalSent,
	)
	t.countEvent(effect)

	if ev.IsCompleted && !wasCompleted {
		t.announceCompletion(ev)
	}

	t.publish()
	return effect
}

func (t *Tracker) announceCompletion(ev domain.ProgressEvent) {
	outcome := "success"
	level := domain.LevelSuccess
	msg := fmt.Sprintf("Notification sent to %d users", ev.SentCount)
	if ev.FailedCount > 0 {
		outcome = "with_errors"
		level = domain.LevelError
		msg = fmt.Sprintf("Broadcast finished with %d failures", ev.FailedCount)
	}

	slog.Info("Broadcast completed",
		"channel_id", ev.ChannelID,
		"sent", ev.SentCount,
		"failed", ev.FailedCount,
	)
	if t.metrics != nil {
		t.metrics.Completions.WithLabelValues(outcome).Inc()
	}
	if t.notifier != nil {
		t.notifier.Notify(level, msg)
	}
}

func (t *Tracker) handleExpire(now time.Time) int {
	removed := 0
	kept := t.order[:0]
	for _, id := range t.order {
		job := t.jobs[id]
		if job.Event.IsCompleted && now.Sub(job.ReceivedAt) >= t.opts.Retention {
			delete(t.jobs, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	t.order = kept

	if removed > 0 {
		slog.Debug("Expired completed broadcast jobs", "removed", removed, "remaining", len(t.jobs))
		if t.metrics != nil {
			t.metrics.Expired.Add(float64(removed))
			t.metrics.TrackedJobs.Set(float64(len(t.jobs)))
		}
		t.publish()
	}
	return removed
}

func (t *Tracker) snapshot() []domain.JobProgress {
	out := make([]domain.JobProgress, 0, len(t.order))
	for _, id := range t.order {
		job := *t.jobs[id]
		job.Event = job.Event.Clone()
		out = append(out, job)
	}
	return out
}

func (t *Tracker) lookup(channelID int) *domain.JobProgress {
	job, ok := t.jobs[channelID]
	if !ok {
		return nil
	}
	cp := *job
	cp.Event = cp.Event.Clone()
	return &cp
}

func (t *Tracker) countEvent(effect Effect) {
	if t.metrics == nil {
		return
	}
	t.metrics.Events.WithLabelValues(string(effect)).Inc()
	t.metrics.TrackedJobs.Set(float64(len(t.jobs)))
}

func (t *Tracker) publish() {
	if t.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := t.publisher.PublishProgress(ctx, t.snapshot()); err != nil {
		slog.Warn("Failed to publish progress snapshot", "error", err)
	}
}
