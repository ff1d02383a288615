package domain

import (
	"context"
	"math"
	"slices"
	"time"
)

// ProgressEvent is one cumulative delivery snapshot for a broadcast job, as
// emitted by the backend over the realtime channel.
type ProgressEvent struct {
	ChannelID    int      `json:"channel_id"`
	TotalSent    int      `json:"total_sent"`
	SentCount    int      `json:"sent_count"`
	FailedCount  int      `json:"failed_count"`
	IsCompleted  bool     `json:"is_completed"`
	ErrorDetails []string `json:"error_details"`
}

// Equal reports whether two events carry identical values.
func (e ProgressEvent) Equal(other ProgressEvent) bool {
	return e.ChannelID == other.ChannelID &&
		e.TotalSent == other.TotalSent &&
		e.SentCount == other.SentCount &&
		e.FailedCount == other.FailedCount &&
		e.IsCompleted == other.IsCompleted &&
		slices.Equal(e.ErrorDetails, other.ErrorDetails)
}

// Clone returns a copy that shares no memory with e.
func (e ProgressEvent) Clone() ProgressEvent {
	e.ErrorDetails = slices.Clone(e.ErrorDetails)
	if e.ErrorDetails == nil {
		e.ErrorDetails = []string{}
	}
	return e
}

// JobState is the display state of a broadcast job.
type JobState string

const (
	JobInProgress          JobState = "in_progress"
	JobCompleted           JobState = "completed"
	JobCompletedWithErrors JobState = "completed_with_errors"
)

// JobProgress is the tracked state of one broadcast job, keyed by ChannelID.
type JobProgress struct {
	Event       ProgressEvent
	FirstSeenAt time.Time
	ReceivedAt  time.Time
}

func (j JobProgress) ChannelID() int { return j.Event.ChannelID }

// ProgressPercent returns sent/total as a percentage, 0 when total is 0.
func (j JobProgress) ProgressPercent() float64 {
	if j.Event.TotalSent <= 0 {
		return 0
	}
	return float64(j.Event.SentCount) / float64(j.Event.TotalSent) * 100
}

func (j JobProgress) State() JobState {
	switch {
	case !j.Event.IsCompleted:
		return JobInProgress
	case j.Event.FailedCount > 0:
		return JobCompletedWithErrors
	default:
		return JobCompleted
	}
}

// TopErrors returns at most n error details and how many were left out.
func (j JobProgress) TopErrors(n int) ([]string, int) {
	details := j.Event.ErrorDetails
	if n < 0 {
		n = 0
	}
	if len(details) <= n {
		return slices.Clone(details), 0
	}
	return slices.Clone(details[:n]), len(details) - n
}

// MaxShownErrors is how many error details a job view lists before
// collapsing the rest into a count.
const MaxShownErrors = 3

// JobView is the display form of a job served to dashboard viewers.
type JobView struct {
	ChannelID   int       `json:"channel_id"`
	State       JobState  `json:"state"`
	Percent     int       `json:"percent"`
	TotalSent   int       `json:"total_sent"`
	SentCount   int       `json:"sent_count"`
	FailedCount int       `json:"failed_count"`
	IsCompleted bool      `json:"is_completed"`
	Errors      []string  `json:"errors"`
	MoreErrors  int       `json:"more_errors"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (j JobProgress) View() JobView {
	shown, more := j.TopErrors(MaxShownErrors)
	if shown == nil {
		shown = []string{}
	}
	return JobView{
		ChannelID:   j.Event.ChannelID,
		State:       j.State(),
		Percent:     int(math.Round(j.ProgressPercent())),
		TotalSent:   j.Event.TotalSent,
		SentCount:   j.Event.SentCount,
		FailedCount: j.Event.FailedCount,
		IsCompleted: j.Event.IsCompleted,
		Errors:      shown,
		MoreErrors:  more,
		UpdatedAt:   j.ReceivedAt,
	}
}

// Views maps jobs to their display form, keeping order.
func Views(jobs []JobProgress) []JobView {
	out := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.View())
	}
	return out
}

// ProgressPublisher pushes tracker snapshots to downstream viewers.
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, jobs []JobProgress) error
}
