package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/tsntt/footballdash/internal/domain"
)

// wireEvent mirrors domain.ProgressEvent with pointer fields so that absent
// keys can be told apart from zero values.
type wireEvent struct {
	ChannelID    *int     `json:"channel_id"`
	TotalSent    *int     `json:"total_sent"`
	SentCount    *int     `json:"sent_count"`
	FailedCount  *int     `json:"failed_count"`
	IsCompleted  *bool    `json:"is_completed"`
	ErrorDetails []string `json:"error_details"`
}

// DecodeProgressEvent parses one channel message. Unknown keys, missing
// counters and inconsistent counts are rejected; a null or absent
// error_details is read as an empty list.
func DecodeProgressEvent(data []byte) (domain.ProgressEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var w wireEvent
	if err := dec.Decode(&w); err != nil {
		return domain.ProgressEvent{}, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return domain.ProgressEvent{}, fmt.Errorf("%w: trailing data after event", domain.ErrMalformedEvent)
	}

	required := []struct {
		name    string
		present bool
	}{
		{"channel_id", w.ChannelID != nil},
		{"total_sent", w.TotalSent != nil},
		{"sent_count", w.SentCount != nil},
		{"failed_count", w.FailedCount != nil},
		{"is_completed", w.IsCompleted != nil},
	}
	for _, f := range required {
		if !f.present {
			return domain.ProgressEvent{}, fmt.Errorf("%w: missing %s", domain.ErrMalformedEvent, f.name)
		}
	}

	ev := domain.ProgressEvent{
		ChannelID:    *w.ChannelID,
		TotalSent:    *w.TotalSent,
		SentCount:    *w.SentCount,
		FailedCount:  *w.FailedCount,
		IsCompleted:  *w.IsCompleted,
		ErrorDetails: w.ErrorDetails,
	}
	if ev.ErrorDetails == nil {
		ev.ErrorDetails = []string{}
	}

	switch {
	case ev.ChannelID <= 0:
		return domain.ProgressEvent{}, fmt.Errorf("%w: channel_id must be positive, got %d", domain.ErrMalformedEvent, ev.ChannelID)
	case ev.TotalSent < 0 || ev.SentCount < 0 || ev.FailedCount < 0:
		return domain.ProgressEvent{}, fmt.Errorf("%w: negative count", domain.ErrMalformedEvent)
	case ev.SentCount+ev.FailedCount > ev.TotalSent:
		return domain.ProgressEvent{}, fmt.Errorf("%w: sent %d + failed %d exceeds total %d",
			domain.ErrMalformedEvent, ev.SentCount, ev.FailedCount, ev.TotalSent)
	}
	return ev, nil
}
