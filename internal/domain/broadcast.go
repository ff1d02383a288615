package domain

import (
	"context"
	"fmt"
	"time"
)

// BroadcastPhase is the lifecycle of one trigger invocation.
type BroadcastPhase string

const (
	PhasePending BroadcastPhase = "pending"
	PhaseSuccess BroadcastPhase = "success"
	PhaseError   BroadcastPhase = "error"
)

// BroadcastAction is one in-flight or just-settled trigger for a match.
type BroadcastAction struct {
	MatchID   int            `json:"match_id"`
	Phase     BroadcastPhase `json:"phase"`
	StartedAt time.Time      `json:"started_at"`
}

// BroadcastKey is the notification key used for a match's pending indicator.
func BroadcastKey(matchID int) string {
	return fmt.Sprintf("broadcast-%d", matchID)
}

// BroadcastData is the payload the backend returns when a broadcast starts.
type BroadcastData struct {
	MatchID        int    `json:"match_id"`
	Message        string `json:"message"`
	NotificationID string `json:"notification_id"`
	TargetsCount   int    `json:"targets_count"`
}

type BroadcastResponse struct {
	Message string        `json:"message"`
	Data    BroadcastData `json:"data"`
}

// BroadcastAPI starts a broadcast job server-side.
type BroadcastAPI interface {
	BroadcastMatch(ctx context.Context, matchID int) (*BroadcastResponse, error)
}
