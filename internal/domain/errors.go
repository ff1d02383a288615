package domain

import "errors"

var (
	ErrMalformedEvent   = errors.New("malformed progress event")
	ErrBroadcastPending = errors.New("broadcast already pending for match")
	ErrInvalidMatchID   = errors.New("invalid match id")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotAdmin         = errors.New("admin role required")
	ErrListingNotLoaded = errors.New("match listing not loaded")
	ErrJobNotFound      = errors.New("broadcast job not found")
	ErrTrackerStopped   = errors.New("progress tracker stopped")
	ErrRefreshCanceled  = errors.New("listing refresh canceled")
)
