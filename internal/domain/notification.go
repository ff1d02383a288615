package domain

import (
	"context"
	"time"
)

// NotificationLevel mirrors the severities an operator sees in the console feed.
type NotificationLevel string

const (
	LevelInfo    NotificationLevel = "info"
	LevelSuccess NotificationLevel = "success"
	LevelWarning NotificationLevel = "warning"
	LevelError   NotificationLevel = "error"
	LevelLoading NotificationLevel = "loading"
)

// Notification is one user-visible message. Key is set for entries that can
// be dismissed later (e.g. a loading indicator for a pending broadcast).
type Notification struct {
	ID        string            `json:"id"`
	Key       string            `json:"key,omitempty"`
	Level     NotificationLevel `json:"level"`
	Message   string            `json:"message"`
	CreatedAt time.Time         `json:"created_at"`
}

// Notifier surfaces user-visible feedback. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Notify(level NotificationLevel, message string)
	Loading(key, message string)
	Dismiss(key string)
}

// NotificationAction tells viewers whether a notification appeared or went away.
type NotificationAction string

const (
	NotificationAdded     NotificationAction = "added"
	NotificationDismissed NotificationAction = "dismissed"
)

type NotificationEvent struct {
	Action       NotificationAction `json:"action"`
	Notification Notification       `json:"notification"`
}

// NotificationPublisher pushes feed changes to downstream viewers.
type NotificationPublisher interface {
	PublishNotification(ctx context.Context, ev NotificationEvent) error
}
