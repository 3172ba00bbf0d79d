package services

import "errors"

// Sentinel errors for the automation engine. Per-action failures are never
// surfaced as errors; they are isolated into the run's execution record.
var (
	ErrAutomationNotFound   = errors.New("automation not found")
	ErrAutomationInactive   = errors.New("automation is inactive")
	ErrTaskNotFound         = errors.New("task not found")
	ErrSprintNotFound       = errors.New("sprint not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrInvalidConfig marks malformed trigger/condition/action JSON. The
	// affected automation is skipped for the event; siblings still run.
	ErrInvalidConfig = errors.New("invalid automation config")
)
