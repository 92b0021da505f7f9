// Package notify reports transfer runs to chat webhooks.
package notify

import "time"

// Provider defines the notification contract for transfer runs.
// This interface allows for different notification backends (Slack, email, etc.)
// and enables easier testing through mock implementations.
type Provider interface {
	// RunStarted sends notification when a transfer run starts.
	RunStarted(runID, target string, transferCount int) error

	// RunCompleted sends notification when every transfer of a run succeeded.
	RunCompleted(runID string, startTime time.Time, duration time.Duration, transferCount int, rowCount int64) error

	// RunCompletedWithErrors sends notification when some transfers of a run failed.
	RunCompletedWithErrors(runID string, startTime time.Time, duration time.Duration, succeeded, failed int, rowCount int64, failures []string) error
}

// Ensure Notifier implements Provider
var _ Provider = (*Notifier)(nil)
