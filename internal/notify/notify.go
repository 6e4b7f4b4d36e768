// Package notify delivers structured agent progress reports to
// external channels. The report format the controller must supply:
// iteration count, confidence, task counts by status, and a stop
// reason when the agent terminates.
package notify

import "github.com/hochfrequenz/issue-autopilot/internal/domain"

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Report carries the structured progress payload keyed by agent
type Report struct {
	AgentID    string
	Ref        domain.IssueRef
	Iteration  int
	Confidence float64
	TaskCounts map[domain.TaskStatus]int
	StopReason domain.StopReason // set only when the agent stopped
}

// Notification represents a notification to be sent
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	Report  *Report
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }
