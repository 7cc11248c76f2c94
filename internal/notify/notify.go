// Package notify delivers local notifications about the open incident.
package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

type Kind string

const (
	KindAnnouncement    Kind = "announcement"
	KindReportUpdated   Kind = "report_updated"
	KindBackupRequested Kind = "backup_requested"
	KindBackupResolved  Kind = "backup_resolved"
	KindSyncFailed      Kind = "sync_failed"
	KindCallEnded       Kind = "call_ended"
)

type Notice struct {
	Kind       Kind
	IncidentID int64
	Title      string
	Body       string
}

func (n Notice) Text() string {
	head := n.Title
	if n.IncidentID != 0 {
		head = fmt.Sprintf("%s (incident #%d)", n.Title, n.IncidentID)
	}
	if n.Body == "" {
		return head
	}
	return head + "\n\n" + n.Body
}

// Notifier is implemented by every delivery surface.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// Log writes notices to the logger. Used when no other surface is configured.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Notify(_ context.Context, n Notice) error {
	l.logger.Info("Notification",
		zap.String("kind", string(n.Kind)),
		zap.Int64("incident_id", n.IncidentID),
		zap.String("title", n.Title),
		zap.String("body", n.Body),
	)
	return nil
}

// Multi fans a notice out to several notifiers and returns the first error.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notice) error {
	var first error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil && first == nil {
			first = err
		}
	}
	return first
}
