package models

import (
	"time"
)

type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusInProgress QueueStatus = "in_progress"
	QueueStatusSucceeded  QueueStatus = "succeeded"
	QueueStatusFailed     QueueStatus = "failed"
)

// QueueEntry is one planned delivery of one post to one connection. The
// (PostID, ConnectionID) pair is unique; terminal rows are kept for audit.
type QueueEntry struct {
	ID            int64       `db:"id"`
	PostID        int64       `db:"post_id"`
	ConnectionID  int64       `db:"connection_id"`
	ScheduledAt   time.Time   `db:"scheduled_at"`
	Status        QueueStatus `db:"status"`
	Attempts      int         `db:"attempts"`
	NextAttemptAt *time.Time  `db:"next_attempt_at"`
	LastError     *string     `db:"last_error"`
	CreatedAt     time.Time   `db:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at"`
}

// Due reports whether the entry is ready for dispatch: pending, scheduled
// time reached, and past any redelivery throttle.
func (e *QueueEntry) Due(now time.Time) bool {
	if e.Status != QueueStatusPending {
		return false
	}
	if e.ScheduledAt.After(now) {
		return false
	}
	return e.NextAttemptAt == nil || !e.NextAttemptAt.After(now)
}
