package models

import (
	"time"
)

type ApprovalStatus string

const (
	ApprovalStatusDraft    ApprovalStatus = "draft"
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

// ScheduledPost is content approved for publishing. It is owned by the
// content-authoring side; the publishing core only reads it.
type ScheduledPost struct {
	ID             int64          `db:"id"`
	TenantID       string         `db:"tenant_id"`
	Platforms      []string       `db:"platforms"`
	Content        string         `db:"content"`
	MediaURL       *string        `db:"media_url"`
	ScheduledAt    *time.Time     `db:"scheduled_at"`
	ApprovalStatus ApprovalStatus `db:"approval_status"`
	DeletedAt      *time.Time     `db:"deleted_at"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

// Eligible reports whether the post qualifies for enqueueing at all:
// approved, not soft-deleted, and carrying a scheduled time.
func (p *ScheduledPost) Eligible() bool {
	return p.ApprovalStatus == ApprovalStatusApproved && p.ScheduledAt != nil && p.DeletedAt == nil
}
