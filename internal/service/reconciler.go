package service

import (
	"context"
	"fmt"
	"time"

	"hostpost/internal/constants"
	"hostpost/internal/metrics"
	"hostpost/internal/models"
	"hostpost/pkg/platforms/types"

	"github.com/sirupsen/logrus"
)

// ReconcilerStore is the slice of the storage layer the reconciler needs.
type ReconcilerStore interface {
	GetEligiblePosts(ctx context.Context, from, to time.Time) ([]models.ScheduledPost, error)
	GetQueueEntriesForPosts(ctx context.Context, postIDs []int64) ([]models.QueueEntry, error)
	GetActiveConnectionsForTenants(ctx context.Context, tenantIDs []string) ([]models.SocialConnection, error)
	InsertQueueEntry(ctx context.Context, postID, connectionID int64, scheduledAt time.Time) error
	UpdateQueueEntrySchedule(ctx context.Context, entryID int64, scheduledAt time.Time) error
}

// Reconciler keeps the publishing queue in sync with the current post and
// connection state: one pending entry per (post, connection) pair, with the
// post's current scheduled time. It never touches entries past pending.
type Reconciler struct {
	store            ReconcilerStore
	lookaheadMinutes int
	graceMinutes     int
	logger           *logrus.Logger
}

func NewReconciler(store ReconcilerStore, lookaheadMinutes, graceMinutes int, logger *logrus.Logger) *Reconciler {
	if lookaheadMinutes <= 0 {
		lookaheadMinutes = constants.DefaultLookaheadMinutes
	}
	if graceMinutes <= 0 {
		graceMinutes = constants.DefaultGraceMinutes
	}
	return &Reconciler{
		store:            store,
		lookaheadMinutes: lookaheadMinutes,
		graceMinutes:     graceMinutes,
		logger:           logger,
	}
}

type pairKey struct {
	postID       int64
	connectionID int64
}

// EnsureScheduledPostsEnqueued runs one reconciliation pass. It is
// idempotent: a second pass with no intervening state change stages
// nothing. Individual row failures are logged and skipped; they never
// abort the batch.
func (r *Reconciler) EnsureScheduledPostsEnqueued(ctx context.Context) error {
	now := time.Now().UTC()
	from := now.Add(-time.Duration(r.graceMinutes) * time.Minute)
	to := now.Add(time.Duration(r.lookaheadMinutes) * time.Minute)

	posts, err := r.store.GetEligiblePosts(ctx, from, to)
	if err != nil {
		return fmt.Errorf("failed to load eligible posts: %w", err)
	}
	if len(posts) == 0 {
		r.logger.Debug("Reconciliation pass found no eligible posts")
		return nil
	}

	postIDs := make([]int64, 0, len(posts))
	tenantSet := make(map[string]struct{})
	for _, post := range posts {
		postIDs = append(postIDs, post.ID)
		tenantSet[post.TenantID] = struct{}{}
	}
	tenantIDs := make([]string, 0, len(tenantSet))
	for id := range tenantSet {
		tenantIDs = append(tenantIDs, id)
	}

	// Snapshot existing state before staging anything so a pair is never
	// double-inserted within one pass. Across concurrent passes the unique
	// constraint on (post_id, connection_id) is the second line of defense.
	entries, err := r.store.GetQueueEntriesForPosts(ctx, postIDs)
	if err != nil {
		return fmt.Errorf("failed to load queue entries: %w", err)
	}
	existing := make(map[pairKey]models.QueueEntry, len(entries))
	for _, entry := range entries {
		existing[pairKey{entry.PostID, entry.ConnectionID}] = entry
	}

	conns, err := r.store.GetActiveConnectionsForTenants(ctx, tenantIDs)
	if err != nil {
		return fmt.Errorf("failed to load connections: %w", err)
	}
	byTenantPlatform := make(map[string]map[string][]models.SocialConnection)
	for _, conn := range conns {
		platform := types.Normalize(conn.Platform)
		if byTenantPlatform[conn.TenantID] == nil {
			byTenantPlatform[conn.TenantID] = make(map[string][]models.SocialConnection)
		}
		byTenantPlatform[conn.TenantID][platform] = append(byTenantPlatform[conn.TenantID][platform], conn)
	}

	var inserted, updated, failed int
	staged := make(map[pairKey]struct{})

	for _, post := range posts {
		if !post.Eligible() {
			continue
		}

		for _, platform := range normalizedPlatforms(post.Platforms) {
			for _, conn := range byTenantPlatform[post.TenantID][platform] {
				key := pairKey{post.ID, conn.ID}
				if _, done := staged[key]; done {
					continue
				}
				staged[key] = struct{}{}

				entry, exists := existing[key]
				if !exists {
					if err := r.store.InsertQueueEntry(ctx, post.ID, conn.ID, *post.ScheduledAt); err != nil {
						failed++
						r.logger.WithError(err).WithFields(logrus.Fields{
							"post_id":       post.ID,
							"connection_id": conn.ID,
						}).Error("Failed to stage queue entry insert")
						continue
					}
					inserted++
					continue
				}

				if entry.Status != models.QueueStatusPending {
					continue
				}
				if entry.ScheduledAt.Equal(*post.ScheduledAt) {
					continue
				}
				if err := r.store.UpdateQueueEntrySchedule(ctx, entry.ID, *post.ScheduledAt); err != nil {
					failed++
					r.logger.WithError(err).WithFields(logrus.Fields{
						"post_id":       post.ID,
						"connection_id": conn.ID,
						"entry_id":      entry.ID,
					}).Error("Failed to stage queue entry reschedule")
					continue
				}
				updated++
			}
		}
	}

	metrics.RecordReconcilePass(inserted, updated, failed)
	r.logger.WithFields(logrus.Fields{
		"posts":    len(posts),
		"inserted": inserted,
		"updated":  updated,
		"failed":   failed,
	}).Info("Reconciliation pass complete")

	return nil
}

// normalizedPlatforms canonicalizes and de-duplicates a post's target list
// so synonym pairs like "instagram" and "instagram_business" cannot yield
// two entries for one connection.
func normalizedPlatforms(platforms []string) []string {
	seen := make(map[string]struct{}, len(platforms))
	out := make([]string, 0, len(platforms))
	for _, p := range platforms {
		canonical := types.Normalize(p)
		if canonical == "" {
			continue
		}
		if _, ok := seen[canonical]; ok {
			continue
		}
		seen[canonical] = struct{}{}
		out = append(out, canonical)
	}
	return out
}
