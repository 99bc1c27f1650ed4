package service

import (
	"context"
	"errors"
	"time"

	"hostpost/internal/constants"
	"hostpost/internal/metrics"
	"hostpost/internal/models"
	"hostpost/internal/privacy"
	"hostpost/internal/tracing"
	"hostpost/pkg/circuitbreaker"
	"hostpost/pkg/platforms/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DispatcherStore is the slice of the storage layer the dispatcher needs.
type DispatcherStore interface {
	GetDuePendingEntries(ctx context.Context, now time.Time, limit int) ([]models.QueueEntry, error)
	ClaimQueueEntry(ctx context.Context, entryID int64) (bool, error)
	MarkQueueEntrySucceeded(ctx context.Context, entryID int64) error
	MarkQueueEntryFailed(ctx context.Context, entryID int64, lastError string) error
	ReleaseQueueEntry(ctx context.Context, entryID int64, lastError string, nextAttemptAt time.Time) error
	GetPostByID(ctx context.Context, id int64) (*models.ScheduledPost, error)
	GetConnectionByID(ctx context.Context, id int64) (*models.SocialConnection, error)
}

// DispatcherOptions bound how much work one drain pass does and when a
// failing entry gives up.
type DispatcherOptions struct {
	BatchSize            int
	MaxAttempts          int
	RedeliveryBackoffMin int
}

// Dispatcher drains due pending queue entries and hands each one to the
// matching platform publisher, gated by a per-platform circuit breaker.
// Entries are claimed with an optimistic status transition so concurrent
// dispatchers never double-publish.
type Dispatcher struct {
	store      DispatcherStore
	publishers map[string]types.Publisher
	breaker    *circuitbreaker.Breaker
	opts       DispatcherOptions
	logger     *logrus.Logger
}

func NewDispatcher(store DispatcherStore, publishers []types.Publisher, breaker *circuitbreaker.Breaker, opts DispatcherOptions, logger *logrus.Logger) *Dispatcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = constants.DefaultDispatchBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = constants.DefaultMaxDispatchAttempts
	}
	if opts.RedeliveryBackoffMin <= 0 {
		opts.RedeliveryBackoffMin = constants.DefaultRedeliveryBackoffMin
	}

	byPlatform := make(map[string]types.Publisher, len(publishers))
	for _, p := range publishers {
		byPlatform[types.Normalize(p.Platform())] = p
	}

	return &Dispatcher{
		store:      store,
		publishers: byPlatform,
		breaker:    breaker,
		opts:       opts,
		logger:     logger,
	}
}

// DispatchDueEntries runs one drain pass over due pending entries.
func (d *Dispatcher) DispatchDueEntries(ctx context.Context) error {
	now := time.Now().UTC()

	entries, err := d.store.GetDuePendingEntries(ctx, now, d.opts.BatchSize)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	var succeeded, retried, failed, skipped int
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch d.dispatchEntry(ctx, entry) {
		case dispatchSucceeded:
			succeeded++
		case dispatchRetried:
			retried++
		case dispatchFailed:
			failed++
		case dispatchSkipped:
			skipped++
		}
	}

	d.logger.WithFields(logrus.Fields{
		"due":       len(entries),
		"succeeded": succeeded,
		"retried":   retried,
		"failed":    failed,
		"skipped":   skipped,
	}).Info("Dispatch pass complete")

	return nil
}

type dispatchOutcome int

const (
	dispatchSucceeded dispatchOutcome = iota
	dispatchRetried
	dispatchFailed
	dispatchSkipped
)

func (d *Dispatcher) dispatchEntry(ctx context.Context, entry models.QueueEntry) dispatchOutcome {
	claimed, err := d.store.ClaimQueueEntry(ctx, entry.ID)
	if err != nil {
		d.logger.WithError(err).WithField("entry_id", entry.ID).Error("Failed to claim queue entry")
		return dispatchSkipped
	}
	if !claimed {
		// Another worker got there first
		return dispatchSkipped
	}
	attempt := entry.Attempts + 1

	log := d.logger.WithFields(logrus.Fields{
		"entry_id":   entry.ID,
		"post_id":    entry.PostID,
		"attempt":    attempt,
		"attempt_id": uuid.New().String(),
	})

	post, err := d.store.GetPostByID(ctx, entry.PostID)
	if err != nil {
		log.WithError(err).Error("Failed to load post for dispatch")
		return d.retryOrFail(ctx, entry, attempt, "internal: post lookup failed", log)
	}
	if post == nil || !post.Eligible() {
		d.markFailed(ctx, entry.ID, "post no longer eligible for publishing", log)
		return dispatchFailed
	}

	conn, err := d.store.GetConnectionByID(ctx, entry.ConnectionID)
	if err != nil {
		log.WithError(err).Error("Failed to load connection for dispatch")
		return d.retryOrFail(ctx, entry, attempt, "internal: connection lookup failed", log)
	}
	if conn == nil || !conn.Usable() {
		d.markFailed(ctx, entry.ID, "connection no longer active", log)
		return dispatchFailed
	}

	platform := types.Normalize(conn.Platform)
	publisher, ok := d.publishers[platform]
	if !ok {
		d.markFailed(ctx, entry.ID, "no publisher registered for platform "+platform, log)
		return dispatchFailed
	}
	log = log.WithFields(logrus.Fields{
		"platform": platform,
		"tenant":   privacy.MaskTenantID(post.TenantID),
		"account":  privacy.MaskAccountRef(conn.AccountRef),
	})

	content := types.PublishContent{Text: post.Content}
	if post.MediaURL != nil {
		content.MediaURL = *post.MediaURL
	}

	spanCtx, span := tracing.StartPublishSpan(ctx, platform, post.TenantID)
	defer span.End()

	metrics.RecordPublishAttempt(platform)
	started := time.Now()

	var result types.PublishResult
	err = d.breaker.Execute(spanCtx, platform, func(ctx context.Context) error {
		result = publisher.Publish(ctx, content, post.TenantID)
		if !result.Success {
			return errors.New(result.Error)
		}
		return nil
	})
	if err != nil {
		tracing.RecordError(spanCtx, err)
	}
	metrics.RecordPublishResult(platform, result.Success, time.Since(started))

	if circuitbreaker.IsOpenError(err) {
		// The publisher was never invoked; park the entry for a later pass
		log.Warn("Circuit open, deferring queue entry")
		return d.retryOrFail(ctx, entry, attempt, "platform temporarily unavailable: "+platform, log)
	}

	if result.Success {
		if err := d.store.MarkQueueEntrySucceeded(ctx, entry.ID); err != nil {
			log.WithError(err).Error("Failed to mark queue entry succeeded")
			return dispatchSkipped
		}
		log.WithField("remote_post_id", result.PostID).Info("Published queue entry")
		return dispatchSucceeded
	}

	return d.retryOrFail(ctx, entry, attempt, result.Error, log)
}

// retryOrFail returns a claimed entry to pending with a redelivery
// throttle, or marks it failed once the attempt budget is spent. This
// cross-pass redelivery is distinct from the publish clients' own
// intra-call retries.
func (d *Dispatcher) retryOrFail(ctx context.Context, entry models.QueueEntry, attempt int, lastError string, log *logrus.Entry) dispatchOutcome {
	if attempt >= d.opts.MaxAttempts {
		d.markFailed(ctx, entry.ID, lastError, log)
		return dispatchFailed
	}

	nextAttempt := time.Now().UTC().Add(time.Duration(d.opts.RedeliveryBackoffMin) * time.Minute)
	if err := d.store.ReleaseQueueEntry(ctx, entry.ID, lastError, nextAttempt); err != nil {
		log.WithError(err).Error("Failed to release queue entry for redelivery")
		return dispatchSkipped
	}
	log.WithFields(logrus.Fields{
		"last_error":   lastError,
		"next_attempt": nextAttempt,
	}).Warn("Publish failed, entry released for redelivery")
	return dispatchRetried
}

func (d *Dispatcher) markFailed(ctx context.Context, entryID int64, lastError string, log *logrus.Entry) {
	if err := d.store.MarkQueueEntryFailed(ctx, entryID, lastError); err != nil {
		log.WithError(err).Error("Failed to mark queue entry failed")
		return
	}
	log.WithField("last_error", lastError).Warn("Queue entry failed terminally")
}
