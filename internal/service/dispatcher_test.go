package service

import (
	"context"
	"testing"
	"time"

	"hostpost/internal/database"
	"hostpost/internal/models"
	"hostpost/pkg/circuitbreaker"
	"hostpost/pkg/platforms/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	platform    string
	result      types.PublishResult
	calls       int
	lastContent types.PublishContent
	lastTenant  string
}

func (f *fakePublisher) Platform() string { return f.platform }

func (f *fakePublisher) Publish(ctx context.Context, content types.PublishContent, tenantID string) types.PublishResult {
	f.calls++
	f.lastContent = content
	f.lastTenant = tenantID
	return f.result
}

func testBreaker() *circuitbreaker.Breaker {
	return circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 100,
		MinimumRequests:  100,
		RecoveryTimeout:  time.Minute,
		MonitoringPeriod: time.Minute,
	}, testLogger())
}

// seedDispatchable creates an approved post, an active connection and one
// due pending queue entry, returning the entry.
func seedDispatchable(t *testing.T, db *database.Database, platform string) models.QueueEntry {
	t.Helper()
	ctx := context.Background()
	scheduledAt := time.Now().UTC().Add(-time.Minute)
	media := "https://cdn.example.com/brunch.jpg"

	post := approvedPost(1, "tenant-a", []string{platform}, scheduledAt)
	post.MediaURL = &media
	require.NoError(t, db.SavePost(ctx, post))

	connID, err := db.SaveConnection(ctx, &models.SocialConnection{
		TenantID: "tenant-a", Platform: platform, Active: true,
	})
	require.NoError(t, err)

	require.NoError(t, db.InsertQueueEntry(ctx, post.ID, connID, scheduledAt))
	entries, err := db.GetQueueEntriesForPosts(ctx, []int64{post.ID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return entries[0]
}

func TestDispatcherPublishesDueEntry(t *testing.T) {
	db := setupTestStore(t)
	ctx := context.Background()
	entry := seedDispatchable(t, db, "facebook")

	pub := &fakePublisher{platform: "facebook", result: types.PublishResult{Success: true, PostID: "123_456"}}
	d := NewDispatcher(db, []types.Publisher{pub}, testBreaker(), DispatcherOptions{}, testLogger())

	require.NoError(t, d.DispatchDueEntries(ctx))

	assert.Equal(t, 1, pub.calls)
	assert.Equal(t, "weekend brunch special", pub.lastContent.Text)
	assert.Equal(t, "https://cdn.example.com/brunch.jpg", pub.lastContent.MediaURL)
	assert.Equal(t, "tenant-a", pub.lastTenant)

	got, err := db.GetQueueEntryByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusSucceeded, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Nil(t, got.LastError)
}

func TestDispatcherSkipsEntryClaimedElsewhere(t *testing.T) {
	db := setupTestStore(t)
	ctx := context.Background()
	entry := seedDispatchable(t, db, "facebook")

	// Another worker already claimed the row
	claimed, err := db.ClaimQueueEntry(ctx, entry.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	pub := &fakePublisher{platform: "facebook", result: types.PublishResult{Success: true}}
	d := NewDispatcher(db, []types.Publisher{pub}, testBreaker(), DispatcherOptions{}, testLogger())
	require.NoError(t, d.DispatchDueEntries(ctx))

	assert.Zero(t, pub.calls)
	got, err := db.GetQueueEntryByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusInProgress, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestDispatcherReleasesFailedEntryForRedelivery(t *testing.T) {
	db := setupTestStore(t)
	ctx := context.Background()
	entry := seedDispatchable(t, db, "facebook")

	pub := &fakePublisher{platform: "facebook", result: types.Failure("Invalid OAuth access token")}
	d := NewDispatcher(db, []types.Publisher{pub}, testBreaker(), DispatcherOptions{RedeliveryBackoffMin: 15}, testLogger())

	require.NoError(t, d.DispatchDueEntries(ctx))

	got, err := db.GetQueueEntryByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "Invalid OAuth access token", *got.LastError)
	require.NotNil(t, got.NextAttemptAt)
	assert.WithinDuration(t, time.Now().UTC().Add(15*time.Minute), *got.NextAttemptAt, 5*time.Second)

	// Throttled: an immediate second pass does not touch it
	require.NoError(t, d.DispatchDueEntries(ctx))
	assert.Equal(t, 1, pub.calls)
}

func TestDispatcherFailsEntryAfterAttemptBudget(t *testing.T) {
	db := setupTestStore(t)
	ctx := context.Background()
	entry := seedDispatchable(t, db, "facebook")

	pub := &fakePublisher{platform: "facebook", result: types.Failure("upstream down")}
	d := NewDispatcher(db, []types.Publisher{pub}, testBreaker(), DispatcherOptions{MaxAttempts: 1}, testLogger())

	require.NoError(t, d.DispatchDueEntries(ctx))

	got, err := db.GetQueueEntryByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusFailed, got.Status)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "upstream down", *got.LastError)
}

func TestDispatcherFailsEntryWhenPostWithdrawn(t *testing.T) {
	db := setupTestStore(t)
	ctx := context.Background()
	entry := seedDispatchable(t, db, "facebook")

	// Post was soft-deleted after enqueueing
	now := time.Now().UTC()
	post := approvedPost(1, "tenant-a", []string{"facebook"}, now.Add(-time.Minute))
	post.DeletedAt = &now
	require.NoError(t, db.SavePost(ctx, post))

	pub := &fakePublisher{platform: "facebook", result: types.PublishResult{Success: true}}
	d := NewDispatcher(db, []types.Publisher{pub}, testBreaker(), DispatcherOptions{}, testLogger())
	require.NoError(t, d.DispatchDueEntries(ctx))

	assert.Zero(t, pub.calls)
	got, err := db.GetQueueEntryByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusFailed, got.Status)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "no longer eligible")
}

func TestDispatcherFailsEntryWhenNoPublisher(t *testing.T) {
	db := setupTestStore(t)
	ctx := context.Background()
	entry := seedDispatchable(t, db, "linkedin")

	d := NewDispatcher(db, nil, testBreaker(), DispatcherOptions{}, testLogger())
	require.NoError(t, d.DispatchDueEntries(ctx))

	got, err := db.GetQueueEntryByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusFailed, got.Status)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "no publisher registered")
}

func TestDispatcherDefersWhenCircuitOpen(t *testing.T) {
	db := setupTestStore(t)
	ctx := context.Background()
	entry := seedDispatchable(t, db, "facebook")

	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 1,
		MinimumRequests:  1,
		RecoveryTimeout:  time.Minute,
		MonitoringPeriod: time.Minute,
	}, testLogger())

	// Trip the facebook circuit before dispatching
	err := breaker.Execute(ctx, "facebook", func(context.Context) error {
		return assert.AnError
	})
	require.Error(t, err)
	require.Equal(t, circuitbreaker.StateOpen, breaker.GetStatus("facebook").State)

	pub := &fakePublisher{platform: "facebook", result: types.PublishResult{Success: true}}
	d := NewDispatcher(db, []types.Publisher{pub}, breaker, DispatcherOptions{}, testLogger())
	require.NoError(t, d.DispatchDueEntries(ctx))

	assert.Zero(t, pub.calls, "open circuit must short-circuit before the publisher")
	got, err := db.GetQueueEntryByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusPending, got.Status)
	require.NotNil(t, got.NextAttemptAt)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "temporarily unavailable")
}
