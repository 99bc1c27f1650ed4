package database

// Campaign post queries
const (
	SelectEligiblePostsQuery = `
		SELECT id, tenant_id, platforms, content, media_url, scheduled_at,
		       approval_status, deleted_at, created_at, updated_at
		FROM campaign_posts
		WHERE approval_status = 'approved'
		  AND deleted_at IS NULL
		  AND scheduled_at IS NOT NULL
		  AND scheduled_at >= ?
		  AND scheduled_at <= ?
		ORDER BY scheduled_at ASC
	`

	SelectPostByIDQuery = `
		SELECT id, tenant_id, platforms, content, media_url, scheduled_at,
		       approval_status, deleted_at, created_at, updated_at
		FROM campaign_posts
		WHERE id = ?
	`

	UpsertPostQuery = `
		INSERT INTO campaign_posts (
			id, tenant_id, platforms, content, media_url, scheduled_at,
			approval_status, deleted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			platforms = excluded.platforms,
			content = excluded.content,
			media_url = excluded.media_url,
			scheduled_at = excluded.scheduled_at,
			approval_status = excluded.approval_status,
			deleted_at = excluded.deleted_at,
			updated_at = CURRENT_TIMESTAMP
	`
)

// Social connection queries
const (
	selectConnectionColumns = `
		SELECT id, tenant_id, platform, account_ref, access_token,
		       access_token_enc, refresh_token_enc, token_expires_at,
		       active, deleted_at, created_at, updated_at
		FROM social_connections
	`

	SelectActiveConnectionQuery = selectConnectionColumns + `
		WHERE tenant_id = ? AND platform = ? AND active = 1 AND deleted_at IS NULL
		ORDER BY id ASC
		LIMIT 1
	`

	SelectConnectionByIDQuery = selectConnectionColumns + `
		WHERE id = ?
	`

	UpdateConnectionTokensQuery = `
		UPDATE social_connections
		SET access_token_enc = ?, refresh_token_enc = ?, token_expires_at = ?,
		    access_token = '', updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	InsertConnectionQuery = `
		INSERT INTO social_connections (
			tenant_id, platform, account_ref, access_token,
			access_token_enc, refresh_token_enc, token_expires_at, active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
)

// Publishing queue queries
const (
	selectQueueColumns = `
		SELECT id, post_id, connection_id, scheduled_at, status, attempts,
		       next_attempt_at, last_error, created_at, updated_at
		FROM publishing_queue
	`

	SelectQueueEntryByIDQuery = selectQueueColumns + `
		WHERE id = ?
	`

	SelectDuePendingEntriesQuery = selectQueueColumns + `
		WHERE status = 'pending'
		  AND scheduled_at <= ?
		  AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY scheduled_at ASC
		LIMIT ?
	`

	InsertQueueEntryQuery = `
		INSERT INTO publishing_queue (post_id, connection_id, scheduled_at, status)
		VALUES (?, ?, ?, 'pending')
	`

	UpdateQueueEntryScheduleQuery = `
		UPDATE publishing_queue
		SET scheduled_at = ?, next_attempt_at = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'pending'
	`

	ClaimQueueEntryQuery = `
		UPDATE publishing_queue
		SET status = 'in_progress', attempts = attempts + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'pending'
	`

	MarkQueueEntrySucceededQuery = `
		UPDATE publishing_queue
		SET status = 'succeeded', last_error = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	MarkQueueEntryFailedQuery = `
		UPDATE publishing_queue
		SET status = 'failed', last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	ReleaseQueueEntryQuery = `
		UPDATE publishing_queue
		SET status = 'pending', last_error = ?, next_attempt_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
)
