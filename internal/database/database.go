package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"hostpost/internal/migrations"
	"hostpost/internal/models"
	"hostpost/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("invalid database path")
	}

	if dbPath != ":memory:" {
		// Validate database path to prevent directory traversal
		if err := security.ValidateFilePath(dbPath); err != nil {
			return nil, fmt.Errorf("invalid database path: %w", err)
		}

		file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to create database file: %w", err)
		}
		if err := file.Close(); err != nil {
			return nil, fmt.Errorf("failed to close database file: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema, err := migrations.GetInitialSchema()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to read schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// SavePost upserts a campaign post by ID. The authoring dashboard owns
// these rows in production; the publishing core uses this for ingestion
// syncs and tests.
func (d *Database) SavePost(ctx context.Context, post *models.ScheduledPost) error {
	platformsJSON, err := json.Marshal(post.Platforms)
	if err != nil {
		return fmt.Errorf("failed to encode platforms: %w", err)
	}

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpsertPostQuery,
			post.ID,
			post.TenantID,
			string(platformsJSON),
			post.Content,
			post.MediaURL,
			post.ScheduledAt,
			string(post.ApprovalStatus),
			post.DeletedAt,
		)
		return err
	}, "save post")
}

// GetEligiblePosts returns approved, undeleted posts whose scheduled time
// falls inside [from, to].
func (d *Database) GetEligiblePosts(ctx context.Context, from, to time.Time) ([]models.ScheduledPost, error) {
	rows, err := d.db.QueryContext(ctx, SelectEligiblePostsQuery, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible posts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var posts []models.ScheduledPost
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *post)
	}
	return posts, rows.Err()
}

func (d *Database) GetPostByID(ctx context.Context, id int64) (*models.ScheduledPost, error) {
	row := d.db.QueryRowContext(ctx, SelectPostByIDQuery, id)
	post, err := scanPost(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return post, nil
}

func scanPost(row rowScanner) (*models.ScheduledPost, error) {
	var post models.ScheduledPost
	var platformsJSON string
	var mediaURL sql.NullString
	var scheduledAt, deletedAt sql.NullTime
	var status string

	err := row.Scan(
		&post.ID, &post.TenantID, &platformsJSON, &post.Content, &mediaURL,
		&scheduledAt, &status, &deletedAt, &post.CreatedAt, &post.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(platformsJSON), &post.Platforms); err != nil {
		return nil, fmt.Errorf("failed to decode platforms for post %d: %w", post.ID, err)
	}
	post.ApprovalStatus = models.ApprovalStatus(status)
	if mediaURL.Valid {
		post.MediaURL = &mediaURL.String
	}
	if scheduledAt.Valid {
		t := scheduledAt.Time
		post.ScheduledAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		post.DeletedAt = &t
	}
	return &post, nil
}

// SaveConnection inserts a social connection and returns its ID.
func (d *Database) SaveConnection(ctx context.Context, conn *models.SocialConnection) (int64, error) {
	var id int64
	err := retryableDBOperation(ctx, func() error {
		res, err := d.db.ExecContext(ctx, InsertConnectionQuery,
			conn.TenantID,
			conn.Platform,
			conn.AccountRef,
			conn.AccessToken,
			conn.AccessTokenEnc,
			conn.RefreshTokenEnc,
			conn.TokenExpiresAt,
			conn.Active,
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	}, "save connection")
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetActiveConnection returns the active connection for a tenant/platform
// pair, or nil when the tenant has none.
func (d *Database) GetActiveConnection(ctx context.Context, tenantID, platform string) (*models.SocialConnection, error) {
	row := d.db.QueryRowContext(ctx, SelectActiveConnectionQuery, tenantID, platform)
	conn, err := scanConnection(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active connection: %w", err)
	}
	return conn, nil
}

func (d *Database) GetConnectionByID(ctx context.Context, id int64) (*models.SocialConnection, error) {
	row := d.db.QueryRowContext(ctx, SelectConnectionByIDQuery, id)
	conn, err := scanConnection(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

// GetActiveConnectionsForTenants returns all usable connections for the
// given tenants in one query. Used by the reconciler to avoid a per-post
// lookup.
func (d *Database) GetActiveConnectionsForTenants(ctx context.Context, tenantIDs []string) ([]models.SocialConnection, error) {
	if len(tenantIDs) == 0 {
		return nil, nil
	}

	query := selectConnectionColumns + `
		WHERE tenant_id IN (` + placeholders(len(tenantIDs)) + `)
		  AND active = 1 AND deleted_at IS NULL
		ORDER BY id ASC`

	args := make([]interface{}, len(tenantIDs))
	for i, id := range tenantIDs {
		args[i] = id
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var conns []models.SocialConnection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, *conn)
	}
	return conns, rows.Err()
}

// RotateConnectionTokens replaces a connection's stored tokens after a
// refresh. The legacy plaintext column is cleared in the same statement.
func (d *Database) RotateConnectionTokens(ctx context.Context, connectionID int64, accessTokenEnc, refreshTokenEnc string, expiresAt time.Time) error {
	return retryableDBOperation(ctx, func() error {
		res, err := d.db.ExecContext(ctx, UpdateConnectionTokensQuery,
			accessTokenEnc, refreshTokenEnc, expiresAt, connectionID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("connection %d not found", connectionID)
		}
		return nil
	}, "rotate connection tokens")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConnection(row rowScanner) (*models.SocialConnection, error) {
	var conn models.SocialConnection
	var tokenExpiresAt, deletedAt sql.NullTime

	err := row.Scan(
		&conn.ID, &conn.TenantID, &conn.Platform, &conn.AccountRef,
		&conn.AccessToken, &conn.AccessTokenEnc, &conn.RefreshTokenEnc,
		&tokenExpiresAt, &conn.Active, &deletedAt,
		&conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if tokenExpiresAt.Valid {
		t := tokenExpiresAt.Time
		conn.TokenExpiresAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		conn.DeletedAt = &t
	}
	return &conn, nil
}

// InsertQueueEntry stages one pending delivery. A UNIQUE violation on
// (post_id, connection_id) means another reconciler run got there first
// and is not treated as an error.
func (d *Database) InsertQueueEntry(ctx context.Context, postID, connectionID int64, scheduledAt time.Time) error {
	_, err := d.db.ExecContext(ctx, InsertQueueEntryQuery, postID, connectionID, scheduledAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil
		}
		return fmt.Errorf("failed to insert queue entry: %w", err)
	}
	return nil
}

// UpdateQueueEntrySchedule moves a pending entry to a new scheduled time
// and clears any redelivery throttle. Entries already claimed or terminal
// are left alone.
func (d *Database) UpdateQueueEntrySchedule(ctx context.Context, entryID int64, scheduledAt time.Time) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpdateQueueEntryScheduleQuery, scheduledAt, entryID)
		return err
	}, "update queue entry schedule")
}

// GetQueueEntriesForPosts returns every queue row for the given posts,
// regardless of status.
func (d *Database) GetQueueEntriesForPosts(ctx context.Context, postIDs []int64) ([]models.QueueEntry, error) {
	if len(postIDs) == 0 {
		return nil, nil
	}

	query := selectQueueColumns + `
		WHERE post_id IN (` + placeholders(len(postIDs)) + `)`

	args := make([]interface{}, len(postIDs))
	for i, id := range postIDs {
		args[i] = id
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []models.QueueEntry
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// GetDuePendingEntries returns pending entries whose scheduled time has
// arrived and whose redelivery throttle, if any, has lapsed.
func (d *Database) GetDuePendingEntries(ctx context.Context, now time.Time, limit int) ([]models.QueueEntry, error) {
	rows, err := d.db.QueryContext(ctx, SelectDuePendingEntriesQuery, now, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []models.QueueEntry
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func (d *Database) GetQueueEntryByID(ctx context.Context, id int64) (*models.QueueEntry, error) {
	row := d.db.QueryRowContext(ctx, SelectQueueEntryByIDQuery, id)
	entry, err := scanQueueEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	return entry, nil
}

// ClaimQueueEntry atomically moves a pending entry to in_progress and
// bumps its attempt counter. Returns false when another worker claimed
// the row first.
func (d *Database) ClaimQueueEntry(ctx context.Context, entryID int64) (bool, error) {
	var claimed bool
	err := retryableDBOperation(ctx, func() error {
		res, err := d.db.ExecContext(ctx, ClaimQueueEntryQuery, entryID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		claimed = affected == 1
		return nil
	}, "claim queue entry")
	if err != nil {
		return false, err
	}
	return claimed, nil
}

func (d *Database) MarkQueueEntrySucceeded(ctx context.Context, entryID int64) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, MarkQueueEntrySucceededQuery, entryID)
		return err
	}, "mark queue entry succeeded")
}

// MarkQueueEntryFailed records a terminal failure. The row is kept for
// audit and excluded from future dispatch.
func (d *Database) MarkQueueEntryFailed(ctx context.Context, entryID int64, lastError string) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, MarkQueueEntryFailedQuery, lastError, entryID)
		return err
	}, "mark queue entry failed")
}

// ReleaseQueueEntry returns a claimed entry to pending for a later
// redelivery attempt.
func (d *Database) ReleaseQueueEntry(ctx context.Context, entryID int64, lastError string, nextAttemptAt time.Time) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, ReleaseQueueEntryQuery, lastError, nextAttemptAt, entryID)
		return err
	}, "release queue entry")
}

func scanQueueEntry(row rowScanner) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	var status string
	var nextAttemptAt sql.NullTime
	var lastError sql.NullString

	err := row.Scan(
		&entry.ID, &entry.PostID, &entry.ConnectionID, &entry.ScheduledAt,
		&status, &entry.Attempts, &nextAttemptAt, &lastError,
		&entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Status = models.QueueStatus(status)
	if nextAttemptAt.Valid {
		t := nextAttemptAt.Time
		entry.NextAttemptAt = &t
	}
	if lastError.Valid {
		entry.LastError = &lastError.String
	}
	return &entry, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
