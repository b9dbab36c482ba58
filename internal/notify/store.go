package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicpulse/nudge-engine/internal/config"
)

// PGStore is the production Store backed by Postgres. Semantics mirror
// MemoryStore. The duplicate check and insert share a transaction; under
// READ COMMITTED two concurrent enqueues of the same title can still both
// pass the check, so a rare duplicate row is a detectable anomaly rather
// than an impossibility. Each clinic is evaluated at most once per run,
// which keeps that window out of the normal write path.
type PGStore struct {
	pool       *pgxpool.Pool
	dispatcher Dispatcher
}

// NewPGStore creates a store backed by the shared pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// SetDispatcher attaches the delivery dispatcher.
func (s *PGStore) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// Enqueue persists the notification, applying the duplicate window and
// dispatching synchronously when due.
func (s *PGStore) Enqueue(ctx context.Context, n *Notification) (string, bool, error) {
	now := time.Now()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt = now
	n.UpdatedAt = now
	if n.ExpiresAt.IsZero() {
		n.ExpiresAt = now.Add(DefaultTTL)
	}
	if n.ExpiresAt.Before(n.CreatedAt) {
		return "", false, fmt.Errorf("enqueue %s: expires_at before created_at", n.ID)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", false, fmt.Errorf("begin enqueue: %w", err)
	}
	defer tx.Rollback(ctx)

	var existingID string
	err = tx.QueryRow(ctx, "notification_duplicate",
		n.ClinicID, n.Type, n.Title, now.Add(-DuplicateWindow),
	).Scan(&existingID)
	switch {
	case err == nil:
		return existingID, true, nil
	case err != pgx.ErrNoRows:
		return "", false, fmt.Errorf("duplicate check: %w", err)
	}

	_, err = tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			id, clinic_id, type, priority, title, message,
			action_ref, action_label, category, tags, data,
			scheduled_for, dismissed, expires_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,false,$13,$14,$14)`,
		config.NotificationsTable),
		n.ID, n.ClinicID, n.Type, n.Priority, n.Title, n.Message,
		n.ActionRef, n.ActionLabel, n.Category, n.Tags, n.Data,
		n.ScheduledFor, n.ExpiresAt, now,
	)
	if err != nil {
		return "", false, fmt.Errorf("insert notification: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", false, fmt.Errorf("commit enqueue: %w", err)
	}

	if s.dispatcher != nil && n.DueAt(now) {
		if claimed, err := s.markSent(ctx, n.ID, now); err == nil && claimed {
			n.SentAt = &now
			s.dispatcher.Dispatch(ctx, n)
		}
	}
	return n.ID, false, nil
}

// ProcessScheduled claims due scheduled notifications with FOR UPDATE SKIP
// LOCKED so concurrent sweeps never double-dispatch, then dispatches each.
// Unscheduled unsent rows are claimed too: they only exist when an enqueue
// committed but its markSent failed, and the sweep is their recovery path.
func (s *PGStore) ProcessScheduled(ctx context.Context, now time.Time) (int, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		UPDATE %[1]s
		SET sent_at = $2, updated_at = $2
		WHERE id IN (
			SELECT id FROM %[1]s
			WHERE sent_at IS NULL
			  AND (scheduled_for <= $2 OR scheduled_for IS NULL)
			ORDER BY scheduled_for NULLS LAST
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, clinic_id, type, priority, title, message,
		          action_ref, action_label, category, tags, data,
		          scheduled_for, sent_at, read_at, dismissed,
		          expires_at, created_at, updated_at`, config.NotificationsTable),
		ScheduledBatchSize, now,
	)
	if err != nil {
		return 0, fmt.Errorf("claim scheduled notifications: %w", err)
	}
	claimed, err := scanNotifications(rows)
	if err != nil {
		return 0, err
	}

	if s.dispatcher != nil {
		for i := range claimed {
			s.dispatcher.Dispatch(ctx, &claimed[i])
		}
	}
	return len(claimed), nil
}

// MarkRead sets read_at once; unsent or already-read records are a no-op.
func (s *PGStore) MarkRead(ctx context.Context, id, clinicID string) error {
	now := time.Now()
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET read_at = GREATEST($3::timestamptz, sent_at), updated_at = $3
		WHERE id = $1 AND clinic_id = $2
		  AND sent_at IS NOT NULL AND read_at IS NULL`, config.NotificationsTable),
		id, clinicID, now,
	)
	if err != nil {
		return fmt.Errorf("mark read %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.ensureExists(ctx, id, clinicID)
	}
	return s.AppendEngagement(ctx, EngagementEvent{
		NotificationID: id, ClinicID: clinicID,
		Action: ActionRead, OccurredAt: now,
	})
}

// Dismiss flags the notification dismissed once.
func (s *PGStore) Dismiss(ctx context.Context, id, clinicID string) error {
	now := time.Now()
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET dismissed = true, updated_at = $3
		WHERE id = $1 AND clinic_id = $2 AND dismissed = false`, config.NotificationsTable),
		id, clinicID, now,
	)
	if err != nil {
		return fmt.Errorf("dismiss %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.ensureExists(ctx, id, clinicID)
	}
	return s.AppendEngagement(ctx, EngagementEvent{
		NotificationID: id, ClinicID: clinicID,
		Action: ActionDismissed, OccurredAt: now,
	})
}

// GetForClinic lists notifications newest first.
func (s *PGStore) GetForClinic(ctx context.Context, clinicID string, opts ListOptions) ([]Notification, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT id, clinic_id, type, priority, title, message,
		       action_ref, action_label, category, tags, data,
		       scheduled_for, sent_at, read_at, dismissed,
		       expires_at, created_at, updated_at
		FROM %s
		WHERE clinic_id = $1`, config.NotificationsTable)
	args := []any{clinicID}

	if opts.Category != "" {
		args = append(args, opts.Category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if opts.UnreadOnly {
		query += " AND read_at IS NULL AND dismissed = false"
	}
	if !opts.IncludeExpired {
		query += " AND expires_at >= NOW()"
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications for clinic %s: %w", clinicID, err)
	}
	return scanNotifications(rows)
}

// CleanupExpired deletes records past expiry and older than the retention
// floor.
func (s *PGStore) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s
		WHERE expires_at < $1 AND created_at < $2`, config.NotificationsTable),
		now, now.Add(-RetentionFloor),
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Stats aggregates engagement over the trailing window.
func (s *PGStore) Stats(ctx context.Context, clinicID string, days int) (*Stats, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().AddDate(0, 0, -days)
	st := &Stats{ClinicID: clinicID, Days: days}

	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT
			COUNT(*) FILTER (WHERE action = 'sent'),
			COUNT(*) FILTER (WHERE action = 'read'),
			COUNT(*) FILTER (WHERE action = 'dismissed')
		FROM %s
		WHERE clinic_id = $1 AND occurred_at >= $2`, config.EngagementTable),
		clinicID, since,
	).Scan(&st.TotalSent, &st.TotalRead, &st.TotalDismissed)
	if err != nil {
		return nil, fmt.Errorf("engagement counts: %w", err)
	}
	if st.TotalSent > 0 {
		st.ReadRate = float64(st.TotalRead) / float64(st.TotalSent)
	}

	var avgMinutes *float64
	err = s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT AVG(EXTRACT(EPOCH FROM (read_at - sent_at)) / 60.0)
		FROM %s
		WHERE clinic_id = $1 AND created_at >= $2
		  AND sent_at IS NOT NULL AND read_at IS NOT NULL`, config.NotificationsTable),
		clinicID, since,
	).Scan(&avgMinutes)
	if err != nil {
		return nil, fmt.Errorf("avg response time: %w", err)
	}
	if avgMinutes != nil {
		st.AvgResponseTimeMinutes = *avgMinutes
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT category, COUNT(*) AS n
		FROM %s
		WHERE clinic_id = $1 AND created_at >= $2
		GROUP BY category
		ORDER BY n DESC, category
		LIMIT 5`, config.NotificationsTable),
		clinicID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("top categories: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cc CategoryCount
		if err := rows.Scan(&cc.Category, &cc.Count); err != nil {
			return nil, fmt.Errorf("scan category count: %w", err)
		}
		st.TopCategories = append(st.TopCategories, cc)
	}
	return st, rows.Err()
}

// CategoryTriggeredSince is the cooldown lookup used by the rule engine.
func (s *PGStore) CategoryTriggeredSince(ctx context.Context, clinicID, category string, since time.Time) (bool, error) {
	var triggered bool
	err := s.pool.QueryRow(ctx, "notification_cooldown", clinicID, category, since).Scan(&triggered)
	if err != nil {
		return false, fmt.Errorf("cooldown check %s/%s: %w", clinicID, category, err)
	}
	return triggered, nil
}

// AppendEngagement records an audit event.
func (s *PGStore) AppendEngagement(ctx context.Context, ev EngagementEvent) error {
	_, err := s.pool.Exec(ctx, "engagement_insert",
		ev.NotificationID, ev.ClinicID, ev.Action, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("append engagement: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// markSent claims the sent_at slot. claimed=false means another writer
// (the sweep) got there first and owns the dispatch.
func (s *PGStore) markSent(ctx context.Context, id string, now time.Time) (claimed bool, err error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET sent_at = $2, updated_at = $2
		WHERE id = $1 AND sent_at IS NULL`, config.NotificationsTable), id, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ensureExists distinguishes an idempotent no-op from a missing record.
func (s *PGStore) ensureExists(ctx context.Context, id, clinicID string) error {
	var one int
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT 1 FROM %s WHERE id = $1 AND clinic_id = $2", config.NotificationsTable),
		id, clinicID,
	).Scan(&one)
	if err == pgx.ErrNoRows {
		return ErrNotFound
	}
	return err
}

func scanNotifications(rows pgx.Rows) ([]Notification, error) {
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(
			&n.ID, &n.ClinicID, &n.Type, &n.Priority, &n.Title, &n.Message,
			&n.ActionRef, &n.ActionLabel, &n.Category, &n.Tags, &n.Data,
			&n.ScheduledFor, &n.SentAt, &n.ReadAt, &n.Dismissed,
			&n.ExpiresAt, &n.CreatedAt, &n.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
