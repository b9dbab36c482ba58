// Package db provides a pgxpool-based connection pool with prepared statement
// registration and health checking.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicpulse/nudge-engine/internal/config"
)

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

// registerPreparedStatements registers all statements the API and nudge
// layers use. Prepared statements eliminate parse overhead on every request.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		// Health
		"health_check": "SELECT 1",

		// Clinic directory
		"active_clinics": fmt.Sprintf(`
			SELECT id, name, phone, email, package_tier,
			       content_updated_at, streak_days, streak_deadline
			FROM %s
			WHERE is_active = true
			ORDER BY id`, config.ClinicsTable),
		"clinic_by_id": fmt.Sprintf(`
			SELECT id, name, phone, email, package_tier,
			       content_updated_at, streak_days, streak_deadline
			FROM %s
			WHERE id = $1`, config.ClinicsTable),

		// Metrics snapshot, aggregated from the analytics tables in one
		// round trip via the Postgres function.
		"clinic_metrics_snapshot": "SELECT * FROM clinic_metrics_snapshot($1)",

		// Notifications: duplicate window (exact title+type, trailing 24h,
		// dismissed records excluded)
		"notification_duplicate": fmt.Sprintf(`
			SELECT id FROM %s
			WHERE clinic_id = $1 AND type = $2 AND title = $3
			  AND dismissed = false
			  AND created_at >= $4
			ORDER BY created_at DESC
			LIMIT 1`, config.NotificationsTable),

		// Notifications: category cooldown window
		"notification_cooldown": fmt.Sprintf(`
			SELECT EXISTS (
				SELECT 1 FROM %s
				WHERE clinic_id = $1 AND category = $2 AND created_at >= $3
			)`, config.NotificationsTable),

		// Engagement
		"engagement_insert": fmt.Sprintf(`
			INSERT INTO %s (notification_id, clinic_id, action, occurred_at)
			VALUES ($1, $2, $3, $4)`, config.EngagementTable),
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
