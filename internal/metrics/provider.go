package metrics

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGProvider computes snapshots via the clinic_metrics_snapshot Postgres
// function, which aggregates the traffic, engagement, and SEO tables in a
// single round trip.
type PGProvider struct {
	pool *pgxpool.Pool
}

// NewPGProvider creates a provider backed by the shared pool.
func NewPGProvider(pool *pgxpool.Pool) *PGProvider {
	return &PGProvider{pool: pool}
}

// Snapshot returns the derived metrics for one clinic.
func (p *PGProvider) Snapshot(ctx context.Context, clinicID string) (*Snapshot, error) {
	var s Snapshot
	err := p.pool.QueryRow(ctx, "clinic_metrics_snapshot", clinicID).Scan(
		&s.ProfileViews, &s.TotalCalls, &s.TotalClicks, &s.NewReviews,
		&s.SEOScore, &s.SEOScoreChange, &s.CompletionScore,
		&s.DaysSinceContentUpdate, &s.TrafficChangePct,
		&s.MarketRank, &s.PreviousMarketRank,
		&s.StreakDays, &s.StreakHoursToDeadline,
		&s.FirstCallReceivedThisPeriod,
	)
	if err != nil {
		return nil, fmt.Errorf("metrics snapshot for clinic %s: %w", clinicID, err)
	}
	return &s, nil
}
