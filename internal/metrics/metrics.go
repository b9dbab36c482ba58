// Package metrics is the boundary to the analytics layer. The engine never
// computes derived metrics itself; it consumes a per-clinic snapshot and
// feeds it to rule evaluation.
package metrics

import "context"

// Snapshot is the point-in-time derived metrics for one clinic. It has no
// persistent identity; every evaluation run recomputes it.
type Snapshot struct {
	ProfileViews                int
	TotalCalls                  int
	TotalClicks                 int
	NewReviews                  int // reviews received this period
	SEOScore                    float64
	SEOScoreChange              float64 // delta vs previous period
	CompletionScore             float64 // profile completeness, 0-100
	DaysSinceContentUpdate      int
	TrafficChangePct            float64 // period-over-period, signed
	MarketRank                  int     // 1 = best in local market
	PreviousMarketRank          int
	StreakDays                  int
	StreakHoursToDeadline       float64 // <= 0 when no active streak
	FirstCallReceivedThisPeriod bool
}

// Provider computes the snapshot for one clinic. A failure must surface as
// an error, never a zero-value snapshot, which would silently fire or
// suppress rules.
type Provider interface {
	Snapshot(ctx context.Context, clinicID string) (*Snapshot, error)
}
