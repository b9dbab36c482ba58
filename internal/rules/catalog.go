package rules

import (
	"fmt"
	"time"

	"github.com/clinicpulse/nudge-engine/internal/clinic"
	"github.com/clinicpulse/nudge-engine/internal/metrics"
	"github.com/clinicpulse/nudge-engine/internal/notify"
)

// Threshold constants for catalog conditions.
const (
	seoScoreFloor       = 70.0
	seoDropThreshold    = -5.0
	noClicksMinViews    = 20
	trafficSurgePct     = 25.0
	trafficDropPct      = -20.0
	completionFloor     = 60.0
	staleContentDays    = 30
	reviewMilestone     = 5
	streakRiskHours     = 12.0
	upgradeTipMinViews  = 100
	topMarketRank       = 3
)

// Catalog builds the immutable rule list, evaluated in declaration order.
// Cross-rule suppression is each condition's own responsibility (e.g. the
// upgrade tip checks package tier); the engine never suppresses one rule
// because another fired.
func Catalog() []Rule {
	return []Rule{
		{
			ID:        "seo_score_drop",
			Name:      "SEO score drop",
			Category:  "seo",
			Type:      notify.TypeSEOIssue,
			Priority:  notify.PriorityHigh,
			Frequency: FrequencyWeekly,
			Cooldown:  168 * time.Hour,
			Condition: func(c *clinic.Clinic, m *metrics.Snapshot) bool {
				return m.SEOScore < seoScoreFloor && m.SEOScoreChange < seoDropThreshold
			},
			Render: func(c *clinic.Clinic, m *metrics.Snapshot) Content {
				return Content{
					Title: fmt.Sprintf("SEO Score Alert: dropped to %.0f", m.SEOScore),
					Message: fmt.Sprintf(
						"%s's SEO score fell %.0f points to %.0f this period. Review your listing details before rankings slip further.",
						c.Name, -m.SEOScoreChange, m.SEOScore),
					ActionRef:   c.AdminPath() + "/seo",
					ActionLabel: "Review SEO checklist",
					Tags:        []string{"seo", "score_drop"},
					Data:        map[string]any{"seo_score": m.SEOScore, "seo_score_change": m.SEOScoreChange},
				}
			},
		},
		{
			ID:        "no_clicks_warning",
			Name:      "Views without clicks",
			Category:  "engagement",
			Type:      notify.TypeWarning,
			Priority:  notify.PriorityMedium,
			Frequency: FrequencyDaily,
			Cooldown:  72 * time.Hour,
			Condition: func(c *clinic.Clinic, m *metrics.Snapshot) bool {
				return m.TotalClicks == 0 && m.ProfileViews > noClicksMinViews
			},
			Render: func(c *clinic.Clinic, m *metrics.Snapshot) Content {
				return Content{
					Title: "People are looking, but nobody is clicking",
					Message: fmt.Sprintf(
						"%d people viewed your profile this period without clicking through. A clearer call to action or updated photos usually helps.",
						m.ProfileViews),
					ActionRef:   c.AdminPath() + "/profile",
					ActionLabel: "Improve profile",
					Tags:        []string{"engagement", "conversion"},
					Data:        map[string]any{"profile_views": m.ProfileViews, "total_clicks": m.TotalClicks},
				}
			},
		},
		{
			ID:        "traffic_surge",
			Name:      "Traffic surge",
			Category:  "traffic",
			Type:      notify.TypeAchievement,
			Priority:  notify.PriorityLow,
			Frequency: FrequencyWeekly,
			Cooldown:  168 * time.Hour,
			Condition: func(c *clinic.Clinic, m *metrics.Snapshot) bool {
				return m.TrafficChangePct >= trafficSurgePct
			},
			Render: func(c *clinic.Clinic, m *metrics.Snapshot) Content {
				return Content{
					Title: fmt.Sprintf("Traffic is up %.0f%%", m.TrafficChangePct),
					Message: fmt.Sprintf(
						"%s saw %.0f%% more visitors than last period. Keep your availability current to convert the extra attention.",
						c.Name, m.TrafficChangePct),
					ActionRef:   c.AdminPath(),
					ActionLabel: "View dashboard",
					Tags:        []string{"traffic", "growth"},
					Data:        map[string]any{"traffic_change_pct": m.TrafficChangePct},
				}
			},
		},
		{
			ID:        "traffic_drop_warning",
			Name:      "Traffic drop",
			Category:  "traffic",
			Type:      notify.TypeWarning,
			Priority:  notify.PriorityHigh,
			Frequency: FrequencyDaily,
			Cooldown:  96 * time.Hour,
			Condition: func(c *clinic.Clinic, m *metrics.Snapshot) bool {
				return m.TrafficChangePct <= trafficDropPct
			},
			Render: func(c *clinic.Clinic, m *metrics.Snapshot) Content {
				return Content{
					Title: fmt.Sprintf("Traffic dropped %.0f%%", -m.TrafficChangePct),
					Message: fmt.Sprintf(
						"Visits to %s fell %.0f%% versus last period. Fresh content and responding to recent reviews are the fastest levers.",
						c.Name, -m.TrafficChangePct),
					ActionRef:   c.AdminPath() + "/analytics",
					ActionLabel: "See what changed",
					Tags:        []string{"traffic", "decline"},
					Data:        map[string]any{"traffic_change_pct": m.TrafficChangePct},
				}
			},
		},
		{
			ID:        "profile_incomplete",
			Name:      "Incomplete profile",
			Category:  "profile",
			Type:      notify.TypeReminder,
			Priority:  notify.PriorityMedium,
			Frequency: FrequencyWeekly,
			Cooldown:  168 * time.Hour,
			Condition: func(c *clinic.Clinic, m *metrics.Snapshot) bool {
				return m.CompletionScore < completionFloor
			},
			Render: func(c *clinic.Clinic, m *metrics.Snapshot) Content {
				return Content{
					Title: fmt.Sprintf("Your profile is %.0f%% complete", m.CompletionScore),
					Message: "Complete profiles get ranked higher and receive more calls. " +
						"Finishing yours takes a few minutes.",
					ActionRef:   c.AdminPath() + "/profile",
					ActionLabel: "Finish profile",
					Tags:        []string{"profile", "completion"},
					Data:        map[string]any{"completion_score": m.CompletionScore},
				}
			},
		},
		{
			ID:        "stale_content_reminder",
			Name:      "Stale content",
			Category:  "content",
			Type:      notify.TypeReminder,
			Priority:  notify.PriorityLow,
			Frequency: FrequencyWeekly,
			Cooldown:  168 * time.Hour,
			Condition: func(c *clinic.Clinic, m *metrics.Snapshot) bool {
				return m.DaysSinceContentUpdate >= staleContentDays
			},
			Render: func(c *clinic.Clinic, m *metrics.Snapshot) Content {
				return Content{
					Title: fmt.Sprintf("No updates in %d days", m.DaysSinceContentUpdate),
					Message: "Profiles updated in the last month rank noticeably better in local search. " +
						"A new photo or a short news post counts.",
					ActionRef:   c.AdminPath() + "/content",
					ActionLabel: "Post an update",
					Tags:        []string{"content", "freshness"},
					Data:        map[string]any{"days_since_update": m.DaysSinceContentUpdate},
				}
			},
		},
		{
			ID:        "review_milestone",
			Name:      "Review milestone",
			Category:  "reviews",
			Type:      notify.TypeMilestone,
			Priority:  notify.PriorityLow,
			Frequency: FrequencyWeekly,
			Cooldown:  168 * time.Hour,
			Condition: func(c *clinic.Clinic, m *metrics.Snapshot) bool {
				return m.NewReviews >= reviewMilestone
			},
			Render: func(c *clinic.Clinic, m *metrics.Snapshot) Content {
				return Content{
					Title: fmt.Sprintf("%d new reviews this period", m.NewReviews),
					Message: fmt.Sprintf(
						"%s collected %d new reviews. Replying to each one keeps the momentum going.",
						c.Name, m.NewReviews),
					ActionRef:   c.AdminPath() + "/reviews",
					ActionLabel: "Reply to reviews",
					Tags:        []string{"reviews", "milestone"},
					Data:        map[string]any{"new_reviews": m.NewReviews},
				}
			},
		},
		{
			ID:        "streak_at_risk",
			Name:      "Streak at risk",
			Category:  "streak",
			Type:      notify.TypeWarning,
			Priority:  notify.PriorityUrgent,
			Frequency: FrequencyDaily,
			Cooldown:  24 * time.Hour,
			Condition: func(c *clinic.Clinic, m *metrics.Snapshot) bool {
				return m.StreakDays > 0 &&
					m.StreakHoursToDeadline > 0 &&
					m.StreakHoursToDeadline <= streakRiskHours
			},
			Render: func(c *clinic.Clinic, m *metrics.Snapshot) Content {
				return Content{
					Title:       fmt.Sprintf("Your %d-day streak expires in %.0f hours", m.StreakDays, m.StreakHoursToDeadline),
					Message:     "One quick activity keeps the streak alive and your visibility boost with it.",
					ActionRef:   c.AdminPath(),
					ActionLabel: "Keep the streak",
					Tags:        []string{"streak", "deadline"},
					Data: map[string]any{
						"streak_days":       m.StreakDays,
						"hours_to_deadline": m.StreakHoursToDeadline,
					},
				}
			},
		},
		{
			ID:        "first_call_milestone",
			Name:      "First call received",
			Category:  "milestone",
			Type:      notify.TypeMilestone,
			Priority:  notify.PriorityMedium,
			Frequency: FrequencyOnce,
			// No cooldown: the condition self-limits to the period of the
			// first call, and the 24h duplicate window covers reruns.
			Cooldown: 0,
			Condition: func(c *clinic.Clinic, m *metrics.Snapshot) bool {
				return m.FirstCallReceivedThisPeriod && m.TotalCalls >= 1
			},
			Render: func(c *clinic.Clinic, m *metrics.Snapshot) Content {
				return Content{
					Title:       "You received your first call!",
					Message:     fmt.Sprintf("A patient called %s through your profile for the first time. This is where growth starts.", c.Name),
					ActionRef:   c.AdminPath() + "/analytics",
					ActionLabel: "See call details",
					Tags:        []string{"milestone", "first_call"},
					Data:        map[string]any{"total_calls": m.TotalCalls},
				}
			},
		},
		{
			ID:        "rank_improved",
			Name:      "Market rank improved",
			Category:  "market",
			Type:      notify.TypeAchievement,
			Priority:  notify.PriorityLow,
			Frequency: FrequencyWeekly,
			Cooldown:  168 * time.Hour,
			Condition: func(c *clinic.Clinic, m *metrics.Snapshot) bool {
				return m.MarketRank > 0 && m.MarketRank <= topMarketRank &&
					m.PreviousMarketRank > topMarketRank
			},
			Render: func(c *clinic.Clinic, m *metrics.Snapshot) Content {
				return Content{
					Title: fmt.Sprintf("You're now #%d in your market", m.MarketRank),
					Message: fmt.Sprintf(
						"%s moved from #%d to #%d among local clinics. Patients see you near the top of results.",
						c.Name, m.PreviousMarketRank, m.MarketRank),
					ActionRef:   c.AdminPath() + "/analytics",
					ActionLabel: "View ranking",
					Tags:        []string{"market", "rank"},
					Data: map[string]any{
						"market_rank":          m.MarketRank,
						"previous_market_rank": m.PreviousMarketRank,
					},
				}
			},
		},
		{
			ID:        "upgrade_tip",
			Name:      "Upgrade tip",
			Category:  "upsell",
			Type:      notify.TypeTip,
			Priority:  notify.PriorityLow,
			Frequency: FrequencyMonthly,
			Cooldown:  336 * time.Hour,
			Condition: func(c *clinic.Clinic, m *metrics.Snapshot) bool {
				// Tier check keeps this quiet for clinics already upgraded.
				return c.PackageTier == "basic" && m.ProfileViews > upgradeTipMinViews
			},
			Render: func(c *clinic.Clinic, m *metrics.Snapshot) Content {
				return Content{
					Title: "You're getting noticed",
					Message: fmt.Sprintf(
						"%d views this period puts you ahead of most basic-tier clinics. Standard tier adds photos, highlights, and priority placement.",
						m.ProfileViews),
					ActionRef:   c.AdminPath() + "/subscription",
					ActionLabel: "Compare tiers",
					Tags:        []string{"upsell", "tier"},
					Data:        map[string]any{"profile_views": m.ProfileViews, "package_tier": c.PackageTier},
				}
			},
		},
	}
}
