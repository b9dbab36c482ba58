package rules

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/clinicpulse/nudge-engine/internal/clinic"
	"github.com/clinicpulse/nudge-engine/internal/metrics"
	"github.com/clinicpulse/nudge-engine/internal/notify"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeCooldowns answers the cooldown check from a fixed category set.
type fakeCooldowns struct {
	blocked map[string]bool
	err     error
	calls   []string
}

func (f *fakeCooldowns) CategoryTriggeredSince(ctx context.Context, clinicID, category string, since time.Time) (bool, error) {
	f.calls = append(f.calls, category)
	if f.err != nil {
		return false, f.err
	}
	return f.blocked[category], nil
}

func testClinic() *clinic.Clinic {
	return &clinic.Clinic{
		ID:          "clinic-1",
		Name:        "Riverside Dental",
		Email:       "owner@riverside.example",
		PackageTier: "standard",
	}
}

// quietSnapshot fires no catalog rule on its own.
func quietSnapshot() *metrics.Snapshot {
	return &metrics.Snapshot{
		ProfileViews:           10,
		TotalClicks:            3,
		SEOScore:               85,
		CompletionScore:        90,
		DaysSinceContentUpdate: 5,
		MarketRank:             5,
		PreviousMarketRank:     5,
	}
}

func TestEvaluate_QuietSnapshotFiresNothing(t *testing.T) {
	e := NewEngine(Catalog(), &fakeCooldowns{}, discard)
	pending := e.Evaluate(context.Background(), testClinic(), quietSnapshot())
	if len(pending) != 0 {
		t.Fatalf("fired %d rules on a quiet snapshot: %+v", len(pending), pending)
	}
}

func TestEvaluate_SEOScoreDrop(t *testing.T) {
	m := quietSnapshot()
	m.SEOScore = 65
	m.SEOScoreChange = -8

	e := NewEngine(Catalog(), &fakeCooldowns{}, discard)
	pending := e.Evaluate(context.Background(), testClinic(), m)
	if len(pending) != 1 {
		t.Fatalf("fired %d rules, want 1", len(pending))
	}
	p := pending[0]
	if p.RuleID != "seo_score_drop" {
		t.Errorf("rule %s, want seo_score_drop", p.RuleID)
	}
	if p.Category != "seo" || p.Priority != notify.PriorityHigh {
		t.Errorf("category=%s priority=%s", p.Category, p.Priority)
	}
	if !strings.Contains(p.Title, "SEO Score Alert") {
		t.Errorf("title %q missing alert prefix", p.Title)
	}
	if !strings.Contains(p.Message, "Riverside Dental") {
		t.Errorf("message %q does not name the clinic", p.Message)
	}
	if p.ActionRef != "/admin/clinic/clinic-1/seo" {
		t.Errorf("action ref %q", p.ActionRef)
	}
}

func TestEvaluate_NoClicksWarning(t *testing.T) {
	m := quietSnapshot()
	m.ProfileViews = 25
	m.TotalClicks = 0

	e := NewEngine(Catalog(), &fakeCooldowns{}, discard)
	pending := e.Evaluate(context.Background(), testClinic(), m)
	if len(pending) != 1 {
		t.Fatalf("fired %d rules, want 1", len(pending))
	}
	if pending[0].RuleID != "no_clicks_warning" || pending[0].Priority != notify.PriorityMedium {
		t.Errorf("got %s/%s, want no_clicks_warning/medium", pending[0].RuleID, pending[0].Priority)
	}
}

func TestEvaluate_CooldownBlocksCategory(t *testing.T) {
	m := quietSnapshot()
	m.SEOScore = 65
	m.SEOScoreChange = -8

	cooldowns := &fakeCooldowns{blocked: map[string]bool{"seo": true}}
	e := NewEngine(Catalog(), cooldowns, discard)
	if pending := e.Evaluate(context.Background(), testClinic(), m); len(pending) != 0 {
		t.Fatalf("fired %d rules through an active cooldown", len(pending))
	}
}

func TestEvaluate_CooldownErrorSkipsRule(t *testing.T) {
	// A failed cooldown check must skip the rule, not fire it: firing
	// would risk a duplicate nudge.
	m := quietSnapshot()
	m.SEOScore = 65
	m.SEOScoreChange = -8

	e := NewEngine(Catalog(), &fakeCooldowns{err: errors.New("store down")}, discard)
	if pending := e.Evaluate(context.Background(), testClinic(), m); len(pending) != 0 {
		t.Fatalf("fired %d rules despite failed cooldown check", len(pending))
	}
}

func TestEvaluate_PanicInOneRuleIsContained(t *testing.T) {
	catalog := []Rule{
		{
			ID: "bad", Category: "a", Type: notify.TypeTip, Priority: notify.PriorityLow,
			Condition: func(c *clinic.Clinic, m *metrics.Snapshot) bool { panic("boom") },
			Render:    func(c *clinic.Clinic, m *metrics.Snapshot) Content { return Content{} },
		},
		{
			ID: "good", Category: "b", Type: notify.TypeTip, Priority: notify.PriorityLow,
			Condition: func(c *clinic.Clinic, m *metrics.Snapshot) bool { return true },
			Render:    func(c *clinic.Clinic, m *metrics.Snapshot) Content { return Content{Title: "ok"} },
		},
	}
	e := NewEngine(catalog, &fakeCooldowns{}, discard)
	pending := e.Evaluate(context.Background(), testClinic(), quietSnapshot())
	if len(pending) != 1 || pending[0].RuleID != "good" {
		t.Fatalf("got %+v, want only the good rule", pending)
	}
}

func TestEvaluate_CooldownAfterStoredNotification(t *testing.T) {
	// End to end through the real store: a rule that fired and was enqueued
	// must not fire again inside its cooldown window.
	store := notify.NewMemoryStore()
	m := quietSnapshot()
	m.ProfileViews = 25
	m.TotalClicks = 0

	e := NewEngine(Catalog(), store, discard)
	ctx := context.Background()

	pending := e.Evaluate(ctx, testClinic(), m)
	if len(pending) != 1 {
		t.Fatalf("first evaluation fired %d rules, want 1", len(pending))
	}
	p := pending[0]
	if _, _, err := store.Enqueue(ctx, &notify.Notification{
		ClinicID: p.ClinicID, Type: p.Type, Priority: p.Priority,
		Title: p.Title, Message: p.Message, Category: p.Category,
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if again := e.Evaluate(ctx, testClinic(), m); len(again) != 0 {
		t.Fatalf("second evaluation fired %d rules inside the 72h cooldown", len(again))
	}
}

func TestEvaluate_ZeroCooldownSkipsCheck(t *testing.T) {
	catalog := []Rule{{
		ID: "always", Category: "m", Type: notify.TypeMilestone, Priority: notify.PriorityMedium,
		Cooldown:  0,
		Condition: func(c *clinic.Clinic, m *metrics.Snapshot) bool { return true },
		Render:    func(c *clinic.Clinic, m *metrics.Snapshot) Content { return Content{Title: "t"} },
	}}
	cooldowns := &fakeCooldowns{blocked: map[string]bool{"m": true}}
	e := NewEngine(catalog, cooldowns, discard)

	pending := e.Evaluate(context.Background(), testClinic(), quietSnapshot())
	if len(pending) != 1 {
		t.Fatalf("fired %d rules, want 1", len(pending))
	}
	if len(cooldowns.calls) != 0 {
		t.Errorf("cooldown checked %d times for a zero-cooldown rule", len(cooldowns.calls))
	}
}
