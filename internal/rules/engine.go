package rules

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clinicpulse/nudge-engine/internal/clinic"
	"github.com/clinicpulse/nudge-engine/internal/metrics"
)

// Engine evaluates the catalog for one clinic at a time. The catalog is
// read-only and safely shared across concurrent evaluations.
type Engine struct {
	catalog   []Rule
	cooldowns CooldownChecker
	logger    *slog.Logger
}

// NewEngine creates an engine over an immutable catalog.
func NewEngine(catalog []Rule, cooldowns CooldownChecker, logger *slog.Logger) *Engine {
	return &Engine{catalog: catalog, cooldowns: cooldowns, logger: logger}
}

// Evaluate runs every catalog rule against the snapshot and returns the
// pending notifications for eligible fired rules. Rules are independent:
// one rule's failure or firing never affects another, and catalog order is
// deterministic but not a tie-break mechanism.
func (e *Engine) Evaluate(ctx context.Context, c *clinic.Clinic, m *metrics.Snapshot) []Pending {
	now := time.Now()
	var pending []Pending

	for i := range e.catalog {
		rule := &e.catalog[i]

		fired, err := safeCondition(rule, c, m)
		if err != nil {
			// One bad rule must never abort the remaining catalog.
			e.logger.Error("rule condition failed",
				"rule_id", rule.ID, "clinic_id", c.ID, "error", err)
			continue
		}
		if !fired {
			continue
		}

		if rule.Cooldown > 0 {
			blocked, err := e.cooldowns.CategoryTriggeredSince(ctx, c.ID, rule.Category, now.Add(-rule.Cooldown))
			if err != nil {
				// Skip rather than risk a duplicate nudge on a failed check.
				e.logger.Warn("cooldown check failed",
					"rule_id", rule.ID, "clinic_id", c.ID, "error", err)
				continue
			}
			if blocked {
				continue
			}
		}

		content, err := safeRender(rule, c, m)
		if err != nil {
			e.logger.Error("rule render failed",
				"rule_id", rule.ID, "clinic_id", c.ID, "error", err)
			continue
		}

		pending = append(pending, Pending{
			RuleID:   rule.ID,
			ClinicID: c.ID,
			Category: rule.Category,
			Type:     rule.Type,
			Priority: rule.Priority,
			Content:  content,
		})
	}
	return pending
}

// safeCondition evaluates a condition, converting panics into errors so a
// misbehaving rule is contained.
func safeCondition(rule *Rule, c *clinic.Clinic, m *metrics.Snapshot) (fired bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("condition panic: %v", r)
		}
	}()
	return rule.Condition(c, m), nil
}

func safeRender(rule *Rule, c *clinic.Clinic, m *metrics.Snapshot) (content Content, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("render panic: %v", r)
		}
	}()
	return rule.Render(c, m), nil
}
