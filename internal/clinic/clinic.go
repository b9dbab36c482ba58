// Package clinic is the boundary to the clinic directory. The nudge engine
// only needs the fields rule conditions and message rendering read; profile
// management lives elsewhere.
package clinic

import (
	"context"
	"fmt"
	"time"
)

// Clinic is an active clinic record as exposed by the directory.
type Clinic struct {
	ID               string
	Name             string
	Phone            string
	Email            string
	PackageTier      string // basic, standard, premium
	ContentUpdatedAt *time.Time
	StreakDays       int
	StreakDeadline   *time.Time
}

// AdminPath returns the front-end deep link for this clinic. Opaque to the
// engine; the UI resolves it.
func (c *Clinic) AdminPath() string {
	return fmt.Sprintf("/admin/clinic/%s", c.ID)
}

// HasActiveStreak reports whether the clinic has a running activity streak.
func (c *Clinic) HasActiveStreak() bool {
	return c.StreakDays > 0 && c.StreakDeadline != nil
}

// Directory lists the clinics the batch run iterates over.
type Directory interface {
	ListActive(ctx context.Context) ([]Clinic, error)
	GetByID(ctx context.Context, id string) (*Clinic, error)
}
