package clinic

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGDirectory reads clinics from Postgres using the prepared statements
// registered in internal/db.
type PGDirectory struct {
	pool *pgxpool.Pool
}

// NewPGDirectory creates a directory backed by the shared pool.
func NewPGDirectory(pool *pgxpool.Pool) *PGDirectory {
	return &PGDirectory{pool: pool}
}

// ListActive returns all active clinics ordered by id.
func (d *PGDirectory) ListActive(ctx context.Context) ([]Clinic, error) {
	rows, err := d.pool.Query(ctx, "active_clinics")
	if err != nil {
		return nil, fmt.Errorf("list active clinics: %w", err)
	}
	defer rows.Close()

	var clinics []Clinic
	for rows.Next() {
		var c Clinic
		if err := rows.Scan(
			&c.ID, &c.Name, &c.Phone, &c.Email, &c.PackageTier,
			&c.ContentUpdatedAt, &c.StreakDays, &c.StreakDeadline,
		); err != nil {
			return nil, fmt.Errorf("scan clinic: %w", err)
		}
		clinics = append(clinics, c)
	}
	return clinics, rows.Err()
}

// GetByID returns a single clinic record.
func (d *PGDirectory) GetByID(ctx context.Context, id string) (*Clinic, error) {
	var c Clinic
	err := d.pool.QueryRow(ctx, "clinic_by_id", id).Scan(
		&c.ID, &c.Name, &c.Phone, &c.Email, &c.PackageTier,
		&c.ContentUpdatedAt, &c.StreakDays, &c.StreakDeadline,
	)
	if err != nil {
		return nil, fmt.Errorf("get clinic %s: %w", id, err)
	}
	return &c, nil
}
