package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresDirectory reads the shared users table.
type PostgresDirectory struct {
	db querier
}

// NewPostgresDirectory accepts a *pgxpool.Pool or any compatible querier.
func NewPostgresDirectory(db querier) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) ListAll(ctx context.Context, page Page) ([]Recipient, error) {
	return d.list(ctx,
		`SELECT id, name, role, active FROM users
		 WHERE active AND id COLLATE "C" > $1
		 ORDER BY id COLLATE "C" LIMIT $2`,
		page.After, page.limit(),
	)
}

func (d *PostgresDirectory) ListByRoles(ctx context.Context, roles []string, page Page) ([]Recipient, error) {
	if len(roles) == 0 {
		return []Recipient{}, nil
	}
	return d.list(ctx,
		`SELECT id, name, role, active FROM users
		 WHERE active AND role = ANY($1) AND id COLLATE "C" > $2
		 ORDER BY id COLLATE "C" LIMIT $3`,
		roles, page.After, page.limit(),
	)
}

func (d *PostgresDirectory) GetByID(ctx context.Context, id string) (*Recipient, error) {
	if d.db == nil {
		return nil, fmt.Errorf("%w: no database connection", ErrUnavailable)
	}
	var r Recipient
	err := d.db.QueryRow(ctx,
		`SELECT id, name, role, active FROM users WHERE id = $1`, id,
	).Scan(&r.ID, &r.Name, &r.Role, &r.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !r.Active {
		return nil, ErrNotFound
	}
	return &r, nil
}

// Upsert creates or updates a user. The directory is owned by the back
// office; this exists for seeding and tests.
func (d *PostgresDirectory) Upsert(ctx context.Context, r Recipient) error {
	if d.db == nil {
		return fmt.Errorf("%w: no database connection", ErrUnavailable)
	}
	_, err := d.db.Exec(ctx,
		`INSERT INTO users (id, name, role, active) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, role = EXCLUDED.role, active = EXCLUDED.active`,
		r.ID, r.Name, r.Role, r.Active,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (d *PostgresDirectory) list(ctx context.Context, sql string, args ...any) ([]Recipient, error) {
	if d.db == nil {
		return nil, fmt.Errorf("%w: no database connection", ErrUnavailable)
	}
	rows, err := d.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	recipients := []Recipient{}
	for rows.Next() {
		var r Recipient
		if err := rows.Scan(&r.ID, &r.Name, &r.Role, &r.Active); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		recipients = append(recipients, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return recipients, nil
}
