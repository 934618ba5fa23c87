package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDirectory(t *testing.T) (*PostgresDirectory, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresDirectory(mock), mock
}

func TestPostgresDirectory_ListAllUsesKeyset(t *testing.T) {
	d, mock := newMockDirectory(t)

	rows := pgxmock.NewRows([]string{"id", "name", "role", "active"}).
		AddRow("u2", "Awa", "driver", true).
		AddRow("u3", "Moussa", "client", true)
	mock.ExpectQuery(`SELECT id, name, role, active FROM users\s+WHERE active AND id COLLATE "C" > \$1\s+ORDER BY id COLLATE "C" LIMIT \$2`).
		WithArgs("u1", 2).
		WillReturnRows(rows)

	got, err := d.ListAll(context.Background(), Page{After: "u1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "u2", got[0].ID)
	assert.Equal(t, "client", got[1].Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDirectory_ListByRoles(t *testing.T) {
	d, mock := newMockDirectory(t)

	mock.ExpectQuery(`role = ANY\(\$1\) AND id COLLATE "C" > \$2\s+ORDER BY id COLLATE "C" LIMIT \$3`).
		WithArgs([]string{"driver", "chauffeur"}, "", defaultPageLimit).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "role", "active"}).
			AddRow("d1", "Ibou", "chauffeur", true))

	got, err := d.ListByRoles(context.Background(), []string{"driver", "chauffeur"}, Page{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "d1", got[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDirectory_ListByNoRolesSkipsQuery(t *testing.T) {
	d, mock := newMockDirectory(t)

	got, err := d.ListByRoles(context.Background(), nil, Page{})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDirectory_QueryFailureIsUnavailable(t *testing.T) {
	d, mock := newMockDirectory(t)

	mock.ExpectQuery(`SELECT id, name, role, active FROM users`).
		WillReturnError(errors.New("connection refused"))

	_, err := d.ListAll(context.Background(), Page{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestPostgresDirectory_GetByID(t *testing.T) {
	d, mock := newMockDirectory(t)

	mock.ExpectQuery(`WHERE id = \$1`).
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "role", "active"}).
			AddRow("u1", "Fatou", "client", true))

	r, err := d.GetByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Fatou", r.Name)
}

func TestPostgresDirectory_GetByIDMissing(t *testing.T) {
	d, mock := newMockDirectory(t)

	mock.ExpectQuery(`WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	_, err := d.GetByID(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresDirectory_GetByIDInactive(t *testing.T) {
	d, mock := newMockDirectory(t)

	mock.ExpectQuery(`WHERE id = \$1`).
		WithArgs("u9").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "role", "active"}).
			AddRow("u9", "Old", "client", false))

	_, err := d.GetByID(context.Background(), "u9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresDirectory_NilPool(t *testing.T) {
	d := NewPostgresDirectory(nil)

	_, err := d.ListAll(context.Background(), Page{})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = d.GetByID(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.ErrorIs(t, d.Upsert(context.Background(), Recipient{ID: "u1"}), ErrUnavailable)
}

func TestPostgresDirectory_Upsert(t *testing.T) {
	d, mock := newMockDirectory(t)

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs("u1", "Fatou", "client", true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, d.Upsert(context.Background(), Recipient{ID: "u1", Name: "Fatou", Role: "client", Active: true}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
