// AngelaMos | 2026
// repository_test.go

package user

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/rentals/backend/internal/core"
)

var userColumnNames = []string{
	"id", "email", "password_hash", "name", "phone", "role", "is_active",
	"email_verified", "created_at", "updated_at", "deleted_at",
}

func newRepoWithMock(t *testing.T) (Repository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})

	return NewRepository(sqlx.NewDb(db, "pgx")), mock
}

func TestRepository_Create(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	u := &User{
		ID:           "user-1",
		Email:        "tenant@example.com",
		PasswordHash: "$argon2id$hash",
		Name:         "Tenant",
		Role:         "tenant",
	}

	mock.ExpectQuery(`INSERT\s+INTO\s+users`).
		WithArgs("user-1", "tenant@example.com", "$argon2id$hash", "Tenant", "", "tenant").
		WillReturnRows(sqlmock.NewRows(
			[]string{"is_active", "email_verified", "created_at", "updated_at"},
		).AddRow(true, false, now, now))

	require.NoError(t, repo.Create(context.Background(), u))
	assert.True(t, u.IsActive)
	assert.True(t, u.CreatedAt.Equal(now))
}

func TestRepository_CreateDuplicate(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`INSERT\s+INTO\s+users`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), &User{ID: "user-1"})
	require.ErrorIs(t, err, core.ErrDuplicateKey)
	assert.NotErrorIs(t, err, core.ErrStorage)
}

func TestRepository_GetByEmail(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM\s+users\s+WHERE\s+email\s+=\s+\$1\s+AND\s+deleted_at\s+IS\s+NULL`).
		WithArgs("landlord@example.com").
		WillReturnRows(sqlmock.NewRows(userColumnNames).AddRow(
			"user-2", "landlord@example.com", "hash", "Landlord", "+15550100",
			"landlord", true, true, now, now, nil,
		))

	u, err := repo.GetByEmail(context.Background(), "landlord@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user-2", u.ID)
	assert.Equal(t, "landlord", u.Role)
	assert.Nil(t, u.DeletedAt)
}

func TestRepository_GetByIDErrors(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`WHERE\s+id\s+=\s+\$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`WHERE\s+id\s+=\s+\$1`).
		WithArgs("user-1").
		WillReturnError(errors.New("connection reset"))

	_, err := repo.GetByID(context.Background(), "missing")
	require.ErrorIs(t, err, core.ErrNotFound)

	_, err = repo.GetByID(context.Background(), "user-1")
	require.ErrorIs(t, err, core.ErrStorage)
}

func TestRepository_SetActive(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`UPDATE\s+users\s+SET\s+is_active`).
		WithArgs("user-1", false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE\s+users\s+SET\s+is_active`).
		WithArgs("gone", false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.SetActive(context.Background(), "user-1", false))
	require.ErrorIs(t, repo.SetActive(context.Background(), "gone", false), core.ErrNotFound)
}

func TestRepository_List(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	active := true

	mock.ExpectQuery(`SELECT\s+COUNT\(\*\)\s+FROM\s+users\s+WHERE\s+deleted_at\s+IS\s+NULL\s+AND\s+\(email\s+ILIKE\s+\$1`).
		WithArgs(`%50\%\_off%`, "landlord", true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(21))
	mock.ExpectQuery(`ORDER\s+BY\s+created_at\s+DESC\s+LIMIT\s+\$4\s+OFFSET\s+\$5`).
		WithArgs(`%50\%\_off%`, "landlord", true, 20, 20).
		WillReturnRows(sqlmock.NewRows(userColumnNames).AddRow(
			"user-9", "promo@example.com", "hash", "50%_off", "",
			"landlord", true, false, now, now, nil,
		))

	users, total, err := repo.List(context.Background(), ListUsersParams{
		Page:   2,
		Search: "50%_off",
		Role:   "landlord",
		Active: &active,
	})
	require.NoError(t, err)
	assert.Equal(t, 21, total)
	require.Len(t, users, 1)
	assert.Equal(t, "user-9", users[0].ID)
}

func TestRepository_CountByRole(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`GROUP\s+BY\s+role`).
		WillReturnRows(sqlmock.NewRows([]string{"role", "count"}).
			AddRow("tenant", 12).
			AddRow("landlord", 3))

	counts, err := repo.CountByRole(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"tenant": 12, "landlord": 3}, counts)
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `50\%\_off\\`, escapeLike(`50%_off\`))
}
