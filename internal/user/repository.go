// AngelaMos | 2026
// repository.go

package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/carterperez-dev/rentals/backend/internal/core"
)

type Repository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, user *User) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SetActive(ctx context.Context, id string, active bool) error
	SoftDelete(ctx context.Context, id string) error
	List(ctx context.Context, params ListUsersParams) ([]User, int, error)
	CountByRole(ctx context.Context) (map[string]int, error)
}

const uniqueViolation = "23505"

const selectUsers = `
	SELECT id, email, password_hash, name, phone, role, is_active,
	       email_verified, created_at, updated_at, deleted_at
	FROM users`

const (
	insertUser = `
		INSERT INTO users (id, email, password_hash, name, phone, role)
		VALUES (:id, :email, :password_hash, :name, :phone, :role)
		RETURNING is_active, email_verified, created_at, updated_at`

	updateProfile = `
		UPDATE users
		SET name = :name, phone = :phone, role = :role, updated_at = NOW()
		WHERE id = :id AND deleted_at IS NULL
		RETURNING updated_at`

	updatePassword = `
		UPDATE users SET password_hash = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`

	updateActive = `
		UPDATE users SET is_active = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`

	softDelete = `
		UPDATE users SET deleted_at = NOW(), is_active = FALSE, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`
)

type repository struct {
	db core.DBTX
}

func NewRepository(db core.DBTX) Repository {
	return &repository{db: db}
}

// Create inserts the user and fills in the server-side defaults.
func (r *repository) Create(ctx context.Context, user *User) error {
	query, args, err := sqlx.BindNamed(sqlx.DOLLAR, insertUser, user)
	if err != nil {
		return fmt.Errorf("create user: bind: %w", err)
	}

	err = r.db.QueryRowxContext(ctx, query, args...).StructScan(user)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return fmt.Errorf("create user: %w", core.ErrDuplicateKey)
	default:
		return storageErr("create user", err)
	}
}

func (r *repository) GetByID(ctx context.Context, id string) (*User, error) {
	return r.first(ctx, "get user",
		selectUsers+` WHERE id = $1 AND deleted_at IS NULL`, id)
}

func (r *repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.first(ctx, "get user by email",
		selectUsers+` WHERE email = $1 AND deleted_at IS NULL`, email)
}

func (r *repository) first(ctx context.Context, op, query string, args ...any) (*User, error) {
	u := new(User)
	if err := r.db.GetContext(ctx, u, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, core.ErrNotFound)
		}
		return nil, storageErr(op, err)
	}
	return u, nil
}

func (r *repository) Update(ctx context.Context, user *User) error {
	query, args, err := sqlx.BindNamed(sqlx.DOLLAR, updateProfile, user)
	if err != nil {
		return fmt.Errorf("update user: bind: %w", err)
	}

	err = r.db.GetContext(ctx, &user.UpdatedAt, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update user: %w", core.ErrNotFound)
	}
	if err != nil {
		return storageErr("update user", err)
	}

	return nil
}

func (r *repository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.touch(ctx, "update password", updatePassword, id, passwordHash)
}

func (r *repository) SetActive(ctx context.Context, id string, active bool) error {
	return r.touch(ctx, "set active", updateActive, id, active)
}

func (r *repository) SoftDelete(ctx context.Context, id string) error {
	return r.touch(ctx, "delete user", softDelete, id)
}

// touch runs an update that must hit exactly one live user.
func (r *repository) touch(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storageErr(op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, core.ErrNotFound)
	}

	return nil
}

func (r *repository) List(ctx context.Context, params ListUsersParams) ([]User, int, error) {
	params.Normalize()

	f := filter{clauses: []string{"deleted_at IS NULL"}}
	if params.Search != "" {
		f.add("(email ILIKE ? OR name ILIKE ?)", "%"+escapeLike(params.Search)+"%")
	}
	if params.Role != "" {
		f.add("role = ?", params.Role)
	}
	if params.Active != nil {
		f.add("is_active = ?", *params.Active)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM users WHERE " + f.where()
	if err := r.db.GetContext(ctx, &total, countQuery, f.args...); err != nil {
		return nil, 0, storageErr("count users", err)
	}

	n := len(f.args)
	query := fmt.Sprintf("%s WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		selectUsers, f.where(), n+1, n+2)
	args := append(f.args, params.PageSize, params.Offset())

	var users []User
	if err := r.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, 0, storageErr("list users", err)
	}

	return users, total, nil
}

func (r *repository) CountByRole(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		Role  string `db:"role"`
		Count int    `db:"count"`
	}

	err := r.db.SelectContext(ctx, &rows, `
		SELECT role, COUNT(*) AS count
		FROM users
		WHERE deleted_at IS NULL
		GROUP BY role`)
	if err != nil {
		return nil, storageErr("count users by role", err)
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Role] = row.Count
	}

	return counts, nil
}

// filter accumulates WHERE clauses. Each ? in a clause binds to the same
// positional argument.
type filter struct {
	clauses []string
	args    []any
}

func (f *filter) add(clause string, arg any) {
	f.args = append(f.args, arg)
	placeholder := "$" + strconv.Itoa(len(f.args))
	f.clauses = append(f.clauses, strings.ReplaceAll(clause, "?", placeholder))
}

func (f *filter) where() string {
	return strings.Join(f.clauses, " AND ")
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, core.ErrStorage, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
