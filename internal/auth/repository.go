// AngelaMos | 2026
// repository.go

package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/carterperez-dev/rentals/backend/internal/core"
)

type RevokeOptions struct {
	ReplacedBy string
	ByIP       string
}

// Repository is the refresh token store. Revoke is idempotent: revoking an
// already revoked record succeeds and reports changed == false.
type Repository interface {
	Create(ctx context.Context, token *RefreshToken) error
	FindByToken(ctx context.Context, token string) (*RefreshToken, error)
	FindByTokenForUpdate(
		ctx context.Context,
		token string,
	) (*RefreshToken, error)
	FindByID(ctx context.Context, id string) (*RefreshToken, error)
	Revoke(
		ctx context.Context,
		id string,
		opts RevokeOptions,
	) (changed bool, err error)
	RevokeDescendants(ctx context.Context, token, byIP string) (int64, error)
	RevokeAllForUser(ctx context.Context, userID, byIP string) (int64, error)
	FindActiveByUser(ctx context.Context, userID string) ([]RefreshToken, error)
}

// Transactor runs fn against a Repository bound to a single transaction.
type Transactor interface {
	Repository
	WithinTx(ctx context.Context, fn func(repo Repository) error) error
}

const refreshTokenColumns = `
			id, user_id, token, expires_at, revoked, revoked_at, revoked_by_ip,
			replaced_by_token, created_at, created_by_ip, user_agent`

type repository struct {
	db core.DBTX
}

func NewRepository(db core.DBTX) Repository {
	return &repository{db: db}
}

// Store is the Postgres-backed Transactor.
type Store struct {
	Repository
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{
		Repository: NewRepository(db),
		db:         db,
	}
}

func (s *Store) WithinTx(
	ctx context.Context,
	fn func(repo Repository) error,
) error {
	return core.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		return fn(NewRepository(tx))
	})
}

func (r *repository) Create(ctx context.Context, token *RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (
			id, user_id, token, expires_at, created_by_ip, user_agent
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
		RETURNING created_at`

	err := r.db.GetContext(ctx, &token.CreatedAt, query,
		token.ID,
		token.UserID,
		token.Token,
		token.ExpiresAt,
		token.CreatedByIP,
		token.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("create refresh token: %w: %w", core.ErrStorage, err)
	}

	return nil
}

func (r *repository) FindByToken(
	ctx context.Context,
	token string,
) (*RefreshToken, error) {
	query := `
		SELECT` + refreshTokenColumns + `
		FROM refresh_tokens
		WHERE token = $1`

	return r.findOne(ctx, query, token)
}

func (r *repository) FindByTokenForUpdate(
	ctx context.Context,
	token string,
) (*RefreshToken, error) {
	query := `
		SELECT` + refreshTokenColumns + `
		FROM refresh_tokens
		WHERE token = $1
		FOR UPDATE`

	return r.findOne(ctx, query, token)
}

func (r *repository) FindByID(
	ctx context.Context,
	id string,
) (*RefreshToken, error) {
	query := `
		SELECT` + refreshTokenColumns + `
		FROM refresh_tokens
		WHERE id = $1`

	return r.findOne(ctx, query, id)
}

func (r *repository) findOne(
	ctx context.Context,
	query string,
	arg string,
) (*RefreshToken, error) {
	var row refreshTokenRow
	err := r.db.GetContext(ctx, &row, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find refresh token: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find refresh token: %w: %w", core.ErrStorage, err)
	}

	return row.toRefreshToken(), nil
}

func (r *repository) Revoke(
	ctx context.Context,
	id string,
	opts RevokeOptions,
) (bool, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE,
			revoked_at = NOW(),
			revoked_by_ip = NULLIF($2, ''),
			replaced_by_token = NULLIF($3, '')
		WHERE id = $1 AND revoked = FALSE`

	result, err := r.db.ExecContext(ctx, query, id, opts.ByIP, opts.ReplacedBy)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w: %w", core.ErrStorage, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w: %w", core.ErrStorage, err)
	}

	if rows > 0 {
		return true, nil
	}

	var exists bool
	err = r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM refresh_tokens WHERE id = $1)`, id)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w: %w", core.ErrStorage, err)
	}

	if !exists {
		return false, fmt.Errorf("revoke refresh token: %w", core.ErrNotFound)
	}

	return false, nil
}

// RevokeDescendants revokes every record reachable from token through the
// replaced_by_token chain.
func (r *repository) RevokeDescendants(
	ctx context.Context,
	token, byIP string,
) (int64, error) {
	query := `
		WITH RECURSIVE chain AS (
			SELECT id, replaced_by_token
			FROM refresh_tokens
			WHERE token = $1
			UNION
			SELECT rt.id, rt.replaced_by_token
			FROM refresh_tokens rt
			JOIN chain c ON rt.token = c.replaced_by_token
		)
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = NOW(), revoked_by_ip = NULLIF($2, '')
		WHERE id IN (SELECT id FROM chain) AND revoked = FALSE`

	result, err := r.db.ExecContext(ctx, query, token, byIP)
	if err != nil {
		return 0, fmt.Errorf("revoke token chain: %w: %w", core.ErrStorage, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke token chain: %w: %w", core.ErrStorage, err)
	}

	return rows, nil
}

func (r *repository) RevokeAllForUser(
	ctx context.Context,
	userID, byIP string,
) (int64, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = NOW(), revoked_by_ip = NULLIF($2, '')
		WHERE user_id = $1 AND revoked = FALSE`

	result, err := r.db.ExecContext(ctx, query, userID, byIP)
	if err != nil {
		return 0, fmt.Errorf("revoke all user tokens: %w: %w", core.ErrStorage, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke all user tokens: %w: %w", core.ErrStorage, err)
	}

	return rows, nil
}

func (r *repository) FindActiveByUser(
	ctx context.Context,
	userID string,
) ([]RefreshToken, error) {
	query := `
		SELECT` + refreshTokenColumns + `
		FROM refresh_tokens
		WHERE user_id = $1
			AND revoked = FALSE
			AND expires_at > NOW()
		ORDER BY created_at DESC`

	var rows []refreshTokenRow
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("find active tokens: %w: %w", core.ErrStorage, err)
	}

	tokens := make([]RefreshToken, 0, len(rows))
	for _, row := range rows {
		tokens = append(tokens, *row.toRefreshToken())
	}

	return tokens, nil
}
