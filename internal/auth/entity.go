// AngelaMos | 2026
// entity.go

package auth

import (
	"database/sql"
	"time"
)

const (
	RoleTenant   = "tenant"
	RoleLandlord = "landlord"
	RoleAdmin    = "admin"
)

// ValidRole reports whether role belongs to the closed set of user types.
func ValidRole(role string) bool {
	switch role {
	case RoleTenant, RoleLandlord, RoleAdmin:
		return true
	}
	return false
}

// RefreshToken is a persisted refresh token. Token holds the signed wire
// string, which is also the lookup key. A record is never un-revoked and
// ReplacedByToken is written at most once, by rotation.
type RefreshToken struct {
	ID              string
	UserID          string
	Token           string
	ExpiresAt       time.Time
	Revoked         bool
	RevokedAt       *time.Time
	RevokedByIP     string
	ReplacedByToken string
	CreatedAt       time.Time
	CreatedByIP     string
	UserAgent       string
}

func (t *RefreshToken) IsExpiredAt(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

func (t *RefreshToken) IsActiveAt(now time.Time) bool {
	return !t.Revoked && !t.IsExpiredAt(now)
}

// refreshTokenRow is the storage shape of a refresh_tokens row.
type refreshTokenRow struct {
	ID              string         `db:"id"`
	UserID          string         `db:"user_id"`
	Token           string         `db:"token"`
	ExpiresAt       time.Time      `db:"expires_at"`
	Revoked         bool           `db:"revoked"`
	RevokedAt       sql.NullTime   `db:"revoked_at"`
	RevokedByIP     sql.NullString `db:"revoked_by_ip"`
	ReplacedByToken sql.NullString `db:"replaced_by_token"`
	CreatedAt       time.Time      `db:"created_at"`
	CreatedByIP     string         `db:"created_by_ip"`
	UserAgent       string         `db:"user_agent"`
}

// toRefreshToken is the only place storage rows become domain records.
func (r refreshTokenRow) toRefreshToken() *RefreshToken {
	t := &RefreshToken{
		ID:              r.ID,
		UserID:          r.UserID,
		Token:           r.Token,
		ExpiresAt:       r.ExpiresAt,
		Revoked:         r.Revoked,
		RevokedByIP:     r.RevokedByIP.String,
		ReplacedByToken: r.ReplacedByToken.String,
		CreatedAt:       r.CreatedAt,
		CreatedByIP:     r.CreatedByIP,
		UserAgent:       r.UserAgent,
	}
	if r.RevokedAt.Valid {
		revokedAt := r.RevokedAt.Time
		t.RevokedAt = &revokedAt
	}
	return t
}
