// AngelaMos | 2026
// issuer.go

package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ClientMeta describes the client a session was issued to.
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

type TokenPair struct {
	SessionID        string
	AccessToken      string
	AccessTokenID    string
	AccessIssuedAt   time.Time
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Issuer mints an access/refresh pair and persists the refresh record.
type Issuer struct {
	jwt  *JWTManager
	repo Repository
}

func NewIssuer(jwt *JWTManager, repo Repository) *Issuer {
	return &Issuer{jwt: jwt, repo: repo}
}

// Issue performs exactly one store insert. A storage failure fails the
// whole call; there are no retries.
func (i *Issuer) Issue(
	ctx context.Context,
	user *UserInfo,
	meta ClientMeta,
) (*TokenPair, error) {
	return i.issueWith(ctx, i.repo, user, meta)
}

func (i *Issuer) issueWith(
	ctx context.Context,
	repo Repository,
	user *UserInfo,
	meta ClientMeta,
) (*TokenPair, error) {
	access, err := i.jwt.Issue(user.ID, KindAccess, user.Role, i.jwt.AccessTTL())
	if err != nil {
		return nil, fmt.Errorf("create access token: %w", err)
	}

	refresh, err := i.jwt.Issue(user.ID, KindRefresh, user.Role, i.jwt.RefreshTTL())
	if err != nil {
		return nil, fmt.Errorf("create refresh token: %w", err)
	}

	record := &RefreshToken{
		ID:          uuid.New().String(),
		UserID:      user.ID,
		Token:       refresh.Value,
		ExpiresAt:   refresh.Claims.ExpiresAt,
		CreatedByIP: meta.IPAddress,
		UserAgent:   meta.UserAgent,
	}

	if err := repo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &TokenPair{
		SessionID:        record.ID,
		AccessToken:      access.Value,
		AccessTokenID:    access.Claims.ID,
		AccessIssuedAt:   access.Claims.IssuedAt,
		AccessExpiresAt:  access.Claims.ExpiresAt,
		RefreshToken:     refresh.Value,
		RefreshExpiresAt: refresh.Claims.ExpiresAt,
	}, nil
}
