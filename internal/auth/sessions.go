// AngelaMos | 2026
// sessions.go

package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/carterperez-dev/rentals/backend/internal/core"
	"github.com/carterperez-dev/rentals/backend/internal/middleware"
)

// Logout revokes the presented refresh token and blacklists the access
// token in use, when there is one. Unknown refresh tokens are ignored.
func (s *Service) Logout(
	ctx context.Context,
	refreshToken string,
	principal *middleware.Principal,
	meta ClientMeta,
) error {
	if principal != nil {
		s.blacklistAccessToken(ctx, principal)
	}

	if refreshToken == "" {
		return nil
	}

	record, err := s.store.FindByToken(ctx, refreshToken)
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}

	if principal != nil && record.UserID != principal.ID {
		return fmt.Errorf("logout: %w", core.ErrForbidden)
	}

	_, err = s.store.Revoke(ctx, record.ID, RevokeOptions{ByIP: meta.IPAddress})
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("logout: %w", err)
	}

	return nil
}

func (s *Service) blacklistAccessToken(ctx context.Context, p *middleware.Principal) {
	if s.blacklist == nil || p.TokenID == "" {
		return
	}

	if err := s.blacklist.Add(ctx, p.TokenID, p.TokenExpiresAt); err != nil {
		s.logger.WarnContext(ctx, "access token not blacklisted",
			"user_id", p.ID,
			"error", err,
		)
	}
}

// LogoutAll revokes every active refresh token of the user and reports how
// many there were.
func (s *Service) LogoutAll(
	ctx context.Context,
	userID string,
	meta ClientMeta,
) (int64, error) {
	revoked, err := s.store.RevokeAllForUser(ctx, userID, meta.IPAddress)
	if err != nil {
		return 0, fmt.Errorf("logout all: %w", err)
	}

	s.logger.InfoContext(ctx, "all sessions revoked",
		"user_id", userID,
		"revoked", revoked,
	)

	return revoked, nil
}

func (s *Service) GetActiveSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	tokens, err := s.store.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sessions := make([]SessionInfo, len(tokens))
	for i, t := range tokens {
		sessions[i] = SessionInfo{
			ID:        t.ID,
			UserAgent: t.UserAgent,
			IPAddress: t.CreatedByIP,
			CreatedAt: t.CreatedAt,
			ExpiresAt: t.ExpiresAt,
		}
	}

	return sessions, nil
}

// RevokeSession ends one of the caller's own sessions.
func (s *Service) RevokeSession(
	ctx context.Context,
	userID, sessionID string,
	meta ClientMeta,
) error {
	if _, err := s.ownedSession(ctx, userID, sessionID); err != nil {
		return err
	}

	if _, err := s.store.Revoke(ctx, sessionID, RevokeOptions{ByIP: meta.IPAddress}); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}

	return nil
}

func (s *Service) ownedSession(ctx context.Context, userID, sessionID string) (*RefreshToken, error) {
	token, err := s.store.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if token.UserID != userID {
		return nil, fmt.Errorf("session %s: %w", sessionID, core.ErrForbidden)
	}
	return token, nil
}
