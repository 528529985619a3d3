// AngelaMos | 2026
// service.go

package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/carterperez-dev/rentals/backend/internal/auth"
	"github.com/carterperez-dev/rentals/backend/internal/core"
	"github.com/carterperez-dev/rentals/backend/internal/middleware"
)

// SessionRevoker ends every refresh session of a user.
type SessionRevoker interface {
	RevokeAllForUser(ctx context.Context, userID, byIP string) (int64, error)
}

type Service struct {
	repo     Repository
	sessions SessionRevoker
}

func NewService(repo Repository, sessions SessionRevoker) *Service {
	return &Service{repo: repo, sessions: sessions}
}

func (s *Service) GetByID(ctx context.Context, id string) (*auth.UserInfo, error) {
	return userInfo(s.repo.GetByID(ctx, id))
}

func (s *Service) GetByEmail(ctx context.Context, email string) (*auth.UserInfo, error) {
	return userInfo(s.repo.GetByEmail(ctx, normalizeEmail(email)))
}

// Create registers an account. The email is stored lowercased so lookups
// are case-insensitive.
func (s *Service) Create(
	ctx context.Context,
	email, passwordHash, name, role string,
) (*auth.UserInfo, error) {
	if err := checkRole("create user", role); err != nil {
		return nil, err
	}

	u := &User{
		ID:           uuid.NewString(),
		Email:        normalizeEmail(email),
		PasswordHash: passwordHash,
		Name:         name,
		Role:         role,
	}

	return userInfo(u, s.repo.Create(ctx, u))
}

func (s *Service) UpdatePassword(
	ctx context.Context,
	userID, passwordHash string,
) error {
	return s.repo.UpdatePassword(ctx, userID, passwordHash)
}

// LoadPrincipal backs the request authenticator, so role and activation
// changes take effect on the next request.
func (s *Service) LoadPrincipal(
	ctx context.Context,
	userID string,
) (*middleware.Principal, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &middleware.Principal{
		ID:            user.ID,
		Email:         user.Email,
		Role:          user.Role,
		EmailVerified: user.EmailVerified,
		Active:        user.IsActive,
	}, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) UpdateUser(
	ctx context.Context,
	id string,
	req UpdateUserRequest,
) (*User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		user.Name = *req.Name
	}
	if req.Phone != nil {
		user.Phone = *req.Phone
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}

// UpdateUserRole changes the role and ends the user's sessions so no
// refresh token keeps minting tokens with the old role claim.
func (s *Service) UpdateUserRole(ctx context.Context, id, role string) (*User, error) {
	if err := checkRole("update role", role); err != nil {
		return nil, err
	}

	u, err := s.repo.GetByID(ctx, id)
	if err != nil || u.Role == role {
		return u, err
	}

	u.Role = role
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, err
	}

	s.revokeSessions(ctx, id, "role changed")
	return u, nil
}

func (s *Service) SetUserActive(
	ctx context.Context,
	id string,
	active bool,
) (*User, error) {
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return nil, err
	}

	if !active {
		s.revokeSessions(ctx, id, "account deactivated")
	}

	return s.repo.GetByID(ctx, id)
}

func (s *Service) DeleteUser(ctx context.Context, id string) error {
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return err
	}

	s.revokeSessions(ctx, id, "account deleted")
	return nil
}

func (s *Service) ListUsers(
	ctx context.Context,
	params ListUsersParams,
) ([]User, int, error) {
	return s.repo.List(ctx, params)
}

func (s *Service) CountByRole(ctx context.Context) (map[string]int, error) {
	return s.repo.CountByRole(ctx)
}

func (s *Service) GetMe(ctx context.Context, userID string) (*User, error) {
	if err := requireCaller("get me", userID); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, userID)
}

func (s *Service) UpdateMe(ctx context.Context, userID string, req UpdateUserRequest) (*User, error) {
	if err := requireCaller("update me", userID); err != nil {
		return nil, err
	}
	return s.UpdateUser(ctx, userID, req)
}

func (s *Service) DeleteMe(ctx context.Context, userID string) error {
	if err := requireCaller("delete me", userID); err != nil {
		return err
	}
	return s.DeleteUser(ctx, userID)
}

// CanDeleteUser allows self-deletion, and admins deleting non-admins.
func (s *Service) CanDeleteUser(ctx context.Context, requesterID, targetID string) error {
	if requesterID == targetID {
		return nil
	}

	requester, err := s.repo.GetByID(ctx, requesterID)
	if err != nil {
		return err
	}
	if !requester.IsAdmin() {
		return fmt.Errorf("delete user: %w", core.ErrForbidden)
	}

	target, err := s.repo.GetByID(ctx, targetID)
	if err != nil {
		return err
	}
	if target.IsAdmin() {
		return fmt.Errorf("delete user: admins cannot be deleted: %w", core.ErrForbidden)
	}

	return nil
}

func (s *Service) revokeSessions(ctx context.Context, userID, reason string) {
	if s.sessions == nil {
		return
	}

	revoked, err := s.sessions.RevokeAllForUser(ctx, userID, "")
	if err != nil {
		slog.ErrorContext(ctx, "failed to revoke sessions",
			"user_id", userID,
			"reason", reason,
			"error", err,
		)
		return
	}

	slog.InfoContext(ctx, "sessions revoked",
		"user_id", userID,
		"reason", reason,
		"revoked", revoked,
	)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func checkRole(op, role string) error {
	if auth.ValidRole(role) {
		return nil
	}
	return fmt.Errorf("%s: invalid role %q: %w", op, role, core.ErrInvalidInput)
}

func requireCaller(op, userID string) error {
	if userID == "" {
		return fmt.Errorf("%s: %w", op, core.ErrUnauthorized)
	}
	return nil
}

// userInfo projects a stored user onto the view the auth package needs,
// passing lookup errors through.
func userInfo(u *User, err error) (*auth.UserInfo, error) {
	if err != nil {
		return nil, err
	}

	return &auth.UserInfo{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		PasswordHash:  u.PasswordHash,
		Role:          u.Role,
		IsActive:      u.IsActive,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
	}, nil
}

var (
	_ auth.UserProvider          = (*Service)(nil)
	_ middleware.PrincipalLoader = (*Service)(nil)
)
