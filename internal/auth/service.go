// AngelaMos | 2026
// service.go

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/carterperez-dev/rentals/backend/internal/core"
	"github.com/carterperez-dev/rentals/backend/internal/middleware"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenReuse         = errors.New("token reuse detected")
	ErrEmailExists        = errors.New("email already exists")
	ErrAccountInactive    = errors.New("account inactive")
	ErrRoleMismatch       = errors.New("user type does not match account")

	// ErrTokenRecentlyRotated is a reuse inside the grace period. It still
	// matches ErrTokenReuse.
	ErrTokenRecentlyRotated = fmt.Errorf("%w: %w", ErrTokenReuse, core.ErrTokenRotated)
)

type UserInfo struct {
	ID            string
	Email         string
	Name          string
	PasswordHash  string
	Role          string
	IsActive      bool
	EmailVerified bool
	CreatedAt     time.Time
}

type UserProvider interface {
	GetByEmail(ctx context.Context, email string) (*UserInfo, error)
	GetByID(ctx context.Context, id string) (*UserInfo, error)
	Create(
		ctx context.Context,
		email, passwordHash, name, role string,
	) (*UserInfo, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}

// AccessTokenBlacklist holds access token IDs that were revoked before
// their natural expiry.
type AccessTokenBlacklist interface {
	Add(ctx context.Context, jti string, expiresAt time.Time) error
	Contains(ctx context.Context, jti string) (bool, error)
}

// Session is the result of a login, registration or rotation.
type Session struct {
	User   *UserInfo
	Tokens *TokenPair
}

type Service struct {
	store        Transactor
	jwt          *JWTManager
	issuer       *Issuer
	refresher    *Refresher
	userProvider UserProvider
	blacklist    AccessTokenBlacklist
	logger       *slog.Logger
}

type ServiceConfig struct {
	ReuseGracePeriod time.Duration
	Logger           *slog.Logger
}

func NewService(
	store Transactor,
	jwt *JWTManager,
	userProvider UserProvider,
	blacklist AccessTokenBlacklist,
	cfg ServiceConfig,
) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		store:        store,
		jwt:          jwt,
		issuer:       NewIssuer(jwt, store),
		refresher: NewRefresher(jwt, store, userProvider, RefresherConfig{
			ReuseGracePeriod: cfg.ReuseGracePeriod,
			Logger:           logger,
		}),
		userProvider: userProvider,
		blacklist:    blacklist,
		logger:       logger,
	}
}

// Login checks credentials and issues a new session. Unknown emails and
// wrong passwords are indistinguishable to the caller.
func (s *Service) Login(
	ctx context.Context,
	req LoginRequest,
	meta ClientMeta,
) (*Session, error) {
	user, err := s.authenticate(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}

	switch {
	case !user.IsActive:
		return nil, ErrAccountInactive
	case req.UserType != "" && req.UserType != user.Role:
		return nil, ErrRoleMismatch
	}

	tokens, err := s.issuer.Issue(ctx, user, meta)
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}

	s.logger.InfoContext(ctx, "user logged in",
		"user_id", user.ID,
		"session_id", tokens.SessionID,
		"ip_address", meta.IPAddress,
	)

	return &Session{User: user, Tokens: tokens}, nil
}

// authenticate spends the same hashing work for unknown emails, and
// upgrades an outdated hash after a successful match.
func (s *Service) authenticate(ctx context.Context, email, password string) (*UserInfo, error) {
	user, err := s.userProvider.GetByEmail(ctx, email)
	var stored *string
	switch {
	case err == nil:
		stored = &user.PasswordHash
	case !errors.Is(err, core.ErrNotFound):
		return nil, fmt.Errorf("get user: %w", err)
	}

	valid, upgraded, err := core.VerifyPasswordTimingSafe(password, stored)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !valid {
		return nil, ErrInvalidCredentials
	}

	if upgraded != "" {
		if err := s.userProvider.UpdatePassword(ctx, user.ID, upgraded); err != nil {
			s.logger.WarnContext(ctx, "password rehash not stored",
				"user_id", user.ID,
				"error", err,
			)
		}
	}

	return user, nil
}

func (s *Service) Register(
	ctx context.Context,
	req RegisterRequest,
	meta ClientMeta,
) (*Session, error) {
	role := req.UserType
	if role == "" {
		role = RoleTenant
	}

	// Admins are promoted, never self-registered.
	if role == RoleAdmin || !ValidRole(role) {
		return nil, fmt.Errorf("register: %w", core.ErrInvalidInput)
	}

	passwordHash, err := core.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.userProvider.Create(ctx, req.Email, passwordHash, req.Name, role)
	if err != nil {
		if errors.Is(err, core.ErrDuplicateKey) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	tokens, err := s.issuer.Issue(ctx, user, meta)
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}

	return &Session{User: user, Tokens: tokens}, nil
}

func (s *Service) Refresh(
	ctx context.Context,
	refreshToken string,
	meta ClientMeta,
) (*Session, error) {
	result, err := s.refresher.Refresh(ctx, refreshToken, meta)
	if err != nil {
		return nil, err
	}

	return &Session{User: result.User, Tokens: result.Tokens}, nil
}

// ChangePassword replaces the password and ends every session of the user.
func (s *Service) ChangePassword(
	ctx context.Context,
	userID, currentPassword, newPassword string,
	meta ClientMeta,
) error {
	user, err := s.userProvider.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}

	valid, err := core.VerifyPassword(currentPassword, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	if !valid {
		return ErrInvalidCredentials
	}

	hash, err := core.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.userProvider.UpdatePassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	_, err = s.LogoutAll(ctx, userID, meta)
	return err
}

func (s *Service) GetCurrentUser(
	ctx context.Context,
	userID string,
) (*UserResponse, error) {
	user, err := s.userProvider.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp := toUserResponse(user)
	return &resp, nil
}

// RefreshSession lets the request authenticator rotate a session when the
// access token has expired. The refresh token must belong to userID, the
// subject of that expired access token.
func (s *Service) RefreshSession(
	ctx context.Context,
	refreshToken, userID string,
	client middleware.ClientInfo,
) (*middleware.RefreshedSession, error) {
	result, err := s.refresher.RefreshFor(ctx, refreshToken, userID, ClientMeta{
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
	})
	if err != nil {
		return nil, err
	}

	pair := result.Tokens
	return &middleware.RefreshedSession{
		Claims: &middleware.AccessTokenClaims{
			TokenID:   pair.AccessTokenID,
			UserID:    result.User.ID,
			Role:      result.User.Role,
			IssuedAt:  pair.AccessIssuedAt,
			ExpiresAt: pair.AccessExpiresAt,
		},
		AccessToken:     pair.AccessToken,
		AccessExpiresAt: pair.AccessExpiresAt,
		RefreshToken:    pair.RefreshToken,
	}, nil
}

func (s *Service) IsAccessTokenRevoked(
	ctx context.Context,
	jti string,
) (bool, error) {
	if s.blacklist == nil {
		return false, nil
	}
	return s.blacklist.Contains(ctx, jti)
}
