// AngelaMos | 2026
// auth.go

package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/carterperez-dev/rentals/backend/internal/core"
)

const (
	HeaderNewToken        = "X-New-Token"
	HeaderTokenExpiresAt  = "X-Token-Expires-At"
	HeaderNewRefreshToken = "X-New-Refresh-Token"

	DefaultRenewThreshold = 5 * time.Minute
)

type AccessTokenClaims struct {
	TokenID   string
	UserID    string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenVerifier checks access tokens. A token that is expired but otherwise
// valid must come back with its claims alongside core.ErrTokenExpired.
type TokenVerifier interface {
	VerifyAccessToken(
		ctx context.Context,
		token string,
	) (*AccessTokenClaims, error)
	RenewAccessToken(
		ctx context.Context,
		claims *AccessTokenClaims,
	) (string, time.Time, error)
}

type ClientInfo struct {
	IPAddress string
	UserAgent string
}

type RefreshedSession struct {
	Claims          *AccessTokenClaims
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
}

// SessionRefresher rotates refreshToken, which must belong to userID.
type SessionRefresher interface {
	RefreshSession(
		ctx context.Context,
		refreshToken, userID string,
		client ClientInfo,
	) (*RefreshedSession, error)
}

type PrincipalLoader interface {
	LoadPrincipal(ctx context.Context, userID string) (*Principal, error)
}

type RevocationChecker interface {
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// AuthConfig wires the authenticator. Principals, Revocations, Refresher
// and Cookie are optional; without Refresher or Cookie an expired access
// token is simply rejected.
type AuthConfig struct {
	Verifier       TokenVerifier
	Refresher      SessionRefresher
	Principals     PrincipalLoader
	Revocations    RevocationChecker
	Cookie         *core.RefreshCookie
	RenewThreshold time.Duration
	Now            func() time.Time
	Logger         *slog.Logger
}

func (c AuthConfig) withDefaults() AuthConfig {
	if c.RenewThreshold <= 0 {
		c.RenewThreshold = DefaultRenewThreshold
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

type authenticator struct {
	cfg AuthConfig
}

// Authenticator rejects requests without a usable access token. A token
// close to expiry is renewed through X-New-Token. An expired token triggers
// a full refresh from the refresh cookie.
func Authenticator(cfg AuthConfig) func(http.Handler) http.Handler {
	a := &authenticator{cfg: cfg.withDefaults()}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := a.authenticate(w, r)
			if err != nil {
				if core.IsAppError(err) {
					core.JSONError(w, err)
					return
				}
				core.InternalServerError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func (a *authenticator) authenticate(
	w http.ResponseWriter,
	r *http.Request,
) (*Principal, error) {
	ctx := r.Context()

	token := ExtractToken(r)
	if token == "" {
		return nil, core.UnauthorizedError("missing authorization token")
	}

	claims, err := a.cfg.Verifier.VerifyAccessToken(ctx, token)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrTokenExpired):
		return a.refresh(w, r, claims)
	default:
		return nil, core.TokenInvalidError()
	}

	if a.revoked(ctx, claims) {
		return nil, core.TokenRevokedError()
	}

	principal, err := a.loadPrincipal(ctx, claims)
	if err != nil {
		return nil, err
	}

	if claims.ExpiresAt.Sub(a.cfg.Now()) < a.cfg.RenewThreshold {
		a.renew(w, r, claims)
	}

	return principal, nil
}

func (a *authenticator) renew(
	w http.ResponseWriter,
	r *http.Request,
	claims *AccessTokenClaims,
) {
	token, expiresAt, err := a.cfg.Verifier.RenewAccessToken(r.Context(), claims)
	if err != nil {
		a.cfg.Logger.WarnContext(r.Context(), "access token renewal failed",
			"user_id", claims.UserID,
			"error", err,
		)
		return
	}

	w.Header().Set(HeaderNewToken, token)
	w.Header().Set(HeaderTokenExpiresAt, expiresAt.UTC().Format(time.RFC3339))
}

// refresh rotates the cookie's refresh token on behalf of the subject of
// the expired access token. Once rotation succeeds the new tokens are
// written to the response whatever happens next; the old refresh token is
// already spent.
func (a *authenticator) refresh(
	w http.ResponseWriter,
	r *http.Request,
	expired *AccessTokenClaims,
) (*Principal, error) {
	ctx := r.Context()

	var refreshToken string
	if a.cfg.Cookie != nil {
		refreshToken = a.cfg.Cookie.Read(r)
	}

	if refreshToken == "" || a.cfg.Refresher == nil || expired == nil {
		a.clearCookie(w)
		return nil, core.TokenExpiredError()
	}

	session, err := a.cfg.Refresher.RefreshSession(ctx, refreshToken, expired.UserID, ClientInfo{
		IPAddress: ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		return nil, a.refreshRejected(ctx, w, refreshToken, err)
	}

	h := w.Header()
	h.Set(HeaderNewToken, session.AccessToken)
	h.Set(HeaderTokenExpiresAt, session.AccessExpiresAt.UTC().Format(time.RFC3339))
	h.Set(HeaderNewRefreshToken, session.RefreshToken)
	a.cfg.Cookie.Set(w, session.RefreshToken)

	principal, err := a.loadPrincipal(ctx, session.Claims)
	if err != nil {
		return nil, err
	}

	a.cfg.Logger.DebugContext(ctx, "session refreshed in middleware",
		"user_id", principal.ID,
	)

	return principal, nil
}

// refreshRejected maps a failed transparent refresh to the client error.
// The cookie is cleared only when the refresh token itself is dead.
func (a *authenticator) refreshRejected(
	ctx context.Context,
	w http.ResponseWriter,
	refreshToken string,
	err error,
) error {
	if errors.Is(err, core.ErrStorage) {
		return err
	}

	a.cfg.Logger.InfoContext(ctx, "transparent refresh rejected",
		"token", core.TokenFingerprint(refreshToken),
		"error", err,
	)

	switch {
	case errors.Is(err, core.ErrSubjectMismatch):
		return core.TokenInvalidError()
	case errors.Is(err, core.ErrTokenRotated):
		return core.UnauthorizedError("session was refreshed by another request, please retry")
	}

	a.clearCookie(w)
	return core.UnauthorizedError("session expired, please log in again")
}

// revoked fails open: blacklisted tokens are short-lived and a Redis outage
// must not lock every user out.
func (a *authenticator) revoked(
	ctx context.Context,
	claims *AccessTokenClaims,
) bool {
	if a.cfg.Revocations == nil {
		return false
	}

	revoked, err := a.cfg.Revocations.IsAccessTokenRevoked(ctx, claims.TokenID)
	if err != nil {
		a.cfg.Logger.WarnContext(ctx, "token blacklist unavailable",
			"error", err,
		)
		return false
	}

	return revoked
}

func (a *authenticator) loadPrincipal(
	ctx context.Context,
	claims *AccessTokenClaims,
) (*Principal, error) {
	principal := &Principal{
		ID:     claims.UserID,
		Role:   claims.Role,
		Active: true,
	}

	if a.cfg.Principals != nil {
		loaded, err := a.cfg.Principals.LoadPrincipal(ctx, claims.UserID)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				return nil, core.TokenInvalidError()
			}
			return nil, err
		}
		principal = loaded
	}

	if !principal.Active {
		return nil, core.NewAppError(
			core.ErrForbidden,
			"account is inactive",
			http.StatusForbidden,
			"ACCOUNT_INACTIVE",
		)
	}

	principal.TokenID = claims.TokenID
	principal.TokenExpiresAt = claims.ExpiresAt

	return principal, nil
}

func (a *authenticator) clearCookie(w http.ResponseWriter) {
	if a.cfg.Cookie != nil {
		a.cfg.Cookie.Clear(w)
	}
}

// OptionalAuth attaches a principal when a valid, unrevoked access token is
// present. It never refreshes and never rejects.
func OptionalAuth(cfg AuthConfig) func(http.Handler) http.Handler {
	a := &authenticator{cfg: cfg.withDefaults()}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			claims, err := a.cfg.Verifier.VerifyAccessToken(ctx, token)
			if err != nil || a.revoked(ctx, claims) {
				next.ServeHTTP(w, r)
				return
			}

			principal, err := a.loadPrincipal(ctx, claims)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, principal)))
		})
	}
}

// RequireRole must run after Authenticator.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	roleSet := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		roleSet[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userRole := GetUserRole(r.Context())

			if userRole == "" {
				core.JSONError(
					w,
					core.UnauthorizedError("authentication required"),
				)
				return
			}

			if _, ok := roleSet[userRole]; !ok {
				core.JSONError(
					w,
					core.ForbiddenError("insufficient permissions"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func RequireAdmin(next http.Handler) http.Handler {
	return RequireRole("admin")(next)
}

func ExtractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
