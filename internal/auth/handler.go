// AngelaMos | 2026
// handler.go

package auth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/carterperez-dev/rentals/backend/internal/core"
	"github.com/carterperez-dev/rentals/backend/internal/middleware"
)

type Handler struct {
	service   *Service
	cookie    *core.RefreshCookie
	validator *validator.Validate
	now       func() time.Time
}

func NewHandler(service *Service, cookie *core.RefreshCookie) *Handler {
	return &Handler{
		service:   service,
		cookie:    cookie,
		validator: validator.New(validator.WithRequiredStructEnabled()),
		now:       time.Now,
	}
}

// RegisterRoutes mounts /auth. Logout sits behind optional auth so a client
// holding an expired access token can still end its session.
func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator func(http.Handler) http.Handler,
	optional func(http.Handler) http.Handler,
) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/register", h.Register)
		r.Post("/refresh-token", h.Refresh)
		r.With(optional).Post("/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(authenticator)
			r.Get("/me", withCaller(h.GetMe))
			r.Post("/logout-all", withCaller(h.LogoutAll))
			r.Get("/sessions", withCaller(h.GetSessions))
			r.Delete("/sessions/{sessionID}", withCaller(h.RevokeSession))
			r.Post("/change-password", withCaller(h.ChangePassword))
		})
	})
}

// failure maps a sentinel to the response a client sees for it.
type failure struct {
	target  error
	status  int
	code    string
	message string
}

// refreshFailures are the rejections of a presented refresh token. The
// refresh endpoint clears the cookie on any of them except a lost rotation
// race, where the cookie already holds the winner's token.
var refreshFailures = []failure{
	{ErrTokenReuse, http.StatusForbidden, "TOKEN_REUSE_DETECTED", "refresh token has already been used"},
	{core.ErrTokenExpired, http.StatusForbidden, "TOKEN_EXPIRED", "refresh token has expired"},
	{ErrAccountInactive, http.StatusForbidden, "ACCOUNT_INACTIVE", "account is inactive"},
	{core.ErrTokenRevoked, http.StatusForbidden, "TOKEN_REVOKED", "refresh token has been revoked"},
	{core.ErrTokenInvalid, http.StatusForbidden, "INVALID_TOKEN", "refresh token is invalid"},
}

var loginFailures = []failure{
	{ErrInvalidCredentials, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid email or password"},
	{ErrAccountInactive, http.StatusForbidden, "ACCOUNT_INACTIVE", "account is inactive"},
	{ErrRoleMismatch, http.StatusForbidden, "USER_TYPE_MISMATCH", "account is registered under a different user type"},
}

var registerFailures = []failure{
	{ErrEmailExists, http.StatusConflict, "DUPLICATE", "email already exists"},
	{core.ErrInvalidInput, http.StatusBadRequest, "BAD_REQUEST", "invalid user type"},
}

var sessionFailures = []failure{
	{core.ErrNotFound, http.StatusNotFound, "NOT_FOUND", "session not found"},
	{core.ErrForbidden, http.StatusForbidden, "FORBIDDEN", "cannot revoke another user's session"},
}

var passwordFailures = []failure{
	{ErrInvalidCredentials, http.StatusUnauthorized, "UNAUTHENTICATED", "current password is incorrect"},
}

var meFailures = []failure{
	{core.ErrNotFound, http.StatusNotFound, "NOT_FOUND", "user not found"},
}

// lookup returns the first failure matching err, or nil when err is
// unexpected.
func lookup(err error, table []failure) *core.AppError {
	for _, f := range table {
		if errors.Is(err, f.target) {
			return core.NewAppError(err, f.message, f.status, f.code)
		}
	}
	return nil
}

// fail writes the mapped failure or a 500.
func fail(w http.ResponseWriter, err error, table []failure) {
	if appErr := lookup(err, table); appErr != nil {
		core.JSONError(w, appErr)
		return
	}
	core.InternalServerError(w, err)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.bind(w, r, &req) {
		return
	}

	session, err := h.service.Login(r.Context(), req, clientMeta(r))
	if err != nil {
		fail(w, err, loginFailures)
		return
	}

	h.cookie.Set(w, session.Tokens.RefreshToken)
	core.OK(w, toAuthResponse(session, h.now()))
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.bind(w, r, &req) {
		return
	}

	session, err := h.service.Register(r.Context(), req, clientMeta(r))
	if err != nil {
		fail(w, err, registerFailures)
		return
	}

	h.cookie.Set(w, session.Tokens.RefreshToken)
	core.Created(w, toAuthResponse(session, h.now()))
}

// Refresh rotates the presented refresh token. The cookie wins over the
// body so browsers never need to expose the token to script.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	token, err := h.presentedToken(r)
	if err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}
	if token == "" {
		core.BadRequest(w, "refresh token required")
		return
	}

	session, err := h.service.Refresh(r.Context(), token, clientMeta(r))
	if err != nil {
		if appErr := lookup(err, refreshFailures); appErr != nil {
			if !errors.Is(err, core.ErrTokenRotated) {
				h.cookie.Clear(w)
			}
			core.JSONError(w, appErr)
			return
		}
		core.InternalServerError(w, err)
		return
	}

	h.cookie.Set(w, session.Tokens.RefreshToken)
	w.Header().Set(middleware.HeaderNewRefreshToken, session.Tokens.RefreshToken)
	core.OK(w, RefreshResponse{Tokens: toTokenResponse(session.Tokens, h.now())})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	//nolint:errcheck // the body is optional on logout
	token, _ := h.presentedToken(r)

	err := h.service.Logout(r.Context(), token, middleware.GetPrincipal(r.Context()), clientMeta(r))
	if err != nil {
		fail(w, err, []failure{{
			core.ErrForbidden, http.StatusForbidden, "FORBIDDEN", "cannot revoke another user's token",
		}})
		return
	}

	h.cookie.Clear(w)
	core.OK(w, map[string]bool{"success": true})
}

func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request, userID string) {
	revoked, err := h.service.LogoutAll(r.Context(), userID, clientMeta(r))
	if err != nil {
		core.InternalServerError(w, err)
		return
	}

	h.cookie.Clear(w)
	core.OK(w, LogoutAllResponse{Revoked: revoked})
}

func (h *Handler) GetSessions(w http.ResponseWriter, r *http.Request, userID string) {
	sessions, err := h.service.GetActiveSessions(r.Context(), userID)
	if err != nil {
		core.InternalServerError(w, err)
		return
	}

	core.OK(w, SessionsResponse{Sessions: sessions})
}

func (h *Handler) RevokeSession(w http.ResponseWriter, r *http.Request, userID string) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		core.BadRequest(w, "session ID required")
		return
	}

	if err := h.service.RevokeSession(r.Context(), userID, sessionID, clientMeta(r)); err != nil {
		fail(w, err, sessionFailures)
		return
	}

	core.NoContent(w)
}

// ChangePassword ends every session, including the caller's, once the new
// password is stored.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request, userID string) {
	var req ChangePasswordRequest
	if !h.bind(w, r, &req) {
		return
	}

	err := h.service.ChangePassword(r.Context(), userID,
		req.CurrentPassword, req.NewPassword, clientMeta(r))
	if err != nil {
		fail(w, err, passwordFailures)
		return
	}

	h.cookie.Clear(w)
	core.NoContent(w)
}

func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request, userID string) {
	user, err := h.service.GetCurrentUser(r.Context(), userID)
	if err != nil {
		fail(w, err, meFailures)
		return
	}

	core.OK(w, user)
}

// withCaller adapts a handler that needs the authenticated user id.
// Requests that reach it without one get a 401.
func withCaller(
	fn func(http.ResponseWriter, *http.Request, string),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.GetUserID(r.Context())
		if userID == "" {
			core.Unauthorized(w, "")
			return
		}
		fn(w, r, userID)
	}
}

// bind decodes and validates a JSON body, answering 400 itself on failure.
func (h *Handler) bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		core.BadRequest(w, "invalid request body")
		return false
	}

	if err := h.validator.Struct(dst); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return false
	}

	return true
}

// presentedToken reads the refresh token from the cookie, then from an
// optional JSON body.
func (h *Handler) presentedToken(r *http.Request) (string, error) {
	if token := h.cookie.Read(r); token != "" {
		return token, nil
	}

	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return req.RefreshToken, nil
}

func clientMeta(r *http.Request) ClientMeta {
	return ClientMeta{
		IPAddress: middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}
