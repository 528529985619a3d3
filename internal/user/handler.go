// AngelaMos | 2026
// handler.go

package user

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/carterperez-dev/rentals/backend/internal/core"
	"github.com/carterperez-dev/rentals/backend/internal/middleware"
)

type Handler struct {
	service   *Service
	validator *validator.Validate
}

func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator func(http.Handler) http.Handler,
) {
	r.Route("/users", func(r chi.Router) {
		r.Use(authenticator)

		r.Get("/me", h.GetMe)
		r.Put("/me", h.UpdateMe)
		r.Delete("/me", h.DeleteMe)
	})
}

// RegisterAdminRoutes mounts account management under /admin/users.
func (h *Handler) RegisterAdminRoutes(
	r chi.Router,
	authenticator, adminOnly func(http.Handler) http.Handler,
) {
	r.Route("/admin/users", func(r chi.Router) {
		r.Use(authenticator)
		r.Use(adminOnly)

		r.Get("/", h.ListUsers)
		r.Get("/{userID}", h.GetUser)
		r.Put("/{userID}", h.UpdateUser)
		r.Put("/{userID}/role", h.UpdateUserRole)
		r.Put("/{userID}/status", h.UpdateUserStatus)
		r.Delete("/{userID}", h.DeleteUser)
	})
}

func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	u, err := h.service.GetMe(r.Context(), middleware.GetUserID(r.Context()))
	h.respond(w, u, err)
}

func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req UpdateUserRequest
	if !h.decode(w, r, &req) {
		return
	}

	u, err := h.service.UpdateMe(r.Context(), middleware.GetUserID(r.Context()), req)
	h.respond(w, u, err)
}

func (h *Handler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	err := h.service.DeleteMe(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}

	core.NoContent(w)
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	params := ListUsersParams{
		Page:     queryInt(q.Get("page"), 1),
		PageSize: queryInt(q.Get("page_size"), 20),
		Search:   q.Get("search"),
		Role:     q.Get("role"),
	}
	if active, err := strconv.ParseBool(q.Get("active")); err == nil {
		params.Active = &active
	}
	params.Normalize()

	users, total, err := h.service.ListUsers(r.Context(), params)
	if err != nil {
		core.InternalServerError(w, err)
		return
	}

	core.Paginated(w, ToUserResponseList(users), params.Page, params.PageSize, total)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.service.GetUser(r.Context(), chi.URLParam(r, "userID"))
	h.respond(w, u, err)
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req UpdateUserRequest
	if !h.decode(w, r, &req) {
		return
	}

	u, err := h.service.UpdateUser(r.Context(), chi.URLParam(r, "userID"), req)
	h.respond(w, u, err)
}

// UpdateUserRole changes a role and ends the target's sessions. Admins
// cannot change their own role.
func (h *Handler) UpdateUserRole(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "userID")
	if target == middleware.GetUserID(r.Context()) {
		core.Forbidden(w, "cannot change your own role")
		return
	}

	var req UpdateUserRoleRequest
	if !h.decode(w, r, &req) {
		return
	}

	u, err := h.service.UpdateUserRole(r.Context(), target, req.Role)
	h.respond(w, u, err)
}

// UpdateUserStatus activates or deactivates an account. Deactivation ends
// every session of the user.
func (h *Handler) UpdateUserStatus(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "userID")
	if target == middleware.GetUserID(r.Context()) {
		core.Forbidden(w, "cannot change your own status")
		return
	}

	var req UpdateUserStatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	u, err := h.service.SetUserActive(r.Context(), target, *req.Active)
	h.respond(w, u, err)
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	target := chi.URLParam(r, "userID")

	if err := h.service.CanDeleteUser(ctx, middleware.GetUserID(ctx), target); err != nil {
		writeError(w, err)
		return
	}

	if err := h.service.DeleteUser(ctx, target); err != nil {
		writeError(w, err)
		return
	}

	core.NoContent(w)
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
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

func (h *Handler) respond(w http.ResponseWriter, u *User, err error) {
	if err != nil {
		writeError(w, err)
		return
	}

	core.OK(w, ToUserResponse(u))
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		core.NotFound(w, "user")
	case errors.Is(err, core.ErrForbidden):
		core.Forbidden(w, "insufficient permissions")
	case errors.Is(err, core.ErrUnauthorized):
		core.Unauthorized(w, "authentication required")
	case errors.Is(err, core.ErrInvalidInput):
		core.BadRequest(w, "invalid input")
	default:
		core.InternalServerError(w, err)
	}
}

func queryInt(raw string, fallback int) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
