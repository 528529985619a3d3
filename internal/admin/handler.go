// AngelaMos | 2026
// handler.go

package admin

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"runtime"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/carterperez-dev/rentals/backend/internal/auth"
	"github.com/carterperez-dev/rentals/backend/internal/core"
	"github.com/carterperez-dev/rentals/backend/internal/health"
	"github.com/carterperez-dev/rentals/backend/internal/middleware"
)

// SessionAdmin inspects and ends the refresh sessions of any user.
type SessionAdmin interface {
	GetActiveSessions(ctx context.Context, userID string) ([]auth.SessionInfo, error)
	LogoutAll(ctx context.Context, userID string, meta auth.ClientMeta) (int64, error)
}

type Handler struct {
	cfg HandlerConfig
}

type HandlerConfig struct {
	Dependencies []health.Dependency
	DBStats      func() sql.DBStats
	RedisStats   func() *redis.PoolStats
	UserCounts   func(ctx context.Context) (map[string]int, error)
	Sessions     SessionAdmin
}

func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{cfg: cfg}
}

// RegisterRoutes mounts under /admin/overview and /admin/sessions so the
// user directory keeps /admin/users.
func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator, adminOnly func(http.Handler) http.Handler,
) {
	r.Group(func(r chi.Router) {
		r.Use(authenticator)
		r.Use(adminOnly)

		r.Get("/admin/overview", h.Overview)
		r.Get("/admin/sessions/{userID}", h.ListSessions)
		r.Delete("/admin/sessions/{userID}", h.ForceLogout)
	})
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Sessions == nil {
		core.InternalServerError(w, errors.New("session admin not configured"))
		return
	}

	sessions, err := h.cfg.Sessions.GetActiveSessions(
		r.Context(),
		chi.URLParam(r, "userID"),
	)
	if err != nil {
		core.InternalServerError(w, err)
		return
	}

	core.OK(w, auth.SessionsResponse{Sessions: sessions})
}

// ForceLogout revokes every refresh token of the target user. Access tokens
// already issued stay valid until they expire.
func (h *Handler) ForceLogout(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Sessions == nil {
		core.InternalServerError(w, errors.New("session admin not configured"))
		return
	}

	userID := chi.URLParam(r, "userID")

	revoked, err := h.cfg.Sessions.LogoutAll(r.Context(), userID, auth.ClientMeta{
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		core.InternalServerError(w, err)
		return
	}

	slog.InfoContext(r.Context(), "admin forced logout",
		"admin_id", middleware.GetUserID(r.Context()),
		"user_id", userID,
		"revoked", revoked,
	)

	core.OK(w, ForceLogoutResponse{UserID: userID, Revoked: revoked})
}

// Overview reports user counts, dependency reachability and pool usage in
// one response.
func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	out := OverviewResponse{
		Users:        UserCounts{ByRole: map[string]int{}},
		Dependencies: make([]DependencyStatus, 0, len(h.cfg.Dependencies)),
		Runtime:      readRuntime(),
	}

	if h.cfg.UserCounts != nil {
		counts, err := h.cfg.UserCounts(ctx)
		if err != nil {
			core.InternalServerError(w, err)
			return
		}
		for role, n := range counts {
			out.Users.ByRole[role] = n
			out.Users.Total += n
		}
	}

	for _, c := range health.Probe(ctx, h.cfg.Dependencies...) {
		out.Dependencies = append(out.Dependencies, DependencyStatus{
			Name:      c.Name,
			Reachable: c.Healthy,
			Latency:   c.Latency,
		})
	}

	if h.cfg.DBStats != nil {
		s := h.cfg.DBStats()
		out.Pools.Database = &PoolUsage{
			Open:   s.OpenConnections,
			InUse:  s.InUse,
			Idle:   s.Idle,
			Waits:  s.WaitCount,
			Waited: s.WaitDuration.String(),
		}
	}

	if h.cfg.RedisStats != nil {
		if s := h.cfg.RedisStats(); s != nil {
			out.Pools.Redis = &PoolUsage{
				Open:     int(s.TotalConns),
				Idle:     int(s.IdleConns),
				InUse:    int(s.TotalConns) - int(s.IdleConns),
				Timeouts: int64(s.Timeouts),
			}
		}
	}

	core.OK(w, out)
}

func readRuntime() RuntimeUsage {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return RuntimeUsage{
		GoVersion:  runtime.Version(),
		Goroutines: runtime.NumGoroutine(),
		HeapBytes:  mem.HeapAlloc,
		GCCycles:   mem.NumGC,
	}
}

type OverviewResponse struct {
	Users        UserCounts         `json:"users"`
	Dependencies []DependencyStatus `json:"dependencies"`
	Pools        Pools              `json:"pools"`
	Runtime      RuntimeUsage       `json:"runtime"`
}

type UserCounts struct {
	Total  int            `json:"total"`
	ByRole map[string]int `json:"byRole"`
}

type DependencyStatus struct {
	Name      string `json:"name"`
	Reachable bool   `json:"reachable"`
	Latency   string `json:"latency,omitempty"`
}

type Pools struct {
	Database *PoolUsage `json:"database,omitempty"`
	Redis    *PoolUsage `json:"redis,omitempty"`
}

type PoolUsage struct {
	Open     int    `json:"open"`
	InUse    int    `json:"inUse"`
	Idle     int    `json:"idle"`
	Waits    int64  `json:"waits,omitempty"`
	Waited   string `json:"waited,omitempty"`
	Timeouts int64  `json:"timeouts,omitempty"`
}

type RuntimeUsage struct {
	GoVersion  string `json:"goVersion"`
	Goroutines int    `json:"goroutines"`
	HeapBytes  uint64 `json:"heapBytes"`
	GCCycles   uint32 `json:"gcCycles"`
}

type ForceLogoutResponse struct {
	UserID  string `json:"userId"`
	Revoked int64  `json:"revoked"`
}
