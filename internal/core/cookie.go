// AngelaMos | 2026
// cookie.go

package core

import (
	"net/http"
	"time"

	"github.com/carterperez-dev/rentals/backend/internal/config"
)

// RefreshCookie writes, reads and clears the http-only refresh token cookie.
type RefreshCookie struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
	MaxAge   time.Duration
}

// NewRefreshCookie is secure with SameSite=None in production and
// SameSite=Lax everywhere else.
func NewRefreshCookie(
	cfg config.CookieConfig,
	ttl time.Duration,
	production bool,
) *RefreshCookie {
	sameSite := http.SameSiteLaxMode
	if production {
		sameSite = http.SameSiteNoneMode
	}

	path := cfg.Path
	if path == "" {
		path = "/"
	}

	return &RefreshCookie{
		Name:     cfg.Name,
		Path:     path,
		Domain:   cfg.Domain,
		Secure:   production,
		SameSite: sameSite,
		MaxAge:   ttl,
	}
}

func (c *RefreshCookie) Set(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    token,
		Path:     c.Path,
		Domain:   c.Domain,
		MaxAge:   int(c.MaxAge / time.Second),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	})
}

func (c *RefreshCookie) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     c.Path,
		Domain:   c.Domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	})
}

func (c *RefreshCookie) Read(r *http.Request) string {
	cookie, err := r.Cookie(c.Name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
