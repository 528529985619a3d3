// AngelaMos | 2026
// logger_test.go

package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/rentals/backend/internal/config"
)

func TestLogger_LevelFollowsStatus(t *testing.T) {
	tests := []struct {
		status    int
		wantLevel string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusUnauthorized, "WARN"},
		{http.StatusInternalServerError, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))

			h := RequestID(Logger(logger)(http.HandlerFunc(
				func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(tt.status)
				},
			)))

			req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
			req = req.WithContext(WithPrincipal(req.Context(), &Principal{ID: "user-1"}))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tt.wantLevel, entry["level"])
			assert.Equal(t, "/v1/auth/me", entry["path"])
			assert.Equal(t, float64(tt.status), entry["status"])
			assert.Equal(t, "user-1", entry["user_id"])
			assert.Equal(t, rec.Header().Get(HeaderRequestID), entry["request_id"])
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := serve(SecurityHeaders(true)(okHandler()))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))

	rec = serve(SecurityHeaders(false)(okHandler()))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestCORS_ExposesTokenHeaders(t *testing.T) {
	h := CORS(config.CORSConfig{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowedMethods:   []string{http.MethodGet},
		ExposedHeaders:   []string{HeaderNewToken, HeaderNewRefreshToken},
		AllowCredentials: true,
	})(okHandler())

	rec := serve(h, func(r *http.Request) {
		r.Header.Set("Origin", "http://localhost:3000")
	})

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), HeaderNewToken)
}
