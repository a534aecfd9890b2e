package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"formgate/internal/logger"
	"formgate/pkg/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestResolveClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{
			name:    "cloudflare header wins",
			headers: map[string]string{"CF-Connecting-IP": "198.51.100.1", "X-Forwarded-For": "203.0.113.5"},
			remote:  "10.0.0.1:5555",
			want:    "198.51.100.1",
		},
		{
			name:    "forwarded for first token",
			headers: map[string]string{"X-Forwarded-For": " 203.0.113.5 , 10.0.0.2"},
			remote:  "10.0.0.1:5555",
			want:    "203.0.113.5",
		},
		{
			name:    "client ip header",
			headers: map[string]string{"Client-IP": "192.0.2.7"},
			remote:  "10.0.0.1:5555",
			want:    "192.0.2.7",
		},
		{
			name:   "connection address",
			remote: "[2001:db8::1]:443",
			want:   "2001:db8::1",
		},
		{
			name: "nothing known",
			want: "0.0.0.0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ResolveClientIP(r))
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(RequestIDMiddleware(), ClientIPMiddleware())

	var ctxID, ctxIP string
	router.GET("/", func(c *gin.Context) {
		ctxID = logging.GetRequestID(c.Request.Context())
		ctxIP = logging.GetClientIP(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	t.Run("propagates incoming id", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(RequestIDHeader, "abc-123")
		r.Header.Set("X-Forwarded-For", "203.0.113.5")
		router.ServeHTTP(w, r)

		assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
		assert.Equal(t, "abc-123", ctxID)
		assert.Equal(t, "203.0.113.5", ctxIP)
	})

	t.Run("mints uuid", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Len(t, w.Header().Get(RequestIDHeader), 36)
		assert.Equal(t, w.Header().Get(RequestIDHeader), ctxID)
	})
}

func TestRecoveryAndLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := logger.NewWithCore(core)

	router := gin.New()
	router.Use(RequestIDMiddleware(), LoggerMiddleware(log), RecoveryMiddleware(log))
	router.GET("/boom", func(*gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal server error","error_code":"INTERNAL_ERROR"}`, w.Body.String())

	require.Equal(t, 1, logs.FilterMessage("Panic recovered").Len())
	entries := logs.FilterMessage("HTTP Request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(500), entries[0].ContextMap()["status"])
	assert.NotEmpty(t, entries[0].ContextMap()["request_id"])
}
