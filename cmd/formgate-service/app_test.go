package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"formgate/internal/config"
	"formgate/internal/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{Port: 0},
		RateLimit: config.RateLimitConfig{Store: "memory", Window: 5 * time.Minute, MaxHits: 5},
		Delivery:  config.DeliveryConfig{Type: "log"},
		CircuitBreaker: config.CircuitBreakerConfig{
			Enabled: true,
			Timeout: time.Second,
		},
		FloodGuard: config.FloodGuardConfig{Enabled: true, RPS: 100, Burst: 100},
		Sites: map[string]config.SiteConfig{
			"main": {
				SiteName:    "Example Studio",
				Recipient:   "owner@example.com",
				Fields:      []string{"name", "email", "message"},
				Required:    []string{"name", "email", "message"},
				EmailField:  "email",
				RedirectURL: "https://example.com/",
			},
		},
	}
}

func TestApp_InitializeAndServe(t *testing.T) {
	app := NewApp(testConfig(), logger.NopLogger())
	require.NoError(t, app.Initialize(context.Background()))
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })

	t.Run("health", func(t *testing.T) {
		w := httptest.NewRecorder()
		app.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "healthy", body["status"])
	})

	t.Run("metrics", func(t *testing.T) {
		w := httptest.NewRecorder()
		app.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("honeypot submission", func(t *testing.T) {
		form := url.Values{"name": {"Ana"}, "website": {"http://spam.example"}}
		r := httptest.NewRequest(http.MethodPost, "/api/v1/forms/main", strings.NewReader(form.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		r.Header.Set("User-Agent", "Mozilla/5.0")
		r.Header.Set("Accept", "application/json")
		w := httptest.NewRecorder()
		app.router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		assert.JSONEq(t, `{"success":false,"message":"invalid submission"}`, w.Body.String())
	})

	t.Run("unknown site", func(t *testing.T) {
		w := httptest.NewRecorder()
		app.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/forms/other", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestApp_RedisStoreRegistersHealth(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	cfg := testConfig()
	cfg.RateLimit.Store = "redis"
	cfg.Database.Redis = config.RedisConfig{Host: mr.Host(), Port: port}

	app := NewApp(cfg, logger.NopLogger())
	require.NoError(t, app.Initialize(context.Background()))
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })

	h := app.health.Check(context.Background())
	assert.Contains(t, h.Checks, "redis")
	assert.Contains(t, h.Checks, "rate_limit_store_breaker")
	assert.Equal(t, "healthy", string(h.Status))
}

func TestApp_UnknownStore(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Store = "etcd"

	app := NewApp(cfg, logger.NopLogger())
	err := app.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown rate limit store")
}

func TestApp_DeliveryChannel(t *testing.T) {
	t.Run("missing channel fails", func(t *testing.T) {
		cfg := testConfig()
		cfg.Delivery.Type = ""

		err := NewApp(cfg, logger.NopLogger()).Initialize(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown delivery type")
	})

	t.Run("log channel warns", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		app := NewApp(testConfig(), logger.NewWithCore(core))
		require.NoError(t, app.Initialize(context.Background()))
		t.Cleanup(func() { _ = app.Shutdown(context.Background()) })

		assert.Equal(t, 1, logs.FilterMessageSnippet("Delivery channel is log").Len())
	})
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	app := NewApp(testConfig(), logger.NopLogger())
	require.NoError(t, app.Initialize(context.Background()))
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })
	app.server.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
