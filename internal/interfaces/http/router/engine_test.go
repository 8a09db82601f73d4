package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/erp/orderboard/internal/application/dashboard"
	"github.com/erp/orderboard/internal/domain/order"
	"github.com/erp/orderboard/internal/infrastructure/auth"
	"github.com/erp/orderboard/internal/infrastructure/config"
	"github.com/erp/orderboard/internal/infrastructure/storage"
	"github.com/erp/orderboard/internal/interfaces/http/handler"
	"github.com/erp/orderboard/internal/interfaces/http/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticFetcher []string

func (f staticFetcher) FetchOrders(context.Context, string) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(f))
	for _, d := range f {
		out = append(out, json.RawMessage(d))
	}
	return out, nil
}

type engineEnv struct {
	deps    Deps
	jwt     *auth.JWTService
	manager *dashboard.Manager
}

func newEngineEnv(t *testing.T) *engineEnv {
	t.Helper()
	cfg := &config.Config{}
	cfg.App.Env = "test"
	cfg.HTTP.MaxBodySize = 1 << 10
	cfg.HTTP.CORSAllowOrigins = []string{"https://board.example.com"}
	cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	cfg.HTTP.CORSAllowHeaders = []string{"Content-Type", "Authorization"}
	cfg.JWT = config.JWTConfig{Secret: "router-test-secret-of-32-characters", Issuer: "orderboard"}

	manager := dashboard.NewManager(dashboard.Config{}, dashboard.Deps{
		Fetcher: staticFetcher{`{"_id":"A","createdBy":"U1","customername":"Acme"}`},
	}, nil)
	t.Cleanup(manager.CloseAll)

	archive := storage.NewMemoryArchive("http://localhost/exports")
	dashboards := handler.NewDashboardHandler(manager, handler.WithExportArchive(archive, "exports"))
	jwtService := auth.NewJWTService(cfg.JWT)

	return &engineEnv{
		jwt:     jwtService,
		manager: manager,
		deps: Deps{
			Config:        cfg,
			JWT:           jwtService,
			Dashboards:    dashboards,
			Streams:       handler.NewStreamHandler(dashboards),
			Health:        handler.NewHealthHandler(manager, nil),
			MemoryArchive: archive,
			OpenLimiter:   middleware.NewRateLimiter(2, time.Minute),
		},
	}
}

func (e *engineEnv) token(t *testing.T) string {
	t.Helper()
	token, _, err := e.jwt.GenerateToken(order.Viewer{ID: "U1", DisplayName: "Asha", Role: "Sales"}, time.Minute)
	require.NoError(t, err)
	return token
}

func TestNew_ProbesArePublic(t *testing.T) {
	env := newEngineEnv(t)
	t.Cleanup(env.deps.OpenLimiter.Stop)
	engine := New(env.deps)

	w := serve(engine, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	assert.Equal(t, http.StatusOK, serve(engine, http.MethodGet, "/ready").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(engine, http.MethodGet, "/api/v1/dashboards").Code)
}

func TestNew_SessionLifecycle(t *testing.T) {
	env := newEngineEnv(t)
	t.Cleanup(env.deps.OpenLimiter.Stop)
	engine := New(env.deps)
	token := env.token(t)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		return w
	}

	w := do(http.MethodGet, "/api/v1/dashboards", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(http.MethodPost, "/api/v1/sessions", `{"dashboard":"all"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var opened struct {
		Data struct {
			ID        string `json:"id"`
			CacheSize int    `json:"cache_size"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &opened))
	assert.Equal(t, 1, opened.Data.CacheSize)

	w = do(http.MethodGet, "/api/v1/sessions/"+opened.Data.ID+"/view", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(http.MethodGet, "/api/v1/sessions/"+opened.Data.ID+"/export?archive=true", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var stored struct {
		Data struct {
			Key string `json:"key"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stored))
	assert.Equal(t, http.StatusOK, serve(engine, http.MethodGet, "/exports/"+stored.Data.Key).Code)

	do(http.MethodPost, "/api/v1/sessions", `{"dashboard":"all"}`)
	w = do(http.MethodPost, "/api/v1/sessions", `{"dashboard":"all"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w = do(http.MethodPost, "/api/v1/sessions", `{"dashboard":"`+strings.Repeat("x", 2<<10)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestNew_StreamAcceptsQueryToken(t *testing.T) {
	env := newEngineEnv(t)
	t.Cleanup(env.deps.OpenLimiter.Stop)
	engine := New(env.deps)
	token := env.token(t)

	// A query token only authenticates the stream route
	w := serve(engine, http.MethodGet, "/api/v1/sessions/missing/view?"+StreamQueryParam+"="+token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(engine, http.MethodGet, "/api/v1/sessions/missing/stream?"+StreamQueryParam+"="+token)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(engine, http.MethodGet, "/api/v1/sessions/missing/stream")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
