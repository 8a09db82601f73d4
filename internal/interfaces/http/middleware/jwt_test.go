package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/erp/orderboard/internal/domain/order"
	"github.com/erp/orderboard/internal/infrastructure/auth"
	"github.com/erp/orderboard/internal/infrastructure/config"
	"github.com/erp/orderboard/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJWT() *auth.JWTService {
	return auth.NewJWTService(config.JWTConfig{Secret: "middleware-test-secret-32-characters", Issuer: "orderboard"})
}

func jwtRouter(cfg JWTMiddlewareConfig) *gin.Engine {
	r := gin.New()
	r.Use(JWTAuthMiddlewareWithConfig(cfg))
	handler := func(c *gin.Context) {
		v, ok := GetViewer(c)
		c.JSON(http.StatusOK, gin.H{"ok": ok, "viewer": v, "token": GetToken(c), "claims": GetJWTClaims(c) != nil})
	}
	r.GET("/api/v1/sessions", handler)
	r.GET("/health", handler)
	return r
}

func TestJWTAuthMiddleware(t *testing.T) {
	svc := newTestJWT()
	viewer := order.Viewer{ID: "U7", DisplayName: "Ravi", Role: "Sales", ScopeMode: order.ScopeModeTeam}
	token, _, err := svc.GenerateToken(viewer, time.Hour)
	require.NoError(t, err)

	r := jwtRouter(DefaultJWTConfig(svc))

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
		req.Header.Set(AuthHeaderKey, BearerPrefix+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			OK     bool         `json:"ok"`
			Viewer order.Viewer `json:"viewer"`
			Token  string       `json:"token"`
			Claims bool         `json:"claims"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.True(t, body.OK)
		assert.True(t, body.Claims)
		assert.Equal(t, "U7", body.Viewer.ID)
		assert.Equal(t, order.ScopeModeTeam, body.Viewer.ScopeMode)
		assert.Equal(t, token, body.Token)
	})

	t.Run("skip path", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	tests := []struct {
		name   string
		header string
		code   string
	}{
		{"missing header", "", dto.ErrCodeUnauthorized},
		{"wrong scheme", "Basic abc", dto.ErrCodeTokenInvalid},
		{"garbage token", BearerPrefix + "nope", dto.ErrCodeTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
			if tt.header != "" {
				req.Header.Set(AuthHeaderKey, tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			var resp dto.Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}

	t.Run("expired token", func(t *testing.T) {
		expired, _, err := svc.GenerateToken(viewer, -time.Minute)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
		req.Header.Set(AuthHeaderKey, BearerPrefix+expired)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), dto.ErrCodeTokenExpired)
	})
}

func TestJWTAuthMiddleware_QueryToken(t *testing.T) {
	svc := newTestJWT()
	token, _, err := svc.GenerateToken(order.Viewer{ID: "U1", Role: "Sales"}, time.Hour)
	require.NoError(t, err)

	cfg := DefaultJWTConfig(svc)
	withQuery := jwtRouter(JWTMiddlewareConfig{JWTService: svc, QueryParam: "access_token"})
	withoutQuery := jwtRouter(cfg)

	w := httptest.NewRecorder()
	withQuery.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sessions?access_token="+token, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	withoutQuery.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sessions?access_token="+token, nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
