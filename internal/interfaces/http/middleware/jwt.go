package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/erp/orderboard/internal/domain/order"
	"github.com/erp/orderboard/internal/infrastructure/auth"
	"github.com/erp/orderboard/internal/infrastructure/logger"
	"github.com/erp/orderboard/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// JWT context keys
const (
	JWTClaimsKey  = "jwt_claims"
	JWTViewerKey  = "jwt_viewer"
	JWTTokenKey   = "jwt_token"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
)

// JWTMiddlewareConfig holds configuration for JWT middleware
type JWTMiddlewareConfig struct {
	// JWTService is required for token validation
	JWTService *auth.JWTService
	// SkipPaths are paths that don't require authentication
	SkipPaths []string
	// QueryParam, when set, is read for the token if the Authorization
	// header is absent. Browsers cannot set headers on event streams.
	QueryParam string
	// Logger for middleware logging
	Logger *zap.Logger
}

// DefaultJWTConfig returns default JWT middleware configuration
func DefaultJWTConfig(jwtService *auth.JWTService) JWTMiddlewareConfig {
	return JWTMiddlewareConfig{
		JWTService: jwtService,
		SkipPaths: []string{
			"/health",
			"/ready",
		},
	}
}

// JWTAuthMiddleware creates JWT authentication middleware
func JWTAuthMiddleware(jwtService *auth.JWTService) gin.HandlerFunc {
	return JWTAuthMiddlewareWithConfig(DefaultJWTConfig(jwtService))
}

// JWTAuthMiddlewareWithConfig validates the bearer token and stores the
// viewer and the raw token for the handlers. The raw token is forwarded to
// the order service on every fetch.
func JWTAuthMiddlewareWithConfig(cfg JWTMiddlewareConfig) gin.HandlerFunc {
	log := logger.OrNop(cfg.Logger)
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		tokenString, err := extractToken(c, cfg.QueryParam)
		if err != nil {
			handleAuthError(c, log, err)
			return
		}

		claims, err := cfg.JWTService.ValidateAccessToken(tokenString)
		if err != nil {
			handleAuthError(c, log, err)
			return
		}

		viewer := claims.Viewer()
		c.Set(JWTClaimsKey, claims)
		c.Set(JWTViewerKey, viewer)
		c.Set(JWTTokenKey, tokenString)
		c.Set(logger.GinUserIDKey, viewer.ID)

		ctx := c.Request.Context()
		ctx, _ = logger.WithUserID(ctx, logger.FromContext(ctx), viewer.ID)
		c.Request = c.Request.WithContext(ctx)

		log.Debug("JWT authentication successful",
			zap.String("user_id", viewer.ID),
			zap.String("role", viewer.Role),
			zap.String("scope_mode", string(viewer.ScopeMode)),
		)
		c.Next()
	}
}

var errMissingToken = errors.New("missing bearer token")

func extractToken(c *gin.Context, queryParam string) (string, error) {
	header := c.GetHeader(AuthHeaderKey)
	if header == "" {
		if queryParam != "" {
			if token := c.Query(queryParam); token != "" {
				return token, nil
			}
		}
		return "", errMissingToken
	}
	if !strings.HasPrefix(header, BearerPrefix) {
		return "", auth.ErrInvalidToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, BearerPrefix))
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}

// handleAuthError aborts with 401 and a code describing the failure
func handleAuthError(c *gin.Context, log *zap.Logger, err error) {
	log.Warn("JWT authentication failed",
		zap.Error(err),
		zap.String("path", c.Request.URL.Path),
	)

	code, message := dto.ErrCodeUnauthorized, "Authentication required"
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		code, message = dto.ErrCodeTokenExpired, "Token has expired"
	case errors.Is(err, auth.ErrTokenNotYetValid):
		code, message = dto.ErrCodeTokenInvalid, "Token is not yet valid"
	case errors.Is(err, errMissingToken):
	default:
		code, message = dto.ErrCodeTokenInvalid, "Invalid token"
	}

	c.AbortWithStatusJSON(http.StatusUnauthorized,
		dto.NewErrorResponseWithRequestID(code, message, c.GetString(logger.GinRequestIDKey)))
}

// GetJWTClaims retrieves JWT claims from gin.Context
func GetJWTClaims(c *gin.Context) *auth.Claims {
	if claims, exists := c.Get(JWTClaimsKey); exists {
		if jwtClaims, ok := claims.(*auth.Claims); ok {
			return jwtClaims
		}
	}
	return nil
}

// GetViewer returns the authenticated viewer
func GetViewer(c *gin.Context) (order.Viewer, bool) {
	v, exists := c.Get(JWTViewerKey)
	if !exists {
		return order.Viewer{}, false
	}
	viewer, ok := v.(order.Viewer)
	return viewer, ok
}

// GetToken returns the raw bearer token of the request
func GetToken(c *gin.Context) string {
	return c.GetString(JWTTokenKey)
}
