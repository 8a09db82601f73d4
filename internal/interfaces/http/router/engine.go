package router

import (
	"github.com/erp/orderboard/internal/infrastructure/auth"
	"github.com/erp/orderboard/internal/infrastructure/config"
	"github.com/erp/orderboard/internal/infrastructure/logger"
	"github.com/erp/orderboard/internal/infrastructure/storage"
	"github.com/erp/orderboard/internal/interfaces/http/handler"
	"github.com/erp/orderboard/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Deps are the collaborators the engine is assembled from. Optional
// fields may be nil.
type Deps struct {
	Config     *config.Config
	Logger     *zap.Logger
	JWT        *auth.JWTService
	Dashboards *handler.DashboardHandler
	Streams    *handler.StreamHandler
	Health     *handler.HealthHandler

	// MemoryArchive, when set, is served under /exports
	MemoryArchive  *storage.MemoryArchive
	TracerProvider trace.TracerProvider
	Meter          metric.Meter
	OpenLimiter    *middleware.RateLimiter
}

// StreamQueryParam carries the access token on event stream requests
const StreamQueryParam = "access_token"

// New builds the HTTP engine
func New(d Deps) *gin.Engine {
	cfg := d.Config
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}

	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("invalid trusted proxies", zap.Error(err))
		}
	}

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	corsCfg.AllowMethods = cfg.HTTP.CORSAllowMethods
	corsCfg.AllowHeaders = cfg.HTTP.CORSAllowHeaders

	secureCfg := middleware.DefaultSecurityConfig()
	secureCfg.HSTSEnabled = cfg.IsProduction()

	engine.Use(
		middleware.RequestID(),
		logger.GinMiddleware(log),
		logger.Recovery(log),
		middleware.SecureWithConfig(secureCfg),
		middleware.CORSWithConfig(corsCfg),
		middleware.TracingWithConfig(middleware.TracingConfig{
			ServiceName:    cfg.Telemetry.ServiceName,
			Enabled:        cfg.Telemetry.Enabled,
			TracerProvider: d.TracerProvider,
		}),
		middleware.SpanErrorMarker(),
		middleware.HTTPMetricsWithMeter(d.Meter, cfg.Telemetry.Enabled),
		middleware.ProfilingWithConfig(middleware.ProfilingConfig{
			Enabled:   cfg.Telemetry.Profiling.Enabled,
			SkipPaths: []string{"/health", "/ready"},
		}),
		middleware.BodyLimit(cfg.HTTP.MaxBodySize),
	)

	if d.Health != nil {
		engine.GET("/health", d.Health.Health)
		engine.GET("/ready", d.Health.Ready)
	}
	if d.MemoryArchive != nil {
		engine.GET("/exports/*key", handler.MemoryDownload(d.MemoryArchive))
	}

	headerAuth := middleware.JWTAuthMiddlewareWithConfig(middleware.JWTMiddlewareConfig{
		JWTService: d.JWT,
		Logger:     log,
	})
	streamAuth := middleware.JWTAuthMiddlewareWithConfig(middleware.JWTMiddlewareConfig{
		JWTService: d.JWT,
		QueryParam: StreamQueryParam,
		Logger:     log,
	})

	r := NewRouter(engine)
	r.Register(dashboardRoutes(d.Dashboards, headerAuth))
	r.Register(sessionRoutes(d, headerAuth, streamAuth))
	r.Register(exportRoutes(d.Dashboards, headerAuth))
	r.Setup()
	return engine
}

func dashboardRoutes(h *handler.DashboardHandler, auth gin.HandlerFunc) *DomainGroup {
	return NewDomainGroup("dashboards", "/dashboards").
		Use(auth).
		GET("", h.ListDashboards)
}

func sessionRoutes(d Deps, headerAuth, streamAuth gin.HandlerFunc) *DomainGroup {
	h := d.Dashboards
	open := []gin.HandlerFunc{h.OpenSession}
	if d.OpenLimiter != nil {
		open = append([]gin.HandlerFunc{middleware.RateLimitByKey(d.OpenLimiter, middleware.ViewerKey)}, open...)
	}

	g := NewDomainGroup("sessions", "/sessions")
	g.Group("sessions", "").
		Use(headerAuth).
		POST("", open...).
		GET("", h.ListSessions).
		GET("/:id", h.GetSession).
		DELETE("/:id", h.CloseSession).
		GET("/:id/view", h.GetView).
		PUT("/:id/criteria", h.SetCriteria).
		PUT("/:id/search", h.SetSearch).
		POST("/:id/refresh", h.Refresh).
		POST("/:id/edits", h.ApplyEdit).
		GET("/:id/rollups", h.GetRollups).
		GET("/:id/export", h.Export).
		GET("/:id/notifications", h.Notifications)

	if d.Streams != nil {
		g.Group("stream", "").
			Use(streamAuth).
			GET("/:id/stream", d.Streams.Stream)
	}
	return g
}

func exportRoutes(h *handler.DashboardHandler, auth gin.HandlerFunc) *DomainGroup {
	return NewDomainGroup("exports", "/exports").
		Use(auth).
		GET("/link", h.ExportLink)
}
