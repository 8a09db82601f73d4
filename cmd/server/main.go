package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erp/orderboard/internal/application/dashboard"
	"github.com/erp/orderboard/internal/application/datascope"
	"github.com/erp/orderboard/internal/application/display"
	"github.com/erp/orderboard/internal/infrastructure/auth"
	"github.com/erp/orderboard/internal/infrastructure/config"
	"github.com/erp/orderboard/internal/infrastructure/event"
	"github.com/erp/orderboard/internal/infrastructure/logger"
	"github.com/erp/orderboard/internal/infrastructure/persistence"
	"github.com/erp/orderboard/internal/infrastructure/push"
	"github.com/erp/orderboard/internal/infrastructure/storage"
	"github.com/erp/orderboard/internal/infrastructure/telemetry"
	"github.com/erp/orderboard/internal/infrastructure/upstream"
	"github.com/erp/orderboard/internal/interfaces/http/handler"
	"github.com/erp/orderboard/internal/interfaces/http/middleware"
	"github.com/erp/orderboard/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	baseLog, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	ctx := context.Background()
	providers, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    cfg.App.Version,
		Insecure:          cfg.Telemetry.Insecure,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ExportInterval:    cfg.Telemetry.ExportInterval,
		LogsEnabled:       cfg.Telemetry.LogsEnabled,
		Profiling: telemetry.ProfilerConfig{
			Enabled:           cfg.Telemetry.Profiling.Enabled,
			ServerAddress:     cfg.Telemetry.Profiling.ServerAddress,
			ApplicationName:   cfg.Telemetry.ServiceName,
			BasicAuthUser:     cfg.Telemetry.Profiling.BasicAuthUser,
			BasicAuthPassword: cfg.Telemetry.Profiling.BasicAuthPassword,
			ProfileGoroutines: cfg.Telemetry.Profiling.ProfileGoroutines,
			ProfileAllocs:     cfg.Telemetry.Profiling.ProfileAllocs,
		},
	}, baseLog)
	if err != nil {
		baseLog.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	log := providers.BridgeLogger(baseLog, zapcore.InfoLevel)
	defer func() { _ = log.Sync() }()

	log.Info("Starting orderboard",
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", cfg.App.Version),
	)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	loc, err := time.LoadLocation(cfg.Dashboard.Location)
	if err != nil {
		log.Fatal("Invalid dashboard location", zap.Error(err))
	}

	fetcher, err := upstream.NewClient(upstream.Config{
		BaseURL:    cfg.Upstream.BaseURL,
		OrdersPath: cfg.Upstream.OrdersPath,
		Timeout:    cfg.Upstream.Timeout,
		Retry: upstream.RetryConfig{
			MaxAttempts:    cfg.Upstream.MaxAttempts,
			InitialBackoff: cfg.Upstream.InitialBackoff,
			MaxBackoff:     cfg.Upstream.MaxBackoff,
		},
	}, nil, log)
	if err != nil {
		log.Fatal("Failed to create order service client", zap.Error(err))
	}

	meter := providers.Meter("orderboard")
	cacheMetrics, err := telemetry.NewCacheMetrics(meter)
	if err != nil {
		log.Fatal("Failed to create cache metrics", zap.Error(err))
	}

	bus := event.NewInMemoryEventBus(log.Named("events"))
	if err := bus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}

	deps := dashboard.Deps{
		Fetcher:   fetcher,
		Bus:       bus,
		Resolver:  datascope.NewResolver(cfg.Dashboard.ElevatedRoles),
		Formatter: display.NewFormatter(display.ParseLocale(cfg.Dashboard.Locale), loc, cfg.Dashboard.DateLayout),
		Metrics:   cacheMetrics,
		Logger:    log.Named("dashboard"),
	}

	// Push channel
	var (
		redisClient *redis.Client
		publisher   *push.RedisPublisher
	)
	if cfg.Push.Enabled {
		redisClient, err = push.NewRedisClient(ctx, push.RedisConfig{
			Host:     cfg.Push.Host,
			Port:     cfg.Push.Port,
			Password: cfg.Push.Password,
			DB:       cfg.Push.DB,
			Channel:  cfg.Push.Channel,
		})
		if err != nil {
			log.Fatal("Failed to connect to push broker", zap.Error(err))
		}
		deps.Push = push.NewChannel(push.NewRedisDialer(redisClient, cfg.Push.Channel), push.Config{
			MaxReconnectAttempts: cfg.Push.MaxReconnectAttempts,
			InitialBackoff:       cfg.Push.InitialBackoff,
			MaxBackoff:           cfg.Push.MaxBackoff,
		}, log)
		publisher = push.NewRedisPublisher(redisClient, cfg.Push.Channel, log)
		log.Info("Push channel connected", zap.String("addr", cfg.Push.Address()), zap.String("channel", cfg.Push.Channel))
	} else {
		log.Warn("Push channel disabled, dashboards update on refresh only")
	}

	// Team directory
	var (
		db        *persistence.Database
		directory dashboard.TeamDirectory
	)
	if cfg.Database.Enabled {
		db, err = persistence.NewDatabase(&cfg.Database, log)
		if err != nil {
			log.Fatal("Failed to connect to database", zap.Error(err))
		}
		teams := persistence.NewGormTeamDirectory(db.DB)
		if !cfg.IsProduction() {
			if err := teams.Migrate(ctx); err != nil {
				log.Fatal("Failed to migrate team directory", zap.Error(err))
			}
		}
		directory = teams
		log.Info("Team directory connected")
	}

	manager := dashboard.NewManager(dashboard.Config{
		SearchDebounce:     cfg.Dashboard.SearchDebounce,
		AgingDays:          cfg.Dashboard.AgingDays,
		NotificationBuffer: cfg.Dashboard.NotificationBuffer,
		InboxSize:          cfg.Dashboard.InboxSize,
		RefreshTimeout:     cfg.Dashboard.RefreshTimeout,
		IdleTimeout:        cfg.Dashboard.SessionIdleTimeout,
		SweepInterval:      cfg.Dashboard.SessionSweepInterval,
	}, deps, directory)

	// Export archive
	var (
		archive       storage.Archive
		memoryArchive *storage.MemoryArchive
	)
	if cfg.Export.Enabled {
		s3Archive, err := storage.NewS3Archive(ctx, &cfg.Export, storage.WithLogger(log))
		if err != nil {
			log.Fatal("Failed to create export archive", zap.Error(err))
		}
		if err := s3Archive.EnsureBucket(ctx); err != nil {
			log.Fatal("Export bucket is not reachable", zap.String("bucket", s3Archive.Bucket()), zap.Error(err))
		}
		archive = s3Archive
	} else if !cfg.IsProduction() {
		memoryArchive = storage.NewMemoryArchive(cfg.HTTP.PublicBaseURL + "/exports")
		archive = memoryArchive
	}

	dashboardOpts := []handler.DashboardOption{handler.WithLocation(loc)}
	if publisher != nil {
		dashboardOpts = append(dashboardOpts, handler.WithEditPublisher(publisher))
	}
	if archive != nil {
		dashboardOpts = append(dashboardOpts, handler.WithExportArchive(archive, cfg.Export.Prefix))
	}
	dashboards := handler.NewDashboardHandler(manager, dashboardOpts...)
	streams := handler.NewStreamHandler(dashboards,
		handler.WithStreamLogger(log.Named("stream")),
		handler.WithStreamHeartbeat(cfg.HTTP.StreamHeartbeat),
		handler.WithStreamBuffer(cfg.HTTP.StreamWatchBuffer),
		handler.WithMaxStreams(cfg.HTTP.MaxStreams),
	)

	checks := map[string]handler.Pinger{}
	if db != nil {
		checks["database"] = db
	}
	if redisClient != nil {
		checks["push"] = redisPinger{client: redisClient}
	}

	var openLimiter *middleware.RateLimiter
	if cfg.HTTP.OpenRateLimit > 0 {
		openLimiter = middleware.NewRateLimiter(cfg.HTTP.OpenRateLimit, cfg.HTTP.OpenRateWindow)
		defer openLimiter.Stop()
	}

	engine := router.New(router.Deps{
		Config:         cfg,
		Logger:         log,
		JWT:            auth.NewJWTService(cfg.JWT),
		Dashboards:     dashboards,
		Streams:        streams,
		Health:         handler.NewHealthHandler(manager, checks),
		MemoryArchive:  memoryArchive,
		TracerProvider: otel.GetTracerProvider(),
		Meter:          meter,
		OpenLimiter:    openLimiter,
	})

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	// Closing sessions first ends their event streams so Shutdown does not
	// wait on them
	manager.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := bus.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping event bus", zap.Error(err))
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Error("Error closing push broker connection", zap.Error(err))
		}
	}
	if db != nil {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down telemetry", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return p.client.Ping(ctx).Err()
}
