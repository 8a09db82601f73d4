package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Upstream  UpstreamConfig
	Push      PushConfig
	Database  DatabaseConfig
	Dashboard DashboardConfig
	JWT       JWTConfig
	Export    ExportConfig
	Telemetry TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name    string
	Env     string
	Port    string
	Version string
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration // 0 keeps event streams open
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodySize       int64
	CORSAllowOrigins  []string
	CORSAllowMethods  []string
	CORSAllowHeaders  []string
	TrustedProxies    []string
	StreamHeartbeat   time.Duration
	ShutdownTimeout   time.Duration
	StreamWatchBuffer int
	MaxStreams        int
	OpenRateLimit     int // session opens per viewer per window; 0 disables
	OpenRateWindow    time.Duration
	PublicBaseURL     string
}

// UpstreamConfig holds the order service connection settings
type UpstreamConfig struct {
	BaseURL        string
	OrdersPath     string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// PushConfig holds the change feed settings
type PushConfig struct {
	Enabled              bool
	Host                 string
	Port                 int
	Password             string
	DB                   int
	Channel              string
	MaxReconnectAttempts int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
}

// DatabaseConfig holds the team directory database settings
type DatabaseConfig struct {
	Enabled         bool
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
	LogLevel        string
	SlowThreshold   time.Duration
	TraceEnabled    bool
}

// DashboardConfig holds session and view settings
type DashboardConfig struct {
	SearchDebounce     time.Duration
	AgingDays          int
	ElevatedRoles      []string
	Location           string
	Locale             string
	DateLayout         string
	NotificationBuffer int
	InboxSize          int
	RefreshTimeout     time.Duration
	// SessionIdleTimeout closes unwatched sessions left untouched this long;
	// negative disables expiry
	SessionIdleTimeout   time.Duration
	SessionSweepInterval time.Duration
}

// JWTConfig holds JWT settings
type JWTConfig struct {
	Secret string
	Issuer string
}

// ExportConfig holds the report archive settings
type ExportConfig struct {
	Enabled         bool
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	PresignExpiry   time.Duration
	UsePathStyle    bool
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string  // e.g. "localhost:4317"
	SamplingRatio     float64 // 0.0-1.0
	ServiceName       string
	Insecure          bool
	ExportInterval    time.Duration
	LogsEnabled       bool
	Profiling         ProfilingConfig
}

// ProfilingConfig holds continuous profiling settings
type ProfilingConfig struct {
	Enabled           bool
	ServerAddress     string
	BasicAuthUser     string
	BasicAuthPassword string
	ProfileGoroutines bool
	ProfileAllocs     bool
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with ORDERBOARD_ prefix (e.g., ORDERBOARD_UPSTREAM_BASE_URL)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("ORDERBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name:    v.GetString("app.name"),
			Env:     v.GetString("app.env"),
			Port:    v.GetString("app.port"),
			Version: v.GetString("app.version"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:       v.GetDuration("http.read_timeout"),
			WriteTimeout:      v.GetDuration("http.write_timeout"),
			IdleTimeout:       v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:    v.GetInt("http.max_header_bytes"),
			MaxBodySize:       v.GetInt64("http.max_body_size"),
			CORSAllowOrigins:  v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods:  v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders:  v.GetStringSlice("http.cors_allow_headers"),
			TrustedProxies:    v.GetStringSlice("http.trusted_proxies"),
			StreamHeartbeat:   v.GetDuration("http.stream_heartbeat"),
			ShutdownTimeout:   v.GetDuration("http.shutdown_timeout"),
			StreamWatchBuffer: v.GetInt("http.stream_watch_buffer"),
			MaxStreams:        v.GetInt("http.max_streams"),
			OpenRateLimit:     v.GetInt("http.open_rate_limit"),
			OpenRateWindow:    v.GetDuration("http.open_rate_window"),
			PublicBaseURL:     v.GetString("http.public_base_url"),
		},
		Upstream: UpstreamConfig{
			BaseURL:        v.GetString("upstream.base_url"),
			OrdersPath:     v.GetString("upstream.orders_path"),
			Timeout:        v.GetDuration("upstream.timeout"),
			MaxAttempts:    v.GetInt("upstream.max_attempts"),
			InitialBackoff: v.GetDuration("upstream.initial_backoff"),
			MaxBackoff:     v.GetDuration("upstream.max_backoff"),
		},
		Push: PushConfig{
			Enabled:              v.GetBool("push.enabled"),
			Host:                 v.GetString("push.host"),
			Port:                 v.GetInt("push.port"),
			Password:             v.GetString("push.password"),
			DB:                   v.GetInt("push.db"),
			Channel:              v.GetString("push.channel"),
			MaxReconnectAttempts: v.GetInt("push.max_reconnect_attempts"),
			InitialBackoff:       v.GetDuration("push.initial_backoff"),
			MaxBackoff:           v.GetDuration("push.max_backoff"),
		},
		Database: DatabaseConfig{
			Enabled:         v.GetBool("database.enabled"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
			LogLevel:        v.GetString("database.log_level"),
			SlowThreshold:   v.GetDuration("database.slow_threshold"),
			TraceEnabled:    v.GetBool("database.trace_enabled"),
		},
		Dashboard: DashboardConfig{
			SearchDebounce:     v.GetDuration("dashboard.search_debounce"),
			AgingDays:          v.GetInt("dashboard.aging_days"),
			ElevatedRoles:      v.GetStringSlice("dashboard.elevated_roles"),
			Location:           v.GetString("dashboard.location"),
			Locale:             v.GetString("dashboard.locale"),
			DateLayout:         v.GetString("dashboard.date_layout"),
			NotificationBuffer: v.GetInt("dashboard.notification_buffer"),
			InboxSize:          v.GetInt("dashboard.inbox_size"),
			RefreshTimeout:     v.GetDuration("dashboard.refresh_timeout"),

			SessionIdleTimeout:   v.GetDuration("dashboard.session_idle_timeout"),
			SessionSweepInterval: v.GetDuration("dashboard.session_sweep_interval"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
			Issuer: v.GetString("jwt.issuer"),
		},
		Export: ExportConfig{
			Enabled:         v.GetBool("export.enabled"),
			Bucket:          v.GetString("export.bucket"),
			Region:          v.GetString("export.region"),
			Endpoint:        v.GetString("export.endpoint"),
			AccessKeyID:     v.GetString("export.access_key_id"),
			SecretAccessKey: v.GetString("export.secret_access_key"),
			Prefix:          v.GetString("export.prefix"),
			PresignExpiry:   v.GetDuration("export.presign_expiry"),
			UsePathStyle:    v.GetBool("export.use_path_style"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			ExportInterval:    v.GetDuration("telemetry.export_interval"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			Profiling: ProfilingConfig{
				Enabled:           v.GetBool("telemetry.profiling.enabled"),
				ServerAddress:     v.GetString("telemetry.profiling.server_address"),
				BasicAuthUser:     v.GetString("telemetry.profiling.basic_auth_user"),
				BasicAuthPassword: v.GetString("telemetry.profiling.basic_auth_password"),
				ProfileGoroutines: v.GetBool("telemetry.profiling.profile_goroutines"),
				ProfileAllocs:     v.GetBool("telemetry.profiling.profile_allocs"),
			},
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "orderboard"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.App.Version == "" {
		cfg.App.Version = "dev"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}

	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.OpenRateWindow == 0 {
		cfg.HTTP.OpenRateWindow = time.Minute
	}
	if cfg.HTTP.PublicBaseURL == "" {
		cfg.HTTP.PublicBaseURL = "http://localhost:" + cfg.App.Port
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB
	}
	// CORS origins have no wildcard fallback: cross-origin access must be configured.
	if len(cfg.HTTP.CORSAllowMethods) == 0 {
		cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}
	if len(cfg.HTTP.CORSAllowHeaders) == 0 {
		cfg.HTTP.CORSAllowHeaders = []string{"Content-Type", "Authorization", "X-Request-ID", "Last-Event-ID"}
	}
	if cfg.HTTP.StreamHeartbeat == 0 {
		cfg.HTTP.StreamHeartbeat = 25 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if cfg.HTTP.StreamWatchBuffer == 0 {
		cfg.HTTP.StreamWatchBuffer = 16
	}

	if cfg.Upstream.OrdersPath == "" {
		cfg.Upstream.OrdersPath = "/api/sales-orders"
	}
	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = 20 * time.Second
	}
	if cfg.Upstream.MaxAttempts == 0 {
		cfg.Upstream.MaxAttempts = 3
	}
	if cfg.Upstream.InitialBackoff == 0 {
		cfg.Upstream.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.Upstream.MaxBackoff == 0 {
		cfg.Upstream.MaxBackoff = 2 * time.Second
	}

	if cfg.Push.Host == "" {
		cfg.Push.Host = "localhost"
	}
	if cfg.Push.Port == 0 {
		cfg.Push.Port = 6379
	}
	if cfg.Push.Channel == "" {
		cfg.Push.Channel = "orderboard:orders:changes"
	}
	if cfg.Push.MaxReconnectAttempts == 0 {
		cfg.Push.MaxReconnectAttempts = 10
	}
	if cfg.Push.InitialBackoff == 0 {
		cfg.Push.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.Push.MaxBackoff == 0 {
		cfg.Push.MaxBackoff = 30 * time.Second
	}

	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "orderboard"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 2
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Database.LogLevel == "" {
		cfg.Database.LogLevel = "warn"
	}
	if cfg.Database.SlowThreshold == 0 {
		cfg.Database.SlowThreshold = 200 * time.Millisecond
	}

	if cfg.Dashboard.SearchDebounce == 0 {
		cfg.Dashboard.SearchDebounce = 300 * time.Millisecond
	}
	if cfg.Dashboard.AgingDays == 0 {
		cfg.Dashboard.AgingDays = 45
	}
	if len(cfg.Dashboard.ElevatedRoles) == 0 {
		cfg.Dashboard.ElevatedRoles = []string{"SuperAdmin", "GlobalAdmin", "Admin"}
	}
	if cfg.Dashboard.Location == "" {
		cfg.Dashboard.Location = "UTC"
	}
	if cfg.Dashboard.Locale == "" {
		cfg.Dashboard.Locale = "en"
	}
	if cfg.Dashboard.NotificationBuffer == 0 {
		cfg.Dashboard.NotificationBuffer = 32
	}
	if cfg.Dashboard.InboxSize == 0 {
		cfg.Dashboard.InboxSize = 256
	}
	if cfg.Dashboard.RefreshTimeout == 0 {
		cfg.Dashboard.RefreshTimeout = 30 * time.Second
	}
	if cfg.Dashboard.SessionIdleTimeout == 0 {
		cfg.Dashboard.SessionIdleTimeout = 30 * time.Minute
	}
	if cfg.Dashboard.SessionSweepInterval == 0 {
		cfg.Dashboard.SessionSweepInterval = time.Minute
	}

	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "orderboard"
	}

	if cfg.Export.Region == "" {
		cfg.Export.Region = "us-east-1"
	}
	if cfg.Export.Prefix == "" {
		cfg.Export.Prefix = "exports"
	}
	if cfg.Export.PresignExpiry == 0 {
		cfg.Export.PresignExpiry = 15 * time.Minute
	}

	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = 30 * time.Second
	}
	if cfg.Telemetry.Profiling.ServerAddress == "" {
		cfg.Telemetry.Profiling.ServerAddress = "http://localhost:4040"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if _, err := url.ParseRequestURI(c.Upstream.BaseURL); err != nil {
		return fmt.Errorf("upstream.base_url is invalid: %w", err)
	}
	if c.Upstream.MaxAttempts < 1 {
		return fmt.Errorf("upstream.max_attempts must be positive")
	}
	if c.Dashboard.SearchDebounce < 300*time.Millisecond {
		return fmt.Errorf("dashboard.search_debounce must be at least 300ms, got %s", c.Dashboard.SearchDebounce)
	}
	if c.Dashboard.AgingDays < 1 {
		return fmt.Errorf("dashboard.aging_days must be positive")
	}
	if _, err := time.LoadLocation(c.Dashboard.Location); err != nil {
		return fmt.Errorf("dashboard.location is invalid: %w", err)
	}
	if c.Dashboard.SessionIdleTimeout > 0 && c.Dashboard.SessionSweepInterval <= 0 {
		return fmt.Errorf("dashboard.session_sweep_interval must be positive")
	}

	if c.Database.Enabled {
		if c.Database.MaxOpenConns <= 0 {
			return fmt.Errorf("database.max_open_conns must be positive")
		}
		if c.Database.MaxIdleConns < 0 {
			return fmt.Errorf("database.max_idle_conns cannot be negative")
		}
		if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
			return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
				c.Database.MaxIdleConns, c.Database.MaxOpenConns)
		}
	}

	if c.Export.Enabled && c.Export.Bucket == "" {
		return fmt.Errorf("export.bucket is required when export is enabled")
	}

	if c.App.Env == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret is required in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.Database.Enabled {
			if c.Database.Password == "" {
				return fmt.Errorf("database.password is required in production")
			}
			if c.Database.SSLMode == "disable" {
				return fmt.Errorf("database.sslmode cannot be 'disable' in production")
			}
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Address returns the push broker address
func (p *PushConfig) Address() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// IsProduction reports whether the app runs in production
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
