package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Storage  StorageConfig
	Security SecurityConfig

	// Gemini API config
	APIs APIConfig

	OAuth         OAuthConfig
	Limits        LimitsConfig
	Logging       LoggingConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string
	Environment     string // development, staging, production
	BaseURL         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string

	// UploadTimeout replaces the read and write deadlines on upload routes.
	UploadTimeout time.Duration
	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Enable it only behind a proxy that overwrites them.
	TrustProxyHeaders bool
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string
	MaxConns int32
}

// RedisConfig holds the chat transcript store. An empty Addr keeps
// transcripts in memory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	ChatTTL  time.Duration
}

// StorageConfig holds MinIO settings. An empty Endpoint stores images inline
// as data URLs.
type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	CSRFSecret        string
	SessionCookieName string
	SessionDuration   time.Duration
	BcryptCost        int
	SecureCookies     bool // true in production
	EncryptionKey     string
	TrustedOrigins    []string
}

// APIConfig holds hosted model configuration.
type APIConfig struct {
	GeminiAPIKey      string
	GeminiBaseURL     string
	AnalysisModel     string
	ImageModel        string
	SearchModel       string
	ChatModel         string
	RequestTimeout    time.Duration
	RequestsPerMinute int
}

// OAuthConfig holds Google sign-in credentials. Sign-in is disabled when
// ClientID is empty.
type OAuthConfig struct {
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
}

// LimitsConfig holds rate limiting and quota settings.
type LimitsConfig struct {
	DefaultUserQuota   int
	RateLimitPerMinute int
	RateLimitBurst     int
}

type LoggingConfig struct {
	Level  string
	Format string
}

type ObservabilityConfig struct {
	SentryDSN string
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func (c *Config) GoogleOAuthEnabled() bool {
	return c.OAuth.GoogleClientID != ""
}

func (c *Config) StorageEnabled() bool {
	return c.Storage.Endpoint != ""
}

func (c *Config) RedisEnabled() bool {
	return c.Redis.Addr != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_port", "8080")
	v.SetDefault("app_env", "development")
	v.SetDefault("base_url", "http://localhost:8080")
	v.SetDefault("server_read_timeout", 30*time.Second)
	v.SetDefault("server_write_timeout", 5*time.Minute)
	v.SetDefault("server_idle_timeout", 60*time.Second)
	v.SetDefault("server_shutdown_timeout", 30*time.Second)
	v.SetDefault("server_upload_timeout", 15*time.Minute)
	v.SetDefault("trust_proxy_headers", false)

	v.SetDefault("database_max_conns", 25)

	v.SetDefault("redis_db", 0)
	v.SetDefault("chat_ttl", 24*time.Hour)

	v.SetDefault("minio_bucket", "vastra-vibes")
	v.SetDefault("minio_region", "us-east-1")
	v.SetDefault("minio_use_ssl", false)

	v.SetDefault("session_cookie_name", "vastra_vibes_session")
	v.SetDefault("session_duration", 24*time.Hour)
	v.SetDefault("bcrypt_cost", 12)

	v.SetDefault("gemini_analysis_model", "gemini-3-pro-preview")
	v.SetDefault("gemini_image_model", "gemini-3-pro-image-preview")
	v.SetDefault("gemini_search_model", "gemini-3-pro-preview")
	v.SetDefault("gemini_chat_model", "gemini-3-pro-preview")
	v.SetDefault("gemini_request_timeout", 3*time.Minute)
	v.SetDefault("gemini_requests_per_minute", 60)

	v.SetDefault("default_user_quota", 50)
	v.SetDefault("rate_limit_per_minute", 30)
	v.SetDefault("rate_limit_burst", 10)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}

// Load reads configuration from .env, an optional config.yaml and the
// environment, in increasing order of precedence.
func Load() (*Config, error) {
	// .env is optional; production sets real environment variables.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	cfg := fromViper(v)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Server = ServerConfig{
		Port:            v.GetString("server_port"),
		Environment:     v.GetString("app_env"),
		BaseURL:         strings.TrimRight(v.GetString("base_url"), "/"),
		ReadTimeout:     v.GetDuration("server_read_timeout"),
		WriteTimeout:    v.GetDuration("server_write_timeout"),
		IdleTimeout:     v.GetDuration("server_idle_timeout"),
		ShutdownTimeout: v.GetDuration("server_shutdown_timeout"),
		AllowedOrigins:  splitList(v.GetString("cors_allowed_origins")),

		UploadTimeout:     v.GetDuration("server_upload_timeout"),
		TrustProxyHeaders: v.GetBool("trust_proxy_headers"),
	}

	cfg.Database = DatabaseConfig{
		URL:      v.GetString("database_url"),
		MaxConns: v.GetInt32("database_max_conns"),
	}

	cfg.Redis = RedisConfig{
		Addr:     v.GetString("redis_addr"),
		Password: v.GetString("redis_password"),
		DB:       v.GetInt("redis_db"),
		ChatTTL:  v.GetDuration("chat_ttl"),
	}

	cfg.Storage = StorageConfig{
		Endpoint:  v.GetString("minio_endpoint"),
		AccessKey: v.GetString("minio_access_key"),
		SecretKey: v.GetString("minio_secret_key"),
		Bucket:    v.GetString("minio_bucket"),
		Region:    v.GetString("minio_region"),
		UseSSL:    v.GetBool("minio_use_ssl"),
	}

	cfg.Security = SecurityConfig{
		CSRFSecret:        v.GetString("csrf_secret"),
		SessionCookieName: v.GetString("session_cookie_name"),
		SessionDuration:   v.GetDuration("session_duration"),
		BcryptCost:        v.GetInt("bcrypt_cost"),
		SecureCookies:     cfg.Server.Environment == "production",
		EncryptionKey:     v.GetString("encryption_key"),
		TrustedOrigins:    splitList(v.GetString("csrf_trusted_origins")),
	}

	cfg.APIs = APIConfig{
		GeminiAPIKey:      v.GetString("gemini_api_key"),
		GeminiBaseURL:     v.GetString("gemini_base_url"),
		AnalysisModel:     v.GetString("gemini_analysis_model"),
		ImageModel:        v.GetString("gemini_image_model"),
		SearchModel:       v.GetString("gemini_search_model"),
		ChatModel:         v.GetString("gemini_chat_model"),
		RequestTimeout:    v.GetDuration("gemini_request_timeout"),
		RequestsPerMinute: v.GetInt("gemini_requests_per_minute"),
	}

	cfg.OAuth = OAuthConfig{
		GoogleClientID:     v.GetString("google_client_id"),
		GoogleClientSecret: v.GetString("google_client_secret"),
		GoogleRedirectURL:  v.GetString("google_redirect_url"),
	}
	if cfg.OAuth.GoogleRedirectURL == "" && cfg.OAuth.GoogleClientID != "" {
		cfg.OAuth.GoogleRedirectURL = cfg.Server.BaseURL + "/auth/google/callback"
	}

	cfg.Limits = LimitsConfig{
		DefaultUserQuota:   v.GetInt("default_user_quota"),
		RateLimitPerMinute: v.GetInt("rate_limit_per_minute"),
		RateLimitBurst:     v.GetInt("rate_limit_burst"),
	}

	cfg.Logging = LoggingConfig{
		Level:  strings.ToLower(v.GetString("log_level")),
		Format: strings.ToLower(v.GetString("log_format")),
	}

	cfg.Observability = ObservabilityConfig{
		SentryDSN: v.GetString("sentry_dsn"),
	}

	return cfg
}

// validate checks that all required configuration is present and valid.
func (c *Config) validate() error {
	var errs []error

	if c.Database.URL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}

	if c.Security.CSRFSecret == "" {
		errs = append(errs, errors.New("CSRF_SECRET is required"))
	} else if len(c.Security.CSRFSecret) < 32 {
		errs = append(errs, errors.New("CSRF_SECRET must be at least 32 characters"))
	}

	if c.Security.EncryptionKey == "" {
		errs = append(errs, errors.New("ENCRYPTION_KEY is required"))
	} else if len(c.Security.EncryptionKey) < 32 {
		errs = append(errs, errors.New("ENCRYPTION_KEY must be at least 32 characters"))
	}

	if c.APIs.GeminiAPIKey == "" {
		errs = append(errs, errors.New("GEMINI_API_KEY is required"))
	}
	if c.APIs.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("GEMINI_REQUESTS_PER_MINUTE must be positive"))
	}

	// Cost < 10 is too fast to resist brute force, > 16 makes sign-in sluggish.
	if c.Security.BcryptCost < 10 || c.Security.BcryptCost > 16 {
		errs = append(errs, errors.New("BCRYPT_COST must be between 10 and 16"))
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.Server.Environment] {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of: development, staging, production (got: %s)", c.Server.Environment))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.Logging.Level))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or console (got: %s)", c.Logging.Format))
	}

	if c.GoogleOAuthEnabled() && c.OAuth.GoogleClientSecret == "" {
		errs = append(errs, errors.New("GOOGLE_CLIENT_SECRET is required when GOOGLE_CLIENT_ID is set"))
	}

	if c.StorageEnabled() {
		if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
			errs = append(errs, errors.New("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when MINIO_ENDPOINT is set"))
		}
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New("MINIO_BUCKET is required when MINIO_ENDPOINT is set"))
		}
	}

	if c.Server.UploadTimeout <= 0 {
		errs = append(errs, errors.New("SERVER_UPLOAD_TIMEOUT must be positive"))
	}

	if c.Limits.DefaultUserQuota < 0 {
		errs = append(errs, errors.New("DEFAULT_USER_QUOTA must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%w", errors.Join(errs...))
	}

	return nil
}

// splitList splits comma or whitespace separated values.
func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

// MustLoad is like Load but panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
