package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Gmail    GmailConfig    `mapstructure:"gmail"`
	Auth     AuthConfig     `mapstructure:"auth"`
	State    StateConfig    `mapstructure:"state"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Security SecurityConfig `mapstructure:"security"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// AllowedOrigins is the CORS allow-list for the browser front-end
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Addr returns the listen address
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// KeyPrefix namespaces every key this service writes
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Addr returns the Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds PostgreSQL configuration for the run history
type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// DSN returns the PostgreSQL connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GmailConfig holds Gmail API and OAuth2 client configuration
type GmailConfig struct {
	// ClientID and ClientSecret identify the OAuth2 web client
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	// RedirectURL must match the redirect URI registered for the client
	RedirectURL string `mapstructure:"redirect_url"`
	// RefreshToken lets the CLI run without the browser consent flow
	RefreshToken string `mapstructure:"refresh_token"`
	// SenderName is the display name put in the From header
	SenderName string `mapstructure:"sender_name"`
}

// AuthConfig holds settings for the OAuth consent round trip
type AuthConfig struct {
	// StateSecret signs the OAuth state parameter. A random secret is
	// generated at startup when empty.
	StateSecret string        `mapstructure:"state_secret"`
	StateTTL    time.Duration `mapstructure:"state_ttl"`
}

// StateConfig holds locations of the durable state
type StateConfig struct {
	// Driver selects the row and token store: "file" or "redis"
	Driver string `mapstructure:"driver"`
	// Dir holds the file-backed row set and token
	Dir string `mapstructure:"dir"`
	// MarkerPath is the well-known location of the resume marker
	MarkerPath string `mapstructure:"marker_path"`
	// ExportDir is where result CSVs are written
	ExportDir string `mapstructure:"export_dir"`
}

// DispatchConfig holds batch dispatch settings
type DispatchConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	DefaultDelay time.Duration `mapstructure:"default_delay"`
	MinDelay     time.Duration `mapstructure:"min_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	// Jitter is the fractional spread applied to the delay (0.1 → ±10%)
	Jitter       float64 `mapstructure:"jitter"`
	DefaultLabel string  `mapstructure:"default_label"`
	// HeaderLookupAttempts bounds the Message-ID header polling
	HeaderLookupAttempts   int           `mapstructure:"header_lookup_attempts"`
	HeaderLookupBackoffMin time.Duration `mapstructure:"header_lookup_backoff_min"`
	HeaderLookupBackoffMax time.Duration `mapstructure:"header_lookup_backoff_max"`
	// BackupEmail mails the export CSV to the account owner after a run
	BackupEmail bool `mapstructure:"backup_email"`
	// UploadWarnRows is the row count above which uploads get an advisory
	UploadWarnRows int `mapstructure:"upload_warn_rows"`
}

// ArchiveConfig holds S3-compatible storage settings for export copies
type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
	PathStyle bool   `mapstructure:"path_style"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Validate checks settings that would make a dispatch impossible
func (c *Config) Validate() error {
	var errs []error
	d := c.Dispatch
	if d.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("dispatch.batch_size must be positive, got %d", d.BatchSize))
	}
	if d.MinDelay < 0 || d.MaxDelay < d.MinDelay {
		errs = append(errs, fmt.Errorf("dispatch delay bounds are invalid: min=%s max=%s", d.MinDelay, d.MaxDelay))
	}
	if d.Jitter < 0 || d.Jitter >= 1 {
		errs = append(errs, fmt.Errorf("dispatch.jitter must be in [0,1), got %v", d.Jitter))
	}
	if d.HeaderLookupAttempts < 1 {
		errs = append(errs, fmt.Errorf("dispatch.header_lookup_attempts must be at least 1"))
	}
	if d.HeaderLookupBackoffMax < d.HeaderLookupBackoffMin {
		errs = append(errs, fmt.Errorf("dispatch header lookup backoff bounds are invalid"))
	}
	switch c.State.Driver {
	case "file":
	case "redis":
		if !c.Redis.Enabled {
			errs = append(errs, fmt.Errorf("state.driver is redis but redis.enabled is false"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown state.driver %q", c.State.Driver))
	}
	if c.State.MarkerPath == "" {
		errs = append(errs, fmt.Errorf("state.marker_path is required"))
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		errs = append(errs, fmt.Errorf("archive.bucket is required when archive is enabled"))
	}
	return errors.Join(errs...)
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from an explicit file when path is set,
// otherwise from the default search paths.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/mailmerge")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("MAILMERGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	// Loopback only: the API has no operator login of its own.
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "mailmerge:")

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "mailmerge")
	v.SetDefault("database.user", "mailmerge")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 5)

	// Gmail defaults. Secrets have empty defaults so that AutomaticEnv
	// picks them up from MAILMERGE_* variables.
	v.SetDefault("gmail.client_id", "")
	v.SetDefault("gmail.client_secret", "")
	v.SetDefault("gmail.refresh_token", "")
	v.SetDefault("gmail.redirect_url", "http://localhost:8080/api/v1/auth/callback")
	v.SetDefault("gmail.sender_name", "")

	// Auth defaults
	v.SetDefault("auth.state_secret", "")
	v.SetDefault("auth.state_ttl", "10m")

	// State defaults
	v.SetDefault("state.driver", "file")
	v.SetDefault("state.dir", "/tmp/mailmerge")
	v.SetDefault("state.marker_path", "/tmp/mailmerge_done.json")
	v.SetDefault("state.export_dir", "/tmp")

	// Dispatch defaults
	v.SetDefault("dispatch.batch_size", 50)
	v.SetDefault("dispatch.default_delay", "20s")
	v.SetDefault("dispatch.min_delay", "20s")
	v.SetDefault("dispatch.max_delay", "75s")
	v.SetDefault("dispatch.jitter", 0.1)
	v.SetDefault("dispatch.default_label", "Mail Merge Sent")
	v.SetDefault("dispatch.header_lookup_attempts", 6)
	v.SetDefault("dispatch.header_lookup_backoff_min", "1s")
	v.SetDefault("dispatch.header_lookup_backoff_max", "2s")
	v.SetDefault("dispatch.backup_email", true)
	v.SetDefault("dispatch.upload_warn_rows", 80)

	// Archive defaults
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.access_key", "")
	v.SetDefault("archive.secret_key", "")
	v.SetDefault("archive.region", "us-east-1")
	v.SetDefault("archive.prefix", "mailmerge/")
	v.SetDefault("archive.path_style", false)

	v.SetDefault("security.rate_limiting.enabled", true)
}

// Default returns the built-in defaults without reading files or env.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}
