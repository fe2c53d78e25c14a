package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vertextoedge/media-vault/internal/domain"
	"github.com/vertextoedge/media-vault/internal/domain/service"
)

// Config represents the entire application configuration
type Config struct {
	Media       MediaConfig       `mapstructure:"media"`
	Stream      StreamConfig      `mapstructure:"stream"`
	Download    DownloadConfig    `mapstructure:"download"`
	Auth        AuthConfig        `mapstructure:"auth"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// MediaConfig contains asset store settings
type MediaConfig struct {
	RootDir           string `mapstructure:"root_dir"`
	AudioFallbackType string `mapstructure:"audio_fallback_type"`
	WriteBufferKB     int    `mapstructure:"write_buffer_kb"`
}

// StreamConfig contains range serving settings
type StreamConfig struct {
	Tiers []TierConfig `mapstructure:"tiers"`
}

// TierConfig is one chunk tier. UpToMB of 0 marks the open-ended tier.
type TierConfig struct {
	UpToMB         int64 `mapstructure:"up_to_mb"`
	BufferKB       int   `mapstructure:"buffer_kb"`
	DefaultChunkKB int64 `mapstructure:"default_chunk_kb"`
	MaxChunkKB     int64 `mapstructure:"max_chunk_kb"`
}

// DownloadConfig contains extraction settings
type DownloadConfig struct {
	Binary              string   `mapstructure:"binary"`
	ConcurrentJobs      int      `mapstructure:"concurrent_jobs"`
	MaxAttempts         int      `mapstructure:"max_attempts"`
	RunTimeout          string   `mapstructure:"run_timeout"`
	RetryBackoff        []string `mapstructure:"retry_backoff"`
	ProgressInterval    string   `mapstructure:"progress_interval"`
	AudioQuality        string   `mapstructure:"audio_quality"`
	DefaultFormat       string   `mapstructure:"default_format"`
	MaxDiskUsagePercent float64  `mapstructure:"max_disk_usage_percent"`
	OverwriteExisting   bool     `mapstructure:"overwrite_existing"`
	QueueSize           int      `mapstructure:"queue_size"`
}

// AuthConfig contains identity resolution settings
type AuthConfig struct {
	Mode           string `mapstructure:"mode"`
	JWTSecret      string `mapstructure:"jwt_secret"`
	Issuer         string `mapstructure:"issuer"`
	Audience       string `mapstructure:"audience"`
	IdentityClaim  string `mapstructure:"identity_claim"`
	IdentityHeader string `mapstructure:"identity_header"`
}

// HTTPConfig contains HTTP server configuration
type HTTPConfig struct {
	BindAddr     string `mapstructure:"bind_addr"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	IdleTimeout  string `mapstructure:"idle_timeout"`
	JobListLimit int    `mapstructure:"job_list_limit"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// MaintenanceConfig contains periodic cleanup settings
type MaintenanceConfig struct {
	TempCheckInterval string `mapstructure:"temp_check_interval"`
	TempFileMaxAge    string `mapstructure:"temp_file_max_age"`
	CleanupInterval   string `mapstructure:"cleanup_interval"`
	FinishedJobMaxAge string `mapstructure:"finished_job_max_age"`
}

// Load loads configuration from the specified file path
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return decode(v)
}

// Default returns the configuration built from defaults and environment only
func Default() (*Config, error) {
	return decode(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()

	// Set defaults
	v.SetDefault("media.root_dir", "/var/lib/media-vault")
	v.SetDefault("media.audio_fallback_type", service.DefaultAudioType)
	v.SetDefault("media.write_buffer_kb", 1024)
	v.SetDefault("stream.tiers", []map[string]interface{}{
		{"up_to_mb": 10, "buffer_kb": 64, "default_chunk_kb": 2048, "max_chunk_kb": 4096},
		{"up_to_mb": 100, "buffer_kb": 256, "default_chunk_kb": 4096, "max_chunk_kb": 8192},
		{"up_to_mb": 0, "buffer_kb": 1024, "default_chunk_kb": 8192, "max_chunk_kb": 16384},
	})
	v.SetDefault("download.binary", "")
	v.SetDefault("download.concurrent_jobs", 2)
	v.SetDefault("download.max_attempts", domain.DefaultMaxAttempts)
	v.SetDefault("download.run_timeout", "15m")
	v.SetDefault("download.retry_backoff", []string{"5s", "30s", "2m"})
	v.SetDefault("download.progress_interval", "2s")
	v.SetDefault("download.audio_quality", "0")
	v.SetDefault("download.default_format", string(domain.DefaultOutputFormat))
	v.SetDefault("download.max_disk_usage_percent", 90)
	v.SetDefault("download.overwrite_existing", false)
	v.SetDefault("download.queue_size", 256)
	v.SetDefault("auth.mode", "header")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.audience", "")
	v.SetDefault("auth.identity_claim", "nameid")
	v.SetDefault("auth.identity_header", "X-Identity")
	v.SetDefault("http.bind_addr", "0.0.0.0:8080")
	v.SetDefault("http.read_timeout", "30s")
	v.SetDefault("http.write_timeout", "0s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("http.job_list_limit", 50)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.path", "")
	v.SetDefault("maintenance.temp_check_interval", "10m")
	v.SetDefault("maintenance.temp_file_max_age", "6h")
	v.SetDefault("maintenance.cleanup_interval", "1h")
	v.SetDefault("maintenance.finished_job_max_age", "168h")

	// MEDIA_VAULT_AUTH_JWT_SECRET and friends override the file
	v.SetEnvPrefix("media_vault")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Media.RootDir == "" {
		return fmt.Errorf("media.root_dir is required")
	}

	if _, err := c.Stream.ChunkPolicy(); err != nil {
		return fmt.Errorf("invalid stream.tiers: %w", err)
	}

	// Validate download config
	if c.Download.ConcurrentJobs < 1 || c.Download.ConcurrentJobs > 16 {
		return fmt.Errorf("download.concurrent_jobs must be between 1 and 16")
	}
	if c.Download.MaxAttempts < 1 {
		return fmt.Errorf("download.max_attempts must be positive")
	}
	if c.Download.MaxDiskUsagePercent < 0 || c.Download.MaxDiskUsagePercent > 100 {
		return fmt.Errorf("download.max_disk_usage_percent must be between 0 and 100")
	}
	if _, err := domain.ParseOutputFormat(c.Download.DefaultFormat); err != nil {
		return fmt.Errorf("invalid download.default_format: %w", err)
	}
	if _, err := time.ParseDuration(c.Download.RunTimeout); err != nil {
		return fmt.Errorf("invalid download.run_timeout: %w", err)
	}
	for _, b := range c.Download.RetryBackoff {
		if _, err := time.ParseDuration(b); err != nil {
			return fmt.Errorf("invalid download.retry_backoff entry %q: %w", b, err)
		}
	}

	// Validate auth config
	switch c.Auth.Mode {
	case "jwt":
		if len(c.Auth.JWTSecret) < 32 {
			return fmt.Errorf("auth.jwt_secret must be at least 32 bytes in jwt mode")
		}
	case "header":
		if c.Auth.IdentityHeader == "" {
			return fmt.Errorf("auth.identity_header is required in header mode")
		}
	default:
		return fmt.Errorf("invalid auth.mode: %s", c.Auth.Mode)
	}

	// Validate maintenance intervals
	for key, value := range map[string]string{
		"maintenance.temp_check_interval":  c.Maintenance.TempCheckInterval,
		"maintenance.temp_file_max_age":    c.Maintenance.TempFileMaxAge,
		"maintenance.cleanup_interval":     c.Maintenance.CleanupInterval,
		"maintenance.finished_job_max_age": c.Maintenance.FinishedJobMaxAge,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	// Validate logging config
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

// ChunkPolicy builds the chunk policy from the configured tiers
func (c *StreamConfig) ChunkPolicy() (*service.ChunkPolicy, error) {
	if len(c.Tiers) == 0 {
		return service.MustDefaultChunkPolicy(), nil
	}
	tiers := make([]service.ChunkTier, 0, len(c.Tiers))
	for _, t := range c.Tiers {
		tiers = append(tiers, service.ChunkTier{
			UpTo:         t.UpToMB * service.MiB,
			BufferSize:   t.BufferKB * int(service.KiB),
			DefaultChunk: t.DefaultChunkKB * service.KiB,
			MaxChunk:     t.MaxChunkKB * service.KiB,
		})
	}
	return service.NewChunkPolicy(tiers)
}

// GetWriteBufferSize returns the asset write buffer size in bytes
func (c *MediaConfig) GetWriteBufferSize() int {
	if c.WriteBufferKB <= 0 {
		return 1024 * 1024
	}
	return c.WriteBufferKB * 1024
}

// GetRunTimeout returns the extractor run timeout as time.Duration
func (c *DownloadConfig) GetRunTimeout() time.Duration {
	d, _ := time.ParseDuration(c.RunTimeout)
	if d == 0 {
		return 15 * time.Minute
	}
	return d
}

// GetRetryBackoff returns the delay before each retry
func (c *DownloadConfig) GetRetryBackoff() []time.Duration {
	out := make([]time.Duration, 0, len(c.RetryBackoff))
	for _, s := range c.RetryBackoff {
		if d, err := time.ParseDuration(s); err == nil {
			out = append(out, d)
		}
	}
	return out
}

// GetProgressInterval returns how often progress is persisted and reported
func (c *DownloadConfig) GetProgressInterval() time.Duration {
	d, _ := time.ParseDuration(c.ProgressInterval)
	if d == 0 {
		return 2 * time.Second
	}
	return d
}

// GetReadTimeout returns the read timeout as time.Duration
func (c *HTTPConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ReadTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetWriteTimeout returns the write timeout as time.Duration. Zero disables it.
func (c *HTTPConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(c.WriteTimeout)
	return d
}

// GetIdleTimeout returns the idle timeout as time.Duration
func (c *HTTPConfig) GetIdleTimeout() time.Duration {
	d, _ := time.ParseDuration(c.IdleTimeout)
	if d == 0 {
		return 60 * time.Second
	}
	return d
}

// GetTempCheckInterval returns how often temp files are swept
func (c *MaintenanceConfig) GetTempCheckInterval() time.Duration {
	d, _ := time.ParseDuration(c.TempCheckInterval)
	if d == 0 {
		return 10 * time.Minute
	}
	return d
}

// GetTempFileMaxAge returns the age after which temp files are removed
func (c *MaintenanceConfig) GetTempFileMaxAge() time.Duration {
	d, _ := time.ParseDuration(c.TempFileMaxAge)
	if d == 0 {
		return 6 * time.Hour
	}
	return d
}

// GetCleanupInterval returns how often job records are pruned
func (c *MaintenanceConfig) GetCleanupInterval() time.Duration {
	d, _ := time.ParseDuration(c.CleanupInterval)
	if d == 0 {
		return time.Hour
	}
	return d
}

// GetFinishedJobMaxAge returns how long terminal jobs are kept
func (c *MaintenanceConfig) GetFinishedJobMaxAge() time.Duration {
	d, _ := time.ParseDuration(c.FinishedJobMaxAge)
	if d == 0 {
		return 7 * 24 * time.Hour
	}
	return d
}
