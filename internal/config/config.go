// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Server   ServerConfig   `mapstructure:"server"`
	TLS      TLSConfig      `mapstructure:"tls"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// Engine types.
const (
	EngineSpatiaLite = "spatialite"
	EngineGEOS       = "geos"
)

// EngineConfig selects and configures the geometry engine.
type EngineConfig struct {
	Type           string        `mapstructure:"type"`      // spatialite, geos
	Database       string        `mapstructure:"database"`  // SpatiaLite database file
	Workspace      string        `mapstructure:"workspace"` // GEOS dataset directory
	BufferSegments int           `mapstructure:"buffer_segments"`
	BusyTimeout    time.Duration `mapstructure:"busy_timeout"`
}

// AnalysisConfig holds defaults of the coverage analysis.
type AnalysisConfig struct {
	Workers       int     `mapstructure:"workers"`
	Epsilon       float64 `mapstructure:"epsilon"`
	OutsideMethod string  `mapstructure:"outside_method"` // overlay, subtract
	CellMargin    float64 `mapstructure:"cell_margin"`
	Percent       float64 `mapstructure:"perc"`
}

// StorageConfig holds object storage configuration used to stage inputs
// and publish outputs.
type StorageConfig struct {
	Type          string      `mapstructure:"type"` // none, s3, azure, http, local
	LocalPath     string      `mapstructure:"local_path"`
	StagingDir    string      `mapstructure:"staging_dir"`
	Stage         bool        `mapstructure:"stage"`
	Publish       bool        `mapstructure:"publish"`
	PublishPrefix string      `mapstructure:"publish_prefix"`
	S3            S3Config    `mapstructure:"s3"`
	Azure         AzureConfig `mapstructure:"azure"`
	HTTP          HTTPConfig  `mapstructure:"http"`
}

// Enabled reports whether an object storage is configured.
func (c *StorageConfig) Enabled() bool {
	return c.Type != "" && c.Type != "none"
}

// S3Config holds AWS S3 configuration.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string `mapstructure:"container"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
	Prefix           string `mapstructure:"prefix"`
}

// HTTPConfig holds HTTP file server configuration.
type HTTPConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	IndexFile string        `mapstructure:"index_file"` // default: index.txt
	Timeout   time.Duration `mapstructure:"timeout"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Path     string `mapstructure:"path"`
	Textfile string `mapstructure:"textfile"` // written after batch runs
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"` // e.g., ["https://example.com", "*.sub.domain.tld"]
}

// Enabled returns true if CORS is configured with at least one allowed origin.
func (c *CORSConfig) Enabled() bool {
	return len(c.AllowedOrigins) > 0
}

// TLSConfig holds TLS/CertMagic configuration.
type TLSConfig struct {
	Enabled  bool      `mapstructure:"enabled"`
	Domains  []string  `mapstructure:"domains"`
	Email    string    `mapstructure:"email"`
	CacheDir string    `mapstructure:"cache_dir"`
	Staging  bool      `mapstructure:"staging"` // Use Let's Encrypt staging
	DNS      DNSConfig `mapstructure:"dns"`
}

// DNSConfig holds the Azure DNS settings for DNS-01 challenges.
type DNSConfig struct {
	SubscriptionID    string `mapstructure:"subscription_id"`
	ResourceGroupName string `mapstructure:"resource_group_name"`
	ClientID          string `mapstructure:"client_id"`
}

// WatchConfig holds input watching configuration.
type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Defaults sets the default configuration values.
func Defaults() {
	// Engine defaults
	viper.SetDefault("engine.type", EngineSpatiaLite)
	viper.SetDefault("engine.database", "osmacc.sqlite")
	viper.SetDefault("engine.workspace", ".")
	viper.SetDefault("engine.buffer_segments", 8)
	viper.SetDefault("engine.busy_timeout", 30*time.Second)

	// Analysis defaults
	viper.SetDefault("analysis.workers", 1)
	viper.SetDefault("analysis.epsilon", 0.005)
	viper.SetDefault("analysis.outside_method", "overlay")
	viper.SetDefault("analysis.cell_margin", 0.10)
	viper.SetDefault("analysis.perc", 100.0)

	// Storage defaults
	viper.SetDefault("storage.type", "none")
	viper.SetDefault("storage.local_path", "./data")
	viper.SetDefault("storage.staging_dir", "./staging")
	viper.SetDefault("storage.stage", false)
	viper.SetDefault("storage.publish", false)
	viper.SetDefault("storage.http.index_file", "index.txt")
	viper.SetDefault("storage.http.timeout", 5*time.Minute)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.path", "/metrics")

	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Minute) // accuracy runs are slow
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("server.cors.allowed_origins", []string{})

	// TLS defaults
	viper.SetDefault("tls.enabled", false)
	viper.SetDefault("tls.cache_dir", "./.certmagic")
	viper.SetDefault("tls.staging", false)

	// Watch defaults
	viper.SetDefault("watch.enabled", false)
	viper.SetDefault("watch.debounce", 2*time.Second)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}

// Load loads configuration from environment and config file.
func Load(configPath string) (*Config, error) {
	Defaults()

	// Environment variable binding
	viper.SetEnvPrefix("OSMACC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Config file
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/osmacc")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Engine.Type {
	case EngineSpatiaLite:
		if c.Engine.Database == "" {
			return fmt.Errorf("engine database is required for the spatialite engine")
		}
	case EngineGEOS:
		if c.Engine.Workspace == "" {
			return fmt.Errorf("engine workspace is required for the geos engine")
		}
	default:
		return fmt.Errorf("unknown engine type: %s", c.Engine.Type)
	}

	if c.Analysis.Workers < 0 {
		return fmt.Errorf("invalid worker count: %d", c.Analysis.Workers)
	}
	if c.Analysis.Epsilon <= 0 {
		return fmt.Errorf("epsilon must be positive: %g", c.Analysis.Epsilon)
	}
	switch c.Analysis.OutsideMethod {
	case "overlay", "subtract":
	default:
		return fmt.Errorf("unknown outside method: %s", c.Analysis.OutsideMethod)
	}
	if c.Analysis.CellMargin < 0 {
		return fmt.Errorf("cell margin must not be negative: %g", c.Analysis.CellMargin)
	}
	if c.Analysis.Percent <= 0 || c.Analysis.Percent > 100 {
		return fmt.Errorf("perc must be in (0, 100]: %g", c.Analysis.Percent)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.TLS.Enabled {
		if len(c.TLS.Domains) == 0 {
			return fmt.Errorf("TLS enabled but no domains specified")
		}
		if c.TLS.Email == "" {
			return fmt.Errorf("TLS enabled but no email specified")
		}
	}

	return c.Storage.validate()
}

func (c *StorageConfig) validate() error {
	switch c.Type {
	case "", "none":
		if c.Stage || c.Publish {
			return fmt.Errorf("storage stage or publish requires a storage type")
		}
		return nil
	case "local":
		if c.LocalPath == "" {
			return fmt.Errorf("local storage path is required")
		}
	case "s3":
		if c.S3.Bucket == "" {
			return fmt.Errorf("S3 bucket is required")
		}
		if c.S3.Region == "" {
			return fmt.Errorf("S3 region is required")
		}
	case "azure":
		if c.Azure.Container == "" {
			return fmt.Errorf("azure container is required")
		}
		if c.Azure.AccountName == "" && c.Azure.ConnectionString == "" {
			return fmt.Errorf("azure account name or connection string is required")
		}
	case "http":
		if c.HTTP.BaseURL == "" {
			return fmt.Errorf("HTTP base URL is required")
		}
	default:
		return fmt.Errorf("unknown storage type: %s", c.Type)
	}
	if c.Stage && c.StagingDir == "" {
		return fmt.Errorf("storage staging directory is required")
	}
	return nil
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
