// Package config provides configuration management for the paper acquisition service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for all environment variable overrides.
const EnvPrefix = "PAPERACQ"

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Config holds all configuration for the paper acquisition service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings for batch history.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Kafka contains batch event publisher settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Unpaywall contains open-access lookup settings.
	Unpaywall UnpaywallConfig `mapstructure:"unpaywall"`
	// DOI contains DOI resolver settings.
	DOI DOIConfig `mapstructure:"doi"`
	// PubMed contains PubMed E-utilities settings.
	PubMed PubMedConfig `mapstructure:"pubmed"`
	// Resolver contains availability check settings.
	Resolver ResolverConfig `mapstructure:"resolver"`
	// Downloader contains PDF fetch and verification settings.
	Downloader DownloaderConfig `mapstructure:"downloader"`
	// Acquisition contains batch orchestration settings.
	Acquisition AcquisitionConfig `mapstructure:"acquisition"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing the response.
	// Bulk downloads stream archives, so this is generous.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Enabled controls whether batch history is persisted.
	Enabled bool `mapstructure:"enabled"`
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (loaded from PAPERACQ_DATABASE_PASSWORD).
	Password string `mapstructure:"-"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 10).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 2).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath overrides the embedded migrations with a directory when set.
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace"`
}

// KafkaConfig holds Kafka publisher settings for batch events.
type KafkaConfig struct {
	// Enabled controls whether batch events are published.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the Kafka topic to publish batch events to.
	Topic string `mapstructure:"topic"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	// WriteTimeout bounds a single publish.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// UnpaywallConfig holds open-access lookup settings.
type UnpaywallConfig struct {
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Email identifies the caller to Unpaywall and is required by its terms of use.
	Email string `mapstructure:"email"`
	// Timeout is the timeout for lookups made while downloading.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// MaxRetries is the retry budget for 429 and 5xx responses.
	MaxRetries int `mapstructure:"max_retries"`
}

// DOIConfig holds DOI resolver settings.
type DOIConfig struct {
	// BaseURL is the resolver used for HEAD checks and publisher downloads.
	BaseURL string `mapstructure:"base_url"`
	// SciHubBaseURL is only used to render the Sci-Hub access link.
	SciHubBaseURL string `mapstructure:"scihub_base_url"`
}

// PubMedConfig holds PubMed E-utilities settings.
type PubMedConfig struct {
	// Enabled controls whether the search endpoints are served.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is the NCBI API key (loaded from PAPERACQ_PUBMED_API_KEY).
	APIKey string `mapstructure:"-"`
	// BaseURL is the E-utilities base URL.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the timeout for API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// MaxResults is the maximum results per query.
	MaxResults int `mapstructure:"max_results"`
}

// ResolverConfig holds availability check settings.
type ResolverConfig struct {
	// Timeout bounds each availability check (5-10s).
	Timeout time.Duration `mapstructure:"timeout"`
	// Workers is the number of records resolved concurrently.
	Workers int `mapstructure:"workers"`
}

// DownloaderConfig holds single-URL fetch and verification settings.
type DownloaderConfig struct {
	// Timeout is the per-request timeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries is the number of attempts per URL.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// UserAgent is sent with every download request.
	UserAgent string `mapstructure:"user_agent"`
	// Accept is the PDF-biased Accept header.
	Accept string `mapstructure:"accept"`
	// MinSize is the smallest body accepted as a PDF, in bytes.
	MinSize int64 `mapstructure:"min_size"`
	// MaxSize is the largest body accepted as a PDF, in bytes.
	MaxSize int64 `mapstructure:"max_size"`
	// MaxDepth is how many HTML pages may be followed to reach a PDF.
	MaxDepth int `mapstructure:"max_depth"`
	// StrictValidation parses the PDF structure after the magic-number check.
	StrictValidation bool `mapstructure:"strict_validation"`
	// InspectDOI extracts text from accepted PDFs to confirm the DOI.
	InspectDOI bool `mapstructure:"inspect_doi"`
	// AllowPrivateNetworks disables SSRF checks. Test environments only.
	AllowPrivateNetworks bool `mapstructure:"allow_private_networks"`
}

// AcquisitionConfig holds batch orchestration settings.
type AcquisitionConfig struct {
	// Workers is the download pool width.
	Workers int `mapstructure:"workers"`
	// WorkDir is where staging directories and archives are created.
	WorkDir string `mapstructure:"work_dir"`
	// MaxPapers caps the number of papers accepted per batch.
	MaxPapers int `mapstructure:"max_papers"`
	// LookupCacheTTL reuses Unpaywall responses within a batch when positive.
	LookupCacheTTL time.Duration `mapstructure:"lookup_cache_ttl"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	return LoadWith(viper.New())
}

// LoadWith loads configuration into v, which may already carry flag bindings.
func LoadWith(v *viper.Viper) (*Config, error) {
	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	if v.ConfigFileUsed() == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/paper-acquisition-service")
	}

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
// These fields are tagged with mapstructure:"-" to prevent loading from config files.
func loadSecrets(cfg *Config) {
	cfg.Database.Password = os.Getenv(EnvPrefix + "_DATABASE_PASSWORD")
	cfg.PubMed.APIKey = os.Getenv(EnvPrefix + "_PUBMED_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30m")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "paperacq")
	v.SetDefault("database.name", "paper_acquisition_service")
	// Default to "require" for production security. Use PAPERACQ_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "")
	v.SetDefault("database.migration_auto_run", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "paper_acquisition")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "events.paper_acquisition.batches")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")
	v.SetDefault("kafka.write_timeout", "10s")

	// Unpaywall defaults
	v.SetDefault("unpaywall.base_url", "https://api.unpaywall.org/v2")
	v.SetDefault("unpaywall.email", "")
	v.SetDefault("unpaywall.timeout", "10s")
	v.SetDefault("unpaywall.rate_limit", 10.0)
	v.SetDefault("unpaywall.max_retries", 2)

	// DOI defaults
	v.SetDefault("doi.base_url", "https://doi.org")
	v.SetDefault("doi.scihub_base_url", "https://sci-hub.se")

	// PubMed defaults
	v.SetDefault("pubmed.enabled", true)
	v.SetDefault("pubmed.base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils")
	v.SetDefault("pubmed.timeout", "30s")
	v.SetDefault("pubmed.rate_limit", 3.0) // NCBI recommends max 3 req/sec without API key
	v.SetDefault("pubmed.max_results", 500)

	// Resolver defaults
	v.SetDefault("resolver.timeout", "5s")
	v.SetDefault("resolver.workers", 5)

	// Downloader defaults
	v.SetDefault("downloader.timeout", "30s")
	v.SetDefault("downloader.max_retries", 3)
	v.SetDefault("downloader.retry_delay", "1s")
	v.SetDefault("downloader.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	v.SetDefault("downloader.accept", "application/pdf,application/x-pdf,text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	v.SetDefault("downloader.min_size", 1024)
	v.SetDefault("downloader.max_size", 100*1024*1024)
	v.SetDefault("downloader.max_depth", 1)
	v.SetDefault("downloader.strict_validation", false)
	v.SetDefault("downloader.inspect_doi", false)
	v.SetDefault("downloader.allow_private_networks", false)

	// Acquisition defaults
	v.SetDefault("acquisition.workers", 3)
	v.SetDefault("acquisition.work_dir", os.TempDir())
	v.SetDefault("acquisition.max_papers", 500)
	v.SetDefault("acquisition.lookup_cache_ttl", "0s")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate server ports
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	// Validate database config only when history is enabled
	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("invalid database port: %d", c.Database.Port)
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database name is required")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
		}
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka brokers and topic are required when kafka is enabled")
	}

	if c.Unpaywall.BaseURL == "" {
		return fmt.Errorf("unpaywall base_url is required")
	}
	if c.DOI.BaseURL == "" {
		return fmt.Errorf("doi base_url is required")
	}

	if c.Resolver.Timeout <= 0 {
		return fmt.Errorf("resolver timeout must be positive")
	}
	if c.Resolver.Workers <= 0 {
		return fmt.Errorf("resolver workers must be positive")
	}

	// Validate downloader config
	if c.Downloader.Timeout <= 0 {
		return fmt.Errorf("downloader timeout must be positive")
	}
	if c.Downloader.MaxRetries <= 0 {
		return fmt.Errorf("downloader max_retries must be positive")
	}
	if c.Downloader.MinSize < 0 {
		return fmt.Errorf("downloader min_size must not be negative")
	}
	if c.Downloader.MaxSize <= c.Downloader.MinSize {
		return fmt.Errorf("downloader max_size (%d) must be greater than min_size (%d)", c.Downloader.MaxSize, c.Downloader.MinSize)
	}
	if c.Downloader.MaxDepth < 0 {
		return fmt.Errorf("downloader max_depth must not be negative")
	}

	// Validate acquisition config
	if c.Acquisition.Workers <= 0 {
		return fmt.Errorf("acquisition workers must be positive")
	}
	if c.Acquisition.WorkDir == "" {
		return fmt.Errorf("acquisition work_dir is required")
	}
	if c.Acquisition.MaxPapers <= 0 {
		return fmt.Errorf("acquisition max_papers must be positive")
	}

	return nil
}
