package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/manawiki/sitepulse/pkg/observability"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names the optional YAML file loaded before environment overrides
const ConfigFileEnv = "SITEPULSE_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Platform endpoints and credentials
	Settings Settings `yaml:"settings"`

	// Analytics provider configuration
	Analytics AnalyticsConfig `yaml:"analytics"`

	// Scheduling and fan-out limits
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Outbound HTTP behaviour
	Fetch FetchConfig `yaml:"fetch"`

	// Federated search
	Search SearchConfig `yaml:"search"`

	// Optional Redis for cluster-wide dispatch locking
	Redis RedisConfig `yaml:"redis"`

	// Optional Postgres run ledger
	Ledger LedgerConfig `yaml:"ledger"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds admin HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Settings locates the core database and the per-site custom databases.
// It is passed explicitly into every component that builds URLs.
type Settings struct {
	// Domain is the bare platform domain, e.g. mana.wiki
	Domain string `yaml:"domain"`
	// CoreURL is the core database origin, e.g. https://mana.wiki
	CoreURL string `yaml:"core_url"`
	// CustomDatabaseURL is a template for per-site database origins.
	// {site} and {domain} are substituted.
	CustomDatabaseURL string `yaml:"custom_database_url"`
	// APIKey authenticates against both core and custom databases
	APIKey string `yaml:"api_key"`
}

// AnalyticsConfig holds Google Analytics Data API settings
type AnalyticsConfig struct {
	ClientEmail string `yaml:"client_email"`
	PrivateKey  string `yaml:"private_key"`
	TokenURL    string `yaml:"token_url"`
	Endpoint    string `yaml:"endpoint"`
	StartDate   string `yaml:"start_date"`
	EndDate     string `yaml:"end_date"`
	RowLimit    int    `yaml:"row_limit"`
}

// SchedulerConfig controls the recurring analytics dispatch
type SchedulerConfig struct {
	Enabled            bool          `yaml:"enabled"`
	Schedule           string        `yaml:"schedule"`
	RunOnStart         bool          `yaml:"run_on_start"`
	SiteConcurrency    int           `yaml:"site_concurrency"`
	ResolveConcurrency int           `yaml:"resolve_concurrency"`
	JobTimeout         time.Duration `yaml:"job_timeout"`
	// DispatchTimeout bounds one full dispatch over every site
	DispatchTimeout    time.Duration `yaml:"dispatch_timeout"`
	// LockTTL is the cross-replica dispatch lease; it must outlive DispatchTimeout
	LockTTL            time.Duration `yaml:"lock_ttl"`
}

// FetchConfig controls timeouts, retries and rate limiting of outbound calls
type FetchConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	RateLimit      float64       `yaml:"rate_limit"`
	RateBurst      int           `yaml:"rate_burst"`
}

// SearchConfig controls the federated search cache and per-client rate limit
type SearchConfig struct {
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	// RateLimit is the number of searches one client IP may make per
	// RateWindow. Zero disables limiting.
	RateLimit  int           `yaml:"rate_limit"`
	RateWindow time.Duration `yaml:"rate_window"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LedgerConfig holds the run ledger database settings
type LedgerConfig struct {
	PostgresURL string `yaml:"postgres_url"`
	MaxConns    int    `yaml:"max_conns"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel `yaml:"log_level"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Settings: Settings{
			Domain:            "mana.wiki",
			CoreURL:           "https://mana.wiki",
			CustomDatabaseURL: "https://{site}-db.{domain}",
		},
		Analytics: AnalyticsConfig{
			TokenURL:  "https://oauth2.googleapis.com/token",
			Endpoint:  "https://analyticsdata.googleapis.com/v1beta",
			StartDate: "2daysAgo",
			EndDate:   "today",
		},
		Scheduler: SchedulerConfig{
			Enabled:            true,
			Schedule:           "0 */4 * * *",
			SiteConcurrency:    4,
			ResolveConcurrency: 8,
			JobTimeout:         10 * time.Minute,
			DispatchTimeout:    3 * time.Hour,
			LockTTL:            3*time.Hour + 15*time.Minute,
		},
		Fetch: FetchConfig{
			Timeout:        15 * time.Second,
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			RateLimit:      20,
			RateBurst:      10,
		},
		Search: SearchConfig{
			CacheSize:  1024,
			CacheTTL:   60 * time.Second,
			RateLimit:  120,
			RateWindow: time.Minute,
		},
		Ledger: LedgerConfig{
			MaxConns: 5,
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.InfoLevel,
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "sitepulse",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1.0,
		},
	}
}

// LoadConfig loads defaults, then the optional YAML file, then environment variables
func LoadConfig() (*Config, error) {
	return LoadFrom(os.Getenv(ConfigFileEnv))
}

// LoadFrom is LoadConfig with an explicit file path. An empty path skips the file.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile overlays a YAML file onto the current values
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides values with any SITEPULSE_* variables that are set
func (c *Config) applyEnv() {
	c.Server = loadServerConfig(c.Server)
	c.Settings = loadSettings(c.Settings)
	c.Analytics = loadAnalyticsConfig(c.Analytics)
	c.Scheduler = loadSchedulerConfig(c.Scheduler)
	c.Fetch = loadFetchConfig(c.Fetch)
	c.Search = loadSearchConfig(c.Search)
	c.Redis = loadRedisConfig(c.Redis)
	c.Ledger = loadLedgerConfig(c.Ledger)
	c.Observability = loadObservabilityConfig(c.Observability)
}

func loadServerConfig(cur ServerConfig) ServerConfig {
	return ServerConfig{
		Host:            getEnv("SITEPULSE_HOST", cur.Host),
		Port:            getEnv("SITEPULSE_PORT", cur.Port),
		ReadTimeout:     getEnvDuration("SITEPULSE_READ_TIMEOUT", cur.ReadTimeout),
		WriteTimeout:    getEnvDuration("SITEPULSE_WRITE_TIMEOUT", cur.WriteTimeout),
		IdleTimeout:     getEnvDuration("SITEPULSE_IDLE_TIMEOUT", cur.IdleTimeout),
		ShutdownTimeout: getEnvDuration("SITEPULSE_SHUTDOWN_TIMEOUT", cur.ShutdownTimeout),
	}
}

func loadSettings(cur Settings) Settings {
	return Settings{
		Domain:            getEnv("SITEPULSE_DOMAIN", cur.Domain),
		CoreURL:           getEnv("SITEPULSE_CORE_URL", cur.CoreURL),
		CustomDatabaseURL: getEnv("SITEPULSE_CUSTOM_DATABASE_URL", cur.CustomDatabaseURL),
		APIKey:            getEnv("SITEPULSE_API_KEY", cur.APIKey),
	}
}

// loadAnalyticsConfig also honours the unprefixed GA_CLIENT_EMAIL and
// GA_PRIVATE_KEY variables used by existing deployments.
func loadAnalyticsConfig(cur AnalyticsConfig) AnalyticsConfig {
	email := getEnv("GA_CLIENT_EMAIL", cur.ClientEmail)
	key := getEnv("GA_PRIVATE_KEY", cur.PrivateKey)
	return AnalyticsConfig{
		ClientEmail: getEnv("SITEPULSE_GA_CLIENT_EMAIL", email),
		PrivateKey:  getEnv("SITEPULSE_GA_PRIVATE_KEY", key),
		TokenURL:    getEnv("SITEPULSE_GA_TOKEN_URL", cur.TokenURL),
		Endpoint:    getEnv("SITEPULSE_GA_ENDPOINT", cur.Endpoint),
		StartDate:   getEnv("SITEPULSE_GA_START_DATE", cur.StartDate),
		EndDate:     getEnv("SITEPULSE_GA_END_DATE", cur.EndDate),
		RowLimit:    getEnvInt("SITEPULSE_GA_ROW_LIMIT", cur.RowLimit),
	}
}

func loadSchedulerConfig(cur SchedulerConfig) SchedulerConfig {
	return SchedulerConfig{
		Enabled:            getEnvBool("SITEPULSE_SCHEDULER_ENABLED", cur.Enabled),
		Schedule:           getEnv("SITEPULSE_SCHEDULE", cur.Schedule),
		RunOnStart:         getEnvBool("SITEPULSE_RUN_ON_START", cur.RunOnStart),
		SiteConcurrency:    getEnvInt("SITEPULSE_SITE_CONCURRENCY", cur.SiteConcurrency),
		ResolveConcurrency: getEnvInt("SITEPULSE_RESOLVE_CONCURRENCY", cur.ResolveConcurrency),
		JobTimeout:         getEnvDuration("SITEPULSE_JOB_TIMEOUT", cur.JobTimeout),
		DispatchTimeout:    getEnvDuration("SITEPULSE_DISPATCH_TIMEOUT", cur.DispatchTimeout),
		LockTTL:            getEnvDuration("SITEPULSE_LOCK_TTL", cur.LockTTL),
	}
}

func loadFetchConfig(cur FetchConfig) FetchConfig {
	return FetchConfig{
		Timeout:        getEnvDuration("SITEPULSE_FETCH_TIMEOUT", cur.Timeout),
		MaxAttempts:    getEnvInt("SITEPULSE_FETCH_MAX_ATTEMPTS", cur.MaxAttempts),
		InitialBackoff: getEnvDuration("SITEPULSE_FETCH_INITIAL_BACKOFF", cur.InitialBackoff),
		MaxBackoff:     getEnvDuration("SITEPULSE_FETCH_MAX_BACKOFF", cur.MaxBackoff),
		RateLimit:      getEnvFloat("SITEPULSE_FETCH_RATE_LIMIT", cur.RateLimit),
		RateBurst:      getEnvInt("SITEPULSE_FETCH_RATE_BURST", cur.RateBurst),
	}
}

func loadSearchConfig(cur SearchConfig) SearchConfig {
	return SearchConfig{
		CacheSize:  getEnvInt("SITEPULSE_SEARCH_CACHE_SIZE", cur.CacheSize),
		CacheTTL:   getEnvDuration("SITEPULSE_SEARCH_CACHE_TTL", cur.CacheTTL),
		RateLimit:  getEnvInt("SITEPULSE_SEARCH_RATE_LIMIT", cur.RateLimit),
		RateWindow: getEnvDuration("SITEPULSE_SEARCH_RATE_WINDOW", cur.RateWindow),
	}
}

func loadRedisConfig(cur RedisConfig) RedisConfig {
	return RedisConfig{
		URL:      getEnv("SITEPULSE_REDIS_URL", cur.URL),
		Password: getEnv("SITEPULSE_REDIS_PASSWORD", cur.Password),
		DB:       getEnvInt("SITEPULSE_REDIS_DB", cur.DB),
	}
}

func loadLedgerConfig(cur LedgerConfig) LedgerConfig {
	return LedgerConfig{
		PostgresURL: getEnv("SITEPULSE_POSTGRES_URL", cur.PostgresURL),
		MaxConns:    getEnvInt("SITEPULSE_POSTGRES_MAX_CONNS", cur.MaxConns),
	}
}

func loadObservabilityConfig(cur ObservabilityConfig) ObservabilityConfig {
	level := cur.LogLevel
	if raw := os.Getenv("SITEPULSE_LOG_LEVEL"); raw != "" {
		level = parseLogLevel(raw)
	}
	return ObservabilityConfig{
		LogLevel:           level,
		MetricsEnabled:     getEnvBool("SITEPULSE_METRICS_ENABLED", cur.MetricsEnabled),
		OTelEnabled:        getEnvBool("SITEPULSE_OTEL_ENABLED", cur.OTelEnabled),
		OTelEndpoint:       getEnv("SITEPULSE_OTEL_ENDPOINT", cur.OTelEndpoint),
		OTelServiceName:    getEnv("SITEPULSE_OTEL_SERVICE_NAME", cur.OTelServiceName),
		OTelServiceVersion: getEnv("SITEPULSE_OTEL_SERVICE_VERSION", cur.OTelServiceVersion),
		OTelInsecure:       getEnvBool("SITEPULSE_OTEL_INSECURE", cur.OTelInsecure),
		OTelSampleRatio:    getEnvFloat("SITEPULSE_OTEL_SAMPLE_RATIO", cur.OTelSampleRatio),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Settings.Domain == "" {
		return fmt.Errorf("domain is required")
	}
	if _, err := url.ParseRequestURI(c.Settings.CoreURL); err != nil {
		return fmt.Errorf("invalid core URL %q: %w", c.Settings.CoreURL, err)
	}
	if !strings.Contains(c.Settings.CustomDatabaseURL, "{site}") {
		return fmt.Errorf("custom database URL template must contain {site}")
	}
	if c.Settings.APIKey == "" {
		return fmt.Errorf("API key is required")
	}

	if c.Scheduler.Enabled {
		if _, err := cron.ParseStandard(c.Scheduler.Schedule); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", c.Scheduler.Schedule, err)
		}
		if c.Analytics.ClientEmail == "" || c.Analytics.PrivateKey == "" {
			return fmt.Errorf("analytics client email and private key are required when the scheduler is enabled")
		}
	}
	if c.Scheduler.SiteConcurrency <= 0 {
		return fmt.Errorf("site concurrency must be positive")
	}
	if c.Scheduler.ResolveConcurrency <= 0 {
		return fmt.Errorf("resolve concurrency must be positive")
	}
	if c.Scheduler.JobTimeout <= 0 {
		return fmt.Errorf("job timeout must be positive")
	}
	if c.Scheduler.DispatchTimeout < c.Scheduler.JobTimeout {
		return fmt.Errorf("dispatch timeout must be at least the job timeout")
	}
	if c.Scheduler.LockTTL <= c.Scheduler.DispatchTimeout {
		return fmt.Errorf("lock TTL must be longer than the dispatch timeout")
	}

	if c.Search.RateLimit > 0 && c.Search.RateWindow <= 0 {
		return fmt.Errorf("search rate window must be positive when rate limiting is enabled")
	}

	if c.Fetch.MaxAttempts < 1 {
		return fmt.Errorf("fetch max attempts must be at least 1")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
}

// CoreAPI returns the core REST endpoint for a collection, e.g. {core}/api/posts
func (s Settings) CoreAPI(collection string) string {
	return strings.TrimRight(s.CoreURL, "/") + "/api/" + collection
}

// GraphQLEndpoint returns the core GraphQL endpoint
func (s Settings) GraphQLEndpoint() string {
	return strings.TrimRight(s.CoreURL, "/") + "/api/graphql"
}

// ErrInvalidSiteSlug is returned when a site slug cannot name a custom database host
var ErrInvalidSiteSlug = errors.New("invalid site slug")

var siteSlugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// ValidSiteSlug reports whether slug is a well-formed site slug. Only these
// can be substituted into the custom database host.
func ValidSiteSlug(slug string) bool {
	return len(slug) <= 63 && siteSlugPattern.MatchString(slug)
}

// CustomDatabase returns the origin of a site's isolated database. The
// result is always a bare scheme://host[:port] and, when the template names
// {domain}, a host under Domain.
func (s Settings) CustomDatabase(siteSlug string) (string, error) {
	if !ValidSiteSlug(siteSlug) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSiteSlug, siteSlug)
	}

	r := strings.NewReplacer("{site}", siteSlug, "{domain}", s.Domain)
	origin := strings.TrimRight(r.Replace(s.CustomDatabaseURL), "/")

	u, err := url.Parse(origin)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.ForceQuery || u.Fragment != "" {
		return "", fmt.Errorf("%w: %q does not form a database origin", ErrInvalidSiteSlug, siteSlug)
	}
	if s.Domain != "" && strings.Contains(s.CustomDatabaseURL, "{domain}") {
		host := u.Hostname()
		if host != s.Domain && !strings.HasSuffix(host, "."+s.Domain) {
			return "", fmt.Errorf("%w: %q resolves outside %s", ErrInvalidSiteSlug, siteSlug, s.Domain)
		}
	}
	return origin, nil
}

// CustomAPI returns a site's custom database REST endpoint for a collection
func (s Settings) CustomAPI(siteSlug, collection string) (string, error) {
	origin, err := s.CustomDatabase(siteSlug)
	if err != nil {
		return "", err
	}
	return origin + "/api/" + url.PathEscape(collection), nil
}

// parseLogLevel parses a log level string, defaulting to info
func parseLogLevel(level string) observability.LogLevel {
	if l, ok := observability.ParseLogLevel(level); ok {
		return l
	}
	return observability.InfoLevel
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
