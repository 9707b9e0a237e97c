// Package config loads the service configuration from defaults, an optional
// config.yaml, a .env file and LITREVIEW_* environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// PostgreSQL sslmode values.
const (
	SSLModeDisable    = "disable"
	SSLModeRequire    = "require"
	SSLModeVerifyCA   = "verify-ca"
	SSLModeVerifyFull = "verify-full"
)

// Storage backends.
const (
	StorageBackendFS       = "fs"
	StorageBackendPostgres = "postgres"
)

// PDF export engines.
const (
	PDFEngineFPDF   = "fpdf"
	PDFEngineChrome = "chrome"
)

// Config is the full service configuration. Every binary loads the same
// struct and ignores the sections it does not need.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Temporal TemporalConfig `mapstructure:"temporal"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	LLM      LLMConfig      `mapstructure:"llm"`
	OpenAlex OpenAlexConfig `mapstructure:"openalex"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Export   ExportConfig   `mapstructure:"export"`
}

type ServerConfig struct {
	Host        string `mapstructure:"host"`
	HTTPPort    int    `mapstructure:"http_port" validate:"min=1,max=65535"`
	GRPCPort    int    `mapstructure:"grpc_port" validate:"min=1,max=65535"`
	MetricsPort int    `mapstructure:"metrics_port" validate:"min=1,max=65535"` // worker only

	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"min=1,max=65535"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name" validate:"required"`
	SSLMode  string `mapstructure:"ssl_mode" validate:"oneof=disable allow prefer require verify-ca verify-full"`

	MaxConns          int32         `mapstructure:"max_conns" validate:"gtefield=MinConns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`

	MigrationPath    string `mapstructure:"migration_path"`
	MigrationAutoRun bool   `mapstructure:"migration_auto_run"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`

	// RunTimeout bounds one RunReview attempt; the server restarts a silent
	// attempt after HeartbeatTimeout, at most MaxActivityAttempts times.
	RunTimeout          time.Duration `mapstructure:"run_timeout"`
	HeartbeatTimeout    time.Duration `mapstructure:"heartbeat_timeout"`
	MaxActivityAttempts int32         `mapstructure:"max_activity_attempts"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=trace debug info warn error fatal panic"`
	Format     string `mapstructure:"format"` // json or console
	Output     string `mapstructure:"output"`
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// LLMConfig selects the completion provider. Only the selected provider's
// API key has to be present.
type LLMConfig struct {
	Provider string        `mapstructure:"provider" validate:"oneof=openai anthropic gemini"`
	Timeout  time.Duration `mapstructure:"timeout"`

	// PromptsFile replaces the embedded prompt templates when set.
	PromptsFile string `mapstructure:"prompts_file"`

	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"-" env:"LITREVIEW_LLM_OPENAI_API_KEY"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

type AnthropicConfig struct {
	APIKey  string `mapstructure:"-" env:"LITREVIEW_LLM_ANTHROPIC_API_KEY"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

type GeminiConfig struct {
	APIKey   string `mapstructure:"-" env:"LITREVIEW_LLM_GEMINI_API_KEY"`
	Model    string `mapstructure:"model"`
	Endpoint string `mapstructure:"endpoint"`
}

type OpenAlexConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Email      string        `mapstructure:"email"` // polite pool contact
	Timeout    time.Duration `mapstructure:"timeout"`
	RateLimit  float64       `mapstructure:"rate_limit"`
	MaxResults int           `mapstructure:"max_results"`
	Sort       string        `mapstructure:"sort"`
}

// PipelineConfig bounds one job run. Retry counts are attempts after the
// first one.
type PipelineConfig struct {
	AcquireWorkers   int `mapstructure:"acquire_workers" validate:"min=1"`
	ExtractWorkers   int `mapstructure:"extract_workers" validate:"min=1"`
	SummarizeWorkers int `mapstructure:"summarize_workers" validate:"min=1,ltefield=AcquireWorkers,ltefield=ExtractWorkers"`

	AcquireTimeout    time.Duration `mapstructure:"acquire_timeout" validate:"gt=0"`
	ExtractTimeout    time.Duration `mapstructure:"extract_timeout" validate:"gt=0"`
	SummarizeTimeout  time.Duration `mapstructure:"summarize_timeout" validate:"gt=0"`
	SynthesizeTimeout time.Duration `mapstructure:"synthesize_timeout" validate:"gt=0"`

	AcquireRetries    int           `mapstructure:"acquire_retries" validate:"min=0"`
	SummarizeRetries  int           `mapstructure:"summarize_retries" validate:"min=0"`
	SynthesizeRetries int           `mapstructure:"synthesize_retries" validate:"min=0"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`

	// SummarizeRate is shared by every summarize worker of a job.
	SummarizeRate  float64 `mapstructure:"summarize_rate"`
	SummarizeBurst int     `mapstructure:"summarize_burst"`

	MaxSegmentChars int `mapstructure:"max_segment_chars" validate:"min=1"`
	MaxSegments     int `mapstructure:"max_segments" validate:"min=1"`
	MinSummaryChars int `mapstructure:"min_summary_chars"`
	MaxCandidates   int `mapstructure:"max_candidates"`

	MinSourceBytes int64 `mapstructure:"min_source_bytes" validate:"min=0"`
	MaxSourceBytes int64 `mapstructure:"max_source_bytes" validate:"omitempty,gtefield=MinSourceBytes"`

	// MaxPendingJobs caps the open jobs of one owner.
	MaxPendingJobs int `mapstructure:"max_pending_jobs" validate:"min=1"`
}

type StorageConfig struct {
	Backend       string `mapstructure:"backend" validate:"oneof=fs postgres"`
	RootDir       string `mapstructure:"root_dir" validate:"required_if=Backend fs"`
	RetentionDays int    `mapstructure:"retention_days" validate:"min=1"`
}

// KafkaConfig covers both the lifecycle event writer and the cancel command
// reader.
type KafkaConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Brokers       []string      `mapstructure:"brokers" validate:"required_if=Enabled true"`
	EventsTopic   string        `mapstructure:"events_topic"`
	BatchSize     int           `mapstructure:"batch_size"`
	BatchTimeout  time.Duration `mapstructure:"batch_timeout"`
	CommandsTopic string        `mapstructure:"commands_topic"`
	GroupID       string        `mapstructure:"group_id"`
}

// AuthConfig enables HS256 bearer tokens on the /api routes.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Secret  string `mapstructure:"-" env:"LITREVIEW_AUTH_JWT_SECRET" validate:"required_if=Enabled true"`
	Issuer  string `mapstructure:"issuer"`
}

type ExportConfig struct {
	PDFEngine     string        `mapstructure:"pdf_engine" validate:"oneof=fpdf chrome"`
	ChromeTimeout time.Duration `mapstructure:"chrome_timeout"`
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

// GRPCAddress returns the gRPC server address.
func (c *ServerConfig) GRPCAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}

// MetricsAddress returns the worker metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Retention returns the storage retention window.
func (c *StorageConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Load loads configuration from a .env file, environment variables and config files.
func Load() (*Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("LITREVIEW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/review-pipeline")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
// These fields are tagged with mapstructure:"-" to prevent loading from config files.
func loadSecrets(cfg *Config) {
	cfg.LLM.OpenAI.APIKey = os.Getenv("LITREVIEW_LLM_OPENAI_API_KEY")
	cfg.LLM.Anthropic.APIKey = os.Getenv("LITREVIEW_LLM_ANTHROPIC_API_KEY")
	cfg.LLM.Gemini.APIKey = os.Getenv("LITREVIEW_LLM_GEMINI_API_KEY")
	cfg.Auth.Secret = os.Getenv("LITREVIEW_AUTH_JWT_SECRET")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "2m")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "litreview")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "review_pipeline")
	// Use LITREVIEW_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "review-pipeline")
	v.SetDefault("temporal.run_timeout", "2h")
	v.SetDefault("temporal.heartbeat_timeout", "2m")
	v.SetDefault("temporal.max_activity_attempts", 3)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "review_pipeline")

	// API keys are loaded exclusively from environment variables (see loadSecrets).
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.timeout", "90s")
	v.SetDefault("llm.prompts_file", "")
	v.SetDefault("llm.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.anthropic.model", "claude-3-5-haiku-latest")
	v.SetDefault("llm.anthropic.base_url", "https://api.anthropic.com")
	v.SetDefault("llm.gemini.model", "gemini-1.5-flash")
	v.SetDefault("llm.gemini.endpoint", "")

	v.SetDefault("openalex.base_url", "https://api.openalex.org")
	v.SetDefault("openalex.email", "")
	v.SetDefault("openalex.timeout", "30s")
	v.SetDefault("openalex.rate_limit", 10.0)
	v.SetDefault("openalex.max_results", 30)
	v.SetDefault("openalex.sort", "cited_by_count:desc")

	v.SetDefault("pipeline.acquire_workers", 8)
	v.SetDefault("pipeline.extract_workers", 4)
	v.SetDefault("pipeline.summarize_workers", 3)
	v.SetDefault("pipeline.acquire_timeout", "60s")
	v.SetDefault("pipeline.extract_timeout", "2m")
	v.SetDefault("pipeline.summarize_timeout", "2m")
	v.SetDefault("pipeline.synthesize_timeout", "5m")
	v.SetDefault("pipeline.acquire_retries", 2)
	v.SetDefault("pipeline.summarize_retries", 3)
	v.SetDefault("pipeline.synthesize_retries", 2)
	v.SetDefault("pipeline.initial_backoff", "2s")
	v.SetDefault("pipeline.max_backoff", "1m")
	v.SetDefault("pipeline.summarize_rate", 1.0)
	v.SetDefault("pipeline.summarize_burst", 1)
	v.SetDefault("pipeline.max_segment_chars", 7000)
	v.SetDefault("pipeline.max_segments", 3)
	v.SetDefault("pipeline.min_summary_chars", 100)
	v.SetDefault("pipeline.max_candidates", 30)
	v.SetDefault("pipeline.min_source_bytes", 50*1024)
	v.SetDefault("pipeline.max_source_bytes", 50*1024*1024)
	v.SetDefault("pipeline.max_pending_jobs", 3)

	v.SetDefault("storage.backend", StorageBackendFS)
	v.SetDefault("storage.root_dir", "data/sources")
	v.SetDefault("storage.retention_days", 30)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.events_topic", "events.review_pipeline")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")
	v.SetDefault("kafka.commands_topic", "commands.review_pipeline")
	v.SetDefault("kafka.group_id", "review-pipeline-worker")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.issuer", "")

	v.SetDefault("export.pdf_engine", PDFEngineFPDF)
	v.SetDefault("export.chrome_timeout", "30s")
}
