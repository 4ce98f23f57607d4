package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/markdave123-py/chatbase/internal/models"
)

// Config holds all runtime configuration of the service.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Chunker   ChunkerConfig   `mapstructure:"chunker"`
	Retriever RetrieverConfig `mapstructure:"retriever"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Ingestion IngestionConfig `mapstructure:"ingestion"`
	Chat      ChatConfig      `mapstructure:"chat"`
}

type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
}

type StorageConfig struct {
	Driver   string         `mapstructure:"driver"` // postgres | memory
	Postgres PostgresConfig `mapstructure:"postgres"`
	Object   ObjectConfig   `mapstructure:"object"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	DatabaseURL  string `mapstructure:"database_url"`
	SslCertPath  string `mapstructure:"ssl_cert_path"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type ObjectConfig struct {
	Driver       string `mapstructure:"driver"` // s3 | memory
	AwsAccessKey string `mapstructure:"aws_access_key"`
	AwsSecretKey string `mapstructure:"aws_secret_key"`
	AwsRegion    string `mapstructure:"aws_region"`
	BucketName   string `mapstructure:"bucket_name"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ChunkerConfig struct {
	TokenizerID     string `mapstructure:"tokenizer_id"`
	Mode            string `mapstructure:"mode"` // paragraph | token
	ChunkSizeTokens int    `mapstructure:"chunk_size_tokens"`
	OverlapTokens   int    `mapstructure:"overlap_tokens"`
}

type RetrieverConfig struct {
	TopK          int           `mapstructure:"top_k"`
	MinScore      float64       `mapstructure:"min_score"`
	HistoryWindow int           `mapstructure:"history_window"`
	Stopwords     []string      `mapstructure:"stopwords"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type GatewayConfig struct {
	CallTimeout      time.Duration             `mapstructure:"call_timeout"`
	DefaultMaxTokens int                       `mapstructure:"default_max_tokens"`
	ContextBudget    int                       `mapstructure:"context_budget"`
	Retry            RetryConfig               `mapstructure:"retry"`
	Providers        map[string]ProviderConfig `mapstructure:"providers"`
}

type RetryConfig struct {
	TimeoutRetries     int           `mapstructure:"timeout_retries"`
	RateLimitRetries   int           `mapstructure:"rate_limit_retries"`
	ServerErrorRetries int           `mapstructure:"server_error_retries"`
	RateLimitBase      time.Duration `mapstructure:"rate_limit_base"`
	JitterMin          time.Duration `mapstructure:"jitter_min"`
	JitterMax          time.Duration `mapstructure:"jitter_max"`
}

type ProviderConfig struct {
	APIKey        string `mapstructure:"api_key"`
	BaseURL       string `mapstructure:"base_url"`
	ContextBudget int    `mapstructure:"context_budget"`
}

type QuotaConfig struct {
	DefaultPlan   string                       `mapstructure:"default_plan"`
	ResetSchedule string                       `mapstructure:"reset_schedule"`
	Plans         map[string]models.PlanLimits `mapstructure:"plans"`
}

type FetchConfig struct {
	HTTPTimeout  time.Duration `mapstructure:"http_timeout"`
	MaxRedirects int           `mapstructure:"max_redirects"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
	UserAgent    string        `mapstructure:"user_agent"`
}

type IngestionConfig struct {
	LightWorkers int           `mapstructure:"light_workers"`
	HeavyWorkers int           `mapstructure:"heavy_workers"`
	JobTimeout   time.Duration `mapstructure:"job_timeout"`
}

type ChatConfig struct {
	LockDriver string        `mapstructure:"lock_driver"` // local | redis
	LockShards int           `mapstructure:"lock_shards"`
	LockTTL    time.Duration `mapstructure:"lock_ttl"`
	TurnBudget time.Duration `mapstructure:"turn_budget"`
}

// legacyEnv maps the plain environment names used by existing deployments
// onto configuration keys.
var legacyEnv = map[string]string{
	"server.port":                              "PORT",
	"server.jwt_secret":                        "JWT_SECRET",
	"storage.postgres.database_url":            "DATABASE_URL",
	"storage.postgres.ssl_cert_path":           "SSL_CERT_PATH",
	"storage.object.aws_access_key":            "AWS_ACCESS_KEY",
	"storage.object.aws_secret_key":            "AWS_SECRET_KEY",
	"storage.object.aws_region":                "AWS_REGION",
	"storage.object.bucket_name":               "BUCKET_NAME",
	"storage.redis.addr":                       "REDIS_ADDR",
	"gateway.providers.openai_like.api_key":    "OPENAI_API_KEY",
	"gateway.providers.anthropic_like.api_key": "ANTHROPIC_API_KEY",
	"gateway.providers.google_like.api_key":    "GEMINI_API_KEY",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://localhost:8888"})
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.max_upload_bytes", int64(256<<20))

	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("storage.postgres.auto_migrate", true)
	v.SetDefault("storage.postgres.max_open_conns", 20)
	v.SetDefault("storage.postgres.max_idle_conns", 10)
	v.SetDefault("storage.object.driver", "s3")
	v.SetDefault("storage.object.aws_region", "us-east-2")
	v.SetDefault("storage.object.bucket_name", "chatbase-sources")
	v.SetDefault("storage.redis.addr", "localhost:6379")

	v.SetDefault("chunker.tokenizer_id", "cl100k_base")
	v.SetDefault("chunker.mode", "paragraph")
	v.SetDefault("chunker.chunk_size_tokens", 600)
	v.SetDefault("chunker.overlap_tokens", 100)

	v.SetDefault("retriever.top_k", 2)
	v.SetDefault("retriever.min_score", 0.4)
	v.SetDefault("retriever.history_window", 10)
	v.SetDefault("retriever.timeout", 5*time.Second)

	v.SetDefault("gateway.call_timeout", 30*time.Second)
	v.SetDefault("gateway.default_max_tokens", 500)
	v.SetDefault("gateway.context_budget", 16000)
	v.SetDefault("gateway.retry.timeout_retries", 1)
	v.SetDefault("gateway.retry.rate_limit_retries", 2)
	v.SetDefault("gateway.retry.server_error_retries", 2)
	v.SetDefault("gateway.retry.rate_limit_base", 500*time.Millisecond)
	v.SetDefault("gateway.retry.jitter_min", 100*time.Millisecond)
	v.SetDefault("gateway.retry.jitter_max", 400*time.Millisecond)
	v.SetDefault("gateway.providers.openai_like.base_url", "https://api.openai.com")
	v.SetDefault("gateway.providers.anthropic_like.base_url", "https://api.anthropic.com")
	v.SetDefault("gateway.providers.google_like.base_url", "")

	v.SetDefault("quota.default_plan", "free")
	v.SetDefault("quota.reset_schedule", "0 0 1 * *")

	v.SetDefault("fetch.http_timeout", 20*time.Second)
	v.SetDefault("fetch.max_redirects", 5)
	v.SetDefault("fetch.max_body_bytes", int64(100<<20))
	v.SetDefault("fetch.user_agent", "chatbase-ingest/1.0")

	v.SetDefault("ingestion.light_workers", runtime.NumCPU()*2)
	v.SetDefault("ingestion.heavy_workers", 2)
	v.SetDefault("ingestion.job_timeout", 5*time.Minute)

	v.SetDefault("chat.lock_driver", "local")
	v.SetDefault("chat.lock_shards", 64)
	v.SetDefault("chat.lock_ttl", 2*time.Minute)
	v.SetDefault("chat.turn_budget", 90*time.Second)
}

// DefaultPlans is used when no plans are configured.
func DefaultPlans() map[string]models.PlanLimits {
	return map[string]models.PlanLimits{
		"free":         {MaxChatbots: 1, MaxMessagesPerMonth: 100, MaxFileUploads: 5, MaxWebsiteSources: 2, MaxTextSources: 5},
		"starter":      {MaxChatbots: 3, MaxMessagesPerMonth: 2000, MaxFileUploads: 50, MaxWebsiteSources: 20, MaxTextSources: 50},
		"professional": {MaxChatbots: 10, MaxMessagesPerMonth: 10000, MaxFileUploads: 500, MaxWebsiteSources: 100, MaxTextSources: 500},
		"enterprise":   {MaxChatbots: -1, MaxMessagesPerMonth: -1, MaxFileUploads: -1, MaxWebsiteSources: -1, MaxTextSources: -1},
	}
}

// LoadConfig loads .env, an optional config file and CHATBASE_* variables.
// An empty path searches ./config and the working directory for config.{yaml,json}.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("CHATBASE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if _, ok := os.LookupEnv(env); ok {
			_ = v.BindEnv(key, "CHATBASE_"+strings.ToUpper(strings.NewReplacer(".", "_").Replace(key)), env)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize fills derived defaults that viper cannot express.
func (c *Config) Normalize() {
	if len(c.Quota.Plans) == 0 {
		c.Quota.Plans = DefaultPlans()
	}
	if c.Gateway.Providers == nil {
		c.Gateway.Providers = map[string]ProviderConfig{}
	}
	if c.Ingestion.LightWorkers <= 0 {
		c.Ingestion.LightWorkers = runtime.NumCPU() * 2
	}
	if c.Ingestion.HeavyWorkers <= 0 {
		c.Ingestion.HeavyWorkers = 1
	}
	if c.Chat.LockShards <= 0 {
		c.Chat.LockShards = 64
	}
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Storage.Object.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Object.Driver))
}

// Validate rejects configurations the core cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres":
		if c.Storage.Postgres.DatabaseURL == "" {
			return errors.New("DATABASE_URL not set")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Storage.Object.Driver {
	case "s3", "memory":
	default:
		return fmt.Errorf("unknown object storage driver %q", c.Storage.Object.Driver)
	}
	if err := c.Chunker.Validate(); err != nil {
		return err
	}
	if c.Retriever.TopK <= 0 {
		return errors.New("retriever.top_k must be positive")
	}
	if c.Retriever.MinScore < 0 || c.Retriever.MinScore > 1 {
		return errors.New("retriever.min_score must be within [0,1]")
	}
	if _, ok := c.Quota.Plans[c.Quota.DefaultPlan]; !ok {
		return fmt.Errorf("default plan %q is not configured", c.Quota.DefaultPlan)
	}
	if c.Chat.LockDriver == "redis" && !c.Storage.Redis.Enabled {
		log.Printf("WARN: chat.lock_driver=redis without storage.redis.enabled, redis will be dialed at %s", c.Storage.Redis.Addr)
	}
	return nil
}

// Validate enforces 0 < overlap < chunk size.
func (c ChunkerConfig) Validate() error {
	if c.ChunkSizeTokens <= 0 {
		return errors.New("chunker.chunk_size_tokens must be positive")
	}
	if c.OverlapTokens <= 0 || c.OverlapTokens >= c.ChunkSizeTokens {
		return fmt.Errorf("chunker.overlap_tokens must be in (0, %d)", c.ChunkSizeTokens)
	}
	switch c.Mode {
	case "paragraph", "token":
	default:
		return fmt.Errorf("unknown chunker mode %q", c.Mode)
	}
	return nil
}

// Provider returns the settings of one provider kind.
func (g GatewayConfig) Provider(kind string) ProviderConfig {
	return g.Providers[kind]
}
