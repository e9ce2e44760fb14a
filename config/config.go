package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mohammad-safakhou/roadbook/internal/agent/core"
)

// Config holds all configuration for the roadbook system.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Search    SearchConfig    `mapstructure:"search"`
	Images    ImagesConfig    `mapstructure:"images"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Indexer   IndexerConfig   `mapstructure:"indexer"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// LLMConfig contains the generation/judge/embedding provider settings.
type LLMConfig struct {
	Provider        string        `mapstructure:"provider"` // openai or azure_openai
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	Model           string        `mapstructure:"model"`
	JudgeModel      string        `mapstructure:"judge_model"` // empty means Model
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	Temperature     float64       `mapstructure:"temperature"`
	TopP            float64       `mapstructure:"top_p"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
	CostPer1KInput  float64       `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64       `mapstructure:"cost_per_1k_output"`
}

// SearchConfig contains retriever settings.
type SearchConfig struct {
	Provider   string        `mapstructure:"provider"` // azure or qdrant
	Endpoint   string        `mapstructure:"endpoint"`
	APIKey     string        `mapstructure:"api_key"`
	Index      string        `mapstructure:"index"`
	APIVersion string        `mapstructure:"api_version"`
	Semantic   string        `mapstructure:"semantic_configuration"`
	TopK       int           `mapstructure:"top_k"`
	Timeout    time.Duration `mapstructure:"timeout"`

	// Qdrant backend settings, ignored for azure.
	QdrantAddr       string `mapstructure:"qdrant_addr"`
	QdrantCollection string `mapstructure:"qdrant_collection"`
}

// ImagesConfig contains image relevance filter settings.
type ImagesConfig struct {
	Mode      string   `mapstructure:"mode"` // keyword or llm_judge
	Threshold float64  `mapstructure:"threshold"`
	MaxImages int      `mapstructure:"max_images"`
	Lexicon   []string `mapstructure:"lexicon"` // empty means built-in default
	Verify    bool     `mapstructure:"verify"`  // probe image URLs before returning them
}

// CacheConfig contains answer cache settings.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address    string `mapstructure:"address"`
	JWTSecret  string `mapstructure:"jwt_secret"`
	Highlights bool   `mapstructure:"highlights"` // include highlighted snippets in ask responses
}

// StorageConfig contains storage and persistence settings.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DSN builds a connection string, preferring an explicit URL.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == 0 {
		port = 5432
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// IndexerConfig contains settings for the external indexing pipeline.
type IndexerConfig struct {
	Endpoint           string        `mapstructure:"endpoint"` // search service management endpoint
	APIKey             string        `mapstructure:"api_key"`
	Name               string        `mapstructure:"name"`
	Skillset           string        `mapstructure:"skillset"`
	DataSource         string        `mapstructure:"data_source"`
	APIVersion         string        `mapstructure:"api_version"`
	BlobEndpoint       string        `mapstructure:"blob_endpoint"`
	BlobSASToken       string        `mapstructure:"blob_sas_token"`
	DocumentsContainer string        `mapstructure:"documents_container"`
	ImagesContainer    string        `mapstructure:"images_container"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	PollTimeout        time.Duration `mapstructure:"poll_timeout"`
	ScheduleCron       string        `mapstructure:"schedule_cron"` // empty disables the refresh loop
}

// TelemetryConfig contains telemetry and monitoring settings.
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	LogFile      string `mapstructure:"log_file"`
	CostTracking bool   `mapstructure:"cost_tracking"`
	PeriodicLogs bool   `mapstructure:"periodic_logs"`
}

// LoadConfig loads configuration from file and environment variables.
// path may name a specific config file; empty means the default lookup
// (./config/roadbook.json, ./roadbook.json).
func LoadConfig(path string) (*Config, error) {
	// Best-effort .env so local runs pick up API keys without exporting.
	_ = godotenv.Load()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("roadbook")
		v.SetConfigType("json")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ROADBOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional; defaults plus env are a valid configuration.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	overrideFromEnv(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults seeds the original product tuning. These are defaults, not
// invariants; any of them may be overridden per deployment.
func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.default_timeout", "30s")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.embedding_model", "text-embedding-3-small")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.top_p", 0.95)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.timeout", "120s")

	v.SetDefault("search.provider", "azure")
	v.SetDefault("search.index", "driving-rules-hybrid")
	v.SetDefault("search.api_version", "2024-07-01")
	v.SetDefault("search.semantic_configuration", "default")
	v.SetDefault("search.top_k", 5)
	v.SetDefault("search.timeout", "30s")
	v.SetDefault("search.qdrant_collection", "driving-rules")

	v.SetDefault("images.mode", "keyword")
	v.SetDefault("images.threshold", 0.75)
	v.SetDefault("images.max_images", 5)
	v.SetDefault("images.verify", false)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", "1h")

	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.highlights", true)

	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.postgres.timeout", "5s")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.timeout", "5s")

	v.SetDefault("indexer.name", "driving-manual-indexer")
	v.SetDefault("indexer.skillset", "driving-manual-skillset")
	v.SetDefault("indexer.data_source", "driving-manuals-blob")
	v.SetDefault("indexer.api_version", "2024-07-01")
	v.SetDefault("indexer.documents_container", "documents")
	v.SetDefault("indexer.images_container", "extracted-images")
	v.SetDefault("indexer.poll_interval", "10s")
	v.SetDefault("indexer.poll_timeout", "30m")

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.cost_tracking", true)
	v.SetDefault("telemetry.periodic_logs", false)
}

// overrideFromEnv maps well-known environment variables onto config keys so
// credentials never have to live in the config file.
func overrideFromEnv(v *viper.Viper) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		v.Set("llm.api_key", key)
	}
	if key := os.Getenv("AZURE_OPENAI_API_KEY"); key != "" {
		v.Set("llm.api_key", key)
		v.Set("llm.provider", "azure_openai")
	}
	if ep := os.Getenv("AZURE_OPENAI_ENDPOINT"); ep != "" {
		v.Set("llm.base_url", ep)
	}
	if key := os.Getenv("SEARCH_API_KEY"); key != "" {
		v.Set("search.api_key", key)
		v.Set("indexer.api_key", key)
	}
	if ep := os.Getenv("SEARCH_ENDPOINT"); ep != "" {
		v.Set("search.endpoint", ep)
		v.Set("indexer.endpoint", ep)
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		v.Set("storage.postgres.url", url)
	}
	if host := os.Getenv("REDIS_HOST"); host != "" {
		v.Set("storage.redis.host", host)
	}
	if pass := os.Getenv("REDIS_PASSWORD"); pass != "" {
		v.Set("storage.redis.password", pass)
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		v.Set("server.jwt_secret", secret)
	}
	if sas := os.Getenv("BLOB_SAS_TOKEN"); sas != "" {
		v.Set("indexer.blob_sas_token", sas)
	}
}

// Validate checks ranges and enumerations once, at configuration time.
// Pipeline calls never re-validate these settings.
func (c *Config) Validate() error {
	if err := c.Images.Validate(); err != nil {
		return err
	}
	if err := c.Search.Validate(); err != nil {
		return err
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("%w: llm.temperature must be within [0,2], got %g", core.ErrInvalidConfig, c.LLM.Temperature)
	}
	if c.LLM.TopP < 0 || c.LLM.TopP > 1 {
		return fmt.Errorf("%w: llm.top_p must be within [0,1], got %g", core.ErrInvalidConfig, c.LLM.TopP)
	}
	if c.LLM.MaxTokens < 0 {
		return fmt.Errorf("%w: llm.max_tokens must be >= 0, got %d", core.ErrInvalidConfig, c.LLM.MaxTokens)
	}
	return nil
}

func (s SearchConfig) Validate() error {
	switch s.Provider {
	case "azure", "qdrant":
	default:
		return fmt.Errorf("%w: search.provider must be azure or qdrant, got %q", core.ErrInvalidConfig, s.Provider)
	}
	if s.TopK < 1 {
		return fmt.Errorf("%w: search.top_k must be >= 1, got %d", core.ErrInvalidConfig, s.TopK)
	}
	return nil
}

func (i ImagesConfig) Validate() error {
	switch i.Mode {
	case "keyword", "llm_judge":
	default:
		return fmt.Errorf("%w: images.mode must be keyword or llm_judge, got %q", core.ErrInvalidConfig, i.Mode)
	}
	if i.Threshold < 0 || i.Threshold > 1 {
		return fmt.Errorf("%w: images.threshold must be within [0,1], got %g", core.ErrInvalidConfig, i.Threshold)
	}
	if i.MaxImages < 0 {
		return fmt.Errorf("%w: images.max_images must be >= 0, got %d", core.ErrInvalidConfig, i.MaxImages)
	}
	return nil
}
