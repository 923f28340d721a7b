package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the assistant core
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Server    ServerConfig    `mapstructure:"server"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// LLMConfig contains the completion/embedding provider configuration
type LLMConfig struct {
	Provider       LLMProvider      `mapstructure:"provider"`
	Routing        LLMRoutingConfig `mapstructure:"routing"`
	EmbeddingModel string           `mapstructure:"embedding_model"`
}

// LLMProvider represents a single completion provider configuration
type LLMProvider struct {
	Type    string              `mapstructure:"type"` // openai
	APIKey  string              `mapstructure:"api_key"`
	BaseURL string              `mapstructure:"base_url"`
	Models  map[string]LLMModel `mapstructure:"models"`
	Timeout time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name        string  `mapstructure:"name"`
	APIName     string  `mapstructure:"api_name"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// LLMRoutingConfig defines which model to use for each pipeline call
type LLMRoutingConfig struct {
	Dates     string `mapstructure:"dates"`     // date extraction (small/fast)
	Reasoning string `mapstructure:"reasoning"` // insight + intent extraction
	Synthesis string `mapstructure:"synthesis"` // final answer synthesis
	Enrich    string `mapstructure:"enrich"`    // intent quantification
	Fallback  string `mapstructure:"fallback"`
}

// KnowledgeConfig contains the factual-knowledge service settings
type KnowledgeConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

// PipelineConfig contains per-turn pipeline settings
type PipelineConfig struct {
	HistoryTopK        int           `mapstructure:"history_top_k"`
	SessionWindow      int           `mapstructure:"session_window"`
	SessionTTL         time.Duration `mapstructure:"session_ttl"`
	PersistTimeout     time.Duration `mapstructure:"persist_timeout"`
	MaxConcurrentTurns int           `mapstructure:"max_concurrent_turns"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
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

// RedisConfig contains Redis connection settings for the session cache
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// DSN builds a Postgres connection string from the configured fields.
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

// LoadConfig loads configuration from file and environment variables
func LoadConfig() (*Config, error) {
	viper.SetConfigName("vital_config")
	viper.SetConfigType("json")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("VITAL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// Config file is optional - defaults apply when absent
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("general.debug", false)
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "30s")

	viper.SetDefault("llm.provider.type", "openai")
	viper.SetDefault("llm.provider.timeout", "60s")
	viper.SetDefault("llm.embedding_model", "text-embedding-3-small")
	viper.SetDefault("llm.routing.dates", "gpt-5-nano")
	viper.SetDefault("llm.routing.reasoning", "gpt-5")
	viper.SetDefault("llm.routing.synthesis", "gpt-5")
	viper.SetDefault("llm.routing.enrich", "gpt-5-nano")
	viper.SetDefault("llm.routing.fallback", "gpt-5-nano")

	viper.SetDefault("knowledge.base_url", "https://api.perplexity.ai")
	viper.SetDefault("knowledge.model", "sonar")
	viper.SetDefault("knowledge.timeout", "45s")

	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.metrics_port", 9090)

	viper.SetDefault("pipeline.history_top_k", 5)
	viper.SetDefault("pipeline.session_window", 10)
	viper.SetDefault("pipeline.session_ttl", "24h")
	viper.SetDefault("pipeline.persist_timeout", "15s")
	viper.SetDefault("pipeline.max_concurrent_turns", 8)

	viper.SetDefault("storage.postgres.host", "")
	viper.SetDefault("storage.postgres.port", 5432)
	viper.SetDefault("storage.postgres.sslmode", "disable")
	viper.SetDefault("storage.postgres.timeout", "5s")
	viper.SetDefault("storage.redis.host", "localhost")
	viper.SetDefault("storage.redis.port", 6379)
	viper.SetDefault("storage.redis.db", 0)
	viper.SetDefault("storage.redis.timeout", "5s")

	viper.SetDefault("server.address", ":8080")
}

// overrideFromEnv overrides configuration with environment variables
func overrideFromEnv() {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		viper.Set("llm.provider.api_key", apiKey)
	}
	if apiKey := os.Getenv("PERPLEXITY_API_KEY"); apiKey != "" {
		viper.Set("knowledge.api_key", apiKey)
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		viper.Set("server.jwt_secret", secret)
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		viper.Set("storage.postgres.url", url)
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		viper.Set("storage.postgres.host", host)
	}
	if port := os.Getenv("POSTGRES_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("storage.postgres.port", p)
		}
	}
	if user := os.Getenv("POSTGRES_USER"); user != "" {
		viper.Set("storage.postgres.user", user)
	}
	if pass := os.Getenv("POSTGRES_PASSWORD"); pass != "" {
		viper.Set("storage.postgres.password", pass)
	}
	if db := os.Getenv("POSTGRES_DB"); db != "" {
		viper.Set("storage.postgres.dbname", db)
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		viper.Set("storage.redis.host", host)
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("storage.redis.port", p)
		}
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		viper.Set("storage.redis.password", password)
	}
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config.LLM.Provider.Type == "" {
		return fmt.Errorf("llm provider type must be configured")
	}

	routingModels := []string{
		config.LLM.Routing.Dates,
		config.LLM.Routing.Reasoning,
		config.LLM.Routing.Synthesis,
		config.LLM.Routing.Enrich,
		config.LLM.Routing.Fallback,
	}
	for _, model := range routingModels {
		if model == "" {
			return fmt.Errorf("all llm routing entries must name a model")
		}
	}

	if len(config.LLM.Provider.Models) > 0 {
		for _, model := range routingModels {
			if _, ok := config.LLM.Provider.Models[model]; !ok {
				return fmt.Errorf("routing model '%s' not found in provider models", model)
			}
		}
	}

	if config.Pipeline.HistoryTopK <= 0 {
		return fmt.Errorf("pipeline.history_top_k must be positive")
	}
	if config.Pipeline.SessionWindow <= 0 {
		return fmt.Errorf("pipeline.session_window must be positive")
	}

	return nil
}
