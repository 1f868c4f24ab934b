package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/investment-research/research"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Log        LogConfig       `mapstructure:"log"`
	Agent      AgentConfig     `mapstructure:"agent"`
	Guardrails GuardrailConfig `mapstructure:"guardrails"`
	LLM        LLMConfig       `mapstructure:"llm"`
	Cost       CostConfig      `mapstructure:"cost"`
	Cache      CacheConfig     `mapstructure:"cache"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
	Ledger     LedgerConfig    `mapstructure:"ledger"`
	Data       DataConfig      `mapstructure:"data"`
}

// LogConfig controls the zerolog root logger.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error disabled"`
	Pretty bool   `mapstructure:"pretty"` // console writer instead of JSON lines
}

// AgentConfig stores orchestration settings.
type AgentConfig struct {
	Tools         []string      `mapstructure:"tools"`          // allow-list override; empty means free tools
	Offline       bool          `mapstructure:"offline"`        // use fixture data sources
	UseLLM        bool          `mapstructure:"use_llm"`        // enable routing/summary via a provider
	InferTickers  bool          `mapstructure:"infer_tickers"`  // pull tickers out of the query text
	ParallelTools int           `mapstructure:"parallel_tools"` // 1 keeps EXECUTE strictly sequential
	ToolTimeout   time.Duration `mapstructure:"tool_timeout" validate:"gt=0"`
	EnableTracing bool          `mapstructure:"enable_tracing"`
}

// GuardrailConfig stores the hard bounds applied to every query.
type GuardrailConfig struct {
	MaxToolCalls   int      `mapstructure:"max_tool_calls" validate:"min=1"`
	MaxTickers     int      `mapstructure:"max_tickers" validate:"min=1"`
	AllowedPeriods []string `mapstructure:"allowed_periods" validate:"min=1,dive,required"`
	DefaultPeriod  string   `mapstructure:"default_period" validate:"required"`
	ProxyTickers   []string `mapstructure:"proxy_tickers" validate:"min=1,dive,required"`
}

// LLMConfig stores language model settings.
type LLMConfig struct {
	Provider      string        `mapstructure:"provider" validate:"oneof=auto none openai anthropic gemini llama"`
	Model         string        `mapstructure:"model"` // empty picks the provider default
	MaxTokens     int           `mapstructure:"max_tokens" validate:"min=1"`
	Temperature   float32       `mapstructure:"temperature" validate:"gte=0,lte=2"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Routing       bool          `mapstructure:"routing"`        // LLM picks the tool plan
	ContextTokens int           `mapstructure:"context_tokens"` // budget for tool outputs in the summary prompt

	OpenAIAPIKey    string `mapstructure:"openai_api_key"`
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	GeminiAPIKey    string `mapstructure:"gemini_api_key"`

	LlamaModelPath string `mapstructure:"llama_model_path"`
	LlamaContext   int    `mapstructure:"llama_context"`
	LlamaGPULayers int    `mapstructure:"llama_gpu_layers"`
}

// CostConfig toggles token cost accounting.
type CostConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// CacheConfig stores tool result cache settings.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Backend  string        `mapstructure:"backend" validate:"oneof=ristretto lru"`
	Capacity int           `mapstructure:"capacity" validate:"min=1"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// RateLimitConfig stores the LLM call limiter settings.
type RateLimitConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Capacity   int           `mapstructure:"capacity" validate:"min=1"`
	RefillRate time.Duration `mapstructure:"refill_rate" validate:"gt=0"`
}

// LedgerConfig stores the persistent cost ledger settings.
type LedgerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// DataConfig stores market data source settings.
type DataConfig struct {
	YahooBaseURL string        `mapstructure:"yahoo_base_url" validate:"omitempty,url"`
	NewsAPIURL   string        `mapstructure:"newsapi_url" validate:"omitempty,url"`
	NewsAPIKey   string        `mapstructure:"newsapi_key"`
	HTTPTimeout  time.Duration `mapstructure:"http_timeout" validate:"gt=0"`
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		viper.AddConfigPath(internal.DefaultConfigPath)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	SetDefaults(viper.GetViper())

	// Provider keys keep their conventional names
	_ = viper.BindEnv("llm.openai_api_key", "OPENAI_API_KEY")
	_ = viper.BindEnv("llm.anthropic_api_key", "ANTHROPIC_API_KEY")
	_ = viper.BindEnv("llm.gemini_api_key", "GEMINI_API_KEY")
	_ = viper.BindEnv("data.newsapi_key", "NEWS_API_KEY")

	viper.AutomaticEnv()
	// Replace dots with underscores in env var names e.g. llm.max_tokens becomes LLM_MAX_TOKENS
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Defaults and environment are enough to run
	}

	cfg, err := decode()
	if err != nil {
		return nil, err
	}

	AppConfig = *cfg
	return &AppConfig, nil
}

// SetDefaults registers every known key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)

	v.SetDefault("agent.tools", []string{})
	v.SetDefault("agent.offline", false)
	v.SetDefault("agent.use_llm", false)
	v.SetDefault("agent.infer_tickers", false)
	v.SetDefault("agent.parallel_tools", 1)
	v.SetDefault("agent.tool_timeout", "20s")
	v.SetDefault("agent.enable_tracing", false)

	v.SetDefault("guardrails.max_tool_calls", internal.DefaultMaxToolCalls)
	v.SetDefault("guardrails.max_tickers", internal.DefaultMaxTickers)
	v.SetDefault("guardrails.allowed_periods", internal.DefaultAllowedPeriods())
	v.SetDefault("guardrails.default_period", internal.DefaultPeriod)
	v.SetDefault("guardrails.proxy_tickers", internal.DefaultProxyTickers())

	v.SetDefault("llm.provider", "auto")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.max_tokens", internal.DefaultMaxTokens)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.timeout", "45s")
	v.SetDefault("llm.routing", false)
	v.SetDefault("llm.context_tokens", 3000)
	v.SetDefault("llm.llama_context", 4096)
	v.SetDefault("llm.llama_gpu_layers", 0)

	v.SetDefault("cost.enabled", false)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.backend", "ristretto")
	v.SetDefault("cache.capacity", 1000)
	v.SetDefault("cache.ttl", "15m")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.capacity", 10)
	v.SetDefault("rate_limit.refill_rate", "1s")

	v.SetDefault("ledger.enabled", false)
	v.SetDefault("ledger.path", internal.DefaultLedgerPath)

	v.SetDefault("data.yahoo_base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("data.newsapi_url", "https://newsapi.org/v2/everything")
	v.SetDefault("data.http_timeout", "10s")
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if !slices.Contains(c.Guardrails.AllowedPeriods, c.Guardrails.DefaultPeriod) {
		return fmt.Errorf("invalid configuration: default period %q is not an allowed period", c.Guardrails.DefaultPeriod)
	}
	if c.Agent.ParallelTools < 1 {
		c.Agent.ParallelTools = 1
	}
	return nil
}

// Watch reloads the configuration whenever the active config file changes and
// hands the new snapshot to onChange. Invalid edits are reported through
// onError and the previous snapshot stays in effect.
func Watch(onChange func(*Config), onError func(error)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode()
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		AppConfig = *cfg
		onChange(cfg)
	})
	viper.WatchConfig()
}

func decode() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
