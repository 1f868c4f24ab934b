package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	internal "github.com/ZanzyTHEbar/investment-research/research"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigTestSuite tests the config package functionality
type ConfigTestSuite struct {
	suite.Suite
	tempDir string
	origDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) SetupTest() {
	viper.Reset()

	var err error
	suite.origDir, err = os.Getwd()
	require.NoError(suite.T(), err)

	suite.tempDir = suite.T().TempDir()
	require.NoError(suite.T(), os.Chdir(suite.tempDir))
}

func (suite *ConfigTestSuite) TearDownTest() {
	if suite.origDir != "" {
		_ = os.Chdir(suite.origDir)
	}
	viper.Reset()
}

func (suite *ConfigTestSuite) TestLoadConfigWithDefaults() {
	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), internal.DefaultMaxToolCalls, cfg.Guardrails.MaxToolCalls)
	assert.Equal(suite.T(), internal.DefaultMaxTickers, cfg.Guardrails.MaxTickers)
	assert.Equal(suite.T(), internal.DefaultAllowedPeriods(), cfg.Guardrails.AllowedPeriods)
	assert.Equal(suite.T(), "3mo", cfg.Guardrails.DefaultPeriod)
	assert.Equal(suite.T(), []string{"SPY", "QQQ", "TLT", "GLD"}, cfg.Guardrails.ProxyTickers)

	assert.Equal(suite.T(), "auto", cfg.LLM.Provider)
	assert.Equal(suite.T(), 500, cfg.LLM.MaxTokens)
	assert.Equal(suite.T(), 45*time.Second, cfg.LLM.Timeout)
	assert.Equal(suite.T(), 20*time.Second, cfg.Agent.ToolTimeout)
	assert.Equal(suite.T(), 1, cfg.Agent.ParallelTools)
	assert.Equal(suite.T(), "ristretto", cfg.Cache.Backend)
	assert.False(suite.T(), cfg.Cost.Enabled)
	assert.False(suite.T(), cfg.Ledger.Enabled)
	assert.Equal(suite.T(), internal.DefaultLedgerPath, cfg.Ledger.Path)
}

func (suite *ConfigTestSuite) TestLoadConfigWithFile() {
	configContent := `
agent:
  tools: ["market_snapshot", "sentiment_analysis"]
  parallel_tools: 3
guardrails:
  max_tool_calls: 4
  max_tickers: 2
  default_period: "6mo"
llm:
  provider: "anthropic"
  max_tokens: 800
  timeout: "5s"
cost:
  enabled: true
cache:
  backend: "lru"
  ttl: "1m"
`
	configFile := filepath.Join(suite.tempDir, "config.yaml")
	require.NoError(suite.T(), os.WriteFile(configFile, []byte(configContent), 0o644))

	cfg, err := LoadConfig(configFile)
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), []string{"market_snapshot", "sentiment_analysis"}, cfg.Agent.Tools)
	assert.Equal(suite.T(), 3, cfg.Agent.ParallelTools)
	assert.Equal(suite.T(), 4, cfg.Guardrails.MaxToolCalls)
	assert.Equal(suite.T(), 2, cfg.Guardrails.MaxTickers)
	assert.Equal(suite.T(), "6mo", cfg.Guardrails.DefaultPeriod)
	assert.Equal(suite.T(), "anthropic", cfg.LLM.Provider)
	assert.Equal(suite.T(), 800, cfg.LLM.MaxTokens)
	assert.Equal(suite.T(), 5*time.Second, cfg.LLM.Timeout)
	assert.True(suite.T(), cfg.Cost.Enabled)
	assert.Equal(suite.T(), "lru", cfg.Cache.Backend)
	assert.Equal(suite.T(), time.Minute, cfg.Cache.TTL)
}

func (suite *ConfigTestSuite) TestLoadConfigEnvironmentOverrides() {
	suite.T().Setenv("OPENAI_API_KEY", "sk-test")
	suite.T().Setenv("GUARDRAILS_MAX_TICKERS", "3")

	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), "sk-test", cfg.LLM.OpenAIAPIKey)
	assert.Equal(suite.T(), 3, cfg.Guardrails.MaxTickers)
}

func (suite *ConfigTestSuite) TestLoadConfigInvalidFile() {
	cfg, err := LoadConfig("/nonexistent/path/config.yaml")

	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestLoadConfigMalformedFile() {
	malformedContent := `
guardrails:
  max_tool_calls: 6
  allowed_periods: [unclosed bracket
`
	configFile := filepath.Join(suite.tempDir, "malformed.yaml")
	require.NoError(suite.T(), os.WriteFile(configFile, []byte(malformedContent), 0o644))

	cfg, err := LoadConfig(configFile)

	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestLoadConfigRejectsInvalidValues() {
	cases := map[string]string{
		"zero budget":          "guardrails:\n  max_tool_calls: 0\n",
		"unknown provider":     "llm:\n  provider: \"mystery\"\n",
		"default not allowed":  "guardrails:\n  default_period: \"5y\"\n",
		"unknown cache driver": "cache:\n  backend: \"redis\"\n",
	}

	for name, content := range cases {
		suite.Run(name, func() {
			viper.Reset()
			configFile := filepath.Join(suite.tempDir, "bad.yaml")
			require.NoError(suite.T(), os.WriteFile(configFile, []byte(content), 0o644))

			cfg, err := LoadConfig(configFile)
			assert.Error(suite.T(), err)
			assert.Nil(suite.T(), cfg)
		})
	}
}

func (suite *ConfigTestSuite) TestAppConfigGlobal() {
	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), cfg.Guardrails.MaxTickers, AppConfig.Guardrails.MaxTickers)
}

// TestValidateClampsParallelism tests that a non-positive fan-out is treated as sequential.
func TestValidateClampsParallelism(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	cfg.Agent.ParallelTools = 0

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.Agent.ParallelTools)
}

// BenchmarkLoadConfig benchmarks config loading performance
func BenchmarkLoadConfig(b *testing.B) {
	for b.Loop() {
		viper.Reset()
		if _, err := LoadConfig(""); err != nil {
			b.Fatal(err)
		}
	}
}
