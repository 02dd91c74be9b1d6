package config

import (
	"runtime"
	"time"

	"github.com/RinNiko/TalkToDBAgent/internal/ai"
)

// AppInfo 应用信息
type AppInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	GoVersion   string `json:"go_version"`
	Environment string `json:"environment"`
}

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Port            int           `json:"port"`
	Mode            string        `json:"mode"` // gin运行模式：debug/release
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// AppConfig 应用全量配置
type AppConfig struct {
	App      *AppInfo            `json:"app"`
	Server   *ServerConfig       `json:"server"`
	Database *DatabaseConfig     `json:"database"`
	LLM      *ai.LLMClientConfig `json:"llm"`

	// 守卫策略文件路径，为空则使用默认策略
	GuardrailPolicyPath string `json:"guardrail_policy_path"`

	// 结构快照默认有效期
	SchemaCacheTTL time.Duration `json:"schema_cache_ttl"`
}

// Load 从环境变量装配全量配置
func Load() *AppConfig {
	return &AppConfig{
		App: &AppInfo{
			Name:        "talktodb-agent",
			Version:     envString("APP_VERSION", "0.1.0"),
			GoVersion:   runtime.Version(),
			Environment: envString("APP_ENV", "development"),
		},
		Server: &ServerConfig{
			Port:            envInt("SERVER_PORT", 8080),
			Mode:            envString("GIN_MODE", "release"),
			ReadTimeout:     envDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    envDuration("SERVER_WRITE_TIMEOUT", 90*time.Second),
			ShutdownTimeout: envDuration("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Database:            DatabaseConfigFromEnv(),
		LLM:                 llmConfigFromEnv(),
		GuardrailPolicyPath: envString("GUARDRAIL_POLICY_PATH", ""),
		SchemaCacheTTL:      envDuration("SCHEMA_CACHE_TTL", 10*time.Minute),
	}
}

// llmConfigFromEnv 从环境变量装配LLM提供商配置
// 只有提供了凭证（或Ollama地址）的提供商才会被启用
func llmConfigFromEnv() *ai.LLMClientConfig {
	config := &ai.LLMClientConfig{
		DefaultProvider: ai.LLMProvider(envString("LLM_DEFAULT_PROVIDER", "")),
		RequestTimeout:  envDuration("LLM_REQUEST_TIMEOUT", 60*time.Second),
	}

	if apiKey := envString("OPENAI_API_KEY", ""); apiKey != "" {
		config.OpenAI = &ai.ProviderConfig{
			APIKey:       apiKey,
			BaseURL:      envString("OPENAI_BASE_URL", ""),
			DefaultModel: envString("OPENAI_MODEL", "gpt-4o-mini"),
		}
	}

	if apiKey := envString("ANTHROPIC_API_KEY", ""); apiKey != "" {
		config.Anthropic = &ai.ProviderConfig{
			APIKey:       apiKey,
			DefaultModel: envString("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
		}
	}

	if baseURL := envString("OLLAMA_BASE_URL", ""); baseURL != "" {
		config.Ollama = &ai.ProviderConfig{
			BaseURL:      baseURL,
			DefaultModel: envString("OLLAMA_MODEL", "llama3"),
		}
	}

	return config
}
