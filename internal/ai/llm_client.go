// LLM客户端工厂和路由管理
// 支持OpenAI、Anthropic、Ollama多种提供商
// 基于LangChainGo的统一接口设计
package ai

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
)

// LLMProvider LLM提供商类型
type LLMProvider string

const (
	ProviderOpenAI    LLMProvider = "openai"
	ProviderAnthropic LLMProvider = "anthropic"
	ProviderOllama    LLMProvider = "ollama"
)

// CompletionRequest 一次补全请求
type CompletionRequest struct {
	Provider    LLMProvider // 为空时使用默认提供商
	Model       string      // 为空时使用提供商默认模型
	Temperature float64
	System      string // 系统指令
	Prompt      string // 用户内容
}

// Completer 补全能力的抽象
// 生成编排器只依赖这个接口，测试时可注入返回固定或对抗性文本的假实现
type Completer interface {
	Complete(ctx context.Context, req *CompletionRequest) (string, error)
}

// ProviderConfig 单个提供商的配置
type ProviderConfig struct {
	APIKey       string `json:"-"`             // 凭证不参与序列化
	BaseURL      string `json:"base_url"`      // 自定义接入点（可选）
	DefaultModel string `json:"default_model"` // 默认模型
}

// LLMClientConfig LLM客户端配置
type LLMClientConfig struct {
	OpenAI          *ProviderConfig `json:"openai,omitempty"`
	Anthropic       *ProviderConfig `json:"anthropic,omitempty"`
	Ollama          *ProviderConfig `json:"ollama,omitempty"`
	DefaultProvider LLMProvider     `json:"default_provider"`
	RequestTimeout  time.Duration   `json:"request_timeout"` // 单次补全超时，默认60秒
}

// ModelInfo 可用模型描述（模型列表接口使用）
type ModelInfo struct {
	Provider     string `json:"provider"`
	DefaultModel string `json:"default_model"`
}

// LLMClient 统一的LLM客户端
// 按(provider, model)惰性创建并缓存LangChainGo模型实例
type LLMClient struct {
	config     *LLMClientConfig
	httpClient *http.Client
	logger     *zap.Logger

	models sync.Map // key: "provider/model", value: llms.Model
}

// NewLLMClient 创建LLM客户端
func NewLLMClient(config *LLMClientConfig, logger *zap.Logger) (*LLMClient, error) {
	if config == nil {
		return nil, fmt.Errorf("LLM客户端配置不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 60 * time.Second
	}
	if config.DefaultProvider == "" {
		switch {
		case config.OpenAI != nil:
			config.DefaultProvider = ProviderOpenAI
		case config.Anthropic != nil:
			config.DefaultProvider = ProviderAnthropic
		case config.Ollama != nil:
			config.DefaultProvider = ProviderOllama
		default:
			return nil, fmt.Errorf("没有配置任何LLM提供商")
		}
	}

	return &LLMClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
		},
		logger: logger,
	}, nil
}

// Complete 执行一次补全并返回首个候选文本
func (c *LLMClient) Complete(ctx context.Context, req *CompletionRequest) (string, error) {
	provider := req.Provider
	if provider == "" {
		provider = c.config.DefaultProvider
	}

	model, err := c.modelFor(provider, req.Model)
	if err != nil {
		return "", err
	}

	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeHuman, req.Prompt),
	}
	if req.System != "" {
		messages = append([]llms.MessageContent{
			llms.TextParts(schema.ChatMessageTypeSystem, req.System),
		}, messages...)
	}

	var options []llms.CallOption
	if req.Temperature > 0 {
		options = append(options, llms.WithTemperature(req.Temperature))
	}

	response, err := model.GenerateContent(ctx, messages, options...)
	if err != nil {
		return "", fmt.Errorf("LLM调用失败 [%s]: %w", provider, err)
	}
	if len(response.Choices) == 0 || response.Choices[0].Content == "" {
		return "", fmt.Errorf("LLM返回空响应 [%s]", provider)
	}

	return response.Choices[0].Content, nil
}

// ListModels 返回已配置的提供商及其默认模型
func (c *LLMClient) ListModels() []ModelInfo {
	var models []ModelInfo
	if c.config.OpenAI != nil {
		models = append(models, ModelInfo{Provider: string(ProviderOpenAI), DefaultModel: c.config.OpenAI.DefaultModel})
	}
	if c.config.Anthropic != nil {
		models = append(models, ModelInfo{Provider: string(ProviderAnthropic), DefaultModel: c.config.Anthropic.DefaultModel})
	}
	if c.config.Ollama != nil {
		models = append(models, ModelInfo{Provider: string(ProviderOllama), DefaultModel: c.config.Ollama.DefaultModel})
	}
	return models
}

// modelFor 获取或创建指定提供商与模型的实例
func (c *LLMClient) modelFor(provider LLMProvider, modelName string) (llms.Model, error) {
	providerConfig, err := c.providerConfig(provider)
	if err != nil {
		return nil, err
	}

	if modelName == "" {
		modelName = providerConfig.DefaultModel
	}
	if modelName == "" {
		return nil, fmt.Errorf("提供商 %s 未配置默认模型", provider)
	}

	key := string(provider) + "/" + modelName
	if value, ok := c.models.Load(key); ok {
		return value.(llms.Model), nil
	}

	model, err := c.createModel(provider, providerConfig, modelName)
	if err != nil {
		return nil, fmt.Errorf("创建LLM实例失败 [%s/%s]: %w", provider, modelName, err)
	}

	c.models.Store(key, model)
	c.logger.Info("LLM实例已创建",
		zap.String("provider", string(provider)),
		zap.String("model", modelName))

	return model, nil
}

// providerConfig 查找提供商配置
func (c *LLMClient) providerConfig(provider LLMProvider) (*ProviderConfig, error) {
	switch provider {
	case ProviderOpenAI:
		if c.config.OpenAI != nil {
			return c.config.OpenAI, nil
		}
	case ProviderAnthropic:
		if c.config.Anthropic != nil {
			return c.config.Anthropic, nil
		}
	case ProviderOllama:
		if c.config.Ollama != nil {
			return c.config.Ollama, nil
		}
	default:
		return nil, fmt.Errorf("不支持的LLM提供商: %s", provider)
	}
	return nil, fmt.Errorf("提供商 %s 未配置", provider)
}

// createModel 创建特定提供商的模型实例
func (c *LLMClient) createModel(provider LLMProvider, config *ProviderConfig, modelName string) (llms.Model, error) {
	switch provider {
	case ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(config.APIKey),
			openai.WithModel(modelName),
			openai.WithHTTPClient(c.httpClient),
		}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		return openai.New(opts...)

	case ProviderAnthropic:
		opts := []anthropic.Option{
			anthropic.WithToken(config.APIKey),
			anthropic.WithModel(modelName),
			anthropic.WithHTTPClient(c.httpClient),
		}
		return anthropic.New(opts...)

	case ProviderOllama:
		opts := []ollama.Option{
			ollama.WithModel(modelName),
			ollama.WithHTTPClient(c.httpClient),
		}
		if config.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(config.BaseURL))
		}
		return ollama.New(opts...)
	}

	return nil, fmt.Errorf("不支持的LLM提供商: %s", provider)
}
