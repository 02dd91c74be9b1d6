package ai

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/RinNiko/TalkToDBAgent/internal/repository"
	"github.com/RinNiko/TalkToDBAgent/internal/service"
)

// GenerationRequest SQL生成请求
type GenerationRequest struct {
	Prompt        string      `json:"prompt"`         // 自然语言问题
	ConnectionID  int64       `json:"connection_id"`  // 目标连接
	Provider      LLMProvider `json:"provider"`       // 提供商（可选）
	Model         string      `json:"model"`          // 模型（可选）
	Temperature   float64     `json:"temperature"`    // 采样温度
	IncludeSchema bool        `json:"include_schema"` // 是否附带结构描述
}

// SQLCandidate 生成的候选SQL，尚未通过守卫校验
type SQLCandidate struct {
	SQL             string `json:"sql"`              // 抽取出的单条语句
	RawResponse     string `json:"-"`                // 模型原始回复（仅日志用）
	SchemaTruncated bool   `json:"schema_truncated"` // 提示词结构描述是否被截断
	Retried         bool   `json:"retried"`          // 是否经过一次纠正重试
}

// GenerationError 补全能力失败（提供商错误、超时等）
type GenerationError struct {
	Provider string
	Model    string
	Cause    error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("sql generation failed [provider=%s model=%s]: %v", e.Provider, e.Model, e.Cause)
}

func (e *GenerationError) Unwrap() error { return e.Cause }

// ExtractionError 无法从模型回复中抽取出单条SQL
type ExtractionError struct {
	Reason   string
	Response string // 回复片段（截断）
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("sql extraction failed: %s", e.Reason)
}

// SQLGenerator SQL生成编排器
// 构建提示词、调用补全能力、抽取单条语句；抽取失败时做且只做一次纠正重试
type SQLGenerator struct {
	completer Completer
	builder   *PromptBuilder
	logger    *zap.Logger
}

// NewSQLGenerator 创建SQL生成编排器
func NewSQLGenerator(completer Completer, builder *PromptBuilder, logger *zap.Logger) *SQLGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SQLGenerator{
		completer: completer,
		builder:   builder,
		logger:    logger,
	}
}

// Generate 生成一条候选SQL
// 补全能力失败返回*GenerationError；重试后仍无法抽取返回*ExtractionError
func (g *SQLGenerator) Generate(ctx context.Context, req *GenerationRequest, dialect repository.Dialect, snapshot *service.SchemaSnapshot) (*SQLCandidate, error) {
	promptContext, err := g.builder.Build(req.Prompt, dialect, snapshot, req.IncludeSchema)
	if err != nil {
		return nil, err
	}

	completion := &CompletionRequest{
		Provider:    req.Provider,
		Model:       req.Model,
		Temperature: req.Temperature,
		System:      promptContext.System,
		Prompt:      promptContext.User,
	}

	response, err := g.completer.Complete(ctx, completion)
	if err != nil {
		return nil, &GenerationError{Provider: string(req.Provider), Model: req.Model, Cause: err}
	}

	candidate, extractErr := extractSQL(response)
	if extractErr == nil {
		candidate.SchemaTruncated = promptContext.SchemaTruncated
		g.logGenerated(req, candidate)
		return candidate, nil
	}

	// 最常见的失败模式是模型把SQL包在解释文字里，追加纠正指令重试一次
	g.logger.Warn("SQL抽取失败，尝试纠正重试",
		zap.Int64("connection_id", req.ConnectionID),
		zap.String("reason", extractErr.Reason))

	completion.Prompt = promptContext.User + "\n\n" + correctiveInstruction
	response, err = g.completer.Complete(ctx, completion)
	if err != nil {
		return nil, &GenerationError{Provider: string(req.Provider), Model: req.Model, Cause: err}
	}

	candidate, extractErr = extractSQL(response)
	if extractErr != nil {
		return nil, extractErr
	}

	candidate.SchemaTruncated = promptContext.SchemaTruncated
	candidate.Retried = true
	g.logGenerated(req, candidate)
	return candidate, nil
}

func (g *SQLGenerator) logGenerated(req *GenerationRequest, candidate *SQLCandidate) {
	g.logger.Info("SQL候选已生成",
		zap.Int64("connection_id", req.ConnectionID),
		zap.Bool("retried", candidate.Retried),
		zap.Bool("schema_truncated", candidate.SchemaTruncated),
		zap.Int("sql_length", len(candidate.SQL)))
}

// codeFencePattern Markdown代码块
var codeFencePattern = regexp.MustCompile("(?s)```(?:sql|SQL)?\\s*(.*?)```")

// selectStartPattern 语句起始词的词边界匹配
var selectStartPattern = regexp.MustCompile(`(?is)\b(select|with)\b`)

// extractSQL 从模型回复中抽取单条SQL
// 剥离代码块、定位语句起点、拒绝多语句与空结果
func extractSQL(response string) (*SQLCandidate, *ExtractionError) {
	text := strings.TrimSpace(response)
	if text == "" {
		return nil, &ExtractionError{Reason: "empty response"}
	}

	// 优先取代码块内容
	if match := codeFencePattern.FindStringSubmatch(text); match != nil {
		text = strings.TrimSpace(match[1])
	}

	// 回复可能以解释文字开头，从第一个SELECT/WITH词边界截取
	loc := selectStartPattern.FindStringIndex(text)
	if loc == nil {
		return nil, &ExtractionError{
			Reason:   "no SELECT statement found in response",
			Response: snippet(response),
		}
	}
	text = strings.TrimSpace(text[loc[0]:])

	statements, err := service.SplitStatements(text)
	if err != nil {
		return nil, &ExtractionError{
			Reason:   fmt.Sprintf("response is not parseable SQL: %v", err),
			Response: snippet(response),
		}
	}

	switch len(statements) {
	case 0:
		return nil, &ExtractionError{Reason: "empty statement", Response: snippet(response)}
	case 1:
		return &SQLCandidate{SQL: statements[0], RawResponse: response}, nil
	default:
		return nil, &ExtractionError{
			Reason:   fmt.Sprintf("response contains %d statements, expected exactly one", len(statements)),
			Response: snippet(response),
		}
	}
}

// snippet 截取回复片段用于错误上下文
func snippet(s string) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) > 200 {
		return string(runes[:200]) + "..."
	}
	return s
}
