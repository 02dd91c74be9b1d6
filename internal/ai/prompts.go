// Package ai 提供自然语言转SQL的生成链路
package ai

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"
	"go.uber.org/zap"

	"github.com/RinNiko/TalkToDBAgent/internal/repository"
	"github.com/RinNiko/TalkToDBAgent/internal/service"
)

// PromptContext 构建完成的提示词上下文
type PromptContext struct {
	System          string `json:"system"`           // 系统指令
	User            string `json:"user"`             // 渲染后的用户提示词
	SchemaText      string `json:"schema_text"`      // 序列化后的结构描述
	SchemaTruncated bool   `json:"schema_truncated"` // 结构描述是否被截断
}

// 系统指令：约束模型只产出单条只读SQL
const sqlSystemPrompt = `你是一个将自然语言转换为SQL的专家。
只生成一条只读的SELECT语句，不要任何解释文字，不要Markdown代码块之外的内容。
禁止任何INSERT、UPDATE、DELETE、DROP、CREATE、ALTER、TRUNCATE操作。
字段名和表名必须与给出的数据库结构完全一致，不得臆造。`

// 用户提示词模板
const sqlUserPromptTemplate = `## 数据库方言
{{.dialect}}

## 数据库结构
{{.schema}}

## 用户问题
{{.question}}

只返回一条SQL语句：`

// 无结构信息时的简化模板
const sqlUserPromptTemplateNoSchema = `## 数据库方言
{{.dialect}}

## 用户问题
{{.question}}

只返回一条SQL语句：`

// 抽取失败后的纠正指令
const correctiveInstruction = `你上一次的回答无法解析为单条SQL。
请只返回一条完整的SELECT语句，不要解释、不要多条语句、不要空回答。`

// PromptBuilder 提示词构建器
// 纯转换：把请求与结构快照拼装成有界的提示词上下文，无任何副作用
type PromptBuilder struct {
	logger *zap.Logger

	// 配置参数
	maxColumnsPerTable int // 单表列数上限，超出部分确定性截断

	userTemplate         prompts.PromptTemplate
	userTemplateNoSchema prompts.PromptTemplate
}

// PromptBuilderConfig 提示词构建器配置
type PromptBuilderConfig struct {
	MaxColumnsPerTable int `json:"max_columns_per_table"` // 默认40
}

// NewPromptBuilder 创建提示词构建器
func NewPromptBuilder(logger *zap.Logger) *PromptBuilder {
	config := &PromptBuilderConfig{
		MaxColumnsPerTable: 40,
	}

	return NewPromptBuilderWithConfig(config, logger)
}

// NewPromptBuilderWithConfig 使用自定义配置创建提示词构建器
func NewPromptBuilderWithConfig(config *PromptBuilderConfig, logger *zap.Logger) *PromptBuilder {
	if config == nil {
		return NewPromptBuilder(logger)
	}

	if config.MaxColumnsPerTable <= 0 {
		config.MaxColumnsPerTable = 40
	}

	return &PromptBuilder{
		logger:             logger,
		maxColumnsPerTable: config.MaxColumnsPerTable,
		userTemplate: prompts.NewPromptTemplate(
			sqlUserPromptTemplate, []string{"dialect", "schema", "question"}),
		userTemplateNoSchema: prompts.NewPromptTemplate(
			sqlUserPromptTemplateNoSchema, []string{"dialect", "question"}),
	}
}

// Build 构建提示词上下文
// snapshot为nil或includeSchema为false时不附带结构描述
func (pb *PromptBuilder) Build(question string, dialect repository.Dialect, snapshot *service.SchemaSnapshot, includeSchema bool) (*PromptContext, error) {
	context := &PromptContext{System: sqlSystemPrompt}

	if includeSchema && snapshot != nil {
		context.SchemaText, context.SchemaTruncated = pb.serializeSchema(snapshot)

		rendered, err := pb.userTemplate.Format(map[string]any{
			"dialect":  string(dialect),
			"schema":   context.SchemaText,
			"question": question,
		})
		if err != nil {
			return nil, fmt.Errorf("渲染提示词模板失败: %w", err)
		}
		context.User = rendered
	} else {
		rendered, err := pb.userTemplateNoSchema.Format(map[string]any{
			"dialect":  string(dialect),
			"question": question,
		})
		if err != nil {
			return nil, fmt.Errorf("渲染提示词模板失败: %w", err)
		}
		context.User = rendered
	}

	if context.SchemaTruncated {
		pb.logger.Warn("结构描述被截断",
			zap.Int64("connection_id", snapshot.ConnectionID),
			zap.Int("max_columns_per_table", pb.maxColumnsPerTable))
	}

	return context, nil
}

// serializeSchema 将快照序列化为有界的结构描述
// 截断是确定性的：每表最多maxColumnsPerTable列，表本身绝不静默丢弃
func (pb *PromptBuilder) serializeSchema(snapshot *service.SchemaSnapshot) (string, bool) {
	var builder strings.Builder
	truncated := false

	for _, table := range snapshot.Tables {
		if table.Schema != "" && table.Schema != "public" {
			builder.WriteString(fmt.Sprintf("表 %s.%s", table.Schema, table.Name))
		} else {
			builder.WriteString(fmt.Sprintf("表 %s", table.Name))
		}
		if table.EstimatedRows >= 0 {
			builder.WriteString(fmt.Sprintf("（约%d行）", table.EstimatedRows))
		}
		builder.WriteString(":\n")

		columns := table.Columns
		if len(columns) > pb.maxColumnsPerTable {
			columns = columns[:pb.maxColumnsPerTable]
			truncated = true
		}

		for _, column := range columns {
			builder.WriteString(fmt.Sprintf("  - %s %s", column.Name, column.DeclaredType))
			if column.IsPrimaryKey {
				builder.WriteString(" [主键]")
			} else if column.IsUnique {
				builder.WriteString(" [唯一]")
			}
			if !column.Nullable {
				builder.WriteString(" [非空]")
			}
			builder.WriteString("\n")
		}

		if len(table.Columns) > pb.maxColumnsPerTable {
			builder.WriteString(fmt.Sprintf("  ...（省略%d列）\n", len(table.Columns)-pb.maxColumnsPerTable))
		}
		builder.WriteString("\n")
	}

	return strings.TrimRight(builder.String(), "\n"), truncated
}
