package ai

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RinNiko/TalkToDBAgent/internal/repository"
	"github.com/RinNiko/TalkToDBAgent/internal/service"
)

func promptSnapshot() *service.SchemaSnapshot {
	return &service.SchemaSnapshot{
		ConnectionID: 1,
		DatabaseName: "shop",
		CapturedAt:   time.Now().UTC(),
		Tables: []service.Table{
			{Name: "orders", EstimatedRows: 1000000, Columns: []service.Column{
				{Name: "id", DeclaredType: "bigint", IsPrimaryKey: true},
				{Name: "customer_id", DeclaredType: "bigint"},
				{Name: "amount", DeclaredType: "numeric(10,2)"},
			}},
			{Name: "customers", EstimatedRows: -1, Columns: []service.Column{
				{Name: "id", DeclaredType: "bigint", IsPrimaryKey: true},
				{Name: "email", DeclaredType: "varchar(255)", IsUnique: true, Nullable: true},
			}},
		},
	}
}

func TestBuild_WithSchema(t *testing.T) {
	builder := NewPromptBuilder(zap.NewNop())

	promptContext, err := builder.Build("统计每位客户的消费总额", repository.DialectPostgres, promptSnapshot(), true)
	require.NoError(t, err)

	assert.NotEmpty(t, promptContext.System)
	assert.Contains(t, promptContext.User, "postgres")
	assert.Contains(t, promptContext.User, "统计每位客户的消费总额")

	// 结构描述带表名、行数和键标记
	assert.Contains(t, promptContext.SchemaText, "表 orders（约1000000行）:")
	assert.Contains(t, promptContext.SchemaText, "id bigint [主键]")
	assert.Contains(t, promptContext.SchemaText, "email varchar(255) [唯一]")
	// 行数未知的表不带行数标注
	assert.Contains(t, promptContext.SchemaText, "表 customers:")
	assert.False(t, promptContext.SchemaTruncated)
}

func TestBuild_WithoutSchema(t *testing.T) {
	builder := NewPromptBuilder(zap.NewNop())

	t.Run("显式关闭结构描述", func(t *testing.T) {
		promptContext, err := builder.Build("查询订单", repository.DialectMySQL, promptSnapshot(), false)
		require.NoError(t, err)

		assert.Empty(t, promptContext.SchemaText)
		assert.NotContains(t, promptContext.User, "数据库结构")
		assert.Contains(t, promptContext.User, "mysql")
	})

	t.Run("快照缺失", func(t *testing.T) {
		promptContext, err := builder.Build("查询订单", repository.DialectMySQL, nil, true)
		require.NoError(t, err)

		assert.Empty(t, promptContext.SchemaText)
		assert.NotContains(t, promptContext.User, "数据库结构")
	})
}

func TestBuild_ColumnTruncation(t *testing.T) {
	builder := NewPromptBuilderWithConfig(&PromptBuilderConfig{MaxColumnsPerTable: 2}, zap.NewNop())

	promptContext, err := builder.Build("查询订单", repository.DialectPostgres, promptSnapshot(), true)
	require.NoError(t, err)

	assert.True(t, promptContext.SchemaTruncated)
	// orders有3列，截断到2列并标注省略数
	assert.Contains(t, promptContext.SchemaText, "...（省略1列）")
	assert.NotContains(t, promptContext.SchemaText, "amount")
	// 表本身绝不丢弃
	assert.Contains(t, promptContext.SchemaText, "表 orders")
	assert.Contains(t, promptContext.SchemaText, "表 customers")
}

func TestBuild_SchemaQualifiedTables(t *testing.T) {
	builder := NewPromptBuilder(zap.NewNop())

	snapshot := promptSnapshot()
	snapshot.Tables[0].Schema = "analytics"
	snapshot.Tables[1].Schema = "public"

	promptContext, err := builder.Build("查询订单", repository.DialectPostgres, snapshot, true)
	require.NoError(t, err)

	// public模式省略前缀，其他模式保留
	assert.Contains(t, promptContext.SchemaText, "表 analytics.orders")
	assert.Contains(t, promptContext.SchemaText, "表 customers")
	assert.NotContains(t, promptContext.SchemaText, "public.customers")
}

func TestBuild_Deterministic(t *testing.T) {
	builder := NewPromptBuilder(zap.NewNop())
	snapshot := promptSnapshot()

	first, err := builder.Build("查询订单", repository.DialectPostgres, snapshot, true)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		next, err := builder.Build("查询订单", repository.DialectPostgres, snapshot, true)
		require.NoError(t, err)
		assert.Equal(t, first.User, next.User)
		assert.Equal(t, first.SchemaText, next.SchemaText)
	}
}

func TestSerializeSchema_NotNullMarker(t *testing.T) {
	builder := NewPromptBuilder(zap.NewNop())

	snapshot := promptSnapshot()
	text, _ := builder.serializeSchema(snapshot)

	lines := strings.Split(text, "\n")
	var amountLine string
	for _, line := range lines {
		if strings.Contains(line, "amount") {
			amountLine = line
		}
	}
	require.NotEmpty(t, amountLine)
	assert.Contains(t, amountLine, "[非空]")
}
