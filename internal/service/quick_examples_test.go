package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuickExamples(t *testing.T) {
	snapshot := &SchemaSnapshot{
		ConnectionID: 1,
		DatabaseName: "shop",
		CapturedAt:   time.Now().UTC(),
		Tables: []Table{
			{Name: "orders", EstimatedRows: 1000, Columns: []Column{
				{Name: "id", DeclaredType: "bigint", IsPrimaryKey: true},
				{Name: "status", DeclaredType: "varchar(32)"},
				{Name: "amount", DeclaredType: "numeric(10,2)"},
				{Name: "created_at", DeclaredType: "timestamptz"},
			}},
		},
	}

	examples := QuickExamples(snapshot)
	require.NotEmpty(t, examples)

	assert.Contains(t, examples, "查询 orders 表的前10条记录")
	assert.Contains(t, examples, "按 status 分组统计 orders 的数量")
	assert.Contains(t, examples, "统计 orders 表中 amount 的总和与平均值")
	assert.Contains(t, examples, "按 created_at 查看 orders 最近的记录")
}

func TestQuickExamples_Bounded(t *testing.T) {
	snapshot := &SchemaSnapshot{ConnectionID: 1, DatabaseName: "big", CapturedAt: time.Now().UTC()}
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		snapshot.Tables = append(snapshot.Tables, Table{Name: name, Columns: []Column{
			{Name: "label", DeclaredType: "text"},
		}})
	}

	examples := QuickExamples(snapshot)
	assert.LessOrEqual(t, len(examples), maxQuickExamples)
}

func TestQuickExamples_SkipsIdentifierColumns(t *testing.T) {
	snapshot := &SchemaSnapshot{
		ConnectionID: 1,
		DatabaseName: "shop",
		CapturedAt:   time.Now().UTC(),
		Tables: []Table{
			{Name: "events", Columns: []Column{
				{Name: "trace_id", DeclaredType: "varchar(64)"},
				{Name: "kind", DeclaredType: "varchar(16)"},
			}},
		},
	}

	examples := QuickExamples(snapshot)
	// ID类文本列不做分组轴
	assert.Contains(t, examples, "按 kind 分组统计 events 的数量")
	assert.NotContains(t, examples, "按 trace_id 分组统计 events 的数量")
}

func TestQuickExamples_Degenerate(t *testing.T) {
	assert.Nil(t, QuickExamples(nil))
	assert.Nil(t, QuickExamples(&SchemaSnapshot{ConnectionID: 1}))
}

func TestQuickExamples_Deterministic(t *testing.T) {
	snapshot := &SchemaSnapshot{
		ConnectionID: 1,
		DatabaseName: "shop",
		CapturedAt:   time.Now().UTC(),
		Tables: []Table{
			{Name: "orders", Columns: []Column{
				{Name: "status", DeclaredType: "text"},
				{Name: "total", DeclaredType: "numeric"},
			}},
		},
	}

	first := QuickExamples(snapshot)
	second := QuickExamples(snapshot)
	assert.Equal(t, first, second)
}
