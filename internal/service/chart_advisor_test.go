package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chartColumns(names ...string) []ColumnDescriptor {
	columns := make([]ColumnDescriptor, len(names))
	for i, name := range names {
		columns[i] = ColumnDescriptor{Name: name}
	}
	return columns
}

// assertSingleBranch 直接映射与聚合映射恰好填充其一
func assertSingleBranch(t *testing.T, rec *ChartRecommendation) {
	t.Helper()
	direct := rec.XKey != "" || rec.YKey != "" || len(rec.YKeys) > 0
	aggregated := rec.GroupBy != "" || rec.Aggregate != "" || rec.ValueKey != ""
	assert.True(t, direct != aggregated, "建议应恰好填充一个映射分支: %+v", rec)
}

func TestSuggest_TopCustomersBar(t *testing.T) {
	advisor := NewChartAdvisor(zap.NewNop())

	columns := chartColumns("customer_id", "total_spend")
	rows := []Row{
		{"customer_id": int64(7), "total_spend": 900.0},
		{"customer_id": int64(3), "total_spend": 720.5},
		{"customer_id": int64(12), "total_spend": 510.0},
		{"customer_id": int64(9), "total_spend": 340.0},
		{"customer_id": int64(1), "total_spend": 120.0},
	}

	rec := advisor.Suggest(columns, rows, "top 5 customers by total spend")
	require.NotNil(t, rec)

	// ID类横轴给柱状图而不是饼图
	assert.Equal(t, ChartTypeBar, rec.Type)
	assert.Equal(t, "customer_id", rec.XKey)
	assert.Equal(t, "total_spend", rec.YKey)
	assert.Equal(t, "top 5 customers by total spend", rec.Title)
	assertSingleBranch(t, rec)
}

func TestSuggest_Degenerate(t *testing.T) {
	advisor := NewChartAdvisor(zap.NewNop())

	t.Run("空结果", func(t *testing.T) {
		rec := advisor.Suggest(chartColumns("category", "total"), nil, "按分类统计")
		assert.Nil(t, rec)
	})

	t.Run("单列结果", func(t *testing.T) {
		rec := advisor.Suggest(chartColumns("total"), []Row{{"total": 42.0}}, "总销售额")
		assert.Nil(t, rec)
	})

	t.Run("全数值列无横轴候选", func(t *testing.T) {
		rec := advisor.Suggest(chartColumns("amount", "quantity"), []Row{
			{"amount": 10.0, "quantity": 2.0},
			{"amount": 20.0, "quantity": 3.0},
		}, "金额与数量")
		assert.Nil(t, rec)
	})
}

func TestSuggest_TemporalLine(t *testing.T) {
	advisor := NewChartAdvisor(zap.NewNop())

	columns := chartColumns("month", "revenue")
	rows := []Row{
		{"month": "2026-01", "revenue": 1000.0},
		{"month": "2026-02", "revenue": 1400.0},
		{"month": "2026-03", "revenue": 900.0},
	}

	rec := advisor.Suggest(columns, rows, "月度营收趋势")
	require.NotNil(t, rec)

	assert.Equal(t, ChartTypeLine, rec.Type)
	assert.Equal(t, "month", rec.XKey)
	assert.Equal(t, "revenue", rec.YKey)
	assertSingleBranch(t, rec)
}

func TestSuggest_FewCategoriesPie(t *testing.T) {
	advisor := NewChartAdvisor(zap.NewNop())

	columns := chartColumns("category", "total")
	rows := []Row{
		{"category": "食品", "total": 120.0},
		{"category": "电子", "total": 300.0},
		{"category": "服装", "total": 80.0},
	}

	rec := advisor.Suggest(columns, rows, "各分类销售额占比")
	require.NotNil(t, rec)

	assert.Equal(t, ChartTypePie, rec.Type)
	assert.Equal(t, "category", rec.XKey)
	assert.Equal(t, "total", rec.YKey)
	assertSingleBranch(t, rec)
}

func TestSuggest_ManyCategoriesBar(t *testing.T) {
	advisor := NewChartAdvisor(zap.NewNop())

	columns := chartColumns("city", "population")
	rows := make([]Row, 0, 12)
	for _, city := range []string{"北京", "上海", "广州", "深圳", "成都", "杭州", "武汉", "西安", "南京", "重庆", "天津", "苏州"} {
		rows = append(rows, Row{"city": city, "population": float64(len(rows) + 1)})
	}

	rec := advisor.Suggest(columns, rows, "各城市人口")
	require.NotNil(t, rec)

	// 类别超过饼图上限时退回柱状图
	assert.Equal(t, ChartTypeBar, rec.Type)
	assertSingleBranch(t, rec)
}

func TestSuggest_GroupedAggregation(t *testing.T) {
	advisor := NewChartAdvisor(zap.NewNop())

	t.Run("重复类别配数值列走sum", func(t *testing.T) {
		columns := chartColumns("category", "amount")
		var rows []Row
		for i := 0; i < 10; i++ {
			rows = append(rows, Row{"category": []string{"食品", "电子"}[i%2], "amount": float64(i * 10)})
		}

		rec := advisor.Suggest(columns, rows, "按分类汇总金额")
		require.NotNil(t, rec)

		assert.Equal(t, "category", rec.GroupBy)
		assert.Equal(t, "sum", rec.Aggregate)
		assert.Equal(t, "amount", rec.ValueKey)
		assert.Empty(t, rec.XKey)
		assertSingleBranch(t, rec)
	})

	t.Run("均值语义列走avg", func(t *testing.T) {
		columns := chartColumns("category", "avg_price")
		var rows []Row
		for i := 0; i < 10; i++ {
			rows = append(rows, Row{"category": []string{"食品", "电子"}[i%2], "avg_price": float64(i)})
		}

		rec := advisor.Suggest(columns, rows, "按分类看均价")
		require.NotNil(t, rec)

		assert.Equal(t, "avg", rec.Aggregate)
		assert.Equal(t, "avg_price", rec.ValueKey)
	})

	t.Run("无数值列走count", func(t *testing.T) {
		columns := chartColumns("category", "status")
		var rows []Row
		for i := 0; i < 10; i++ {
			rows = append(rows, Row{"category": []string{"食品", "电子"}[i%2], "status": "active"})
		}

		rec := advisor.Suggest(columns, rows, "各分类的记录数")
		require.NotNil(t, rec)

		assert.Equal(t, "count", rec.Aggregate)
		assert.Empty(t, rec.ValueKey)
		assertSingleBranch(t, rec)
	})
}

func TestSuggest_Idempotent(t *testing.T) {
	advisor := NewChartAdvisor(zap.NewNop())

	columns := chartColumns("category", "total")
	rows := []Row{
		{"category": "食品", "total": 120.0},
		{"category": "电子", "total": 300.0},
	}

	first := advisor.Suggest(columns, rows, "各分类销售额")
	second := advisor.Suggest(columns, rows, "各分类销售额")

	require.NotNil(t, first)
	assert.Equal(t, first, second)
}

func TestChartTitle_Truncation(t *testing.T) {
	long := strings.Repeat("查", 100)
	title := chartTitle("  " + long + "  ")
	assert.Len(t, []rune(title), 60)
}

func TestClassifyColumn(t *testing.T) {
	advisor := NewChartAdvisor(zap.NewNop())

	t.Run("数字字符串归数值", func(t *testing.T) {
		rows := []Row{{"v": "12.5"}, {"v": "3"}}
		assert.Equal(t, classNumeric, advisor.classifyColumn("v", rows))
	})

	t.Run("日期字符串归时间", func(t *testing.T) {
		rows := []Row{{"d": "2026-08-01"}, {"d": "2026-08-02"}}
		assert.Equal(t, classTemporal, advisor.classifyColumn("d", rows))
	})

	t.Run("ID列名即使数值也归分类", func(t *testing.T) {
		rows := []Row{{"customer_id": int64(1)}, {"customer_id": int64(2)}}
		assert.Equal(t, classCategorical, advisor.classifyColumn("customer_id", rows))
	})

	t.Run("混合值归分类", func(t *testing.T) {
		rows := []Row{{"v": "abc"}, {"v": "12"}}
		assert.Equal(t, classCategorical, advisor.classifyColumn("v", rows))
	})
}
