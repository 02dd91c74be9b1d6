package service

import (
	"fmt"
	"strings"
)

// maxQuickExamples 快捷示例数量上限
const maxQuickExamples = 8

// QuickExamples 从结构快照派生自然语言提问示例
// 纯模板推导，确定性输出：相同快照永远给出相同的示例列表
func QuickExamples(snapshot *SchemaSnapshot) []string {
	if snapshot == nil || len(snapshot.Tables) == 0 {
		return nil
	}

	var examples []string
	add := func(example string) {
		if len(examples) < maxQuickExamples {
			examples = append(examples, example)
		}
	}

	for _, table := range snapshot.Tables {
		if len(examples) >= maxQuickExamples {
			break
		}

		add(fmt.Sprintf("查询 %s 表的前10条记录", table.Name))

		if category := firstCategoricalColumn(&table); category != "" {
			add(fmt.Sprintf("按 %s 分组统计 %s 的数量", category, table.Name))
		}

		if measure := firstMeasureColumn(&table); measure != "" {
			add(fmt.Sprintf("统计 %s 表中 %s 的总和与平均值", table.Name, measure))
		}

		if temporal := firstTemporalColumn(&table); temporal != "" {
			add(fmt.Sprintf("按 %s 查看 %s 最近的记录", temporal, table.Name))
		}
	}

	return examples
}

// firstCategoricalColumn 选第一个适合分组的文本列（跳过ID类和唯一列）
func firstCategoricalColumn(table *Table) string {
	for _, column := range table.Columns {
		if column.IsPrimaryKey || column.IsUnique || isIdentifierLike(column.Name) {
			continue
		}
		if isTextualType(column.DeclaredType) {
			return column.Name
		}
	}
	return ""
}

// firstMeasureColumn 选第一个带度量语义的数值列
func firstMeasureColumn(table *Table) string {
	for _, column := range table.Columns {
		if isNumericType(column.DeclaredType) && hasMeasureName(column.Name) {
			return column.Name
		}
	}
	return ""
}

// firstTemporalColumn 选第一个时间列
func firstTemporalColumn(table *Table) string {
	for _, column := range table.Columns {
		if isTemporalType(column.DeclaredType) {
			return column.Name
		}
	}
	return ""
}

func isTextualType(declaredType string) bool {
	lower := strings.ToLower(declaredType)
	for _, keyword := range []string{"char", "text", "enum", "string"} {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

func isNumericType(declaredType string) bool {
	lower := strings.ToLower(declaredType)
	for _, keyword := range []string{"int", "numeric", "decimal", "float", "double", "real", "money"} {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

func isTemporalType(declaredType string) bool {
	lower := strings.ToLower(declaredType)
	for _, keyword := range []string{"date", "time"} {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}
