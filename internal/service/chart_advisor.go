package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ChartRecommendation 图表建议
// 直接映射（x_key/y_key）与聚合映射（group_by/aggregate/value_key）两个分支恰好填充其一
type ChartRecommendation struct {
	Type      string   `json:"type"`                // 图表类型
	XKey      string   `json:"x_key,omitempty"`     // 直接映射：横轴列
	YKey      string   `json:"y_key,omitempty"`     // 直接映射：纵轴列
	YKeys     []string `json:"y_keys,omitempty"`    // 直接映射：多序列纵轴列
	GroupBy   string   `json:"group_by,omitempty"`  // 聚合映射：分组列
	Aggregate string   `json:"aggregate,omitempty"` // 聚合映射：聚合函数
	ValueKey  string   `json:"value_key,omitempty"` // 聚合映射：被聚合列
	Title     string   `json:"title,omitempty"`     // 图表标题
}

// 支持的图表类型
const (
	ChartTypeBar      = "bar"
	ChartTypeLine     = "line"
	ChartTypePie      = "pie"
	ChartTypeDoughnut = "doughnut"
	ChartTypeScatter  = "scatter"
)

// columnClass 列的推断类别
type columnClass int

const (
	classCategorical columnClass = iota
	classNumeric
	classTemporal
)

// chartInput 规则求值的输入：预先完成列分类和取样统计
type chartInput struct {
	columns      []ColumnDescriptor
	rows         []Row
	prompt       string
	classes      map[string]columnClass
	xCandidate   string // 首选分类/时间列
	xIsTemporal  bool
	yCandidate   string // 首选数值列
	distinctX    int    // 取样范围内x候选列的不同值数量
	sampledRows  int    // 参与统计的行数（确定性截断，取前N行）
	categoriesRepeat bool
}

// chartRule 命名分类规则，按优先级求值，首个命中者胜出
type chartRule struct {
	name  string
	match func(*chartInput) (*ChartRecommendation, bool)
}

// ChartAdvisor 图表推断引擎
// 纯函数：不触库、不执行，只看列描述与结果行；相同输入永远给出相同建议
type ChartAdvisor struct {
	logger *zap.Logger

	// 配置参数
	maxSeriesPoints  int // 参与统计的最大行数（取结果顺序前N行）
	pieMaxCategories int // 饼图允许的最大类别数
	typeSampleSize   int // 列类型推断的取样行数

	rules []chartRule
}

// ChartAdvisorConfig 图表推断配置
type ChartAdvisorConfig struct {
	MaxSeriesPoints  int `json:"max_series_points"`  // 默认200
	PieMaxCategories int `json:"pie_max_categories"` // 默认8
	TypeSampleSize   int `json:"type_sample_size"`   // 默认20
}

// NewChartAdvisor 创建图表推断引擎
func NewChartAdvisor(logger *zap.Logger) *ChartAdvisor {
	config := &ChartAdvisorConfig{
		MaxSeriesPoints:  200,
		PieMaxCategories: 8,
		TypeSampleSize:   20,
	}

	return NewChartAdvisorWithConfig(config, logger)
}

// NewChartAdvisorWithConfig 使用自定义配置创建图表推断引擎
func NewChartAdvisorWithConfig(config *ChartAdvisorConfig, logger *zap.Logger) *ChartAdvisor {
	if config == nil {
		return NewChartAdvisor(logger)
	}

	if config.MaxSeriesPoints <= 0 {
		config.MaxSeriesPoints = 200
	}
	if config.PieMaxCategories <= 0 {
		config.PieMaxCategories = 8
	}
	if config.TypeSampleSize <= 0 {
		config.TypeSampleSize = 20
	}

	advisor := &ChartAdvisor{
		logger:           logger,
		maxSeriesPoints:  config.MaxSeriesPoints,
		pieMaxCategories: config.PieMaxCategories,
		typeSampleSize:   config.TypeSampleSize,
	}

	advisor.rules = []chartRule{
		{name: "grouped-aggregation", match: advisor.ruleGroupedAggregation},
		{name: "temporal-line", match: advisor.ruleTemporalLine},
		{name: "few-categories-pie", match: advisor.ruleFewCategoriesPie},
		{name: "categorical-bar", match: advisor.ruleCategoricalBar},
	}

	return advisor
}

// Suggest 从结果集推断图表建议，无法给出有意义建议时返回nil
func (ca *ChartAdvisor) Suggest(columns []ColumnDescriptor, rows []Row, prompt string) *ChartRecommendation {
	// 退化情形：空结果或单列结果没有可配对的坐标轴
	if len(rows) == 0 || len(columns) <= 1 {
		return nil
	}

	input := ca.analyze(columns, rows, prompt)
	if input.xCandidate == "" {
		return nil
	}

	for _, rule := range ca.rules {
		if recommendation, ok := rule.match(input); ok {
			if recommendation != nil {
				recommendation.Title = chartTitle(prompt)
				ca.logger.Debug("图表建议命中规则",
					zap.String("rule", rule.name),
					zap.String("chart_type", recommendation.Type))
			}
			return recommendation
		}
	}

	return nil
}

// analyze 列分类与取样统计
func (ca *ChartAdvisor) analyze(columns []ColumnDescriptor, rows []Row, prompt string) *chartInput {
	sampled := rows
	if len(sampled) > ca.maxSeriesPoints {
		sampled = sampled[:ca.maxSeriesPoints]
	}

	input := &chartInput{
		columns:     columns,
		rows:        sampled,
		prompt:      prompt,
		classes:     make(map[string]columnClass, len(columns)),
		sampledRows: len(sampled),
	}

	for _, column := range columns {
		input.classes[column.Name] = ca.classifyColumn(column.Name, sampled)
	}

	// x候选：优先非ID类的分类/时间列，兜底第一个非数值列
	for _, column := range columns {
		class := input.classes[column.Name]
		if class == classNumeric {
			continue
		}
		if input.xCandidate == "" {
			input.xCandidate = column.Name
			input.xIsTemporal = class == classTemporal
		}
		if !isIdentifierLike(column.Name) {
			input.xCandidate = column.Name
			input.xIsTemporal = class == classTemporal
			break
		}
	}

	// y候选：数值列中优先语义名匹配（count/sum/total/amount/price/quantity）
	for _, column := range columns {
		if input.classes[column.Name] != classNumeric {
			continue
		}
		if input.yCandidate == "" {
			input.yCandidate = column.Name
		}
		if hasMeasureName(column.Name) {
			input.yCandidate = column.Name
			break
		}
	}

	if input.xCandidate != "" {
		distinct := make(map[string]bool, len(sampled))
		for _, row := range sampled {
			distinct[scalarString(row[input.xCandidate])] = true
		}
		input.distinctX = len(distinct)
		input.categoriesRepeat = input.distinctX > 0 && input.sampledRows >= input.distinctX*2
	}

	return input
}

// ruleGroupedAggregation 类别明显重复时走聚合分支
func (ca *ChartAdvisor) ruleGroupedAggregation(input *chartInput) (*ChartRecommendation, bool) {
	if !input.categoriesRepeat || input.xIsTemporal {
		return nil, false
	}

	recommendation := &ChartRecommendation{
		Type:    ChartTypeBar,
		GroupBy: input.xCandidate,
	}

	if input.yCandidate == "" {
		recommendation.Aggregate = "count"
	} else {
		recommendation.ValueKey = input.yCandidate
		if hasAverageName(input.yCandidate) {
			recommendation.Aggregate = "avg"
		} else {
			recommendation.Aggregate = "sum"
		}
	}

	if input.distinctX <= ca.pieMaxCategories && !isIdentifierLike(input.xCandidate) {
		recommendation.Type = ChartTypePie
	}

	return recommendation, true
}

// ruleTemporalLine 时间横轴配数值纵轴走折线图
func (ca *ChartAdvisor) ruleTemporalLine(input *chartInput) (*ChartRecommendation, bool) {
	if !input.xIsTemporal || input.yCandidate == "" {
		return nil, false
	}

	return &ChartRecommendation{
		Type: ChartTypeLine,
		XKey: input.xCandidate,
		YKey: input.yCandidate,
	}, true
}

// ruleFewCategoriesPie 少量类别走饼图，ID类横轴不适合占比展示
func (ca *ChartAdvisor) ruleFewCategoriesPie(input *chartInput) (*ChartRecommendation, bool) {
	if input.yCandidate == "" || input.distinctX > ca.pieMaxCategories || isIdentifierLike(input.xCandidate) {
		return nil, false
	}

	return &ChartRecommendation{
		Type: ChartTypePie,
		XKey: input.xCandidate,
		YKey: input.yCandidate,
	}, true
}

// ruleCategoricalBar 兜底：分类横轴配数值纵轴走柱状图
func (ca *ChartAdvisor) ruleCategoricalBar(input *chartInput) (*ChartRecommendation, bool) {
	if input.yCandidate == "" {
		return nil, false
	}

	return &ChartRecommendation{
		Type: ChartTypeBar,
		XKey: input.xCandidate,
		YKey: input.yCandidate,
	}, true
}

// chartTitle 从用户提问截取图表标题
func chartTitle(prompt string) string {
	title := strings.TrimSpace(prompt)
	if title == "" {
		return ""
	}
	runes := []rune(title)
	if len(runes) > 60 {
		return string(runes[:60])
	}
	return title
}

// classifyColumn 按取样值推断列类别
// 全部可解析为数字即数值列；ISO日期形状即时间列；否则为分类列
// ID类列名即使取值是数字也按分类处理，它们是离散标签而非度量
func (ca *ChartAdvisor) classifyColumn(name string, rows []Row) columnClass {
	if isIdentifierLike(name) {
		return classCategorical
	}

	sampled := 0
	numeric := 0
	temporal := 0

	for _, row := range rows {
		if sampled >= ca.typeSampleSize {
			break
		}
		value, ok := row[name]
		if !ok || value == nil {
			continue
		}
		sampled++

		if isNumericValue(value) {
			numeric++
			continue
		}
		if s, ok := value.(string); ok && isTemporalString(s) {
			temporal++
		}
	}

	if sampled == 0 {
		return classCategorical
	}
	if numeric == sampled {
		return classNumeric
	}
	if temporal == sampled {
		return classTemporal
	}
	return classCategorical
}

// isNumericValue 判断值是否为数字（含数字形状的字符串）
func isNumericValue(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	case string:
		_, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return err == nil
	}
	return false
}

// temporalLayouts 时间列判定尝试的格式
var temporalLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006-01",
}

// isTemporalString 判断字符串是否为ISO日期形状
func isTemporalString(s string) bool {
	s = strings.TrimSpace(s)
	for _, layout := range temporalLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// isIdentifierLike 判断列名是否为标识符类（不适合做分组轴）
func isIdentifierLike(name string) bool {
	lower := strings.ToLower(name)
	return lower == "id" || lower == "uuid" || lower == "vin" ||
		strings.HasSuffix(lower, "_id") || strings.HasSuffix(lower, "_uuid")
}

// measureNames y轴偏好的度量语义词
var measureNames = []string{"count", "sum", "total", "amount", "price", "quantity", "qty", "revenue", "spend"}

// hasMeasureName 判断列名是否带度量语义
func hasMeasureName(name string) bool {
	lower := strings.ToLower(name)
	for _, keyword := range measureNames {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// hasAverageName 判断列名是否偏向均值语义（价格、比率类）
func hasAverageName(name string) bool {
	lower := strings.ToLower(name)
	for _, keyword := range []string{"price", "avg", "average", "rate", "ratio", "score"} {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// scalarString 标量值的稳定字符串形式（用于不同值计数）
func scalarString(value any) string {
	switch v := value.(type) {
	case nil:
		return "<nil>"
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}
