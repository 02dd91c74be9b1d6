package service

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// GuardrailDecision 守卫判定结果
type GuardrailDecision string

const (
	DecisionAllow         GuardrailDecision = "ALLOW"
	DecisionDeny          GuardrailDecision = "DENY"
	DecisionNeedsApproval GuardrailDecision = "NEEDS_APPROVAL"
)

// GuardrailVerdict 守卫裁决
// 相同的(sql, policy, snapshot)输入永远产生相同的裁决，可离线复现
type GuardrailVerdict struct {
	Decision      GuardrailDecision `json:"decision"`       // 判定
	Reasons       []string          `json:"reasons"`        // 人类可读的判定理由
	NormalizedSQL string            `json:"normalized_sql"` // 守卫改写后实际执行的SQL
}

// GuardrailPolicy 守卫策略
// 可从YAML文件加载，缺省值见DefaultGuardrailPolicy
type GuardrailPolicy struct {
	DefaultRowLimit        int      `yaml:"default_row_limit" json:"default_row_limit"`               // 无LIMIT时注入的行数上限
	SafeFunctions          []string `yaml:"safe_functions" json:"safe_functions"`                     // 函数白名单之外默认拒绝
	SensitiveTables        []string `yaml:"sensitive_tables" json:"sensitive_tables"`                 // 触及即需人工确认的表
	LargeTableRowThreshold int64    `yaml:"large_table_row_threshold" json:"large_table_row_threshold"` // 无WHERE全表扫描的审批阈值
	EnforceScopeAllowlist  bool     `yaml:"enforce_scope_allowlist" json:"enforce_scope_allowlist"`   // 是否强制快照范围白名单
}

// DefaultGuardrailPolicy 返回默认守卫策略
// 范围白名单默认关闭（只记录日志不拦截），避免过严默认值挡住临时schema
func DefaultGuardrailPolicy() *GuardrailPolicy {
	return &GuardrailPolicy{
		DefaultRowLimit:        1000,
		SafeFunctions:          defaultSafeFunctions(),
		LargeTableRowThreshold: 1_000_000,
		EnforceScopeAllowlist:  false,
	}
}

// LoadGuardrailPolicy 从YAML文件加载守卫策略，未设置的字段回填默认值
func LoadGuardrailPolicy(path string) (*GuardrailPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取守卫策略文件失败: %w", err)
	}

	policy := DefaultGuardrailPolicy()
	if err := yaml.Unmarshal(data, policy); err != nil {
		return nil, fmt.Errorf("解析守卫策略文件失败: %w", err)
	}

	if policy.DefaultRowLimit <= 0 {
		policy.DefaultRowLimit = 1000
	}
	if len(policy.SafeFunctions) == 0 {
		policy.SafeFunctions = defaultSafeFunctions()
	}
	if policy.LargeTableRowThreshold <= 0 {
		policy.LargeTableRowThreshold = 1_000_000
	}

	return policy, nil
}

// GuardrailValidator SQL守卫校验器
// 基于词法单元做结构化检查，而非子串匹配：注释、大小写、引号都无法绕过
type GuardrailValidator struct {
	policy *GuardrailPolicy
	logger *zap.Logger

	safeFunctions map[string]bool
	sensitiveSet  map[string]bool
}

// NewGuardrailValidator 创建守卫校验器
func NewGuardrailValidator(policy *GuardrailPolicy, logger *zap.Logger) *GuardrailValidator {
	if policy == nil {
		policy = DefaultGuardrailPolicy()
	}

	safeFunctions := make(map[string]bool, len(policy.SafeFunctions))
	for _, fn := range policy.SafeFunctions {
		safeFunctions[strings.ToUpper(fn)] = true
	}

	sensitiveSet := make(map[string]bool, len(policy.SensitiveTables))
	for _, table := range policy.SensitiveTables {
		sensitiveSet[strings.ToLower(table)] = true
	}

	return &GuardrailValidator{
		policy:        policy,
		logger:        logger,
		safeFunctions: safeFunctions,
		sensitiveSet:  sensitiveSet,
	}
}

// dmlVerbs 数据修改动词，出现即拒绝
var dmlVerbs = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true,
	"MERGE": true, "TRUNCATE": true, "COPY": true,
}

// ddlVerbs 数据定义动词，出现即拒绝
var ddlVerbs = map[string]bool{
	"DROP": true, "ALTER": true, "CREATE": true,
	"GRANT": true, "REVOKE": true,
}

// adminVerbs 管理类动词，出现即拒绝
var adminVerbs = map[string]bool{
	"EXEC": true, "EXECUTE": true, "CALL": true,
	"VACUUM": true, "REINDEX": true, "ANALYZE": true, "DO": true,
}

// structuralKeywords SQL结构关键字，既不是函数也不是用户标识符
var structuralKeywords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "GROUP": true, "BY": true,
	"HAVING": true, "ORDER": true, "LIMIT": true, "OFFSET": true, "FETCH": true,
	"FIRST": true, "NEXT": true, "ROWS": true, "ROW": true, "ONLY": true,
	"JOIN": true, "INNER": true, "LEFT": true, "RIGHT": true, "FULL": true,
	"OUTER": true, "CROSS": true, "ON": true, "USING": true, "AS": true,
	"AND": true, "OR": true, "NOT": true, "IN": true, "EXISTS": true,
	"ANY": true, "ALL": true, "SOME": true, "BETWEEN": true, "LIKE": true,
	"ILIKE": true, "IS": true, "NULL": true, "TRUE": true, "FALSE": true,
	"UNION": true, "INTERSECT": true, "EXCEPT": true, "DISTINCT": true,
	"CASE": true, "WHEN": true, "THEN": true, "ELSE": true, "END": true,
	"OVER": true, "PARTITION": true, "FILTER": true, "WITHIN": true,
	"ASC": true, "DESC": true, "NULLS": true, "LAST": true,
	"WITH": true, "RECURSIVE": true, "VALUES": true, "LATERAL": true,
	"INTERVAL": true, "ESCAPE": true, "COLLATE": true,
}

// Validate 校验候选SQL并给出裁决
// snapshot可为nil（范围检查与大表审批将被跳过）
func (gv *GuardrailValidator) Validate(sqlText string, snapshot *SchemaSnapshot) *GuardrailVerdict {
	verdict := &GuardrailVerdict{NormalizedSQL: strings.TrimSpace(sqlText)}

	tokens, err := TokenizeSQL(sqlText)
	if err != nil {
		verdict.Decision = DecisionDeny
		verdict.Reasons = []string{fmt.Sprintf("statement could not be parsed: %v", err)}
		return verdict
	}

	statements, err := SplitStatements(sqlText)
	if err != nil || len(statements) == 0 {
		verdict.Decision = DecisionDeny
		verdict.Reasons = []string{"empty statement"}
		return verdict
	}

	var denyReasons []string
	var approvalReasons []string

	// 多语句堆叠
	if len(statements) > 1 {
		denyReasons = append(denyReasons,
			fmt.Sprintf("multiple statements detected (%d), only a single statement is allowed", len(statements)))
	}

	// 语句类型：只接受SELECT或只读WITH
	firstWord := firstWordToken(tokens)
	if firstWord == nil {
		denyReasons = append(denyReasons, "statement must be a read-only SELECT")
	} else if firstWord.Upper != "SELECT" && firstWord.Upper != "WITH" {
		denyReasons = append(denyReasons,
			fmt.Sprintf("statement must be a read-only SELECT, got %s", firstWord.Upper))
	}

	// 动词扫描：关键字位置出现修改类动词即拒绝，注释和字面量已被词法层剥离
	hasWhere := false
	hasLimit := false
	depth := 0
	for i, token := range tokens {
		if token.Kind == TokenSymbol {
			switch token.Value {
			case "(":
				depth++
			case ")":
				if depth > 0 {
					depth--
				}
			}
			continue
		}
		if token.Kind != TokenWord {
			continue
		}
		switch {
		case dmlVerbs[token.Upper]:
			denyReasons = append(denyReasons,
				fmt.Sprintf("data-modifying statement: %s", token.Upper))
		case ddlVerbs[token.Upper]:
			denyReasons = append(denyReasons,
				fmt.Sprintf("data-definition statement: %s", token.Upper))
		case adminVerbs[token.Upper]:
			denyReasons = append(denyReasons,
				fmt.Sprintf("administrative statement: %s", token.Upper))
		case token.Upper == "REPLACE" && i == 0:
			// REPLACE作为函数是安全的，作为语句是MySQL的写入动词
			denyReasons = append(denyReasons, "data-modifying statement: REPLACE")
		case token.Upper == "WHERE":
			hasWhere = true
		case token.Upper == "LIMIT" || token.Upper == "FETCH":
			// 只认最外层的LIMIT，子查询内的LIMIT不代表整条语句有界
			if depth == 0 {
				hasLimit = true
			}
		}
	}

	// 函数调用：白名单之外默认拒绝
	for _, name := range functionCalls(tokens) {
		if !gv.safeFunctions[name] {
			denyReasons = append(denyReasons,
				fmt.Sprintf("function not in safe allowlist: %s", strings.ToLower(name)))
		}
	}

	// 表引用与快照范围
	referencedTables := tableReferences(tokens)
	if snapshot != nil {
		unknown := gv.unknownIdentifiers(tokens, referencedTables, snapshot)
		if len(unknown) > 0 {
			if gv.policy.EnforceScopeAllowlist {
				for _, ident := range unknown {
					denyReasons = append(denyReasons,
						fmt.Sprintf("identifier not found in schema: %s", ident))
				}
			} else {
				gv.logger.Warn("语句引用了快照之外的标识符",
					zap.Strings("identifiers", unknown),
					zap.Int64("connection_id", snapshot.ConnectionID))
			}
		}
	}

	if len(denyReasons) > 0 {
		verdict.Decision = DecisionDeny
		verdict.Reasons = denyReasons
		return verdict
	}

	// 边界改写：缺少LIMIT时注入策略默认值，这是资源问题而非安全问题，改写而不拒绝
	// 换行追加，语句末尾的行注释不会把注入的LIMIT吞进注释里
	if !hasLimit {
		normalized := strings.TrimRight(strings.TrimSpace(sqlText), "; \t\n\r")
		verdict.NormalizedSQL = fmt.Sprintf("%s\nLIMIT %d", normalized, gv.policy.DefaultRowLimit)
	}

	// 审批阈值：敏感表或大表全扫描需要人工确认
	for _, table := range referencedTables {
		if gv.sensitiveSet[strings.ToLower(table)] {
			approvalReasons = append(approvalReasons,
				fmt.Sprintf("statement touches sensitive table: %s", table))
		}
	}
	// 显式LIMIT视为已绑定成本，只审批既无WHERE也无LIMIT的大表扫描
	if snapshot != nil && !hasWhere && !hasLimit {
		for _, name := range referencedTables {
			if table, ok := snapshot.TableByName(name); ok &&
				table.EstimatedRows >= gv.policy.LargeTableRowThreshold {
				approvalReasons = append(approvalReasons,
					fmt.Sprintf("full scan over large table %s (~%d rows)", table.Name, table.EstimatedRows))
			}
		}
	}

	if len(approvalReasons) > 0 {
		verdict.Decision = DecisionNeedsApproval
		verdict.Reasons = approvalReasons
		return verdict
	}

	verdict.Decision = DecisionAllow
	return verdict
}

// firstWordToken 返回第一个词单元（用于语句类型判定）
func firstWordToken(tokens []Token) *Token {
	for i := range tokens {
		if tokens[i].Kind == TokenWord {
			return &tokens[i]
		}
	}
	return nil
}

// functionCalls 收集所有形如 word( 的函数调用名（大写）
func functionCalls(tokens []Token) []string {
	var names []string
	for i := 0; i+1 < len(tokens); i++ {
		if tokens[i].Kind != TokenWord || structuralKeywords[tokens[i].Upper] {
			continue
		}
		next := tokens[i+1]
		if next.Kind == TokenSymbol && next.Value == "(" {
			names = append(names, tokens[i].Upper)
		}
	}
	return names
}

// tableReferences 收集FROM/JOIN之后的表名
// 限定名取末段；逗号联接的表清单逐项收集，不止第一个
func tableReferences(tokens []Token) []string {
	var tables []string
	seen := make(map[string]bool)

	for i := 0; i < len(tokens); i++ {
		if tokens[i].Kind != TokenWord {
			continue
		}
		if tokens[i].Upper != "FROM" && tokens[i].Upper != "JOIN" {
			continue
		}

		j := i + 1
		for j < len(tokens) {
			// 子查询或表函数作为数据源
			if tokens[j].Kind == TokenSymbol && tokens[j].Value == "(" {
				break
			}
			if tokens[j].Kind != TokenWord && tokens[j].Kind != TokenQuotedIdent {
				break
			}

			name := tokens[j].Value
			// schema.table取末段
			for j+2 < len(tokens) &&
				tokens[j+1].Kind == TokenSymbol && tokens[j+1].Value == "." &&
				(tokens[j+2].Kind == TokenWord || tokens[j+2].Kind == TokenQuotedIdent) {
				name = tokens[j+2].Value
				j += 2
			}

			key := strings.ToLower(name)
			if !seen[key] {
				seen[key] = true
				tables = append(tables, name)
			}

			// 可选别名：AS word 或 表名后紧跟的裸词
			j++
			if j < len(tokens) && tokens[j].Kind == TokenWord && tokens[j].Upper == "AS" {
				j++
			}
			if j < len(tokens) &&
				((tokens[j].Kind == TokenWord && !structuralKeywords[tokens[j].Upper]) ||
					tokens[j].Kind == TokenQuotedIdent) {
				j++
			}

			// 逗号之后还有下一个表引用
			if j < len(tokens) && tokens[j].Kind == TokenSymbol && tokens[j].Value == "," {
				j++
				continue
			}
			break
		}
	}

	return tables
}

// unknownIdentifiers 找出既不在快照中、也不是别名或函数的标识符
func (gv *GuardrailValidator) unknownIdentifiers(tokens []Token, referencedTables []string, snapshot *SchemaSnapshot) []string {
	// 已知名集合：引用到的表及其全部列、快照中的其余表、语句内定义的别名
	known := make(map[string]bool)
	for _, name := range referencedTables {
		known[strings.ToLower(name)] = true
		if table, ok := snapshot.TableByName(name); ok {
			for _, column := range table.Columns {
				known[strings.ToLower(column.Name)] = true
			}
		}
	}
	for _, table := range snapshot.Tables {
		known[strings.ToLower(table.Name)] = true
	}

	// 别名：AS后的词、表名后紧跟的裸词
	for i, token := range tokens {
		if token.Kind != TokenWord {
			continue
		}
		if token.Upper == "AS" && i+1 < len(tokens) &&
			(tokens[i+1].Kind == TokenWord || tokens[i+1].Kind == TokenQuotedIdent) {
			known[strings.ToLower(tokens[i+1].Value)] = true
		}
		if known[strings.ToLower(token.Value)] && i+1 < len(tokens) &&
			tokens[i+1].Kind == TokenWord && !structuralKeywords[tokens[i+1].Upper] {
			known[strings.ToLower(tokens[i+1].Value)] = true
		}
	}

	functionSet := make(map[string]bool)
	for _, name := range functionCalls(tokens) {
		functionSet[name] = true
	}

	var unknown []string
	reported := make(map[string]bool)
	for i, token := range tokens {
		if token.Kind != TokenWord && token.Kind != TokenQuotedIdent {
			continue
		}
		if token.Kind == TokenWord && structuralKeywords[token.Upper] {
			continue
		}
		if functionSet[strings.ToUpper(token.Value)] {
			continue
		}
		// 限定名a.b的前段是别名或表名，只检查末段
		if i+1 < len(tokens) && tokens[i+1].Kind == TokenSymbol && tokens[i+1].Value == "." {
			continue
		}

		key := strings.ToLower(token.Value)
		if !known[key] && !reported[key] {
			reported[key] = true
			unknown = append(unknown, token.Value)
		}
	}

	return unknown
}

// defaultSafeFunctions 默认函数白名单：聚合、字符串、数值、时间和窗口函数
func defaultSafeFunctions() []string {
	return []string{
		// 聚合
		"COUNT", "SUM", "AVG", "MIN", "MAX", "TOTAL",
		"STDDEV", "STDDEV_POP", "STDDEV_SAMP", "VARIANCE", "VAR_POP", "VAR_SAMP",
		"STRING_AGG", "GROUP_CONCAT", "ARRAY_AGG", "JSON_AGG", "JSONB_AGG",
		"PERCENTILE_CONT", "PERCENTILE_DISC", "BOOL_AND", "BOOL_OR",
		// 条件与转换
		"COALESCE", "NULLIF", "CAST", "CONVERT", "IFNULL", "IF", "IIF",
		"GREATEST", "LEAST", "TYPEOF",
		// 字符串
		"UPPER", "LOWER", "INITCAP", "TRIM", "LTRIM", "RTRIM",
		"LENGTH", "CHAR_LENGTH", "CHARACTER_LENGTH", "OCTET_LENGTH",
		"SUBSTR", "SUBSTRING", "REPLACE", "CONCAT", "CONCAT_WS",
		"LEFT", "RIGHT", "LPAD", "RPAD", "REVERSE", "INSTR", "POSITION",
		"SPLIT_PART", "REGEXP_REPLACE", "REGEXP_MATCHES", "FORMAT",
		"TO_CHAR", "TO_DATE", "TO_NUMBER", "TO_TIMESTAMP",
		// 数值
		"ROUND", "FLOOR", "CEIL", "CEILING", "ABS", "MOD", "SIGN",
		"POWER", "POW", "SQRT", "EXP", "LN", "LOG", "LOG10", "TRUNC", "RANDOM",
		// 时间
		"NOW", "CURRENT_DATE", "CURRENT_TIME", "CURRENT_TIMESTAMP",
		"DATE", "TIME", "DATETIME", "YEAR", "MONTH", "DAY",
		"HOUR", "MINUTE", "SECOND", "DAYOFWEEK", "DAYOFYEAR", "WEEK", "QUARTER",
		"EXTRACT", "DATE_TRUNC", "DATE_PART", "DATE_ADD", "DATE_SUB",
		"DATEDIFF", "TIMESTAMPDIFF", "AGE", "STRFTIME", "JULIANDAY", "UNIXEPOCH",
		// 窗口
		"ROW_NUMBER", "RANK", "DENSE_RANK", "NTILE",
		"LAG", "LEAD", "FIRST_VALUE", "LAST_VALUE", "NTH_VALUE",
		// JSON读取
		"JSON_EXTRACT", "JSON_VALUE", "JSONB_EXTRACT_PATH", "JSONB_EXTRACT_PATH_TEXT",
		"JSON_ARRAY_LENGTH", "JSONB_ARRAY_LENGTH",
	}
}
