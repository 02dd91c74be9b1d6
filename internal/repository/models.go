package repository

import "time"

// Dialect 目标数据库方言
type Dialect string

const (
	DialectPostgres Dialect = "postgres" // PostgreSQL
	DialectMySQL    Dialect = "mysql"    // MySQL
	DialectSQLite   Dialect = "sqlite"   // SQLite
)

// Valid 判断方言是否受支持
func (d Dialect) Valid() bool {
	switch d {
	case DialectPostgres, DialectMySQL, DialectSQLite:
		return true
	}
	return false
}

// DriverName 返回database/sql注册的驱动名
func (d Dialect) DriverName() string {
	switch d {
	case DialectPostgres:
		return "pgx"
	case DialectMySQL:
		return "mysql"
	case DialectSQLite:
		return "sqlite3"
	}
	return string(d)
}

// ConnectionStatus 连接状态
type ConnectionStatus string

const (
	ConnectionActive ConnectionStatus = "active" // 连接正常
	ConnectionError  ConnectionStatus = "error"  // 连接异常
)

// DatabaseConnection 目标数据库连接配置
// 由连接注册表拥有，创建后除凭证轮换外不可变
type DatabaseConnection struct {
	ID         int64     `json:"id"`          // 连接ID
	Name       string    `json:"name"`        // 展示名称
	Dialect    Dialect   `json:"dialect"`     // 数据库方言
	DSN        string    `json:"-"`           // 连接串（凭证引用，不对外序列化）
	Status     string    `json:"status"`      // 连接状态
	CreateTime time.Time `json:"create_time"` // 创建时间
	UpdateTime time.Time `json:"update_time"` // 更新时间
	IsDeleted  bool      `json:"-"`           // 软删除标记
}

// QueryHistory 查询历史记录
// 核心流水线只负责产出字段，持久化与置顶/重跑生命周期由此Repository承担
type QueryHistory struct {
	ID              int64     `json:"id"`                // 记录ID
	ConnectionID    int64     `json:"connection_id"`     // 目标连接ID
	Prompt          *string   `json:"prompt,omitempty"`  // 自然语言问题（执行入口可能没有）
	SQL             string    `json:"sql"`               // 实际执行的SQL
	RowCount        int32     `json:"row_count"`         // 返回行数
	ExecutionTimeMS int32     `json:"execution_time_ms"` // 执行耗时(毫秒)
	Success         bool      `json:"success"`           // 是否执行成功
	Error           *string   `json:"error,omitempty"`   // 错误信息
	Pinned          bool      `json:"pinned"`            // 是否置顶
	CreateTime      time.Time `json:"created_at"`        // 创建时间
}
