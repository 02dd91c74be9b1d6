package service

import (
	"fmt"
	"strings"
	"time"
)

// SchemaSnapshot 数据库结构快照
// 由探测产生的不可变副本，重新探测时整体替换，绝不原地修改
type SchemaSnapshot struct {
	ConnectionID int64     `json:"connection_id"` // 目标连接ID
	DatabaseName string    `json:"database_name"` // 数据库名
	Tables       []Table   `json:"tables"`        // 表列表（探测顺序）
	CapturedAt   time.Time `json:"captured_at"`   // 快照时间
}

// Table 表结构
type Table struct {
	Schema        string   `json:"schema,omitempty"` // 所属schema（SQLite为空）
	Name          string   `json:"name"`             // 表名，快照内唯一
	Columns       []Column `json:"columns"`          // 列列表（ordinal顺序）
	EstimatedRows int64    `json:"estimated_rows"`   // 估计行数，未知时为-1
}

// Column 列结构
type Column struct {
	Name         string `json:"name"`           // 列名，表内唯一
	DeclaredType string `json:"declared_type"`  // 声明类型
	Nullable     bool   `json:"nullable"`       // 是否可为空
	IsPrimaryKey bool   `json:"is_primary_key"` // 是否主键
	IsUnique     bool   `json:"is_unique"`      // 是否唯一约束
}

// TableByName 按名称查找表（不区分大小写）
func (s *SchemaSnapshot) TableByName(name string) (*Table, bool) {
	for i := range s.Tables {
		if strings.EqualFold(s.Tables[i].Name, name) {
			return &s.Tables[i], true
		}
	}
	return nil, false
}

// ColumnByName 按名称查找列（不区分大小写）
func (t *Table) ColumnByName(name string) (*Column, bool) {
	for i := range t.Columns {
		if strings.EqualFold(t.Columns[i].Name, name) {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// Validate 校验快照不变量：表名快照内唯一，列名表内唯一
func (s *SchemaSnapshot) Validate() error {
	seenTables := make(map[string]bool, len(s.Tables))
	for _, table := range s.Tables {
		key := strings.ToLower(table.Name)
		if seenTables[key] {
			return fmt.Errorf("快照中表名重复: %s", table.Name)
		}
		seenTables[key] = true

		seenColumns := make(map[string]bool, len(table.Columns))
		for _, column := range table.Columns {
			colKey := strings.ToLower(column.Name)
			if seenColumns[colKey] {
				return fmt.Errorf("表 %s 中列名重复: %s", table.Name, column.Name)
			}
			seenColumns[colKey] = true
		}
	}
	return nil
}

// IntrospectionError 结构探测失败
// 连接不可达或方言不受支持时返回，调用方据此给出可操作的提示
type IntrospectionError struct {
	ConnectionID int64  // 目标连接ID
	Dialect      string // 方言
	Message      string // 错误描述
	Cause        error  // 底层错误
}

func (e *IntrospectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("schema introspection failed [connection=%d dialect=%s]: %s: %v",
			e.ConnectionID, e.Dialect, e.Message, e.Cause)
	}
	return fmt.Sprintf("schema introspection failed [connection=%d dialect=%s]: %s",
		e.ConnectionID, e.Dialect, e.Message)
}

func (e *IntrospectionError) Unwrap() error { return e.Cause }
