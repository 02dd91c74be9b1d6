package service

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ExecutionErrorKind 执行失败类型
type ExecutionErrorKind string

const (
	ErrorKindTimeout        ExecutionErrorKind = "Timeout"        // 超过墙钟超时
	ErrorKindResultTooLarge ExecutionErrorKind = "ResultTooLarge" // 超过结果尺寸上限
	ErrorKindDriverError    ExecutionErrorKind = "DriverError"    // 方言或连接层错误
)

// ExecutionError 执行失败详情
type ExecutionError struct {
	Kind    ExecutionErrorKind `json:"kind"`
	Message string             `json:"message"`
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ColumnDescriptor 结果列描述
type ColumnDescriptor struct {
	Name         string `json:"name"`          // 列名
	DatabaseType string `json:"database_type"` // 驱动报告的类型名
}

// Row 单行结果，列名到标量值的映射，顺序由Columns给出
type Row map[string]any

// ExecutionResult 执行结果
// success为false时rows必为空、error必非空：宁可明确失败也不返回部分行
type ExecutionResult struct {
	SQLExecuted     string             `json:"sql_executed"`      // 实际执行的SQL
	Columns         []ColumnDescriptor `json:"columns"`           // 结果列（顺序即行内顺序）
	Rows            []Row              `json:"rows"`              // 结果行
	RowCount        int                `json:"row_count"`         // 行数
	ExecutionTimeMS int64              `json:"execution_time_ms"` // 语句耗时（不含取连接）
	Success         bool               `json:"success"`           // 是否成功
	Error           *ExecutionError    `json:"error,omitempty"`   // 失败详情
}

// SQLExecutor SQL执行引擎
// 只读语句的有界执行：超时、行数、字节数三重上限，超限取消语句而非截断结果
type SQLExecutor struct {
	// 核心组件
	connector ConnectionAcquirer
	logger    *zap.Logger

	// 配置参数
	queryTimeout   time.Duration // 墙钟超时
	maxRows        int           // 结果行数上限
	maxResultBytes int64         // 结果字节数上限（估算值）
}

// SQLExecutorConfig SQL执行引擎配置
type SQLExecutorConfig struct {
	QueryTimeout   time.Duration `json:"query_timeout"`    // 超时，默认30秒
	MaxRows        int           `json:"max_rows"`         // 行数上限，默认10000
	MaxResultBytes int64         `json:"max_result_bytes"` // 字节上限，默认8MB
}

// NewSQLExecutor 创建SQL执行引擎
func NewSQLExecutor(connector ConnectionAcquirer, logger *zap.Logger) *SQLExecutor {
	config := &SQLExecutorConfig{
		QueryTimeout:   30 * time.Second,
		MaxRows:        10000,
		MaxResultBytes: 8 << 20,
	}

	return NewSQLExecutorWithConfig(connector, config, logger)
}

// NewSQLExecutorWithConfig 使用自定义配置创建SQL执行引擎
func NewSQLExecutorWithConfig(connector ConnectionAcquirer, config *SQLExecutorConfig, logger *zap.Logger) *SQLExecutor {
	if config == nil {
		return NewSQLExecutor(connector, logger)
	}

	// 设置默认值
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = 30 * time.Second
	}
	if config.MaxRows <= 0 {
		config.MaxRows = 10000
	}
	if config.MaxResultBytes <= 0 {
		config.MaxResultBytes = 8 << 20
	}

	return &SQLExecutor{
		connector:      connector,
		logger:         logger,
		queryTimeout:   config.QueryTimeout,
		maxRows:        config.MaxRows,
		maxResultBytes: config.MaxResultBytes,
	}
}

// Execute 对目标连接执行一条守卫改写后的SQL
// 取连接失败返回error；语句层面的失败落在结果的success/error字段里
func (se *SQLExecutor) Execute(ctx context.Context, connectionID int64, sqlText string) (*ExecutionResult, error) {
	db, connection, err := se.connector.Acquire(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("获取目标库连接失败: %w", err)
	}

	result := &ExecutionResult{SQLExecuted: sqlText}

	// 计时只覆盖语句本身，不含取连接
	queryCtx, cancel := context.WithTimeout(ctx, se.queryTimeout)
	defer cancel()

	start := time.Now()
	rows, err := db.QueryContext(queryCtx, sqlText)
	if err != nil {
		result.ExecutionTimeMS = time.Since(start).Milliseconds()
		se.fail(result, queryCtx, err)
		se.logExecution(connectionID, connection.Name, result)
		return result, nil
	}
	defer rows.Close()

	if err := se.collectRows(queryCtx, rows, cancel, result); err != nil {
		result.ExecutionTimeMS = time.Since(start).Milliseconds()
		result.Columns = nil
		result.Rows = nil
		result.RowCount = 0
		se.fail(result, queryCtx, err)
		se.logExecution(connectionID, connection.Name, result)
		return result, nil
	}

	result.ExecutionTimeMS = time.Since(start).Milliseconds()
	result.Success = true
	result.RowCount = len(result.Rows)

	se.logExecution(connectionID, connection.Name, result)
	return result, nil
}

// collectRows 扫描结果集并施加行数与字节数上限
// 超限时先cancel中止服务端语句，再返回错误，绝不返回部分结果
func (se *SQLExecutor) collectRows(ctx context.Context, rows *sql.Rows, cancel context.CancelFunc, result *ExecutionResult) error {
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return err
	}

	result.Columns = make([]ColumnDescriptor, len(columnTypes))
	for i, ct := range columnTypes {
		result.Columns[i] = ColumnDescriptor{
			Name:         ct.Name(),
			DatabaseType: ct.DatabaseTypeName(),
		}
	}

	values := make([]any, len(columnTypes))
	pointers := make([]any, len(columnTypes))
	for i := range values {
		pointers[i] = &values[i]
	}

	var totalBytes int64
	for rows.Next() {
		if len(result.Rows) >= se.maxRows {
			cancel()
			return &ExecutionError{
				Kind:    ErrorKindResultTooLarge,
				Message: fmt.Sprintf("result exceeds row cap of %d", se.maxRows),
			}
		}

		if err := rows.Scan(pointers...); err != nil {
			return err
		}

		row := make(Row, len(columnTypes))
		for i, ct := range columnTypes {
			converted, size := convertValue(values[i])
			row[ct.Name()] = converted
			totalBytes += size
		}

		if totalBytes > se.maxResultBytes {
			cancel()
			return &ExecutionError{
				Kind:    ErrorKindResultTooLarge,
				Message: fmt.Sprintf("result exceeds size cap of %d bytes", se.maxResultBytes),
			}
		}

		result.Rows = append(result.Rows, row)
	}

	return rows.Err()
}

// fail 将底层错误归入错误分类并写进结果
func (se *SQLExecutor) fail(result *ExecutionResult, ctx context.Context, err error) {
	result.Success = false

	var execErr *ExecutionError
	switch {
	case errors.As(err, &execErr):
		result.Error = execErr
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		result.Error = &ExecutionError{
			Kind:    ErrorKindTimeout,
			Message: fmt.Sprintf("statement exceeded timeout of %s", se.queryTimeout),
		}
	default:
		result.Error = &ExecutionError{
			Kind:    ErrorKindDriverError,
			Message: err.Error(),
		}
	}
}

// logExecution 记录一次执行的结果
func (se *SQLExecutor) logExecution(connectionID int64, connectionName string, result *ExecutionResult) {
	fields := []zap.Field{
		zap.Int64("connection_id", connectionID),
		zap.String("connection_name", connectionName),
		zap.Bool("success", result.Success),
		zap.Int("row_count", result.RowCount),
		zap.Int64("execution_time_ms", result.ExecutionTimeMS),
	}

	if result.Success {
		se.logger.Info("SQL执行完成", fields...)
	} else {
		fields = append(fields,
			zap.String("error_kind", string(result.Error.Kind)),
			zap.String("error", result.Error.Message))
		se.logger.Warn("SQL执行失败", fields...)
	}
}

// convertValue 将驱动返回值归一化为可序列化的标量，并返回估算尺寸
func convertValue(value any) (any, int64) {
	switch v := value.(type) {
	case nil:
		return nil, 4
	case []byte:
		// 二进制列以base64呈现，避免JSON序列化失败
		encoded := base64.StdEncoding.EncodeToString(v)
		return encoded, int64(len(encoded))
	case time.Time:
		formatted := v.Format(time.RFC3339)
		return formatted, int64(len(formatted))
	case string:
		return v, int64(len(v))
	default:
		return v, 8
	}
}
