package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/RinNiko/TalkToDBAgent/internal/repository"
)

// SchemaIntrospector 数据库结构探测器
// 按方言探测目标库的表、列、类型和键信息，产出归一化的SchemaSnapshot
type SchemaIntrospector struct {
	// 核心组件
	connector ConnectionAcquirer // 目标连接器
	logger    *zap.Logger        // 日志器

	// 配置参数
	introspectionTimeout time.Duration // 探测超时时间
	maxTables            int           // 单次探测最大表数量
}

// SchemaIntrospectorConfig 结构探测器配置
type SchemaIntrospectorConfig struct {
	IntrospectionTimeout time.Duration `json:"introspection_timeout"` // 探测超时，默认60秒
	MaxTables            int           `json:"max_tables"`            // 最大表数量，默认200
}

// NewSchemaIntrospector 创建结构探测器
func NewSchemaIntrospector(connector ConnectionAcquirer, logger *zap.Logger) *SchemaIntrospector {
	config := &SchemaIntrospectorConfig{
		IntrospectionTimeout: 60 * time.Second,
		MaxTables:            200,
	}

	return NewSchemaIntrospectorWithConfig(connector, config, logger)
}

// NewSchemaIntrospectorWithConfig 使用自定义配置创建结构探测器
func NewSchemaIntrospectorWithConfig(
	connector ConnectionAcquirer,
	config *SchemaIntrospectorConfig,
	logger *zap.Logger,
) *SchemaIntrospector {
	if config == nil {
		return NewSchemaIntrospector(connector, logger)
	}

	// 设置默认值
	if config.IntrospectionTimeout <= 0 {
		config.IntrospectionTimeout = 60 * time.Second
	}
	if config.MaxTables <= 0 {
		config.MaxTables = 200
	}

	return &SchemaIntrospector{
		connector:            connector,
		logger:               logger,
		introspectionTimeout: config.IntrospectionTimeout,
		maxTables:            config.MaxTables,
	}
}

// Discover 探测目标库结构并产出快照
// 失败返回*IntrospectionError；产出的快照满足表名/列名唯一性不变量
func (si *SchemaIntrospector) Discover(ctx context.Context, connectionID int64) (*SchemaSnapshot, error) {
	start := time.Now()

	si.logger.Info("开始探测数据库结构",
		zap.Int64("connection_id", connectionID))

	introspectCtx, cancel := context.WithTimeout(ctx, si.introspectionTimeout)
	defer cancel()

	db, connection, err := si.connector.Acquire(introspectCtx, connectionID)
	if err != nil {
		return nil, &IntrospectionError{
			ConnectionID: connectionID,
			Message:      "无法建立目标库连接",
			Cause:        err,
		}
	}

	snapshot := &SchemaSnapshot{
		ConnectionID: connectionID,
		CapturedAt:   time.Now().UTC(),
	}

	switch connection.Dialect {
	case repository.DialectPostgres:
		err = si.introspectPostgres(introspectCtx, db, snapshot)
	case repository.DialectMySQL:
		err = si.introspectMySQL(introspectCtx, db, snapshot)
	case repository.DialectSQLite:
		err = si.introspectSQLite(introspectCtx, db, snapshot)
	default:
		return nil, &IntrospectionError{
			ConnectionID: connectionID,
			Dialect:      string(connection.Dialect),
			Message:      "不支持的数据库方言",
		}
	}

	if err != nil {
		return nil, &IntrospectionError{
			ConnectionID: connectionID,
			Dialect:      string(connection.Dialect),
			Message:      "结构探测失败",
			Cause:        err,
		}
	}

	if err := snapshot.Validate(); err != nil {
		return nil, &IntrospectionError{
			ConnectionID: connectionID,
			Dialect:      string(connection.Dialect),
			Message:      "探测结果不满足快照不变量",
			Cause:        err,
		}
	}

	var totalColumns int
	for _, table := range snapshot.Tables {
		totalColumns += len(table.Columns)
	}

	si.logger.Info("数据库结构探测完成",
		zap.Int64("connection_id", connectionID),
		zap.String("database", snapshot.DatabaseName),
		zap.Int("table_count", len(snapshot.Tables)),
		zap.Int("column_count", totalColumns),
		zap.Duration("duration", time.Since(start)))

	return snapshot, nil
}

// introspectPostgres 探测PostgreSQL结构
func (si *SchemaIntrospector) introspectPostgres(ctx context.Context, db *sql.DB, snapshot *SchemaSnapshot) error {
	if err := db.QueryRowContext(ctx, `SELECT current_database()`).Scan(&snapshot.DatabaseName); err != nil {
		return fmt.Errorf("查询数据库名失败: %w", err)
	}

	const tableQuery = `
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		  AND table_schema NOT IN ('pg_catalog', 'information_schema')
		ORDER BY table_schema, table_name`

	rows, err := db.QueryContext(ctx, tableQuery)
	if err != nil {
		return fmt.Errorf("查询表列表失败: %w", err)
	}
	defer rows.Close()

	type tableRef struct{ schema, name string }
	var refs []tableRef
	for rows.Next() {
		var ref tableRef
		if err := rows.Scan(&ref.schema, &ref.name); err != nil {
			return fmt.Errorf("扫描表名失败: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if len(refs) > si.maxTables {
		si.logger.Warn("表数量超过探测上限，将截断",
			zap.Int("total_tables", len(refs)),
			zap.Int("max_tables", si.maxTables))
		refs = refs[:si.maxTables]
	}

	for _, ref := range refs {
		table := Table{Schema: ref.schema, Name: ref.name, EstimatedRows: -1}

		if err := si.postgresColumns(ctx, db, &table); err != nil {
			return fmt.Errorf("探测表 %s.%s 失败: %w", ref.schema, ref.name, err)
		}

		// 估计行数来自pg_class统计信息，探测失败不影响快照
		var estimated int64
		err := db.QueryRowContext(ctx,
			`SELECT reltuples::bigint FROM pg_class WHERE oid = ($1 || '.' || $2)::regclass::oid`,
			ref.schema, ref.name,
		).Scan(&estimated)
		if err == nil {
			table.EstimatedRows = estimated
		}

		snapshot.Tables = append(snapshot.Tables, table)
	}

	return nil
}

// postgresColumns 探测PostgreSQL表的列、主键和唯一约束
func (si *SchemaIntrospector) postgresColumns(ctx context.Context, db *sql.DB, table *Table) error {
	const columnQuery = `
		SELECT c.column_name,
		       c.data_type,
		       c.udt_name,
		       c.character_maximum_length,
		       c.numeric_precision,
		       c.numeric_scale,
		       c.is_nullable,
		       EXISTS (
		           SELECT 1 FROM information_schema.table_constraints tc
		           JOIN information_schema.key_column_usage kcu
		             ON tc.constraint_name = kcu.constraint_name
		            AND tc.table_schema = kcu.table_schema
		           WHERE tc.table_schema = c.table_schema
		             AND tc.table_name = c.table_name
		             AND tc.constraint_type = 'PRIMARY KEY'
		             AND kcu.column_name = c.column_name
		       ) AS is_primary_key,
		       EXISTS (
		           SELECT 1 FROM information_schema.table_constraints tc
		           JOIN information_schema.key_column_usage kcu
		             ON tc.constraint_name = kcu.constraint_name
		            AND tc.table_schema = kcu.table_schema
		           WHERE tc.table_schema = c.table_schema
		             AND tc.table_name = c.table_name
		             AND tc.constraint_type = 'UNIQUE'
		             AND kcu.column_name = c.column_name
		       ) AS is_unique
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`

	rows, err := db.QueryContext(ctx, columnQuery, table.Schema, table.Name)
	if err != nil {
		return fmt.Errorf("查询列信息失败: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			column   Column
			dataType string
			udtName  string
			charLen  sql.NullInt64
			numPrec  sql.NullInt64
			numScale sql.NullInt64
			nullable string
		)

		if err := rows.Scan(
			&column.Name,
			&dataType,
			&udtName,
			&charLen,
			&numPrec,
			&numScale,
			&nullable,
			&column.IsPrimaryKey,
			&column.IsUnique,
		); err != nil {
			return fmt.Errorf("扫描列信息失败: %w", err)
		}

		column.Nullable = nullable == "YES"
		column.DeclaredType = composePostgresType(dataType, udtName, charLen, numPrec, numScale)
		table.Columns = append(table.Columns, column)
	}

	return rows.Err()
}

// composePostgresType 将udt_name归一化为可读的声明类型
func composePostgresType(dataType, udtName string, charLen, numPrec, numScale sql.NullInt64) string {
	switch udtName {
	case "varchar", "bpchar":
		if charLen.Valid {
			return fmt.Sprintf("varchar(%d)", charLen.Int64)
		}
		return "varchar"
	case "int2":
		return "smallint"
	case "int4":
		return "integer"
	case "int8":
		return "bigint"
	case "numeric":
		if numPrec.Valid && numScale.Valid {
			return fmt.Sprintf("numeric(%d,%d)", numPrec.Int64, numScale.Int64)
		}
		if numPrec.Valid {
			return fmt.Sprintf("numeric(%d)", numPrec.Int64)
		}
		return "numeric"
	case "timestamp", "timestamptz", "json", "jsonb", "text", "date", "uuid":
		return udtName
	case "bool":
		return "boolean"
	case "float4":
		return "real"
	case "float8":
		return "double precision"
	}
	return dataType
}

// introspectMySQL 探测MySQL结构
func (si *SchemaIntrospector) introspectMySQL(ctx context.Context, db *sql.DB, snapshot *SchemaSnapshot) error {
	if err := db.QueryRowContext(ctx, `SELECT DATABASE()`).Scan(&snapshot.DatabaseName); err != nil {
		return fmt.Errorf("查询数据库名失败: %w", err)
	}

	const tableQuery = `
		SELECT table_name, COALESCE(table_rows, -1)
		FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'
		ORDER BY table_name`

	rows, err := db.QueryContext(ctx, tableQuery)
	if err != nil {
		return fmt.Errorf("查询表列表失败: %w", err)
	}
	defer rows.Close()

	type tableRef struct {
		name string
		rows int64
	}
	var refs []tableRef
	for rows.Next() {
		var ref tableRef
		if err := rows.Scan(&ref.name, &ref.rows); err != nil {
			return fmt.Errorf("扫描表名失败: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if len(refs) > si.maxTables {
		si.logger.Warn("表数量超过探测上限，将截断",
			zap.Int("total_tables", len(refs)),
			zap.Int("max_tables", si.maxTables))
		refs = refs[:si.maxTables]
	}

	const columnQuery = `
		SELECT column_name, column_type, is_nullable, column_key
		FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ?
		ORDER BY ordinal_position`

	for _, ref := range refs {
		table := Table{Name: ref.name, EstimatedRows: ref.rows}

		colRows, err := db.QueryContext(ctx, columnQuery, ref.name)
		if err != nil {
			return fmt.Errorf("查询表 %s 列信息失败: %w", ref.name, err)
		}

		for colRows.Next() {
			var (
				column    Column
				nullable  string
				columnKey string
			)
			if err := colRows.Scan(&column.Name, &column.DeclaredType, &nullable, &columnKey); err != nil {
				colRows.Close()
				return fmt.Errorf("扫描列信息失败: %w", err)
			}

			column.Nullable = nullable == "YES"
			column.IsPrimaryKey = columnKey == "PRI"
			column.IsUnique = columnKey == "PRI" || columnKey == "UNI"
			table.Columns = append(table.Columns, column)
		}
		if err := colRows.Err(); err != nil {
			colRows.Close()
			return err
		}
		colRows.Close()

		snapshot.Tables = append(snapshot.Tables, table)
	}

	return nil
}

// introspectSQLite 探测SQLite结构
func (si *SchemaIntrospector) introspectSQLite(ctx context.Context, db *sql.DB, snapshot *SchemaSnapshot) error {
	snapshot.DatabaseName = "main"

	const tableQuery = `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`

	rows, err := db.QueryContext(ctx, tableQuery)
	if err != nil {
		return fmt.Errorf("查询表列表失败: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("扫描表名失败: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if len(names) > si.maxTables {
		names = names[:si.maxTables]
	}

	for _, name := range names {
		table := Table{Name: name, EstimatedRows: -1}

		colRows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, name))
		if err != nil {
			return fmt.Errorf("查询表 %s 列信息失败: %w", name, err)
		}

		for colRows.Next() {
			var (
				cid     int
				column  Column
				notNull int
				dflt    sql.NullString
				pk      int
			)
			if err := colRows.Scan(&cid, &column.Name, &column.DeclaredType, &notNull, &dflt, &pk); err != nil {
				colRows.Close()
				return fmt.Errorf("扫描列信息失败: %w", err)
			}

			column.Nullable = notNull == 0
			column.IsPrimaryKey = pk > 0
			column.IsUnique = pk > 0
			table.Columns = append(table.Columns, column)
		}
		if err := colRows.Err(); err != nil {
			colRows.Close()
			return err
		}
		colRows.Close()

		snapshot.Tables = append(snapshot.Tables, table)
	}

	return nil
}
