package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/RinNiko/TalkToDBAgent/internal/repository"
)

// PostgreSQLConnectionRepository 连接注册表的PostgreSQL实现
type PostgreSQLConnectionRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgreSQLConnectionRepository 创建连接注册表Repository
func NewPostgreSQLConnectionRepository(pool *pgxpool.Pool, logger *zap.Logger) repository.ConnectionRepository {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PostgreSQLConnectionRepository{
		pool:   pool,
		logger: logger,
	}
}

// Create 创建连接配置
func (r *PostgreSQLConnectionRepository) Create(ctx context.Context, conn *repository.DatabaseConnection) error {
	if !conn.Dialect.Valid() {
		return fmt.Errorf("不支持的数据库方言 %q: %w", conn.Dialect, repository.ErrInvalidInput)
	}

	const sqlQuery = `
		INSERT INTO connections (name, dialect, dsn, status, create_time, update_time, is_deleted)
		VALUES ($1, $2, $3, $4, $5, $6, false)
		RETURNING id`

	now := time.Now().UTC()

	err := r.pool.QueryRow(ctx, sqlQuery,
		conn.Name,
		string(conn.Dialect),
		conn.DSN,
		string(repository.ConnectionActive),
		now,
		now,
	).Scan(&conn.ID)

	if err != nil {
		r.logger.Error("创建连接配置失败",
			zap.String("name", conn.Name),
			zap.String("dialect", string(conn.Dialect)),
			zap.Error(err))
		return fmt.Errorf("创建连接配置失败: %w", err)
	}

	conn.Status = string(repository.ConnectionActive)
	conn.CreateTime = now
	conn.UpdateTime = now

	r.logger.Info("连接配置创建成功",
		zap.Int64("connection_id", conn.ID),
		zap.String("name", conn.Name),
		zap.String("dialect", string(conn.Dialect)))

	return nil
}

// GetByID 根据ID获取连接配置
func (r *PostgreSQLConnectionRepository) GetByID(ctx context.Context, id int64) (*repository.DatabaseConnection, error) {
	const sqlQuery = `
		SELECT id, name, dialect, dsn, status, create_time, update_time, is_deleted
		FROM connections
		WHERE id = $1 AND is_deleted = false`

	conn := &repository.DatabaseConnection{}
	var dialect string

	err := r.pool.QueryRow(ctx, sqlQuery, id).Scan(
		&conn.ID,
		&conn.Name,
		&dialect,
		&conn.DSN,
		&conn.Status,
		&conn.CreateTime,
		&conn.UpdateTime,
		&conn.IsDeleted,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("连接配置不存在: %w", repository.ErrNotFound)
		}
		r.logger.Error("获取连接配置失败",
			zap.Int64("connection_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("获取连接配置失败: %w", err)
	}

	conn.Dialect = repository.Dialect(dialect)
	return conn, nil
}

// List 获取全部连接配置
func (r *PostgreSQLConnectionRepository) List(ctx context.Context) ([]*repository.DatabaseConnection, error) {
	const sqlQuery = `
		SELECT id, name, dialect, dsn, status, create_time, update_time, is_deleted
		FROM connections
		WHERE is_deleted = false
		ORDER BY id`

	rows, err := r.pool.Query(ctx, sqlQuery)
	if err != nil {
		return nil, fmt.Errorf("查询连接列表失败: %w", err)
	}
	defer rows.Close()

	var conns []*repository.DatabaseConnection
	for rows.Next() {
		conn := &repository.DatabaseConnection{}
		var dialect string

		if err := rows.Scan(
			&conn.ID,
			&conn.Name,
			&dialect,
			&conn.DSN,
			&conn.Status,
			&conn.CreateTime,
			&conn.UpdateTime,
			&conn.IsDeleted,
		); err != nil {
			return nil, fmt.Errorf("扫描连接配置失败: %w", err)
		}

		conn.Dialect = repository.Dialect(dialect)
		conns = append(conns, conn)
	}

	return conns, rows.Err()
}

// Update 更新连接配置（凭证轮换或改名）
func (r *PostgreSQLConnectionRepository) Update(ctx context.Context, conn *repository.DatabaseConnection) error {
	const sqlQuery = `
		UPDATE connections
		SET name = $2, dsn = $3, update_time = $4
		WHERE id = $1 AND is_deleted = false`

	now := time.Now().UTC()

	result, err := r.pool.Exec(ctx, sqlQuery, conn.ID, conn.Name, conn.DSN, now)
	if err != nil {
		r.logger.Error("更新连接配置失败",
			zap.Int64("connection_id", conn.ID),
			zap.Error(err))
		return fmt.Errorf("更新连接配置失败: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("连接配置不存在: %w", repository.ErrNotFound)
	}

	conn.UpdateTime = now

	r.logger.Info("连接配置已更新",
		zap.Int64("connection_id", conn.ID))

	return nil
}

// Delete 软删除连接配置
func (r *PostgreSQLConnectionRepository) Delete(ctx context.Context, id int64) error {
	const sqlQuery = `
		UPDATE connections
		SET is_deleted = true, update_time = $2
		WHERE id = $1 AND is_deleted = false`

	result, err := r.pool.Exec(ctx, sqlQuery, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("删除连接配置失败: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("连接配置不存在: %w", repository.ErrNotFound)
	}

	r.logger.Info("连接配置已删除",
		zap.Int64("connection_id", id))

	return nil
}

// UpdateStatus 更新连接状态
func (r *PostgreSQLConnectionRepository) UpdateStatus(ctx context.Context, id int64, status repository.ConnectionStatus) error {
	const sqlQuery = `
		UPDATE connections
		SET status = $2, update_time = $3
		WHERE id = $1 AND is_deleted = false`

	result, err := r.pool.Exec(ctx, sqlQuery, id, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("更新连接状态失败: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("连接配置不存在: %w", repository.ErrNotFound)
	}

	return nil
}

// ExistsByName 判断名称是否已被占用
func (r *PostgreSQLConnectionRepository) ExistsByName(ctx context.Context, name string) (bool, error) {
	const sqlQuery = `
		SELECT EXISTS(SELECT 1 FROM connections WHERE name = $1 AND is_deleted = false)`

	var exists bool
	if err := r.pool.QueryRow(ctx, sqlQuery, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("检查连接名称失败: %w", err)
	}

	return exists, nil
}
