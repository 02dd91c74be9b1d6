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

// PostgreSQLQueryHistoryRepository 查询历史的PostgreSQL实现
// 记录核心流水线产出的HistoryEntry字段，置顶记录排在列表前面
type PostgreSQLQueryHistoryRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgreSQLQueryHistoryRepository 创建查询历史Repository
func NewPostgreSQLQueryHistoryRepository(pool *pgxpool.Pool, logger *zap.Logger) repository.QueryHistoryRepository {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PostgreSQLQueryHistoryRepository{
		pool:   pool,
		logger: logger,
	}
}

// Create 追加一条查询历史
func (r *PostgreSQLQueryHistoryRepository) Create(ctx context.Context, entry *repository.QueryHistory) error {
	const sqlQuery = `
		INSERT INTO query_history (connection_id, prompt, sql_text, row_count,
			execution_time_ms, success, error, pinned, create_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	now := time.Now().UTC()

	err := r.pool.QueryRow(ctx, sqlQuery,
		entry.ConnectionID,
		entry.Prompt,
		entry.SQL,
		entry.RowCount,
		entry.ExecutionTimeMS,
		entry.Success,
		entry.Error,
		entry.Pinned,
		now,
	).Scan(&entry.ID)

	if err != nil {
		r.logger.Error("写入查询历史失败",
			zap.Int64("connection_id", entry.ConnectionID),
			zap.Bool("success", entry.Success),
			zap.Error(err))
		return fmt.Errorf("写入查询历史失败: %w", err)
	}

	entry.CreateTime = now
	return nil
}

// GetByID 根据ID获取历史记录（重跑入口依赖它取回SQL）
func (r *PostgreSQLQueryHistoryRepository) GetByID(ctx context.Context, id int64) (*repository.QueryHistory, error) {
	const sqlQuery = `
		SELECT id, connection_id, prompt, sql_text, row_count,
			execution_time_ms, success, error, pinned, create_time
		FROM query_history
		WHERE id = $1`

	entry := &repository.QueryHistory{}

	err := r.pool.QueryRow(ctx, sqlQuery, id).Scan(
		&entry.ID,
		&entry.ConnectionID,
		&entry.Prompt,
		&entry.SQL,
		&entry.RowCount,
		&entry.ExecutionTimeMS,
		&entry.Success,
		&entry.Error,
		&entry.Pinned,
		&entry.CreateTime,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("查询历史不存在: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("获取查询历史失败: %w", err)
	}

	return entry, nil
}

// List 分页获取历史记录，置顶优先、时间倒序
func (r *PostgreSQLQueryHistoryRepository) List(ctx context.Context, limit, offset int) ([]*repository.QueryHistory, error) {
	const sqlQuery = `
		SELECT id, connection_id, prompt, sql_text, row_count,
			execution_time_ms, success, error, pinned, create_time
		FROM query_history
		ORDER BY pinned DESC, create_time DESC
		LIMIT $1 OFFSET $2`

	return r.queryEntries(ctx, sqlQuery, limit, offset)
}

// ListByConnection 分页获取指定连接的历史记录
func (r *PostgreSQLQueryHistoryRepository) ListByConnection(ctx context.Context, connectionID int64, limit, offset int) ([]*repository.QueryHistory, error) {
	const sqlQuery = `
		SELECT id, connection_id, prompt, sql_text, row_count,
			execution_time_ms, success, error, pinned, create_time
		FROM query_history
		WHERE connection_id = $3
		ORDER BY pinned DESC, create_time DESC
		LIMIT $1 OFFSET $2`

	return r.queryEntries(ctx, sqlQuery, limit, offset, connectionID)
}

// queryEntries 执行查询并扫描历史记录列表
func (r *PostgreSQLQueryHistoryRepository) queryEntries(ctx context.Context, sqlQuery string, args ...any) ([]*repository.QueryHistory, error) {
	rows, err := r.pool.Query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("查询历史列表失败: %w", err)
	}
	defer rows.Close()

	var entries []*repository.QueryHistory
	for rows.Next() {
		entry := &repository.QueryHistory{}
		if err := rows.Scan(
			&entry.ID,
			&entry.ConnectionID,
			&entry.Prompt,
			&entry.SQL,
			&entry.RowCount,
			&entry.ExecutionTimeMS,
			&entry.Success,
			&entry.Error,
			&entry.Pinned,
			&entry.CreateTime,
		); err != nil {
			return nil, fmt.Errorf("扫描查询历史失败: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// SetPinned 设置/取消置顶
func (r *PostgreSQLQueryHistoryRepository) SetPinned(ctx context.Context, id int64, pinned bool) error {
	const sqlQuery = `UPDATE query_history SET pinned = $2 WHERE id = $1`

	result, err := r.pool.Exec(ctx, sqlQuery, id, pinned)
	if err != nil {
		return fmt.Errorf("更新置顶状态失败: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("查询历史不存在: %w", repository.ErrNotFound)
	}

	return nil
}

// Delete 删除历史记录
func (r *PostgreSQLQueryHistoryRepository) Delete(ctx context.Context, id int64) error {
	const sqlQuery = `DELETE FROM query_history WHERE id = $1`

	result, err := r.pool.Exec(ctx, sqlQuery, id)
	if err != nil {
		return fmt.Errorf("删除查询历史失败: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("查询历史不存在: %w", repository.ErrNotFound)
	}

	return nil
}

// CountByConnection 统计指定连接的历史数量
func (r *PostgreSQLQueryHistoryRepository) CountByConnection(ctx context.Context, connectionID int64) (int64, error) {
	const sqlQuery = `SELECT COUNT(*) FROM query_history WHERE connection_id = $1`

	var count int64
	if err := r.pool.QueryRow(ctx, sqlQuery, connectionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("统计查询历史失败: %w", err)
	}

	return count, nil
}
