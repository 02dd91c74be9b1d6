package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/RinNiko/TalkToDBAgent/internal/repository"
)

// PostgreSQLRepository PostgreSQL Repository聚合实现
// 系统库只存放连接注册表与查询历史，基于pgxpool共享同一个连接池
type PostgreSQLRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger

	connectionRepo repository.ConnectionRepository
	historyRepo    repository.QueryHistoryRepository
}

// NewPostgreSQLRepository 创建PostgreSQL Repository聚合实例
func NewPostgreSQLRepository(pool *pgxpool.Pool, logger *zap.Logger) *PostgreSQLRepository {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PostgreSQLRepository{
		pool:           pool,
		logger:         logger,
		connectionRepo: NewPostgreSQLConnectionRepository(pool, logger),
		historyRepo:    NewPostgreSQLQueryHistoryRepository(pool, logger),
	}
}

// ConnectionRepo 获取连接注册表Repository
func (r *PostgreSQLRepository) ConnectionRepo() repository.ConnectionRepository {
	return r.connectionRepo
}

// HistoryRepo 获取查询历史Repository
func (r *PostgreSQLRepository) HistoryRepo() repository.QueryHistoryRepository {
	return r.historyRepo
}

// Close 关闭连接池
func (r *PostgreSQLRepository) Close() error {
	r.pool.Close()
	return nil
}

// HealthCheck 检查系统库连通性
func (r *PostgreSQLRepository) HealthCheck(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("系统库健康检查失败: %w", err)
	}
	return nil
}
