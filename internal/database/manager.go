package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/RinNiko/TalkToDBAgent/internal/config"
)

// Manager 系统库连接管理器
// 系统库存放连接注册表与查询历史，基于pgxpool管理连接池
type Manager struct {
	pool   *pgxpool.Pool
	config *config.DatabaseConfig
	logger *zap.Logger
}

// NewManager 创建系统库连接管理器
func NewManager(dbConfig *config.DatabaseConfig, logger *zap.Logger) (*Manager, error) {
	if dbConfig == nil {
		return nil, fmt.Errorf("数据库配置不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	logger.Info("初始化系统库连接池",
		zap.String("host", dbConfig.Host),
		zap.Int("port", dbConfig.Port),
		zap.String("database", dbConfig.Database),
		zap.Int32("max_conns", dbConfig.MaxConns))

	poolConfig, err := dbConfig.PoolConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("创建系统库连接池失败: %w", err)
	}

	manager := &Manager{
		pool:   pool,
		config: dbConfig,
		logger: logger,
	}

	if err := manager.HealthCheck(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("系统库健康检查失败: %w", err)
	}

	logger.Info("系统库连接池初始化成功")
	return manager, nil
}

// GetPool 获取连接池
func (m *Manager) GetPool() *pgxpool.Pool {
	return m.pool
}

// HealthCheck 健康检查
func (m *Manager) HealthCheck(ctx context.Context) error {
	if m.pool == nil {
		return fmt.Errorf("系统库连接池未初始化")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := m.pool.Ping(pingCtx); err != nil {
		return fmt.Errorf("系统库ping失败: %w", err)
	}

	return nil
}

// Stats 连接池状态（健康端点使用）
func (m *Manager) Stats() map[string]any {
	if m.pool == nil {
		return nil
	}

	stat := m.pool.Stat()
	return map[string]any{
		"total_conns":    stat.TotalConns(),
		"idle_conns":     stat.IdleConns(),
		"acquired_conns": stat.AcquiredConns(),
		"max_conns":      stat.MaxConns(),
	}
}

// Close 关闭连接池
func (m *Manager) Close() {
	if m.pool != nil {
		m.pool.Close()
		m.logger.Info("系统库连接池已关闭")
	}
}
