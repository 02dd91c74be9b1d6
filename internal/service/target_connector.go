package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/RinNiko/TalkToDBAgent/internal/repository"

	// 目标库方言驱动：postgres走pgx的database/sql适配层，其余走原生驱动
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// ConnectionAcquirer 目标库连接获取能力
// 执行引擎与结构探测器只依赖这个接口，测试时可注入假实现
type ConnectionAcquirer interface {
	Acquire(ctx context.Context, connectionID int64) (*sql.DB, *repository.DatabaseConnection, error)
}

// TargetConnector 目标数据库连接器
// 按connection_id维护database/sql连接池，支持多方言、健康探测和空闲回收
type TargetConnector struct {
	// 核心组件
	connectionRepo repository.ConnectionRepository // 连接注册表
	logger         *zap.Logger                     // 日志器

	// 连接池管理
	pools sync.Map // key: connectionID, value: *managedDB

	// 配置参数
	connectTimeout time.Duration // 建连超时
	idleTimeout    time.Duration // 连接池空闲回收阈值
	maxOpenConns   int           // 单池最大连接数
	maxIdleConns   int           // 单池最大空闲连接数

	// 生命周期管理
	mu        sync.Mutex
	isRunning bool
	stopCh    chan struct{}
}

// managedDB 托管的目标库连接池
type managedDB struct {
	db         *sql.DB
	connection *repository.DatabaseConnection
	lastUsed   time.Time
	mutex      sync.RWMutex
}

// TargetConnectorConfig 目标连接器配置
type TargetConnectorConfig struct {
	ConnectTimeout time.Duration `json:"connect_timeout"` // 建连超时，默认10秒
	IdleTimeout    time.Duration `json:"idle_timeout"`    // 空闲回收阈值，默认30分钟
	MaxOpenConns   int           `json:"max_open_conns"`  // 单池最大连接数，默认10
	MaxIdleConns   int           `json:"max_idle_conns"`  // 单池最大空闲连接数，默认2
}

// NewTargetConnector 创建目标数据库连接器
func NewTargetConnector(connectionRepo repository.ConnectionRepository, logger *zap.Logger) *TargetConnector {
	config := &TargetConnectorConfig{
		ConnectTimeout: 10 * time.Second,
		IdleTimeout:    30 * time.Minute,
		MaxOpenConns:   10,
		MaxIdleConns:   2,
	}

	return NewTargetConnectorWithConfig(connectionRepo, config, logger)
}

// NewTargetConnectorWithConfig 使用自定义配置创建目标数据库连接器
func NewTargetConnectorWithConfig(
	connectionRepo repository.ConnectionRepository,
	config *TargetConnectorConfig,
	logger *zap.Logger,
) *TargetConnector {
	if config == nil {
		return NewTargetConnector(connectionRepo, logger)
	}

	// 设置默认值
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 30 * time.Minute
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = 10
	}
	if config.MaxIdleConns <= 0 {
		config.MaxIdleConns = 2
	}

	return &TargetConnector{
		connectionRepo: connectionRepo,
		logger:         logger,
		connectTimeout: config.ConnectTimeout,
		idleTimeout:    config.IdleTimeout,
		maxOpenConns:   config.MaxOpenConns,
		maxIdleConns:   config.MaxIdleConns,
		stopCh:         make(chan struct{}),
	}
}

// Start 启动空闲连接池回收例程
func (tc *TargetConnector) Start() error {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.isRunning {
		return errors.New("目标连接器已在运行")
	}
	tc.isRunning = true

	go tc.cleanupRoutine()

	tc.logger.Info("目标连接器已启动",
		zap.Duration("idle_timeout", tc.idleTimeout),
		zap.Int("max_open_conns", tc.maxOpenConns))

	return nil
}

// Stop 关闭所有托管连接池
func (tc *TargetConnector) Stop() error {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if !tc.isRunning {
		return nil
	}
	tc.isRunning = false
	close(tc.stopCh)

	tc.pools.Range(func(key, value any) bool {
		if managed, ok := value.(*managedDB); ok {
			_ = managed.db.Close()
		}
		tc.pools.Delete(key)
		return true
	})

	tc.logger.Info("目标连接器已停止")
	return nil
}

// Acquire 获取目标库连接池及其配置
func (tc *TargetConnector) Acquire(ctx context.Context, connectionID int64) (*sql.DB, *repository.DatabaseConnection, error) {
	if value, ok := tc.pools.Load(connectionID); ok {
		if managed, ok := value.(*managedDB); ok {
			managed.mutex.Lock()
			managed.lastUsed = time.Now()
			managed.mutex.Unlock()
			return managed.db, managed.connection, nil
		}
	}

	return tc.openPool(ctx, connectionID)
}

// openPool 按注册表配置建立新的连接池
func (tc *TargetConnector) openPool(ctx context.Context, connectionID int64) (*sql.DB, *repository.DatabaseConnection, error) {
	connection, err := tc.connectionRepo.GetByID(ctx, connectionID)
	if err != nil {
		return nil, nil, fmt.Errorf("获取连接配置失败: %w", err)
	}

	if !connection.Dialect.Valid() {
		return nil, nil, fmt.Errorf("不支持的数据库方言: %s", connection.Dialect)
	}

	db, err := sql.Open(connection.Dialect.DriverName(), connection.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("打开目标库连接失败: %w", err)
	}

	db.SetMaxOpenConns(tc.maxOpenConns)
	db.SetMaxIdleConns(tc.maxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, tc.connectTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("目标库连接测试失败: %w", err)
	}

	managed := &managedDB{
		db:         db,
		connection: connection,
		lastUsed:   time.Now(),
	}
	tc.pools.Store(connectionID, managed)

	tc.logger.Info("建立目标库连接池",
		zap.Int64("connection_id", connectionID),
		zap.String("dialect", string(connection.Dialect)),
		zap.String("name", connection.Name))

	return db, connection, nil
}

// TestConnection 按给定配置直接测试连通性，不进入连接池缓存
func (tc *TargetConnector) TestConnection(ctx context.Context, connection *repository.DatabaseConnection) error {
	if !connection.Dialect.Valid() {
		return fmt.Errorf("不支持的数据库方言: %s", connection.Dialect)
	}

	db, err := sql.Open(connection.Dialect.DriverName(), connection.DSN)
	if err != nil {
		return fmt.Errorf("打开测试连接失败: %w", err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, tc.connectTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("连接测试失败: %w", err)
	}

	return nil
}

// Invalidate 关闭并移除指定连接的连接池（配置更新或删除后调用）
func (tc *TargetConnector) Invalidate(connectionID int64) {
	if value, ok := tc.pools.LoadAndDelete(connectionID); ok {
		if managed, ok := value.(*managedDB); ok {
			_ = managed.db.Close()
		}
		tc.logger.Info("目标库连接池已移除",
			zap.Int64("connection_id", connectionID))
	}
}

// cleanupRoutine 定期回收空闲连接池
func (tc *TargetConnector) cleanupRoutine() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-tc.stopCh:
			return
		case <-ticker.C:
			tc.cleanupIdlePools()
		}
	}
}

// cleanupIdlePools 关闭超过空闲阈值的连接池
func (tc *TargetConnector) cleanupIdlePools() {
	now := time.Now()

	tc.pools.Range(func(key, value any) bool {
		managed, ok := value.(*managedDB)
		if !ok {
			return true
		}

		managed.mutex.RLock()
		idle := now.Sub(managed.lastUsed)
		managed.mutex.RUnlock()

		if idle > tc.idleTimeout {
			connectionID := key.(int64)
			tc.logger.Info("回收空闲目标库连接池",
				zap.Int64("connection_id", connectionID),
				zap.Duration("idle_time", idle))

			_ = managed.db.Close()
			tc.pools.Delete(connectionID)
		}
		return true
	})
}
