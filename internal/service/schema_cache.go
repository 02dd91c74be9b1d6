package service

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// SchemaCache 结构快照缓存
// 按connection_id缓存最近一次探测的快照，整体替换、绝不原地修改
// 过期判定只在读取时进行，不做后台自动刷新
type SchemaCache struct {
	// 缓存存储
	snapshots sync.Map // key: connectionID, value: *cachedSnapshot

	// 配置参数
	defaultMaxAge time.Duration // 默认快照有效期

	logger *zap.Logger
}

// cachedSnapshot 缓存条目
type cachedSnapshot struct {
	snapshot *SchemaSnapshot
	storedAt time.Time
}

// SchemaCacheConfig 快照缓存配置
type SchemaCacheConfig struct {
	DefaultMaxAge time.Duration `json:"default_max_age"` // 默认有效期，默认10分钟
}

// NewSchemaCache 创建结构快照缓存
func NewSchemaCache(logger *zap.Logger) *SchemaCache {
	config := &SchemaCacheConfig{
		DefaultMaxAge: 10 * time.Minute,
	}

	return NewSchemaCacheWithConfig(config, logger)
}

// NewSchemaCacheWithConfig 使用自定义配置创建结构快照缓存
func NewSchemaCacheWithConfig(config *SchemaCacheConfig, logger *zap.Logger) *SchemaCache {
	if config == nil {
		return NewSchemaCache(logger)
	}

	if config.DefaultMaxAge <= 0 {
		config.DefaultMaxAge = 10 * time.Minute
	}

	return &SchemaCache{
		defaultMaxAge: config.DefaultMaxAge,
		logger:        logger,
	}
}

// Get 读取未过期的快照
// maxAge <= 0 时使用默认有效期；未命中或已过期返回false，由调用方决定是否重新探测
func (sc *SchemaCache) Get(connectionID int64, maxAge time.Duration) (*SchemaSnapshot, bool) {
	if maxAge <= 0 {
		maxAge = sc.defaultMaxAge
	}

	value, ok := sc.snapshots.Load(connectionID)
	if !ok {
		return nil, false
	}

	cached, ok := value.(*cachedSnapshot)
	if !ok {
		return nil, false
	}

	if time.Since(cached.storedAt) > maxAge {
		sc.logger.Debug("结构快照已过期",
			zap.Int64("connection_id", connectionID),
			zap.Time("stored_at", cached.storedAt))
		return nil, false
	}

	return cached.snapshot, true
}

// Store 整体替换指定连接的快照
func (sc *SchemaCache) Store(snapshot *SchemaSnapshot) {
	if snapshot == nil {
		return
	}

	sc.snapshots.Store(snapshot.ConnectionID, &cachedSnapshot{
		snapshot: snapshot,
		storedAt: time.Now(),
	})

	sc.logger.Debug("结构快照已缓存",
		zap.Int64("connection_id", snapshot.ConnectionID),
		zap.Int("table_count", len(snapshot.Tables)))
}

// Invalidate 移除指定连接的快照（连接配置变更后调用）
func (sc *SchemaCache) Invalidate(connectionID int64) {
	if _, ok := sc.snapshots.LoadAndDelete(connectionID); ok {
		sc.logger.Info("结构快照已失效",
			zap.Int64("connection_id", connectionID))
	}
}

// Clear 清空全部快照
func (sc *SchemaCache) Clear() {
	sc.snapshots.Range(func(key, _ any) bool {
		sc.snapshots.Delete(key)
		return true
	})
}
