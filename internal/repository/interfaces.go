package repository

import "context"

// Repository 主Repository接口，聚合所有子Repository
type Repository interface {
	ConnectionRepo() ConnectionRepository
	HistoryRepo() QueryHistoryRepository

	Close() error
	HealthCheck(ctx context.Context) error
}

// ConnectionRepository 连接注册表Repository接口
// 提供目标数据库连接配置的管理
type ConnectionRepository interface {
	Create(ctx context.Context, conn *DatabaseConnection) error
	GetByID(ctx context.Context, id int64) (*DatabaseConnection, error)
	List(ctx context.Context) ([]*DatabaseConnection, error)
	Update(ctx context.Context, conn *DatabaseConnection) error
	Delete(ctx context.Context, id int64) error // 软删除
	UpdateStatus(ctx context.Context, id int64, status ConnectionStatus) error
	ExistsByName(ctx context.Context, name string) (bool, error)
}

// QueryHistoryRepository 查询历史Repository接口
// 作为核心流水线的追加型落地端，同时支持按ID取回SQL用于重跑
type QueryHistoryRepository interface {
	Create(ctx context.Context, entry *QueryHistory) error
	GetByID(ctx context.Context, id int64) (*QueryHistory, error)
	List(ctx context.Context, limit, offset int) ([]*QueryHistory, error)
	ListByConnection(ctx context.Context, connectionID int64, limit, offset int) ([]*QueryHistory, error)
	SetPinned(ctx context.Context, id int64, pinned bool) error
	Delete(ctx context.Context, id int64) error
	CountByConnection(ctx context.Context, connectionID int64) (int64, error)
}
