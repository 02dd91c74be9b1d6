package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/RinNiko/TalkToDBAgent/internal/metrics"
	"github.com/RinNiko/TalkToDBAgent/internal/repository"
	"github.com/RinNiko/TalkToDBAgent/internal/service"
)

// SchemaHandler 结构快照处理器
// 读取走缓存，探测是显式触发的可观测事件，绝不在读取路径上静默刷新
type SchemaHandler struct {
	introspector *service.SchemaIntrospector
	schemaCache  *service.SchemaCache
	connectionRepo repository.ConnectionRepository
	metrics      *metrics.PrometheusMetrics
	logger       *zap.Logger

	schemaCacheTTL time.Duration
}

// NewSchemaHandler 创建结构快照处理器
func NewSchemaHandler(
	introspector *service.SchemaIntrospector,
	schemaCache *service.SchemaCache,
	connectionRepo repository.ConnectionRepository,
	promMetrics *metrics.PrometheusMetrics,
	schemaCacheTTL time.Duration,
	logger *zap.Logger,
) *SchemaHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SchemaHandler{
		introspector:   introspector,
		schemaCache:    schemaCache,
		connectionRepo: connectionRepo,
		metrics:        promMetrics,
		logger:         logger,
		schemaCacheTTL: schemaCacheTTL,
	}
}

// Get 读取缓存中的结构快照
// GET /api/v1/schema/:connection_id
// 未命中返回404并提示调用方显式触发探测
func (h *SchemaHandler) Get(c *gin.Context) {
	connectionID, ok := parseIDParam(c, "connection_id")
	if !ok {
		return
	}

	snapshot, hit := h.schemaCache.Get(connectionID, h.schemaCacheTTL)
	if !hit {
		respondError(c, http.StatusNotFound, CodeNotFound,
			"结构快照不存在或已过期，请先触发探测", gin.H{"discover": "POST /api/v1/schema/" + strconv.FormatInt(connectionID, 10) + "/discover"})
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// Discover 探测目标库结构并整体替换缓存快照
// POST /api/v1/schema/:connection_id/discover
func (h *SchemaHandler) Discover(c *gin.Context) {
	connectionID, ok := parseIDParam(c, "connection_id")
	if !ok {
		return
	}

	connection, err := h.connectionRepo.GetByID(c.Request.Context(), connectionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(c, http.StatusNotFound, CodeNotFound, "连接配置不存在", nil)
			return
		}
		respondError(c, http.StatusInternalServerError, CodeInternalError, "获取连接配置失败", nil)
		return
	}

	start := time.Now()
	snapshot, err := h.introspector.Discover(c.Request.Context(), connectionID)
	if err != nil {
		h.metrics.RecordSchemaDiscovery(string(connection.Dialect), "error", time.Since(start))

		var introspectionErr *service.IntrospectionError
		if errors.As(err, &introspectionErr) {
			respondError(c, http.StatusBadGateway, CodeIntrospectionFail,
				"结构探测失败", introspectionErr.Message)
			return
		}
		respondError(c, http.StatusInternalServerError, CodeInternalError, "结构探测失败", nil)
		return
	}

	h.metrics.RecordSchemaDiscovery(string(connection.Dialect), "success", time.Since(start))
	h.schemaCache.Store(snapshot)

	h.logger.Info("结构快照已刷新",
		zap.Int64("connection_id", connectionID),
		zap.Int("table_count", len(snapshot.Tables)))

	c.JSON(http.StatusOK, snapshot)
}

// QuickExamples 从结构快照派生提问示例
// GET /api/v1/schema/:connection_id/quick-examples
func (h *SchemaHandler) QuickExamples(c *gin.Context) {
	connectionID, ok := parseIDParam(c, "connection_id")
	if !ok {
		return
	}

	snapshot, hit := h.schemaCache.Get(connectionID, h.schemaCacheTTL)
	if !hit {
		respondError(c, http.StatusNotFound, CodeNotFound,
			"结构快照不存在或已过期，请先触发探测", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"examples": service.QuickExamples(snapshot)})
}

// parseIDParam 解析路径上的数值ID参数
func parseIDParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, http.StatusBadRequest, CodeInvalidRequest, "无效的ID参数", name)
		return 0, false
	}
	return id, true
}
