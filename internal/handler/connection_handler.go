package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/RinNiko/TalkToDBAgent/internal/repository"
	"github.com/RinNiko/TalkToDBAgent/internal/service"
)

// ConnectionHandler 目标库连接注册表处理器
type ConnectionHandler struct {
	connectionRepo repository.ConnectionRepository
	connector      *service.TargetConnector
	schemaCache    *service.SchemaCache
	logger         *zap.Logger
}

// NewConnectionHandler 创建连接注册表处理器
func NewConnectionHandler(
	connectionRepo repository.ConnectionRepository,
	connector *service.TargetConnector,
	schemaCache *service.SchemaCache,
	logger *zap.Logger,
) *ConnectionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ConnectionHandler{
		connectionRepo: connectionRepo,
		connector:      connector,
		schemaCache:    schemaCache,
		logger:         logger,
	}
}

// createConnectionRequest 创建连接请求体
type createConnectionRequest struct {
	Name    string `json:"name" binding:"required"`
	Dialect string `json:"dialect" binding:"required"`
	DSN     string `json:"dsn" binding:"required"`
}

// updateConnectionRequest 更新连接请求体
type updateConnectionRequest struct {
	Name string `json:"name"`
	DSN  string `json:"dsn"`
}

// Create 创建连接配置
// POST /api/v1/connections
func (h *ConnectionHandler) Create(c *gin.Context) {
	var req createConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, CodeInvalidRequest, "请求参数无效", err.Error())
		return
	}

	dialect := repository.Dialect(req.Dialect)
	if !dialect.Valid() {
		respondError(c, http.StatusBadRequest, CodeInvalidRequest, "不支持的数据库方言", req.Dialect)
		return
	}

	exists, err := h.connectionRepo.ExistsByName(c.Request.Context(), req.Name)
	if err != nil {
		respondError(c, http.StatusInternalServerError, CodeInternalError, "检查连接名称失败", nil)
		return
	}
	if exists {
		respondError(c, http.StatusConflict, CodeDuplicateName, "连接名称已存在", req.Name)
		return
	}

	connection := &repository.DatabaseConnection{
		Name:    req.Name,
		Dialect: dialect,
		DSN:     req.DSN,
	}

	if err := h.connectionRepo.Create(c.Request.Context(), connection); err != nil {
		respondError(c, http.StatusInternalServerError, CodeInternalError, "创建连接配置失败", nil)
		return
	}

	c.JSON(http.StatusCreated, connection)
}

// List 列出全部连接配置
// GET /api/v1/connections
func (h *ConnectionHandler) List(c *gin.Context) {
	connections, err := h.connectionRepo.List(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, CodeInternalError, "查询连接列表失败", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"connections": connections})
}

// Get 获取单个连接配置
// GET /api/v1/connections/:connection_id
func (h *ConnectionHandler) Get(c *gin.Context) {
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

	c.JSON(http.StatusOK, connection)
}

// Update 更新连接配置并使相关缓存失效
// PUT /api/v1/connections/:connection_id
func (h *ConnectionHandler) Update(c *gin.Context) {
	connectionID, ok := parseIDParam(c, "connection_id")
	if !ok {
		return
	}

	var req updateConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, CodeInvalidRequest, "请求参数无效", err.Error())
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

	if req.Name != "" {
		connection.Name = req.Name
	}
	if req.DSN != "" {
		connection.DSN = req.DSN
	}

	if err := h.connectionRepo.Update(c.Request.Context(), connection); err != nil {
		respondError(c, http.StatusInternalServerError, CodeInternalError, "更新连接配置失败", nil)
		return
	}

	// DSN可能已变化，旧连接池和旧快照都不再可信
	h.connector.Invalidate(connectionID)
	h.schemaCache.Invalidate(connectionID)

	c.JSON(http.StatusOK, connection)
}

// Delete 删除连接配置
// DELETE /api/v1/connections/:connection_id
func (h *ConnectionHandler) Delete(c *gin.Context) {
	connectionID, ok := parseIDParam(c, "connection_id")
	if !ok {
		return
	}

	if err := h.connectionRepo.Delete(c.Request.Context(), connectionID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(c, http.StatusNotFound, CodeNotFound, "连接配置不存在", nil)
			return
		}
		respondError(c, http.StatusInternalServerError, CodeInternalError, "删除连接配置失败", nil)
		return
	}

	h.connector.Invalidate(connectionID)
	h.schemaCache.Invalidate(connectionID)

	c.Status(http.StatusNoContent)
}

// Test 测试连接连通性并更新状态
// POST /api/v1/connections/:connection_id/test
func (h *ConnectionHandler) Test(c *gin.Context) {
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

	testErr := h.connector.TestConnection(c.Request.Context(), connection)

	status := repository.ConnectionActive
	if testErr != nil {
		status = repository.ConnectionError
	}
	if err := h.connectionRepo.UpdateStatus(c.Request.Context(), connectionID, status); err != nil {
		h.logger.Error("更新连接状态失败",
			zap.Int64("connection_id", connectionID),
			zap.Error(err))
	}

	if testErr != nil {
		c.JSON(http.StatusOK, gin.H{
			"connection_id": connectionID,
			"reachable":     false,
			"error":         testErr.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"connection_id": connectionID,
		"reachable":     true,
	})
}
