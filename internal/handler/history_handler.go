package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/RinNiko/TalkToDBAgent/internal/repository"
)

// HistoryHandler 查询历史处理器
// 重跑不复用任何历史裁决：取回SQL后重新走完整的守卫+执行流水线
type HistoryHandler struct {
	historyRepo  repository.QueryHistoryRepository
	queryHandler *QueryHandler
	logger       *zap.Logger
}

// NewHistoryHandler 创建查询历史处理器
func NewHistoryHandler(historyRepo repository.QueryHistoryRepository, queryHandler *QueryHandler, logger *zap.Logger) *HistoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HistoryHandler{
		historyRepo:  historyRepo,
		queryHandler: queryHandler,
		logger:       logger,
	}
}

// List 分页列出历史记录，置顶优先
// GET /api/v1/history?connection_id=&limit=&offset=
func (h *HistoryHandler) List(c *gin.Context) {
	limit := parseQueryInt(c, "limit", 50)
	if limit > 200 {
		limit = 200
	}
	offset := parseQueryInt(c, "offset", 0)

	var (
		entries []*repository.QueryHistory
		err     error
	)

	if raw := c.Query("connection_id"); raw != "" {
		connectionID, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil || connectionID <= 0 {
			respondError(c, http.StatusBadRequest, CodeInvalidRequest, "无效的connection_id参数", nil)
			return
		}
		entries, err = h.historyRepo.ListByConnection(c.Request.Context(), connectionID, limit, offset)
	} else {
		entries, err = h.historyRepo.List(c.Request.Context(), limit, offset)
	}

	if err != nil {
		respondError(c, http.StatusInternalServerError, CodeInternalError, "查询历史列表失败", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"limit":   limit,
		"offset":  offset,
	})
}

// Get 获取单条历史记录
// GET /api/v1/history/:history_id
func (h *HistoryHandler) Get(c *gin.Context) {
	historyID, ok := parseIDParam(c, "history_id")
	if !ok {
		return
	}

	entry, err := h.historyRepo.GetByID(c.Request.Context(), historyID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(c, http.StatusNotFound, CodeNotFound, "查询历史不存在", nil)
			return
		}
		respondError(c, http.StatusInternalServerError, CodeInternalError, "获取查询历史失败", nil)
		return
	}

	c.JSON(http.StatusOK, entry)
}

// pinRequest 置顶请求体
type pinRequest struct {
	Pinned bool `json:"pinned"`
}

// Pin 置顶/取消置顶
// PUT /api/v1/history/:history_id/pin
func (h *HistoryHandler) Pin(c *gin.Context) {
	historyID, ok := parseIDParam(c, "history_id")
	if !ok {
		return
	}

	var req pinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, CodeInvalidRequest, "请求参数无效", err.Error())
		return
	}

	if err := h.historyRepo.SetPinned(c.Request.Context(), historyID, req.Pinned); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(c, http.StatusNotFound, CodeNotFound, "查询历史不存在", nil)
			return
		}
		respondError(c, http.StatusInternalServerError, CodeInternalError, "更新置顶状态失败", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": historyID, "pinned": req.Pinned})
}

// Delete 删除历史记录
// DELETE /api/v1/history/:history_id
func (h *HistoryHandler) Delete(c *gin.Context) {
	historyID, ok := parseIDParam(c, "history_id")
	if !ok {
		return
	}

	if err := h.historyRepo.Delete(c.Request.Context(), historyID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(c, http.StatusNotFound, CodeNotFound, "查询历史不存在", nil)
			return
		}
		respondError(c, http.StatusInternalServerError, CodeInternalError, "删除查询历史失败", nil)
		return
	}

	c.Status(http.StatusNoContent)
}

// rerunRequest 重跑请求体
type rerunRequest struct {
	RequireApproval bool `json:"require_approval"`
}

// Rerun 按历史记录重跑
// POST /api/v1/history/:history_id/rerun
func (h *HistoryHandler) Rerun(c *gin.Context) {
	historyID, ok := parseIDParam(c, "history_id")
	if !ok {
		return
	}

	var req rerunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, CodeInvalidRequest, "请求参数无效", err.Error())
			return
		}
	}

	entry, err := h.historyRepo.GetByID(c.Request.Context(), historyID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(c, http.StatusNotFound, CodeNotFound, "查询历史不存在", nil)
			return
		}
		respondError(c, http.StatusInternalServerError, CodeInternalError, "获取查询历史失败", nil)
		return
	}

	response, ok := h.queryHandler.runGuardedExecution(
		c, entry.ConnectionID, entry.SQL, req.RequireApproval, entry.Prompt)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, response)
}

// parseQueryInt 解析查询参数中的整数
func parseQueryInt(c *gin.Context, name string, fallback int) int {
	if raw := c.Query(name); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return fallback
}
