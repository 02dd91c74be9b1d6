package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/RinNiko/TalkToDBAgent/internal/ai"
	"github.com/RinNiko/TalkToDBAgent/internal/metrics"
	"github.com/RinNiko/TalkToDBAgent/internal/repository"
	"github.com/RinNiko/TalkToDBAgent/internal/service"
)

// QueryHandler 查询流水线处理器
// 编排生成、守卫、执行、图表推断四个阶段，执行永远只接受当次守卫改写后的SQL
type QueryHandler struct {
	generator      *ai.SQLGenerator
	llmClient      *ai.LLMClient
	guardrail      *service.GuardrailValidator
	executor       *service.SQLExecutor
	introspector   *service.SchemaIntrospector
	schemaCache    *service.SchemaCache
	connectionRepo repository.ConnectionRepository
	historyRepo    repository.QueryHistoryRepository
	chartAdvisor   *service.ChartAdvisor
	metrics        *metrics.PrometheusMetrics
	logger         *zap.Logger

	schemaCacheTTL time.Duration
}

// NewQueryHandler 创建查询流水线处理器
func NewQueryHandler(
	generator *ai.SQLGenerator,
	llmClient *ai.LLMClient,
	guardrail *service.GuardrailValidator,
	executor *service.SQLExecutor,
	introspector *service.SchemaIntrospector,
	schemaCache *service.SchemaCache,
	connectionRepo repository.ConnectionRepository,
	historyRepo repository.QueryHistoryRepository,
	chartAdvisor *service.ChartAdvisor,
	promMetrics *metrics.PrometheusMetrics,
	schemaCacheTTL time.Duration,
	logger *zap.Logger,
) *QueryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &QueryHandler{
		generator:      generator,
		llmClient:      llmClient,
		guardrail:      guardrail,
		executor:       executor,
		introspector:   introspector,
		schemaCache:    schemaCache,
		connectionRepo: connectionRepo,
		historyRepo:    historyRepo,
		chartAdvisor:   chartAdvisor,
		metrics:        promMetrics,
		logger:         logger,
		schemaCacheTTL: schemaCacheTTL,
	}
}

// generateRequest 生成接口请求体
type generateRequest struct {
	Prompt        string  `json:"prompt" binding:"required"`
	ConnectionID  int64   `json:"connection_id" binding:"required"`
	Provider      string  `json:"provider"`
	Model         string  `json:"model"`
	Temperature   float64 `json:"temperature"`
	IncludeSchema *bool   `json:"include_schema"`
}

// executeRequest 执行接口请求体
type executeRequest struct {
	SQL             string `json:"sql" binding:"required"`
	ConnectionID    int64  `json:"connection_id" binding:"required"`
	RequireApproval bool   `json:"require_approval"`
}

// suggestChartRequest 图表建议请求体
type suggestChartRequest struct {
	Columns []service.ColumnDescriptor `json:"columns" binding:"required"`
	Rows    []service.Row              `json:"rows"`
	Prompt  string                     `json:"prompt"`
}

// executeResponse 执行响应：裁决 + 执行结果（未执行时execution为空）
type executeResponse struct {
	Verdict   *service.GuardrailVerdict `json:"verdict"`
	Executed  bool                      `json:"executed"`
	Execution *service.ExecutionResult  `json:"execution,omitempty"`
	Chart     *service.ChartRecommendation `json:"chart,omitempty"`
}

// Generate 生成一条候选SQL
// POST /api/v1/query/generate
func (h *QueryHandler) Generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, CodeInvalidRequest, "请求参数无效", err.Error())
		return
	}

	connection, snapshot, ok := h.loadGenerationContext(c, req.ConnectionID)
	if !ok {
		return
	}

	includeSchema := req.IncludeSchema == nil || *req.IncludeSchema

	start := time.Now()
	candidate, err := h.generator.Generate(c.Request.Context(), &ai.GenerationRequest{
		Prompt:        req.Prompt,
		ConnectionID:  req.ConnectionID,
		Provider:      ai.LLMProvider(req.Provider),
		Model:         req.Model,
		Temperature:   req.Temperature,
		IncludeSchema: includeSchema,
	}, connection.Dialect, snapshot)

	if err != nil {
		h.metrics.RecordGeneration(req.Provider, "error", time.Since(start))

		var extractionErr *ai.ExtractionError
		if errors.As(err, &extractionErr) {
			respondError(c, http.StatusUnprocessableEntity, CodeExtractionFail,
				"无法从模型回复中抽取出单条SQL", extractionErr.Reason)
			return
		}
		respondError(c, http.StatusBadGateway, CodeGenerationFail, "SQL生成失败", err.Error())
		return
	}

	h.metrics.RecordGeneration(req.Provider, "success", time.Since(start))

	c.JSON(http.StatusOK, gin.H{
		"sql":              candidate.SQL,
		"schema_truncated": candidate.SchemaTruncated,
		"retried":          candidate.Retried,
	})
}

// Execute 守卫校验并执行一条SQL
// POST /api/v1/query/execute
func (h *QueryHandler) Execute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, CodeInvalidRequest, "请求参数无效", err.Error())
		return
	}

	response, ok := h.runGuardedExecution(c, req.ConnectionID, req.SQL, req.RequireApproval, nil)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, response)
}

// SuggestChart 为结果集推断图表建议
// POST /api/v1/query/suggest-chart
func (h *QueryHandler) SuggestChart(c *gin.Context) {
	var req suggestChartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, CodeInvalidRequest, "请求参数无效", err.Error())
		return
	}

	recommendation := h.chartAdvisor.Suggest(req.Columns, req.Rows, req.Prompt)
	c.JSON(http.StatusOK, gin.H{"chart": recommendation})
}

// GenerateAndExecute 生成并执行
// POST /api/v1/query/generate-and-execute
func (h *QueryHandler) GenerateAndExecute(c *gin.Context) {
	h.generatePipeline(c, false)
}

// GenerateExecuteSuggest 生成、执行并给出图表建议
// POST /api/v1/query/generate-execute-suggest
func (h *QueryHandler) GenerateExecuteSuggest(c *gin.Context) {
	h.generatePipeline(c, true)
}

// generatePipelineRequest 全流水线请求体
type generatePipelineRequest struct {
	generateRequest
	RequireApproval bool `json:"require_approval"`
}

// generatePipeline 生成→守卫→执行（→图表）的完整流水线
func (h *QueryHandler) generatePipeline(c *gin.Context, withChart bool) {
	var req generatePipelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, CodeInvalidRequest, "请求参数无效", err.Error())
		return
	}

	connection, snapshot, ok := h.loadGenerationContext(c, req.ConnectionID)
	if !ok {
		return
	}

	includeSchema := req.IncludeSchema == nil || *req.IncludeSchema

	start := time.Now()
	candidate, err := h.generator.Generate(c.Request.Context(), &ai.GenerationRequest{
		Prompt:        req.Prompt,
		ConnectionID:  req.ConnectionID,
		Provider:      ai.LLMProvider(req.Provider),
		Model:         req.Model,
		Temperature:   req.Temperature,
		IncludeSchema: includeSchema,
	}, connection.Dialect, snapshot)

	if err != nil {
		h.metrics.RecordGeneration(req.Provider, "error", time.Since(start))

		var extractionErr *ai.ExtractionError
		if errors.As(err, &extractionErr) {
			respondError(c, http.StatusUnprocessableEntity, CodeExtractionFail,
				"无法从模型回复中抽取出单条SQL", extractionErr.Reason)
			return
		}
		respondError(c, http.StatusBadGateway, CodeGenerationFail, "SQL生成失败", err.Error())
		return
	}
	h.metrics.RecordGeneration(req.Provider, "success", time.Since(start))

	response, ok := h.runGuardedExecution(c, req.ConnectionID, candidate.SQL, req.RequireApproval, &req.Prompt)
	if !ok {
		return
	}

	if withChart && response.Executed && response.Execution.Success {
		response.Chart = h.chartAdvisor.Suggest(
			response.Execution.Columns, response.Execution.Rows, req.Prompt)
	}

	c.JSON(http.StatusOK, gin.H{
		"sql":              candidate.SQL,
		"schema_truncated": candidate.SchemaTruncated,
		"verdict":          response.Verdict,
		"executed":         response.Executed,
		"execution":        response.Execution,
		"chart":            response.Chart,
	})
}

// Models 列出可用的LLM提供商与默认模型
// GET /api/v1/query/models
func (h *QueryHandler) Models(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": h.llmClient.ListModels()})
}

// loadGenerationContext 取连接配置与（可选的）结构快照
// 快照未命中不阻断生成：没有结构描述的提示词依然可用
func (h *QueryHandler) loadGenerationContext(c *gin.Context, connectionID int64) (*repository.DatabaseConnection, *service.SchemaSnapshot, bool) {
	connection, err := h.connectionRepo.GetByID(c.Request.Context(), connectionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(c, http.StatusNotFound, CodeNotFound, "连接配置不存在", nil)
			return nil, nil, false
		}
		respondError(c, http.StatusInternalServerError, CodeInternalError, "获取连接配置失败", nil)
		return nil, nil, false
	}

	snapshot, _ := h.schemaCache.Get(connectionID, h.schemaCacheTTL)
	return connection, snapshot, true
}

// runGuardedExecution 守卫裁决并按裁决执行
// DENY与未确认的NEEDS_APPROVAL都返回不执行的响应，裁决理由原样透出
func (h *QueryHandler) runGuardedExecution(c *gin.Context, connectionID int64, sqlText string, requireApproval bool, prompt *string) (*executeResponse, bool) {
	connection, err := h.connectionRepo.GetByID(c.Request.Context(), connectionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(c, http.StatusNotFound, CodeNotFound, "连接配置不存在", nil)
			return nil, false
		}
		respondError(c, http.StatusInternalServerError, CodeInternalError, "获取连接配置失败", nil)
		return nil, false
	}

	snapshot, _ := h.schemaCache.Get(connectionID, h.schemaCacheTTL)

	verdict := h.guardrail.Validate(sqlText, snapshot)
	h.metrics.RecordGuardrailVerdict(string(verdict.Decision))

	response := &executeResponse{Verdict: verdict}

	switch verdict.Decision {
	case service.DecisionDeny:
		c.JSON(http.StatusForbidden, gin.H{
			"code":    CodeGuardrailDenied,
			"message": "语句未通过守卫校验",
			"verdict": verdict,
		})
		return nil, false

	case service.DecisionNeedsApproval:
		if !requireApproval {
			// 不执行，把裁决理由交给调用方做人工确认
			response.Executed = false
			return response, true
		}
	}

	result, err := h.executor.Execute(c.Request.Context(), connectionID, verdict.NormalizedSQL)
	if err != nil {
		respondError(c, http.StatusInternalServerError, CodeInternalError, "执行失败", err.Error())
		return nil, false
	}

	response.Executed = true
	response.Execution = result

	status := "success"
	if !result.Success {
		status = string(result.Error.Kind)
	}
	h.metrics.RecordSQLExecution(connectionID, string(connection.Dialect), status,
		time.Duration(result.ExecutionTimeMS)*time.Millisecond, result.RowCount)

	h.recordHistory(c, connectionID, prompt, result)
	return response, true
}

// recordHistory 把执行结果写入查询历史，失败只记日志不影响响应
func (h *QueryHandler) recordHistory(c *gin.Context, connectionID int64, prompt *string, result *service.ExecutionResult) {
	entry := &repository.QueryHistory{
		ConnectionID:    connectionID,
		Prompt:          prompt,
		SQL:             result.SQLExecuted,
		RowCount:        int32(result.RowCount),
		ExecutionTimeMS: int32(result.ExecutionTimeMS),
		Success:         result.Success,
	}
	if result.Error != nil {
		message := result.Error.Error()
		entry.Error = &message
	}

	if err := h.historyRepo.Create(c.Request.Context(), entry); err != nil {
		h.logger.Error("写入查询历史失败",
			zap.Int64("connection_id", connectionID),
			zap.Error(err))
	}
}
