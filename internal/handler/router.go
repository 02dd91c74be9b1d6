package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/RinNiko/TalkToDBAgent/internal/database"
	"github.com/RinNiko/TalkToDBAgent/internal/metrics"
	"github.com/RinNiko/TalkToDBAgent/internal/middleware"
)

// RouterConfig 路由装配依赖
type RouterConfig struct {
	QueryHandler      *QueryHandler
	SchemaHandler     *SchemaHandler
	ConnectionHandler *ConnectionHandler
	HistoryHandler    *HistoryHandler
	DBManager         *database.Manager
	Metrics           *metrics.PrometheusMetrics
	Middleware        *middleware.MiddlewareConfig
	Logger            *zap.Logger
}

// SetupRouter 装配gin路由
func SetupRouter(config *RouterConfig) *gin.Engine {
	r := gin.New()

	middleware.SetupMiddleware(r, config.Middleware)
	r.Use(config.Metrics.HTTPMetricsMiddleware())

	// 健康与指标端点不走业务中间件组
	r.GET("/health", healthHandler(config.DBManager))
	r.GET("/metrics", config.Metrics.GetMetricsHandler())

	v1 := r.Group("/api/v1")

	// 生成类端点单独限流，LLM调用是最贵的资源
	query := v1.Group("/query")
	query.Use(middleware.RateLimitMiddleware(config.Middleware.RateLimit))
	{
		query.POST("/generate", config.QueryHandler.Generate)
		query.POST("/execute", config.QueryHandler.Execute)
		query.POST("/suggest-chart", config.QueryHandler.SuggestChart)
		query.POST("/generate-and-execute", config.QueryHandler.GenerateAndExecute)
		query.POST("/generate-execute-suggest", config.QueryHandler.GenerateExecuteSuggest)
		query.GET("/models", config.QueryHandler.Models)
	}

	schema := v1.Group("/schema")
	{
		schema.GET("/:connection_id", config.SchemaHandler.Get)
		schema.POST("/:connection_id/discover", config.SchemaHandler.Discover)
		schema.GET("/:connection_id/quick-examples", config.SchemaHandler.QuickExamples)
	}

	connections := v1.Group("/connections")
	{
		connections.POST("", config.ConnectionHandler.Create)
		connections.GET("", config.ConnectionHandler.List)
		connections.GET("/:connection_id", config.ConnectionHandler.Get)
		connections.PUT("/:connection_id", config.ConnectionHandler.Update)
		connections.DELETE("/:connection_id", config.ConnectionHandler.Delete)
		connections.POST("/:connection_id/test", config.ConnectionHandler.Test)
	}

	history := v1.Group("/history")
	{
		history.GET("", config.HistoryHandler.List)
		history.GET("/:history_id", config.HistoryHandler.Get)
		history.PUT("/:history_id/pin", config.HistoryHandler.Pin)
		history.DELETE("/:history_id", config.HistoryHandler.Delete)
		history.POST("/:history_id/rerun", config.HistoryHandler.Rerun)
	}

	return r
}

// healthHandler 健康检查端点
func healthHandler(dbManager *database.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		health := gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}

		if dbManager != nil {
			if err := dbManager.HealthCheck(c.Request.Context()); err != nil {
				status = http.StatusServiceUnavailable
				health["status"] = "degraded"
				health["database"] = err.Error()
			} else {
				health["database"] = "ok"
				health["pool"] = dbManager.Stats()
			}
		}

		c.JSON(status, health)
	}
}
