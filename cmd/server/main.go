// TalkToDB Agent 服务入口
// 自然语言转SQL：结构探测、提示词构建、SQL生成、守卫校验、有界执行与图表推断
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/RinNiko/TalkToDBAgent/internal/ai"
	"github.com/RinNiko/TalkToDBAgent/internal/config"
	"github.com/RinNiko/TalkToDBAgent/internal/database"
	"github.com/RinNiko/TalkToDBAgent/internal/handler"
	"github.com/RinNiko/TalkToDBAgent/internal/metrics"
	"github.com/RinNiko/TalkToDBAgent/internal/middleware"
	"github.com/RinNiko/TalkToDBAgent/internal/repository/postgres"
	"github.com/RinNiko/TalkToDBAgent/internal/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "服务启动失败: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger, err := buildLogger()
	if err != nil {
		return fmt.Errorf("初始化日志器失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := config.LoadEnv(".env", logger); err != nil {
		return fmt.Errorf("加载环境变量失败: %w", err)
	}

	appConfig := config.Load()
	gin.SetMode(appConfig.Server.Mode)

	logger.Info("启动TalkToDB Agent",
		zap.String("version", appConfig.App.Version),
		zap.String("environment", appConfig.App.Environment),
		zap.Int("port", appConfig.Server.Port))

	// 系统库：连接注册表与查询历史
	dbManager, err := database.NewManager(appConfig.Database, logger)
	if err != nil {
		return err
	}
	defer dbManager.Close()

	systemRepo := postgres.NewPostgreSQLRepository(dbManager.GetPool(), logger)
	connectionRepo := systemRepo.ConnectionRepo()
	historyRepo := systemRepo.HistoryRepo()

	// 目标库连接器与结构快照
	connector := service.NewTargetConnector(connectionRepo, logger)
	if err := connector.Start(); err != nil {
		return err
	}
	defer func() { _ = connector.Stop() }()

	introspector := service.NewSchemaIntrospector(connector, logger)
	schemaCache := service.NewSchemaCacheWithConfig(&service.SchemaCacheConfig{
		DefaultMaxAge: appConfig.SchemaCacheTTL,
	}, logger)

	// 守卫策略
	guardrailPolicy := service.DefaultGuardrailPolicy()
	if appConfig.GuardrailPolicyPath != "" {
		guardrailPolicy, err = service.LoadGuardrailPolicy(appConfig.GuardrailPolicyPath)
		if err != nil {
			return fmt.Errorf("加载守卫策略失败: %w", err)
		}
		logger.Info("已加载守卫策略文件",
			zap.String("path", appConfig.GuardrailPolicyPath),
			zap.Int("default_row_limit", guardrailPolicy.DefaultRowLimit))
	}
	guardrail := service.NewGuardrailValidator(guardrailPolicy, logger)

	executor := service.NewSQLExecutor(connector, logger)
	chartAdvisor := service.NewChartAdvisor(logger)

	// LLM生成链路
	llmClient, err := ai.NewLLMClient(appConfig.LLM, logger)
	if err != nil {
		return fmt.Errorf("初始化LLM客户端失败: %w", err)
	}
	promptBuilder := ai.NewPromptBuilder(logger)
	generator := ai.NewSQLGenerator(llmClient, promptBuilder, logger)

	promMetrics := metrics.NewPrometheusMetrics(metrics.DefaultMetricsConfig(), logger)

	// 系统指标（内存、goroutine数）周期刷新
	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	defer stopMetrics()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-metricsCtx.Done():
				return
			case <-ticker.C:
				promMetrics.UpdateSystemMetrics()
			}
		}
	}()

	queryHandler := handler.NewQueryHandler(
		generator, llmClient, guardrail, executor, introspector, schemaCache,
		connectionRepo, historyRepo, chartAdvisor, promMetrics,
		appConfig.SchemaCacheTTL, logger)
	schemaHandler := handler.NewSchemaHandler(
		introspector, schemaCache, connectionRepo, promMetrics,
		appConfig.SchemaCacheTTL, logger)
	connectionHandler := handler.NewConnectionHandler(connectionRepo, connector, schemaCache, logger)
	historyHandler := handler.NewHistoryHandler(historyRepo, queryHandler, logger)

	router := handler.SetupRouter(&handler.RouterConfig{
		QueryHandler:      queryHandler,
		SchemaHandler:     schemaHandler,
		ConnectionHandler: connectionHandler,
		HistoryHandler:    historyHandler,
		DBManager:         dbManager,
		Metrics:           promMetrics,
		Middleware:        middleware.DefaultMiddlewareConfig(logger),
		Logger:            logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", appConfig.Server.Port),
		Handler:      router,
		ReadTimeout:  appConfig.Server.ReadTimeout,
		WriteTimeout: appConfig.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP服务已启动", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP服务异常退出: %w", err)
	case sig := <-quit:
		logger.Info("收到退出信号，开始优雅关闭", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), appConfig.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("优雅关闭失败: %w", err)
	}

	logger.Info("服务已退出")
	return nil
}

// buildLogger 按环境构建zap日志器
func buildLogger() (*zap.Logger, error) {
	if os.Getenv("APP_ENV") == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
