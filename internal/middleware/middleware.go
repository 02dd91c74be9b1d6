package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// MiddlewareConfig 中间件配置
type MiddlewareConfig struct {
	Logger    *zap.Logger
	RateLimit *RateLimitConfig
	CORS      *CORSConfig
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	RequestsPerSecond int           // 每秒请求数
	Burst             int           // 突发上限
	ClientTTL         time.Duration // 客户端限流器的存活期
}

// CORSConfig CORS配置
type CORSConfig struct {
	AllowOrigins []string
	AllowMethods []string
	AllowHeaders []string
	MaxAge       int // 预检缓存秒数
}

// DefaultMiddlewareConfig 默认中间件配置
func DefaultMiddlewareConfig(logger *zap.Logger) *MiddlewareConfig {
	return &MiddlewareConfig{
		Logger: logger,
		RateLimit: &RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			ClientTTL:         10 * time.Minute,
		},
		CORS: &CORSConfig{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders: []string{"Origin", "Content-Type", "Content-Length", "Accept-Encoding", "X-Request-ID"},
			MaxAge:       86400,
		},
	}
}

// SetupMiddleware 安装全局中间件链
func SetupMiddleware(r *gin.Engine, config *MiddlewareConfig) {
	r.Use(RecoveryMiddleware(config.Logger))
	r.Use(RequestIDMiddleware())
	r.Use(StructuredLogger(config.Logger))
	r.Use(SecurityHeaders())
	r.Use(CORSMiddleware(config.CORS))
}

// RecoveryMiddleware 捕获panic并返回结构化错误
func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		if logger != nil {
			logger.Error("请求处理panic",
				zap.Any("panic", recovered),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("remote_addr", c.ClientIP()))
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "服务器内部错误",
		})
	})
}

// StructuredLogger 请求级结构化日志
func StructuredLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		if logger != nil {
			logger.Info("HTTP请求",
				zap.String("method", c.Request.Method),
				zap.String("path", path),
				zap.Int("status", c.Writer.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("remote_addr", c.ClientIP()),
				zap.String("request_id", c.GetString("request_id")),
				zap.Int("body_size", c.Writer.Size()))
		}
	}
}

// SecurityHeaders 基础安全响应头
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// CORSMiddleware 跨域处理
func CORSMiddleware(config *CORSConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if len(config.AllowOrigins) > 0 {
			if config.AllowOrigins[0] == "*" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else if containsString(config.AllowOrigins, origin) {
				c.Header("Access-Control-Allow-Origin", origin)
			}
		}
		if len(config.AllowMethods) > 0 {
			c.Header("Access-Control-Allow-Methods", strings.Join(config.AllowMethods, ", "))
		}
		if len(config.AllowHeaders) > 0 {
			c.Header("Access-Control-Allow-Headers", strings.Join(config.AllowHeaders, ", "))
		}
		if config.MaxAge > 0 {
			c.Header("Access-Control-Max-Age", strconv.Itoa(config.MaxAge))
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// clientLimiter 单个客户端的限流器
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter 按客户端IP限流
type RateLimiter struct {
	clients   sync.Map // key: client ip, value: *clientLimiter
	rate      rate.Limit
	burst     int
	clientTTL time.Duration

	mu          sync.Mutex
	lastCleanup time.Time
}

// NewRateLimiter 创建限流器
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		rate:        rate.Limit(config.RequestsPerSecond),
		burst:       config.Burst,
		clientTTL:   config.ClientTTL,
		lastCleanup: time.Now(),
	}
}

// Allow 判断该客户端的请求是否放行
func (rl *RateLimiter) Allow(key string) bool {
	rl.cleanup()

	now := time.Now()
	value, _ := rl.clients.LoadOrStore(key, &clientLimiter{
		limiter:  rate.NewLimiter(rl.rate, rl.burst),
		lastSeen: now,
	})

	client := value.(*clientLimiter)
	client.lastSeen = now
	return client.limiter.Allow()
}

// cleanup 淘汰长时间未出现的客户端
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastCleanup) < rl.clientTTL {
		return
	}
	rl.lastCleanup = time.Now()

	cutoff := time.Now().Add(-rl.clientTTL)
	rl.clients.Range(func(key, value any) bool {
		if client, ok := value.(*clientLimiter); ok && client.lastSeen.Before(cutoff) {
			rl.clients.Delete(key)
		}
		return true
	})
}

// RateLimitMiddleware 按客户端IP的请求限流
func RateLimitMiddleware(config *RateLimitConfig) gin.HandlerFunc {
	limiter := NewRateLimiter(config)

	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"code":        "RATE_LIMIT_EXCEEDED",
				"message":     "请求频率超过限制，请稍后重试",
				"retry_after": 60,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequestIDMiddleware 为每个请求分配追踪ID
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = "req_" + strconv.FormatInt(time.Now().UnixNano(), 36)
		}

		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func containsString(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
