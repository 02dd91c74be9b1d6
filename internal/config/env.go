// 环境变量配置加载
// .env文件解析委托给godotenv，已有的系统环境变量优先
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// LoadEnv 从.env文件加载环境变量
// 文件不存在不算错误，容器化部署通常只用系统环境变量
func LoadEnv(path string, logger *zap.Logger) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if logger != nil {
			logger.Info("未找到.env文件，使用系统环境变量",
				zap.String("path", path))
		}
		return nil
	}

	if err := godotenv.Load(path); err != nil {
		return err
	}

	if logger != nil {
		logger.Info("已加载.env文件", zap.String("path", path))
	}
	return nil
}

// envString 读取字符串环境变量
func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// envInt 读取整型环境变量
func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// envInt64 读取64位整型环境变量
func envInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

// envBool 读取布尔环境变量
func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// envDuration 读取时长环境变量（如"30s"、"5m"）
func envDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
