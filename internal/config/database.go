package config

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DatabaseConfig 系统库（连接注册表与查询历史）的PostgreSQL配置
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"-"` // 凭证不输出到JSON
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`

	// 连接池
	MaxConns        int32         `json:"max_conns"`
	MinConns        int32         `json:"min_conns"`
	MaxConnLifetime time.Duration `json:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `json:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `json:"connect_timeout"`

	ApplicationName string `json:"application_name"`
}

// DatabaseConfigFromEnv 从环境变量构建系统库配置
func DatabaseConfigFromEnv() *DatabaseConfig {
	return &DatabaseConfig{
		Host:            envString("DB_HOST", "localhost"),
		Port:            envInt("DB_PORT", 5432),
		User:            envString("DB_USER", "postgres"),
		Password:        envString("DB_PASSWORD", ""),
		Database:        envString("DB_NAME", "talktodb"),
		SSLMode:         envString("DB_SSL_MODE", "prefer"),
		MaxConns:        int32(envInt("DB_MAX_CONNS", 20)),
		MinConns:        int32(envInt("DB_MIN_CONNS", 2)),
		MaxConnLifetime: envDuration("DB_MAX_CONN_LIFETIME", time.Hour),
		MaxConnIdleTime: envDuration("DB_MAX_CONN_IDLE", 30*time.Minute),
		ConnectTimeout:  envDuration("DB_CONNECT_TIMEOUT", 30*time.Second),
		ApplicationName: envString("DB_APPLICATION_NAME", "talktodb-agent"),
	}
}

// ConnectionString 构建pgx连接字符串
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s application_name=%s connect_timeout=%d",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
		c.ApplicationName, int(c.ConnectTimeout.Seconds()),
	)
}

// Validate 校验配置有效性
func (c *DatabaseConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("数据库主机地址不能为空")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("数据库端口必须在1-65535范围内")
	}
	if c.User == "" {
		return fmt.Errorf("数据库用户名不能为空")
	}
	if c.Database == "" {
		return fmt.Errorf("数据库名称不能为空")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("最大连接数必须大于0")
	}
	if c.MinConns < 0 || c.MinConns > c.MaxConns {
		return fmt.Errorf("最小连接数必须在0与最大连接数之间")
	}

	switch c.SSLMode {
	case "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("无效的SSL模式: %s", c.SSLMode)
	}

	return nil
}

// PoolConfig 生成pgxpool配置
func (c *DatabaseConfig) PoolConfig() (*pgxpool.Config, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("数据库配置验证失败: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(c.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("解析连接字符串失败: %w", err)
	}

	poolConfig.MaxConns = c.MaxConns
	poolConfig.MinConns = c.MinConns
	poolConfig.MaxConnLifetime = c.MaxConnLifetime
	poolConfig.MaxConnIdleTime = c.MaxConnIdleTime

	return poolConfig, nil
}
