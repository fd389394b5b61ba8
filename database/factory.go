package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config 存储配置（来自 config.Database）
type Config struct {
	Type            string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogLevel        string
}

// NewDatabase 根据配置创建数据库实例
func NewDatabase(config *Config) (Database, error) {
	dbType := strings.ToLower(strings.TrimSpace(config.Type))
	if dbType == "" {
		dbType = "sqlite"
	}

	switch dbType {
	case "sqlite":
		dsn := config.DSN
		if dsn == "" {
			dsn = "./data/fundguard.db"
		}
		// 文件型 SQLite 需要先创建目录
		if !strings.HasPrefix(dsn, "file:") && !strings.Contains(dsn, ":memory:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, fmt.Errorf("创建数据库目录失败: %w", err)
			}
		}
		return NewGormDatabase(&DBConfig{
			Type:            "sqlite",
			DSN:             dsn,
			MaxOpenConns:    1, // SQLite 单写者
			ConnMaxLifetime: config.ConnMaxLifetime,
			LogLevel:        config.LogLevel,
		})
	case "postgres", "postgresql", "mysql":
		if config.DSN == "" {
			return nil, fmt.Errorf("%s 需要配置 dsn", dbType)
		}
		return NewGormDatabase(&DBConfig{
			Type:            dbType,
			DSN:             config.DSN,
			MaxOpenConns:    config.MaxOpenConns,
			MaxIdleConns:    config.MaxIdleConns,
			ConnMaxLifetime: config.ConnMaxLifetime,
			LogLevel:        config.LogLevel,
		})
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}
}
