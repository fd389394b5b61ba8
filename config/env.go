package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ApplyEnv 使用环境变量覆盖敏感配置（数据库 DSN、加密密钥、Redis 密码等）
// 未设置的环境变量保持文件中的值
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("解析环境变量失败: %w", err)
	}
	return nil
}
