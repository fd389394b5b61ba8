package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 全局配置
type Config struct {
	System struct {
		LogLevel string `yaml:"log_level"` // DEBUG, INFO, WARN, ERROR
		Timezone string `yaml:"timezone"`  // 交易日历时区，日重置与交易日统计共用
		Language string `yaml:"language"`  // 失败原因与通知语言: fa-IR, en-US
	} `yaml:"system"`

	Database struct {
		Type            string `yaml:"type"` // sqlite, postgres, mysql
		DSN             string `yaml:"dsn" env:"FUNDGUARD_DATABASE_DSN"`
		MaxOpenConns    int    `yaml:"max_open_conns"`
		MaxIdleConns    int    `yaml:"max_idle_conns"`
		ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // 秒
		LogLevel        string `yaml:"log_level"`         // silent, error, warn, info
	} `yaml:"database"`

	Broker struct {
		BaseURL           string  `yaml:"base_url" env:"FUNDGUARD_BROKER_BASE_URL"`
		RequestTimeout    int     `yaml:"request_timeout"` // 秒
		ConnectTimeout    int     `yaml:"connect_timeout"` // 秒，ConnectEx 的 connectTimeoutSeconds
		RateLimit         float64 `yaml:"rate_limit"`      // 每秒请求数
		RateBurst         int     `yaml:"rate_burst"`
		SessionTTL        int     `yaml:"session_ttl"`        // 分钟
		SessionRevalidate int     `yaml:"session_revalidate"` // 分钟
		HistoryStart      string  `yaml:"history_start"`      // 首次拉取订单的起始日期（券商时区）
		HistoryTimezone   string  `yaml:"history_timezone"`   // 券商服务器时区
	} `yaml:"broker"`

	LiveFeed struct {
		URL                  string `yaml:"url" env:"FUNDGUARD_LIVE_FEED_URL"`
		PingInterval         int    `yaml:"ping_interval"`     // 秒
		PongWait             int    `yaml:"pong_wait"`         // 秒，0 表示两倍心跳间隔
		HandshakeTimeout     int    `yaml:"handshake_timeout"` // 秒
		ReconnectBase        int    `yaml:"reconnect_base"`    // 秒
		ReconnectMax         int    `yaml:"reconnect_max"`     // 秒
		MaxReconnectAttempts int    `yaml:"max_reconnect_attempts"`
		ResyncInterval       int    `yaml:"resync_interval"` // 秒
	} `yaml:"live_feed"`

	Poll struct {
		Interval          int `yaml:"interval"` // 秒
		Concurrency       int `yaml:"concurrency"`
		ConnectRetries    int `yaml:"connect_retries"`
		ConnectRetryDelay int `yaml:"connect_retry_delay"` // 毫秒
	} `yaml:"poll"`

	DailyReset struct {
		Hour          int `yaml:"hour"`
		Minute        int `yaml:"minute"`
		WindowMinutes int `yaml:"window_minutes"` // 日快照写入窗口
	} `yaml:"daily_reset"`

	Security struct {
		EncryptionKey string `yaml:"encryption_key" env:"FUNDGUARD_ENCRYPTION_KEY"`
	} `yaml:"security"`

	DistributedLock struct {
		Enabled    bool   `yaml:"enabled"`
		Type       string `yaml:"type"` // redis
		Prefix     string `yaml:"prefix"`
		DefaultTTL int    `yaml:"default_ttl"` // 秒
		Redis      struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password" env:"FUNDGUARD_REDIS_PASSWORD"`
			DB       int    `yaml:"db"`
			PoolSize int    `yaml:"pool_size"`
		} `yaml:"redis"`
	} `yaml:"distributed_lock"`

	Notifications struct {
		Enabled bool `yaml:"enabled"`
		Webhook struct {
			Enabled bool   `yaml:"enabled"`
			URL     string `yaml:"url"`
			Timeout int    `yaml:"timeout"` // 秒
		} `yaml:"webhook"`
		Telegram struct {
			Enabled  bool   `yaml:"enabled"`
			BotToken string `yaml:"bot_token" env:"FUNDGUARD_TELEGRAM_BOT_TOKEN"`
			ChatID   string `yaml:"chat_id"`
			APIBase  string `yaml:"api_base"`
		} `yaml:"telegram"`
	} `yaml:"notifications"`

	Watchdog struct {
		Enabled         bool    `yaml:"enabled"`
		Interval        int     `yaml:"interval"` // 秒
		CooldownMinutes int     `yaml:"cooldown_minutes"`
		CPUPercent      float64 `yaml:"cpu_percent"`
		MemoryMB        float64 `yaml:"memory_mb"`
		Goroutines      int     `yaml:"goroutines"`
		MemoryGrowthMB  float64 `yaml:"memory_growth_mb"`
		WindowMinutes   int     `yaml:"window_minutes"`
	} `yaml:"watchdog"`

	Web struct {
		Enabled bool   `yaml:"enabled"`
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
	} `yaml:"web"`
}

// LoadConfig 从文件加载配置，环境变量覆盖敏感项
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %v", err)
	}
	return LoadConfigFromBytes(data)
}

// LoadConfigFromBytes 从字节数组加载配置
func LoadConfigFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %v", err)
	}

	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %v", err)
	}

	return &cfg, nil
}

// Validate 校验配置并填充默认值
func (c *Config) Validate() error {
	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.System.Timezone == "" {
		c.System.Timezone = "Asia/Tehran"
	}
	if c.System.Language == "" {
		c.System.Language = "fa-IR"
	}

	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	switch strings.ToLower(c.Database.Type) {
	case "sqlite", "postgres", "postgresql", "mysql":
	default:
		return fmt.Errorf("不支持的数据库类型: %s", c.Database.Type)
	}
	if c.Database.Type == "sqlite" && c.Database.DSN == "" {
		c.Database.DSN = "./data/fundguard.db"
	}

	if c.Broker.BaseURL == "" {
		return fmt.Errorf("必须配置券商网关地址 (broker.base_url)")
	}
	if c.Broker.RequestTimeout <= 0 {
		c.Broker.RequestTimeout = 30
	}
	if c.Broker.ConnectTimeout <= 0 {
		c.Broker.ConnectTimeout = 60
	}
	if c.Broker.RateLimit <= 0 {
		c.Broker.RateLimit = 10
	}
	if c.Broker.RateBurst <= 0 {
		c.Broker.RateBurst = 20
	}
	if c.Broker.SessionTTL <= 0 {
		c.Broker.SessionTTL = 24 * 60
	}
	if c.Broker.SessionRevalidate <= 0 {
		c.Broker.SessionRevalidate = 60
	}
	if c.Broker.HistoryStart == "" {
		c.Broker.HistoryStart = "2025-06-01"
	}
	if _, err := time.Parse("2006-01-02", c.Broker.HistoryStart); err != nil {
		return fmt.Errorf("broker.history_start 格式错误，应为 YYYY-MM-DD: %v", err)
	}
	if c.Broker.HistoryTimezone == "" {
		c.Broker.HistoryTimezone = "Europe/Istanbul"
	}

	if c.LiveFeed.PingInterval <= 0 {
		c.LiveFeed.PingInterval = 30
	}
	if c.LiveFeed.HandshakeTimeout <= 0 {
		c.LiveFeed.HandshakeTimeout = 10
	}
	if c.LiveFeed.ReconnectBase <= 0 {
		c.LiveFeed.ReconnectBase = 1
	}
	if c.LiveFeed.ReconnectMax <= 0 {
		c.LiveFeed.ReconnectMax = 60
	}
	if c.LiveFeed.MaxReconnectAttempts <= 0 {
		c.LiveFeed.MaxReconnectAttempts = 10
	}
	if c.LiveFeed.ResyncInterval <= 0 {
		c.LiveFeed.ResyncInterval = 60
	}

	if c.Poll.Interval <= 0 {
		c.Poll.Interval = 240
	}
	if c.Poll.Concurrency <= 0 {
		c.Poll.Concurrency = 5
	}
	if c.Poll.ConnectRetries <= 0 {
		c.Poll.ConnectRetries = 3
	}
	if c.Poll.ConnectRetryDelay <= 0 {
		c.Poll.ConnectRetryDelay = 1000
	}

	if c.DailyReset.Hour == 0 && c.DailyReset.Minute == 0 {
		c.DailyReset.Hour, c.DailyReset.Minute = 1, 30
	}
	if c.DailyReset.Hour < 0 || c.DailyReset.Hour > 23 || c.DailyReset.Minute < 0 || c.DailyReset.Minute > 59 {
		return fmt.Errorf("日重置时间无效: %02d:%02d", c.DailyReset.Hour, c.DailyReset.Minute)
	}
	if c.DailyReset.WindowMinutes <= 0 {
		c.DailyReset.WindowMinutes = 5
	}

	if c.DistributedLock.Enabled {
		if c.DistributedLock.Type == "" {
			c.DistributedLock.Type = "redis"
		}
		if c.DistributedLock.Type == "redis" && c.DistributedLock.Redis.Addr == "" {
			return fmt.Errorf("启用分布式锁时必须配置 distributed_lock.redis.addr")
		}
		if c.DistributedLock.Prefix == "" {
			c.DistributedLock.Prefix = "fundguard:lock:"
		}
		if c.DistributedLock.DefaultTTL <= 0 {
			c.DistributedLock.DefaultTTL = 300
		}
		if c.DistributedLock.Redis.PoolSize <= 0 {
			c.DistributedLock.Redis.PoolSize = 10
		}
	}

	if c.Notifications.Webhook.Timeout <= 0 {
		c.Notifications.Webhook.Timeout = 3
	}
	if c.Notifications.Telegram.APIBase == "" {
		c.Notifications.Telegram.APIBase = "https://api.telegram.org"
	}

	if c.Watchdog.Interval <= 0 {
		c.Watchdog.Interval = 30
	}
	if c.Watchdog.CooldownMinutes <= 0 {
		c.Watchdog.CooldownMinutes = 30
	}
	if c.Watchdog.CPUPercent <= 0 {
		c.Watchdog.CPUPercent = 90
	}
	if c.Watchdog.MemoryMB <= 0 {
		c.Watchdog.MemoryMB = 1024
	}
	if c.Watchdog.Goroutines <= 0 {
		c.Watchdog.Goroutines = 1000
	}
	if c.Watchdog.WindowMinutes <= 0 {
		c.Watchdog.WindowMinutes = 5
	}

	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0"
	}
	if c.Web.Port <= 0 {
		c.Web.Port = 8080
	}

	return nil
}

// PollInterval 轮询间隔
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.Interval) * time.Second
}
