package main

import (
	"context"
	"fmt"
	"time"

	"fundguard/broker"
	"fundguard/config"
	"fundguard/database"
	"fundguard/engine"
	"fundguard/event"
	"fundguard/i18n"
	"fundguard/livefeed"
	"fundguard/lock"
	"fundguard/logger"
	"fundguard/monitor"
	"fundguard/notify"
	"fundguard/secret"
	"fundguard/utils"
	"fundguard/worker"
)

// app 进程内共享的组件
type app struct {
	cfg      *config.Config
	db       database.Database
	cipher   *secret.Cipher
	client   *broker.HTTPClient
	lock     lock.DistributedLock
	eventBus *event.EventBus
	notifier *notify.NotificationService
	center   *event.EventCenter
}

// loadConfig 加载配置并初始化日志、时区与语言
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	logger.SetLevel(logger.ParseLogLevel(cfg.System.LogLevel))
	if err := utils.SetLocation(cfg.System.Timezone); err != nil {
		logger.Warn("⚠️ 加载时区 %s 失败，使用 %s: %v", cfg.System.Timezone, utils.GlobalLocation, err)
	}
	logger.SetLocation(utils.GlobalLocation)
	utils.SetDayBoundary(cfg.DailyReset.Hour, cfg.DailyReset.Minute)

	if err := i18n.Init(cfg.System.Language); err != nil {
		return nil, fmt.Errorf("初始化 i18n 失败: %w", err)
	}
	return cfg, nil
}

// newApp 创建存储、券商客户端、加密器、分布式锁与事件总线
func newApp(cfg *config.Config) (*app, error) {
	db, err := database.NewDatabase(&database.Config{
		Type:            cfg.Database.Type,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
		LogLevel:        cfg.Database.LogLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}
	logger.Info("✅ 数据库已连接 (%s)", cfg.Database.Type)

	cipher, err := secret.NewCipher(cfg.Security.EncryptionKey)
	if err != nil {
		db.Close()
		return nil, err
	}

	client, err := newBrokerClient(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	dl, err := lock.NewDistributedLock(cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化分布式锁失败: %w", err)
	}

	eventBus := event.NewEventBus(1000)
	notifier := notify.NewNotificationService(cfg)

	return &app{
		cfg:      cfg,
		db:       db,
		cipher:   cipher,
		client:   client,
		lock:     dl,
		eventBus: eventBus,
		notifier: notifier,
		center:   event.NewEventCenter(eventBus, notifier),
	}, nil
}

func newBrokerClient(cfg *config.Config) (*broker.HTTPClient, error) {
	loc, err := time.LoadLocation(cfg.Broker.HistoryTimezone)
	if err != nil {
		return nil, fmt.Errorf("加载券商时区 %s 失败: %w", cfg.Broker.HistoryTimezone, err)
	}
	return broker.NewHTTPClient(broker.Config{
		BaseURL:        cfg.Broker.BaseURL,
		RequestTimeout: time.Duration(cfg.Broker.RequestTimeout) * time.Second,
		ConnectTimeout: time.Duration(cfg.Broker.ConnectTimeout) * time.Second,
		RateLimit:      cfg.Broker.RateLimit,
		RateBurst:      cfg.Broker.RateBurst,
		Location:       loc,
	}), nil
}

// newWatchdog 创建进程资源看门狗，告警经事件总线发送通知
func (a *app) newWatchdog() *monitor.Watchdog {
	wd := a.cfg.Watchdog
	return monitor.NewWatchdog(monitor.Thresholds{
		CPUPercent:     wd.CPUPercent,
		MemoryMB:       wd.MemoryMB,
		Goroutines:     wd.Goroutines,
		MemoryGrowthMB: wd.MemoryGrowthMB,
		Window:         time.Duration(wd.WindowMinutes) * time.Minute,
	}, time.Duration(wd.CooldownMinutes)*time.Minute, a.eventBus)
}

// newLiveFeed 创建共享推送连接，重连耗尽时发布 live_feed_terminated
func (a *app) newLiveFeed() *livefeed.Manager {
	lf := a.cfg.LiveFeed
	feed := livefeed.NewManager(livefeed.Config{
		URL:                  lf.URL,
		PingInterval:         time.Duration(lf.PingInterval) * time.Second,
		PongWait:             time.Duration(lf.PongWait) * time.Second,
		HandshakeTimeout:     time.Duration(lf.HandshakeTimeout) * time.Second,
		ReconnectBase:        time.Duration(lf.ReconnectBase) * time.Second,
		ReconnectMax:         time.Duration(lf.ReconnectMax) * time.Second,
		MaxReconnectAttempts: lf.MaxReconnectAttempts,
	})
	feed.OnTerminated(func(attempts int) {
		a.eventBus.Publish(&event.Event{
			Type:      event.EventTypeLiveFeedTerminated,
			Timestamp: utils.NowUTC(),
			Data:      map[string]interface{}{"attempts": attempts},
		})
	})
	return feed
}

// newPoller feed 为 nil 时 live 转换只落库，由 serve 进程的同步循环订阅
func (a *app) newPoller(feed engine.Subscriber) (*worker.Poller, *engine.Engine, error) {
	pollCfg, err := worker.NewPollConfig(a.cfg)
	if err != nil {
		return nil, nil, err
	}
	eng := engine.NewEngine(a.db, feed, a.eventBus)
	return worker.NewPoller(pollCfg, a.db, a.client, a.cipher, eng, a.lock, a.eventBus), eng, nil
}

func (a *app) newResetter() (*worker.DailyResetter, error) {
	return worker.NewDailyResetter(a.db, a.client, a.lock, a.eventBus,
		a.cfg.DailyReset.Hour, a.cfg.DailyReset.Minute, lock.TTL(a.cfg))
}

func (a *app) sessionTTL() time.Duration {
	return time.Duration(a.cfg.Broker.SessionTTL) * time.Minute
}

// close 按依赖逆序释放资源
func (a *app) close() {
	if a.center != nil {
		a.center.Stop()
	}
	a.eventBus.Close()
	a.notifier.Wait()

	if err := a.lock.Close(); err != nil {
		logger.Warn("⚠️ 关闭分布式锁失败: %v", err)
	}
	if err := a.db.Close(); err != nil {
		logger.Warn("⚠️ 关闭数据库失败: %v", err)
	}
}

// startEvents 启动事件中心（一次性命令也需要转发通知）
func (a *app) startEvents(ctx context.Context) {
	a.center.Start(ctx)
}
