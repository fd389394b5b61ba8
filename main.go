package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fundguard/config"
	"fundguard/event"
	"fundguard/logger"
	"fundguard/metrics"
	"fundguard/web"
	"fundguard/worker"

	"github.com/spf13/cobra"
)

// Version 版本号
var Version = "1.0.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Error("❌ %v", err)
		logger.Close()
		os.Exit(1)
	}
	logger.Close()
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "fundguard",
		Short:         "Drawdown monitoring engine for funded trading accounts",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "配置文件路径")

	root.AddCommand(
		newServeCmd(&configPath),
		newPollCmd(&configPath),
		newResetCmd(&configPath),
		newPlanCmd(&configPath),
		newAccountCmd(&configPath),
		newSecretCmd(&configPath),
	)
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the poll worker, live monitor, daily reset scheduler and ops API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath)
		},
	}
}

func runServe(configPath string) error {
	logger.Info("🚀 FundGuard 回撤监控启动...")
	logger.Info("📦 版本号: %s", Version)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.startEvents(ctx)
	a.eventBus.Publish(&event.Event{
		Type: event.EventTypeSystemStart,
		Data: map[string]interface{}{"version": Version},
	})

	feed := a.newLiveFeed()
	poller, eng, err := a.newPoller(feed)
	if err != nil {
		return err
	}
	resetter, err := a.newResetter()
	if err != nil {
		return err
	}
	liveMonitor := worker.NewLiveMonitor(feed, a.db, a.client, eng,
		time.Duration(cfg.LiveFeed.ResyncInterval)*time.Second)

	systemCollector := metrics.NewSystemMetricsCollector(time.Duration(cfg.Watchdog.Interval) * time.Second)
	if cfg.Watchdog.Enabled {
		a.newWatchdog().Attach(systemCollector)
	} else {
		logger.Info("ℹ️ 看门狗监控未启用")
	}
	systemCollector.Start(ctx)

	watcher, err := config.NewWatcher(configPath, cfg, onConfigReload)
	if err != nil {
		logger.Warn("⚠️ 创建配置监控器失败: %v", err)
	} else if err := watcher.Start(ctx); err != nil {
		logger.Warn("⚠️ 启动配置监控失败: %v", err)
		watcher = nil
	} else {
		go func() {
			for err := range watcher.Errors() {
				logger.Warn("⚠️ %v", err)
			}
		}()
	}

	webServer := web.NewWebServer(cfg, a.db)
	if err := webServer.Start(ctx); err != nil {
		return err
	}

	resetter.Start(ctx)
	liveMonitor.Start(ctx)
	poller.Start(ctx)

	logger.Info("✅ 系统初始化完成，程序正在运行中...")
	logger.Info("💡 按 Ctrl+C 退出程序")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("🛑 收到退出信号，开始优雅关闭...")
	a.eventBus.Publish(&event.Event{
		Type: event.EventTypeSystemStop,
		Data: map[string]interface{}{"reason": "收到退出信号"},
	})

	// 先停止产生事件的组件，再关闭推送连接
	poller.Stop()
	liveMonitor.Stop()
	resetter.Stop()
	if err := feed.Close(); err != nil {
		logger.Warn("⚠️ 关闭推送连接失败: %v", err)
	}
	webServer.Stop()
	systemCollector.Stop()
	if watcher != nil {
		watcher.Stop()
	}

	logger.Info("✅ 程序已安全退出")
	return nil
}

// onConfigReload 热更新日志级别，其余变更需重启生效
func onConfigReload(old, new *config.Config) {
	if old.System.LogLevel != new.System.LogLevel {
		logger.SetLevel(logger.ParseLogLevel(new.System.LogLevel))
		logger.Info("🔄 日志级别已更新: %s -> %s", old.System.LogLevel, new.System.LogLevel)
	}

	if config.RequiresRestart(old, new) {
		logger.Warn("⚠️ 配置文件已变更，部分配置需重启后生效")
	}
}

func printf(cmd *cobra.Command, format string, args ...interface{}) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
