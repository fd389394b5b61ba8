package notify

import (
	"fmt"
	"sync"

	"fundguard/config"
	"fundguard/event"
	"fundguard/i18n"
	"fundguard/logger"
)

// Notifier 通知接口
type Notifier interface {
	Send(event *event.Event) error
	Name() string
}

// NotificationService 通知服务
type NotificationService struct {
	notifiers []Notifier
	enabled   bool
	wg        sync.WaitGroup
}

// NewNotificationService 创建通知服务
func NewNotificationService(cfg *config.Config) *NotificationService {
	ns := &NotificationService{enabled: cfg.Notifications.Enabled}
	if !ns.enabled {
		return ns
	}

	if cfg.Notifications.Telegram.Enabled && cfg.Notifications.Telegram.BotToken != "" {
		telegramNotifier, err := NewTelegramNotifier(cfg)
		if err != nil {
			logger.Warn("⚠️ 初始化 Telegram 通知失败: %v", err)
		} else {
			ns.notifiers = append(ns.notifiers, telegramNotifier)
			logger.Info("✅ Telegram 通知已启用")
		}
	}

	if cfg.Notifications.Webhook.Enabled && cfg.Notifications.Webhook.URL != "" {
		webhookNotifier, err := NewWebhookNotifier(cfg)
		if err != nil {
			logger.Warn("⚠️ 初始化 Webhook 通知失败: %v", err)
		} else {
			ns.notifiers = append(ns.notifiers, webhookNotifier)
			logger.Info("✅ Webhook 通知已启用")
		}
	}

	return ns
}

// Send 发送通知（异步，不阻塞）
func (ns *NotificationService) Send(evt *event.Event) {
	if evt == nil || !ns.enabled || len(ns.notifiers) == 0 {
		return
	}

	for _, notifier := range ns.notifiers {
		ns.wg.Add(1)
		go func(n Notifier) {
			defer ns.wg.Done()
			if err := n.Send(evt); err != nil {
				logger.Warn("⚠️ [%s] 通知发送失败: %v", n.Name(), err)
			}
		}(notifier)
	}
}

// Wait 等待发送中的通知完成（退出前调用）
func (ns *NotificationService) Wait() {
	ns.wg.Wait()
}

// FormatMessage 按系统语言渲染事件文本
func FormatMessage(evt *event.Event) string {
	data := map[string]interface{}{
		"Login":      evt.String("login"),
		"Server":     evt.String("server"),
		"Reason":     evt.String("reason"),
		"DailyUsage": formatPercent(evt.Data["daily_usage"]),
		"MaxUsage":   formatPercent(evt.Data["max_usage"]),
		"Attempts":   evt.Data["attempts"],
		"Resource":   evt.String("resource"),
		"Value":      formatAmount(evt.Data["value"]),
		"Threshold":  formatAmount(evt.Data["threshold"]),
	}

	key := "notify_" + string(evt.Type)
	msg := i18n.T(key, data)
	if msg == key {
		// 无对应文案的事件直接输出类型
		return string(evt.Type)
	}
	return msg
}

func formatAmount(v interface{}) string {
	switch n := v.(type) {
	case float64:
		return fmt.Sprintf("%.2f", n)
	case int:
		return fmt.Sprintf("%d", n)
	}
	return ""
}

func formatPercent(v interface{}) string {
	if f, ok := v.(float64); ok {
		return fmt.Sprintf("%.2f", f)
	}
	return ""
}
