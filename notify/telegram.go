package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fundguard/config"
	"fundguard/event"
	"fundguard/utils"
)

// TelegramNotifier Telegram 通知器
type TelegramNotifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

// NewTelegramNotifier 创建 Telegram 通知器
func NewTelegramNotifier(cfg *config.Config) (*TelegramNotifier, error) {
	tg := cfg.Notifications.Telegram
	if tg.BotToken == "" || tg.ChatID == "" {
		return nil, fmt.Errorf("Telegram BotToken 或 ChatID 未配置")
	}

	apiBase := tg.APIBase
	if apiBase == "" {
		apiBase = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: tg.BotToken,
		chatID:   tg.ChatID,
		apiBase:  strings.TrimRight(apiBase, "/"),
		client: &http.Client{
			Timeout: 3 * time.Second,
		},
	}, nil
}

// Name 返回通知器名称
func (tn *TelegramNotifier) Name() string {
	return "Telegram"
}

// Send 发送文本消息
func (tn *TelegramNotifier) Send(evt *event.Event) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", tn.apiBase, tn.botToken)

	payload := map[string]interface{}{
		"chat_id": tn.chatID,
		"text":    formatTelegramMessage(evt),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tn.client.Do(req)
	if err != nil {
		// 错误中的 URL 含 bot token
		return fmt.Errorf("发送请求失败: %s", strings.ReplaceAll(err.Error(), tn.botToken, "***"))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Telegram API 返回错误: %d", resp.StatusCode)
	}
	return nil
}

func formatTelegramMessage(evt *event.Event) string {
	var emoji string
	switch evt.Type {
	case event.EventTypeAccountFailed:
		emoji = "🚨"
	case event.EventTypeLiveEntered:
		emoji = "⚠️"
	case event.EventTypeLiveExited:
		emoji = "✅"
	case event.EventTypeConnectionError, event.EventTypeLiveFeedTerminated:
		emoji = "❌"
	default:
		emoji = "ℹ️"
	}

	return fmt.Sprintf("%s %s\n%s", emoji, FormatMessage(evt),
		utils.ToConfiguredTimezone(evt.Timestamp).Format("2006-01-02 15:04:05"))
}
