package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"fundguard/config"
	"fundguard/event"
)

// webhookPayload 推送给外部系统的事件
type webhookPayload struct {
	Type      event.EventType        `json:"type"`
	Severity  event.EventSeverity    `json:"severity"`
	Timestamp time.Time              `json:"timestamp"`
	AccountID interface{}            `json:"account_id,omitempty"`
	Login     string                 `json:"login,omitempty"`
	Server    string                 `json:"server,omitempty"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// WebhookNotifier 以 JSON POST 推送账户事件，5xx 时重试一次
type WebhookNotifier struct {
	url        string
	timeout    time.Duration
	retryDelay time.Duration
	client     *http.Client
}

// NewWebhookNotifier 创建 Webhook 通知器
func NewWebhookNotifier(cfg *config.Config) (*WebhookNotifier, error) {
	wh := cfg.Notifications.Webhook
	if wh.URL == "" {
		return nil, fmt.Errorf("Webhook URL 未配置")
	}

	timeout := time.Duration(wh.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	return &WebhookNotifier{
		url:        wh.URL,
		timeout:    timeout,
		retryDelay: 500 * time.Millisecond,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

// Name 返回通知器名称
func (wn *WebhookNotifier) Name() string {
	return "Webhook"
}

// Send 推送事件
func (wn *WebhookNotifier) Send(evt *event.Event) error {
	body, err := json.Marshal(&webhookPayload{
		Type:      evt.Type,
		Severity:  event.GetEventSeverity(evt.Type),
		Timestamp: evt.Timestamp.UTC(),
		AccountID: evt.Data["account_id"],
		Login:     evt.String("login"),
		Server:    evt.String("server"),
		Message:   FormatMessage(evt),
		Data:      evt.Data,
	})
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	status, err := wn.post(body, evt.Type)
	if err == nil && status >= 500 {
		time.Sleep(wn.retryDelay)
		status, err = wn.post(body, evt.Type)
	}
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("Webhook 返回错误状态码: %d", status)
	}
	return nil
}

func (wn *WebhookNotifier) post(body []byte, t event.EventType) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), wn.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wn.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-FundGuard-Event", string(t))

	resp, err := wn.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("发送请求失败: %w", err)
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
