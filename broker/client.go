package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"fundguard/logger"
	"fundguard/metrics"
)

const (
	endpointConnect    = "ConnectEx"
	endpointSummary    = "AccountSummary"
	endpointHistory    = "OrderHistory"
	endpointDisconnect = "Disconnect"

	// BrokerTimeLayout 券商网关接受与返回的时间格式（无时区，按券商时区解释）
	BrokerTimeLayout = "2006-01-02T15:04:05"
)

// Client 券商网关客户端
type Client interface {
	Connect(ctx context.Context, login, password, server string) (string, error)
	AccountSummary(ctx context.Context, sessionID string) (*AccountSummary, error)
	OrderHistory(ctx context.Context, sessionID string, from, to time.Time) ([]*Order, error)
	Disconnect(ctx context.Context, sessionID string) error
}

// Config HTTP 客户端配置
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	ConnectTimeout time.Duration // 传给 ConnectEx 的 connectTimeoutSeconds
	RateLimit      float64       // 每秒请求数
	RateBurst      int
	Location       *time.Location // 券商服务器时区
}

// HTTPClient MetaTrader REST 网关客户端
type HTTPClient struct {
	baseURL        string
	connectTimeout time.Duration
	location       *time.Location
	httpClient     *http.Client
	limiter        *rate.Limiter
	pm             *metrics.PrometheusMetrics
}

// NewHTTPClient 创建客户端
func NewHTTPClient(cfg Config) *HTTPClient {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 60 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 20
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	return &HTTPClient{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		connectTimeout: cfg.ConnectTimeout,
		location:       cfg.Location,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		pm:      metrics.GetPrometheusMetrics(),
	}
}

// Connect 调用 ConnectEx，返回会话 ID（纯文本 UUID）
func (c *HTTPClient) Connect(ctx context.Context, login, password, server string) (string, error) {
	params := url.Values{}
	params.Set("user", login)
	params.Set("password", password)
	params.Set("server", server)
	params.Set("connectTimeoutSeconds", strconv.Itoa(int(c.connectTimeout.Seconds())))

	body, err := c.get(ctx, endpointConnect, params)
	if err != nil {
		return "", err
	}

	sessionID := strings.Trim(strings.TrimSpace(string(body)), `"`)
	if _, err := uuid.Parse(sessionID); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidSession, sessionID)
	}
	return sessionID, nil
}

// AccountSummary 查询余额与净值
func (c *HTTPClient) AccountSummary(ctx context.Context, sessionID string) (*AccountSummary, error) {
	params := url.Values{}
	params.Set("id", sessionID)

	body, err := c.get(ctx, endpointSummary, params)
	if err != nil {
		return nil, err
	}

	var summary AccountSummary
	if err := json.Unmarshal(body, &summary); err != nil {
		return nil, fmt.Errorf("解析 AccountSummary 响应失败: %w", err)
	}
	return &summary, nil
}

// OrderHistory 查询 [from, to] 内的历史订单，按平仓时间升序
func (c *HTTPClient) OrderHistory(ctx context.Context, sessionID string, from, to time.Time) ([]*Order, error) {
	params := url.Values{}
	params.Set("id", sessionID)
	params.Set("from", from.In(c.location).Format(BrokerTimeLayout))
	params.Set("to", to.In(c.location).Format(BrokerTimeLayout))
	params.Set("sort", "CloseTime")
	params.Set("ascending", "true")

	body, err := c.get(ctx, endpointHistory, params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Orders []json.RawMessage `json:"orders"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("解析 OrderHistory 响应失败: %w", err)
	}

	orders := make([]*Order, 0, len(resp.Orders))
	for _, raw := range resp.Orders {
		order, err := c.normalizeOrder(raw)
		if err != nil {
			logger.Warn("⚠️ 跳过无法解析的订单: %v", err)
			continue
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// Disconnect 释放会话，失败只记录日志
func (c *HTTPClient) Disconnect(ctx context.Context, sessionID string) error {
	params := url.Values{}
	params.Set("id", sessionID)
	if _, err := c.get(ctx, endpointDisconnect, params); err != nil {
		logger.Warn("⚠️ 断开券商会话失败（非关键）: %v", err)
		return err
	}
	return nil
}

func (c *HTTPClient) normalizeOrder(raw json.RawMessage) (*Order, error) {
	var w wireOrder
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}

	orderType := w.OrderType
	if orderType == "" {
		orderType = w.DealType
	}

	openTime, err := c.parseTime(w.OpenTime)
	if err != nil {
		return nil, fmt.Errorf("订单 %d 开仓时间无效: %w", w.Ticket, err)
	}

	order := &Order{
		OrderID:    w.Ticket,
		Symbol:     w.Symbol,
		Type:       orderType,
		Volume:     w.Lots,
		PriceOpen:  w.OpenPrice,
		PriceClose: w.ClosePrice,
		Profit:     w.Profit,
		Swap:       w.Swap,
		Commission: w.Commission,
		TimeOpen:   openTime,
		Comment:    w.Comment,
		Raw:        raw,
	}

	if w.CloseTime != "" {
		closeTime, err := c.parseTime(w.CloseTime)
		if err != nil {
			return nil, fmt.Errorf("订单 %d 平仓时间无效: %w", w.Ticket, err)
		}
		order.TimeClose = &closeTime
	}
	return order, nil
}

// parseTime 带时区的时间按原样解析，不带时区的按券商时区解释
func (c *HTTPClient) parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", s, c.location)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func (c *HTTPClient) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("等待限流令牌失败: %w", err)
	}

	reqURL := c.baseURL + "/" + endpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.pm.RecordBrokerRequest(endpoint, "error", time.Since(start))
		// url.Error 带完整查询串（含密码与会话ID），只保留底层错误
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, fmt.Errorf("%s 请求失败: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.pm.RecordBrokerRequest(endpoint, "error", time.Since(start))
		return nil, fmt.Errorf("读取 %s 响应失败: %w", endpoint, err)
	}

	c.pm.RecordBrokerRequest(endpoint, strconv.Itoa(resp.StatusCode), time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(body), 256),
		}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
