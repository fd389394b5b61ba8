package broker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	loc, err := time.LoadLocation("Europe/Istanbul")
	if err != nil {
		t.Fatalf("加载时区失败: %v", err)
	}
	return NewHTTPClient(Config{
		BaseURL:        srv.URL,
		RequestTimeout: 5 * time.Second,
		RateLimit:      1000,
		RateBurst:      1000,
		Location:       loc,
	})
}

func TestConnectReturnsSessionID(t *testing.T) {
	const session = "0f8fad5b-d9cb-469f-a165-70867728950e"
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ConnectEx" {
			t.Errorf("路径错误: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("user") != "1001" || q.Get("password") != "pw" || q.Get("server") != "Demo-Server" {
			t.Errorf("参数错误: %v", q)
		}
		if q.Get("connectTimeoutSeconds") != "60" {
			t.Errorf("connectTimeoutSeconds 错误: %s", q.Get("connectTimeoutSeconds"))
		}
		w.Write([]byte("  \"" + session + "\"\n"))
	})

	got, err := client.Connect(context.Background(), "1001", "pw", "Demo-Server")
	if err != nil {
		t.Fatalf("连接失败: %v", err)
	}
	if got != session {
		t.Errorf("会话ID错误: 期望 %s, 得到 %s", session, got)
	}
}

func TestConnectRejectsInvalidSession(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not-a-session"))
	})

	_, err := client.Connect(context.Background(), "1001", "pw", "Demo-Server")
	if !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("期望 ErrInvalidSession, 得到 %v", err)
	}
	if IsRetryable(err) {
		t.Error("无效会话ID不应重试")
	}
}

func TestConnectInvalidCredentials(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := client.Connect(context.Background(), "1001", "pw", "Demo-Server")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("期望 ErrInvalidCredentials, 得到 %v", err)
	}
	if IsSessionExpired(err) {
		t.Error("ConnectEx 的 403 不是会话过期")
	}
}

func TestAccountSummary(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") != "sess" {
			t.Errorf("会话参数错误: %s", r.URL.Query().Get("id"))
		}
		w.Write([]byte(`{"balance":10000,"equity":9650.5,"currency":"USD"}`))
	})

	summary, err := client.AccountSummary(context.Background(), "sess")
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if summary.Balance != 10000 || summary.Equity != 9650.5 {
		t.Errorf("概况错误: %+v", summary)
	}
}

func TestAccountSummarySessionExpired(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		status := status
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			w.Write([]byte("session not found"))
		})

		_, err := client.AccountSummary(context.Background(), "sess")
		if !IsSessionExpired(err) {
			t.Errorf("HTTP %d 应判定为会话过期, 得到 %v", status, err)
		}
		if IsRetryable(err) {
			t.Errorf("HTTP %d 不应重试", status)
		}
	}
}

func TestOrderHistoryNormalizes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		// 2025-06-01 00:00 UTC 在伊斯坦布尔是 03:00
		if q.Get("from") != "2025-06-01T03:00:00" {
			t.Errorf("from 未按券商时区格式化: %s", q.Get("from"))
		}
		if q.Get("sort") != "CloseTime" || q.Get("ascending") != "true" {
			t.Errorf("排序参数错误: %v", q)
		}
		w.Write([]byte(`{"orders":[
			{"ticket":11,"orderType":"Buy","symbol":"EURUSD","lots":0.5,"openPrice":1.1,"closePrice":1.2,"profit":50,"swap":-1,"commission":-2,"openTime":"2025-06-02T10:00:00","closeTime":"2025-06-02T12:30:00","comment":""},
			{"ticket":12,"dealType":"Balance","profit":10000,"openTime":"2025-06-01T09:00:00","comment":"Demo deposit"},
			{"ticket":13,"orderType":"Sell","openTime":"garbage"}
		]}`))
	})

	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	orders, err := client.OrderHistory(context.Background(), "sess", from, from.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("查询订单失败: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("期望 2 条订单（无效的被跳过）, 得到 %d", len(orders))
	}

	buy := orders[0]
	if buy.OrderID != 11 || buy.Type != "Buy" || buy.Volume != 0.5 {
		t.Errorf("订单字段错误: %+v", buy)
	}
	wantOpen := time.Date(2025, 6, 2, 7, 0, 0, 0, time.UTC)
	if !buy.TimeOpen.Equal(wantOpen) {
		t.Errorf("开仓时间错误: 期望 %v, 得到 %v", wantOpen, buy.TimeOpen)
	}
	if buy.TimeClose == nil || buy.PriceClose == nil || *buy.PriceClose != 1.2 {
		t.Errorf("平仓信息缺失: %+v", buy)
	}
	if !strings.Contains(string(buy.Raw), `"ticket":11`) {
		t.Errorf("原始数据未保留: %s", buy.Raw)
	}

	deposit := orders[1]
	if deposit.Type != "Balance" {
		t.Errorf("dealType 未作为类型回退: %s", deposit.Type)
	}
	if deposit.TimeClose != nil {
		t.Error("未平仓订单不应有平仓时间")
	}
}

func TestRetrySkipsSessionExpired(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond
	_, err := DoWithResult(context.Background(), func() (*AccountSummary, error) {
		return client.AccountSummary(context.Background(), "sess")
	}, cfg)
	if !IsSessionExpired(err) {
		t.Fatalf("期望会话过期错误, 得到 %v", err)
	}
	if calls != 1 {
		t.Errorf("会话过期不应重试: 调用 %d 次", calls)
	}
}

func TestRetryTransientThenSuccess(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"balance":1,"equity":2}`))
	})

	var retries []int
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		retries = append(retries, attempt)
	}
	summary, err := DoWithResult(context.Background(), func() (*AccountSummary, error) {
		return client.AccountSummary(context.Background(), "sess")
	}, cfg)
	if err != nil {
		t.Fatalf("重试后应成功: %v", err)
	}
	if summary.Equity != 2 {
		t.Errorf("净值错误: %v", summary.Equity)
	}
	if len(retries) != 2 {
		t.Errorf("期望重试 2 次, 得到 %v", retries)
	}
}

func TestRetryExhausted(t *testing.T) {
	var calls int32
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond}
	err := Do(context.Background(), func() error {
		atomic.AddInt32(&calls, 1)
		return &APIError{Endpoint: endpointSummary, StatusCode: http.StatusInternalServerError}
	}, cfg)
	if err == nil {
		t.Fatal("重试耗尽应返回最后一次错误")
	}
	if calls != 3 {
		t.Errorf("期望尝试 3 次, 得到 %d", calls)
	}
}

func TestErrorDoesNotLeakPassword(t *testing.T) {
	client := NewHTTPClient(Config{BaseURL: "http://127.0.0.1:1", RequestTimeout: time.Second})
	_, err := client.Connect(context.Background(), "1001", "s3cret-pw", "Demo")
	if err == nil {
		t.Fatal("连接不存在的地址应失败")
	}
	if strings.Contains(err.Error(), "s3cret-pw") {
		t.Errorf("错误信息泄露了密码: %v", err)
	}
}

func TestSessionValid(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(10 * time.Hour)
	past := now.Add(-time.Minute)
	recent := now.Add(-30 * time.Minute)
	stale := now.Add(-2 * time.Hour)

	tests := []struct {
		name      string
		sessionID string
		expires   *time.Time
		validated *time.Time
		want      bool
	}{
		{"有效会话", "s", &future, &recent, true},
		{"无会话ID", "", &future, &recent, false},
		{"已过期", "s", &past, &recent, false},
		{"超过一小时未验证", "s", &future, &stale, false},
		{"从未验证", "s", &future, nil, false},
		{"无过期时间", "s", nil, &recent, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := SessionValid(tt.sessionID, tt.expires, tt.validated, now, time.Hour); got != tt.want {
				t.Errorf("期望 %v, 得到 %v", tt.want, got)
			}
		})
	}
}
