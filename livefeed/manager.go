package livefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"fundguard/logger"
	"fundguard/metrics"

	"github.com/gorilla/websocket"
)

var ErrClosed = errors.New("推送管理器已关闭")

// Config 推送连接配置
type Config struct {
	URL                  string
	PingInterval         time.Duration
	PongWait             time.Duration // 超过该时长没有任何入站帧即判定连接失效
	HandshakeTimeout     time.Duration
	WriteTimeout         time.Duration
	ReconnectBase        time.Duration
	ReconnectMax         time.Duration
	MaxReconnectAttempts int
	EventBuffer          int
}

func (c *Config) applyDefaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongWait <= c.PingInterval {
		c.PongWait = 2 * c.PingInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 60 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
}

// Manager 所有实时监控账户共用一条推送连接
// 连接在第一个订阅时建立，最后一个退订时关闭
type Manager struct {
	cfg    Config
	dialer *websocket.Dialer

	mu           sync.Mutex
	subs         map[int64]Subscription
	conn         *websocket.Conn
	pingStop     chan struct{}
	reconnecting bool
	closed       bool

	writeMu sync.Mutex

	events       chan *Event
	done         chan struct{}
	onTerminated func(attempts int)
	pm           *metrics.PrometheusMetrics
}

// NewManager 创建推送管理器
func NewManager(cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		subs:   make(map[int64]Subscription),
		events: make(chan *Event, cfg.EventBuffer),
		done:   make(chan struct{}),
		pm:     metrics.GetPrometheusMetrics(),
	}
}

// OnTerminated 设置重连耗尽回调
func (m *Manager) OnTerminated(fn func(attempts int)) {
	m.mu.Lock()
	m.onTerminated = fn
	m.mu.Unlock()
}

// Events 已路由事件流
func (m *Manager) Events() <-chan *Event {
	return m.events
}

// Subscribe 登记账户并发送订阅消息
// 首次建立连接失败时撤销登记并返回错误
func (m *Manager) Subscribe(ctx context.Context, sub Subscription) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if existing, ok := m.subs[sub.AccountID]; ok && existing == sub {
		m.mu.Unlock()
		return nil
	}
	m.subs[sub.AccountID] = sub
	m.pm.SetLiveSubscriptions(len(m.subs))
	conn := m.conn
	reconnecting := m.reconnecting
	m.mu.Unlock()

	if conn == nil {
		if reconnecting {
			// 重连成功后统一补发订阅
			logger.Info("⏳ 推送连接重连中，账户 %d 将在重连后订阅", sub.AccountID)
			return nil
		}
		var err error
		conn, err = m.ensureConnected(ctx)
		if err != nil {
			m.mu.Lock()
			delete(m.subs, sub.AccountID)
			m.pm.SetLiveSubscriptions(len(m.subs))
			m.mu.Unlock()
			return fmt.Errorf("连接推送服务失败: %w", err)
		}
	}

	if err := m.send(conn, outbound{Action: "subscribe", Login: sub.Login, Server: sub.Server, SessionID: sub.SessionID}); err != nil {
		// 连接已断，读循环会触发重连并补发
		logger.Warn("⚠️ 发送订阅失败(账户 %d): %v", sub.AccountID, err)
		return nil
	}
	logger.Info("📡 账户 %d (%s@%s) 已订阅实时推送", sub.AccountID, sub.Login, sub.Server)
	return nil
}

// Unsubscribe 移除账户订阅，注册表为空时关闭连接
func (m *Manager) Unsubscribe(ctx context.Context, accountID int64) error {
	m.mu.Lock()
	sub, ok := m.subs[accountID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.subs, accountID)
	m.pm.SetLiveSubscriptions(len(m.subs))
	conn := m.conn
	empty := len(m.subs) == 0
	m.mu.Unlock()

	if conn != nil {
		if err := m.send(conn, outbound{Action: "unsubscribe", Login: sub.Login, Server: sub.Server, SessionID: sub.SessionID}); err != nil {
			logger.Debug("发送退订失败(账户 %d): %v", accountID, err)
		}
	}
	logger.Info("🔕 账户 %d 已退订实时推送", accountID)

	if empty {
		m.disconnect()
	}
	return nil
}

// IsSubscribed 账户是否在注册表中
func (m *Manager) IsSubscribed(accountID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[accountID]
	return ok
}

// SubscribedIDs 返回已订阅账户
func (m *Manager) SubscribedIDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	return ids
}

// Connected 当前是否持有连接
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Close 关闭连接并停止重连
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.subs = make(map[int64]Subscription)
	m.pm.SetLiveSubscriptions(0)
	m.mu.Unlock()

	close(m.done)
	m.disconnect()
	return nil
}

func (m *Manager) ensureConnected(ctx context.Context) (*websocket.Conn, error) {
	m.mu.Lock()
	if m.conn != nil {
		conn := m.conn
		m.mu.Unlock()
		return conn, nil
	}
	m.mu.Unlock()

	conn, err := m.dial(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.conn != nil || m.closed {
		// 并发订阅已建立连接
		existing := m.conn
		m.mu.Unlock()
		conn.Close()
		if existing == nil {
			return nil, ErrClosed
		}
		return existing, nil
	}
	m.attach(conn)
	m.mu.Unlock()
	return conn, nil
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	defer cancel()

	conn, resp, err := m.dialer.DialContext(dialCtx, m.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	logger.Info("✅ 实时推送已连接: %s", m.cfg.URL)
	return conn, nil
}

// attach 绑定新连接并启动读循环与心跳，调用方持有 mu
func (m *Manager) attach(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
	})
	m.conn = conn
	m.pingStop = make(chan struct{})
	m.pm.SetLiveFeedStatus(true)
	go m.readLoop(conn)
	go m.pingLoop(conn, m.pingStop)
}

// disconnect 主动关闭当前连接，读循环据此不再重连
func (m *Manager) disconnect() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	if m.pingStop != nil {
		close(m.pingStop)
		m.pingStop = nil
	}
	m.mu.Unlock()

	if conn == nil {
		return
	}
	m.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	m.writeMu.Unlock()
	conn.Close()
	m.pm.SetLiveFeedStatus(false)
	logger.Info("🔌 实时推送连接已关闭")
}

func (m *Manager) send(conn *websocket.Conn, msg outbound) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	return conn.WriteJSON(msg)
}

func (m *Manager) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.cfg.WriteTimeout))
			m.writeMu.Unlock()
			if err != nil {
				logger.Debug("推送心跳失败: %v", err)
				return
			}
		}
	}
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			// 对端静默时读超时，同样走断线重连
			m.handleDisconnect(conn, err)
			return
		}
		conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
		m.dispatch(data)
	}
}

func (m *Manager) handleDisconnect(conn *websocket.Conn, cause error) {
	m.mu.Lock()
	if m.conn != conn {
		// 主动关闭或已处理
		m.mu.Unlock()
		return
	}
	m.conn = nil
	if m.pingStop != nil {
		close(m.pingStop)
		m.pingStop = nil
	}
	m.pm.SetLiveFeedStatus(false)
	if m.closed || len(m.subs) == 0 || m.reconnecting {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.reconnecting = true
	m.mu.Unlock()

	conn.Close()
	logger.Warn("⚠️ 实时推送连接断开: %v", cause)
	go m.reconnectLoop()
}

// reconnectDelay 第 n 次重连前的等待时间
func (m *Manager) reconnectDelay(attempt int) time.Duration {
	delay := m.cfg.ReconnectBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.cfg.ReconnectMax {
			return m.cfg.ReconnectMax
		}
	}
	if delay > m.cfg.ReconnectMax {
		return m.cfg.ReconnectMax
	}
	return delay
}

func (m *Manager) reconnectLoop() {
	for attempt := 1; attempt <= m.cfg.MaxReconnectAttempts; attempt++ {
		delay := m.reconnectDelay(attempt)
		logger.Info("🔄 %v 后尝试第 %d/%d 次重连推送服务", delay, attempt, m.cfg.MaxReconnectAttempts)

		select {
		case <-m.done:
			return
		case <-time.After(delay):
		}

		m.mu.Lock()
		if m.closed || len(m.subs) == 0 {
			m.reconnecting = false
			m.mu.Unlock()
			logger.Info("ℹ️ 无订阅账户，放弃重连")
			return
		}
		m.mu.Unlock()

		m.pm.RecordLiveFeedReconnect()
		conn, err := m.dial(context.Background())
		if err != nil {
			logger.Warn("⚠️ 第 %d 次重连失败: %v", attempt, err)
			continue
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			conn.Close()
			return
		}
		m.reconnecting = false
		m.attach(conn)
		subs := make([]Subscription, 0, len(m.subs))
		for _, s := range m.subs {
			subs = append(subs, s)
		}
		m.mu.Unlock()

		m.resubscribe(conn, subs)
		return
	}

	m.mu.Lock()
	m.reconnecting = false
	// 清空注册表，由重新同步流程再次订阅
	m.subs = make(map[int64]Subscription)
	m.pm.SetLiveSubscriptions(0)
	fn := m.onTerminated
	m.mu.Unlock()

	logger.Error("❌ 推送服务重连 %d 次均失败，停止重连", m.cfg.MaxReconnectAttempts)
	if fn != nil {
		fn(m.cfg.MaxReconnectAttempts)
	}
}

func (m *Manager) resubscribe(conn *websocket.Conn, subs []Subscription) {
	for _, s := range subs {
		if err := m.send(conn, outbound{Action: "subscribe", Login: s.Login, Server: s.Server, SessionID: s.SessionID}); err != nil {
			logger.Warn("⚠️ 重新订阅账户 %d 失败: %v", s.AccountID, err)
			return
		}
	}
	logger.Info("✅ 已重新订阅 %d 个账户", len(subs))
}

// route 依次按会话、登录+服务器、账户ID匹配订阅
func (m *Manager) route(msg *inbound) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.SessionID != "" {
		for id, s := range m.subs {
			if s.SessionID == msg.SessionID {
				return id, true
			}
		}
	}
	if msg.Login != "" && msg.Server != "" {
		for id, s := range m.subs {
			if s.Login == msg.Login && strings.EqualFold(s.Server, msg.Server) {
				return id, true
			}
		}
	}
	if msg.AccountID != nil {
		if _, ok := m.subs[*msg.AccountID]; ok {
			return *msg.AccountID, true
		}
	}
	return 0, false
}

func (m *Manager) dispatch(data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Debug("忽略无法解析的推送消息: %v", err)
		return
	}

	typ := EventType(msg.Type)
	if typ != EventOrderProfit && typ != EventEquityUpdate {
		return
	}

	accountID, ok := m.route(&msg)
	m.pm.RecordLiveEvent(msg.Type, ok)
	if !ok {
		logger.Warn("⚠️ 无法路由的推送事件 %s (session=%q login=%q server=%q)，已丢弃",
			msg.Type, msg.SessionID, msg.Login, msg.Server)
		return
	}

	v := msg.values()
	evt := &Event{
		Type:       typ,
		AccountID:  accountID,
		Equity:     v.Equity,
		Balance:    v.Balance,
		Profit:     v.Profit,
		ReceivedAt: time.Now().UTC(),
	}

	select {
	case m.events <- evt:
	case <-m.done:
	}
}
