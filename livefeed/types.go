package livefeed

import "time"

// Subscription 一个账户在共享推送连接上的订阅
type Subscription struct {
	AccountID int64
	Login     string
	Server    string
	SessionID string
}

// EventType 推送事件类型
type EventType string

const (
	EventOrderProfit  EventType = "OnOrderProfit"
	EventEquityUpdate EventType = "EquityUpdate"
)

// Event 已路由到账户的推送事件
type Event struct {
	Type       EventType
	AccountID  int64
	Equity     *float64
	Balance    *float64
	Profit     *float64
	ReceivedAt time.Time
}

// outbound 订阅/退订消息
type outbound struct {
	Action    string `json:"action"`
	Login     string `json:"login"`
	Server    string `json:"server"`
	SessionID string `json:"session_id,omitempty"`
}

type payload struct {
	Balance *float64 `json:"balance"`
	Equity  *float64 `json:"equity"`
	Profit  *float64 `json:"profit"`
}

// inbound 推送服务发来的原始消息，数值可能在 data 中也可能在顶层
type inbound struct {
	Type      string  `json:"type"`
	AccountID *int64  `json:"account_id"`
	SessionID string  `json:"session_id"`
	Login     string  `json:"login"`
	Server    string  `json:"server"`
	Data      payload `json:"data"`
	payload
}

func (m *inbound) values() payload {
	v := m.Data
	if v.Balance == nil {
		v.Balance = m.Balance
	}
	if v.Equity == nil {
		v.Equity = m.Equity
	}
	if v.Profit == nil {
		v.Profit = m.Profit
	}
	return v
}
