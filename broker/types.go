package broker

import (
	"encoding/json"
	"time"
)

// AccountSummary AccountSummary 接口返回的账户概况
type AccountSummary struct {
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	Credit      float64 `json:"credit,omitempty"`
	Profit      float64 `json:"profit,omitempty"`
	Margin      float64 `json:"margin,omitempty"`
	FreeMargin  float64 `json:"freeMargin,omitempty"`
	MarginLevel float64 `json:"marginLevel,omitempty"`
	Leverage    float64 `json:"leverage,omitempty"`
	Currency    string  `json:"currency,omitempty"`
	IsInvestor  bool    `json:"isInvestor,omitempty"`
}

// wireOrder OrderHistory 返回的原始订单
type wireOrder struct {
	Ticket     int64    `json:"ticket"`
	OrderType  string   `json:"orderType"`
	DealType   string   `json:"dealType"`
	Symbol     string   `json:"symbol"`
	Lots       float64  `json:"lots"`
	OpenPrice  float64  `json:"openPrice"`
	ClosePrice *float64 `json:"closePrice"`
	Profit     float64  `json:"profit"`
	Swap       float64  `json:"swap"`
	Commission float64  `json:"commission"`
	OpenTime   string   `json:"openTime"`
	CloseTime  string   `json:"closeTime"`
	Comment    string   `json:"comment"`
}

// Order 归一化后的订单
type Order struct {
	OrderID    int64
	Symbol     string
	Type       string // 原样保留（Buy / Sell / Balance ...）
	Volume     float64
	PriceOpen  float64
	PriceClose *float64
	Profit     float64
	Swap       float64
	Commission float64
	TimeOpen   time.Time
	TimeClose  *time.Time
	Comment    string
	Raw        json.RawMessage
}
