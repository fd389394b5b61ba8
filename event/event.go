package event

import (
	"time"

	"fundguard/logger"
)

// EventType 事件类型
type EventType string

const (
	EventTypeAccountFailed      EventType = "account_failed"
	EventTypeLiveEntered        EventType = "live_entered"
	EventTypeLiveExited         EventType = "live_exited"
	EventTypeConnectionError    EventType = "connection_error"
	EventTypeLiveFeedTerminated EventType = "live_feed_terminated"
	EventTypeDailyResetDone     EventType = "daily_reset_done"
	EventTypeResourceAlert      EventType = "resource_alert"
	EventTypeSystemStart        EventType = "system_start"
	EventTypeSystemStop         EventType = "system_stop"
)

// EventSeverity 事件严重程度
type EventSeverity string

const (
	SeverityCritical EventSeverity = "critical"
	SeverityWarning  EventSeverity = "warning"
	SeverityInfo     EventSeverity = "info"
)

// GetEventSeverity 获取事件严重程度
func GetEventSeverity(t EventType) EventSeverity {
	switch t {
	case EventTypeAccountFailed, EventTypeLiveFeedTerminated:
		return SeverityCritical
	case EventTypeLiveEntered, EventTypeConnectionError, EventTypeResourceAlert:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Event 事件结构
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]interface{}
}

// String 从 Data 中取字符串字段
func (e *Event) String(key string) string {
	if v, ok := e.Data[key].(string); ok {
		return v
	}
	return ""
}

// Publisher 事件发布接口
type Publisher interface {
	Publish(event *Event)
}

// EventBus 事件总线
type EventBus struct {
	eventCh chan *Event
}

// NewEventBus 创建事件总线
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &EventBus{
		eventCh: make(chan *Event, bufferSize),
	}
}

// Publish 发布事件（非阻塞）
func (eb *EventBus) Publish(event *Event) {
	if event == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case eb.eventCh <- event:
	default:
		logger.Warn("⚠️ 事件队列已满，丢弃事件: %s", event.Type)
	}
}

// Subscribe 订阅事件（返回 channel）
func (eb *EventBus) Subscribe() <-chan *Event {
	return eb.eventCh
}

// Close 关闭事件总线
func (eb *EventBus) Close() {
	close(eb.eventCh)
}
