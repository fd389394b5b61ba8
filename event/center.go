package event

import (
	"context"
	"sync"

	"fundguard/logger"
)

// NotificationService 通知服务接口
type NotificationService interface {
	Send(event *Event)
}

// EventCenter 从总线消费事件，记录日志并转发给通知服务
type EventCenter struct {
	eventBus *EventBus
	notifier NotificationService
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewEventCenter 创建事件中心，notifier 可为 nil
func NewEventCenter(eventBus *EventBus, notifier NotificationService) *EventCenter {
	return &EventCenter{
		eventBus: eventBus,
		notifier: notifier,
	}
}

// Start 启动事件中心
func (ec *EventCenter) Start(ctx context.Context) {
	ctx, ec.cancel = context.WithCancel(ctx)
	ec.wg.Add(1)
	go ec.processEvents(ctx)
	logger.Info("✅ 事件中心已启动")
}

// Stop 停止事件中心
func (ec *EventCenter) Stop() {
	if ec.cancel != nil {
		ec.cancel()
	}
	ec.wg.Wait()
	logger.Info("✅ 事件中心已停止")
}

func (ec *EventCenter) processEvents(ctx context.Context) {
	defer ec.wg.Done()

	eventCh := ec.eventBus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			ec.drain(eventCh)
			return
		case evt, ok := <-eventCh:
			if !ok {
				return
			}
			ec.handleEvent(evt)
		}
	}
}

// drain 退出前处理已入队的事件
func (ec *EventCenter) drain(eventCh <-chan *Event) {
	for {
		select {
		case evt, ok := <-eventCh:
			if !ok {
				return
			}
			ec.handleEvent(evt)
		default:
			return
		}
	}
}

func (ec *EventCenter) handleEvent(evt *Event) {
	if evt == nil {
		return
	}

	severity := GetEventSeverity(evt.Type)
	switch severity {
	case SeverityCritical:
		logger.Error("🚨 [事件] %s: %v", evt.Type, evt.Data)
	case SeverityWarning:
		logger.Warn("⚠️ [事件] %s: %v", evt.Type, evt.Data)
	default:
		logger.Info("ℹ️ [事件] %s: %v", evt.Type, evt.Data)
	}

	if ec.notifier != nil && ec.shouldNotify(evt.Type, severity) {
		ec.notifier.Send(evt)
	}
}

// shouldNotify 严重与警告级别的账户事件需要通知
func (ec *EventCenter) shouldNotify(eventType EventType, severity EventSeverity) bool {
	if severity == SeverityCritical || severity == SeverityWarning {
		return true
	}
	return eventType == EventTypeLiveExited
}
