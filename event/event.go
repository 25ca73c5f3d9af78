package event

import (
	"time"

	"fnobot/logger"
)

// Type 事件类型
type Type string

const (
	TypeOrderPlaced    Type = "order_placed"
	TypeOrderFilled    Type = "order_filled"
	TypeOrderCancelled Type = "order_cancelled"
	TypeRiskAlert      Type = "risk_alert"
	TypeRiskViolation  Type = "risk_violation"
	TypeRemediation    Type = "remediation"
	TypeKillSwitch     Type = "kill_switch"
	TypeEmergencyStop  Type = "emergency_stop"
	TypeDayRoll        Type = "day_roll"
	TypeError          Type = "error"
	TypeSystemStart    Type = "system_start"
	TypeSystemStop     Type = "system_stop"
)

// Event 事件结构
type Event struct {
	Type      Type
	Timestamp time.Time
	Data      map[string]interface{}
}

// New 构造事件
func New(t Type, data map[string]interface{}) *Event {
	return &Event{Type: t, Timestamp: time.Now(), Data: data}
}

// Bus 事件总线
// 投递是尽力而为：队列满时丢弃并告警，绝不阻塞交易主循环
type Bus struct {
	eventCh    chan *Event
	bufferSize int
}

// NewBus 创建事件总线
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &Bus{
		eventCh:    make(chan *Event, bufferSize),
		bufferSize: bufferSize,
	}
}

// Publish 发布事件（非阻塞）
func (b *Bus) Publish(evt *Event) {
	if evt == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- evt:
	default:
		logger.Warn("⚠️ 事件队列已满, 丢弃事件: %s", evt.Type)
	}
}

// Subscribe 订阅事件
func (b *Bus) Subscribe() <-chan *Event {
	return b.eventCh
}

// Close 关闭事件总线
func (b *Bus) Close() {
	close(b.eventCh)
}
