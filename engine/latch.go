package engine

import (
	"sync"

	"fnobot/logger"
)

// Latches 熔断开关与紧急停止
// 两者都是单向闩锁：一旦触发就永久阻断新的报单，
// 只有操作员显式复位才能恢复，进程重启不会自动清除
type Latches struct {
	mu             sync.RWMutex
	killSwitch     bool
	emergencyStop  bool
	tradingEnabled bool
	reason         string
}

// NewLatches 创建开关组，交易默认开启
func NewLatches() *Latches {
	return &Latches{tradingEnabled: true}
}

// TripKillSwitch 触发熔断
func (l *Latches) TripKillSwitch(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.killSwitch {
		return
	}
	l.killSwitch = true
	l.reason = reason
	logger.Error("🛑 熔断触发: %s", reason)
}

// TripEmergencyStop 触发紧急停止
func (l *Latches) TripEmergencyStop(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.emergencyStop {
		return
	}
	l.emergencyStop = true
	l.reason = reason
	logger.Error("🛑 紧急停止触发: %s", reason)
}

// SetTradingEnabled 普通交易开关，可双向切换
func (l *Latches) SetTradingEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tradingEnabled = enabled
	if enabled {
		logger.Info("✅ 交易已开启")
	} else {
		logger.Warn("⏸️ 交易已暂停")
	}
}

// OperatorReset 操作员显式复位，闩锁解除的唯一途径
func (l *Latches) OperatorReset(operator string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.killSwitch = false
	l.emergencyStop = false
	l.reason = ""
	logger.Warn("🔄 闩锁已由操作员复位: %s", operator)
}

// Blocked 是否阻断新报单
func (l *Latches) Blocked() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.killSwitch || l.emergencyStop || !l.tradingEnabled
}

// KillSwitch 熔断状态
func (l *Latches) KillSwitch() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.killSwitch
}

// EmergencyStop 紧急停止状态
func (l *Latches) EmergencyStop() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.emergencyStop
}

// TradingEnabled 交易开关状态
func (l *Latches) TradingEnabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tradingEnabled
}

// Reason 最近一次闩锁触发原因
func (l *Latches) Reason() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reason
}

// Restore 从快照恢复闩锁状态
func (l *Latches) Restore(killSwitch, emergencyStop, tradingEnabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.killSwitch = killSwitch
	l.emergencyStop = emergencyStop
	l.tradingEnabled = tradingEnabled
	if killSwitch || emergencyStop {
		logger.Warn("⚠️ 快照中的闩锁状态已恢复: kill=%v emergency=%v, 需操作员复位", killSwitch, emergencyStop)
	}
}
