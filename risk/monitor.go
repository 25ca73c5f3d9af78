package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"fnobot/config"
	"fnobot/logger"
)

// AlertType 告警级别
type AlertType string

const (
	AlertWarning  AlertType = "WARNING"
	AlertCritical AlertType = "CRITICAL"
)

// Alert 一次阈值触达，创建后不可修改
type Alert struct {
	Timestamp time.Time `json:"timestamp"`
	Category  string    `json:"category"`
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Severity  int       `json:"severity"` // 1-5
}

// AlertCallback 告警订阅回调
type AlertCallback func(Alert)

// Monitor 风险监控器
// 对每个维度按动态预算的分级阈值比较：达到预算 80% 发 WARNING，
// 90% 发 CRITICAL，同一维度同一周期只发最高级别
type Monitor struct {
	mu sync.Mutex

	warningRatio  float64
	criticalRatio float64

	history  []Alert
	capacity int

	callbacks []AlertCallback
}

// NewMonitor 创建监控器
func NewMonitor(cfg *config.Config) *Monitor {
	capacity := cfg.Risk.AlertHistorySize
	if capacity <= 0 {
		capacity = 1000
	}
	warning := cfg.Risk.WarningRatio
	if warning <= 0 {
		warning = 0.8
	}
	critical := cfg.Risk.CriticalRatio
	if critical <= 0 {
		critical = 0.9
	}
	return &Monitor{
		warningRatio:  warning,
		criticalRatio: critical,
		capacity:      capacity,
	}
}

// Subscribe 注册告警回调
func (m *Monitor) Subscribe(cb AlertCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Check 对快照逐维度做分级阈值评估，产生的告警写入历史并同步分发
func (m *Monitor) Check(snap *Snapshot, limits Limits) []Alert {
	type dimension struct {
		category string
		value    float64
		limit    float64
		label    string
	}

	dims := []dimension{
		{CategoryPositionSize, snap.MaxPositionValue, limits.MaxPositionSize, "单笔持仓市值"},
		{CategoryPortfolioValue, snap.PortfolioValue, limits.MaxPortfolioValue, "组合市值"},
		{CategoryDailyLoss, math.Max(0, -snap.DailyPnL), limits.MaxDailyLoss, "当日亏损"},
		{CategoryDrawdown, snap.CurrentDrawdown, limits.MaxDrawdown, "回撤"},
		{CategoryDelta, math.Abs(snap.TotalDelta), limits.MaxDeltaExposure, "Delta 敞口"},
		{CategoryGamma, math.Abs(snap.TotalGamma), limits.MaxGammaExposure, "Gamma 敞口"},
		{CategoryTheta, math.Abs(snap.TotalTheta), limits.MaxThetaExposure, "Theta 敞口"},
		{CategoryVega, math.Abs(snap.TotalVega), limits.MaxVegaExposure, "Vega 敞口"},
		{CategoryMargin, snap.MarginUsage, limits.MaxMarginUsage, "保证金使用率"},
		{CategoryPositionCount, float64(snap.PositionCount), float64(limits.MaxConcurrentPositions), "持仓数"},
	}
	for sector, ratio := range snap.SectorExposure {
		dims = append(dims, dimension{CategorySector, ratio, limits.MaxSectorExposure, "行业 " + sector + " 敞口"})
	}
	for underlying, ratio := range snap.UnderlyingExposure {
		dims = append(dims, dimension{CategoryUnderlying, ratio, limits.MaxUnderlyingExposure, "标的 " + underlying + " 敞口"})
	}

	var alerts []Alert
	for _, d := range dims {
		if d.limit <= 0 {
			continue
		}
		ratio := d.value / d.limit

		var alertType AlertType
		var threshold float64
		switch {
		case ratio >= m.criticalRatio:
			alertType = AlertCritical
			threshold = d.limit * m.criticalRatio
		case ratio >= m.warningRatio:
			alertType = AlertWarning
			threshold = d.limit * m.warningRatio
		default:
			continue
		}

		alerts = append(alerts, Alert{
			Timestamp: snap.Timestamp,
			Category:  d.category,
			Type:      alertType,
			Message:   fmt.Sprintf("%s %.4f 达到预算 %.4f 的 %.1f%%", d.label, d.value, d.limit, ratio*100),
			Value:     d.value,
			Threshold: threshold,
			Severity:  severityFor(ratio),
		})
	}

	if len(alerts) > 0 {
		m.record(alerts)
	}
	return alerts
}

// severityFor 严重度 1-5，随占比递增
func severityFor(ratio float64) int {
	switch {
	case ratio >= 1.2:
		return 5
	case ratio >= 1.0:
		return 4
	case ratio >= 0.9:
		return 3
	case ratio >= 0.8:
		return 2
	default:
		return 1
	}
}

// record 写入有界历史并同步分发给订阅者
// 回调抛出的 panic 被捕获并记录，单个订阅者故障不中断监控
func (m *Monitor) record(alerts []Alert) {
	m.mu.Lock()
	m.history = append(m.history, alerts...)
	if over := len(m.history) - m.capacity; over > 0 {
		m.history = m.history[over:]
	}
	callbacks := make([]AlertCallback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	for _, alert := range alerts {
		if alert.Type == AlertCritical {
			logger.Warn("⚠️ [CRITICAL] %s: %s", alert.Category, alert.Message)
		} else {
			logger.Info("ℹ️ [WARNING] %s: %s", alert.Category, alert.Message)
		}
		for _, cb := range callbacks {
			m.dispatch(cb, alert)
		}
	}
}

func (m *Monitor) dispatch(cb AlertCallback, alert Alert) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("❌ 告警回调 panic: %v", r)
		}
	}()
	cb(alert)
}

// History 全部告警历史副本
func (m *Monitor) History() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.history))
	copy(out, m.history)
	return out
}

// AlertsByTime 按时间区间查询
func (m *Monitor) AlertsByTime(from, to time.Time) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Alert
	for _, a := range m.history {
		if !a.Timestamp.Before(from) && !a.Timestamp.After(to) {
			out = append(out, a)
		}
	}
	return out
}

// AlertsByCategory 按类别查询
func (m *Monitor) AlertsByCategory(category string) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Alert
	for _, a := range m.history {
		if a.Category == category {
			out = append(out, a)
		}
	}
	return out
}

// AlertsByType 按级别查询
func (m *Monitor) AlertsByType(alertType AlertType) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Alert
	for _, a := range m.history {
		if a.Type == alertType {
			out = append(out, a)
		}
	}
	return out
}

// Summary 告警统计摘要
func (m *Monitor) Summary() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	summary := map[string]int{
		"total":    len(m.history),
		"warning":  0,
		"critical": 0,
	}
	for _, a := range m.history {
		switch a.Type {
		case AlertWarning:
			summary["warning"]++
		case AlertCritical:
			summary["critical"]++
		}
	}
	return summary
}
