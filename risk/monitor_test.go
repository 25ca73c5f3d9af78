package risk

import (
	"testing"
	"time"

	"fnobot/config"
)

func monitorConfig(historySize int) *config.Config {
	cfg := &config.Config{}
	cfg.Risk.AlertHistorySize = historySize
	cfg.Risk.WarningRatio = 0.8
	cfg.Risk.CriticalRatio = 0.9
	return cfg
}

func TestWarningAtEightyFivePercent(t *testing.T) {
	m := NewMonitor(monitorConfig(1000))
	limits := baseLimits()

	// 当日亏损达到预算的 85%，仅触发一条 WARNING
	snap := &Snapshot{Timestamp: time.Now(), DailyPnL: -4250}

	alerts := m.Check(snap, limits)
	if len(alerts) != 1 {
		t.Fatalf("85%% 占用应产生且仅产生一条告警: %d", len(alerts))
	}
	if alerts[0].Type != AlertWarning {
		t.Errorf("级别应为 WARNING: %s", alerts[0].Type)
	}
	if alerts[0].Category != CategoryDailyLoss {
		t.Errorf("类别错误: %s", alerts[0].Category)
	}
	if alerts[0].Severity != 2 {
		t.Errorf("严重度错误: %d", alerts[0].Severity)
	}
}

func TestCriticalSupersedesWarning(t *testing.T) {
	m := NewMonitor(monitorConfig(1000))
	limits := baseLimits()

	// 95% 同时越过两档阈值，同一维度只发最高级别
	snap := &Snapshot{Timestamp: time.Now(), DailyPnL: -4750}

	alerts := m.Check(snap, limits)
	if len(alerts) != 1 {
		t.Fatalf("同一维度应只发一条: %d", len(alerts))
	}
	if alerts[0].Type != AlertCritical {
		t.Errorf("级别应为 CRITICAL: %s", alerts[0].Type)
	}
}

func TestBoundedHistoryEvictsOldest(t *testing.T) {
	m := NewMonitor(monitorConfig(5))
	limits := baseLimits()

	for i := 0; i < 10; i++ {
		snap := &Snapshot{Timestamp: time.Now().Add(time.Duration(i) * time.Second), DailyPnL: -4500}
		m.Check(snap, limits)
	}

	history := m.History()
	if len(history) != 5 {
		t.Fatalf("历史应限定在容量内: %d", len(history))
	}
	// 留下的是最新的 5 条
	for i := 1; i < len(history); i++ {
		if history[i].Timestamp.Before(history[i-1].Timestamp) {
			t.Error("历史应保持时间顺序淘汰最旧")
		}
	}
}

func TestCallbackPanicContained(t *testing.T) {
	m := NewMonitor(monitorConfig(1000))
	limits := baseLimits()

	received := 0
	m.Subscribe(func(Alert) { panic("订阅者故障") })
	m.Subscribe(func(Alert) { received++ })

	snap := &Snapshot{Timestamp: time.Now(), DailyPnL: -4500}
	m.Check(snap, limits)

	if received != 1 {
		t.Errorf("单个订阅者 panic 不应影响其他订阅者: received=%d", received)
	}
	if len(m.History()) != 1 {
		t.Error("panic 不应中断告警记录")
	}
}

func TestAlertQueries(t *testing.T) {
	m := NewMonitor(monitorConfig(1000))
	limits := baseLimits()

	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	m.Check(&Snapshot{Timestamp: base, DailyPnL: -4200}, limits)                            // WARNING daily_loss
	m.Check(&Snapshot{Timestamp: base.Add(time.Minute), CurrentDrawdown: 0.095}, limits)    // CRITICAL drawdown
	m.Check(&Snapshot{Timestamp: base.Add(2 * time.Minute), CurrentDrawdown: 0.085}, limits) // WARNING drawdown

	if got := len(m.AlertsByCategory(CategoryDrawdown)); got != 2 {
		t.Errorf("按类别查询错误: %d", got)
	}
	if got := len(m.AlertsByType(AlertCritical)); got != 1 {
		t.Errorf("按级别查询错误: %d", got)
	}
	if got := len(m.AlertsByTime(base, base.Add(time.Minute))); got != 2 {
		t.Errorf("按时间查询错误: %d", got)
	}

	summary := m.Summary()
	if summary["total"] != 3 || summary["warning"] != 2 || summary["critical"] != 1 {
		t.Errorf("摘要统计错误: %v", summary)
	}
}
