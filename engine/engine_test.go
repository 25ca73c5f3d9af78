package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"fnobot/broker"
	"fnobot/config"
	"fnobot/order"
	"fnobot/position"
	"fnobot/risk"
)

func engineConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Trading.InitialCapital = 100000
	cfg.Trading.TickIntervalSec = 1
	cfg.Trading.Universe = []string{"NIFTY"}
	cfg.Orders.MaxOpenOrders = 100
	cfg.Orders.MaxDailyOrders = 1000
	cfg.Orders.SubmitRate = 1000
	cfg.Orders.SubmitBurst = 1000
	cfg.RiskLimits = config.RiskLimitsConfig{
		MaxPositionSize:        1000000,
		MaxPortfolioValue:      10000000,
		MaxDailyLoss:           50000,
		MaxDrawdown:            0.5,
		MaxDeltaExposure:       100000,
		MaxGammaExposure:       10000,
		MaxThetaExposure:       100000,
		MaxVegaExposure:        100000,
		MaxMarginUsage:         0.95,
		MaxConcurrentPositions: 50,
		MaxSectorExposure:      1.0,
		MaxUnderlyingExposure:  1.0,
	}
	cfg.Risk.RiskFreeRate = 0.065
	cfg.Storage.SnapshotPath = filepath.Join(t.TempDir(), "snapshot.json")
	cfg.System.Timezone = "UTC"
	return cfg
}

// oneShotStrategy 第一个周期发一条买入信号
type oneShotStrategy struct {
	fired bool
}

func (s *oneShotStrategy) Name() string { return "oneshot" }

func (s *oneShotStrategy) Signals(ts time.Time, md *risk.MarketData, positions map[string]*position.Position) []Signal {
	if s.fired {
		return nil
	}
	s.fired = true
	return []Signal{{Symbol: "NIFTY", Side: broker.SideBuy, Quantity: 50, Underlying: "NIFTY", Sector: "INDEX"}}
}

func TestLatchesAreOneWay(t *testing.T) {
	l := NewLatches()
	if l.Blocked() {
		t.Fatal("初始状态不应阻断")
	}

	l.TripKillSwitch("测试")
	if !l.Blocked() || !l.KillSwitch() {
		t.Error("熔断后应阻断报单")
	}

	// 重复触发与普通开关都不能解除闩锁
	l.SetTradingEnabled(true)
	if !l.Blocked() {
		t.Error("交易开关不能解除熔断")
	}

	l.OperatorReset("ops")
	if l.Blocked() {
		t.Error("操作员复位后应恢复")
	}
}

func TestGateBlocksWhenLatched(t *testing.T) {
	latches := NewLatches()
	gate := NewGate(latches, position.NewBook())
	snap := &risk.Snapshot{}
	limits := risk.Limits{MaxPositionSize: 100000}
	sig := Signal{Symbol: "NIFTY", Side: broker.SideBuy, Quantity: 10}

	if ok, _ := gate.Allow(sig, snap, limits, 100); !ok {
		t.Fatal("正常状态应放行")
	}

	latches.TripEmergencyStop("测试")
	if ok, _ := gate.Allow(sig, snap, limits, 100); ok {
		t.Error("闩锁触发后闸门应拒绝")
	}
}

func TestGateRejectsOversizedAndViolated(t *testing.T) {
	gate := NewGate(NewLatches(), position.NewBook())
	limits := risk.Limits{MaxPositionSize: 1000, MaxDailyLoss: 5000}

	// 市值超限
	if ok, _ := gate.Allow(Signal{Symbol: "NIFTY", Side: broker.SideBuy, Quantity: 100}, &risk.Snapshot{}, limits, 100); ok {
		t.Error("市值超限应被拒绝")
	}

	// 当期存在违规时暂停开仓
	violated := &risk.Snapshot{DailyPnL: -6000}
	if ok, _ := gate.Allow(Signal{Symbol: "NIFTY", Side: broker.SideBuy, Quantity: 1}, violated, limits, 100); ok {
		t.Error("存在风险违规时应拒绝开仓")
	}
}

func TestGateAllowsReducingAtPositionCap(t *testing.T) {
	book := position.NewBook()
	book.ApplyFill("NIFTY", broker.SideBuy, 10, 100, nil)
	gate := NewGate(NewLatches(), book)
	limits := risk.Limits{MaxPositionSize: 100000, MaxConcurrentPositions: 1}
	snap := &risk.Snapshot{PositionCount: 1}

	// 已达持仓数上限时新开仓被拒
	if ok, _ := gate.Allow(Signal{Symbol: "BANKNIFTY", Side: broker.SideBuy, Quantity: 5}, snap, limits, 100); ok {
		t.Error("持仓数达上限时应拒绝新标的开仓")
	}

	// 同标的同方向加仓也算开仓方向
	if ok, _ := gate.Allow(Signal{Symbol: "NIFTY", Side: broker.SideBuy, Quantity: 5}, snap, limits, 100); ok {
		t.Error("持仓数达上限时加仓应被拒绝")
	}

	// 与现有持仓方向相反的信号是减仓，放行
	if ok, reason := gate.Allow(Signal{Symbol: "NIFTY", Side: broker.SideSell, Quantity: 5}, snap, limits, 100); !ok {
		t.Errorf("减仓方向应放行: %s", reason)
	}

	// 空头持仓的减仓方向是买入
	book.ApplyFill("NIFTY", broker.SideSell, 30, 100, nil)
	if ok, reason := gate.Allow(Signal{Symbol: "NIFTY", Side: broker.SideBuy, Quantity: 5}, snap, limits, 100); !ok {
		t.Errorf("空头减仓方向应放行: %s", reason)
	}
}

func TestTickEndToEnd(t *testing.T) {
	cfg := engineConfig(t)
	paper := broker.NewPaperBroker(cfg.Trading.InitialCapital, 0, 0)
	paper.SetQuote("NIFTY", 100)

	strat := &oneShotStrategy{}
	e := New(cfg, paper, strat, nil, nil, nil)
	ctx := context.Background()

	// 第一个周期：信号 → 订单 → 纸面即时成交入队
	if err := e.tick(ctx); err != nil {
		t.Fatalf("周期执行失败: %v", err)
	}
	if e.Ledger().OpenCount() != 1 {
		t.Fatalf("应有一笔已提交订单: %d", e.Ledger().OpenCount())
	}

	// 第二个周期拉取成交回报并落账
	if err := e.tick(ctx); err != nil {
		t.Fatalf("周期执行失败: %v", err)
	}
	pos := e.Book().Get("NIFTY")
	if pos == nil || pos.Quantity != 50 {
		t.Fatalf("成交应进入持仓账本: %+v", pos)
	}
	o := e.Ledger().AllOrders()[0]
	if o.Status != order.StatusFilled {
		t.Errorf("订单应完全成交: %s", o.Status)
	}

	snap := e.LastSnapshot()
	if snap == nil || snap.PositionCount != 1 {
		t.Error("风险快照应反映持仓")
	}
}

func TestTickPersistsAndRestores(t *testing.T) {
	cfg := engineConfig(t)
	paper := broker.NewPaperBroker(cfg.Trading.InitialCapital, 0, 0)
	paper.SetQuote("NIFTY", 100)

	e := New(cfg, paper, &oneShotStrategy{}, nil, nil, nil)
	ctx := context.Background()
	e.tick(ctx)
	e.tick(ctx)
	e.Latches().TripKillSwitch("测试持久化")
	e.persist()

	// 重启：闩锁与账本从快照恢复
	restarted := New(cfg, paper, NoopStrategy{}, nil, nil, nil)
	restarted.Restore()

	if !restarted.Latches().KillSwitch() {
		t.Error("熔断状态应跨重启保持")
	}
	pos := restarted.Book().Get("NIFTY")
	if pos == nil || pos.Quantity != 50 {
		t.Error("持仓应从快照恢复")
	}
	if len(restarted.Ledger().Fills()) == 0 {
		t.Error("成交记录应从快照恢复")
	}
}

func TestLatchSkipsSignals(t *testing.T) {
	cfg := engineConfig(t)
	paper := broker.NewPaperBroker(cfg.Trading.InitialCapital, 0, 0)
	paper.SetQuote("NIFTY", 100)

	strat := &oneShotStrategy{}
	e := New(cfg, paper, strat, nil, nil, nil)
	e.Latches().TripKillSwitch("测试")

	if err := e.tick(context.Background()); err != nil {
		t.Fatalf("周期执行失败: %v", err)
	}
	// 闩锁下信号不进入账本；监控与持久化照常
	if e.Ledger().OpenCount() != 0 {
		t.Errorf("熔断后不应产生订单: %d", e.Ledger().OpenCount())
	}
	if e.LastSnapshot() == nil {
		t.Error("熔断下风险监控应继续")
	}
}
