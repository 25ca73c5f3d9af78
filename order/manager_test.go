package order

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"fnobot/broker"
	"fnobot/config"
	"fnobot/position"
)

// mockBroker 可控的经纪商模拟实现
type mockBroker struct {
	submitErr error
	cancelErr error
	refSeq    int
	submitted [][]broker.Leg
	cancelled []string
}

func (m *mockBroker) Name() string { return "mock" }

func (m *mockBroker) Submit(ctx context.Context, legs []broker.Leg) (*broker.SubmitResult, error) {
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	m.refSeq++
	m.submitted = append(m.submitted, legs)
	return &broker.SubmitResult{OrderRef: fmt.Sprintf("MOCK_%03d", m.refSeq), Status: "OK"}, nil
}

func (m *mockBroker) Cancel(ctx context.Context, orderRef string) error {
	if m.cancelErr != nil {
		return m.cancelErr
	}
	m.cancelled = append(m.cancelled, orderRef)
	return nil
}

func (m *mockBroker) Quotes(ctx context.Context, symbols []string) (map[string]float64, error) {
	return map[string]float64{}, nil
}

func (m *mockBroker) Positions(ctx context.Context) ([]broker.Position, error) {
	return nil, nil
}

func (m *mockBroker) FundLimits(ctx context.Context) (*broker.FundLimits, error) {
	return &broker.FundLimits{}, nil
}

func (m *mockBroker) PollFills(ctx context.Context) ([]broker.FillEvent, error) {
	return nil, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Orders.MaxOpenOrders = 100
	cfg.Orders.MaxDailyOrders = 1000
	cfg.Orders.SubmitRate = 1000
	cfg.Orders.SubmitBurst = 1000
	return cfg
}

func newTestManager(cfg *config.Config) (*Manager, *mockBroker) {
	bk := &mockBroker{}
	return NewManager(cfg, bk, position.NewBook(), time.UTC), bk
}

func buyLeg(symbol string, qty int64) Leg {
	return Leg{Symbol: symbol, Side: broker.SideBuy, Quantity: qty}
}

func TestFilledRemainingInvariant(t *testing.T) {
	m, _ := newTestManager(testConfig())
	ctx := context.Background()

	id, err := m.CreateOrder(KindSingle, []Leg{buyLeg("NIFTY", 100)}, 0)
	if err != nil {
		t.Fatalf("创建订单失败: %v", err)
	}
	if err := m.SubmitOrder(ctx, id); err != nil {
		t.Fatalf("提交订单失败: %v", err)
	}

	fills := []struct {
		qty   int64
		price float64
	}{{30, 100}, {50, 102}, {20, 101}}

	for _, f := range fills {
		if _, err := m.AddFill(ctx, id, 1, f.qty, f.price, 0); err != nil {
			t.Fatalf("成交落账失败: %v", err)
		}
		o := m.Get(id)
		if o.FilledQty+o.RemainingQty != o.TotalQty() {
			t.Errorf("数量不变式被破坏: filled=%d remaining=%d total=%d",
				o.FilledQty, o.RemainingQty, o.TotalQty())
		}
	}

	o := m.Get(id)
	if o.Status != StatusFilled {
		t.Errorf("完全成交后状态应为 FILLED, 实际 %s", o.Status)
	}
	// 加权均价 = (30*100 + 50*102 + 20*101) / 100 = 101.2
	if math.Abs(o.AvgPrice-101.2) > 1e-9 {
		t.Errorf("加权均价错误: 期望 101.2, 实际 %.4f", o.AvgPrice)
	}
}

func TestAvgPriceOrderIndependent(t *testing.T) {
	ctx := context.Background()

	run := func(fills [][2]float64) float64 {
		m, _ := newTestManager(testConfig())
		id, _ := m.CreateOrder(KindSingle, []Leg{buyLeg("NIFTY", 100)}, 0)
		m.SubmitOrder(ctx, id)
		for _, f := range fills {
			m.AddFill(ctx, id, 1, int64(f[0]), f[1], 0)
		}
		return m.Get(id).AvgPrice
	}

	a := run([][2]float64{{30, 100}, {50, 102}, {20, 101}})
	b := run([][2]float64{{20, 101}, {30, 100}, {50, 102}})
	if math.Abs(a-b) > 1e-9 {
		t.Errorf("均价应与成交到达顺序无关: %.6f != %.6f", a, b)
	}
}

func TestCapacityRejectedBeforeIDAllocation(t *testing.T) {
	cfg := testConfig()
	cfg.Orders.MaxOpenOrders = 100
	m, _ := newTestManager(cfg)

	for i := 0; i < 100; i++ {
		if _, err := m.CreateOrder(KindSingle, []Leg{buyLeg("NIFTY", 10)}, 0); err != nil {
			t.Fatalf("第 %d 笔订单创建失败: %v", i+1, err)
		}
	}

	_, err := m.CreateOrder(KindSingle, []Leg{buyLeg("NIFTY", 10)}, 0)
	if !IsCapacity(err) {
		t.Fatalf("第 101 笔订单应返回容量错误, 实际 %v", err)
	}
	if m.OpenCount() != 100 {
		t.Errorf("被拒订单不应改变活动订单数: %d", m.OpenCount())
	}

	// 被拒时未分配 ID：撤销一笔后新订单 ID 连续
	m.CancelOrder(context.Background(), 1)
	id, err := m.CreateOrder(KindSingle, []Leg{buyLeg("NIFTY", 10)}, 0)
	if err != nil {
		t.Fatalf("释放容量后创建失败: %v", err)
	}
	if id != 101 {
		t.Errorf("ID 应单调且不因拒绝跳号: 期望 101, 实际 %d", id)
	}
}

func TestDailyCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.Orders.MaxOpenOrders = 10000
	cfg.Orders.MaxDailyOrders = 5
	m, _ := newTestManager(cfg)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		id, err := m.CreateOrder(KindSingle, []Leg{buyLeg("NIFTY", 10)}, 0)
		if err != nil {
			t.Fatalf("创建失败: %v", err)
		}
		// 完结订单不占用活动容量，但当日计数不回退
		m.CancelOrder(ctx, id)
	}

	_, err := m.CreateOrder(KindSingle, []Leg{buyLeg("NIFTY", 10)}, 0)
	if !IsCapacity(err) {
		t.Errorf("超出当日订单上限应返回容量错误, 实际 %v", err)
	}
}

func TestTerminalStateFrozen(t *testing.T) {
	m, _ := newTestManager(testConfig())
	ctx := context.Background()

	id, _ := m.CreateOrder(KindSingle, []Leg{buyLeg("NIFTY", 50)}, 0)
	m.SubmitOrder(ctx, id)
	m.AddFill(ctx, id, 1, 50, 100, 0)

	if m.Get(id).Status != StatusFilled {
		t.Fatalf("前置条件失败: 订单应为 FILLED")
	}

	ok, err := m.CancelOrder(ctx, id)
	if ok || err != nil {
		t.Errorf("撤销终态订单应为无操作: ok=%v err=%v", ok, err)
	}
	if _, err := m.AddFill(ctx, id, 1, 10, 100, 0); !errors.Is(err, ErrTerminalState) {
		t.Errorf("终态订单应拒绝成交, 实际 %v", err)
	}
	if m.Get(id).Status != StatusFilled {
		t.Errorf("终态订单状态不应再变化: %s", m.Get(id).Status)
	}
}

func TestBracketStopFillCancelsTarget(t *testing.T) {
	m, bk := newTestManager(testConfig())
	ctx := context.Background()

	entry := buyLeg("NIFTY24SEP25000CE", 50)
	stop := Leg{Symbol: "NIFTY24SEP25000CE", Side: broker.SideSell, Quantity: 50, StopPrice: 90}
	target := Leg{Symbol: "NIFTY24SEP25000CE", Side: broker.SideSell, Quantity: 50, LimitPrice: 120}

	parentID, err := m.CreateBracketOrder(entry, stop, target)
	if err != nil {
		t.Fatalf("创建括号单失败: %v", err)
	}
	parent := m.Get(parentID)
	if len(parent.ChildIDs) != 2 {
		t.Fatalf("父单应有两个子单: %v", parent.ChildIDs)
	}
	stopID, targetID := parent.ChildIDs[0], parent.ChildIDs[1]

	// 父单成交前子单保持待命
	if err := m.SubmitOrder(ctx, parentID); err != nil {
		t.Fatalf("提交父单失败: %v", err)
	}
	if m.Get(stopID).Status != StatusPending || m.Get(targetID).Status != StatusPending {
		t.Fatal("父单成交前子单不应被激活")
	}

	// 父单全部成交触发子单激活
	m.AddFill(ctx, parentID, 1, 50, 100, 0)
	if m.Get(stopID).Status != StatusSubmitted {
		t.Errorf("止损子单应已提交: %s", m.Get(stopID).Status)
	}
	if m.Get(targetID).Status != StatusSubmitted {
		t.Errorf("止盈子单应已提交: %s", m.Get(targetID).Status)
	}

	// 止损成交后止盈必须被撤销
	m.AddFill(ctx, stopID, 1, 50, 90, 0)
	if m.Get(stopID).Status != StatusFilled {
		t.Errorf("止损子单应为 FILLED: %s", m.Get(stopID).Status)
	}
	if m.Get(targetID).Status != StatusCancelled {
		t.Errorf("止盈子单应为 CANCELLED: %s", m.Get(targetID).Status)
	}
	if len(bk.cancelled) == 0 {
		t.Error("撤销应到达经纪商")
	}
	// 已撤销的止盈子单永远到不了 FILLED
	if _, err := m.AddFill(ctx, targetID, 1, 50, 120, 0); err == nil {
		t.Error("已撤销子单应拒绝成交")
	}
}

func TestOCOCounterpartLegCancelled(t *testing.T) {
	m, bk := newTestManager(testConfig())
	ctx := context.Background()

	legA := Leg{Symbol: "NIFTY25000CE", Side: broker.SideSell, Quantity: 50, LimitPrice: 120}
	legB := Leg{Symbol: "NIFTY25000CE", Side: broker.SideSell, Quantity: 50, StopPrice: 80}

	id, err := m.CreateOCOOrder(legA, legB)
	if err != nil {
		t.Fatalf("创建 OCO 失败: %v", err)
	}
	m.SubmitOrder(ctx, id)

	// 腿 1 成交后腿 2 被撤销且拒绝后续成交
	m.AddFill(ctx, id, 1, 50, 120, 0)

	o := m.Get(id)
	if !o.CancelledLegs[2] {
		t.Error("对手腿应被标记撤销")
	}
	if o.Status != StatusFilled {
		t.Errorf("有效腿全部成交后订单应完结: %s", o.Status)
	}
	if len(bk.cancelled) == 0 {
		t.Error("对手腿撤销应到达经纪商")
	}
	if o.FilledQty+o.RemainingQty != o.TotalQty() {
		t.Errorf("数量不变式被破坏: filled=%d remaining=%d", o.FilledQty, o.RemainingQty)
	}
}

func TestSubmitFailureRejectsOrder(t *testing.T) {
	m, bk := newTestManager(testConfig())
	bk.submitErr = &broker.TransportError{Op: "submit", Err: errors.New("connection refused")}
	ctx := context.Background()

	id, _ := m.CreateOrder(KindSingle, []Leg{buyLeg("NIFTY", 10)}, 0)
	if err := m.SubmitOrder(ctx, id); err == nil {
		t.Fatal("经纪商失败时提交应返回错误")
	}
	if m.Get(id).Status != StatusRejected {
		t.Errorf("提交失败后状态应为 REJECTED: %s", m.Get(id).Status)
	}
	// 账本不自动重试同一 ID
	if err := m.SubmitOrder(ctx, id); !errors.Is(err, ErrNotSubmittable) {
		t.Errorf("REJECTED 订单不可重复提交, 实际 %v", err)
	}
}

func TestCancelFailureKeepsState(t *testing.T) {
	m, bk := newTestManager(testConfig())
	ctx := context.Background()

	id, _ := m.CreateOrder(KindSingle, []Leg{buyLeg("NIFTY", 10)}, 0)
	m.SubmitOrder(ctx, id)

	bk.cancelErr = &broker.TransportError{Op: "cancel", Err: errors.New("timeout")}
	ok, err := m.CancelOrder(ctx, id)
	if ok || err == nil {
		t.Errorf("撤单传输失败应报错: ok=%v err=%v", ok, err)
	}
	if m.Get(id).Status != StatusSubmitted {
		t.Errorf("撤单失败后状态应保持不变: %s", m.Get(id).Status)
	}
}

func TestRejectedFillKeepsSequenceGapFree(t *testing.T) {
	m, _ := newTestManager(testConfig())
	ctx := context.Background()

	id, _ := m.CreateOrder(KindSingle, []Leg{buyLeg("NIFTY", 100)}, 0)
	m.SubmitOrder(ctx, id)

	first, err := m.AddFill(ctx, id, 1, 100, 100, 0)
	if err != nil {
		t.Fatalf("成交落账失败: %v", err)
	}
	if first != "FILL_000001" {
		t.Fatalf("首笔成交编号应为 FILL_000001: %s", first)
	}

	// 订单已完结，这笔成交被拒绝，不应消耗编号
	if _, err := m.AddFill(ctx, id, 1, 10, 100, 0); err == nil {
		t.Fatal("完结订单上的成交应被拒绝")
	}

	id2, _ := m.CreateOrder(KindSingle, []Leg{buyLeg("BANKNIFTY", 50)}, 0)
	m.SubmitOrder(ctx, id2)
	second, err := m.AddFill(ctx, id2, 1, 50, 200, 0)
	if err != nil {
		t.Fatalf("成交落账失败: %v", err)
	}
	if second != "FILL_000002" {
		t.Errorf("被拒绝的成交不应留下编号空洞: %s", second)
	}
}

func TestDuplicateFillIdempotent(t *testing.T) {
	m, _ := newTestManager(testConfig())
	ctx := context.Background()

	id, _ := m.CreateOrder(KindSingle, []Leg{buyLeg("NIFTY", 100)}, 0)
	m.SubmitOrder(ctx, id)

	o := m.Get(id)
	ev := broker.FillEvent{
		FillRef:  "TRADE_001",
		OrderRef: o.BrokerRef,
		Symbol:   "NIFTY",
		Side:     broker.SideBuy,
		Quantity: 40,
		Price:    100,
	}
	if err := m.ApplyBrokerFill(ctx, ev); err != nil {
		t.Fatalf("首次成交落账失败: %v", err)
	}
	// 同一成交引用重复回报为无操作
	if err := m.ApplyBrokerFill(ctx, ev); err != nil {
		t.Fatalf("重复回报应为无操作: %v", err)
	}

	after := m.Get(id)
	if after.FilledQty != 40 {
		t.Errorf("重复回报不应二次落账: filled=%d", after.FilledQty)
	}
	if len(m.Fills()) != 1 {
		t.Errorf("成交记录应只有一条: %d", len(m.Fills()))
	}
}

func TestSnapshotReplayIdempotent(t *testing.T) {
	cfg := testConfig()
	m, _ := newTestManager(cfg)
	ctx := context.Background()

	id, _ := m.CreateOrder(KindSingle, []Leg{buyLeg("NIFTY", 100)}, 0)
	m.SubmitOrder(ctx, id)
	ref := m.Get(id).BrokerRef
	m.ApplyBrokerFill(ctx, broker.FillEvent{
		FillRef: "TRADE_001", OrderRef: ref, Symbol: "NIFTY",
		Side: broker.SideBuy, Quantity: 60, Price: 100,
	})

	state := m.ExportState()

	restored, _ := newTestManager(cfg)
	restored.RestoreState(state)

	// 快照中已有的成交重放后不得二次应用
	if err := restored.ApplyBrokerFill(ctx, broker.FillEvent{
		FillRef: "TRADE_001", OrderRef: ref, Symbol: "NIFTY",
		Side: broker.SideBuy, Quantity: 60, Price: 100,
	}); err != nil {
		t.Fatalf("重放应为无操作: %v", err)
	}
	o := restored.Get(id)
	if o.FilledQty != 60 {
		t.Errorf("重放后成交数量错误: %d", o.FilledQty)
	}
	if restored.Get(id).Status != StatusPartiallyFilled {
		t.Errorf("恢复后状态错误: %s", o.Status)
	}
}
