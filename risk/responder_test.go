package risk

import (
	"context"
	"fmt"
	"testing"
	"time"

	"fnobot/broker"
	"fnobot/config"
	"fnobot/order"
	"fnobot/position"
)

type acceptAllBroker struct {
	refSeq int
}

func (b *acceptAllBroker) Name() string { return "accept" }

func (b *acceptAllBroker) Submit(ctx context.Context, legs []broker.Leg) (*broker.SubmitResult, error) {
	b.refSeq++
	return &broker.SubmitResult{OrderRef: fmt.Sprintf("R_%03d", b.refSeq), Status: "OK"}, nil
}

func (b *acceptAllBroker) Cancel(ctx context.Context, orderRef string) error { return nil }

func (b *acceptAllBroker) Quotes(ctx context.Context, symbols []string) (map[string]float64, error) {
	return nil, nil
}

func (b *acceptAllBroker) Positions(ctx context.Context) ([]broker.Position, error) { return nil, nil }

func (b *acceptAllBroker) FundLimits(ctx context.Context) (*broker.FundLimits, error) {
	return &broker.FundLimits{}, nil
}

func (b *acceptAllBroker) PollFills(ctx context.Context) ([]broker.FillEvent, error) {
	return nil, nil
}

type recordingHedger struct {
	calls int
	seen  []Violation
}

func (h *recordingHedger) Hedge(ctx context.Context, snap *Snapshot, violations []Violation) error {
	h.calls++
	h.seen = append(h.seen, violations...)
	return nil
}

func responderFixture(t *testing.T) (*Responder, *order.Manager, *position.Book, *recordingHedger) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Orders.MaxOpenOrders = 100
	cfg.Orders.MaxDailyOrders = 1000
	cfg.Orders.SubmitRate = 1000
	cfg.Orders.SubmitBurst = 1000
	cfg.Risk.CloseTopK = 2
	cfg.RiskLimits.MaxMarginUsage = 0.5

	book := position.NewBook()
	ledger := order.NewManager(cfg, &acceptAllBroker{}, book, time.UTC)
	hedger := &recordingHedger{}
	return NewResponder(cfg, ledger, book, hedger), ledger, book, hedger
}

func TestDailyLossHalvesPositions(t *testing.T) {
	r, ledger, book, _ := responderFixture(t)
	ctx := context.Background()

	book.ApplyFill("NIFTY25000CE", "BUY", 10, 100, nil)
	book.ApplyFill("BANKNIFTY52000PE", "SELL", 7, 200, nil)

	snap := &Snapshot{DailyPnL: -6000}
	_, violations := CheckLimits(snap, Limits{MaxDailyLoss: 5000})
	if len(violations) != 1 || violations[0].Category != CategoryDailyLoss {
		t.Fatalf("前置条件失败: %v", violations)
	}

	r.Respond(ctx, snap, violations)

	orders := ledger.AllOrders()
	if len(orders) != 2 {
		t.Fatalf("应为每笔持仓提交一张处置单: %d", len(orders))
	}
	// floor(qty/2): 10 → 5, 7 → 3；方向与持仓相反
	want := map[string]struct {
		qty  int64
		side string
	}{
		"NIFTY25000CE":     {5, broker.SideSell},
		"BANKNIFTY52000PE": {3, broker.SideBuy},
	}
	for _, o := range orders {
		leg := o.Legs[0]
		expect, ok := want[leg.Symbol]
		if !ok {
			t.Errorf("意外的处置标的: %s", leg.Symbol)
			continue
		}
		if leg.Quantity != expect.qty || leg.Side != expect.side {
			t.Errorf("处置单错误: %s %s %d, 期望 %s %d",
				leg.Symbol, leg.Side, leg.Quantity, expect.side, expect.qty)
		}
		if o.Status != order.StatusSubmitted {
			t.Errorf("处置单应已提交: %s", o.Status)
		}
	}
}

func TestDrawdownClosesTopKByUnrealized(t *testing.T) {
	r, ledger, book, _ := responderFixture(t)
	ctx := context.Background()

	book.ApplyFill("A", "BUY", 10, 100, nil)
	book.ApplyFill("B", "BUY", 10, 100, nil)
	book.ApplyFill("C", "BUY", 10, 100, nil)
	book.Mark(map[string]float64{"A": 110, "B": 50, "C": 101})
	// |浮动盈亏|: B=500 > A=100 > C=10, K=2 应平 B 与 A

	snap := &Snapshot{CurrentDrawdown: 0.2}
	r.Respond(ctx, snap, []Violation{{Category: CategoryDrawdown}})

	symbols := make(map[string]bool)
	for _, o := range ledger.AllOrders() {
		symbols[o.Legs[0].Symbol] = true
	}
	if len(symbols) != 2 || !symbols["A"] || !symbols["B"] {
		t.Errorf("应平掉 |浮动盈亏| 最大的两笔: %v", symbols)
	}
}

func TestMarginClosesLargestFirst(t *testing.T) {
	r, ledger, book, _ := responderFixture(t)
	ctx := context.Background()

	book.ApplyFill("BIG", "BUY", 100, 100, nil)  // 保证金 1500
	book.ApplyFill("SMALL", "BUY", 10, 100, nil) // 保证金 150

	// 使用率 0.9，平掉 BIG 后 (1800-1500)/2000=0.15 < 0.5 即停
	snap := &Snapshot{MarginUsed: 1800, MarginAvailable: 200}
	r.Respond(ctx, snap, []Violation{{Category: CategoryMargin}})

	orders := ledger.AllOrders()
	if len(orders) != 1 {
		t.Fatalf("降至限额内即应停止平仓: %d 张处置单", len(orders))
	}
	if orders[0].Legs[0].Symbol != "BIG" {
		t.Errorf("应先平保证金占用最大的持仓: %s", orders[0].Legs[0].Symbol)
	}
}

func TestGreeksDelegatedToHedger(t *testing.T) {
	r, ledger, _, hedger := responderFixture(t)
	ctx := context.Background()

	violations := []Violation{
		{Category: CategoryDelta, Message: "delta"},
		{Category: CategoryVega, Message: "vega"},
	}
	r.Respond(ctx, &Snapshot{}, violations)

	if hedger.calls != 1 {
		t.Errorf("希腊值违规应委托对冲接口: calls=%d", hedger.calls)
	}
	if len(hedger.seen) != 2 {
		t.Errorf("对冲接口应收到全部希腊值违规: %d", len(hedger.seen))
	}
	if len(ledger.AllOrders()) != 0 {
		t.Error("希腊值违规不应直接下平仓单")
	}
}

func TestRemediationRespectsCapacity(t *testing.T) {
	r, ledger, book, _ := responderFixture(t)
	ctx := context.Background()

	cfg := &config.Config{}
	cfg.Orders.MaxOpenOrders = 1
	cfg.Orders.MaxDailyOrders = 1000
	cfg.Orders.SubmitRate = 1000
	cfg.Orders.SubmitBurst = 1000
	limited := order.NewManager(cfg, &acceptAllBroker{}, book, time.UTC)
	r.ledger = limited
	_ = ledger

	book.ApplyFill("A", "BUY", 10, 100, nil)
	book.ApplyFill("B", "BUY", 10, 100, nil)

	// 容量只允许一张单，第二张被常规路径拒绝而非绕过
	r.Respond(ctx, &Snapshot{DailyPnL: -6000}, []Violation{{Category: CategoryDailyLoss}})

	if len(limited.AllOrders()) != 1 {
		t.Errorf("处置不得绕过容量限制: %d", len(limited.AllOrders()))
	}
}
