package position

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestApplyFillAveraging(t *testing.T) {
	book := NewBook()

	book.ApplyFill("NIFTY24SEP25000CE", "BUY", 50, 100, nil)
	book.ApplyFill("NIFTY24SEP25000CE", "BUY", 50, 110, nil)

	pos := book.Get("NIFTY24SEP25000CE")
	if pos == nil {
		t.Fatal("应存在持仓")
	}
	if pos.Quantity != 100 {
		t.Errorf("数量错误: 期望 100, 实际 %d", pos.Quantity)
	}
	if !almostEqual(pos.AvgPrice, 105) {
		t.Errorf("均价错误: 期望 105, 实际 %.4f", pos.AvgPrice)
	}
}

func TestReduceRealizesPnL(t *testing.T) {
	book := NewBook()

	book.ApplyFill("BANKNIFTY", "BUY", 100, 200, nil)
	book.ApplyFill("BANKNIFTY", "SELL", 40, 210, nil)

	pos := book.Get("BANKNIFTY")
	if pos.Quantity != 60 {
		t.Errorf("减仓后数量错误: %d", pos.Quantity)
	}
	if !almostEqual(pos.AvgPrice, 200) {
		t.Errorf("减仓不应改变均价: %.4f", pos.AvgPrice)
	}
	if !almostEqual(pos.RealizedPnL, 400) {
		t.Errorf("实现盈亏错误: 期望 400, 实际 %.2f", pos.RealizedPnL)
	}
}

func TestFlatPositionRemoved(t *testing.T) {
	book := NewBook()

	book.ApplyFill("NIFTY", "SELL", 75, 150, nil)
	book.ApplyFill("NIFTY", "BUY", 75, 140, nil)

	if book.Get("NIFTY") != nil {
		t.Error("数量归零后持仓应被移除")
	}
	if book.Count() != 0 {
		t.Errorf("持仓数应为 0, 实际 %d", book.Count())
	}
}

func TestDirectionFlip(t *testing.T) {
	book := NewBook()

	book.ApplyFill("FINNIFTY", "BUY", 40, 100, nil)
	book.ApplyFill("FINNIFTY", "SELL", 100, 110, nil)

	pos := book.Get("FINNIFTY")
	if pos.Quantity != -60 {
		t.Errorf("翻转后数量错误: 期望 -60, 实际 %d", pos.Quantity)
	}
	if !almostEqual(pos.AvgPrice, 110) {
		t.Errorf("翻转后均价应为成交价: %.4f", pos.AvgPrice)
	}
	if !almostEqual(pos.RealizedPnL, 400) {
		t.Errorf("翻转实现盈亏错误: 期望 400, 实际 %.2f", pos.RealizedPnL)
	}
}

func TestMarkUpdatesUnrealized(t *testing.T) {
	book := NewBook()

	book.ApplyFill("NIFTY", "BUY", 50, 100, nil)
	book.Mark(map[string]float64{"NIFTY": 108})

	pos := book.Get("NIFTY")
	if !almostEqual(pos.UnrealizedPnL, 400) {
		t.Errorf("浮动盈亏错误: 期望 400, 实际 %.2f", pos.UnrealizedPnL)
	}

	// 空头方向
	book.ApplyFill("BANKNIFTY", "SELL", 25, 300, nil)
	book.Mark(map[string]float64{"BANKNIFTY": 290})
	short := book.Get("BANKNIFTY")
	if !almostEqual(short.UnrealizedPnL, 250) {
		t.Errorf("空头浮动盈亏错误: 期望 250, 实际 %.2f", short.UnrealizedPnL)
	}
}

func TestExportLoadRoundTrip(t *testing.T) {
	book := NewBook()
	book.ApplyFill("NIFTY", "BUY", 50, 100, &Meta{Underlying: "NIFTY", Sector: "INDEX"})

	restored := NewBook()
	restored.Load(book.Export())

	pos := restored.Get("NIFTY")
	if pos == nil || pos.Quantity != 50 || pos.Underlying != "NIFTY" {
		t.Error("快照往返后持仓不一致")
	}
}
