package engine

import (
	"fmt"

	"fnobot/broker"
	"fnobot/position"
	"fnobot/risk"
)

// Gate 交易前闸门
// 在订单进入账本之前用当期风险快照做准入检查，
// 容量与状态机规则仍由账本自身守卫
type Gate struct {
	latches *Latches
	book    *position.Book
}

// NewGate 创建闸门
func NewGate(latches *Latches, book *position.Book) *Gate {
	return &Gate{latches: latches, book: book}
}

// Allow 判断一条交易意图能否进入下单路径
func (g *Gate) Allow(sig Signal, snap *risk.Snapshot, limits risk.Limits, price float64) (bool, string) {
	if g.latches.Blocked() {
		return false, "闩锁已触发, 阻断新报单"
	}
	if sig.Quantity <= 0 {
		return false, "数量非法"
	}

	// 当期已有违规时不再开新仓，等待处置收敛
	if safe, violations := risk.CheckLimits(snap, limits); !safe {
		return false, fmt.Sprintf("存在 %d 项风险违规, 暂停开仓", len(violations))
	}

	// 新仓市值预检
	if price > 0 && limits.MaxPositionSize > 0 {
		notional := float64(sig.Quantity) * price
		if notional > limits.MaxPositionSize {
			return false, fmt.Sprintf("预估市值 %.2f 超出单笔上限 %.2f", notional, limits.MaxPositionSize)
		}
	}

	// 持仓数预检：已达上限时只允许减仓方向
	if limits.MaxConcurrentPositions > 0 && snap.PositionCount >= limits.MaxConcurrentPositions {
		if !g.isReducing(sig) {
			return false, fmt.Sprintf("持仓数已达上限 %d", limits.MaxConcurrentPositions)
		}
	}

	// 保证金余量预检，按名义价值的 15% 估算新仓占用
	if price > 0 && snap.MarginAvailable > 0 {
		estimated := float64(sig.Quantity) * price * 0.15
		if estimated > snap.MarginAvailable {
			return false, fmt.Sprintf("可用保证金不足: 需 %.2f, 余 %.2f", estimated, snap.MarginAvailable)
		}
	}

	return true, ""
}

// isReducing 信号方向与现有持仓相反视为减仓
func (g *Gate) isReducing(sig Signal) bool {
	if g.book == nil {
		return false
	}
	pos := g.book.Get(sig.Symbol)
	if pos == nil {
		return false
	}
	if pos.Quantity > 0 && sig.Side == broker.SideSell {
		return true
	}
	return pos.Quantity < 0 && sig.Side == broker.SideBuy
}
