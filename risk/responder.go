package risk

import (
	"context"
	"math"
	"sort"
	"time"

	"fnobot/broker"
	"fnobot/config"
	"fnobot/logger"
	"fnobot/order"
	"fnobot/position"
)

// Hedger 希腊值违规的外部对冲能力
type Hedger interface {
	Hedge(ctx context.Context, snap *Snapshot, violations []Violation) error
}

// NopHedger 默认空实现，只记录日志
type NopHedger struct{}

func (NopHedger) Hedge(ctx context.Context, snap *Snapshot, violations []Violation) error {
	for _, v := range violations {
		logger.Warn("⚠️ 希腊值违规待对冲: %s", v.Message)
	}
	return nil
}

// RemediationRecord 一次处置动作的留痕
type RemediationRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Category  string    `json:"category"`
	Action    string    `json:"action"`
	Symbol    string    `json:"symbol,omitempty"`
	Quantity  int64     `json:"quantity,omitempty"`
	OrderID   int64     `json:"order_id,omitempty"`
}

// Responder 违规处置器
// 全部处置动作经由订单账本的常规路径下单，
// 不绕过容量检查与状态机规则
type Responder struct {
	cfg    *config.Config
	ledger *order.Manager
	book   *position.Book
	hedger Hedger

	records []RemediationRecord
}

// NewResponder 创建处置器，hedger 为 nil 时使用空实现
func NewResponder(cfg *config.Config, ledger *order.Manager, book *position.Book, hedger Hedger) *Responder {
	if hedger == nil {
		hedger = NopHedger{}
	}
	return &Responder{cfg: cfg, ledger: ledger, book: book, hedger: hedger}
}

// Respond 按违规类别执行处置
// 平仓类处置按固定优先级（当日亏损 > 回撤 > 保证金）每周期至多执行一项，
// 避免叠加处置把账户清空；希腊值违规始终委托对冲接口
func (r *Responder) Respond(ctx context.Context, snap *Snapshot, violations []Violation) {
	if len(violations) == 0 {
		return
	}

	byCategory := make(map[string][]Violation)
	for _, v := range violations {
		byCategory[v.Category] = append(byCategory[v.Category], v)
	}

	switch {
	case len(byCategory[CategoryDailyLoss]) > 0:
		logger.Warn("🛑 当日亏损超限, 全部持仓减半")
		r.halvePositions(ctx)
	case len(byCategory[CategoryDrawdown]) > 0:
		topK := r.cfg.Risk.CloseTopK
		if topK <= 0 {
			topK = 3
		}
		logger.Warn("🛑 回撤超限, 平掉浮动盈亏绝对值最大的 %d 笔持仓", topK)
		r.closeTopByUnrealized(ctx, topK)
	case len(byCategory[CategoryMargin]) > 0:
		logger.Warn("🛑 保证金超限, 按占用从大到小平仓至限额以下")
		r.closeUntilMarginUnder(ctx, snap)
	}

	var greekViolations []Violation
	for _, v := range violations {
		if v.IsGreek() {
			greekViolations = append(greekViolations, v)
		}
	}
	if len(greekViolations) > 0 {
		if err := r.hedger.Hedge(ctx, snap, greekViolations); err != nil {
			logger.Error("❌ 对冲执行失败: %v", err)
		}
	}
}

// halvePositions 每笔持仓减半，数量向下取整
func (r *Responder) halvePositions(ctx context.Context) {
	for _, pos := range r.sortedPositions() {
		half := abs64(pos.Quantity) / 2
		if half <= 0 {
			continue
		}
		r.closePosition(ctx, CategoryDailyLoss, "halve", pos, half)
	}
}

// closeTopByUnrealized 按 |浮动盈亏| 降序平掉前 K 笔
func (r *Responder) closeTopByUnrealized(ctx context.Context, k int) {
	positions := r.sortedPositions()
	sort.SliceStable(positions, func(i, j int) bool {
		return math.Abs(positions[i].UnrealizedPnL) > math.Abs(positions[j].UnrealizedPnL)
	})
	for i, pos := range positions {
		if i >= k {
			break
		}
		r.closePosition(ctx, CategoryDrawdown, "close", pos, abs64(pos.Quantity))
	}
}

// closeUntilMarginUnder 按保证金占用从大到小整笔平仓，
// 直到预估使用率回落到限额以内
func (r *Responder) closeUntilMarginUnder(ctx context.Context, snap *Snapshot) {
	limit := r.cfg.RiskLimits.MaxMarginUsage
	total := snap.MarginUsed + snap.MarginAvailable
	if total <= 0 {
		return
	}

	positions := r.sortedPositions()
	sort.SliceStable(positions, func(i, j int) bool {
		return positions[i].MarginUsed > positions[j].MarginUsed
	})

	projected := snap.MarginUsed
	for _, pos := range positions {
		if projected/total <= limit {
			break
		}
		if r.closePosition(ctx, CategoryMargin, "close", pos, abs64(pos.Quantity)) {
			projected -= pos.MarginUsed
		}
	}
}

// closePosition 以市价反向单平仓，走常规下单路径
func (r *Responder) closePosition(ctx context.Context, category, action string, pos *position.Position, qty int64) bool {
	side := broker.SideSell
	if pos.Quantity < 0 {
		side = broker.SideBuy
	}

	leg := order.Leg{
		Symbol:     pos.Symbol,
		Side:       side,
		Quantity:   qty,
		Underlying: pos.Underlying,
		Sector:     pos.Sector,
		OptionType: pos.OptionType,
		Strike:     pos.Strike,
		Expiry:     pos.Expiry,
	}

	id, err := r.ledger.CreateOrder(order.KindSingle, []order.Leg{leg}, 0)
	if err != nil {
		logger.Error("❌ 处置单创建失败: %s %s %d %v", pos.Symbol, side, qty, err)
		return false
	}
	if err := r.ledger.SubmitOrder(ctx, id); err != nil {
		logger.Error("❌ 处置单提交失败: #%d %v", id, err)
		return false
	}

	r.records = append(r.records, RemediationRecord{
		Timestamp: time.Now(),
		Category:  category,
		Action:    action,
		Symbol:    pos.Symbol,
		Quantity:  qty,
		OrderID:   id,
	})
	logger.Info("📤 处置单已提交: #%d %s %s %d", id, side, pos.Symbol, qty)
	return true
}

// sortedPositions 按符号排序的持仓副本，保证处置顺序确定
func (r *Responder) sortedPositions() []*position.Position {
	all := r.book.All()
	out := make([]*position.Position, 0, len(all))
	for _, pos := range all {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Records 处置留痕副本
func (r *Responder) Records() []RemediationRecord {
	out := make([]RemediationRecord, len(r.records))
	copy(out, r.records)
	return out
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
