package safety

import (
	"context"
	"math"
	"time"

	"fnobot/broker"
	"fnobot/config"
	"fnobot/logger"
	"fnobot/position"
)

// Discrepancy 本地账本与经纪商持仓的一处差异
type Discrepancy struct {
	Symbol    string  `json:"symbol"`
	LocalQty  int64   `json:"local_qty"`
	BrokerQty int64   `json:"broker_qty"`
	Diff      float64 `json:"diff"`
}

// Reconciler 持仓对账器
// 账本是唯一写入方，对账只发现并报告漂移，从不自动修正，
// 修正持仓必须走人工或处置路径
type Reconciler struct {
	cfg      *config.Config
	broker   broker.Broker
	book     *position.Book
	interval time.Duration
	lastRun  time.Time
}

// NewReconciler 创建对账器
func NewReconciler(cfg *config.Config, bk broker.Broker, book *position.Book) *Reconciler {
	interval := time.Duration(cfg.Reconcile.IntervalSec) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reconciler{cfg: cfg, broker: bk, book: book, interval: interval}
}

// Due 是否到达下一次对账时间
func (r *Reconciler) Due(now time.Time) bool {
	return r.cfg.Reconcile.Enabled && now.Sub(r.lastRun) >= r.interval
}

// Reconcile 拉取经纪商持仓与本地账本逐符号比对
func (r *Reconciler) Reconcile(ctx context.Context) ([]Discrepancy, error) {
	r.lastRun = time.Now()

	remote, err := r.broker.Positions(ctx)
	if err != nil {
		return nil, err
	}

	remoteQty := make(map[string]int64, len(remote))
	for _, p := range remote {
		remoteQty[p.Symbol] = p.Quantity
	}

	tolerance := r.cfg.Reconcile.Tolerance
	var out []Discrepancy

	for symbol, pos := range r.book.All() {
		brokerQty := remoteQty[symbol]
		diff := math.Abs(float64(pos.Quantity - brokerQty))
		if diff > tolerance {
			out = append(out, Discrepancy{Symbol: symbol, LocalQty: pos.Quantity, BrokerQty: brokerQty, Diff: diff})
		}
		delete(remoteQty, symbol)
	}
	// 经纪商有而本地没有的持仓
	for symbol, qty := range remoteQty {
		if math.Abs(float64(qty)) > tolerance {
			out = append(out, Discrepancy{Symbol: symbol, LocalQty: 0, BrokerQty: qty, Diff: math.Abs(float64(qty))})
		}
	}

	if len(out) > 0 {
		for _, d := range out {
			logger.Warn("⚠️ 持仓对账差异: %s 本地 %d, 经纪商 %d", d.Symbol, d.LocalQty, d.BrokerQty)
		}
	} else {
		logger.Debug("🔍 持仓对账一致: %d 个符号", r.book.Count())
	}
	return out, nil
}
