package engine

import (
	"time"

	"fnobot/position"
	"fnobot/risk"
)

// Signal 策略产出的一条交易意图
type Signal struct {
	Symbol     string
	Side       string // BUY / SELL
	Quantity   int64
	LimitPrice float64 // 0 为市价
	StopPrice  float64

	// 标的元信息，随订单腿进入持仓账本
	Underlying string
	Sector     string
	OptionType string // CALL / PUT，空串为非期权
	Strike     float64
	Expiry     string // 2006-01-02

	// 可选的括号单参数，两者都非零时按括号单下发
	StopLoss   float64
	TakeProfit float64
}

// Strategy 策略协作方
// 每个周期拿到行情与当前持仓，产出零或多条交易意图；
// 意图能否成单由风控闸门与订单账本决定
type Strategy interface {
	Name() string
	Signals(ts time.Time, md *risk.MarketData, positions map[string]*position.Position) []Signal
}

// NoopStrategy 空策略，只监控不交易
type NoopStrategy struct{}

func (NoopStrategy) Name() string { return "noop" }

func (NoopStrategy) Signals(ts time.Time, md *risk.MarketData, positions map[string]*position.Position) []Signal {
	return nil
}
