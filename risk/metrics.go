package risk

import (
	"math"
	"time"

	"fnobot/greeks"
	"fnobot/logger"
	"fnobot/position"
)

// MarketData 一次行情快照
type MarketData struct {
	Timestamp time.Time
	Prices    map[string]float64 // 合约最新价
	Spots     map[string]float64 // 标的现货价
	Vols      map[string]float64 // 合约隐含波动率
	Regime    Regime             // 市场状态判定
}

// Vol 合约波动率，缺失时退回默认值
func (md *MarketData) Vol(symbol string) float64 {
	if v, ok := md.Vols[symbol]; ok && v > 0 {
		return v
	}
	return 0.20
}

// Snapshot 某一时刻的风险状态，每个周期重新计算，从不原地修改
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	PortfolioValue   float64 `json:"portfolio_value"`
	Cash             float64 `json:"cash"`
	MarginUsed       float64 `json:"margin_used"`
	MarginAvailable  float64 `json:"margin_available"`
	MarginUsage      float64 `json:"margin_usage"` // 0-1
	MaxPositionValue float64 `json:"max_position_value"`

	TotalDelta float64 `json:"total_delta"`
	TotalGamma float64 `json:"total_gamma"`
	TotalTheta float64 `json:"total_theta"`
	TotalVega  float64 `json:"total_vega"`

	DailyPnL      float64 `json:"daily_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	RealizedPnL   float64 `json:"realized_pnl"`

	CurrentDrawdown float64 `json:"current_drawdown"`
	MaxDrawdown     float64 `json:"max_drawdown"`
	PeakValue       float64 `json:"peak_value"`

	PositionCount      int                `json:"position_count"`
	SectorExposure     map[string]float64 `json:"sector_exposure"`
	UnderlyingExposure map[string]float64 `json:"underlying_exposure"`

	MinDaysToExpiry float64 `json:"min_days_to_expiry"`
}

// EquityPoint 权益曲线采样点
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

const equityCurveCap = 10000

// Aggregator 风险指标聚合器
// peak 是进程级单调状态，只增不减；跨重启通过快照延续
type Aggregator struct {
	greeks       greeks.Provider
	riskFreeRate float64

	peak           float64
	maxDrawdown    float64
	dayStartEquity float64
	equityCurve    []EquityPoint
}

// NewAggregator 创建聚合器
func NewAggregator(provider greeks.Provider, riskFreeRate, initialCapital float64) *Aggregator {
	return &Aggregator{
		greeks:         provider,
		riskFreeRate:   riskFreeRate,
		peak:           initialCapital,
		dayStartEquity: initialCapital,
	}
}

// Compute 计算一期风险快照
func (a *Aggregator) Compute(book *position.Book, cash, marginUsed, marginAvailable float64, md *MarketData) *Snapshot {
	now := md.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	snap := &Snapshot{
		Timestamp:          now,
		Cash:               cash,
		MarginUsed:         marginUsed,
		MarginAvailable:    marginAvailable,
		SectorExposure:     make(map[string]float64),
		UnderlyingExposure: make(map[string]float64),
		MinDaysToExpiry:    math.Inf(1),
	}

	var positionsValue float64
	for symbol, pos := range book.All() {
		price := pos.LastPrice
		if p, ok := md.Prices[symbol]; ok && p > 0 {
			price = p
		}
		value := math.Abs(float64(pos.Quantity)) * price
		positionsValue += value
		if value > snap.MaxPositionValue {
			snap.MaxPositionValue = value
		}

		snap.UnrealizedPnL += pos.UnrealizedPnL

		if pos.Sector != "" {
			snap.SectorExposure[pos.Sector] += value
		}
		if pos.Underlying != "" {
			snap.UnderlyingExposure[pos.Underlying] += value
		}

		a.addGreeks(snap, pos, md, now)
	}
	snap.RealizedPnL = book.TotalRealizedPnL()
	snap.PositionCount = book.Count()

	snap.PortfolioValue = cash + positionsValue
	if snap.MarginUsed+snap.MarginAvailable > 0 {
		snap.MarginUsage = snap.MarginUsed / (snap.MarginUsed + snap.MarginAvailable)
	}

	// 敞口折算为组合占比
	if snap.PortfolioValue > 0 {
		for k, v := range snap.SectorExposure {
			snap.SectorExposure[k] = v / snap.PortfolioValue
		}
		for k, v := range snap.UnderlyingExposure {
			snap.UnderlyingExposure[k] = v / snap.PortfolioValue
		}
	}

	// 回撤：峰值单调不减
	if snap.PortfolioValue > a.peak {
		a.peak = snap.PortfolioValue
	}
	snap.PeakValue = a.peak
	if a.peak > 0 {
		snap.CurrentDrawdown = (a.peak - snap.PortfolioValue) / a.peak
	}
	if snap.CurrentDrawdown > a.maxDrawdown {
		a.maxDrawdown = snap.CurrentDrawdown
	}
	snap.MaxDrawdown = a.maxDrawdown

	snap.DailyPnL = snap.PortfolioValue - a.dayStartEquity

	if math.IsInf(snap.MinDaysToExpiry, 1) {
		snap.MinDaysToExpiry = 0
	}

	a.equityCurve = append(a.equityCurve, EquityPoint{Timestamp: now, Equity: snap.PortfolioValue})
	if len(a.equityCurve) > equityCurveCap {
		a.equityCurve = a.equityCurve[len(a.equityCurve)-equityCurveCap:]
	}

	return snap
}

// addGreeks 期权持仓的希腊值按带符号数量累加，非期权只贡献 Delta
func (a *Aggregator) addGreeks(snap *Snapshot, pos *position.Position, md *MarketData, now time.Time) {
	qty := float64(pos.Quantity)

	if pos.OptionType == "" {
		snap.TotalDelta += qty
		return
	}

	expiry, err := time.Parse("2006-01-02", pos.Expiry)
	if err != nil {
		logger.Warn("⚠️ 持仓 %s 到期日无法解析: %q", pos.Symbol, pos.Expiry)
		snap.TotalDelta += qty
		return
	}
	days := expiry.Sub(now).Hours() / 24
	if days < 0 {
		days = 0
	}
	if days < snap.MinDaysToExpiry {
		snap.MinDaysToExpiry = days
	}

	spot := md.Spots[pos.Underlying]
	if spot <= 0 {
		spot = pos.LastPrice
	}

	g := a.greeks.Calculate(spot, pos.Strike, days/365.0, a.riskFreeRate, md.Vol(pos.Symbol), pos.OptionType)
	snap.TotalDelta += g.Delta * qty
	snap.TotalGamma += g.Gamma * qty
	snap.TotalTheta += g.Theta * qty
	snap.TotalVega += g.Vega * qty
}

// RollDay 交易日切换时重置当日盈亏基准
func (a *Aggregator) RollDay(equity float64) {
	a.dayStartEquity = equity
	logger.Info("🔄 当日盈亏基准重置: %.2f", equity)
}

// EquityCurve 权益曲线副本
func (a *Aggregator) EquityCurve() []EquityPoint {
	out := make([]EquityPoint, len(a.equityCurve))
	copy(out, a.equityCurve)
	return out
}

// AggregatorState 聚合器持久化状态
type AggregatorState struct {
	Peak           float64       `json:"peak_equity"`
	MaxDrawdown    float64       `json:"max_drawdown"`
	DayStartEquity float64       `json:"day_start_equity"`
	EquityCurve    []EquityPoint `json:"equity_curve"`
}

// ExportState 导出状态用于快照
func (a *Aggregator) ExportState() AggregatorState {
	return AggregatorState{
		Peak:           a.peak,
		MaxDrawdown:    a.maxDrawdown,
		DayStartEquity: a.dayStartEquity,
		EquityCurve:    a.EquityCurve(),
	}
}

// RestoreState 从快照恢复，峰值只向上合并以保持单调
func (a *Aggregator) RestoreState(s AggregatorState) {
	if s.Peak > a.peak {
		a.peak = s.Peak
	}
	if s.MaxDrawdown > a.maxDrawdown {
		a.maxDrawdown = s.MaxDrawdown
	}
	if s.DayStartEquity > 0 {
		a.dayStartEquity = s.DayStartEquity
	}
	if len(s.EquityCurve) > 0 {
		a.equityCurve = s.EquityCurve
	}
}
