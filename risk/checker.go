package risk

import (
	"fmt"
	"math"
)

// 违规类别
const (
	CategoryPositionSize   = "position_size"
	CategoryPortfolioValue = "portfolio_value"
	CategoryDailyLoss      = "daily_loss"
	CategoryDrawdown       = "drawdown"
	CategoryDelta          = "delta"
	CategoryGamma          = "gamma"
	CategoryTheta          = "theta"
	CategoryVega           = "vega"
	CategoryMargin         = "margin"
	CategoryPositionCount  = "position_count"
	CategorySector         = "sector_exposure"
	CategoryUnderlying     = "underlying_exposure"
)

// Violation 一条违规结果，是数据而非异常，由处置器消费
type Violation struct {
	Category string  `json:"category"`
	Message  string  `json:"message"`
	Value    float64 `json:"value"`
	Limit    float64 `json:"limit"`
}

// IsGreek 希腊值类别的违规交由对冲处置
func (v Violation) IsGreek() bool {
	switch v.Category {
	case CategoryDelta, CategoryGamma, CategoryTheta, CategoryVega:
		return true
	}
	return false
}

// CheckLimits 独立评估每个风险维度，返回全部违规而非首个
// 处置器需要完整违规清单才能选择一致的处置方案
func CheckLimits(snap *Snapshot, limits Limits) (bool, []Violation) {
	var violations []Violation

	add := func(category string, value, limit float64, format string, args ...interface{}) {
		violations = append(violations, Violation{
			Category: category,
			Message:  fmt.Sprintf(format, args...),
			Value:    value,
			Limit:    limit,
		})
	}

	if limits.MaxPositionSize > 0 && snap.MaxPositionValue > limits.MaxPositionSize {
		add(CategoryPositionSize, snap.MaxPositionValue, limits.MaxPositionSize,
			"单笔持仓市值 %.2f 超限 %.2f", snap.MaxPositionValue, limits.MaxPositionSize)
	}
	if limits.MaxPortfolioValue > 0 && snap.PortfolioValue > limits.MaxPortfolioValue {
		add(CategoryPortfolioValue, snap.PortfolioValue, limits.MaxPortfolioValue,
			"组合市值 %.2f 超限 %.2f", snap.PortfolioValue, limits.MaxPortfolioValue)
	}
	if limits.MaxDailyLoss > 0 && snap.DailyPnL < 0 && -snap.DailyPnL > limits.MaxDailyLoss {
		add(CategoryDailyLoss, -snap.DailyPnL, limits.MaxDailyLoss,
			"当日亏损 %.2f 超限 %.2f", -snap.DailyPnL, limits.MaxDailyLoss)
	}
	if limits.MaxDrawdown > 0 && snap.CurrentDrawdown > limits.MaxDrawdown {
		add(CategoryDrawdown, snap.CurrentDrawdown, limits.MaxDrawdown,
			"回撤 %.2f%% 超限 %.2f%%", snap.CurrentDrawdown*100, limits.MaxDrawdown*100)
	}
	if limits.MaxDeltaExposure > 0 && math.Abs(snap.TotalDelta) > limits.MaxDeltaExposure {
		add(CategoryDelta, math.Abs(snap.TotalDelta), limits.MaxDeltaExposure,
			"Delta 敞口 %.2f 超限 %.2f", snap.TotalDelta, limits.MaxDeltaExposure)
	}
	if limits.MaxGammaExposure > 0 && math.Abs(snap.TotalGamma) > limits.MaxGammaExposure {
		add(CategoryGamma, math.Abs(snap.TotalGamma), limits.MaxGammaExposure,
			"Gamma 敞口 %.4f 超限 %.4f", snap.TotalGamma, limits.MaxGammaExposure)
	}
	if limits.MaxThetaExposure > 0 && math.Abs(snap.TotalTheta) > limits.MaxThetaExposure {
		add(CategoryTheta, math.Abs(snap.TotalTheta), limits.MaxThetaExposure,
			"Theta 敞口 %.2f 超限 %.2f", snap.TotalTheta, limits.MaxThetaExposure)
	}
	if limits.MaxVegaExposure > 0 && math.Abs(snap.TotalVega) > limits.MaxVegaExposure {
		add(CategoryVega, math.Abs(snap.TotalVega), limits.MaxVegaExposure,
			"Vega 敞口 %.2f 超限 %.2f", snap.TotalVega, limits.MaxVegaExposure)
	}
	if limits.MaxMarginUsage > 0 && snap.MarginUsage > limits.MaxMarginUsage {
		add(CategoryMargin, snap.MarginUsage, limits.MaxMarginUsage,
			"保证金使用率 %.2f%% 超限 %.2f%%", snap.MarginUsage*100, limits.MaxMarginUsage*100)
	}
	if limits.MaxConcurrentPositions > 0 && snap.PositionCount > limits.MaxConcurrentPositions {
		add(CategoryPositionCount, float64(snap.PositionCount), float64(limits.MaxConcurrentPositions),
			"持仓数 %d 超限 %d", snap.PositionCount, limits.MaxConcurrentPositions)
	}
	if limits.MaxSectorExposure > 0 {
		for sector, ratio := range snap.SectorExposure {
			if ratio > limits.MaxSectorExposure {
				add(CategorySector, ratio, limits.MaxSectorExposure,
					"行业 %s 敞口占比 %.2f%% 超限 %.2f%%", sector, ratio*100, limits.MaxSectorExposure*100)
			}
		}
	}
	if limits.MaxUnderlyingExposure > 0 {
		for underlying, ratio := range snap.UnderlyingExposure {
			if ratio > limits.MaxUnderlyingExposure {
				add(CategoryUnderlying, ratio, limits.MaxUnderlyingExposure,
					"标的 %s 敞口占比 %.2f%% 超限 %.2f%%", underlying, ratio*100, limits.MaxUnderlyingExposure*100)
			}
		}
	}

	return len(violations) == 0, violations
}
