package risk

import (
	"math"
	"testing"
)

func baseLimits() Limits {
	return Limits{
		MaxPositionSize:        100000,
		MaxPortfolioValue:      1000000,
		MaxDailyLoss:           5000,
		MaxDrawdown:            0.10,
		MaxDeltaExposure:       100,
		MaxGammaExposure:       10,
		MaxThetaExposure:       1000,
		MaxVegaExposure:        500,
		MaxMarginUsage:         0.80,
		MaxConcurrentPositions: 10,
		MaxSectorExposure:      0.30,
		MaxUnderlyingExposure:  0.25,
	}
}

func TestAdjustHighVolatility(t *testing.T) {
	reg := NewRegistry(baseLimits())

	adjusted := reg.Adjust(0.35, RegimeNeutral, 30)

	if math.Abs(adjusted.MaxPositionSize-50000) > 1e-9 {
		t.Errorf("高波动仓位预算应减半: %.2f", adjusted.MaxPositionSize)
	}
	if math.Abs(adjusted.MaxDeltaExposure-70) > 1e-9 {
		t.Errorf("高波动 Delta 预算应乘 0.7: %.2f", adjusted.MaxDeltaExposure)
	}
	if math.Abs(adjusted.MaxGammaExposure-5) > 1e-9 {
		t.Errorf("高波动 Gamma 预算应减半: %.2f", adjusted.MaxGammaExposure)
	}
	// 基准不受动态调整影响
	if reg.Base().MaxPositionSize != 100000 {
		t.Error("动态调整不得修改基准预算")
	}
}

func TestAdjustLowVolatilityAndBull(t *testing.T) {
	reg := NewRegistry(baseLimits())

	adjusted := reg.Adjust(0.10, RegimeBull, 30)

	// 低波动 ×1.2 再叠加牛市 ×1.1
	if math.Abs(adjusted.MaxPositionSize-100000*1.2*1.1) > 1e-6 {
		t.Errorf("低波动+牛市仓位预算错误: %.2f", adjusted.MaxPositionSize)
	}
	if math.Abs(adjusted.MaxDeltaExposure-100*1.1*1.1) > 1e-6 {
		t.Errorf("低波动+牛市 Delta 预算错误: %.2f", adjusted.MaxDeltaExposure)
	}
}

func TestAdjustBearRegime(t *testing.T) {
	reg := NewRegistry(baseLimits())

	adjusted := reg.Adjust(0.20, RegimeBear, 30)

	if math.Abs(adjusted.MaxDailyLoss-2500) > 1e-9 {
		t.Errorf("熊市当日亏损预算应减半: %.2f", adjusted.MaxDailyLoss)
	}
	if math.Abs(adjusted.MaxDrawdown-0.07) > 1e-9 {
		t.Errorf("熊市回撤预算应乘 0.7: %.4f", adjusted.MaxDrawdown)
	}
}

func TestAdjustNearExpiry(t *testing.T) {
	reg := NewRegistry(baseLimits())

	adjusted := reg.Adjust(0.20, RegimeNeutral, 3)

	if math.Abs(adjusted.MaxThetaExposure-500) > 1e-9 {
		t.Errorf("临近到期 Theta 预算应减半: %.2f", adjusted.MaxThetaExposure)
	}
	if math.Abs(adjusted.MaxGammaExposure-7) > 1e-9 {
		t.Errorf("临近到期 Gamma 预算应乘 0.7: %.2f", adjusted.MaxGammaExposure)
	}
}

func TestResetToBase(t *testing.T) {
	reg := NewRegistry(baseLimits())

	reg.Adjust(0.35, RegimeBear, 3)
	reg.ResetToBase()

	if reg.Current() != reg.Base() {
		t.Error("重置后当前视图应等于基准")
	}
}
