package risk

import (
	"sync"

	"fnobot/config"
	"fnobot/logger"
)

// Regime 市场状态
type Regime string

const (
	RegimeNeutral Regime = "NEUTRAL"
	RegimeBull    Regime = "BULL"
	RegimeBear    Regime = "BEAR"
)

// 波动率分档阈值
const (
	highVolThreshold = 0.30
	lowVolThreshold  = 0.15
	nearExpiryDays   = 7.0
)

// Limits 风险预算，动态视图总是基于基准的副本做乘法调整
type Limits struct {
	MaxPositionSize        float64 `json:"max_position_size"`
	MaxPortfolioValue      float64 `json:"max_portfolio_value"`
	MaxDailyLoss           float64 `json:"max_daily_loss"`
	MaxDrawdown            float64 `json:"max_drawdown"`
	MaxDeltaExposure       float64 `json:"max_delta_exposure"`
	MaxGammaExposure       float64 `json:"max_gamma_exposure"`
	MaxThetaExposure       float64 `json:"max_theta_exposure"`
	MaxVegaExposure        float64 `json:"max_vega_exposure"`
	MaxMarginUsage         float64 `json:"max_margin_usage"`
	MaxConcurrentPositions int     `json:"max_concurrent_positions"`
	MaxSectorExposure      float64 `json:"max_sector_exposure"`
	MaxUnderlyingExposure  float64 `json:"max_underlying_exposure"`
}

// LimitsFromConfig 从配置构造基准预算
func LimitsFromConfig(cfg *config.RiskLimitsConfig) Limits {
	return Limits{
		MaxPositionSize:        cfg.MaxPositionSize,
		MaxPortfolioValue:      cfg.MaxPortfolioValue,
		MaxDailyLoss:           cfg.MaxDailyLoss,
		MaxDrawdown:            cfg.MaxDrawdown,
		MaxDeltaExposure:       cfg.MaxDeltaExposure,
		MaxGammaExposure:       cfg.MaxGammaExposure,
		MaxThetaExposure:       cfg.MaxThetaExposure,
		MaxVegaExposure:        cfg.MaxVegaExposure,
		MaxMarginUsage:         cfg.MaxMarginUsage,
		MaxConcurrentPositions: cfg.MaxConcurrentPositions,
		MaxSectorExposure:      cfg.MaxSectorExposure,
		MaxUnderlyingExposure:  cfg.MaxUnderlyingExposure,
	}
}

// Registry 风险预算注册表
// 基准值只能通过配置热更新替换，动态调整永远作用于副本
type Registry struct {
	mu      sync.RWMutex
	base    Limits
	current Limits
}

// NewRegistry 创建注册表，当前视图初始等于基准
func NewRegistry(base Limits) *Registry {
	return &Registry{base: base, current: base}
}

// Base 基准预算副本
func (r *Registry) Base() Limits {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.base
}

// Current 当前生效预算副本
func (r *Registry) Current() Limits {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// UpdateBase 配置热更新时替换基准，同时重置当前视图
func (r *Registry) UpdateBase(base Limits) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.base = base
	r.current = base
	logger.Info("🔄 风险预算基准已更新")
}

// ResetToBase 撤销全部动态调整
func (r *Registry) ResetToBase() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = r.base
}

// Adjust 按市场状态对基准做乘法缩放，结果成为当前视图
// 高波动收紧仓位与 Delta/Gamma；低波动适度放宽；
// 熊市收紧亏损与回撤预算；牛市放宽仓位与 Delta；
// 临近到期收紧 Theta/Gamma
func (r *Registry) Adjust(volatility float64, regime Regime, minDaysToExpiry float64) Limits {
	r.mu.Lock()
	defer r.mu.Unlock()

	adjusted := r.base

	switch {
	case volatility > highVolThreshold:
		adjusted.MaxPositionSize *= 0.5
		adjusted.MaxDeltaExposure *= 0.7
		adjusted.MaxGammaExposure *= 0.5
		logger.Debug("📊 高波动 %.2f: 收紧仓位/Delta/Gamma 预算", volatility)
	case volatility < lowVolThreshold && volatility > 0:
		adjusted.MaxPositionSize *= 1.2
		adjusted.MaxDeltaExposure *= 1.1
	}

	switch regime {
	case RegimeBear:
		adjusted.MaxDailyLoss *= 0.5
		adjusted.MaxDrawdown *= 0.7
		logger.Debug("📊 熊市: 收紧亏损/回撤预算")
	case RegimeBull:
		adjusted.MaxPositionSize *= 1.1
		adjusted.MaxDeltaExposure *= 1.1
	}

	if minDaysToExpiry > 0 && minDaysToExpiry < nearExpiryDays {
		adjusted.MaxThetaExposure *= 0.5
		adjusted.MaxGammaExposure *= 0.7
		logger.Debug("📊 临近到期 %.1f 天: 收紧 Theta/Gamma 预算", minDaysToExpiry)
	}

	r.current = adjusted
	return adjusted
}
