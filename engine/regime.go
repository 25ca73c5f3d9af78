package engine

import (
	"math"

	"fnobot/risk"
)

// regimeWindow 市场状态判定的采样窗口
const regimeWindow = 120

// RegimeDetector 基于标的均价序列的轻量市场状态判定
// 每个周期喂入行情，输出波动率估计与牛熊判定供动态预算使用
type RegimeDetector struct {
	history []float64
}

// NewRegimeDetector 创建判定器
func NewRegimeDetector() *RegimeDetector {
	return &RegimeDetector{}
}

// Observe 记录一期行情的标的均价
func (d *RegimeDetector) Observe(prices map[string]float64) {
	if len(prices) == 0 {
		return
	}
	var sum float64
	var n int
	for _, p := range prices {
		if p > 0 {
			sum += p
			n++
		}
	}
	if n == 0 {
		return
	}
	d.history = append(d.history, sum/float64(n))
	if len(d.history) > regimeWindow {
		d.history = d.history[len(d.history)-regimeWindow:]
	}
}

// Regime 当前市场状态：均价偏离窗口均值 ±2% 判定牛熊
func (d *RegimeDetector) Regime() risk.Regime {
	if len(d.history) < 10 {
		return risk.RegimeNeutral
	}
	var sum float64
	for _, p := range d.history {
		sum += p
	}
	mean := sum / float64(len(d.history))
	last := d.history[len(d.history)-1]

	switch {
	case last > mean*1.02:
		return risk.RegimeBull
	case last < mean*0.98:
		return risk.RegimeBear
	default:
		return risk.RegimeNeutral
	}
}

// Volatility 窗口内对数收益率的年化标准差
func (d *RegimeDetector) Volatility() float64 {
	if len(d.history) < 10 {
		return 0
	}

	var returns []float64
	for i := 1; i < len(d.history); i++ {
		if d.history[i-1] > 0 && d.history[i] > 0 {
			returns = append(returns, math.Log(d.history[i]/d.history[i-1]))
		}
	}
	if len(returns) < 2 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)

	// 秒级采样按交易日年化
	return math.Sqrt(variance) * math.Sqrt(252*6.5*3600)
}
