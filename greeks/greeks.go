package greeks

import (
	"math"
	"strings"
)

// Greeks 期权敏感度指标
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"` // 按天
	Vega  float64 `json:"vega"`  // 按 1% 波动率变化
	Rho   float64 `json:"rho"`   // 按 1% 利率变化
}

// Provider 希腊值提供方接口，风控聚合器只依赖该接口
type Provider interface {
	// Calculate 计算单位合约的希腊值
	// timeToExpiry 单位为年，optionType 为 CALL 或 PUT
	Calculate(spot, strike, timeToExpiry, riskFreeRate, volatility float64, optionType string) Greeks
}

// Calculator Black-Scholes 希腊值计算器
type Calculator struct{}

// NewCalculator 创建计算器
func NewCalculator() *Calculator {
	return &Calculator{}
}

// Calculate 计算单位合约的全部希腊值
func (c *Calculator) Calculate(spot, strike, timeToExpiry, riskFreeRate, volatility float64, optionType string) Greeks {
	if spot <= 0 || strike <= 0 || timeToExpiry <= 0 || volatility <= 0 {
		return Greeks{}
	}

	isCall := strings.EqualFold(optionType, "CALL")

	sqrtT := math.Sqrt(timeToExpiry)
	d1 := (math.Log(spot/strike) + (riskFreeRate+0.5*volatility*volatility)*timeToExpiry) /
		(volatility * sqrtT)
	d2 := d1 - volatility*sqrtT

	discount := math.Exp(-riskFreeRate * timeToExpiry)

	var delta float64
	if isCall {
		delta = discount * normCDF(d1)
	} else {
		delta = -discount * normCDF(-d1)
	}

	gamma := discount * normPDF(d1) / (spot * volatility * sqrtT)

	term1 := -spot * normPDF(d1) * volatility / (2 * sqrtT)
	var term2 float64
	if isCall {
		term2 = -riskFreeRate * strike * discount * normCDF(d2)
	} else {
		term2 = riskFreeRate * strike * discount * normCDF(-d2)
	}
	theta := (term1 + term2) / 365

	vega := spot * discount * normPDF(d1) * sqrtT / 100

	var rho float64
	if isCall {
		rho = strike * timeToExpiry * discount * normCDF(d2) / 100
	} else {
		rho = -strike * timeToExpiry * discount * normCDF(-d2) / 100
	}

	return Greeks{Delta: delta, Gamma: gamma, Theta: theta, Vega: vega, Rho: rho}
}

// normCDF 标准正态分布累积分布函数
func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

// normPDF 标准正态分布概率密度函数
func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}
