package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 主循环
var (
	TickTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fnobot_tick_total",
		Help: "主循环执行次数",
	})
	TickErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fnobot_tick_errors_total",
		Help: "主循环异常次数",
	})
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fnobot_tick_duration_seconds",
		Help:    "单个周期耗时",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
)

// 订单
var (
	OrdersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fnobot_orders_created_total",
		Help: "创建的订单数",
	}, []string{"kind"})
	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fnobot_orders_rejected_total",
		Help: "被拒绝的订单数",
	}, []string{"reason"})
	FillsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fnobot_fills_applied_total",
		Help: "落账的成交数",
	})
	OpenOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fnobot_open_orders",
		Help: "当前活动订单数",
	})
)

// 风险
var (
	PortfolioValue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fnobot_portfolio_value",
		Help: "组合市值",
	})
	DailyPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fnobot_daily_pnl",
		Help: "当日盈亏",
	})
	CurrentDrawdown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fnobot_current_drawdown",
		Help: "当前回撤比例",
	})
	MarginUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fnobot_margin_usage",
		Help: "保证金使用率",
	})
	GreekExposure = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fnobot_greek_exposure",
		Help: "组合希腊值敞口",
	}, []string{"greek"})
	PositionCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fnobot_position_count",
		Help: "当前持仓数",
	})
	RiskAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fnobot_risk_alerts_total",
		Help: "风险告警数",
	}, []string{"category", "type"})
	RiskViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fnobot_risk_violations_total",
		Help: "风险违规数",
	}, []string{"category"})
	KillSwitchActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fnobot_kill_switch_active",
		Help: "熔断开关状态 (0/1)",
	})
)

// 经纪商
var (
	BrokerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fnobot_broker_calls_total",
		Help: "经纪商调用次数",
	}, []string{"op", "result"})
)
