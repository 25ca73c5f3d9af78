package broker

import (
	"context"
	"time"
)

// 订单方向
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Leg 单条腿的下单指令
// LimitPrice/StopPrice 为 0 表示未设置（市价）
type Leg struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Quantity   int64   `json:"quantity"`
	LimitPrice float64 `json:"limit_price,omitempty"`
	StopPrice  float64 `json:"stop_price,omitempty"`
}

// SubmitResult 提交结果
type SubmitResult struct {
	OrderRef string `json:"order_ref"` // 券商侧订单引用
	Status   string `json:"status"`
}

// Position 券商侧持仓
type Position struct {
	Symbol     string  `json:"symbol"`
	Quantity   int64   `json:"quantity"` // 带符号，负数为空头
	AvgPrice   float64 `json:"avg_price"`
	MarginUsed float64 `json:"margin_used"`
}

// FundLimits 资金与保证金额度
type FundLimits struct {
	Cash            float64 `json:"cash"`
	AvailableMargin float64 `json:"available_margin"`
	UsedMargin      float64 `json:"used_margin"`
}

// FillEvent 券商侧成交回报
type FillEvent struct {
	FillRef    string    `json:"fill_ref"` // 券商侧成交唯一标识
	OrderRef   string    `json:"order_ref"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Quantity   int64     `json:"quantity"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"`
	Timestamp  time.Time `json:"timestamp"`
}

// Broker 券商能力接口
// 所有调用均为同步阻塞，失败以 *TransportError 返回，调用方在下一个周期重试
type Broker interface {
	// Name 券商名称
	Name() string
	// Submit 提交一组腿（作为一个整体），返回券商侧订单引用
	Submit(ctx context.Context, legs []Leg) (*SubmitResult, error)
	// Cancel 撤销订单，订单已不在可撤状态时返回 nil（幂等）
	Cancel(ctx context.Context, orderRef string) error
	// Quotes 批量查询最新价
	Quotes(ctx context.Context, symbols []string) (map[string]float64, error)
	// Positions 查询券商侧持仓
	Positions(ctx context.Context) ([]Position, error)
	// FundLimits 查询资金额度
	FundLimits(ctx context.Context) (*FundLimits, error)
	// PollFills 拉取自上次调用以来的新成交回报
	PollFills(ctx context.Context) ([]FillEvent, error)
}
