package order

import (
	"time"
)

// Kind 订单类型
type Kind string

const (
	KindSingle  Kind = "SINGLE"
	KindBracket Kind = "BRACKET"
	KindOCO     Kind = "OCO"
)

// Status 订单状态
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusSubmitted       Status = "SUBMITTED"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCancelled       Status = "CANCELLED"
	StatusRejected        Status = "REJECTED"
	StatusExpired         Status = "EXPIRED"
)

// IsTerminal 终态订单不再发生任何状态迁移
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// IsActive 活动状态：允许撤单
func (s Status) IsActive() bool {
	switch s {
	case StatusPending, StatusSubmitted, StatusPartiallyFilled:
		return true
	}
	return false
}

// validTransitions 状态机允许的迁移表，终态无出边
var validTransitions = map[Status][]Status{
	StatusPending:         {StatusSubmitted, StatusCancelled, StatusRejected},
	StatusSubmitted:       {StatusPartiallyFilled, StatusFilled, StatusCancelled, StatusRejected, StatusExpired},
	StatusPartiallyFilled: {StatusFilled, StatusCancelled, StatusExpired},
}

// canTransition 判断 from → to 是否合法
func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Leg 订单内的单条买卖指令
// 附着到已提交订单后不可修改
type Leg struct {
	ID         int     `json:"id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"` // BUY / SELL
	Quantity   int64   `json:"quantity"`
	LimitPrice float64 `json:"limit_price,omitempty"` // 0 表示市价
	StopPrice  float64 `json:"stop_price,omitempty"`

	// 标的元信息，随成交写入持仓账本
	Underlying string  `json:"underlying,omitempty"`
	Sector     string  `json:"sector,omitempty"`
	OptionType string  `json:"option_type,omitempty"`
	Strike     float64 `json:"strike,omitempty"`
	Expiry     string  `json:"expiry,omitempty"`
}

// Order 作为整体提交的一条或多条腿
type Order struct {
	ID           int64   `json:"id"`
	Kind         Kind    `json:"kind"`
	Legs         []Leg   `json:"legs"`
	Status       Status  `json:"status"`
	FilledQty    int64   `json:"filled_qty"`
	RemainingQty int64   `json:"remaining_qty"`
	AvgPrice     float64 `json:"avg_price"`

	// 括号单父子关系，0 表示无父单
	ParentID int64   `json:"parent_id,omitempty"`
	ChildIDs []int64 `json:"child_ids,omitempty"`

	// OCO 中已被对冲撤销的腿，不再接受成交
	CancelledLegs map[int]bool `json:"cancelled_legs,omitempty"`

	BrokerRef string    `json:"broker_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TotalQty 全部腿的数量之和
func (o *Order) TotalQty() int64 {
	var total int64
	for _, leg := range o.Legs {
		total += leg.Quantity
	}
	return total
}

// legByID 查找腿，不存在返回 nil
func (o *Order) legByID(legID int) *Leg {
	for i := range o.Legs {
		if o.Legs[i].ID == legID {
			return &o.Legs[i]
		}
	}
	return nil
}

// Fill 单笔成交事件，只追加不修改
type Fill struct {
	FillID     string    `json:"fill_id"`
	OrderID    int64     `json:"order_id"`
	LegID      int       `json:"leg_id"`
	Quantity   int64     `json:"quantity"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"`
	Timestamp  time.Time `json:"timestamp"`
}
