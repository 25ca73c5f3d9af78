package order

import (
	"errors"
	"fmt"
)

// CapacityError 订单容量超限
// 在分配订单 ID 之前同步拒绝，不产生任何中间状态
type CapacityError struct {
	Dimension string // open_orders / daily_orders / order_size
	Current   int64
	Limit     int64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("订单容量超限: %s 当前 %d, 上限 %d", e.Dimension, e.Current, e.Limit)
}

// IsCapacity 判断是否为容量错误
func IsCapacity(err error) bool {
	var ce *CapacityError
	return errors.As(err, &ce)
}

var (
	// ErrOrderNotFound 订单不存在
	ErrOrderNotFound = errors.New("订单不存在")
	// ErrTerminalState 终态订单拒绝任何变更
	ErrTerminalState = errors.New("订单已处于终态")
	// ErrLegCancelled 腿已被 OCO 对冲撤销
	ErrLegCancelled = errors.New("腿已撤销, 拒绝成交")
	// ErrInvalidLeg 腿参数非法
	ErrInvalidLeg = errors.New("腿参数非法")
	// ErrNotSubmittable 仅 PENDING 状态可提交
	ErrNotSubmittable = errors.New("订单当前状态不可提交")
)
