package broker

import (
	"errors"
	"fmt"
)

// TransportError 券商通信失败（可恢复：调用方在下一个周期重试）
type TransportError struct {
	Op  string // 失败的操作，如 submit / cancel / quotes
	Ref string // 相关的订单引用（可为空）
	Err error
}

func (e *TransportError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("券商通信失败 [%s %s]: %v", e.Op, e.Ref, e.Err)
	}
	return fmt.Sprintf("券商通信失败 [%s]: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport 判断是否为券商通信错误
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
