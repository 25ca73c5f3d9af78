package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"fnobot/logger"
)

// RESTBroker REST 风格的券商适配器（Dhan 风格接口）
// 所有请求携带 access-token 头，返回结构化的成功/失败响应
type RESTBroker struct {
	baseURL     string
	accessToken string
	clientID    string
	httpClient  *http.Client

	lastFillRef string // 增量拉取成交回报的游标
}

// NewRESTBroker 创建 REST 券商适配器
func NewRESTBroker(baseURL, accessToken, clientID string, timeout time.Duration) *RESTBroker {
	return &RESTBroker{
		baseURL:     baseURL,
		accessToken: accessToken,
		clientID:    clientID,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// Name 券商名称
func (r *RESTBroker) Name() string {
	return "REST"
}

// apiError 券商返回的错误体
type apiError struct {
	Code    string `json:"errorCode"`
	Message string `json:"errorMessage"`
}

// do 执行一次 HTTP 请求并解码响应
func (r *RESTBroker) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &TransportError{Op: op, Err: fmt.Errorf("编码请求失败: %w", err)}
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reqBody)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("access-token", r.accessToken)
	if r.clientID != "" {
		req.Header.Set("client-id", r.clientID)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return &TransportError{Op: op, Err: fmt.Errorf("HTTP %d: %s (%s)", resp.StatusCode, apiErr.Message, apiErr.Code)}
		}
		return &TransportError{Op: op, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &TransportError{Op: op, Err: fmt.Errorf("解码响应失败: %w", err)}
		}
	}
	return nil
}

// Submit 提交订单（整组腿作为一个订单）
func (r *RESTBroker) Submit(ctx context.Context, legs []Leg) (*SubmitResult, error) {
	var out SubmitResult
	req := struct {
		Legs []Leg `json:"legs"`
	}{Legs: legs}

	if err := r.do(ctx, "submit", http.MethodPost, "/api/v1/orders", req, &out); err != nil {
		return nil, err
	}

	logger.Debug("📤 [REST] 提交订单成功: %s (%d 条腿)", out.OrderRef, len(legs))
	return &out, nil
}

// Cancel 撤销订单
func (r *RESTBroker) Cancel(ctx context.Context, orderRef string) error {
	var out struct {
		Status string `json:"status"`
	}
	err := r.do(ctx, "cancel", http.MethodDelete, "/api/v1/orders/"+orderRef, nil, &out)
	if err != nil {
		var te *TransportError
		te, _ = err.(*TransportError)
		if te != nil {
			te.Ref = orderRef
		}
		return err
	}
	return nil
}

// Quotes 批量查询最新价
func (r *RESTBroker) Quotes(ctx context.Context, symbols []string) (map[string]float64, error) {
	var out struct {
		Quotes map[string]float64 `json:"quotes"`
	}
	req := struct {
		Symbols []string `json:"symbols"`
	}{Symbols: symbols}

	if err := r.do(ctx, "quotes", http.MethodPost, "/api/v1/quotes", req, &out); err != nil {
		return nil, err
	}
	return out.Quotes, nil
}

// Positions 查询持仓
func (r *RESTBroker) Positions(ctx context.Context) ([]Position, error) {
	var out struct {
		Positions []struct {
			Symbol     string  `json:"tradingSymbol"`
			NetQty     int64   `json:"netQty"`
			AvgPrice   float64 `json:"buyAvg"`
			MarginUsed float64 `json:"marginUsed"`
		} `json:"positions"`
	}

	if err := r.do(ctx, "positions", http.MethodGet, "/api/v1/positions", nil, &out); err != nil {
		return nil, err
	}

	positions := make([]Position, 0, len(out.Positions))
	for _, p := range out.Positions {
		if p.NetQty == 0 {
			continue
		}
		positions = append(positions, Position{
			Symbol:     p.Symbol,
			Quantity:   p.NetQty,
			AvgPrice:   p.AvgPrice,
			MarginUsed: p.MarginUsed,
		})
	}
	return positions, nil
}

// FundLimits 查询资金额度
func (r *RESTBroker) FundLimits(ctx context.Context) (*FundLimits, error) {
	var out struct {
		AvailableBalance float64 `json:"availabelBalance"`
		UtilizedAmount   float64 `json:"utilizedAmount"`
		Cash             float64 `json:"sodLimit"`
	}

	if err := r.do(ctx, "fund_limits", http.MethodGet, "/api/v1/fundlimit", nil, &out); err != nil {
		return nil, err
	}

	return &FundLimits{
		Cash:            out.Cash,
		AvailableMargin: out.AvailableBalance,
		UsedMargin:      out.UtilizedAmount,
	}, nil
}

// PollFills 增量拉取成交回报（以 fill_ref 为游标）
func (r *RESTBroker) PollFills(ctx context.Context) ([]FillEvent, error) {
	var out struct {
		Fills []struct {
			FillRef    string  `json:"fillId"`
			OrderRef   string  `json:"orderId"`
			Symbol     string  `json:"tradingSymbol"`
			Side       string  `json:"transactionType"`
			Quantity   int64   `json:"tradedQuantity"`
			Price      float64 `json:"tradedPrice"`
			Commission float64 `json:"brokerage"`
			TradeTime  int64   `json:"tradeTime"` // Unix 毫秒
		} `json:"trades"`
	}

	path := "/api/v1/trades"
	if r.lastFillRef != "" {
		path += "?after=" + r.lastFillRef
	}

	if err := r.do(ctx, "poll_fills", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	fills := make([]FillEvent, 0, len(out.Fills))
	for _, f := range out.Fills {
		fills = append(fills, FillEvent{
			FillRef:    f.FillRef,
			OrderRef:   f.OrderRef,
			Symbol:     f.Symbol,
			Side:       f.Side,
			Quantity:   f.Quantity,
			Price:      f.Price,
			Commission: f.Commission,
			Timestamp:  time.UnixMilli(f.TradeTime),
		})
	}
	if len(fills) > 0 {
		r.lastFillRef = fills[len(fills)-1].FillRef
	}
	return fills, nil
}
