package broker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"fnobot/logger"
)

// BinanceBroker 基于币安合约 SDK 的券商适配器
// 多腿订单逐腿提交，以逗号拼接各腿的订单号作为整体引用
type BinanceBroker struct {
	client      *futures.Client
	lastTradeID map[string]int64 // 每个标的的成交回报游标
	symbols     []string         // 需要拉取成交回报的标的
}

// NewBinanceBroker 创建币安适配器
func NewBinanceBroker(apiKey, secretKey string, testnet bool, symbols []string) (*BinanceBroker, error) {
	if apiKey == "" || secretKey == "" {
		return nil, fmt.Errorf("Binance API 配置不完整")
	}

	// 测试网模式必须在创建客户端之前设置
	futures.UseTestnet = testnet
	if testnet {
		logger.Info("🌐 [Binance] 使用测试网模式")
	}

	client := futures.NewClient(apiKey, secretKey)

	// 同步服务器时间，避免签名时间戳偏差
	client.NewSetServerTimeService().Do(context.Background())

	return &BinanceBroker{
		client:      client,
		lastTradeID: make(map[string]int64),
		symbols:     symbols,
	}, nil
}

// Name 券商名称
func (b *BinanceBroker) Name() string {
	return "Binance"
}

// Submit 逐腿提交订单
func (b *BinanceBroker) Submit(ctx context.Context, legs []Leg) (*SubmitResult, error) {
	if len(legs) == 0 {
		return nil, &TransportError{Op: "submit", Err: fmt.Errorf("订单没有腿")}
	}

	refs := make([]string, 0, len(legs))
	for _, leg := range legs {
		svc := b.client.NewCreateOrderService().
			Symbol(leg.Symbol).
			Side(futures.SideType(leg.Side)).
			Quantity(strconv.FormatInt(leg.Quantity, 10))

		switch {
		case leg.StopPrice > 0:
			svc = svc.Type(futures.OrderTypeStop).
				StopPrice(strconv.FormatFloat(leg.StopPrice, 'f', -1, 64)).
				Price(strconv.FormatFloat(leg.LimitPrice, 'f', -1, 64)).
				TimeInForce(futures.TimeInForceTypeGTC)
		case leg.LimitPrice > 0:
			svc = svc.Type(futures.OrderTypeLimit).
				Price(strconv.FormatFloat(leg.LimitPrice, 'f', -1, 64)).
				TimeInForce(futures.TimeInForceTypeGTC)
		default:
			svc = svc.Type(futures.OrderTypeMarket)
		}

		resp, err := svc.Do(ctx)
		if err != nil {
			// 已提交的腿由调用方通过撤单回滚
			return nil, &TransportError{Op: "submit", Err: err}
		}
		refs = append(refs, fmt.Sprintf("%s:%d", leg.Symbol, resp.OrderID))
	}

	return &SubmitResult{OrderRef: strings.Join(refs, ","), Status: "SUBMITTED"}, nil
}

// Cancel 逐腿撤单，订单已不存在视为撤销成功（幂等）
func (b *BinanceBroker) Cancel(ctx context.Context, orderRef string) error {
	for _, ref := range strings.Split(orderRef, ",") {
		parts := strings.SplitN(ref, ":", 2)
		if len(parts) != 2 {
			continue
		}
		orderID, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			continue
		}

		_, err = b.client.NewCancelOrderService().
			Symbol(parts[0]).
			OrderID(orderID).
			Do(ctx)
		if err != nil {
			errStr := err.Error()
			// -2011: Unknown order（已成交或已撤销）
			if strings.Contains(errStr, "-2011") || strings.Contains(errStr, "Unknown order") {
				logger.Info("ℹ️ [Binance] 订单 %d 已不存在，跳过取消", orderID)
				continue
			}
			return &TransportError{Op: "cancel", Ref: orderRef, Err: err}
		}
	}
	return nil
}

// Quotes 批量查询最新价
func (b *BinanceBroker) Quotes(ctx context.Context, symbols []string) (map[string]float64, error) {
	prices, err := b.client.NewListPricesService().Do(ctx)
	if err != nil {
		return nil, &TransportError{Op: "quotes", Err: err}
	}

	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[s] = true
	}

	out := make(map[string]float64, len(symbols))
	for _, p := range prices {
		if !wanted[p.Symbol] {
			continue
		}
		v, err := strconv.ParseFloat(p.Price, 64)
		if err != nil {
			continue
		}
		out[p.Symbol] = v
	}
	return out, nil
}

// Positions 查询持仓
func (b *BinanceBroker) Positions(ctx context.Context) ([]Position, error) {
	risks, err := b.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, &TransportError{Op: "positions", Err: err}
	}

	positions := make([]Position, 0, len(risks))
	for _, r := range risks {
		qty, _ := strconv.ParseFloat(r.PositionAmt, 64)
		if qty == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
		margin, _ := strconv.ParseFloat(r.IsolatedMargin, 64)
		positions = append(positions, Position{
			Symbol:     r.Symbol,
			Quantity:   int64(qty),
			AvgPrice:   entry,
			MarginUsed: margin,
		})
	}
	return positions, nil
}

// FundLimits 查询资金额度
func (b *BinanceBroker) FundLimits(ctx context.Context) (*FundLimits, error) {
	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, &TransportError{Op: "fund_limits", Err: err}
	}

	wallet, _ := strconv.ParseFloat(account.TotalWalletBalance, 64)
	available, _ := strconv.ParseFloat(account.AvailableBalance, 64)
	usedMargin, _ := strconv.ParseFloat(account.TotalInitialMargin, 64)

	return &FundLimits{
		Cash:            wallet,
		AvailableMargin: available,
		UsedMargin:      usedMargin,
	}, nil
}

// PollFills 按标的增量拉取成交回报
func (b *BinanceBroker) PollFills(ctx context.Context) ([]FillEvent, error) {
	var fills []FillEvent

	for _, symbol := range b.symbols {
		svc := b.client.NewListAccountTradeService().Symbol(symbol)
		if fromID, ok := b.lastTradeID[symbol]; ok {
			svc = svc.FromID(fromID + 1)
		}

		trades, err := svc.Do(ctx)
		if err != nil {
			return nil, &TransportError{Op: "poll_fills", Err: err}
		}

		for _, t := range trades {
			price, _ := strconv.ParseFloat(t.Price, 64)
			qty, _ := strconv.ParseFloat(t.Quantity, 64)
			commission, _ := strconv.ParseFloat(t.Commission, 64)

			fills = append(fills, FillEvent{
				FillRef:    fmt.Sprintf("%s:%d", symbol, t.ID),
				OrderRef:   fmt.Sprintf("%s:%d", symbol, t.OrderID),
				Symbol:     symbol,
				Side:       string(t.Side),
				Quantity:   int64(qty),
				Price:      price,
				Commission: commission,
				Timestamp:  time.UnixMilli(t.Time),
			})
			if t.ID > b.lastTradeID[symbol] {
				b.lastTradeID[symbol] = t.ID
			}
		}
	}
	return fills, nil
}
