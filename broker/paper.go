package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"fnobot/logger"
)

// PaperBroker 纸面交易券商：所有订单在本地按最新价即时成交
// 用于 paper 模式与测试，行为模拟真实券商的成交回报流程
type PaperBroker struct {
	mu sync.Mutex

	cash       float64
	marginUsed float64
	marginRate float64 // 保证金占名义价值比例

	optionsCommission float64 // 期权每手佣金
	equityCommission  float64 // 期货佣金（百分比）

	quotes    map[string]float64
	positions map[string]*Position

	pendingFills []FillEvent
	orderSeq     int64
	fillSeq      int64
}

// NewPaperBroker 创建纸面券商
func NewPaperBroker(initialCapital, optionsCommission, equityCommission float64) *PaperBroker {
	return &PaperBroker{
		cash:              initialCapital,
		marginRate:        0.15,
		optionsCommission: optionsCommission,
		equityCommission:  equityCommission,
		quotes:            make(map[string]float64),
		positions:         make(map[string]*Position),
	}
}

// Name 券商名称
func (p *PaperBroker) Name() string {
	return "Paper"
}

// SetQuote 设置模拟行情
func (p *PaperBroker) SetQuote(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes[symbol] = price
}

// Submit 提交订单：每条腿按限价（或最新价）即时成交
func (p *PaperBroker) Submit(ctx context.Context, legs []Leg) (*SubmitResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(legs) == 0 {
		return nil, &TransportError{Op: "submit", Err: fmt.Errorf("订单没有腿")}
	}

	// 先校验所有腿可成交，避免部分执行
	for _, leg := range legs {
		price := leg.LimitPrice
		if price <= 0 {
			price = p.quotes[leg.Symbol]
		}
		if price <= 0 {
			return nil, &TransportError{Op: "submit", Err: fmt.Errorf("无 %s 行情", leg.Symbol)}
		}
	}

	p.orderSeq++
	ref := fmt.Sprintf("PAPER_%06d", p.orderSeq)

	for _, leg := range legs {
		price := leg.LimitPrice
		if price <= 0 {
			price = p.quotes[leg.Symbol]
		}
		p.execute(ref, leg, price)
	}

	return &SubmitResult{OrderRef: ref, Status: "SUBMITTED"}, nil
}

// execute 即时成交一条腿并更新本地账本
func (p *PaperBroker) execute(ref string, leg Leg, price float64) {
	notional := float64(leg.Quantity) * price
	commission := p.commission(leg.Symbol, leg.Quantity, notional)

	signed := leg.Quantity
	if leg.Side == SideSell {
		signed = -signed
	}

	pos, ok := p.positions[leg.Symbol]
	if !ok {
		pos = &Position{Symbol: leg.Symbol}
		p.positions[leg.Symbol] = pos
	}

	// 同向加仓重算均价，反向减仓保持均价
	if pos.Quantity == 0 || (pos.Quantity > 0) == (signed > 0) {
		total := pos.AvgPrice*float64(abs64(pos.Quantity)) + price*float64(leg.Quantity)
		pos.Quantity += signed
		if pos.Quantity != 0 {
			pos.AvgPrice = total / float64(abs64(pos.Quantity))
		}
	} else {
		pos.Quantity += signed
	}

	if leg.Side == SideBuy {
		p.cash -= notional + commission
		p.marginUsed += notional * p.marginRate
	} else {
		p.cash += notional - commission
		p.marginUsed -= notional * p.marginRate
		if p.marginUsed < 0 {
			p.marginUsed = 0
		}
	}

	if pos.Quantity == 0 {
		delete(p.positions, leg.Symbol)
	} else {
		pos.MarginUsed = float64(abs64(pos.Quantity)) * pos.AvgPrice * p.marginRate
	}

	p.fillSeq++
	p.pendingFills = append(p.pendingFills, FillEvent{
		FillRef:    fmt.Sprintf("PFILL_%06d", p.fillSeq),
		OrderRef:   ref,
		Symbol:     leg.Symbol,
		Side:       leg.Side,
		Quantity:   leg.Quantity,
		Price:      price,
		Commission: commission,
		Timestamp:  time.Now(),
	})

	logger.Debug("📝 [Paper] 成交 %s %s %d @ %.2f", leg.Symbol, leg.Side, leg.Quantity, price)
}

func (p *PaperBroker) commission(symbol string, quantity int64, notional float64) float64 {
	if strings.Contains(symbol, "OPT") {
		return float64(quantity) * p.optionsCommission
	}
	return notional * p.equityCommission / 100
}

// Cancel 撤单：纸面订单即时成交，撤单视为已不在可撤状态（幂等返回 nil）
func (p *PaperBroker) Cancel(ctx context.Context, orderRef string) error {
	return nil
}

// Quotes 返回模拟行情
func (p *PaperBroker) Quotes(ctx context.Context, symbols []string) (map[string]float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		if price, ok := p.quotes[s]; ok {
			out[s] = price
		}
	}
	return out, nil
}

// Positions 返回本地持仓
func (p *PaperBroker) Positions(ctx context.Context) ([]Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out, nil
}

// FundLimits 返回模拟资金额度
func (p *PaperBroker) FundLimits(ctx context.Context) (*FundLimits, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return &FundLimits{
		Cash:            p.cash,
		AvailableMargin: p.cash - p.marginUsed,
		UsedMargin:      p.marginUsed,
	}, nil
}

// PollFills 取走并清空待回报的成交
func (p *PaperBroker) PollFills(ctx context.Context) ([]FillEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fills := p.pendingFills
	p.pendingFills = nil
	return fills, nil
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
