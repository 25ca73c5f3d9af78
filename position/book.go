package position

import (
	"sync"
	"time"

	"fnobot/logger"
)

// Position 单一标的的净持仓
// Quantity 带符号，负数为空头；Quantity 为 0 时持仓条目被移除
type Position struct {
	Symbol        string    `json:"symbol"`
	Quantity      int64     `json:"quantity"`
	AvgPrice      float64   `json:"avg_price"`
	LastPrice     float64   `json:"last_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	RealizedPnL   float64   `json:"realized_pnl"`
	MarginUsed    float64   `json:"margin_used"`
	EntryTime     time.Time `json:"entry_time"`

	// 标的元信息（行业/标的归属与期权参数，用于风控聚合）
	Underlying string  `json:"underlying,omitempty"`
	Sector     string  `json:"sector,omitempty"`
	OptionType string  `json:"option_type,omitempty"` // CALL / PUT，空串为非期权
	Strike     float64 `json:"strike,omitempty"`
	Expiry     string  `json:"expiry,omitempty"` // 格式 2006-01-02
}

// Meta 建仓时附带的标的元信息
type Meta struct {
	Underlying string
	Sector     string
	OptionType string
	Strike     float64
	Expiry     string
}

// Book 持仓账本：唯一的持仓修改入口是应用成交
type Book struct {
	mu         sync.RWMutex
	positions  map[string]*Position
	marginRate float64 // 保证金占名义价值比例

	closedRealized float64 // 已平仓持仓的累计实现盈亏
}

// NewBook 创建持仓账本
func NewBook() *Book {
	return &Book{
		positions:  make(map[string]*Position),
		marginRate: 0.15,
	}
}

// ApplyFill 将一笔成交记入持仓
// 同向加仓按数量加权重算均价；反向减仓实现盈亏，均价保持不变；
// 方向翻转时先平掉原方向再以成交价开新仓
func (b *Book) ApplyFill(symbol, side string, quantity int64, price float64, meta *Meta) {
	b.mu.Lock()
	defer b.mu.Unlock()

	signed := quantity
	if side == "SELL" {
		signed = -signed
	}

	pos, ok := b.positions[symbol]
	if !ok {
		pos = &Position{Symbol: symbol, EntryTime: time.Now(), LastPrice: price}
		if meta != nil {
			pos.Underlying = meta.Underlying
			pos.Sector = meta.Sector
			pos.OptionType = meta.OptionType
			pos.Strike = meta.Strike
			pos.Expiry = meta.Expiry
		}
		b.positions[symbol] = pos
	}

	switch {
	case pos.Quantity == 0 || (pos.Quantity > 0) == (signed > 0):
		// 开仓或同向加仓
		total := pos.AvgPrice*float64(abs64(pos.Quantity)) + price*float64(quantity)
		pos.Quantity += signed
		pos.AvgPrice = total / float64(abs64(pos.Quantity))

	case abs64(signed) <= abs64(pos.Quantity):
		// 反向减仓：实现盈亏
		closed := abs64(signed)
		if pos.Quantity > 0 {
			pos.RealizedPnL += (price - pos.AvgPrice) * float64(closed)
		} else {
			pos.RealizedPnL += (pos.AvgPrice - price) * float64(closed)
		}
		pos.Quantity += signed

	default:
		// 方向翻转：先平原方向，剩余数量以成交价开新仓
		closed := abs64(pos.Quantity)
		if pos.Quantity > 0 {
			pos.RealizedPnL += (price - pos.AvgPrice) * float64(closed)
		} else {
			pos.RealizedPnL += (pos.AvgPrice - price) * float64(closed)
		}
		pos.Quantity += signed
		pos.AvgPrice = price
		pos.EntryTime = time.Now()
	}

	pos.LastPrice = price

	if pos.Quantity == 0 {
		b.closedRealized += pos.RealizedPnL
		delete(b.positions, symbol)
		logger.Debug("📕 持仓平仓: %s (实现盈亏 %.2f)", symbol, pos.RealizedPnL)
		return
	}

	pos.MarginUsed = float64(abs64(pos.Quantity)) * pos.AvgPrice * b.marginRate
	pos.UnrealizedPnL = b.unrealized(pos)
}

// Mark 用最新价刷新浮动盈亏
func (b *Book) Mark(quotes map[string]float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for symbol, pos := range b.positions {
		if price, ok := quotes[symbol]; ok && price > 0 {
			pos.LastPrice = price
			pos.UnrealizedPnL = b.unrealized(pos)
		}
	}
}

func (b *Book) unrealized(pos *Position) float64 {
	if pos.Quantity > 0 {
		return (pos.LastPrice - pos.AvgPrice) * float64(pos.Quantity)
	}
	return (pos.AvgPrice - pos.LastPrice) * float64(-pos.Quantity)
}

// Get 查询单个持仓，不存在返回 nil
func (b *Book) Get(symbol string) *Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.positions[symbol]
}

// All 返回全部持仓的浅副本
func (b *Book) All() map[string]*Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]*Position, len(b.positions))
	for symbol, pos := range b.positions {
		out[symbol] = pos
	}
	return out
}

// Count 持仓数量
func (b *Book) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}

// TotalRealizedPnL 累计实现盈亏，含已平仓持仓
func (b *Book) TotalRealizedPnL() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := b.closedRealized
	for _, pos := range b.positions {
		total += pos.RealizedPnL
	}
	return total
}

// ClosedRealizedPnL 已平仓持仓的累计实现盈亏
func (b *Book) ClosedRealizedPnL() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closedRealized
}

// SetClosedRealizedPnL 快照恢复时回填已平仓盈亏
func (b *Book) SetClosedRealizedPnL(v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closedRealized = v
}

// TotalUnrealizedPnL 累计浮动盈亏
func (b *Book) TotalUnrealizedPnL() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var total float64
	for _, pos := range b.positions {
		total += pos.UnrealizedPnL
	}
	return total
}

// Export 导出持仓用于快照持久化
func (b *Book) Export() map[string]Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]Position, len(b.positions))
	for symbol, pos := range b.positions {
		out[symbol] = *pos
	}
	return out
}

// Load 从快照恢复持仓
func (b *Book) Load(positions map[string]Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions = make(map[string]*Position, len(positions))
	for symbol, pos := range positions {
		p := pos
		b.positions[symbol] = &p
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
