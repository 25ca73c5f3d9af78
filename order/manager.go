package order

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"fnobot/broker"
	"fnobot/config"
	"fnobot/logger"
	"fnobot/position"
)

// Manager 订单与成交账本，订单/持仓状态的唯一写入方
// 主循环单线程驱动，互斥锁仅保护 Web 查询接口的并发读取
type Manager struct {
	mu      sync.Mutex
	cfg     *config.Config
	broker  broker.Broker
	book    *position.Book
	limiter *rate.Limiter
	loc     *time.Location

	orders   map[int64]*Order
	fills    []Fill
	applied  map[string]bool // fill_id 去重，快照回放保证幂等
	refIndex map[string]int64

	nextID  int64
	fillSeq int64

	day        string
	dailyCount int64

	totalCommission float64
}

// NewManager 创建订单账本
func NewManager(cfg *config.Config, bk broker.Broker, book *position.Book, loc *time.Location) *Manager {
	if loc == nil {
		loc = time.Local
	}
	return &Manager{
		cfg:      cfg,
		broker:   bk,
		book:     book,
		limiter:  rate.NewLimiter(rate.Limit(cfg.Orders.SubmitRate), cfg.Orders.SubmitBurst),
		loc:      loc,
		orders:   make(map[int64]*Order),
		applied:  make(map[string]bool),
		refIndex: make(map[string]int64),
		nextID:   1,
		fillSeq:  1,
		day:      time.Now().In(loc).Format("2006-01-02"),
	}
}

// CreateOrder 创建订单
// 容量检查在分配 ID 之前完成，被拒绝的请求不产生任何状态
func (m *Manager) CreateOrder(kind Kind, legs []Leg, parentID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(kind, legs, parentID, 1)
}

// CreateBracketOrder 创建括号单：入场父单 + 止损/止盈两个子单
// 子单在父单成交前保持 PENDING；任一子单成交后另一子单必须被撤销
func (m *Manager) CreateBracketOrder(entry, stop, target Leg) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// 三张订单的容量一次性预检，避免创建到一半被拒
	if err := m.checkCapacityLocked(3); err != nil {
		return 0, err
	}
	for _, leg := range []Leg{entry, stop, target} {
		if err := m.validateLeg(leg); err != nil {
			return 0, err
		}
	}

	parentID, err := m.createLocked(KindBracket, []Leg{entry}, 0, 0)
	if err != nil {
		return 0, err
	}
	stopID, err := m.createLocked(KindSingle, []Leg{stop}, parentID, 0)
	if err != nil {
		return 0, err
	}
	targetID, err := m.createLocked(KindSingle, []Leg{target}, parentID, 0)
	if err != nil {
		return 0, err
	}
	m.orders[parentID].ChildIDs = []int64{stopID, targetID}
	m.dailyCount += 3

	logger.Info("📋 创建括号单: 父单 #%d, 止损 #%d, 止盈 #%d", parentID, stopID, targetID)
	return parentID, nil
}

// CreateOCOOrder 创建 OCO 订单：两条腿，任一腿成交即撤销另一腿
func (m *Manager) CreateOCOOrder(legA, legB Leg) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(KindOCO, []Leg{legA, legB}, 0, 1)
}

// createLocked 容量检查 → 分配 ID → 入账
// countDaily 为 0 时由调用方统一累加当日计数（括号单场景）
func (m *Manager) createLocked(kind Kind, legs []Leg, parentID int64, countDaily int64) (int64, error) {
	if countDaily > 0 {
		if err := m.checkCapacityLocked(countDaily); err != nil {
			return 0, err
		}
	}
	for _, leg := range legs {
		if err := m.validateLeg(leg); err != nil {
			return 0, err
		}
	}

	id := m.nextID
	m.nextID++

	o := &Order{
		ID:        id,
		Kind:      kind,
		Legs:      make([]Leg, len(legs)),
		Status:    StatusPending,
		ParentID:  parentID,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	copy(o.Legs, legs)
	for i := range o.Legs {
		o.Legs[i].ID = i + 1
	}
	o.RemainingQty = o.TotalQty()
	m.orders[id] = o
	m.dailyCount += countDaily

	return id, nil
}

// checkCapacityLocked 活动订单数与当日订单数双重上限
func (m *Manager) checkCapacityLocked(adding int64) error {
	m.rollDayLocked()

	open := int64(m.openCountLocked())
	if open+adding > int64(m.cfg.Orders.MaxOpenOrders) {
		return &CapacityError{Dimension: "open_orders", Current: open, Limit: int64(m.cfg.Orders.MaxOpenOrders)}
	}
	if m.dailyCount+adding > int64(m.cfg.Orders.MaxDailyOrders) {
		return &CapacityError{Dimension: "daily_orders", Current: m.dailyCount, Limit: int64(m.cfg.Orders.MaxDailyOrders)}
	}
	return nil
}

func (m *Manager) validateLeg(leg Leg) error {
	if leg.Symbol == "" || leg.Quantity <= 0 {
		return fmt.Errorf("%w: symbol=%q quantity=%d", ErrInvalidLeg, leg.Symbol, leg.Quantity)
	}
	if leg.Side != broker.SideBuy && leg.Side != broker.SideSell {
		return fmt.Errorf("%w: side=%q", ErrInvalidLeg, leg.Side)
	}
	if maxSize := m.cfg.Orders.MaxOrderSize; maxSize > 0 && leg.Quantity > maxSize {
		return &CapacityError{Dimension: "order_size", Current: leg.Quantity, Limit: maxSize}
	}
	return nil
}

// rollDayLocked 跨日时重置当日订单计数
func (m *Manager) rollDayLocked() {
	today := time.Now().In(m.loc).Format("2006-01-02")
	if today != m.day {
		logger.Info("🔄 交易日切换: %s → %s, 当日订单计数清零", m.day, today)
		m.day = today
		m.dailyCount = 0
	}
}

func (m *Manager) openCountLocked() int {
	count := 0
	for _, o := range m.orders {
		if !o.Status.IsTerminal() {
			count++
		}
	}
	return count
}

// SubmitOrder 提交订单到经纪商
// 传输失败时订单进入 REJECTED，调用方如需重试应创建新订单，
// 账本绝不对同一 ID 自动重试，避免重复报单
func (m *Manager) SubmitOrder(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitLocked(ctx, id)
}

func (m *Manager) submitLocked(ctx context.Context, id int64) error {
	o, ok := m.orders[id]
	if !ok {
		return fmt.Errorf("%w: #%d", ErrOrderNotFound, id)
	}
	if o.Status != StatusPending {
		return fmt.Errorf("%w: #%d 状态 %s", ErrNotSubmittable, id, o.Status)
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("报单限速等待中断: %w", err)
	}

	legs := make([]broker.Leg, 0, len(o.Legs))
	for _, leg := range o.Legs {
		legs = append(legs, broker.Leg{
			Symbol:     leg.Symbol,
			Side:       leg.Side,
			Quantity:   leg.Quantity,
			LimitPrice: leg.LimitPrice,
			StopPrice:  leg.StopPrice,
		})
	}

	result, err := m.broker.Submit(ctx, legs)
	if err != nil {
		m.setStatusLocked(o, StatusRejected)
		logger.Error("❌ 订单提交失败: #%d %v", id, err)
		return fmt.Errorf("订单 #%d 提交失败: %w", id, err)
	}

	o.BrokerRef = result.OrderRef
	m.refIndex[result.OrderRef] = id
	// 组合回执中的每个子引用都建立索引，成交回报按子引用路由
	for _, part := range strings.Split(result.OrderRef, ",") {
		m.refIndex[part] = id
	}
	m.setStatusLocked(o, StatusSubmitted)
	logger.Info("📤 订单已提交: #%d ref=%s", id, result.OrderRef)
	return nil
}

// CancelOrder 撤销订单
// 幂等：订单不在活动状态时为无操作，返回 false 而非错误；
// 经纪商传输失败时订单状态保持不变
func (m *Manager) CancelOrder(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelLocked(ctx, id)
}

func (m *Manager) cancelLocked(ctx context.Context, id int64) (bool, error) {
	o, ok := m.orders[id]
	if !ok {
		logger.Warn("⚠️ 撤销失败: 订单 #%d 不存在", id)
		return false, nil
	}
	if !o.Status.IsActive() {
		logger.Debug("撤销无操作: 订单 #%d 已处于 %s", id, o.Status)
		return false, nil
	}

	// 未报单的订单本地直接撤销
	if o.Status == StatusPending {
		m.setStatusLocked(o, StatusCancelled)
		logger.Info("📝 订单已本地撤销: #%d", id)
		return true, nil
	}

	if err := m.broker.Cancel(ctx, o.BrokerRef); err != nil {
		logger.Error("❌ 撤单失败: #%d ref=%s %v", id, o.BrokerRef, err)
		return false, fmt.Errorf("订单 #%d 撤销失败: %w", id, err)
	}
	m.setStatusLocked(o, StatusCancelled)
	logger.Info("📝 订单已撤销: #%d ref=%s", id, o.BrokerRef)
	return true, nil
}

// setStatusLocked 经状态机迁移表变更状态，非法迁移只记录告警
func (m *Manager) setStatusLocked(o *Order, to Status) {
	if o.Status == to {
		return
	}
	if !canTransition(o.Status, to) {
		logger.Warn("⚠️ 非法状态迁移被拒绝: 订单 #%d %s → %s", o.ID, o.Status, to)
		return
	}
	o.Status = to
	o.UpdatedAt = time.Now()
}

// AddFill 记录一笔成交，返回成交 ID
func (m *Manager) AddFill(ctx context.Context, orderID int64, legID int, qty int64, price, commission float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// 校验通过后才消耗序号，被拒绝的成交不产生空洞
	fillID := fmt.Sprintf("FILL_%06d", m.fillSeq)
	if err := m.applyFillLocked(ctx, fillID, orderID, legID, qty, price, commission, time.Now()); err != nil {
		return "", err
	}
	m.fillSeq++
	return fillID, nil
}

// ApplyBrokerFill 将经纪商成交回报记入账本
// 以成交引用去重，重复回报与快照回放均为无操作
func (m *Manager) ApplyBrokerFill(ctx context.Context, ev broker.FillEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.applied[ev.FillRef] {
		return nil
	}

	orderID, ok := m.refIndex[ev.OrderRef]
	if !ok {
		logger.Warn("⚠️ 成交回报无法路由: ref=%s fill=%s", ev.OrderRef, ev.FillRef)
		return fmt.Errorf("%w: ref=%s", ErrOrderNotFound, ev.OrderRef)
	}
	o := m.orders[orderID]

	legID := 0
	for _, leg := range o.Legs {
		if leg.Symbol == ev.Symbol && leg.Side == ev.Side && !o.CancelledLegs[leg.ID] {
			legID = leg.ID
			break
		}
	}
	if legID == 0 && len(o.Legs) > 0 {
		legID = o.Legs[0].ID
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return m.applyFillLocked(ctx, ev.FillRef, orderID, legID, ev.Quantity, ev.Price, ev.Commission, ts)
}

// applyFillLocked 成交落账的唯一路径
// 更新数量与加权均价、驱动状态迁移、写入持仓账本，
// 并触发括号单/OCO 的联动撤销
func (m *Manager) applyFillLocked(ctx context.Context, fillID string, orderID int64, legID int, qty int64, price, commission float64, ts time.Time) error {
	if m.applied[fillID] {
		return nil
	}

	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: #%d", ErrOrderNotFound, orderID)
	}
	if o.Status.IsTerminal() {
		return fmt.Errorf("%w: #%d %s", ErrTerminalState, orderID, o.Status)
	}
	if o.CancelledLegs[legID] {
		return fmt.Errorf("%w: #%d 腿 %d", ErrLegCancelled, orderID, legID)
	}
	leg := o.legByID(legID)
	if leg == nil {
		return fmt.Errorf("%w: #%d 腿 %d 不存在", ErrInvalidLeg, orderID, legID)
	}
	if qty <= 0 {
		return fmt.Errorf("%w: 成交数量 %d", ErrInvalidLeg, qty)
	}

	// 数量加权均价的滚动更新
	oldQty := o.FilledQty
	o.AvgPrice = (o.AvgPrice*float64(oldQty) + price*float64(qty)) / float64(oldQty+qty)
	o.FilledQty += qty
	o.RemainingQty = o.TotalQty() - o.FilledQty
	o.UpdatedAt = ts

	m.fills = append(m.fills, Fill{
		FillID:     fillID,
		OrderID:    orderID,
		LegID:      legID,
		Quantity:   qty,
		Price:      price,
		Commission: commission,
		Timestamp:  ts,
	})
	m.applied[fillID] = true
	m.totalCommission += commission

	m.book.ApplyFill(leg.Symbol, leg.Side, qty, price, &position.Meta{
		Underlying: leg.Underlying,
		Sector:     leg.Sector,
		OptionType: leg.OptionType,
		Strike:     leg.Strike,
		Expiry:     leg.Expiry,
	})

	// OCO: 任一腿成交即在经纪商侧撤销对手腿，此后对手腿拒绝成交
	if o.Kind == KindOCO {
		m.cancelCounterpartLegsLocked(ctx, o, legID)
	}

	// 有效数量扣除已撤销腿后判断是否完结
	if o.FilledQty >= m.effectiveQtyLocked(o) {
		m.setStatusLocked(o, StatusFilled)
	} else {
		m.setStatusLocked(o, StatusPartiallyFilled)
	}

	logger.Info("📊 成交落账: 订单 #%d %s %s %d@%.2f (已成交 %d/%d)",
		orderID, leg.Side, leg.Symbol, qty, price, o.FilledQty, o.TotalQty())

	if o.Status == StatusFilled {
		switch {
		case o.Kind == KindBracket && len(o.ChildIDs) > 0:
			// 父单成交后激活止损/止盈子单
			m.activateChildrenLocked(ctx, o)
		case o.ParentID != 0:
			// 子单成交后撤销兄弟单
			m.cancelSiblingsLocked(ctx, o)
		}
	}
	return nil
}

// effectiveQtyLocked 未被撤销腿的数量之和
func (m *Manager) effectiveQtyLocked(o *Order) int64 {
	var total int64
	for _, leg := range o.Legs {
		if !o.CancelledLegs[leg.ID] {
			total += leg.Quantity
		}
	}
	return total
}

func (m *Manager) cancelCounterpartLegsLocked(ctx context.Context, o *Order, filledLegID int) {
	for _, leg := range o.Legs {
		if leg.ID == filledLegID || o.CancelledLegs[leg.ID] {
			continue
		}
		if o.CancelledLegs == nil {
			o.CancelledLegs = make(map[int]bool)
		}
		o.CancelledLegs[leg.ID] = true
		if o.BrokerRef != "" {
			if err := m.broker.Cancel(ctx, o.BrokerRef); err != nil {
				logger.Error("❌ OCO 对手腿撤销失败: #%d 腿 %d %v", o.ID, leg.ID, err)
				continue
			}
		}
		logger.Info("📝 OCO 对手腿已撤销: #%d 腿 %d (%s)", o.ID, leg.ID, leg.Symbol)
	}
}

func (m *Manager) activateChildrenLocked(ctx context.Context, parent *Order) {
	for _, childID := range parent.ChildIDs {
		child, ok := m.orders[childID]
		if !ok || child.Status != StatusPending {
			continue
		}
		if err := m.submitLocked(ctx, childID); err != nil {
			logger.Error("❌ 括号单子单激活失败: #%d %v", childID, err)
		}
	}
}

func (m *Manager) cancelSiblingsLocked(ctx context.Context, child *Order) {
	parent, ok := m.orders[child.ParentID]
	if !ok {
		return
	}
	for _, sibID := range parent.ChildIDs {
		if sibID == child.ID {
			continue
		}
		if _, err := m.cancelLocked(ctx, sibID); err != nil {
			logger.Error("❌ 括号单兄弟单撤销失败: #%d %v", sibID, err)
		}
	}
}

// Get 查询订单副本，不存在返回 nil
func (m *Manager) Get(id int64) *Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil
	}
	cp := *o
	return &cp
}

// OpenOrders 全部活动订单
func (m *Manager) OpenOrders() []*Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Order
	for _, o := range m.orders {
		if !o.Status.IsTerminal() {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out
}

// AllOrders 全部订单
func (m *Manager) AllOrders() []*Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Order, 0, len(m.orders))
	for _, o := range m.orders {
		cp := *o
		out = append(out, &cp)
	}
	return out
}

// Fills 全部成交记录
func (m *Manager) Fills() []Fill {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Fill, len(m.fills))
	copy(out, m.fills)
	return out
}

// OpenCount 活动订单数
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openCountLocked()
}

// DailyCount 当日已创建订单数
func (m *Manager) DailyCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked()
	return m.dailyCount
}

// TotalCommission 累计手续费
func (m *Manager) TotalCommission() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalCommission
}

// State 账本持久化状态
type State struct {
	Orders     map[int64]*Order `json:"orders"`
	Fills      []Fill           `json:"fills"`
	NextID     int64            `json:"next_id"`
	FillSeq    int64            `json:"fill_seq"`
	Day        string           `json:"day"`
	DailyCount int64            `json:"daily_count"`
}

// ExportState 导出账本状态用于快照
func (m *Manager) ExportState() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	orders := make(map[int64]*Order, len(m.orders))
	for id, o := range m.orders {
		cp := *o
		orders[id] = &cp
	}
	fills := make([]Fill, len(m.fills))
	copy(fills, m.fills)

	return State{
		Orders:     orders,
		Fills:      fills,
		NextID:     m.nextID,
		FillSeq:    m.fillSeq,
		Day:        m.day,
		DailyCount: m.dailyCount,
	}
}

// RestoreState 从快照恢复账本
// 快照中的成交在恢复时登记为已应用，重启后的回放不会二次落账
func (m *Manager) RestoreState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.Orders != nil {
		m.orders = s.Orders
	}
	m.fills = s.Fills
	if s.NextID > m.nextID {
		m.nextID = s.NextID
	}
	if s.FillSeq > m.fillSeq {
		m.fillSeq = s.FillSeq
	}
	if s.Day != "" {
		m.day = s.Day
		m.dailyCount = s.DailyCount
	}

	m.applied = make(map[string]bool, len(m.fills))
	for _, f := range m.fills {
		m.applied[f.FillID] = true
	}
	m.refIndex = make(map[string]int64)
	for id, o := range m.orders {
		if o.BrokerRef == "" {
			continue
		}
		m.refIndex[o.BrokerRef] = id
		for _, part := range strings.Split(o.BrokerRef, ",") {
			m.refIndex[part] = id
		}
	}
	m.rollDayLocked()

	logger.Info("✅ 订单账本已恢复: %d 笔订单, %d 笔成交", len(m.orders), len(m.fills))
}
