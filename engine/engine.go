package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fnobot/broker"
	"fnobot/config"
	"fnobot/database"
	"fnobot/event"
	"fnobot/greeks"
	"fnobot/lock"
	"fnobot/logger"
	"fnobot/metrics"
	"fnobot/notify"
	"fnobot/order"
	"fnobot/position"
	"fnobot/risk"
	"fnobot/safety"
	"fnobot/storage"
)

// Engine 交易引擎
// 单线程协作式主循环：一个周期内完成行情、成交、风控、信号、
// 处置与持久化，订单与持仓状态没有跨周期并发写入
type Engine struct {
	cfg      *config.Config
	broker   broker.Broker
	strategy Strategy

	book       *position.Book
	ledger     *order.Manager
	aggregator *risk.Aggregator
	registry   *risk.Registry
	monitor    *risk.Monitor
	responder  *risk.Responder
	gate       *Gate
	latches    *Latches
	detector   *RegimeDetector
	reconciler *safety.Reconciler

	store        *storage.Store
	history      *database.History
	bus          *event.Bus
	notifier     *notify.Service
	instanceLock lock.InstanceLock
	loc          *time.Location

	mu          sync.RWMutex
	cash        float64
	marginUsed  float64
	marginAvail float64
	lastSnap    *risk.Snapshot
	day         string

	wg sync.WaitGroup
}

// New 装配交易引擎
func New(cfg *config.Config, bk broker.Broker, strategy Strategy, history *database.History, instanceLock lock.InstanceLock, hedger risk.Hedger) *Engine {
	loc := time.Local
	if cfg.System.Timezone != "" {
		if l, err := time.LoadLocation(cfg.System.Timezone); err == nil {
			loc = l
		} else {
			logger.Warn("⚠️ 时区 %s 无法加载, 使用本地时区: %v", cfg.System.Timezone, err)
		}
	}
	if strategy == nil {
		strategy = NoopStrategy{}
	}
	if instanceLock == nil {
		instanceLock = lock.NopLock{}
	}

	book := position.NewBook()
	ledger := order.NewManager(cfg, bk, book, loc)
	latches := NewLatches()

	e := &Engine{
		cfg:          cfg,
		broker:       bk,
		strategy:     strategy,
		book:         book,
		ledger:       ledger,
		aggregator:   risk.NewAggregator(greeks.NewCalculator(), cfg.Risk.RiskFreeRate, cfg.Trading.InitialCapital),
		registry:     risk.NewRegistry(risk.LimitsFromConfig(&cfg.RiskLimits)),
		monitor:      risk.NewMonitor(cfg),
		latches:      latches,
		gate:         NewGate(latches, book),
		detector:     NewRegimeDetector(),
		reconciler:   safety.NewReconciler(cfg, bk, book),
		store:        storage.NewStore(cfg.Storage.SnapshotPath),
		history:      history,
		bus:          event.NewBus(1000),
		notifier:     notify.NewService(cfg),
		instanceLock: instanceLock,
		loc:          loc,
		cash:         cfg.Trading.InitialCapital,
		day:          time.Now().In(loc).Format("2006-01-02"),
	}
	e.responder = risk.NewResponder(cfg, ledger, book, hedger)

	// 告警落库、计数并广播；回调内 panic 由监控器兜底
	e.monitor.Subscribe(func(a risk.Alert) {
		metrics.RiskAlerts.WithLabelValues(a.Category, string(a.Type)).Inc()
		if e.history != nil {
			e.history.SaveAlert(a)
		}
		e.bus.Publish(event.New(event.TypeRiskAlert, map[string]interface{}{
			"category": a.Category,
			"type":     string(a.Type),
			"message":  a.Message,
			"severity": a.Severity,
		}))
	})

	return e
}

// Restore 启动时从快照恢复账本与闩锁
// 快照缺失按全新启动处理，损坏只记录不阻止启动
func (e *Engine) Restore() {
	snap, err := e.store.Load()
	if err != nil {
		logger.Error("❌ %v, 以内存状态启动", err)
		return
	}
	if snap == nil {
		return
	}

	e.book.Load(snap.Positions)
	e.book.SetClosedRealizedPnL(snap.ClosedRealizedPnL)
	e.ledger.RestoreState(snap.Ledger)
	e.aggregator.RestoreState(snap.Risk)
	e.latches.Restore(snap.KillSwitch, snap.EmergencyStop, snap.Enabled())
	if snap.Cash > 0 {
		e.cash = snap.Cash
	}
	e.marginUsed = snap.MarginUsed
}

// Run 主循环，阻塞直到 ctx 取消
func (e *Engine) Run(ctx context.Context) error {
	if err := e.instanceLock.Acquire(ctx); err != nil {
		return fmt.Errorf("启动中止: %w", err)
	}
	defer e.instanceLock.Release(context.Background())

	e.wg.Add(1)
	go e.pumpEvents(ctx)

	e.bus.Publish(event.New(event.TypeSystemStart, map[string]interface{}{
		"broker":   e.broker.Name(),
		"strategy": e.strategy.Name(),
	}))
	logger.Info("🚀 交易引擎启动: broker=%s strategy=%s universe=%v",
		e.broker.Name(), e.strategy.Name(), e.cfg.Trading.Universe)

	interval := time.Duration(e.cfg.Trading.TickIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	backoff := time.Duration(e.cfg.Trading.ErrorBackoffSec) * time.Second
	if backoff <= 0 {
		backoff = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("🛑 交易引擎停止中...")
			e.bus.Publish(event.New(event.TypeSystemStop, nil))
			e.persist()
			e.bus.Close()
			e.wg.Wait()
			return nil
		case <-ticker.C:
			start := time.Now()
			metrics.TickTotal.Inc()
			if err := e.tick(ctx); err != nil {
				metrics.TickErrors.Inc()
				logger.Error("❌ 周期异常: %v, %s 后继续", err, backoff)
				e.bus.Publish(event.New(event.TypeError, map[string]interface{}{"error": err.Error()}))
				// 传输类故障退避后继续，绝不终止进程
				select {
				case <-ctx.Done():
				case <-time.After(backoff):
				}
			}
			metrics.TickDuration.Observe(time.Since(start).Seconds())
		}
	}
}

// tick 一个完整交易周期
func (e *Engine) tick(ctx context.Context) error {
	now := time.Now().In(e.loc)
	e.rollDayIfNeeded(now)

	// 行情
	quotes, err := e.broker.Quotes(ctx, e.cfg.Trading.Universe)
	if err != nil {
		metrics.BrokerCalls.WithLabelValues("quotes", "error").Inc()
		return fmt.Errorf("行情拉取失败: %w", err)
	}
	metrics.BrokerCalls.WithLabelValues("quotes", "ok").Inc()
	e.book.Mark(quotes)
	e.detector.Observe(quotes)

	// 资金
	if fl, err := e.broker.FundLimits(ctx); err != nil {
		metrics.BrokerCalls.WithLabelValues("fundlimits", "error").Inc()
		logger.Warn("⚠️ 资金查询失败, 沿用上期数据: %v", err)
	} else {
		metrics.BrokerCalls.WithLabelValues("fundlimits", "ok").Inc()
		e.mu.Lock()
		e.cash = fl.Cash
		e.marginUsed = fl.UsedMargin
		e.marginAvail = fl.AvailableMargin
		e.mu.Unlock()
	}

	// 成交回报
	e.applyFills(ctx)

	md := &risk.MarketData{
		Timestamp: now,
		Prices:    quotes,
		Spots:     quotes,
		Regime:    e.detector.Regime(),
	}

	// 风险快照与动态预算
	snap := e.aggregator.Compute(e.book, e.cash, e.marginUsed, e.marginAvail, md)
	limits := e.registry.Adjust(e.detector.Volatility(), md.Regime, snap.MinDaysToExpiry)

	e.mu.Lock()
	e.lastSnap = snap
	e.mu.Unlock()

	// 分级告警
	e.monitor.Check(snap, limits)

	// 硬限额检查与处置
	safe, violations := risk.CheckLimits(snap, limits)
	if !safe {
		for _, v := range violations {
			metrics.RiskViolations.WithLabelValues(v.Category).Inc()
			if e.history != nil {
				e.history.SaveViolation(v, "")
			}
			logger.Warn("🛑 风险违规: %s", v.Message)
		}
		e.bus.Publish(event.New(event.TypeRiskViolation, map[string]interface{}{
			"count": len(violations),
		}))

		// 当日亏损达到预算两倍视为失控，触发紧急停止
		for _, v := range violations {
			if v.Category == risk.CategoryDailyLoss && v.Value >= 2*v.Limit {
				e.latches.TripEmergencyStop(fmt.Sprintf("当日亏损 %.2f 达到预算 %.2f 的两倍", v.Value, v.Limit))
				e.bus.Publish(event.New(event.TypeEmergencyStop, map[string]interface{}{"reason": e.latches.Reason()}))
			}
		}

		if !e.latches.Blocked() {
			e.responder.Respond(ctx, snap, violations)
		} else {
			logger.Warn("⏸️ 闩锁已触发, 跳过自动处置")
		}
	}

	// 策略信号：闩锁在任何信号处理之前检查
	if !e.latches.Blocked() {
		for _, sig := range e.strategy.Signals(now, md, e.book.All()) {
			if ok, reason := e.gate.Allow(sig, snap, limits, quotes[sig.Symbol]); !ok {
				metrics.OrdersRejected.WithLabelValues("gate").Inc()
				logger.Info("⏸️ 信号被闸门拒绝: %s %s %d (%s)", sig.Side, sig.Symbol, sig.Quantity, reason)
				continue
			}
			e.submitSignal(ctx, sig)
		}
	}

	// 持仓对账
	if e.reconciler.Due(now) {
		if _, err := e.reconciler.Reconcile(ctx); err != nil {
			logger.Warn("⚠️ 对账失败: %v", err)
		}
	}

	e.updateGauges(snap)
	if err := e.instanceLock.Refresh(ctx); err != nil {
		logger.Warn("⚠️ %v", err)
	}

	// 周期末尾落盘，at-least-once，重启后按 fill_id 幂等回放
	e.persist()
	return nil
}

// applyFills 拉取并落账成交回报
func (e *Engine) applyFills(ctx context.Context) {
	fills, err := e.broker.PollFills(ctx)
	if err != nil {
		metrics.BrokerCalls.WithLabelValues("fills", "error").Inc()
		logger.Warn("⚠️ 成交回报拉取失败: %v", err)
		return
	}
	metrics.BrokerCalls.WithLabelValues("fills", "ok").Inc()

	for _, ev := range fills {
		if err := e.ledger.ApplyBrokerFill(ctx, ev); err != nil {
			logger.Warn("⚠️ 成交落账失败: %s %v", ev.FillRef, err)
			continue
		}
		metrics.FillsApplied.Inc()
		e.bus.Publish(event.New(event.TypeOrderFilled, map[string]interface{}{
			"symbol":   ev.Symbol,
			"side":     ev.Side,
			"quantity": ev.Quantity,
			"price":    ev.Price,
		}))
	}
}

// submitSignal 交易意图转订单并提交，括号参数齐备时走括号单
func (e *Engine) submitSignal(ctx context.Context, sig Signal) {
	leg := order.Leg{
		Symbol:     sig.Symbol,
		Side:       sig.Side,
		Quantity:   sig.Quantity,
		LimitPrice: sig.LimitPrice,
		StopPrice:  sig.StopPrice,
		Underlying: sig.Underlying,
		Sector:     sig.Sector,
		OptionType: sig.OptionType,
		Strike:     sig.Strike,
		Expiry:     sig.Expiry,
	}

	var id int64
	var err error
	if sig.StopLoss > 0 && sig.TakeProfit > 0 {
		exitSide := broker.SideSell
		if sig.Side == broker.SideSell {
			exitSide = broker.SideBuy
		}
		stop := leg
		stop.Side = exitSide
		stop.LimitPrice = 0
		stop.StopPrice = sig.StopLoss
		target := leg
		target.Side = exitSide
		target.LimitPrice = sig.TakeProfit
		target.StopPrice = 0
		id, err = e.ledger.CreateBracketOrder(leg, stop, target)
		metrics.OrdersCreated.WithLabelValues(string(order.KindBracket)).Inc()
	} else {
		id, err = e.ledger.CreateOrder(order.KindSingle, []order.Leg{leg}, 0)
		metrics.OrdersCreated.WithLabelValues(string(order.KindSingle)).Inc()
	}
	if err != nil {
		if order.IsCapacity(err) {
			metrics.OrdersRejected.WithLabelValues("capacity").Inc()
		}
		logger.Warn("⚠️ 订单创建被拒: %s %s %d %v", sig.Side, sig.Symbol, sig.Quantity, err)
		return
	}

	if err := e.ledger.SubmitOrder(ctx, id); err != nil {
		logger.Error("❌ 订单提交失败: #%d %v", id, err)
		return
	}
	e.bus.Publish(event.New(event.TypeOrderPlaced, map[string]interface{}{
		"order_id": id,
		"symbol":   sig.Symbol,
		"side":     sig.Side,
		"quantity": sig.Quantity,
	}))
}

// rollDayIfNeeded 交易日切换时重置当日盈亏基准
func (e *Engine) rollDayIfNeeded(now time.Time) {
	today := now.Format("2006-01-02")
	if today == e.day {
		return
	}
	e.day = today

	equity := e.cash
	if snap := e.LastSnapshot(); snap != nil {
		equity = snap.PortfolioValue
	}
	e.aggregator.RollDay(equity)
	e.bus.Publish(event.New(event.TypeDayRoll, map[string]interface{}{"day": today}))
}

// persist 账本落盘，失败只记录，内存状态保持权威
func (e *Engine) persist() {
	e.mu.RLock()
	cash, marginUsed := e.cash, e.marginUsed
	var dailyPnL, totalPnL float64
	if e.lastSnap != nil {
		dailyPnL = e.lastSnap.DailyPnL
		totalPnL = e.lastSnap.RealizedPnL + e.lastSnap.UnrealizedPnL
	}
	e.mu.RUnlock()

	enabled := e.latches.TradingEnabled()
	snap := &storage.Snapshot{
		Positions:         e.book.Export(),
		ClosedRealizedPnL: e.book.ClosedRealizedPnL(),
		Ledger:            e.ledger.ExportState(),
		Cash:              cash,
		MarginUsed:        marginUsed,
		DailyPnL:          dailyPnL,
		TotalPnL:          totalPnL,
		Risk:              e.aggregator.ExportState(),
		TradingEnabled:    &enabled,
		KillSwitch:        e.latches.KillSwitch(),
		EmergencyStop:     e.latches.EmergencyStop(),
	}
	if err := e.store.Save(snap); err != nil {
		logger.Error("❌ %v", err)
	}
}

// pumpEvents 把总线事件转发到通知渠道
func (e *Engine) pumpEvents(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-e.bus.Subscribe():
			if !ok {
				return
			}
			e.notifier.Send(evt)
		}
	}
}

func (e *Engine) updateGauges(snap *risk.Snapshot) {
	metrics.PortfolioValue.Set(snap.PortfolioValue)
	metrics.DailyPnL.Set(snap.DailyPnL)
	metrics.CurrentDrawdown.Set(snap.CurrentDrawdown)
	metrics.MarginUsage.Set(snap.MarginUsage)
	metrics.PositionCount.Set(float64(snap.PositionCount))
	metrics.OpenOrders.Set(float64(e.ledger.OpenCount()))
	metrics.GreekExposure.WithLabelValues("delta").Set(snap.TotalDelta)
	metrics.GreekExposure.WithLabelValues("gamma").Set(snap.TotalGamma)
	metrics.GreekExposure.WithLabelValues("theta").Set(snap.TotalTheta)
	metrics.GreekExposure.WithLabelValues("vega").Set(snap.TotalVega)
	if e.latches.KillSwitch() || e.latches.EmergencyStop() {
		metrics.KillSwitchActive.Set(1)
	} else {
		metrics.KillSwitchActive.Set(0)
	}
}

// ApplyConfig 配置热更新入口，只接受风险预算的变更
func (e *Engine) ApplyConfig(cfg *config.Config) {
	e.registry.UpdateBase(risk.LimitsFromConfig(&cfg.RiskLimits))
}

// LastSnapshot 最近一期风险快照
func (e *Engine) LastSnapshot() *risk.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSnap
}

// Ledger 订单账本
func (e *Engine) Ledger() *order.Manager { return e.ledger }

// Book 持仓账本
func (e *Engine) Book() *position.Book { return e.book }

// Monitor 风险监控器
func (e *Engine) Monitor() *risk.Monitor { return e.monitor }

// Latches 熔断开关组
func (e *Engine) Latches() *Latches { return e.latches }

// Bus 事件总线
func (e *Engine) Bus() *event.Bus { return e.bus }
