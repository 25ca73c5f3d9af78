package web

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fnobot/config"
	"fnobot/engine"
	"fnobot/logger"
	"fnobot/risk"
)

// Server 监控 API 服务
// 只读视图 + 熔断操作入口，交易决策永远在主循环内完成
type Server struct {
	cfg    *config.Config
	engine *engine.Engine
	hub    *alertHub
	srv    *http.Server
}

// NewServer 创建监控服务
func NewServer(cfg *config.Config, eng *engine.Engine) *Server {
	s := &Server{cfg: cfg, engine: eng, hub: newAlertHub()}

	// 告警实时推送到 WebSocket 订阅端
	eng.Monitor().Subscribe(func(a risk.Alert) {
		s.hub.Broadcast(a)
	})
	return s
}

// Start 启动 HTTP 服务，非阻塞
func (s *Server) Start() error {
	if !s.cfg.Web.Enabled {
		logger.Info("⏸️ 监控服务未启用")
		return nil
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws/alerts", s.handleAlertsWS)

	api := r.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/positions", s.getPositions)
		api.GET("/orders", s.getOrders)
		api.GET("/risk", s.getRisk)
		api.GET("/alerts", s.getAlerts)
		api.POST("/killswitch", s.postKillSwitch)
	}

	listen := s.cfg.Web.Listen
	if listen == "" {
		listen = ":8787"
	}
	s.srv = &http.Server{Addr: listen, Handler: r}

	go s.hub.Run()
	go func() {
		logger.Info("🌐 监控服务已启动: %s", listen)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("❌ 监控服务异常退出: %v", err)
		}
	}()
	return nil
}

// Stop 优雅关闭
func (s *Server) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		logger.Warn("⚠️ 监控服务关闭超时: %v", err)
	}
}

func (s *Server) getStatus(c *gin.Context) {
	latches := s.engine.Latches()
	c.JSON(http.StatusOK, gin.H{
		"trading_enabled": latches.TradingEnabled(),
		"kill_switch":     latches.KillSwitch(),
		"emergency_stop":  latches.EmergencyStop(),
		"latch_reason":    latches.Reason(),
		"open_orders":     s.engine.Ledger().OpenCount(),
		"positions":       s.engine.Book().Count(),
		"timestamp":       time.Now(),
	})
}

func (s *Server) getPositions(c *gin.Context) {
	all := s.engine.Book().All()
	out := make([]interface{}, 0, len(all))
	symbols := make([]string, 0, len(all))
	for symbol := range all {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	for _, symbol := range symbols {
		out = append(out, all[symbol])
	}
	c.JSON(http.StatusOK, gin.H{"positions": out})
}

func (s *Server) getOrders(c *gin.Context) {
	orders := s.engine.Ledger().AllOrders()
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	if c.Query("open") == "true" {
		orders = s.engine.Ledger().OpenOrders()
		sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) getRisk(c *gin.Context) {
	snap := s.engine.LastSnapshot()
	if snap == nil {
		c.JSON(http.StatusOK, gin.H{"snapshot": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshot": snap, "summary": s.engine.Monitor().Summary()})
}

func (s *Server) getAlerts(c *gin.Context) {
	monitor := s.engine.Monitor()

	var alerts []risk.Alert
	switch {
	case c.Query("category") != "":
		alerts = monitor.AlertsByCategory(c.Query("category"))
	case c.Query("type") != "":
		alerts = monitor.AlertsByType(risk.AlertType(c.Query("type")))
	case c.Query("from") != "":
		from, err := time.Parse(time.RFC3339, c.Query("from"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from 时间格式应为 RFC3339"})
			return
		}
		to := time.Now()
		if c.Query("to") != "" {
			if t, err := time.Parse(time.RFC3339, c.Query("to")); err == nil {
				to = t
			}
		}
		alerts = monitor.AlertsByTime(from, to)
	default:
		alerts = monitor.History()
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 && limit < len(alerts) {
			alerts = alerts[len(alerts)-limit:]
		}
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

// postKillSwitch 熔断操作: action ∈ {trip, emergency, reset}
func (s *Server) postKillSwitch(c *gin.Context) {
	var req struct {
		Action   string `json:"action" binding:"required"`
		Reason   string `json:"reason"`
		Operator string `json:"operator"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	latches := s.engine.Latches()
	switch req.Action {
	case "trip":
		latches.TripKillSwitch("api: " + req.Reason)
	case "emergency":
		latches.TripEmergencyStop("api: " + req.Reason)
	case "reset":
		if req.Operator == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "复位需要 operator 字段"})
			return
		}
		latches.OperatorReset(req.Operator)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "action 应为 trip / emergency / reset"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"kill_switch":    latches.KillSwitch(),
		"emergency_stop": latches.EmergencyStop(),
	})
}
