package web

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"fnobot/logger"
	"fnobot/risk"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// alertHub 管理告警推送的 WebSocket 连接
type alertHub struct {
	mu         sync.RWMutex
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
}

func newAlertHub() *alertHub {
	return &alertHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run 主循环，串行处理注册与广播
func (h *alertHub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			logger.Info("🔌 告警推送连接建立，当前连接数: %d", h.count())

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					logger.Warn("⚠️ 告警推送失败，断开连接: %v", err)
					conn.Close()
					go func(c *websocket.Conn) { h.unregister <- c }(conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast 推送一条告警，通道满时丢弃
func (h *alertHub) Broadcast(a risk.Alert) {
	data, err := json.Marshal(a)
	if err != nil {
		logger.Error("❌ 告警序列化失败: %v", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		logger.Warn("⚠️ 告警推送通道已满，丢弃消息")
	}
}

func (h *alertHub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleAlertsWS 升级连接并保持到客户端断开
func (s *Server) handleAlertsWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("❌ WebSocket 升级失败: %v", err)
		return
	}
	s.hub.register <- conn

	// 读循环只用于感知断开，忽略客户端消息
	go func() {
		defer func() { s.hub.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
