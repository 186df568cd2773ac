// internal/api/websocket.go
package api

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/Corphon/ViralScript/internal/models"
	"github.com/Corphon/ViralScript/internal/utils"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10
	sendBacklog = 16
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 本地单用户工具，不限制来源
		return true
	},
}

// SessionEvent 推送给浏览器的消息
type SessionEvent struct {
	Type      string              `json:"type"`
	Session   *models.SessionView `json:"session,omitempty"`
	Error     string              `json:"error,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// WebSocketClient 表示一个 WebSocket 客户端连接
type WebSocketClient struct {
	conn      *websocket.Conn
	sessionID string
	send      chan []byte
	done      chan struct{}
	closed    int32 // 原子操作标志，0=开启，1=关闭
	createdAt time.Time
}

// Close 安全关闭客户端连接
func (client *WebSocketClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		close(client.done)
		_ = client.conn.Close()
	}
}

// IsClosed 检查连接是否已关闭
func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// enqueue 非阻塞写入发送队列，队列满时断开慢客户端
func (client *WebSocketClient) enqueue(msg []byte) bool {
	if client.IsClosed() {
		return false
	}
	select {
	case client.send <- msg:
		return true
	default:
		client.Close()
		return false
	}
}

// SessionHub 按会话ID管理 WebSocket 连接
type SessionHub struct {
	mu          sync.RWMutex
	connections map[string]map[*WebSocketClient]struct{} // sessionID -> clients
	logger      *utils.Logger
	metrics     *utils.APIMetrics
}

// NewSessionHub 创建连接管理器
func NewSessionHub(metrics *utils.APIMetrics) *SessionHub {
	return &SessionHub{
		connections: make(map[string]map[*WebSocketClient]struct{}),
		logger:      utils.GetLogger(),
		metrics:     metrics,
	}
}

func (hub *SessionHub) register(client *WebSocketClient) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if hub.connections[client.sessionID] == nil {
		hub.connections[client.sessionID] = make(map[*WebSocketClient]struct{})
	}
	hub.connections[client.sessionID][client] = struct{}{}
	hub.metrics.Collector().IncGauge("ws_connections")

	hub.logger.Debug("websocket client connected", map[string]interface{}{"session_id": client.sessionID})
}

func (hub *SessionHub) unregister(client *WebSocketClient) {
	hub.mu.Lock()
	if clients, ok := hub.connections[client.sessionID]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			hub.metrics.Collector().DecGauge("ws_connections")
		}
		if len(clients) == 0 {
			delete(hub.connections, client.sessionID)
		}
	}
	hub.mu.Unlock()

	client.Close()
	hub.logger.Debug("websocket client disconnected", map[string]interface{}{"session_id": client.sessionID})
}

// Publish 把会话快照推送给订阅该会话的所有连接
func (hub *SessionHub) Publish(view models.SessionView) {
	hub.mu.RLock()
	clients := make([]*WebSocketClient, 0, len(hub.connections[view.ID]))
	for client := range hub.connections[view.ID] {
		clients = append(clients, client)
	}
	hub.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	msg, err := json.Marshal(SessionEvent{Type: "session", Session: &view, Timestamp: time.Now()})
	if err != nil {
		hub.logger.Error("failed to encode session event", map[string]interface{}{"error": err})
		return
	}

	for _, client := range clients {
		if !client.enqueue(msg) {
			hub.logger.Warn("dropping slow websocket client", map[string]interface{}{"session_id": view.ID})
		}
	}
}

// Shutdown 关闭所有连接
func (hub *SessionHub) Shutdown() {
	hub.mu.Lock()
	all := make([]*WebSocketClient, 0)
	for _, clients := range hub.connections {
		for client := range clients {
			all = append(all, client)
		}
	}
	hub.connections = make(map[string]map[*WebSocketClient]struct{})
	hub.mu.Unlock()

	for _, client := range all {
		client.Close()
	}
}

// GetStatus 获取连接状态
func (hub *SessionHub) GetStatus() map[string]interface{} {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	total := 0
	for _, clients := range hub.connections {
		total += len(clients)
	}
	return map[string]interface{}{
		"total_sessions":    len(hub.connections),
		"total_connections": total,
	}
}

// SessionWebSocket 订阅会话变化：连接后先发送当前快照，之后每次变化推送一次
func (h *Handler) SessionWebSocket(c *gin.Context) {
	view, err := h.Sessions.Get(c.Param("id"))
	if err != nil {
		h.Response.AppError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", map[string]interface{}{"error": err})
		return
	}

	client := &WebSocketClient{
		conn:      conn,
		sessionID: view.ID,
		send:      make(chan []byte, sendBacklog),
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
	h.Hub.register(client)
	defer h.Hub.unregister(client)

	if msg, err := json.Marshal(SessionEvent{Type: "session", Session: &view, Timestamp: time.Now()}); err == nil {
		client.enqueue(msg)
	}

	go writePump(client)
	readPump(client)
}

// readPump 只处理控制帧，读取失败即断开
func readPump(client *WebSocketClient) {
	client.conn.SetReadLimit(1024)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(client *WebSocketClient) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-client.done:
			return
		case msg := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				client.Close()
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				client.Close()
				return
			}
		}
	}
}
