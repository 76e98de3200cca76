package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tethbox/backend/internal/domain"
	"tethbox/backend/internal/monitoring"
)

// ErrHubClosed Hub 已停止
var ErrHubClosed = errors.New("websocket hub closed")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				return true
			}
			for _, origin := range allowedOrigins {
				if origin == "*" || origin == requestOrigin {
					return true
				}
			}
			return false
		},
	}
}

// MessageType 定义WebSocket消息类型
type MessageType string

const (
	MessageTypeNewMail MessageType = "new_mail"
	MessageTypePing    MessageType = "ping"
	MessageTypePong    MessageType = "pong"
)

// Message 定义WebSocket消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMailData 新邮件通知数据，字段与收件箱列表项一致
type NewMailData struct {
	Key           string `json:"key"`
	SenderName    string `json:"sender_name"`
	SenderAddress string `json:"sender_address"`
	Sender        string `json:"sender"`
	Date          int64  `json:"date"`
	Subject       string `json:"subject"`
	Read          bool   `json:"read"`
}

// EncodeNewMail 把新邮件编码为推送给客户端的消息
func EncodeNewMail(msg *domain.Message) ([]byte, error) {
	data, err := json.Marshal(NewMailData{
		Key:           msg.ID,
		SenderName:    msg.SenderName,
		SenderAddress: msg.SenderAddress,
		Sender:        msg.Sender(),
		Date:          msg.Date.Unix(),
		Subject:       msg.Subject,
		Read:          msg.Read,
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(&Message{Type: MessageTypeNewMail, Data: data, Timestamp: time.Now()})
}

// Client 代表一个WebSocket客户端连接，绑定到一个账户
type Client struct {
	ID        string
	AccountID int64
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
}

type broadcastMessage struct {
	accountID int64
	payload   []byte
}

// Hub 管理所有WebSocket连接
type Hub struct {
	accounts   map[int64]map[string]*Client // accountID -> clientID -> Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastMessage
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	metrics    *monitoring.Metrics
	log        *zap.Logger
}

// NewHub 创建WebSocket Hub
//
// allowedOrigins 为空时允许所有来源。
func NewHub(allowedOrigins []string, metrics *monitoring.Metrics, log *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	return &Hub{
		accounts:   make(map[int64]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastMessage, 256),
		done:       make(chan struct{}),
		upgrader:   upgraderFactory(allowedOrigins),
		metrics:    metrics,
		log:        log,
	}
}

// Run 启动Hub
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.log.Info("websocket hub stopped")
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.accounts[client.AccountID] == nil {
				h.accounts[client.AccountID] = make(map[string]*Client)
			}
			h.accounts[client.AccountID][client.ID] = client
			h.mu.Unlock()
			h.metrics.WebSocketClients.Inc()
			h.log.Debug("client registered", zap.String("id", client.ID), zap.Int64("account_id", client.AccountID))

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			h.broadcastToAccount(msg.accountID, msg.payload)

		case <-ticker.C:
			h.pingAllClients()
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.accounts[client.AccountID]
	if !ok {
		return
	}
	if _, ok := clients[client.ID]; !ok {
		return
	}
	delete(clients, client.ID)
	if len(clients) == 0 {
		delete(h.accounts, client.AccountID)
	}
	close(client.send)
	h.metrics.WebSocketClients.Dec()
	h.log.Debug("client unregistered", zap.String("id", client.ID))
}

// NotifyNewMail 通知账户的在线客户端有新邮件
func (h *Hub) NotifyNewMail(_ context.Context, accountID int64, msg *domain.Message) {
	payload, err := EncodeNewMail(msg)
	if err != nil {
		h.log.Error("failed to marshal new mail data", zap.Error(err))
		return
	}
	h.Broadcast(accountID, payload)
}

// Broadcast 向账户的在线客户端发送已编码的消息。队列满时丢弃。
func (h *Hub) Broadcast(accountID int64, payload []byte) {
	select {
	case h.broadcast <- broadcastMessage{accountID: accountID, payload: payload}:
	default:
		h.log.Warn("websocket broadcast queue full", zap.Int64("account_id", accountID))
	}
}

// ClientCount 返回账户的在线客户端数量
func (h *Hub) ClientCount(accountID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.accounts[accountID])
}

// broadcastToAccount 向账户的客户端广播消息
func (h *Hub) broadcastToAccount(accountID int64, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.accounts[accountID] {
		select {
		case client.send <- payload:
		default:
			h.log.Warn("client channel blocked, skipping", zap.String("clientID", client.ID))
		}
	}
}

// pingAllClients 向所有客户端发送ping
func (h *Hub) pingAllClients() {
	data, err := json.Marshal(&Message{Type: MessageTypePing, Timestamp: time.Now()})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, clients := range h.accounts {
		for _, client := range clients {
			select {
			case client.send <- data:
			default:
			}
		}
	}
}

// closeAllClients 关闭所有客户端连接
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, clients := range h.accounts {
		for _, client := range clients {
			close(client.send)
			h.metrics.WebSocketClients.Dec()
		}
	}
	h.accounts = make(map[int64]map[string]*Client)
}

// Serve 升级连接并把客户端绑定到账户。调用方负责确认会话拥有该账户。
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, accountID int64) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("failed to upgrade connection",
			zap.Error(err),
			zap.String("origin", r.Header.Get("Origin")))
		return err
	}

	client := &Client{
		ID:        uuid.NewString(),
		AccountID: accountID,
		conn:      conn,
		send:      make(chan []byte, 64),
		hub:       h,
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return ErrHubClosed
	}

	go client.writePump()
	go client.readPump()
	return nil
}

// readPump 读取客户端消息，只处理 pong
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		if msg.Type == MessageTypePong {
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
		}
	}
}

// writePump 发送消息给客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
