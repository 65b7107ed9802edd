package websocket

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hainguyen99-cdm/xscan-sub002/internal/metrics"
	"github.com/hainguyen99-cdm/xscan-sub002/internal/models"
	"github.com/hainguyen99-cdm/xscan-sub002/internal/queue"
	"github.com/hainguyen99-cdm/xscan-sub002/internal/security"
	"github.com/hainguyen99-cdm/xscan-sub002/pkg/logging"
)

// Server→client event types
const (
	EventDonationAlert = "donationAlert"
	EventTestAlert     = "testAlert"
	EventJoinedRoom    = "joinedStreamerRoom"
)

// Client→server event type
const eventAlertCompleted = "alertCompleted"

// Message is the envelope for every event on the channel
type Message struct {
	Type      string                 `json:"type"`
	TenantID  string                 `json:"tenant_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// ackEvent is the sole acknowledgment signal the queue consumes
type ackEvent struct {
	Type     string `json:"type"`
	AlertID  string `json:"alert_id"`
	TenantID string `json:"tenant_id"`
}

// AckHandler receives client acknowledgments. Implemented by queue.Manager.
type AckHandler interface {
	Ack(tenantID, alertID string)
}

// Validator gates connections. Implemented by security.Authority.
type Validator interface {
	Validate(ctx context.Context, req security.ValidateRequest) (*security.ValidationResult, error)
}

// Hub maintains per-tenant rooms of overlay connections and bridges alerts
// out and acknowledgments back in.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]bool // tenant id -> connections

	register   chan *Client
	unregister chan *Client

	authority Validator
	acks      AckHandler
	logger    logging.Logger
	metrics   *metrics.Metrics
}

// Client represents one overlay WebSocket connection, already validated and
// bound to a tenant room.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	tenantID string
	logger   logging.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The overlay is loaded inside OBS from arbitrary origins
		return true
	},
}

// NewHub creates a realtime channel gateway
func NewHub(authority Validator, acks AckHandler, logger logging.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		authority:  authority,
		acks:       acks,
		logger:     logger,
		metrics:    m,
	}
}

// Run starts the hub's membership loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			room, ok := h.rooms[client.tenantID]
			if !ok {
				room = make(map[*Client]bool)
				h.rooms[client.tenantID] = room
			}
			room[client] = true
			count := len(room)
			h.mu.Unlock()

			if h.metrics != nil {
				h.metrics.HubConnections.WithLabelValues(client.tenantID).Set(float64(count))
			}
			h.logger.WithFields(logging.Fields{
				"tenant_id":  client.tenantID,
				"room_count": count,
			}).Info("Overlay connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if room, ok := h.rooms[client.tenantID]; ok {
				if _, member := room[client]; member {
					delete(room, client)
					close(client.send)
				}
				if len(room) == 0 {
					// Empty room releases all per-token bookkeeping
					delete(h.rooms, client.tenantID)
				}
			}
			count := len(h.rooms[client.tenantID])
			h.mu.Unlock()

			if h.metrics != nil {
				h.metrics.HubConnections.WithLabelValues(client.tenantID).Set(float64(count))
			}
			h.logger.WithFields(logging.Fields{
				"tenant_id":  client.tenantID,
				"room_count": count,
			}).Info("Overlay disconnected")
		}
	}
}

// SendAlert broadcasts a resolved alert to every connection in the tenant's
// room. During reconnects a room can briefly hold several physical
// connections; all receive the broadcast, one logical client acknowledges.
func (h *Hub) SendAlert(tenantID string, outbound queue.OutboundAlert) {
	eventType := EventDonationAlert
	if outbound.Alert.IsTest {
		eventType = EventTestAlert
	}

	data := map[string]interface{}{
		"alert_id":         outbound.Alert.AlertID,
		"donor_name":       outbound.Alert.DonorName,
		"formatted_amount": models.FormatAmount(outbound.Alert.Amount, outbound.Alert.Currency),
		"amount":           outbound.Alert.Amount,
		"currency":         outbound.Alert.Currency,
		"settings":         outbound.Settings,
	}
	if outbound.Alert.Message != "" {
		data["message"] = outbound.Alert.Message
	}
	if outbound.Level != nil {
		data["level"] = outbound.Level.Name
	}

	h.broadcast(tenantID, Message{
		Type:      eventType,
		TenantID:  tenantID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// ConnectionCount returns the number of live connections in a tenant's room
func (h *Hub) ConnectionCount(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[tenantID])
}

func (h *Hub) broadcast(tenantID string, msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal channel message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[tenantID] {
		select {
		case client.send <- payload:
		default:
			// Slow consumer; membership loop cleans up on unregister
			h.logger.WithField("tenant_id", tenantID).Warn("Dropping message to slow overlay connection")
		}
	}
}

// ServeWS upgrades an overlay connection. The channel token travels as a
// query parameter and is validated before the connection joins any room; a
// failed validation terminates the socket immediately.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))

	result, err := h.authority.Validate(r.Context(), security.ValidateRequest{
		Token:     token,
		ClientIP:  clientIP(r),
		UserAgent: r.UserAgent(),
		Signature: r.URL.Query().Get("signature"),
		Timestamp: r.URL.Query().Get("timestamp"),
		Nonce:     r.URL.Query().Get("nonce"),
	})
	if err != nil {
		h.logger.WithError(err).Error("Channel validation failed")
		http.Error(w, "validation unavailable", http.StatusServiceUnavailable)
		return
	}
	if !result.Valid {
		if h.metrics != nil {
			h.metrics.ValidationFailures.WithLabelValues(result.Reason).Inc()
		}
		http.Error(w, result.Reason, http.StatusUnauthorized)
		return
	}

	if result.Settings != nil && result.Settings.MaxConnections > 0 &&
		h.ConnectionCount(result.TenantID) >= result.Settings.MaxConnections {
		http.Error(w, "connection limit reached", http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, 64),
		tenantID: result.TenantID,
		logger:   h.logger,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()

	// The join ack goes to the joining connection only; room membership may
	// still be settling in the Run loop, so it must not rely on broadcast.
	client.sendMessage(Message{
		Type:      EventJoinedRoom,
		TenantID:  result.TenantID,
		Timestamp: time.Now().UTC(),
	})
}

// sendMessage queues a message on this connection alone
func (c *Client) sendMessage(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		c.logger.WithError(err).Error("Failed to marshal channel message")
		return
	}
	select {
	case c.send <- payload:
	default:
		c.logger.WithField("tenant_id", c.tenantID).Warn("Dropping message to slow overlay connection")
	}
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
)

// readPump consumes inbound events; alertCompleted is the only one acted on
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("WebSocket connection error")
			}
			break
		}

		var event ackEvent
		if err := json.Unmarshal(message, &event); err != nil {
			c.logger.WithError(err).Warn("Invalid channel event")
			continue
		}
		if event.Type != eventAlertCompleted || event.AlertID == "" {
			continue
		}

		// The connection's room decides the tenant; the payload tenant id is
		// advisory only.
		c.hub.acks.Ack(c.tenantID, event.AlertID)
	}
}

// writePump pushes outbound messages and keeps the connection alive
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

// clientIP extracts the originating address, honoring proxy headers
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	// RemoteAddr may be bracketed IPv6; SplitHostPort unwraps it
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
