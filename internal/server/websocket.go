package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-wallfollow/internal/follower"
)

// wsWriteTimeout bounds every write to a stream client
const wsWriteTimeout = 2 * time.Second

// WSHub manages WebSocket connections and broadcasts controller updates
type WSHub struct {
	controller   *follower.Controller
	logger       *slog.Logger
	writeTimeout time.Duration

	mu      sync.RWMutex
	clients map[*websocket.Conn]*wsClient

	cancelMu sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
}

// wsClient serializes writes to one connection
type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsClient) write(data []byte, timeout time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.conn.SetWriteDeadline(time.Now().Add(timeout))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// NewWSHub creates a new WebSocket hub
func NewWSHub(controller *follower.Controller, logger *slog.Logger) *WSHub {
	return &WSHub{
		controller:   controller,
		logger:       logger,
		writeTimeout: wsWriteTimeout,
		clients:      make(map[*websocket.Conn]*wsClient),
		done:         make(chan struct{}),
	}
}

// Message represents a WebSocket message
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Run forwards every controller update to connected clients
func (h *WSHub) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	h.cancelMu.Lock()
	h.cancel = cancel
	h.cancelMu.Unlock()
	defer close(h.done)

	if h.controller == nil {
		<-ctx.Done()
		return
	}

	// Read before subscribing so no transition is missed
	lastState := h.controller.State().String()

	updates := h.controller.Subscribe()
	defer h.controller.Unsubscribe(updates)

	h.logger.Info("websocket hub started")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("websocket hub stopped")
			return
		case u, ok := <-updates:
			if !ok {
				return
			}

			// Transitions carry no command
			if u.Control == "" {
				h.broadcast(Message{Type: "command", Data: u})
			}

			if state := u.State.String(); state != lastState {
				h.broadcast(Message{
					Type: "state",
					Data: map[string]interface{}{
						"state": state,
						"seq":   u.Seq,
					},
				})
				lastState = state
			}
		}
	}
}

func (h *WSHub) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("websocket marshal error", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if err := client.write(data, h.writeTimeout); err != nil {
			// The read loop unregisters the client once the conn is closed
			h.logger.Debug("websocket write error", "error", err)
			client.conn.Close()
		}
	}
}

// UpgradeHandler returns the WebSocket upgrade handler
func (h *WSHub) UpgradeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return websocket.New(h.handleConnection)(c)
		}

		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
			"error":   "WebSocket upgrade required",
			"message": "Connect via WebSocket to receive the command stream",
		})
	}
}

func (h *WSHub) handleConnection(c *websocket.Conn) {
	client := &wsClient{conn: c}

	h.mu.Lock()
	h.clients[c] = client
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("websocket client connected",
		"remote_addr", c.RemoteAddr().String(),
		"clients", clientCount,
	)

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		clientCount := len(h.clients)
		h.mu.Unlock()

		h.logger.Info("websocket client disconnected",
			"remote_addr", c.RemoteAddr().String(),
			"clients", clientCount,
		)
	}()

	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			break
		}

		h.handleCommand(client, msg)
	}
}

func (h *WSHub) handleCommand(client *wsClient, msg []byte) {
	var cmd struct {
		Type    string `json:"type"`
		Command string `json:"command"`
	}

	if err := json.Unmarshal(msg, &cmd); err != nil {
		return
	}

	reply := func(m Message) {
		data, err := json.Marshal(m)
		if err != nil {
			return
		}
		client.write(data, h.writeTimeout)
	}

	switch cmd.Type {
	case "ping":
		reply(Message{Type: "pong", Data: time.Now().Unix()})
	case "get_stats":
		if h.controller != nil {
			reply(Message{Type: "stats", Data: h.controller.Stats()})
		}
	case "get_state":
		if h.controller != nil {
			reply(Message{Type: "command", Data: h.controller.Snapshot()})
		}
	case "control":
		if h.controller == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
		defer cancel()
		if err := h.controller.SubmitControl(ctx, strings.TrimSpace(cmd.Command)); err != nil {
			reply(Message{Type: "error", Data: err.Error()})
		}
	}
}

// ClientCount returns the number of connected WebSocket clients
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close shuts down the WebSocket hub
func (h *WSHub) Close() {
	h.cancelMu.Lock()
	cancel := h.cancel
	h.cancelMu.Unlock()

	if cancel != nil {
		cancel()
		<-h.done
	}

	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]*wsClient)
	h.mu.Unlock()
}
