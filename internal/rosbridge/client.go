// Package rosbridge connects the follower to a ROS graph through a
// rosbridge v2 websocket server
package rosbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-wallfollow/internal/config"
	"github.com/teslashibe/go-wallfollow/internal/policy"
	"github.com/teslashibe/go-wallfollow/internal/protocol"
	"github.com/teslashibe/go-wallfollow/internal/scan"
)

var (
	// ErrNotConnected is returned when publishing without a live connection
	ErrNotConnected = errors.New("rosbridge: not connected")
	// ErrQueueFull is returned when the outbound queue cannot take a command
	ErrQueueFull = errors.New("rosbridge: send queue full")
)

// Config holds rosbridge client configuration
type Config struct {
	URL              string        // e.g. "ws://localhost:9090"
	ScanTopic        string        // sensor_msgs/LaserScan input
	ControlTopic     string        // std_msgs/String start/stop input
	CmdVelTopic      string        // geometry_msgs/Twist output
	ReconnectBackoff time.Duration // Initial reconnect delay
	MaxBackoff       time.Duration // Maximum reconnect delay
	PingInterval     time.Duration // Ping interval for keepalive
	WriteTimeout     time.Duration // Write timeout
	SendQueue        int           // Outbound twist queue depth
	ThrottleMs       int           // Scan throttle_rate requested from rosbridge
	FilterOutOfRange bool          // Replace readings outside [range_min, range_max] with +Inf
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return ConfigFrom(config.Default().Rosbridge)
}

// ConfigFrom maps the file configuration onto a client Config
func ConfigFrom(rc config.RosbridgeConfig) Config {
	return Config{
		URL:              rc.URL,
		ScanTopic:        rc.ScanTopic,
		ControlTopic:     rc.ControlTopic,
		CmdVelTopic:      rc.CmdVelTopic,
		ReconnectBackoff: rc.ReconnectBackoff,
		MaxBackoff:       rc.MaxBackoff,
		PingInterval:     rc.PingInterval,
		WriteTimeout:     rc.WriteTimeout,
		SendQueue:        rc.SendQueue,
		ThrottleMs:       rc.ThrottleMs,
		FilterOutOfRange: rc.FilterOutOfRange,
	}
}

// Client subscribes to scans and control tokens and publishes velocity commands
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	writeMu   sync.Mutex // serializes data frames on conn
	conn      *websocket.Conn
	connected bool
	session   chan struct{} // closed when the current connection ends
	cancel    context.CancelFunc

	onScan    func(scan.Sweep)
	onControl func(string)

	send chan []byte

	// Stats
	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	scansReceived    atomic.Uint64
	controlsReceived atomic.Uint64
	twistsDropped    atomic.Uint64
	parseErrors      atomic.Uint64
	reconnects       atomic.Uint64
}

// NewClient creates a new rosbridge client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = 1
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 10 * time.Second
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.ReconnectBackoff {
		cfg.MaxBackoff = cfg.ReconnectBackoff
	}

	return &Client{
		cfg:    cfg,
		logger: logger.With("component", "rosbridge"),
		send:   make(chan []byte, cfg.SendQueue),
	}
}

// OnScan sets the callback for laser sweeps
func (c *Client) OnScan(callback func(scan.Sweep)) {
	c.mu.Lock()
	c.onScan = callback
	c.mu.Unlock()
}

// OnControl sets the callback for control tokens
func (c *Client) OnControl(callback func(string)) {
	c.mu.Lock()
	c.onControl = callback
	c.mu.Unlock()
}

// Connect starts the connection loop in the background
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go c.connectionLoop(ctx)
	return nil
}

// connectionLoop manages connection with auto-reconnect
func (c *Client) connectionLoop(ctx context.Context) {
	backoff := c.cfg.ReconnectBackoff

	for {
		select {
		case <-ctx.Done():
			c.closeConnection()
			return
		default:
		}

		conn, session, err := c.connect(ctx)
		if err != nil {
			c.logger.Warn("rosbridge connection failed",
				"error", err,
				"retry_in", backoff,
			)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}

			backoff *= 2
			if backoff > c.cfg.MaxBackoff {
				backoff = c.cfg.MaxBackoff
			}
			c.reconnects.Add(1)
			continue
		}

		backoff = c.cfg.ReconnectBackoff

		go c.pingLoop(ctx, conn, session)
		go c.writeLoop(ctx, conn, session)
		go func() {
			select {
			case <-ctx.Done():
				c.dropConnection(conn)
			case <-session:
			}
		}()

		c.readLoop(ctx, conn)

		// Brief pause so a server that drops us immediately is not hammered
		select {
		case <-time.After(c.cfg.ReconnectBackoff):
		case <-ctx.Done():
			return
		}
		c.reconnects.Add(1)
	}
}

// connect dials rosbridge and registers topics
func (c *Client) connect(ctx context.Context) (*websocket.Conn, chan struct{}, error) {
	c.logger.Info("connecting to rosbridge", "url", c.cfg.URL)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}

	ops := []*protocol.Message{
		protocol.NewAdvertise(c.cfg.CmdVelTopic, protocol.TypeTwist),
		protocol.NewSubscribe(c.cfg.ScanTopic, protocol.TypeLaserScan, 1, c.cfg.ThrottleMs),
		protocol.NewSubscribe(c.cfg.ControlTopic, protocol.TypeString, 10, 0),
	}
	for _, op := range ops {
		if err := c.write(conn, op); err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("%s %s: %w", op.Op, op.Topic, err)
		}
	}

	// Commands queued against a previous connection are stale
	c.drain()

	session := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.session = session
	c.mu.Unlock()

	c.logger.Info("connected to rosbridge",
		"scan_topic", c.cfg.ScanTopic,
		"control_topic", c.cfg.ControlTopic,
		"cmd_vel_topic", c.cfg.CmdVelTopic,
	)

	return conn, session, nil
}

func (c *Client) write(conn *websocket.Conn, msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return c.writeRaw(conn, data)
}

func (c *Client) writeRaw(conn *websocket.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	c.messagesSent.Add(1)
	return nil
}

func (c *Client) drain() {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

// pingLoop sends periodic pings
func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn, session chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-session:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

// writeLoop is the single writer for data frames on conn
func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn, session chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-session:
			return
		case data := <-c.send:
			if err := c.writeRaw(conn, data); err != nil {
				c.logger.Warn("send error", "error", err)
				c.dropConnection(conn)
				return
			}
		}
	}
}

// readLoop reads frames until the connection fails
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("read error", "error", err)
			}
			c.dropConnection(conn)
			return
		}

		c.messagesReceived.Add(1)
		c.handleMessage(data)
	}
}

// handleMessage dispatches incoming frames
func (c *Client) handleMessage(data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		c.parseErrors.Add(1)
		c.logger.Warn("parse message error", "error", err)
		return
	}

	c.mu.Lock()
	scanCb := c.onScan
	controlCb := c.onControl
	c.mu.Unlock()

	switch msg.Op {
	case protocol.OpPublish:
		switch msg.Topic {
		case c.cfg.ScanTopic:
			ls, err := msg.GetLaserScan()
			if err != nil {
				c.parseErrors.Add(1)
				c.logger.Warn("invalid laser scan", "error", err)
				return
			}
			c.scansReceived.Add(1)
			if scanCb == nil {
				return
			}
			sweep := ls.Sweep()
			if c.cfg.FilterOutOfRange {
				sweep = sweep.FilterOutOfRange()
			}
			scanCb(sweep)

		case c.cfg.ControlTopic:
			s, err := msg.GetString()
			if err != nil {
				c.parseErrors.Add(1)
				c.logger.Warn("invalid control message", "error", err)
				return
			}
			c.controlsReceived.Add(1)
			if controlCb != nil {
				controlCb(s.Data)
			}

		default:
			c.logger.Debug("publish on unexpected topic", "topic", msg.Topic)
		}

	case protocol.OpStatus:
		c.logger.Warn("rosbridge status",
			"level", msg.Level,
			"id", msg.ID,
			"msg", msg.StatusText(),
		)
	}
}

// PublishTwist queues a velocity command without blocking
func (c *Client) PublishTwist(tw policy.Twist) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	msg, err := protocol.NewPublish(c.cfg.CmdVelTopic, tw)
	if err != nil {
		return err
	}
	data, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	select {
	case c.send <- data:
		return nil
	default:
		c.twistsDropped.Add(1)
		return ErrQueueFull
	}
}

// dropConnection closes conn, tearing down the session only if conn is current
func (c *Client) dropConnection(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != conn {
		conn.Close()
		return
	}
	c.closeLocked()
}

// closeConnection closes the WebSocket connection
func (c *Client) closeConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	c.connected = false
	if c.session != nil {
		close(c.session)
		c.session = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// unregister withdraws the topics registered by connect. Failures are
// logged and otherwise ignored.
func (c *Client) unregister(conn *websocket.Conn) {
	ops := []*protocol.Message{
		protocol.NewUnadvertise(c.cfg.CmdVelTopic),
		protocol.NewUnsubscribe(c.cfg.ScanTopic),
		protocol.NewUnsubscribe(c.cfg.ControlTopic),
	}
	for _, op := range ops {
		if err := c.write(conn, op); err != nil {
			c.logger.Debug("unregister failed", "op", op.Op, "topic", op.Topic, "error", err)
			return
		}
	}
}

// Close withdraws the registered topics from a live connection and shuts
// down the client
func (c *Client) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	c.connected = false
	c.mu.Unlock()

	// Nothing may be published after cmd_vel is unadvertised
	c.drain()
	if conn != nil {
		c.unregister(conn)
	}

	if cancel != nil {
		cancel()
	}
	c.closeConnection()
	return nil
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Stats returns client statistics
type Stats struct {
	Connected        bool   `json:"connected"`
	URL              string `json:"url"`
	MessagesSent     uint64 `json:"messages_sent"`
	MessagesReceived uint64 `json:"messages_received"`
	ScansReceived    uint64 `json:"scans_received"`
	ControlsReceived uint64 `json:"controls_received"`
	TwistsDropped    uint64 `json:"twists_dropped"`
	ParseErrors      uint64 `json:"parse_errors"`
	Reconnects       uint64 `json:"reconnects"`
}

// GetStats returns client statistics
func (c *Client) GetStats() Stats {
	return Stats{
		Connected:        c.IsConnected(),
		URL:              c.cfg.URL,
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		ScansReceived:    c.scansReceived.Load(),
		ControlsReceived: c.controlsReceived.Load(),
		TwistsDropped:    c.twistsDropped.Load(),
		ParseErrors:      c.parseErrors.Load(),
		Reconnects:       c.reconnects.Load(),
	}
}
