// Package server provides the HTTP server for go-wallfollow
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-wallfollow/internal/config"
	"github.com/teslashibe/go-wallfollow/internal/follower"
	"github.com/teslashibe/go-wallfollow/internal/gate"
	"github.com/teslashibe/go-wallfollow/internal/health"
	"github.com/teslashibe/go-wallfollow/internal/mapsaver"
	"github.com/teslashibe/go-wallfollow/internal/policy"
	"github.com/teslashibe/go-wallfollow/internal/rosbridge"
)

// controlTimeout bounds how long a control request waits for queue space
const controlTimeout = time.Second

// TransportStats is implemented by the rosbridge client
type TransportStats interface {
	GetStats() rosbridge.Stats
}

// SaverStats is implemented by the map saver
type SaverStats interface {
	GetStats() mapsaver.Stats
}

// Deps are the components exposed over HTTP. Transport and MapSaver may be nil.
type Deps struct {
	Controller *follower.Controller
	Health     *health.Checker
	Transport  TransportStats
	MapSaver   SaverStats
}

// Server is the HTTP server for go-wallfollow
type Server struct {
	app       *fiber.App
	cfg       *config.Config
	deps      Deps
	logger    *slog.Logger
	wsHub     *WSHub
	startTime time.Time
	version   string
}

// New creates a new HTTP server
func New(cfg *config.Config, deps Deps, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	app := fiber.New(fiber.Config{
		AppName:               "go-wallfollow",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(LoggingMiddleware(logger))

	if deps.Health == nil {
		deps.Health = health.NewChecker(version)
	}

	s := &Server{
		app:       app,
		cfg:       cfg,
		deps:      deps,
		logger:    logger,
		wsHub:     NewWSHub(deps.Controller, logger),
		startTime: time.Now(),
		version:   version,
	}

	s.registerRoutes()

	return s
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes() {
	s.app.Get("/health", s.healthHandler)
	s.app.Get("/metrics", s.metricsHandler)

	api := s.app.Group("/api")
	api.Get("/state", s.stateHandler)
	api.Get("/stats", s.statsHandler)
	api.Get("/config", s.configHandler)
	api.Post("/control", s.controlHandler)
	api.Get("/command/stream", s.wsHub.UpgradeHandler())
}

// healthHandler returns service health
func (s *Server) healthHandler(c *fiber.Ctx) error {
	status := s.deps.Health.GetStatus()

	code := fiber.StatusOK
	if status.Status == health.StatusUnhealthy {
		code = fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(status)
}

// stateHandler returns the latest controller update
func (s *Server) stateHandler(c *fiber.Ctx) error {
	if s.deps.Controller == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "controller not available",
		})
	}

	return c.JSON(s.deps.Controller.Snapshot())
}

// statsHandler returns controller and transport statistics
func (s *Server) statsHandler(c *fiber.Ctx) error {
	if s.deps.Controller == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "controller not available",
		})
	}

	resp := fiber.Map{
		"controller":        s.deps.Controller.Stats(),
		"websocket_clients": s.wsHub.ClientCount(),
		"uptime_seconds":    int64(time.Since(s.startTime).Seconds()),
	}
	if s.deps.Transport != nil {
		resp["rosbridge"] = s.deps.Transport.GetStats()
	}
	if s.deps.MapSaver != nil {
		resp["map_saver"] = s.deps.MapSaver.GetStats()
	}

	return c.JSON(resp)
}

// configHandler returns the active configuration
func (s *Server) configHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"server": fiber.Map{
			"port":             s.cfg.Server.Port,
			"read_timeout_ms":  s.cfg.Server.ReadTimeout.Milliseconds(),
			"write_timeout_ms": s.cfg.Server.WriteTimeout.Milliseconds(),
		},
		"rosbridge": fiber.Map{
			"url":                 s.cfg.Rosbridge.URL,
			"scan_topic":          s.cfg.Rosbridge.ScanTopic,
			"control_topic":       s.cfg.Rosbridge.ControlTopic,
			"cmd_vel_topic":       s.cfg.Rosbridge.CmdVelTopic,
			"throttle_ms":         s.cfg.Rosbridge.ThrottleMs,
			"filter_out_of_range": s.cfg.Rosbridge.FilterOutOfRange,
		},
		"follower": s.cfg.Follower,
		"map_saver": fiber.Map{
			"enabled":           s.cfg.MapSaver.Enabled,
			"command":           strings.TrimSpace(s.cfg.MapSaver.Command + " " + strings.Join(s.cfg.MapSaver.Args, " ")),
			"shutdown_delay_ms": s.cfg.MapSaver.ShutdownDelay.Milliseconds(),
			"exit_on_stop":      s.cfg.MapSaver.ExitOnStop,
		},
	})
}

// ControlRequest is the body of POST /api/control
type ControlRequest struct {
	Command string `json:"command"`
}

// controlHandler queues a start/stop token for the controller
func (s *Server) controlHandler(c *fiber.Ctx) error {
	if s.deps.Controller == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "controller not available",
		})
	}

	var req ControlRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	token := strings.TrimSpace(req.Command)
	if token != gate.TokenStart && token != gate.TokenStop {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   fmt.Sprintf("unknown command %q", req.Command),
			"allowed": []string{gate.TokenStart, gate.TokenStop},
		})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), controlTimeout)
	defer cancel()

	if err := s.deps.Controller.SubmitControl(ctx, token); err != nil {
		code := fiber.StatusServiceUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			code = fiber.StatusGatewayTimeout
		}
		return c.Status(code).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"accepted": token,
	})
}

// metricsHandler returns Prometheus-format metrics
func (s *Server) metricsHandler(c *fiber.Ctx) error {
	if s.deps.Controller == nil {
		return c.Status(fiber.StatusServiceUnavailable).SendString("# no controller available\n")
	}

	stats := s.deps.Controller.Stats()
	latest := s.deps.Controller.Snapshot()

	var b strings.Builder

	writeMetric(&b, "running", "Gate state (1=running, 0=paused)", "gauge", boolToInt(stats.State == gate.Running))
	writeMetric(&b, "sweeps_processed_total", "Sweeps classified while running", "counter", stats.SweepsProcessed)
	writeMetric(&b, "sweeps_gated_total", "Sweeps answered with a zero twist while paused", "counter", stats.SweepsGated)
	writeMetric(&b, "sweeps_dropped_total", "Sweeps dropped because the event queue was full", "counter", stats.SweepsDropped)
	writeMetric(&b, "publish_errors_total", "Failed twist publishes", "counter", stats.PublishErrors)
	writeMetric(&b, "control_messages_total", "Control tokens received", "counter", stats.Controls)

	fmt.Fprintf(&b, "# HELP go_wallfollow_rule_total Commands produced per policy rule\n")
	fmt.Fprintf(&b, "# TYPE go_wallfollow_rule_total counter\n")
	for _, r := range policy.Rules {
		fmt.Fprintf(&b, "go_wallfollow_rule_total{rule=%q} %d\n", r.String(), stats.RuleCounts[r.String()])
	}
	b.WriteString("\n")

	writeMetric(&b, "cmd_linear_x", "Last commanded linear velocity in m/s", "gauge", latest.Twist.Linear.X)
	writeMetric(&b, "cmd_angular_z", "Last commanded angular velocity in rad/s", "gauge", latest.Twist.Angular.Z)

	if s.deps.Transport != nil {
		ts := s.deps.Transport.GetStats()
		writeMetric(&b, "rosbridge_connected", "rosbridge connection (1=connected, 0=disconnected)", "gauge", boolToInt(ts.Connected))
		writeMetric(&b, "rosbridge_scans_total", "LaserScan messages received", "counter", ts.ScansReceived)
		writeMetric(&b, "rosbridge_twists_dropped_total", "Twists dropped by a full send queue", "counter", ts.TwistsDropped)
		writeMetric(&b, "rosbridge_reconnects_total", "rosbridge reconnect attempts", "counter", ts.Reconnects)
	}

	writeMetric(&b, "uptime_seconds", "Server uptime in seconds", "gauge", int64(time.Since(s.startTime).Seconds()))
	writeMetric(&b, "websocket_clients", "Current WebSocket client count", "gauge", s.wsHub.ClientCount())

	c.Set("Content-Type", "text/plain; charset=utf-8")
	return c.SendString(b.String())
}

func writeMetric(b *strings.Builder, name, help, typ string, value interface{}) {
	full := "go_wallfollow_" + name
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s %s\n", full, help, full, typ)
	switch v := value.(type) {
	case float64:
		fmt.Fprintf(b, "%s %f\n\n", full, v)
	default:
		fmt.Fprintf(b, "%s %d\n\n", full, v)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		"port", s.cfg.Server.Port,
	)

	return s.app.Listen(fmt.Sprintf(":%d", s.cfg.Server.Port))
}

// WSHub returns the WebSocket hub
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	s.wsHub.Close()

	done := make(chan error, 1)
	go func() {
		done <- s.app.Shutdown()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
