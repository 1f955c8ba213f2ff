// wall-follower: reactive wall-following daemon for a differential-drive robot
// with a 360 degree laser scanner, bridged to ROS over rosbridge
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-wallfollow/internal/config"
	"github.com/teslashibe/go-wallfollow/internal/follower"
	"github.com/teslashibe/go-wallfollow/internal/gate"
	"github.com/teslashibe/go-wallfollow/internal/health"
	"github.com/teslashibe/go-wallfollow/internal/mapsaver"
	"github.com/teslashibe/go-wallfollow/internal/rosbridge"
	"github.com/teslashibe/go-wallfollow/internal/scan"
	"github.com/teslashibe/go-wallfollow/internal/server"
	"github.com/teslashibe/go-wallfollow/internal/sim"
)

var (
	version     = "0.3.0"
	configPath  = flag.String("config", "/etc/go-wallfollow/config.yaml", "config file path")
	showVersion = flag.Bool("version", false, "print version and exit")
	debug       = flag.Bool("debug", false, "enable debug logging")
	useMock     = flag.Bool("mock", false, "drive the built-in simulator instead of rosbridge")
	sideFlag    = flag.String("side", "", "wall to follow, overrides follower.side (left or right)")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("wall-follower %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	if *debug {
		cfg.Logging.Level = "debug"
	}
	if *sideFlag != "" {
		cfg.Follower.Side = *sideFlag
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting wall-follower",
		"version", version,
		"config", *configPath,
		"side", cfg.Follower.Side,
		"mock", *useMock,
	)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	followerCfg, err := follower.ConfigFrom(cfg.Follower)
	if err != nil {
		logger.Error("invalid follower configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A stop token saves the map and then ends the process
	saver := mapsaver.New(mapsaver.ConfigFrom(cfg.MapSaver), func() {
		logger.Info("map saver requested shutdown")
		cancel()
	}, logger)

	checker := health.NewChecker(version)

	var (
		sink      follower.CommandSink
		transport *rosbridge.Client
		world     *sim.World
	)

	if *useMock {
		logger.Info("using simulator")
		world = sim.NewWorld(sim.ConfigFrom(cfg.Sim), logger)
		sink = world
	} else {
		transport = rosbridge.NewClient(rosbridge.ConfigFrom(cfg.Rosbridge), logger)
		sink = transport
	}

	ctrl := follower.New(followerCfg, sink, saver, logger)

	checker.Register("controller", true, func() (bool, string) {
		if !ctrl.Alive() {
			return false, "not running"
		}
		return true, ctrl.State().String()
	})
	checker.Register("map_saver", false, func() (bool, string) {
		st := saver.GetStats()
		switch {
		case st.Error != "":
			return false, st.Error
		case st.Running:
			return true, "saving"
		case st.Triggered:
			return true, "saved"
		default:
			return true, "idle"
		}
	})

	go func() {
		if err := ctrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("controller error", "error", err)
		}
	}()

	var srvDeps server.Deps
	srvDeps.Controller = ctrl
	srvDeps.Health = checker
	srvDeps.MapSaver = saver

	if world != nil {
		runner := sim.NewRunner(world, ctrl, logger)
		go runner.Run(ctx)

		checker.Register("sim", false, func() (bool, string) {
			p := world.Pose()
			return true, fmt.Sprintf("x=%.2f y=%.2f heading=%.2f", p.X, p.Y, p.Heading)
		})

		if cfg.Sim.AutoStart {
			if err := ctrl.SubmitControl(ctx, gate.TokenStart); err != nil {
				logger.Warn("auto start failed", "error", err)
			}
		}
	}

	if transport != nil {
		transport.OnScan(func(s scan.Sweep) {
			if !ctrl.SubmitSweep(s) {
				logger.Debug("sweep dropped, controller busy")
			}
		})
		transport.OnControl(func(token string) {
			if err := ctrl.SubmitControl(ctx, token); err != nil {
				logger.Warn("control message dropped", "token", token, "error", err)
			}
		})

		checker.Register("rosbridge", false, func() (bool, string) {
			if transport.IsConnected() {
				return true, "connected"
			}
			return false, "disconnected"
		})
		srvDeps.Transport = transport

		// The session outlives ctx so Close can withdraw its topics
		if err := transport.Connect(context.WithoutCancel(ctx)); err != nil {
			logger.Error("rosbridge connect failed", "error", err)
			os.Exit(1)
		}
	}

	var srv *server.Server
	if cfg.Server.Enabled {
		srv = server.New(cfg, srvDeps, logger, version)

		go srv.WSHub().Run(ctx)

		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("server error", "error", err)
				cancel()
			}
		}()
	}

	printStartupBanner(cfg, version, *useMock)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("shutdown requested")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		cfg.Server.GracefulTimeout,
	)
	defer shutdownCancel()

	// Stop in order: server -> controller -> map saver -> transport
	if srv != nil {
		logger.Info("shutting down server...")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown error", "error", err)
		}
	}

	logger.Info("stopping controller...")
	cancel()
	ctrl.Stop()

	saveCtx, saveCancel := context.WithTimeout(context.Background(), cfg.MapSaver.SaveTimeout+time.Second)
	defer saveCancel()
	if err := saver.Wait(saveCtx); err != nil {
		logger.Warn("map saver did not finish cleanly", "error", err)
	}

	if transport != nil {
		transport.Close()
	}

	stats := ctrl.Stats()
	logger.Info("wall-follower stopped",
		"sweeps", stats.SweepsProcessed,
		"gated", stats.SweepsGated,
		"dropped", stats.SweepsDropped,
	)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func printStartupBanner(cfg *config.Config, version string, mock bool) {
	source := cfg.Rosbridge.URL
	if mock {
		source = "simulator"
	}

	fmt.Println()
	fmt.Println("🤖 wall-follower v" + version)
	fmt.Printf("   Following the %s wall via %s\n", cfg.Follower.Side, source)
	fmt.Println()
	if cfg.Server.Enabled {
		fmt.Printf("🚀 Running at http://0.0.0.0:%d\n", cfg.Server.Port)
		fmt.Println()
		fmt.Println("   Endpoints:")
		fmt.Println("   GET  /health              - Health check")
		fmt.Println("   GET  /api/state           - Latest command")
		fmt.Println("   POST /api/control         - {\"command\":\"start\"|\"stop\"}")
		fmt.Println("   WS   /api/command/stream  - Real-time command stream")
		fmt.Println("   GET  /api/stats           - Controller statistics")
		fmt.Println("   GET  /metrics             - Prometheus metrics")
		fmt.Println()
	}
	fmt.Println("   Publish \"start\" on " + cfg.Rosbridge.ControlTopic + " to begin, \"stop\" to save the map")
	fmt.Println("   Press Ctrl+C to stop")
	fmt.Println()
}
