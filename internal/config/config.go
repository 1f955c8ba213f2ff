// Package config provides configuration management for go-wallfollow
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Rosbridge RosbridgeConfig `mapstructure:"rosbridge"`
	Follower  FollowerConfig  `mapstructure:"follower"`
	MapSaver  MapSaverConfig  `mapstructure:"map_saver"`
	Sim       SimConfig       `mapstructure:"sim"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

// RosbridgeConfig configures the rosbridge websocket connection
type RosbridgeConfig struct {
	URL              string        `mapstructure:"url"`
	ScanTopic        string        `mapstructure:"scan_topic"`
	ControlTopic     string        `mapstructure:"control_topic"`
	CmdVelTopic      string        `mapstructure:"cmd_vel_topic"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	SendQueue        int           `mapstructure:"send_queue"`
	ThrottleMs       int           `mapstructure:"throttle_ms"`
	FilterOutOfRange bool          `mapstructure:"filter_out_of_range"`
}

// FollowerConfig holds the wall-following control law tunables. Side is
// "left" or "right"; MaxSpeed (m/s) and MaxTurn (rad/s) scale drive and
// turn of 1.
type FollowerConfig struct {
	Side            string  `mapstructure:"side" json:"side"`
	RobotRadius     float64 `mapstructure:"robot_radius" json:"robot_radius"`
	RobotRadiusSide float64 `mapstructure:"robot_radius_side" json:"robot_radius_side"`
	MaxSideLimit    float64 `mapstructure:"max_side_limit" json:"max_side_limit"`
	MinApproachDist float64 `mapstructure:"min_approach_dist" json:"min_approach_dist"`
	MaxApproachDist float64 `mapstructure:"max_approach_dist" json:"max_approach_dist"`
	MaxSpeed        float64 `mapstructure:"max_speed" json:"max_speed"`
	MaxTurn         float64 `mapstructure:"max_turn" json:"max_turn"`
	EventQueue      int     `mapstructure:"event_queue" json:"event_queue"`

	Windows WindowConfig `mapstructure:"windows" json:"windows"`
	Rules   RuleConfig   `mapstructure:"rules" json:"rules"`
}

// WindowConfig configures the occupancy windows (degrees, meters)
type WindowConfig struct {
	SideStart  float64 `mapstructure:"side_start" json:"side_start"`
	SideEnd    float64 `mapstructure:"side_end" json:"side_end"`
	SideRange  float64 `mapstructure:"side_range" json:"side_range"`
	FrontLeft  float64 `mapstructure:"front_left" json:"front_left"`
	FrontRight float64 `mapstructure:"front_right" json:"front_right"`
	FrontRange float64 `mapstructure:"front_range" json:"front_range"`

	// RightMode is disabled, left_only or mirror
	RightMode string `mapstructure:"right_mode" json:"right_mode"`
}

// RuleConfig configures the occupancy fraction thresholds
type RuleConfig struct {
	FrontBlocked float64 `mapstructure:"front_blocked" json:"front_blocked"`
	SideTight    float64 `mapstructure:"side_tight" json:"side_tight"`
	SideClose    float64 `mapstructure:"side_close" json:"side_close"`
}

// MapSaverConfig configures the map persistence triggered by "stop"
type MapSaverConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Command       string        `mapstructure:"command"`
	Args          []string      `mapstructure:"args"`
	ShutdownDelay time.Duration `mapstructure:"shutdown_delay"`
	SaveTimeout   time.Duration `mapstructure:"save_timeout"`
	ExitOnStop    bool          `mapstructure:"exit_on_stop"`
}

// SimConfig configures the built-in simulator used with -mock
type SimConfig struct {
	ScanHz       int     `mapstructure:"scan_hz"`
	Beams        int     `mapstructure:"beams"`
	MaxRange     float64 `mapstructure:"max_range"`
	RoomWidth    float64 `mapstructure:"room_width"`
	RoomHeight   float64 `mapstructure:"room_height"`
	StartX       float64 `mapstructure:"start_x"`
	StartY       float64 `mapstructure:"start_y"`
	StartHeading float64 `mapstructure:"start_heading"`
	AutoStart    bool    `mapstructure:"auto_start"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Enabled:         true,
			Port:            9100,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			GracefulTimeout: 5 * time.Second,
		},
		Rosbridge: RosbridgeConfig{
			URL:              "ws://localhost:9090",
			ScanTopic:        "/scan",
			ControlTopic:     "/cmd",
			CmdVelTopic:      "/cmd_vel",
			ReconnectBackoff: 1 * time.Second,
			MaxBackoff:       30 * time.Second,
			PingInterval:     10 * time.Second,
			WriteTimeout:     2 * time.Second,
			SendQueue:        4,
			ThrottleMs:       0,
			FilterOutOfRange: false,
		},
		Follower: FollowerConfig{
			Side:            "left",
			RobotRadius:     0.22,
			RobotRadiusSide: 0.6,
			MaxSideLimit:    0.6,
			MinApproachDist: 0.45,
			MaxApproachDist: 0.55,
			MaxSpeed:        0.18,
			MaxTurn:         0.75,
			EventQueue:      8,
			Windows: WindowConfig{
				SideStart:  30,
				SideEnd:    135,
				SideRange:  0.75,
				FrontLeft:  40,
				FrontRight: 330,
				FrontRange: 1.0,
				RightMode:  "disabled",
			},
			Rules: RuleConfig{
				FrontBlocked: 0.75,
				SideTight:    0.85,
				SideClose:    0.75,
			},
		},
		MapSaver: MapSaverConfig{
			Enabled:       true,
			Command:       "ros2",
			Args:          []string{"run", "nav2_map_server", "map_saver_cli", "-f", "map_house1"},
			ShutdownDelay: 500 * time.Millisecond,
			SaveTimeout:   30 * time.Second,
			ExitOnStop:    true,
		},
		Sim: SimConfig{
			ScanHz:       5,
			Beams:        360,
			MaxRange:     3.5,
			RoomWidth:    6,
			RoomHeight:   4,
			StartX:       2,
			StartY:       3.4,
			StartHeading: 0,
			AutoStart:    false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from file and environment
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			// A missing file falls back to defaults; a broken one does not
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	v.SetEnvPrefix("WALLFOLLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	// Server defaults
	v.SetDefault("server.enabled", d.Server.Enabled)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout.String())
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout.String())
	v.SetDefault("server.graceful_timeout", d.Server.GracefulTimeout.String())

	// Rosbridge defaults
	v.SetDefault("rosbridge.url", d.Rosbridge.URL)
	v.SetDefault("rosbridge.scan_topic", d.Rosbridge.ScanTopic)
	v.SetDefault("rosbridge.control_topic", d.Rosbridge.ControlTopic)
	v.SetDefault("rosbridge.cmd_vel_topic", d.Rosbridge.CmdVelTopic)
	v.SetDefault("rosbridge.reconnect_backoff", d.Rosbridge.ReconnectBackoff.String())
	v.SetDefault("rosbridge.max_backoff", d.Rosbridge.MaxBackoff.String())
	v.SetDefault("rosbridge.ping_interval", d.Rosbridge.PingInterval.String())
	v.SetDefault("rosbridge.write_timeout", d.Rosbridge.WriteTimeout.String())
	v.SetDefault("rosbridge.send_queue", d.Rosbridge.SendQueue)
	v.SetDefault("rosbridge.throttle_ms", d.Rosbridge.ThrottleMs)
	v.SetDefault("rosbridge.filter_out_of_range", d.Rosbridge.FilterOutOfRange)

	// Follower defaults
	v.SetDefault("follower.side", d.Follower.Side)
	v.SetDefault("follower.robot_radius", d.Follower.RobotRadius)
	v.SetDefault("follower.robot_radius_side", d.Follower.RobotRadiusSide)
	v.SetDefault("follower.max_side_limit", d.Follower.MaxSideLimit)
	v.SetDefault("follower.min_approach_dist", d.Follower.MinApproachDist)
	v.SetDefault("follower.max_approach_dist", d.Follower.MaxApproachDist)
	v.SetDefault("follower.max_speed", d.Follower.MaxSpeed)
	v.SetDefault("follower.max_turn", d.Follower.MaxTurn)
	v.SetDefault("follower.event_queue", d.Follower.EventQueue)

	// Occupancy windows
	v.SetDefault("follower.windows.side_start", d.Follower.Windows.SideStart)
	v.SetDefault("follower.windows.side_end", d.Follower.Windows.SideEnd)
	v.SetDefault("follower.windows.side_range", d.Follower.Windows.SideRange)
	v.SetDefault("follower.windows.front_left", d.Follower.Windows.FrontLeft)
	v.SetDefault("follower.windows.front_right", d.Follower.Windows.FrontRight)
	v.SetDefault("follower.windows.front_range", d.Follower.Windows.FrontRange)
	v.SetDefault("follower.windows.right_mode", d.Follower.Windows.RightMode)

	// Rule thresholds
	v.SetDefault("follower.rules.front_blocked", d.Follower.Rules.FrontBlocked)
	v.SetDefault("follower.rules.side_tight", d.Follower.Rules.SideTight)
	v.SetDefault("follower.rules.side_close", d.Follower.Rules.SideClose)

	// Map saver defaults
	v.SetDefault("map_saver.enabled", d.MapSaver.Enabled)
	v.SetDefault("map_saver.command", d.MapSaver.Command)
	v.SetDefault("map_saver.args", d.MapSaver.Args)
	v.SetDefault("map_saver.shutdown_delay", d.MapSaver.ShutdownDelay.String())
	v.SetDefault("map_saver.save_timeout", d.MapSaver.SaveTimeout.String())
	v.SetDefault("map_saver.exit_on_stop", d.MapSaver.ExitOnStop)

	// Simulator defaults
	v.SetDefault("sim.scan_hz", d.Sim.ScanHz)
	v.SetDefault("sim.beams", d.Sim.Beams)
	v.SetDefault("sim.max_range", d.Sim.MaxRange)
	v.SetDefault("sim.room_width", d.Sim.RoomWidth)
	v.SetDefault("sim.room_height", d.Sim.RoomHeight)
	v.SetDefault("sim.start_x", d.Sim.StartX)
	v.SetDefault("sim.start_y", d.Sim.StartY)
	v.SetDefault("sim.start_heading", d.Sim.StartHeading)
	v.SetDefault("sim.auto_start", d.Sim.AutoStart)

	// Logging defaults
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Rosbridge.URL == "" {
		return fmt.Errorf("rosbridge url must not be empty")
	}

	if c.Rosbridge.SendQueue < 1 {
		return fmt.Errorf("rosbridge send_queue must be at least 1, got %d", c.Rosbridge.SendQueue)
	}

	if err := c.Follower.Validate(); err != nil {
		return fmt.Errorf("follower: %w", err)
	}

	if c.MapSaver.Enabled && c.MapSaver.Command == "" {
		return fmt.Errorf("map_saver command must not be empty when enabled")
	}

	if c.Sim.ScanHz < 1 || c.Sim.ScanHz > 100 {
		return fmt.Errorf("sim scan_hz must be between 1 and 100, got %d", c.Sim.ScanHz)
	}

	if c.Sim.Beams < 1 {
		return fmt.Errorf("sim beams must be at least 1, got %d", c.Sim.Beams)
	}

	return nil
}

// Validate checks the control law tunables
func (f *FollowerConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(f.Side)) {
	case "left", "right":
	default:
		return fmt.Errorf("side must be left or right, got %q", f.Side)
	}

	if f.RobotRadius <= 0 || f.RobotRadiusSide <= 0 {
		return fmt.Errorf("robot radii must be positive, got %f and %f", f.RobotRadius, f.RobotRadiusSide)
	}

	if f.MaxSideLimit <= 0 {
		return fmt.Errorf("max_side_limit must be positive, got %f", f.MaxSideLimit)
	}

	if f.MinApproachDist < 0 || f.MaxApproachDist <= f.MinApproachDist {
		return fmt.Errorf("approach distances must satisfy 0 <= min < max, got %f and %f",
			f.MinApproachDist, f.MaxApproachDist)
	}

	if f.MaxSpeed < 0 || f.MaxTurn < 0 {
		return fmt.Errorf("max_speed and max_turn must not be negative")
	}

	if f.EventQueue < 1 {
		return fmt.Errorf("event_queue must be at least 1, got %d", f.EventQueue)
	}

	w := f.Windows
	switch strings.ToLower(strings.TrimSpace(w.RightMode)) {
	case "", "disabled", "left_only", "mirror":
	default:
		return fmt.Errorf("right_mode must be disabled, left_only or mirror, got %q", w.RightMode)
	}

	if w.SideStart < 0 || w.SideEnd > 360 || w.SideEnd <= w.SideStart {
		return fmt.Errorf("side window must satisfy 0 <= start < end <= 360, got [%f, %f)", w.SideStart, w.SideEnd)
	}

	if w.FrontLeft < 0 || w.FrontRight >= 360 || w.FrontLeft >= w.FrontRight {
		return fmt.Errorf("front window must satisfy 0 <= left < right < 360, got %f and %f", w.FrontLeft, w.FrontRight)
	}

	for name, v := range map[string]float64{
		"front_blocked": f.Rules.FrontBlocked,
		"side_tight":    f.Rules.SideTight,
		"side_close":    f.Rules.SideClose,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("rule %s must be between 0 and 1, got %f", name, v)
		}
	}

	return nil
}
