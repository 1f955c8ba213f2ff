// Package sim is a minimal 2D world for exercising the follower without a
// robot: a rectangular room, a unicycle robot and a 360 degree range sensor
package sim

import (
	"log/slog"
	"math"
	"sync"

	"github.com/golang/geo/r2"

	"github.com/teslashibe/go-wallfollow/internal/config"
	"github.com/teslashibe/go-wallfollow/internal/policy"
	"github.com/teslashibe/go-wallfollow/internal/scan"
)

const (
	// bodyRadius keeps the robot center this far from every wall
	bodyRadius = 0.1
	rangeMin   = 0.12
)

// Pose is the robot position and heading (radians, counter-clockwise from +x)
type Pose struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
}

// Point returns the position as a vector
func (p Pose) Point() r2.Point {
	return r2.Point{X: p.X, Y: p.Y}
}

// Config holds simulator configuration
type Config struct {
	ScanHz   int
	Beams    int
	MaxRange float64
	Room     r2.Rect
	Start    Pose
}

// DefaultConfig returns the default room
func DefaultConfig() Config {
	return ConfigFrom(config.Default().Sim)
}

// ConfigFrom maps the file configuration onto a simulator Config
func ConfigFrom(sc config.SimConfig) Config {
	return Config{
		ScanHz:   sc.ScanHz,
		Beams:    sc.Beams,
		MaxRange: sc.MaxRange,
		Room:     r2.RectFromPoints(r2.Point{}, r2.Point{X: sc.RoomWidth, Y: sc.RoomHeight}),
		Start:    Pose{X: sc.StartX, Y: sc.StartY, Heading: sc.StartHeading},
	}
}

// World is a robot in an empty rectangular room. It implements the
// follower's command sink.
type World struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.RWMutex
	pose       Pose
	cmd        policy.Twist
	collisions int64
	commands   int64
}

// NewWorld places the robot at its start pose
func NewWorld(cfg Config, logger *slog.Logger) *World {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Beams <= 0 {
		cfg.Beams = 360
	}

	return &World{
		cfg:    cfg,
		logger: logger.With("component", "sim"),
		pose:   cfg.Start,
	}
}

// Scan ray-casts one beam per angle increment starting at 0 in the robot frame
func (w *World) Scan() scan.Sweep {
	w.mu.RLock()
	pose := w.pose
	w.mu.RUnlock()

	inc := 2 * math.Pi / float64(w.cfg.Beams)
	ranges := make([]float64, w.cfg.Beams)
	origin := pose.Point()

	for i := range ranges {
		theta := pose.Heading + float64(i)*inc
		d := castToWall(w.cfg.Room, origin, r2.Point{X: math.Cos(theta), Y: math.Sin(theta)})
		if d > w.cfg.MaxRange || d < rangeMin {
			d = math.Inf(1)
		}
		ranges[i] = d
	}

	return scan.Sweep{
		AngleMin:       0,
		AngleIncrement: inc,
		Ranges:         ranges,
		RangeMin:       rangeMin,
		RangeMax:       w.cfg.MaxRange,
	}
}

// castToWall returns the distance from origin along unit vector dir to the
// boundary of room. origin must lie inside room.
func castToWall(room r2.Rect, origin, dir r2.Point) float64 {
	best := math.Inf(1)

	hit := func(lo, hi, o, d float64) {
		switch {
		case d > 1e-12:
			best = math.Min(best, (hi-o)/d)
		case d < -1e-12:
			best = math.Min(best, (lo-o)/d)
		}
	}
	hit(room.X.Lo, room.X.Hi, origin.X, dir.X)
	hit(room.Y.Lo, room.Y.Hi, origin.Y, dir.Y)

	return best
}

// PublishTwist sets the command applied by subsequent steps
func (w *World) PublishTwist(tw policy.Twist) error {
	w.mu.Lock()
	w.cmd = tw
	w.commands++
	w.mu.Unlock()
	return nil
}

// Step integrates unicycle kinematics for dt seconds under the last command.
// The robot stops at walls.
func (w *World) Step(dt float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	v := w.cmd.Linear.X
	omega := w.cmd.Angular.Z
	p := w.pose

	next := p
	if math.Abs(omega) < 1e-9 {
		next.X += v * math.Cos(p.Heading) * dt
		next.Y += v * math.Sin(p.Heading) * dt
	} else {
		h := p.Heading + omega*dt
		next.X += v / omega * (math.Sin(h) - math.Sin(p.Heading))
		next.Y -= v / omega * (math.Cos(h) - math.Cos(p.Heading))
		next.Heading = h
	}
	next.Heading = normalizeAngle(next.Heading)

	free := w.cfg.Room.ExpandedByMargin(-bodyRadius)
	if pt := next.Point(); !free.ContainsPoint(pt) {
		clamped := free.ClampPoint(pt)
		next.X, next.Y = clamped.X, clamped.Y
		w.collisions++
		w.logger.Debug("robot hit a wall", "x", next.X, "y", next.Y)
	}

	w.pose = next
}

func normalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a
}

// Pose returns the current robot pose
func (w *World) Pose() Pose {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.pose
}

// Command returns the last received twist
func (w *World) Command() policy.Twist {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cmd
}

// Stats contains simulator statistics
type Stats struct {
	Pose       Pose         `json:"pose"`
	Command    policy.Twist `json:"command"`
	Commands   int64        `json:"commands"`
	Collisions int64        `json:"collisions"`
}

// GetStats returns simulator statistics
func (w *World) GetStats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return Stats{
		Pose:       w.pose,
		Command:    w.cmd,
		Commands:   w.commands,
		Collisions: w.collisions,
	}
}
