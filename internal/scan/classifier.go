package scan

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Config holds the geometry used to classify a sweep
type Config struct {
	RobotRadius     float64 // half-width of the frontal corridor (m)
	RobotRadiusSide float64 // forward/back extent of the side band (m)
	MaxSideLimit    float64 // farthest lateral distance counted as wall (m)
	MaxApproachDist float64 // farthest frontal distance considered (m)

	Windows Windows
}

// Windows configures the occupancy fraction windows
type Windows struct {
	SideStart float64 // degrees, inclusive
	SideEnd   float64 // degrees, exclusive
	SideRange float64 // readings below this count as occupied (m)

	FrontLeft  float64 // window is [0, FrontLeft] ∪ (FrontRight, 360)
	FrontRight float64
	FrontRange float64

	// RightMode selects how the windows apply to a right-hand follower
	RightMode RightMode
}

// RightMode is the occupancy window behaviour when following a right wall.
// The window angles are authored for a left-hand wall.
type RightMode string

const (
	// RightDisabled reports zero fractions, so the occupancy rules never fire
	RightDisabled RightMode = "disabled"
	// RightLeftOnly applies the left-hand windows unchanged
	RightLeftOnly RightMode = "left_only"
	// RightMirror reflects reading angles (θ → 360−θ) before the window test
	RightMirror RightMode = "mirror"
)

// ParseRightMode parses a config value. Empty means disabled.
func ParseRightMode(v string) (RightMode, error) {
	switch m := RightMode(strings.ToLower(strings.TrimSpace(v))); m {
	case "":
		return RightDisabled, nil
	case RightDisabled, RightLeftOnly, RightMirror:
		return m, nil
	default:
		return RightDisabled, fmt.Errorf("unknown right_mode %q", v)
	}
}

// DefaultConfig returns the tunables of the reference robot
func DefaultConfig() Config {
	return Config{
		RobotRadius:     0.22,
		RobotRadiusSide: 0.6,
		MaxSideLimit:    0.6,
		MaxApproachDist: 0.55,
		Windows: Windows{
			SideStart:  30,
			SideEnd:    135,
			SideRange:  0.75,
			FrontLeft:  40,
			FrontRight: 330,
			FrontRange: 1.0,
			RightMode:  RightDisabled,
		},
	}
}

// SideWidth returns the side window width in degrees
func (w Windows) SideWidth() float64 {
	return w.SideEnd - w.SideStart
}

// FrontWidth returns the front window width in degrees
func (w Windows) FrontWidth() float64 {
	return 360 - w.FrontRight + w.FrontLeft
}

// Result is the classification of one sweep
type Result struct {
	SideMaxX      float64 // -Inf when no side-wall point was seen
	FrontMinX     float64 // +Inf when nothing is ahead
	SideFraction  float64
	FrontFraction float64
}

// HasWall reports whether any side-wall point was found
func (r Result) HasWall() bool {
	return !math.IsInf(r.SideMaxX, -1)
}

// HasFront reports whether any frontal obstacle was found
func (r Result) HasFront() bool {
	return !math.IsInf(r.FrontMinX, 1)
}

type resultJSON struct {
	SideMaxX      *float64 `json:"side_max_x"`
	FrontMinX     *float64 `json:"front_min_x"`
	SideFraction  float64  `json:"side_fraction"`
	FrontFraction float64  `json:"front_fraction"`
}

// MarshalJSON encodes missing distances as null
func (r Result) MarshalJSON() ([]byte, error) {
	out := resultJSON{
		SideFraction:  r.SideFraction,
		FrontFraction: r.FrontFraction,
	}
	if r.HasWall() {
		out.SideMaxX = &r.SideMaxX
	}
	if r.HasFront() {
		out.FrontMinX = &r.FrontMinX
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores null distances to their sentinels
func (r *Result) UnmarshalJSON(data []byte) error {
	var in resultJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	*r = Result{
		SideMaxX:      math.Inf(-1),
		FrontMinX:     math.Inf(1),
		SideFraction:  in.SideFraction,
		FrontFraction: in.FrontFraction,
	}
	if in.SideMaxX != nil {
		r.SideMaxX = *in.SideMaxX
	}
	if in.FrontMinX != nil {
		r.FrontMinX = *in.FrontMinX
	}
	return nil
}

// Classifier turns sweeps into Results for one followed side
type Classifier struct {
	cfg  Config
	side Side
}

// NewClassifier creates a classifier bound to side
func NewClassifier(cfg Config, side Side) *Classifier {
	return &Classifier{cfg: cfg, side: side}
}

// Side returns the followed side
func (c *Classifier) Side() Side {
	return c.side
}

// Classify scans the sweep once. It never mutates s.
func (c *Classifier) Classify(s Sweep) Result {
	res := Result{
		SideMaxX:  math.Inf(-1),
		FrontMinX: math.Inf(1),
	}

	w := c.cfg.Windows
	occupancy := true
	mirror := false
	if c.side == Right {
		switch w.RightMode {
		case RightLeftOnly:
		case RightMirror:
			mirror = true
		default:
			occupancy = false
		}
	}

	var sideHits, frontHits int
	for i, r := range s.Ranges {
		theta := s.Angle(i)
		p := Project(r, theta)

		// Beside the robot, not too far, on the chosen side
		if math.Abs(p.X) <= c.cfg.RobotRadiusSide && math.Abs(p.Y) <= c.cfg.MaxSideLimit && c.side.Holds(p.Y) {
			if p.X > res.SideMaxX {
				res.SideMaxX = p.X
			}
		}

		// Ahead, inside the corridor swept by the robot body
		if p.X > 0 && p.X <= c.cfg.MaxApproachDist && math.Abs(p.Y) <= c.cfg.RobotRadius {
			if p.X < res.FrontMinX {
				res.FrontMinX = p.X
			}
		}

		if !occupancy {
			continue
		}

		deg := Degrees(theta)
		if mirror && deg > 0 {
			deg = 360 - deg
		}

		if deg >= w.SideStart && deg < w.SideEnd && r < w.SideRange {
			sideHits++
		}
		if (deg <= w.FrontLeft || deg > w.FrontRight) && r < w.FrontRange {
			frontHits++
		}
	}

	res.SideFraction = fraction(sideHits, w.SideWidth())
	res.FrontFraction = fraction(frontHits, w.FrontWidth())

	return res
}

// fraction divides by the window width in degrees, not by the reading
// count, and clamps dense sweeps to 1
func fraction(hits int, width float64) float64 {
	if width <= 0 {
		return 0
	}
	f := float64(hits) / width
	if f > 1 {
		return 1
	}
	return f
}
