// Package scan classifies planar range sweeps into side-wall and frontal
// obstacle distances for wall following
package scan

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/golang/geo/r2"
)

// Sweep is one full cycle of range readings from a planar distance sensor.
// Reading i lies at AngleMin + i*AngleIncrement (radians, 0=front, +left).
// A reading of +Inf means no return.
type Sweep struct {
	AngleMin       float64
	AngleIncrement float64
	Ranges         []float64

	// RangeMin and RangeMax are the sensor's valid limits, zero if unknown
	RangeMin float64
	RangeMax float64

	Stamp time.Time
}

// Len returns the number of readings
func (s Sweep) Len() int {
	return len(s.Ranges)
}

// Angle returns the angle of reading i in radians
func (s Sweep) Angle(i int) float64 {
	return s.AngleMin + float64(i)*s.AngleIncrement
}

// Point projects reading i into robot-centered Cartesian coordinates
// (+X forward, +Y left)
func (s Sweep) Point(i int) r2.Point {
	return Project(s.Ranges[i], s.Angle(i))
}

// Project converts a polar reading to a Cartesian point
func Project(r, theta float64) r2.Point {
	return r2.Point{X: r * math.Cos(theta), Y: r * math.Sin(theta)}
}

// FilterOutOfRange returns a copy of the sweep in which readings outside
// [RangeMin, RangeMax] are replaced by +Inf. Sweeps without limits are
// returned unchanged.
func (s Sweep) FilterOutOfRange() Sweep {
	if s.RangeMax <= 0 {
		return s
	}

	out := s
	out.Ranges = make([]float64, len(s.Ranges))
	for i, r := range s.Ranges {
		if r < s.RangeMin || r > s.RangeMax {
			out.Ranges[i] = math.Inf(1)
			continue
		}
		out.Ranges[i] = r
	}
	return out
}

// Uniform builds a sweep of n readings all equal to r, covering a full turn
// starting at angle 0
func Uniform(n int, r float64) Sweep {
	ranges := make([]float64, n)
	for i := range ranges {
		ranges[i] = r
	}

	inc := 0.0
	if n > 0 {
		inc = 2 * math.Pi / float64(n)
	}

	return Sweep{AngleIncrement: inc, Ranges: ranges}
}

// Side selects which lateral half-plane holds the followed wall
type Side int

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	switch s {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// Holds reports whether a lateral offset y lies on this side
func (s Side) Holds(y float64) bool {
	if s == Right {
		return y < 0
	}
	return y > 0
}

// ParseSide parses "left" or "right" (case-insensitive)
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "left":
		return Left, nil
	case "right":
		return Right, nil
	default:
		return Left, fmt.Errorf("unknown side %q", v)
	}
}

// Degrees converts radians to degrees normalized to [0, 360)
func Degrees(theta float64) float64 {
	d := math.Mod(theta*180/math.Pi, 360)
	if d < 0 {
		d += 360
	}
	if d >= 360 {
		d -= 360
	}
	return d
}
