// Package policy turns sweep classifications into normalized drive/turn
// commands and scales them to velocity twists
package policy

import (
	"fmt"
	"math"

	"github.com/teslashibe/go-wallfollow/internal/scan"
)

// Config holds the control law tunables
type Config struct {
	RobotRadiusSide float64
	MinApproachDist float64
	MaxApproachDist float64

	MaxSpeed float64 // m/s at drive=1
	MaxTurn  float64 // rad/s at turn=1

	// Occupancy fraction thresholds, compared with >
	FrontBlocked float64
	SideTight    float64
	SideClose    float64
}

// DefaultConfig returns the tunables of the reference robot
func DefaultConfig() Config {
	return Config{
		RobotRadiusSide: 0.6,
		MinApproachDist: 0.45,
		MaxApproachDist: 0.55,
		MaxSpeed:        0.18,
		MaxTurn:         0.75,
		FrontBlocked:    0.75,
		SideTight:       0.85,
		SideClose:       0.75,
	}
}

// Rule identifies which branch of the control law produced a command
type Rule int

const (
	RuleGated Rule = iota
	RuleFrontBlocked
	RuleSideTight
	RuleSideClose
	RuleSearch
	RuleTooClose
	RuleBlend
)

// Rules lists every rule in evaluation order, gate first
var Rules = []Rule{RuleGated, RuleFrontBlocked, RuleSideTight, RuleSideClose, RuleSearch, RuleTooClose, RuleBlend}

func (r Rule) String() string {
	switch r {
	case RuleGated:
		return "gated"
	case RuleFrontBlocked:
		return "front_blocked"
	case RuleSideTight:
		return "side_tight"
	case RuleSideClose:
		return "side_close"
	case RuleSearch:
		return "search"
	case RuleTooClose:
		return "too_close"
	case RuleBlend:
		return "blend"
	default:
		return fmt.Sprintf("Rule(%d)", int(r))
	}
}

// MarshalText encodes the rule by name
func (r Rule) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a rule name
func (r *Rule) UnmarshalText(text []byte) error {
	for _, rule := range Rules {
		if rule.String() == string(text) {
			*r = rule
			return nil
		}
	}
	return fmt.Errorf("unknown rule %q", text)
}

// Fixed outputs of the discrete rules, before mirroring
var (
	frontBlocked = Command{Turn: -1, Drive: 0, Rule: RuleFrontBlocked}
	sideTight    = Command{Turn: -0.5, Drive: 0.1, Rule: RuleSideTight}
	sideClose    = Command{Turn: -0.75, Drive: 1, Rule: RuleSideClose}
	search       = Command{Turn: 1, Drive: 0, Rule: RuleSearch}
	tooClose     = Command{Turn: -1, Drive: 0, Rule: RuleTooClose}
)

// Terms are the clipped intermediate values of the blend
type Terms struct {
	Turn1  float64 `json:"turn1"`
	Drive1 float64 `json:"drive1"`
	Turn2  float64 `json:"turn2"`
	Drive2 float64 `json:"drive2"`
}

// Command is a normalized velocity request: Turn in [-1, 1] (+ toward the
// followed side), Drive in [0, 1]
type Command struct {
	Turn  float64 `json:"turn"`
	Drive float64 `json:"drive"`
	Rule  Rule    `json:"rule"`
	Terms *Terms  `json:"terms,omitempty"`
}

// Vector3 is a 3D vector in the robot frame
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Twist is a linear and angular velocity in the robot frame
type Twist struct {
	Linear  Vector3 `json:"linear"`
	Angular Vector3 `json:"angular"`
}

// IsZero reports whether every component is zero
func (t Twist) IsZero() bool {
	return t == Twist{}
}

// Policy evaluates the control law for one followed side
type Policy struct {
	cfg  Config
	side scan.Side
}

// New creates a policy bound to side
func New(cfg Config, side scan.Side) *Policy {
	return &Policy{cfg: cfg, side: side}
}

// Decide maps a classification to a command. The first matching rule wins;
// the blend is the fallback.
func (p *Policy) Decide(r scan.Result) Command {
	var cmd Command

	switch {
	case r.FrontFraction > p.cfg.FrontBlocked:
		cmd = frontBlocked
	case r.SideFraction > p.cfg.SideTight:
		cmd = sideTight
	case r.SideFraction > p.cfg.SideClose:
		cmd = sideClose
	case !r.HasWall():
		cmd = search
	case r.FrontMinX <= p.cfg.MinApproachDist:
		cmd = tooClose
	default:
		cmd = p.blend(r.SideMaxX, r.FrontMinX)
	}

	// Mirror the law across the centerline
	if p.side == scan.Right && cmd.Turn != 0 {
		cmd.Turn = -cmd.Turn
	}

	return cmd
}

func (p *Policy) blend(sideX, frontX float64) Command {
	rs := p.cfg.RobotRadiusSide
	span := p.cfg.MaxApproachDist - p.cfg.MinApproachDist

	t := Terms{
		Turn1:  Clip01((rs - sideX) / (2 * rs)),
		Drive1: Clip01((rs + sideX) / (2 * rs)),
		Drive2: Clip01((frontX - p.cfg.MinApproachDist) / span),
		Turn2:  Clip01((p.cfg.MaxApproachDist - frontX) / span),
	}

	return Command{
		Turn:  t.Turn1 - t.Turn2,
		Drive: t.Drive1 * t.Drive2,
		Rule:  RuleBlend,
		Terms: &t,
	}
}

// Scale converts a normalized command into a twist
func (p *Policy) Scale(c Command) Twist {
	return Twist{
		Linear:  Vector3{X: c.Drive * p.cfg.MaxSpeed},
		Angular: Vector3{Z: c.Turn * p.cfg.MaxTurn},
	}
}

// Clip01 clamps v to [0, 1]. NaN clips to 0.
func Clip01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
