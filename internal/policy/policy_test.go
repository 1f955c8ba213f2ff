package policy

import (
	"math"
	"testing"

	"github.com/teslashibe/go-wallfollow/internal/scan"
)

const eps = 1e-9

var (
	none    = math.Inf(-1)
	nothing = math.Inf(1)
)

func TestClip01(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"below", -0.5, 0},
		{"zero", 0, 0},
		{"inside", 0.42, 0.42},
		{"one", 1, 1},
		{"above", 3, 1},
		{"negative infinity", math.Inf(-1), 0},
		{"positive infinity", math.Inf(1), 1},
		{"nan", math.NaN(), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Clip01(tt.in)
			if got != tt.want {
				t.Errorf("Clip01(%f) = %f, want %f", tt.in, got, tt.want)
			}
			if Clip01(got) != got {
				t.Errorf("Clip01 not idempotent at %f", tt.in)
			}
			if got < 0 || got > 1 {
				t.Errorf("Clip01(%f) = %f out of range", tt.in, got)
			}
		})
	}
}

func TestDecide_Rules(t *testing.T) {
	tests := []struct {
		name      string
		result    scan.Result
		wantRule  Rule
		wantTurn  float64
		wantDrive float64
	}{
		{
			name:      "front blocked beats everything",
			result:    scan.Result{SideMaxX: 0.1, FrontMinX: 0.2, SideFraction: 0.9, FrontFraction: 0.8},
			wantRule:  RuleFrontBlocked,
			wantTurn:  -1,
			wantDrive: 0,
		},
		{
			name:      "side tight",
			result:    scan.Result{SideMaxX: none, FrontMinX: nothing, SideFraction: 0.9},
			wantRule:  RuleSideTight,
			wantTurn:  -0.5,
			wantDrive: 0.1,
		},
		{
			name:      "side close",
			result:    scan.Result{SideMaxX: none, FrontMinX: nothing, SideFraction: 0.8},
			wantRule:  RuleSideClose,
			wantTurn:  -0.75,
			wantDrive: 1,
		},
		{
			name:      "thresholds are strict",
			result:    scan.Result{SideMaxX: none, FrontMinX: nothing, SideFraction: 0.75, FrontFraction: 0.75},
			wantRule:  RuleSearch,
			wantTurn:  1,
			wantDrive: 0,
		},
		{
			name:      "no wall searches even with obstacle ahead",
			result:    scan.Result{SideMaxX: none, FrontMinX: 0.2},
			wantRule:  RuleSearch,
			wantTurn:  1,
			wantDrive: 0,
		},
		{
			name:      "too close ahead",
			result:    scan.Result{SideMaxX: 0.1, FrontMinX: 0.3},
			wantRule:  RuleTooClose,
			wantTurn:  -1,
			wantDrive: 0,
		},
		{
			name:      "too close at the limit",
			result:    scan.Result{SideMaxX: 0.1, FrontMinX: 0.45},
			wantRule:  RuleTooClose,
			wantTurn:  -1,
			wantDrive: 0,
		},
		{
			name:      "blend with clear front",
			result:    scan.Result{SideMaxX: 0, FrontMinX: nothing},
			wantRule:  RuleBlend,
			wantTurn:  0.5,
			wantDrive: 0.5,
		},
		{
			name:      "blend with obstacle in approach band",
			result:    scan.Result{SideMaxX: 0.3, FrontMinX: 0.5},
			wantRule:  RuleBlend,
			wantTurn:  -0.25,
			wantDrive: 0.375,
		},
		{
			name:      "blend saturates",
			result:    scan.Result{SideMaxX: 0.6, FrontMinX: nothing},
			wantRule:  RuleBlend,
			wantTurn:  0,
			wantDrive: 1,
		},
	}

	p := New(DefaultConfig(), scan.Left)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Decide(tt.result)

			if got.Rule != tt.wantRule {
				t.Errorf("Rule = %v, want %v", got.Rule, tt.wantRule)
			}
			if math.Abs(got.Turn-tt.wantTurn) > eps {
				t.Errorf("Turn = %f, want %f", got.Turn, tt.wantTurn)
			}
			if math.Abs(got.Drive-tt.wantDrive) > eps {
				t.Errorf("Drive = %f, want %f", got.Drive, tt.wantDrive)
			}
			if got.Turn < -1 || got.Turn > 1 || got.Drive < 0 || got.Drive > 1 {
				t.Errorf("command out of range: %+v", got)
			}
		})
	}
}

func TestDecide_BlendTerms(t *testing.T) {
	p := New(DefaultConfig(), scan.Left)

	got := p.Decide(scan.Result{SideMaxX: 0.3, FrontMinX: 0.5})
	if got.Terms == nil {
		t.Fatal("expected blend terms")
	}

	want := Terms{Turn1: 0.25, Drive1: 0.75, Turn2: 0.5, Drive2: 0.5}
	for name, pair := range map[string][2]float64{
		"turn1":  {got.Terms.Turn1, want.Turn1},
		"drive1": {got.Terms.Drive1, want.Drive1},
		"turn2":  {got.Terms.Turn2, want.Turn2},
		"drive2": {got.Terms.Drive2, want.Drive2},
	} {
		if math.Abs(pair[0]-pair[1]) > eps {
			t.Errorf("%s = %f, want %f", name, pair[0], pair[1])
		}
	}

	if rule := p.Decide(scan.Result{SideMaxX: none, FrontMinX: nothing}); rule.Terms != nil {
		t.Error("discrete rules should not carry blend terms")
	}
}

func TestDecide_Mirroring(t *testing.T) {
	left := New(DefaultConfig(), scan.Left)
	right := New(DefaultConfig(), scan.Right)

	sides := []float64{none, -0.6, -0.2, 0, 0.1, 0.35, 0.6}
	fronts := []float64{nothing, 0.2, 0.45, 0.47, 0.5, 0.55}

	for _, sx := range sides {
		for _, fx := range fronts {
			r := scan.Result{SideMaxX: sx, FrontMinX: fx}

			l := left.Decide(r)
			rr := right.Decide(r)

			if math.Abs(rr.Turn+l.Turn) > eps {
				t.Errorf("side %f front %f: right turn %f, want %f", sx, fx, rr.Turn, -l.Turn)
			}
			if math.Abs(rr.Drive-l.Drive) > eps {
				t.Errorf("side %f front %f: right drive %f, want %f", sx, fx, rr.Drive, l.Drive)
			}
			if rr.Rule != l.Rule {
				t.Errorf("side %f front %f: rules differ %v vs %v", sx, fx, rr.Rule, l.Rule)
			}
		}
	}
}

func TestDecide_RightOccupancyRulesMirrored(t *testing.T) {
	p := New(DefaultConfig(), scan.Right)

	got := p.Decide(scan.Result{SideMaxX: 0.1, FrontMinX: 0.2, FrontFraction: 0.9})
	if got.Turn != 1 || got.Drive != 0 {
		t.Errorf("expected (1, 0) for right follower, got (%f, %f)", got.Turn, got.Drive)
	}
}

func TestDecide_ConfiguredThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SideClose = 0.5

	p := New(cfg, scan.Left)

	got := p.Decide(scan.Result{SideMaxX: 0.1, FrontMinX: nothing, SideFraction: 0.6})
	if got.Rule != RuleSideClose {
		t.Errorf("expected side_close with lowered threshold, got %v", got.Rule)
	}
}

func TestScale(t *testing.T) {
	p := New(DefaultConfig(), scan.Left)

	tw := p.Scale(Command{Turn: -1, Drive: 1})

	if math.Abs(tw.Linear.X-0.18) > eps {
		t.Errorf("Linear.X = %f, want 0.18", tw.Linear.X)
	}
	if math.Abs(tw.Angular.Z+0.75) > eps {
		t.Errorf("Angular.Z = %f, want -0.75", tw.Angular.Z)
	}
	if tw.Linear.Y != 0 || tw.Linear.Z != 0 || tw.Angular.X != 0 || tw.Angular.Y != 0 {
		t.Errorf("expected unused components zero, got %+v", tw)
	}

	if !p.Scale(Command{}).IsZero() {
		t.Error("zero command should scale to zero twist")
	}
}

func TestPipeline_OpenSpace(t *testing.T) {
	c := scan.NewClassifier(scan.DefaultConfig(), scan.Left)
	p := New(DefaultConfig(), scan.Left)

	got := p.Decide(c.Classify(scan.Uniform(360, 2.0)))

	if got.Turn != 1 || got.Drive != 0 {
		t.Errorf("expected search (1, 0), got (%f, %f)", got.Turn, got.Drive)
	}
}

func TestPipeline_ObstacleAhead(t *testing.T) {
	c := scan.NewClassifier(scan.DefaultConfig(), scan.Left)
	p := New(DefaultConfig(), scan.Left)

	// Wall abeam on the left and a return 0.3 m dead ahead
	s := scan.Uniform(360, math.Inf(1))
	s.Ranges[0] = 0.3
	s.Ranges[90] = 0.3

	got := p.Decide(c.Classify(s))

	if got.Rule != RuleTooClose || got.Turn != -1 || got.Drive != 0 {
		t.Errorf("expected too_close (-1, 0), got %v (%f, %f)", got.Rule, got.Turn, got.Drive)
	}
}

func TestRule_String(t *testing.T) {
	for _, r := range Rules {
		if r.String() == "" {
			t.Errorf("rule %d has empty name", int(r))
		}
	}
	if Rule(99).String() != "Rule(99)" {
		t.Errorf("unexpected name for unknown rule: %s", Rule(99).String())
	}
}

func TestRule_UnmarshalText(t *testing.T) {
	for _, r := range Rules {
		var got Rule
		if err := got.UnmarshalText([]byte(r.String())); err != nil {
			t.Fatalf("UnmarshalText(%q) error = %v", r, err)
		}
		if got != r {
			t.Errorf("got %v, want %v", got, r)
		}
	}

	var r Rule
	if err := r.UnmarshalText([]byte("wander")); err == nil {
		t.Error("expected error for unknown rule")
	}
}

func TestPipeline_RightFollowerIgnoresLeftWall(t *testing.T) {
	// Wall only on the left at 30°..134°, 0.5 m away
	s := scan.Uniform(360, math.Inf(1))
	for d := 30; d < 135; d++ {
		s.Ranges[d] = 0.5
	}

	tests := []struct {
		name     string
		mode     scan.RightMode
		wantRule Rule
		wantTurn float64
	}{
		{"disabled", scan.RightDisabled, RuleSearch, -1},
		{"mirror", scan.RightMirror, RuleSearch, -1},
		{"left only", scan.RightLeftOnly, RuleSideTight, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := scan.DefaultConfig()
			cfg.Windows.RightMode = tt.mode

			c := scan.NewClassifier(cfg, scan.Right)
			p := New(DefaultConfig(), scan.Right)

			got := p.Decide(c.Classify(s))
			if got.Rule != tt.wantRule || math.Abs(got.Turn-tt.wantTurn) > eps {
				t.Errorf("got %v turn %f, want %v turn %f", got.Rule, got.Turn, tt.wantRule, tt.wantTurn)
			}
		})
	}
}
