package scan

import (
	"encoding/json"
	"math"
	"testing"
)

const eps = 1e-9

func deg(d float64) float64 { return d * math.Pi / 180 }

// sparseSweep builds a 360-beam sweep of +Inf with the given degree->range hits
func sparseSweep(hits map[int]float64) Sweep {
	s := Uniform(360, math.Inf(1))
	for d, r := range hits {
		s.Ranges[d] = r
	}
	return s
}

// halfDegreeSweep places beams at 0.5°, 1.5°, ... so none sits on a window edge
func halfDegreeSweep(n int, r float64) Sweep {
	s := Uniform(n, r)
	s.AngleMin = deg(0.5 * 360 / float64(n))
	return s
}

func TestClassify_Empty(t *testing.T) {
	c := NewClassifier(DefaultConfig(), Left)

	res := c.Classify(Sweep{})

	if res.HasWall() || res.HasFront() {
		t.Errorf("expected no wall and no front, got %+v", res)
	}
	if res.SideFraction != 0 || res.FrontFraction != 0 {
		t.Errorf("expected zero fractions, got %+v", res)
	}
	if !math.IsInf(res.SideMaxX, -1) || !math.IsInf(res.FrontMinX, 1) {
		t.Errorf("expected -Inf/+Inf sentinels, got %+v", res)
	}
}

func TestClassify_OpenSpace(t *testing.T) {
	c := NewClassifier(DefaultConfig(), Left)

	res := c.Classify(Uniform(360, 2.0))

	if res.HasWall() {
		t.Errorf("expected no wall, got side_max_x %f", res.SideMaxX)
	}
	if res.HasFront() {
		t.Errorf("expected no front obstacle, got front_min_x %f", res.FrontMinX)
	}
	if res.SideFraction != 0 || res.FrontFraction != 0 {
		t.Errorf("expected zero fractions, got side %f front %f", res.SideFraction, res.FrontFraction)
	}
}

func TestClassify_FrontReading(t *testing.T) {
	c := NewClassifier(DefaultConfig(), Left)

	res := c.Classify(Sweep{AngleIncrement: deg(1), Ranges: []float64{0.3}})

	if math.Abs(res.FrontMinX-0.3) > eps {
		t.Errorf("expected front_min_x 0.3, got %f", res.FrontMinX)
	}
	if res.HasWall() {
		t.Errorf("a point on the centerline is not a side wall, got %f", res.SideMaxX)
	}
	if math.Abs(res.FrontFraction-1.0/70) > eps {
		t.Errorf("expected front fraction 1/70, got %f", res.FrontFraction)
	}
}

func TestClassify_SideWall(t *testing.T) {
	tests := []struct {
		name     string
		side     Side
		hits     map[int]float64
		wantWall bool
		wantX    float64
	}{
		{
			name:     "left wall abeam",
			side:     Left,
			hits:     map[int]float64{90: 0.3},
			wantWall: true,
			wantX:    0,
		},
		{
			name:     "left wall ignored when following right",
			side:     Right,
			hits:     map[int]float64{90: 0.3},
			wantWall: false,
		},
		{
			name:     "right wall abeam",
			side:     Right,
			hits:     map[int]float64{270: 0.3},
			wantWall: true,
			wantX:    0,
		},
		{
			name:     "max x wins",
			side:     Left,
			hits:     map[int]float64{60: 0.5, 120: 0.5},
			wantWall: true,
			wantX:    0.25,
		},
		{
			name:     "beyond side limit",
			side:     Left,
			hits:     map[int]float64{90: 0.7},
			wantWall: false,
		},
		{
			name:     "too far forward for side band",
			side:     Left,
			hits:     map[int]float64{10: 1.0},
			wantWall: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(DefaultConfig(), tt.side)
			res := c.Classify(sparseSweep(tt.hits))

			if res.HasWall() != tt.wantWall {
				t.Fatalf("HasWall() = %v, want %v (side_max_x %f)", res.HasWall(), tt.wantWall, res.SideMaxX)
			}
			if tt.wantWall && math.Abs(res.SideMaxX-tt.wantX) > 1e-6 {
				t.Errorf("side_max_x = %f, want %f", res.SideMaxX, tt.wantX)
			}
		})
	}
}

func TestClassify_FrontCorridor(t *testing.T) {
	c := NewClassifier(DefaultConfig(), Left)

	// 30° at 0.5 m is 0.25 m off the centerline, outside the 0.22 m corridor
	res := c.Classify(sparseSweep(map[int]float64{30: 0.5}))
	if res.HasFront() {
		t.Errorf("expected point outside corridor to be ignored, got %f", res.FrontMinX)
	}

	// Nearest of two frontal points wins
	res = c.Classify(sparseSweep(map[int]float64{0: 0.5, 5: 0.4}))
	want := 0.4 * math.Cos(deg(5))
	if math.Abs(res.FrontMinX-want) > 1e-6 {
		t.Errorf("front_min_x = %f, want %f", res.FrontMinX, want)
	}

	// Beyond the approach limit
	res = c.Classify(sparseSweep(map[int]float64{0: 0.6}))
	if res.HasFront() {
		t.Errorf("expected point beyond approach limit to be ignored, got %f", res.FrontMinX)
	}
}

func TestClassify_FullOccupancy(t *testing.T) {
	c := NewClassifier(DefaultConfig(), Left)

	res := c.Classify(halfDegreeSweep(360, 0.5))

	if math.Abs(res.SideFraction-1) > eps {
		t.Errorf("expected side fraction 1, got %f", res.SideFraction)
	}
	if math.Abs(res.FrontFraction-1) > eps {
		t.Errorf("expected front fraction 1, got %f", res.FrontFraction)
	}
}

func TestClassify_RangeThresholds(t *testing.T) {
	c := NewClassifier(DefaultConfig(), Left)

	// 0.8 m is past the side range limit but inside the front one
	res := c.Classify(halfDegreeSweep(360, 0.8))

	if res.SideFraction != 0 {
		t.Errorf("expected side fraction 0, got %f", res.SideFraction)
	}
	if math.Abs(res.FrontFraction-1) > eps {
		t.Errorf("expected front fraction 1, got %f", res.FrontFraction)
	}
}

func TestClassify_DenseSweepClamped(t *testing.T) {
	c := NewClassifier(DefaultConfig(), Left)

	res := c.Classify(halfDegreeSweep(720, 0.5))

	if res.SideFraction != 1 || res.FrontFraction != 1 {
		t.Errorf("expected fractions clamped to 1, got side %f front %f", res.SideFraction, res.FrontFraction)
	}
}

func TestClassify_NegativeAngles(t *testing.T) {
	c := NewClassifier(DefaultConfig(), Left)

	// -10° should land in the (330, 360) part of the front window
	s := Sweep{AngleMin: deg(-10), AngleIncrement: deg(1), Ranges: []float64{0.9}}
	res := c.Classify(s)

	if math.Abs(res.FrontFraction-1.0/70) > eps {
		t.Errorf("expected front fraction 1/70, got %f", res.FrontFraction)
	}
}

func TestClassify_RightMode(t *testing.T) {
	// Readings at 60° (left window) and 300° (its mirror image)
	hits := map[int]float64{60: 0.5, 300: 0.5}

	tests := []struct {
		name      string
		mode      RightMode
		wantSide  float64
		wantFront float64
	}{
		{"default", "", 0, 0},
		{"disabled", RightDisabled, 0, 0},
		{"left only", RightLeftOnly, 1.0 / 105, 0},
		{"mirror", RightMirror, 1.0 / 105, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Windows.RightMode = tt.mode

			res := NewClassifier(cfg, Right).Classify(sparseSweep(hits))
			if math.Abs(res.SideFraction-tt.wantSide) > eps {
				t.Errorf("side fraction = %f, want %f", res.SideFraction, tt.wantSide)
			}
			if math.Abs(res.FrontFraction-tt.wantFront) > eps {
				t.Errorf("front fraction = %f, want %f", res.FrontFraction, tt.wantFront)
			}
		})
	}
}

func TestClassify_RightModeWindowSide(t *testing.T) {
	left := map[int]float64{60: 0.5}
	right := map[int]float64{300: 0.5}

	leftOnly := DefaultConfig()
	leftOnly.Windows.RightMode = RightLeftOnly
	if got := NewClassifier(leftOnly, Right).Classify(sparseSweep(right)).SideFraction; got != 0 {
		t.Errorf("left_only: expected the 300° reading ignored, got %f", got)
	}

	mirror := DefaultConfig()
	mirror.Windows.RightMode = RightMirror
	if got := NewClassifier(mirror, Right).Classify(sparseSweep(left)).SideFraction; got != 0 {
		t.Errorf("mirror: expected the 60° reading ignored, got %f", got)
	}
	if got := NewClassifier(mirror, Right).Classify(sparseSweep(right)).SideFraction; math.Abs(got-1.0/105) > eps {
		t.Errorf("mirror: expected the 300° reading counted, got %f", got)
	}
}

func TestClassify_RightModeIgnoredForLeft(t *testing.T) {
	for _, mode := range []RightMode{RightDisabled, RightLeftOnly, RightMirror} {
		cfg := DefaultConfig()
		cfg.Windows.RightMode = mode

		res := NewClassifier(cfg, Left).Classify(sparseSweep(map[int]float64{60: 0.5, 300: 0.5}))
		if math.Abs(res.SideFraction-1.0/105) > eps {
			t.Errorf("%s: expected only the 60° reading to count, got %f", mode, res.SideFraction)
		}
	}
}

func TestClassify_RightModeKeepsGeometry(t *testing.T) {
	// A right wall at 0.4 m is still seen when the fractions are disabled
	res := NewClassifier(DefaultConfig(), Right).Classify(sparseSweep(map[int]float64{270: 0.4}))
	if !res.HasWall() {
		t.Error("expected the side wall to be detected")
	}
	if res.SideFraction != 0 {
		t.Errorf("expected zero side fraction, got %f", res.SideFraction)
	}
}

func TestParseRightMode(t *testing.T) {
	tests := []struct {
		in      string
		want    RightMode
		wantErr bool
	}{
		{"", RightDisabled, false},
		{"disabled", RightDisabled, false},
		{" Mirror ", RightMirror, false},
		{"left_only", RightLeftOnly, false},
		{"both", RightDisabled, true},
	}

	for _, tt := range tests {
		got, err := ParseRightMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRightMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseRightMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClassify_NonFinite(t *testing.T) {
	c := NewClassifier(DefaultConfig(), Left)

	s := sparseSweep(map[int]float64{0: math.NaN(), 90: math.NaN()})
	res := c.Classify(s)

	if res.HasWall() || res.HasFront() || res.SideFraction != 0 || res.FrontFraction != 0 {
		t.Errorf("expected non-finite readings to be ignored, got %+v", res)
	}
}

func TestClassify_Idempotent(t *testing.T) {
	c := NewClassifier(DefaultConfig(), Left)

	s := sparseSweep(map[int]float64{0: 0.5, 60: 0.4, 90: 0.3, 120: 0.45})
	before := append([]float64(nil), s.Ranges...)

	first := c.Classify(s)
	second := c.Classify(s)

	if first != second {
		t.Errorf("classification differs between calls: %+v vs %+v", first, second)
	}
	for i := range before {
		if before[i] != s.Ranges[i] && !(math.IsInf(before[i], 1) && math.IsInf(s.Ranges[i], 1)) {
			t.Fatalf("sweep mutated at %d: %f -> %f", i, before[i], s.Ranges[i])
		}
	}
}

func TestResult_MarshalJSON(t *testing.T) {
	res := Result{SideMaxX: math.Inf(-1), FrontMinX: 0.4, SideFraction: 0.1}

	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if parsed["side_max_x"] != nil {
		t.Errorf("expected null side_max_x, got %v", parsed["side_max_x"])
	}
	if parsed["front_min_x"].(float64) != 0.4 {
		t.Errorf("expected front_min_x 0.4, got %v", parsed["front_min_x"])
	}
}

func TestResult_UnmarshalJSON(t *testing.T) {
	var res Result
	if err := json.Unmarshal([]byte(`{"side_max_x":null,"front_min_x":0.4,"side_fraction":0.1,"front_fraction":0}`), &res); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if res.HasWall() {
		t.Error("null side_max_x should mean no wall")
	}
	if !res.HasFront() || res.FrontMinX != 0.4 || res.SideFraction != 0.1 {
		t.Errorf("unexpected result %+v", res)
	}
}
