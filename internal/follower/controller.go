// Package follower runs the wall-following control loop: it gates
// incoming sweeps, classifies them, picks a command and publishes it
package follower

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-wallfollow/internal/config"
	"github.com/teslashibe/go-wallfollow/internal/gate"
	"github.com/teslashibe/go-wallfollow/internal/policy"
	"github.com/teslashibe/go-wallfollow/internal/scan"
)

// ErrStopped is returned when submitting to a controller whose loop has exited
var ErrStopped = errors.New("controller stopped")

// CommandSink receives one twist per processed sweep. Implementations should
// not block; a dropped twist is superseded by the next sweep.
type CommandSink interface {
	PublishTwist(tw policy.Twist) error
}

// Config bundles everything the controller needs
type Config struct {
	Side       scan.Side
	Scan       scan.Config
	Policy     policy.Config
	EventQueue int
}

// DefaultConfig returns the reference robot configuration, following the left wall
func DefaultConfig() Config {
	return Config{
		Side:       scan.Left,
		Scan:       scan.DefaultConfig(),
		Policy:     policy.DefaultConfig(),
		EventQueue: 8,
	}
}

// ConfigFrom converts the file configuration
func ConfigFrom(fc config.FollowerConfig) (Config, error) {
	side, err := scan.ParseSide(fc.Side)
	if err != nil {
		return Config{}, fmt.Errorf("follower config: %w", err)
	}

	rightMode, err := scan.ParseRightMode(fc.Windows.RightMode)
	if err != nil {
		return Config{}, fmt.Errorf("follower config: %w", err)
	}

	return Config{
		Side: side,
		Scan: scan.Config{
			RobotRadius:     fc.RobotRadius,
			RobotRadiusSide: fc.RobotRadiusSide,
			MaxSideLimit:    fc.MaxSideLimit,
			MaxApproachDist: fc.MaxApproachDist,
			Windows: scan.Windows{
				SideStart:  fc.Windows.SideStart,
				SideEnd:    fc.Windows.SideEnd,
				SideRange:  fc.Windows.SideRange,
				FrontLeft:  fc.Windows.FrontLeft,
				FrontRight: fc.Windows.FrontRight,
				FrontRange: fc.Windows.FrontRange,
				RightMode:  rightMode,
			},
		},
		Policy: policy.Config{
			RobotRadiusSide: fc.RobotRadiusSide,
			MinApproachDist: fc.MinApproachDist,
			MaxApproachDist: fc.MaxApproachDist,
			MaxSpeed:        fc.MaxSpeed,
			MaxTurn:         fc.MaxTurn,
			FrontBlocked:    fc.Rules.FrontBlocked,
			SideTight:       fc.Rules.SideTight,
			SideClose:       fc.Rules.SideClose,
		},
		EventQueue: fc.EventQueue,
	}, nil
}

// Update describes the outcome of one event. Control is set, and Result,
// Command and Twist are empty, when the update reports a gate transition.
type Update struct {
	Seq       uint64         `json:"seq"`
	State     gate.State     `json:"state"`
	Control   string         `json:"control,omitempty"`
	Result    *scan.Result   `json:"result,omitempty"`
	Command   policy.Command `json:"command"`
	Twist     policy.Twist   `json:"twist"`
	Timestamp time.Time      `json:"timestamp"`
}

type event struct {
	sweep   scan.Sweep
	token   string
	control bool
}

// Controller owns the gate, classifier and policy for one robot
type Controller struct {
	cfg        Config
	gate       *gate.Gate
	classifier *scan.Classifier
	policy     *policy.Policy
	sink       CommandSink
	logger     *slog.Logger

	events chan event

	mu     sync.RWMutex
	latest Update
	state  gate.State
	seq    uint64

	// Metrics
	sweepsProcessed int64
	sweepsGated     int64
	sweepsDropped   int64
	publishErrors   int64
	controls        int64
	ignoredControls int64
	ruleCounts      map[policy.Rule]int64
	lastSweepAt     time.Time

	// Lifecycle
	cancel context.CancelFunc
	done   chan struct{}

	// Subscribers for real-time updates
	subsMu sync.RWMutex
	subs   map[chan Update]struct{}
}

// New creates a paused controller. sink and hook may be nil.
func New(cfg Config, sink CommandSink, hook gate.PauseHook, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EventQueue < 1 {
		cfg.EventQueue = 1
	}

	return &Controller{
		cfg:        cfg,
		gate:       gate.New(hook, logger),
		classifier: scan.NewClassifier(cfg.Scan, cfg.Side),
		policy:     policy.New(cfg.Policy, cfg.Side),
		sink:       sink,
		logger:     logger,
		events:     make(chan event, cfg.EventQueue),
		state:      gate.Paused,
		ruleCounts: make(map[policy.Rule]int64),
		done:       make(chan struct{}),
		subs:       make(map[chan Update]struct{}),
	}
}

// Side returns the followed side
func (c *Controller) Side() scan.Side {
	return c.cfg.Side
}

// Config returns the controller configuration
func (c *Controller) Config() Config {
	return c.cfg
}

// Run processes submitted events one at a time until ctx is done
// (blocking, use goroutine)
func (c *Controller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	defer close(c.done)

	c.logger.Info("controller started",
		"side", c.cfg.Side.String(),
		"max_speed", c.cfg.Policy.MaxSpeed,
		"max_turn", c.cfg.Policy.MaxTurn,
		"state", gate.Paused.String(),
	)

	for {
		select {
		case <-ctx.Done():
			stats := c.Stats()
			c.logger.Info("controller stopped",
				"sweeps", stats.SweepsProcessed,
				"gated", stats.SweepsGated,
				"dropped", stats.SweepsDropped,
			)
			return ctx.Err()
		case ev := <-c.events:
			if ev.control {
				c.HandleControl(ev.token)
			} else {
				c.HandleSweep(ev.sweep)
			}
		}
	}
}

// SubmitSweep queues a sweep without blocking. It reports false when the
// queue is full and the sweep was dropped.
func (c *Controller) SubmitSweep(s scan.Sweep) bool {
	select {
	case c.events <- event{sweep: s}:
		return true
	default:
		c.mu.Lock()
		c.sweepsDropped++
		c.mu.Unlock()
		return false
	}
}

// SubmitControl queues a control token, waiting for room in the queue
func (c *Controller) SubmitControl(ctx context.Context, token string) error {
	select {
	case <-c.done:
		return ErrStopped
	default:
	}

	select {
	case c.events <- event{token: token, control: true}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

// HandleSweep runs one sweep through the pipeline and publishes the result.
// It must not be called concurrently with Run or itself.
func (c *Controller) HandleSweep(s scan.Sweep) policy.Twist {
	now := time.Now()

	if !c.gate.Running() {
		var tw policy.Twist
		c.publish(tw)
		c.record(Update{
			State:     gate.Paused,
			Command:   policy.Command{Rule: policy.RuleGated},
			Twist:     tw,
			Timestamp: now,
		}, true)
		return tw
	}

	res := c.classifier.Classify(s)
	cmd := c.policy.Decide(res)
	tw := c.policy.Scale(cmd)

	c.logger.Debug("sweep classified",
		"readings", s.Len(),
		"side_max_x", res.SideMaxX,
		"front_min_x", res.FrontMinX,
		"side_fraction", res.SideFraction,
		"front_fraction", res.FrontFraction,
		"rule", cmd.Rule.String(),
		"linear_x", tw.Linear.X,
		"angular_z", tw.Angular.Z,
	)

	c.publish(tw)
	c.record(Update{
		State:     gate.Running,
		Result:    &res,
		Command:   cmd,
		Twist:     tw,
		Timestamp: now,
	}, true)

	return tw
}

// HandleControl applies a control token to the gate. It must not be called
// concurrently with Run or HandleSweep.
func (c *Controller) HandleControl(token string) {
	c.logger.Info("control message received", "token", token)

	prev := c.gate.State()
	recognized := c.gate.Apply(token)
	state := c.gate.State()

	c.mu.Lock()
	c.controls++
	if !recognized {
		c.ignoredControls++
	}
	c.state = state

	var u Update
	changed := state != prev
	if changed {
		c.seq++
		u = Update{Seq: c.seq, State: state, Control: token, Timestamp: time.Now()}
	}
	c.mu.Unlock()

	// Transitions are not sweeps and leave the snapshot alone
	if changed {
		c.notifySubscribers(u)
	}
}

func (c *Controller) publish(tw policy.Twist) {
	if c.sink == nil {
		return
	}

	if err := c.sink.PublishTwist(tw); err != nil {
		c.mu.Lock()
		c.publishErrors++
		c.mu.Unlock()
		c.logger.Debug("twist publish failed", "error", err)
	}
}

func (c *Controller) record(u Update, sweep bool) {
	c.mu.Lock()
	c.seq++
	u.Seq = c.seq
	c.latest = u
	c.state = u.State
	if sweep {
		c.lastSweepAt = u.Timestamp
		if u.State == gate.Paused {
			c.sweepsGated++
		} else {
			c.sweepsProcessed++
		}
		c.ruleCounts[u.Command.Rule]++
	}
	c.mu.Unlock()

	c.notifySubscribers(u)
}

func (c *Controller) notifySubscribers(u Update) {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()

	for ch := range c.subs {
		select {
		case ch <- u:
		default:
			// Drop if subscriber is slow
		}
	}
}

// Subscribe returns a channel that receives controller updates
func (c *Controller) Subscribe() chan Update {
	ch := make(chan Update, 10)

	c.subsMu.Lock()
	c.subs[ch] = struct{}{}
	c.subsMu.Unlock()

	return ch
}

// Unsubscribe removes a subscriber
func (c *Controller) Unsubscribe(ch chan Update) {
	c.subsMu.Lock()
	if _, exists := c.subs[ch]; exists {
		delete(c.subs, ch)
		close(ch)
	}
	c.subsMu.Unlock()
}

// Snapshot returns the most recent update
func (c *Controller) Snapshot() Update {
	c.mu.RLock()
	defer c.mu.RUnlock()

	u := c.latest
	u.State = c.state
	return u
}

// State returns the gate state as last observed by the loop
func (c *Controller) State() gate.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Alive reports whether Run is processing events
func (c *Controller) Alive() bool {
	c.mu.RLock()
	started := c.cancel != nil
	c.mu.RUnlock()

	if !started {
		return false
	}

	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Stats contains controller statistics
type Stats struct {
	State           gate.State       `json:"state"`
	Side            string           `json:"side"`
	SweepsProcessed int64            `json:"sweeps_processed"`
	SweepsGated     int64            `json:"sweeps_gated"`
	SweepsDropped   int64            `json:"sweeps_dropped"`
	PublishErrors   int64            `json:"publish_errors"`
	Controls        int64            `json:"control_messages"`
	IgnoredControls int64            `json:"ignored_control_messages"`
	RuleCounts      map[string]int64 `json:"rule_counts"`
	SubscriberCount int              `json:"subscriber_count"`
	LastSweepAt     time.Time        `json:"last_sweep_at"`
}

// Stats returns controller statistics
func (c *Controller) Stats() Stats {
	c.mu.RLock()
	rules := make(map[string]int64, len(policy.Rules))
	for _, r := range policy.Rules {
		rules[r.String()] = c.ruleCounts[r]
	}

	stats := Stats{
		State:           c.state,
		Side:            c.cfg.Side.String(),
		SweepsProcessed: c.sweepsProcessed,
		SweepsGated:     c.sweepsGated,
		SweepsDropped:   c.sweepsDropped,
		PublishErrors:   c.publishErrors,
		Controls:        c.controls,
		IgnoredControls: c.ignoredControls,
		RuleCounts:      rules,
		LastSweepAt:     c.lastSweepAt,
	}
	c.mu.RUnlock()

	c.subsMu.RLock()
	stats.SubscriberCount = len(c.subs)
	c.subsMu.RUnlock()

	return stats
}

// Stop stops the loop and closes all subscriber channels
func (c *Controller) Stop() {
	c.mu.RLock()
	cancel := c.cancel
	c.mu.RUnlock()

	if cancel != nil {
		cancel()
		<-c.done
	}

	c.subsMu.Lock()
	for ch := range c.subs {
		close(ch)
		delete(c.subs, ch)
	}
	c.subsMu.Unlock()
}
