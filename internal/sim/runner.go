package sim

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-wallfollow/internal/scan"
)

// SweepSubmitter accepts sweeps without blocking
type SweepSubmitter interface {
	SubmitSweep(s scan.Sweep) bool
}

// Runner advances the world and emits a sweep at the configured rate
type Runner struct {
	world  *World
	out    SweepSubmitter
	period time.Duration
	logger *slog.Logger

	ticks   atomic.Int64
	dropped atomic.Int64
}

// NewRunner creates a runner feeding out
func NewRunner(world *World, out SweepSubmitter, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	hz := world.cfg.ScanHz
	if hz <= 0 {
		hz = 5
	}

	return &Runner{
		world:  world,
		out:    out,
		period: time.Second / time.Duration(hz),
		logger: logger.With("component", "sim"),
	}
}

// Run ticks until ctx is done (blocking, use goroutine)
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	start := r.world.Pose()
	r.logger.Info("simulator started",
		"period", r.period,
		"room_width", r.world.cfg.Room.X.Length(),
		"room_height", r.world.cfg.Room.Y.Length(),
		"x", start.X,
		"y", start.Y,
	)

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			pose := r.world.Pose()
			r.logger.Info("simulator stopped",
				"ticks", r.ticks.Load(),
				"x", pose.X,
				"y", pose.Y,
			)
			return ctx.Err()
		case now := <-ticker.C:
			r.world.Step(now.Sub(last).Seconds())
			last = now

			r.ticks.Add(1)
			if !r.out.SubmitSweep(r.world.Scan()) {
				r.dropped.Add(1)
			}
		}
	}
}

// Ticks returns the number of sweeps emitted
func (r *Runner) Ticks() int64 {
	return r.ticks.Load()
}

// Dropped returns the number of sweeps the receiver refused
func (r *Runner) Dropped() int64 {
	return r.dropped.Load()
}
