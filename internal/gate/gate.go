// Package gate provides the start/stop switch that pauses wall following
package gate

import (
	"fmt"
	"log/slog"
)

// State is the gate position
type State int

const (
	Paused State = iota
	Running
)

func (s State) String() string {
	switch s {
	case Paused:
		return "PAUSED"
	case Running:
		return "RUNNING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "PAUSED":
		*s = Paused
	case "RUNNING":
		*s = Running
	default:
		return fmt.Errorf("unknown gate state %q", text)
	}
	return nil
}

// Control tokens
const (
	TokenStart = "start"
	TokenStop  = "stop"
)

// PauseHook is notified whenever a stop is requested
type PauseHook interface {
	OnPauseRequested()
}

// PauseHookFunc adapts a function to PauseHook
type PauseHookFunc func()

// OnPauseRequested calls f
func (f PauseHookFunc) OnPauseRequested() { f() }

// Gate is a two-state switch, initially Paused. It is not safe for
// concurrent use; callers serialize access.
type Gate struct {
	state  State
	hook   PauseHook
	logger *slog.Logger
}

// New creates a paused gate. hook may be nil.
func New(hook PauseHook, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}

	return &Gate{
		state:  Paused,
		hook:   hook,
		logger: logger,
	}
}

// State returns the current state
func (g *Gate) State() State {
	return g.state
}

// Running reports whether commands may be produced
func (g *Gate) Running() bool {
	return g.state == Running
}

// Start moves the gate to Running
func (g *Gate) Start() {
	if g.state != Running {
		g.logger.Info("wall following started")
	}
	g.state = Running
}

// Stop moves the gate to Paused and notifies the hook
func (g *Gate) Stop() {
	if g.state != Paused {
		g.logger.Info("wall following stopped")
	}
	g.state = Paused

	if g.hook != nil {
		g.hook.OnPauseRequested()
	}
}

// Apply handles a control token and reports whether it was recognized.
// Tokens must match exactly; anything else is ignored.
func (g *Gate) Apply(token string) bool {
	switch token {
	case TokenStart:
		g.Start()
		return true
	case TokenStop:
		g.Stop()
		return true
	default:
		g.logger.Debug("ignoring control token", "token", token)
		return false
	}
}
