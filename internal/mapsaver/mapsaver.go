// Package mapsaver launches the map-saving command when the follower is
// stopped and then asks the daemon to shut down
package mapsaver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-wallfollow/internal/config"
)

// Config holds map saver configuration
type Config struct {
	Enabled       bool
	Command       string
	Args          []string
	ShutdownDelay time.Duration // Delay between launch and shutdown request
	SaveTimeout   time.Duration // Kill the command after this long; 0 disables
	ExitOnStop    bool
}

// DefaultConfig returns defaults
func DefaultConfig() Config {
	return ConfigFrom(config.Default().MapSaver)
}

// ConfigFrom maps the file configuration onto a saver Config
func ConfigFrom(mc config.MapSaverConfig) Config {
	return Config{
		Enabled:       mc.Enabled,
		Command:       mc.Command,
		Args:          append([]string(nil), mc.Args...),
		ShutdownDelay: mc.ShutdownDelay,
		SaveTimeout:   mc.SaveTimeout,
		ExitOnStop:    mc.ExitOnStop,
	}
}

// Saver runs the configured command at most once per process
type Saver struct {
	cfg      Config
	shutdown func()
	logger   *slog.Logger

	once sync.Once
	done chan struct{}

	mu        sync.RWMutex
	triggered bool
	running   bool
	startedAt time.Time
	exitCode  int
	err       error
}

// New creates a saver. shutdown is called after ShutdownDelay when
// ExitOnStop is set; it may be nil.
func New(cfg Config, shutdown func(), logger *slog.Logger) *Saver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Saver{
		cfg:      cfg,
		shutdown: shutdown,
		logger:   logger.With("component", "mapsaver"),
		done:     make(chan struct{}),
		exitCode: -1,
	}
}

// OnPauseRequested launches the command. Only the first call has an effect.
func (s *Saver) OnPauseRequested() {
	s.once.Do(s.launch)
}

func (s *Saver) launch() {
	s.mu.Lock()
	s.triggered = true
	s.mu.Unlock()

	defer s.scheduleShutdown()

	if !s.cfg.Enabled || s.cfg.Command == "" {
		s.logger.Info("map saver disabled, skipping save")
		close(s.done)
		return
	}

	ctx, cancel := context.Background(), context.CancelFunc(func() {})
	if s.cfg.SaveTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SaveTimeout)
	}

	cmd := exec.CommandContext(ctx, s.cfg.Command, s.cfg.Args...)
	if err := cmd.Start(); err != nil {
		cancel()
		s.finish(-1, fmt.Errorf("start %s: %w", s.cfg.Command, err))
		return
	}

	s.mu.Lock()
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("map saver started",
		"command", s.commandLine(),
		"pid", cmd.Process.Pid,
	)

	go func() {
		defer cancel()

		err := cmd.Wait()
		code := -1
		if cmd.ProcessState != nil {
			code = cmd.ProcessState.ExitCode()
		}
		if err != nil {
			err = fmt.Errorf("%s: %w", s.cfg.Command, err)
		}
		s.finish(code, err)
	}()
}

func (s *Saver) finish(code int, err error) {
	s.mu.Lock()
	s.running = false
	s.exitCode = code
	s.err = err
	elapsed := time.Duration(0)
	if !s.startedAt.IsZero() {
		elapsed = time.Since(s.startedAt)
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("map saver failed", "error", err, "exit_code", code)
	} else {
		s.logger.Info("map saved", "exit_code", code, "elapsed", elapsed)
	}

	close(s.done)
}

func (s *Saver) scheduleShutdown() {
	if !s.cfg.ExitOnStop || s.shutdown == nil {
		return
	}

	s.logger.Info("shutdown requested", "delay", s.cfg.ShutdownDelay)
	time.AfterFunc(s.cfg.ShutdownDelay, s.shutdown)
}

func (s *Saver) commandLine() string {
	return strings.TrimSpace(s.cfg.Command + " " + strings.Join(s.cfg.Args, " "))
}

// Wait blocks until a launched command exits or ctx is done. It returns
// immediately if no stop has been requested.
func (s *Saver) Wait(ctx context.Context) error {
	s.mu.RLock()
	triggered := s.triggered
	s.mu.RUnlock()

	if !triggered {
		return nil
	}

	select {
	case <-s.done:
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.err
	case <-ctx.Done():
		return errors.Join(errors.New("map saver still running"), ctx.Err())
	}
}

// Stats describes the saver's state
type Stats struct {
	Enabled   bool   `json:"enabled"`
	Command   string `json:"command"`
	Triggered bool   `json:"triggered"`
	Running   bool   `json:"running"`
	ExitCode  int    `json:"exit_code"`
	Error     string `json:"error,omitempty"`
}

// GetStats returns the current saver state
func (s *Saver) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Enabled:   s.cfg.Enabled,
		Command:   s.commandLine(),
		Triggered: s.triggered,
		Running:   s.running,
		ExitCode:  s.exitCode,
	}
	if s.err != nil {
		st.Error = s.err.Error()
	}
	return st
}
