// Package supervisor keeps one child process alive with capped backoff.
// The parent runs two of these: one for the enforcement worker and one for
// the detached watchdog.
package supervisor

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/stay_blocked/internal/domain"
	"github.com/eliteGoblin/focusd/stay_blocked/internal/ipc"
)

// Child is a running supervised process.
// Messages must be closed no later than Done.
type Child interface {
	PID() int
	Send(m ipc.Message) error
	Messages() <-chan ipc.Message
	Done() <-chan struct{}
	Kill() error
}

// exitReporter is implemented by children that know their exit status.
type exitReporter interface {
	ExitErr() error
}

// Spawner starts a new child.
type Spawner interface {
	Spawn(ctx context.Context) (Child, error)
	Executable() string
}

// Timer is a pending restart.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Options configures a Supervisor.
type Options struct {
	Role         domain.ProcessRole
	Spawner      Spawner
	Exists       func(path string) bool
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	GracePeriod  time.Duration
	SpawnTimeout time.Duration

	// OnStarted runs after every successful spawn (worker: push config).
	OnStarted func(c Child)
	// OnMessage receives child -> parent messages.
	OnMessage func(m ipc.Message)

	Registry  domain.ProcessRegistry
	Metrics   *Metrics
	Logger    *zap.Logger
	AfterFunc AfterFunc
}

// WorkerOptions returns the defaults for the enforcement worker.
func WorkerOptions() Options {
	return Options{
		Role:         domain.RoleWorker,
		BaseDelay:    1 * time.Second,
		MaxDelay:     15 * time.Second,
		GracePeriod:  1500 * time.Millisecond,
		SpawnTimeout: 3 * time.Second,
	}
}

// WatchdogOptions returns the defaults for the detached watchdog.
func WatchdogOptions() Options {
	return Options{
		Role:         domain.RoleWatchdog,
		BaseDelay:    2 * time.Second,
		MaxDelay:     30 * time.Second,
		GracePeriod:  1200 * time.Millisecond,
		SpawnTimeout: 3 * time.Second,
	}
}

// State is the supervised process state. Only the Supervisor mutates it.
type State struct {
	child        Child
	shouldRun    bool
	restartCount int
	timer        Timer
	timerGen     uint64
	shuttingDown bool
}

// Supervisor is the lifecycle controller for one child process.
type Supervisor struct {
	opts Options

	mu    sync.Mutex
	state State
}

// New creates a supervisor. Missing optional fields get defaults.
func New(opts Options) *Supervisor {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = realAfterFunc
	}
	if opts.Exists == nil {
		opts.Exists = fileExists
	}
	if opts.SpawnTimeout <= 0 {
		opts.SpawnTimeout = 3 * time.Second
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = opts.BaseDelay
	}
	opts.Logger = opts.Logger.With(zap.String("role", string(opts.Role)))
	return &Supervisor{opts: opts}
}

// SetShouldRun records whether the child is wanted. It does not spawn.
func (s *Supervisor) SetShouldRun(run bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.shouldRun = run
}

// Start spawns the child if it is wanted, not running, not pending a restart
// and no stop is in progress. Spawn failures are retried with backoff.
// Reports whether a new child was spawned.
func (s *Supervisor) Start(reason string) bool {
	s.mu.Lock()
	if !s.state.shouldRun || s.state.shuttingDown || s.state.child != nil || s.state.timer != nil {
		s.mu.Unlock()
		return false
	}

	exe := s.opts.Spawner.Executable()
	if !s.opts.Exists(exe) {
		s.opts.Logger.Warn("executable missing, retrying later",
			zap.String("path", exe),
			zap.String("reason", reason))
		s.failLocked("executable missing")
		s.mu.Unlock()
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.SpawnTimeout)
	child, err := s.opts.Spawner.Spawn(ctx)
	cancel()
	if err != nil {
		s.opts.Logger.Error("failed to spawn",
			zap.String("reason", reason),
			zap.Error(err))
		s.failLocked("spawn failed")
		s.mu.Unlock()
		return false
	}

	s.state.child = child
	s.state.restartCount = 0
	s.mu.Unlock()

	s.opts.Logger.Info("child started",
		zap.Int("pid", child.PID()),
		zap.String("reason", reason))
	s.opts.Metrics.spawned(s.opts.Role)
	s.register(child)

	go s.observe(child)

	if s.opts.OnStarted != nil {
		s.opts.OnStarted(child)
	}
	return true
}

// Stop marks the child unwanted, cancels any pending restart and shuts the
// child down: a shutdown message first, SIGKILL after the grace period.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.state.shouldRun = false
	s.cancelTimerLocked()
	child := s.state.child
	if child == nil || s.state.shuttingDown {
		s.mu.Unlock()
		return
	}
	s.state.shuttingDown = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.state.child == child {
			s.state.child = nil
		}
		s.state.shuttingDown = false
		s.mu.Unlock()
	}()

	if err := child.Send(ipc.ShutdownMessage()); err != nil {
		s.opts.Logger.Debug("shutdown message not delivered", zap.Error(err))
	}

	grace := time.NewTimer(s.opts.GracePeriod)
	defer grace.Stop()

	select {
	case <-child.Done():
		s.opts.Logger.Info("child exited gracefully", zap.Int("pid", child.PID()))
		return
	case <-grace.C:
	}

	s.opts.Logger.Warn("child ignored shutdown, killing", zap.Int("pid", child.PID()))
	if err := child.Kill(); err != nil {
		s.opts.Logger.Warn("failed to kill child", zap.Error(err))
	}
	<-child.Done()
}

// Send delivers a message to the current child, if any.
func (s *Supervisor) Send(m ipc.Message) error {
	s.mu.Lock()
	child := s.state.child
	s.mu.Unlock()
	if child == nil {
		return nil
	}
	return child.Send(m)
}

// Running reports whether a child handle is held.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.child != nil
}

// PID returns the current child PID, or 0.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.child == nil {
		return 0
	}
	return s.state.child.PID()
}

// RestartCount returns the consecutive unplanned exit count.
func (s *Supervisor) RestartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.restartCount
}

// RestartPending reports whether a restart timer is armed.
func (s *Supervisor) RestartPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.timer != nil
}

// observe forwards messages and waits for the child to exit.
func (s *Supervisor) observe(child Child) {
	for m := range child.Messages() {
		if s.opts.OnMessage != nil {
			s.opts.OnMessage(m)
		}
	}
	<-child.Done()
	s.handleExit(child)
}

func (s *Supervisor) handleExit(child Child) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.child != child {
		return
	}
	s.state.child = nil

	if !s.state.shouldRun || s.state.shuttingDown {
		s.opts.Logger.Info("child stopped", zap.Int("pid", child.PID()))
		return
	}

	fields := []zap.Field{zap.Int("pid", child.PID())}
	if r, ok := child.(exitReporter); ok {
		if err := r.ExitErr(); err != nil {
			fields = append(fields, zap.NamedError("exit", err))
		}
	}
	s.opts.Logger.Warn("child exited unexpectedly", fields...)
	s.failLocked("unplanned exit")
}

// failLocked counts an unplanned exit and schedules the restart.
func (s *Supervisor) failLocked(reason string) {
	s.state.restartCount++
	s.opts.Metrics.failed(s.opts.Role, reason)
	if s.opts.Registry != nil {
		if err := s.opts.Registry.RecordRestart(s.opts.Role); err != nil {
			s.opts.Logger.Debug("failed to record restart", zap.Error(err))
		}
	}
	s.scheduleRestartLocked(reason)
}

func (s *Supervisor) scheduleRestartLocked(reason string) {
	if s.state.timer != nil {
		return
	}
	delay := s.delayLocked()
	s.state.timerGen++
	gen := s.state.timerGen

	s.opts.Logger.Info("restart scheduled",
		zap.Duration("delay", delay),
		zap.Int("restart_count", s.state.restartCount),
		zap.String("reason", reason))

	s.state.timer = s.opts.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.state.timerGen != gen || s.state.timer == nil {
			s.mu.Unlock()
			return
		}
		s.state.timer = nil
		s.mu.Unlock()
		s.Start("restart after " + reason)
	})
}

func (s *Supervisor) cancelTimerLocked() {
	if s.state.timer != nil {
		s.state.timer.Stop()
		s.state.timer = nil
		s.state.timerGen++
	}
}

// delayLocked is min(max, base * max(1, restartCount)).
func (s *Supervisor) delayLocked() time.Duration {
	return backoffDelay(s.opts.BaseDelay, s.opts.MaxDelay, s.state.restartCount)
}

func backoffDelay(base, ceiling time.Duration, count int) time.Duration {
	n := count
	if n < 1 {
		n = 1
	}
	if time.Duration(n) > ceiling/base {
		return ceiling
	}
	return base * time.Duration(n)
}

func (s *Supervisor) register(child Child) {
	if s.opts.Registry == nil {
		return
	}
	now := time.Now()
	err := s.opts.Registry.Register(domain.SupervisedProcess{
		Role:          s.opts.Role,
		PID:           child.PID(),
		StartedAt:     now,
		LastHeartbeat: now,
	})
	if err != nil {
		s.opts.Logger.Debug("failed to register child", zap.Error(err))
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
