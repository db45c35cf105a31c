// Package daemon implements the parent controller and the enforcement worker.
package daemon

import (
	"context"
	"os"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/stay_blocked/internal/domain"
	"github.com/eliteGoblin/focusd/stay_blocked/internal/ipc"
	"github.com/eliteGoblin/focusd/stay_blocked/internal/policy"
	"github.com/eliteGoblin/focusd/stay_blocked/internal/supervisor"
)

// ControllerConfig holds parent controller configuration.
type ControllerConfig struct {
	ReevaluateInterval time.Duration // How often to re-run the arming policy without a config change
	HeartbeatInterval  time.Duration // How often to update the parent heartbeat
	AppVersion         string
}

// DefaultControllerConfig returns default controller configuration.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		ReevaluateInterval: 30 * time.Second,
		HeartbeatInterval:  30 * time.Second,
	}
}

// Controller is the parent process loop. It evaluates the arming policy on
// startup, on every config change and periodically, and starts or stops the
// worker and watchdog supervisors to match.
type Controller struct {
	config   ControllerConfig
	store    domain.ConfigStore
	registry domain.ProcessRegistry
	logger   *zap.Logger
	now      func() time.Time

	worker   *supervisor.Supervisor
	watchdog *supervisor.Supervisor

	mu      sync.Mutex
	current *domain.EnforcementConfig
	armed   bool
}

// NewController creates a controller. The worker options get the controller's
// config push and message hooks; registry may be nil.
func NewController(
	config ControllerConfig,
	store domain.ConfigStore,
	workerOpts supervisor.Options,
	watchdogOpts supervisor.Options,
	registry domain.ProcessRegistry,
	logger *zap.Logger,
) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		config:   config,
		store:    store,
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}

	workerOpts.OnStarted = c.onWorkerStarted
	workerOpts.OnMessage = c.onWorkerMessage
	if workerOpts.Logger == nil {
		workerOpts.Logger = logger
	}
	if workerOpts.Registry == nil {
		workerOpts.Registry = registry
	}
	if watchdogOpts.Logger == nil {
		watchdogOpts.Logger = logger
	}
	if watchdogOpts.Registry == nil {
		watchdogOpts.Registry = registry
	}

	c.worker = supervisor.New(workerOpts)
	c.watchdog = supervisor.New(watchdogOpts)
	return c
}

// Worker returns the worker supervisor.
func (c *Controller) Worker() *supervisor.Supervisor { return c.worker }

// Watchdog returns the watchdog supervisor.
func (c *Controller) Watchdog() *supervisor.Supervisor { return c.watchdog }

// Armed reports the last arming decision.
func (c *Controller) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

// Run blocks until ctx is canceled. On exit the worker is stopped; the
// watchdog is left running so it can relaunch the app while armed.
func (c *Controller) Run(ctx context.Context) error {
	c.registerSelf()

	changes, err := c.store.Watch(ctx)
	if err != nil {
		// Periodic re-evaluation still picks up changes.
		c.logger.Warn("config watch unavailable", zap.Error(err))
	}

	c.logger.Info("controller started",
		zap.Int("pid", os.Getpid()),
		zap.String("config", c.store.Path()))

	c.Reconcile("startup")

	reevalTicker := time.NewTicker(c.config.ReevaluateInterval)
	heartbeatTicker := time.NewTicker(c.config.HeartbeatInterval)
	defer func() {
		reevalTicker.Stop()
		heartbeatTicker.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("controller stopping")
			c.worker.Stop()
			return ctx.Err()

		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			c.Reconcile("config change")

		case <-reevalTicker.C:
			c.Reconcile("periodic")

		case <-heartbeatTicker.C:
			c.heartbeat(domain.RoleParent)
		}
	}
}

// Reconcile loads the config, evaluates it and drives both supervisors.
// A missing or corrupt config disarms.
func (c *Controller) Reconcile(reason string) {
	cfg, err := c.store.Load()
	if err != nil {
		c.logger.Debug("config unavailable, treating as disarmed", zap.Error(err))
	}

	var decision policy.Decision
	if err == nil {
		decision = policy.Evaluate(cfg, c.now())
	}

	c.mu.Lock()
	wasArmed := c.armed
	c.armed = decision.Armed
	changed := err == nil && (c.current == nil || !reflect.DeepEqual(*c.current, cfg))
	if err == nil {
		c.current = &cfg
	}
	c.mu.Unlock()

	if !decision.Armed {
		if wasArmed {
			c.logger.Info("enforcement disarmed", zap.String("reason", reason))
		}
		c.stopBoth()
		return
	}

	if !wasArmed {
		c.logger.Info("enforcement armed",
			zap.String("reason", reason),
			zap.Bool("main", decision.MainArmed),
			zap.Bool("schedule", decision.ScheduleActive),
			zap.Bool("session", decision.SessionActive),
			zap.Strings("groups", decision.ArmedGroups),
			zap.Bool("extension_guard", decision.ExtensionGuardOn))
	}

	c.worker.SetShouldRun(true)
	c.watchdog.SetShouldRun(true)
	workerSpawned := c.worker.Start(reason)
	c.watchdog.Start(reason)

	// A freshly spawned worker already got the config from onWorkerStarted.
	if changed && !workerSpawned {
		c.pushConfig(cfg)
	}
}

// stopBoth stops the two supervisors concurrently so a slow child never
// delays the other.
func (c *Controller) stopBoth() {
	var wg sync.WaitGroup
	for _, s := range []*supervisor.Supervisor{c.worker, c.watchdog} {
		wg.Add(1)
		go func(s *supervisor.Supervisor) {
			defer wg.Done()
			s.Stop()
		}(s)
	}
	wg.Wait()
}

func (c *Controller) pushConfig(cfg domain.EnforcementConfig) {
	msg, err := ipc.ConfigMessage(cfg)
	if err != nil {
		c.logger.Error("failed to encode config", zap.Error(err))
		return
	}
	if err := c.worker.Send(msg); err != nil {
		c.logger.Warn("failed to push config to worker", zap.Error(err))
	}
}

func (c *Controller) onWorkerStarted(child supervisor.Child) {
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()
	if current == nil {
		return
	}

	msg, err := ipc.ConfigMessage(*current)
	if err != nil {
		c.logger.Error("failed to encode config", zap.Error(err))
		return
	}
	if err := child.Send(msg); err != nil {
		c.logger.Warn("failed to push config to new worker", zap.Error(err))
	}
}

func (c *Controller) onWorkerMessage(m ipc.Message) {
	c.heartbeat(domain.RoleWorker)

	switch m.Type {
	case ipc.TypeStarted:
		c.logger.Info("worker ready", zap.Int("pid", m.PID))
	case ipc.TypeEvent:
		fields := []zap.Field{zap.String("source", "worker"), zap.String("reason", m.Reason)}
		switch m.Level {
		case "error":
			c.logger.Error("worker event", fields...)
		case "warn":
			c.logger.Warn("worker event", fields...)
		default:
			c.logger.Info("worker event", fields...)
		}
	case ipc.TypeError:
		c.logger.Warn("worker error", zap.String("message", m.Message))
	default:
		c.logger.Debug("unexpected worker message", zap.String("type", string(m.Type)))
	}
}

func (c *Controller) registerSelf() {
	if c.registry == nil {
		return
	}
	now := c.now()
	err := c.registry.Register(domain.SupervisedProcess{
		Role:          domain.RoleParent,
		PID:           os.Getpid(),
		StartedAt:     now,
		LastHeartbeat: now,
		AppVersion:    c.config.AppVersion,
	})
	if err != nil {
		c.logger.Warn("failed to register parent", zap.Error(err))
	}
}

func (c *Controller) heartbeat(role domain.ProcessRole) {
	if c.registry == nil {
		return
	}
	if err := c.registry.UpdateHeartbeat(role, c.now()); err != nil {
		c.logger.Debug("failed to update heartbeat", zap.String("role", string(role)), zap.Error(err))
	}
}
