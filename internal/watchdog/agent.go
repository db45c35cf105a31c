package watchdog

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/stay_blocked/internal/domain"
	"github.com/eliteGoblin/focusd/stay_blocked/internal/infra"
	"github.com/eliteGoblin/focusd/stay_blocked/internal/ipc"
	"github.com/eliteGoblin/focusd/stay_blocked/internal/policy"
)

// Outcome is the result of one tick.
type Outcome int

const (
	// OutcomeContinue keeps polling.
	OutcomeContinue Outcome = iota
	// OutcomeDisarmed means enforcement is off; the watchdog exits.
	OutcomeDisarmed
	// OutcomeOwnerGone means the owner died while the app is up; the watchdog exits.
	OutcomeOwnerGone
	// OutcomeSkipped means another tick was in flight or the agent is shutting down.
	OutcomeSkipped
	// OutcomeFault means the tick panicked.
	OutcomeFault
)

func (o Outcome) String() string {
	switch o {
	case OutcomeContinue:
		return "continue"
	case OutcomeDisarmed:
		return "disarmed"
	case OutcomeOwnerGone:
		return "owner-gone"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFault:
		return "fault"
	default:
		return "unknown"
	}
}

// ExitReason says why Run returned.
type ExitReason string

const (
	ExitDisarmed  ExitReason = "disarmed"
	ExitOwnerGone ExitReason = "owner-gone"
	ExitShutdown  ExitReason = "shutdown"
	ExitCanceled  ExitReason = "canceled"
	ExitFault     ExitReason = "fault"
)

// Code is the process exit code for r: 1 for a fault, 0 otherwise.
func (r ExitReason) Code() int {
	if r == ExitFault {
		return 1
	}
	return 0
}

// DefaultQueryTimeout bounds each OS query and relaunch inside a tick.
const DefaultQueryTimeout = 3 * time.Second

// Agent runs the watchdog tick loop.
type Agent struct {
	params   Params
	pm       domain.ProcessManager
	launcher domain.Launcher
	logger   *zap.Logger

	loadConfig   func(path string) (domain.EnforcementConfig, error)
	now          func() time.Time
	queryTimeout time.Duration

	tickBusy     atomic.Bool
	shuttingDown atomic.Bool

	// lastLaunch is only touched while tickBusy is held.
	lastLaunch time.Time
}

// NewAgent creates an agent for params.
func NewAgent(params Params, pm domain.ProcessManager, launcher domain.Launcher, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		params:       params,
		pm:           pm,
		launcher:     launcher,
		logger:       logger,
		loadConfig:   infra.LoadConfigFile,
		now:          time.Now,
		queryTimeout: DefaultQueryTimeout,
	}
}

// ShuttingDown reports whether the agent reached a terminal state.
func (a *Agent) ShuttingDown() bool {
	return a.shuttingDown.Load()
}

// Tick runs one poll step. Overlapping calls are dropped, not queued.
func (a *Agent) Tick(ctx context.Context) Outcome {
	if a.shuttingDown.Load() {
		return OutcomeSkipped
	}
	if !a.tickBusy.CompareAndSwap(false, true) {
		a.logger.Debug("tick already in flight, skipping")
		return OutcomeSkipped
	}
	defer a.tickBusy.Store(false)

	now := a.now()

	cfg, err := a.loadConfig(a.params.ConfigPath)
	if err != nil {
		a.logger.Debug("config unavailable, treating as disarmed", zap.Error(err))
		a.shuttingDown.Store(true)
		return OutcomeDisarmed
	}
	if !policy.IsArmed(cfg, now) {
		a.logger.Info("enforcement disarmed, watchdog exiting")
		a.shuttingDown.Store(true)
		return OutcomeDisarmed
	}

	qctx, cancel := context.WithTimeout(ctx, a.queryTimeout)
	running, err := a.pm.IsAppRunning(qctx, a.params.AppPath)
	cancel()
	if err != nil {
		// Unknown, not "not running": relaunching here could start a second instance.
		a.logger.Warn("app query failed", zap.String("app", a.params.AppPath), zap.Error(err))
		return OutcomeContinue
	}

	ownerConfigured := a.params.OwnerPID > 0
	if ownerConfigured && a.pm.IsAlive(a.params.OwnerPID) {
		return OutcomeContinue
	}

	if running {
		if ownerConfigured {
			a.logger.Warn("owner gone and app running, watchdog exiting",
				zap.Int("owner_pid", a.params.OwnerPID))
			a.shuttingDown.Store(true)
			return OutcomeOwnerGone
		}
		return OutcomeContinue
	}

	if !a.lastLaunch.IsZero() && now.Sub(a.lastLaunch) < a.params.Cooldown {
		a.logger.Debug("relaunch cooling down",
			zap.Duration("since_last", now.Sub(a.lastLaunch)))
		return OutcomeContinue
	}

	lctx, cancel := context.WithTimeout(ctx, a.queryTimeout)
	pid, err := a.launcher.Launch(lctx, a.params.AppPath, a.params.AppArgs)
	cancel()
	if err != nil {
		a.logger.Warn("relaunch failed", zap.String("app", a.params.AppPath), zap.Error(err))
		return OutcomeContinue
	}
	a.lastLaunch = now
	a.logger.Info("relaunched app", zap.String("app", a.params.AppPath), zap.Int("pid", pid))
	return OutcomeContinue
}

// Run ticks immediately and then every poll interval until a terminal
// outcome, a shutdown message on control, or ctx cancellation. A closed
// control channel (parent gone) does not stop the loop.
func (a *Agent) Run(ctx context.Context, control <-chan ipc.Message) ExitReason {
	ticker := time.NewTicker(a.params.PollInterval)
	defer ticker.Stop()

	done := make(chan struct{})
	defer close(done)

	outcomes := make(chan Outcome, 1)
	tick := func() {
		go func() {
			o := a.safeTick(ctx)
			select {
			case outcomes <- o:
			case <-done:
			}
		}()
	}

	a.logger.Info("watchdog started",
		zap.String("app", a.params.AppPath),
		zap.Int("owner_pid", a.params.OwnerPID),
		zap.Duration("poll", a.params.PollInterval),
		zap.Duration("cooldown", a.params.Cooldown))
	tick()

	for {
		select {
		case <-ctx.Done():
			a.shuttingDown.Store(true)
			return ExitCanceled

		case msg, ok := <-control:
			if !ok {
				a.logger.Debug("control channel closed")
				control = nil
				continue
			}
			if msg.Type == ipc.TypeShutdown {
				a.logger.Info("shutdown requested")
				a.shuttingDown.Store(true)
				return ExitShutdown
			}

		case <-ticker.C:
			tick()

		case o := <-outcomes:
			switch o {
			case OutcomeDisarmed:
				return ExitDisarmed
			case OutcomeOwnerGone:
				return ExitOwnerGone
			case OutcomeFault:
				return ExitFault
			}
		}
	}
}

// safeTick turns a panic inside a tick into OutcomeFault.
func (a *Agent) safeTick(ctx context.Context) (o Outcome) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("watchdog tick panicked", zap.Any("panic", r))
			a.shuttingDown.Store(true)
			o = OutcomeFault
		}
	}()
	return a.Tick(ctx)
}
