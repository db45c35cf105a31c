package daemon

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/stay_blocked/internal/domain"
	"github.com/eliteGoblin/focusd/stay_blocked/internal/ipc"
	"github.com/eliteGoblin/focusd/stay_blocked/internal/policy"
)

// WorkerConfig holds enforcement worker configuration.
type WorkerConfig struct {
	EnforcementInterval time.Duration // How often to run enforcement while armed
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		EnforcementInterval: 5 * time.Second,
	}
}

// Worker is the supervised enforcement child. It receives the config from
// the parent and enforces it for as long as the policy says it is armed.
type Worker struct {
	config   WorkerConfig
	enforcer domain.Enforcer
	out      *ipc.Encoder
	logger   *zap.Logger
	now      func() time.Time

	cfg *domain.EnforcementConfig
}

// NewWorker creates a worker replying on out.
func NewWorker(config WorkerConfig, enforcer domain.Enforcer, out *ipc.Encoder, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		config:   config,
		enforcer: enforcer,
		out:      out,
		logger:   logger,
		now:      time.Now,
	}
}

// Run processes parent messages until a shutdown message, the end of the
// input stream (parent gone) or ctx cancellation.
func (w *Worker) Run(ctx context.Context, in <-chan ipc.Message) error {
	w.send(ipc.StartedMessage(os.Getpid()))
	w.logger.Info("worker started", zap.Int("pid", os.Getpid()))

	ticker := time.NewTicker(w.config.EnforcementInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return ctx.Err()

		case msg, ok := <-in:
			if !ok {
				w.logger.Info("parent channel closed, exiting")
				return nil
			}
			switch msg.Type {
			case ipc.TypeShutdown:
				w.logger.Info("shutdown requested")
				return nil
			case ipc.TypeConfig:
				w.applyConfig(msg)
				w.enforce(ctx)
			default:
				w.logger.Debug("ignoring message", zap.String("type", string(msg.Type)))
			}

		case <-ticker.C:
			w.enforce(ctx)
		}
	}
}

func (w *Worker) applyConfig(msg ipc.Message) {
	cfg, err := policy.ParseConfig(msg.Config)
	if err != nil {
		// Keep the previous config: a bad push must not disarm the worker.
		w.logger.Warn("invalid config push", zap.Error(err))
		w.send(ipc.ErrorMessage(fmt.Errorf("invalid config push: %w", err)))
		return
	}
	w.cfg = &cfg
	w.logger.Debug("config updated", zap.Int("blocked_processes", len(cfg.BlockedProcesses)))
}

func (w *Worker) enforce(ctx context.Context) {
	if w.cfg == nil || !policy.IsArmed(*w.cfg, w.now()) {
		return
	}

	result, err := w.enforcer.Enforce(ctx, *w.cfg)
	if err != nil {
		w.logger.Error("enforcement failed", zap.Error(err))
		w.send(ipc.ErrorMessage(err))
		return
	}

	if n := len(result.KilledPIDs); n > 0 {
		w.logger.Info("enforcement completed", zap.Int("processes_killed", n))
		w.send(ipc.EventMessage("info", fmt.Sprintf("killed %d blocked process(es)", n)))
	}
	if n := len(result.Errors); n > 0 {
		w.send(ipc.EventMessage("warn", fmt.Sprintf("%d enforcement error(s), first: %v", n, result.Errors[0])))
	}
}

func (w *Worker) send(m ipc.Message) {
	if w.out == nil {
		return
	}
	if err := w.out.Send(m); err != nil {
		w.logger.Debug("failed to reply to parent", zap.Error(err))
	}
}
