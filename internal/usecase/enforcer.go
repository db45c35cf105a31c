// Package usecase contains application business logic.
package usecase

import (
	"context"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/stay_blocked/internal/domain"
)

// EnforcerImpl implements domain.Enforcer by killing blocked processes.
type EnforcerImpl struct {
	processManager domain.ProcessManager
	protected      map[int]bool
	logger         *zap.Logger
}

// NewEnforcer creates an enforcer. The current process and any protected
// PIDs (the parent, the watchdog) are never killed, whatever the patterns say.
func NewEnforcer(pm domain.ProcessManager, logger *zap.Logger, protected ...int) *EnforcerImpl {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := map[int]bool{os.Getpid(): true}
	for _, pid := range protected {
		if pid > 0 {
			p[pid] = true
		}
	}
	return &EnforcerImpl{
		processManager: pm,
		protected:      p,
		logger:         logger,
	}
}

// Enforce kills every process matching cfg.BlockedProcesses once.
// Failures are collected in the result; the pass always completes.
func (e *EnforcerImpl) Enforce(ctx context.Context, cfg domain.EnforcementConfig) (*domain.EnforcementResult, error) {
	start := time.Now()

	result := &domain.EnforcementResult{
		KilledPIDs: make([]int, 0),
		Errors:     make([]error, 0),
		ExecutedAt: start,
	}
	seen := make(map[int]bool)

	for _, pattern := range cfg.BlockedProcesses {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			result.DurationMs = time.Since(start).Milliseconds()
			return result, err
		}

		pids, err := e.processManager.FindByName(ctx, pattern)
		if err != nil {
			e.logger.Warn("failed to find processes",
				zap.String("pattern", pattern),
				zap.Error(err))
			result.Errors = append(result.Errors, err)
			continue
		}

		for _, pid := range pids {
			if seen[pid] || e.protected[pid] {
				continue
			}
			seen[pid] = true

			if err := e.processManager.Kill(ctx, pid); err != nil {
				e.logger.Warn("failed to kill process",
					zap.Int("pid", pid),
					zap.Error(err))
				result.Errors = append(result.Errors, err)
				continue
			}
			e.logger.Info("killed process",
				zap.Int("pid", pid),
				zap.String("pattern", pattern))
			result.KilledPIDs = append(result.KilledPIDs, pid)
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}

// Ensure EnforcerImpl implements domain.Enforcer.
var _ domain.Enforcer = (*EnforcerImpl)(nil)
