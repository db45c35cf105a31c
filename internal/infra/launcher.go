package infra

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/stay_blocked/internal/domain"
)

// DetachedLauncher starts the protected application in its own session so it
// does not die with the watchdog.
type DetachedLauncher struct {
	logger *zap.Logger
	goos   string
}

// NewDetachedLauncher creates a launcher for the current platform.
func NewDetachedLauncher(logger *zap.Logger) *DetachedLauncher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DetachedLauncher{logger: logger, goos: runtime.GOOS}
}

// Launch starts exePath with args. macOS app bundles go through `open -a`,
// in which case the returned PID is 0 (launchd owns the app).
func (l *DetachedLauncher) Launch(ctx context.Context, exePath string, args []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if _, err := os.Stat(exePath); err != nil {
		return 0, fmt.Errorf("%w: %s", domain.ErrExecutableMissing, exePath)
	}

	if l.goos == "darwin" && strings.HasSuffix(strings.TrimSuffix(exePath, "/"), ".app") {
		openArgs := []string{"-a", exePath}
		if len(args) > 0 {
			openArgs = append(openArgs, "--args")
			openArgs = append(openArgs, args...)
		}
		cmd := exec.CommandContext(ctx, "open", openArgs...)
		cmd.Stdin = nil
		if err := cmd.Run(); err != nil {
			return 0, fmt.Errorf("open -a %s: %w", exePath, err)
		}
		l.logger.Info("launched app bundle", zap.String("path", exePath))
		return 0, nil
	}

	// Not CommandContext: the app must outlive the launch deadline.
	cmd := exec.Command(exePath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session (detach from watchdog)
	}
	// No stdin/stdout/stderr - fully detached
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %s: %w", exePath, err)
	}
	pid := cmd.Process.Pid

	// Reap in the background so the app never lingers as a zombie of ours.
	go func() { _ = cmd.Wait() }()

	l.logger.Info("launched app", zap.String("path", exePath), zap.Int("pid", pid))
	return pid, nil
}

// Ensure DetachedLauncher implements domain.Launcher.
var _ domain.Launcher = (*DetachedLauncher)(nil)
