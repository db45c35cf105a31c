package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/stay_blocked/internal/daemon"
	"github.com/eliteGoblin/focusd/stay_blocked/internal/infra"
	"github.com/eliteGoblin/focusd/stay_blocked/internal/ipc"
	"github.com/eliteGoblin/focusd/stay_blocked/internal/usecase"
	"github.com/eliteGoblin/focusd/stay_blocked/internal/watchdog"
)

// Hidden commands - used for self-exec by the parent's supervisors
var workerCmd = &cobra.Command{
	Use:    daemon.WorkerCommand,
	Hidden: true,
	RunE:   runWorker,
}

var watchdogCmd = &cobra.Command{
	Use:    daemon.WatchdogCommand,
	Hidden: true,
	RunE:   runWatchdog,
}

func runWorker(cmd *cobra.Command, args []string) error {
	// A dead parent must end the worker through stdin EOF, not SIGPIPE.
	signal.Ignore(syscall.SIGPIPE)

	paths := resolvePaths()
	logger := createLogger(paths.LogPath).With(zap.String("role", "worker"))
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signalContext(logger)
	defer cancel()

	in := make(chan ipc.Message, 8)
	go ipc.Pump(os.Stdin, in)

	enforcer := usecase.NewEnforcer(infra.NewProcessManager(), logger, os.Getppid())
	w := daemon.NewWorker(daemon.DefaultWorkerConfig(), enforcer, ipc.NewEncoder(os.Stdout), logger)

	err := w.Run(ctx, in)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runWatchdog(cmd *cobra.Command, args []string) error {
	paths := resolvePaths()
	logger := createLogger(paths.LogPath).With(zap.String("role", "watchdog"))
	defer func() { _ = logger.Sync() }()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("watchdog crashed", zap.Any("panic", r))
			_ = logger.Sync()
			os.Exit(1)
		}
	}()

	params, err := watchdog.ParamsFromEnv()
	if errors.Is(err, watchdog.ErrMissingPaths) {
		logger.Info("watchdog launched without app or config path, exiting")
		return nil
	}
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(logger)
	defer cancel()

	// stdin EOF means the parent is gone; the agent keeps going regardless.
	control := make(chan ipc.Message, 4)
	go ipc.Pump(os.Stdin, control)

	// The default protected app is this binary: neither this process nor the
	// worker/watchdog helpers may pass for it.
	pm := infra.NewProcessManager().IgnoreSubcommands(daemon.WorkerCommand, daemon.WatchdogCommand)
	agent := watchdog.NewAgent(params, pm, infra.NewDetachedLauncher(logger), logger)
	reason := agent.Run(ctx, control)
	logger.Info("watchdog exiting", zap.String("reason", string(reason)))

	if code := reason.Code(); code != 0 {
		_ = logger.Sync()
		os.Exit(code)
	}
	return nil
}
