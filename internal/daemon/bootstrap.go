package daemon

import (
	"os"
	"path/filepath"

	"github.com/eliteGoblin/focusd/stay_blocked/internal/supervisor"
	"github.com/eliteGoblin/focusd/stay_blocked/internal/watchdog"
)

// Hidden subcommands the parent re-execs itself with.
const (
	WorkerCommand   = "worker"
	WatchdogCommand = "watchdog"
)

// SelfExecutable returns the resolved path of the running binary.
func SelfExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		return resolved, nil
	}
	return exe, nil
}

// WorkerSpawner re-execs exe as the enforcement worker. The worker replies on
// its stdout and dies with the parent's stdin.
func WorkerSpawner(exe string, args ...string) *supervisor.ExecSpawner {
	return &supervisor.ExecSpawner{
		Path:    exe,
		Args:    append([]string{WorkerCommand}, args...),
		Replies: true,
	}
}

// WatchdogSpawner re-execs exe as the detached watchdog. Launch parameters
// travel in the environment; the child gets its own session so it outlives
// the parent, and no stdout pipe so a dead parent cannot SIGPIPE it.
func WatchdogSpawner(exe string, params watchdog.Params, args ...string) *supervisor.ExecSpawner {
	return &supervisor.ExecSpawner{
		Path:     exe,
		Args:     append([]string{WatchdogCommand}, args...),
		Env:      params.Environ(),
		Detached: true,
	}
}
