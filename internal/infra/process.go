// Package infra implements infrastructure concerns (process, config blob, registry).
package infra

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"

	"github.com/eliteGoblin/focusd/stay_blocked/internal/domain"
)

// DefaultQueryTimeout bounds every process query.
const DefaultQueryTimeout = 3 * time.Second

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct {
	timeout time.Duration
	list    func(ctx context.Context) ([]processInfo, error)

	// self and helper subcommands never count as the running app.
	self    int
	helpers map[string]bool
}

// processInfo is the subset of a process the matchers need.
type processInfo interface {
	NameWithContext(ctx context.Context) (string, error)
	ExeWithContext(ctx context.Context) (string, error)
	CmdlineSliceWithContext(ctx context.Context) ([]string, error)
	PID() int
}

type gopsutilProcess struct {
	*process.Process
}

func (p gopsutilProcess) PID() int { return int(p.Pid) }

// NewProcessManager creates a new process manager.
func NewProcessManager() *ProcessManagerImpl {
	return &ProcessManagerImpl{
		timeout: DefaultQueryTimeout,
		list:    listProcesses,
		self:    os.Getpid(),
	}
}

// IgnoreSubcommands makes IsAppRunning skip processes whose first argument
// is one of cmds. The watchdog uses it when the protected app is its own
// binary, so the worker and watchdog helpers do not pass for the app.
func (pm *ProcessManagerImpl) IgnoreSubcommands(cmds ...string) *ProcessManagerImpl {
	if pm.helpers == nil {
		pm.helpers = make(map[string]bool, len(cmds))
	}
	for _, c := range cmds {
		pm.helpers[c] = true
	}
	return pm
}

func listProcesses(ctx context.Context) ([]processInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]processInfo, len(procs))
	for i, p := range procs {
		out[i] = gopsutilProcess{p}
	}
	return out, nil
}

// FindByName returns PIDs of processes matching the pattern (case-insensitive).
func (pm *ProcessManagerImpl) FindByName(ctx context.Context, pattern string) ([]int, error) {
	ctx, cancel := context.WithTimeout(ctx, pm.timeout)
	defer cancel()

	procs, err := pm.list(ctx)
	if err != nil {
		return nil, err
	}

	var found []int
	patternLower := strings.ToLower(pattern)

	for _, p := range procs {
		if ctx.Err() != nil {
			return found, ctx.Err()
		}
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue // Process may have exited
		}

		if strings.EqualFold(name, pattern) || strings.Contains(strings.ToLower(name), patternLower) {
			found = append(found, p.PID())
		}
	}

	return found, nil
}

// Kill terminates a process by PID using SIGKILL.
func (pm *ProcessManagerImpl) Kill(ctx context.Context, pid int) error {
	ctx, cancel := context.WithTimeout(ctx, pm.timeout)
	defer cancel()

	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return err
	}
	return p.KillWithContext(ctx)
}

// IsAlive probes the PID with signal 0. EPERM still means the process exists.
func (pm *ProcessManagerImpl) IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// IsAppRunning matches by executable path, falling back to the short name
// when no process reports that exact path. The calling process and ignored
// helper subcommands are never a match.
func (pm *ProcessManagerImpl) IsAppRunning(ctx context.Context, exePath string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, pm.timeout)
	defer cancel()

	procs, err := pm.list(ctx)
	if err != nil {
		return false, err
	}

	want := normalizePath(exePath)
	short := shortName(exePath)
	nameMatch := false

	for _, p := range procs {
		if ctx.Err() != nil {
			return nameMatch, ctx.Err()
		}
		if p.PID() == pm.self {
			continue
		}

		exeMatch := false
		if exe, err := p.ExeWithContext(ctx); err == nil && exe != "" {
			exeMatch = normalizePath(exe) == want
		}
		shortMatch := false
		if !exeMatch && !nameMatch && short != "" {
			if name, err := p.NameWithContext(ctx); err == nil && strings.EqualFold(shortName(name), short) {
				shortMatch = true
			}
		}
		if !exeMatch && !shortMatch {
			continue
		}
		if pm.isHelper(ctx, p) {
			continue
		}
		if exeMatch {
			return true, nil
		}
		nameMatch = true
	}

	return nameMatch, nil
}

func (pm *ProcessManagerImpl) isHelper(ctx context.Context, p processInfo) bool {
	if len(pm.helpers) == 0 {
		return false
	}
	args, err := p.CmdlineSliceWithContext(ctx)
	if err != nil || len(args) < 2 {
		return false
	}
	return pm.helpers[args[1]]
}

func normalizePath(p string) string {
	p = filepath.Clean(p)
	if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
		return strings.ToLower(p)
	}
	return p
}

// shortName strips directories, extensions and a macOS bundle suffix.
func shortName(p string) string {
	base := filepath.Base(strings.TrimSuffix(p, "/"))
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
