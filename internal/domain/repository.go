package domain

import (
	"context"
	"time"
)

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// FindByName returns PIDs of processes matching the pattern.
	FindByName(ctx context.Context, pattern string) ([]int, error)

	// Kill terminates a process by PID (SIGKILL).
	Kill(ctx context.Context, pid int) error

	// IsAlive probes a PID with signal 0 (no delivery).
	IsAlive(pid int) bool

	// IsAppRunning reports whether a process with the given executable is running.
	// Matches by executable path first, then falls back to the short name.
	IsAppRunning(ctx context.Context, exePath string) (bool, error)
}

// ConfigStore persists the enforcement config blob.
type ConfigStore interface {
	// Load reads and sanitizes the blob. Returns ErrConfigAbsent if missing.
	Load() (EnforcementConfig, error)

	// Save writes the blob atomically.
	Save(cfg EnforcementConfig) error

	// Watch emits a value each time the blob changes on disk.
	// The channel is closed when ctx is done.
	Watch(ctx context.Context) (<-chan struct{}, error)

	// Path returns the blob location.
	Path() string
}

// Launcher starts the protected application detached from the caller.
type Launcher interface {
	Launch(ctx context.Context, exePath string, args []string) (pid int, err error)
}

// Enforcer runs the blocking actions for one enforcement pass.
type Enforcer interface {
	Enforce(ctx context.Context, cfg EnforcementConfig) (*EnforcementResult, error)
}

// ProcessRegistry records the processes of the stay-blocked tree (for status).
type ProcessRegistry interface {
	// Register saves the PID for a role, replacing any previous record.
	Register(p SupervisedProcess) error

	// UpdateHeartbeat refreshes the heartbeat of a role.
	UpdateHeartbeat(role ProcessRole, at time.Time) error

	// RecordRestart increments the restart counter of a role.
	RecordRestart(role ProcessRole) error

	// Get returns the record for a role, or nil if not registered.
	Get(role ProcessRole) (*SupervisedProcess, error)

	// GetAll returns all records.
	GetAll() ([]SupervisedProcess, error)

	// Clear removes all records.
	Clear() error

	Close() error
}

// KeyProvider abstracts the source of encryption keys.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}
