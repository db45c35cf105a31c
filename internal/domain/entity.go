// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"errors"
	"time"
)

// ProcessRole identifies a process in the stay-blocked process tree.
type ProcessRole string

const (
	RoleParent   ProcessRole = "parent"
	RoleWorker   ProcessRole = "worker"
	RoleWatchdog ProcessRole = "watchdog"
)

var (
	// ErrConfigAbsent is returned when the config blob is missing or unreadable.
	ErrConfigAbsent = errors.New("enforcement config absent")

	// ErrExecutableMissing is returned when a supervised executable does not exist.
	ErrExecutableMissing = errors.New("executable missing")
)

// EnforcementConfig is the policy blob shared by the parent, worker and watchdog.
// Values of this type are always sanitized (see policy.Sanitize).
type EnforcementConfig struct {
	Enabled          bool                 `json:"enabled"`
	AlwaysOn         bool                 `json:"alwaysOn"`
	Schedule         ScheduleWindow       `json:"schedule"`
	SessionUntilTs   int64                `json:"sessionUntilTs"` // unix ms
	Runtime          RuntimeLocks         `json:"runtime"`
	RuleGroups       map[string]RuleGroup `json:"ruleGroups"`
	ExtensionGuard   ExtensionGuard       `json:"extensionGuard"`
	BlockedProcesses []string             `json:"blockedProcesses"`
}

// ScheduleWindow is a weekly recurring time window.
type ScheduleWindow struct {
	Days      []int  `json:"days"` // 0=Sunday .. 6=Saturday
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

// RuntimeLocks are temporary escalations owned by the enforcement layer.
// Each field is a unix millisecond deadline.
type RuntimeLocks struct {
	BlockedUntilTs int64 `json:"blockedUntilTs"`
	LockoutUntilTs int64 `json:"lockoutUntilTs"`
	FrozenUntilTs  int64 `json:"frozenUntilTs"`
}

// RuleGroup is a named category of block rules.
type RuleGroup struct {
	Enabled        bool     `json:"enabled"`
	AlwaysOn       bool     `json:"alwaysOn"`
	Domains        []string `json:"domains"`
	Keywords       []string `json:"keywords"`
	SearchTerms    []string `json:"searchTerms"`
	CustomKeywords []string `json:"customKeywords"`
}

// ExtensionGuard toggles browser extension verification.
type ExtensionGuard struct {
	Enabled bool `json:"enabled"`
}

// SupervisedProcess is a registry record of a running child or parent process.
type SupervisedProcess struct {
	Role          ProcessRole
	PID           int
	StartedAt     time.Time
	LastHeartbeat time.Time
	RestartCount  int
	AppVersion    string
}

// EnforcementResult captures what happened during a single enforcement run.
type EnforcementResult struct {
	KilledPIDs []int
	Errors     []error
	ExecutedAt time.Time
	DurationMs int64
}
