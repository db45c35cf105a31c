package infra

import (
	"os"
	"os/user"
	"path/filepath"
	"strconv"
)

// ExecMode represents the execution mode of the application.
type ExecMode string

const (
	// ExecModeUser keeps all state under the invoking user's home.
	ExecModeUser ExecMode = "user"
	// ExecModeSystem keeps state under /var/lib (running as root).
	ExecModeSystem ExecMode = "system"
)

// ExecModeConfig holds paths derived from the execution mode.
type ExecModeConfig struct {
	Mode       ExecMode
	DataDir    string // Registry database
	ConfigPath string // Enforcement config blob
	KeyPath    string // Registry encryption key
	LogPath    string
	IsRoot     bool
}

const (
	configFileName = "config.json"
	keyFileName    = "registry.key"
	logFileName    = "stayblocked.log"
)

// DetectExecMode determines the execution mode based on effective UID.
func DetectExecMode() *ExecModeConfig {
	if os.Geteuid() == 0 {
		return newExecModeConfig(ExecModeSystem, "/var/lib/stayblocked", true)
	}
	home, _ := os.UserHomeDir()
	return newExecModeConfig(ExecModeUser, filepath.Join(home, ".stayblocked"), false)
}

// GetUserModeConfig returns user mode paths regardless of current euid.
// Under sudo the invoking user's home is used.
func GetUserModeConfig() *ExecModeConfig {
	return newExecModeConfig(ExecModeUser, filepath.Join(GetRealUserHome(), ".stayblocked"), os.Geteuid() == 0)
}

// ExecModeAt builds a user mode config rooted at dataDir.
func ExecModeAt(dataDir string) *ExecModeConfig {
	return newExecModeConfig(ExecModeUser, dataDir, os.Geteuid() == 0)
}

func newExecModeConfig(mode ExecMode, dataDir string, isRoot bool) *ExecModeConfig {
	return &ExecModeConfig{
		Mode:       mode,
		DataDir:    dataDir,
		ConfigPath: filepath.Join(dataDir, configFileName),
		KeyPath:    filepath.Join(dataDir, keyFileName),
		LogPath:    filepath.Join(dataDir, logFileName),
		IsRoot:     isRoot,
	}
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (root)"
	case ExecModeUser:
		return "user (non-root)"
	default:
		return "unknown"
	}
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}

// FileOwner returns the uid/gid that state files in a user mode data dir
// must belong to when root writes them under sudo, so the user's own parent
// can still open them. ok is false when files can keep the default owner.
func (c *ExecModeConfig) FileOwner() (uid, gid int, ok bool) {
	if !c.IsRoot || c.Mode != ExecModeUser {
		return 0, 0, false
	}
	return sudoOwner(os.Getenv)
}

func sudoOwner(getenv func(string) string) (uid, gid int, ok bool) {
	uid, err := strconv.Atoi(getenv("SUDO_UID"))
	if err != nil || uid <= 0 {
		return 0, 0, false
	}
	gid, err = strconv.Atoi(getenv("SUDO_GID"))
	if err != nil || gid < 0 {
		gid = -1 // keep the group
	}
	return uid, gid, true
}
