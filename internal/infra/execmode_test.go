package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectExecMode_ReturnsCorrectPaths(t *testing.T) {
	config := DetectExecMode()

	if os.Geteuid() == 0 {
		assert.Equal(t, ExecModeSystem, config.Mode)
		assert.Equal(t, "/var/lib/stayblocked", config.DataDir)
		assert.True(t, config.IsRoot)
		return
	}

	home, _ := os.UserHomeDir()
	assert.Equal(t, ExecModeUser, config.Mode)
	assert.Equal(t, filepath.Join(home, ".stayblocked"), config.DataDir)
	assert.False(t, config.IsRoot)
}

func TestExecModeConfig_PathsAreInsideDataDir(t *testing.T) {
	for _, config := range []*ExecModeConfig{DetectExecMode(), GetUserModeConfig(), ExecModeAt(t.TempDir())} {
		assert.Equal(t, config.DataDir, filepath.Dir(config.ConfigPath))
		assert.Equal(t, config.DataDir, filepath.Dir(config.LogPath))
		assert.Equal(t, config.DataDir, filepath.Dir(config.KeyPath))
		assert.Equal(t, "config.json", filepath.Base(config.ConfigPath))
	}
}

func TestExecMode_String(t *testing.T) {
	tests := []struct {
		mode ExecMode
		want string
	}{
		{ExecModeUser, "user (non-root)"},
		{ExecModeSystem, "system (root)"},
		{ExecMode("bogus"), "unknown"},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.mode.String())
		})
	}
}

func TestGetRealUserHome_WithoutSudo(t *testing.T) {
	t.Setenv("SUDO_USER", "")
	home, _ := os.UserHomeDir()
	assert.Equal(t, home, GetRealUserHome())
}

func TestSudoOwner(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantUID int
		wantGID int
		wantOK  bool
	}{
		{name: "not under sudo", env: map[string]string{}},
		{name: "uid and gid", env: map[string]string{"SUDO_UID": "501", "SUDO_GID": "20"}, wantUID: 501, wantGID: 20, wantOK: true},
		{name: "missing gid keeps group", env: map[string]string{"SUDO_UID": "501"}, wantUID: 501, wantGID: -1, wantOK: true},
		{name: "root uid", env: map[string]string{"SUDO_UID": "0", "SUDO_GID": "0"}},
		{name: "garbage uid", env: map[string]string{"SUDO_UID": "abc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uid, gid, ok := sudoOwner(func(k string) string { return tt.env[k] })
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantUID, uid)
				assert.Equal(t, tt.wantGID, gid)
			}
		})
	}
}

func TestFileOwner_OnlyForRootInUserMode(t *testing.T) {
	t.Setenv("SUDO_UID", "501")
	t.Setenv("SUDO_GID", "20")

	system := newExecModeConfig(ExecModeSystem, t.TempDir(), true)
	_, _, ok := system.FileOwner()
	assert.False(t, ok, "system mode state stays root-owned")

	user := newExecModeConfig(ExecModeUser, t.TempDir(), false)
	_, _, ok = user.FileOwner()
	assert.False(t, ok, "non-root writes are already owned by the user")

	sudo := newExecModeConfig(ExecModeUser, t.TempDir(), true)
	uid, gid, ok := sudo.FileOwner()
	assert.True(t, ok)
	assert.Equal(t, 501, uid)
	assert.Equal(t, 20, gid)
}
