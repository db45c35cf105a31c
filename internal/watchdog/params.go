// Package watchdog implements the detached agent that relaunches the
// protected application while enforcement is armed, even after the process
// that spawned it is gone.
package watchdog

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces the launch parameters in the environment.
const EnvPrefix = "STAYBLOCKED_WATCHDOG"

// Launch parameter keys. The environment variable is EnvPrefix + "_" + upper(key).
const (
	KeyAppPath    = "app_path"
	KeyAppArgs    = "app_args"
	KeyConfigPath = "config_path"
	KeyOwnerPID   = "owner_pid"
	KeyPollMs     = "poll_ms"
	KeyCooldownMs = "cooldown_ms"
)

// Poll and cooldown bounds.
const (
	DefaultPollInterval = 2500 * time.Millisecond
	MinPollInterval     = 1000 * time.Millisecond
	MaxPollInterval     = 60000 * time.Millisecond

	DefaultCooldown = 9000 * time.Millisecond
	MinCooldown     = 4000 * time.Millisecond
	MaxCooldown     = 120000 * time.Millisecond
)

// ErrMissingPaths means the watchdog was launched without an app or config
// path. It refuses to run and exits cleanly.
var ErrMissingPaths = errors.New("watchdog requires app path and config path")

// Params are fixed at launch.
type Params struct {
	AppPath      string
	AppArgs      []string
	ConfigPath   string
	OwnerPID     int // 0 means no owner was configured
	PollInterval time.Duration
	Cooldown     time.Duration
}

// ParamsFromEnv reads the launch parameters from the process environment.
func ParamsFromEnv() (Params, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range []string{KeyAppPath, KeyAppArgs, KeyConfigPath, KeyOwnerPID, KeyPollMs, KeyCooldownMs} {
		_ = v.BindEnv(key)
	}
	return ParamsFrom(v)
}

// ParamsFrom reads the launch parameters from v. Every value is a string;
// malformed numbers fall back to defaults and out-of-range ones are clamped.
func ParamsFrom(v *viper.Viper) (Params, error) {
	p := Params{
		AppPath:      strings.TrimSpace(v.GetString(KeyAppPath)),
		AppArgs:      parseArgs(v.GetString(KeyAppArgs)),
		ConfigPath:   strings.TrimSpace(v.GetString(KeyConfigPath)),
		OwnerPID:     parsePID(v.GetString(KeyOwnerPID)),
		PollInterval: parseMillis(v.GetString(KeyPollMs), DefaultPollInterval, MinPollInterval, MaxPollInterval),
		Cooldown:     parseMillis(v.GetString(KeyCooldownMs), DefaultCooldown, MinCooldown, MaxCooldown),
	}
	if p.AppPath == "" || p.ConfigPath == "" {
		return p, ErrMissingPaths
	}
	return p, nil
}

// Environ encodes p as environment entries for the watchdog child.
func (p Params) Environ() []string {
	args, _ := json.Marshal(p.AppArgs)
	if p.AppArgs == nil {
		args = []byte("[]")
	}
	return []string{
		envName(KeyAppPath) + "=" + p.AppPath,
		envName(KeyAppArgs) + "=" + string(args),
		envName(KeyConfigPath) + "=" + p.ConfigPath,
		envName(KeyOwnerPID) + "=" + strconv.Itoa(p.OwnerPID),
		envName(KeyPollMs) + "=" + strconv.FormatInt(p.PollInterval.Milliseconds(), 10),
		envName(KeyCooldownMs) + "=" + strconv.FormatInt(p.Cooldown.Milliseconds(), 10),
	}
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(key)
}

func parseArgs(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var args []string
	if err := json.Unmarshal([]byte(s), &args); err != nil {
		return nil
	}
	return args
}

func parsePID(s string) int {
	pid, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

func parseMillis(s string, def, lo, hi time.Duration) time.Duration {
	ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return def
	}
	if ms < lo.Milliseconds() {
		return lo
	}
	if ms > hi.Milliseconds() {
		return hi
	}
	return time.Duration(ms) * time.Millisecond
}
