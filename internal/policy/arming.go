package policy

import (
	"sort"
	"strings"
	"time"

	"github.com/eliteGoblin/focusd/stay_blocked/internal/domain"
)

// Decision is the breakdown of one arming evaluation.
type Decision struct {
	Armed            bool
	MainArmed        bool
	ScheduleActive   bool
	SessionActive    bool
	BlockedActive    bool
	LockoutActive    bool
	FrozenActive     bool
	ArmedGroups      []string
	ExtensionGuardOn bool
}

// Evaluate computes the arming decision and the inputs that produced it.
func Evaluate(cfg domain.EnforcementConfig, now time.Time) Decision {
	nowMs := now.UnixMilli()

	d := Decision{
		ScheduleActive:   IsScheduleActive(cfg.Schedule, now),
		SessionActive:    cfg.SessionUntilTs > nowMs,
		BlockedActive:    cfg.Runtime.BlockedUntilTs > nowMs,
		LockoutActive:    cfg.Runtime.LockoutUntilTs > nowMs,
		FrozenActive:     cfg.Runtime.FrozenUntilTs > nowMs,
		ExtensionGuardOn: cfg.ExtensionGuard.Enabled,
	}

	anyLock := d.BlockedActive || d.LockoutActive || d.FrozenActive
	d.MainArmed = cfg.Enabled && (cfg.AlwaysOn || d.ScheduleActive || d.SessionActive || anyLock)

	for name, g := range cfg.RuleGroups {
		if g.Enabled && g.AlwaysOn && HasRules(g) {
			d.ArmedGroups = append(d.ArmedGroups, name)
		}
	}
	sort.Strings(d.ArmedGroups)

	d.Armed = d.MainArmed ||
		len(d.ArmedGroups) > 0 ||
		d.SessionActive ||
		anyLock ||
		d.ExtensionGuardOn

	return d
}

// IsArmed reports whether enforcement should be active at now.
func IsArmed(cfg domain.EnforcementConfig, now time.Time) bool {
	return Evaluate(cfg, now).Armed
}

// IsArmedBlob parses a raw config blob and evaluates it.
// Unparseable or null blobs are disarmed.
func IsArmedBlob(data []byte, now time.Time) bool {
	cfg, err := ParseConfig(data)
	if err != nil {
		return false
	}
	return IsArmed(cfg, now)
}

// HasRules reports whether any rule list holds a non-blank entry.
func HasRules(g domain.RuleGroup) bool {
	for _, list := range [][]string{g.Domains, g.Keywords, g.SearchTerms, g.CustomKeywords} {
		for _, entry := range list {
			if strings.TrimSpace(entry) != "" {
				return true
			}
		}
	}
	return false
}
