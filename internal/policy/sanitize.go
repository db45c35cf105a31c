package policy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/eliteGoblin/focusd/stay_blocked/internal/domain"
)

// Schedule defaults applied when the blob has no usable times.
const (
	DefaultStartTime = "09:00"
	DefaultEndTime   = "17:00"
)

// ErrInvalidConfig is returned when a blob is not a JSON object.
var ErrInvalidConfig = errors.New("config blob is not a JSON object")

// DefaultConfig returns the fully populated config used for missing fields.
// It does not arm anything on its own.
func DefaultConfig() domain.EnforcementConfig {
	return domain.EnforcementConfig{
		AlwaysOn: true,
		Schedule: domain.ScheduleWindow{
			Days:      []int{},
			StartTime: DefaultStartTime,
			EndTime:   DefaultEndTime,
		},
		RuleGroups:       map[string]domain.RuleGroup{},
		BlockedProcesses: []string{},
	}
}

// ParseConfig decodes a raw blob and sanitizes it.
func ParseConfig(data []byte) (domain.EnforcementConfig, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.EnforcementConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return domain.EnforcementConfig{}, ErrInvalidConfig
	}
	return Sanitize(obj), nil
}

// Sanitize builds a fully populated config from a decoded JSON object.
// Wrong types fall back to defaults; booleans are taken only if they are
// JSON booleans.
func Sanitize(raw map[string]any) domain.EnforcementConfig {
	cfg := DefaultConfig()

	cfg.Enabled = boolOr(raw["enabled"], false)
	cfg.AlwaysOn = boolOr(raw["alwaysOn"], true)
	cfg.SessionUntilTs = timestamp(raw["sessionUntilTs"])

	if sched, ok := raw["schedule"].(map[string]any); ok {
		cfg.Schedule = sanitizeSchedule(sched)
	}

	if rt, ok := raw["runtime"].(map[string]any); ok {
		cfg.Runtime = domain.RuntimeLocks{
			BlockedUntilTs: timestamp(rt["blockedUntilTs"]),
			LockoutUntilTs: timestamp(rt["lockoutUntilTs"]),
			FrozenUntilTs:  timestamp(rt["frozenUntilTs"]),
		}
	}

	if groups, ok := raw["ruleGroups"].(map[string]any); ok {
		for name, v := range groups {
			g, ok := v.(map[string]any)
			if !ok {
				continue
			}
			cfg.RuleGroups[name] = sanitizeGroup(g)
		}
	}

	if eg, ok := raw["extensionGuard"].(map[string]any); ok {
		cfg.ExtensionGuard.Enabled = boolOr(eg["enabled"], false)
	}

	cfg.BlockedProcesses = stringList(raw["blockedProcesses"])

	return cfg
}

func sanitizeSchedule(raw map[string]any) domain.ScheduleWindow {
	w := domain.ScheduleWindow{
		Days:      []int{},
		StartTime: DefaultStartTime,
		EndTime:   DefaultEndTime,
	}

	if days, ok := raw["days"].([]any); ok {
		seen := make(map[int]bool, 7)
		for _, v := range days {
			f, ok := v.(float64)
			if !ok || f != math.Trunc(f) || f < 0 || f > 6 {
				continue
			}
			d := int(f)
			if !seen[d] {
				seen[d] = true
				w.Days = append(w.Days, d)
			}
		}
	}

	// Malformed strings are kept so the evaluator fails closed on them.
	if s, ok := raw["startTime"].(string); ok {
		w.StartTime = s
	}
	if s, ok := raw["endTime"].(string); ok {
		w.EndTime = s
	}
	return w
}

func sanitizeGroup(raw map[string]any) domain.RuleGroup {
	return domain.RuleGroup{
		Enabled:        boolOr(raw["enabled"], false),
		AlwaysOn:       boolOr(raw["alwaysOn"], true),
		Domains:        stringList(raw["domains"]),
		Keywords:       stringList(raw["keywords"]),
		SearchTerms:    stringList(raw["searchTerms"]),
		CustomKeywords: stringList(raw["customKeywords"]),
	}
}

func boolOr(v any, def bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

func timestamp(v any) int64 {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return 0
	}
	return int64(f)
}

func stringList(v any) []string {
	out := []string{}
	items, ok := v.([]any)
	if !ok {
		return out
	}
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
