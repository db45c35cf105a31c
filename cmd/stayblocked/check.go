package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/stay_blocked/internal/infra"
	"github.com/eliteGoblin/focusd/stay_blocked/internal/policy"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate whether enforcement is armed right now",
	Long: `Loads the config blob and prints the arming decision together with every
input that contributed to it. A missing or corrupt blob is reported as disarmed.`,
	RunE: runCheck,
}

var checkJSON bool

func init() {
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "Output the decision as JSON")
}

type checkReport struct {
	ConfigPath  string          `json:"config_path"`
	ConfigError string          `json:"config_error,omitempty"`
	EvaluatedAt time.Time       `json:"evaluated_at"`
	Decision    policy.Decision `json:"decision"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	paths := resolvePaths()
	report := checkReport{
		ConfigPath:  paths.ConfigPath,
		EvaluatedAt: time.Now(),
	}

	cfg, err := infra.LoadConfigFile(paths.ConfigPath)
	if err != nil {
		report.ConfigError = err.Error()
	} else {
		report.Decision = policy.Evaluate(cfg, report.EvaluatedAt)
	}

	out := cmd.OutOrStdout()
	if checkJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return printCheck(out, report)
}

func printCheck(out io.Writer, r checkReport) error {
	fmt.Fprintf(out, "Config: %s\n", r.ConfigPath)
	if r.ConfigError != "" {
		fmt.Fprintf(out, "Config unavailable (%s)\n", r.ConfigError)
	}

	table := tablewriter.NewWriter(out)
	table.Header("Input", "Active")
	d := r.Decision
	rows := [][]string{
		{"main switch", yesNo(d.MainArmed)},
		{"schedule window", yesNo(d.ScheduleActive)},
		{"focus session", yesNo(d.SessionActive)},
		{"blocked lock", yesNo(d.BlockedActive)},
		{"lockout lock", yesNo(d.LockoutActive)},
		{"frozen lock", yesNo(d.FrozenActive)},
		{"extension guard", yesNo(d.ExtensionGuardOn)},
		{"always-on groups", groupList(d.ArmedGroups)},
	}
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	if d.Armed {
		fmt.Fprintln(out, "\nEnforcement: ARMED")
	} else {
		fmt.Fprintln(out, "\nEnforcement: DISARMED")
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func groupList(groups []string) string {
	if len(groups) == 0 {
		return "none"
	}
	return strings.Join(groups, ", ")
}
