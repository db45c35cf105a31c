package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/stay_blocked/internal/infra"
	"github.com/eliteGoblin/focusd/stay_blocked/internal/policy"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the supervised process tree",
	Long:  `Shows the recorded parent, worker and watchdog PIDs, whether each is alive, and the current arming decision.`,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	paths := resolvePaths()
	out := cmd.OutOrStdout()
	pm := infra.NewProcessManager()

	fmt.Fprintln(out, "\n=== stayblocked Status ===")
	fmt.Fprintf(out, "Execution mode: %s\n", paths.Mode)
	fmt.Fprintf(out, "Config: %s\n", paths.ConfigPath)

	if cfg, err := infra.LoadConfigFile(paths.ConfigPath); err != nil {
		fmt.Fprintln(out, "Enforcement: DISARMED (no usable config)")
	} else if policy.IsArmed(cfg, time.Now()) {
		fmt.Fprintln(out, "Enforcement: ARMED")
	} else {
		fmt.Fprintln(out, "Enforcement: DISARMED")
	}

	registry, err := infra.OpenRegistry(paths)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	defer registry.Close()

	processes, err := registry.GetAll()
	if err != nil {
		return fmt.Errorf("read registry: %w", err)
	}
	if len(processes) == 0 {
		fmt.Fprintln(out, "\nStatus: NOT RUNNING")
		fmt.Fprintln(out, "\nRun 'stayblocked run' to start the parent.")
		return nil
	}

	table := tablewriter.NewWriter(out)
	table.Header("Role", "PID", "Alive", "Restarts", "Last heartbeat")
	for _, p := range processes {
		alive := p.PID > 0 && pm.IsAlive(p.PID)
		heartbeat := "never"
		if !p.LastHeartbeat.IsZero() && p.PID > 0 {
			heartbeat = time.Since(p.LastHeartbeat).Round(time.Second).String() + " ago"
		}
		if err := table.Append([]string{
			string(p.Role),
			strconv.Itoa(p.PID),
			yesNo(alive),
			strconv.Itoa(p.RestartCount),
			heartbeat,
		}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	fmt.Fprintln(out, "==========================")
	return nil
}
