// Package main is the CLI entry point for stayblocked.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/stay_blocked/internal/infra"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

// Setting keys, bound to flags and STAYBLOCKED_* environment variables.
const (
	keyDataDir     = "data_dir"
	keyConfig      = "config"
	keyLogFile     = "log_file"
	keyMetricsAddr = "metrics_addr"
	keyAppPath     = "app_path"
	keyAppArgs     = "app_args"
	keyPoll        = "watchdog_poll"
	keyCooldown    = "watchdog_cooldown"
	keyReevaluate  = "reevaluate_interval"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "stayblocked",
	Short: "Keeps enforcement running while it is armed",
	Long: `stayblocked decides whether blocking should currently be active and keeps
the enforcing processes alive for as long as it is. The parent supervises an
enforcement worker and a detached watchdog; the watchdog relaunches the app if
the parent is killed while enforcement is armed.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var jsonOutput bool

func init() {
	cobra.OnInitialize(initSettings)

	pf := rootCmd.PersistentFlags()
	pf.String("data-dir", "", "data directory (default ~/.stayblocked, /var/lib/stayblocked as root)")
	pf.String("config", "", "enforcement config blob (default <data-dir>/config.json)")
	pf.String("log-file", "", "log file (default <data-dir>/stayblocked.log)")
	_ = viper.BindPFlag(keyDataDir, pf.Lookup("data-dir"))
	_ = viper.BindPFlag(keyConfig, pf.Lookup("config"))
	_ = viper.BindPFlag(keyLogFile, pf.Lookup("log-file"))

	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(watchdogCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

// initSettings wires STAYBLOCKED_* environment variables into viper.
func initSettings() {
	viper.SetEnvPrefix("STAYBLOCKED")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// resolvePaths applies --data-dir/--config/--log-file over the exec mode defaults.
func resolvePaths() *infra.ExecModeConfig {
	var paths *infra.ExecModeConfig
	if dir := viper.GetString(keyDataDir); dir != "" {
		paths = infra.ExecModeAt(dir)
	} else {
		paths = infra.DetectExecMode()
	}
	if cfg := viper.GetString(keyConfig); cfg != "" {
		paths.ConfigPath = cfg
	}
	if logFile := viper.GetString(keyLogFile); logFile != "" {
		paths.LogPath = logFile
	}
	return paths
}

// childArgs passes the resolved paths on to re-exec'd children.
func childArgs(paths *infra.ExecModeConfig) []string {
	return []string{
		"--data-dir", paths.DataDir,
		"--config", paths.ConfigPath,
		"--log-file", paths.LogPath,
	}
}

func createLogger(logPath string) *zap.Logger {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{logPath}
	config.ErrorOutputPaths = []string{logPath}
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if err := os.MkdirAll(filepath.Dir(logPath), 0700); err == nil {
		if logger, err := config.Build(); err == nil {
			return logger
		}
	}
	// Fallback to stderr if file logging fails
	logger, _ := zap.NewProduction()
	return logger
}

// signalContext is canceled on SIGINT/SIGTERM.
func signalContext(logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func runVersion(cmd *cobra.Command, args []string) {
	out := cmd.OutOrStdout()
	if jsonOutput {
		_ = json.NewEncoder(out).Encode(map[string]string{
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
		})
		return
	}
	fmt.Fprintf(out, "stayblocked %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
}
