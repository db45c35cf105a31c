package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/stay_blocked/internal/daemon"
	"github.com/eliteGoblin/focusd/stay_blocked/internal/domain"
	"github.com/eliteGoblin/focusd/stay_blocked/internal/infra"
	"github.com/eliteGoblin/focusd/stay_blocked/internal/supervisor"
	"github.com/eliteGoblin/focusd/stay_blocked/internal/watchdog"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the parent process (supervises worker and watchdog)",
	Long: `Runs the parent controller in the foreground. While the config says
enforcement is armed, it keeps an enforcement worker and a detached watchdog
alive, restarting either with capped backoff if it dies. The watchdog
relaunches this command if the parent is killed.`,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. 127.0.0.1:9464)")
	f.String("app-path", "", "app the watchdog relaunches (default: this binary)")
	f.StringSlice("app-args", nil, "arguments for the relaunched app (default: the current arguments)")
	f.Duration("watchdog-poll", watchdog.DefaultPollInterval, "watchdog poll interval")
	f.Duration("watchdog-cooldown", watchdog.DefaultCooldown, "minimum time between watchdog relaunches")
	f.Duration("reevaluate-interval", daemon.DefaultControllerConfig().ReevaluateInterval, "how often arming is re-evaluated without a config change")

	_ = viper.BindPFlag(keyMetricsAddr, f.Lookup("metrics-addr"))
	_ = viper.BindPFlag(keyAppPath, f.Lookup("app-path"))
	_ = viper.BindPFlag(keyAppArgs, f.Lookup("app-args"))
	_ = viper.BindPFlag(keyPoll, f.Lookup("watchdog-poll"))
	_ = viper.BindPFlag(keyCooldown, f.Lookup("watchdog-cooldown"))
	_ = viper.BindPFlag(keyReevaluate, f.Lookup("reevaluate-interval"))
}

func runRun(cmd *cobra.Command, args []string) error {
	paths := resolvePaths()
	logger := createLogger(paths.LogPath)
	defer func() { _ = logger.Sync() }()

	exe, err := daemon.SelfExecutable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	store := infra.NewFileConfigStore(paths.ConfigPath, logger)

	// The registry only feeds `status`; run without it rather than not at all.
	var registry domain.ProcessRegistry
	if reg, err := infra.OpenRegistry(paths); err != nil {
		logger.Warn("registry unavailable, status will be empty", zap.Error(err))
	} else {
		registry = reg
		defer reg.Close()
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	metrics := supervisor.NewMetrics(promRegistry)

	appPath := viper.GetString(keyAppPath)
	appArgs := viper.GetStringSlice(keyAppArgs)
	if appPath == "" {
		appPath = exe
		if len(appArgs) == 0 {
			appArgs = os.Args[1:]
		}
	}

	params := watchdog.Params{
		AppPath:      appPath,
		AppArgs:      appArgs,
		ConfigPath:   paths.ConfigPath,
		OwnerPID:     os.Getpid(),
		PollInterval: viper.GetDuration(keyPoll),
		Cooldown:     viper.GetDuration(keyCooldown),
	}

	wOpts := supervisor.WorkerOptions()
	wOpts.Spawner = daemon.WorkerSpawner(exe, childArgs(paths)...)
	wOpts.Metrics = metrics

	dOpts := supervisor.WatchdogOptions()
	dOpts.Spawner = daemon.WatchdogSpawner(exe, params, childArgs(paths)...)
	dOpts.Metrics = metrics

	config := daemon.DefaultControllerConfig()
	config.AppVersion = Version
	if d := viper.GetDuration(keyReevaluate); d > 0 {
		config.ReevaluateInterval = d
	}

	ctrl := daemon.NewController(config, store, wOpts, dOpts, registry, logger)

	ctx, cancel := signalContext(logger)
	defer cancel()

	if addr := viper.GetString(keyMetricsAddr); addr != "" {
		go serveMetrics(ctx, addr, promRegistry, logger)
	}

	err = ctrl.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("metrics server failed", zap.Error(err))
	}
}
