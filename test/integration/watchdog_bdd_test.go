//go:build integration

package integration

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/stay_blocked/internal/infra"
	"github.com/eliteGoblin/focusd/stay_blocked/internal/ipc"
	"github.com/eliteGoblin/focusd/stay_blocked/internal/watchdog"
	"github.com/eliteGoblin/focusd/stay_blocked/test/fixtures"
)

// deadPID returns the PID of a process that has already exited and been reaped.
func deadPID() int {
	cmd := exec.Command("/bin/sh", "-c", "exit 0")
	Expect(cmd.Run()).To(Succeed())
	return cmd.Process.Pid
}

func killAll(pm *infra.ProcessManagerImpl, name string) {
	pids, _ := pm.FindByName(context.Background(), name)
	for _, pid := range pids {
		_ = pm.Kill(context.Background(), pid)
	}
}

var _ = Describe("Watchdog", func() {
	var (
		tmpDir     string
		configPath string
		fake       *fixtures.FakeApp
		pm         *infra.ProcessManagerImpl
		params     watchdog.Params
	)

	newAgent := func() *watchdog.Agent {
		return watchdog.NewAgent(params, pm, infra.NewDetachedLauncher(zap.NewNop()), zap.NewNop())
	}

	appRunning := func() bool {
		running, err := pm.IsAppRunning(context.Background(), fake.Path)
		return err == nil && running
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "stayblocked-watchdog-*")
		Expect(err).NotTo(HaveOccurred())

		fake, err = fixtures.NewFakeApp(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		configPath = filepath.Join(tmpDir, "config.json")
		pm = infra.NewProcessManager()
		params = watchdog.Params{
			AppPath:      fake.Path,
			AppArgs:      []string{"60"},
			ConfigPath:   configPath,
			PollInterval: watchdog.MinPollInterval,
			Cooldown:     watchdog.MinCooldown,
		}
	})

	AfterEach(func() {
		killAll(pm, fake.Name)
		os.RemoveAll(tmpDir)
	})

	Context("when enforcement is armed and the app is not running", func() {
		BeforeEach(func() {
			Expect(fixtures.WriteBlob(configPath, fixtures.ArmedBlob())).To(Succeed())
		})

		It("should relaunch the app", func() {
			agent := newAgent()
			Expect(agent.Tick(context.Background())).To(Equal(watchdog.OutcomeContinue))
			Eventually(appRunning, 5*time.Second, 100*time.Millisecond).Should(BeTrue())
		})

		It("should not launch a second copy within the cooldown", func() {
			agent := newAgent()
			Expect(agent.Tick(context.Background())).To(Equal(watchdog.OutcomeContinue))
			Eventually(appRunning, 5*time.Second, 100*time.Millisecond).Should(BeTrue())

			killAll(pm, fake.Name)
			Eventually(appRunning, 5*time.Second, 100*time.Millisecond).Should(BeFalse())

			Expect(agent.Tick(context.Background())).To(Equal(watchdog.OutcomeContinue))
			Consistently(appRunning, time.Second, 100*time.Millisecond).Should(BeFalse())
		})

		It("should exit once the app is back and the owner is dead", func() {
			params.OwnerPID = deadPID()
			agent := newAgent()

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()

			reason := agent.Run(ctx, make(chan ipc.Message))
			Expect(reason).To(Equal(watchdog.ExitOwnerGone))
			Expect(appRunning()).To(BeTrue())
		})

		It("should stay idle while the owner is alive", func() {
			params.OwnerPID = os.Getpid()
			agent := newAgent()

			Expect(agent.Tick(context.Background())).To(Equal(watchdog.OutcomeContinue))
			Consistently(appRunning, time.Second, 100*time.Millisecond).Should(BeFalse())
		})

		It("should stop on a shutdown message", func() {
			params.OwnerPID = os.Getpid()
			agent := newAgent()
			control := make(chan ipc.Message, 1)
			control <- ipc.ShutdownMessage()

			Expect(agent.Run(context.Background(), control)).To(Equal(watchdog.ExitShutdown))
		})
	})

	Context("when enforcement is disarmed", func() {
		It("should exit without relaunching", func() {
			Expect(fixtures.WriteBlob(configPath, fixtures.DisarmedBlob())).To(Succeed())

			reason := newAgent().Run(context.Background(), make(chan ipc.Message))
			Expect(reason).To(Equal(watchdog.ExitDisarmed))
			Expect(appRunning()).To(BeFalse())
		})

		It("should treat a missing blob as disarmed", func() {
			reason := newAgent().Run(context.Background(), make(chan ipc.Message))
			Expect(reason).To(Equal(watchdog.ExitDisarmed))
		})
	})
})
