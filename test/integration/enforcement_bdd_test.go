//go:build integration

package integration

import (
	"context"
	"os"
	"os/exec"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/stay_blocked/internal/infra"
	"github.com/eliteGoblin/focusd/stay_blocked/internal/policy"
	"github.com/eliteGoblin/focusd/stay_blocked/internal/usecase"
	"github.com/eliteGoblin/focusd/stay_blocked/test/fixtures"
)

var _ = Describe("Process enforcement", func() {
	var (
		tmpDir   string
		fake     *fixtures.FakeApp
		pm       *infra.ProcessManagerImpl
		enforcer *usecase.EnforcerImpl
		cmd      *exec.Cmd
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "stayblocked-enforce-*")
		Expect(err).NotTo(HaveOccurred())

		fake, err = fixtures.NewFakeApp(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		pm = infra.NewProcessManager()
		enforcer = usecase.NewEnforcer(pm, zap.NewNop())

		cmd = exec.Command(fake.Path, "60")
		Expect(cmd.Start()).To(Succeed())
		go cmd.Wait()
	})

	AfterEach(func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		os.RemoveAll(tmpDir)
	})

	It("should find the blocked process by name", func() {
		Eventually(func() []int {
			pids, _ := pm.FindByName(context.Background(), fake.Name)
			return pids
		}, 3*time.Second, 100*time.Millisecond).Should(ContainElement(cmd.Process.Pid))
	})

	It("should kill the blocked process", func() {
		cfg := policy.DefaultConfig()
		cfg.Enabled = true
		cfg.BlockedProcesses = []string{fake.Name}

		result, err := enforcer.Enforce(context.Background(), cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.KilledPIDs).To(ContainElement(cmd.Process.Pid))

		Eventually(func() bool {
			return pm.IsAlive(cmd.Process.Pid)
		}, 3*time.Second, 100*time.Millisecond).Should(BeFalse())
	})

	It("should leave the process alone when nothing is blocked", func() {
		cfg := policy.DefaultConfig()
		cfg.Enabled = true

		result, err := enforcer.Enforce(context.Background(), cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.KilledPIDs).To(BeEmpty())
		Expect(pm.IsAlive(cmd.Process.Pid)).To(BeTrue())
	})

	It("should never kill a protected PID", func() {
		guarded := usecase.NewEnforcer(pm, zap.NewNop(), cmd.Process.Pid)
		cfg := policy.DefaultConfig()
		cfg.BlockedProcesses = []string{fake.Name}

		result, err := guarded.Enforce(context.Background(), cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.KilledPIDs).NotTo(ContainElement(cmd.Process.Pid))
		Expect(pm.IsAlive(cmd.Process.Pid)).To(BeTrue())
	})
})
