//go:build integration

package integration

import (
	"path/filepath"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/stay_blocked/internal/domain"
	"github.com/eliteGoblin/focusd/stay_blocked/internal/supervisor"
)

var _ = Describe("Supervisor with real processes", func() {
	var (
		reg     *prometheus.Registry
		metrics *supervisor.Metrics
		sup     *supervisor.Supervisor
		started atomic.Int32
	)

	newSupervisor := func(spawner supervisor.Spawner) *supervisor.Supervisor {
		return supervisor.New(supervisor.Options{
			Role:        domain.RoleWorker,
			Spawner:     spawner,
			BaseDelay:   50 * time.Millisecond,
			MaxDelay:    200 * time.Millisecond,
			GracePeriod: 300 * time.Millisecond,
			Metrics:     metrics,
			Logger:      zap.NewNop(),
			OnStarted: func(supervisor.Child) {
				started.Add(1)
			},
		})
	}

	spawns := func() int32 {
		return started.Load()
	}

	BeforeEach(func() {
		reg = prometheus.NewRegistry()
		metrics = supervisor.NewMetrics(reg)
		started.Store(0)
		sup = nil
	})

	AfterEach(func() {
		if sup != nil {
			sup.Stop()
		}
	})

	Context("when the child keeps crashing", func() {
		It("should restart it with backoff", func() {
			sup = newSupervisor(&supervisor.ExecSpawner{Path: "/bin/sh", Args: []string{"-c", "exit 1"}})
			sup.SetShouldRun(true)
			Expect(sup.Start("test")).To(BeTrue())

			Eventually(spawns, 5*time.Second, 20*time.Millisecond).Should(BeNumerically(">=", 3))

			failures, err := testutil.GatherAndCount(reg, "stayblocked_child_failure_total")
			Expect(err).NotTo(HaveOccurred())
			Expect(failures).To(Equal(1))
		})

		It("should stop restarting after Stop", func() {
			sup = newSupervisor(&supervisor.ExecSpawner{Path: "/bin/sh", Args: []string{"-c", "exit 1"}})
			sup.SetShouldRun(true)
			sup.Start("test")
			Eventually(spawns, 5*time.Second, 20*time.Millisecond).Should(BeNumerically(">=", 2))

			sup.Stop()
			Expect(sup.RestartPending()).To(BeFalse())
			settled := spawns()
			Consistently(spawns, 500*time.Millisecond, 50*time.Millisecond).Should(BeNumerically("<=", settled+1))
			Eventually(sup.Running, time.Second).Should(BeFalse())
		})
	})

	Context("when the executable is missing", func() {
		It("should keep retrying without spawning", func() {
			missing := filepath.Join(GinkgoT().TempDir(), "nope")
			sup = newSupervisor(&supervisor.ExecSpawner{Path: missing})
			sup.SetShouldRun(true)

			Expect(sup.Start("test")).To(BeFalse())
			Expect(sup.RestartPending()).To(BeTrue())
			Eventually(sup.RestartCount, 2*time.Second, 20*time.Millisecond).Should(BeNumerically(">=", 3))
			Expect(spawns()).To(BeZero())
		})
	})

	Context("when the child ignores the shutdown message", func() {
		It("should kill it after the grace period", func() {
			sup = newSupervisor(&supervisor.ExecSpawner{Path: "/bin/sh", Args: []string{"-c", "exec sleep 60"}})
			sup.SetShouldRun(true)
			Expect(sup.Start("test")).To(BeTrue())
			Expect(sup.PID()).To(BeNumerically(">", 0))

			start := time.Now()
			sup.Stop()
			Expect(time.Since(start)).To(BeNumerically(">=", 300*time.Millisecond))
			Expect(sup.Running()).To(BeFalse())
			Expect(sup.RestartPending()).To(BeFalse())
		})
	})
})
