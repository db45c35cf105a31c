//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/stay_blocked/internal/infra"
	"github.com/eliteGoblin/focusd/stay_blocked/internal/policy"
	"github.com/eliteGoblin/focusd/stay_blocked/test/fixtures"
)

var _ = Describe("Config blob on disk", func() {
	var (
		tmpDir     string
		configPath string
		store      *infra.FileConfigStore
	)

	armedOnDisk := func() bool {
		cfg, err := store.Load()
		if err != nil {
			return false
		}
		return policy.IsArmed(cfg, time.Now())
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "stayblocked-integration-*")
		Expect(err).NotTo(HaveOccurred())

		configPath = filepath.Join(tmpDir, "config.json")
		store = infra.NewFileConfigStore(configPath, zap.NewNop())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	Context("when no blob exists", func() {
		It("should be disarmed", func() {
			_, err := store.Load()
			Expect(infra.IsAbsent(err)).To(BeTrue())
			Expect(armedOnDisk()).To(BeFalse())
		})
	})

	Context("when the blob is armed", func() {
		It("should arm", func() {
			Expect(fixtures.WriteBlob(configPath, fixtures.ArmedBlob())).To(Succeed())
			Expect(armedOnDisk()).To(BeTrue())
		})
	})

	Context("when a session is running on a disabled blob", func() {
		It("should arm until the session ends", func() {
			now := time.Now()
			Expect(fixtures.WriteBlob(configPath, fixtures.SessionBlob(now, time.Hour))).To(Succeed())

			cfg, err := store.Load()
			Expect(err).NotTo(HaveOccurred())
			Expect(policy.IsArmed(cfg, now)).To(BeTrue())
			Expect(policy.IsArmed(cfg, now.Add(2*time.Hour))).To(BeFalse())
		})
	})

	Context("when the blob is corrupt or half written", func() {
		DescribeTable("should fail closed",
			func(raw string) {
				Expect(fixtures.WriteRaw(configPath, []byte(raw))).To(Succeed())
				Expect(armedOnDisk()).To(BeFalse())
				Expect(policy.IsArmedBlob([]byte(raw), time.Now())).To(BeFalse())
			},
			Entry("truncated", `{"enabled": true, "alwaysOn": tr`),
			Entry("null", `null`),
			Entry("array", `[{"enabled": true}]`),
			Entry("empty", ``),
		)
	})

	Context("when a blob with a BOM is written", func() {
		It("should still parse", func() {
			Expect(fixtures.WriteRaw(configPath, []byte("\xef\xbb\xbf{\"enabled\":true}"))).To(Succeed())
			Expect(armedOnDisk()).To(BeTrue())
		})
	})

	Describe("Watch", func() {
		It("should notify when another process rewrites the blob", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			changes, err := store.Watch(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(fixtures.WriteBlob(configPath, fixtures.ArmedBlob())).To(Succeed())
			Eventually(changes, 2*time.Second).Should(Receive())
			Expect(armedOnDisk()).To(BeTrue())

			Expect(fixtures.WriteBlob(configPath, fixtures.DisarmedBlob())).To(Succeed())
			Eventually(changes, 2*time.Second).Should(Receive())
			Expect(armedOnDisk()).To(BeFalse())
		})
	})
})
