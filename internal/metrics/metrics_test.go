package metrics_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/fleet-watcher/internal/metrics"
	"github.com/angeloszaimis/fleet-watcher/internal/models"
)

var _ = Describe("Metrics", func() {
	var m *metrics.Metrics

	BeforeEach(func() {
		m = metrics.NewMetrics()
	})

	Describe("RecordProbe", func() {
		It("should track entities separately", func() {
			m.RecordProbe("st-a", models.KindStatus, true, time.Millisecond)
			m.RecordProbe("st-b", models.KindStatus, false, time.Millisecond)
			m.RecordProbe("st-a", models.KindStatus, true, time.Millisecond)

			snap := m.Snapshot()
			Expect(snap.Entities["st-a"].Probes).To(Equal(int64(2)))
			Expect(snap.Entities["st-a"].Failures).To(BeZero())
			Expect(snap.Entities["st-b"].Failures).To(Equal(int64(1)))
		})

		It("should calculate percentiles correctly", func() {
			for i := 1; i <= 100; i++ {
				m.RecordProbe("st-a", models.KindStatus, true, time.Duration(i)*time.Millisecond)
			}

			snap := m.Snapshot()
			Expect(snap.Entities["st-a"].P50Latency).To(Equal(51 * time.Millisecond))
			Expect(snap.Entities["st-a"].P95Latency).To(Equal(96 * time.Millisecond))
		})

		It("should limit stored latencies to the window", func() {
			for i := 0; i < 1100; i++ {
				m.RecordProbe("st-a", models.KindStatus, true, time.Second)
			}
			m.RecordProbe("st-a", models.KindStatus, true, 0)

			snap := m.Snapshot()
			Expect(snap.Entities["st-a"].Probes).To(Equal(int64(1101)))
			Expect(snap.Entities["st-a"].AvgLatency).To(Equal(999 * time.Millisecond))
		})
	})

	Describe("UpdateState", func() {
		It("should report servers without probes", func() {
			m.UpdateState("st-a", models.StateUp)

			snap := m.Snapshot()
			Expect(snap.Entities["st-a"].State).To(Equal("UP"))
			Expect(snap.Entities["st-a"].Probes).To(BeZero())
		})
	})

	Describe("Snapshot", func() {
		It("should handle empty metrics", func() {
			snap := m.Snapshot()
			Expect(snap.Entities).To(BeEmpty())
			Expect(snap.Notifications).To(BeEmpty())
			Expect(snap.Uptime).To(BeNumerically(">=", 0))
		})

		It("should return independent snapshot", func() {
			m.RecordNotification("mail", true)
			snap1 := m.Snapshot()

			m.RecordNotification("mail", false)
			snap2 := m.Snapshot()

			Expect(snap1.Notifications["mail"]).To(Equal(metrics.ChannelMetrics{Sent: 1}))
			Expect(snap2.Notifications["mail"]).To(Equal(metrics.ChannelMetrics{Sent: 1, Failed: 1}))
		})
	})
})
