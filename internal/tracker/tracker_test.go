package tracker_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/fleet-watcher/internal/history"
	"github.com/angeloszaimis/fleet-watcher/internal/models"
	"github.com/angeloszaimis/fleet-watcher/internal/tracker"
	"github.com/angeloszaimis/fleet-watcher/pkg/logger"
)

type staticFleet struct {
	hosts   []models.Host
	servers []models.Server
}

func (f staticFleet) Hosts() []models.Host     { return f.hosts }
func (f staticFleet) Servers() []models.Server { return f.servers }

type recordingDispatcher struct {
	mu     sync.Mutex
	events []models.NotificationEvent
}

func (r *recordingDispatcher) Dispatch(_ context.Context, ev models.NotificationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingDispatcher) sent() []models.NotificationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.NotificationEvent(nil), r.events...)
}

type failingStore struct{ history.Store }

func (failingStore) Append(context.Context, models.Record) error {
	return history.ErrStoreWrite
}

type stateRecorder struct {
	mu     sync.Mutex
	states []models.State
}

func (s *stateRecorder) RecordStateChange(_ string, st models.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, st)
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) time.Time { return t0.Add(d) }

func sample(server string, when time.Time, up bool) models.StatusSample {
	s := models.StatusSample{ServerID: server, When: when, HTTPStatusCode: 200}
	if !up {
		s.HTTPStatusCode = 503
		s.IsBusted = true
		s.BustedReason = "HTTP 503"
	}
	return s
}

var _ = Describe("Tracker", func() {
	var (
		fleet      staticFleet
		store      *history.Memory
		dispatcher *recordingDispatcher
		recorder   *stateRecorder
		rechecks   atomic.Int32
		tr         *tracker.Tracker
		ctx        context.Context
	)

	BeforeEach(func() {
		fleet = staticFleet{
			hosts: []models.Host{
				{ID: "host-a", ServerIDs: []string{"x", "y"}},
				{ID: "host-b", Stealth: true, ServerIDs: []string{"z"}},
			},
			servers: []models.Server{
				{ID: "x", HostID: "host-a"},
				{ID: "y", HostID: "host-a"},
				{ID: "z", HostID: "host-b"},
			},
		}
		store = history.NewMemory()
		dispatcher = &recordingDispatcher{}
		recorder = &stateRecorder{}
		rechecks.Store(0)
		ctx = context.Background()

		tr = tracker.New(fleet, store, dispatcher, logger.Discard(),
			tracker.WithRecorder(recorder),
			tracker.WithRecheck(func() { rechecks.Add(1) }),
			tracker.WithClock(func() time.Time { return t0 }))
	})

	stored := func(id string) int {
		recs, err := store.Query(ctx, id, history.QueryOptions{})
		Expect(err).NotTo(HaveOccurred())
		return len(recs)
	}

	It("records a baseline without notifying (scenario A)", func() {
		tr.RecordStatus(ctx, sample("x", at(0), true))

		Expect(tr.State("x").State()).To(Equal(models.StateUp))
		Expect(dispatcher.sent()).To(BeEmpty())
		Expect(stored("x")).To(Equal(1))
	})

	It("confirms a down server at the recheck with the original time (scenario B)", func() {
		tr.RecordStatus(ctx, sample("x", at(0), true))
		tr.RecordStatus(ctx, sample("x", at(time.Hour), false))

		Expect(tr.State("x").State()).To(Equal(models.StateProbation))
		Expect(dispatcher.sent()).To(BeEmpty())
		Expect(rechecks.Load()).To(Equal(int32(1)))

		tr.RecordStatus(ctx, sample("x", at(time.Hour+500*time.Second), false))

		events := dispatcher.sent()
		Expect(events).To(HaveLen(1))
		Expect(events[0].Kind).To(Equal(models.EventDown))
		Expect(events[0].ServerID).To(Equal("x"))
		Expect(events[0].Since).To(Equal(at(time.Hour)))
		Expect(events[0].Details).To(Equal("HTTP 503"))

		st := tr.State("x")
		Expect(st.State()).To(Equal(models.StateDown))
		Expect(st.WasNotifiedDown).To(BeTrue())
		Expect(st.When).To(Equal(at(time.Hour + 500*time.Second)))
	})

	It("announces recovery after a confirmed down (scenario C)", func() {
		tr.RecordStatus(ctx, sample("x", at(0), true))
		tr.RecordStatus(ctx, sample("x", at(time.Hour), false))
		tr.RecordStatus(ctx, sample("x", at(time.Hour+500*time.Second), false))
		tr.RecordStatus(ctx, sample("x", at(2*time.Hour+500*time.Second), false))
		Expect(dispatcher.sent()).To(HaveLen(1))

		tr.RecordStatus(ctx, sample("x", at(3*time.Hour+500*time.Second), true))

		events := dispatcher.sent()
		Expect(events).To(HaveLen(2))
		Expect(events[1].Kind).To(Equal(models.EventUp))
		Expect(events[1].Since).To(Equal(at(time.Hour)))

		st := tr.State("x")
		Expect(st.State()).To(Equal(models.StateUp))
		Expect(st.WasNotifiedDown).To(BeFalse())
		Expect(stored("x")).To(Equal(5))
	})

	It("absorbs a transient blip (scenario D)", func() {
		tr.RecordStatus(ctx, sample("y", at(0), true))
		tr.RecordStatus(ctx, sample("y", at(time.Hour), false))
		tr.RecordStatus(ctx, sample("y", at(time.Hour+500*time.Second), true))

		Expect(dispatcher.sent()).To(BeEmpty())
		Expect(tr.State("y").State()).To(Equal(models.StateUp))
		Expect(recorder.states).To(Equal([]models.State{models.StateUp, models.StateProbation, models.StateUp}))
	})

	It("never notifies for a server that was down from the start", func() {
		tr.RecordStatus(ctx, sample("x", at(0), false))
		tr.RecordStatus(ctx, sample("x", at(time.Hour), false))
		Expect(tr.State("x").State()).To(Equal(models.StateDown))
		Expect(rechecks.Load()).To(BeZero())

		tr.RecordStatus(ctx, sample("x", at(2*time.Hour), true))
		Expect(dispatcher.sent()).To(BeEmpty())
		Expect(tr.State("x").State()).To(Equal(models.StateUp))
	})

	It("stores stale samples without applying them", func() {
		tr.RecordStatus(ctx, sample("x", at(time.Hour), true))
		tr.RecordStatus(ctx, sample("x", at(0), false))

		Expect(tr.State("x").State()).To(Equal(models.StateUp))
		Expect(tr.State("x").When).To(Equal(at(time.Hour)))
		Expect(rechecks.Load()).To(BeZero())
		Expect(stored("x")).To(Equal(2))
		Expect(tr.Snapshot().Servers["x"].LatestStatus.When).To(Equal(at(time.Hour)))
	})

	It("still notifies when storage fails", func() {
		tr = tracker.New(fleet, failingStore{}, dispatcher, logger.Discard())
		tr.RecordStatus(ctx, sample("x", at(0), true))
		tr.RecordStatus(ctx, sample("x", at(time.Hour), false))
		tr.RecordStatus(ctx, sample("x", at(2*time.Hour), false))

		Expect(dispatcher.sent()).To(HaveLen(1))
	})

	It("returns nil state for servers without samples", func() {
		Expect(tr.State("z")).To(BeNil())
		Expect(tr.State("z").State()).To(Equal(models.StateUnknown))
	})

	It("serializes concurrent samples for one server", func() {
		tr.RecordStatus(ctx, sample("x", at(0), true))

		var wg sync.WaitGroup
		for i := 1; i <= 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				tr.RecordStatus(ctx, sample("x", at(time.Duration(i)*time.Second), true))
			}(i)
		}
		wg.Wait()

		Expect(tr.State("x").State()).To(Equal(models.StateUp))
		Expect(dispatcher.sent()).To(BeEmpty())
		Expect(stored("x")).To(Equal(51))
	})

	Describe("Boot", func() {
		It("sends the boot event once", func() {
			tr.Boot(ctx, "watch-1")
			tr.Boot(ctx, "watch-1")

			events := dispatcher.sent()
			Expect(events).To(HaveLen(1))
			Expect(events[0].Kind).To(Equal(models.EventBoot))
			Expect(events[0].Message).To(Equal("Watcher started@watch-1"))
			Expect(events[0].ServerID).To(BeEmpty())
			Expect(events[0].Since).To(Equal(t0))
		})
	})

	Describe("RecordPing", func() {
		It("updates the alive indicator without notifying", func() {
			tr.RecordPing(ctx, models.PingSample{HostID: "host-a", When: at(0), Alive: false})
			tr.RecordPing(ctx, models.PingSample{HostID: "host-a", When: at(time.Hour), Alive: true})

			snap := tr.Snapshot()
			Expect(snap.Hosts["host-a"].LatestPing.Alive).To(BeTrue())
			Expect(dispatcher.sent()).To(BeEmpty())
			Expect(stored("host-a")).To(Equal(2))
		})
	})

	Describe("Snapshot", func() {
		It("lists every host and server", func() {
			tr.RecordStatus(ctx, sample("x", at(0), true))

			snap := tr.Snapshot()
			Expect(snap.Hosts).To(HaveLen(2))
			Expect(snap.Hosts["host-b"].Stealth).To(BeTrue())
			Expect(snap.Hosts["host-b"].LatestPing).To(BeNil())
			Expect(snap.Servers).To(HaveLen(3))
			Expect(snap.Servers["x"].State).To(Equal(models.StateUp))
			Expect(snap.Servers["x"].LastKnownStatus.Up).To(BeTrue())
			Expect(snap.Servers["z"].HostID).To(Equal("host-b"))
			Expect(snap.Servers["z"].LatestStatus).To(BeNil())
			Expect(snap.Servers["z"].State).To(Equal(models.StateUnknown))
		})
	})

	Describe("StatusReport", func() {
		It("summarizes every server", func() {
			tr.RecordStatus(ctx, sample("x", at(0), true))
			tr.RecordStatus(ctx, sample("y", at(0), true))
			tr.RecordStatus(ctx, sample("y", at(time.Hour), false))

			Expect(tr.StatusReport()).To(Equal(
				"x: UP as of 2024-05-01T12:00:00Z\n" +
					"y: PROBATION as of 2024-05-01T13:00:00Z\n" +
					" 503:busted=HTTP 503\n" +
					"z: status not known (ask me later)\n"))
		})
	})
})
