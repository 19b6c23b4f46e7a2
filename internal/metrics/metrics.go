package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/angeloszaimis/fleet-watcher/internal/models"
)

const latencyWindow = 1000

type Metrics struct {
	mutex      sync.RWMutex
	kinds      map[string]models.SampleKind
	probes     map[string]int64
	failures   map[string]int64
	latencies  map[string][]time.Duration
	states     map[string]models.State
	sent       map[string]int64
	failed     map[string]int64
	pollCycles int64
	rechecks   int64
	startTime  time.Time
}

type Snapshot struct {
	Uptime        time.Duration             `json:"uptime"`
	PollCycles    int64                     `json:"poll_cycles"`
	Rechecks      int64                     `json:"rechecks"`
	Entities      map[string]EntityMetrics  `json:"entities"`
	Notifications map[string]ChannelMetrics `json:"notifications"`
}

type EntityMetrics struct {
	Kind       models.SampleKind `json:"kind,omitempty"`
	Probes     int64             `json:"probes"`
	Failures   int64             `json:"failures"`
	AvgLatency time.Duration     `json:"avg_latency"`
	P50Latency time.Duration     `json:"p50_latency"`
	P95Latency time.Duration     `json:"p95_latency"`
	State      string            `json:"state,omitempty"`
}

type ChannelMetrics struct {
	Sent   int64 `json:"sent"`
	Failed int64 `json:"failed"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		kinds:     make(map[string]models.SampleKind),
		probes:    make(map[string]int64),
		failures:  make(map[string]int64),
		latencies: make(map[string][]time.Duration),
		states:    make(map[string]models.State),
		sent:      make(map[string]int64),
		failed:    make(map[string]int64),
		startTime: time.Now(),
	}
}

func (m *Metrics) RecordProbe(entity string, kind models.SampleKind, ok bool, latency time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.kinds[entity] = kind
	m.probes[entity]++
	if !ok {
		m.failures[entity]++
	}

	m.latencies[entity] = append(m.latencies[entity], latency)
	if len(m.latencies[entity]) > latencyWindow {
		m.latencies[entity] = m.latencies[entity][1:]
	}
}

func (m *Metrics) UpdateState(server string, state models.State) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.states[server] = state
}

func (m *Metrics) RecordNotification(channel string, ok bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if ok {
		m.sent[channel]++
	} else {
		m.failed[channel]++
	}
}

func (m *Metrics) RecordPollCycle(recheck bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.pollCycles++
	if recheck {
		m.rechecks++
	}
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:        time.Since(m.startTime),
		PollCycles:    m.pollCycles,
		Rechecks:      m.rechecks,
		Entities:      make(map[string]EntityMetrics),
		Notifications: make(map[string]ChannelMetrics),
	}

	entities := make(map[string]bool)
	for e := range m.probes {
		entities[e] = true
	}
	for e := range m.states {
		entities[e] = true
	}

	for e := range entities {
		em := EntityMetrics{
			Kind:     m.kinds[e],
			Probes:   m.probes[e],
			Failures: m.failures[e],
		}
		if st, ok := m.states[e]; ok {
			em.State = st.String()
		}

		if durations := m.latencies[e]; len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			em.AvgLatency = average(sorted)
			em.P50Latency = percentile(sorted, 0.50)
			em.P95Latency = percentile(sorted, 0.95)
		}

		snap.Entities[e] = em
	}

	for ch, n := range m.sent {
		cm := snap.Notifications[ch]
		cm.Sent = n
		snap.Notifications[ch] = cm
	}
	for ch, n := range m.failed {
		cm := snap.Notifications[ch]
		cm.Failed = n
		snap.Notifications[ch] = cm
	}

	return snap
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
