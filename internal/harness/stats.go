package harness

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const latencySampleSize = 256

// Stats is the counter block every engine in a run reconciles into.
// Counters are atomic; the latency windows keep the most recent
// samples for percentile summaries. When a Metrics mirror is attached,
// every increment is also reflected there.
type Stats struct {
	sent           atomic.Int64
	sentBytes      atomic.Int64
	received       atomic.Int64
	receivedBytes  atomic.Int64
	sendErrors     atomic.Int64
	readErrors     atomic.Int64
	throttled      atomic.Int64
	duplicates     atomic.Int64
	engineFailures atomic.Int64

	mu          sync.Mutex
	sendLatency *latencyWindow
	readLatency *latencyWindow

	metrics atomic.Pointer[Metrics]
}

func NewStats() *Stats {
	return &Stats{
		sendLatency: newLatencyWindow(latencySampleSize),
		readLatency: newLatencyWindow(latencySampleSize),
	}
}

// AttachMetrics mirrors all future increments into m. Attach before
// the engines start; existing counts are not replayed.
func (s *Stats) AttachMetrics(m *Metrics) {
	s.metrics.Store(m)
}

// AddSent records one submission of size bytes. Resubmissions count
// again, so the total reflects broker traffic rather than distinct
// messages.
func (s *Stats) AddSent(bytes int) {
	s.sent.Add(1)
	s.sentBytes.Add(int64(bytes))
	if m := s.metrics.Load(); m != nil {
		m.sent.Inc()
		m.sentBytes.Add(float64(bytes))
	}
}

// AddReceived records one delivery of size bytes, duplicates included.
func (s *Stats) AddReceived(bytes int) {
	s.received.Add(1)
	s.receivedBytes.Add(int64(bytes))
	if m := s.metrics.Load(); m != nil {
		m.received.Inc()
		m.receivedBytes.Add(float64(bytes))
	}
}

func (s *Stats) AddSendError() {
	s.sendErrors.Add(1)
	if m := s.metrics.Load(); m != nil {
		m.sendErrors.Inc()
	}
}

// AddReadError records one failure on the consumer's read path: a
// failed await, a malformed envelope or a rejected acknowledgement.
func (s *Stats) AddReadError() {
	s.readErrors.Add(1)
	if m := s.metrics.Load(); m != nil {
		m.readErrors.Inc()
	}
}

func (s *Stats) AddThrottle() {
	s.throttled.Add(1)
	if m := s.metrics.Load(); m != nil {
		m.throttled.Inc()
	}
}

func (s *Stats) AddDuplicate() {
	s.duplicates.Add(1)
	if m := s.metrics.Load(); m != nil {
		m.duplicates.Inc()
	}
}

// AddEngineFailure records one engine exiting its loop on a fatal
// error.
func (s *Stats) AddEngineFailure() {
	s.engineFailures.Add(1)
	if m := s.metrics.Load(); m != nil {
		m.engineFailures.Inc()
	}
}

func (s *Stats) RecordSendLatency(d time.Duration) {
	s.mu.Lock()
	s.sendLatency.Add(d)
	s.mu.Unlock()
	if m := s.metrics.Load(); m != nil {
		m.sendLatency.Observe(d.Seconds())
	}
}

func (s *Stats) RecordReadLatency(d time.Duration) {
	s.mu.Lock()
	s.readLatency.Add(d)
	s.mu.Unlock()
	if m := s.metrics.Load(); m != nil {
		m.readLatency.Observe(d.Seconds())
	}
}

func (s *Stats) Sent() int64           { return s.sent.Load() }
func (s *Stats) Received() int64       { return s.received.Load() }
func (s *Stats) SendErrors() int64     { return s.sendErrors.Load() }
func (s *Stats) ReadErrors() int64     { return s.readErrors.Load() }
func (s *Stats) Throttled() int64      { return s.throttled.Load() }
func (s *Stats) Duplicates() int64     { return s.duplicates.Load() }
func (s *Stats) EngineFailures() int64 { return s.engineFailures.Load() }

// Snapshot returns a consistent copy of all counters and latency
// summaries, safe to marshal.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	sendLat := s.sendLatency.Snapshot()
	readLat := s.readLatency.Snapshot()
	s.mu.Unlock()
	return Snapshot{
		Sent:           s.sent.Load(),
		SentBytes:      s.sentBytes.Load(),
		Received:       s.received.Load(),
		ReceivedBytes:  s.receivedBytes.Load(),
		SendErrors:     s.sendErrors.Load(),
		ReadErrors:     s.readErrors.Load(),
		Throttled:      s.throttled.Load(),
		Duplicates:     s.duplicates.Load(),
		EngineFailures: s.engineFailures.Load(),
		SendLatency:    sendLat,
		ReadLatency:    readLat,
	}
}

// Snapshot is a point-in-time copy of run statistics.
type Snapshot struct {
	Sent           int64          `json:"sent"`
	SentBytes      int64          `json:"sent_bytes"`
	Received       int64          `json:"received"`
	ReceivedBytes  int64          `json:"received_bytes"`
	SendErrors     int64          `json:"send_errors"`
	ReadErrors     int64          `json:"read_errors"`
	Throttled      int64          `json:"throttled"`
	Duplicates     int64          `json:"duplicates"`
	EngineFailures int64          `json:"engine_failures"`
	SendLatency    LatencySummary `json:"send_latency"`
	ReadLatency    LatencySummary `json:"read_latency"`
}

// LatencySummary describes the recent latency distribution of one
// operation, in nanoseconds.
type LatencySummary struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

// latencyWindow is a fixed-size ring of the most recent samples. It is
// not safe for concurrent use; Stats guards it with its mutex.
type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	if lw == nil || len(lw.samples) == 0 {
		return
	}
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencySummary {
	var summary LatencySummary
	if lw == nil || lw.filled == 0 {
		return summary
	}
	samples := make([]int64, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	summary.SampleSize = lw.filled
	summary.P50Ns = percentile(samples, 0.50)
	summary.P95Ns = percentile(samples, 0.95)
	summary.P99Ns = percentile(samples, 0.99)
	var sum int64
	for _, v := range samples {
		sum += v
	}
	summary.AverageNs = sum / int64(len(samples))
	summary.LastNs = lw.last
	return summary
}

func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}
