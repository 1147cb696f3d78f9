package harness

import (
	"fmt"
	"strings"
	"time"
)

// Report is the end-of-run summary the supervisor hands back: traffic
// totals, latency summaries, resource usage and whether every expected
// message made it through.
type Report struct {
	RunID          string        `json:"run_id"`
	Transport      string        `json:"transport"`
	Destination    string        `json:"destination"`
	ConsumerGroup  string        `json:"consumer_group"`
	Producers      int           `json:"producers"`
	Consumers      int           `json:"consumers"`
	Expected       int           `json:"expected"`
	Distinct       int           `json:"distinct_received"`
	StartedAt      time.Time     `json:"started_at"`
	ElapsedSeconds float64       `json:"elapsed_seconds"`
	SendRate       float64       `json:"send_rate_per_sec"`
	ReceiveRate    float64       `json:"receive_rate_per_sec"`
	Stats          Snapshot      `json:"stats"`
	Resources      ResourceUsage `json:"resources"`
	Complete       bool          `json:"complete"`
	Interrupted    bool          `json:"interrupted"`
	EngineErrors   []string      `json:"engine_errors,omitempty"`
}

// String renders the report for terminal output.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s transport=%s destination=%s group=%s\n",
		r.RunID, r.Transport, r.Destination, r.ConsumerGroup)
	fmt.Fprintf(&b, "  sent=%d received=%d distinct=%d/%d duplicates=%d throttled=%d send_errors=%d read_errors=%d\n",
		r.Stats.Sent, r.Stats.Received, r.Distinct, r.Expected,
		r.Stats.Duplicates, r.Stats.Throttled, r.Stats.SendErrors, r.Stats.ReadErrors)
	fmt.Fprintf(&b, "  rates send=%.1f/s receive=%.1f/s elapsed=%.2fs\n",
		r.SendRate, r.ReceiveRate, r.ElapsedSeconds)
	fmt.Fprintf(&b, "  send latency avg=%s p50=%s p95=%s p99=%s\n",
		formatNs(r.Stats.SendLatency.AverageNs), formatNs(r.Stats.SendLatency.P50Ns),
		formatNs(r.Stats.SendLatency.P95Ns), formatNs(r.Stats.SendLatency.P99Ns))
	fmt.Fprintf(&b, "  read latency avg=%s p50=%s p95=%s p99=%s\n",
		formatNs(r.Stats.ReadLatency.AverageNs), formatNs(r.Stats.ReadLatency.P50Ns),
		formatNs(r.Stats.ReadLatency.P95Ns), formatNs(r.Stats.ReadLatency.P99Ns))
	fmt.Fprintf(&b, "  resources cpu=%.1f%% mem=%d goroutines=%d\n",
		r.Resources.CPUPercent, r.Resources.MemoryBytes, r.Resources.Goroutines)
	fmt.Fprintf(&b, "  complete=%v interrupted=%v", r.Complete, r.Interrupted)
	for _, e := range r.EngineErrors {
		fmt.Fprintf(&b, "\n  engine error: %s", e)
	}
	return b.String()
}

func formatNs(ns int64) string {
	return time.Duration(ns).String()
}
