package harness

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamhaus/floodline/internal/harness/logging"
)

var latencyBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// Metrics exposes run statistics as Prometheus collectors. Attach it
// to a Stats so every increment is mirrored.
type Metrics struct {
	mu sync.Mutex

	sent           prometheus.Counter
	sentBytes      prometheus.Counter
	received       prometheus.Counter
	receivedBytes  prometheus.Counter
	sendErrors     prometheus.Counter
	readErrors     prometheus.Counter
	throttled      prometheus.Counter
	duplicates     prometheus.Counter
	engineFailures prometheus.Counter
	sendLatency    prometheus.Histogram
	readLatency    prometheus.Histogram

	registerer prometheus.Registerer
	registered bool
}

// newRunCounter creates a counter with the standard floodline/run namespace.
func newRunCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "floodline",
		Subsystem: "run",
		Name:      name,
		Help:      help,
	})
}

// newRunHistogram creates a histogram with the standard floodline/run namespace.
func newRunHistogram(name, help string, buckets []float64) prometheus.Histogram {
	return prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "floodline",
		Subsystem: "run",
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	})
}

// NewMetrics creates the run metrics collectors. Pass nil to use the
// default registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		registerer:     registerer,
		sent:           newRunCounter("messages_sent_total", "Total number of send submissions, retries included"),
		sentBytes:      newRunCounter("bytes_sent_total", "Total payload bytes submitted"),
		received:       newRunCounter("messages_received_total", "Total number of deliveries received, duplicates included"),
		receivedBytes:  newRunCounter("bytes_received_total", "Total payload bytes received"),
		sendErrors:     newRunCounter("send_errors_total", "Total number of unsuccessful send attempts"),
		readErrors:     newRunCounter("read_errors_total", "Total number of failures on the consumer read path"),
		throttled:      newRunCounter("throttled_sends_total", "Total number of sends rejected by throttling"),
		duplicates:     newRunCounter("duplicate_deliveries_total", "Total number of redelivered messages detected"),
		engineFailures: newRunCounter("engine_failures_total", "Total number of engines that exited on a fatal error"),
		sendLatency:    newRunHistogram("send_latency_seconds", "Time from submission to broker acknowledgement", latencyBuckets),
		readLatency:    newRunHistogram("read_latency_seconds", "Time from read issuance to delivery", latencyBuckets),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.sent,
		m.sentBytes,
		m.received,
		m.receivedBytes,
		m.sendErrors,
		m.readErrors,
		m.throttled,
		m.duplicates,
		m.engineFailures,
		m.sendLatency,
		m.readLatency,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// StartMetricsServer exposes the default Prometheus registry on addr
// and shuts the listener down when ctx is cancelled. It returns the
// bound address once the listener is up, so a bad address fails fast.
func StartMetricsServer(ctx context.Context, addr string, log logging.Logger) (string, error) {
	if log == nil {
		log = logging.Nop()
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Failed to shut down metrics server", err, logging.LogFields{"address": addr})
		}
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed", err, logging.LogFields{"address": addr})
		}
	}()

	log.Info("Serving metrics", logging.LogFields{"address": ln.Addr().String(), "path": "/metrics"})
	return ln.Addr().String(), nil
}
