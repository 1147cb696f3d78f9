package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/streamhaus/floodline/internal/harness/config"
	flerrors "github.com/streamhaus/floodline/internal/harness/errors"
	"github.com/streamhaus/floodline/internal/harness/logging"
	"github.com/streamhaus/floodline/transport"
)

// Supervisor drives one run end to end: it builds the transport,
// provisions the destination when asked, starts consumers before
// producers, reports progress every poll interval, waits for consumers
// to catch up once the producers finish, and tears everything down in
// reverse order.
type Supervisor struct {
	cfg       config.Config
	log       logging.Logger
	stats     *Stats
	run       *RunContext
	resources *resourceTracker
}

func NewSupervisor(cfg config.Config, log logging.Logger) (*Supervisor, error) {
	if log == nil {
		return nil, flerrors.ErrLoggerRequired
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	stats := NewStats()
	run := NewRunContext(stats)
	return &Supervisor{
		cfg:       cfg,
		log:       log.With(logging.LogFields{"run_id": run.RunID()}),
		stats:     stats,
		run:       run,
		resources: newResourceTracker(),
	}, nil
}

// RunContext exposes the run state, mostly for tests and embedders.
func (s *Supervisor) RunContext() *RunContext { return s.run }

// Run executes the configured run and returns its report. Engine
// failures do not fail Run; they are carried in the report. Run itself
// fails only when the run cannot be assembled at all.
func (s *Supervisor) Run(ctx context.Context) (*Report, error) {
	expected := s.cfg.Producers * s.cfg.MessagesPerProducer

	tracer := otel.Tracer("floodline-supervisor")
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", s.run.RunID()),
		attribute.String("run.transport", s.cfg.PubSubSystem),
		attribute.String("run.destination", s.cfg.Destination),
		attribute.Int("run.producers", s.cfg.Producers),
		attribute.Int("run.consumers", s.cfg.Consumers),
		attribute.Int("run.expected", expected),
	)

	if s.cfg.MetricsEnabled {
		metrics := NewMetrics(nil)
		if err := metrics.Register(); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		s.stats.AttachMetrics(metrics)

		metricsCtx, cancelMetrics := context.WithCancel(ctx)
		defer cancelMetrics()
		addr := fmt.Sprintf(":%d", s.cfg.MetricsPort)
		if _, err := StartMetricsServer(metricsCtx, addr, s.log); err != nil {
			return nil, fmt.Errorf("start metrics server: %w", err)
		}
	}

	s.log.Info("Building transport", logging.LogFields{
		"pubsub_system": s.cfg.PubSubSystem,
		"destination":   s.cfg.Destination,
	})
	tp, err := transport.Build(ctx, &s.cfg, logging.ToWatermill(s.log))
	if err != nil {
		return nil, fmt.Errorf("build transport %q: %w", s.cfg.PubSubSystem, err)
	}

	provisioned := false
	if s.cfg.Provision {
		if prov, ok := transport.ProvisionerOf(tp); ok {
			if err := prov.Provision(ctx, s.cfg.Destination, s.cfg.ConsumerGroup); err != nil {
				return nil, fmt.Errorf("provision %q: %w", s.cfg.Destination, err)
			}
			provisioned = true
			s.log.Info("Provisioned destination", logging.LogFields{
				"destination": s.cfg.Destination,
				"group":       s.cfg.ConsumerGroup,
			})
		} else {
			s.log.Debug("Transport does not support provisioning", logging.LogFields{
				"pubsub_system": s.cfg.PubSubSystem,
			})
		}
	}

	broker, err := NewWatermillBroker(tp, s.cfg.Destination, BrokerOptions{
		PublishRate:    s.cfg.PublishRate,
		PublishBurst:   s.cfg.PublishBurst,
		BreakerEnabled: s.cfg.BreakerEnabled,
	}, s.log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := broker.Close(); cerr != nil {
			s.log.Error("Failed to close broker", cerr, nil)
		}
	}()

	introspector, _ := transport.IntrospectorOf(tp)

	started := time.Now()
	s.resources.Snapshot()

	// Consumers come up first so nothing a producer sends sits
	// unobserved on transports that drop messages without a reader.
	consumers, err := s.startConsumers(ctx, broker)
	if err != nil {
		return nil, err
	}
	producers, err := s.startProducers(ctx, broker)
	if err != nil {
		s.stopEngines(consumerDaemons(consumers))
		return nil, err
	}

	interrupted := s.superviseProducers(ctx, producers, introspector)

	var engineErrors []string
	if interrupted {
		s.log.Info("Run interrupted, stopping producers", nil)
		engineErrors = append(engineErrors, s.stopEngines(producerDaemons(producers))...)
	} else {
		engineErrors = append(engineErrors, collectErrors(producerDaemons(producers))...)
	}

	// Give the consumers time to catch up with what was actually
	// published before shutting them down.
	caughtUp := false
	if !interrupted && len(engineErrors) == 0 {
		caughtUp = s.waitForCatchUp(ctx, expected, introspector)
	}

	engineErrors = append(engineErrors, s.stopEngines(consumerDaemons(consumers))...)

	if provisioned {
		if prov, ok := transport.ProvisionerOf(tp); ok {
			if err := prov.Deprovision(ctx, s.cfg.Destination, s.cfg.ConsumerGroup); err != nil {
				s.log.Error("Failed to deprovision destination", err, logging.LogFields{
					"destination": s.cfg.Destination,
				})
			}
		}
	}

	snap := s.stats.Snapshot()
	elapsed := time.Since(started)
	report := &Report{
		RunID:          s.run.RunID(),
		Transport:      s.cfg.PubSubSystem,
		Destination:    s.cfg.Destination,
		ConsumerGroup:  s.cfg.ConsumerGroup,
		Producers:      s.cfg.Producers,
		Consumers:      s.cfg.Consumers,
		Expected:       expected,
		Distinct:       s.run.Duplicates().Size(),
		StartedAt:      started,
		ElapsedSeconds: elapsed.Seconds(),
		Stats:          snap,
		Resources:      s.resources.Snapshot(),
		Complete:       caughtUp && len(engineErrors) == 0,
		Interrupted:    interrupted,
		EngineErrors:   engineErrors,
	}
	if sec := elapsed.Seconds(); sec > 0 {
		report.SendRate = float64(snap.Sent) / sec
		report.ReceiveRate = float64(snap.Received) / sec
	}

	span.SetAttributes(
		attribute.Int64("run.sent", snap.Sent),
		attribute.Int64("run.received", snap.Received),
		attribute.Int64("run.duplicates", snap.Duplicates),
		attribute.Bool("run.complete", report.Complete),
	)
	if len(engineErrors) > 0 {
		span.RecordError(errors.New(strings.Join(engineErrors, "; ")))
	}

	s.log.Info("Run finished", logging.LogFields{
		"sent":     snap.Sent,
		"received": snap.Received,
		"distinct": report.Distinct,
		"complete": report.Complete,
	})
	return report, nil
}

func (s *Supervisor) startConsumers(ctx context.Context, broker Broker) ([]*Consumer, error) {
	consumers := make([]*Consumer, 0, s.cfg.Consumers)
	for i := 0; i < s.cfg.Consumers; i++ {
		c, err := NewConsumer(ConsumerConfig{
			Name:        fmt.Sprintf("consumer-%d", i+1),
			ReadTimeout: s.cfg.ReadTimeout,
			StopTimeout: s.cfg.StopTimeout,
		}, broker, s.run, s.log)
		if err == nil {
			err = c.Start(ctx)
		}
		if err != nil {
			s.stopEngines(consumerDaemons(consumers))
			return nil, fmt.Errorf("start consumer %d: %w", i+1, err)
		}
		consumers = append(consumers, c)
	}
	return consumers, nil
}

func (s *Supervisor) startProducers(ctx context.Context, broker Broker) ([]*Producer, error) {
	producers := make([]*Producer, 0, s.cfg.Producers)
	for i := 0; i < s.cfg.Producers; i++ {
		p, err := NewProducer(ProducerConfig{
			Name:          fmt.Sprintf("producer-%d", i+1),
			TotalToSend:   s.cfg.MessagesPerProducer,
			PayloadSize:   s.cfg.PayloadSize,
			MaxInflight:   s.cfg.MaxInflight,
			MaxAttempts:   s.cfg.MaxAttempts,
			RetryDelay:    s.cfg.RetryDelay,
			AwaitInterval: s.cfg.AwaitInterval,
			StopPolicy:    StopPolicy(s.cfg.StopPolicy),
			StopTimeout:   s.cfg.StopTimeout,
		}, broker, s.run, s.log)
		if err == nil {
			err = p.Start(ctx)
		}
		if err != nil {
			s.stopEngines(producerDaemons(producers))
			return nil, fmt.Errorf("start producer %d: %w", i+1, err)
		}
		producers = append(producers, p)
	}
	return producers, nil
}

// superviseProducers reports progress until every producer is done or
// the context ends. It returns true when the run was interrupted.
func (s *Supervisor) superviseProducers(ctx context.Context, producers []*Producer, introspector transport.QueueIntrospector) bool {
	done := waitAll(producerDaemons(producers))
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return false
		case <-ctx.Done():
			return true
		case <-ticker.C:
			s.logProgress(ctx, introspector)
		}
	}
}

// waitForCatchUp blocks until every expected distinct message has been
// seen, the drain timeout fires, or the context ends. A zero drain
// timeout waits indefinitely.
func (s *Supervisor) waitForCatchUp(ctx context.Context, expected int, introspector transport.QueueIntrospector) bool {
	if expected <= 0 {
		return true
	}

	var timeout <-chan time.Time
	if s.cfg.DrainTimeout > 0 {
		timer := time.NewTimer(s.cfg.DrainTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if s.run.Duplicates().Size() >= expected {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-timeout:
			fields := logging.LogFields{
				"distinct": s.run.Duplicates().Size(),
				"expected": expected,
			}
			if introspector != nil {
				if pending, err := introspector.PendingCount(ctx, s.cfg.Destination, s.cfg.ConsumerGroup); err == nil {
					fields["backlog"] = pending
				}
			}
			s.log.Info("Gave up waiting for remaining messages", fields)
			return false
		case <-ticker.C:
			s.logProgress(ctx, introspector)
		}
	}
}

func (s *Supervisor) logProgress(ctx context.Context, introspector transport.QueueIntrospector) {
	fields := logging.LogFields{
		"sent":        s.stats.Sent(),
		"received":    s.stats.Received(),
		"distinct":    s.run.Duplicates().Size(),
		"duplicates":  s.stats.Duplicates(),
		"throttled":   s.stats.Throttled(),
		"send_errors": s.stats.SendErrors(),
	}
	if introspector != nil {
		if pending, err := introspector.PendingCount(ctx, s.cfg.Destination, s.cfg.ConsumerGroup); err == nil {
			fields["backlog"] = pending
		}
	}
	s.log.Info("Run progress", fields)
}

// stopEngines stops each daemon and returns the collected failures,
// stop timeouts included.
func (s *Supervisor) stopEngines(daemons []namedDaemon) []string {
	var failures []string
	for _, d := range daemons {
		if err := d.Stop(); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", d.name, err))
		}
	}
	return failures
}

func collectErrors(daemons []namedDaemon) []string {
	var failures []string
	for _, d := range daemons {
		if err := d.Err(); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", d.name, err))
		}
	}
	return failures
}

// namedDaemon pairs an engine with its log name so stop and error
// reporting reads well.
type namedDaemon struct {
	Daemon
	name string
}

func producerDaemons(producers []*Producer) []namedDaemon {
	out := make([]namedDaemon, 0, len(producers))
	for _, p := range producers {
		out = append(out, namedDaemon{Daemon: p, name: p.cfg.Name})
	}
	return out
}

func consumerDaemons(consumers []*Consumer) []namedDaemon {
	out := make([]namedDaemon, 0, len(consumers))
	for _, c := range consumers {
		out = append(out, namedDaemon{Daemon: c, name: c.cfg.Name})
	}
	return out
}

// waitAll closes the returned channel once every daemon is done.
func waitAll(daemons []namedDaemon) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		for _, d := range daemons {
			<-d.Done()
		}
		close(done)
	}()
	return done
}
