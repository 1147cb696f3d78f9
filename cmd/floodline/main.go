// Command floodline runs one load generation run against a message broker and
// prints the resulting report.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/streamhaus/floodline"
	_ "github.com/streamhaus/floodline/transport/transports"
)

func main() {
	var (
		configPath   = flag.String("config", "", "path to a YAML config file")
		transportArg = flag.String("transport", "", "transport to drive (channel, kafka, rabbitmq, nats, nats-jetstream, aws, http, io)")
		destination  = flag.String("destination", "", "destination topic or queue path")
		group        = flag.String("group", "", "consumer group name")
		producers    = flag.Int("producers", 0, "number of producers")
		consumers    = flag.Int("consumers", 0, "number of consumers")
		messages     = flag.Int("messages", 0, "messages per producer")
		payloadBytes = flag.Int("payload-bytes", 0, "payload size in bytes")
		publishRate  = flag.Float64("publish-rate", 0, "publish rate cap per second, 0 disables")
		provision    = flag.Bool("provision", false, "provision the destination before the run")
		metricsPort  = flag.Int("metrics-port", 0, "serve Prometheus metrics on this port")
		logLevel     = flag.String("log-level", "", "log level (debug, info, warn, error)")
		logJSON      = flag.Bool("log-json", false, "log as JSON")
		jsonReport   = flag.Bool("json", false, "emit the report as a single JSON line")
	)
	flag.Parse()

	cfg, err := floodline.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	applyFlags(&cfg, *transportArg, *destination, *group, *producers, *consumers,
		*messages, *payloadBytes, *publishRate, *provision, *metricsPort, *logLevel, *logJSON)

	logger := buildLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	supervisor, err := floodline.NewSupervisor(cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	report, err := supervisor.Run(ctx)
	if err != nil {
		logger.Error("Run failed", err, nil)
		os.Exit(1)
	}

	if *jsonReport {
		if err := floodline.Encode(os.Stdout, report); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	} else {
		fmt.Println(report.String())
	}

	if !report.Complete {
		os.Exit(1)
	}
}

func applyFlags(cfg *floodline.Config, transportArg, destination, group string,
	producers, consumers, messages, payloadBytes int, publishRate float64,
	provision bool, metricsPort int, logLevel string, logJSON bool) {
	if transportArg != "" {
		cfg.PubSubSystem = transportArg
	}
	if destination != "" {
		cfg.Destination = destination
	}
	if group != "" {
		cfg.ConsumerGroup = group
	}
	if producers > 0 {
		cfg.Producers = producers
	}
	if consumers > 0 {
		cfg.Consumers = consumers
	}
	if messages > 0 {
		cfg.MessagesPerProducer = messages
	}
	if payloadBytes > 0 {
		cfg.PayloadSize = payloadBytes
	}
	if publishRate > 0 {
		cfg.PublishRate = publishRate
	}
	if provision {
		cfg.Provision = true
	}
	if metricsPort > 0 {
		cfg.MetricsEnabled = true
		cfg.MetricsPort = metricsPort
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logJSON {
		cfg.LogJSON = true
	}
}

func buildLogger(cfg floodline.Config) floodline.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "trace":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return floodline.NewSlogLogger(slog.New(handler))
}
