package jetstream

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/streamhaus/floodline/transport"
)

var (
	_ transport.Provisioner       = (*Transport)(nil)
	_ transport.QueueIntrospector = (*Transport)(nil)
)

func TestRegistration(t *testing.T) {
	if !transport.Has(TransportName) {
		t.Fatalf("transport %q not registered", TransportName)
	}

	caps := transport.GetCapabilities(TransportName)
	if caps.Name != "nats-jetstream" {
		t.Errorf("capabilities name = %q, want %q", caps.Name, "nats-jetstream")
	}
	if !caps.SupportsProvisioning {
		t.Error("jetstream should support provisioning")
	}
	if !caps.SupportsReliableDelivery() {
		t.Error("jetstream should support reliable delivery")
	}
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities()
	if caps != transport.NATSJetStreamCapabilities {
		t.Errorf("Capabilities() = %+v, want %+v", caps, transport.NATSJetStreamCapabilities)
	}
}

func TestConfigWithDefaults(t *testing.T) {
	t.Run("empty config gets defaults", func(t *testing.T) {
		result := Config{}.withDefaults()

		if result.Group != "floodline_cg" {
			t.Errorf("Group = %q, want %q", result.Group, "floodline_cg")
		}
		if result.Prefetch != DefaultFetchBatch {
			t.Errorf("Prefetch = %d, want %d", result.Prefetch, DefaultFetchBatch)
		}
		if result.AckWait != DefaultAckWait {
			t.Errorf("AckWait = %v, want %v", result.AckWait, DefaultAckWait)
		}
		if result.Replicas != 1 {
			t.Errorf("Replicas = %d, want 1", result.Replicas)
		}
		if result.MaxAge != DefaultMaxAge {
			t.Errorf("MaxAge = %v, want %v", result.MaxAge, DefaultMaxAge)
		}
		if result.MaxDeliver != 0 {
			t.Errorf("MaxDeliver = %d, want 0 (unlimited)", result.MaxDeliver)
		}
	})

	t.Run("custom values preserved", func(t *testing.T) {
		cfg := Config{
			URL:             "nats://localhost:4222",
			Group:           "verify_cg",
			Prefetch:        32,
			MaxDeliver:      5,
			AckWait:         time.Minute,
			Replicas:        3,
			RetentionPolicy: "workqueue",
			MaxAge:          time.Hour,
		}
		result := cfg.withDefaults()

		if result.URL != cfg.URL {
			t.Errorf("URL = %q, want %q", result.URL, cfg.URL)
		}
		if result.Group != "verify_cg" {
			t.Errorf("Group = %q, want %q", result.Group, "verify_cg")
		}
		if result.Prefetch != 32 {
			t.Errorf("Prefetch = %d, want 32", result.Prefetch)
		}
		if result.MaxDeliver != 5 {
			t.Errorf("MaxDeliver = %d, want 5", result.MaxDeliver)
		}
		if result.AckWait != time.Minute {
			t.Errorf("AckWait = %v, want %v", result.AckWait, time.Minute)
		}
		if result.Replicas != 3 {
			t.Errorf("Replicas = %d, want 3", result.Replicas)
		}
		if result.RetentionPolicy != "workqueue" {
			t.Errorf("RetentionPolicy = %q, want %q", result.RetentionPolicy, "workqueue")
		}
	})
}

func TestNameSanitization(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"flood_demo", "flood_demo"},
		{"flood.demo", "flood_demo"},
		{"orders/eu-west", "orders_eu-west"},
		{"a b>c*d", "a_b_c_d"},
	}

	for _, tt := range tests {
		if got := streamNameFor(tt.in); got != tt.want {
			t.Errorf("streamNameFor(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if got := consumerNameFor(tt.in); got != tt.want {
			t.Errorf("consumerNameFor(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNatsToWatermill(t *testing.T) {
	tr := &Transport{}

	t.Run("uuid restored from header", func(t *testing.T) {
		header := nats.Header{}
		header.Set(HeaderMessageUUID, "msg-42")
		header.Set("extra", "value")

		wmMsg := tr.natsToWatermill(&nats.Msg{
			Data:   []byte("payload"),
			Header: header,
		})

		if wmMsg.UUID != "msg-42" {
			t.Errorf("UUID = %q, want %q", wmMsg.UUID, "msg-42")
		}
		if string(wmMsg.Payload) != "payload" {
			t.Errorf("payload = %q, want %q", wmMsg.Payload, "payload")
		}
		if wmMsg.Metadata.Get("extra") != "value" {
			t.Errorf("metadata extra = %q, want %q", wmMsg.Metadata.Get("extra"), "value")
		}
	})

	t.Run("missing uuid gets a fallback", func(t *testing.T) {
		wmMsg := tr.natsToWatermill(&nats.Msg{Data: []byte("payload")})
		if wmMsg.UUID == "" {
			t.Error("expected a generated UUID")
		}
	})
}
