package transport

import "testing"

func TestCapabilityHelpers(t *testing.T) {
	reliable := Capabilities{SupportsAck: true, GuaranteesAtLeastOnce: true}
	if !reliable.SupportsReliableDelivery() {
		t.Fatal("ack + at-least-once should be reliable")
	}

	lossy := Capabilities{SupportsAck: false, GuaranteesAtLeastOnce: false}
	if lossy.SupportsReliableDelivery() {
		t.Fatal("fire-and-forget should not report reliable delivery")
	}

	grouped := Capabilities{SupportsConsumerGroups: true}
	if grouped.RequiresGroupEmulation() {
		t.Fatal("native groups should not need emulation")
	}
	if !(Capabilities{}).RequiresGroupEmulation() {
		t.Fatal("groupless transports need emulation")
	}
}

func TestBuiltinCapabilitySets(t *testing.T) {
	if !NATSJetStreamCapabilities.SupportsProvisioning {
		t.Fatal("jetstream should support provisioning")
	}
	if !NATSJetStreamCapabilities.SupportsReliableDelivery() {
		t.Fatal("jetstream should be reliable")
	}
	if NATSCapabilities.SupportsReliableDelivery() {
		t.Fatal("core NATS is fire-and-forget")
	}
	if !ChannelCapabilities.RequiresGroupEmulation() {
		t.Fatal("gochannel has no native groups")
	}
	if KafkaCapabilities.RequiresGroupEmulation() {
		t.Fatal("kafka has native consumer groups")
	}
	if AWSCapabilities.MaxMessageSize != 262144 {
		t.Fatalf("unexpected aws message cap %d", AWSCapabilities.MaxMessageSize)
	}
}

func TestGetCapabilitiesUsesDefaultRegistry(t *testing.T) {
	DefaultRegistry.RegisterWithCapabilities("caps-probe", stubBuilder, Capabilities{Name: "caps-probe", SupportsOrdering: true})

	got := GetCapabilities("caps-probe")
	if !got.SupportsOrdering {
		t.Fatalf("expected registered capabilities, got %+v", got)
	}
}
