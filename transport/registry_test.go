package transport

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

type stubConfig struct {
	pubSubSystem string
}

func (s *stubConfig) GetPubSubSystem() string       { return s.pubSubSystem }
func (s *stubConfig) GetConsumerGroup() string      { return "" }
func (s *stubConfig) GetPrefetchCount() int         { return 0 }
func (s *stubConfig) GetKafkaBrokers() []string     { return nil }
func (s *stubConfig) GetRabbitMQURL() string        { return "" }
func (s *stubConfig) GetNATSURL() string            { return "" }
func (s *stubConfig) GetHTTPServerAddress() string  { return "" }
func (s *stubConfig) GetHTTPPublisherURL() string   { return "" }
func (s *stubConfig) GetIOFile() string             { return "" }
func (s *stubConfig) GetAWSRegion() string          { return "" }
func (s *stubConfig) GetAWSAccountID() string       { return "" }
func (s *stubConfig) GetAWSAccessKeyID() string     { return "" }
func (s *stubConfig) GetAWSSecretAccessKey() string { return "" }
func (s *stubConfig) GetAWSEndpoint() string        { return "" }

type stubPublisher struct{}

func (s *stubPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (s *stubPublisher) Close() error                                             { return nil }

type stubSubscriber struct{}

func (s *stubSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (s *stubSubscriber) Close() error { return nil }

func stubBuilder(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return Transport{Publisher: &stubPublisher{}, Subscriber: &stubSubscriber{}}, nil
}

func TestRegistryRegisterAndBuild(t *testing.T) {
	reg := NewRegistry()
	reg.Register("test-transport", stubBuilder)

	if !reg.Has("test-transport") {
		t.Fatal("expected transport to be registered")
	}

	tr, err := reg.Build(context.Background(), &stubConfig{pubSubSystem: "test-transport"}, watermill.NopLogger{})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if tr.Publisher == nil || tr.Subscriber == nil {
		t.Fatal("expected a complete transport")
	}
}

func TestRegistryBuildUnknownTransport(t *testing.T) {
	reg := NewRegistry()
	reg.Register("known", stubBuilder)

	_, err := reg.Build(context.Background(), &stubConfig{pubSubSystem: "missing"}, watermill.NopLogger{})
	if err == nil {
		t.Fatal("expected error for unknown transport")
	}
	if !strings.Contains(err.Error(), `"missing"`) || !strings.Contains(err.Error(), "known") {
		t.Fatalf("expected the error to name the transport and the registered set, got %v", err)
	}
}

func TestRegistryBuildNilConfig(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Build(context.Background(), nil, watermill.NopLogger{}); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestRegistryBuilderErrorPropagates(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("connect refused")
	reg.Register("broken", func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
		return Transport{}, boom
	})

	_, err := reg.Build(context.Background(), &stubConfig{pubSubSystem: "broken"}, watermill.NopLogger{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected builder error, got %v", err)
	}
}

func TestRegistryCapabilities(t *testing.T) {
	reg := NewRegistry()
	caps := Capabilities{Name: "test-transport", SupportsConsumerGroups: true, SupportsProvisioning: true}
	reg.RegisterWithCapabilities("test-transport", stubBuilder, caps)

	got := reg.GetCapabilities("test-transport")
	if !got.SupportsConsumerGroups || !got.SupportsProvisioning {
		t.Fatalf("unexpected capabilities %+v", got)
	}

	unknown := reg.GetCapabilities("nope")
	if unknown.Name != "nope" || unknown.SupportsConsumerGroups {
		t.Fatalf("expected zero capabilities for unknown transport, got %+v", unknown)
	}
}

func TestRegistryNamesSortedListsEveryBuilder(t *testing.T) {
	reg := NewRegistry()
	reg.Register("zeta", stubBuilder)
	reg.Register("alpha", stubBuilder)
	reg.Register("mid", stubBuilder)

	names := reg.Names()
	want := []string{"alpha", "mid", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("expected %d names, got %v", len(want), names)
	}
	for i, n := range want {
		if names[i] != n {
			t.Fatalf("expected sorted names %v, got %v", want, names)
		}
	}
}
