// Package channel provides an in-memory Go channel transport for floodline.
// This transport is useful for local runs and tests; it keeps published
// messages until a subscriber appears, so producers that outrun consumer
// startup lose nothing.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/streamhaus/floodline/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates a new Go channel transport. The prefetch hint sizes the
// subscriber's output buffer.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	var buffer int64
	if cfg != nil && cfg.GetPrefetchCount() > 0 {
		buffer = int64(cfg.GetPrefetchCount())
	}

	pub, sub := Factory(gochannel.Config{
		OutputChannelBuffer: buffer,
		Persistent:          true,
	}, logger)

	return transport.Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
