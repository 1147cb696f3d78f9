// Package transports imports all built-in transports for auto-registration.
// Import this package to have all transports registered with the default registry.
package transports

import (
	// Import all transports for side-effect registration
	_ "github.com/streamhaus/floodline/transport/aws"
	_ "github.com/streamhaus/floodline/transport/channel"
	_ "github.com/streamhaus/floodline/transport/http"
	_ "github.com/streamhaus/floodline/transport/io"
	_ "github.com/streamhaus/floodline/transport/jetstream"
	_ "github.com/streamhaus/floodline/transport/kafka"
	_ "github.com/streamhaus/floodline/transport/nats"
	_ "github.com/streamhaus/floodline/transport/rabbitmq"
)
