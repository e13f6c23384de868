// Package transports imports the built-in transports for registration.
// Import it for side effects to make every transport available to Build.
package transports

import (
	_ "github.com/drblury/botpipe/transport/channel"
	_ "github.com/drblury/botpipe/transport/kafka"
	_ "github.com/drblury/botpipe/transport/nats"
	_ "github.com/drblury/botpipe/transport/rabbitmq"
)
