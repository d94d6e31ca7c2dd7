// Package source defines the broker side of the bridge. A driver owns the
// broker connection and subscription and hands every raw message to an
// EmitFunc, one at a time, in delivery order.
package source

import (
	"context"
	"time"
)

// Message is one raw broker message.
type Message struct {
	Topic    string
	Payload  []byte
	Received time.Time
}

// EmitFunc is the ingestion handler. Drivers call it from their delivery
// goroutine; it must not block on the store.
type EmitFunc func(Message) error

type Adapter interface {
	// Configure validates the driver config and prepares the client without
	// subscribing.
	Configure(any) error
	// Run connects, subscribes and delivers messages until ctx is done or
	// Close is called.
	Run(context.Context, EmitFunc) error
	// Close stops intake: unsubscribe, then disconnect. After Close returns
	// no further EmitFunc calls are made. Idempotent.
	Close() error
}
