// Package eventbus defines the port interface for publishing operational
// events to the external management surface.
package eventbus

import "context"

// Publisher sends an event payload to the given subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}
