// Package broadcast fans lifecycle events out to interested listeners:
// websocket clients of the control API and, when configured, a Kafka topic.
// Publishing is best-effort and never blocks the engine.
package broadcast

import "github.com/opsdesk-io/opsdesk/pkg/protocol"

// Sink receives lifecycle events.
type Sink interface {
	Publish(ev protocol.LifecycleEvent)
}

// Fanout publishes each event to every sink.
type Fanout []Sink

func (f Fanout) Publish(ev protocol.LifecycleEvent) {
	for _, s := range f {
		s.Publish(ev)
	}
}

// Discard drops every event. Useful in tests.
type Discard struct{}

func (Discard) Publish(protocol.LifecycleEvent) {}
