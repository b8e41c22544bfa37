package scanner

import "listing-scanner/pkg/models"

// Sink receives engine events in emission order, on the scan goroutine.
// Publish must not call Start synchronously.
type Sink interface {
	Publish(ev models.Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev models.Event)

func (f SinkFunc) Publish(ev models.Event) { f(ev) }

// Fanout publishes to every sink in order.
type Fanout []Sink

func (f Fanout) Publish(ev models.Event) {
	for _, s := range f {
		if s != nil {
			s.Publish(ev)
		}
	}
}
