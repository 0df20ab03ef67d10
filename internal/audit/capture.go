package audit

import (
	"context"
	"sync"
)

// Capture is a thread-safe in-memory Logger used by engine tests to assert
// exactly-once audit emission per state transition.
type Capture struct {
	mu     sync.Mutex
	events []*Event
}

// NewCapture creates an empty capture logger.
func NewCapture() *Capture {
	return &Capture{}
}

// LogEvent records the event.
func (c *Capture) LogEvent(_ context.Context, event *Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

// LogSecurityEvent records the event.
func (c *Capture) LogSecurityEvent(ctx context.Context, event *Event) error {
	return c.LogEvent(ctx, event)
}

// Events returns a copy of all recorded events in emission order.
func (c *Capture) Events() []*Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Event, len(c.events))
	copy(out, c.events)
	return out
}

// ByType returns recorded events matching the given event type.
func (c *Capture) ByType(eventType string) []*Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*Event
	for _, e := range c.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}
