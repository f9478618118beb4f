// Package events delivers batch notifications from the album coordinator to
// registered consumers on background workers.
package events

import "time"

// Kind names an event type. It is also the last MQTT topic segment.
type Kind string

const (
	KindSettled       Kind = "settled"
	KindNoResults     Kind = "no_results"
	KindFailed        Kind = "failed"
	KindPhotoResolved Kind = "photo_resolved"
)

// Event is implemented by every notification published on the bus.
type Event interface {
	Kind() Kind
	Location() string
	Timestamp() time.Time
}

// BatchSettled is published once when every item of a batch has resolved.
// A batch whose search returned no photos has ResultCount 0 and reports
// KindNoResults.
type BatchSettled struct {
	LocationID      string    `json:"locationId"`
	Page            int       `json:"page"`
	Generation      uint64    `json:"generation"`
	ResultCount     int       `json:"resultCount"`
	ItemErrors      int       `json:"itemErrors"`
	TransientErrors int       `json:"transientErrors"`
	Retry           bool      `json:"retry"`
	At              time.Time `json:"at"`
}

func (e BatchSettled) Kind() Kind {
	if e.ResultCount == 0 {
		return KindNoResults
	}
	return KindSettled
}

func (e BatchSettled) Location() string     { return e.LocationID }
func (e BatchSettled) Timestamp() time.Time { return e.At }

// BatchFailed is published when a batch could not start downloading, or was
// cancelled. No photo records exist for a failed search.
type BatchFailed struct {
	LocationID string    `json:"locationId"`
	Page       int       `json:"page"`
	Generation uint64    `json:"generation"`
	ErrorKind  string    `json:"errorKind"`
	Message    string    `json:"message"`
	Err        error     `json:"-"`
	At         time.Time `json:"at"`
}

func (e BatchFailed) Kind() Kind           { return KindFailed }
func (e BatchFailed) Location() string     { return e.LocationID }
func (e BatchFailed) Timestamp() time.Time { return e.At }

// PhotoResolved reports one finished download. These are best-effort and
// may be dropped when the bus is saturated.
type PhotoResolved struct {
	LocationID string    `json:"locationId"`
	RemoteID   string    `json:"remoteId"`
	Generation uint64    `json:"generation"`
	OK         bool      `json:"ok"`
	Transient  bool      `json:"transient"`
	At         time.Time `json:"at"`
}

func (e PhotoResolved) Kind() Kind           { return KindPhotoResolved }
func (e PhotoResolved) Location() string     { return e.LocationID }
func (e PhotoResolved) Timestamp() time.Time { return e.At }

// Consumer processes events. ProcessEvent runs on a bus worker; events for
// one location arrive in publish order.
type Consumer interface {
	Name() string
	ProcessEvent(event Event) error
}

// Stats contains runtime statistics for monitoring.
type Stats struct {
	EventsReceived  uint64
	EventsProcessed uint64
	EventsDropped   uint64
	ConsumerErrors  uint64
	FastPathHits    uint64 // events published while no consumer was registered
}

type funcConsumer struct {
	name string
	fn   func(Event) error
}

func (c funcConsumer) Name() string { return c.name }

func (c funcConsumer) ProcessEvent(event Event) error { return c.fn(event) }

// ConsumerFunc adapts fn into a named Consumer.
func ConsumerFunc(name string, fn func(Event) error) Consumer {
	return funcConsumer{name: name, fn: fn}
}

// ForLocation returns a consumer that only sees events for locationID.
func ForLocation(name, locationID string, fn func(Event)) Consumer {
	return ConsumerFunc(name, func(event Event) error {
		if event.Location() == locationID {
			fn(event)
		}
		return nil
	})
}
