package dispatch

import (
	"time"

	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
)

const (
	ConnectedEvent    = "bleConnected"
	DisconnectedEvent = "bleDisconnected"
)

// EventReporter records connection changes with the event reporter.
type EventReporter struct {
	addEvent func(eventclient.Event) error
}

func NewEventReporter() *EventReporter {
	return &EventReporter{addEvent: eventclient.AddEvent}
}

func (r *EventReporter) NotifyConnected(deviceName string) {
	r.report(ConnectedEvent, deviceName)
}

func (r *EventReporter) NotifyDisconnected(deviceName string) {
	r.report(DisconnectedEvent, deviceName)
}

func (r *EventReporter) report(eventType, deviceName string) {
	err := r.addEvent(eventclient.Event{
		Timestamp: time.Now(),
		Type:      eventType,
		Details: map[string]interface{}{
			"device": deviceName,
		},
	})
	if err != nil {
		log.Warnf("Failed to report %s event: %v", eventType, err)
	}
}
