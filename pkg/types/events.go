package types

import "time"

// EventType classifies diagnostic events.
type EventType string

const (
	EventStateChanged    EventType = "state_changed"
	EventTransmitted     EventType = "transmitted"
	EventProviderFailed  EventType = "provider_failed"
	EventDeviceFailure   EventType = "device_failure"
	EventDeviceRecovered EventType = "device_recovered"
	EventNotice          EventType = "notice"
)

// Event is a diagnostic record fanned out to logs and IPC subscribers.
type Event struct {
	Type      EventType         `json:"type"`
	Source    string            `json:"source"`
	Message   string            `json:"message"`
	State     string            `json:"state,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

func NewEvent(t EventType, source, message string) Event {
	return Event{
		Type:      t,
		Source:    source,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// With returns a copy of the event carrying an extra field.
func (e Event) With(key, value string) Event {
	fields := make(map[string]string, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}
	fields[key] = value
	e.Fields = fields
	return e
}
