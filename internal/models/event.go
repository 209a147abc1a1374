package models

import (
	"encoding/json"
	"fmt"
)

// Event names on the wire
const (
	// inbound
	EventConnect    = "connect"
	EventPing       = "ping"
	EventDisconnect = "disconnect"
	EventReading    = "reading"

	// outbound
	EventConnected    = "connected"
	EventPong         = "pong"
	EventReadingSaved = "reading_saved"
	EventNewReading   = "new_reading"
	EventError        = "error"
)

// ConnectedData is the acknowledgement payload sent on namespace connect
const ConnectedData = "Connected"

// EventKind enumerates the inbound events a session understands
type EventKind int

const (
	KindUnknown EventKind = iota
	KindConnect
	KindPing
	KindDisconnect
	KindReading
)

func (k EventKind) String() string {
	switch k {
	case KindConnect:
		return EventConnect
	case KindPing:
		return EventPing
	case KindDisconnect:
		return EventDisconnect
	case KindReading:
		return EventReading
	default:
		return "unknown"
	}
}

// ParseEventKind maps an inbound event name to its kind
func ParseEventKind(name string) EventKind {
	switch name {
	case EventConnect:
		return KindConnect
	case EventPing:
		return KindPing
	case EventDisconnect:
		return KindDisconnect
	case EventReading:
		return KindReading
	default:
		return KindUnknown
	}
}

// Event is the envelope for every real-time frame
type Event struct {
	Name      string            `json:"name"`
	Namespace string            `json:"namespace"`
	Args      []json.RawMessage `json:"args,omitempty"`
}

// NewEvent creates an event, encoding each arg as JSON
func NewEvent(namespace, name string, args ...interface{}) (*Event, error) {
	ev := &Event{
		Name:      name,
		Namespace: namespace,
	}
	for _, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s arg: %w", name, err)
		}
		ev.Args = append(ev.Args, raw)
	}
	return ev, nil
}

// Kind returns the inbound kind of the event
func (e *Event) Kind() EventKind {
	return ParseEventKind(e.Name)
}

// UnmarshalArg decodes argument i into v
func (e *Event) UnmarshalArg(i int, v interface{}) error {
	if i < 0 || i >= len(e.Args) {
		return fmt.Errorf("event %s has no argument %d", e.Name, i)
	}
	return json.Unmarshal(e.Args[i], v)
}

// ConnectedPayload acknowledges a namespace connect
type ConnectedPayload struct {
	Data string `json:"data"`
}

// ReadingSavedPayload confirms a reading submitted over the socket
type ReadingSavedPayload struct {
	ReadingID string `json:"reading_id"`
}

// ErrorPayload reports a refused event
type ErrorPayload struct {
	Message string `json:"message"`
}
