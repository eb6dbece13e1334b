package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// EventType represents the type of event sent by the editor
type EventType string

// Event type constants
const (
	EventAccept    EventType = "accept"
	EventReject    EventType = "reject"
	EventAcceptAll EventType = "accept_all"
	EventRejectAll EventType = "reject_all"
	EventFinalize  EventType = "finalize"
	EventDiscard   EventType = "discard"
)

// Event represents an event in the engine
type Event struct {
	Type   EventType
	Path   string
	Region int // only for accept and reject
}

var eventTypeMap map[string]EventType

// regionEvents carry a trailing ":<region>"
var regionEvents = map[EventType]bool{
	EventAccept: true,
	EventReject: true,
}

func init() {
	eventTypeMap = buildEventTypeMap()
}

func buildEventTypeMap() map[string]EventType {
	eventMap := make(map[string]EventType)

	allEventTypes := []EventType{
		EventAccept,
		EventReject,
		EventAcceptAll,
		EventRejectAll,
		EventFinalize,
		EventDiscard,
	}

	for _, eventType := range allEventTypes {
		eventMap[string(eventType)] = eventType
	}

	return eventMap
}

// EventTypeFromString converts a string to EventType
func EventTypeFromString(s string) EventType {
	if eventType, exists := eventTypeMap[s]; exists {
		return eventType
	}
	return ""
}

// ParseEvent parses "<type>:<path>" or "<type>:<path>:<region>". The path may
// itself contain colons; the region is always the last field.
func ParseEvent(raw string) (Event, error) {
	name, rest, found := strings.Cut(raw, ":")
	eventType := EventTypeFromString(name)
	if eventType == "" {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	if !found || rest == "" {
		return Event{}, fmt.Errorf("%s: missing path", eventType)
	}

	event := Event{Type: eventType, Path: rest}
	if !regionEvents[eventType] {
		return event, nil
	}

	i := strings.LastIndex(rest, ":")
	if i <= 0 {
		return Event{}, fmt.Errorf("%s: missing region", eventType)
	}
	region, err := strconv.Atoi(rest[i+1:])
	if err != nil {
		return Event{}, fmt.Errorf("%s: bad region %q: %w", eventType, rest[i+1:], err)
	}
	event.Path = rest[:i]
	event.Region = region
	return event, nil
}

func (e *Engine) handleEvent(event Event) {
	e.mu.RLock()
	stopped := e.stopped
	e.mu.RUnlock()
	if stopped {
		return
	}

	var err error
	switch event.Type {
	case EventAccept:
		err = e.Accept(event.Path, event.Region)
	case EventReject:
		err = e.Reject(event.Path, event.Region)
	case EventAcceptAll:
		err = e.AcceptAll(event.Path)
	case EventRejectAll:
		err = e.RejectAll(event.Path)
	case EventFinalize:
		_, err = e.Finalize(event.Path)
	case EventDiscard:
		err = e.Discard(event.Path)
	}

	if err != nil {
		e.notify(Notification{Level: LevelWarn, Path: event.Path, Message: string(event.Type) + " failed", Err: err})
	}
}
