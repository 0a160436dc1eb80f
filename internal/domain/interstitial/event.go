package interstitial

import "fmt"

// EventType identifies a provider lifecycle event
type EventType string

const (
	EventLoaded           EventType = "loaded"
	EventError            EventType = "error"
	EventClicked          EventType = "clicked"
	EventDisplayed        EventType = "displayed"
	EventDismissed        EventType = "dismissed"
	EventImpressionLogged EventType = "impression"
)

// Event is a single asynchronous notification from the ad provider.
// Message is only set for EventError.
type Event struct {
	Type    EventType `json:"type"`
	Message string    `json:"message,omitempty"`
}

// ParseEventType validates a wire event name
func ParseEventType(s string) (EventType, error) {
	switch t := EventType(s); t {
	case EventLoaded, EventError, EventClicked, EventDisplayed, EventDismissed, EventImpressionLogged:
		return t, nil
	default:
		return "", fmt.Errorf("unknown event type %q", s)
	}
}

// Loaded builds an EventLoaded event
func Loaded() Event { return Event{Type: EventLoaded} }

// Failed builds an EventError event with the provider's message
func Failed(message string) Event { return Event{Type: EventError, Message: message} }

// Clicked builds an EventClicked event
func Clicked() Event { return Event{Type: EventClicked} }

// Displayed builds an EventDisplayed event
func Displayed() Event { return Event{Type: EventDisplayed} }

// Dismissed builds an EventDismissed event
func Dismissed() Event { return Event{Type: EventDismissed} }

// ImpressionLogged builds an EventImpressionLogged event
func ImpressionLogged() Event { return Event{Type: EventImpressionLogged} }
