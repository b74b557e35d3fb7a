// Package event defines the runtime Event value and the W3C 5.9.3 event
// descriptor matching rule (spec P5).
package event

import "strings"

// Kind classifies where an event originated, per §3.
type Kind int

const (
	Platform Kind = iota
	Internal
	External
)

// String returns the W3C 5.10 _event.type value for k ("platform",
// "internal", or "external").
func (k Kind) String() string {
	switch k {
	case Platform:
		return "platform"
	case Internal:
		return "internal"
	case External:
		return "external"
	default:
		return "external"
	}
}

// Event is an immutable runtime event. Once enqueued it must not be mutated;
// callers that need to vary Data per-recipient should construct a new Event.
type Event struct {
	Name       string
	Data       any
	Kind       Kind
	SendID     string
	InvokeID   string
	Origin     string // originating session id, for child-to-parent events
	OriginType string
}

// New constructs an external Event with no metadata, the common case for
// Session.Send.
func New(name string, data any) Event {
	return Event{Name: name, Data: data, Kind: External}
}

// Platform event names (§6.5). These are never auto-forwarded to invoked
// children (§4.7 step 3).
const (
	ErrorExecution    = "error.execution"
	ErrorCommunication = "error.communication"
)

// DoneStateName builds the "done.state.X" platform event name for state id.
func DoneStateName(stateID string) string {
	return "done.state." + stateID
}

// DoneInvokeName builds the "done.invoke.Y" platform event name for an
// invoke id.
func DoneInvokeName(invokeID string) string {
	return "done.invoke." + invokeID
}

// IsPlatformEvent reports whether name is one of the reserved done.*/error.*
// families that must not be auto-forwarded to invoked children (§4.7 step 3).
func IsPlatformEvent(name string) bool {
	return strings.HasPrefix(name, "done.") || strings.HasPrefix(name, "error.")
}

// MatchesDescriptor implements W3C SCXML 5.9.3 event-descriptor matching.
//
// A descriptor token matches an event name when:
//   - the token is "*" (matches anything),
//   - the token equals the event name exactly,
//   - the token is a dot-prefix of the event name (token "foo" matches
//     "foo.bar" but not "foobar"), or
//   - the token ends in ".*" and its prefix (sans the trailing ".*") is a
//     dot-prefix of (or equal to) the event name.
//
// descriptor may contain multiple whitespace-separated tokens; any one
// matching is sufficient.
func MatchesDescriptor(descriptor string, name string) bool {
	for _, token := range strings.Fields(descriptor) {
		if tokenMatches(token, name) {
			return true
		}
	}
	return false
}

func tokenMatches(token, name string) bool {
	if token == "*" {
		return true
	}
	if token == name {
		return true
	}
	if strings.HasSuffix(token, ".*") {
		prefix := token[:len(token)-2]
		return prefix == name || strings.HasPrefix(name, prefix+".")
	}
	return strings.HasPrefix(name, token+".")
}
