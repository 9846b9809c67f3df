// Package presence implements the user presence core: the connection
// registry tracking live realtime connections per room, and the status
// arbiter that owns the status transition policy.
package presence

// Status is a user's availability state.
type Status string

const (
	StatusAvailable Status = "AVAILABLE"
	StatusInMeeting Status = "IN_MEETING"
	StatusDND       Status = "DND"
	StatusBRB       Status = "BRB"
	StatusAway      Status = "AWAY"
	StatusOffline   Status = "OFFLINE"
)

// priority orders statuses by how protected they are from being silently
// overridden by automatic updates. Only the DND guard reasons about
// protection today; transitions otherwise form a full graph.
var priority = map[Status]int{
	StatusOffline:   100,
	StatusDND:       90,
	StatusInMeeting: 80,
	StatusBRB:       50,
	StatusAway:      40,
	StatusAvailable: 0,
}

// Valid reports whether s is one of the six known statuses.
func (s Status) Valid() bool {
	_, ok := priority[s]
	return ok
}

// Priority returns the protection rank of s; unknown statuses rank lowest.
func (s Status) Priority() int {
	return priority[s]
}

// ClearsDetail reports whether a transition to s must clear the stored
// status message and expiry.
func (s Status) ClearsDetail() bool {
	return s == StatusAvailable || s == StatusOffline
}

// ParseStatus converts a wire string into a Status.
func ParseStatus(raw string) (Status, bool) {
	s := Status(raw)
	return s, s.Valid()
}
