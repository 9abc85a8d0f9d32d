package broadcast

import "time"

// Kind is the wire name of an event.
type Kind string

const (
	// AttendanceMarked carries the ids newly written to the attendance log.
	AttendanceMarked Kind = "attendanceMarked"
	// RequestResync asks connected clients to push their attendance data.
	RequestResync Kind = "requestAttendanceData"
)

// Event is one notification fanned out to every sink.
type Event struct {
	Kind Kind
	IDs  []string
	At   time.Time
}

// MarkedPayload is the data of an AttendanceMarked event on the wire.
type MarkedPayload struct {
	IDs []string `json:"mssvArray"`
}

// Payload returns the wire data for e.
func (e Event) Payload() any {
	switch e.Kind {
	case AttendanceMarked:
		ids := e.IDs
		if ids == nil {
			ids = []string{}
		}
		return MarkedPayload{IDs: ids}
	default:
		return struct{}{}
	}
}
