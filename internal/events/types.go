package events

// Push event names understood by clients
const (
	// EventSendSchedule carries a freshly compiled schedule view
	EventSendSchedule = "sendschedule"
	// EventSchedulePullRequest asks a client to request its schedule again
	EventSchedulePullRequest = "schedulePullRequest"
	// EventInformation carries a human-readable notice
	EventInformation = "information"
)

// Message is one push to one session
type Message struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	SessionID string `json:"-"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// SchedulePayload is the data of an EventSendSchedule push
type SchedulePayload struct {
	DayOffset int `json:"dayOffset"`
	Tasks     any `json:"tasks"`
}
