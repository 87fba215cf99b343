package roundtable

// EventType identifies one frame of the exchange stream.
type EventType string

const (
	EventRoundStart     EventType = "round_start"
	EventCoachStart     EventType = "coach_start"
	EventModeratorStart EventType = "moderator_start"
	EventContent        EventType = "content"
	EventCoachEnd       EventType = "coach_end"
	EventModeratorEnd   EventType = "moderator_end"
	EventRoundEnd       EventType = "round_end"
	EventDone           EventType = "done"
	EventError          EventType = "error"
)

// Event is one ordered frame of an exchange stream. Consumers receive the
// full sequence in generation order over a single channel.
type Event struct {
	Type EventType `json:"type"`

	// Round is set on round_start and round_end.
	Round int `json:"round,omitempty"`

	// Turn identity, set on coach_start, moderator_start, content,
	// coach_end, moderator_end, and scoped error events.
	CoachID     string `json:"coach_id,omitempty"`
	CoachName   string `json:"coach_name,omitempty"`
	CoachAvatar string `json:"coach_avatar,omitempty"`

	// MessageType is set on moderator frames: opening, summary or closing.
	MessageType string `json:"message_type,omitempty"`

	// Content is the incremental text fragment on content events.
	Content string `json:"content,omitempty"`

	// Message carries the error description on error events. An error with
	// a CoachID is scoped to that participant's turn; without one it is
	// exchange-fatal and the last frame of the stream.
	Message string `json:"message,omitempty"`
}

// EmitFunc delivers one event to the stream. It returns false when the
// consumer is gone and the producer should stop.
type EmitFunc func(Event) bool

// Scoped reports whether an error event is confined to a single turn.
func (e Event) Scoped() bool {
	return e.Type == EventError && e.CoachID != ""
}
