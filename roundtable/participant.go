package roundtable

import "github.com/fretelli/AIWendy/types"

// DiscussionMode selects the orchestration pattern for a session.
type DiscussionMode string

const (
	// ModeFree runs a configurable number of debate rounds with no moderator.
	ModeFree DiscussionMode = "free"
	// ModeModerated runs exactly one coach round followed by a moderator
	// synthesis phase.
	ModeModerated DiscussionMode = "moderated"
)

// DebateStyle shapes the per-round instructions handed to coaches in free
// mode. It never changes sequencing or termination.
type DebateStyle string

const (
	StyleConverge DebateStyle = "converge" // supplement and correct
	StyleClash    DebateStyle = "clash"    // debate and challenge
)

// KBTiming controls when knowledge retrieval runs during an exchange.
type KBTiming string

const (
	KBOff       KBTiming = "off"       // never fetch
	KBMessage   KBTiming = "message"   // once per exchange, shared
	KBRound     KBTiming = "round"     // once per round, shared within it
	KBCoach     KBTiming = "coach"     // independently before every coach turn
	KBModerator KBTiming = "moderator" // once, only before the moderator phase
)

// MessageKind tags a turn's output for downstream rendering. Coaches always
// produce KindResponse; the moderator's sub-phases are distinguished by tag
// only, with no further branching in the core.
type MessageKind string

const (
	KindResponse MessageKind = "response"
	KindOpening  MessageKind = "opening"
	KindSummary  MessageKind = "summary"
	KindClosing  MessageKind = "closing"
)

// Coach is one discussion participant: a coach or the moderator. Immutable
// for the duration of an exchange.
type Coach struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	AvatarURL    string  `json:"avatar_url,omitempty"`
	Style        string  `json:"style,omitempty"`
	Description  string  `json:"description,omitempty"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Temperature  float32 `json:"temperature,omitempty"`
}

// Session identifies one persistent discussion. The orchestrator receives it
// by reference and only ever reads it.
type Session struct {
	ID        string
	Mode      DiscussionMode
	Coaches   []Coach // roster order is turn order
	Moderator *Coach  // required for ModeModerated
	Defaults  ModelParams
	Active    bool
}

// Attachment carries user-supplied file content already extracted to text,
// transcription, or an image encoding by an external collaborator.
type Attachment struct {
	ID            string `json:"id"`
	Type          string `json:"type"` // image, audio, pdf, word, excel, ppt, text, code, file
	FileName      string `json:"fileName"`
	FileSize      int64  `json:"fileSize"`
	MimeType      string `json:"mimeType"`
	URL           string `json:"url"`
	ImageData     string `json:"base64Data,omitempty"`    // images, request only
	ExtractedText string `json:"extractedText,omitempty"` // documents
	Transcription string `json:"transcription,omitempty"` // audio
}

// HistoryMessage is one prior message of the session's conversation, read-only
// input for prompt assembly.
type HistoryMessage struct {
	CoachID     string
	CoachName   string
	Role        types.Role
	Content     string
	Kind        MessageKind
	Attachments []Attachment
}
