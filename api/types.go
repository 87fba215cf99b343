// Package api defines the wire types of the roundtable HTTP surface.
package api

import (
	"time"

	"github.com/fretelli/AIWendy/roundtable"
)

// =============================================================================
// Sessions
// =============================================================================

// CreateSessionRequest starts a new discussion session.
type CreateSessionRequest struct {
	CoachIDs       []string `json:"coach_ids"`
	Title          string   `json:"title,omitempty"`
	DiscussionMode string   `json:"discussion_mode,omitempty"` // free | moderated
	ModeratorID    string   `json:"moderator_id,omitempty"`

	// Session-level generation defaults.
	Provider    string  `json:"provider,omitempty"`
	Model       string  `json:"model,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	// Session-level knowledge injection defaults.
	KBTiming        string `json:"kb_timing,omitempty"`
	KBTopK          int    `json:"kb_top_k,omitempty"`
	KBMaxCandidates int    `json:"kb_max_candidates,omitempty"`
}

// UpdateSessionRequest patches session-level settings. Absent fields are left
// unchanged.
type UpdateSessionRequest struct {
	Provider        *string  `json:"provider,omitempty"`
	Model           *string  `json:"model,omitempty"`
	Temperature     *float32 `json:"temperature,omitempty"`
	MaxTokens       *int     `json:"max_tokens,omitempty"`
	KBTiming        *string  `json:"kb_timing,omitempty"`
	KBTopK          *int     `json:"kb_top_k,omitempty"`
	KBMaxCandidates *int     `json:"kb_max_candidates,omitempty"`
}

// CoachBrief is the roster view of a coach.
type CoachBrief struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Style       string `json:"style,omitempty"`
	Description string `json:"description,omitempty"`
	IsModerator bool   `json:"is_moderator,omitempty"`
}

// SessionResponse is the API view of a session.
type SessionResponse struct {
	ID             string       `json:"id"`
	Title          string       `json:"title"`
	CoachIDs       []string     `json:"coach_ids"`
	Coaches        []CoachBrief `json:"coaches,omitempty"`
	DiscussionMode string       `json:"discussion_mode"`
	ModeratorID    string       `json:"moderator_id,omitempty"`

	Provider    string  `json:"provider,omitempty"`
	Model       string  `json:"model,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	KBTiming        string `json:"kb_timing"`
	KBTopK          int    `json:"kb_top_k,omitempty"`
	KBMaxCandidates int    `json:"kb_max_candidates,omitempty"`

	MessageCount int       `json:"message_count"`
	RoundCount   int       `json:"round_count"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// MessageResponse is the API view of a stored message.
type MessageResponse struct {
	ID          string                  `json:"id"`
	SessionID   string                  `json:"session_id"`
	CoachID     string                  `json:"coach_id,omitempty"`
	Role        string                  `json:"role"`
	Content     string                  `json:"content"`
	MessageType string                  `json:"message_type"`
	TurnNumber  int                     `json:"turn_number,omitempty"`
	Attachments []roundtable.Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
}

// =============================================================================
// Exchanges
// =============================================================================

// ModelOverride is a complete per-request parameter bundle. Supplying one
// replaces the whole session bundle for this exchange; there is no
// field-by-field merging with session defaults.
type ModelOverride struct {
	Provider    string  `json:"provider,omitempty"`
	Model       string  `json:"model,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// ExchangeRequest triggers one exchange on a session. The response is a
// server-sent event stream.
type ExchangeRequest struct {
	SessionID   string                  `json:"session_id"`
	Content     string                  `json:"content"`
	Attachments []roundtable.Attachment `json:"attachments,omitempty"`

	MaxRounds   int    `json:"max_rounds,omitempty"`
	DebateStyle string `json:"debate_style,omitempty"` // converge | clash

	ModelOverride *ModelOverride `json:"model_override,omitempty"`

	KBTiming        string `json:"kb_timing,omitempty"`
	KBTopK          int    `json:"kb_top_k,omitempty"`
	KBMaxCandidates int    `json:"kb_max_candidates,omitempty"`

	// ShouldEnd asks the moderator for closing remarks (moderated mode).
	ShouldEnd bool `json:"should_end,omitempty"`
}
