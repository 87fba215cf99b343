package store

import (
	"time"

	"github.com/fretelli/AIWendy/roundtable"
)

// Coach is a persisted discussion persona.
type Coach struct {
	ID           string  `gorm:"primaryKey;size:64" json:"id"`
	Name         string  `gorm:"size:128;not null" json:"name"`
	AvatarURL    string  `gorm:"size:512" json:"avatar_url,omitempty"`
	Style        string  `gorm:"size:64" json:"style,omitempty"`
	Description  string  `gorm:"size:1024" json:"description,omitempty"`
	SystemPrompt string  `gorm:"type:text" json:"system_prompt,omitempty"`
	Temperature  float32 `json:"temperature,omitempty"`
	IsModerator  bool    `gorm:"index" json:"is_moderator"`
	IsActive     bool    `gorm:"index;default:true" json:"is_active"`
	SortOrder    int     `json:"sort_order"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Session is one persisted roundtable discussion.
type Session struct {
	ID             string   `gorm:"primaryKey;size:36" json:"id"`
	UserID         string   `gorm:"index;size:36" json:"user_id,omitempty"`
	Title          string   `gorm:"size:256" json:"title"`
	CoachIDs       []string `gorm:"serializer:json" json:"coach_ids"`
	DiscussionMode string   `gorm:"size:16;default:free" json:"discussion_mode"`
	ModeratorID    string   `gorm:"size:64" json:"moderator_id,omitempty"`

	// Session-level generation defaults, overridable per exchange.
	LLMProvider    string  `gorm:"size:64" json:"llm_provider,omitempty"`
	LLMModel       string  `gorm:"size:128" json:"llm_model,omitempty"`
	LLMTemperature float32 `json:"llm_temperature,omitempty"`
	LLMMaxTokens   int     `json:"llm_max_tokens,omitempty"`

	// Session-level knowledge injection defaults.
	KBTiming        string `gorm:"size:16;default:off" json:"kb_timing"`
	KBTopK          int    `json:"kb_top_k,omitempty"`
	KBMaxCandidates int    `json:"kb_max_candidates,omitempty"`

	MessageCount int  `json:"message_count"`
	RoundCount   int  `json:"round_count"`
	IsActive     bool `gorm:"index;default:true" json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one persisted turn of a session: the user's message or a
// participant's accumulated output.
type Message struct {
	ID             string                  `gorm:"primaryKey;size:36" json:"id"`
	SessionID      string                  `gorm:"index;size:36;not null" json:"session_id"`
	CoachID        string                  `gorm:"size:64" json:"coach_id,omitempty"`
	Role           string                  `gorm:"size:16;not null" json:"role"`
	Content        string                  `gorm:"type:text" json:"content"`
	MessageType    string                  `gorm:"size:16;default:response" json:"message_type"`
	TurnNumber     int                     `json:"turn_number"`
	SequenceInTurn int                     `json:"sequence_in_turn"`
	Attachments    []roundtable.Attachment `gorm:"serializer:json" json:"attachments,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// TableName keeps the historical table names.
func (Session) TableName() string { return "roundtable_sessions" }

// TableName keeps the historical table names.
func (Message) TableName() string { return "roundtable_messages" }
