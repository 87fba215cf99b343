package roundtable

import (
	"strings"

	"github.com/fretelli/AIWendy/types"
)

// ModelParams is one complete generation parameter bundle.
type ModelParams struct {
	Provider    string  `json:"provider,omitempty"`
	Model       string  `json:"model,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// ParamSource is a tagged choice between the session's default parameter
// bundle and a complete per-request override. Overrides apply all-or-nothing:
// a request either uses the full override bundle or the full session bundle,
// never a field-by-field merge.
type ParamSource struct {
	override *ModelParams
}

// UseSessionDefaults selects the session-level bundle.
func UseSessionDefaults() ParamSource {
	return ParamSource{}
}

// UseOverride selects the given bundle for this exchange only.
func UseOverride(p ModelParams) ParamSource {
	return ParamSource{override: &p}
}

// IsOverride reports whether a per-request bundle was supplied.
func (s ParamSource) IsOverride() bool {
	return s.override != nil
}

// Resolve returns the chosen bundle.
func (s ParamSource) Resolve(sessionDefaults ModelParams) ModelParams {
	if s.override != nil {
		return *s.override
	}
	return sessionDefaults
}

// Fallback generation limits when the chosen bundle leaves them unset. They
// come from the bundle's own zero values, not from the other bundle.
const (
	defaultModel            = "gpt-4o-mini"
	defaultCoachMaxTokens   = 500
	defaultOpeningMaxTokens = 300
	defaultSummaryMaxTokens = 400
	defaultClosingMaxTokens = 500
	defaultTurnTemperature  = 0.7
)

// effectiveParams completes the chosen bundle with persona and built-in
// defaults for fields it leaves at zero.
func effectiveParams(chosen ModelParams, participant Coach, kind MessageKind) ModelParams {
	out := chosen
	if strings.TrimSpace(out.Model) == "" {
		out.Model = defaultModel
	}
	if out.Temperature == 0 {
		if participant.Temperature != 0 {
			out.Temperature = participant.Temperature
		} else {
			out.Temperature = defaultTurnTemperature
		}
	}
	if out.MaxTokens == 0 {
		switch kind {
		case KindOpening:
			out.MaxTokens = defaultOpeningMaxTokens
		case KindSummary:
			out.MaxTokens = defaultSummaryMaxTokens
		case KindClosing:
			out.MaxTokens = defaultClosingMaxTokens
		default:
			out.MaxTokens = defaultCoachMaxTokens
		}
	}
	return out
}

// ExchangeOptions is one exchange's transient input.
type ExchangeOptions struct {
	// UserMessage is the user's question for this exchange.
	UserMessage string

	// Attachments hold pre-extracted file content accompanying the message.
	Attachments []Attachment

	// MaxRounds is the client-requested round budget (free mode). The
	// orchestrator clamps it to the server-side ceiling.
	MaxRounds int

	// DebateStyle applies in free mode only.
	DebateStyle DebateStyle

	// Params selects the generation parameter bundle.
	Params ParamSource

	// Knowledge injection settings.
	KBTiming        KBTiming
	KBTopK          int
	KBMaxCandidates int

	// FirstMessage triggers the moderator opening sub-phase (moderated mode).
	FirstMessage bool

	// ShouldEnd triggers the moderator closing sub-phase (moderated mode).
	ShouldEnd bool

	// TraceID propagates the caller's request id to the generation backend.
	TraceID string

	// Sink overrides the orchestrator's turn sink for this exchange.
	Sink TurnSink
}

// Limits are server-enforced bounds, independent of what clients request.
type Limits struct {
	// MaxRounds caps the per-exchange round budget to bound cost.
	MaxRounds int `yaml:"max_rounds" json:"max_rounds"`

	// MinCoaches and MaxCoaches bound the roster size at session creation.
	MinCoaches int `yaml:"min_coaches" json:"min_coaches"`
	MaxCoaches int `yaml:"max_coaches" json:"max_coaches"`

	// EventBuffer sizes the outbound event channel, the producer/consumer
	// handoff between generation and the client stream.
	EventBuffer int `yaml:"event_buffer" json:"event_buffer"`

	// MaxTopK and MaxCandidates bound retrieval budgets.
	MaxTopK       int `yaml:"max_top_k" json:"max_top_k"`
	MaxCandidates int `yaml:"max_candidates" json:"max_candidates"`

	// PromptBudget caps assembled prompt size in tokens. Zero disables
	// trimming.
	PromptBudget int `yaml:"prompt_budget" json:"prompt_budget"`
}

// DefaultLimits returns the server defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxRounds:     3,
		MinCoaches:    2,
		MaxCoaches:    5,
		EventBuffer:   64,
		MaxTopK:       20,
		MaxCandidates: 2000,
		PromptBudget:  6000,
	}
}

// validate checks the configuration invariants that must hold before any
// event is emitted. Violations surface as synchronous invocation failures.
func validate(session *Session, limits Limits) *types.Error {
	if session == nil || len(session.Coaches) == 0 {
		return types.NewError(types.ErrRosterEmpty, "session has no coaches")
	}
	if !session.Active {
		return types.NewError(types.ErrSessionInactive, "session is not active")
	}
	if session.Mode == ModeModerated && session.Moderator == nil {
		return types.NewError(types.ErrModeratorRequired, "moderated mode requires a moderator")
	}
	return nil
}

// clampRounds applies the server ceiling to the client-requested budget.
// Moderated mode always runs exactly one coach round.
func clampRounds(mode DiscussionMode, requested, ceiling int) int {
	if mode == ModeModerated {
		return 1
	}
	if requested < 1 {
		requested = 1
	}
	if ceiling > 0 && requested > ceiling {
		return ceiling
	}
	return requested
}
