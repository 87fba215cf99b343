package roundtable

import (
	"time"

	"github.com/fretelli/AIWendy/knowledge"
	"github.com/fretelli/AIWendy/types"
)

// TurnStatus tracks one participant turn through its lifecycle.
type TurnStatus string

const (
	TurnPending   TurnStatus = "pending"
	TurnStreaming TurnStatus = "streaming"
	TurnComplete  TurnStatus = "complete"
	TurnFailed    TurnStatus = "failed"
	TurnCancelled TurnStatus = "cancelled"
)

// Turn describes one generation slot before it runs.
type Turn struct {
	Coach    Coach
	Kind     MessageKind
	Round    int
	TraceID  string
	// Snippets are the knowledge snippets resolved for this turn, already
	// fetched per the exchange's injection policy.
	Snippets []knowledge.Snippet
}

// TurnRecord is the completed outcome of one turn, handed to the turn sink
// for persistence.
type TurnRecord struct {
	CoachID   string
	CoachName string
	Kind      MessageKind
	Round     int
	Status    TurnStatus
	Content   string
	Err       error
	StartedAt time.Time
	EndedAt   time.Time
}

// TurnSink receives finished turns in stream order. Sinks must not block:
// the orchestrator calls them inline between turns.
type TurnSink func(TurnRecord)

// exchangeState is the per-exchange working set. It lives on the producer
// goroutine only and needs no locking.
type exchangeState struct {
	session *Session
	opts    ExchangeOptions
	limits  Limits
	rounds  int

	// history is the conversation so far plus turns completed during this
	// exchange, in order.
	history []HistoryMessage

	// excluded marks coaches whose turn failed; they sit out the remaining
	// rounds of this exchange.
	excluded map[string]bool

	// snippets caches fetched snippet sets by policy key so each distinct
	// key is retrieved at most once per exchange.
	snippets map[string][]knowledge.Snippet

	// snippetWarned dedupes retrieval-failure warnings per key.
	snippetWarned map[string]bool
}

func newExchangeState(session *Session, history []HistoryMessage, opts ExchangeOptions, limits Limits) *exchangeState {
	st := &exchangeState{
		session:       session,
		opts:          opts,
		limits:        limits,
		rounds:        clampRounds(session.Mode, opts.MaxRounds, limits.MaxRounds),
		history:       make([]HistoryMessage, len(history)),
		excluded:      make(map[string]bool),
		snippets:      make(map[string][]knowledge.Snippet),
		snippetWarned: make(map[string]bool),
	}
	copy(st.history, history)
	return st
}

// activeCoaches returns the roster minus excluded participants, in roster
// order.
func (st *exchangeState) activeCoaches() []Coach {
	out := make([]Coach, 0, len(st.session.Coaches))
	for _, c := range st.session.Coaches {
		if !st.excluded[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

// record appends a completed turn to the in-exchange history so later turns
// see it.
func (st *exchangeState) record(coach Coach, kind MessageKind, content string) {
	st.history = append(st.history, HistoryMessage{
		CoachID:   coach.ID,
		CoachName: coach.Name,
		Role:      types.RoleAssistant,
		Content:   content,
		Kind:      kind,
	})
}

// recordUser appends the user's message, with attachments, to the history.
func (st *exchangeState) recordUser() {
	st.history = append(st.history, HistoryMessage{
		Role:        types.RoleUser,
		Content:     st.opts.UserMessage,
		Kind:        KindResponse,
		Attachments: st.opts.Attachments,
	})
}
