// Package roundtable orchestrates multi-coach discussions: turn sequencing,
// round management, moderator phases and knowledge injection, streamed to the
// caller as an ordered event sequence.
package roundtable

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fretelli/AIWendy/internal/metrics"
	"github.com/fretelli/AIWendy/knowledge"
	"github.com/fretelli/AIWendy/llm"
	"github.com/fretelli/AIWendy/types"
)

const (
	defaultKBTopK          = 5
	defaultKBMaxCandidates = 200
	kbQueryHistoryTail     = 4
)

// Orchestrator runs exchanges against a fixed provider and retriever. It is
// safe for concurrent use; all per-exchange state lives in the producer
// goroutine of each Run call.
type Orchestrator struct {
	provider  llm.Provider
	retriever knowledge.Retriever
	assembler *Assembler
	executor  *TurnExecutor
	limits    Limits
	logger    *zap.Logger
	collector *metrics.Collector
	sink      TurnSink
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics attaches a metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *Orchestrator) { o.collector = c }
}

// WithTurnSink attaches a persistence callback invoked after every finished
// turn, in stream order.
func WithTurnSink(sink TurnSink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

// NewOrchestrator builds an orchestrator. The retriever may be nil, in which
// case all knowledge timings behave as off.
func NewOrchestrator(provider llm.Provider, retriever knowledge.Retriever, limits Limits, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		provider:  provider,
		retriever: retriever,
		assembler: NewAssembler(limits.PromptBudget),
		executor:  NewTurnExecutor(provider, logger),
		limits:    limits,
		logger:    logger.With(zap.String("component", "orchestrator")),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run starts one exchange. Configuration violations fail synchronously with
// no events. Otherwise Run returns a channel carrying the exchange's full
// event sequence; the channel closes after the terminal frame (done, or an
// unscoped error). Cancelling ctx stops generation promptly.
func (o *Orchestrator) Run(ctx context.Context, session *Session, history []HistoryMessage, opts ExchangeOptions) (<-chan Event, error) {
	if err := validate(session, o.limits); err != nil {
		return nil, err
	}

	st := newExchangeState(session, history, opts, o.limits)
	st.recordUser()

	ch := make(chan Event, o.limits.EventBuffer)
	go o.produce(ctx, st, ch)
	return ch, nil
}

// produce is the exchange producer goroutine. It owns st and ch.
func (o *Orchestrator) produce(ctx context.Context, st *exchangeState, ch chan<- Event) {
	defer close(ch)

	tracer := otel.Tracer("roundtable")
	ctx, span := tracer.Start(ctx, "exchange", trace.WithAttributes(
		attribute.String("session.id", st.session.ID),
		attribute.String("mode", string(st.session.Mode)),
		attribute.Int("rounds", st.rounds),
	))
	defer span.End()

	start := time.Now()
	status := "completed"
	defer func() {
		o.collector.RecordExchange(string(st.session.Mode), status, st.rounds, time.Since(start))
	}()

	emit := func(ev Event) bool {
		if ctx.Err() != nil {
			return false
		}
		if ev.Type == EventContent {
			o.collector.RecordFragment()
		}
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	moderated := st.session.Mode == ModeModerated

	// Exchange-wide fetch happens before anything streams.
	if st.opts.KBTiming == KBMessage {
		o.fetchSnippets(ctx, st, 1, phaseCoach, "")
	}

	if moderated && st.opts.FirstMessage {
		if !o.runModerator(ctx, st, KindOpening, nil, emit) {
			status = "cancelled"
			return
		}
	}

	for round := 1; round <= st.rounds; round++ {
		if !emit(Event{Type: EventRoundStart, Round: round}) {
			status = "cancelled"
			return
		}

		coaches := st.activeCoaches()
		roundMsgs := make([]HistoryMessage, 0, len(coaches))
		failures := 0

		for _, coach := range coaches {
			rec := o.runCoach(ctx, st, coach, round, emit)
			switch rec.Status {
			case TurnComplete:
				st.record(coach, KindResponse, rec.Content)
				roundMsgs = append(roundMsgs, HistoryMessage{
					CoachID:   coach.ID,
					CoachName: coach.Name,
					Role:      types.RoleAssistant,
					Content:   rec.Content,
					Kind:      KindResponse,
				})
			case TurnFailed:
				st.excluded[coach.ID] = true
				failures++
			case TurnCancelled:
				status = "cancelled"
				return
			}
		}

		if failures == len(coaches) {
			status = "failed"
			o.logger.Error("every participant failed in round",
				zap.String("session_id", st.session.ID),
				zap.Int("round", round))
			emit(Event{
				Type:    EventError,
				Message: "all participants failed; exchange aborted",
			})
			return
		}

		if !emit(Event{Type: EventRoundEnd, Round: round}) {
			status = "cancelled"
			return
		}

		// The moderator synthesizes after the coach round closes.
		if moderated {
			if !o.runModerator(ctx, st, KindSummary, roundMsgs, emit) {
				status = "cancelled"
				return
			}
		}
	}

	if moderated && st.opts.ShouldEnd {
		if !o.runModerator(ctx, st, KindClosing, nil, emit) {
			status = "cancelled"
			return
		}
	}

	emit(Event{Type: EventDone})
}

// runCoach executes one coach turn, including its snippet resolution.
func (o *Orchestrator) runCoach(ctx context.Context, st *exchangeState, coach Coach, round int, emit EmitFunc) TurnRecord {
	ctx, span := otel.Tracer("roundtable").Start(ctx, "turn", trace.WithAttributes(
		attribute.String("coach_id", coach.ID),
		attribute.Int("round", round),
	))
	defer span.End()

	snippets := o.fetchSnippets(ctx, st, round, phaseCoach, coach.ID)
	messages := o.assembler.CoachPrompt(st, coach, round, snippets)
	params := effectiveParams(st.opts.Params.Resolve(st.session.Defaults), coach, KindResponse)

	turn := Turn{
		Coach:    coach,
		Kind:     KindResponse,
		Round:    round,
		TraceID:  st.opts.TraceID,
		Snippets: snippets,
	}
	rec := o.executor.Execute(ctx, turn, messages, params, emit)
	o.finishTurn(st, rec)
	return rec
}

// runModerator executes one moderator sub-phase. A failed moderator turn is
// scoped like a coach failure and the exchange continues; only cancellation
// stops the stream. Returns false when the exchange should stop.
func (o *Orchestrator) runModerator(ctx context.Context, st *exchangeState, kind MessageKind, roundMsgs []HistoryMessage, emit EmitFunc) bool {
	mod := st.session.Moderator
	ctx, span := otel.Tracer("roundtable").Start(ctx, "moderator_turn", trace.WithAttributes(
		attribute.String("kind", string(kind)),
	))
	defer span.End()

	snippets := o.fetchSnippets(ctx, st, 1, phaseModerator, mod.ID)
	messages := o.assembler.ModeratorPrompt(st, kind, roundMsgs, snippets)
	params := effectiveParams(st.opts.Params.Resolve(st.session.Defaults), *mod, kind)

	turn := Turn{
		Coach:    *mod,
		Kind:     kind,
		TraceID:  st.opts.TraceID,
		Snippets: snippets,
	}
	rec := o.executor.Execute(ctx, turn, messages, params, emit)
	o.finishTurn(st, rec)

	if rec.Status == TurnComplete {
		st.record(*mod, kind, rec.Content)
	}
	return rec.Status != TurnCancelled
}

func (o *Orchestrator) finishTurn(st *exchangeState, rec TurnRecord) {
	o.collector.RecordTurn(string(rec.Kind), string(rec.Status), rec.EndedAt.Sub(rec.StartedAt))
	sink := o.sink
	if st.opts.Sink != nil {
		sink = st.opts.Sink
	}
	if sink != nil {
		sink(rec)
	}
}

// fetchSnippets resolves the snippet set for one turn per the exchange's
// timing policy. Each distinct policy key is retrieved at most once per
// exchange; retrieval failures degrade to a warning and an empty set.
func (o *Orchestrator) fetchSnippets(ctx context.Context, st *exchangeState, round int, ph phase, coachID string) []knowledge.Snippet {
	if o.retriever == nil {
		return nil
	}
	key, ok := snippetKey(st.opts.KBTiming, round, ph, coachID)
	if !ok {
		return nil
	}
	if cached, hit := st.snippets[key]; hit {
		return cached
	}

	topK := clampBudget(st.opts.KBTopK, defaultKBTopK, o.limits.MaxTopK)
	maxCand := clampBudget(st.opts.KBMaxCandidates, defaultKBMaxCandidates, o.limits.MaxCandidates)
	query := knowledgeQuery(st, kbQueryHistoryTail)

	fetchStart := time.Now()
	snippets, err := o.retriever.Retrieve(ctx, query, topK, maxCand)
	if err != nil {
		o.collector.RecordKBFetch("error", time.Since(fetchStart))
		if !st.snippetWarned[key] {
			st.snippetWarned[key] = true
			o.logger.Warn("knowledge retrieval failed, continuing without snippets",
				zap.String("session_id", st.session.ID),
				zap.String("stage", key),
				zap.Error(err))
		}
		st.snippets[key] = nil
		return nil
	}

	o.collector.RecordKBFetch("ok", time.Since(fetchStart))
	knowledge.SortByScore(snippets)
	st.snippets[key] = snippets
	return snippets
}
