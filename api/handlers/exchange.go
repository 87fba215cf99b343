package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/fretelli/AIWendy/api"
	"github.com/fretelli/AIWendy/roundtable"
	"github.com/fretelli/AIWendy/store"
	"github.com/fretelli/AIWendy/types"
)

// ExchangeRunner runs one exchange and streams its events. Satisfied by
// *roundtable.Orchestrator.
type ExchangeRunner interface {
	Run(ctx context.Context, session *roundtable.Session, history []roundtable.HistoryMessage, opts roundtable.ExchangeOptions) (<-chan roundtable.Event, error)
}

// ExchangeHandler serves the streaming exchange endpoint.
type ExchangeHandler struct {
	store  *store.Store
	runner ExchangeRunner
	logger *zap.Logger
}

func NewExchangeHandler(st *store.Store, runner ExchangeRunner, logger *zap.Logger) *ExchangeHandler {
	return &ExchangeHandler{
		store:  st,
		runner: runner,
		logger: logger.With(zap.String("component", "exchange_handler")),
	}
}

// HandleExchange serves POST /api/v1/exchange. The response is a server-sent
// event stream; every frame is one JSON-encoded exchange event. Configuration
// errors are rejected with a normal JSON error response before any SSE bytes
// are written.
func (h *ExchangeHandler) HandleExchange(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.ExchangeRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if apiErr := validateExchange(&req); apiErr != nil {
		WriteError(w, apiErr, h.logger)
		return
	}

	ctx := r.Context()

	ex, apiErr := h.prepare(ctx, &req, r.Header.Get("X-Request-ID"))
	if apiErr != nil {
		WriteError(w, apiErr, h.logger)
		return
	}

	events, err := h.runner.Run(ctx, ex.session, ex.history, ex.opts)
	if err != nil {
		if apiErr, ok := err.(*types.Error); ok {
			WriteError(w, apiErr, h.logger)
			return
		}
		WriteError(w, types.NewError(types.ErrExchangeFailed, "exchange failed to start").WithCause(err), h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, types.NewError(types.ErrInternalError, "streaming not supported"), h.logger)
		return
	}

	rounds := 0
	for ev := range events {
		if ev.Type == roundtable.EventRoundEnd {
			rounds++
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			h.logger.Error("failed to encode event", zap.Error(err))
			return
		}
		w.Write([]byte("data: "))
		w.Write(payload)
		w.Write([]byte("\n\n"))
		flusher.Flush()
	}

	if rounds > 0 {
		ex.bumpRounds(rounds)
	}
}

// preparedExchange carries a fully resolved exchange: the orchestration view
// of the session, its history, and options with the persistence sink wired.
type preparedExchange struct {
	handler    *ExchangeHandler
	sessionID  string
	persistCtx context.Context

	session *roundtable.Session
	history []roundtable.HistoryMessage
	opts    roundtable.ExchangeOptions
}

func (ex *preparedExchange) bumpRounds(rounds int) {
	if err := ex.handler.store.BumpRounds(ex.persistCtx, ex.sessionID, rounds); err != nil {
		ex.handler.logger.Warn("failed to bump session rounds",
			zap.String("session_id", ex.sessionID),
			zap.Error(err))
	}
}

// prepare loads the session, persists the user message and assembles the
// exchange input. Shared by the SSE and WebSocket transports.
func (h *ExchangeHandler) prepare(ctx context.Context, req *api.ExchangeRequest, traceID string) (*preparedExchange, *types.Error) {
	session, err := h.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, asAPIError(err, "failed to load session")
	}
	roster, err := h.store.GetCoaches(ctx, session.CoachIDs)
	if err != nil {
		return nil, asAPIError(err, "failed to load coaches")
	}
	var moderator *store.Coach
	if session.DiscussionMode == string(roundtable.ModeModerated) && session.ModeratorID != "" {
		mods, err := h.store.GetCoaches(ctx, []string{session.ModeratorID})
		if err != nil {
			return nil, asAPIError(err, "failed to load moderator")
		}
		moderator = &mods[0]
	}

	stored, err := h.store.History(ctx, session.ID, 0)
	if err != nil {
		return nil, asAPIError(err, "failed to load history")
	}

	firstMessage := session.MessageCount == 0
	baseRounds := session.RoundCount

	// Persistence outlives a client disconnect: a cancelled stream still
	// records what was completed.
	persistCtx := context.WithoutCancel(ctx)

	userMsg := store.Message{
		SessionID:   session.ID,
		Role:        string(types.RoleUser),
		Content:     req.Content,
		MessageType: string(roundtable.KindResponse),
		TurnNumber:  baseRounds,
		Attachments: req.Attachments,
	}
	if _, err := h.store.AppendMessage(persistCtx, userMsg); err != nil {
		return nil, asAPIError(err, "failed to persist message")
	}

	opts := h.buildOptions(req, session)
	opts.TraceID = traceID
	opts.FirstMessage = firstMessage
	opts.Sink = h.turnSink(persistCtx, session.ID, baseRounds)

	return &preparedExchange{
		handler:    h,
		sessionID:  session.ID,
		persistCtx: persistCtx,
		session:    store.ToRoundtableSession(session, roster, moderator),
		history:    store.ToHistory(stored, roster),
		opts:       opts,
	}, nil
}

func asAPIError(err error, fallback string) *types.Error {
	if apiErr, ok := err.(*types.Error); ok {
		return apiErr
	}
	return types.NewError(types.ErrInternalError, fallback).WithCause(err)
}

// buildOptions resolves request-level settings against session defaults.
// Model parameters are all-or-nothing: a model_override replaces the whole
// session bundle, never a single field of it.
func (h *ExchangeHandler) buildOptions(req *api.ExchangeRequest, session *store.Session) roundtable.ExchangeOptions {
	opts := roundtable.ExchangeOptions{
		UserMessage: req.Content,
		Attachments: req.Attachments,
		MaxRounds:   req.MaxRounds,
		DebateStyle: roundtable.DebateStyle(req.DebateStyle),
		Params:      roundtable.UseSessionDefaults(),
		ShouldEnd:   req.ShouldEnd,
	}
	if ov := req.ModelOverride; ov != nil {
		opts.Params = roundtable.UseOverride(roundtable.ModelParams{
			Provider:    ov.Provider,
			Model:       ov.Model,
			Temperature: ov.Temperature,
			MaxTokens:   ov.MaxTokens,
		})
	}

	opts.KBTiming = roundtable.KBTiming(session.KBTiming)
	if req.KBTiming != "" {
		opts.KBTiming = roundtable.KBTiming(req.KBTiming)
	}
	if opts.KBTiming == "" {
		opts.KBTiming = roundtable.KBOff
	}
	opts.KBTopK = session.KBTopK
	if req.KBTopK > 0 {
		opts.KBTopK = req.KBTopK
	}
	opts.KBMaxCandidates = session.KBMaxCandidates
	if req.KBMaxCandidates > 0 {
		opts.KBMaxCandidates = req.KBMaxCandidates
	}
	return opts
}

// turnSink persists finished turns as session messages. Failed turns keep
// whatever partial content streamed before the failure.
func (h *ExchangeHandler) turnSink(ctx context.Context, sessionID string, baseRounds int) roundtable.TurnSink {
	seq := make(map[int]int)
	return func(rec roundtable.TurnRecord) {
		if rec.Content == "" {
			return
		}
		switch rec.Status {
		case roundtable.TurnComplete, roundtable.TurnFailed:
		default:
			return
		}
		turn := baseRounds + rec.Round
		if rec.Round == 0 {
			// Moderator sub-phases belong to the single moderated round.
			turn = baseRounds + 1
		}
		seq[turn]++
		_, err := h.store.AppendMessage(ctx, store.Message{
			SessionID:      sessionID,
			CoachID:        rec.CoachID,
			Role:           string(types.RoleAssistant),
			Content:        rec.Content,
			MessageType:    string(rec.Kind),
			TurnNumber:     turn,
			SequenceInTurn: seq[turn],
		})
		if err != nil {
			h.logger.Warn("failed to persist turn",
				zap.String("session_id", sessionID),
				zap.String("coach_id", rec.CoachID),
				zap.Error(err))
		}
	}
}

func validateExchange(req *api.ExchangeRequest) *types.Error {
	if strings.TrimSpace(req.SessionID) == "" {
		return types.NewError(types.ErrInvalidRequest, "session_id is required")
	}
	if strings.TrimSpace(req.Content) == "" {
		return types.NewError(types.ErrInvalidRequest, "content is required")
	}
	switch roundtable.DebateStyle(req.DebateStyle) {
	case "", roundtable.StyleConverge, roundtable.StyleClash:
	default:
		return types.NewError(types.ErrInvalidRequest, "debate_style must be converge or clash")
	}
	if req.KBTiming != "" && !validKBTiming(req.KBTiming) {
		return types.NewError(types.ErrInvalidRequest, "invalid kb_timing")
	}
	if req.MaxRounds < 0 {
		return types.NewError(types.ErrInvalidRequest, "max_rounds must not be negative")
	}
	return nil
}
