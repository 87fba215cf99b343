package roundtable

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fretelli/AIWendy/llm"
	"github.com/fretelli/AIWendy/types"
)

// TurnExecutor runs a single participant turn end to end: start frame,
// streamed content frames, end frame. One executor is shared by all turns of
// an exchange.
type TurnExecutor struct {
	provider llm.Provider
	logger   *zap.Logger
}

func NewTurnExecutor(provider llm.Provider, logger *zap.Logger) *TurnExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TurnExecutor{
		provider: provider,
		logger:   logger.With(zap.String("component", "turn_executor")),
	}
}

// Execute runs one turn. It emits the turn's start frame, one content frame
// per fragment, and the matching end frame, then returns the completed
// record. A false return from emit means the consumer is gone; the turn is
// recorded as cancelled. Failures are emitted as scoped errors and never
// abort the stream here; exclusion policy is the orchestrator's call.
func (e *TurnExecutor) Execute(ctx context.Context, turn Turn, messages []types.Message, params ModelParams, emit EmitFunc) TurnRecord {
	rec := TurnRecord{
		CoachID:   turn.Coach.ID,
		CoachName: turn.Coach.Name,
		Kind:      turn.Kind,
		Round:     turn.Round,
		StartedAt: time.Now(),
	}

	if !emit(e.startEvent(turn)) {
		rec.Status = TurnCancelled
		rec.EndedAt = time.Now()
		return rec
	}

	content, err := e.stream(ctx, turn, messages, params, emit)
	rec.Content = content
	rec.EndedAt = time.Now()

	switch {
	case err != nil && (ctx.Err() != nil || types.GetErrorCode(err) == types.ErrExchangeCancelled):
		rec.Status = TurnCancelled
		rec.Err = err
	case err != nil:
		rec.Status = TurnFailed
		rec.Err = err
		e.logger.Warn("turn failed",
			zap.String("coach_id", turn.Coach.ID),
			zap.String("kind", string(turn.Kind)),
			zap.Int("round", turn.Round),
			zap.Error(err))
		emit(Event{
			Type:      EventError,
			CoachID:   turn.Coach.ID,
			CoachName: turn.Coach.Name,
			Message:   err.Error(),
		})
	default:
		rec.Status = TurnComplete
		emit(e.endEvent(turn))
	}
	return rec
}

// stream drives the provider and forwards fragments. It returns the
// accumulated content and the first error encountered.
func (e *TurnExecutor) stream(ctx context.Context, turn Turn, messages []types.Message, params ModelParams, emit EmitFunc) (string, error) {
	req := llm.ChatRequest{
		TraceID:     turn.TraceID,
		Model:       params.Model,
		Messages:    messages,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
	}

	chunks, err := e.provider.Stream(ctx, &req)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return sb.String(), types.NewError(types.ErrExchangeCancelled, "exchange cancelled").WithCause(ctx.Err())
		case chunk, ok := <-chunks:
			if !ok {
				return sb.String(), nil
			}
			if chunk.Err != nil {
				return sb.String(), chunk.Err
			}
			if chunk.Delta == "" {
				continue
			}
			sb.WriteString(chunk.Delta)
			if !emit(Event{
				Type:    EventContent,
				CoachID: turn.Coach.ID,
				Content: chunk.Delta,
			}) {
				return sb.String(), types.NewError(types.ErrExchangeCancelled, "stream consumer gone")
			}
		}
	}
}

func (e *TurnExecutor) startEvent(turn Turn) Event {
	if turn.Kind == KindResponse {
		return Event{
			Type:        EventCoachStart,
			CoachID:     turn.Coach.ID,
			CoachName:   turn.Coach.Name,
			CoachAvatar: turn.Coach.AvatarURL,
		}
	}
	return Event{
		Type:        EventModeratorStart,
		CoachID:     turn.Coach.ID,
		CoachName:   turn.Coach.Name,
		CoachAvatar: turn.Coach.AvatarURL,
		MessageType: string(turn.Kind),
	}
}

func (e *TurnExecutor) endEvent(turn Turn) Event {
	if turn.Kind == KindResponse {
		return Event{Type: EventCoachEnd, CoachID: turn.Coach.ID}
	}
	return Event{
		Type:        EventModeratorEnd,
		CoachID:     turn.Coach.ID,
		MessageType: string(turn.Kind),
	}
}
