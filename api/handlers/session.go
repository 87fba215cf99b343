package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/fretelli/AIWendy/api"
	"github.com/fretelli/AIWendy/roundtable"
	"github.com/fretelli/AIWendy/store"
	"github.com/fretelli/AIWendy/types"
)

const (
	minRosterSize = 2
	maxRosterSize = 5
)

// SessionHandler serves session CRUD.
type SessionHandler struct {
	store  *store.Store
	logger *zap.Logger
}

func NewSessionHandler(st *store.Store, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		store:  st,
		logger: logger.With(zap.String("component", "session_handler")),
	}
}

// HandleCoaches serves GET /api/v1/coaches.
func (h *SessionHandler) HandleCoaches(w http.ResponseWriter, r *http.Request) {
	coaches, err := h.store.ListCoaches(r.Context())
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "failed to list coaches").WithCause(err), h.logger)
		return
	}
	out := make([]api.CoachBrief, len(coaches))
	for i, c := range coaches {
		out[i] = toCoachBrief(c)
	}
	WriteSuccess(w, out)
}

// HandleCreate serves POST /api/v1/sessions.
func (h *SessionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.CreateSessionRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if apiErr := validateCreateSession(&req); apiErr != nil {
		WriteError(w, apiErr, h.logger)
		return
	}

	// Resolve the roster up front so a bad id fails the request.
	roster, err := h.store.GetCoaches(r.Context(), req.CoachIDs)
	if err != nil {
		writeStoreError(w, err, h.logger)
		return
	}

	mode := req.DiscussionMode
	if mode == "" {
		mode = string(roundtable.ModeFree)
	}
	moderatorID := req.ModeratorID
	if mode == string(roundtable.ModeModerated) {
		if moderatorID == "" {
			moderatorID = "host"
		}
		if _, err := h.store.GetCoaches(r.Context(), []string{moderatorID}); err != nil {
			writeStoreError(w, err, h.logger)
			return
		}
	}

	kbTiming := req.KBTiming
	if kbTiming == "" {
		kbTiming = string(roundtable.KBOff)
	}

	session, err := h.store.CreateSession(r.Context(), store.Session{
		Title:           req.Title,
		CoachIDs:        req.CoachIDs,
		DiscussionMode:  mode,
		ModeratorID:     moderatorID,
		LLMProvider:     strings.TrimSpace(req.Provider),
		LLMModel:        strings.TrimSpace(req.Model),
		LLMTemperature:  req.Temperature,
		LLMMaxTokens:    req.MaxTokens,
		KBTiming:        kbTiming,
		KBTopK:          req.KBTopK,
		KBMaxCandidates: req.KBMaxCandidates,
	})
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "failed to create session").WithCause(err), h.logger)
		return
	}

	WriteJSON(w, http.StatusCreated, Response{
		Success: true,
		Data:    toSessionResponse(session, roster),
	})
}

// HandleList serves GET /api/v1/sessions.
func (h *SessionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	userID := r.URL.Query().Get("user_id")

	sessions, err := h.store.ListSessions(r.Context(), userID, limit, offset)
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "failed to list sessions").WithCause(err), h.logger)
		return
	}
	out := make([]api.SessionResponse, len(sessions))
	for i := range sessions {
		out[i] = toSessionResponse(&sessions[i], nil)
	}
	WriteSuccess(w, out)
}

// HandleGet serves GET /api/v1/sessions/{id}.
func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	session, err := h.store.GetSession(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, h.logger)
		return
	}
	roster, err := h.store.GetCoaches(r.Context(), session.CoachIDs)
	if err != nil {
		writeStoreError(w, err, h.logger)
		return
	}
	WriteSuccess(w, toSessionResponse(session, roster))
}

// HandleMessages serves GET /api/v1/sessions/{id}/messages.
func (h *SessionHandler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.store.GetSession(r.Context(), id); err != nil {
		writeStoreError(w, err, h.logger)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	msgs, err := h.store.History(r.Context(), id, limit)
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "failed to load messages").WithCause(err), h.logger)
		return
	}
	out := make([]api.MessageResponse, len(msgs))
	for i, m := range msgs {
		out[i] = api.MessageResponse{
			ID:          m.ID,
			SessionID:   m.SessionID,
			CoachID:     m.CoachID,
			Role:        m.Role,
			Content:     m.Content,
			MessageType: m.MessageType,
			TurnNumber:  m.TurnNumber,
			Attachments: m.Attachments,
			CreatedAt:   m.CreatedAt,
		}
	}
	WriteSuccess(w, out)
}

// HandleUpdate serves PATCH /api/v1/sessions/{id}.
func (h *SessionHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	id := r.PathValue("id")
	var req api.UpdateSessionRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.KBTiming != nil && !validKBTiming(*req.KBTiming) {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "invalid kb_timing"), h.logger)
		return
	}

	session, err := h.store.UpdateSessionSettings(r.Context(), id, store.SessionSettings{
		Provider:        req.Provider,
		Model:           req.Model,
		Temperature:     req.Temperature,
		MaxTokens:       req.MaxTokens,
		KBTiming:        req.KBTiming,
		KBTopK:          req.KBTopK,
		KBMaxCandidates: req.KBMaxCandidates,
	})
	if err != nil {
		writeStoreError(w, err, h.logger)
		return
	}
	WriteSuccess(w, toSessionResponse(session, nil))
}

// HandleEnd serves POST /api/v1/sessions/{id}/end.
func (h *SessionHandler) HandleEnd(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.store.EndSession(r.Context(), id); err != nil {
		writeStoreError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"status": "ended"})
}

// =============================================================================
// Helpers
// =============================================================================

func validateCreateSession(req *api.CreateSessionRequest) *types.Error {
	if len(req.CoachIDs) < minRosterSize {
		return types.NewError(types.ErrRosterTooSmall, "a roundtable needs at least 2 coaches")
	}
	if len(req.CoachIDs) > maxRosterSize {
		return types.NewError(types.ErrRosterTooLarge, "a roundtable allows at most 5 coaches")
	}
	switch req.DiscussionMode {
	case "", string(roundtable.ModeFree), string(roundtable.ModeModerated):
	default:
		return types.NewError(types.ErrInvalidRequest, "discussion_mode must be free or moderated")
	}
	if req.KBTiming != "" && !validKBTiming(req.KBTiming) {
		return types.NewError(types.ErrInvalidRequest, "invalid kb_timing")
	}
	if req.Temperature < 0 || req.Temperature > 2 {
		return types.NewError(types.ErrInvalidRequest, "temperature must be between 0 and 2")
	}
	return nil
}

func validKBTiming(v string) bool {
	switch roundtable.KBTiming(v) {
	case roundtable.KBOff, roundtable.KBMessage, roundtable.KBRound,
		roundtable.KBCoach, roundtable.KBModerator:
		return true
	}
	return false
}

func writeStoreError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if apiErr, ok := err.(*types.Error); ok {
		WriteError(w, apiErr, logger)
		return
	}
	WriteError(w, types.NewError(types.ErrInternalError, "storage failure").WithCause(err), logger)
}

func toCoachBrief(c store.Coach) api.CoachBrief {
	return api.CoachBrief{
		ID:          c.ID,
		Name:        c.Name,
		AvatarURL:   c.AvatarURL,
		Style:       c.Style,
		Description: c.Description,
		IsModerator: c.IsModerator,
	}
}

func toSessionResponse(s *store.Session, roster []store.Coach) api.SessionResponse {
	resp := api.SessionResponse{
		ID:              s.ID,
		Title:           s.Title,
		CoachIDs:        s.CoachIDs,
		DiscussionMode:  s.DiscussionMode,
		ModeratorID:     s.ModeratorID,
		Provider:        s.LLMProvider,
		Model:           s.LLMModel,
		Temperature:     s.LLMTemperature,
		MaxTokens:       s.LLMMaxTokens,
		KBTiming:        s.KBTiming,
		KBTopK:          s.KBTopK,
		KBMaxCandidates: s.KBMaxCandidates,
		MessageCount:    s.MessageCount,
		RoundCount:      s.RoundCount,
		IsActive:        s.IsActive,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
	for _, c := range roster {
		resp.Coaches = append(resp.Coaches, toCoachBrief(c))
	}
	return resp
}
