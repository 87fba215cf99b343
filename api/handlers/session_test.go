package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fretelli/AIWendy/api"
	"github.com/fretelli/AIWendy/store"
)

// =============================================================================
// Test fixtures
// =============================================================================

func testStore(t *testing.T) *store.Store {
	t.Helper()
	cfg := store.Config{
		Driver:       "sqlite",
		DSN:          ":memory:",
		MaxIdleConns: 1,
		MaxOpenConns: 1, // in-memory sqlite is per-connection
	}
	s, err := store.Open(cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.SeedCoaches(context.Background(), []store.Coach{
		{ID: "ada", Name: "Ada", Style: "analytical", SystemPrompt: "You are Ada.", IsActive: true, SortOrder: 1},
		{ID: "bo", Name: "Bo", Style: "supportive", SystemPrompt: "You are Bo.", IsActive: true, SortOrder: 2},
		{ID: "cy", Name: "Cy", Style: "direct", SystemPrompt: "You are Cy.", IsActive: true, SortOrder: 3},
		{ID: "host", Name: "Host", IsModerator: true, IsActive: true, SortOrder: 99},
	}))
	return s
}

func postJSON(t *testing.T, handler http.HandlerFunc, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success, "expected a success envelope: %s", rec.Body.String())
	require.NoError(t, json.Unmarshal(resp.Data, dst))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error.Code
}

// =============================================================================
// SessionHandler
// =============================================================================

func TestSessionHandler_HandleCoaches(t *testing.T) {
	h := NewSessionHandler(testStore(t), zap.NewNop())

	rec := httptest.NewRecorder()
	h.HandleCoaches(rec, httptest.NewRequest(http.MethodGet, "/api/v1/coaches", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var coaches []api.CoachBrief
	decodeData(t, rec, &coaches)
	require.Len(t, coaches, 4)
	assert.Equal(t, "ada", coaches[0].ID, "sort order respected")
	assert.True(t, coaches[3].IsModerator)
}

func TestSessionHandler_HandleCreate(t *testing.T) {
	h := NewSessionHandler(testStore(t), zap.NewNop())

	rec := postJSON(t, h.HandleCreate, "/api/v1/sessions", api.CreateSessionRequest{
		CoachIDs: []string{"ada", "bo"},
		Title:    "Morning review",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	var session api.SessionResponse
	decodeData(t, rec, &session)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, "Morning review", session.Title)
	assert.Equal(t, "free", session.DiscussionMode)
	assert.Equal(t, "off", session.KBTiming)
	assert.True(t, session.IsActive)
	require.Len(t, session.Coaches, 2)
	assert.Equal(t, "Ada", session.Coaches[0].Name)
}

func TestSessionHandler_HandleCreateModeratedDefaultsHost(t *testing.T) {
	h := NewSessionHandler(testStore(t), zap.NewNop())

	rec := postJSON(t, h.HandleCreate, "/api/v1/sessions", api.CreateSessionRequest{
		CoachIDs:       []string{"ada", "bo"},
		DiscussionMode: "moderated",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	var session api.SessionResponse
	decodeData(t, rec, &session)
	assert.Equal(t, "moderated", session.DiscussionMode)
	assert.Equal(t, "host", session.ModeratorID)
}

func TestSessionHandler_HandleCreateRejectsBadInput(t *testing.T) {
	h := NewSessionHandler(testStore(t), zap.NewNop())

	tests := []struct {
		name     string
		request  api.CreateSessionRequest
		status   int
		wantCode string
	}{
		{
			name:     "roster too small",
			request:  api.CreateSessionRequest{CoachIDs: []string{"ada"}},
			status:   http.StatusBadRequest,
			wantCode: "ROSTER_TOO_SMALL",
		},
		{
			name:     "roster too large",
			request:  api.CreateSessionRequest{CoachIDs: []string{"a", "b", "c", "d", "e", "f"}},
			status:   http.StatusBadRequest,
			wantCode: "ROSTER_TOO_LARGE",
		},
		{
			name:     "unknown coach",
			request:  api.CreateSessionRequest{CoachIDs: []string{"ada", "nobody"}},
			status:   http.StatusNotFound,
			wantCode: "COACH_NOT_FOUND",
		},
		{
			name: "bad mode",
			request: api.CreateSessionRequest{
				CoachIDs:       []string{"ada", "bo"},
				DiscussionMode: "chaotic",
			},
			status:   http.StatusBadRequest,
			wantCode: "INVALID_REQUEST",
		},
		{
			name: "bad kb timing",
			request: api.CreateSessionRequest{
				CoachIDs: []string{"ada", "bo"},
				KBTiming: "sometimes",
			},
			status:   http.StatusBadRequest,
			wantCode: "INVALID_REQUEST",
		},
		{
			name: "temperature out of range",
			request: api.CreateSessionRequest{
				CoachIDs:    []string{"ada", "bo"},
				Temperature: 3.5,
			},
			status:   http.StatusBadRequest,
			wantCode: "INVALID_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, h.HandleCreate, "/api/v1/sessions", tt.request)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.wantCode, errorCode(t, rec))
		})
	}
}

func TestSessionHandler_GetUpdateEnd(t *testing.T) {
	s := testStore(t)
	h := NewSessionHandler(s, zap.NewNop())

	created, err := s.CreateSession(context.Background(), store.Session{
		CoachIDs:       []string{"ada", "bo"},
		DiscussionMode: "free",
		KBTiming:       "off",
	})
	require.NoError(t, err)

	// Get.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+created.ID, nil)
	req.SetPathValue("id", created.ID)
	rec := httptest.NewRecorder()
	h.HandleGet(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var got api.SessionResponse
	decodeData(t, rec, &got)
	assert.Equal(t, created.ID, got.ID)
	require.Len(t, got.Coaches, 2)

	// Partial update leaves other settings alone.
	model := "gpt-4o"
	raw, err := json.Marshal(api.UpdateSessionRequest{Model: &model})
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPatch, "/api/v1/sessions/"+created.ID, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.SetPathValue("id", created.ID)
	rec = httptest.NewRecorder()
	h.HandleUpdate(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &got)
	assert.Equal(t, "gpt-4o", got.Model)
	assert.Equal(t, "off", got.KBTiming)

	// End.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+created.ID+"/end", nil)
	req.SetPathValue("id", created.ID)
	rec = httptest.NewRecorder()
	h.HandleEnd(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	ended, err := s.GetSession(context.Background(), created.ID)
	require.NoError(t, err)
	assert.False(t, ended.IsActive)
}

func TestSessionHandler_GetUnknownSession(t *testing.T) {
	h := NewSessionHandler(testStore(t), zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/missing", nil)
	req.SetPathValue("id", "missing")
	rec := httptest.NewRecorder()
	h.HandleGet(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", errorCode(t, rec))
}

func TestSessionHandler_HandleMessages(t *testing.T) {
	s := testStore(t)
	h := NewSessionHandler(s, zap.NewNop())

	created, err := s.CreateSession(context.Background(), store.Session{
		CoachIDs: []string{"ada", "bo"},
	})
	require.NoError(t, err)
	_, err = s.AppendMessage(context.Background(), store.Message{
		SessionID: created.ID,
		Role:      "user",
		Content:   "How do I stop revenge trading?",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+created.ID+"/messages", nil)
	req.SetPathValue("id", created.ID)
	rec := httptest.NewRecorder()
	h.HandleMessages(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []api.MessageResponse
	decodeData(t, rec, &msgs)
	require.Len(t, msgs, 1)
	assert.Equal(t, "How do I stop revenge trading?", msgs[0].Content)
}
