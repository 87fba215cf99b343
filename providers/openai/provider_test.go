package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fretelli/AIWendy/llm"
	"github.com/fretelli/AIWendy/types"
)

func testProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewProvider(Config{APIKey: "test-key", BaseURL: srv.URL, Model: "gpt-4o-mini"}, zap.NewNop())
}

func TestProvider_Completion(t *testing.T) {
	t.Parallel()

	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model, "config model fills an empty request model")
		assert.False(t, req.Stream)

		json.NewEncoder(w).Encode(wireResponse{
			ID:    "cmpl-1",
			Model: "gpt-4o-mini",
			Choices: []wireChoice{
				{Message: wireDelta{Content: "Keep a trading journal."}, FinishReason: "stop"},
			},
			Usage: &wireUsage{PromptTokens: 12, CompletionTokens: 5, TotalTokens: 17},
		})
	})

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []types.Message{types.NewUserMessage("How do I improve discipline?")},
	})
	require.NoError(t, err)
	assert.Equal(t, "Keep a trading journal.", resp.Content)
	assert.Equal(t, 17, resp.Usage.TotalTokens)
}

func TestProvider_Stream(t *testing.T) {
	t.Parallel()

	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, delta := range []string{"Size ", "down ", "after losses."} {
			chunk := wireResponse{ID: "cmpl-2", Choices: []wireChoice{{Delta: &wireDelta{Content: delta}}}}
			data, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	stream, err := p.Stream(context.Background(), &llm.ChatRequest{
		Model:    "gpt-4o",
		Messages: []types.Message{types.NewUserMessage("hello")},
	})
	require.NoError(t, err)

	var got string
	for chunk := range stream {
		require.Nil(t, chunk.Err)
		got += chunk.Delta
	}
	assert.Equal(t, "Size down after losses.", got)
}

func TestProvider_StreamCancelledMidStream(t *testing.T) {
	t.Parallel()

	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunk := wireResponse{ID: "cmpl-3", Choices: []wireChoice{{Delta: &wireDelta{Content: "first"}}}}
		data, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", data)
		w.(http.Flusher).Flush()
		// Hold the connection open until the client gives up.
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := p.Stream(ctx, &llm.ChatRequest{
		Messages: []types.Message{types.NewUserMessage("hello")},
	})
	require.NoError(t, err)

	first, ok := <-stream
	require.True(t, ok)
	assert.Equal(t, "first", first.Delta)

	// Cancel without draining. The producer must exit and close the channel
	// on its own rather than block on an error-chunk send with no receiver.
	cancel()
	time.Sleep(100 * time.Millisecond)

	select {
	case chunk, open := <-stream:
		require.False(t, open, "expected closed channel, producer still sending: %+v", chunk)
	case <-time.After(2 * time.Second):
		t.Fatal("stream channel not closed after cancellation")
	}
}

func TestProvider_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status   int
		wantCode types.ErrorCode
		retry    bool
	}{
		{http.StatusUnauthorized, types.ErrUnauthorized, false},
		{http.StatusTooManyRequests, types.ErrRateLimited, true},
		{http.StatusBadRequest, types.ErrInvalidRequest, false},
		{http.StatusNotFound, types.ErrModelNotFound, false},
		{http.StatusServiceUnavailable, types.ErrUpstreamError, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]string{"message": "upstream said no"},
				})
			})

			_, err := p.Completion(context.Background(), &llm.ChatRequest{
				Messages: []types.Message{types.NewUserMessage("hi")},
			})
			require.Error(t, err)
			var apiErr *types.Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.wantCode, apiErr.Code)
			assert.Equal(t, tt.retry, apiErr.Retryable)
			assert.Equal(t, "upstream said no", apiErr.Message)
		})
	}
}

func TestProvider_MultimodalMessages(t *testing.T) {
	t.Parallel()

	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var raw struct {
			Messages []struct {
				Content json.RawMessage `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		require.Len(t, raw.Messages, 1)

		var parts []wireContentPart
		require.NoError(t, json.Unmarshal(raw.Messages[0].Content, &parts))
		require.Len(t, parts, 2)
		assert.Equal(t, "text", parts[0].Type)
		assert.Equal(t, "image_url", parts[1].Type)

		json.NewEncoder(w).Encode(wireResponse{
			Choices: []wireChoice{{Message: wireDelta{Content: "ok"}}},
		})
	})

	msg := types.NewUserMessage("What does this chart show?").WithImages([]types.ImageContent{
		{Type: "url", URL: "https://example.com/chart.png"},
	})
	_, err := p.Completion(context.Background(), &llm.ChatRequest{Messages: []types.Message{msg}})
	require.NoError(t, err)
}

func TestProvider_HealthCheck(t *testing.T) {
	t.Parallel()

	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})

	status, err := p.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)
}
