// Package llm defines the contract consumed for text generation. The
// roundtable core never implements a provider itself; concrete backends are
// wired in by the caller and treated as opaque fragment producers.
package llm

import (
	"context"
	"time"

	"github.com/fretelli/AIWendy/types"
)

// ChatRequest is a single generation request for one participant turn.
type ChatRequest struct {
	TraceID     string            `json:"trace_id,omitempty"`
	Model       string            `json:"model"`
	Messages    []types.Message   `json:"messages"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float32           `json:"temperature,omitempty"`
	Stop        []string          `json:"stop,omitempty"`
	Timeout     time.Duration     `json:"timeout,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ChatUsage reports token accounting for a completed request.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// ChatResponse is a full, non-streamed completion.
type ChatResponse struct {
	ID        string        `json:"id,omitempty"`
	Provider  string        `json:"provider,omitempty"`
	Model     string        `json:"model"`
	Content   string        `json:"content"`
	Usage     ChatUsage     `json:"usage,omitempty"`
	CreatedAt time.Time     `json:"created_at,omitempty"`
}

// StreamChunk is one increment of a streamed completion. The stream is finite
// and not restartable: after a chunk with FinishReason set, or a chunk whose
// Err is non-nil, no further chunks arrive and the channel is closed.
type StreamChunk struct {
	ID           string       `json:"id,omitempty"`
	Provider     string       `json:"provider,omitempty"`
	Model        string       `json:"model,omitempty"`
	Delta        string       `json:"delta"`
	FinishReason string       `json:"finish_reason,omitempty"`
	Usage        *ChatUsage   `json:"usage,omitempty"`
	Err          *types.Error `json:"error,omitempty"`
}

// HealthStatus reports the result of a provider health probe.
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	ErrorRate float64       `json:"error_rate"`
}

// Provider is the unified generation adapter interface.
type Provider interface {
	// Completion issues a synchronous chat request and returns the full response.
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Stream issues a streaming chat request. The returned channel yields
	// fragments in generation order and is closed when the stream ends.
	// Cancelling ctx aborts the upstream call.
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)

	// HealthCheck performs a lightweight availability probe.
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// Name returns the provider's unique identifier.
	Name() string
}
