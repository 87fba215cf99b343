package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// HTTP retriever
// =============================================================================

// HTTPConfig configures the HTTP retrieval client.
type HTTPConfig struct {
	// Endpoint is the full URL of the retrieval service's search route.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// APIKey is sent as a Bearer token when non-empty.
	APIKey string `yaml:"api_key" json:"api_key"`

	// Timeout bounds a single retrieval call.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// HTTPRetriever implements Retriever against an external retrieval service
// speaking a JSON search protocol.
type HTTPRetriever struct {
	cfg    HTTPConfig
	client *http.Client
	logger *zap.Logger
}

// NewHTTPRetriever builds a retriever for the given service endpoint.
func NewHTTPRetriever(cfg HTTPConfig, logger *zap.Logger) *HTTPRetriever {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPRetriever{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "kb_http")),
	}
}

type searchRequest struct {
	Query         string `json:"query"`
	TopK          int    `json:"top_k"`
	MaxCandidates int    `json:"max_candidates,omitempty"`
}

type searchResponse struct {
	Snippets []Snippet `json:"snippets"`
}

// Retrieve posts the query to the retrieval service and decodes the ranked
// snippet list. Non-2xx responses come back as errors so the caller's
// degrade-to-empty policy applies.
func (r *HTTPRetriever) Retrieve(ctx context.Context, query string, topK, maxCandidates int) ([]Snippet, error) {
	body, err := json.Marshal(searchRequest{
		Query:         query,
		TopK:          topK,
		MaxCandidates: maxCandidates,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retrieval request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("retrieval service returned %d: %s", resp.StatusCode, string(snippet))
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return decoded.Snippets, nil
}
