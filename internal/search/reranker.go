package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

// DefaultRerankTimeout bounds one reranking call. Cross-encoders score
// every (query, passage) pair, so this scales with the pool size.
const DefaultRerankTimeout = 10 * time.Second

// Scorer scores passages against a query with a cross-encoder.
// Cross-encoders read the query and passage together, which ranks far
// more accurately than comparing embeddings but costs a model forward
// pass per pair.
type Scorer interface {
	// Score returns one relevance score per passage, in input order,
	// mapped to [0,1].
	Score(ctx context.Context, query string, passages []string) ([]float64, error)

	// Available reports whether the scoring backend answers.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// HTTPReranker calls a text-embeddings-inference style /rerank
// endpoint. The service returns raw logits; sigmoid maps them to
// [0,1] so rerank scores and fused scores live on the same scale.
type HTTPReranker struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
}

// RerankerConfig configures the HTTP reranker.
type RerankerConfig struct {
	Endpoint string        // e.g. http://localhost:8087
	Timeout  time.Duration // default: DefaultRerankTimeout
}

// NewHTTPReranker creates a reranker client.
func NewHTTPReranker(cfg RerankerConfig) *HTTPReranker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRerankTimeout
	}
	return &HTTPReranker{
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		timeout:  cfg.Timeout,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type rerankEntry struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Score sends the pairs to the reranking service.
func (r *HTTPReranker) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	body, err := json.Marshal(rerankRequest{Query: query, Texts: passages})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rerank request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var entries []rerankEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	scores := make([]float64, len(passages))
	seen := make([]bool, len(passages))
	for _, e := range entries {
		if e.Index < 0 || e.Index >= len(passages) {
			return nil, fmt.Errorf("rerank response: index %d out of range", e.Index)
		}
		scores[e.Index] = sigmoid(e.Score)
		seen[e.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("rerank response: missing score for passage %d", i)
		}
	}
	return scores, nil
}

// sigmoid maps a logit to (0,1).
func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// Available probes the service health endpoint.
func (r *HTTPReranker) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Close releases idle connections.
func (r *HTTPReranker) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

var _ Scorer = (*HTTPReranker)(nil)
