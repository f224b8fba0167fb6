package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultRewriteModel is a small instruction-following model; query
	// rewriting does not need a large one.
	DefaultRewriteModel = "llama3.2"

	// DefaultRewriteTimeout bounds one rewrite call. Past this the
	// engine searches the original query alone.
	DefaultRewriteTimeout = 3 * time.Second

	// MaxVariants caps how many rewritten queries are searched.
	MaxVariants = 3
)

const rewritePrompt = `Rewrite the search query below into %d alternative phrasings that could match relevant passages the original wording would miss. Use synonyms, expand abbreviations, and vary between question and statement form. Answer in the same language as the query.

Respond with a JSON array of strings and nothing else.

Query: %s`

// Rewriter generates query variants with a local Ollama model. It is
// strictly best-effort: every failure mode (server down, timeout,
// malformed output) degrades to searching the original query only.
type Rewriter struct {
	endpoint string
	model    string
	timeout  time.Duration
	client   *http.Client
}

// RewriterConfig configures the rewriter.
type RewriterConfig struct {
	Endpoint string        // default: http://localhost:11434
	Model    string        // default: DefaultRewriteModel
	Timeout  time.Duration // default: DefaultRewriteTimeout
}

// NewRewriter creates a rewriter against a local Ollama server.
func NewRewriter(cfg RewriterConfig) *Rewriter {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = DefaultRewriteModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRewriteTimeout
	}
	return &Rewriter{
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		model:    cfg.Model,
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

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Rewrite returns up to MaxVariants alternative phrasings of query.
// The original query is never included in the returned slice. Errors
// are for logging only; callers should proceed with the original
// query.
func (r *Rewriter) Rewrite(ctx context.Context, query string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	body, err := json.Marshal(generateRequest{
		Model:  r.model,
		Prompt: fmt.Sprintf(rewritePrompt, MaxVariants, query),
		Stream: false,
		Format: "json",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rewrite request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rewrite request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	variants, err := parseVariants(gen.Response, query)
	if err != nil {
		return nil, err
	}
	slog.Debug("query rewritten",
		slog.String("query", query),
		slog.Int("variants", len(variants)))
	return variants, nil
}

// parseVariants extracts the variant list from model output. Models
// sometimes wrap the array in an object or prose; only the array is
// trusted.
func parseVariants(output, original string) ([]string, error) {
	output = strings.TrimSpace(output)

	start := strings.IndexByte(output, '[')
	end := strings.LastIndexByte(output, ']')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in model output")
	}

	var raw []string
	if err := json.Unmarshal([]byte(output[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("parse variants: %w", err)
	}

	seen := map[string]bool{strings.ToLower(strings.TrimSpace(original)): true}
	variants := make([]string, 0, MaxVariants)
	for _, v := range raw {
		v = strings.TrimSpace(v)
		key := strings.ToLower(v)
		if v == "" || seen[key] {
			continue
		}
		seen[key] = true
		variants = append(variants, v)
		if len(variants) == MaxVariants {
			break
		}
	}
	return variants, nil
}

// Available reports whether the Ollama server answers.
func (r *Rewriter) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"/api/tags", nil)
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
func (r *Rewriter) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
