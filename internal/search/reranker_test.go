package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRerankServer(t *testing.T, handler func(req rerankRequest) []rerankEntry) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rerank":
			var req rerankRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			_ = json.NewEncoder(w).Encode(handler(req))
		case "/health":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRerankerScoresInInputOrder(t *testing.T) {
	server := newRerankServer(t, func(req rerankRequest) []rerankEntry {
		// Services typically answer sorted by score; the client must
		// map entries back to input positions.
		return []rerankEntry{
			{Index: 1, Score: 4.0},
			{Index: 0, Score: -2.0},
		}
	})
	r := NewHTTPReranker(RerankerConfig{Endpoint: server.URL})

	scores, err := r.Score(context.Background(), "query", []string{"weak passage", "strong passage"})
	require.NoError(t, err)

	require.Len(t, scores, 2)
	assert.InDelta(t, sigmoid(-2.0), scores[0], 1e-9)
	assert.InDelta(t, sigmoid(4.0), scores[1], 1e-9)
	assert.Greater(t, scores[1], scores[0])
}

func TestRerankerScoresBounded(t *testing.T) {
	server := newRerankServer(t, func(req rerankRequest) []rerankEntry {
		return []rerankEntry{
			{Index: 0, Score: 100.0},
			{Index: 1, Score: -100.0},
		}
	})
	r := NewHTTPReranker(RerankerConfig{Endpoint: server.URL})

	scores, err := r.Score(context.Background(), "q", []string{"a", "b"})
	require.NoError(t, err)

	for _, s := range scores {
		assert.Greater(t, s, 0.0)
		assert.Less(t, s, 1.0)
	}
}

func TestRerankerEmptyPassages(t *testing.T) {
	r := NewHTTPReranker(RerankerConfig{Endpoint: "http://127.0.0.1:1"})

	scores, err := r.Score(context.Background(), "query", nil)
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestRerankerRejectsBadIndexes(t *testing.T) {
	server := newRerankServer(t, func(req rerankRequest) []rerankEntry {
		return []rerankEntry{{Index: 5, Score: 1.0}}
	})
	r := NewHTTPReranker(RerankerConfig{Endpoint: server.URL})

	_, err := r.Score(context.Background(), "q", []string{"a"})
	assert.Error(t, err)
}

func TestRerankerRejectsMissingScores(t *testing.T) {
	server := newRerankServer(t, func(req rerankRequest) []rerankEntry {
		return []rerankEntry{{Index: 0, Score: 1.0}}
	})
	r := NewHTTPReranker(RerankerConfig{Endpoint: server.URL})

	_, err := r.Score(context.Background(), "q", []string{"a", "b"})
	assert.Error(t, err)
}

func TestRerankerServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)
	r := NewHTTPReranker(RerankerConfig{Endpoint: server.URL})

	_, err := r.Score(context.Background(), "q", []string{"a"})
	assert.Error(t, err)
}

func TestRerankerAvailable(t *testing.T) {
	server := newRerankServer(t, func(req rerankRequest) []rerankEntry { return nil })
	r := NewHTTPReranker(RerankerConfig{Endpoint: server.URL})
	assert.True(t, r.Available(context.Background()))

	down := NewHTTPReranker(RerankerConfig{Endpoint: "http://127.0.0.1:1"})
	assert.False(t, down.Available(context.Background()))
}

func TestSigmoid(t *testing.T) {
	assert.InDelta(t, 0.5, sigmoid(0), 1e-9)
	assert.Greater(t, sigmoid(3), sigmoid(1))
	assert.Less(t, sigmoid(-3), sigmoid(-1))
}
