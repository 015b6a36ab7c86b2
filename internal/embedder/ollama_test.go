package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embedServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.Write([]byte(`{"models":[]}`))
		case "/api/embed":
			var req embedRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if status != http.StatusOK {
				w.WriteHeader(status)
				return
			}
			// The vector encodes the input length so callers can check ordering.
			json.NewEncoder(w).Encode(embedResponse{
				Embeddings: [][]float32{{float32(len(req.Input)), 1}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllama_Embed(t *testing.T) {
	srv := embedServer(t, http.StatusOK)
	c := NewOllama(srv.URL+"/", "nomic-embed-text")
	assert.Equal(t, "nomic-embed-text", c.Model())

	v, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 1}, v)
}

func TestOllama_EmbedBadStatus(t *testing.T) {
	srv := embedServer(t, http.StatusInternalServerError)
	_, err := NewOllama(srv.URL, "m").Embed(context.Background(), "x")
	assert.ErrorContains(t, err, "unexpected status 500")
}

func TestOllama_IsRunning(t *testing.T) {
	srv := embedServer(t, http.StatusOK)
	assert.True(t, NewOllama(srv.URL, "m").IsRunning(context.Background()))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	down.Close()
	assert.False(t, NewOllama(down.URL, "m").IsRunning(context.Background()))
}

func TestEmbedBatch_PreservesOrder(t *testing.T) {
	srv := embedServer(t, http.StatusOK)
	c := NewOllama(srv.URL, "m")

	texts := []string{"a", "bbb", "cc", strings.Repeat("d", 9), "eeee"}
	vecs, err := EmbedBatch(context.Background(), c, texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	for i, text := range texts {
		assert.Equal(t, float32(len(text)), vecs[i][0])
	}
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "bad" {
		return nil, errors.New("model unavailable")
	}
	return []float32{1}, nil
}

func TestEmbedBatch_Error(t *testing.T) {
	_, err := EmbedBatch(context.Background(), failingEmbedder{}, []string{"ok", "bad"})
	assert.ErrorContains(t, err, "model unavailable")
}
