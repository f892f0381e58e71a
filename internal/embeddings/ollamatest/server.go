// Package ollamatest runs a fake Ollama embedding endpoint for tests.
package ollamatest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// EmbedFunc maps a prompt to its vector.
type EmbedFunc func(text string) []float32

// Server answers POST /api/embeddings with Embed(prompt).
type Server struct {
	*httptest.Server

	embed EmbedFunc
	down  atomic.Bool
	calls atomic.Int64
}

func New(t testing.TB, embed EmbedFunc) *Server {
	t.Helper()
	s := &Server{embed: embed}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("Ollama is running"))
	})
	mux.HandleFunc("POST /api/embeddings", s.handleEmbeddings)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// SetDown makes every request fail with 503 until called with false.
func (s *Server) SetDown(down bool) {
	s.down.Store(down)
}

// Calls returns the number of embedding requests received.
func (s *Server) Calls() int {
	return int(s.calls.Load())
}

func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	s.calls.Add(1)
	if s.down.Load() {
		http.Error(w, `{"error":"model is loading"}`, http.StatusServiceUnavailable)
		return
	}

	var req struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"embedding": s.embed(req.Prompt)})
}

// Keywords returns an EmbedFunc with one dimension per group of words. A
// dimension is 1 when the text contains any word of its group, plus a
// constant last dimension so no vector is all zeros.
func Keywords(groups ...[]string) EmbedFunc {
	return func(text string) []float32 {
		text = strings.ToLower(text)
		vec := make([]float32, len(groups)+1)
		for i, words := range groups {
			for _, w := range words {
				if strings.Contains(text, w) {
					vec[i] = 1
					break
				}
			}
		}
		vec[len(groups)] = 0.1
		return vec
	}
}
