// Package qdranttest runs an in-process imitation of the subset of the Qdrant
// REST API that vectorindex uses, for tests.
package qdranttest

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
)

// Request is one call the server received.
type Request struct {
	Method string
	Path   string
	Query  string
}

// Point is a stored point.
type Point struct {
	ID      any            `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type collection struct {
	size   int
	points map[string]Point
}

// Server is a fake Qdrant. The zero value is not usable; call New.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	collections map[string]*collection
	requests    []Request
	failStatus  int
}

// New starts a fake Qdrant and closes it when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{collections: make(map[string]*collection)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("all shards are ready"))
	})
	mux.HandleFunc("GET /collections/{name}", s.getCollection)
	mux.HandleFunc("PUT /collections/{name}", s.createCollection)
	mux.HandleFunc("PUT /collections/{name}/points", s.upsertPoints)
	mux.HandleFunc("POST /collections/{name}/points/search", s.search)

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, Request{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery})
		fail := s.failStatus
		s.mu.Unlock()

		if fail != 0 {
			writeError(w, fail, "injected failure")
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

// FailWith makes every following request answer with status. Zero restores
// normal behaviour.
func (s *Server) FailWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = status
}

// CreateCollection creates a collection directly, bypassing the API.
func (s *Server) CreateCollection(name string, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[name] = &collection{size: size, points: make(map[string]Point)}
}

// PutPoint stores a point directly, bypassing the API and its validation.
func (s *Server) PutPoint(name string, p Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		c = &collection{size: len(p.Vector), points: make(map[string]Point)}
		s.collections[name] = c
	}
	c.points[idKey(p.ID)] = p
}

// Points returns a copy of the points of a collection, keyed by point ID.
func (s *Server) Points(name string) map[string]Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Point)
	if c, ok := s.collections[name]; ok {
		for k, v := range c.points {
			out[k] = v
		}
	}
	return out
}

// VectorSize returns the size of a collection and whether it exists.
func (s *Server) VectorSize(name string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return 0, false
	}
	return c.size, true
}

// Requests returns every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// MutatingRequests returns the PUT, POST and DELETE requests other than
// searches.
func (s *Server) MutatingRequests() []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Method == http.MethodGet {
			continue
		}
		if r.Method == http.MethodPost && strings.HasSuffix(r.Path, "/points/search") {
			continue
		}
		out = append(out, r)
	}
	return out
}

// ResetRequests clears the request log.
func (s *Server) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

func (s *Server) getCollection(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	c, ok := s.collections[r.PathValue("name")]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Collection `"+r.PathValue("name")+"` doesn't exist!")
		return
	}
	writeResult(w, map[string]any{
		"status": "green",
		"config": map[string]any{
			"params": map[string]any{
				"vectors": map[string]any{"size": c.size, "distance": "Cosine"},
			},
		},
	})
}

func (s *Server) createCollection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Vectors struct {
			Size     int    `json:"size"`
			Distance string `json:"distance"`
		} `json:"vectors"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Vectors.Size <= 0 {
		writeError(w, http.StatusBadRequest, "bad collection config")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	name := r.PathValue("name")
	if _, ok := s.collections[name]; ok {
		writeError(w, http.StatusConflict, "Collection `"+name+"` already exists!")
		return
	}
	s.collections[name] = &collection{size: req.Vectors.Size, points: make(map[string]Point)}
	writeResult(w, true)
}

func (s *Server) upsertPoints(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Points []Point `json:"points"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[r.PathValue("name")]
	if !ok {
		writeError(w, http.StatusNotFound, "collection not found")
		return
	}
	for _, p := range req.Points {
		if len(p.Vector) != c.size {
			writeError(w, http.StatusBadRequest, "Wrong input: Vector dimension error")
			return
		}
	}
	for _, p := range req.Points {
		c.points[idKey(p.ID)] = p
	}
	writeResult(w, map[string]any{"operation_id": len(s.requests), "status": "completed"})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Vector      []float32 `json:"vector"`
		Limit       int       `json:"limit"`
		WithPayload bool      `json:"with_payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	c, ok := s.collections[r.PathValue("name")]
	var points []Point
	if ok {
		for _, p := range c.points {
			points = append(points, p)
		}
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "collection not found")
		return
	}
	if len(req.Vector) != c.size {
		writeError(w, http.StatusBadRequest, "Wrong input: Vector dimension error")
		return
	}

	type hit struct {
		ID      any            `json:"id"`
		Version int            `json:"version"`
		Score   float32        `json:"score"`
		Payload map[string]any `json:"payload,omitempty"`
	}
	hits := make([]hit, 0, len(points))
	for _, p := range points {
		h := hit{ID: p.ID, Score: cosineSimilarity(req.Vector, p.Vector)}
		if req.WithPayload {
			h.Payload = p.Payload
		}
		hits = append(hits, h)
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return idKey(hits[i].ID) < idKey(hits[j].ID)
	})
	if req.Limit > 0 && req.Limit < len(hits) {
		hits = hits[:req.Limit]
	}
	writeResult(w, hits)
}

func idKey(id any) string {
	b, _ := json.Marshal(id)
	var s string
	if json.Unmarshal(b, &s) == nil {
		return s
	}
	return string(b)
}

func writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "time": 0.0001, "result": result})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": map[string]string{"error": msg}, "time": 0.0001})
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}

	return float32(dot / denom)
}
