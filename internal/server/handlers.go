package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wanna2play/wanna2play/internal/embeddings"
	"github.com/wanna2play/wanna2play/internal/games"
	"github.com/wanna2play/wanna2play/internal/logging"
	"github.com/wanna2play/wanna2play/internal/search"
	"github.com/wanna2play/wanna2play/internal/vectorindex"
)

const (
	defaultLimit  = 60
	maxBodyBytes  = 1 << 20
	healthTimeout = 3 * time.Second
)

type Handlers struct {
	searcher    *search.Searcher
	store       games.Store
	storeKind   string
	embedClient *embeddings.Client
	index       *vectorindex.Client
	reindexFn   func()
	reindexing  atomic.Bool
	background  sync.WaitGroup
	logger      *slog.Logger
}

func NewHandlers(deps Deps) *Handlers {
	return &Handlers{
		searcher:    deps.Searcher,
		store:       deps.Store,
		storeKind:   deps.StoreKind,
		embedClient: deps.Embeddings,
		index:       deps.Index,
		reindexFn:   deps.ReindexFn,
		logger:      logging.OrDefault(deps.Logger).With("component", "server"),
	}
}

func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	limit := parseLimit(r, defaultLimit)

	resp, err := h.searcher.Search(r.Context(), query, limit)
	if err != nil {
		h.logger.Error("search failed", "query", query, "error", err)
		writeError(w, http.StatusInternalServerError, "Search failed.")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) HandleListGames(w http.ResponseWriter, r *http.Request) {
	results, err := h.store.List(r.Context(), parseLimit(r, defaultLimit))
	if err != nil {
		h.logger.Error("list games failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Could not list games.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// HandleCreateGame upserts a game and indexes it in the background.
func (h *Handlers) HandleCreateGame(w http.ResponseWriter, r *http.Request) {
	in, msg := decodeGameInput(w, r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	game, err := h.store.Upsert(r.Context(), in)
	if err != nil {
		h.logger.Error("upsert game failed", "game_id", in.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Could not save game.")
		return
	}

	h.searcher.IndexAsync(game)
	writeJSON(w, http.StatusCreated, game)
}

func (h *Handlers) HandleGetGame(w http.ResponseWriter, r *http.Request) {
	game, err := h.store.GetByID(r.Context(), r.PathValue("id"))
	if errors.Is(err, games.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Not found.")
		return
	}
	if err != nil {
		h.logger.Error("get game failed", "game_id", r.PathValue("id"), "error", err)
		writeError(w, http.StatusInternalServerError, "Could not load game.")
		return
	}

	writeJSON(w, http.StatusOK, game)
}

type seedResponse struct {
	OK       bool `json:"ok"`
	Inserted int  `json:"inserted"`
	Embedded int  `json:"embedded"`
}

// HandleSeed fills an empty library with the sample games, indexing each one
// before answering.
func (h *Handlers) HandleSeed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	n, err := h.store.Count(ctx)
	if err != nil {
		h.logger.Error("count games failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Could not count games.")
		return
	}
	if n > 0 {
		writeError(w, http.StatusConflict, "Seed refused because the library is not empty.")
		return
	}

	var resp seedResponse
	for _, in := range games.SampleGames() {
		game, err := h.store.Upsert(ctx, in)
		if err != nil {
			h.logger.Error("seed game failed", "game_id", in.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "Could not save game.")
			return
		}
		resp.Inserted++
		if h.searcher.IndexGame(ctx, game) {
			resp.Embedded++
		}
	}
	resp.OK = true

	h.logger.Info("seeded library", "inserted", resp.Inserted, "embedded", resp.Embedded)
	writeJSON(w, http.StatusOK, resp)
}

type healthResponse struct {
	OK         bool             `json:"ok"`
	Store      storeHealth      `json:"store"`
	Qdrant     qdrantHealth     `json:"qdrant"`
	Embeddings embeddingsHealth `json:"embeddings"`
}

type storeHealth struct {
	Kind  string `json:"kind"`
	Games int    `json:"games"`
}

type qdrantHealth struct {
	URL        string `json:"url"`
	Collection string `json:"collection"`
	Ready      bool   `json:"ready"`
}

type embeddingsHealth struct {
	Provider string `json:"provider"`
	BaseURL  string `json:"baseUrl"`
	Model    string `json:"model"`
	Enabled  bool   `json:"enabled"`
	Ready    bool   `json:"ready"`
}

func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{
		OK: true,
		Store: storeHealth{
			Kind: h.storeKind,
		},
		Qdrant: qdrantHealth{
			URL:        h.index.BaseURL(),
			Collection: h.index.Collection(),
			Ready:      h.index.Ready(ctx),
		},
		Embeddings: embeddingsHealth{
			Provider: h.embedClient.Provider(),
			BaseURL:  h.embedClient.BaseURL(),
			Model:    h.embedClient.Model(),
			Enabled:  h.embedClient.Enabled(),
			Ready:    h.embedClient.Healthy(ctx),
		},
	}

	n, err := h.store.Count(ctx)
	if err != nil {
		h.logger.Warn("health: count games failed", "error", err)
		resp.OK = false
	}
	resp.Store.Games = n

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) HandleReindex(w http.ResponseWriter, r *http.Request) {
	if h.reindexFn == nil || !h.index.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "Vector index is disabled.")
		return
	}
	if !h.reindexing.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, "Reindex already running.")
		return
	}

	h.background.Add(1)
	go func() {
		defer h.background.Done()
		defer h.reindexing.Store(false)
		h.reindexFn()
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reindex started"})
}

// Wait blocks until background work started by the handlers has finished
// or ctx is done.
func (h *Handlers) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// gameBody mirrors the JSON a client posts. Fields of the wrong type are
// treated as absent.
type gameBody map[string]any

func (b gameBody) str(key string) string {
	s, _ := b[key].(string)
	return s
}

// stores returns nil when the field is absent so an update keeps the
// existing tags.
func (b gameBody) stores() []string {
	raw, ok := b["stores"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// decodeGameInput returns a client-facing message when the body is unusable.
func decodeGameInput(w http.ResponseWriter, r *http.Request) (games.UpsertInput, string) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil || !json.Valid(data) {
		return games.UpsertInput{}, "Invalid JSON body."
	}

	var body gameBody
	if err := json.Unmarshal(data, &body); err != nil || body == nil {
		return games.UpsertInput{}, "Invalid body."
	}

	title := strings.TrimSpace(body.str("title"))
	if title == "" {
		return games.UpsertInput{}, "`title` is required."
	}

	id := strings.TrimSpace(body.str("id"))
	if id == "" {
		id = "custom:" + uuid.NewString()
	}

	return games.UpsertInput{
		ID:       id,
		Title:    title,
		Summary:  body.str("summary"),
		CoverURL: body.str("coverUrl"),
		Stores:   body.stores(),
	}, ""
}

func parseLimit(r *http.Request, def int) int {
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		return n
	}
	return def
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
