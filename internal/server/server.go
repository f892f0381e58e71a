package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/wanna2play/wanna2play/internal/embeddings"
	"github.com/wanna2play/wanna2play/internal/games"
	"github.com/wanna2play/wanna2play/internal/logging"
	"github.com/wanna2play/wanna2play/internal/search"
	"github.com/wanna2play/wanna2play/internal/vectorindex"
)

// Deps is everything the HTTP layer talks to.
type Deps struct {
	Searcher   *search.Searcher
	Store      games.Store
	StoreKind  string
	Embeddings *embeddings.Client
	Index      *vectorindex.Client
	// ReindexFn runs a full reindex. Nil disables POST /api/reindex.
	ReindexFn func()
	Logger    *slog.Logger
}

// NewMux registers the API routes under /api/ and serves staticDir at "/".
func NewMux(h *Handlers, staticDir string) *http.ServeMux {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/search", h.HandleSearch)
	api.HandleFunc("GET /api/games", h.HandleListGames)
	api.HandleFunc("POST /api/games", h.HandleCreateGame)
	api.HandleFunc("GET /api/games/{id}", h.HandleGetGame)
	api.HandleFunc("POST /api/seed", h.HandleSeed)
	api.HandleFunc("GET /api/health", h.HandleHealth)
	api.HandleFunc("POST /api/reindex", h.HandleReindex)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiRoutes(api))
	if staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
	return mux
}

var apiMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}

// apiRoutes answers unknown API paths and wrong methods with JSON errors
// instead of the mux's plain-text defaults.
func apiRoutes(api *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, pattern := api.Handler(r); pattern != "" {
			api.ServeHTTP(w, r)
			return
		}

		var allowed []string
		for _, m := range apiMethods {
			if m == r.Method {
				continue
			}
			alt := r.Clone(r.Context())
			alt.Method = m
			if _, pattern := api.Handler(alt); pattern != "" {
				allowed = append(allowed, m)
			}
		}
		if len(allowed) > 0 {
			w.Header().Set("Allow", strings.Join(allowed, ", "))
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed.")
			return
		}
		writeError(w, http.StatusNotFound, "Not found.")
	})
}

// Server is the HTTP server plus the background work its handlers start.
type Server struct {
	*http.Server
	handlers *Handlers
}

func New(port, staticDir string, deps Deps) *Server {
	handlers := NewHandlers(deps)
	logger := logging.OrDefault(deps.Logger)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           NewMux(handlers, staticDir),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	logger.Info("server listening", "url", "http://localhost:"+port)
	return &Server{Server: srv, handlers: handlers}
}

// Shutdown stops accepting requests, then waits for a running reindex.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.Server.Shutdown(ctx)
	if werr := s.handlers.Wait(ctx); err == nil {
		err = werr
	}
	return err
}
