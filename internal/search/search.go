package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wanna2play/wanna2play/internal/embeddings"
	"github.com/wanna2play/wanna2play/internal/games"
	"github.com/wanna2play/wanna2play/internal/logging"
	"github.com/wanna2play/wanna2play/internal/vectorindex"
)

type Mode string

const (
	ModeSemantic Mode = "semantic"
	ModeKeyword  Mode = "keyword"
)

const (
	DefaultLimit = 60
	// MaxSemanticLimit bounds the nearest-neighbour fan-out.
	MaxSemanticLimit = 60

	DefaultIndexTimeout = 30 * time.Second
	DefaultConcurrency  = 4

	probeText = "wanna2play"
)

// ErrIndexDisabled is returned by Reindex when no collection is configured.
var ErrIndexDisabled = errors.New("search: vector index is disabled")

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) embeddings.Result
}

// VectorIndex stores one vector per game and answers nearest-neighbour queries.
type VectorIndex interface {
	Enabled() bool
	EnsureCollection(ctx context.Context, size int) error
	UpsertVector(ctx context.Context, gameID string, vector []float32) error
	SearchSimilar(ctx context.Context, vector []float32, limit int) []string
}

// Response is what a query returns. Mode reports which path produced Results.
type Response struct {
	Mode    Mode         `json:"mode"`
	Query   string       `json:"query"`
	Results []games.Game `json:"results"`
}

type ReindexStats struct {
	Total   int `json:"total"`
	Indexed int `json:"indexed"`
	Skipped int `json:"skipped"`
}

type Options struct {
	// IndexTimeout bounds one detached IndexAsync call.
	IndexTimeout time.Duration
	Logger       *slog.Logger
}

// Searcher answers queries semantically when it can and by keyword otherwise,
// and keeps the vector index following the record store on a best-effort basis.
type Searcher struct {
	store        games.Store
	embedder     Embedder
	index        VectorIndex
	indexTimeout time.Duration
	logger       *slog.Logger

	pending sync.WaitGroup
}

func NewSearcher(store games.Store, embedder Embedder, index VectorIndex, opts Options) *Searcher {
	timeout := opts.IndexTimeout
	if timeout <= 0 {
		timeout = DefaultIndexTimeout
	}
	return &Searcher{
		store:        store,
		embedder:     embedder,
		index:        index,
		indexTimeout: timeout,
		logger:       logging.OrDefault(opts.Logger).With("component", "search"),
	}
}

// Search returns games matching query. A blank query lists the newest games.
// The error is non-nil only when the record store fails; embedding and vector
// index problems fall back to keyword search.
func (s *Searcher) Search(ctx context.Context, query string, limit int) (Response, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	query = strings.TrimSpace(query)

	if query == "" {
		results, err := s.store.List(ctx, limit)
		if err != nil {
			return Response{}, fmt.Errorf("list games: %w", err)
		}
		return newResponse(ModeKeyword, query, results), nil
	}

	if results, ok := s.semantic(ctx, query, limit); ok {
		return newResponse(ModeSemantic, query, results), nil
	}

	results, err := s.store.KeywordSearch(ctx, query, limit)
	if err != nil {
		return Response{}, fmt.Errorf("keyword search: %w", err)
	}
	return newResponse(ModeKeyword, query, results), nil
}

// semantic reports false whenever the keyword path should answer instead.
func (s *Searcher) semantic(ctx context.Context, query string, limit int) ([]games.Game, bool) {
	if !s.index.Enabled() {
		return nil, false
	}

	res := s.embedder.Embed(ctx, query)
	if !res.OK() {
		if res.Status == embeddings.StatusUnavailable {
			s.logger.Debug("query embedding unavailable", "error", res.Err)
		}
		return nil, false
	}

	ids := s.index.SearchSimilar(ctx, res.Vector, min(limit, MaxSemanticLimit))
	if len(ids) == 0 {
		return nil, false
	}

	results, err := s.store.GetByIDs(ctx, ids)
	if err != nil {
		s.logger.Warn("resolve semantic hits", "error", err)
		return nil, false
	}
	return results, len(results) > 0
}

func newResponse(mode Mode, query string, results []games.Game) Response {
	if results == nil {
		results = []games.Game{}
	}
	return Response{Mode: mode, Query: query, Results: results}
}

// IndexGame embeds the game's title and summary and writes the vector. It
// reports whether a vector was written; failures are logged, never returned.
func (s *Searcher) IndexGame(ctx context.Context, g games.Game) bool {
	if !s.index.Enabled() {
		return false
	}

	logger := s.logger.With("game_id", g.ID)
	res := s.embedder.Embed(ctx, embeddings.GameText(g.Title, g.Summary))
	if !res.OK() {
		if res.Status == embeddings.StatusUnavailable {
			logger.Warn("skip indexing, embedding unavailable", "error", res.Err)
		}
		return false
	}

	if err := s.index.UpsertVector(ctx, g.ID, res.Vector); err != nil {
		if vectorindex.IsDimensionMismatch(err) {
			logger.Error("skip indexing, collection conflict", "error", err)
		} else {
			logger.Warn("skip indexing, vector upsert failed", "error", err)
		}
		return false
	}

	logger.Debug("indexed game", "dims", len(res.Vector))
	return true
}

// IndexAsync runs IndexGame in the background so the caller does not wait on
// the embedding provider. Wait blocks until every such call has finished.
func (s *Searcher) IndexAsync(g games.Game) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.indexTimeout)
		defer cancel()
		s.IndexGame(ctx, g)
	}()
}

func (s *Searcher) Wait() {
	s.pending.Wait()
}

// Reindex re-embeds every game in the store with up to concurrency workers.
func (s *Searcher) Reindex(ctx context.Context, concurrency int) (ReindexStats, error) {
	if !s.index.Enabled() {
		return ReindexStats{}, ErrIndexDisabled
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	all, err := s.store.All(ctx)
	if err != nil {
		return ReindexStats{}, fmt.Errorf("load games: %w", err)
	}

	s.logger.Info("reindex starting", "games", len(all), "workers", concurrency)

	var indexed, done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, game := range all {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if s.IndexGame(gctx, game) {
				indexed.Add(1)
			}
			if n := done.Add(1); n%25 == 0 {
				s.logger.Info("reindex progress", "done", n, "total", len(all))
			}
			return nil
		})
	}
	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	stats := ReindexStats{
		Total:   len(all),
		Indexed: int(indexed.Load()),
	}
	stats.Skipped = int(done.Load()) - stats.Indexed
	s.logger.Info("reindex finished", "total", stats.Total, "indexed", stats.Indexed, "skipped", stats.Skipped)

	return stats, err
}

// CheckIndex embeds a probe text and checks the collection against its size.
// It returns a *vectorindex.DimensionMismatchError when the collection was
// created for another model; every other problem is logged and ignored.
func (s *Searcher) CheckIndex(ctx context.Context) error {
	if !s.index.Enabled() {
		return nil
	}

	res := s.embedder.Embed(ctx, probeText)
	if !res.OK() {
		s.logger.Warn("startup index check skipped", "embedding", res.Status.String(), "error", res.Err)
		return nil
	}

	err := s.index.EnsureCollection(ctx, len(res.Vector))
	switch {
	case err == nil:
		s.logger.Info("vector index ready", "dims", len(res.Vector))
		return nil
	case vectorindex.IsDimensionMismatch(err):
		return err
	default:
		s.logger.Warn("startup index check failed", "error", err)
		return nil
	}
}
