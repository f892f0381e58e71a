package games

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Game is one catalog entry. ID has the form "<source>:<native-id>", for
// example "steam:440".
type Game struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary,omitempty"`
	CoverURL  string    `json:"coverUrl,omitempty"`
	Stores    []string  `json:"stores"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UpsertInput is what a writer supplies. A nil Stores keeps the stores of an
// existing record.
type UpsertInput struct {
	ID       string
	Title    string
	Summary  string
	CoverURL string
	Stores   []string
}

var (
	ErrNotFound     = errors.New("game not found")
	ErrMissingID    = errors.New("game id is required")
	ErrMissingTitle = errors.New("game title is required")
)

const MaxLimit = 200

// Store is the durable source of truth for games.
type Store interface {
	Upsert(ctx context.Context, in UpsertInput) (Game, error)
	// GetByID returns ErrNotFound when there is no such game.
	GetByID(ctx context.Context, id string) (Game, error)
	// GetByIDs returns the games in the order of ids, skipping unknown ones.
	GetByIDs(ctx context.Context, ids []string) ([]Game, error)
	// KeywordSearch matches query as a case-insensitive substring of the
	// title or summary, most recently updated first.
	KeywordSearch(ctx context.Context, query string, limit int) ([]Game, error)
	// List returns the most recently updated games first.
	List(ctx context.Context, limit int) ([]Game, error)
	// All returns every game, most recently updated first.
	All(ctx context.Context) ([]Game, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// ClampLimit bounds a listing size to [1, MaxLimit].
func ClampLimit(limit int) int {
	return max(1, min(limit, MaxLimit))
}

func (in UpsertInput) normalize() (UpsertInput, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.Title = strings.TrimSpace(in.Title)
	if in.ID == "" {
		return in, ErrMissingID
	}
	if in.Title == "" {
		return in, ErrMissingTitle
	}
	if in.Stores != nil {
		in.Stores = normalizeStores(in.Stores)
	}
	return in, nil
}

// normalizeStores drops blank and repeated tags, keeping first-seen order.
func normalizeStores(stores []string) []string {
	out := make([]string, 0, len(stores))
	seen := make(map[string]bool, len(stores))
	for _, s := range stores {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// orderByIDs arranges found in the order of ids. Unknown IDs are dropped and
// repeated IDs repeat the game.
func orderByIDs(ids []string, found []Game) []Game {
	byID := make(map[string]Game, len(found))
	for _, g := range found {
		byID[g.ID] = g
	}
	out := make([]Game, 0, len(ids))
	for _, id := range ids {
		if g, ok := byID[id]; ok {
			out = append(out, g)
		}
	}
	return out
}
